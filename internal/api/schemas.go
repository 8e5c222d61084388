package api

import (
	"time"

	"github.com/heimdex/heimdex-crop/internal/catalog"
	"github.com/heimdex/heimdex-crop/internal/crop"
	"github.com/heimdex/heimdex-crop/internal/export"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State        string                `json:"state"`
	LastError    string                `json:"last_error,omitempty"`
	SourcesCount int                   `json:"sources_count"`
	AssetsCount  int                   `json:"assets_count"`
	JobsRunning  int                   `json:"jobs_running"`
	ActiveJob    *JobResponse          `json:"active_job,omitempty"`
	FFmpeg       *FFmpegStatusResponse `json:"ffmpeg,omitempty"`
	Picker       *PickerStatusResponse `json:"picker,omitempty"`
}

type FFmpegStatusResponse struct {
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

type PickerStatusResponse struct {
	AspectRatio float64 `json:"aspect_ratio"`
	Records     int     `json:"records"`
	KeepParams  bool    `json:"keep_params"`
}

type AddFolderRequest struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name,omitempty"`
}

type AddFolderResponse struct {
	SourceID string `json:"source_id"`
}

type SourceResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Path        string `json:"path"`
	DisplayName string `json:"display_name"`
	Present     bool   `json:"present"`
	CreatedAt   string `json:"created_at"`
}

type SourcesResponse struct {
	Sources []SourceResponse `json:"sources"`
}

type ScanRequest struct {
	SourceID string `json:"source_id,omitempty"`
}

type ScanResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	SourceID  string `json:"source_id,omitempty"`
	AssetID   string `json:"asset_id,omitempty"`
	Progress  int    `json:"progress"`
	ItemCount int    `json:"item_count"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type AssetResponse struct {
	ID          string `json:"id"`
	SourceID    string `json:"source_id"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Kind        string `json:"kind"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Size        int64  `json:"size"`
	Fingerprint string `json:"fingerprint"`
	CreatedAt   string `json:"created_at"`
}

type AssetsResponse struct {
	Assets []AssetResponse `json:"assets"`
}

// GeometryRequest is the crop-view state sent when the user leaves an asset.
type GeometryRequest struct {
	Scale float64    `json:"scale"`
	Area  *crop.Area `json:"area,omitempty"`
	State []byte     `json:"state,omitempty"`
}

func (g *GeometryRequest) toGeometry() *crop.Geometry {
	if g == nil {
		return nil
	}
	return &crop.Geometry{Scale: g.Scale, Area: g.Area, State: g.State}
}

type PreviewRequest struct {
	AssetID   string           `json:"asset_id"`
	Selection []string         `json:"selection"`
	Geometry  *GeometryRequest `json:"geometry,omitempty"`
}

type RecordResponse struct {
	AssetID     string     `json:"asset_id"`
	Kind        string     `json:"kind"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Scale       float64    `json:"scale"`
	Rotation    int        `json:"rotation"`
	Area        *crop.Area `json:"area,omitempty"`
	HasGeometry bool       `json:"has_geometry"`
}

type PickerResponse struct {
	ActiveAssetID    string           `json:"active_asset_id,omitempty"`
	Rotation         int              `json:"rotation"`
	AspectRatio      float64          `json:"aspect_ratio"`
	AspectRatioIndex int              `json:"aspect_ratio_index"`
	KeepParams       bool             `json:"keep_params"`
	Records          []RecordResponse `json:"records"`
}

type FiltersResponse struct {
	Crop   string `json:"crop,omitempty"`
	Scale  string `json:"scale,omitempty"`
	Rotate string `json:"rotate,omitempty"`
	Chain  string `json:"chain,omitempty"`
}

type ParamsDetailResponse struct {
	Record  RecordResponse  `json:"record"`
	Filters FiltersResponse `json:"filters"`
}

// ExportRequest starts an export of the selection. Geometry, when present,
// is the final edit of the asset still open in the crop view.
type ExportRequest struct {
	AssetIDs  []string         `json:"asset_ids"`
	SkipCrop  bool             `json:"skip_crop,omitempty"`
	OutputDir string           `json:"output_dir,omitempty"`
	Geometry  *GeometryRequest `json:"geometry,omitempty"`
}

type ExportItemResponse struct {
	AssetID     string     `json:"asset_id"`
	Kind        string     `json:"kind"`
	OutputPath  string     `json:"output_path,omitempty"`
	Passthrough bool       `json:"passthrough"`
	Rotation    int        `json:"rotation"`
	Scale       float64    `json:"scale"`
	Area        *crop.Area `json:"area,omitempty"`
}

// ExportEvent is one line of the NDJSON export stream. The last line has
// Done set, or carries Error and Code when the run failed.
type ExportEvent struct {
	JobID       string               `json:"job_id"`
	Fraction    float64              `json:"fraction"`
	AspectRatio float64              `json:"aspect_ratio"`
	Total       int                  `json:"total"`
	Items       []ExportItemResponse `json:"items"`
	Done        bool                 `json:"done"`
	Error       string               `json:"error,omitempty"`
	Code        string               `json:"code,omitempty"`
}

type RenderResponse struct {
	JobID      string          `json:"job_id"`
	OutputPath string          `json:"output_path"`
	Filters    FiltersResponse `json:"filters"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SourceToResponse(s *catalog.Source) SourceResponse {
	return SourceResponse{
		ID:          s.ID,
		Type:        s.Type,
		Path:        s.Path,
		DisplayName: s.DisplayName,
		Present:     s.Present,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		SourceID:  j.SourceID,
		AssetID:   j.AssetID,
		Progress:  j.Progress,
		ItemCount: j.ItemCount,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func AssetToResponse(a *catalog.Asset) AssetResponse {
	return AssetResponse{
		ID:          a.ID,
		SourceID:    a.SourceID,
		Path:        a.Path,
		Filename:    a.Filename,
		Kind:        string(a.Kind),
		Width:       a.Width,
		Height:      a.Height,
		Size:        a.Size,
		Fingerprint: a.Fingerprint,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}

func RecordToResponse(r crop.Record) RecordResponse {
	return RecordResponse{
		AssetID:     r.Asset.ID,
		Kind:        string(r.Asset.Kind),
		Width:       r.Asset.OrientedWidth,
		Height:      r.Asset.OrientedHeight,
		Scale:       r.Scale,
		Rotation:    r.Rotation,
		Area:        r.Area,
		HasGeometry: r.Geometry != nil,
	}
}

func FiltersToResponse(r crop.Record) FiltersResponse {
	var resp FiltersResponse
	resp.Crop, _ = crop.CropFilter(r)
	resp.Scale, _ = crop.ScaleFilter(r)
	resp.Rotate, _ = crop.RotateFilter(r)
	resp.Chain = crop.FilterChain(r)
	return resp
}

func PickerToResponse(store *crop.Store, keepParams bool) PickerResponse {
	resp := PickerResponse{
		Rotation:         store.Rotation(),
		AspectRatio:      store.CurrentAspectRatio(),
		AspectRatioIndex: store.AspectRatioIndex(),
		KeepParams:       keepParams,
	}
	if active, ok := store.Active(); ok {
		resp.ActiveAssetID = active.ID
	}
	records := store.Records()
	resp.Records = make([]RecordResponse, len(records))
	for i, r := range records {
		resp.Records[i] = RecordToResponse(r)
	}
	return resp
}

func ProgressToEvent(jobID string, p export.Progress) ExportEvent {
	ev := ExportEvent{
		JobID:       jobID,
		Fraction:    p.Fraction,
		AspectRatio: p.AspectRatio,
		Total:       len(p.Selection),
		Items:       make([]ExportItemResponse, len(p.Items)),
		Done:        p.Done(),
	}
	for i, item := range p.Items {
		ev.Items[i] = ExportItemResponse{
			AssetID:     item.Record.Asset.ID,
			Kind:        string(item.Record.Asset.Kind),
			OutputPath:  item.OutputPath,
			Passthrough: item.Passthrough(),
			Rotation:    item.Record.Rotation,
			Scale:       item.Record.Scale,
			Area:        item.Record.Area,
		}
	}
	return ev
}
