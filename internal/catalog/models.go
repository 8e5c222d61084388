package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-crop/internal/crop"
)

type Source struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Path        string    `json:"path"`
	DisplayName string    `json:"display_name"`
	Present     bool      `json:"present"`
	CreatedAt   time.Time `json:"created_at"`
}

// AssetKind is the catalog classification of a media file.
type AssetKind string

const (
	KindImage AssetKind = "image"
	KindVideo AssetKind = "video"
)

// Asset is a cataloged media file. Width and Height are the display
// (orientation-corrected) dimensions, zero when they could not be probed.
type Asset struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Path        string    `json:"path"`
	Filename    string    `json:"filename"`
	Kind        AssetKind `json:"kind"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Size        int64     `json:"size"`
	Mtime       time.Time `json:"mtime"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ref is the asset as the crop store and exporter see it. Only stills go
// through the image codec; everything else is passed through.
func (a *Asset) Ref() crop.AssetRef {
	kind := crop.MediaOther
	if a.Kind == KindImage {
		kind = crop.MediaImage
	}
	return crop.AssetRef{
		ID:             a.ID,
		Kind:           kind,
		OrientedWidth:  a.Width,
		OrientedHeight: a.Height,
	}
}

const (
	JobTypeScan   = "scan"
	JobTypeExport = "export"
	JobTypeRender = "render"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	SourceID  string    `json:"source_id,omitempty"`
	AssetID   string    `json:"asset_id,omitempty"`
	Progress  int       `json:"progress"`
	ItemCount int       `json:"item_count"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

var VideoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
	".m4v": true,
}

func NewID() string {
	return uuid.NewString()
}

// KindOf classifies a file name by extension. ok is false for files the
// catalog ignores.
func KindOf(filename string) (kind AssetKind, ok bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ImageExtensions[ext]:
		return KindImage, true
	case VideoExtensions[ext]:
		return KindVideo, true
	default:
		return "", false
	}
}

func IsVideoFile(filename string) bool {
	kind, ok := KindOf(filename)
	return ok && kind == KindVideo
}
