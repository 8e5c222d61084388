package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-crop/internal/catalog"
	"github.com/heimdex/heimdex-crop/internal/crop"
	"github.com/heimdex/heimdex-crop/internal/export"
	"github.com/heimdex/heimdex-crop/internal/logging"
)

// exportHandler runs an export and streams one NDJSON ExportEvent per
// progress snapshot. A client that disconnects cancels the run before the
// next asset starts.
func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.OutputDir != "" {
			if err := export.ValidateOutputDir(req.OutputDir); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
		}

		ctx := r.Context()
		selection, err := cfg.CatalogService.ResolveSelection(ctx, req.AssetIDs)
		if err != nil {
			writeSelectionError(w, err)
			return
		}

		store := cfg.Session.Current()
		// capture the edit still open in the crop view and drop records of
		// assets that left the selection
		var active *crop.AssetRef
		if a, ok := store.Active(); ok {
			active = &a
		}
		store.Reconcile(active, req.Geometry.toGeometry(), store.Rotation(), selection)

		job, err := cfg.CatalogService.StartJob(ctx, catalog.JobTypeExport, "")
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		logger := logging.WithJobID(logging.WithComponent(cfg.Logger, "export"), job.ID)

		ecfg := cfg.Export
		ecfg.Params = store
		ecfg.Logger = logger
		exporter, err := export.NewExporter(ecfg)
		if err != nil {
			failJob(ctx, cfg.Repository, job.ID, err)
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Job-ID", job.ID)
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		enc := json.NewEncoder(w)
		send := func(ev ExportEvent) bool {
			if err := enc.Encode(ev); err != nil {
				return false
			}
			if flusher != nil {
				flusher.Flush()
			}
			return true
		}

		opts := export.Options{SkipCrop: req.SkipCrop, OutputDir: req.OutputDir}
		for p, err := range exporter.Export(ctx, selection, opts) {
			if err != nil {
				failJob(ctx, cfg.Repository, job.ID, err)
				send(ExportEvent{JobID: job.ID, Total: len(selection), Error: err.Error(), Code: exportErrorCode(err)})
				return
			}

			cfg.Repository.UpdateJobProgress(ctx, job.ID, int(p.Fraction*100), len(p.Items))
			if !send(ProgressToEvent(job.ID, p)) {
				logger.Warn("export client went away")
				failJob(ctx, cfg.Repository, job.ID, context.Canceled)
				return
			}
			if p.Done() {
				cfg.Repository.UpdateJobStatus(ctx, job.ID, catalog.JobStatusCompleted, "")
			}
		}
	}
}

func failJob(ctx context.Context, repo catalog.Repository, jobID string, err error) {
	repo.UpdateJobStatus(context.WithoutCancel(ctx), jobID, catalog.JobStatusFailed, err.Error())
}

func exportErrorCode(err error) string {
	switch {
	case errors.Is(err, export.ErrSourceUnavailable):
		return "SOURCE_UNAVAILABLE"
	case errors.Is(err, export.ErrInvalidOutputDir):
		return "BAD_REQUEST"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELLED"
	default:
		return "EXPORT_FAILED"
	}
}

// renderHandler renders a video asset through ffmpeg using the filter
// chain derived from its crop parameters.
func renderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		asset, err := cfg.CatalogService.GetAsset(ctx, id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if asset == nil {
			WriteError(w, http.StatusNotFound, "asset not found", "NOT_FOUND")
			return
		}
		if asset.Kind != catalog.KindVideo {
			WriteError(w, http.StatusBadRequest, "only video assets can be rendered", "UNSUPPORTED_KIND")
			return
		}
		if cfg.Runner == nil || !cfg.Runner.CanRender(ctx) {
			WriteError(w, http.StatusServiceUnavailable, catalog.ErrRenderUnavailable.Error(), "RENDER_UNAVAILABLE")
			return
		}

		rec, ok := cfg.Session.Current().Get(asset.ID)
		if !ok {
			rec = crop.NewRecord(asset.Ref())
		}

		job, err := cfg.CatalogService.StartJob(ctx, catalog.JobTypeRender, asset.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		out, err := cfg.Runner.Render(ctx, job, asset, crop.FilterChain(rec))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "RENDER_FAILED")
			return
		}

		WriteJSON(w, http.StatusOK, RenderResponse{
			JobID:      job.ID,
			OutputPath: out,
			Filters:    FiltersToResponse(rec),
		})
	}
}

func outputFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}
		if cfg.Preview == nil {
			WriteError(w, http.StatusNotFound, "previews are disabled", "NOT_FOUND")
			return
		}

		if err := cfg.Preview.ServeFile(w, r, path); err != nil {
			cfg.Logger.Error("preview error", "error", err, "path", logging.SanitizePath(path))
		}
	}
}
