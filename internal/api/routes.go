package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-crop/internal/catalog"
	"github.com/heimdex/heimdex-crop/internal/ffmpeg"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackGuard())
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/sources", listSourcesHandler(cfg))
		r.Post("/sources/folders", addFolderHandler(cfg))
		r.Delete("/sources/{id}", deleteSourceHandler(cfg))
		r.Get("/sources/{id}/assets", listAssetsHandler(cfg))
		r.Post("/scan", scanHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))

		r.Route("/picker", func(r chi.Router) {
			r.Post("/open", openPickerHandler(cfg))
			r.Post("/preview", previewHandler(cfg))
			r.Post("/rotate", rotateHandler(cfg))
			r.Post("/aspect-ratio/cycle", cycleAspectRatioHandler(cfg))
			r.Get("/params", listParamsHandler(cfg))
			r.Get("/params/{id}", getParamsHandler(cfg))
			r.Delete("/params", clearParamsHandler(cfg))
		})

		r.Post("/exports", exportHandler(cfg))
		r.Post("/assets/{id}/render", renderHandler(cfg))
		r.Get("/outputs/file", outputFileHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sources, _ := cfg.CatalogService.GetSources(ctx)
		assetsCount, _ := cfg.CatalogService.CountAssets(ctx)
		jobs, _ := cfg.Repository.ListJobs(ctx, 10)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning := 0
		lastError := ""

		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}

		for _, j := range jobs {
			if j.Status == catalog.JobStatusRunning {
				state = runningState(j.Type)
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			}
			if j.Status == catalog.JobStatusFailed && lastError == "" {
				lastError = j.Error
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:        state,
			LastError:    lastError,
			SourcesCount: len(sources),
			AssetsCount:  assetsCount,
			JobsRunning:  jobsRunning,
			ActiveJob:    activeJob,
		}

		if cfg.Doctor != nil {
			resp.FFmpeg = ffmpegStatus(cfg.Doctor.Health())
		}

		if cfg.Session != nil {
			store := cfg.Session.Current()
			resp.Picker = &PickerStatusResponse{
				AspectRatio: store.CurrentAspectRatio(),
				Records:     len(store.Records()),
				KeepParams:  cfg.Session.KeepParams(),
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func runningState(jobType string) string {
	switch jobType {
	case catalog.JobTypeExport:
		return "exporting"
	case catalog.JobTypeRender:
		return "rendering"
	default:
		return "scanning"
	}
}

func listSourcesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := cfg.CatalogService.GetSources(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list sources", "INTERNAL_ERROR")
			return
		}

		resp := SourcesResponse{Sources: make([]SourceResponse, len(sources))}
		for i, s := range sources {
			resp.Sources[i] = SourceToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func addFolderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddFolderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		source, err := cfg.CatalogService.AddFolder(r.Context(), req.Path, req.DisplayName)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusCreated, AddFolderResponse{SourceID: source.ID})
	}
}

func deleteSourceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "source id required", "BAD_REQUEST")
			return
		}

		if err := cfg.CatalogService.RemoveSource(r.Context(), id); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func listAssetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID := chi.URLParam(r, "id")
		if sourceID == "" {
			WriteError(w, http.StatusBadRequest, "source id required", "BAD_REQUEST")
			return
		}

		assets, err := cfg.CatalogService.GetAssets(r.Context(), sourceID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := AssetsResponse{Assets: make([]AssetResponse, len(assets))}
		for i, a := range assets {
			resp.Assets[i] = AssetToResponse(a)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func scanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.SourceID == "" {
			sources, err := cfg.CatalogService.GetSources(r.Context())
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			if len(sources) == 0 {
				WriteError(w, http.StatusBadRequest, "no sources configured", "BAD_REQUEST")
				return
			}
			req.SourceID = sources[0].ID
		}

		job, err := cfg.CatalogService.ScanSource(r.Context(), req.SourceID)
		if err != nil {
			if errors.Is(err, catalog.ErrSourceNotFound) {
				WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusAccepted, ScanResponse{JobID: job.ID})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Repository.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

// ffmpegStatus reports what the doctor last learned; status reads never
// spawn a check.
func ffmpegStatus(h ffmpeg.Health) *FFmpegStatusResponse {
	resp := &FFmpegStatusResponse{Available: h.Available()}
	if h.Caps != nil {
		resp.Version = h.Caps.FFmpegVersion
	}
	if !h.CheckedAt.IsZero() {
		resp.LastProbeAt = h.CheckedAt.Format(time.RFC3339)
	}
	if h.Err != nil {
		resp.LastError = h.Err.Error()
	}
	return resp
}
