package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-crop/internal/export"
	"github.com/heimdex/heimdex-crop/internal/ffmpeg"
)

// ErrRenderUnavailable is returned when no usable ffmpeg was found.
var ErrRenderUnavailable = errors.New("ffmpeg is not available")

// Runner polls for queued scan jobs and executes render jobs handed to it.
type Runner struct {
	service      *Service
	repo         Repository
	renderer     ffmpeg.Runner
	doctor       *ffmpeg.CachedDoctor
	renderDir    string
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

type RunnerConfig struct {
	Service  *Service
	Repo     Repository
	Renderer ffmpeg.Runner        // nil disables renders
	Doctor   *ffmpeg.CachedDoctor // nil disables renders
	// RenderDir receives rendered video files.
	RenderDir string
	Logger    *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		service:      cfg.Service,
		repo:         cfg.Repo,
		renderer:     cfg.Renderer,
		doctor:       cfg.Doctor,
		renderDir:    cfg.RenderDir,
		logger:       logger,
		pollInterval: 5 * time.Second,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) processNextJob(ctx context.Context) {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	job := jobs[0]
	r.logger.Info("processing job", "job_id", job.ID, "type", job.Type)

	switch job.Type {
	case JobTypeScan:
		source, err := r.repo.GetSource(ctx, job.SourceID)
		if err != nil || source == nil {
			r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "source not found")
			return
		}

		if err := r.service.ExecuteScan(ctx, job.ID, source.ID, source.Path); err != nil {
			r.logger.Error("scan failed", "job_id", job.ID, "error", err)
		}

	default:
		// export and render jobs run in their caller and are never queued
		r.logger.Warn("unexpected queued job type", "type", job.Type)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "job type cannot be queued")
	}
}

// CanRender reports whether a renderer is wired and ffmpeg answered the
// last doctor probe.
func (r *Runner) CanRender(ctx context.Context) bool {
	if r.renderer == nil || r.doctor == nil {
		return false
	}
	caps, err := r.doctor.Get(ctx)
	return err == nil && caps.CanRender()
}

// Render runs ffmpeg over a video asset with filterChain and records the
// outcome on job. It returns the rendered file path.
func (r *Runner) Render(ctx context.Context, job *Job, asset *Asset, filterChain string) (string, error) {
	fail := func(err error) (string, error) {
		r.repo.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, JobStatusFailed, err.Error())
		r.logger.Error("render failed", "job_id", job.ID, "asset_id", asset.ID, "error", err)
		return "", err
	}

	if !r.CanRender(ctx) {
		return fail(ErrRenderUnavailable)
	}

	out := filepath.Join(r.renderDir, renderName(asset))
	r.logger.Info("rendering asset", "job_id", job.ID, "asset_id", asset.ID, "filters", filterChain)

	result, err := r.renderer.Render(ctx, asset.Path, out, filterChain)
	if err != nil {
		// -1 means ffmpeg could not be started or was killed
		if result.ExitCode < 0 && ctx.Err() == nil {
			r.doctor.Invalidate(err)
		}
		return fail(fmt.Errorf("render: %w", err))
	}

	r.repo.UpdateJobProgress(ctx, job.ID, 100, 1)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	r.logger.Info("render completed", "job_id", job.ID, "duration", result.Duration)
	return out, nil
}

func renderName(asset *Asset) string {
	ext := filepath.Ext(asset.Filename)
	stem := export.SanitizeName(strings.TrimSuffix(asset.Filename, ext), 80)
	if stem == "" {
		stem = export.SanitizeName(asset.ID, 80)
	}
	return fmt.Sprintf("%s_%s_cropped%s", stem, asset.ID[:min(8, len(asset.ID))], strings.ToLower(ext))
}

func (r *Runner) GetActiveJobCount(ctx context.Context) int {
	jobs, err := r.repo.ListJobs(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if j.Status == JobStatusRunning {
			count++
		}
	}
	return count
}
