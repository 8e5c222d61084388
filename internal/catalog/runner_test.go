package catalog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/heimdex-crop/internal/db"
	"github.com/heimdex/heimdex-crop/internal/ffmpeg"
)

func setupRunnerTest(t *testing.T, fake *fakeRenderer, caps *ffmpeg.Capabilities) (*Runner, Repository) {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.New(filepath.Join(tmpDir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := NewRepository(database.Conn())
	svc := NewService(repo, nil, nil)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	var doctor *ffmpeg.CachedDoctor
	if caps != nil {
		doctor = ffmpeg.NewCachedDoctor(&fakeRenderer{caps: caps}, logger)
	}

	runner := NewRunner(RunnerConfig{
		Service:   svc,
		Repo:      repo,
		Renderer:  fake,
		Doctor:    doctor,
		RenderDir: filepath.Join(tmpDir, "renders"),
		Logger:    logger,
	})
	return runner, repo
}

type fakeRenderer struct {
	caps        *ffmpeg.Capabilities
	renderCalls atomic.Int32
	lastIn      string
	lastOut     string
	lastChain   string
	renderFn    func(ctx context.Context, in, out, chain string) (ffmpeg.RunResult, error)
}

func (f *fakeRenderer) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	return &ffmpeg.ProbeResult{Width: 1920, Height: 1080}, nil
}

func (f *fakeRenderer) Render(ctx context.Context, in, out, chain string) (ffmpeg.RunResult, error) {
	f.renderCalls.Add(1)
	f.lastIn, f.lastOut, f.lastChain = in, out, chain
	if f.renderFn != nil {
		return f.renderFn(ctx, in, out, chain)
	}
	return ffmpeg.RunResult{OutputPath: out, Duration: 10 * time.Millisecond}, nil
}

func (f *fakeRenderer) RunDoctor(ctx context.Context) (*ffmpeg.Capabilities, error) {
	if f.caps == nil {
		return nil, errors.New("not implemented in test")
	}
	return f.caps, nil
}

func createTestVideo(t *testing.T, repo Repository) *Asset {
	t.Helper()
	ctx := context.Background()

	source := &Source{
		ID:          NewID(),
		Type:        "folder",
		Path:        "/test/videos",
		DisplayName: "Test",
		Present:     true,
		CreatedAt:   time.Now(),
	}
	if err := repo.CreateSource(ctx, source); err != nil {
		t.Fatalf("create source: %v", err)
	}

	asset := &Asset{
		ID:          NewID(),
		SourceID:    source.ID,
		Path:        "/test/videos/clip.mp4",
		Filename:    "clip.mp4",
		Kind:        KindVideo,
		Width:       1920,
		Height:      1080,
		Size:        1024,
		Mtime:       time.Now(),
		Fingerprint: "abc123",
		CreatedAt:   time.Now(),
	}
	if err := repo.UpsertAsset(ctx, asset); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return asset
}

func TestRender_Success(t *testing.T) {
	fake := &fakeRenderer{}
	runner, repo := setupRunnerTest(t, fake, &ffmpeg.Capabilities{FFmpeg: true, ProbedAt: time.Now()})
	asset := createTestVideo(t, repo)

	job, err := runner.service.StartJob(context.Background(), JobTypeRender, asset.ID)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	out, err := runner.Render(context.Background(), job, asset, "crop=960:540:0:0")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if fake.lastIn != asset.Path || fake.lastChain != "crop=960:540:0:0" {
		t.Errorf("render called with in=%s chain=%s", fake.lastIn, fake.lastChain)
	}
	if out != fake.lastOut || !strings.HasPrefix(filepath.Base(out), "clip_") || filepath.Ext(out) != ".mp4" {
		t.Errorf("render output = %s", out)
	}

	updated, _ := repo.GetJob(context.Background(), job.ID)
	if updated.Status != JobStatusCompleted || updated.Progress != 100 {
		t.Errorf("job = %s/%d, want completed/100", updated.Status, updated.Progress)
	}
}

func TestRender_FailureMarksJob(t *testing.T) {
	fake := &fakeRenderer{
		renderFn: func(ctx context.Context, in, out, chain string) (ffmpeg.RunResult, error) {
			return ffmpeg.RunResult{ExitCode: 1}, errors.New("ffmpeg exited 1")
		},
	}
	runner, repo := setupRunnerTest(t, fake, &ffmpeg.Capabilities{FFmpeg: true, ProbedAt: time.Now()})
	asset := createTestVideo(t, repo)
	job, _ := runner.service.StartJob(context.Background(), JobTypeRender, asset.ID)

	if _, err := runner.Render(context.Background(), job, asset, ""); err == nil {
		t.Fatal("Render() should fail")
	}
	updated, _ := repo.GetJob(context.Background(), job.ID)
	if updated.Status != JobStatusFailed || updated.Error == "" {
		t.Errorf("job = %s (%q), want failed with error", updated.Status, updated.Error)
	}
}

func TestRender_StartFailureInvalidatesDoctor(t *testing.T) {
	tests := []struct {
		name        string
		exitCode    int
		wantHealthy bool
	}{
		{"ffmpeg exited", 1, true},
		{"ffmpeg not started", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRenderer{
				renderFn: func(ctx context.Context, in, out, chain string) (ffmpeg.RunResult, error) {
					return ffmpeg.RunResult{ExitCode: tt.exitCode}, errors.New("render failed")
				},
			}
			runner, repo := setupRunnerTest(t, fake, &ffmpeg.Capabilities{FFmpeg: true, ProbedAt: time.Now()})
			asset := createTestVideo(t, repo)
			job, _ := runner.service.StartJob(context.Background(), JobTypeRender, asset.ID)

			if _, err := runner.Render(context.Background(), job, asset, ""); err == nil {
				t.Fatal("Render() should fail")
			}
			if got := runner.doctor.Health().Available(); got != tt.wantHealthy {
				t.Errorf("doctor available = %v, want %v", got, tt.wantHealthy)
			}
		})
	}
}

func TestRender_NoFFmpeg(t *testing.T) {
	tests := []struct {
		name string
		caps *ffmpeg.Capabilities
	}{
		{"no doctor", nil},
		{"ffmpeg missing", &ffmpeg.Capabilities{FFprobe: true, ProbedAt: time.Now()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRenderer{}
			runner, repo := setupRunnerTest(t, fake, tt.caps)
			asset := createTestVideo(t, repo)
			job, _ := runner.service.StartJob(context.Background(), JobTypeRender, asset.ID)

			_, err := runner.Render(context.Background(), job, asset, "")
			if !errors.Is(err, ErrRenderUnavailable) {
				t.Fatalf("Render() error = %v, want ErrRenderUnavailable", err)
			}
			if fake.renderCalls.Load() != 0 {
				t.Error("renderer must not be called without ffmpeg")
			}
		})
	}
}

func TestProcessNextJob_Scan(t *testing.T) {
	runner, repo := setupRunnerTest(t, &fakeRenderer{}, nil)
	ctx := context.Background()

	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "still.png"), 4, 3)

	source, err := runner.service.AddFolder(ctx, dir, "")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	job, err := runner.service.ScanSource(ctx, source.ID)
	if err != nil {
		t.Fatalf("ScanSource: %v", err)
	}

	runner.processNextJob(ctx)

	updated, _ := repo.GetJob(ctx, job.ID)
	if updated.Status != JobStatusCompleted {
		t.Errorf("job status = %s, want completed", updated.Status)
	}
	if n, _ := repo.CountAssets(ctx); n != 1 {
		t.Errorf("assets = %d, want 1", n)
	}
}

func TestProcessNextJob_RejectsQueuedRender(t *testing.T) {
	runner, repo := setupRunnerTest(t, &fakeRenderer{}, nil)
	ctx := context.Background()

	now := time.Now()
	job := &Job{ID: NewID(), Type: JobTypeRender, Status: JobStatusPending, CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	runner.processNextJob(ctx)

	updated, _ := repo.GetJob(ctx, job.ID)
	if updated.Status != JobStatusFailed {
		t.Errorf("job status = %s, want failed", updated.Status)
	}
}

func TestRunner_PauseResume(t *testing.T) {
	runner, _ := setupRunnerTest(t, &fakeRenderer{}, nil)
	runner.Pause()
	if !runner.IsPaused() {
		t.Fatal("IsPaused() = false after Pause")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Fatal("IsPaused() = true after Resume")
	}
}

func TestRenderName(t *testing.T) {
	got := renderName(&Asset{ID: "0123456789abcdef", Filename: "My Clip<1>.MOV"})
	if got != "My Clip_1__01234567_cropped.mov" {
		t.Errorf("renderName() = %q", got)
	}
}
