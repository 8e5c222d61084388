package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/heimdex/heimdex-crop/internal/api"
	"github.com/heimdex/heimdex-crop/internal/catalog"
	"github.com/heimdex/heimdex-crop/internal/config"
	"github.com/heimdex/heimdex-crop/internal/crop"
	"github.com/heimdex/heimdex-crop/internal/db"
	"github.com/heimdex/heimdex-crop/internal/export"
	"github.com/heimdex/heimdex-crop/internal/ffmpeg"
	"github.com/heimdex/heimdex-crop/internal/imaging"
	"github.com/heimdex/heimdex-crop/internal/logging"
	"github.com/heimdex/heimdex-crop/internal/preview"
	"github.com/heimdex/heimdex-crop/internal/ui"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	renderDir := filepath.Join(cfg.OutputDir(), "renders")
	for _, dir := range []string{cfg.DataDir(), cfg.ScratchDir(), cfg.OutputDir(), renderDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting heimdex crop agent",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"config_file", cfg.ConfigFile(),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Heimdex Crop %s\n", config.Version)
	fmt.Printf("  API URL:    http://127.0.0.1:%d\n", cfg.Port())
	fmt.Printf("  Auth Token: %s\n", authToken)
	fmt.Println()

	ffCfg := ffmpeg.DefaultConfig(logging.WithComponent(logger, "ffmpeg"))
	ffCfg.FFmpegPath = cfg.FFmpegPath()
	ffCfg.FFprobePath = cfg.FFprobePath()
	ffCfg.RenderTimeout = cfg.RenderTimeout()

	var (
		renderer ffmpeg.Runner
		prober   catalog.Prober
		doctor   *ffmpeg.CachedDoctor
	)
	if fr, err := ffmpeg.NewRunner(ffCfg); err != nil {
		logger.Warn("ffmpeg unavailable, video sizing and renders disabled", "error", err)
	} else {
		renderer, prober = fr, fr
		doctor = ffmpeg.NewCachedDoctor(fr, logger)

		initCtx, initCancel := context.WithTimeout(context.Background(), ffCfg.DoctorTimeout)
		if caps, err := doctor.Refresh(initCtx); err != nil {
			logger.Warn("initial ffmpeg probe failed", "error", err)
		} else {
			logger.Info("ffmpeg detected", "ffmpeg", caps.FFmpegVersion, "ffprobe", caps.FFprobeVersion)
		}
		initCancel()
	}

	catalogSvc := catalog.NewService(repo, prober, logging.WithComponent(logger, "catalog"))

	session, err := crop.NewSession(crop.SessionConfig{
		AspectRatios: cfg.AspectRatios(),
		KeepParams:   cfg.KeepParams(),
		Logger:       logging.WithComponent(logger, "crop"),
	})
	if err != nil {
		return fmt.Errorf("failed to create crop session: %w", err)
	}

	codec, err := imaging.NewCodec(imaging.Config{
		ScratchDir: cfg.ScratchDir(),
		Format:     cfg.OutputFormat(),
		Quality:    cfg.JPEGQuality(),
		Logger:     logging.WithComponent(logger, "imaging"),
	})
	if err != nil {
		return fmt.Errorf("failed to create image codec: %w", err)
	}

	previewSrv, err := preview.NewServer([]string{cfg.ScratchDir(), cfg.OutputDir()}, logger)
	if err != nil {
		return fmt.Errorf("failed to create preview server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := catalog.NewRunner(catalog.RunnerConfig{
		Service:   catalogSvc,
		Repo:      repo,
		Renderer:  renderer,
		Doctor:    doctor,
		RenderDir: renderDir,
		Logger:    logging.WithComponent(logger, "runner"),
	})
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Version:        config.Version,
		CatalogService: catalogSvc,
		Repository:     repo,
		Runner:         runner,
		Doctor:         doctor,
		Session:        session,
		Export: export.Config{
			Assets:        catalog.NewAssetSource(repo),
			Codec:         codec,
			Cropper:       codec,
			ScratchDir:    cfg.ScratchDir(),
			PreferredSize: cfg.PreferredOutputSize(),
		},
		Preview:   previewSrv,
		Logger:    logger,
		StartTime: startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			CatalogService: catalogSvc,
			Runner:         runner,
			Session:        session,
			Logger:         logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run(ctx)
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
