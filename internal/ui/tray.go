package ui

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/heimdex/heimdex-crop/internal/catalog"
	"github.com/heimdex/heimdex-crop/internal/crop"
)

const refreshInterval = 5 * time.Second

type Tray struct {
	catalogSvc catalog.CatalogService
	runner     *catalog.Runner
	session    *crop.Session
	logger     *slog.Logger

	statusItem *systray.MenuItem
	assetsItem *systray.MenuItem
	ratioItem  *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	CatalogService catalog.CatalogService
	Runner         *catalog.Runner
	Session        *crop.Session
	Logger         *slog.Logger
	OnQuit         func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		catalogSvc: cfg.CatalogService,
		runner:     cfg.Runner,
		session:    cfg.Session,
		logger:     cfg.Logger,
		onQuit:     cfg.OnQuit,
	}
}

// Run blocks until the tray exits.
func (t *Tray) Run(ctx context.Context) {
	systray.Run(func() { t.onReady(ctx) }, t.onExit)
}

func (t *Tray) onReady(ctx context.Context) {
	systray.SetIcon(iconBytes())
	systray.SetTitle("Heimdex Crop")
	systray.SetTooltip("Heimdex Crop Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.assetsItem = systray.AddMenuItem("Assets: 0", "Cataloged images and videos")
	t.assetsItem.Disable()

	systray.AddSeparator()

	t.ratioItem = systray.AddMenuItem("Aspect ratio: "+ratioLabel(t.currentRatio()), "Cycle the crop aspect ratio")
	clearItem := systray.AddMenuItem("Clear crop parameters", "Forget every crop and rotation in the picker")
	t.pauseItem = systray.AddMenuItem("Pause scanning", "Pause folder scans")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Heimdex Crop")

	go t.refreshLoop(ctx)

	go func() {
		for {
			select {
			case <-t.ratioItem.ClickedCh:
				t.cycleAspectRatio()
			case <-clearItem.ClickedCh:
				t.clearParams()
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		t.refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Tray) refresh(ctx context.Context) {
	if count, err := t.catalogSvc.CountAssets(ctx); err == nil {
		t.UpdateAssetsCount(count)
	}
	if t.runner == nil {
		return
	}
	if n := t.runner.GetActiveJobCount(ctx); n > 0 {
		t.UpdateStatus(fmt.Sprintf("Working (%d)", n))
	} else {
		t.UpdateStatus("Idle")
	}
}

func (t *Tray) currentRatio() float64 {
	if t.session == nil {
		return 0
	}
	return t.session.Current().CurrentAspectRatio()
}

func (t *Tray) cycleAspectRatio() {
	if t.session == nil {
		return
	}
	store := t.session.Current()
	store.CycleAspectRatio()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ratioItem.SetTitle("Aspect ratio: " + ratioLabel(store.CurrentAspectRatio()))
}

func (t *Tray) clearParams() {
	if t.session == nil {
		return
	}
	t.session.Current().Clear()
	t.logger.Info("crop parameters cleared from tray")
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause scanning")
		t.statusItem.SetTitle("Status: Idle")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume scanning")
		t.statusItem.SetTitle("Status: Paused")
	}
}

func (t *Tray) UpdateStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner != nil && t.runner.IsPaused() {
		return
	}
	t.statusItem.SetTitle("Status: " + status)
}

func (t *Tray) UpdateAssetsCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assetsItem.SetTitle(fmt.Sprintf("Assets: %d", count))
}

func (t *Tray) Quit() {
	systray.Quit()
}

// ratioLabel renders a ratio as W:H when a small whole-number pair matches,
// otherwise as a decimal.
func ratioLabel(r float64) string {
	if r <= 0 {
		return "-"
	}
	for h := 1; h <= 20; h++ {
		w := r * float64(h)
		if math.Abs(w-math.Round(w)) < 0.01 {
			return fmt.Sprintf("%d:%d", int(math.Round(w)), h)
		}
	}
	return fmt.Sprintf("%.2f", r)
}
