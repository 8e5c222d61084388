package ffmpeg

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	healthyTTL   = 5 * time.Minute
	unhealthyTTL = 30 * time.Second
)

var errNoCapabilities = errors.New("doctor reported no capabilities")

// Health is what the doctor last learned about the binaries. Caps may
// outlive a failed check; Err is the failure of the latest one.
type Health struct {
	Caps      *Capabilities
	Err       error
	CheckedAt time.Time
}

// Available reports whether renders can be attempted on what is known.
func (h Health) Available() bool {
	return h.Caps != nil && h.Caps.CanRender()
}

// CachedDoctor remembers the outcome of version checks so renders and
// status reads do not spawn subprocesses each time. Failed checks are
// remembered for a shorter time than successful ones.
type CachedDoctor struct {
	runner       Runner
	logger       *slog.Logger
	now          func() time.Time
	healthyTTL   time.Duration
	unhealthyTTL time.Duration

	probeMu sync.Mutex // serializes checks

	mu     sync.Mutex
	health Health
}

func NewCachedDoctor(runner Runner, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CachedDoctor{
		runner:       runner,
		logger:       logger,
		now:          time.Now,
		healthyTTL:   healthyTTL,
		unhealthyTTL: unhealthyTTL,
	}
}

// Get answers from the last check while it is fresh and checks again
// otherwise.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	if h := d.Health(); d.fresh(h) {
		return h.result()
	}
	return d.Refresh(ctx)
}

// Health returns the last known state without running a check.
func (d *CachedDoctor) Health() Health {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.health
}

// Refresh runs a check now. When it fails after an earlier success, the
// earlier capabilities are returned and the failure is kept in Health.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.probeMu.Lock()
	defer d.probeMu.Unlock()

	caps, err := d.runner.RunDoctor(ctx)
	if err == nil && caps == nil {
		err = errNoCapabilities
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.health.CheckedAt = d.now()
	d.health.Err = err
	if err != nil {
		d.logger.Warn("ffmpeg doctor probe failed", "error", err, "have_previous", d.health.Caps != nil)
	} else {
		d.health.Caps = caps
	}
	return d.health.result()
}

// Invalidate forgets the known capabilities after a binary stopped
// working, so the next Get checks again.
func (d *CachedDoctor) Invalidate(reason error) {
	d.mu.Lock()
	d.health = Health{Err: reason}
	d.mu.Unlock()
	d.logger.Info("ffmpeg capabilities invalidated", "reason", reason)
}

func (d *CachedDoctor) fresh(h Health) bool {
	if h.CheckedAt.IsZero() {
		return false
	}
	ttl := d.healthyTTL
	if h.Err != nil {
		ttl = d.unhealthyTTL
	}
	return d.now().Sub(h.CheckedAt) < ttl
}

func (h Health) result() (*Capabilities, error) {
	if h.Caps != nil {
		return h.Caps, nil
	}
	return nil, h.Err
}
