package crop

import (
	"log/slog"
	"slices"
	"sync"
)

// Session is owned by the application and outlives individual picker
// stores. With KeepParams set every store it opens shares one cache, so
// parameters survive closing and reopening the picker for the lifetime of
// the process.
type Session struct {
	ratios     []float64
	keepParams bool
	shared     *ParamCache
	logger     *slog.Logger

	mu      sync.Mutex
	current *Store
}

// SessionConfig configures a Session.
type SessionConfig struct {
	AspectRatios []float64
	KeepParams   bool
	Logger       *slog.Logger
}

// NewSession validates the configuration once for every store it will open.
func NewSession(cfg SessionConfig) (*Session, error) {
	if len(cfg.AspectRatios) == 0 {
		return nil, ErrNoAspectRatios
	}
	return &Session{
		ratios:     slices.Clone(cfg.AspectRatios),
		keepParams: cfg.KeepParams,
		shared:     NewParamCache(),
		logger:     cfg.Logger,
	}, nil
}

// KeepParams reports whether stores share the session cache.
func (s *Session) KeepParams() bool {
	return s.keepParams
}

// OpenStore returns a store for a newly opened picker and makes it the
// current one.
func (s *Session) OpenStore() *Store {
	var params *ParamCache
	if s.keepParams {
		params = s.shared
	}
	// ratios were validated by NewSession
	store, _ := NewStore(StoreConfig{
		AspectRatios: s.ratios,
		Params:       params,
		Logger:       s.logger,
	})
	if s.logger != nil {
		s.logger.Info("picker store opened", "keep_params", s.keepParams, "records", store.params.Len())
	}

	s.mu.Lock()
	s.current = store
	s.mu.Unlock()
	return store
}

// Current returns the store of the most recently opened picker, opening
// one if none exists yet.
func (s *Session) Current() *Store {
	s.mu.Lock()
	store := s.current
	s.mu.Unlock()
	if store != nil {
		return store
	}
	return s.OpenStore()
}
