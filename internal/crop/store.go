package crop

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// ErrNoAspectRatios is returned when a store is configured without any
// allowed aspect ratio.
var ErrNoAspectRatios = errors.New("at least one aspect ratio is required")

// Store reconciles crop parameters with an evolving selection and tracks
// the asset currently shown in the crop view.
type Store struct {
	params *ParamCache
	ratios []float64
	logger *slog.Logger

	mu       sync.Mutex
	ratioIdx int
	rotation int
	active   *AssetRef
}

// StoreConfig configures a Store. Params selects the backend: nil gives the
// store a private cache, non-nil shares the given one.
type StoreConfig struct {
	AspectRatios []float64
	Params       *ParamCache
	Logger       *slog.Logger
}

// NewStore validates the configuration and returns a store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if len(cfg.AspectRatios) == 0 {
		return nil, ErrNoAspectRatios
	}
	params := cfg.Params
	if params == nil {
		params = NewParamCache()
	}
	return &Store{
		params: params,
		ratios: slices.Clone(cfg.AspectRatios),
		logger: cfg.Logger,
	}, nil
}

// Get returns the record stored for an asset.
func (s *Store) Get(id string) (Record, bool) {
	return s.params.Find(id)
}

// Records returns a snapshot of the parameter list in selection order.
func (s *Store) Records() []Record {
	return s.params.Snapshot()
}

// Reconcile rebuilds the parameter list so it matches selection exactly.
// The active asset receives a fresh record built from geom and rotation,
// other assets keep their previous record or get a default one.
func (s *Store) Reconcile(active *AssetRef, geom *Geometry, rotation int, selection []AssetRef) {
	s.params.update(func(old []Record) []Record {
		next := make([]Record, 0, len(selection))
		for _, asset := range selection {
			if slices.ContainsFunc(next, func(r Record) bool { return r.Asset.ID == asset.ID }) {
				continue
			}
			switch {
			case active != nil && active.ID == asset.ID:
				next = append(next, recordFromGeometry(asset, geom, rotation))
			default:
				if prev, ok := find(old, asset.ID); ok {
					next = append(next, prev)
				} else {
					next = append(next, NewRecord(asset))
				}
			}
		}
		return next
	})

	if s.logger != nil {
		s.logger.Debug("crop parameters reconciled", "selection", len(selection))
	}
}

// Preview finishes the edit of the currently active asset and makes next
// the active one, restoring its stored rotation.
func (s *Store) Preview(next AssetRef, geom *Geometry, selection []AssetRef) {
	s.mu.Lock()
	active := s.active
	rotation := s.rotation
	s.mu.Unlock()

	s.Reconcile(active, geom, rotation, selection)

	s.mu.Lock()
	n := next
	s.active = &n
	s.mu.Unlock()
	s.ApplyStoredRotation(next.ID)
}

// Clear drops every record and resets active asset and rotation.
func (s *Store) Clear() {
	s.params.reset()

	s.mu.Lock()
	s.active = nil
	s.rotation = 0
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("crop parameters cleared")
	}
}

// Active returns the asset currently shown in the crop view.
func (s *Store) Active() (AssetRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return AssetRef{}, false
	}
	return *s.active, true
}

// Rotation returns the current rotation in quarter turns.
func (s *Store) Rotation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

// Rotate advances the current rotation by one quarter turn.
func (s *Store) Rotate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotation = NormalizeRotation(s.rotation + 1)
	return s.rotation
}

// ApplyStoredRotation sets the current rotation to the one recorded for
// the asset, or 0 when it has no record.
func (s *Store) ApplyStoredRotation(id string) {
	rotation := 0
	if rec, ok := s.params.Find(id); ok {
		rotation = rec.Rotation
	}
	s.mu.Lock()
	s.rotation = rotation
	s.mu.Unlock()
}

// CurrentAspectRatio returns the selected aspect ratio.
func (s *Store) CurrentAspectRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratios[s.ratioIdx]
}

// AspectRatioIndex returns the position of the selected ratio.
func (s *Store) AspectRatioIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratioIdx
}

// CycleAspectRatio selects the next ratio, wrapping to the first.
func (s *Store) CycleAspectRatio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratioIdx = (s.ratioIdx + 1) % len(s.ratios)
}
