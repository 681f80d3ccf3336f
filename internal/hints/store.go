// Package hints keeps per-model transformer layer counts. The counts bound the
// source layer indices a recipe block may reference. Entries are created
// lazily with configurable defaults, overwritten on Set and never deleted.
package hints

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"evopanel/pkg/types"
)

const keySuffix = "_layers"

// Key returns the storage key for a model name.
func Key(model string) string { return model + keySuffix }

// Defaults are the counts written or reported for models with no entry.
type Defaults struct {
	// Model1 is written by InitializeDefaults for the first selected model.
	Model1 int `json:"model1" yaml:"model1" toml:"model1"`
	// Model2 is written by InitializeDefaults for the second selected model.
	Model2 int `json:"model2" yaml:"model2" toml:"model2"`
	// Fallback is reported by PairCounts for a selected model with no entry.
	Fallback int `json:"fallback" yaml:"fallback" toml:"fallback"`
}

// DefaultDefaults returns 24/36 for initialization and 12 as the fallback.
func DefaultDefaults() Defaults { return Defaults{Model1: 24, Model2: 36, Fallback: 12} }

func (d Defaults) withFallbacks() Defaults {
	def := DefaultDefaults()
	if d.Model1 <= 0 {
		d.Model1 = def.Model1
	}
	if d.Model2 <= 0 {
		d.Model2 = def.Model2
	}
	if d.Fallback <= 0 {
		d.Fallback = def.Fallback
	}
	return d
}

// ErrInvalidCount is returned when a non-positive layer count is stored.
var ErrInvalidCount = errors.New("layer count must be positive")

// Store is the layer-count hint cache. It is safe for concurrent use; writes
// are last-write-wins.
type Store struct {
	mu       sync.RWMutex
	vals     map[string]int
	backend  Backend
	defaults Defaults
	log      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for reload and watch diagnostics.
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

// New loads the current entries from backend. A nil backend keeps entries in memory.
func New(backend Backend, defaults Defaults, opts ...Option) (*Store, error) {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{backend: backend, defaults: defaults.withFallbacks(), log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	vals, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("load hints: %w", err)
	}
	if vals == nil {
		vals = map[string]int{}
	}
	s.vals = vals
	return s, nil
}

// Defaults returns the effective defaults.
func (s *Store) Defaults() Defaults { return s.defaults }

// Get returns the stored count for model, if any.
func (s *Store) Get(model string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.vals[Key(model)]
	return n, ok
}

// Set writes or overwrites the count for model. An empty model name is ignored.
func (s *Store) Set(model string, n int) error {
	if model == "" {
		return nil
	}
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCount, n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := copyMap(s.vals)
	next[Key(model)] = n
	return s.commitLocked(next)
}

// PairCounts reports the counts for the two selected models. An empty name
// yields NotApplicable; a selected model without an entry yields the fallback.
func (s *Store) PairCounts(model1, model2 string) types.LayerCounts {
	return types.LayerCounts{Model1: s.countFor(model1), Model2: s.countFor(model2)}
}

func (s *Store) countFor(model string) types.LayerCount {
	if model == "" {
		return types.NotApplicable
	}
	if n, ok := s.Get(model); ok {
		return types.LayerCount(n)
	}
	return types.LayerCount(s.defaults.Fallback)
}

// InitializeDefaults writes the configured default for each selected model
// that has no entry yet.
func (s *Store) InitializeDefaults(model1, model2 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := copyMap(s.vals)
	changed := false
	if model1 != "" {
		if _, ok := next[Key(model1)]; !ok {
			next[Key(model1)] = s.defaults.Model1
			changed = true
		}
	}
	if model2 != "" {
		if _, ok := next[Key(model2)]; !ok {
			next[Key(model2)] = s.defaults.Model2
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.commitLocked(next)
}

// Reload replaces the in-memory entries with the backend's current contents.
func (s *Store) Reload() error {
	vals, err := s.backend.Load()
	if err != nil {
		return err
	}
	if vals == nil {
		vals = map[string]int{}
	}
	s.mu.Lock()
	s.vals = vals
	s.mu.Unlock()
	return nil
}

// Watch reloads entries whenever the backend reports an external change. It
// blocks until ctx is done. Backends that cannot be watched return immediately.
func (s *Store) Watch(ctx context.Context) error {
	w, ok := s.backend.(Watcher)
	if !ok {
		return nil
	}
	return w.Watch(ctx, func() {
		if err := s.Reload(); err != nil {
			s.log.Warn().Err(err).Msg("hints reload failed")
			return
		}
		s.log.Debug().Msg("hints reloaded")
	})
}

// commitLocked persists next and makes it current only if the save succeeds.
func (s *Store) commitLocked(next map[string]int) error {
	if err := s.backend.Save(copyMap(next)); err != nil {
		return fmt.Errorf("save hints: %w", err)
	}
	s.vals = next
	return nil
}
