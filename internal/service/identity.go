package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"plcmesh/internal/domain"
	"plcmesh/internal/repository"
)

// IdentityMetrics receives the size of the identity map
type IdentityMetrics interface {
	SetKnown(n int)
}

// IdentityRegistry hands out a stable index per adapter. Indices are
// allocated as the highest index ever assigned plus one, are never reused,
// and survive the adapter going offline and the process restarting.
type IdentityRegistry struct {
	store   repository.IdentityStore
	bus     *EventBus
	metrics IdentityMetrics
	logger  zerolog.Logger

	mu        sync.Mutex
	loaded    bool
	indices   map[domain.AdapterID]int
	counter   int
	persisted repository.IdentityState
}

// IdentityOption configures an IdentityRegistry
type IdentityOption func(*IdentityRegistry)

// WithIdentityEvents publishes identity_assigned events to bus
func WithIdentityEvents(bus *EventBus) IdentityOption {
	return func(r *IdentityRegistry) { r.bus = bus }
}

// WithIdentityMetrics reports the map size to m
func WithIdentityMetrics(m IdentityMetrics) IdentityOption {
	return func(r *IdentityRegistry) { r.metrics = m }
}

// WithIdentityLogger sets the registry logger
func WithIdentityLogger(l zerolog.Logger) IdentityOption {
	return func(r *IdentityRegistry) { r.logger = l }
}

// NewIdentityRegistry creates a registry backed by store. Load must be
// called before use.
func NewIdentityRegistry(store repository.IdentityStore, opts ...IdentityOption) *IdentityRegistry {
	r := &IdentityRegistry{
		store:   store,
		indices: make(map[domain.AdapterID]int),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads the persisted map. Keys are canonicalized to lowercase. A map
// with an invalid MAC, a non-positive index, two MACs sharing an index, or
// two spellings of one MAC with different indices is rejected with
// ErrMalformedIdentityMap.
func (r *IdentityRegistry) Load(ctx context.Context) error {
	state, err := r.store.LoadIdentities(ctx)
	if err != nil {
		return fmt.Errorf("failed to load identity map: %w", err)
	}

	indices, maxIndex, err := canonicalize(state)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.indices = indices
	r.counter = max(state.LastIndex, maxIndex)
	r.persisted = state.Clone()
	r.loaded = true
	r.reportSize()

	r.logger.Info().
		Int("adapters", len(indices)).
		Int("last_index", r.counter).
		Msg("Identity map loaded")

	return nil
}

func canonicalize(state repository.IdentityState) (map[domain.AdapterID]int, int, error) {
	indices := make(map[domain.AdapterID]int, len(state.Indices))
	owners := make(map[int]domain.AdapterID, len(state.Indices))
	maxIndex := 0

	if state.LastIndex < 0 {
		return nil, 0, fmt.Errorf("%w: negative last index %d", ErrMalformedIdentityMap, state.LastIndex)
	}

	// Sorted so the reported error does not depend on map order
	keys := make([]string, 0, len(state.Indices))
	for k := range state.Indices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, raw := range keys {
		idx := state.Indices[raw]
		id, err := domain.ParseAdapterID(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: key %q: %v", ErrMalformedIdentityMap, raw, err)
		}
		if idx <= 0 {
			return nil, 0, fmt.Errorf("%w: %s has non-positive index %d", ErrMalformedIdentityMap, id, idx)
		}
		if prev, ok := indices[id]; ok {
			if prev != idx {
				return nil, 0, fmt.Errorf("%w: %s listed with indices %d and %d", ErrMalformedIdentityMap, id, prev, idx)
			}
			continue
		}
		if owner, ok := owners[idx]; ok {
			return nil, 0, fmt.Errorf("%w: index %d assigned to both %s and %s", ErrMalformedIdentityMap, idx, owner, id)
		}
		indices[id] = idx
		owners[idx] = id
		maxIndex = max(maxIndex, idx)
	}

	return indices, maxIndex, nil
}

// IndexFor returns the index of id, allocating and persisting a new one on
// first sight. When saving fails the allocation stands and the returned
// error wraps ErrPersist; the save is retried on the next change or Flush.
func (r *IdentityRegistry) IndexFor(ctx context.Context, id domain.AdapterID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return 0, ErrNotLoaded
	}
	if idx, ok := r.indices[id]; ok {
		return idx, nil
	}

	r.counter++
	idx := r.counter
	r.indices[id] = idx
	r.reportSize()

	r.logger.Info().
		Str("mac", id.String()).
		Int("index", idx).
		Msg("Assigned adapter index")

	r.bus.Publish(Event{
		Type:    EventIdentityAssigned,
		Payload: AdapterPayload{MAC: id, Index: idx, Name: domain.AdapterName(idx)},
	})

	return idx, r.saveLocked(ctx)
}

// Lookup returns the index of id without allocating
func (r *IdentityRegistry) Lookup(id domain.AdapterID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.indices[id]
	return idx, ok
}

// Name returns "Adapter N" for an indexed adapter and "Adapter ?" otherwise
func (r *IdentityRegistry) Name(id domain.AdapterID) string {
	idx, _ := r.Lookup(id)
	return domain.AdapterName(idx)
}

// Snapshot returns a copy of the map
func (r *IdentityRegistry) Snapshot() map[domain.AdapterID]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.AdapterID]int, len(r.indices))
	for id, idx := range r.indices {
		out[id] = idx
	}
	return out
}

// LastIndex returns the highest index ever assigned
func (r *IdentityRegistry) LastIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// Flush saves the map if it differs from what was last persisted
func (r *IdentityRegistry) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return ErrNotLoaded
	}
	return r.saveLocked(ctx)
}

func (r *IdentityRegistry) state() repository.IdentityState {
	state := repository.IdentityState{
		Indices:   make(map[string]int, len(r.indices)),
		LastIndex: r.counter,
	}
	for id, idx := range r.indices {
		state.Indices[id.String()] = idx
	}
	return state
}

func (r *IdentityRegistry) saveLocked(ctx context.Context) error {
	state := r.state()
	if state.Equal(r.persisted) {
		return nil
	}

	if err := r.store.SaveIdentities(ctx, state); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to persist identity map")
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	r.persisted = state
	return nil
}

func (r *IdentityRegistry) reportSize() {
	if r.metrics != nil {
		r.metrics.SetKnown(len(r.indices))
	}
}
