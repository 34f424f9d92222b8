package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"plcmesh/internal/backend"
	"plcmesh/internal/domain"
	"plcmesh/internal/scheduler"
)

// PresenceMetrics receives presence tracker measurements
type PresenceMetrics interface {
	SetOnline(n int)
	IncLoss(result string)
}

// Loss outcomes for a MAC missing from the first discovery of a cycle
const (
	LossConfirmed = "confirmed"
	LossRecovered = "recovered"
)

// Sighting is the latest discovery reply for an adapter
type Sighting struct {
	Interface string    `json:"interface"`
	HFID      string    `json:"hfid"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// PresenceResult describes what one presence cycle changed
type PresenceResult struct {
	Online     []domain.AdapterID `json:"online"`
	Added      []domain.AdapterID `json:"added,omitempty"`
	Removed    []domain.AdapterID `json:"removed,omitempty"`
	Recovered  []domain.AdapterID `json:"recovered,omitempty"`
	Discovered []domain.AdapterID `json:"discovered,omitempty"`
}

// PresenceTracker owns the online set. An adapter only leaves the set after
// being absent from two back-to-back discoveries within one cycle.
type PresenceTracker struct {
	backend    backend.Backend
	sched      *scheduler.Scheduler
	identities *IdentityRegistry
	bus        *EventBus
	metrics    PresenceMetrics
	clock      Clock
	logger     zerolog.Logger

	// cycle serializes RunCycle
	cycle sync.Mutex

	mu        sync.RWMutex
	online    map[domain.AdapterID]struct{}
	sightings map[domain.AdapterID]Sighting
	lastCycle time.Time
}

// PresenceOption configures a PresenceTracker
type PresenceOption func(*PresenceTracker)

// WithPresenceEvents publishes presence transitions to bus
func WithPresenceEvents(bus *EventBus) PresenceOption {
	return func(t *PresenceTracker) { t.bus = bus }
}

// WithPresenceMetrics reports presence measurements to m
func WithPresenceMetrics(m PresenceMetrics) PresenceOption {
	return func(t *PresenceTracker) { t.metrics = m }
}

// WithPresenceClock overrides the clock used for sighting times
func WithPresenceClock(c Clock) PresenceOption {
	return func(t *PresenceTracker) { t.clock = c }
}

// WithPresenceLogger sets the tracker logger
func WithPresenceLogger(l zerolog.Logger) PresenceOption {
	return func(t *PresenceTracker) { t.logger = l }
}

// NewPresenceTracker creates a tracker with an empty online set
func NewPresenceTracker(b backend.Backend, sched *scheduler.Scheduler, identities *IdentityRegistry, opts ...PresenceOption) *PresenceTracker {
	t := &PresenceTracker{
		backend:    b,
		sched:      sched,
		identities: identities,
		clock:      realClock{},
		logger:     zerolog.Nop(),
		online:     make(map[domain.AdapterID]struct{}),
		sightings:  make(map[domain.AdapterID]Sighting),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Prime runs the startup discovery
func (t *PresenceTracker) Prime(ctx context.Context) (PresenceResult, error) {
	res, err := t.RunCycle(ctx)
	if err != nil {
		return res, err
	}
	t.logger.Info().Int("online", len(res.Online)).Msg("Initial discovery complete")
	return res, nil
}

// RunCycle performs one presence cycle. If the first discovery fails or
// finds nothing the cycle is abandoned with ErrInconclusive and the online
// set is left untouched.
func (t *PresenceTracker) RunCycle(ctx context.Context) (PresenceResult, error) {
	t.cycle.Lock()
	defer t.cycle.Unlock()

	first, err := scheduler.ExecuteList(ctx, t.sched, "discover", t.backend.Discover)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PresenceResult{}, ctxErr
		}
		t.logger.Debug().Err(err).Msg("Discovery failed, keeping online set")
		return PresenceResult{Online: t.Online()}, fmt.Errorf("%w: %w", ErrInconclusive, err)
	}

	previous := t.onlineSet()
	seen := newOrderedSet()
	replies := make(map[domain.AdapterID]backend.Discovery, len(first))
	for _, d := range first {
		seen.add(d.MAC)
		replies[d.MAC] = d
	}

	var maybeLost []domain.AdapterID
	for id := range previous {
		if !seen.has(id) {
			maybeLost = append(maybeLost, id)
		}
	}
	sortIDs(maybeLost)

	var res PresenceResult
	if len(maybeLost) > 0 {
		second, err := scheduler.Execute(ctx, t.sched, "discover", t.backend.Discover)
		switch {
		case ctx.Err() != nil:
			return PresenceResult{}, ctx.Err()
		case err != nil:
			// Absence was only observed once; a failed probe does not confirm it
			t.logger.Debug().Err(err).Int("candidates", len(maybeLost)).Msg("Confirmation discovery failed, keeping candidates online")
			for _, id := range maybeLost {
				seen.add(id)
			}
		default:
			for _, d := range second {
				seen.add(d.MAC)
				if _, ok := replies[d.MAC]; !ok {
					replies[d.MAC] = d
				}
			}
		}

		for _, id := range maybeLost {
			if seen.has(id) {
				res.Recovered = append(res.Recovered, id)
				t.observeLoss(LossRecovered)
			} else {
				res.Removed = append(res.Removed, id)
				t.observeLoss(LossConfirmed)
			}
		}
	}

	now := t.clock.Now()

	t.mu.Lock()
	next := make(map[domain.AdapterID]struct{}, len(seen.order))
	for _, id := range seen.order {
		next[id] = struct{}{}
		if _, ok := previous[id]; !ok {
			res.Added = append(res.Added, id)
		}
		d, ok := replies[id]
		if !ok {
			continue
		}
		s, known := t.sightings[id]
		if !known {
			s.FirstSeen = now
			res.Discovered = append(res.Discovered, id)
		}
		s.Interface = d.Interface
		s.HFID = d.HFID
		s.LastSeen = now
		t.sightings[id] = s
	}
	t.online = next
	t.lastCycle = now
	t.mu.Unlock()

	res.Online = seen.sorted()
	if t.metrics != nil {
		t.metrics.SetOnline(len(res.Online))
	}

	t.assignIndices(ctx, seen.order)
	t.publish(res)

	if len(res.Added) > 0 || len(res.Removed) > 0 {
		t.logger.Info().
			Int("online", len(res.Online)).
			Int("added", len(res.Added)).
			Int("removed", len(res.Removed)).
			Msg("Online set changed")
	}

	return res, nil
}

// assignIndices allocates indices in discovery order
func (t *PresenceTracker) assignIndices(ctx context.Context, ids []domain.AdapterID) {
	if t.identities == nil {
		return
	}
	for _, id := range ids {
		if _, err := t.identities.IndexFor(ctx, id); err != nil {
			if errors.Is(err, ErrPersist) {
				continue
			}
			t.logger.Warn().Err(err).Str("mac", id.String()).Msg("Failed to assign adapter index")
		}
	}
}

func (t *PresenceTracker) publish(res PresenceResult) {
	for _, id := range res.Discovered {
		t.bus.Publish(Event{Type: EventAdapterDiscovered, Payload: t.payload(id)})
	}
	for _, id := range res.Added {
		t.bus.Publish(Event{Type: EventAdapterOnline, Payload: t.payload(id)})
	}
	for _, id := range res.Removed {
		t.bus.Publish(Event{Type: EventAdapterOffline, Payload: t.payload(id)})
	}
}

func (t *PresenceTracker) payload(id domain.AdapterID) AdapterPayload {
	p := AdapterPayload{MAC: id}
	if t.identities != nil {
		p.Index, _ = t.identities.Lookup(id)
		p.Name = domain.AdapterName(p.Index)
	}
	return p
}

func (t *PresenceTracker) observeLoss(result string) {
	if t.metrics != nil {
		t.metrics.IncLoss(result)
	}
}

func (t *PresenceTracker) onlineSet() map[domain.AdapterID]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[domain.AdapterID]struct{}, len(t.online))
	for id := range t.online {
		out[id] = struct{}{}
	}
	return out
}

// Online returns the online set, sorted
func (t *PresenceTracker) Online() []domain.AdapterID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.AdapterID, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// IsOnline reports whether id is in the online set
func (t *PresenceTracker) IsOnline(id domain.AdapterID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[id]
	return ok
}

// IsKnown reports whether id has ever answered a discovery
func (t *PresenceTracker) IsKnown(id domain.AdapterID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sightings[id]
	return ok
}

// Discovered returns the latest discovery reply for id
func (t *PresenceTracker) Discovered(id domain.AdapterID) (Sighting, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sightings[id]
	return s, ok
}

// Known returns every adapter that has ever answered, sorted
func (t *PresenceTracker) Known() []domain.AdapterID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.AdapterID, 0, len(t.sightings))
	for id := range t.sightings {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// LastCycle returns when the online set was last replaced
func (t *PresenceTracker) LastCycle() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastCycle
}

// orderedSet keeps first-insertion order
type orderedSet struct {
	order []domain.AdapterID
	index map[domain.AdapterID]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[domain.AdapterID]struct{})}
}

func (s *orderedSet) add(id domain.AdapterID) {
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *orderedSet) has(id domain.AdapterID) bool {
	_, ok := s.index[id]
	return ok
}

func (s *orderedSet) sorted() []domain.AdapterID {
	out := append([]domain.AdapterID(nil), s.order...)
	sortIDs(out)
	return out
}

func sortIDs(ids []domain.AdapterID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
