package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"plcmesh/internal/backend"
	"plcmesh/internal/domain"
	"plcmesh/internal/scheduler"
)

// Topology is the read-only presentation view over one interface's tracker,
// aggregator and registry, plus the restart action.
type Topology struct {
	iface      string
	presence   *PresenceTracker
	mesh       *MeshAggregator
	identities *IdentityRegistry
	backend    backend.Backend
	sched      *scheduler.Scheduler
	bus        *EventBus
	logger     zerolog.Logger
}

// TopologyDeps are the components a Topology reads from
type TopologyDeps struct {
	Interface  string
	Presence   *PresenceTracker
	Mesh       *MeshAggregator
	Identities *IdentityRegistry
	Backend    backend.Backend
	Scheduler  *scheduler.Scheduler
	Bus        *EventBus
	Logger     zerolog.Logger
}

// NewTopology creates the presentation facade
func NewTopology(deps TopologyDeps) *Topology {
	return &Topology{
		iface:      deps.Interface,
		presence:   deps.Presence,
		mesh:       deps.Mesh,
		identities: deps.Identities,
		backend:    deps.Backend,
		sched:      deps.Scheduler,
		bus:        deps.Bus,
		logger:     deps.Logger,
	}
}

// Interface returns the powerline interface name
func (t *Topology) Interface() string {
	return t.iface
}

// Adapters returns a record for every adapter that has an index or has
// been discovered, ordered by index with unindexed adapters last
func (t *Topology) Adapters() []domain.AdapterRecord {
	ids := make(map[domain.AdapterID]struct{})
	for id := range t.identities.Snapshot() {
		ids[id] = struct{}{}
	}
	for _, id := range t.presence.Known() {
		ids[id] = struct{}{}
	}

	records := make([]domain.AdapterRecord, 0, len(ids))
	for id := range ids {
		records = append(records, t.record(id))
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch {
		case a.Index > 0 && b.Index > 0:
			return a.Index < b.Index
		case a.Index > 0 || b.Index > 0:
			return a.Index > 0
		default:
			return a.ID < b.ID
		}
	})
	return records
}

// Adapter returns the record of one adapter
func (t *Topology) Adapter(id domain.AdapterID) (domain.AdapterRecord, error) {
	if !t.exists(id) {
		return domain.AdapterRecord{}, fmt.Errorf("%w: %s", ErrUnknownAdapter, id)
	}
	return t.record(id), nil
}

func (t *Topology) exists(id domain.AdapterID) bool {
	if _, ok := t.identities.Lookup(id); ok {
		return true
	}
	return t.presence.IsKnown(id)
}

func (t *Topology) record(id domain.AdapterID) domain.AdapterRecord {
	idx, _ := t.identities.Lookup(id)
	rec := domain.AdapterRecord{
		ID:     id,
		Index:  idx,
		Name:   domain.AdapterName(idx),
		Online: t.presence.IsOnline(id),
	}

	if s, ok := t.presence.Discovered(id); ok {
		rec.Interface = s.Interface
		rec.HFID = s.HFID
	}
	if rec.Interface == "" {
		rec.Interface = t.iface
	}

	if detail, reporter, ok := t.mesh.Detail(id); ok {
		rec.Detail = &detail
		rec.DetailSource = reporter
	}
	return rec
}

// Links returns every mesh link
func (t *Topology) Links() []domain.MeshLink {
	return t.mesh.Links()
}

// Identities returns the identity map
func (t *Topology) Identities() map[domain.AdapterID]int {
	return t.identities.Snapshot()
}

// Graph returns the node/edge view used by exports
func (t *Topology) Graph() *domain.Topology {
	return domain.DeriveTopology(t.Adapters(), t.Links())
}

// Restart reboots one adapter. It is tried once; a restart that fails is
// not repeated behind the operator's back.
func (t *Topology) Restart(ctx context.Context, id domain.AdapterID) error {
	if !t.exists(id) {
		return fmt.Errorf("%w: %s", ErrUnknownAdapter, id)
	}

	_, err := scheduler.Execute(ctx, t.sched, "restart", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.backend.Restart(ctx, id)
	}, scheduler.WithAttempts(1))
	if err != nil {
		t.logger.Warn().Err(err).Str("mac", id.String()).Msg("Adapter restart failed")
		return fmt.Errorf("restart %s: %w", id, err)
	}

	t.logger.Info().Str("mac", id.String()).Msg("Adapter restart requested")
	t.bus.Publish(Event{
		Type:    EventAdapterRestarted,
		Payload: AdapterPayload{MAC: id, Index: t.indexOf(id), Name: t.identities.Name(id)},
	})
	return nil
}

func (t *Topology) indexOf(id domain.AdapterID) int {
	idx, _ := t.identities.Lookup(id)
	return idx
}
