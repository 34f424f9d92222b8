package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcmesh/internal/backend"
	"plcmesh/internal/domain"
	"plcmesh/internal/logger"
)

type topologyFixture struct {
	backend  *scriptedBackend
	presence *PresenceTracker
	mesh     *MeshAggregator
	registry *IdentityRegistry
	topo     *Topology
	bus      *EventBus
}

func newTopologyFixture(t *testing.T, b *scriptedBackend) *topologyFixture {
	t.Helper()
	ctx := context.Background()
	sched := testScheduler()
	clock := newManualClock()
	bus := NewEventBus()

	registry := loadedRegistry(ctx, newMemStore(nil, 0))
	presence := NewPresenceTracker(b, sched, registry, WithPresenceClock(clock))
	mesh := NewMeshAggregator(b, sched, presence, WithMeshClock(clock))

	return &topologyFixture{
		backend:  b,
		presence: presence,
		mesh:     mesh,
		registry: registry,
		bus:      bus,
		topo: NewTopology(TopologyDeps{
			Interface:  "eth0",
			Presence:   presence,
			Mesh:       mesh,
			Identities: registry,
			Backend:    b,
			Scheduler:  sched,
			Bus:        bus,
			Logger:     logger.NewTestLogger(),
		}),
	}
}

func TestTopology_TwoAdapterScenario(t *testing.T) {
	b := newScriptedBackend(found(macA, macB))
	b.stats[macA] = []backend.PeerRate{{MAC: macB, ToRate: 100, FromRate: 50}}
	f := newTopologyFixture(t, b)
	ctx := context.Background()

	_, err := f.presence.RunCycle(ctx)
	require.NoError(t, err)
	f.mesh.RunCycle(ctx)

	assert.Equal(t, map[domain.AdapterID]int{macA: 1, macB: 2}, f.topo.Identities())

	links := f.topo.Links()
	require.Len(t, links, 1)
	assert.Equal(t, macA, links[0].Source)
	assert.Equal(t, macB, links[0].Target)
	assert.Equal(t, 100, links[0].TxRate)
	assert.Equal(t, 50, links[0].RxRate)

	records := f.topo.Adapters()
	require.Len(t, records, 2)
	assert.Equal(t, "Adapter 1", records[0].Name)
	assert.Equal(t, macA, records[0].ID)
	assert.True(t, records[0].Online)
	assert.Equal(t, domain.Unknown, records[0].TEIString())
	assert.Equal(t, domain.Unknown, records[0].SignalString())

	graph := f.topo.Graph()
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, "100/50 Mbit/s", graph.Edges[0].Label)
	assert.Len(t, graph.Nodes, 2)
}

func TestTopology_AdapterDetails(t *testing.T) {
	b := newScriptedBackend(found(macA, macB))
	b.details[macA] = &backend.DetailReport{Stations: []backend.Station{
		{MAC: macB, StationDetail: domain.StationDetail{TEI: 4, SNID: 2, CCo: true, SignalLevel: 15}},
	}}
	f := newTopologyFixture(t, b)
	ctx := context.Background()

	_, err := f.presence.RunCycle(ctx)
	require.NoError(t, err)
	f.mesh.RunCycle(ctx)

	rec, err := f.topo.Adapter(macB)
	require.NoError(t, err)
	assert.Equal(t, "4", rec.TEIString())
	assert.Equal(t, "≤ -75 dB", rec.SignalString())
	cco, pco, _ := rec.RoleFlags()
	assert.Equal(t, "Yes", cco)
	assert.Equal(t, "No", pco)
	assert.Equal(t, macA, rec.DetailSource)
	assert.Equal(t, "hfid-bb", rec.HFID)

	_, err = f.topo.Adapter(macC)
	assert.ErrorIs(t, err, ErrUnknownAdapter)
}

func TestTopology_OfflineAdaptersStayListed(t *testing.T) {
	b := newScriptedBackend(found(macA, macB))
	f := newTopologyFixture(t, b)
	ctx := context.Background()

	_, err := f.presence.RunCycle(ctx)
	require.NoError(t, err)
	b.script(found(macA), found(macA))
	_, err = f.presence.RunCycle(ctx)
	require.NoError(t, err)

	records := f.topo.Adapters()
	require.Len(t, records, 2)
	assert.Equal(t, macB, records[1].ID)
	assert.False(t, records[1].Online)
	assert.Equal(t, 2, records[1].Index)
}

func TestTopology_Restart(t *testing.T) {
	b := newScriptedBackend(found(macA))
	f := newTopologyFixture(t, b)
	ctx := context.Background()
	events := make(chan Event, 4)
	f.bus.Subscribe(events)

	_, err := f.presence.RunCycle(ctx)
	require.NoError(t, err)

	require.NoError(t, f.topo.Restart(ctx, macA))
	assert.Equal(t, []domain.AdapterID{macA}, b.restarts)
	ev := <-events
	assert.Equal(t, EventAdapterRestarted, ev.Type)

	assert.ErrorIs(t, f.topo.Restart(ctx, macC), ErrUnknownAdapter)

	b.setDown(macA, true)
	assert.Error(t, f.topo.Restart(ctx, macA))
	assert.Len(t, b.restarts, 1)
}
