package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcmesh/internal/domain"
)

type presenceFixture struct {
	backend  *scriptedBackend
	store    *memStore
	registry *IdentityRegistry
	tracker  *PresenceTracker
	bus      *EventBus
	events   chan Event
}

func newPresenceFixture(t *testing.T, replies ...discoverReply) *presenceFixture {
	t.Helper()
	ctx := context.Background()

	f := &presenceFixture{
		backend: newScriptedBackend(replies...),
		store:   newMemStore(nil, 0),
		bus:     NewEventBus(),
		events:  make(chan Event, 64),
	}
	f.bus.Subscribe(f.events)
	f.registry = loadedRegistry(ctx, f.store)
	f.tracker = NewPresenceTracker(f.backend, testScheduler(), f.registry,
		WithPresenceEvents(f.bus),
		WithPresenceClock(newManualClock()),
	)
	return f
}

func (f *presenceFixture) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-f.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPresence_FirstCycle(t *testing.T) {
	f := newPresenceFixture(t, found(macA, macB))

	res, err := f.tracker.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.AdapterID{macA, macB}, res.Online)
	assert.Equal(t, []domain.AdapterID{macA, macB}, res.Added)
	assert.Equal(t, []domain.AdapterID{macA, macB}, res.Discovered)
	assert.Empty(t, res.Removed)

	assert.True(t, f.tracker.IsOnline(macA))
	assert.True(t, f.tracker.IsKnown(macB))

	idx, _ := f.registry.Lookup(macA)
	assert.Equal(t, 1, idx)
	idx, _ = f.registry.Lookup(macB)
	assert.Equal(t, 2, idx)

	s, ok := f.tracker.Discovered(macA)
	require.True(t, ok)
	assert.Equal(t, "eth0", s.Interface)
	assert.Equal(t, "hfid-aa", s.HFID)

	// One discovery only: nothing was online before, so nothing to confirm
	assert.Equal(t, 1, f.backend.calls())
}

func TestPresence_SecondDiscoveryRecoversAdapter(t *testing.T) {
	f := newPresenceFixture(t, found(macA, macB))
	ctx := context.Background()
	_, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)
	f.drain()

	f.backend.script(found(macA), found(macA, macB))
	res, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []domain.AdapterID{macA, macB}, res.Online)
	assert.Equal(t, []domain.AdapterID{macB}, res.Recovered)
	assert.Empty(t, res.Removed)
	assert.True(t, f.tracker.IsOnline(macB))

	for _, ev := range f.drain() {
		assert.NotEqual(t, EventAdapterOffline, ev.Type)
	}
}

func TestPresence_SecondDiscoveryConfirmsLoss(t *testing.T) {
	f := newPresenceFixture(t, found(macA, macB))
	ctx := context.Background()
	_, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)
	f.drain()

	f.backend.script(found(macA), found(macA))
	res, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []domain.AdapterID{macA}, res.Online)
	assert.Equal(t, []domain.AdapterID{macB}, res.Removed)
	assert.False(t, f.tracker.IsOnline(macB))
	assert.True(t, f.tracker.IsKnown(macB))

	// The index outlives the adapter going offline
	idx, ok := f.registry.Lookup(macB)
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	events := f.drain()
	require.Len(t, events, 1)
	assert.Equal(t, EventAdapterOffline, events[0].Type)
	assert.Equal(t, macB, events[0].Payload.(AdapterPayload).MAC)
}

func TestPresence_FailedSecondDiscoveryDoesNotConfirm(t *testing.T) {
	f := newPresenceFixture(t, found(macA, macB))
	ctx := context.Background()
	_, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)

	f.backend.script(found(macA), failed())
	res, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []domain.AdapterID{macA, macB}, res.Online)
	assert.Equal(t, []domain.AdapterID{macB}, res.Recovered)
}

func TestPresence_FailedDiscoveryKeepsOnlineSet(t *testing.T) {
	f := newPresenceFixture(t, found(macA, macB))
	ctx := context.Background()
	_, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)

	f.backend.script(failed())
	before := f.backend.calls()
	_, err = f.tracker.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrInconclusive)

	assert.Equal(t, []domain.AdapterID{macA, macB}, f.tracker.Online())
	// Every attempt was used before giving up
	assert.Equal(t, before+3, f.backend.calls())
}

func TestPresence_EmptyDiscoveryIsInconclusive(t *testing.T) {
	f := newPresenceFixture(t, found(macA))
	ctx := context.Background()
	_, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)

	f.backend.script(found())
	_, err = f.tracker.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrInconclusive)
	assert.Equal(t, []domain.AdapterID{macA}, f.tracker.Online())
}

func TestPresence_RetriedEmptyReplySucceeds(t *testing.T) {
	f := newPresenceFixture(t, found(), found(macA))

	res, err := f.tracker.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.AdapterID{macA}, res.Online)
}

func TestPresence_IdempotentRerun(t *testing.T) {
	f := newPresenceFixture(t, found(macA, macB))
	ctx := context.Background()

	_, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)
	first := f.tracker.Online()
	_, saves := f.store.snapshot()
	f.drain()

	res, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, f.tracker.Online())
	assert.Empty(t, res.Added)
	assert.Empty(t, res.Removed)
	assert.Empty(t, res.Discovered)
	assert.Empty(t, f.drain())

	_, savesAfter := f.store.snapshot()
	assert.Equal(t, saves, savesAfter)
}

func TestPresence_NewAdapterFromSecondDiscoveryGetsNextIndex(t *testing.T) {
	f := newPresenceFixture(t, found(macA, macB))
	ctx := context.Background()
	_, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)

	f.backend.script(found(macA), found(macA, macC))
	res, err := f.tracker.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []domain.AdapterID{macA, macC}, res.Online)
	assert.Equal(t, []domain.AdapterID{macC}, res.Added)
	assert.Equal(t, []domain.AdapterID{macB}, res.Removed)

	idx, _ := f.registry.Lookup(macC)
	assert.Equal(t, 3, idx)
}

func TestPresence_Prime(t *testing.T) {
	f := newPresenceFixture(t, found(macB, macA))

	res, err := f.tracker.Prime(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Online, 2)

	// Allocation follows discovery order
	idx, _ := f.registry.Lookup(macB)
	assert.Equal(t, 1, idx)
	assert.False(t, f.tracker.LastCycle().IsZero())
}
