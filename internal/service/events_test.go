package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"plcmesh/internal/domain"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	fast := make(chan Event, 2)
	slow := make(chan Event)
	bus.Subscribe(fast)
	bus.Subscribe(slow)

	// A subscriber that is not receiving does not block the others
	bus.Publish(Event{Type: EventLinksUpdated})
	assert.Len(t, fast, 1)

	bus.Unsubscribe(fast)
	bus.Publish(Event{Type: EventLinksUpdated})
	assert.Len(t, fast, 1)

	var nilBus *EventBus
	assert.NotPanics(t, func() { nilBus.Publish(Event{Type: EventLinksUpdated}) })
}

func TestDetailNotifier(t *testing.T) {
	n := NewDetailNotifier()
	var got []domain.AdapterID

	unsubscribe := n.Subscribe(macA, func(id domain.AdapterID) { got = append(got, id) })
	n.Subscribe(macB, func(id domain.AdapterID) { got = append(got, "other:"+id) })

	n.Notify(macA)
	assert.Equal(t, []domain.AdapterID{macA}, got)
	assert.Equal(t, 1, n.Listeners(macA))

	unsubscribe()
	unsubscribe()
	n.Notify(macA)
	assert.Len(t, got, 1)
	assert.Zero(t, n.Listeners(macA))

	n.Notify(macB)
	assert.Equal(t, domain.AdapterID("other:"+macB), got[1])
}
