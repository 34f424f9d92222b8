package service

import (
	"sync"

	"plcmesh/internal/domain"
)

// DetailListener is called with the MAC whose detail data was refreshed
type DetailListener func(id domain.AdapterID)

// DetailNotifier delivers detail refreshes to listeners registered for a
// specific adapter. Listeners run synchronously on the notifying goroutine
// and must not block.
type DetailNotifier struct {
	mu     sync.RWMutex
	nextID uint64
	byMAC  map[domain.AdapterID]map[uint64]DetailListener
}

// NewDetailNotifier creates an empty notifier
func NewDetailNotifier() *DetailNotifier {
	return &DetailNotifier{byMAC: make(map[domain.AdapterID]map[uint64]DetailListener)}
}

// Subscribe registers fn for refreshes of id. The returned function removes
// the registration; calling it more than once is harmless.
func (n *DetailNotifier) Subscribe(id domain.AdapterID, fn DetailListener) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	key := n.nextID
	if n.byMAC[id] == nil {
		n.byMAC[id] = make(map[uint64]DetailListener)
	}
	n.byMAC[id][key] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.byMAC[id], key)
			if len(n.byMAC[id]) == 0 {
				delete(n.byMAC, id)
			}
		})
	}
}

// Notify calls every listener registered for id
func (n *DetailNotifier) Notify(id domain.AdapterID) {
	n.mu.RLock()
	listeners := make([]DetailListener, 0, len(n.byMAC[id]))
	for _, fn := range n.byMAC[id] {
		listeners = append(listeners, fn)
	}
	n.mu.RUnlock()

	for _, fn := range listeners {
		fn(id)
	}
}

// Listeners returns how many listeners are registered for id
func (n *DetailNotifier) Listeners(id domain.AdapterID) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.byMAC[id])
}
