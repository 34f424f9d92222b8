package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"plcmesh/internal/backend"
	"plcmesh/internal/domain"
	"plcmesh/internal/repository"
	"plcmesh/internal/scheduler"
)

var errDown = errors.New("adapter did not answer")

const (
	macA = domain.AdapterID("aa:aa:aa:aa:aa:aa")
	macB = domain.AdapterID("bb:bb:bb:bb:bb:bb")
	macC = domain.AdapterID("cc:cc:cc:cc:cc:cc")
)

func testScheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{Timeout: 200 * time.Millisecond, Attempts: 3})
}

// discoverReply is one scripted answer to Discover
type discoverReply struct {
	found []backend.Discovery
	err   error
}

func found(ids ...domain.AdapterID) discoverReply {
	out := make([]backend.Discovery, 0, len(ids))
	for _, id := range ids {
		out = append(out, backend.Discovery{MAC: id, Interface: "eth0", HFID: "hfid-" + string(id[:2])})
	}
	return discoverReply{found: out}
}

func failed() discoverReply {
	return discoverReply{err: errDown}
}

// scriptedBackend answers Discover from a queue, repeating the last entry
// once the queue is drained, and everything else from maps
type scriptedBackend struct {
	mu            sync.Mutex
	discover      []discoverReply
	discoverCalls int
	stats         map[domain.AdapterID][]backend.PeerRate
	details       map[domain.AdapterID]*backend.DetailReport
	down          map[domain.AdapterID]bool
	restarts      []domain.AdapterID
}

func newScriptedBackend(replies ...discoverReply) *scriptedBackend {
	return &scriptedBackend{
		discover: replies,
		stats:    make(map[domain.AdapterID][]backend.PeerRate),
		details:  make(map[domain.AdapterID]*backend.DetailReport),
		down:     make(map[domain.AdapterID]bool),
	}
}

func (b *scriptedBackend) script(replies ...discoverReply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discover = replies
}

func (b *scriptedBackend) setDown(id domain.AdapterID, down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down[id] = down
}

func (b *scriptedBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.discoverCalls
}

func (b *scriptedBackend) Discover(context.Context) ([]backend.Discovery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discoverCalls++
	if len(b.discover) == 0 {
		return nil, nil
	}
	reply := b.discover[0]
	if len(b.discover) > 1 {
		b.discover = b.discover[1:]
	}
	return append([]backend.Discovery(nil), reply.found...), reply.err
}

func (b *scriptedBackend) DiscoverDetails(_ context.Context, target domain.AdapterID) (*backend.DetailReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down[target] {
		return nil, errDown
	}
	report, ok := b.details[target]
	if !ok {
		return &backend.DetailReport{}, nil
	}
	return report, nil
}

func (b *scriptedBackend) Stats(_ context.Context, target domain.AdapterID) ([]backend.PeerRate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down[target] {
		return nil, errDown
	}
	return append([]backend.PeerRate(nil), b.stats[target]...), nil
}

func (b *scriptedBackend) Restart(_ context.Context, target domain.AdapterID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down[target] {
		return errDown
	}
	b.restarts = append(b.restarts, target)
	return nil
}

// memStore is an in-memory IdentityStore
type memStore struct {
	mu      sync.Mutex
	state   repository.IdentityState
	saves   int
	saveErr error
}

func newMemStore(indices map[string]int, last int) *memStore {
	if indices == nil {
		indices = map[string]int{}
	}
	return &memStore{state: repository.IdentityState{Indices: indices, LastIndex: last}}
}

func (s *memStore) LoadIdentities(context.Context) (repository.IdentityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), nil
}

func (s *memStore) SaveIdentities(_ context.Context, state repository.IdentityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.state = state.Clone()
	return nil
}

func (s *memStore) failSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

func (s *memStore) snapshot() (repository.IdentityState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), s.saves
}

// manualClock only moves when told to and hands out manually fired tickers
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *manualClock) Ticker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time, 1), period: d}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *manualClock) ticker(i int) *manualTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.tickers) {
		return nil
	}
	return c.tickers[i]
}

type manualTicker struct {
	ch chan time.Time

	mu      sync.Mutex
	period  time.Duration
	stopped bool
}

func (t *manualTicker) Chan() <-chan time.Time { return t.ch }

func (t *manualTicker) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.period = d
}

func (t *manualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *manualTicker) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

func (t *manualTicker) fire() {
	t.ch <- time.Now()
}

// staticSource is a fixed AdapterSource
type staticSource struct {
	mu     sync.Mutex
	online []domain.AdapterID
	known  map[domain.AdapterID]bool
}

func newStaticSource(online ...domain.AdapterID) *staticSource {
	s := &staticSource{known: make(map[domain.AdapterID]bool)}
	s.set(online...)
	return s
}

func (s *staticSource) set(online ...domain.AdapterID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
	for _, id := range online {
		s.known[id] = true
	}
}

func (s *staticSource) Online() []domain.AdapterID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AdapterID(nil), s.online...)
}

func (s *staticSource) IsKnown(id domain.AdapterID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[id]
}

func loadedRegistry(ctx context.Context, store *memStore, opts ...IdentityOption) *IdentityRegistry {
	r := NewIdentityRegistry(store, opts...)
	if err := r.Load(ctx); err != nil {
		panic(err)
	}
	return r
}
