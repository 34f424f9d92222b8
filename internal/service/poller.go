package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// CycleKind names one of the two periodic cycles
type CycleKind string

const (
	CyclePresence CycleKind = "presence"
	CycleStats    CycleKind = "stats"
)

// MinInterval is the shortest allowed scan interval
const MinInterval = 5 * time.Second

// PollerMetrics receives cycle measurements
type PollerMetrics interface {
	ObserveCycle(kind string, d time.Duration)
	IncCycleSkipped(kind string)
}

// Poller drives the presence and stats cycles. Both run at the same
// interval with the presence cycle offset by half an interval. Cycles run
// on a bounded pool so the loop itself never waits on the backend; a tick
// for a cycle that is still running is dropped.
type Poller struct {
	clock   Clock
	metrics PollerMetrics
	logger  zerolog.Logger

	pool    *semaphore.Weighted
	cycles  map[CycleKind]func(context.Context)
	running map[CycleKind]*atomic.Bool

	mu       sync.Mutex
	interval time.Duration

	intervalCh chan time.Duration
	triggerCh  chan CycleKind
	wg         sync.WaitGroup
}

// PollerOption configures a Poller
type PollerOption func(*Poller)

// WithPollerClock overrides the clock driving the tickers
func WithPollerClock(c Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// WithPollerMetrics reports cycle durations to m
func WithPollerMetrics(m PollerMetrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// WithPollerLogger sets the poller logger
func WithPollerLogger(l zerolog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithWorkers bounds how many cycles may run at once
func WithWorkers(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.pool = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewPoller creates a poller for one interface
func NewPoller(presence *PresenceTracker, mesh *MeshAggregator, interval time.Duration, opts ...PollerOption) *Poller {
	p := &Poller{
		clock:      realClock{},
		logger:     zerolog.Nop(),
		pool:       semaphore.NewWeighted(2),
		interval:   clampInterval(interval),
		intervalCh: make(chan time.Duration, 1),
		triggerCh:  make(chan CycleKind, 4),
		running: map[CycleKind]*atomic.Bool{
			CyclePresence: {},
			CycleStats:    {},
		},
	}
	p.cycles = map[CycleKind]func(context.Context){
		CyclePresence: func(ctx context.Context) {
			if _, err := presence.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Debug().Err(err).Msg("Presence cycle inconclusive")
			}
		},
		CycleStats: func(ctx context.Context) {
			mesh.RunCycle(ctx)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Interval returns the current scan interval
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetInterval changes the scan interval. Intervals below MinInterval are
// raised to it. Both tickers restart, keeping the half-interval offset.
func (p *Poller) SetInterval(d time.Duration) {
	d = clampInterval(d)

	p.mu.Lock()
	changed := p.interval != d
	p.interval = d
	p.mu.Unlock()

	if !changed {
		return
	}

	// Keep only the latest value
	select {
	case <-p.intervalCh:
	default:
	}
	select {
	case p.intervalCh <- d:
	default:
	}
}

// Trigger asks for an immediate cycle of the given kind. Requests made while
// the queue is full are dropped.
func (p *Poller) Trigger(kind CycleKind) bool {
	if _, ok := p.cycles[kind]; !ok {
		return false
	}
	select {
	case p.triggerCh <- kind:
		return true
	default:
		return false
	}
}

// Run primes the tracker and aggregator and then polls until ctx is done.
// It waits for running cycles before returning.
func (p *Poller) Run(ctx context.Context) error {
	defer p.wg.Wait()

	p.prime(ctx)

	interval := p.Interval()
	statsTicker := p.clock.Ticker(interval)
	defer statsTicker.Stop()
	presenceTicker := p.clock.Ticker(interval / 2)
	defer presenceTicker.Stop()
	offsetPending := true

	p.logger.Info().Dur("interval", interval).Msg("Poller started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Poller stopping")
			return nil

		case <-statsTicker.Chan():
			p.dispatch(ctx, CycleStats)

		case <-presenceTicker.Chan():
			if offsetPending {
				presenceTicker.Reset(p.Interval())
				offsetPending = false
			}
			p.dispatch(ctx, CyclePresence)

		case kind := <-p.triggerCh:
			p.dispatch(ctx, kind)

		case d := <-p.intervalCh:
			statsTicker.Reset(d)
			presenceTicker.Reset(d / 2)
			offsetPending = true
			p.logger.Info().Dur("interval", d).Msg("Scan interval changed")
		}
	}
}

// prime runs one presence cycle and then one stats cycle, in that order, so
// the first stats cycle already knows which adapters are online
func (p *Poller) prime(ctx context.Context) {
	for _, kind := range []CycleKind{CyclePresence, CycleStats} {
		if ctx.Err() != nil {
			return
		}
		p.running[kind].Store(true)
		p.execute(ctx, kind)
		p.running[kind].Store(false)
	}
}

// dispatch hands a cycle to the pool unless one of the same kind is running
func (p *Poller) dispatch(ctx context.Context, kind CycleKind) {
	running := p.running[kind]
	if !running.CompareAndSwap(false, true) {
		p.logger.Debug().Str("cycle", string(kind)).Msg("Previous cycle still running, skipping tick")
		if p.metrics != nil {
			p.metrics.IncCycleSkipped(string(kind))
		}
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer running.Store(false)

		if err := p.pool.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.pool.Release(1)

		p.execute(ctx, kind)
	}()
}

func (p *Poller) execute(ctx context.Context, kind CycleKind) {
	start := p.clock.Now()
	p.cycles[kind](ctx)
	if p.metrics != nil {
		p.metrics.ObserveCycle(string(kind), p.clock.Now().Sub(start))
	}
}
