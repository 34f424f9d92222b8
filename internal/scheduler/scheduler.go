// Package scheduler serializes access to the powerline query backend.
//
// Every backend call goes through one exclusive gate. A call holds the gate
// for all of its attempts, each attempt is bounded by the configured timeout,
// and failed attempts are retried after a linearly growing delay.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrTimeout is returned for an attempt that outlived the call timeout
	ErrTimeout = errors.New("backend call timed out")
	// ErrEmptyResult marks a list call that returned nothing
	ErrEmptyResult = errors.New("backend returned an empty result")
	// ErrRetriesExhausted wraps the last attempt's error once the retry cap is hit
	ErrRetriesExhausted = errors.New("backend retries exhausted")
)

// Call outcomes as recorded in metrics
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeEmpty   = "empty"
)

// Config holds the scheduler timing
type Config struct {
	// Timeout bounds a single attempt
	Timeout time.Duration
	// Attempts is the retry cap, including the first attempt
	Attempts int
	// Backoff is multiplied by the attempt number to get the delay before the next attempt
	Backoff time.Duration
}

// DefaultConfig returns a 2s timeout, 3 attempts and a 200ms backoff step
func DefaultConfig() Config {
	return Config{
		Timeout:  2 * time.Second,
		Attempts: 3,
		Backoff:  200 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Attempts < 1 {
		c.Attempts = def.Attempts
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	return c
}

// Recorder receives call metrics
type Recorder interface {
	ObserveCall(op, outcome string, d time.Duration)
	ObserveGateWait(d time.Duration)
}

// AbandonRecorder is an optional Recorder extension that tracks abandoned
// attempts whose backend call has not returned yet. delta is +1 when an
// attempt is abandoned and -1 when its call returns.
type AbandonRecorder interface {
	AddAbandoned(delta int)
}

// Scheduler owns the backend gate
type Scheduler struct {
	gate *semaphore.Weighted

	mu  sync.RWMutex
	cfg Config

	// attempts past their deadline that are still running in the backend
	abandoned atomic.Int64

	recorder Recorder
	logger   zerolog.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithRecorder reports call metrics to r
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithLogger sets the logger used for per-attempt debug output
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a scheduler
func New(cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		gate:   semaphore.NewWeighted(1),
		cfg:    cfg.withDefaults(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the current timing
func (s *Scheduler) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Abandoned returns how many timed-out attempts are still running. The gate
// does not cover them, so a backend that ignores its context can see one of
// these overlap with the call that took the gate next.
func (s *Scheduler) Abandoned() int {
	return int(s.abandoned.Load())
}

// Reconfigure replaces the timing. Calls already holding the gate keep the
// values they started with.
func (s *Scheduler) Reconfigure(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.withDefaults()
}

type callConfig struct {
	attempts int
}

// CallOption adjusts a single call
type CallOption func(*callConfig)

// WithAttempts overrides the retry cap for one call
func WithAttempts(n int) CallOption {
	return func(c *callConfig) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// Execute runs fn under the gate with the configured timeout and retries.
// The result of the first successful attempt is returned. When every attempt
// fails the zero value is returned with an error wrapping both
// ErrRetriesExhausted and the last failure. Cancelling ctx stops waiting and
// retrying and returns the context error.
func Execute[T any](ctx context.Context, s *Scheduler, op string, fn func(context.Context) (T, error), opts ...CallOption) (T, error) {
	var zero T

	cfg := s.Config()
	call := callConfig{attempts: cfg.Attempts}
	for _, opt := range opts {
		opt(&call)
	}

	waitStart := time.Now()
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer s.gate.Release(1)
	s.observeGateWait(time.Since(waitStart))

	var lastErr error
	for attempt := 1; attempt <= call.attempts; attempt++ {
		result, err := runAttempt(ctx, cfg.Timeout, fn, func() func() { return s.abandon(op) })

		outcome := classify(err)
		s.observeCall(op, outcome, result.took)

		if err == nil {
			return result.value, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		lastErr = err
		s.logger.Debug().
			Str("op", op).
			Int("attempt", attempt).
			Int("attempts", call.attempts).
			Err(err).
			Msg("Backend call failed")

		if attempt == call.attempts {
			break
		}
		if err := sleep(ctx, cfg.Backoff*time.Duration(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, op, call.attempts, lastErr)
}

// ExecuteList is Execute for calls returning a list, where an empty list
// counts as a failed attempt.
func ExecuteList[E any](ctx context.Context, s *Scheduler, op string, fn func(context.Context) ([]E, error), opts ...CallOption) ([]E, error) {
	return Execute(ctx, s, op, func(ctx context.Context) ([]E, error) {
		items, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, ErrEmptyResult
		}
		return items, nil
	}, opts...)
}

type attemptResult[T any] struct {
	value T
	err   error
	took  time.Duration
}

// runAttempt runs fn with its own deadline. An attempt that does not return
// in time is abandoned: its context is cancelled and its result discarded.
// abandon is called when that happens and the func it returns once fn
// finally returns.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error), abandon func() func()) (attemptResult[T], error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan attemptResult[T], 1)
	go func() {
		v, err := fn(attemptCtx)
		done <- attemptResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		res.took = time.Since(start)
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			res.err = fmt.Errorf("%w: %v", ErrTimeout, res.err)
		}
		return res, res.err
	case <-attemptCtx.Done():
		res := attemptResult[T]{took: time.Since(start)}
		settled := abandon()
		go func() {
			<-done
			settled()
		}()
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrEmptyResult):
		return OutcomeEmpty
	default:
		return OutcomeError
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) abandon(op string) func() {
	running := s.abandoned.Add(1)
	s.logger.Debug().Str("op", op).Int64("running", running).Msg("Abandoned backend call")
	s.observeAbandoned(1)

	return func() {
		running := s.abandoned.Add(-1)
		s.logger.Debug().Str("op", op).Int64("running", running).Msg("Abandoned backend call returned")
		s.observeAbandoned(-1)
	}
}

func (s *Scheduler) observeAbandoned(delta int) {
	if r, ok := s.recorder.(AbandonRecorder); ok {
		r.AddAbandoned(delta)
	}
}

func (s *Scheduler) observeCall(op, outcome string, d time.Duration) {
	if s.recorder != nil {
		s.recorder.ObserveCall(op, outcome, d)
	}
}

func (s *Scheduler) observeGateWait(d time.Duration) {
	if s.recorder != nil {
		s.recorder.ObserveGateWait(d)
	}
}
