package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastConfig() Config {
	return Config{Timeout: 50 * time.Millisecond, Attempts: 3, Backoff: time.Millisecond}
}

type recordingRecorder struct {
	mu        sync.Mutex
	outcomes  []string
	waits     int
	abandoned int
}

func (r *recordingRecorder) AddAbandoned(delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned += delta
}

func (r *recordingRecorder) abandonedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned
}

func (r *recordingRecorder) ObserveCall(_, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingRecorder) ObserveGateWait(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits++
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.Attempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff)

	s := New(Config{})
	assert.Equal(t, cfg, s.Config())
}

func TestExecute_Success(t *testing.T) {
	rec := &recordingRecorder{}
	s := New(fastConfig(), WithRecorder(rec))

	got, err := Execute(context.Background(), s, "discover", func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []string{OutcomeOK}, rec.outcomes)
	assert.Equal(t, 1, rec.waits)
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	s := New(fastConfig())
	var calls int

	got, err := Execute(context.Background(), s, "stats", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestExecute_Exhausted(t *testing.T) {
	rec := &recordingRecorder{}
	s := New(fastConfig(), WithRecorder(rec))
	var calls int

	got, err := Execute(context.Background(), s, "stats", func(context.Context) (*int, error) {
		calls++
		return nil, errFlaky
	})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{OutcomeError, OutcomeError, OutcomeError}, rec.outcomes)
}

func TestExecute_BackoffGrowsLinearly(t *testing.T) {
	s := New(Config{Timeout: time.Second, Attempts: 3, Backoff: 20 * time.Millisecond})
	var stamps []time.Time

	_, err := Execute(context.Background(), s, "stats", func(context.Context) (int, error) {
		stamps = append(stamps, time.Now())
		return 0, errFlaky
	})
	require.Error(t, err)
	require.Len(t, stamps, 3)

	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 40*time.Millisecond)
}

func TestExecute_WithAttempts(t *testing.T) {
	s := New(fastConfig())
	var calls int

	_, err := Execute(context.Background(), s, "restart", func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errFlaky
	}, WithAttempts(1))
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
}

func TestExecute_TimeoutReleasesGate(t *testing.T) {
	rec := &recordingRecorder{}
	s := New(Config{Timeout: 20 * time.Millisecond, Attempts: 1}, WithRecorder(rec))

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Execute(context.Background(), s, "discover", func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{OutcomeTimeout}, rec.outcomes)

	// The gate is free again even though the abandoned call never returned
	got, err := Execute(context.Background(), s, "discover", func(context.Context) (int, error) {
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestExecute_AbandonedAttemptOutlivesGate(t *testing.T) {
	rec := &recordingRecorder{}
	s := New(Config{Timeout: 20 * time.Millisecond, Attempts: 1}, WithRecorder(rec))

	// A call that ignores its context, like a wrapped legacy backend
	release := make(chan struct{})
	var running atomic.Int32
	_, err := Execute(context.Background(), s, "stats", func(context.Context) (int, error) {
		running.Add(1)
		defer running.Add(-1)
		<-release
		return 1, nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, s.Abandoned())
	assert.Equal(t, 1, rec.abandonedCount())

	// The next call takes the gate while the abandoned one is still running
	var overlapped bool
	_, err = Execute(context.Background(), s, "stats", func(context.Context) (int, error) {
		overlapped = running.Load() == 1
		return 2, nil
	})
	require.NoError(t, err)
	assert.True(t, overlapped)

	close(release)
	assert.Eventually(t, func() bool {
		return s.Abandoned() == 0 && rec.abandonedCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestExecute_DeadlineFromBackendIsTimeout(t *testing.T) {
	s := New(Config{Timeout: 10 * time.Millisecond, Attempts: 1})

	_, err := Execute(context.Background(), s, "stats", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecute_MutualExclusion(t *testing.T) {
	s := New(fastConfig())

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Execute(context.Background(), s, "stats", func(context.Context) (int, error) {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				return 1, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestExecute_GateReleasedAfterError(t *testing.T) {
	s := New(Config{Timeout: 50 * time.Millisecond, Attempts: 1})

	_, err := Execute(context.Background(), s, "stats", func(context.Context) (int, error) {
		return 0, errFlaky
	})
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = Execute(ctx, s, "stats", func(context.Context) (int, error) { return 1, nil })
	assert.NoError(t, err)
}

func TestExecute_CancelWhileWaitingForGate(t *testing.T) {
	s := New(Config{Timeout: time.Second, Attempts: 1})

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = Execute(context.Background(), s, "stats", func(context.Context) (int, error) {
			close(holding)
			<-release
			return 1, nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Execute(ctx, s, "discover", func(context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestExecute_CancelStopsRetrying(t *testing.T) {
	s := New(Config{Timeout: time.Second, Attempts: 5, Backoff: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	var calls int

	_, err := Execute(ctx, s, "stats", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errFlaky
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExecuteList_EmptyIsRetried(t *testing.T) {
	rec := &recordingRecorder{}
	s := New(fastConfig(), WithRecorder(rec))
	var calls int

	got, err := ExecuteList(context.Background(), s, "discover", func(context.Context) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, nil
		}
		return []string{"aa:aa"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aa:aa"}, got)
	assert.Equal(t, []string{OutcomeEmpty, OutcomeOK}, rec.outcomes)
}

func TestExecuteList_AlwaysEmpty(t *testing.T) {
	s := New(fastConfig())

	got, err := ExecuteList(context.Background(), s, "discover", func(context.Context) ([]string, error) {
		return []string{}, nil
	})
	assert.Empty(t, got)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestReconfigure(t *testing.T) {
	s := New(DefaultConfig())
	s.Reconfigure(Config{Timeout: 500 * time.Millisecond, Attempts: 5, Backoff: 100 * time.Millisecond})

	cfg := s.Config()
	assert.Equal(t, 500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 5, cfg.Attempts)

	s.Reconfigure(Config{Timeout: time.Second})
	assert.Equal(t, 3, s.Config().Attempts)
}
