package watcher

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"plcmesh/internal/config"
	"plcmesh/internal/scheduler"
	"plcmesh/internal/service"
)

// SchedulerTarget receives new access timing
type SchedulerTarget interface {
	Reconfigure(cfg scheduler.Config)
}

// IntervalTarget receives a new scan interval
type IntervalTarget interface {
	SetInterval(d time.Duration)
}

// Reloader re-reads the config file and applies changed timing options.
// Settings outside the timing section need a restart and are ignored.
type Reloader struct {
	mu      sync.Mutex
	path    string
	current config.Timing
	sched   SchedulerTarget
	poller  IntervalTarget
	bus     *service.EventBus
	logger  zerolog.Logger
}

// NewReloader creates a reloader starting from the timing in effect
func NewReloader(path string, current config.Timing, sched SchedulerTarget, poller IntervalTarget, bus *service.EventBus, logger zerolog.Logger) *Reloader {
	return &Reloader{
		path:    path,
		current: current,
		sched:   sched,
		poller:  poller,
		bus:     bus,
		logger:  logger,
	}
}

// Reload applies the file's timing if it is valid and differs from the
// timing in effect. It reports whether anything changed.
func (r *Reloader) Reload() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, _, err := config.LoadFromPath(r.path)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Config reload failed, keeping current timing")
		return false
	}
	if err := cfg.Validate(); err != nil {
		r.logger.Warn().Err(err).Msg("Reloaded config is invalid, keeping current timing")
		return false
	}

	next := cfg.Timing()
	if next == r.current {
		return false
	}

	r.sched.Reconfigure(scheduler.Config{
		Timeout:  next.Timeout,
		Attempts: next.Retries,
		Backoff:  next.RetryBackoff,
	})
	if next.ScanInterval != r.current.ScanInterval {
		r.poller.SetInterval(next.ScanInterval)
	}

	r.logger.Info().
		Dur("scan_interval", next.ScanInterval).
		Dur("timeout", next.Timeout).
		Int("retries", next.Retries).
		Dur("retry_backoff", next.RetryBackoff).
		Msg("Applied reloaded timing")

	r.current = next
	r.bus.Publish(service.Event{Type: service.EventConfigReloaded, Payload: next})
	return true
}

// Current returns the timing in effect
func (r *Reloader) Current() config.Timing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
