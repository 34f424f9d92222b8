package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"plcmesh/internal/domain"
)

// Helper verbs, named after pla-util commands
const (
	VerbDiscover     = "discover"
	VerbDiscoverList = "get-discover-list"
	VerbNetworkStats = "get-network-stats"
	VerbRestart      = "restart"
)

// exitUsage is the exit status helpers use for an unknown option
const exitUsage = 2

const (
	timeoutUnknown int32 = iota
	timeoutSupported
	timeoutUnsupported
)

// CommandConfig configures a CommandBackend
type CommandConfig struct {
	// Command is the helper and its fixed leading arguments
	Command []string
	// Interface is the network interface the adapters are attached to
	Interface string
}

// CommandBackend runs a JSON-emitting pla-util style helper through a Runner.
// The helper is invoked as
//
//	<command...> --interface IF [--pla MAC] [--timeout SECS] VERB
//
// and prints the reply as JSON on stdout.
type CommandBackend struct {
	runner  Runner
	command []string
	iface   string

	timeoutMode atomic.Int32
}

// NewCommandBackend creates a backend for the configured helper
func NewCommandBackend(runner Runner, cfg CommandConfig) (*CommandBackend, error) {
	if len(cfg.Command) == 0 {
		return nil, ErrNoCommand
	}
	if cfg.Interface == "" {
		return nil, ErrNoInterface
	}
	if runner == nil {
		runner = LocalRunner{}
	}

	return &CommandBackend{
		runner:  runner,
		command: append([]string(nil), cfg.Command...),
		iface:   cfg.Interface,
	}, nil
}

// Discover implements Backend
func (b *CommandBackend) Discover(ctx context.Context) ([]Discovery, error) {
	var reply []wireDiscovery
	if err := b.invoke(ctx, "", VerbDiscover, &reply); err != nil {
		return nil, err
	}
	return decodeDiscoveries(reply), nil
}

// DiscoverDetails implements Backend
func (b *CommandBackend) DiscoverDetails(ctx context.Context, target domain.AdapterID) (*DetailReport, error) {
	var reply wireDetailReport
	if err := b.invoke(ctx, target, VerbDiscoverList, &reply); err != nil {
		return nil, err
	}
	return decodeDetailReport(&reply), nil
}

// Stats implements Backend
func (b *CommandBackend) Stats(ctx context.Context, target domain.AdapterID) ([]PeerRate, error) {
	var reply []wirePeerRate
	if err := b.invoke(ctx, target, VerbNetworkStats, &reply); err != nil {
		return nil, err
	}
	return decodePeerRates(reply), nil
}

// Restart implements Backend
func (b *CommandBackend) Restart(ctx context.Context, target domain.AdapterID) error {
	return b.invoke(ctx, target, VerbRestart, nil)
}

// TimeoutSupported reports whether the helper has accepted --timeout.
// It is false until the first call has been made.
func (b *CommandBackend) TimeoutSupported() bool {
	return b.timeoutMode.Load() == timeoutSupported
}

func (b *CommandBackend) invoke(ctx context.Context, target domain.AdapterID, verb string, reply any) error {
	deadline, hasDeadline := ctx.Deadline()
	withTimeout := hasDeadline && b.timeoutMode.Load() != timeoutUnsupported

	out, err := b.run(ctx, target, verb, deadline, withTimeout)
	if withTimeout && err == ErrTimeoutUnsupported {
		// Older helpers have no timeout option; remember and call again without it
		b.timeoutMode.Store(timeoutUnsupported)
		out, err = b.run(ctx, target, verb, deadline, false)
	} else if withTimeout && err == nil {
		b.timeoutMode.CompareAndSwap(timeoutUnknown, timeoutSupported)
	}
	if err != nil {
		return err
	}

	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(out, reply); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedReply, verb, err)
	}
	return nil
}

func (b *CommandBackend) run(ctx context.Context, target domain.AdapterID, verb string, deadline time.Time, withTimeout bool) ([]byte, error) {
	argv := b.argv(target, verb, deadline, withTimeout)

	out, code, err := b.runner.Run(ctx, argv)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, verb, err)
	}

	switch {
	case code == 0:
		return out, nil
	case code == exitUsage && withTimeout:
		return nil, ErrTimeoutUnsupported
	default:
		return nil, fmt.Errorf("%w: %s exited with status %d", ErrUnavailable, verb, code)
	}
}

func (b *CommandBackend) argv(target domain.AdapterID, verb string, deadline time.Time, withTimeout bool) []string {
	argv := make([]string, 0, len(b.command)+7)
	argv = append(argv, b.command...)
	argv = append(argv, "--interface", b.iface)

	if target != "" {
		argv = append(argv, "--pla", target.String())
	}

	if withTimeout {
		secs := time.Until(deadline).Seconds()
		if secs < 0.1 {
			secs = 0.1
		}
		argv = append(argv, "--timeout", strconv.FormatFloat(secs, 'f', 1, 64))
	}

	return append(argv, verb)
}
