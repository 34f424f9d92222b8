package backend

import (
	"context"

	"plcmesh/internal/domain"
)

// Discovery is one adapter answering a discover request
type Discovery struct {
	MAC       domain.AdapterID `json:"mac"`
	Interface string           `json:"interface"`
	HFID      string           `json:"hfid"`
}

// Station is one entry of an adapter's discover list
type Station struct {
	MAC domain.AdapterID `json:"mac"`
	domain.StationDetail
}

// DetailReport is an adapter's discover list: the stations it can see
type DetailReport struct {
	Stations []Station `json:"stations"`
}

// PeerRate is one peer observation in a network stats reply
type PeerRate struct {
	MAC      domain.AdapterID `json:"mac"`
	ToRate   int              `json:"to_rate"`
	FromRate int              `json:"from_rate"`
}

// Backend is the query mechanism for one powerline interface.
//
// The timeout of a call is the deadline of its context. Target selects the
// adapter the request is addressed to.
type Backend interface {
	// Discover lists the adapters answering on the interface
	Discover(ctx context.Context) ([]Discovery, error)

	// DiscoverDetails returns the discover list of the target adapter
	DiscoverDetails(ctx context.Context, target domain.AdapterID) (*DetailReport, error)

	// Stats returns the target adapter's rates to each of its peers
	Stats(ctx context.Context, target domain.AdapterID) ([]PeerRate, error)

	// Restart asks the target adapter to reboot
	Restart(ctx context.Context, target domain.AdapterID) error
}

// LegacyBackend is the older call surface without contexts or timeouts
type LegacyBackend interface {
	Discover() ([]Discovery, error)
	DiscoverDetails(target domain.AdapterID) (*DetailReport, error)
	Stats(target domain.AdapterID) ([]PeerRate, error)
	Restart(target domain.AdapterID) error
}

// Adapt returns a Backend for a legacy implementation. The wrapped calls
// cannot be interrupted. When one outlives its deadline the scheduler
// abandons it and releases the gate, but the legacy call keeps running and
// may overlap the next gated call. Scheduler.Abandoned reports how many are
// still running. Legacy implementations that are not safe for concurrent
// use must serialize their own calls.
func Adapt(legacy LegacyBackend) Backend {
	return &legacyAdapter{legacy: legacy}
}

type legacyAdapter struct {
	legacy LegacyBackend
}

func (a *legacyAdapter) Discover(ctx context.Context) ([]Discovery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.legacy.Discover()
}

func (a *legacyAdapter) DiscoverDetails(ctx context.Context, target domain.AdapterID) (*DetailReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.legacy.DiscoverDetails(target)
}

func (a *legacyAdapter) Stats(ctx context.Context, target domain.AdapterID) ([]PeerRate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.legacy.Stats(target)
}

func (a *legacyAdapter) Restart(ctx context.Context, target domain.AdapterID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.legacy.Restart(target)
}
