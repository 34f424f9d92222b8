package backend

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"plcmesh/internal/domain"
)

// fixtureFile is the on-disk layout of a fixture
type fixtureFile struct {
	Discover    []wireDiscovery             `yaml:"discover"`
	Details     map[string]wireDetailReport `yaml:"details"`
	Stats       map[string][]wirePeerRate   `yaml:"stats"`
	Unreachable []string                    `yaml:"unreachable"`
}

// FixtureBackend answers from canned data. It backs dry runs and tests;
// adapters listed as unreachable fail every addressed request.
type FixtureBackend struct {
	mu          sync.RWMutex
	discover    []Discovery
	discoverErr error
	details     map[domain.AdapterID]*DetailReport
	stats       map[domain.AdapterID][]PeerRate
	unreachable map[domain.AdapterID]bool
	restarts    []domain.AdapterID
}

// NewFixtureBackend creates an empty fixture
func NewFixtureBackend() *FixtureBackend {
	return &FixtureBackend{
		details:     make(map[domain.AdapterID]*DetailReport),
		stats:       make(map[domain.AdapterID][]PeerRate),
		unreachable: make(map[domain.AdapterID]bool),
	}
}

// LoadFixture reads a fixture from a YAML file. A topology saved from
// /api/export is accepted too and replayed through FixtureFromTopology,
// with iface as the interface its adapters are discovered on.
func LoadFixture(path, iface string) (*FixtureBackend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	if isTopologyExport(data) {
		topo, err := importTopology(path, data)
		if err != nil {
			return nil, err
		}
		return FixtureFromTopology(topo, iface)
	}
	return ParseFixture(data)
}

// ParseFixture decodes fixture YAML
func ParseFixture(data []byte) (*FixtureBackend, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	f := NewFixtureBackend()
	f.discover = decodeDiscoveries(file.Discover)

	for raw, report := range file.Details {
		mac, err := domain.ParseAdapterID(raw)
		if err != nil {
			return nil, fmt.Errorf("fixture details key %q: %w", raw, err)
		}
		report := report
		f.details[mac] = decodeDetailReport(&report)
	}
	for raw, rates := range file.Stats {
		mac, err := domain.ParseAdapterID(raw)
		if err != nil {
			return nil, fmt.Errorf("fixture stats key %q: %w", raw, err)
		}
		f.stats[mac] = decodePeerRates(rates)
	}
	for _, raw := range file.Unreachable {
		mac, err := domain.ParseAdapterID(raw)
		if err != nil {
			return nil, fmt.Errorf("fixture unreachable entry %q: %w", raw, err)
		}
		f.unreachable[mac] = true
	}

	return f, nil
}

// SetDiscover replaces the discover reply. A non-nil err makes Discover fail.
func (f *FixtureBackend) SetDiscover(found []Discovery, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discover = append([]Discovery(nil), found...)
	f.discoverErr = err
}

// SetDetails replaces the discover list reported by mac
func (f *FixtureBackend) SetDetails(mac domain.AdapterID, report *DetailReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[mac] = report
}

// SetStats replaces the rates reported by mac
func (f *FixtureBackend) SetStats(mac domain.AdapterID, rates []PeerRate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[mac] = append([]PeerRate(nil), rates...)
}

// SetUnreachable marks mac as failing (or no longer failing) addressed requests
func (f *FixtureBackend) SetUnreachable(mac domain.AdapterID, unreachable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if unreachable {
		f.unreachable[mac] = true
	} else {
		delete(f.unreachable, mac)
	}
}

// Restarts returns the adapters restarted so far, in order
func (f *FixtureBackend) Restarts() []domain.AdapterID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]domain.AdapterID(nil), f.restarts...)
}

// Discover implements Backend
func (f *FixtureBackend) Discover(ctx context.Context) ([]Discovery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return append([]Discovery(nil), f.discover...), nil
}

// DiscoverDetails implements Backend
func (f *FixtureBackend) DiscoverDetails(ctx context.Context, target domain.AdapterID) (*DetailReport, error) {
	if err := f.reachable(ctx, target); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	report, ok := f.details[target]
	if !ok || report == nil {
		return &DetailReport{}, nil
	}
	return &DetailReport{Stations: append([]Station(nil), report.Stations...)}, nil
}

// Stats implements Backend
func (f *FixtureBackend) Stats(ctx context.Context, target domain.AdapterID) ([]PeerRate, error) {
	if err := f.reachable(ctx, target); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]PeerRate(nil), f.stats[target]...), nil
}

// Restart implements Backend
func (f *FixtureBackend) Restart(ctx context.Context, target domain.AdapterID) error {
	if err := f.reachable(ctx, target); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, target)
	return nil
}

func (f *FixtureBackend) reachable(ctx context.Context, target domain.AdapterID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.unreachable[target] {
		return fmt.Errorf("%w: %s does not answer", ErrUnavailable, target)
	}
	return nil
}
