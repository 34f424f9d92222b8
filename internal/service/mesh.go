package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"plcmesh/internal/backend"
	"plcmesh/internal/domain"
	"plcmesh/internal/scheduler"
)

// AdapterSource is the view of the presence tracker the aggregator needs
type AdapterSource interface {
	Online() []domain.AdapterID
	IsKnown(id domain.AdapterID) bool
}

// MeshMetrics receives link rates
type MeshMetrics interface {
	SetLinkRate(source, target string, tx, rx int)
}

// StationReport is the latest discover list received from one adapter
type StationReport struct {
	Reporter   domain.AdapterID  `json:"reporter"`
	ReceivedAt time.Time         `json:"received_at"`
	Stations   []backend.Station `json:"stations"`
}

// MeshResult describes one stats cycle
type MeshResult struct {
	Polled         []domain.AdapterID `json:"polled"`
	StatsFailed    []domain.AdapterID `json:"stats_failed,omitempty"`
	DetailsFailed  []domain.AdapterID `json:"details_failed,omitempty"`
	LinksUpdated   int                `json:"links_updated"`
	DetailsUpdated []domain.AdapterID `json:"details_updated,omitempty"`
}

// MeshAggregator polls every online adapter for its peer rates and discover
// list. Links are created on first report and refreshed afterwards; they are
// never removed, so a link nobody reports keeps its last rates and LastSeen.
type MeshAggregator struct {
	backend  backend.Backend
	sched    *scheduler.Scheduler
	source   AdapterSource
	notifier *DetailNotifier
	bus      *EventBus
	metrics  MeshMetrics
	clock    Clock
	logger   zerolog.Logger
	workers  int

	cycle sync.Mutex

	mu      sync.RWMutex
	links   map[domain.LinkKey]domain.MeshLink
	reports map[domain.AdapterID]StationReport
}

// MeshOption configures a MeshAggregator
type MeshOption func(*MeshAggregator)

// WithMeshEvents publishes links_updated and details_updated to bus
func WithMeshEvents(bus *EventBus) MeshOption {
	return func(m *MeshAggregator) { m.bus = bus }
}

// WithMeshMetrics reports link rates to mm
func WithMeshMetrics(mm MeshMetrics) MeshOption {
	return func(m *MeshAggregator) { m.metrics = mm }
}

// WithMeshClock overrides the clock used for LastSeen
func WithMeshClock(c Clock) MeshOption {
	return func(m *MeshAggregator) { m.clock = c }
}

// WithMeshLogger sets the aggregator logger
func WithMeshLogger(l zerolog.Logger) MeshOption {
	return func(m *MeshAggregator) { m.logger = l }
}

// WithMeshWorkers bounds how many adapters are submitted to the scheduler
// at once
func WithMeshWorkers(n int) MeshOption {
	return func(m *MeshAggregator) {
		if n > 0 {
			m.workers = n
		}
	}
}

// NewMeshAggregator creates an aggregator polling the adapters source
// reports online
func NewMeshAggregator(b backend.Backend, sched *scheduler.Scheduler, source AdapterSource, opts ...MeshOption) *MeshAggregator {
	m := &MeshAggregator{
		backend:  b,
		sched:    sched,
		source:   source,
		notifier: NewDetailNotifier(),
		clock:    realClock{},
		logger:   zerolog.Nop(),
		workers:  4,
		links:    make(map[domain.LinkKey]domain.MeshLink),
		reports:  make(map[domain.AdapterID]StationReport),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunCycle polls every online adapter. A failing adapter only loses its own
// refresh; the rest of the cycle continues.
func (m *MeshAggregator) RunCycle(ctx context.Context) MeshResult {
	m.cycle.Lock()
	defer m.cycle.Unlock()

	ids := m.source.Online()
	res := MeshResult{Polled: ids}
	var resMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(m.workers)
	for _, id := range ids {
		g.Go(func() error {
			out := m.pollAdapter(ctx, id)

			resMu.Lock()
			defer resMu.Unlock()
			if !out.statsOK {
				res.StatsFailed = append(res.StatsFailed, id)
			}
			if !out.detailsOK {
				res.DetailsFailed = append(res.DetailsFailed, id)
			}
			res.LinksUpdated += out.links
			res.DetailsUpdated = append(res.DetailsUpdated, out.refreshed...)
			return nil
		})
	}
	_ = g.Wait()

	sortIDs(res.StatsFailed)
	sortIDs(res.DetailsFailed)
	res.DetailsUpdated = dedupe(res.DetailsUpdated)

	if res.LinksUpdated > 0 {
		m.bus.Publish(Event{
			Type:    EventLinksUpdated,
			Payload: LinksPayload{Updated: res.LinksUpdated, Total: m.linkCount()},
		})
	}

	m.logger.Debug().
		Int("polled", len(res.Polled)).
		Int("stats_failed", len(res.StatsFailed)).
		Int("links_updated", res.LinksUpdated).
		Msg("Stats cycle complete")

	return res
}

type pollOutcome struct {
	statsOK   bool
	detailsOK bool
	links     int
	refreshed []domain.AdapterID
}

// pollAdapter makes the stats and discover list calls for one adapter. The
// two calls take the gate separately.
func (m *MeshAggregator) pollAdapter(ctx context.Context, id domain.AdapterID) pollOutcome {
	var out pollOutcome

	rates, err := scheduler.Execute(ctx, m.sched, "stats", func(ctx context.Context) ([]backend.PeerRate, error) {
		return m.backend.Stats(ctx, id)
	})
	if err != nil {
		m.logger.Debug().Err(err).Str("mac", id.String()).Msg("Stats unavailable, keeping previous links")
	} else {
		out.statsOK = true
		out.links = m.applyRates(id, rates, m.clock.Now())
	}

	if ctx.Err() != nil {
		return out
	}

	report, err := scheduler.Execute(ctx, m.sched, "discover_details", func(ctx context.Context) (*backend.DetailReport, error) {
		return m.backend.DiscoverDetails(ctx, id)
	})
	if err != nil || report == nil {
		m.logger.Debug().Err(err).Str("mac", id.String()).Msg("Discover list unavailable")
		return out
	}

	out.detailsOK = true
	out.refreshed = m.applyReport(id, report, m.clock.Now())
	return out
}

// applyRates records one adapter's peer rates. TxRate is what the reporter
// sends to the peer, RxRate what it receives from it.
func (m *MeshAggregator) applyRates(reporter domain.AdapterID, rates []backend.PeerRate, now time.Time) int {
	updated := make([]domain.MeshLink, 0, len(rates))

	m.mu.Lock()
	for _, r := range rates {
		if r.MAC == reporter || r.MAC == "" {
			continue
		}
		link := domain.MeshLink{
			Source:   reporter,
			Target:   r.MAC,
			TxRate:   r.ToRate,
			RxRate:   r.FromRate,
			LastSeen: now,
		}
		m.links[link.Key()] = link
		updated = append(updated, link)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		for _, l := range updated {
			m.metrics.SetLinkRate(l.Source.String(), l.Target.String(), l.TxRate, l.RxRate)
		}
	}
	return len(updated)
}

// applyReport stores a discover list and notifies listeners of every known
// adapter it mentions
func (m *MeshAggregator) applyReport(reporter domain.AdapterID, report *backend.DetailReport, now time.Time) []domain.AdapterID {
	stations := append([]backend.Station(nil), report.Stations...)

	m.mu.Lock()
	m.reports[reporter] = StationReport{Reporter: reporter, ReceivedAt: now, Stations: stations}
	m.mu.Unlock()

	var refreshed []domain.AdapterID
	for _, st := range stations {
		if m.source.IsKnown(st.MAC) {
			refreshed = append(refreshed, st.MAC)
		}
	}
	refreshed = dedupe(refreshed)

	for _, id := range refreshed {
		m.notifier.Notify(id)
	}
	if len(refreshed) > 0 {
		m.bus.Publish(Event{
			Type:    EventDetailsUpdated,
			Payload: DetailsPayload{Reporter: reporter, MACs: refreshed},
		})
	}
	return refreshed
}

// Subscribe registers fn for detail refreshes of id
func (m *MeshAggregator) Subscribe(id domain.AdapterID, fn DetailListener) (unsubscribe func()) {
	return m.notifier.Subscribe(id, fn)
}

// Links returns every link, ordered by source then target
func (m *MeshAggregator) Links() []domain.MeshLink {
	m.mu.RLock()
	out := make([]domain.MeshLink, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// Link returns the link from source to target
func (m *MeshAggregator) Link(source, target domain.AdapterID) (domain.MeshLink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[domain.LinkKey{Source: source, Target: target}]
	return l, ok
}

// LinksFrom returns the links reported by source
func (m *MeshAggregator) LinksFrom(source domain.AdapterID) []domain.MeshLink {
	var out []domain.MeshLink
	for _, l := range m.Links() {
		if l.Source == source {
			out = append(out, l)
		}
	}
	return out
}

// Detail assembles the detail record of id from the discover lists of all
// adapters, since an adapter does not reliably describe itself. The newest
// report mentioning id wins; equal times fall back to the lowest reporter
// MAC. The reporter is returned alongside.
func (m *MeshAggregator) Detail(id domain.AdapterID) (domain.StationDetail, domain.AdapterID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best     domain.StationDetail
		reporter domain.AdapterID
		at       time.Time
		found    bool
	)
	for _, rep := range m.reports {
		for _, st := range rep.Stations {
			if st.MAC != id {
				continue
			}
			newer := rep.ReceivedAt.After(at)
			tie := rep.ReceivedAt.Equal(at) && rep.Reporter < reporter
			if !found || newer || tie {
				best, reporter, at, found = st.StationDetail, rep.Reporter, rep.ReceivedAt, true
			}
			break
		}
	}
	return best, reporter, found
}

// Reports returns the latest discover list of each adapter, ordered by reporter
func (m *MeshAggregator) Reports() []StationReport {
	m.mu.RLock()
	out := make([]StationReport, 0, len(m.reports))
	for _, r := range m.reports {
		r.Stations = append([]backend.Station(nil), r.Stations...)
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Reporter < out[j].Reporter })
	return out
}

func (m *MeshAggregator) linkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.links)
}

func dedupe(ids []domain.AdapterID) []domain.AdapterID {
	if len(ids) == 0 {
		return ids
	}
	seen := make(map[domain.AdapterID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}
