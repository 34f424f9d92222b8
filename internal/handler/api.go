package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"plcmesh/internal/codec"
	"plcmesh/internal/config"
	"plcmesh/internal/domain"
	"plcmesh/internal/service"
)

// TopologyView is the read side of the mesh plus the restart action
type TopologyView interface {
	Interface() string
	Adapters() []domain.AdapterRecord
	Adapter(id domain.AdapterID) (domain.AdapterRecord, error)
	Links() []domain.MeshLink
	Identities() map[domain.AdapterID]int
	Graph() *domain.Topology
	Restart(ctx context.Context, id domain.AdapterID) error
}

// CycleTrigger requests out-of-schedule poll cycles
type CycleTrigger interface {
	Trigger(kind service.CycleKind) bool
}

// InterfaceLister lists the host's network interfaces
type InterfaceLister func(ctx context.Context) ([]config.InterfaceInfo, error)

// AdapterView is an adapter record with its display fields filled in
type AdapterView struct {
	domain.AdapterRecord
	TEI    string `json:"tei"`
	SNID   string `json:"snid"`
	Signal string `json:"signal"`
	CCo    string `json:"cco_flag"`
	PCo    string `json:"pco_flag"`
	BCCo   string `json:"bcco_flag"`
}

func newAdapterView(rec domain.AdapterRecord) AdapterView {
	cco, pco, bcco := rec.RoleFlags()
	return AdapterView{
		AdapterRecord: rec,
		TEI:           rec.TEIString(),
		SNID:          rec.SNIDString(),
		Signal:        rec.SignalString(),
		CCo:           cco,
		PCo:           pco,
		BCCo:          bcco,
	}
}

// IdentityView is one entry of the identity map
type IdentityView struct {
	MAC   domain.AdapterID `json:"mac"`
	Index int              `json:"index"`
	Name  string           `json:"name"`
}

// RefreshResponse reports which cycles were queued
type RefreshResponse struct {
	Presence bool `json:"presence"`
	Stats    bool `json:"stats"`
}

// APIHandler serves the plcmesh REST API
type APIHandler struct {
	topo       TopologyView
	trigger    CycleTrigger
	interfaces InterfaceLister
	logger     zerolog.Logger
}

// APIOption configures an APIHandler
type APIOption func(*APIHandler)

// WithCycleTrigger enables POST /api/refresh
func WithCycleTrigger(t CycleTrigger) APIOption {
	return func(h *APIHandler) { h.trigger = t }
}

// WithInterfaceLister replaces the interface listing used by /api/interfaces
func WithInterfaceLister(l InterfaceLister) APIOption {
	return func(h *APIHandler) { h.interfaces = l }
}

// WithLogger sets the handler logger
func WithLogger(l zerolog.Logger) APIOption {
	return func(h *APIHandler) { h.logger = l }
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(topo TopologyView, opts ...APIOption) *APIHandler {
	h := &APIHandler{
		topo:       topo,
		interfaces: config.AvailableInterfaces,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the API routes to mux
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/adapters", h.ListAdapters)
	mux.HandleFunc("GET /api/adapters/{mac}", h.GetAdapter)
	mux.HandleFunc("POST /api/adapters/{mac}/restart", h.RestartAdapter)
	mux.HandleFunc("GET /api/links", h.ListLinks)
	mux.HandleFunc("GET /api/identities", h.ListIdentities)
	mux.HandleFunc("GET /api/topology", h.GetTopology)
	mux.HandleFunc("GET /api/export/{format}", h.Export)
	mux.HandleFunc("POST /api/refresh", h.Refresh)
	mux.HandleFunc("GET /api/interfaces", h.ListInterfaces)
}

// ListAdapters returns every adapter
func (h *APIHandler) ListAdapters(w http.ResponseWriter, r *http.Request) {
	records := h.topo.Adapters()
	views := make([]AdapterView, 0, len(records))
	for _, rec := range records {
		views = append(views, newAdapterView(rec))
	}
	writeJSON(w, h.logger, views, http.StatusOK)
}

// GetAdapter returns a single adapter
func (h *APIHandler) GetAdapter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathMAC(w, r)
	if !ok {
		return
	}

	rec, err := h.topo.Adapter(id)
	if err != nil {
		h.writeServiceError(w, "Failed to get adapter", err)
		return
	}

	writeJSON(w, h.logger, newAdapterView(rec), http.StatusOK)
}

// RestartAdapter restarts a single adapter
func (h *APIHandler) RestartAdapter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathMAC(w, r)
	if !ok {
		return
	}

	if err := h.topo.Restart(r.Context(), id); err != nil {
		h.writeServiceError(w, "Failed to restart adapter", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ListLinks returns every directed mesh link
func (h *APIHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, h.topo.Links(), http.StatusOK)
}

// ListIdentities returns the identity map ordered by index
func (h *APIHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	ids := h.topo.Identities()
	views := make([]IdentityView, 0, len(ids))
	for mac, idx := range ids {
		views = append(views, IdentityView{MAC: mac, Index: idx, Name: domain.AdapterName(idx)})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Index < views[j].Index })
	writeJSON(w, h.logger, views, http.StatusOK)
}

// GetTopology returns the node/edge graph
func (h *APIHandler) GetTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, h.topo.Graph(), http.StatusOK)
}

// Export downloads the topology in the requested format
func (h *APIHandler) Export(w http.ResponseWriter, r *http.Request) {
	c, err := codec.ForFormat(r.PathValue("format"))
	if err != nil {
		writeError(w, h.logger, "Unsupported format", err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := c.Export(h.topo.Graph(), &buf); err != nil {
		h.logger.Error().Err(err).Str("format", c.Format()).Msg("Failed to export topology")
		writeError(w, h.logger, "Failed to export topology", err.Error(), http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("plcmesh-%s-%s.%s", h.topo.Interface(), time.Now().UTC().Format("20060102T150405Z"), c.Format())
	w.Header().Set("Content-Type", c.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Debug().Err(err).Msg("Export write aborted")
	}
}

// Refresh queues an immediate presence cycle and stats cycle
func (h *APIHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, h.logger, "Refresh unavailable", "poller not running", http.StatusServiceUnavailable)
		return
	}

	resp := RefreshResponse{
		Presence: h.trigger.Trigger(service.CyclePresence),
		Stats:    h.trigger.Trigger(service.CycleStats),
	}
	writeJSON(w, h.logger, resp, http.StatusAccepted)
}

// ListInterfaces returns the host's candidate interfaces
func (h *APIHandler) ListInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := h.interfaces(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list interfaces")
		writeError(w, h.logger, "Failed to list interfaces", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, ifaces, http.StatusOK)
}

func (h *APIHandler) pathMAC(w http.ResponseWriter, r *http.Request) (domain.AdapterID, bool) {
	id, err := domain.ParseAdapterID(r.PathValue("mac"))
	if err != nil {
		writeError(w, h.logger, "Invalid MAC address", err.Error(), http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *APIHandler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownAdapter):
		writeError(w, h.logger, "Not found", err.Error(), http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		h.logger.Error().Err(err).Msg(msg)
		writeError(w, h.logger, msg, err.Error(), http.StatusBadGateway)
	}
}

