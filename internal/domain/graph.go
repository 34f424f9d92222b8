package domain

import (
	"fmt"
	"sort"
)

// Topology is the derived node/edge view of the mesh used for export
type Topology struct {
	Nodes []TopologyNode `json:"nodes" yaml:"nodes"`
	Edges []TopologyEdge `json:"edges" yaml:"edges"`
}

// TopologyNode represents one adapter
type TopologyNode struct {
	ID     string `json:"id" yaml:"id"`
	Label  string `json:"label" yaml:"label"`
	Online bool   `json:"online" yaml:"online"`
	HFID   string `json:"hfid,omitempty" yaml:"hfid,omitempty"`
	Title  string `json:"title" yaml:"title"` // Tooltip content
}

// TopologyEdge represents one directed mesh link
type TopologyEdge struct {
	ID       string `json:"id" yaml:"id"`
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	Label    string `json:"label" yaml:"label"` // "100/50 Mbit/s"
	TxRate   int    `json:"tx_rate" yaml:"tx_rate"`
	RxRate   int    `json:"rx_rate" yaml:"rx_rate"`
	LastSeen string `json:"last_seen" yaml:"last_seen"`
}

// DeriveTopology converts adapter records and links into a Topology.
// Links whose endpoints have no record still produce edges; the missing
// endpoints are added as nodes so the graph stays closed.
func DeriveTopology(records []AdapterRecord, links []MeshLink) *Topology {
	topo := &Topology{
		Nodes: make([]TopologyNode, 0, len(records)),
		Edges: make([]TopologyEdge, 0, len(links)),
	}

	seen := make(map[AdapterID]bool, len(records))
	for _, rec := range records {
		seen[rec.ID] = true
		topo.Nodes = append(topo.Nodes, TopologyNode{
			ID:     rec.ID.String(),
			Label:  rec.Name,
			Online: rec.Online,
			HFID:   rec.HFID,
			Title:  buildTooltip(rec),
		})
	}

	for _, link := range links {
		for _, id := range []AdapterID{link.Source, link.Target} {
			if !seen[id] {
				seen[id] = true
				topo.Nodes = append(topo.Nodes, TopologyNode{
					ID:    id.String(),
					Label: id.String(),
					Title: id.String(),
				})
			}
		}

		topo.Edges = append(topo.Edges, TopologyEdge{
			ID:       link.Key().String(),
			From:     link.Source.String(),
			To:       link.Target.String(),
			Label:    rateLabel(link.TxRate, link.RxRate),
			TxRate:   link.TxRate,
			RxRate:   link.RxRate,
			LastSeen: link.LastSeen.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	sort.Slice(topo.Nodes, func(i, j int) bool { return topo.Nodes[i].ID < topo.Nodes[j].ID })
	sort.Slice(topo.Edges, func(i, j int) bool { return topo.Edges[i].ID < topo.Edges[j].ID })

	return topo
}

func buildTooltip(rec AdapterRecord) string {
	tooltip := fmt.Sprintf("%s\n%s", rec.Name, rec.ID)
	if rec.HFID != "" {
		tooltip += "\n" + rec.HFID
	}
	if rec.Detail != nil {
		tooltip += fmt.Sprintf("\nTEI %d, signal %s", rec.Detail.TEI, rec.Detail.SignalLevel)
	}
	return tooltip
}

func rateLabel(tx, rx int) string {
	return fmt.Sprintf("%d/%d Mbit/s", tx, rx)
}
