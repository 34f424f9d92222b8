package backend

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"plcmesh/internal/codec"
	"plcmesh/internal/domain"
)

// FixtureFromTopology builds a fixture that replays an exported topology.
// Online nodes answer discovery on iface. Each edge becomes a stats entry
// of its source adapter, with tx as the rate to the peer and rx as the rate
// from it, and puts the target in the source's discover list. Offline nodes
// fail addressed requests.
func FixtureFromTopology(topo *domain.Topology, iface string) (*FixtureBackend, error) {
	f := NewFixtureBackend()

	for _, node := range topo.Nodes {
		mac, err := domain.ParseAdapterID(node.ID)
		if err != nil {
			return nil, fmt.Errorf("topology node %q: %w", node.ID, err)
		}
		if !node.Online {
			f.unreachable[mac] = true
			continue
		}
		f.discover = append(f.discover, Discovery{MAC: mac, Interface: iface, HFID: node.HFID})
	}

	for _, edge := range topo.Edges {
		from, err := domain.ParseAdapterID(edge.From)
		if err != nil {
			return nil, fmt.Errorf("topology edge %q: %w", edge.ID, err)
		}
		to, err := domain.ParseAdapterID(edge.To)
		if err != nil {
			return nil, fmt.Errorf("topology edge %q: %w", edge.ID, err)
		}

		f.stats[from] = append(f.stats[from], PeerRate{MAC: to, ToRate: edge.TxRate, FromRate: edge.RxRate})

		report := f.details[from]
		if report == nil {
			report = &DetailReport{}
			f.details[from] = report
		}
		report.Stations = append(report.Stations, Station{MAC: to})
	}

	return f, nil
}

// isTopologyExport reports whether data is an exported topology rather than
// the fixture layout. JSON exports parse as YAML too.
func isTopologyExport(data []byte) bool {
	var keys struct {
		Nodes    yaml.Node `yaml:"nodes"`
		Discover yaml.Node `yaml:"discover"`
	}
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return false
	}
	return keys.Nodes.Kind != 0 && keys.Discover.Kind == 0
}

// importTopology parses an exported topology with the codec matching the
// file extension, defaulting to YAML
func importTopology(path string, data []byte) (*domain.Topology, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	c, err := codec.ForFormat(format)
	if err != nil {
		c = codec.NewYAMLCodec()
	}

	topo, err := c.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse topology %s: %w", path, err)
	}
	return topo, nil
}
