package codec

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"plcmesh/internal/domain"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// ContentType returns the HTTP content type of exports
func (c *YAMLCodec) ContentType() string {
	return "application/x-yaml"
}

// Parse reads a topology from YAML
func (c *YAMLCodec) Parse(r io.Reader) (*domain.Topology, error) {
	var topo domain.Topology
	if err := yaml.NewDecoder(r).Decode(&topo); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if topo.Nodes == nil {
		topo.Nodes = []domain.TopologyNode{}
	}
	if topo.Edges == nil {
		topo.Edges = []domain.TopologyEdge{}
	}
	return &topo, nil
}

// Export writes the topology as YAML
func (c *YAMLCodec) Export(topo *domain.Topology, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(topo); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}
