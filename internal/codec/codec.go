// Package codec converts the mesh topology to and from interchange formats.
// Exports are served by the API; imports feed the fixture backend's replay
// of a saved topology.
package codec

import (
	"fmt"
	"io"

	"plcmesh/internal/domain"
)

// Exporter writes a topology in one format
type Exporter interface {
	Export(topo *domain.Topology, w io.Writer) error
	Format() string
	ContentType() string
}

// Importer reads a topology previously written by the matching Exporter
type Importer interface {
	Parse(r io.Reader) (*domain.Topology, error)
	Format() string
}

// Codec is both directions of one format
type Codec interface {
	Exporter
	Importer
}

// ForFormat returns the codec registered for format
func ForFormat(format string) (Codec, error) {
	switch format {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
