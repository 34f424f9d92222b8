package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"plcmesh/internal/repository"
)

// IdentityStore keeps the identity map in the identity: section of the
// config file. Saving edits only that section of the YAML document, so
// comments and the rest of the file stay as the operator wrote them.
type IdentityStore struct {
	mu   sync.Mutex
	path string
	seed *Config
}

// IdentityStoreOption configures an IdentityStore
type IdentityStoreOption func(*IdentityStore)

// WithSeedConfig sets the configuration written when the first save finds
// no file at the store's path. Without it DefaultConfig is written.
func WithSeedConfig(cfg *Config) IdentityStoreOption {
	return func(s *IdentityStore) { s.seed = cfg }
}

// NewIdentityStore returns a store for the config file at path
func NewIdentityStore(path string, opts ...IdentityStoreOption) *IdentityStore {
	s := &IdentityStore{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the config file the store writes to
func (s *IdentityStore) Path() string {
	return s.path
}

// LoadIdentities implements repository.IdentityStore. A missing file is an
// empty map.
func (s *IdentityStore) LoadIdentities(ctx context.Context) (repository.IdentityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, _, err := LoadFromPath(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return repository.IdentityState{Indices: map[string]int{}}, nil
	}
	if err != nil {
		return repository.IdentityState{}, err
	}

	state := repository.IdentityState{
		Indices:   make(map[string]int, len(cfg.Identity.IndexMap)),
		LastIndex: cfg.Identity.LastIndex,
	}
	for mac, idx := range cfg.Identity.IndexMap {
		state.Indices[mac] = idx
	}
	return state, nil
}

// SaveIdentities implements repository.IdentityStore
func (s *IdentityStore) SaveIdentities(ctx context.Context, state repository.IdentityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.create(state)
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := setIdentitySection(&doc, state); err != nil {
		return err
	}

	var out bytes.Buffer
	enc := yaml.NewEncoder(&out)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFileAtomic(s.path, out.Bytes())
}

// create writes the seed config with the identity map filled in
func (s *IdentityStore) create(state repository.IdentityState) error {
	cfg := DefaultConfig()
	if s.seed != nil {
		seed := *s.seed
		cfg = &seed
	}

	cfg.Identity.IndexMap = make(map[string]int, len(state.Indices))
	for mac, idx := range state.Indices {
		cfg.Identity.IndexMap[mac] = idx
	}
	cfg.Identity.LastIndex = state.LastIndex

	return cfg.Save(s.path)
}

// setIdentitySection replaces identity.index_map and identity.last_index in
// a parsed config document, adding the section when it is missing
func setIdentitySection(doc *yaml.Node, state repository.IdentityState) error {
	if doc.Kind == 0 {
		// empty file
		doc.Kind = yaml.DocumentNode
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%w: config root is not a mapping", ErrInvalidConfig)
	}
	root := doc.Content[0]

	section := mappingValue(root, "identity")
	switch {
	case section == nil:
		section = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setMappingValue(root, "identity", section)
	case section.Kind == yaml.ScalarNode && section.Tag == "!!null":
		*section = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	case section.Kind != yaml.MappingNode:
		return fmt.Errorf("%w: identity is not a mapping", ErrInvalidConfig)
	}

	var indices, last yaml.Node
	if err := indices.Encode(state.Indices); err != nil {
		return fmt.Errorf("encode index map: %w", err)
	}
	if err := last.Encode(state.LastIndex); err != nil {
		return fmt.Errorf("encode last index: %w", err)
	}
	setMappingValue(section, "index_map", &indices)
	setMappingValue(section, "last_index", &last)
	return nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}
