package repository

import (
	"context"
	"maps"
)

// IdentityState is the persisted form of the identity map. Keys are stored
// as written; the registry lowercases them on load.
type IdentityState struct {
	Indices   map[string]int `json:"index_map" yaml:"index_map"`
	LastIndex int            `json:"last_index" yaml:"last_index"`
}

// Clone returns a deep copy
func (s IdentityState) Clone() IdentityState {
	out := IdentityState{LastIndex: s.LastIndex, Indices: make(map[string]int, len(s.Indices))}
	maps.Copy(out.Indices, s.Indices)
	return out
}

// Equal reports whether both states would persist identically
func (s IdentityState) Equal(other IdentityState) bool {
	return s.LastIndex == other.LastIndex && maps.Equal(s.Indices, other.Indices)
}

// IdentityStore loads and saves the identity map
type IdentityStore interface {
	// LoadIdentities returns the persisted state, or an empty state when
	// nothing has been saved yet
	LoadIdentities(ctx context.Context) (IdentityState, error)

	// SaveIdentities replaces the persisted state
	SaveIdentities(ctx context.Context, state IdentityState) error
}
