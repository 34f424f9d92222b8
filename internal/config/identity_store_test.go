package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcmesh/internal/repository"
)

func TestIdentityStore_MissingFile(t *testing.T) {
	store := NewIdentityStore(filepath.Join(t.TempDir(), "plcmesh.yaml"))

	state, err := store.LoadIdentities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Indices)
	assert.Zero(t, state.LastIndex)
}

func TestIdentityStore_SavePreservesOtherSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plcmesh.yaml")
	cfg := DefaultConfig()
	cfg.Interface = "eth2"
	require.NoError(t, cfg.Save(path))

	store := NewIdentityStore(path)
	ctx := context.Background()
	require.NoError(t, store.SaveIdentities(ctx, repository.IdentityState{
		Indices:   map[string]int{"aa:aa:aa:aa:aa:aa": 1, "bb:bb:bb:bb:bb:bb": 2},
		LastIndex: 2,
	}))

	loaded, _, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "eth2", loaded.Interface)
	assert.Equal(t, 2, loaded.Identity.IndexMap["bb:bb:bb:bb:bb:bb"])

	state, err := store.LoadIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"aa:aa:aa:aa:aa:aa": 1, "bb:bb:bb:bb:bb:bb": 2}, state.Indices)
	assert.Equal(t, 2, state.LastIndex)
}

func TestIdentityStore_KeepsKeysAsWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plcmesh.yaml")
	cfg := DefaultConfig()
	cfg.Identity.IndexMap = map[string]int{"AA:AA:AA:AA:AA:AA": 3}
	require.NoError(t, cfg.Save(path))

	state, err := NewIdentityStore(path).LoadIdentities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, state.Indices["AA:AA:AA:AA:AA:AA"])
}

func TestIdentityStore_SaveKeepsOperatorEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plcmesh.yaml")
	original := "# powerline side of the bridge\ninterface: eth1 # not br0\nscan_interval: 45s\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	store := NewIdentityStore(path)
	ctx := context.Background()
	require.NoError(t, store.SaveIdentities(ctx, repository.IdentityState{
		Indices:   map[string]int{"aa:aa:aa:aa:aa:aa": 1},
		LastIndex: 1,
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "# powerline side of the bridge")
	assert.Contains(t, out, "# not br0")
	assert.Contains(t, out, "scan_interval: 45s")
	assert.Contains(t, out, "last_index: 1")
	assert.NotContains(t, out, "retries:")
	assert.NotContains(t, out, "backend:")

	state, err := store.LoadIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"aa:aa:aa:aa:aa:aa": 1}, state.Indices)

	// A second save replaces the section rather than appending another
	require.NoError(t, store.SaveIdentities(ctx, repository.IdentityState{
		Indices:   map[string]int{"aa:aa:aa:aa:aa:aa": 1, "bb:bb:bb:bb:bb:bb": 2},
		LastIndex: 2,
	}))
	loaded, _, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "eth1", loaded.Interface)
	assert.Equal(t, 2, loaded.Identity.LastIndex)
	assert.Len(t, loaded.Identity.IndexMap, 2)
}

func TestIdentityStore_SaveKeepsStoreSetting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plcmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interface: eth1\nidentity:\n  store: config\n  index_map:\n    cc:cc:cc:cc:cc:cc: 4\n"), 0644))

	require.NoError(t, NewIdentityStore(path).SaveIdentities(context.Background(), repository.IdentityState{
		Indices:   map[string]int{"cc:cc:cc:cc:cc:cc": 4, "dd:dd:dd:dd:dd:dd": 5},
		LastIndex: 5,
	}))

	loaded, _, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, IdentityStoreConfig, loaded.Identity.Store)
	assert.Equal(t, map[string]int{"cc:cc:cc:cc:cc:cc": 4, "dd:dd:dd:dd:dd:dd": 5}, loaded.Identity.IndexMap)
	assert.Equal(t, 5, loaded.Identity.LastIndex)
}

func TestIdentityStore_CreatesFileFromSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "plcmesh.yaml")
	seed := DefaultConfig()
	seed.Interface = "plc0"

	store := NewIdentityStore(path, WithSeedConfig(seed))
	require.NoError(t, store.SaveIdentities(context.Background(), repository.IdentityState{
		Indices:   map[string]int{"aa:aa:aa:aa:aa:aa": 1},
		LastIndex: 1,
	}))

	loaded, _, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "plc0", loaded.Interface)
	assert.NoError(t, loaded.Validate())
	assert.Equal(t, 1, loaded.Identity.IndexMap["aa:aa:aa:aa:aa:aa"])

	// The seed itself is not modified
	assert.Empty(t, seed.Identity.IndexMap)
}

func TestIdentityStore_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plcmesh.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	require.NoError(t, NewIdentityStore(path).SaveIdentities(context.Background(), repository.IdentityState{
		Indices:   map[string]int{"aa:aa:aa:aa:aa:aa": 1},
		LastIndex: 1,
	}))

	loaded, _, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Identity.LastIndex)
}

func TestIdentityStore_RejectsNonMappingRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plcmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- eth1\n- eth2\n"), 0644))

	err := NewIdentityStore(path).SaveIdentities(context.Background(), repository.IdentityState{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
