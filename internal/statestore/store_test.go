package statestore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/meridianlabs/strategy-arena/internal/statestore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type snapshot struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := statestore.NewStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	in := snapshot{Name: "arena", Count: 3}
	require.NoError(t, store.Save("arena_state", in))

	var out snapshot
	found, err := store.Load("arena_state", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in, out)
}

func TestLoadMissingIsFreshStart(t *testing.T) {
	store, err := statestore.NewStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	var out snapshot
	found, err := store.Load("never_written", &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestLoadCorruptIsFreshStart(t *testing.T) {
	dir := t.TempDir()
	store, err := statestore.NewStore(zap.NewNop(), dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.json"), []byte("{not json"), 0o644))

	var out snapshot
	found, err := store.Load("ledger", &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := statestore.NewStore(zap.NewNop(), dir)
	require.NoError(t, err)

	require.NoError(t, store.Save("arena_state", snapshot{Name: "a"}))
	require.NoError(t, store.Save("arena_state", snapshot{Name: "b"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "arena_state.json", entries[0].Name())

	var out snapshot
	found, err := store.Load("arena_state", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "b", out.Name)
}
