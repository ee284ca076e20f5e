package testhelpers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myrjola/amlnarrator/internal/storage"
)

// NewStore creates a directory store in a temporary directory holding files keyed by slash separated path.
func NewStore(t testing.TB, files map[string][]byte) *storage.DirStore {
	t.Helper()
	store, err := storage.NewDirStore(t.TempDir())
	require.NoError(t, err)
	for p, data := range files {
		require.NoError(t, store.Write(context.Background(), p, data))
	}
	return store
}
