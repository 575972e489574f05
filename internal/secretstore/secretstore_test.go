package secretstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/gofercrypto"
	"github.com/clintjedwards/gofer-sub002/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := sqlite.Open(filepath.Join(t.TempDir(), "secretstore-test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	key := gofercrypto.DeriveMasterKey("test-passphrase", "test-salt")
	s, err := New(backend, key)
	require.NoError(t, err)
	return s
}

func TestSecretRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSecret(ctx, "team-a", "pipeline-1", "api_key", []byte("super-secret")))

	got, err := s.GetSecret(ctx, "team-a", "pipeline-1", "api_key")
	require.NoError(t, err)
	require.Equal(t, []byte("super-secret"), got)
}

func TestSecretListAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSecret(ctx, "team-a", "pipeline-1", "a", []byte("1")))
	require.NoError(t, s.PutSecret(ctx, "team-a", "pipeline-1", "b", []byte("2")))

	keys, err := s.ListSecretKeys(ctx, "team-a", "pipeline-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, s.DeleteSecret(ctx, "team-a", "pipeline-1", "a"))
	keys, err = s.ListSecretKeys(ctx, "team-a", "pipeline-1")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, keys)
}

func TestSecretScopesDoNotLeak(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSecret(ctx, "team-a", "pipeline-1", "shared_key", []byte("value-a")))
	require.NoError(t, s.PutSecret(ctx, "team-b", "pipeline-1", "shared_key", []byte("value-b")))

	gotA, err := s.GetSecret(ctx, "team-a", "pipeline-1", "shared_key")
	require.NoError(t, err)
	require.Equal(t, []byte("value-a"), gotA)

	gotB, err := s.GetSecret(ctx, "team-b", "pipeline-1", "shared_key")
	require.NoError(t, err)
	require.Equal(t, []byte("value-b"), gotB)
}
