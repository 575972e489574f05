package objectstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend, err := sqlite.Open(filepath.Join(t.TempDir(), "objectstore-test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return New(backend)
}

func TestPipelineObjectRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutPipelineObject(ctx, "team-a", "pipeline-1", "artifact", []byte("bytes")))
	got, err := s.GetPipelineObject(ctx, "team-a", "pipeline-1", "artifact")
	require.NoError(t, err)
	require.Equal(t, []byte("bytes"), got)
}

func TestRunObjectScopesDoNotCollideOnNumericPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRunObject(ctx, "team-a", "pipeline-1", 1, "k", []byte("run-1")))
	require.NoError(t, s.PutRunObject(ctx, "team-a", "pipeline-1", 10, "k", []byte("run-10")))

	got1, err := s.GetRunObject(ctx, "team-a", "pipeline-1", 1, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("run-1"), got1)

	got10, err := s.GetRunObject(ctx, "team-a", "pipeline-1", 10, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("run-10"), got10)

	keys, err := s.ListRunObjectKeys(ctx, "team-a", "pipeline-1", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"k"}, keys)
}

func TestExpireRunObjectsDeletesOnlyThatRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRunObject(ctx, "team-a", "pipeline-1", 1, "k1", []byte("a")))
	require.NoError(t, s.PutRunObject(ctx, "team-a", "pipeline-1", 1, "k2", []byte("b")))
	require.NoError(t, s.PutRunObject(ctx, "team-a", "pipeline-1", 2, "k1", []byte("c")))

	require.NoError(t, s.ExpireRunObjects(ctx, "team-a", "pipeline-1", 1))

	keys, err := s.ListRunObjectKeys(ctx, "team-a", "pipeline-1", 1)
	require.NoError(t, err)
	require.Empty(t, keys)

	keys, err = s.ListRunObjectKeys(ctx, "team-a", "pipeline-1", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, keys)
}

func TestEvictOldestInScopeEnforcesDepth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sc := pipelineScope("team-a", "pipeline-1")

	require.NoError(t, s.PutPipelineObject(ctx, "team-a", "pipeline-1", "k1", []byte("1")))
	require.NoError(t, s.PutPipelineObject(ctx, "team-a", "pipeline-1", "k2", []byte("2")))
	require.NoError(t, s.PutPipelineObject(ctx, "team-a", "pipeline-1", "k3", []byte("3")))

	require.NoError(t, s.EvictOldestInScope(ctx, sc, 2))

	keys, err := s.ListPipelineObjectKeys(ctx, "team-a", "pipeline-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.ElementsMatch(t, []string{"k2", "k3"}, keys)
}
