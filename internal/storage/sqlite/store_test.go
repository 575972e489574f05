package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "gofer-test.db")
	s, err := Open(dbPath, 4)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNamespaceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ns := models.NewNamespace("team-a", "Team A", "first team")
	require.NoError(t, s.InsertNamespace(ctx, ns))

	got, err := s.GetNamespace(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, ns.ID, got.ID)
	assert.Equal(t, ns.Name, got.Name)

	err = s.InsertNamespace(ctx, ns)
	assert.True(t, gofererr.IsExists(err))
}

func TestNamespaceUpdateNoFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertNamespace(ctx, models.NewNamespace("ns1", "NS1", "")))

	err := s.UpdateNamespace(ctx, "ns1", storage.UpdatableNamespaceFields{})
	assert.True(t, gofererr.IsNoFieldsUpdated(err))

	newName := "Renamed"
	require.NoError(t, s.UpdateNamespace(ctx, "ns1", storage.UpdatableNamespaceFields{Name: &newName}))
	got, err := s.GetNamespace(ctx, "ns1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
}

func TestPipelineConfigLiveInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertNamespace(ctx, models.NewNamespace("ns1", "NS1", "")))
	require.NoError(t, s.InsertPipelineMetadata(ctx, models.NewPipelineMetadata("ns1", "p1")))

	v1 := models.NewPipelineConfig("ns1", "p1", 1, "v1", "", 0, nil)
	v1.State = models.PipelineConfigStateLive
	require.NoError(t, s.InsertPipelineConfig(ctx, v1))

	v2 := models.NewPipelineConfig("ns1", "p1", 2, "v2", "", 0, nil)
	v2.State = models.PipelineConfigStateUnknown
	require.NoError(t, s.InsertPipelineConfig(ctx, v2))

	require.NoError(t, s.SwapLivePipelineConfig(ctx, "ns1", "p1", 1, 2))

	live, err := s.GetLivePipelineConfig(ctx, "ns1", "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, live.Version)

	old, err := s.GetPipelineConfig(ctx, "ns1", "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineConfigStateDeprecated, old.State)
}

func TestRunIDAllocationIsContiguous(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertNamespace(ctx, models.NewNamespace("ns1", "NS1", "")))
	require.NoError(t, s.InsertPipelineMetadata(ctx, models.NewPipelineMetadata("ns1", "p1")))

	for i := 0; i < 5; i++ {
		r, err := s.AllocateAndInsertRun(ctx, "ns1", "p1", func(nextID int64) *models.Run {
			return models.NewRun("ns1", "p1", nextID, 1, models.Initiator{Type: models.InitiatorTypeHuman, Name: "me"}, nil)
		})
		require.NoError(t, err)
		assert.EqualValues(t, i+1, r.RunID)
	}

	runs, err := s.ListRuns(ctx, "ns1", "p1", storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, runs, 5)
}

func TestEventOrderingAndRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := models.NowMilli()
	old := &models.Event{ID: "01aaaaaaaaaaaaaaaaaaaaaaaa", Kind: models.EventKindQueuedRun, Payload: map[string]any{}, Emitted: now - 120_000}
	mid := &models.Event{ID: "01bbbbbbbbbbbbbbbbbbbbbbbb", Kind: models.EventKindQueuedRun, Payload: map[string]any{}, Emitted: now - 30_000}
	recent := &models.Event{ID: "01cccccccccccccccccccccccc", Kind: models.EventKindQueuedRun, Payload: map[string]any{}, Emitted: now - 1_000}

	for _, e := range []*models.Event{old, mid, recent} {
		require.NoError(t, s.InsertEvent(ctx, e))
	}

	events, err := s.ListEventsFrom(ctx, "", 50)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, old.ID, events[0].ID)
	assert.Equal(t, recent.ID, events[2].ID)

	deleted, err := s.DeletePrunableEvents(ctx, now-60_000, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	remaining, err := s.ListEventsFrom(ctx, "", 50)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestSecretAndObjectStoreScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSecret(ctx, "ns1/p1", "db-password", []byte("v1:ciphertext")))
	got, err := s.GetSecret(ctx, "ns1/p1", "db-password")
	require.NoError(t, err)
	assert.Equal(t, "v1:ciphertext", string(got))

	keys, err := s.ListSecretKeys(ctx, "ns1/p1")
	require.NoError(t, err)
	assert.Contains(t, keys, "db-password")

	require.NoError(t, s.PutObject(ctx, "ns1/p1/run/1", "artifact.txt", []byte("hello")))
	count, err := s.CountObjects(ctx, "ns1/p1/run/")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
