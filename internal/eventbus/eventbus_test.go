package eventbus

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage/sqlite"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "eventbus-test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := New(store, logger.NewDefault("eventbus-test"), time.Hour, time.Hour)
	t.Cleanup(b.Close)
	return b
}

func TestPublishRejectsAnyKind(t *testing.T) {
	b := newTestBus(t)
	require.Nil(t, b.Publish(models.EventKindAny, nil))
}

func TestTryPublishOrderingAndDelivery(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	listener := b.SubscribeLive()
	defer listener.Close()

	var ids []string
	for i := 0; i < 5; i++ {
		e, err := b.TryPublish(ctx, models.EventKindQueuedRun, map[string]any{"i": i})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	for _, want := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		got, ok := listener.Next(ctx)
		cancel()
		require.True(t, ok)
		require.Equal(t, want, got.ID)
	}
}

func TestSubscribeLiveDropsOldestOnOverflow(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	listener := b.SubscribeLive()
	defer listener.Close()

	var last *models.Event
	for i := 0; i < liveBufferSize+10; i++ {
		e, err := b.TryPublish(ctx, models.EventKindQueuedRun, nil)
		require.NoError(t, err)
		last = e
	}

	// Give the registry goroutine a moment to drain the broadcast channel.
	time.Sleep(50 * time.Millisecond)

	var final *models.Event
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		e, ok := listener.Next(ctx)
		cancel()
		if !ok || e == nil {
			break
		}
		final = e
	}

	require.NotNil(t, final)
	require.Equal(t, last.ID, final.ID)
}

func TestSubscribeHistoricalDrainsThenCloses(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < historicalPageSize+5; i++ {
		e, err := b.TryPublish(ctx, models.EventKindQueuedRun, nil)
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	listener, err := b.SubscribeHistorical(ctx, "")
	require.NoError(t, err)

	var got []string
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		e, ok := listener.Next(ctx)
		cancel()
		if !ok {
			break
		}
		got = append(got, e.ID)
	}

	require.Equal(t, ids, got)
}
