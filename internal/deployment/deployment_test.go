package deployment

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/eventbus"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
	"github.com/clintjedwards/gofer-sub002/internal/storage/sqlite"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "deployment-test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedTwoVersions(t *testing.T, store storage.Store, namespace, pipeline string, v1subs, v2subs []models.ExtensionSubscriptionDecl) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.InsertNamespace(ctx, models.NewNamespace(namespace, namespace, "")))
	require.NoError(t, store.InsertPipelineMetadata(ctx, models.NewPipelineMetadata(namespace, pipeline)))

	v1 := models.NewPipelineConfig(namespace, pipeline, 1, pipeline, "", 0, []models.Task{{ID: "a", Image: "busybox"}})
	v1.Subscriptions = v1subs
	require.NoError(t, store.InsertPipelineConfig(ctx, v1))
	require.NoError(t, store.UpdatePipelineConfigState(ctx, namespace, pipeline, 1, models.PipelineConfigStateLive, 0))

	v2 := models.NewPipelineConfig(namespace, pipeline, 2, pipeline, "", 0, []models.Task{{ID: "a", Image: "busybox"}})
	v2.Subscriptions = v2subs
	require.NoError(t, store.InsertPipelineConfig(ctx, v2))
}

func TestDeploySwapsLiveVersionAndReconcilesSubscriptions(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New(store, logger.NewDefault("deployment-test"), time.Hour, time.Hour)
	defer bus.Close()
	d := New(store, bus, logger.NewDefault("deployment-test"))

	v1subs := []models.ExtensionSubscriptionDecl{{ExtensionID: "cron", Label: "nightly"}}
	v2subs := []models.ExtensionSubscriptionDecl{{ExtensionID: "cron", Label: "nightly"}, {ExtensionID: "webhook", Label: "gh"}}
	seedTwoVersions(t, store, "ns1", "p1", v1subs, v2subs)

	ctx := context.Background()
	require.NoError(t, store.InsertExtensionSubscription(ctx, models.NewExtensionSubscription("ns1", "p1", "cron", "nightly", nil)))

	dep, err := d.Deploy(ctx, "ns1", "p1", 2)
	require.NoError(t, err)
	require.Equal(t, models.DeploymentStatusSuccessful, dep.Status)
	require.Equal(t, models.DeploymentStateComplete, dep.State)

	live, err := store.GetLivePipelineConfig(ctx, "ns1", "p1")
	require.NoError(t, err)
	require.Equal(t, int64(2), live.Version)

	v1, err := store.GetPipelineConfig(ctx, "ns1", "p1", 1)
	require.NoError(t, err)
	require.Equal(t, models.PipelineConfigStateDeprecated, v1.State)

	subs, err := store.ListExtensionSubscriptions(ctx, "ns1", "p1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
}

func TestDeployToAlreadyLiveVersionIsNoOpSuccess(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New(store, logger.NewDefault("deployment-test"), time.Hour, time.Hour)
	defer bus.Close()
	d := New(store, bus, logger.NewDefault("deployment-test"))

	seedTwoVersions(t, store, "ns1", "p1", nil, nil)
	require.NoError(t, store.UpdatePipelineConfigState(context.Background(), "ns1", "p1", 1, models.PipelineConfigStateLive, 0))

	dep, err := d.Deploy(context.Background(), "ns1", "p1", 1)
	require.NoError(t, err)
	require.Equal(t, models.DeploymentStatusSuccessful, dep.Status)
	require.Equal(t, int64(1), dep.StartVersion)
	require.Equal(t, int64(1), dep.EndVersion)
}

func TestConcurrentDeployRejectedAtStepOne(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New(store, logger.NewDefault("deployment-test"), time.Hour, time.Hour)
	defer bus.Close()
	d := New(store, bus, logger.NewDefault("deployment-test"))

	seedTwoVersions(t, store, "ns1", "p1", nil, nil)

	running := models.NewDeployment("ns1", "p1", 1, 1, 2)
	require.NoError(t, store.InsertDeployment(context.Background(), running))

	_, err := d.Deploy(context.Background(), "ns1", "p1", 2)
	require.Error(t, err)
}

func TestDeployUnsubscribesExtensionDroppedFromNewConfig(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New(store, logger.NewDefault("deployment-test"), time.Hour, time.Hour)
	defer bus.Close()
	d := New(store, bus, logger.NewDefault("deployment-test"))

	// v2 drops the "nightly" subscription entirely.
	v1subs := []models.ExtensionSubscriptionDecl{{ExtensionID: "cron", Label: "nightly"}}
	seedTwoVersions(t, store, "ns1", "p1", v1subs, nil)

	ctx := context.Background()
	require.NoError(t, store.InsertExtensionSubscription(ctx, models.NewExtensionSubscription("ns1", "p1", "cron", "nightly", nil)))

	dep, err := d.Deploy(ctx, "ns1", "p1", 2)
	require.NoError(t, err)
	require.Equal(t, models.DeploymentStatusSuccessful, dep.Status)

	subs, err := store.ListExtensionSubscriptions(ctx, "ns1", "p1")
	require.NoError(t, err)
	require.Len(t, subs, 0)
}
