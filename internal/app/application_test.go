package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/config"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
)

// noopScheduler stands in for the Docker scheduler so tests never touch a
// real container runtime.
type noopScheduler struct{}

func (noopScheduler) StartContainer(ctx context.Context, req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	return scheduler.StartContainerResponse{SchedulerID: req.ID}, nil
}

func (noopScheduler) StopContainer(ctx context.Context, req scheduler.StopContainerRequest) error {
	return nil
}

func (noopScheduler) GetState(ctx context.Context, id string) (scheduler.GetStateResponse, error) {
	return scheduler.GetStateResponse{State: scheduler.ContainerStateUnknown}, nil
}

func (noopScheduler) GetLogs(ctx context.Context, id string) (<-chan scheduler.Log, <-chan error, error) {
	out := make(chan scheduler.Log)
	errs := make(chan error)
	close(out)
	close(errs)
	return out, errs, nil
}

func (noopScheduler) AttachContainer(ctx context.Context, id string, command []string) (scheduler.AttachContainerResponse, error) {
	return scheduler.AttachContainerResponse{}, nil
}

var _ scheduler.Scheduler = noopScheduler{}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StorageEngine:          "sqlite",
		SQLitePath:             filepath.Join(t.TempDir(), "app-test.db"),
		SQLiteReadConns:        4,
		EventRetention:         time.Hour,
		EventPruneInterval:     time.Hour,
		GlobalParallelism:      0,
		RunObjectExpiryDepth:   20,
		DependencyPollInterval: 5 * time.Millisecond,
		LogRetention:           time.Hour,
		SweepInterval:          time.Hour,
		SecretMasterKey:        "test-passphrase",
		ExtensionHealthCheckTries: 1,
		ExtensionHealthCheckWait:  time.Millisecond,
	}
}

func TestNewWiresEveryComponent(t *testing.T) {
	a, err := New(testConfig(t), WithScheduler(noopScheduler{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	require.NotNil(t, a.Store)
	require.NotNil(t, a.Bus)
	require.NotNil(t, a.Scheduler)
	require.NotNil(t, a.Secrets)
	require.NotNil(t, a.Objects)
	require.NotNil(t, a.Orchestrator)
	require.NotNil(t, a.Deployer)
	require.NotNil(t, a.Extensions)
	require.NotNil(t, a.Auth)
}

func TestStartReconcilesAndStartsBackgroundWorkWithNoPendingState(t *testing.T) {
	a, err := New(testConfig(t), WithScheduler(noopScheduler{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	require.NoError(t, a.Start(context.Background()))
}

type recordingService struct {
	name      string
	order     *[]string
	startErr  error
	stopErr   error
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(ctx context.Context) error {
	*s.order = append(*s.order, "start:"+s.name)
	return s.startErr
}

func (s *recordingService) Stop(ctx context.Context) error {
	*s.order = append(*s.order, "stop:"+s.name)
	return s.stopErr
}

func TestAttachedServicesStartInOrderAndStopInReverse(t *testing.T) {
	a, err := New(testConfig(t), WithScheduler(noopScheduler{}))
	require.NoError(t, err)

	var order []string
	a.Attach(&recordingService{name: "first", order: &order})
	a.Attach(&recordingService{name: "second", order: &order})

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background()))

	require.Equal(t, []string{
		"start:first", "start:second",
		"stop:second", "stop:first",
	}, order)
}
