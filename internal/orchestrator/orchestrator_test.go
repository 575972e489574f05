package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/eventbus"
	"github.com/clintjedwards/gofer-sub002/internal/gofercrypto"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/objectstore"
	"github.com/clintjedwards/gofer-sub002/internal/secretstore"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
	"github.com/clintjedwards/gofer-sub002/internal/storage/sqlite"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

type testHarness struct {
	store storage.Store
	bus   *eventbus.Bus
	sched *fakeScheduler
	o     *Orchestrator
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "orchestrator-test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := eventbus.New(store, logger.NewDefault("orchestrator-test"), time.Hour, time.Hour)
	t.Cleanup(bus.Close)

	masterKey := gofercrypto.DeriveMasterKey("test-passphrase", "test-salt")
	secrets, err := secretstore.New(store, masterKey)
	require.NoError(t, err)

	objects := objectstore.New(store)
	sched := newFakeScheduler()

	o := New(store, bus, sched, secrets, objects, Config{
		GlobalParallelism:      0,
		RunObjectExpiryDepth:   20,
		DependencyPollInterval: 5 * time.Millisecond,
		LogRetention:           time.Hour,
		SweepInterval:          time.Hour,
	}, logger.NewDefault("orchestrator-test"))

	return &testHarness{store: store, bus: bus, sched: sched, o: o}
}

func (h *testHarness) seedPipeline(t *testing.T, namespace, pipeline string, parallelism int64, tasks []models.Task) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.store.InsertNamespace(ctx, models.NewNamespace(namespace, namespace, "")))
	require.NoError(t, h.store.InsertPipelineMetadata(ctx, models.NewPipelineMetadata(namespace, pipeline)))

	cfg := models.NewPipelineConfig(namespace, pipeline, 1, pipeline, "", parallelism, tasks)
	require.NoError(t, h.store.InsertPipelineConfig(ctx, cfg))
	require.NoError(t, h.store.UpdatePipelineConfigState(ctx, namespace, pipeline, 1, models.PipelineConfigStateLive, 0))
}

func waitForRunComplete(t *testing.T, store storage.Store, namespace, pipeline string, runID int64, timeout time.Duration) *models.Run {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r, err := store.GetRun(context.Background(), namespace, pipeline, runID)
		require.NoError(t, err)
		if r.State == models.RunStateComplete {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s/%s/%d did not complete within %s", namespace, pipeline, runID, timeout)
	return nil
}

func initiator() models.Initiator {
	return models.Initiator{Type: models.InitiatorTypeHuman, Name: "test"}
}

// S1 — linear success: A then B(depends_on A=Success), both exit 0.
func TestLinearSuccessRun(t *testing.T) {
	h := newTestHarness(t)
	tasks := []models.Task{
		{ID: "a", Image: "busybox"},
		{ID: "b", Image: "busybox", DependsOn: map[string]models.RequiredParentStatus{"a": models.RequiredParentStatusSuccess}},
	}
	h.seedPipeline(t, "ns1", "p1", 0, tasks)

	h.sched.setExitCode(containerID("ns1", "p1", 1, "a"), 0)
	h.sched.setExitCode(containerID("ns1", "p1", 1, "b"), 0)

	run, err := h.o.StartRun(context.Background(), "ns1", "p1", initiator(), nil, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), run.RunID)

	final := waitForRunComplete(t, h.store, "ns1", "p1", run.RunID, 2*time.Second)
	require.Equal(t, models.RunStatusSuccessful, final.Status)

	a, err := h.store.GetTaskExecution(context.Background(), "ns1", "p1", run.RunID, "a")
	require.NoError(t, err)
	require.Equal(t, models.TaskExecutionStatusSuccessful, a.Status)

	b, err := h.store.GetTaskExecution(context.Background(), "ns1", "p1", run.RunID, "b")
	require.NoError(t, err)
	require.Equal(t, models.TaskExecutionStatusSuccessful, b.Status)
}

// S2-ish — linear failure: A exits 1, B(depends_on A=Success) is skipped, run fails.
func TestFailurePropagatesAndSkipsDependent(t *testing.T) {
	h := newTestHarness(t)
	tasks := []models.Task{
		{ID: "a", Image: "busybox"},
		{ID: "b", Image: "busybox", DependsOn: map[string]models.RequiredParentStatus{"a": models.RequiredParentStatusSuccess}},
	}
	h.seedPipeline(t, "ns1", "p1", 0, tasks)
	h.sched.setExitCode(containerID("ns1", "p1", 1, "a"), 1)

	run, err := h.o.StartRun(context.Background(), "ns1", "p1", initiator(), nil, "")
	require.NoError(t, err)

	final := waitForRunComplete(t, h.store, "ns1", "p1", run.RunID, 2*time.Second)
	require.Equal(t, models.RunStatusFailed, final.Status)

	b, err := h.store.GetTaskExecution(context.Background(), "ns1", "p1", run.RunID, "b")
	require.NoError(t, err)
	require.Equal(t, models.TaskExecutionStatusSkipped, b.Status)
}

// S3 — Any dependency: A exits 1, B(depends_on A=Any) still runs and succeeds,
// but the run as a whole is Failed because A failed.
func TestAnyDependencyRunsDespiteParentFailure(t *testing.T) {
	h := newTestHarness(t)
	tasks := []models.Task{
		{ID: "a", Image: "busybox"},
		{ID: "b", Image: "busybox", DependsOn: map[string]models.RequiredParentStatus{"a": models.RequiredParentStatusAny}},
	}
	h.seedPipeline(t, "ns1", "p1", 0, tasks)
	h.sched.setExitCode(containerID("ns1", "p1", 1, "a"), 1)
	h.sched.setExitCode(containerID("ns1", "p1", 1, "b"), 0)

	run, err := h.o.StartRun(context.Background(), "ns1", "p1", initiator(), nil, "")
	require.NoError(t, err)

	final := waitForRunComplete(t, h.store, "ns1", "p1", run.RunID, 2*time.Second)
	require.Equal(t, models.RunStatusFailed, final.Status)

	b, err := h.store.GetTaskExecution(context.Background(), "ns1", "p1", run.RunID, "b")
	require.NoError(t, err)
	require.Equal(t, models.TaskExecutionStatusSuccessful, b.Status)
}

// S4/P9 — parallelism rejection: two concurrent start_run calls against a
// pipeline with parallelism=1 yield exactly one admitted run.
func TestParallelismLimitRejectsSecondConcurrentRun(t *testing.T) {
	h := newTestHarness(t)
	tasks := []models.Task{{ID: "a", Image: "busybox"}}
	h.seedPipeline(t, "ns1", "p1", 1, tasks)

	// Block the first run's single task mid-flight by never marking it
	// Exited, so it stays non-terminal while the second call races in.
	h.sched.mu.Lock()
	h.sched.states[containerID("ns1", "p1", 1, "a")] = ""
	h.sched.mu.Unlock()

	results := make(chan error, 2)
	go func() {
		_, err := h.o.StartRun(context.Background(), "ns1", "p1", initiator(), nil, "")
		results <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the first call win admission and persist its Run row
	go func() {
		_, err := h.o.StartRun(context.Background(), "ns1", "p1", initiator(), nil, "")
		results <- err
	}()

	first := <-results
	second := <-results
	require.NoError(t, first)
	require.Error(t, second)
}

func TestCancelRunTransitionsWaitingTaskToComplete(t *testing.T) {
	h := newTestHarness(t)
	tasks := []models.Task{
		{ID: "a", Image: "busybox"},
		{ID: "b", Image: "busybox", DependsOn: map[string]models.RequiredParentStatus{"a": models.RequiredParentStatusSuccess}},
	}
	h.seedPipeline(t, "ns1", "p1", 0, tasks)

	// "a" never exits, so "b" stays Waiting until cancelled.
	h.sched.mu.Lock()
	h.sched.states[containerID("ns1", "p1", 1, "a")] = ""
	h.sched.mu.Unlock()

	run, err := h.o.StartRun(context.Background(), "ns1", "p1", initiator(), nil, "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.o.CancelRun(context.Background(), "ns1", "p1", run.RunID, 5))

	final := waitForRunComplete(t, h.store, "ns1", "p1", run.RunID, 2*time.Second)
	require.Equal(t, models.RunStatusCancelled, final.Status)

	b, err := h.store.GetTaskExecution(context.Background(), "ns1", "p1", run.RunID, "b")
	require.NoError(t, err)
	require.Equal(t, models.TaskExecutionStatusCancelled, b.Status)
}

func TestResolveVariablesPrecedenceAndCaseFold(t *testing.T) {
	injected := []models.Variable{{Key: "gofer_run_id", Value: "1"}}
	taskDefined := []models.Variable{{Key: "FOO", Value: "task"}, {Key: "", Value: "discarded"}}
	runLevel := []models.Variable{{Key: "foo", Value: "run-level-wins"}}

	out := resolveVariables(injected, taskDefined, runLevel)
	require.Len(t, out, 2)

	byKey := map[string]string{}
	for _, v := range out {
		byKey[v.Key] = v.Value
	}
	require.Equal(t, "1", byKey["GOFER_RUN_ID"])
	require.Equal(t, "run-level-wins", byKey["FOO"])
}
