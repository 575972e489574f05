package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
)

// reconcileScheduler lets a test control GetState per container id, including
// returning a not-found error to simulate a container the scheduler has lost
// all record of.
type reconcileScheduler struct {
	fakeScheduler
	states map[string]scheduler.GetStateResponse
	errs   map[string]error
}

func newReconcileScheduler() *reconcileScheduler {
	return &reconcileScheduler{
		fakeScheduler: *newFakeScheduler(),
		states:        map[string]scheduler.GetStateResponse{},
		errs:          map[string]error{},
	}
}

func (r *reconcileScheduler) GetState(ctx context.Context, id string) (scheduler.GetStateResponse, error) {
	if err, ok := r.errs[id]; ok {
		return scheduler.GetStateResponse{}, err
	}
	if resp, ok := r.states[id]; ok {
		return resp, nil
	}
	return scheduler.GetStateResponse{State: scheduler.ContainerStateUnknown}, nil
}

func seedRunAndTask(t *testing.T, h *testHarness, namespace, pipeline string, runID int64, task models.Task) *models.TaskExecution {
	t.Helper()
	ctx := context.Background()

	run := models.NewRun(namespace, pipeline, runID, 1, models.Initiator{Type: models.InitiatorTypeHuman}, nil)
	run.State = models.RunStateRunning
	require.NoError(t, h.store.InsertRun(ctx, run))

	tex := models.NewTaskExecution(namespace, pipeline, runID, task)
	tex.State = models.TaskExecutionStateRunning
	require.NoError(t, h.store.InsertTaskExecution(ctx, tex))
	return tex
}

func TestReconcileFinalizesExitedContainerWithObservedExitCode(t *testing.T) {
	h := newTestHarness(t)
	sched := newReconcileScheduler()
	h.o.sched = sched

	task := models.Task{ID: "build", Image: "busybox"}
	tex := seedRunAndTask(t, h, "ns1", "pl1", 1, task)

	id := containerID("ns1", "pl1", 1, "build")
	code := int64(0)
	sched.states[id] = scheduler.GetStateResponse{State: scheduler.ContainerStateExited, ExitCode: &code}

	require.NoError(t, h.o.Reconcile(context.Background()))

	got, err := h.store.GetTaskExecution(context.Background(), "ns1", "pl1", 1, "build")
	require.NoError(t, err)
	require.Equal(t, models.TaskExecutionStateComplete, got.State)
	require.Equal(t, models.TaskExecutionStatusSuccessful, got.Status)
	require.NotNil(t, got.ExitCode)
	require.Equal(t, int64(0), *got.ExitCode)
	_ = tex
}

func TestReconcileFinalizesAbnormalExitAsFailed(t *testing.T) {
	h := newTestHarness(t)
	sched := newReconcileScheduler()
	h.o.sched = sched

	task := models.Task{ID: "build", Image: "busybox"}
	seedRunAndTask(t, h, "ns1", "pl1", 1, task)

	id := containerID("ns1", "pl1", 1, "build")
	code := int64(137)
	sched.states[id] = scheduler.GetStateResponse{State: scheduler.ContainerStateExited, ExitCode: &code}

	require.NoError(t, h.o.Reconcile(context.Background()))

	got, err := h.store.GetTaskExecution(context.Background(), "ns1", "pl1", 1, "build")
	require.NoError(t, err)
	require.Equal(t, models.TaskExecutionStatusFailed, got.Status)
	require.Equal(t, models.TaskExecutionStatusReasonKindAbnormalExit, got.StatusReason.Reason)
}

func TestReconcileMarksUnknownContainerOrphaned(t *testing.T) {
	h := newTestHarness(t)
	sched := newReconcileScheduler()
	h.o.sched = sched

	task := models.Task{ID: "build", Image: "busybox"}
	seedRunAndTask(t, h, "ns1", "pl1", 1, task)

	id := containerID("ns1", "pl1", 1, "build")
	sched.errs[id] = context.DeadlineExceeded

	require.NoError(t, h.o.Reconcile(context.Background()))

	got, err := h.store.GetTaskExecution(context.Background(), "ns1", "pl1", 1, "build")
	require.NoError(t, err)
	require.Equal(t, models.TaskExecutionStateComplete, got.State)
	require.Equal(t, models.TaskExecutionStatusFailed, got.Status)
	require.Equal(t, models.TaskExecutionStatusReasonKindOrphaned, got.StatusReason.Reason)
}

func TestReconcileSkipsAlreadyCompleteTaskExecutions(t *testing.T) {
	h := newTestHarness(t)
	sched := newReconcileScheduler()
	h.o.sched = sched

	ctx := context.Background()
	run := models.NewRun("ns1", "pl1", 1, 1, models.Initiator{Type: models.InitiatorTypeHuman}, nil)
	run.State = models.RunStateRunning
	require.NoError(t, h.store.InsertRun(ctx, run))

	task := models.Task{ID: "build", Image: "busybox"}
	tex := models.NewTaskExecution("ns1", "pl1", 1, task)
	tex.State = models.TaskExecutionStateComplete
	tex.Status = models.TaskExecutionStatusSuccessful
	require.NoError(t, h.store.InsertTaskExecution(ctx, tex))

	require.NoError(t, h.o.Reconcile(ctx))

	got, err := h.store.GetTaskExecution(ctx, "ns1", "pl1", 1, "build")
	require.NoError(t, err)
	require.Equal(t, models.TaskExecutionStatusSuccessful, got.Status)
}
