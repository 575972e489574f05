package orchestrator

import (
	"context"

	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
)

// Reconcile scans every non-terminal task execution left over from a prior
// process's lifetime and settles it against the scheduler's current view, per
// the "Orphaned" edge case: an execution whose container has since
// exited is finalised with the observed exit code; one the scheduler no
// longer recognises is marked Complete,Failed,Orphaned. Intended to run once
// on process startup, before StartBackgroundSweeps.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	texs, err := o.store.ListNonTerminalTaskExecutions(ctx)
	if err != nil {
		return err
	}

	for _, tex := range texs {
		o.reconcileTaskExecution(ctx, tex)
	}
	return nil
}

func (o *Orchestrator) reconcileTaskExecution(ctx context.Context, tex *models.TaskExecution) {
	id := containerID(tex.Namespace, tex.Pipeline, tex.RunID, tex.TaskID)

	state, err := o.sched.GetState(ctx, id)
	if err != nil {
		o.finalizeOrphaned(ctx, tex, "scheduler has no record of this task execution's container")
		return
	}

	switch state.State {
	case scheduler.ContainerStateExited:
		if state.ExitCode != nil && *state.ExitCode == 0 {
			o.finalizeReconciled(ctx, tex, models.TaskExecutionStatusSuccessful, nil, state.ExitCode)
		} else {
			o.finalizeReconciled(ctx, tex, models.TaskExecutionStatusFailed, &models.TaskExecutionStatusReason{
				Reason:      models.TaskExecutionStatusReasonKindAbnormalExit,
				Description: "container exited with a non-zero status before the process restarted",
			}, state.ExitCode)
		}
	case scheduler.ContainerStateCancelled:
		o.finalizeReconciled(ctx, tex, models.TaskExecutionStatusCancelled, &models.TaskExecutionStatusReason{
			Reason:      models.TaskExecutionStatusReasonKindCancelled,
			Description: "task execution was cancelled before the process restarted",
		}, state.ExitCode)
	case scheduler.ContainerStateUnknown:
		o.finalizeOrphaned(ctx, tex, "scheduler reports an unknown container state for this task execution")
	default:
		// Running, paused, or restarting: leave it alone. No in-memory
		// runExecution exists to keep monitoring it, so it is orphaned too;
		// a live container with no owner cannot be made to converge safely
		// without re-attaching a monitor loop, which is out of scope here.
		o.finalizeOrphaned(ctx, tex, "process restarted while this task execution's container was still running")
	}
}

func (o *Orchestrator) finalizeOrphaned(ctx context.Context, tex *models.TaskExecution, description string) {
	o.finalizeReconciled(ctx, tex, models.TaskExecutionStatusFailed, &models.TaskExecutionStatusReason{
		Reason:      models.TaskExecutionStatusReasonKindOrphaned,
		Description: description,
	}, nil)
}

func (o *Orchestrator) finalizeReconciled(ctx context.Context, tex *models.TaskExecution, status models.TaskExecutionStatus, reason *models.TaskExecutionStatusReason, exitCode *int64) {
	tex.State = models.TaskExecutionStateComplete
	tex.Status = status
	tex.StatusReason = reason
	tex.ExitCode = exitCode
	tex.Ended = models.NowMilli()

	if err := o.store.UpdateTaskExecution(ctx, tex); err != nil {
		o.log.WithField("error", err.Error()).Error("reconcile: failed to persist finalised task execution")
		return
	}

	o.bus.Publish(models.EventKindCompletedTaskExecution, map[string]any{
		"namespace": tex.Namespace, "pipeline": tex.Pipeline, "run_id": tex.RunID, "task_id": tex.TaskID, "status": status,
	})
}
