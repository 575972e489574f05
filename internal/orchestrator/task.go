package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
)

func containerID(namespace, pipeline string, runID int64, taskID string) string {
	return fmt.Sprintf("gofer-%s-%s-%d-%s", namespace, pipeline, runID, taskID)
}

func apiTokenSecretKey(runID int64) string {
	return fmt.Sprintf("run_%d_api_token", runID)
}

// ensureAPIToken lazily mints and seals one API token per run, shared by
// every task in that run whose inject_api_token is set.
func (rc *runExecution) ensureAPIToken(ctx context.Context) (string, error) {
	rc.tokenOnce.Do(func() {
		token := uuid.NewString()
		if err := rc.o.secrets.PutSecret(ctx, rc.namespace, rc.pipeline, apiTokenSecretKey(rc.run.RunID), []byte(token)); err != nil {
			rc.tokenErr = err
			return
		}
		rc.apiToken = token
	})
	return rc.apiToken, rc.tokenErr
}

// resolveVariables folds the three variable layers together, later
// layers overriding earlier ones on a case-folded key collision, discarding
// empty keys, and preserving first-seen order for the frozen record.
func resolveVariables(injected, taskDefined, runLevel []models.Variable) []models.Variable {
	order := []string{}
	byKey := map[string]models.Variable{}

	apply := func(vars []models.Variable) {
		for _, v := range vars {
			if v.Key == "" {
				continue
			}
			upper := strings.ToUpper(v.Key)
			if _, exists := byKey[upper]; !exists {
				order = append(order, upper)
			}
			v.Key = upper
			byKey[upper] = v
		}
	}
	apply(injected)
	apply(taskDefined)
	apply(runLevel)

	out := make([]models.Variable, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

// dependencyPredicateSatisfied evaluates a parent task's required-status
// condition for a single parent. ok=false with a non-nil error means the
// predicate failed; a non-nil error alone (ok irrelevant) means the config
// itself is invalid.
func dependencyPredicateSatisfied(required models.RequiredParentStatus, parentStatus models.TaskExecutionStatus) (bool, error) {
	switch required {
	case models.RequiredParentStatusAny:
		switch parentStatus {
		case models.TaskExecutionStatusSuccessful, models.TaskExecutionStatusFailed, models.TaskExecutionStatusSkipped:
			return true, nil
		default:
			return false, nil
		}
	case models.RequiredParentStatusSuccess:
		return parentStatus == models.TaskExecutionStatusSuccessful, nil
	case models.RequiredParentStatusFailure:
		return parentStatus == models.TaskExecutionStatusFailed, nil
	default:
		return false, fmt.Errorf("required parent status %q is not a valid dependency condition", required)
	}
}

// runTask drives a single task through its execution FSM,
// reading and writing rc.statusMap so sibling tasks can resolve their own
// dependencies, and persisting every state transition along the way.
func (rc *runExecution) runTask(ctx context.Context, task models.Task) {
	o := rc.o
	ns, pipeline, runID := rc.namespace, rc.pipeline, rc.run.RunID

	tex := models.NewTaskExecution(ns, pipeline, runID, task)
	rc.statusMap.Set(task.ID, taskStatus{State: tex.State, Status: tex.Status})
	if err := o.store.InsertTaskExecution(ctx, tex); err != nil {
		o.log.WithField("error", err.Error()).Error("failed to persist created task execution")
		return
	}
	o.bus.Publish(models.EventKindCreatedTaskExecution, map[string]any{
		"namespace": ns, "pipeline": pipeline, "run_id": runID, "task_id": task.ID,
	})

	injected := []models.Variable{
		{Key: "GOFER_PIPELINE_ID", Value: pipeline, Source: models.VariableSourceSystem},
		{Key: "GOFER_RUN_ID", Value: fmt.Sprintf("%d", runID), Source: models.VariableSourceSystem},
		{Key: "GOFER_TASK_ID", Value: task.ID, Source: models.VariableSourceSystem},
		{Key: "GOFER_TASK_IMAGE", Value: task.Image, Source: models.VariableSourceSystem},
	}
	if task.InjectAPIToken {
		token, err := rc.ensureAPIToken(ctx)
		if err != nil {
			rc.finishTask(ctx, tex, models.TaskExecutionStatusFailed, &models.TaskExecutionStatusReason{
				Reason:      models.TaskExecutionStatusReasonKindSchedulerError,
				Description: "failed to mint injected API token: " + err.Error(),
			}, nil)
			return
		}
		injected = append(injected, models.Variable{Key: "GOFER_API_TOKEN", Value: token, Source: models.VariableSourceSystem, Secret: true})
	}

	tex.Variables = resolveVariables(injected, task.Variables, rc.run.Variables)
	if err := o.store.UpdateTaskExecution(ctx, tex); err != nil {
		o.log.WithField("error", err.Error()).Error("failed to persist resolved task execution variables")
	}

	// Dependency wait.
	tex.State = models.TaskExecutionStateWaiting
	if err := o.store.UpdateTaskExecution(ctx, tex); err != nil {
		o.log.WithField("error", err.Error()).Error("failed to persist waiting task execution")
	}
	rc.statusMap.Set(task.ID, taskStatus{State: tex.State, Status: tex.Status})

	cancelledBeforeSchedule := rc.waitForDependencies(ctx, task)
	if cancelledBeforeSchedule {
		rc.finishTask(ctx, tex, models.TaskExecutionStatusCancelled, &models.TaskExecutionStatusReason{
			Reason:      models.TaskExecutionStatusReasonKindCancelled,
			Description: "run was cancelled while this task was still waiting on its dependencies",
		}, nil)
		return
	}

	// Dependency predicate.
	for parentID, required := range task.DependsOn {
		parentStatus, _ := rc.statusMap.Get(parentID)
		ok, err := dependencyPredicateSatisfied(required, parentStatus.Status)
		if err != nil {
			rc.finishTask(ctx, tex, models.TaskExecutionStatusSkipped, &models.TaskExecutionStatusReason{
				Reason:      models.TaskExecutionStatusReasonKindFailedPrecondition,
				Description: err.Error(),
			}, nil)
			return
		}
		if !ok {
			rc.finishTask(ctx, tex, models.TaskExecutionStatusSkipped, &models.TaskExecutionStatusReason{
				Reason:      models.TaskExecutionStatusReasonKindFailedPrecondition,
				Description: fmt.Sprintf("parent task %q finished with status %q, which does not satisfy the required %q condition", parentID, parentStatus.Status, required),
			}, nil)
			return
		}
	}

	// Schedule.
	variablesMap := make(map[string]string, len(tex.Variables))
	for _, v := range tex.Variables {
		variablesMap[v.Key] = v.Value
	}
	var regAuth *scheduler.RegistryAuth
	if task.RegistryAuth != nil {
		regAuth = &scheduler.RegistryAuth{User: task.RegistryAuth.Username, Pass: task.RegistryAuth.Password}
	}
	id := containerID(ns, pipeline, runID, task.ID)
	resp, err := o.sched.StartContainer(ctx, scheduler.StartContainerRequest{
		ID:           id,
		Image:        task.Image,
		Variables:    variablesMap,
		RegistryAuth: regAuth,
		Entrypoint:   task.Entrypoint,
		Command:      task.Command,
	})
	if err != nil {
		rc.finishTask(ctx, tex, models.TaskExecutionStatusFailed, &models.TaskExecutionStatusReason{
			Reason:      models.TaskExecutionStatusReasonKindSchedulerError,
			Description: err.Error(),
		}, nil)
		return
	}
	schedulerID := id
	if resp.SchedulerID != "" {
		schedulerID = resp.SchedulerID
	}

	tex.State = models.TaskExecutionStateRunning
	tex.Started = models.NowMilli()
	if err := o.store.UpdateTaskExecution(ctx, tex); err != nil {
		o.log.WithField("error", err.Error()).Error("failed to persist running task execution")
	}
	rc.statusMap.Set(task.ID, taskStatus{State: tex.State, Status: tex.Status})
	o.bus.Publish(models.EventKindStartedTaskExecution, map[string]any{
		"namespace": ns, "pipeline": pipeline, "run_id": runID, "task_id": task.ID,
	})

	// Log capture: detached, terminates on container exit.
	go rc.streamLogs(schedulerID, task.ID)

	// Completion detection.
	rc.monitorUntilComplete(ctx, tex, schedulerID, task.ID)
}

// waitForDependencies polls rc.statusMap until every listed parent has
// reached State=Complete, polling on a ~500ms interval. It returns
// true if the run was cancelled while this task was still waiting.
func (rc *runExecution) waitForDependencies(ctx context.Context, task models.Task) bool {
	if len(task.DependsOn) == 0 {
		return false
	}

	ticker := time.NewTicker(rc.o.cfg.DependencyPollInterval)
	defer ticker.Stop()
	for {
		if cancelled, _ := rc.cancelState(); cancelled {
			return true
		}
		allDone := true
		for parentID := range task.DependsOn {
			st, ok := rc.statusMap.Get(parentID)
			if !ok || st.State != models.TaskExecutionStateComplete {
				allDone = false
				break
			}
		}
		if allDone {
			return false
		}
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
		}
	}
}

// monitorUntilComplete polls scheduler.get_state until the container has
// exited or been cancelled, issuing stop_container once if the run-level
// cancel flag is set while the task is still running.
func (rc *runExecution) monitorUntilComplete(ctx context.Context, tex *models.TaskExecution, schedulerID, taskID string) {
	o := rc.o
	ticker := time.NewTicker(o.cfg.DependencyPollInterval)
	defer ticker.Stop()

	stopRequested := false
	for {
		if cancelled, timeout := rc.cancelState(); cancelled && !stopRequested {
			stopRequested = true
			o.bus.Publish(models.EventKindStartedTaskExecutionCancellation, map[string]any{
				"namespace": rc.namespace, "pipeline": rc.pipeline, "run_id": rc.run.RunID, "task_id": taskID,
			})
			if err := o.sched.StopContainer(ctx, scheduler.StopContainerRequest{ID: schedulerID, Timeout: timeout}); err != nil {
				o.log.WithField("error", err.Error()).Error("failed to stop cancelled container")
			}
		}

		state, err := o.sched.GetState(ctx, schedulerID)
		if err != nil {
			rc.finishTask(ctx, tex, models.TaskExecutionStatusFailed, &models.TaskExecutionStatusReason{
				Reason:      models.TaskExecutionStatusReasonKindSchedulerError,
				Description: err.Error(),
			}, nil)
			return
		}

		switch state.State {
		case scheduler.ContainerStateExited:
			if state.ExitCode != nil && *state.ExitCode == 0 {
				rc.finishTask(ctx, tex, models.TaskExecutionStatusSuccessful, nil, state.ExitCode)
			} else {
				rc.finishTask(ctx, tex, models.TaskExecutionStatusFailed, &models.TaskExecutionStatusReason{
					Reason:      models.TaskExecutionStatusReasonKindAbnormalExit,
					Description: "container exited with a non-zero status",
				}, state.ExitCode)
			}
			return
		case scheduler.ContainerStateCancelled:
			rc.finishTask(ctx, tex, models.TaskExecutionStatusCancelled, &models.TaskExecutionStatusReason{
				Reason:      models.TaskExecutionStatusReasonKindCancelled,
				Description: "task execution was cancelled",
			}, state.ExitCode)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// finishTask persists the terminal state/status and publishes the per-task
// status_map write after the storage write completes, preserving the
// ordering guarantee downstream readers rely on.
func (rc *runExecution) finishTask(ctx context.Context, tex *models.TaskExecution, status models.TaskExecutionStatus, reason *models.TaskExecutionStatusReason, exitCode *int64) {
	tex.State = models.TaskExecutionStateComplete
	tex.Status = status
	tex.StatusReason = reason
	tex.ExitCode = exitCode
	tex.Ended = models.NowMilli()

	if err := rc.o.store.UpdateTaskExecution(ctx, tex); err != nil {
		rc.o.log.WithField("error", err.Error()).Error("failed to persist completed task execution")
	}
	rc.statusMap.Set(tex.TaskID, taskStatus{State: tex.State, Status: tex.Status})

	rc.o.bus.Publish(models.EventKindCompletedTaskExecution, map[string]any{
		"namespace": rc.namespace, "pipeline": rc.pipeline, "run_id": rc.run.RunID, "task_id": tex.TaskID, "status": status,
	})
}

// streamLogs demultiplexes the scheduler's live log channel into durable,
// append-only storage, appending an "eof" sentinel once the stream ends so
// readers can tell "still writing" from "complete".
func (rc *runExecution) streamLogs(schedulerID, taskID string) {
	ctx := context.Background()
	out, errs, err := rc.o.sched.GetLogs(ctx, schedulerID)
	if err != nil {
		rc.o.log.WithField("error", err.Error()).Error("failed to open log stream")
		return
	}

	var seq int64
	appendChunk := func(kind string, data []byte) {
		if err := rc.o.store.AppendLogChunk(ctx, rc.namespace, rc.pipeline, rc.run.RunID, taskID, seq, kind, data); err != nil {
			rc.o.log.WithField("error", err.Error()).Error("failed to persist log chunk")
		}
		seq++
	}

	for out != nil || errs != nil {
		select {
		case l, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			appendChunk(logKindString(l.Kind), l.Message)
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if e != nil {
				rc.o.log.WithField("error", e.Error()).Error("log stream error")
			}
		}
	}
	appendChunk("eof", nil)
}

func logKindString(k scheduler.LogKind) string {
	switch k {
	case scheduler.LogKindStdout:
		return "stdout"
	case scheduler.LogKindStderr:
		return "stderr"
	default:
		return "unknown"
	}
}
