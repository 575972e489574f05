package orchestrator

import (
	"context"
	"sync"

	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/syncmap"
)

// runExecution drives one Run's task tree. It is created by StartRun and
// discarded once the run reaches Complete.
type runExecution struct {
	o          *Orchestrator
	namespace  string
	pipeline   string
	cfgVersion *models.PipelineConfig
	run        *models.Run
	statusMap  *syncmap.Map[string, taskStatus]

	tokenOnce sync.Once
	apiToken  string
	tokenErr  error

	mu              sync.Mutex
	cancelRequested bool
	cancelTimeout   int64
}

func (rc *runExecution) requestCancel(timeoutSeconds int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cancelRequested = true
	rc.cancelTimeout = timeoutSeconds
}

func (rc *runExecution) cancelState() (bool, int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.cancelRequested, rc.cancelTimeout
}

// execute forks one goroutine per pipeline task, waits for all of them to
// reach Complete, then tallies and persists the run's final status.
func (rc *runExecution) execute(ctx context.Context) {
	defer rc.o.unregister(rc.namespace, rc.pipeline, rc.run.RunID)

	var wg sync.WaitGroup
	for _, task := range rc.cfgVersion.Tasks {
		wg.Add(1)
		go func(t models.Task) {
			defer wg.Done()
			rc.runTask(ctx, t)
		}(task)
	}
	wg.Wait()

	status := summarizeRunStatus(rc.statusMap.Values())

	rc.run.State = models.RunStateComplete
	rc.run.Status = status
	rc.run.Ended = models.NowMilli()
	if err := rc.o.store.UpdateRun(ctx, rc.run); err != nil {
		rc.o.log.WithField("error", err.Error()).Error("failed to persist completed run")
	}

	rc.o.bus.Publish(models.EventKindCompletedRun, map[string]any{
		"namespace": rc.namespace, "pipeline": rc.pipeline, "run_id": rc.run.RunID, "status": status,
	})
}

// summarizeRunStatus tallies task statuses into a run status: all Successful or
// Skipped is Successful; any Failed makes the run Failed; any Cancelled with
// no Failed makes the run Cancelled. A run with no tasks is Successful.
func summarizeRunStatus(statuses []taskStatus) models.RunStatus {
	anyFailed := false
	anyCancelled := false
	for _, s := range statuses {
		switch s.Status {
		case models.TaskExecutionStatusFailed:
			anyFailed = true
		case models.TaskExecutionStatusCancelled:
			anyCancelled = true
		}
	}
	switch {
	case anyFailed:
		return models.RunStatusFailed
	case anyCancelled:
		return models.RunStatusCancelled
	default:
		return models.RunStatusSuccessful
	}
}
