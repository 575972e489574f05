// Package orchestrator is the run/task-execution state machine: the
// critical path: it accepts a trigger, admits
// it against the pipeline's parallelism limit, forks one logical task per
// pipeline task, and drives each through its own FSM to completion, sharing
// a per-run status_map the way a real DAG scheduler needs to for dependency
// resolution, using Go's context.Context for cancellation.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clintjedwards/gofer-sub002/internal/eventbus"
	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/objectstore"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
	"github.com/clintjedwards/gofer-sub002/internal/secretstore"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
	"github.com/clintjedwards/gofer-sub002/internal/syncmap"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

// Config holds the orchestrator's tunables, loaded from internal/config.
type Config struct {
	GlobalParallelism      int64
	RunObjectExpiryDepth   int64
	DependencyPollInterval time.Duration
	LogRetention           time.Duration
	SweepInterval          time.Duration
}

// taskStatus is the status_map's value type: every other task in the run
// reads this to decide whether its own dependencies are satisfied.
type taskStatus struct {
	State  models.TaskExecutionState
	Status models.TaskExecutionStatus
}

// Orchestrator owns every in-flight run's status_map and cancellation handle.
type Orchestrator struct {
	store   storage.Store
	bus     *eventbus.Bus
	sched   scheduler.Scheduler
	secrets *secretstore.Store
	objects *objectstore.Store
	cfg     Config
	log     *logger.Logger

	mu   sync.Mutex
	runs map[string]*runExecution
}

func New(store storage.Store, bus *eventbus.Bus, sched scheduler.Scheduler, secrets *secretstore.Store, objects *objectstore.Store, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.DependencyPollInterval <= 0 {
		cfg.DependencyPollInterval = 500 * time.Millisecond
	}
	return &Orchestrator{
		store:   store,
		bus:     bus,
		sched:   sched,
		secrets: secrets,
		objects: objects,
		cfg:     cfg,
		log:     log,
		runs:    make(map[string]*runExecution),
	}
}

// StartBackgroundSweeps launches the per-pipeline object-expiry and
// time-based log-expiry sweeps; callers stop both by cancelling ctx.
func (o *Orchestrator) StartBackgroundSweeps(ctx context.Context) {
	go o.objectExpirySweepLoop(ctx)
	go o.logExpirySweepLoop(ctx)
}

func runKey(namespace, pipeline string, runID int64) string {
	return fmt.Sprintf("%s/%s/%d", namespace, pipeline, runID)
}

// effectiveParallelismLimit applies the "0 means no limit
// imposed by that side" rule to the pipeline-local and global caps.
func effectiveParallelismLimit(pipelineLimit, globalLimit int64) int64 {
	switch {
	case pipelineLimit == 0:
		return globalLimit
	case globalLimit == 0:
		return pipelineLimit
	case pipelineLimit < globalLimit:
		return pipelineLimit
	default:
		return globalLimit
	}
}

// StartRun admits and starts a run end to end, then
// forks the task tree in the background and returns immediately once the
// run is persisted as Running.
func (o *Orchestrator) StartRun(ctx context.Context, namespace, pipeline string, initiator models.Initiator, variables []models.Variable, tokenID string) (*models.Run, error) {
	meta, err := o.store.GetPipelineMetadata(ctx, namespace, pipeline)
	if err != nil {
		if gofererr.IsNotFound(err) {
			return nil, gofererr.NewFailedPrecondition(fmt.Sprintf("pipeline %s/%s does not exist", namespace, pipeline))
		}
		return nil, err
	}
	if meta.State != models.PipelineMetadataStateActive {
		return nil, gofererr.NewFailedPrecondition(fmt.Sprintf("pipeline %s/%s is not active", namespace, pipeline))
	}

	cfgVersion, err := o.store.GetLivePipelineConfig(ctx, namespace, pipeline)
	if err != nil {
		if gofererr.IsNotFound(err) {
			return nil, gofererr.NewFailedPrecondition(fmt.Sprintf("pipeline %s/%s has no live config version", namespace, pipeline))
		}
		return nil, err
	}

	nonTerminal, err := o.store.ListNonTerminalRuns(ctx, namespace, pipeline)
	if err != nil {
		// Fail closed on an ambiguous admission read.
		return nil, gofererr.NewFailedPrecondition("could not verify parallelism admission")
	}
	limit := effectiveParallelismLimit(cfgVersion.Parallelism, o.cfg.GlobalParallelism)
	if limit > 0 && int64(len(nonTerminal)) >= limit {
		return nil, gofererr.NewFailedPrecondition(fmt.Sprintf("pipeline %s/%s is at its parallelism limit (%d)", namespace, pipeline, limit))
	}

	run, err := o.store.AllocateAndInsertRun(ctx, namespace, pipeline, func(nextID int64) *models.Run {
		r := models.NewRun(namespace, pipeline, nextID, cfgVersion.Version, initiator, variables)
		r.TokenID = tokenID
		return r
	})
	if err != nil {
		return nil, err
	}

	o.bus.Publish(models.EventKindQueuedRun, map[string]any{
		"namespace": namespace, "pipeline": pipeline, "run_id": run.RunID,
	})

	run.State = models.RunStateRunning
	run.Started = models.NowMilli()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	o.bus.Publish(models.EventKindStartedRun, map[string]any{
		"namespace": namespace, "pipeline": pipeline, "run_id": run.RunID,
	})

	rc := &runExecution{
		o:          o,
		namespace:  namespace,
		pipeline:   pipeline,
		cfgVersion: cfgVersion,
		run:        run,
		statusMap:  syncmap.New[string, taskStatus](),
	}

	o.mu.Lock()
	o.runs[runKey(namespace, pipeline, run.RunID)] = rc
	o.mu.Unlock()

	// The run must outlive the request that started it.
	go rc.execute(context.Background())

	return run, nil
}

// CancelRun requests cancellation of a run: it only signals
// intent. Each task execution transitions to Complete on its own, either
// because the scheduler stopped its container or because it was still
// Waiting and never got scheduled.
func (o *Orchestrator) CancelRun(ctx context.Context, namespace, pipeline string, runID int64, timeoutSeconds int64) error {
	o.mu.Lock()
	rc, ok := o.runs[runKey(namespace, pipeline, runID)]
	o.mu.Unlock()
	if !ok {
		return gofererr.NewNotFound("run", runKey(namespace, pipeline, runID))
	}

	o.bus.Publish(models.EventKindStartedRunCancellation, map[string]any{
		"namespace": namespace, "pipeline": pipeline, "run_id": runID,
	})
	rc.requestCancel(timeoutSeconds)
	return nil
}

func (o *Orchestrator) unregister(namespace, pipeline string, runID int64) {
	o.mu.Lock()
	delete(o.runs, runKey(namespace, pipeline, runID))
	o.mu.Unlock()
}
