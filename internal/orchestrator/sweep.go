package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

// objectExpirySweepLoop wakes every SweepInterval and expires run-scoped
// object-store keys for runs beyond RunObjectExpiryDepth, oldest first.
func (o *Orchestrator) objectExpirySweepLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepObjectExpiry(ctx)
		}
	}
}

func (o *Orchestrator) sweepObjectExpiry(ctx context.Context) {
	if o.cfg.RunObjectExpiryDepth <= 0 {
		return
	}
	namespaces, err := o.store.ListNamespaces(ctx, storage.ListOptions{})
	if err != nil {
		o.log.WithField("error", err.Error()).Error("object expiry sweep: failed to list namespaces")
		return
	}
	for _, ns := range namespaces {
		pipelines, err := o.store.ListPipelineMetadata(ctx, ns.ID, storage.ListOptions{})
		if err != nil {
			o.log.WithField("error", err.Error()).Error("object expiry sweep: failed to list pipelines")
			continue
		}
		for _, p := range pipelines {
			o.sweepPipelineObjectExpiry(ctx, ns.ID, p.Pipeline)
		}
	}
}

func (o *Orchestrator) sweepPipelineObjectExpiry(ctx context.Context, namespace, pipeline string) {
	runs, err := o.store.ListRuns(ctx, namespace, pipeline, storage.ListOptions{})
	if err != nil {
		o.log.WithField("error", err.Error()).Error("object expiry sweep: failed to list runs")
		return
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID > runs[j].RunID })

	for i, r := range runs {
		if int64(i) < o.cfg.RunObjectExpiryDepth {
			continue
		}
		if r.StoreObjectsExpired {
			continue
		}
		if err := o.objects.ExpireRunObjects(ctx, namespace, pipeline, r.RunID); err != nil {
			o.log.WithField("error", err.Error()).Error("object expiry sweep: failed to expire run objects")
			continue
		}
		r.StoreObjectsExpired = true
		if err := o.store.UpdateRun(ctx, r); err != nil {
			o.log.WithField("error", err.Error()).Error("object expiry sweep: failed to persist expired run")
		}
	}
}

// logExpirySweepLoop wakes every SweepInterval and marks logs_expired=true on
// task executions whose logs have outlived LogRetention.
func (o *Orchestrator) logExpirySweepLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepLogExpiry(ctx)
		}
	}
}

func (o *Orchestrator) sweepLogExpiry(ctx context.Context) {
	namespaces, err := o.store.ListNamespaces(ctx, storage.ListOptions{})
	if err != nil {
		o.log.WithField("error", err.Error()).Error("log expiry sweep: failed to list namespaces")
		return
	}
	cutoff := o.cfg.LogRetention.Milliseconds()
	for _, ns := range namespaces {
		pipelines, err := o.store.ListPipelineMetadata(ctx, ns.ID, storage.ListOptions{})
		if err != nil {
			continue
		}
		for _, p := range pipelines {
			runs, err := o.store.ListRuns(ctx, ns.ID, p.Pipeline, storage.ListOptions{})
			if err != nil {
				continue
			}
			for _, r := range runs {
				o.sweepRunLogExpiry(ctx, ns.ID, p.Pipeline, r.RunID, cutoff)
			}
		}
	}
}

func (o *Orchestrator) sweepRunLogExpiry(ctx context.Context, namespace, pipeline string, runID, cutoffMillis int64) {
	texs, err := o.store.ListTaskExecutions(ctx, namespace, pipeline, runID)
	if err != nil {
		o.log.WithField("error", err.Error()).Error("log expiry sweep: failed to list task executions")
		return
	}
	for _, t := range texs {
		if t.State != models.TaskExecutionStateComplete || t.LogsExpired || t.Ended == 0 {
			continue
		}
		if models.NowMilli()-t.Ended < cutoffMillis {
			continue
		}
		if err := o.store.DeleteLogChunks(ctx, namespace, pipeline, runID, t.TaskID); err != nil {
			o.log.WithField("error", err.Error()).Error("log expiry sweep: failed to delete log chunks")
			continue
		}
		t.LogsExpired = true
		if err := o.store.UpdateTaskExecution(ctx, t); err != nil {
			o.log.WithField("error", err.Error()).Error("log expiry sweep: failed to persist expired task execution")
		}
	}
}
