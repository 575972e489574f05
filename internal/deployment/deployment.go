// Package deployment implements the Deployment FSM: the
// protocol that transitions a pipeline from its currently Live config
// version to a candidate version, reconciling extension subscriptions along
// the way. Grounded on the same state-machine shape as internal/orchestrator
// (assert-preconditions, mutate, emit, persist) but single-shot rather than
// forked per task, since a deployment has no DAG to walk.
package deployment

import (
	"context"
	"fmt"

	"github.com/clintjedwards/gofer-sub002/internal/eventbus"
	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

// Deployer drives pipeline config deploys to completion.
type Deployer struct {
	store storage.Store
	bus   *eventbus.Bus
	log   *logger.Logger
}

func New(store storage.Store, bus *eventbus.Bus, log *logger.Logger) *Deployer {
	return &Deployer{store: store, bus: bus, log: log}
}

// subscriptionOp is one subscribe/unsubscribe step applied (or rolled back)
// while reconciling extension subscriptions.
type subscriptionOp struct {
	subscribe bool
	existing  *models.ExtensionSubscription // non-nil only for unsubscribe rollback
	decl      models.ExtensionSubscriptionDecl
}

// Deploy runs the six-step deployment protocol: it transitions pipeline
// namespace/pipeline from its current Live config to endVersion, returning
// the terminal Deployment record (Successful or Failed; a Failed outcome is
// a normal return, not an error — only admission/storage failures are
// returned as errors).
func (d *Deployer) Deploy(ctx context.Context, namespace, pipeline string, endVersion int64) (*models.Deployment, error) {
	// Step 1: no concurrent deploy for this pipeline.
	running, err := d.store.ListRunningDeployments(ctx, namespace, pipeline)
	if err != nil {
		return nil, gofererr.NewFailedPrecondition("could not verify no deployment is already running")
	}
	if len(running) > 0 {
		return nil, gofererr.NewFailedPrecondition(fmt.Sprintf("pipeline %s/%s already has a deployment in progress", namespace, pipeline))
	}

	liveCfg, err := d.store.GetLivePipelineConfig(ctx, namespace, pipeline)
	if err != nil {
		if gofererr.IsNotFound(err) {
			return nil, gofererr.NewFailedPrecondition(fmt.Sprintf("pipeline %s/%s has no live config version", namespace, pipeline))
		}
		return nil, err
	}

	// Deploying to the version already Live is a no-op success (edge case).
	if liveCfg.Version == endVersion {
		dep, err := d.noOpDeployment(ctx, namespace, pipeline, liveCfg.Version)
		if err != nil {
			return nil, err
		}
		return dep, nil
	}

	endCfg, err := d.store.GetPipelineConfig(ctx, namespace, pipeline, endVersion)
	if err != nil {
		if gofererr.IsNotFound(err) {
			return nil, gofererr.NewFailedPrecondition(fmt.Sprintf("pipeline %s/%s has no config version %d", namespace, pipeline, endVersion))
		}
		return nil, err
	}

	// Step 2: assign deployment_id = max(existing)+1.
	maxID, err := d.store.MaxDeploymentID(ctx, namespace, pipeline)
	if err != nil {
		return nil, err
	}
	dep := models.NewDeployment(namespace, pipeline, maxID+1, liveCfg.Version, endVersion)
	if err := d.store.InsertDeployment(ctx, dep); err != nil {
		return nil, err
	}

	// Step 3: mark end_version candidate / start_version deprecating, emit StartedDeployment.
	if err := d.store.UpdatePipelineConfigState(ctx, namespace, pipeline, liveCfg.Version, models.PipelineConfigStateDeprecated, 0); err != nil {
		d.fail(ctx, dep, fmt.Sprintf("could not mark start_version %d deprecating: %s", liveCfg.Version, err.Error()), nil)
		return dep, nil
	}
	dep.AppendLog(fmt.Sprintf("marking version %d deprecating, version %d candidate", liveCfg.Version, endVersion))
	d.bus.Publish(models.EventKindStartedDeployment, map[string]any{
		"namespace":     namespace,
		"pipeline":      pipeline,
		"deployment_id": dep.DeploymentID,
		"start_version": dep.StartVersion,
		"end_version":   dep.EndVersion,
	})

	// Step 4: reconcile extension subscriptions; track applied ops so a
	// later failure can be rolled back in reverse order.
	applied, err := d.reconcileSubscriptions(ctx, namespace, pipeline, endCfg.Subscriptions, dep)
	if err != nil {
		d.rollback(ctx, namespace, pipeline, applied, dep)
		d.fail(ctx, dep, err.Error(), &liveCfg.Version)
		if rbErr := d.store.UpdatePipelineConfigState(ctx, namespace, pipeline, liveCfg.Version, models.PipelineConfigStateLive, 0); rbErr != nil {
			d.log.WithField("error", rbErr.Error()).Error("deployment rollback: failed to restore start_version as live")
		}
		return dep, nil
	}

	// Step 5: flip Live pointer, mark deployment Successful.
	if err := d.store.SwapLivePipelineConfig(ctx, namespace, pipeline, liveCfg.Version, endVersion); err != nil {
		d.rollback(ctx, namespace, pipeline, applied, dep)
		d.fail(ctx, dep, fmt.Sprintf("could not swap live pipeline config: %s", err.Error()), &liveCfg.Version)
		return dep, nil
	}

	dep.State = models.DeploymentStateComplete
	dep.Status = models.DeploymentStatusSuccessful
	dep.Ended = models.NowMilli()
	dep.AppendLog(fmt.Sprintf("version %d is now live", endVersion))
	if err := d.store.UpdateDeployment(ctx, dep); err != nil {
		return nil, err
	}
	d.bus.Publish(models.EventKindCompletedDeployment, map[string]any{
		"namespace":     namespace,
		"pipeline":      pipeline,
		"deployment_id": dep.DeploymentID,
		"status":        string(dep.Status),
	})
	return dep, nil
}

// noOpDeployment records a trivially-successful Deployment for a deploy
// request targeting the already-live version.
func (d *Deployer) noOpDeployment(ctx context.Context, namespace, pipeline string, version int64) (*models.Deployment, error) {
	maxID, err := d.store.MaxDeploymentID(ctx, namespace, pipeline)
	if err != nil {
		return nil, err
	}
	dep := models.NewDeployment(namespace, pipeline, maxID+1, version, version)
	dep.State = models.DeploymentStateComplete
	dep.Status = models.DeploymentStatusSuccessful
	dep.Ended = models.NowMilli()
	dep.AppendLog(fmt.Sprintf("version %d is already live, nothing to do", version))
	if err := d.store.InsertDeployment(ctx, dep); err != nil {
		return nil, err
	}
	d.bus.Publish(models.EventKindCompletedDeployment, map[string]any{
		"namespace":     namespace,
		"pipeline":      pipeline,
		"deployment_id": dep.DeploymentID,
		"status":        string(dep.Status),
	})
	return dep, nil
}

// fail marks dep Failed with the given reason; if startVersion is non-nil it
// is noted in the log as having been restored.
func (d *Deployer) fail(ctx context.Context, dep *models.Deployment, reason string, restoredStartVersion *int64) {
	dep.State = models.DeploymentStateComplete
	dep.Status = models.DeploymentStatusFailed
	dep.StatusReason = reason
	dep.Ended = models.NowMilli()
	dep.AppendLog(reason)
	if restoredStartVersion != nil {
		dep.AppendLog(fmt.Sprintf("restored version %d as live", *restoredStartVersion))
	}
	if err := d.store.UpdateDeployment(ctx, dep); err != nil {
		d.log.WithField("error", err.Error()).Error("failed to persist failed deployment")
	}
	d.bus.Publish(models.EventKindCompletedDeployment, map[string]any{
		"namespace":     dep.Namespace,
		"pipeline":      dep.Pipeline,
		"deployment_id": dep.DeploymentID,
		"status":        string(dep.Status),
		"status_reason": dep.StatusReason,
	})
}

// reconcileSubscriptions subscribes every declared subscription absent from
// the pipeline's current bindings and unsubscribes every current binding
// absent from the new declarations, appending a Deployment log entry per
// op. It stops and returns an error on the first storage failure so Deploy
// can roll back everything applied so far.
func (d *Deployer) reconcileSubscriptions(ctx context.Context, namespace, pipeline string, declared []models.ExtensionSubscriptionDecl, dep *models.Deployment) ([]subscriptionOp, error) {
	current, err := d.store.ListExtensionSubscriptions(ctx, namespace, pipeline)
	if err != nil {
		return nil, fmt.Errorf("could not list current extension subscriptions: %w", err)
	}

	currentByLabel := make(map[string]*models.ExtensionSubscription, len(current))
	for _, s := range current {
		currentByLabel[s.Label] = s
	}
	declaredByLabel := make(map[string]models.ExtensionSubscriptionDecl, len(declared))
	for _, decl := range declared {
		declaredByLabel[decl.Label] = decl
	}

	var applied []subscriptionOp

	for _, decl := range declared {
		if _, ok := currentByLabel[decl.Label]; ok {
			continue
		}
		sub := models.NewExtensionSubscription(namespace, pipeline, decl.ExtensionID, decl.Label, decl.Settings)
		if err := d.store.InsertExtensionSubscription(ctx, sub); err != nil {
			return applied, fmt.Errorf("could not subscribe %s/%s: %w", decl.ExtensionID, decl.Label, err)
		}
		dep.AppendLog(fmt.Sprintf("subscribed extension %s under label %s", decl.ExtensionID, decl.Label))
		d.bus.Publish(models.EventKindPipelineExtensionSubscriptionRegistered, map[string]any{
			"namespace":    namespace,
			"pipeline":     pipeline,
			"extension_id": decl.ExtensionID,
			"label":        decl.Label,
		})
		applied = append(applied, subscriptionOp{subscribe: true, decl: decl})
	}

	for _, s := range current {
		if _, ok := declaredByLabel[s.Label]; ok {
			continue
		}
		if err := d.store.DeleteExtensionSubscription(ctx, namespace, pipeline, s.ExtensionID, s.Label); err != nil {
			return applied, fmt.Errorf("could not unsubscribe %s/%s: %w", s.ExtensionID, s.Label, err)
		}
		dep.AppendLog(fmt.Sprintf("unsubscribed extension %s under label %s", s.ExtensionID, s.Label))
		d.bus.Publish(models.EventKindPipelineExtensionSubscriptionUnregistered, map[string]any{
			"namespace":    namespace,
			"pipeline":     pipeline,
			"extension_id": s.ExtensionID,
			"label":        s.Label,
		})
		applied = append(applied, subscriptionOp{subscribe: false, existing: s, decl: models.ExtensionSubscriptionDecl{ExtensionID: s.ExtensionID, Label: s.Label, Settings: s.Settings}})
	}

	return applied, nil
}

// rollback undoes every subscription op in applied, in reverse order: a
// subscribe op is undone by deleting the row it created, an unsubscribe op
// is undone by re-inserting the binding it removed.
func (d *Deployer) rollback(ctx context.Context, namespace, pipeline string, applied []subscriptionOp, dep *models.Deployment) {
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		if op.subscribe {
			if err := d.store.DeleteExtensionSubscription(ctx, namespace, pipeline, op.decl.ExtensionID, op.decl.Label); err != nil {
				d.log.WithField("error", err.Error()).Error("deployment rollback: failed to remove subscription")
				continue
			}
			dep.AppendLog(fmt.Sprintf("rolled back subscribe of %s/%s", op.decl.ExtensionID, op.decl.Label))
		} else {
			if err := d.store.InsertExtensionSubscription(ctx, op.existing); err != nil {
				d.log.WithField("error", err.Error()).Error("deployment rollback: failed to restore subscription")
				continue
			}
			dep.AppendLog(fmt.Sprintf("rolled back unsubscribe of %s/%s", op.decl.ExtensionID, op.decl.Label))
		}
	}
}
