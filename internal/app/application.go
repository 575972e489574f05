// Package app wires the control plane's components into one running
// process: a functional-option builder plus a single struct exposing every
// wired component, with Start/Stop driving a small set of lifecycle-managed
// background Services: one storage.Store, one eventbus.Bus, one
// scheduler.Scheduler, and the
// secretstore/objectstore/orchestrator/deployment/extensionhost/auth
// packages built on top of them).
package app

import (
	"context"
	"fmt"

	"github.com/clintjedwards/gofer-sub002/internal/auth"
	"github.com/clintjedwards/gofer-sub002/internal/config"
	"github.com/clintjedwards/gofer-sub002/internal/deployment"
	"github.com/clintjedwards/gofer-sub002/internal/eventbus"
	"github.com/clintjedwards/gofer-sub002/internal/extensionhost"
	"github.com/clintjedwards/gofer-sub002/internal/gofercrypto"
	"github.com/clintjedwards/gofer-sub002/internal/objectstore"
	"github.com/clintjedwards/gofer-sub002/internal/orchestrator"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler/docker"
	"github.com/clintjedwards/gofer-sub002/internal/secretstore"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
	"github.com/clintjedwards/gofer-sub002/internal/storage/postgres"
	"github.com/clintjedwards/gofer-sub002/internal/storage/sqlite"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

// secretStoreSalt is the fixed, install-wide salt folded into the operator's
// master-key passphrase. Per-secret isolation comes from secretstore's own
// per-subject key derivation, not from this salt, so it does not need to
// vary per namespace the way gofercrypto.DeriveMasterKey's doc comment
// describes for its general case.
const secretStoreSalt = "gofer-secretstore-v1"

// Service is a lifecycle-managed background component. Anything Attached to
// an Application is Started in Attach order and Stopped in reverse.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Option customises how New wires the Application.
type Option func(*options)

type options struct {
	log       *logger.Logger
	scheduler scheduler.Scheduler
}

// WithLogger overrides the base logger every component tags with its own
// name. Omitted, New falls back to logger.NewDefault("gofer").
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithScheduler injects a scheduler.Scheduler in place of the Docker
// scheduler New would otherwise build from cfg, for tests and alternate
// deployments that front a different container runtime.
func WithScheduler(sched scheduler.Scheduler) Option {
	return func(o *options) { o.scheduler = sched }
}

// Application owns every wired component and the background services
// running on top of them.
type Application struct {
	Store        storage.Store
	Bus          *eventbus.Bus
	Scheduler    scheduler.Scheduler
	Secrets      *secretstore.Store
	Objects      *objectstore.Store
	Orchestrator *orchestrator.Orchestrator
	Deployer     *deployment.Deployer
	Extensions   *extensionhost.Host
	Auth         *auth.Authenticator

	log      *logger.Logger
	cfg      *config.Config
	services []Service
}

// New opens storage per cfg.StorageEngine and wires every component on top
// of it. The returned Application has not yet reconciled orphaned task
// executions, started background sweeps, or started extension containers;
// call Start for that.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.NewDefault("gofer")
	}
	log := o.log

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New(store, log, cfg.EventRetention, cfg.EventPruneInterval)

	sched := o.scheduler
	if sched == nil {
		dockerSched, err := docker.New(docker.Config{
			Host:          cfg.SchedulerDockerHost,
			Prune:         true,
			PruneInterval: cfg.SchedulerPruneInterval,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("construct scheduler: %w", err)
		}
		sched = dockerSched
	}

	masterKey := gofercrypto.DeriveMasterKey(cfg.SecretMasterKey, secretStoreSalt)
	secrets, err := secretstore.New(store, masterKey)
	if err != nil {
		return nil, fmt.Errorf("construct secret store: %w", err)
	}

	objects := objectstore.New(store)

	orch := orchestrator.New(store, bus, sched, secrets, objects, orchestrator.Config{
		GlobalParallelism:      cfg.GlobalParallelism,
		RunObjectExpiryDepth:   cfg.RunObjectExpiryDepth,
		DependencyPollInterval: cfg.DependencyPollInterval,
		LogRetention:           cfg.LogRetention,
		SweepInterval:          cfg.SweepInterval,
	}, log)

	deployer := deployment.New(store, bus, log)

	extensions := extensionhost.New(store, sched, extensionhost.Config{
		TLSCert:          cfg.ExtensionTLSCert,
		TLSKey:           cfg.ExtensionTLSKey,
		LogLevel:         cfg.ExtensionLogLevel,
		NetworkingPort:   cfg.ExtensionNetworkingPort,
		HealthCheckTries: cfg.ExtensionHealthCheckTries,
		HealthCheckWait:  cfg.ExtensionHealthCheckWait,
	}, log)

	authenticator := auth.New(store)

	return &Application{
		Store:        store,
		Bus:          bus,
		Scheduler:    sched,
		Secrets:      secrets,
		Objects:      objects,
		Orchestrator: orch,
		Deployer:     deployer,
		Extensions:   extensions,
		Auth:         authenticator,
		log:          log,
		cfg:          cfg,
	}, nil
}

// Attach registers an additional lifecycle-managed service, such as the HTTP
// API server. Call before Start.
func (a *Application) Attach(svc Service) {
	a.services = append(a.services, svc)
}

// Start reconciles orphaned task executions left over from a prior
// process, launches the orchestrator's background sweeps, starts every
// enabled extension's container, and starts every Attached Service, in
// that order: extensions and the HTTP API should come up against
// already-consistent run state, not mid-reconciliation.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Orchestrator.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile orphaned task executions: %w", err)
	}
	a.Orchestrator.StartBackgroundSweeps(ctx)

	if err := a.Extensions.StartAll(ctx); err != nil {
		a.log.WithField("error", err.Error()).Error("one or more extensions failed to start")
	}

	for _, svc := range a.services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// Stop stops every Attached Service in reverse-Attach order, then shuts down
// extension containers, closes the event bus, and closes storage.
func (a *Application) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(a.services) - 1; i >= 0; i-- {
		svc := a.services[i]
		if err := svc.Stop(ctx); err != nil {
			a.log.WithField("service", svc.Name()).WithField("error", err.Error()).Error("service failed to stop cleanly")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := a.Extensions.Shutdown(ctx, 30); err != nil {
		a.log.WithField("error", err.Error()).Error("one or more extensions failed to shut down cleanly")
		if firstErr == nil {
			firstErr = err
		}
	}

	a.Bus.Close()

	if err := a.Store.Close(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageEngine {
	case "", "sqlite":
		return sqlite.Open(cfg.SQLitePath, cfg.SQLiteReadConns)
	case "postgres":
		return postgres.Open(cfg.PostgresDSN, cfg.SQLiteReadConns)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.StorageEngine)
	}
}
