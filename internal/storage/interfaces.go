// Package storage defines one narrow interface per entity family:
// Create/Get/List/Update/Delete per domain, context-first, returning the
// project's gofererr taxonomy on failure.
package storage

import (
	"context"

	"github.com/clintjedwards/gofer-sub002/internal/models"
)

const DefaultListLimit = 200

// ListOptions controls pagination/filtering common to every List method.
type ListOptions struct {
	Offset int
	Limit  int // 0 means DefaultListLimit
}

func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 || o.Limit > DefaultListLimit {
		o.Limit = DefaultListLimit
	}
	return o
}

// NamespaceStore persists Namespace entities.
type NamespaceStore interface {
	InsertNamespace(ctx context.Context, ns *models.Namespace) error
	GetNamespace(ctx context.Context, id string) (*models.Namespace, error)
	ListNamespaces(ctx context.Context, opts ListOptions) ([]*models.Namespace, error)
	UpdateNamespace(ctx context.Context, id string, fields UpdatableNamespaceFields) error
	DeleteNamespace(ctx context.Context, id string) error
}

// UpdatableNamespaceFields is a field-subset update descriptor; nil fields are untouched.
type UpdatableNamespaceFields struct {
	Name        *string
	Description *string
}

// PipelineStore persists PipelineMetadata and PipelineConfig (+Task) entities.
type PipelineStore interface {
	InsertPipelineMetadata(ctx context.Context, p *models.PipelineMetadata) error
	GetPipelineMetadata(ctx context.Context, namespace, pipeline string) (*models.PipelineMetadata, error)
	ListPipelineMetadata(ctx context.Context, namespace string, opts ListOptions) ([]*models.PipelineMetadata, error)
	UpdatePipelineMetadata(ctx context.Context, namespace, pipeline string, fields UpdatablePipelineMetadataFields) error
	DeletePipelineMetadata(ctx context.Context, namespace, pipeline string) error

	InsertPipelineConfig(ctx context.Context, c *models.PipelineConfig) error
	GetPipelineConfig(ctx context.Context, namespace, pipeline string, version int64) (*models.PipelineConfig, error)
	GetLivePipelineConfig(ctx context.Context, namespace, pipeline string) (*models.PipelineConfig, error)
	ListPipelineConfigs(ctx context.Context, namespace, pipeline string, opts ListOptions) ([]*models.PipelineConfig, error)
	UpdatePipelineConfigState(ctx context.Context, namespace, pipeline string, version int64, state models.PipelineConfigState, deprecated int64) error
	// SwapLivePipelineConfig atomically deprecates startVersion and marks
	// endVersion Live within a single transaction, preserving the
	// at-most-one-Live invariant even under concurrent deploy attempts.
	SwapLivePipelineConfig(ctx context.Context, namespace, pipeline string, startVersion, endVersion int64) error
}

type UpdatablePipelineMetadataFields struct {
	State *models.PipelineMetadataState
}

// DeploymentStore persists Deployment entities.
type DeploymentStore interface {
	InsertDeployment(ctx context.Context, d *models.Deployment) error
	GetDeployment(ctx context.Context, namespace, pipeline string, deploymentID int64) (*models.Deployment, error)
	ListDeployments(ctx context.Context, namespace, pipeline string, opts ListOptions) ([]*models.Deployment, error)
	ListRunningDeployments(ctx context.Context, namespace, pipeline string) ([]*models.Deployment, error)
	MaxDeploymentID(ctx context.Context, namespace, pipeline string) (int64, error)
	UpdateDeployment(ctx context.Context, d *models.Deployment) error
}

// RunStore persists Run entities.
type RunStore interface {
	InsertRun(ctx context.Context, r *models.Run) error
	GetRun(ctx context.Context, namespace, pipeline string, runID int64) (*models.Run, error)
	ListRuns(ctx context.Context, namespace, pipeline string, opts ListOptions) ([]*models.Run, error)
	ListNonTerminalRuns(ctx context.Context, namespace, pipeline string) ([]*models.Run, error)
	MaxRunID(ctx context.Context, namespace, pipeline string) (int64, error)
	UpdateRun(ctx context.Context, r *models.Run) error
	// AllocateAndInsertRun allocates the next run_id and inserts build(nextID)
	// atomically, so two concurrent start_run calls can never collide on id.
	AllocateAndInsertRun(ctx context.Context, namespace, pipeline string, build func(nextID int64) *models.Run) (*models.Run, error)
}

// TaskExecutionStore persists TaskExecution entities.
type TaskExecutionStore interface {
	InsertTaskExecution(ctx context.Context, t *models.TaskExecution) error
	GetTaskExecution(ctx context.Context, namespace, pipeline string, runID int64, taskID string) (*models.TaskExecution, error)
	ListTaskExecutions(ctx context.Context, namespace, pipeline string, runID int64) ([]*models.TaskExecution, error)
	ListNonTerminalTaskExecutions(ctx context.Context) ([]*models.TaskExecution, error)
	UpdateTaskExecution(ctx context.Context, t *models.TaskExecution) error
}

// EventStore persists the durable event log.
type EventStore interface {
	InsertEvent(ctx context.Context, e *models.Event) error
	ListEventsFrom(ctx context.Context, startFrom string, limit int) ([]*models.Event, error)
	DeletePrunableEvents(ctx context.Context, olderThan int64, pageSize int) (int, error)
}

// ExtensionStore persists extension registrations and subscriptions.
type ExtensionStore interface {
	InsertExtensionRegistration(ctx context.Context, e *models.ExtensionRegistration) error
	GetExtensionRegistration(ctx context.Context, extensionID string) (*models.ExtensionRegistration, error)
	ListExtensionRegistrations(ctx context.Context) ([]*models.ExtensionRegistration, error)
	UpdateExtensionRegistrationStatus(ctx context.Context, extensionID string, status models.ExtensionRegistrationStatus) error
	DeleteExtensionRegistration(ctx context.Context, extensionID string) error

	InsertExtensionSubscription(ctx context.Context, s *models.ExtensionSubscription) error
	GetExtensionSubscription(ctx context.Context, namespace, pipeline, extensionID, label string) (*models.ExtensionSubscription, error)
	ListExtensionSubscriptions(ctx context.Context, namespace, pipeline string) ([]*models.ExtensionSubscription, error)
	DeleteExtensionSubscription(ctx context.Context, namespace, pipeline, extensionID, label string) error
}

// TokenStore persists API tokens.
type TokenStore interface {
	InsertToken(ctx context.Context, t *models.Token) error
	GetToken(ctx context.Context, id string) (*models.Token, error)
	GetTokenByHash(ctx context.Context, hash string) (*models.Token, error)
	ListTokens(ctx context.Context, opts ListOptions) ([]*models.Token, error)
	DeleteToken(ctx context.Context, id string) error
}

// RoleStore persists Role entities.
type RoleStore interface {
	InsertRole(ctx context.Context, r *models.Role) error
	GetRole(ctx context.Context, id string) (*models.Role, error)
	ListRoles(ctx context.Context) ([]*models.Role, error)
	DeleteRole(ctx context.Context, id string) error
}

// SecretStore persists encrypted key/bytes pairs scoped to a namespace/pipeline.
type SecretStore interface {
	PutSecret(ctx context.Context, scope, key string, encryptedValue []byte) error
	GetSecret(ctx context.Context, scope, key string) ([]byte, error)
	ListSecretKeys(ctx context.Context, scopePrefix string) ([]string, error)
	DeleteSecret(ctx context.Context, scope, key string) error
}

// ObjectStore persists raw key/bytes pairs scoped to namespace/pipeline/run/extension.
type ObjectStore interface {
	PutObject(ctx context.Context, scope, key string, value []byte) error
	GetObject(ctx context.Context, scope, key string) ([]byte, error)
	ListObjectKeys(ctx context.Context, scopePrefix string) ([]string, error)
	DeleteObject(ctx context.Context, scope, key string) error
	CountObjects(ctx context.Context, scopePrefix string) (int, error)
	OldestObjectKey(ctx context.Context, scopePrefix string) (string, bool, error)
}

// LogChunk is one append-only slice of a task execution's captured output.
// Kind is "stdout", "stderr", or "eof" (the sentinel the log-tail reader
// uses to tell "still writing" from "stream complete").
type LogChunk struct {
	Seq  int64
	Kind string
	Data []byte
}

// LogStore persists streamed task-execution log output, append-only and
// keyed by task execution identity, so a container's logs survive past its
// own lifetime (spec: "durable log storage keyed by the task execution identity").
type LogStore interface {
	AppendLogChunk(ctx context.Context, namespace, pipeline string, runID int64, taskID string, seq int64, kind string, data []byte) error
	ListLogChunks(ctx context.Context, namespace, pipeline string, runID int64, taskID string) ([]LogChunk, error)
	DeleteLogChunks(ctx context.Context, namespace, pipeline string, runID int64, taskID string) error
}

// Store aggregates every entity-family interface; sqlite.Store and
// postgres.Store both satisfy it in full.
type Store interface {
	NamespaceStore
	PipelineStore
	DeploymentStore
	RunStore
	TaskExecutionStore
	EventStore
	ExtensionStore
	TokenStore
	RoleStore
	SecretStore
	ObjectStore
	LogStore

	Close() error
}
