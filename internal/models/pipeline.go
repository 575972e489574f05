package models

// PipelineMetadataState is the lifecycle state of a pipeline's stable identity.
type PipelineMetadataState string

const (
	PipelineMetadataStateUnknown  PipelineMetadataState = "UNKNOWN"
	PipelineMetadataStateActive   PipelineMetadataState = "ACTIVE"
	PipelineMetadataStateDisabled PipelineMetadataState = "DISABLED"
)

// PipelineMetadata is the stable identity of a pipeline within a namespace;
// it outlives any particular PipelineConfig version.
type PipelineMetadata struct {
	Namespace string                `json:"namespace"`
	Pipeline  string                `json:"pipeline"`
	State     PipelineMetadataState `json:"state"`
	Created   int64                 `json:"created"`
	Modified  int64                 `json:"modified"`
}

func NewPipelineMetadata(namespace, pipeline string) *PipelineMetadata {
	now := NowMilli()
	return &PipelineMetadata{
		Namespace: namespace,
		Pipeline:  pipeline,
		State:     PipelineMetadataStateActive,
		Created:   now,
		Modified:  now,
	}
}

// PipelineConfigState is the lifecycle state of a single config version.
type PipelineConfigState string

const (
	PipelineConfigStateUnknown    PipelineConfigState = "UNKNOWN"
	PipelineConfigStateLive       PipelineConfigState = "LIVE"
	PipelineConfigStateDeprecated PipelineConfigState = "DEPRECATED"
)

// RequiredParentStatus is the predicate a task's dependency on a parent must
// satisfy before the task itself may run.
type RequiredParentStatus string

const (
	RequiredParentStatusUnknown RequiredParentStatus = "UNKNOWN"
	RequiredParentStatusAny     RequiredParentStatus = "ANY"
	RequiredParentStatusSuccess RequiredParentStatus = "SUCCESS"
	RequiredParentStatusFailure RequiredParentStatus = "FAILURE"
)

// VariableSource records where a task/run variable originated, for display
// and for auditing which values came from secrets vs plain config.
type VariableSource string

const (
	VariableSourcePipelineConfig VariableSource = "PIPELINE_CONFIG"
	VariableSourceRunInitiator   VariableSource = "RUN_INITIATOR"
	VariableSourceSystem         VariableSource = "SYSTEM"
)

// Variable is a single key/value/source triple. Values tagged secret are
// redacted by the HTTP API layer, never by models or storage.
type Variable struct {
	Key    string         `json:"key"`
	Value  string         `json:"value"`
	Source VariableSource `json:"source"`
	Secret bool           `json:"secret"`
}

// RegistryAuth carries optional credentials for pulling a private image.
type RegistryAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Task is one node of a pipeline's DAG: a container plus its dependency edges.
type Task struct {
	ID             string                           `json:"id"`
	Image          string                           `json:"image"`
	RegistryAuth   *RegistryAuth                     `json:"registry_auth,omitempty"`
	DependsOn      map[string]RequiredParentStatus   `json:"depends_on"`
	Variables      []Variable                       `json:"variables"`
	Entrypoint     []string                         `json:"entrypoint,omitempty"`
	Command        []string                         `json:"command,omitempty"`
	InjectAPIToken bool                             `json:"inject_api_token"`
}

// ExtensionSubscriptionDecl is a pipeline config version's declared desire to
// be bound to an extension under a given label. A Deployment diffs the new
// config's declarations against the pipeline's currently registered
// ExtensionSubscription rows to decide what to subscribe and unsubscribe.
type ExtensionSubscriptionDecl struct {
	ExtensionID string     `json:"extension_id"`
	Label       string     `json:"label"`
	Settings    []Variable `json:"settings"`
}

// PipelineConfig is one versioned, user-authored pipeline definition.
type PipelineConfig struct {
	Namespace     string                      `json:"namespace"`
	Pipeline      string                      `json:"pipeline"`
	Version       int64                       `json:"version"`
	Parallelism   int64                       `json:"parallelism"`
	Name          string                      `json:"name"`
	Description   string                      `json:"description"`
	Registered    int64                       `json:"registered"`
	Deprecated    int64                       `json:"deprecated"`
	State         PipelineConfigState         `json:"state"`
	Tasks         []Task                      `json:"tasks"`
	Subscriptions []ExtensionSubscriptionDecl `json:"subscriptions"`
}

func NewPipelineConfig(namespace, pipeline string, version int64, name, description string, parallelism int64, tasks []Task) *PipelineConfig {
	return &PipelineConfig{
		Namespace:   namespace,
		Pipeline:    pipeline,
		Version:     version,
		Parallelism: parallelism,
		Name:        name,
		Description: description,
		Registered:  NowMilli(),
		Deprecated:  0,
		State:       PipelineConfigStateUnknown,
		Tasks:       tasks,
	}
}

// TaskByID returns the task with the given id, or false if absent.
func (c *PipelineConfig) TaskByID(id string) (Task, bool) {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}
