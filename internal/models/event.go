package models

import "encoding/json"

// EventKind identifies the closed set of facts the event bus can publish.
// "Any" exists only as a subscription filter and must never be published.
type EventKind string

const (
	EventKindAny EventKind = "ANY"

	EventKindCreatedNamespace EventKind = "CREATED_NAMESPACE"
	EventKindDeletedNamespace EventKind = "DELETED_NAMESPACE"

	EventKindEnabledPipeline  EventKind = "ENABLED_PIPELINE"
	EventKindDisabledPipeline EventKind = "DISABLED_PIPELINE"
	EventKindCreatedPipeline  EventKind = "CREATED_PIPELINE"
	EventKindDeletedPipeline  EventKind = "DELETED_PIPELINE"

	EventKindStartedDeployment   EventKind = "STARTED_DEPLOYMENT"
	EventKindCompletedDeployment EventKind = "COMPLETED_DEPLOYMENT"

	EventKindQueuedRun               EventKind = "QUEUED_RUN"
	EventKindStartedRun              EventKind = "STARTED_RUN"
	EventKindStartedRunCancellation   EventKind = "STARTED_RUN_CANCELLATION"
	EventKindCompletedRun             EventKind = "COMPLETED_RUN"

	EventKindCreatedTaskExecution             EventKind = "CREATED_TASK_EXECUTION"
	EventKindStartedTaskExecution             EventKind = "STARTED_TASK_EXECUTION"
	EventKindCompletedTaskExecution           EventKind = "COMPLETED_TASK_EXECUTION"
	EventKindStartedTaskExecutionCancellation EventKind = "STARTED_TASK_EXECUTION_CANCELLATION"

	EventKindInstalledExtension   EventKind = "INSTALLED_EXTENSION"
	EventKindUninstalledExtension EventKind = "UNINSTALLED_EXTENSION"
	EventKindEnabledExtension     EventKind = "ENABLED_EXTENSION"
	EventKindDisabledExtension    EventKind = "DISABLED_EXTENSION"

	EventKindPipelineExtensionSubscriptionRegistered   EventKind = "PIPELINE_EXTENSION_SUBSCRIPTION_REGISTERED"
	EventKindPipelineExtensionSubscriptionUnregistered EventKind = "PIPELINE_EXTENSION_SUBSCRIPTION_UNREGISTERED"

	EventKindCreatedRole EventKind = "CREATED_ROLE"
	EventKindDeletedRole EventKind = "DELETED_ROLE"
)

// Event is an immutable fact. ID is a time-sortable UUID (v7); listing ordered
// by ID is equivalent to ordered by Emitted.
type Event struct {
	ID      string         `json:"id"`
	Kind    EventKind      `json:"-"`
	Payload map[string]any `json:"-"`
	Emitted int64          `json:"emitted"`
}

// wireEvent is the `{id, kind: {tag: payload}, emitted}` wire frame shape.
type wireEvent struct {
	ID      string                     `json:"id"`
	Kind    map[EventKind]map[string]any `json:"kind"`
	Emitted int64                      `json:"emitted"`
}

func (e *Event) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return json.Marshal(wireEvent{
		ID:      e.ID,
		Kind:    map[EventKind]map[string]any{e.Kind: payload},
		Emitted: e.Emitted,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.ID = w.ID
	e.Emitted = w.Emitted
	for k, v := range w.Kind {
		e.Kind = k
		e.Payload = v
		break
	}
	return nil
}
