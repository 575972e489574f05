package models

import "encoding/json"

// RunState is the coarse lifecycle state of a Run.
type RunState string

const (
	RunStateUnknown  RunState = "UNKNOWN"
	RunStatePending  RunState = "PENDING"
	RunStateRunning  RunState = "RUNNING"
	RunStateComplete RunState = "COMPLETE"
)

// RunStatus is the terminal outcome of a Run.
type RunStatus string

const (
	RunStatusUnknown    RunStatus = "UNKNOWN"
	RunStatusSuccessful RunStatus = "SUCCESSFUL"
	RunStatusFailed     RunStatus = "FAILED"
	RunStatusCancelled  RunStatus = "CANCELLED"
)

// RunStatusReasonKind is the closed set of reasons a Run can fail or be
// cancelled, mirroring the task-execution reason kinds one level up.
type RunStatusReasonKind string

const (
	RunStatusReasonKindUnknown            RunStatusReasonKind = "UNKNOWN"
	RunStatusReasonKindAbnormalExit       RunStatusReasonKind = "ABNORMAL_EXIT"
	RunStatusReasonKindSchedulerError     RunStatusReasonKind = "SCHEDULER_ERROR"
	RunStatusReasonKindFailedPrecondition RunStatusReasonKind = "FAILED_PRECONDITION"
	RunStatusReasonKindUserCancelled      RunStatusReasonKind = "USER_CANCELLED"
	RunStatusReasonKindAdminCancelled     RunStatusReasonKind = "ADMIN_CANCELLED"
	RunStatusReasonKindOrphaned           RunStatusReasonKind = "ORPHANED"
)

// RunStatusReason is a tagged variant: a reason kind plus human description.
type RunStatusReason struct {
	Reason      RunStatusReasonKind `json:"reason"`
	Description string              `json:"description"`
}

func (r *RunStatusReason) ToJSON() string {
	if r == nil {
		return "{}"
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// InitiatorType distinguishes who/what started a run.
type InitiatorType string

const (
	InitiatorTypeUnknown   InitiatorType = "UNKNOWN"
	InitiatorTypeHuman     InitiatorType = "HUMAN"
	InitiatorTypeExtension InitiatorType = "EXTENSION"
	InitiatorTypeSystem    InitiatorType = "SYSTEM"
)

// Initiator records who/what caused a Run to be created.
type Initiator struct {
	Type   InitiatorType `json:"type"`
	Name   string        `json:"name"`
	Reason string        `json:"reason"`
}

// Run is a single execution attempt of a pipeline at a specific config version.
type Run struct {
	Namespace            string           `json:"namespace"`
	Pipeline             string           `json:"pipeline"`
	RunID                int64            `json:"run_id"`
	PipelineConfigVersion int64           `json:"pipeline_config_version"`
	Started              int64            `json:"started"`
	Ended                int64            `json:"ended"`
	State                RunState         `json:"state"`
	Status               RunStatus        `json:"status"`
	StatusReason         *RunStatusReason `json:"status_reason,omitempty"`
	Initiator            Initiator        `json:"initiator"`
	Variables            []Variable       `json:"variables"`
	TokenID              string           `json:"token_id,omitempty"`
	StoreObjectsExpired  bool             `json:"store_objects_expired"`
}

func NewRun(namespace, pipeline string, runID, configVersion int64, initiator Initiator, variables []Variable) *Run {
	return &Run{
		Namespace:             namespace,
		Pipeline:              pipeline,
		RunID:                 runID,
		PipelineConfigVersion: configVersion,
		State:                 RunStatePending,
		Status:                RunStatusUnknown,
		Initiator:             initiator,
		Variables:             variables,
		StoreObjectsExpired:   false,
	}
}

// IsTerminal reports whether no further task executions will be forked for
// this run's state (Complete is the only terminal state).
func (r *Run) IsTerminal() bool {
	return r.State == RunStateComplete
}
