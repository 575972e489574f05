package models

import "encoding/json"

// TaskExecutionState is the per-task lifecycle state.
type TaskExecutionState string

const (
	TaskExecutionStateUnknown    TaskExecutionState = "UNKNOWN"
	TaskExecutionStateProcessing TaskExecutionState = "PROCESSING"
	TaskExecutionStateWaiting    TaskExecutionState = "WAITING"
	TaskExecutionStateRunning    TaskExecutionState = "RUNNING"
	TaskExecutionStateComplete   TaskExecutionState = "COMPLETE"
)

// TaskExecutionStatus is the terminal outcome of a task execution.
type TaskExecutionStatus string

const (
	TaskExecutionStatusUnknown    TaskExecutionStatus = "UNKNOWN"
	TaskExecutionStatusFailed     TaskExecutionStatus = "FAILED"
	TaskExecutionStatusSuccessful TaskExecutionStatus = "SUCCESSFUL"
	TaskExecutionStatusCancelled  TaskExecutionStatus = "CANCELLED"
	TaskExecutionStatusSkipped    TaskExecutionStatus = "SKIPPED"
)

// TaskExecutionStatusReasonKind is the closed set of terminal-status reasons.
type TaskExecutionStatusReasonKind string

const (
	TaskExecutionStatusReasonKindUnknown            TaskExecutionStatusReasonKind = "UNKNOWN"
	TaskExecutionStatusReasonKindAbnormalExit       TaskExecutionStatusReasonKind = "ABNORMAL_EXIT"
	TaskExecutionStatusReasonKindSchedulerError     TaskExecutionStatusReasonKind = "SCHEDULER_ERROR"
	TaskExecutionStatusReasonKindFailedPrecondition TaskExecutionStatusReasonKind = "FAILED_PRECONDITION"
	TaskExecutionStatusReasonKindCancelled          TaskExecutionStatusReasonKind = "CANCELLED"
	TaskExecutionStatusReasonKindOrphaned           TaskExecutionStatusReasonKind = "ORPHANED"
)

// TaskExecutionStatusReason is a tagged variant: reason kind plus description.
type TaskExecutionStatusReason struct {
	Reason      TaskExecutionStatusReasonKind `json:"reason"`
	Description string                        `json:"description"`
}

func (t *TaskExecutionStatusReason) ToJSON() string {
	if t == nil {
		return "{}"
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// TaskExecution is an individual container execution belonging to a Run.
// Key: (Namespace, Pipeline, RunID, TaskID).
type TaskExecution struct {
	Namespace    string                     `json:"namespace"`
	Pipeline     string                     `json:"pipeline"`
	RunID        int64                      `json:"run_id"`
	TaskID       string                     `json:"id"`
	Created      int64                      `json:"created"`
	Started      int64                      `json:"started"`
	Ended        int64                      `json:"ended"`
	ExitCode     *int64                     `json:"exit_code"`
	LogsExpired  bool                       `json:"logs_expired"`
	LogsRemoved  bool                       `json:"logs_removed"`
	State        TaskExecutionState         `json:"state"`
	Status       TaskExecutionStatus        `json:"status"`
	StatusReason *TaskExecutionStatusReason `json:"status_reason,omitempty"`
	Variables    []Variable                 `json:"variables"`
	Task         Task                       `json:"task"`
}

func NewTaskExecution(namespace, pipeline string, runID int64, task Task) *TaskExecution {
	return &TaskExecution{
		Namespace: namespace,
		Pipeline:  pipeline,
		RunID:     runID,
		TaskID:    task.ID,
		Created:   NowMilli(),
		State:     TaskExecutionStateProcessing,
		Status:    TaskExecutionStatusUnknown,
		Variables: []Variable{},
		Task:      task,
	}
}

// IsTerminalStatus reports whether status is one of the four terminal values.
func IsTerminalTaskStatus(s TaskExecutionStatus) bool {
	switch s {
	case TaskExecutionStatusSuccessful, TaskExecutionStatusFailed, TaskExecutionStatusCancelled, TaskExecutionStatusSkipped:
		return true
	default:
		return false
	}
}
