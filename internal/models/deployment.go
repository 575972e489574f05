package models

// DeploymentState tracks whether a version-swap is in flight or finished.
type DeploymentState string

const (
	DeploymentStateUnknown  DeploymentState = "UNKNOWN"
	DeploymentStateRunning  DeploymentState = "RUNNING"
	DeploymentStateComplete DeploymentState = "COMPLETE"
)

// DeploymentStatus is the terminal outcome of a Deployment.
type DeploymentStatus string

const (
	DeploymentStatusUnknown    DeploymentStatus = "UNKNOWN"
	DeploymentStatusSuccessful DeploymentStatus = "SUCCESSFUL"
	DeploymentStatusFailed     DeploymentStatus = "FAILED"
)

// DeploymentLogEntry records one step of the subscription reconciliation
// a Deployment performs (subscribe/unsubscribe of extensions).
type DeploymentLogEntry struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// Deployment represents one attempted transition of a pipeline from
// start_version (currently Live) to end_version (candidate).
type Deployment struct {
	Namespace    string                `json:"namespace"`
	Pipeline     string                `json:"pipeline"`
	DeploymentID int64                 `json:"deployment_id"`
	StartVersion int64                 `json:"start_version"`
	EndVersion   int64                 `json:"end_version"`
	Started      int64                 `json:"started"`
	Ended        int64                 `json:"ended"`
	State        DeploymentState       `json:"state"`
	Status       DeploymentStatus      `json:"status"`
	StatusReason string                `json:"status_reason,omitempty"`
	Logs         []DeploymentLogEntry  `json:"logs"`
}

func NewDeployment(namespace, pipeline string, deploymentID, startVersion, endVersion int64) *Deployment {
	return &Deployment{
		Namespace:    namespace,
		Pipeline:     pipeline,
		DeploymentID: deploymentID,
		StartVersion: startVersion,
		EndVersion:   endVersion,
		Started:      NowMilli(),
		State:        DeploymentStateRunning,
		Status:       DeploymentStatusUnknown,
		Logs:         []DeploymentLogEntry{},
	}
}

func (d *Deployment) AppendLog(message string) {
	d.Logs = append(d.Logs, DeploymentLogEntry{Timestamp: NowMilli(), Message: message})
}
