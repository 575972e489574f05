// Package scheduler defines the boundary between the orchestrator and
// whatever actually runs containers. The only implementation shipped here is
// internal/scheduler/docker, grounded on the reference implementation's
// scheduler::docker module (original_source/gofer/src/scheduler/docker.rs),
// but callers should depend only on this interface so a future Nomad or k8s
// backend can be dropped in without touching the orchestrator.
package scheduler

import (
	"context"
	"io"
)

// ContainerState mirrors the reference implementation's closed set of
// container lifecycle states (original_source/gofer/src/scheduler/mod.rs).
type ContainerState string

const (
	ContainerStateUnknown    ContainerState = "UNKNOWN"
	ContainerStateRunning    ContainerState = "RUNNING"
	ContainerStatePaused     ContainerState = "PAUSED"
	ContainerStateRestarting ContainerState = "RESTARTING"
	ContainerStateExited     ContainerState = "EXITED"
	ContainerStateCancelled  ContainerState = "CANCELLED"
)

// RegistryAuth carries optional credentials for pulling a private image.
type RegistryAuth struct {
	User string
	Pass string
}

// StartContainerRequest describes a container to bring up.
type StartContainerRequest struct {
	// ID uniquely identifies the container across the scheduler's namespace.
	ID string

	Image        string
	Variables    map[string]string
	RegistryAuth *RegistryAuth

	// AlwaysPull forces a pull even if the image already exists locally,
	// useful for callers that don't tag/version their images reliably.
	AlwaysPull bool

	// Networking, when non-zero, is the container port to publish on a
	// random host port; used only by the extension host to reach extension
	// containers over HTTP.
	Networking int

	Entrypoint []string
	Command    []string
}

// StartContainerResponse is what the scheduler hands back after a start.
type StartContainerResponse struct {
	// SchedulerID is the scheduler's own identifier for the container, when
	// it differs from the caller-provided ID.
	SchedulerID string

	// URL is set only when Networking was requested.
	URL string
}

// StopContainerRequest describes a graceful-then-forceful stop.
type StopContainerRequest struct {
	ID string
	// Timeout is how long to wait for a graceful stop, in seconds, before
	// issuing SIGKILL. Zero means SIGKILL immediately.
	Timeout int64
}

// GetStateResponse reports a container's current lifecycle state.
type GetStateResponse struct {
	ExitCode *int64
	State    ContainerState
}

// LogKind tags which stream a Log line came from.
type LogKind string

const (
	LogKindUnknown LogKind = "UNKNOWN"
	LogKindStdout  LogKind = "STDOUT"
	LogKindStderr  LogKind = "STDERR"
	LogKindStdin   LogKind = "STDIN"
	LogKindConsole LogKind = "CONSOLE"
)

// Log is a single chunk of output from a container.
type Log struct {
	Kind    LogKind
	Message []byte
}

// AttachContainerResponse gives the caller a live read/write handle on a
// running container, used for debugging sessions.
type AttachContainerResponse struct {
	Output <-chan Log
	Input  io.WriteCloser
	Errs   <-chan error
}

// Scheduler is the boundary between the orchestrator and a container
// runtime. Implementations must be safe for concurrent use.
type Scheduler interface {
	StartContainer(ctx context.Context, req StartContainerRequest) (StartContainerResponse, error)
	StopContainer(ctx context.Context, req StopContainerRequest) error
	GetState(ctx context.Context, id string) (GetStateResponse, error)
	GetLogs(ctx context.Context, id string) (<-chan Log, <-chan error, error)
	AttachContainer(ctx context.Context, id string, command []string) (AttachContainerResponse, error)
}
