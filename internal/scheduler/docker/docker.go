// Package docker implements the scheduler interface against a local Docker
// daemon, grounded directly on the reference implementation's
// scheduler::docker module (original_source/gofer/src/scheduler/docker.rs):
// same pull-if-missing/remove-then-create/start sequence, same cancellation
// bookkeeping to distinguish an operator-stopped container from one that
// exited on its own, and the same infrequent background pruning of stopped
// containers so long-running installs don't fill up disk.
package docker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

// cancellationTTL is how long a stop_container cancellation marker is kept
// around so GetState can still tell a cancelled container apart from one
// that exited on its own; swept every cancellationSweepInterval.
const (
	cancellationTTL           = 24 * time.Hour
	cancellationSweepInterval = 3 * 24 * time.Hour
)

// Config controls the docker scheduler's connection and housekeeping.
type Config struct {
	// Host is a docker daemon socket/URL; empty uses the client library's
	// environment defaults (DOCKER_HOST, or the local unix socket).
	Host string

	// Prune enables periodic `docker container prune`-equivalent cleanup.
	Prune bool
	// PruneInterval is how often pruning runs, when enabled.
	PruneInterval time.Duration
}

// Scheduler implements scheduler.Scheduler against a Docker daemon.
type Scheduler struct {
	client *client.Client
	log    *logger.Logger

	mu        sync.Mutex
	cancelled map[string]time.Time // container id -> expiry
}

var _ scheduler.Scheduler = (*Scheduler)(nil)

// New connects to the configured Docker daemon and starts its housekeeping
// goroutines. It fails fast if the daemon is unreachable.
func New(cfg Config, log *logger.Logger) (*Scheduler, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, gofererr.NewSchedulerError("connect", fmt.Sprintf("%s; make sure the Docker daemon is installed and running", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	version, err := cli.ServerVersion(ctx)
	if err != nil {
		return nil, gofererr.NewSchedulerError("connect", fmt.Sprintf("%s; make sure the Docker daemon is installed and running", err))
	}

	s := &Scheduler{
		client:    cli,
		log:       log,
		cancelled: make(map[string]time.Time),
	}

	log.WithField("version", version.Version).Debug("local docker scheduler successfully connected")

	if cfg.Prune {
		interval := cfg.PruneInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		go s.pruneContainersLoop(interval)
	}
	go s.pruneCancellationsLoop()

	return s, nil
}

func (s *Scheduler) pruneCancellationsLoop() {
	ticker := time.NewTicker(cancellationSweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		s.mu.Lock()
		for id, expiry := range s.cancelled {
			if expiry.Before(now) {
				delete(s.cancelled, id)
			}
		}
		s.mu.Unlock()
	}
}

// pruneContainersLoop periodically removes stopped containers so a
// long-running install doesn't fill up disk. It runs infrequently to give
// operators time to diagnose issues before evidence disappears.
func (s *Scheduler) pruneContainersLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		report, err := s.client.ContainersPrune(ctx, filters.Args{})
		cancel()
		if err != nil {
			s.log.WithField("error", err).Error("could not successfully prune containers")
			continue
		}
		s.log.WithField("containers_deleted", len(report.ContainersDeleted)).
			WithField("space_reclaimed", report.SpaceReclaimed).
			Info("pruned containers")
	}
}

func (s *Scheduler) StartContainer(ctx context.Context, req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	var authStr string
	if req.RegistryAuth != nil {
		auth, err := json.Marshal(types.AuthConfig{
			Username: req.RegistryAuth.User,
			Password: req.RegistryAuth.Pass,
		})
		if err != nil {
			return scheduler.StartContainerResponse{}, gofererr.NewSchedulerError("start_container", err.Error())
		}
		authStr = base64.URLEncoding.EncodeToString(auth)
	}

	if err := s.ensureImage(ctx, req.Image, req.AlwaysPull, authStr); err != nil {
		return scheduler.StartContainerResponse{}, err
	}

	// Removing any previous container by this name first lets the same
	// extension container be restarted without a name-collision error.
	_ = s.client.ContainerRemove(ctx, req.ID, container.RemoveOptions{RemoveVolumes: true, Force: true})

	env := make([]string, 0, len(req.Variables))
	for k, v := range req.Variables {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	containerCfg := &container.Config{
		Image: req.Image,
		Env:   env,
	}
	if req.Entrypoint != nil {
		containerCfg.Entrypoint = req.Entrypoint
	}
	if req.Command != nil {
		containerCfg.Cmd = req.Command
	}

	// Expose the requested port and let the daemon assign a random free
	// host port so callers can reach networked extension containers.
	if req.Networking != 0 {
		portKey := fmt.Sprintf("%d/tcp", req.Networking)
		containerCfg.ExposedPorts = nat.PortSet{nat.Port(portKey): struct{}{}}
	}

	created, err := s.client.ContainerCreate(ctx, containerCfg, dockerHostConfig(req.Networking), nil, nil, req.ID)
	if err != nil {
		return scheduler.StartContainerResponse{}, gofererr.NewSchedulerError("start_container", err.Error())
	}

	if err := s.client.ContainerStart(ctx, req.ID, container.StartOptions{}); err != nil {
		return scheduler.StartContainerResponse{}, gofererr.NewSchedulerError("start_container", err.Error())
	}

	resp := scheduler.StartContainerResponse{SchedulerID: created.ID}

	if req.Networking != 0 {
		info, err := s.client.ContainerInspect(ctx, req.ID)
		if err != nil {
			return scheduler.StartContainerResponse{}, gofererr.NewSchedulerError("start_container", err.Error())
		}

		portKey := fmt.Sprintf("%d/tcp", req.Networking)
		bindings, ok := info.NetworkSettings.Ports[nat.Port(portKey)]
		if !ok || len(bindings) == 0 {
			return scheduler.StartContainerResponse{}, gofererr.NewSchedulerError("start_container", "could not get networking settings for container")
		}
		resp.URL = fmt.Sprintf("%s:%s", bindings[0].HostIP, bindings[0].HostPort)
	}

	return resp, nil
}

func (s *Scheduler) ensureImage(ctx context.Context, ref string, alwaysPull bool, authStr string) error {
	if !alwaysPull {
		args := filters.NewArgs(filters.Arg("reference", ref))
		images, err := s.client.ImageList(ctx, image.ListOptions{All: true, Filters: args})
		if err == nil && len(images) > 0 {
			return nil
		}
	}

	reader, err := s.client.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: authStr})
	if err != nil {
		return gofererr.NewSchedulerError("pull_image", err.Error())
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return gofererr.NewSchedulerError("pull_image", err.Error())
	}
	return nil
}

func (s *Scheduler) StopContainer(ctx context.Context, req scheduler.StopContainerRequest) error {
	s.mu.Lock()
	s.cancelled[req.ID] = time.Now().Add(cancellationTTL)
	s.mu.Unlock()

	timeout := int(req.Timeout)
	if err := s.client.ContainerStop(ctx, req.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		return gofererr.NewSchedulerError("stop_container", err.Error())
	}
	return nil
}

func (s *Scheduler) GetState(ctx context.Context, id string) (scheduler.GetStateResponse, error) {
	info, err := s.client.ContainerInspect(ctx, id)
	if err != nil {
		return scheduler.GetStateResponse{}, gofererr.NewSchedulerError("get_state", err.Error())
	}
	if info.State == nil {
		return scheduler.GetStateResponse{State: scheduler.ContainerStateUnknown}, nil
	}

	switch info.State.Status {
	case "created", "running":
		return scheduler.GetStateResponse{State: scheduler.ContainerStateRunning}, nil
	case "paused":
		return scheduler.GetStateResponse{State: scheduler.ContainerStatePaused}, nil
	case "restarting":
		return scheduler.GetStateResponse{State: scheduler.ContainerStateRestarting}, nil
	case "exited", "dead":
		exitCode := int64(info.State.ExitCode)

		s.mu.Lock()
		_, cancelled := s.cancelled[id]
		s.mu.Unlock()

		if cancelled {
			return scheduler.GetStateResponse{ExitCode: &exitCode, State: scheduler.ContainerStateCancelled}, nil
		}
		return scheduler.GetStateResponse{ExitCode: &exitCode, State: scheduler.ContainerStateExited}, nil
	default:
		return scheduler.GetStateResponse{State: scheduler.ContainerStateUnknown}, nil
	}
}

func (s *Scheduler) GetLogs(ctx context.Context, id string) (<-chan scheduler.Log, <-chan error, error) {
	reader, err := s.client.ContainerLogs(ctx, id, container.LogsOptions{
		Follow: true, ShowStdout: true, ShowStderr: true,
	})
	if err != nil {
		return nil, nil, gofererr.NewSchedulerError("get_logs", err.Error())
	}

	out := make(chan scheduler.Log, 64)
	errs := make(chan error, 1)

	go func() {
		defer reader.Close()
		defer close(out)
		defer close(errs)

		var stdout, stderr demuxWriter
		stdout.kind, stderr.kind = scheduler.LogKindStdout, scheduler.LogKindStderr
		stdout.out, stderr.out = out, out

		if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil && err != io.EOF {
			select {
			case errs <- gofererr.NewSchedulerError("get_logs", err.Error()):
			default:
			}
		}
	}()

	return out, errs, nil
}

// demuxWriter adapts stdcopy.StdCopy's io.Writer-based demultiplexing into
// this package's channel-of-Log idiom.
type demuxWriter struct {
	kind scheduler.LogKind
	out  chan<- scheduler.Log
}

func (w *demuxWriter) Write(p []byte) (int, error) {
	msg := make([]byte, len(p))
	copy(msg, p)
	w.out <- scheduler.Log{Kind: w.kind, Message: msg}
	return len(p), nil
}

func (s *Scheduler) AttachContainer(ctx context.Context, id string, command []string) (scheduler.AttachContainerResponse, error) {
	execCfg := types.ExecConfig{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		Cmd:          command,
	}

	created, err := s.client.ContainerExecCreate(ctx, id, execCfg)
	if err != nil {
		return scheduler.AttachContainerResponse{}, gofererr.NewSchedulerError("attach_container", fmt.Sprintf("could not create exec for container: %s", err))
	}

	hijacked, err := s.client.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{Tty: true})
	if err != nil {
		return scheduler.AttachContainerResponse{}, gofererr.NewSchedulerError("attach_container", fmt.Sprintf("could not attach to exec for container: %s", err))
	}

	out := make(chan scheduler.Log, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)
		defer hijacked.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, hijacked.Reader); err != nil && err != io.EOF {
			select {
			case errs <- gofererr.NewSchedulerError("attach_container", err.Error()):
			default:
			}
			return
		}
		out <- scheduler.Log{Kind: scheduler.LogKindConsole, Message: buf.Bytes()}
	}()

	return scheduler.AttachContainerResponse{
		Output: out,
		Errs:   errs,
		Input:  hijacked.Conn,
	}, nil
}

func dockerHostConfig(networkingPort int) *container.HostConfig {
	if networkingPort == 0 {
		return &container.HostConfig{}
	}

	portKey := nat.Port(fmt.Sprintf("%d/tcp", networkingPort))
	return &container.HostConfig{
		PortBindings: nat.PortMap{
			portKey: []nat.PortBinding{{HostIP: "127.0.0.1"}},
		},
	}
}
