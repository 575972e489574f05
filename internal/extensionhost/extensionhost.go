// Package extensionhost drives extension containers through their lifecycle:
// start every enabled registration on process start, health-check it with an
// `info` RPC, echo its logs into process stdout, and shut it down gracefully
// on request.
package extensionhost

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

// Config holds the host's tunables, loaded from internal/config.
type Config struct {
	TLSCert          string
	TLSKey           string
	LogLevel         string
	NetworkingPort   int
	HealthCheckTries int
	HealthCheckWait  time.Duration
}

// RunningExtension is the in-memory record of an extension container the
// host has successfully started and health-checked.
type RunningExtension struct {
	Registration *models.ExtensionRegistration
	ContainerID  string
	URL          string
	Key          string
}

// Host supervises every enabled extension registration's container.
type Host struct {
	store storage.Store
	sched scheduler.Scheduler
	log   *logger.Logger
	cfg   Config
	http  *http.Client

	mu      sync.Mutex
	running map[string]*RunningExtension
}

func New(store storage.Store, sched scheduler.Scheduler, cfg Config, log *logger.Logger) *Host {
	if cfg.HealthCheckTries <= 0 {
		cfg.HealthCheckTries = 15
	}
	if cfg.HealthCheckWait <= 0 {
		cfg.HealthCheckWait = 500 * time.Millisecond
	}
	return &Host{
		store:   store,
		sched:   sched,
		log:     log,
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		running: make(map[string]*RunningExtension),
	}
}

func (h *Host) scheme() string {
	if h.cfg.TLSCert != "" && h.cfg.TLSKey != "" {
		return "https"
	}
	return "http"
}

// containerID is the scheduler-visible name for an extension's container;
// deterministic so StartAll is idempotent across restarts (the scheduler's
// pre-start policy force-removes any existing container with this id).
func containerID(extensionID string) string {
	return fmt.Sprintf("extension-%s", extensionID)
}

// StartAll starts every enabled extension registration and blocks until
// each has either passed its health check or exhausted its retry budget.
// Extensions are started independently; one failing does not stop the rest.
func (h *Host) StartAll(ctx context.Context) error {
	regs, err := h.store.ListExtensionRegistrations(ctx)
	if err != nil {
		return err
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].ExtensionID < regs[j].ExtensionID })

	var firstErr error
	for _, reg := range regs {
		if reg.Status != models.ExtensionRegistrationStatusEnabled {
			continue
		}
		if err := h.startExtension(ctx, reg); err != nil {
			h.log.WithField("extension_id", reg.ExtensionID).WithField("error", err.Error()).Error("failed to start extension")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// startExtension brings up a single registration.
func (h *Host) startExtension(ctx context.Context, reg *models.ExtensionRegistration) error {
	key, err := randomKey(32)
	if err != nil {
		return fmt.Errorf("could not allocate extension key: %w", err)
	}

	env := map[string]string{
		"GOFER_EXTENSION_TLS_CERT": h.cfg.TLSCert,
		"GOFER_EXTENSION_TLS_KEY":  h.cfg.TLSKey,
		"GOFER_EXTENSION_ID":       reg.ExtensionID,
		"GOFER_EXTENSION_LOG_LEVEL": h.cfg.LogLevel,
		"GOFER_EXTENSION_KEY":      key,
	}
	for _, v := range reg.Settings {
		env[v.Key] = v.Value
	}

	id := containerID(reg.ExtensionID)
	startResp, err := h.sched.StartContainer(ctx, scheduler.StartContainerRequest{
		ID:           id,
		Image:        reg.Image,
		Variables:    env,
		RegistryAuth: toSchedulerAuth(reg.RegistryAuth),
		AlwaysPull:   true,
		Networking:   h.cfg.NetworkingPort,
	})
	if err != nil {
		return fmt.Errorf("could not start container for extension %s: %w", reg.ExtensionID, err)
	}

	schedulerID := id
	if startResp.SchedulerID != "" {
		schedulerID = startResp.SchedulerID
	}
	url := fmt.Sprintf("%s://%s", h.scheme(), startResp.URL)

	if err := h.waitHealthy(ctx, schedulerID, url, key); err != nil {
		return fmt.Errorf("extension %s failed health check: %w", reg.ExtensionID, err)
	}

	running := &RunningExtension{Registration: reg, ContainerID: schedulerID, URL: url, Key: key}
	h.mu.Lock()
	h.running[reg.ExtensionID] = running
	h.mu.Unlock()

	go h.echoLogs(reg.ExtensionID, schedulerID)
	return nil
}

// waitHealthy polls get_state until Running, then retries an `info` RPC
// with a fixed backoff up to a bounded attempt count.
func (h *Host) waitHealthy(ctx context.Context, schedulerID, url, key string) error {
	var lastErr error
	for attempt := 0; attempt < h.cfg.HealthCheckTries; attempt++ {
		state, err := h.sched.GetState(ctx, schedulerID)
		if err != nil {
			lastErr = err
		} else if state.State == scheduler.ContainerStateRunning {
			if _, infoErr := h.callRPC(ctx, url, key, "info", nil); infoErr == nil {
				return nil
			} else {
				lastErr = infoErr
			}
		} else {
			lastErr = fmt.Errorf("container state %s", state.State)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.cfg.HealthCheckWait):
		}
	}
	return fmt.Errorf("exceeded %d health-check attempts: %w", h.cfg.HealthCheckTries, lastErr)
}

// echoLogs streams an extension container's logs into the host's own
// logger until the stream ends.
func (h *Host) echoLogs(extensionID, schedulerID string) {
	out, errs, err := h.sched.GetLogs(context.Background(), schedulerID)
	if err != nil {
		h.log.WithField("extension_id", extensionID).WithField("error", err.Error()).Error("could not attach to extension logs")
		return
	}
	for out != nil || errs != nil {
		select {
		case l, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			h.log.WithField("extension_id", extensionID).WithField("stream", string(l.Kind)).Info(string(l.Message))
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			h.log.WithField("extension_id", extensionID).WithField("error", e.Error()).Error("extension log stream error")
		}
	}
}

// Shutdown sends a graceful `shutdown` RPC (bearing the extension's secret)
// to every running extension, then stops its container. Shutdown is
// best-effort per extension: one failure does not block the rest, but is
// surfaced to the operator via the returned error.
func (h *Host) Shutdown(ctx context.Context, timeoutSeconds int64) error {
	h.mu.Lock()
	all := make([]*RunningExtension, 0, len(h.running))
	for _, r := range h.running {
		all = append(all, r)
	}
	h.mu.Unlock()

	var firstErr error
	for _, r := range all {
		if _, err := h.callRPC(ctx, r.URL, r.Key, "shutdown", nil); err != nil {
			h.log.WithField("extension_id", r.Registration.ExtensionID).WithField("error", err.Error()).Error("extension shutdown RPC failed")
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := h.sched.StopContainer(ctx, scheduler.StopContainerRequest{ID: r.ContainerID, Timeout: timeoutSeconds}); err != nil {
			h.log.WithField("extension_id", r.Registration.ExtensionID).WithField("error", err.Error()).Error("extension container stop failed")
			if firstErr == nil {
				firstErr = err
			}
		}
		h.mu.Lock()
		delete(h.running, r.Registration.ExtensionID)
		h.mu.Unlock()
	}
	return firstErr
}

// Running returns the currently tracked running extension, if any.
func (h *Host) Running(extensionID string) (*RunningExtension, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.running[extensionID]
	return r, ok
}

// callRPC issues one JSON-RPC-style request to an extension, using the
// "Extension<->core wire protocol": a bearer-token-authenticated HTTP call
// named by method.
func (h *Host) callRPC(ctx context.Context, url, key, method string, payload any) (json.RawMessage, error) {
	body := io.Reader(nil)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/api/"+method, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("extension rpc %s returned status %d: %s", method, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func toSchedulerAuth(a *models.RegistryAuth) *scheduler.RegistryAuth {
	if a == nil {
		return nil
	}
	return &scheduler.RegistryAuth{User: a.Username, Pass: a.Password}
}

func randomKey(n int) (string, error) {
	buf := make([]byte, n/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
