package extensionhost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
	"github.com/clintjedwards/gofer-sub002/internal/storage/sqlite"
	"github.com/clintjedwards/gofer-sub002/pkg/logger"
)

// stubScheduler starts an httptest server standing in for the extension
// container and reports it as Running immediately, so health-check RPCs
// land on a real HTTP handler instead of a container runtime.
type stubScheduler struct {
	srv          *httptest.Server
	stopped      map[string]bool
	infoCalls    int
	shutdownHit  bool
}

func newStubScheduler(t *testing.T) *stubScheduler {
	s := &stubScheduler{stopped: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		s.infoCalls++
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		s.shutdownHit = true
		w.WriteHeader(http.StatusOK)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubScheduler) hostPort() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

func (s *stubScheduler) StartContainer(ctx context.Context, req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	return scheduler.StartContainerResponse{SchedulerID: req.ID, URL: s.hostPort()}, nil
}

func (s *stubScheduler) StopContainer(ctx context.Context, req scheduler.StopContainerRequest) error {
	s.stopped[req.ID] = true
	return nil
}

func (s *stubScheduler) GetState(ctx context.Context, id string) (scheduler.GetStateResponse, error) {
	return scheduler.GetStateResponse{State: scheduler.ContainerStateRunning}, nil
}

func (s *stubScheduler) GetLogs(ctx context.Context, id string) (<-chan scheduler.Log, <-chan error, error) {
	out := make(chan scheduler.Log)
	errs := make(chan error)
	close(out)
	close(errs)
	return out, errs, nil
}

func (s *stubScheduler) AttachContainer(ctx context.Context, id string, command []string) (scheduler.AttachContainerResponse, error) {
	return scheduler.AttachContainerResponse{}, nil
}

var _ scheduler.Scheduler = (*stubScheduler)(nil)

func TestStartAllHealthChecksAndRunningTracksExtension(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "extensionhost-test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := models.NewExtensionRegistration("cron", "gofer/cron:latest", "key-1", nil)
	require.NoError(t, store.InsertExtensionRegistration(context.Background(), reg))

	sched := newStubScheduler(t)
	h := New(store, sched, Config{HealthCheckTries: 5, HealthCheckWait: 5 * time.Millisecond}, logger.NewDefault("extensionhost-test"))

	require.NoError(t, h.StartAll(context.Background()))
	require.GreaterOrEqual(t, sched.infoCalls, 1)

	running, ok := h.Running("cron")
	require.True(t, ok)
	require.Len(t, running.Key, 32)

	require.NoError(t, h.Shutdown(context.Background(), 5))
	require.True(t, sched.shutdownHit)
	require.True(t, sched.stopped["extension-cron"])

	_, ok = h.Running("cron")
	require.False(t, ok)
}

func TestStartAllSkipsDisabledRegistrations(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "extensionhost-test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := models.NewExtensionRegistration("cron", "gofer/cron:latest", "key-1", nil)
	require.NoError(t, store.InsertExtensionRegistration(context.Background(), reg))
	require.NoError(t, store.UpdateExtensionRegistrationStatus(context.Background(), "cron", models.ExtensionRegistrationStatusDisabled))

	sched := newStubScheduler(t)
	h := New(store, sched, Config{HealthCheckTries: 5, HealthCheckWait: 5 * time.Millisecond}, logger.NewDefault("extensionhost-test"))

	require.NoError(t, h.StartAll(context.Background()))
	require.Equal(t, 0, sched.infoCalls)

	_, ok := h.Running("cron")
	require.False(t, ok)
}
