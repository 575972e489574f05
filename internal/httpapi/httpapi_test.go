package httpapi

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/app"
	"github.com/clintjedwards/gofer-sub002/internal/auth"
	"github.com/clintjedwards/gofer-sub002/internal/config"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/scheduler"
)

// noopScheduler stands in for the Docker scheduler so tests never touch a
// real container runtime, mirroring internal/app's own test double.
type noopScheduler struct{}

func (noopScheduler) StartContainer(ctx context.Context, req scheduler.StartContainerRequest) (scheduler.StartContainerResponse, error) {
	return scheduler.StartContainerResponse{SchedulerID: req.ID}, nil
}

func (noopScheduler) StopContainer(ctx context.Context, req scheduler.StopContainerRequest) error {
	return nil
}

func (noopScheduler) GetState(ctx context.Context, id string) (scheduler.GetStateResponse, error) {
	return scheduler.GetStateResponse{State: scheduler.ContainerStateUnknown}, nil
}

func (noopScheduler) GetLogs(ctx context.Context, id string) (<-chan scheduler.Log, <-chan error, error) {
	out := make(chan scheduler.Log)
	errs := make(chan error)
	close(out)
	close(errs)
	return out, errs, nil
}

func (noopScheduler) AttachContainer(ctx context.Context, id string, command []string) (scheduler.AttachContainerResponse, error) {
	return scheduler.AttachContainerResponse{}, nil
}

var _ scheduler.Scheduler = noopScheduler{}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StorageEngine:             "sqlite",
		SQLitePath:                filepath.Join(t.TempDir(), "httpapi-test.db"),
		SQLiteReadConns:           4,
		EventRetention:            time.Hour,
		EventPruneInterval:        time.Hour,
		GlobalParallelism:         0,
		RunObjectExpiryDepth:      20,
		DependencyPollInterval:    5 * time.Millisecond,
		LogRetention:              time.Hour,
		SweepInterval:             time.Hour,
		SecretMasterKey:           "test-passphrase",
		ExtensionHealthCheckTries: 1,
		ExtensionHealthCheckWait:  time.Millisecond,
	}
}

// testServer boots a full Application (real sqlite-backed store, real
// auth/orchestrator/deployer) wired through a Server, and mints a
// wildcard-permission token so handler tests exercise authorization the
// same way a real client would rather than bypassing it.
type testServer struct {
	*httptest.Server
	app   *app.Application
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLimit(t, 1000, 1000)
}

func newTestServerWithLimit(t *testing.T, rps float64, burst int) *testServer {
	t.Helper()
	a, err := app.New(testConfig(t), app.WithScheduler(noopScheduler{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	require.NoError(t, a.Start(context.Background()))

	ctx := context.Background()
	require.NoError(t, a.Store.InsertRole(ctx, &models.Role{
		ID:          "admin",
		Permissions: []models.Permission{{Resource: "*", Action: "*"}},
	}))

	id, secret, err := auth.GenerateToken()
	require.NoError(t, err)
	tok := models.NewToken(id, auth.HashToken(secret), models.TokenKindManagement, nil, []string{"admin"}, 0)
	require.NoError(t, a.Store.InsertToken(ctx, tok))

	srv := New(a, Config{RateLimitRPS: rps, RateLimitBurst: burst}, nil)
	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, app: a, token: secret}
}

func (ts *testServer) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + ts.token}
}
