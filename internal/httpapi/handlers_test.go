package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/models"
)

func doRequest(t *testing.T, ts *testServer, method, path string, body any, withAuth bool) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if withAuth {
		for k, v := range ts.authHeader() {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthRequiresNoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp := doRequest(t, ts, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAPIRoutesRejectMissingBearer(t *testing.T) {
	ts := newTestServer(t)
	resp := doRequest(t, ts, http.MethodGet, "/api/namespaces", nil, false)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNamespaceCRUD(t *testing.T) {
	ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/api/namespaces", createNamespaceRequest{
		ID: "ns1", Name: "Namespace One", Description: "first",
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Namespace
	decodeBody(t, resp, &created)
	require.Equal(t, "ns1", created.ID)

	resp = doRequest(t, ts, http.MethodGet, "/api/namespaces/ns1", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	newName := "Renamed"
	resp = doRequest(t, ts, http.MethodPatch, "/api/namespaces/ns1", updateNamespaceRequest{Name: &newName}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.Namespace
	decodeBody(t, resp, &updated)
	require.Equal(t, "Renamed", updated.Name)

	resp = doRequest(t, ts, http.MethodGet, "/api/namespaces", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []*models.Namespace
	decodeBody(t, resp, &list)
	require.Len(t, list, 1)

	resp = doRequest(t, ts, http.MethodDelete, "/api/namespaces/ns1", nil, true)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, http.MethodGet, "/api/namespaces/ns1", nil, true)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestNamespaceCreateRejectsInvalidIdentifier(t *testing.T) {
	ts := newTestServer(t)
	resp := doRequest(t, ts, http.MethodPost, "/api/namespaces", createNamespaceRequest{ID: "Not Valid!"}, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func createNamespace(t *testing.T, ts *testServer, id string) {
	t.Helper()
	resp := doRequest(t, ts, http.MethodPost, "/api/namespaces", createNamespaceRequest{ID: id, Name: id}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func TestPipelineFirstVersionGoesLiveWithoutDeployer(t *testing.T) {
	ts := newTestServer(t)
	createNamespace(t, ts, "ns1")

	resp := doRequest(t, ts, http.MethodPatch, "/api/namespaces/ns1/pipelines/pipe1", patchPipelineRequest{
		Name: "Pipe One",
		Tasks: []models.Task{
			{ID: "task1", Image: "alpine:latest", DependsOn: map[string]models.RequiredParentStatus{}},
		},
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var got pipelineResponse
	decodeBody(t, resp, &got)
	require.NotNil(t, got.LiveConfig)
	require.Equal(t, models.PipelineConfigStateLive, got.LiveConfig.State)
	require.Equal(t, int64(1), got.LiveConfig.Version)

	resp = doRequest(t, ts, http.MethodGet, "/api/namespaces/ns1/pipelines/pipe1", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched pipelineResponse
	decodeBody(t, resp, &fetched)
	require.NotNil(t, fetched.LiveConfig)
	require.Equal(t, "pipe1", fetched.PipelineMetadata.Pipeline)
}

func TestPipelinePatchRequiresStateOrTasks(t *testing.T) {
	ts := newTestServer(t)
	createNamespace(t, ts, "ns1")
	resp := doRequest(t, ts, http.MethodPatch, "/api/namespaces/ns1/pipelines/pipe1", patchPipelineRequest{}, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPipelineStateTogglePublishesEvent(t *testing.T) {
	ts := newTestServer(t)
	createNamespace(t, ts, "ns1")
	resp := doRequest(t, ts, http.MethodPatch, "/api/namespaces/ns1/pipelines/pipe1", patchPipelineRequest{
		Tasks: []models.Task{{ID: "t1", Image: "alpine:latest", DependsOn: map[string]models.RequiredParentStatus{}}},
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	disabled := models.PipelineMetadataStateDisabled
	resp = doRequest(t, ts, http.MethodPatch, "/api/namespaces/ns1/pipelines/pipe1", patchPipelineRequest{State: &disabled}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var meta models.PipelineMetadata
	decodeBody(t, resp, &meta)
	require.Equal(t, models.PipelineMetadataStateDisabled, meta.State)
}

func TestRunLifecycleAndVariableRedaction(t *testing.T) {
	ts := newTestServer(t)
	createNamespace(t, ts, "ns1")

	resp := doRequest(t, ts, http.MethodPatch, "/api/namespaces/ns1/pipelines/pipe1", patchPipelineRequest{
		Tasks: []models.Task{{ID: "t1", Image: "alpine:latest", DependsOn: map[string]models.RequiredParentStatus{}}},
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, http.MethodPost, "/api/namespaces/ns1/pipelines/pipe1/runs", startRunRequest{
		Variables: []models.Variable{
			{Key: "PLAIN", Value: "visible"},
			{Key: "SECRET", Value: "hunter2", Secret: true},
		},
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var run models.Run
	decodeBody(t, resp, &run)
	require.Equal(t, "visible", findVar(run.Variables, "PLAIN"))
	require.Equal(t, "***REDACTED***", findVar(run.Variables, "SECRET"))

	resp = doRequest(t, ts, http.MethodGet, fmt.Sprintf("/api/namespaces/ns1/pipelines/pipe1/runs/%d", run.RunID), nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched models.Run
	decodeBody(t, resp, &fetched)
	require.Equal(t, "***REDACTED***", findVar(fetched.Variables, "SECRET"))

	resp = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/namespaces/ns1/pipelines/pipe1/runs/%d/cancel?wait_for=0", run.RunID), nil, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func findVar(vars []models.Variable, key string) string {
	for _, v := range vars {
		if v.Key == key {
			return v.Value
		}
	}
	return ""
}

func TestCancelRunRejectsNonIntegerWaitFor(t *testing.T) {
	ts := newTestServer(t)
	createNamespace(t, ts, "ns1")
	resp := doRequest(t, ts, http.MethodPatch, "/api/namespaces/ns1/pipelines/pipe1", patchPipelineRequest{
		Tasks: []models.Task{{ID: "t1", Image: "alpine:latest", DependsOn: map[string]models.RequiredParentStatus{}}},
	}, true)
	resp.Body.Close()

	resp = doRequest(t, ts, http.MethodPost, "/api/namespaces/ns1/pipelines/pipe1/runs", startRunRequest{}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var run models.Run
	decodeBody(t, resp, &run)

	resp = doRequest(t, ts, http.MethodPost, fmt.Sprintf("/api/namespaces/ns1/pipelines/pipe1/runs/%d/cancel?wait_for=soon", run.RunID), nil, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPipelineSecondVersionDeploysThroughDeployer(t *testing.T) {
	ts := newTestServer(t)
	createNamespace(t, ts, "ns1")

	resp := doRequest(t, ts, http.MethodPatch, "/api/namespaces/ns1/pipelines/pipe1", patchPipelineRequest{
		Tasks: []models.Task{{ID: "t1", Image: "alpine:latest", DependsOn: map[string]models.RequiredParentStatus{}}},
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doRequest(t, ts, http.MethodPatch, "/api/namespaces/ns1/pipelines/pipe1", patchPipelineRequest{
		Tasks: []models.Task{{ID: "t1", Image: "alpine:latest2", DependsOn: map[string]models.RequiredParentStatus{}}},
	}, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Deployment *models.Deployment `json:"deployment"`
	}
	decodeBody(t, resp, &got)
	require.NotNil(t, got.Deployment)
	require.Equal(t, int64(1), got.Deployment.DeploymentID)
	require.Equal(t, int64(2), got.Deployment.EndVersion)

	listResp := doRequest(t, ts, http.MethodGet, "/api/namespaces/ns1/pipelines/pipe1/deployments", nil, true)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var deployments []*models.Deployment
	decodeBody(t, listResp, &deployments)
	require.Len(t, deployments, 1)

	getResp := doRequest(t, ts, http.MethodGet, "/api/namespaces/ns1/pipelines/pipe1/deployments/1", nil, true)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestRateLimiterRejectsBurstExceeded(t *testing.T) {
	ts := newTestServerWithLimit(t, 0.001, 1)

	resp1 := doRequest(t, ts, http.MethodGet, "/api/namespaces", nil, true)
	require.Equal(t, http.StatusOK, resp1.StatusCode)
	resp1.Body.Close()

	resp2 := doRequest(t, ts, http.MethodGet, "/api/namespaces", nil, true)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp2.StatusCode)
	require.NotEmpty(t, resp2.Header.Get("Retry-After"))
}

func TestHealthRouteBypassesRateLimit(t *testing.T) {
	ts := newTestServerWithLimit(t, 0.001, 1)
	// Burn the single /api token so a rate limit would trip there.
	resp := doRequest(t, ts, http.MethodGet, "/api/namespaces", nil, true)
	resp.Body.Close()

	for i := 0; i < 5; i++ {
		resp := doRequest(t, ts, http.MethodGet, "/health", nil, false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}
