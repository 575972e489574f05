package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/models"
)

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestEventsWebsocketStreamsLiveEvents(t *testing.T) {
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+ts.token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/api/events?history=false"), header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the handler goroutine time to register its live subscription
	// before anything is published; the bus is a true broadcast with no
	// replay for subscribers that register after the fact.
	time.Sleep(50 * time.Millisecond)
	createNamespace(t, ts, "ns-ws")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt models.Event
	require.NoError(t, json.Unmarshal(msg, &evt))
	require.Equal(t, models.EventKindCreatedNamespace, evt.Kind)
}

func TestTaskLogsWebsocketStreamsStoredChunksUntilEOF(t *testing.T) {
	ts := newTestServer(t)
	createNamespace(t, ts, "ns-logs")

	ctx := context.Background()
	require.NoError(t, ts.app.Store.AppendLogChunk(ctx, "ns-logs", "pipe1", 1, "t1", 0, "stdout", []byte("hello")))
	require.NoError(t, ts.app.Store.AppendLogChunk(ctx, "ns-logs", "pipe1", 1, "t1", 1, "eof", nil))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+ts.token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/api/namespaces/ns-logs/pipelines/pipe1/runs/1/tasks/t1/logs"), header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame logFrame
	require.NoError(t, json.Unmarshal(msg, &frame))
	require.Equal(t, "stdout", frame.Kind)
	require.Equal(t, "hello", frame.Data)

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestEventsWebsocketRejectsReverseWithoutHistory(t *testing.T) {
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+ts.token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/api/events?history=false&reverse=true"), header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	require.Equal(t, websocket.CloseUnsupportedData, closeErr.Code)
}
