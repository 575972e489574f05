package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

const logPollInterval = 500 * time.Millisecond

type logFrame struct {
	Seq  int64  `json:"seq"`
	Kind string `json:"kind"`
	Data string `json:"data"`
}

// handleTaskLogs streams a task execution's captured output as JSON text
// frames. LogStore has no live-tail cursor, so this polls ListLogChunks on
// an interval and forwards only chunks not yet sent; it stops once the
// stored "eof" sentinel chunk arrives or the task execution reaches
// Complete.
func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline, task := vars["ns"], vars["pipeline"], vars["task"]
	if _, ok := authorize(w, r, s.authn, ns, "task", "read"); !ok {
		return
	}
	runID, err := strconv.ParseInt(vars["run"], 10, 64)
	if err != nil {
		writeError(w, gofererr.NewFailedPrecondition("run id must be an integer"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()
	sent := 0
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	for {
		chunks, err := s.app.Store.ListLogChunks(ctx, ns, pipeline, runID, task)
		if err != nil {
			return
		}
		for _, c := range chunks[sent:] {
			if c.Kind == "eof" {
				return
			}
			if err := writeLogFrame(conn, c); err != nil {
				return
			}
		}
		sent = len(chunks)

		if taskExecutionComplete(ctx, s, ns, pipeline, runID, task) {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func writeLogFrame(conn *websocket.Conn, c storage.LogChunk) error {
	b, err := json.Marshal(logFrame{Seq: c.Seq, Kind: c.Kind, Data: string(c.Data)})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func taskExecutionComplete(ctx context.Context, s *Server, ns, pipeline string, runID int64, task string) bool {
	tex, err := s.app.Store.GetTaskExecution(ctx, ns, pipeline, runID, task)
	if err != nil {
		return false
	}
	return tex.State == models.TaskExecutionStateComplete
}
