package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

func sanitizedRun(run *models.Run) *models.Run {
	if run == nil {
		return nil
	}
	out := *run
	out.Variables = redactedVariables(run.Variables)
	return &out
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline := vars["ns"], vars["pipeline"]
	if _, ok := authorize(w, r, s.authn, ns, "run", "read"); !ok {
		return
	}
	list, err := s.app.Store.ListRuns(r.Context(), ns, pipeline, storage.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*models.Run, len(list))
	for i, run := range list {
		out[i] = sanitizedRun(run)
	}
	writeJSON(w, http.StatusOK, out)
}

type startRunRequest struct {
	Variables []models.Variable `json:"variables"`
	Reason    string            `json:"reason"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline := vars["ns"], vars["pipeline"]
	tok, ok := authorize(w, r, s.authn, ns, "run", "create")
	if !ok {
		return
	}
	var req startRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	initiator := models.Initiator{Type: models.InitiatorTypeHuman, Name: tok.ID, Reason: req.Reason}
	if tok.Kind == models.TokenKindBootstrap || tok.Kind == models.TokenKindManagement {
		initiator.Type = models.InitiatorTypeSystem
	}

	run, err := s.app.Orchestrator.StartRun(r.Context(), ns, pipeline, initiator, req.Variables, tok.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sanitizedRun(run))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline := vars["ns"], vars["pipeline"]
	if _, ok := authorize(w, r, s.authn, ns, "run", "read"); !ok {
		return
	}
	runID, err := strconv.ParseInt(vars["run"], 10, 64)
	if err != nil {
		writeError(w, gofererr.NewFailedPrecondition("run id must be an integer"))
		return
	}
	run, err := s.app.Store.GetRun(r.Context(), ns, pipeline, runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitizedRun(run))
}

// handleCancelRun cancels a run, optionally bounding how long it waits for
// tasks to stop before giving up via the wait_for query parameter. There is
// no separate per-task cancel endpoint; the orchestrator only models
// cancellation at run granularity.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline := vars["ns"], vars["pipeline"]
	if _, ok := authorize(w, r, s.authn, ns, "run", "cancel"); !ok {
		return
	}
	runID, err := strconv.ParseInt(vars["run"], 10, 64)
	if err != nil {
		writeError(w, gofererr.NewFailedPrecondition("run id must be an integer"))
		return
	}
	var waitFor int64
	if raw := r.URL.Query().Get("wait_for"); raw != "" {
		waitFor, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, gofererr.NewFailedPrecondition("wait_for must be an integer"))
			return
		}
	}
	if err := s.app.Orchestrator.CancelRun(r.Context(), ns, pipeline, runID, waitFor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}
