package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
)

func sanitizedTaskExecution(tex *models.TaskExecution) *models.TaskExecution {
	if tex == nil {
		return nil
	}
	out := *tex
	out.Variables = redactedVariables(tex.Variables)
	return &out
}

func (s *Server) handleListTaskExecutions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline := vars["ns"], vars["pipeline"]
	if _, ok := authorize(w, r, s.authn, ns, "task", "read"); !ok {
		return
	}
	runID, err := strconv.ParseInt(vars["run"], 10, 64)
	if err != nil {
		writeError(w, gofererr.NewFailedPrecondition("run id must be an integer"))
		return
	}
	list, err := s.app.Store.ListTaskExecutions(r.Context(), ns, pipeline, runID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*models.TaskExecution, len(list))
	for i, tex := range list {
		out[i] = sanitizedTaskExecution(tex)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTaskExecution(w http.ResponseWriter, r *http.Request) {
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
	tex, err := s.app.Store.GetTaskExecution(r.Context(), ns, pipeline, runID, task)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sanitizedTaskExecution(tex))
}
