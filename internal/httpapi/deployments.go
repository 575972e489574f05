package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline := vars["ns"], vars["pipeline"]
	if _, ok := authorize(w, r, s.authn, ns, "deployment", "read"); !ok {
		return
	}
	list, err := s.app.Store.ListDeployments(r.Context(), ns, pipeline, storage.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline := vars["ns"], vars["pipeline"]
	if _, ok := authorize(w, r, s.authn, ns, "deployment", "read"); !ok {
		return
	}
	id, err := strconv.ParseInt(vars["deployment"], 10, 64)
	if err != nil {
		writeError(w, gofererr.NewFailedPrecondition("deployment id must be an integer"))
		return
	}
	dep, err := s.app.Store.GetDeployment(r.Context(), ns, pipeline, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}
