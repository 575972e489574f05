package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, s.authn, "", "namespace", "read"); !ok {
		return
	}
	list, err := s.app.Store.ListNamespaces(r.Context(), storage.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createNamespaceRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, s.authn, "", "namespace", "create"); !ok {
		return
	}
	var req createNamespaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !models.ValidIdentifier(req.ID) {
		writeError(w, gofererr.NewFailedPrecondition("namespace id must be a valid identifier"))
		return
	}
	ns := models.NewNamespace(req.ID, req.Name, req.Description)
	if err := s.app.Store.InsertNamespace(r.Context(), ns); err != nil {
		writeError(w, err)
		return
	}
	s.app.Bus.Publish(models.EventKindCreatedNamespace, map[string]any{"namespace": ns.ID})
	writeJSON(w, http.StatusCreated, ns)
}

func (s *Server) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ns := mux.Vars(r)["ns"]
	if _, ok := authorize(w, r, s.authn, ns, "namespace", "read"); !ok {
		return
	}
	got, err := s.app.Store.GetNamespace(r.Context(), ns)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

type updateNamespaceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *Server) handleUpdateNamespace(w http.ResponseWriter, r *http.Request) {
	ns := mux.Vars(r)["ns"]
	if _, ok := authorize(w, r, s.authn, ns, "namespace", "update"); !ok {
		return
	}
	var req updateNamespaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.app.Store.UpdateNamespace(r.Context(), ns, storage.UpdatableNamespaceFields{
		Name:        req.Name,
		Description: req.Description,
	}); err != nil {
		writeError(w, err)
		return
	}
	got, err := s.app.Store.GetNamespace(r.Context(), ns)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	ns := mux.Vars(r)["ns"]
	if _, ok := authorize(w, r, s.authn, ns, "namespace", "delete"); !ok {
		return
	}
	if err := s.app.Store.DeleteNamespace(r.Context(), ns); err != nil {
		writeError(w, err)
		return
	}
	s.app.Bus.Publish(models.EventKindDeletedNamespace, map[string]any{"namespace": ns})
	writeJSON(w, http.StatusNoContent, nil)
}
