package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	ns := mux.Vars(r)["ns"]
	if _, ok := authorize(w, r, s.authn, ns, "pipeline", "read"); !ok {
		return
	}
	list, err := s.app.Store.ListPipelineMetadata(r.Context(), ns, storage.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type pipelineResponse struct {
	*models.PipelineMetadata
	LiveConfig *models.PipelineConfig `json:"live_config,omitempty"`
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline := vars["ns"], vars["pipeline"]
	if _, ok := authorize(w, r, s.authn, ns, "pipeline", "read"); !ok {
		return
	}
	meta, err := s.app.Store.GetPipelineMetadata(r.Context(), ns, pipeline)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := pipelineResponse{PipelineMetadata: meta}
	if live, err := s.app.Store.GetLivePipelineConfig(r.Context(), ns, pipeline); err == nil {
		resp.LiveConfig = live
	}
	writeJSON(w, http.StatusOK, resp)
}

// patchPipelineRequest is the single PATCH surface for pipelines. Exactly
// one of two operations applies, resolved by which fields are present: a
// bare State flips the pipeline Active/Disabled; a non-empty Tasks list
// registers a new PipelineConfig version and deploys it through the
// Deployment FSM (creating the pipeline first if this is its first version
// ever). There is no separate "create pipeline" or "trigger deployment"
// endpoint, so both are folded into this PATCH.
type patchPipelineRequest struct {
	State         *models.PipelineMetadataState      `json:"state,omitempty"`
	Name          string                             `json:"name,omitempty"`
	Description   string                             `json:"description,omitempty"`
	Parallelism   int64                              `json:"parallelism,omitempty"`
	Tasks         []models.Task                      `json:"tasks,omitempty"`
	Subscriptions []models.ExtensionSubscriptionDecl  `json:"subscriptions,omitempty"`
}

func (s *Server) handleUpsertAndDeployPipeline(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline := vars["ns"], vars["pipeline"]
	if _, ok := authorize(w, r, s.authn, ns, "pipeline", "update"); !ok {
		return
	}
	var req patchPipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	switch {
	case len(req.Tasks) > 0:
		s.registerAndDeployPipelineConfig(w, r, ns, pipeline, req)
	case req.State != nil:
		s.updatePipelineState(w, r, ns, pipeline, *req.State)
	default:
		writeError(w, gofererr.NewFailedPrecondition("patch body must set state or tasks"))
	}
}

func (s *Server) updatePipelineState(w http.ResponseWriter, r *http.Request, ns, pipeline string, state models.PipelineMetadataState) {
	if err := s.app.Store.UpdatePipelineMetadata(r.Context(), ns, pipeline, storage.UpdatablePipelineMetadataFields{State: &state}); err != nil {
		writeError(w, err)
		return
	}
	kind := models.EventKindDisabledPipeline
	if state == models.PipelineMetadataStateActive {
		kind = models.EventKindEnabledPipeline
	}
	s.app.Bus.Publish(kind, map[string]any{"namespace": ns, "pipeline": pipeline})

	meta, err := s.app.Store.GetPipelineMetadata(r.Context(), ns, pipeline)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) registerAndDeployPipelineConfig(w http.ResponseWriter, r *http.Request, ns, pipeline string, req patchPipelineRequest) {
	ctx := r.Context()

	created := false
	meta, err := s.app.Store.GetPipelineMetadata(ctx, ns, pipeline)
	if err != nil {
		if !gofererr.IsNotFound(err) {
			writeError(w, err)
			return
		}
		meta = models.NewPipelineMetadata(ns, pipeline)
		if err := s.app.Store.InsertPipelineMetadata(ctx, meta); err != nil {
			writeError(w, err)
			return
		}
		created = true
	}

	existing, err := s.app.Store.ListPipelineConfigs(ctx, ns, pipeline, storage.ListOptions{Limit: storage.DefaultListLimit})
	if err != nil {
		writeError(w, err)
		return
	}
	var maxVersion int64
	for _, c := range existing {
		if c.Version > maxVersion {
			maxVersion = c.Version
		}
	}
	newVersion := maxVersion + 1

	cfg := models.NewPipelineConfig(ns, pipeline, newVersion, req.Name, req.Description, req.Parallelism, req.Tasks)
	cfg.Subscriptions = req.Subscriptions
	if err := s.app.Store.InsertPipelineConfig(ctx, cfg); err != nil {
		writeError(w, err)
		return
	}

	if created {
		s.app.Bus.Publish(models.EventKindCreatedPipeline, map[string]any{"namespace": ns, "pipeline": pipeline})
	}

	if maxVersion == 0 {
		// First version ever: nothing to deprecate, so this becomes Live
		// directly instead of going through the Deployer (which requires an
		// existing Live config to transition away from).
		if err := s.app.Store.UpdatePipelineConfigState(ctx, ns, pipeline, newVersion, models.PipelineConfigStateLive, 0); err != nil {
			writeError(w, err)
			return
		}
		for _, decl := range req.Subscriptions {
			sub := models.NewExtensionSubscription(ns, pipeline, decl.ExtensionID, decl.Label, decl.Settings)
			if err := s.app.Store.InsertExtensionSubscription(ctx, sub); err != nil {
				writeError(w, err)
				return
			}
			s.app.Bus.Publish(models.EventKindPipelineExtensionSubscriptionRegistered, map[string]any{
				"namespace": ns, "pipeline": pipeline, "extension_id": decl.ExtensionID, "label": decl.Label,
			})
		}
		cfg.State = models.PipelineConfigStateLive
		writeJSON(w, http.StatusCreated, pipelineResponse{PipelineMetadata: meta, LiveConfig: cfg})
		return
	}

	dep, err := s.app.Deployer.Deploy(ctx, ns, pipeline, newVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Pipeline   *models.PipelineMetadata `json:"pipeline"`
		Config     *models.PipelineConfig   `json:"config"`
		Deployment *models.Deployment       `json:"deployment"`
	}{Pipeline: meta, Config: cfg, Deployment: dep})
}

func (s *Server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ns, pipeline := vars["ns"], vars["pipeline"]
	if _, ok := authorize(w, r, s.authn, ns, "pipeline", "delete"); !ok {
		return
	}
	if err := s.app.Store.DeletePipelineMetadata(r.Context(), ns, pipeline); err != nil {
		writeError(w, err)
		return
	}
	s.app.Bus.Publish(models.EventKindDeletedPipeline, map[string]any{"namespace": ns, "pipeline": pipeline})
	writeJSON(w, http.StatusNoContent, nil)
}
