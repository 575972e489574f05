package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// newRouter builds the control plane's route table: a bare health route,
// then an /api subrouter carrying the authenticator and rate limiter as
// router-level middleware, since every route under /api requires
// authentication.
func newRouter(s *Server) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.limiter.Handler)
	api.Use(s.authn.Middleware)

	api.HandleFunc("/namespaces", s.handleListNamespaces).Methods(http.MethodGet)
	api.HandleFunc("/namespaces", s.handleCreateNamespace).Methods(http.MethodPost)
	api.HandleFunc("/namespaces/{ns}", s.handleGetNamespace).Methods(http.MethodGet)
	api.HandleFunc("/namespaces/{ns}", s.handleUpdateNamespace).Methods(http.MethodPatch)
	api.HandleFunc("/namespaces/{ns}", s.handleDeleteNamespace).Methods(http.MethodDelete)

	api.HandleFunc("/namespaces/{ns}/pipelines", s.handleListPipelines).Methods(http.MethodGet)
	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}", s.handleGetPipeline).Methods(http.MethodGet)
	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}", s.handleUpsertAndDeployPipeline).Methods(http.MethodPatch)
	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}", s.handleDeletePipeline).Methods(http.MethodDelete)

	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}/deployments", s.handleListDeployments).Methods(http.MethodGet)
	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}/deployments/{deployment}", s.handleGetDeployment).Methods(http.MethodGet)

	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}/runs", s.handleStartRun).Methods(http.MethodPost)
	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}/runs/{run}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}/runs/{run}/cancel", s.handleCancelRun).Methods(http.MethodPost)

	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}/runs/{run}/tasks", s.handleListTaskExecutions).Methods(http.MethodGet)
	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}/runs/{run}/tasks/{task}", s.handleGetTaskExecution).Methods(http.MethodGet)
	api.HandleFunc("/namespaces/{ns}/pipelines/{pipeline}/runs/{run}/tasks/{task}/logs", s.handleTaskLogs).Methods(http.MethodGet)

	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
