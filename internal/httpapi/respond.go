package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps err to its HTTP status via gofererr.HTTPStatus, the same
// taxonomy the rest of the core uses to branch on failure kind.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, gofererr.HTTPStatus(err), errorBody{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return gofererr.NewFailedPrecondition("malformed request body: " + err.Error())
	}
	return nil
}

// redactedVariables returns a copy of vars with every Secret value replaced,
// per the Variable doc comment's "redacted by the HTTP API layer" contract.
func redactedVariables(vars []models.Variable) []models.Variable {
	out := make([]models.Variable, len(vars))
	for i, v := range vars {
		out[i] = v
		if v.Secret {
			out[i].Value = "***REDACTED***"
		}
	}
	return out
}
