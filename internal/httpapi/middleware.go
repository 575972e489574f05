package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/clintjedwards/gofer-sub002/internal/auth"
	"github.com/clintjedwards/gofer-sub002/internal/models"
)

// upgrader accepts the two websocket routes this server exposes (task log
// tail, event stream). Origin checking is left to a fronting proxy; the
// control plane is not meant to be exposed directly to untrusted browsers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// authorize fetches the request's authenticated Token and checks it against
// (namespace, resource, action), writing a response and returning ok=false on
// failure. namespace may be "" for namespace-collection routes, in which case
// only a Management/Bootstrap token or a Client token scoped to "*" passes.
func authorize(w http.ResponseWriter, r *http.Request, authn *auth.Authenticator, namespace, resource, action string) (*models.Token, bool) {
	tok, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing authentication"})
		return nil, false
	}
	if err := authn.Authorize(r.Context(), tok, namespace, resource, action); err != nil {
		writeError(w, err)
		return nil, false
	}
	return tok, true
}
