// Package auth authenticates bearer tokens against the stored Token hash
// and authorizes requests against each of a token's Roles, adapted from the
// teacher's JWT-bearer middleware (r3e-network-service_layer's
// internal/app/httpapi/auth.go: wrapWithAuth/extractToken/enforceRole) onto
// this project's opaque-secret Token model instead of parsed JWT claims.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/clintjedwards/gofer-sub002/internal/gofererr"
	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage"
)

// HashToken returns the hex-encoded SHA-256 digest of a raw token secret;
// only the digest is ever persisted, matching the Token model's comment
// that the HTTP API authenticates against the stored hash.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// GenerateToken mints a fresh token id/secret pair: the id is a UUID (safe
// to log/reference), the secret is a random 32-byte value hex-encoded and
// returned to the caller exactly once as the bearer credential.
func GenerateToken() (id, secret string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	return uuid.NewString(), hex.EncodeToString(buf), nil
}

type ctxKey string

const ctxTokenKey ctxKey = "auth.token"

// Authenticator validates bearer tokens and authorizes them against
// Role-granted permissions, both backed by storage.Store.
type Authenticator struct {
	store storage.Store
}

func New(store storage.Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate looks up the Token whose hash matches raw, rejecting it if
// absent, disabled, or past its expiry.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*models.Token, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, gofererr.NewFailedPrecondition("no bearer token supplied")
	}
	tok, err := a.store.GetTokenByHash(ctx, HashToken(raw))
	if err != nil {
		if gofererr.IsNotFound(err) {
			return nil, gofererr.NewFailedPrecondition("invalid token")
		}
		return nil, err
	}
	if tok.Disabled {
		return nil, gofererr.NewFailedPrecondition("token disabled")
	}
	if tok.Expires > 0 && tok.Expires < models.NowMilli() {
		return nil, gofererr.NewFailedPrecondition("token expired")
	}
	return tok, nil
}

// Authorize reports whether tok may perform action on resource within
// namespace. Management and Bootstrap tokens bypass namespace scoping
// (they administer the whole control plane); Client tokens must have
// namespace in their Namespaces list.
func (a *Authenticator) Authorize(ctx context.Context, tok *models.Token, namespace, resource, action string) error {
	if tok.Kind == models.TokenKindClient && namespace != "" && !containsNamespace(tok.Namespaces, namespace) {
		return gofererr.NewFailedPrecondition(fmt.Sprintf("token is not scoped to namespace %q", namespace))
	}
	for _, roleID := range tok.Roles {
		role, err := a.store.GetRole(ctx, roleID)
		if err != nil {
			continue
		}
		if role.Allows(resource, action) {
			return nil
		}
	}
	return gofererr.NewFailedPrecondition(fmt.Sprintf("token is not permitted to %s %s", action, resource))
}

func containsNamespace(namespaces []string, namespace string) bool {
	for _, n := range namespaces {
		if n == "*" || n == namespace {
			return true
		}
	}
	return false
}

// Middleware authenticates the request's bearer token and stashes it on the
// context for downstream handlers; it does not authorize, since the
// required (resource, action) pair varies per route.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearer(r)
		tok, err := a.Authenticate(r.Context(), raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxTokenKey, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromContext returns the Token Middleware attached to ctx, if any.
func TokenFromContext(ctx context.Context) (*models.Token, bool) {
	tok, ok := ctx.Value(ctxTokenKey).(*models.Token)
	return tok, ok
}

func extractBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
