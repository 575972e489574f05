package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clintjedwards/gofer-sub002/internal/models"
	"github.com/clintjedwards/gofer-sub002/internal/storage/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth-test.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAuthenticateRejectsUnknownAndDisabledTokens(t *testing.T) {
	store := newStore(t)
	a := New(store)
	ctx := context.Background()

	_, err := a.Authenticate(ctx, "does-not-exist")
	require.Error(t, err)

	id, secret, err := GenerateToken()
	require.NoError(t, err)
	tok := models.NewToken(id, HashToken(secret), models.TokenKindClient, []string{"ns1"}, nil, 0)
	require.NoError(t, store.InsertToken(ctx, tok))

	got, err := a.Authenticate(ctx, secret)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)

	disabledID, disabledSecret, err := GenerateToken()
	require.NoError(t, err)
	disabledTok := models.NewToken(disabledID, HashToken(disabledSecret), models.TokenKindClient, []string{"ns1"}, nil, 0)
	disabledTok.Disabled = true
	require.NoError(t, store.InsertToken(ctx, disabledTok))

	_, err = a.Authenticate(ctx, disabledSecret)
	require.Error(t, err)
}

func TestAuthorizeEnforcesNamespaceScopeAndRolePermissions(t *testing.T) {
	store := newStore(t)
	a := New(store)
	ctx := context.Background()

	require.NoError(t, store.InsertRole(ctx, &models.Role{ID: "runner", Permissions: []models.Permission{{Resource: "run", Action: "create"}}}))

	id, secret, err := GenerateToken()
	require.NoError(t, err)
	tok := models.NewToken(id, HashToken(secret), models.TokenKindClient, []string{"ns1"}, []string{"runner"}, 0)
	require.NoError(t, store.InsertToken(ctx, tok))

	require.NoError(t, a.Authorize(ctx, tok, "ns1", "run", "create"))
	require.Error(t, a.Authorize(ctx, tok, "ns2", "run", "create"))
	require.Error(t, a.Authorize(ctx, tok, "ns1", "pipeline", "delete"))
}

func TestMiddlewareAttachesAuthenticatedToken(t *testing.T) {
	store := newStore(t)
	a := New(store)
	ctx := context.Background()

	id, secret, err := GenerateToken()
	require.NoError(t, err)
	tok := models.NewToken(id, HashToken(secret), models.TokenKindManagement, nil, nil, 0)
	require.NoError(t, store.InsertToken(ctx, tok))

	var seen *models.Token
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = TokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, id, seen.ID)

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusUnauthorized, rec2.Code)
}
