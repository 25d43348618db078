package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/soullink/backend/internal/auth"
	"github.com/zhouzirui/soullink/backend/internal/middleware"
	"github.com/zhouzirui/soullink/backend/internal/model/identity"
	identityService "github.com/zhouzirui/soullink/backend/internal/service/identity"
	"github.com/zhouzirui/soullink/backend/internal/store/kv"
)

type fixture struct {
	router     *chi.Mux
	issuer     *auth.Issuer
	identities *identityService.Service
}

func setupRouter(t *testing.T) fixture {
	t.Helper()
	issuer, err := auth.NewIssuer("test-key", time.Hour)
	require.NoError(t, err)
	identities := identityService.NewService(kv.NewMemoryStore())
	handler := New(identities, issuer)

	r := chi.NewRouter()
	handler.RegisterPublicRoutes(r)
	r.Group(func(protected chi.Router) {
		protected.Use(middleware.Authenticate(issuer))
		handler.RegisterRoutes(protected)
	})
	return fixture{router: r, issuer: issuer, identities: identities}
}

func (f fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func login(t *testing.T, f fixture, previousID string) loginResponse {
	t.Helper()
	resp := f.do(http.MethodPost, "/auth/guest", "", map[string]string{"guestId": previousID})
	require.Equal(t, http.StatusOK, resp.Code)

	var out loginResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestGuestLoginIssuesToken(t *testing.T) {
	f := setupRouter(t)

	out := login(t, f, "")
	assert.NotEmpty(t, out.Token)
	assert.Equal(t, identity.RoleGuest, out.User.Role)

	claims, err := f.issuer.Validate(out.Token)
	require.NoError(t, err)
	assert.Equal(t, out.User.ID, claims.UserID)
}

func TestGuestLoginRestoresPreviousGuest(t *testing.T) {
	f := setupRouter(t)

	first := login(t, f, "")
	second := login(t, f, first.User.ID)
	assert.Equal(t, first.User.ID, second.User.ID)

	third := login(t, f, "guest_unknown")
	assert.NotEqual(t, "guest_unknown", third.User.ID)
}

func TestMeRequiresToken(t *testing.T) {
	f := setupRouter(t)

	resp := f.do(http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = f.do(http.MethodGet, "/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestMeReturnsStoredIdentity(t *testing.T) {
	f := setupRouter(t)
	out := login(t, f, "")

	resp := f.do(http.MethodGet, "/me", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var user identity.User
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &user))
	assert.Equal(t, out.User.ID, user.ID)
}

func TestShards(t *testing.T) {
	f := setupRouter(t)
	out := login(t, f, "")

	resp := f.do(http.MethodPost, "/shards/add", out.Token, map[string]int{"amount": 5})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(http.MethodPost, "/shards/spend", out.Token, map[string]int{"amount": 3})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(http.MethodPost, "/shards/spend", out.Token, map[string]int{"amount": 3})
	assert.Equal(t, http.StatusPaymentRequired, resp.Code)

	resp = f.do(http.MethodPost, "/shards/add", out.Token, map[string]int{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	user, err := f.identities.Get(context.Background(), out.User.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, user.MoonShards)
}

func TestUnknownIdentityIsNotFound(t *testing.T) {
	f := setupRouter(t)
	token, err := f.issuer.Issue("guest_gone", string(identity.RoleGuest))
	require.NoError(t, err)

	resp := f.do(http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
