package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/soullink/backend/internal/auth"
	"github.com/zhouzirui/soullink/backend/internal/middleware"
	"github.com/zhouzirui/soullink/backend/internal/model/chat"
	"github.com/zhouzirui/soullink/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/soullink/backend/internal/service/chat"
	identityservice "github.com/zhouzirui/soullink/backend/internal/service/identity"
	"github.com/zhouzirui/soullink/backend/internal/service/quota"
	"github.com/zhouzirui/soullink/backend/internal/service/session"
	"github.com/zhouzirui/soullink/backend/internal/store/kv"
)

type fixture struct {
	router     *chi.Mux
	chatSvc    *chatservice.Service
	identities *identityservice.Service
}

func setupRouter(t *testing.T) fixture {
	t.Helper()
	store := kv.NewMemoryStore()
	identities := identityservice.NewService(store)
	personas := persona.NewMemoryStore(persona.Seed())
	chatSvc := chatservice.NewService(
		session.NewService(store, 0),
		quota.NewTracker(identities, nil),
		personas,
		nil,
	)
	handler := New(chatSvc, personas)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return fixture{router: r, chatSvc: chatSvc, identities: identities}
}

func authed(req *http.Request, userID string) *http.Request {
	ctx := middleware.WithClaims(req.Context(), &auth.Claims{UserID: userID})
	return req.WithContext(ctx)
}

func doJSON(t *testing.T, r http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = authed(req, userID)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

var transcript = []chat.Message{
	{ID: "init", Role: chat.RoleModel, Text: "hi there"},
	{ID: "1", Role: chat.RoleUser, Text: "hello"},
}

func TestSendRequiresAuthentication(t *testing.T) {
	f := setupRouter(t)
	resp := doJSON(t, f.router, http.MethodPost, "/chat/send", "", map[string]string{"personaId": "luna", "text": "hi"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestSendValidPersona(t *testing.T) {
	f := setupRouter(t)
	guest, _ := f.identities.GuestLogin(context.Background(), "")

	resp := doJSON(t, f.router, http.MethodPost, "/chat/send", guest.ID, map[string]string{"personaId": "luna", "text": "hi"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var result chatservice.SendResult
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Session.ID == "" || !result.Decision.Allowed {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSendInvalidPersona(t *testing.T) {
	f := setupRouter(t)
	guest, _ := f.identities.GuestLogin(context.Background(), "")

	resp := doJSON(t, f.router, http.MethodPost, "/chat/send", guest.ID, map[string]string{"personaId": "non-existent", "text": "hi"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendMissingPersonaID(t *testing.T) {
	f := setupRouter(t)
	guest, _ := f.identities.GuestLogin(context.Background(), "")

	resp := doJSON(t, f.router, http.MethodPost, "/chat/send", guest.ID, map[string]string{"text": "hi"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendOverLimitReturnsWait(t *testing.T) {
	f := setupRouter(t)
	guest, _ := f.identities.GuestLogin(context.Background(), "")

	for i := 0; i < 12; i++ {
		resp := doJSON(t, f.router, http.MethodPost, "/chat/send", guest.ID, map[string]string{"personaId": "kai", "text": "again"})
		if resp.Code != http.StatusCreated {
			t.Fatalf("send %d: expected 201, got %d", i+1, resp.Code)
		}
	}

	resp := doJSON(t, f.router, http.MethodPost, "/chat/send", guest.ID, map[string]string{"personaId": "kai", "text": "again"})
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}

	var body struct {
		Allowed    bool   `json:"allowed"`
		WaitMillis int64  `json:"waitMillis"`
		Window     string `json:"window"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Allowed || body.WaitMillis <= 0 || body.Window != "day" {
		t.Fatalf("unexpected refusal %+v", body)
	}
}

func TestAutosaveAndList(t *testing.T) {
	f := setupRouter(t)

	resp := doJSON(t, f.router, http.MethodPut, "/sessions/one", "owner", map[string]any{"personaId": "luna", "messages": transcript})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	resp = doJSON(t, f.router, http.MethodPut, "/sessions/two", "owner", map[string]any{"personaId": "retired", "messages": transcript})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = doJSON(t, f.router, http.MethodGet, "/sessions", "owner", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var views []struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		PersonaName  string `json:"personaName"`
		PersonaKnown bool   `json:"personaKnown"`
		LastModified int64  `json:"lastModified"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(views))
	}
	if views[0].LastModified < views[1].LastModified {
		t.Fatal("expected most recent first")
	}
	for _, v := range views {
		if v.Title != "hello..." {
			t.Fatalf("unexpected title %q", v.Title)
		}
		if v.ID == "two" && (v.PersonaKnown || v.PersonaName != "Unknown") {
			t.Fatalf("retired persona should be flagged, got %+v", v)
		}
		if v.ID == "one" && (!v.PersonaKnown || v.PersonaName != "Luna") {
			t.Fatalf("expected luna, got %+v", v)
		}
	}
}

func TestAutosaveSkipsShortTranscript(t *testing.T) {
	f := setupRouter(t)

	resp := doJSON(t, f.router, http.MethodPut, "/sessions/one", "owner", map[string]any{"personaId": "luna", "messages": transcript[:1]})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte(`"saved":false`)) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}

	resp = doJSON(t, f.router, http.MethodGet, "/sessions/one", "owner", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestDeleteSessionAndClear(t *testing.T) {
	f := setupRouter(t)
	for _, id := range []string{"a", "b"} {
		doJSON(t, f.router, http.MethodPut, "/sessions/"+id, "owner", map[string]any{"personaId": "sage", "messages": transcript})
	}

	resp := doJSON(t, f.router, http.MethodDelete, "/sessions/a", "owner", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}

	history, _ := f.chatSvc.History(context.Background(), "owner")
	if len(history) != 1 || history[0].ID != "b" {
		t.Fatalf("expected only b to remain, got %+v", history)
	}

	resp = doJSON(t, f.router, http.MethodDelete, "/sessions", "owner", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	history, _ = f.chatSvc.History(context.Background(), "owner")
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestSendOversizedAttachmentIsTooLarge(t *testing.T) {
	f := setupRouter(t)
	guest, _ := f.identities.GuestLogin(context.Background(), "")

	body := map[string]any{
		"personaId":  "luna",
		"attachment": map[string]string{"mimeType": "image/png", "data": strings.Repeat("A", 9<<20)},
	}
	resp := doJSON(t, f.router, http.MethodPost, "/chat/send", guest.ID, body)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}

	user, _ := f.identities.Get(context.Background(), guest.ID)
	if len(user.MsgCount) != 0 {
		t.Fatalf("rejected send must not consume allowance, got %d", len(user.MsgCount))
	}
}
