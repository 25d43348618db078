package utils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusTeapot, "short and stout")

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"error":"short and stout"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	var payload struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"luna"}`))
	if err := DecodeJSON(req, &payload); err != nil {
		t.Fatalf("DecodeJSON err: %v", err)
	}
	if payload.Name != "luna" {
		t.Fatalf("unexpected name %q", payload.Name)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(req, &payload); err != nil {
		t.Fatalf("empty body should decode, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	if err := DecodeJSON(req, &payload); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	if err := SendSSEEvent(rec, rec, "quota", map[string]int{"waitMillis": 5}); err != nil {
		t.Fatalf("SendSSEEvent err: %v", err)
	}

	want := "event: quota\ndata: {\"waitMillis\":5}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatal("missing sse content type")
	}
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	var payload struct {
		Data string `json:"data"`
	}
	big := `{"data":"` + strings.Repeat("A", MaxBodyBytes) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	err := DecodeJSON(req, &payload)

	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected MaxBytesError, got %v", err)
	}
	if payload.Data != "" {
		t.Fatal("oversized body must not be decoded")
	}
}

func TestRespondDecodeError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondDecodeError(rec, &http.MaxBytesError{Limit: MaxBodyBytes})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	RespondDecodeError(rec, errors.New("unexpected EOF"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
