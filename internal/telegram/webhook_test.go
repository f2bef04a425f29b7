package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestWebhookReceive(t *testing.T) {
	var got []Update
	h := NewWebhook("s3cret", func(u Update) { got = append(got, u) }, nil)
	e := NewServer(h, "/telegram")

	body := `{"update_id":7,"message":{"message_id":1,"chat":{"id":5,"type":"group"},"text":"hello","date":1}}`
	req := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(SecretHeader, "s3cret")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(got) != 1 || got[0].UpdateID != 7 || got[0].Message.Text != "hello" {
		t.Fatalf("unexpected updates: %#v", got)
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	called := false
	e := NewServer(NewWebhook("s3cret", func(Update) { called = true }, nil), "/telegram")

	req := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(`{"update_id":1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(SecretHeader, "wrong")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if called {
		t.Fatal("sink should not be called")
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	e := NewServer(NewWebhook("", func(Update) { t.Error("sink should not be called") }, nil), "/telegram")

	req := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(`{"update_id":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookHealth(t *testing.T) {
	e := NewServer(NewWebhook("", func(Update) {}, nil), "/telegram")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["status"] != "ok" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestSetWebhook(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/setWebhook") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["url"] != "https://bot.example/telegram" || body["secret_token"] != "s3cret" {
			t.Errorf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer ts.Close()

	if err := newTestClient(ts).SetWebhook(context.Background(), "https://bot.example/telegram", "s3cret"); err != nil {
		t.Fatalf("set webhook: %v", err)
	}
}
