package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestOpenAI(t *testing.T, h http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: ts.URL + "/", HTTPClient: ts.Client()})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	p.retry = RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	return p
}

func TestOpenAIWireFormatMapping(t *testing.T) {
	var seen map[string]any
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("decode req: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-test-0001",
			"choices": [{"message": {"role": "assistant", "content": "ahoy"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`))
	})

	resp, err := p.Chat(context.Background(), Request{
		Messages: []Message{
			{Role: RoleUser, Name: "alice", Content: []Part{TextPart("look"), ImagePart("data:image/jpeg;base64,AAAA")}},
			{Role: RoleAssistant, Name: "assistant", Content: []Part{TextPart("nice")}},
			Text(RoleSystem, "be a pirate"),
		},
		Options: Options{Model: "gpt-test", MaxTokens: 64},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "ahoy" || resp.Model != "gpt-test-0001" || resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Fatalf("unexpected response: %#v", resp)
	}

	if seen["model"] != "gpt-test" {
		t.Fatalf("unexpected model: %v", seen["model"])
	}
	messages := seen["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}

	first := messages[0].(map[string]any)
	if first["name"] != "alice" {
		t.Fatalf("expected name alice, got %v", first["name"])
	}
	parts, ok := first["content"].([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %#v", first["content"])
	}
	img := parts[1].(map[string]any)
	if img["type"] != "image_url" || img["image_url"].(map[string]any)["url"] != "data:image/jpeg;base64,AAAA" {
		t.Fatalf("unexpected image part: %#v", img)
	}

	second := messages[1].(map[string]any)
	if second["content"] != "nice" || second["role"] != "assistant" {
		t.Fatalf("text-only turn should have string content: %#v", second)
	}
	third := messages[2].(map[string]any)
	if third["role"] != "system" || third["content"] != "be a pirate" {
		t.Fatalf("unexpected system turn: %#v", third)
	}
	if _, ok := third["name"]; ok {
		t.Fatalf("did not expect name on system turn")
	}
}

func TestOpenAIRetry429ThenSuccess(t *testing.T) {
	var calls int32
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	resp, err := p.Chat(context.Background(), Request{Messages: []Message{Text(RoleSystem, "x")}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestOpenAIErrorStatus(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	})
	if _, err := p.Chat(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for 400")
	}
}

func TestOpenAIGenerateImage(t *testing.T) {
	var seen openAIImageRequest
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("decode req: %v", err)
		}
		_, _ = w.Write([]byte(`{"data":[{"url":"https://images.example/1.png"}]}`))
	})

	url, err := p.GenerateImage(context.Background(), "a cat")
	if err != nil {
		t.Fatalf("generate image: %v", err)
	}
	if url != "https://images.example/1.png" {
		t.Fatalf("unexpected url %q", url)
	}
	want := openAIImageRequest{Model: "dall-e-3", Prompt: "a cat", N: 1, Size: "1024x1024"}
	if seen != want {
		t.Fatalf("unexpected request %#v", seen)
	}
}

func TestOpenAIGenerateImageNoData(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	url, err := p.GenerateImage(context.Background(), "a cat")
	if err != nil || url != "" {
		t.Fatalf("expected no image, got %q, %v", url, err)
	}
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{APIKey: "  "}); err == nil {
		t.Fatal("expected error for missing key")
	}
}
