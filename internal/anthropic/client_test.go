package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func writeText(w http.ResponseWriter, text string, usage Usage) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"content":     []map[string]string{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
		"usage":       usage,
	})
}

func TestComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("expected /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key test-key, got %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("expected anthropic-version 2023-06-01, got %q", r.Header.Get("anthropic-version"))
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %q", req.Model)
		}
		if len(req.System) != 1 || req.System[0].Text != "you are a test" {
			t.Errorf("expected one system block, got %+v", req.System)
		}
		if req.System[0].CacheControl != nil {
			t.Error("expected no cache_control when caching is off")
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.MaxTokens != 100 {
			t.Errorf("expected max_tokens 100, got %d", req.MaxTokens)
		}

		writeText(w, "world", Usage{InputTokens: 12, OutputTokens: 3})
	}))
	defer server.Close()

	c := NewClient("test-key", "test-model")
	c.SetTestTransport(server.URL)

	res, err := c.Complete(context.Background(), Request{
		System:    "you are a test",
		Messages:  []Message{{Role: "user", Content: "hello"}},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "world" {
		t.Errorf("expected 'world', got %q", res.Text)
	}
	if res.Usage.InputTokens != 12 || res.Usage.OutputTokens != 3 {
		t.Errorf("unexpected usage: %+v", res.Usage)
	}
}

func TestComplete_CacheControl(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		system, ok := raw["system"].([]any)
		if !ok || len(system) != 1 {
			t.Fatalf("expected system block array, got %v", raw["system"])
		}
		block := system[0].(map[string]any)
		cc, ok := block["cache_control"].(map[string]any)
		if !ok || cc["type"] != "ephemeral" {
			t.Errorf("expected ephemeral cache_control, got %v", block["cache_control"])
		}

		writeText(w, "ok", Usage{InputTokens: 40, OutputTokens: 5, CacheReadInputTokens: 2000})
	}))
	defer server.Close()

	c := NewClient("test-key", "test-model")
	c.SetTestTransport(server.URL)

	res, err := c.Complete(context.Background(), Request{
		System:      "long static preamble",
		CacheSystem: true,
		Messages:    []Message{{Role: "user", Content: "hi"}},
		MaxTokens:   50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Usage.CacheReadInputTokens != 2000 {
		t.Errorf("expected cache read tokens 2000, got %d", res.Usage.CacheReadInputTokens)
	}
}

func TestComplete_APIError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		errType   string
		retryable bool
	}{
		{name: "bad request", status: http.StatusBadRequest, errType: "invalid_request_error", retryable: false},
		{name: "rate limited", status: http.StatusTooManyRequests, errType: "rate_limit_error", retryable: true},
		{name: "overloaded", status: 529, errType: "overloaded_error", retryable: true},
		{name: "server error", status: http.StatusInternalServerError, errType: "api_error", retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"type": tt.errType, "message": "nope"},
				})
			}))
			defer server.Close()

			c := NewClient("test-key", "test-model")
			c.SetTestTransport(server.URL)

			_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}, MaxTokens: 10})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Type != tt.errType {
				t.Errorf("unexpected api error: %+v", apiErr)
			}
			if apiErr.Retryable() != tt.retryable {
				t.Errorf("expected retryable=%v", tt.retryable)
			}
		})
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"content": []any{}, "stop_reason": "end_turn"})
	}))
	defer server.Close()

	c := NewClient("test-key", "test-model")
	c.SetTestTransport(server.URL)

	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}, MaxTokens: 100})
	if err == nil {
		t.Fatal("expected error for empty content response")
	}
}
