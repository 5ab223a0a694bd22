package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{Model: "some-model"}); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := NewClient(ClientConfig{APIKey: "key"}); err == nil {
		t.Error("expected error for missing model")
	}

	client, err := NewClient(ClientConfig{APIKey: "key", Model: "some-model"})
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if client.config.Endpoint != defaultEndpoint {
		t.Errorf("expected default endpoint, got %q", client.config.Endpoint)
	}
}

func TestClientComplete(t *testing.T) {
	var gotRequest messageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing API key header, got %q", r.Header.Get("X-Api-Key"))
		}
		if r.Header.Get("Anthropic-Version") != apiVersion {
			t.Errorf("unexpected version header: %q", r.Header.Get("Anthropic-Version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "the analysis text"}},
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Model:    "test-model",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	text, err := client.Complete(context.Background(), "analyze this", 2500)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "the analysis text" {
		t.Errorf("unexpected completion: %q", text)
	}

	if gotRequest.Model != "test-model" {
		t.Errorf("unexpected model in request: %q", gotRequest.Model)
	}
	if gotRequest.MaxTokens != 2500 {
		t.Errorf("unexpected max_tokens: %d", gotRequest.MaxTokens)
	}
	if gotRequest.Temperature != requestTemperature {
		t.Errorf("unexpected temperature: %v", gotRequest.Temperature)
	}
	if len(gotRequest.Messages) != 1 || gotRequest.Messages[0].Role != "user" ||
		gotRequest.Messages[0].Content != "analyze this" {
		t.Errorf("unexpected messages: %+v", gotRequest.Messages)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClientNonRetryableError(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, `{"error": {"type": "invalid_request_error"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		Endpoint:   server.URL,
		APIKey:     "test-key",
		Model:      "test-model",
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), "prompt", 100)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "HTTP error 400") {
		t.Errorf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("client errors must not be retried, got %d requests", n)
	}
}

func TestClientFailsAfterAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Model:    "test-model",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), "prompt", 100)
	if err == nil {
		t.Fatal("expected error when server keeps failing")
	}
	if !strings.Contains(err.Error(), "failed after 1 attempts") {
		t.Errorf("unexpected error: %v", err)
	}

	stats := client.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestClientEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content": []}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Model:    "test-model",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), "prompt", 100)
	if err == nil || !strings.Contains(err.Error(), "no text content") {
		t.Errorf("expected empty-content error, got %v", err)
	}
}
