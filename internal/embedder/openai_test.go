package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func Test_OpenAIEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header: got %q", got)
		}

		var req openaiEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Errorf("input: want 2 texts, got %d", len(req.Input))
		}

		// Return data out of order to exercise index-based reassembly.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{4, 5, 6}, "index": 1},
				{"embedding": []float32{1, 2, 3}, "index": 0},
			},
		})
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "text-embedding-3-small",
	})

	got, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if got[0][0] != 1 || got[1][0] != 4 {
		t.Errorf("embeddings not reassembled by index: %v", got)
	}
}

func Test_OpenAIEmbedder_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key"},
		})
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	_, err := e.Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("want api error message, got %v", err)
	}
}

func Test_OpenAIEmbedder_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1}, "index": 0}},
		})
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	if _, err := e.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("mismatched embedding count must fail")
	}
}

func Test_OllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 2}, {3, 4}},
		})
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	got, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(got) != 2 || got[1][1] != 4 {
		t.Errorf("embeddings: got %v", got)
	}
}

func Test_DefaultDimensions(t *testing.T) {
	tests := []struct {
		backend string
		want    int
	}{
		{"openai", 1536},
		{"azure", 1536},
		{"ollama", 768},
		{"gemini", 768},
	}
	for _, tt := range tests {
		if got := DefaultDimensions(tt.backend); got != tt.want {
			t.Errorf("DefaultDimensions(%q): want %d, got %d", tt.backend, tt.want, got)
		}
	}
}

func Test_LooksLikeChatModel(t *testing.T) {
	t.Parallel()

	chat := []string{"gpt-4o", "llama3.2", "claude-3-haiku", "Mistral-7B"}
	for _, m := range chat {
		if !looksLikeChatModel(m) {
			t.Errorf("%q should be flagged as a chat model", m)
		}
	}
	embed := []string{"text-embedding-3-small", "nomic-embed-text", "text-embedding-004"}
	for _, m := range embed {
		if looksLikeChatModel(m) {
			t.Errorf("%q should not be flagged", m)
		}
	}
}
