package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/KixPanganiban/jiraiya-go/internal/rag"
)

// fakeAsker returns a scripted answer or error for every question.
type fakeAsker struct {
	answer string
	docs   []rag.Document
	err    error

	lastQuestion string
	lastTopK     int
}

func (f *fakeAsker) Ask(_ context.Context, question string, topK int, _ []*schema.Message) (string, []rag.Document, error) {
	f.lastQuestion = question
	f.lastTopK = topK
	if f.err != nil {
		return "", nil, f.err
	}
	return f.answer, f.docs, nil
}

func newTestServer(t *testing.T, a asker, cfg *Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	s, err := New(a, cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

func postAsk(t *testing.T, h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func Test_HandleAsk_ReturnsAnswerWithSources(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{
		answer: "Kix is working on the login flow (AL-1).",
		docs: []rag.Document{
			{ID: "AL-1", Source: "https://acme.atlassian.net/browse/AL-1", Score: 0.91},
			{ID: "AL-7", Source: "https://acme.atlassian.net/browse/AL-7", Score: 0.42},
		},
	}
	s := newTestServer(t, asker, nil)

	rec := postAsk(t, s.Handler(), `{"question":"What is Kix working on?"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp askResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != asker.answer {
		t.Errorf("answer = %q, want %q", resp.Answer, asker.answer)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(resp.Sources))
	}
	if resp.Sources[0].Key != "AL-1" || resp.Sources[0].Link != "https://acme.atlassian.net/browse/AL-1" {
		t.Errorf("first source = %+v, want AL-1 with browse link", resp.Sources[0])
	}
	if asker.lastTopK != 5 {
		t.Errorf("default topK = %d, want 5", asker.lastTopK)
	}
}

func Test_HandleAsk_TopKOverride(t *testing.T) {
	t.Parallel()

	asker := &fakeAsker{answer: "ok"}
	s := newTestServer(t, asker, nil)

	rec := postAsk(t, s.Handler(), `{"question":"q","topK":3}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if asker.lastTopK != 3 {
		t.Errorf("topK = %d, want 3", asker.lastTopK)
	}
}

func Test_HandleAsk_MissingQuestion(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{}, nil)

	rec := postAsk(t, s.Handler(), `{"topK":2}`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func Test_HandleAsk_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{}, nil)

	rec := postAsk(t, s.Handler(), `{not json`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func Test_HandleAsk_GenerationError(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{err: errors.New("model exploded")}, nil)

	rec := postAsk(t, s.Handler(), `{"question":"q"}`, nil)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	body, _ := io.ReadAll(rec.Body)
	if bytes.Contains(body, []byte("model exploded")) {
		t.Errorf("response leaked internal error detail: %s", body)
	}
}

func Test_AuthMiddleware_RejectsMissingToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{answer: "ok"}, &Config{APIKey: "secret"})

	rec := postAsk(t, s.Handler(), `{"question":"q"}`, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="jiraiya"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func Test_AuthMiddleware_AcceptsValidToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{answer: "ok"}, &Config{APIKey: "secret"})

	rec := postAsk(t, s.Handler(), `{"question":"q"}`, map[string]string{
		"Authorization": "Bearer secret",
	})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func Test_AuthMiddleware_RejectsWrongToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{answer: "ok"}, &Config{APIKey: "secret"})

	rec := postAsk(t, s.Handler(), `{"question":"q"}`, map[string]string{
		"Authorization": "Bearer wrong",
	})

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func Test_RateLimit_Returns429AfterBurst(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{answer: "ok"}, &Config{RateLimit: 1, RateBurst: 2})

	var got429 bool
	for i := 0; i < 5; i++ {
		rec := postAsk(t, s.Handler(), `{"question":"q"}`, nil)
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			if retry := rec.Header().Get("Retry-After"); retry == "" {
				t.Error("429 response missing Retry-After header")
			}
			break
		}
	}
	if !got429 {
		t.Error("expected a 429 after exhausting the burst, got none")
	}
}

func Test_HandleHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func Test_HandleReady_AllProbesPass(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{}, &Config{
		Pingers: []Pinger{
			PingerFunc{PingerName: "index", Fn: func(context.Context) error { return nil }},
			PingerFunc{PingerName: "history", Fn: func(context.Context) error { return nil }},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp readyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("checks = %d, want 2", len(resp.Checks))
	}
}

func Test_HandleReady_FailingProbe(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{}, &Config{
		Pingers: []Pinger{
			PingerFunc{PingerName: "index", Fn: func(context.Context) error { return nil }},
			PingerFunc{PingerName: "qdrant", Fn: func(context.Context) error { return errors.New("connection refused") }},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var resp readyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "unavailable" {
		t.Errorf("status = %q, want unavailable", resp.Status)
	}
	if resp.Checks[1].Status != "error" || resp.Checks[1].Error == "" {
		t.Errorf("qdrant check = %+v, want error with message", resp.Checks[1])
	}
}

func Test_MetricsEndpoint_Exposed(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAsker{answer: "ok"}, nil)

	// Generate one request so the ask counters exist.
	postAsk(t, s.Handler(), `{"question":"q"}`, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(rec.Body)
	if !bytes.Contains(body, []byte("jiraiya_ask_requests_total")) {
		t.Errorf("metrics output missing jiraiya_ask_requests_total:\n%s", body)
	}
}

func Test_BearerToken_Parsing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"missing", "", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"scheme only", "Bearer ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(r); got != tt.want {
				t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
