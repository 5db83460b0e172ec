package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/KixPanganiban/jiraiya-go/internal/index"
	"github.com/KixPanganiban/jiraiya-go/internal/jira"
	"github.com/KixPanganiban/jiraiya-go/internal/rag"
)

// fakeSource returns a canned issue list.
type fakeSource struct {
	issues []jira.Issue
	err    error
}

func (f *fakeSource) FetchAll(_ context.Context, _ string) ([]jira.Issue, error) {
	return f.issues, f.err
}

// featureEmbedder produces deterministic vectors from keyword features, so
// similarity rankings in tests are exact rather than probabilistic.
type featureEmbedder struct {
	err error
}

func (f *featureEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		vec := make([]float32, 4)
		if strings.Contains(lower, "kix") {
			vec[0] = 1
		}
		if strings.Contains(lower, "docs") {
			vec[1] = 1
		}
		if strings.Contains(lower, "database") {
			vec[2] = 1
		}
		vec[3] = 1
		out[i] = vec
	}
	return out, nil
}

// fakeWriter records writer calls.
type fakeWriter struct {
	added     int
	committed bool
	aborted   bool
	addErr    error
}

func (w *fakeWriter) Add(_ context.Context, docs []rag.Document, _ [][]float32) error {
	if w.addErr != nil {
		return w.addErr
	}
	w.added += len(docs)
	return nil
}

func (w *fakeWriter) Commit(_ context.Context) error { w.committed = true; return nil }
func (w *fakeWriter) Abort() error                   { w.aborted = true; return nil }

// fakeGenerator echoes the top document key, or a canned string with no docs.
type fakeGenerator struct {
	gotDocs    []rag.Document
	gotHistory []*schema.Message
}

func (g *fakeGenerator) Answer(_ context.Context, _ string, docs []rag.Document, history []*schema.Message) (string, error) {
	g.gotDocs = docs
	g.gotHistory = history
	if len(docs) == 0 {
		return "no relevant issues found", nil
	}
	return "top match: " + docs[0].ID, nil
}

func testIssues() []jira.Issue {
	return []jira.Issue{
		{Key: "AL-1", Summary: "Fix login bug", Status: "In Progress", Assignee: "Kix"},
		{Key: "AL-2", Summary: "Write onboarding docs", Status: "To Do", Assignee: "Sam"},
		{Key: "AL-3", Summary: "Upgrade database", Status: "Done", Assignee: "Unassigned"},
	}
}

func Test_Init_BuildsIndexAndSkipsInvalid(t *testing.T) {
	t.Parallel()

	issues := append(testIssues(), jira.Issue{Key: "AL-4"}) // no summary: unindexable
	p := New(&Config{
		Source:   &fakeSource{issues: issues},
		Embedder: &featureEmbedder{},
		Domain:   "example.atlassian.net",
	})

	w := &fakeWriter{}
	res, err := p.Init(context.Background(), "AL", w, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if res.Fetched != 4 || res.Indexed != 3 || res.Skipped != 1 {
		t.Errorf("result: %+v", res)
	}
	if !w.committed || w.aborted {
		t.Errorf("writer: committed=%v aborted=%v", w.committed, w.aborted)
	}
	if w.added != 3 {
		t.Errorf("added: want 3, got %d", w.added)
	}
}

func Test_Init_BatchesEmbedding(t *testing.T) {
	t.Parallel()

	var issues []jira.Issue
	for i := 0; i < 5; i++ {
		issues = append(issues, jira.Issue{Key: "AL-" + string(rune('1'+i)), Summary: "issue"})
	}
	p := New(&Config{
		Source:    &fakeSource{issues: issues},
		Embedder:  &featureEmbedder{},
		BatchSize: 2,
	})

	w := &fakeWriter{}
	res, err := p.Init(context.Background(), "AL", w, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if res.Indexed != 5 {
		t.Errorf("indexed: want 5, got %d", res.Indexed)
	}
}

func Test_Init_EmbedderFailureAborts(t *testing.T) {
	t.Parallel()

	p := New(&Config{
		Source:      &fakeSource{issues: testIssues()},
		Embedder:    &featureEmbedder{err: errors.New("provider down")},
		MaxAttempts: 1,
	})

	w := &fakeWriter{}
	if _, err := p.Init(context.Background(), "AL", w, nil); err == nil {
		t.Fatal("want error when embedding fails")
	}
	if w.committed || !w.aborted {
		t.Errorf("failed build must abort: committed=%v aborted=%v", w.committed, w.aborted)
	}
}

func Test_Init_SourceFailureAborts(t *testing.T) {
	t.Parallel()

	p := New(&Config{
		Source:   &fakeSource{err: jira.ErrUnavailable},
		Embedder: &featureEmbedder{},
	})

	w := &fakeWriter{}
	_, err := p.Init(context.Background(), "AL", w, nil)
	if !errors.Is(err, jira.ErrUnavailable) {
		t.Errorf("want ErrUnavailable, got %v", err)
	}
	if !w.aborted {
		t.Error("failed fetch must abort the writer")
	}
}

func Test_Init_EmptyProjectCommitsEmptyIndex(t *testing.T) {
	t.Parallel()

	p := New(&Config{
		Source:   &fakeSource{},
		Embedder: &featureEmbedder{},
	})

	w := &fakeWriter{}
	res, err := p.Init(context.Background(), "AL", w, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if res.Indexed != 0 || !w.committed {
		t.Errorf("empty project must still commit: %+v committed=%v", res, w.committed)
	}
}

// Test_InitThenAsk_FindsAssigneeWork runs the whole flow against a real
// on-disk index: index three issues, then ask who is working on what and
// check the issue assigned to Kix ranks first.
func Test_InitThenAsk_FindsAssigneeWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	emb := &featureEmbedder{}
	builder, err := index.NewBuilder(path, "feature-test", 0)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	initP := New(&Config{
		Source:   &fakeSource{issues: testIssues()},
		Embedder: emb,
		Domain:   "example.atlassian.net",
	})
	if _, err := initP.Init(ctx, "AL", builder, nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	s, err := index.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	retriever, err := rag.NewRetriever(emb, s, 5)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	gen := &fakeGenerator{}
	askP := New(&Config{Retriever: retriever, Generator: gen})

	answer, docs, err := askP.Ask(ctx, "What is Kix working on?", 1, nil)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "AL-1" {
		t.Fatalf("retrieval: want AL-1 first, got %+v", docs)
	}
	if answer != "top match: AL-1" {
		t.Errorf("answer: got %q", answer)
	}
	if docs[0].Source != "https://example.atlassian.net/browse/AL-1" {
		t.Errorf("source link: got %q", docs[0].Source)
	}
}

func Test_Ask_EmptyIndexAnswersGracefully(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	emb := &featureEmbedder{}
	builder, err := index.NewBuilder(path, "feature-test", 4)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	if err := builder.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	s, err := index.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	retriever, err := rag.NewRetriever(emb, s, 5)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	gen := &fakeGenerator{}
	p := New(&Config{Retriever: retriever, Generator: gen})

	answer, docs, err := p.Ask(ctx, "anything?", 5, nil)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("want no docs from empty index, got %d", len(docs))
	}
	if answer != "no relevant issues found" {
		t.Errorf("answer: got %q", answer)
	}
}

func Test_Ask_PropagatesHistory(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	retriever := retrieverFunc(func(_ context.Context, _ string, _ int) ([]rag.Document, error) {
		return []rag.Document{{ID: "AL-1"}}, nil
	})
	p := New(&Config{Retriever: retriever, Generator: gen})

	history := []*schema.Message{schema.UserMessage("earlier")}
	if _, _, err := p.Ask(context.Background(), "followup", 5, history); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if len(gen.gotHistory) != 1 || gen.gotHistory[0].Content != "earlier" {
		t.Errorf("history not forwarded: %v", gen.gotHistory)
	}
}

// retrieverFunc adapts a function to the rag.Retriever interface.
type retrieverFunc func(ctx context.Context, question string, topK int) ([]rag.Document, error)

func (f retrieverFunc) Retrieve(ctx context.Context, question string, topK int) ([]rag.Document, error) {
	return f(ctx, question, topK)
}
