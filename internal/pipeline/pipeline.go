// Package pipeline orchestrates the two jiraiya flows: building the issue
// index (`jiraiya init`) and answering a question against it (`jiraiya ask`).
// It owns no I/O of its own — the JIRA client, embedder, index writer,
// retriever, and answer generator are all injected.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/KixPanganiban/jiraiya-go/internal/document"
	"github.com/KixPanganiban/jiraiya-go/internal/jira"
	"github.com/KixPanganiban/jiraiya-go/internal/logging"
	"github.com/KixPanganiban/jiraiya-go/internal/rag"
	"github.com/KixPanganiban/jiraiya-go/internal/retry"
)

// IssueSource fetches every issue of a JIRA project.
type IssueSource interface {
	FetchAll(ctx context.Context, projectKey string) ([]jira.Issue, error)
}

// AnswerGenerator turns a question plus retrieved context into an answer.
type AnswerGenerator interface {
	Answer(ctx context.Context, question string, docs []rag.Document, history []*schema.Message) (string, error)
}

// Config holds the dependencies and tuning for a Pipeline. Init requires
// Source and Embedder; Ask requires Retriever and Generator. The CLI wires
// only the half it needs.
type Config struct {
	// Source is the JIRA issue source (Init only).
	Source IssueSource

	// Embedder converts issue documents into vectors (Init only).
	Embedder rag.Embedder

	// Retriever finds the issues most similar to a question (Ask only).
	Retriever rag.Retriever

	// Generator produces the final answer from retrieved context (Ask only).
	Generator AnswerGenerator

	// Domain is the JIRA domain used to build browse links (e.g.
	// "example.atlassian.net"). Optional.
	Domain string

	// BatchSize is the number of documents embedded per provider call.
	// Defaults to 64 if zero.
	BatchSize int

	// MaxAttempts is the retry budget for each embedding batch.
	// Defaults to retry.DefaultMaxAttempts if zero.
	MaxAttempts int
}

// Pipeline orchestrates the fetch → build → embed → index flow and the
// retrieve → generate flow.
type Pipeline struct {
	source      IssueSource
	embedder    rag.Embedder
	retriever   rag.Retriever
	generator   AnswerGenerator
	domain      string
	batchSize   int
	maxAttempts int
}

// New constructs a Pipeline from the provided Config.
func New(cfg *Config) *Pipeline {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 64
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = retry.DefaultMaxAttempts
	}
	return &Pipeline{
		source:      cfg.Source,
		embedder:    cfg.Embedder,
		retriever:   cfg.Retriever,
		generator:   cfg.Generator,
		domain:      cfg.Domain,
		batchSize:   batch,
		maxAttempts: attempts,
	}
}

// InitResult summarises an index build.
type InitResult struct {
	// Fetched is the number of issues retrieved from JIRA.
	Fetched int
	// Indexed is the number of documents written to the index.
	Indexed int
	// Skipped is the number of issues dropped as unindexable.
	Skipped int
}

// Init fetches every issue of projectKey, converts each into a document,
// embeds them in batches, and writes the result through writer. The writer is
// committed only after every batch succeeded; any failure aborts it so a
// previously committed index survives untouched. Issues that cannot form a
// valid document are skipped with a warning rather than failing the build.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Init(ctx context.Context, projectKey string, writer rag.IndexWriter, progress func(msg string)) (*InitResult, error) {
	if p.source == nil || p.embedder == nil {
		return nil, fmt.Errorf("pipeline: Init requires Source and Embedder")
	}
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx)

	progress(fmt.Sprintf("fetching issues for project %s", projectKey))
	issues, err := p.source.FetchAll(ctx, projectKey)
	if err != nil {
		writer.Abort()
		return nil, fmt.Errorf("pipeline: fetch failed: %w", err)
	}
	progress(fmt.Sprintf("fetched %d issues", len(issues)))

	result := &InitResult{Fetched: len(issues)}

	docs := make([]rag.Document, 0, len(issues))
	for _, issue := range issues {
		doc, err := document.Build(issue, p.domain)
		if err != nil {
			if errors.Is(err, document.ErrInvalidIssue) {
				result.Skipped++
				log.Warn("skipping unindexable issue",
					slog.String("key", issue.Key),
					slog.Any("error", err),
				)
				continue
			}
			writer.Abort()
			return nil, fmt.Errorf("pipeline: document build failed: %w", err)
		}
		docs = append(docs, doc)
	}

	for start := 0; start < len(docs); start += p.batchSize {
		end := start + p.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}

		var embeddings [][]float32
		err := retry.Do(ctx, p.maxAttempts, func() error {
			var embedErr error
			embeddings, embedErr = p.embedder.Embed(ctx, texts)
			return embedErr
		})
		if err != nil {
			writer.Abort()
			return nil, fmt.Errorf("pipeline: embedding failed: %w", err)
		}

		if err := writer.Add(ctx, batch, embeddings); err != nil {
			writer.Abort()
			return nil, fmt.Errorf("pipeline: index write failed: %w", err)
		}
		result.Indexed += len(batch)
		progress(fmt.Sprintf("embedded %d/%d documents", result.Indexed, len(docs)))
	}

	if err := writer.Commit(ctx); err != nil {
		writer.Abort()
		return nil, fmt.Errorf("pipeline: index commit failed: %w", err)
	}
	progress(fmt.Sprintf("indexed %d documents (%d skipped)", result.Indexed, result.Skipped))

	return result, nil
}

// Ask retrieves the topK most relevant issues for question and generates a
// grounded answer. history carries prior chat turns (nil for one-shot asks).
// The retrieved documents are returned alongside the answer so callers can
// print sources.
func (p *Pipeline) Ask(ctx context.Context, question string, topK int, history []*schema.Message) (string, []rag.Document, error) {
	if p.retriever == nil || p.generator == nil {
		return "", nil, fmt.Errorf("pipeline: Ask requires Retriever and Generator")
	}

	docs, err := p.retriever.Retrieve(ctx, question, topK)
	if err != nil {
		return "", nil, fmt.Errorf("pipeline: retrieval failed: %w", err)
	}

	answer, err := p.generator.Answer(ctx, question, docs, history)
	if err != nil {
		return "", nil, err
	}
	return answer, docs, nil
}
