// Package rag defines the interfaces for the retrieval-augmented pipeline:
// embedding, vector search, and high-level retrieval. Concrete backends
// (the local SQLite index, Qdrant) satisfy these interfaces so the answer
// and pipeline layers never depend on a specific store.
package rag

import (
	"context"
)

// Document represents one indexed JIRA issue as a unit of retrieval.
type Document struct {
	// ID is the unique document identifier — the JIRA issue key (e.g. "AL-42").
	ID string

	// Content is the normalized issue text produced by the document builder.
	Content string

	// Source is the issue browse URL (https://<domain>/browse/<key>).
	Source string

	// Metadata holds issue fields as key-value pairs (assignee, status,
	// creator, created, updated, related).
	Metadata map[string]string

	// Score is the cosine similarity assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher is the read side of a vector index: nearest-neighbour lookup by
// query embedding. Both the local SQLite index and the Qdrant store satisfy
// it. Implementations must be safe to call from multiple goroutines.
type Searcher interface {
	// Search returns the topK most similar documents for the query embedding,
	// ordered by descending similarity. topK <= 0 returns an empty slice;
	// topK larger than the stored count returns everything.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error)
}

// IndexWriter is the write side of one index build. A build is all-or-nothing:
// Add may be called repeatedly with batches, then exactly one of Commit or
// Abort. Commit atomically replaces any previously persisted index; Abort
// discards the staged build and leaves the previous index untouched.
type IndexWriter interface {
	// Add stages a batch of documents with their pre-computed embeddings.
	// The embeddings slice must be parallel to docs.
	Add(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Commit finalises the staged build and swaps it into place.
	Commit(ctx context.Context) error

	// Abort discards the staged build. Safe to call after a failed Add;
	// a no-op after Commit.
	Abort() error
}

// Retriever is the high-level interface used by the answer layer to fetch
// relevant issues for a question. It combines embedding and vector search.
type Retriever interface {
	// Retrieve returns the topK most relevant documents for the question.
	Retrieve(ctx context.Context, question string, topK int) ([]Document, error)
}
