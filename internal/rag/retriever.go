package rag

import (
	"context"
	"fmt"
)

// Dimensioned is implemented by searchers that know their stored embedding
// dimensionality. The retriever uses it to fail fast on a stale index rather
// than returning garbage similarities.
type Dimensioned interface {
	// Dimensions returns the vector length of the stored embeddings.
	Dimensions() int
}

// DefaultRetriever implements the Retriever interface by combining an
// Embedder and a Searcher. The question is embedded with the same embedding
// function used at index-build time, then similarity search is delegated to
// the store.
type DefaultRetriever struct {
	// embedder converts the question text to a dense vector.
	embedder Embedder

	// searcher performs the vector similarity search.
	searcher Searcher

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and
// Searcher. defaultTopK sets the fallback result count when Retrieve is
// called with topK <= 0.
func NewRetriever(embedder Embedder, searcher Searcher, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("rag: searcher must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &DefaultRetriever{
		embedder:    embedder,
		searcher:    searcher,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the question and returns the top-k most relevant documents.
// If topK is 0 the defaultTopK configured at construction time is used.
// A dimension mismatch between the question embedding and the stored index is
// a hard error (stale index — the user must rebuild), surfaced by the store.
func (r *DefaultRetriever) Retrieve(ctx context.Context, question string, topK int) ([]Document, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding question failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for question")
	}

	docs, err := r.searcher.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	return docs, nil
}
