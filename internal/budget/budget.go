// Package budget provides token budget estimation and context trimming for
// answer generation. Because jiraiya supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose and issue text). This
// deliberately under-estimates token counts to leave headroom for
// model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"

	"github.com/KixPanganiban/jiraiya-go/internal/rag"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English and code; using 3
	// would be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving room
	// for the output. Override via MODEL_MAX_CONTEXT_TOKENS.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory removes the oldest messages from history until the total
// estimated token count of fixed + history fits within maxTokens. fixed
// contains messages that must not be trimmed (system prompt, retrieved issue
// context, current user question). history contains prior conversation turns
// that may be dropped oldest-first.
//
// Returns the trimmed history slice. If even an empty history exceeds the
// budget, the empty slice is returned (fixed messages are never dropped here —
// callers should warn separately if fixed alone exceeds the budget).
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)

	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		// Drop the oldest message.
		history = history[1:]
	}
	return history
}

// TrimDocuments drops the lowest-ranked retrieved documents until the
// estimated token count of their combined content fits within maxTokens.
// docs must be ordered best-first (as the retriever returns them); trimming
// removes from the tail so the most relevant issues always survive.
//
// A single document that alone exceeds the budget is kept — the generator's
// prompt is then over budget, but returning zero context for a non-empty
// retrieval would be worse than a long prompt.
func TrimDocuments(docs []rag.Document, maxTokens int) []rag.Document {
	if len(docs) <= 1 {
		return docs
	}

	total := 0
	for _, d := range docs {
		total += Estimate(d.Content)
	}
	for len(docs) > 1 && total > maxTokens {
		last := docs[len(docs)-1]
		total -= Estimate(last.Content)
		docs = docs[:len(docs)-1]
	}
	return docs
}
