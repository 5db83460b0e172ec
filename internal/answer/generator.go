// Package answer turns a question plus retrieved JIRA issue context into a
// grounded natural-language answer using the configured LLM backend.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/KixPanganiban/jiraiya-go/internal/budget"
	"github.com/KixPanganiban/jiraiya-go/internal/logging"
	"github.com/KixPanganiban/jiraiya-go/internal/rag"
	"github.com/KixPanganiban/jiraiya-go/internal/retry"
)

var (
	// ErrGeneration indicates the LLM backend failed to produce a completion
	// after the retry budget was exhausted.
	ErrGeneration = errors.New("answer generation failed")

	// ErrRefused indicates the LLM backend declined to answer (content
	// filter or explicit refusal). Refusals are never retried.
	ErrRefused = errors.New("answer generation refused")
)

// NoContextAnswer is returned without calling the LLM when retrieval produced
// no documents at all.
const NoContextAnswer = "I couldn't find any relevant issues in the indexed project to answer that. " +
	"Try re-running `jiraiya init` if the project has changed recently, or rephrase the question."

// systemPrompt establishes the assistant persona. Answers must be grounded in
// the injected issue context and cite issue keys.
const systemPrompt = `You are Jiraiya, an assistant that answers questions about a JIRA project
using only the issue excerpts provided in the context below.

Rules you must follow:
- Ground every claim in the provided issues and cite the issue key (e.g. AL-12) for each fact
- If the context does not contain enough information to answer, say so plainly —
  never invent issue keys, statuses, assignees, or dates
- When several issues are relevant, summarise across them rather than quoting one
- Keep answers concise: a few sentences, or a short list when enumerating issues
- Statuses, assignees, and comments in the context are authoritative — do not second-guess them`

// Config holds the dependencies required to construct a Generator.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// MaxContextTokens is the estimated token budget for the full input
	// (system prompt + issue context + history + question). Retrieved issues
	// are trimmed lowest-ranked-first to fit. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// MaxAttempts is the retry budget for transient generation failures.
	// Defaults to retry.DefaultMaxAttempts if zero.
	MaxAttempts int
}

// Generator produces answers from a question and its retrieved issue context.
type Generator struct {
	chatModel        model.BaseChatModel
	maxContextTokens int
	maxAttempts      int
}

// NewGenerator constructs a Generator from the provided Config.
func NewGenerator(cfg *Config) (*Generator, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("answer: ChatModel must not be nil")
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = retry.DefaultMaxAttempts
	}
	return &Generator{
		chatModel:        cfg.ChatModel,
		maxContextTokens: maxCtx,
		maxAttempts:      attempts,
	}, nil
}

// Answer generates a grounded answer for question using the retrieved docs.
// history carries prior conversation turns (may be nil for one-shot asks);
// it is trimmed oldest-first after the issue context has been budgeted.
//
// An empty docs slice short-circuits to NoContextAnswer without an LLM call.
func (g *Generator) Answer(ctx context.Context, question string, docs []rag.Document, history []*schema.Message) (string, error) {
	if len(docs) == 0 {
		return NoContextAnswer, nil
	}

	messages := g.buildMessages(ctx, question, docs, history)

	var resp *schema.Message
	err := retry.Do(ctx, g.maxAttempts, func() error {
		var genErr error
		resp, genErr = g.chatModel.Generate(ctx, messages)
		if genErr != nil {
			return fmt.Errorf("%w: %w", ErrGeneration, genErr)
		}
		if isRefusal(resp) {
			return retry.Permanent(fmt.Errorf("%w: model declined to answer", ErrRefused))
		}
		if resp.Content == "" {
			// The call itself succeeded, so retrying with the same input
			// would just replay the same empty answer.
			return retry.Permanent(fmt.Errorf("%w: model returned an empty completion", ErrGeneration))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return resp.Content, nil
}

// buildMessages assembles [system, issue context, ...history, question],
// trimming issue context then history to fit the token budget.
func (g *Generator) buildMessages(ctx context.Context, question string, docs []rag.Document, history []*schema.Message) []*schema.Message {
	before := len(docs)
	docs = budget.TrimDocuments(docs, g.maxContextTokens/2)
	if dropped := before - len(docs); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped retrieved issues to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(docs)),
		)
	}

	fixed := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.SystemMessage(buildIssueContext(docs)),
		schema.UserMessage(question),
	}

	before = len(history)
	history = budget.TrimHistory(fixed, history, g.maxContextTokens)
	if dropped := before - len(history); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
		)
	}

	result := make([]*schema.Message, 0, 2+len(history)+1)
	result = append(result, fixed[0], fixed[1])
	result = append(result, history...)
	result = append(result, fixed[2])
	return result
}

// buildIssueContext formats retrieved documents into a system message. Issues
// appear best-match-first, each with its key, metadata, and full text.
func buildIssueContext(docs []rag.Document) string {
	var sb strings.Builder
	sb.WriteString("## Retrieved JIRA Issues\n\n")
	sb.WriteString("The following issues were retrieved as most relevant to the question, best match first.\n\n")
	for _, doc := range docs {
		fmt.Fprintf(&sb, "### %s\n", doc.ID)
		sb.WriteString(doc.Content)
		sb.WriteString("\n")
		if doc.Source != "" {
			fmt.Fprintf(&sb, "Link: %s\n", doc.Source)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// isRefusal reports whether the completion was blocked by the backend's
// content filter rather than failing outright.
func isRefusal(msg *schema.Message) bool {
	if msg == nil || msg.ResponseMeta == nil {
		return false
	}
	switch strings.ToLower(msg.ResponseMeta.FinishReason) {
	case "content_filter", "refusal", "safety":
		return true
	}
	return false
}
