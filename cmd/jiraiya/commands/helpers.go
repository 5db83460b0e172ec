package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/KixPanganiban/jiraiya-go/internal/answer"
	"github.com/KixPanganiban/jiraiya-go/internal/embedder"
	"github.com/KixPanganiban/jiraiya-go/internal/index"
	"github.com/KixPanganiban/jiraiya-go/internal/jira"
	"github.com/KixPanganiban/jiraiya-go/internal/pipeline"
	"github.com/KixPanganiban/jiraiya-go/internal/provider"
	"github.com/KixPanganiban/jiraiya-go/internal/rag"
)

// defaultQdrantCollection is the collection used when QDRANT_COLLECTION is unset.
const defaultQdrantCollection = "jiraiya-issues"

// getEnvOrDefault returns the env var value, or fallback when unset/empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as an int, or fallback when unset or
// unparseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// useQdrant reports whether VECTOR_STORE selects the remote Qdrant backend
// instead of the default local SQLite index.
func useQdrant() bool {
	return getEnvOrDefault("VECTOR_STORE", "sqlite") == "qdrant"
}

// resolveIndexPath returns the SQLite index path: JIRAIYA_INDEX_PATH if set,
// otherwise ~/.jiraiya/index.db.
func resolveIndexPath() (string, error) {
	if p := os.Getenv("JIRAIYA_INDEX_PATH"); p != "" {
		return p, nil
	}
	return index.DefaultPath()
}

// openQdrant connects to the Qdrant instance described by QDRANT_* env vars.
// vectorSize must match the embedding backend's dimensionality.
func openQdrant(ctx context.Context, vectorSize int) (*rag.QdrantStore, error) {
	return rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", defaultQdrantCollection),
		VectorSize: uint64(vectorSize), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
}

// newJiraClient constructs a JIRA client from the JIRA_* env vars. Missing
// credentials surface as configuration errors before any network call.
func newJiraClient(log *slog.Logger) (*jira.Client, error) {
	return jira.NewClient(&jira.Config{
		Domain:            os.Getenv("JIRA_DOMAIN"),
		Email:             os.Getenv("JIRA_EMAIL"),
		APIToken:          os.Getenv("JIRA_API_TOKEN"),
		PageSize:          getEnvInt("JIRA_PAGE_SIZE", 0),
		RequestsPerSecond: float64(getEnvInt("JIRA_REQUESTS_PER_SECOND", 0)),
		Logger:            log,
	})
}

// newIndexWriter builds the write side of the vector store selected by
// VECTOR_STORE. The returned cleanup must be called after Commit or Abort.
func newIndexWriter(ctx context.Context, log *slog.Logger) (rag.IndexWriter, func(), error) {
	if useQdrant() {
		// Qdrant needs the vector size at collection-creation time.
		dims := embedder.DefaultDimensions(embeddingBackend())
		store, err := openQdrant(ctx, dims)
		if err != nil {
			return nil, nil, fmt.Errorf("qdrant: %w", err)
		}
		log.Info("vector store: qdrant",
			slog.String("host", getEnvOrDefault("QDRANT_HOST", "localhost")),
			slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", defaultQdrantCollection)),
		)
		return rag.NewQdrantWriter(store), func() { _ = store.Close() }, nil
	}

	path, err := resolveIndexPath()
	if err != nil {
		return nil, nil, fmt.Errorf("index: %w", err)
	}
	// Dims 0: the SQLite builder locks onto whatever size the first batch
	// produces, so a non-default EMBEDDING_MODEL needs no dimension hint.
	builder, err := index.NewBuilder(path, embedder.EmbeddingModel(), 0)
	if err != nil {
		return nil, nil, fmt.Errorf("index: %w", err)
	}
	log.Info("vector store: sqlite", slog.String("path", path))
	return builder, func() {}, nil
}

// newSearcher opens the read side of the vector store selected by
// VECTOR_STORE. The returned cleanup closes the underlying store.
func newSearcher(ctx context.Context) (rag.Searcher, func(), error) {
	if useQdrant() {
		dims := embedder.DefaultDimensions(embeddingBackend())
		store, err := openQdrant(ctx, dims)
		if err != nil {
			return nil, nil, fmt.Errorf("qdrant: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}

	path, err := resolveIndexPath()
	if err != nil {
		return nil, nil, fmt.Errorf("index: %w", err)
	}
	store, err := index.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open index (run 'jiraiya init' first): %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// embeddingBackend resolves the embedding backend name the same way the
// embedder factory does: EMBEDDING_PROVIDER, then MODEL_PROVIDER, then openai.
func embeddingBackend() string {
	return getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "openai"))
}

// newAskPipeline wires the full question-answering path: embedder, vector
// store, retriever, chat model, and answer generator. The returned cleanup
// closes the vector store.
func newAskPipeline(ctx context.Context, log *slog.Logger) (*pipeline.Pipeline, func(), error) {
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("embedder: %w", err)
	}
	embedder.WarnOnSuspectModel(log)

	searcher, closeSearcher, err := newSearcher(ctx)
	if err != nil {
		return nil, nil, err
	}

	topK := getEnvInt("JIRAIYA_TOP_K", 5)
	retriever, err := rag.NewRetriever(emb, searcher, topK)
	if err != nil {
		closeSearcher()
		return nil, nil, fmt.Errorf("retriever: %w", err)
	}

	chatModel, err := provider.NewFromEnv(ctx)
	if err != nil {
		closeSearcher()
		return nil, nil, fmt.Errorf("model provider: %w", err)
	}

	generator, err := answer.NewGenerator(&answer.Config{ChatModel: chatModel})
	if err != nil {
		closeSearcher()
		return nil, nil, fmt.Errorf("generator: %w", err)
	}

	p := pipeline.New(&pipeline.Config{
		Embedder:  emb,
		Retriever: retriever,
		Generator: generator,
		Domain:    os.Getenv("JIRA_DOMAIN"),
	})

	return p, closeSearcher, nil
}

// resolveProject returns the JIRA project key from the flag value or the
// JIRA_PROJECT env var. An empty result is a configuration error.
func resolveProject(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if p := os.Getenv("JIRA_PROJECT"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("project key is required: pass it as an argument or set JIRA_PROJECT")
}
