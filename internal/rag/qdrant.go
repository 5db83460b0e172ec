package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore is the optional remote vector store backend, selected with
// VECTOR_STORE=qdrant. It implements Searcher; QdrantWriter implements the
// build side. Unlike the local SQLite index, a Qdrant rebuild drops and
// recreates the collection at Commit time, so the previous index survives
// any failure before Commit but not a failure during the final upload.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a QdrantStore, ensuring the target collection
// exists (creating it if necessary).
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	return s.createCollection(ctx)
}

// createCollection creates the collection with cosine distance.
func (s *QdrantStore) createCollection(ctx context.Context) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// recreate drops and recreates the collection, discarding all points.
func (s *QdrantStore) recreate(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", s.cfg.Collection, err)
		}
	}
	return s.createCollection(ctx)
}

// pointID derives a stable UUID for a document so re-uploads of the same
// issue key always target the same point.
func pointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("jiraiya:"+docID)).String()
}

// upsert uploads a batch of documents with their embeddings.
// The embeddings slice must be parallel to docs.
func (s *QdrantStore) upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d embeddings", len(docs), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]interface{}{
			"doc_id":  doc.ID,
			"content": doc.Content,
			"source":  doc.Source,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(doc.ID)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search and returns the top-k results.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	if topK <= 0 {
		return []Document{}, nil
	}

	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc := Document{
			Score:    r.Score,
			Metadata: make(map[string]string),
		}
		if p := r.Payload; p != nil {
			if v, ok := p["doc_id"]; ok {
				doc.ID = v.GetStringValue()
			}
			if v, ok := p["content"]; ok {
				doc.Content = v.GetStringValue()
			}
			if v, ok := p["source"]; ok {
				doc.Source = v.GetStringValue()
			}
			for k, v := range p {
				if k != "doc_id" && k != "content" && k != "source" {
					doc.Metadata[k] = v.GetStringValue()
				}
			}
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// QdrantWriter implements IndexWriter for the Qdrant backend. Batches are
// buffered in memory during the build and uploaded in one pass at Commit,
// after the collection is recreated — so an embedding failure mid-build
// never disturbs the previous collection contents.
type QdrantWriter struct {
	store      *QdrantStore
	docs       []Document
	embeddings [][]float32
	done       bool
}

// NewQdrantWriter constructs a writer targeting the store's collection.
func NewQdrantWriter(store *QdrantStore) *QdrantWriter {
	return &QdrantWriter{store: store}
}

// Add buffers a batch of documents with their embeddings.
func (w *QdrantWriter) Add(_ context.Context, docs []Document, embeddings [][]float32) error {
	if w.done {
		return fmt.Errorf("qdrant: writer already finalised")
	}
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	w.docs = append(w.docs, docs...)
	w.embeddings = append(w.embeddings, embeddings...)
	return nil
}

// Commit recreates the collection and uploads every buffered document.
func (w *QdrantWriter) Commit(ctx context.Context) error {
	if w.done {
		return fmt.Errorf("qdrant: writer already finalised")
	}
	if err := w.store.recreate(ctx); err != nil {
		return err
	}
	// Upload in fixed-size batches to keep gRPC messages bounded.
	const batch = 128
	for start := 0; start < len(w.docs); start += batch {
		end := start + batch
		if end > len(w.docs) {
			end = len(w.docs)
		}
		if err := w.store.upsert(ctx, w.docs[start:end], w.embeddings[start:end]); err != nil {
			return err
		}
	}
	w.done = true
	return nil
}

// Abort discards the buffered build without touching the collection.
func (w *QdrantWriter) Abort() error {
	w.done = true
	w.docs = nil
	w.embeddings = nil
	return nil
}
