// Package index implements the default local vector index: a single SQLite
// file holding (embedding, document) pairs with brute-force cosine search.
// Corpora are project-sized (hundreds to low thousands of issues), so a full
// scan per query beats the operational cost of an ANN structure.
//
// Rebuilds are atomic: a Builder writes into "<path>.staging" and renames it
// over the live file on Commit. A failed build never touches the previous
// index.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/KixPanganiban/jiraiya-go/internal/rag"
)

// Errors returned by index operations.
var (
	// ErrNotFound means no index has been built at the given path.
	ErrNotFound = errors.New("index: not found")

	// ErrDimensionMismatch means a vector's length does not match the
	// index's stored dimensionality — a stale or incompatible index that
	// must be rebuilt, not a condition to recover from.
	ErrDimensionMismatch = errors.New("index: embedding dimension mismatch")
)

// formatVersion is bumped on breaking schema changes so an old file fails
// loudly instead of returning nonsense.
const formatVersion = 1

// DefaultPath returns the default index location, ~/.jiraiya/index.db,
// creating the directory if needed.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("index: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".jiraiya")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("index: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "index.db"), nil
}

// ddl is the index schema. seq preserves insertion order for deterministic
// tie-breaking during search.
const ddl = `
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
    seq       INTEGER PRIMARY KEY AUTOINCREMENT,
    id        TEXT    NOT NULL UNIQUE,
    content   TEXT    NOT NULL,
    source    TEXT    NOT NULL DEFAULT '',
    metadata  TEXT    NOT NULL DEFAULT '{}',
    embedding BLOB    NOT NULL
);
`

// openDB opens a SQLite handle with the settings both sides share.
// The index is a single-writer, single-file artifact, so the rollback
// journal (not WAL) keeps everything in one file for the atomic rename.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=DELETE&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// encodeVector serialises a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// cosineSimilarity returns the cosine of the angle between a and b,
// or 0 when either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// Store is the read side of a persisted index. It implements rag.Searcher.
type Store struct {
	db   *sql.DB
	path string
	dims int
}

// Open loads the index persisted at path. Returns ErrNotFound when no build
// has ever committed there.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("index: stat %s: %w", path, err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path}
	if err := s.readMeta(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// readMeta loads and validates the meta table.
func (s *Store) readMeta() error {
	var version, dims int
	if err := s.metaInt("version", &version); err != nil {
		return err
	}
	if version != formatVersion {
		return fmt.Errorf("index: unsupported format version %d (want %d) — rebuild with `jiraiya init`", version, formatVersion)
	}
	if err := s.metaInt("dimensions", &dims); err != nil {
		return err
	}
	s.dims = dims
	return nil
}

// metaInt reads one integer meta value.
func (s *Store) metaInt(key string, out *int) error {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("index: %s is not a jiraiya index (missing %s)", s.path, key)
	}
	if err != nil {
		return fmt.Errorf("index: read meta %s: %w", key, err)
	}
	if _, err := fmt.Sscanf(v, "%d", out); err != nil {
		return fmt.Errorf("index: meta %s=%q is not an integer", key, v)
	}
	return nil
}

// Dimensions returns the stored embedding vector length.
func (s *Store) Dimensions() int { return s.dims }

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

// scored pairs a loaded document with its similarity for sorting.
type scored struct {
	doc   rag.Document
	score float32
	seq   int64
}

// Search returns the topK most similar documents for the query embedding,
// ordered by descending cosine similarity with ties broken by insertion
// order. topK <= 0 returns an empty slice; topK beyond the stored count
// returns all documents. A query of the wrong dimensionality is a hard
// ErrDimensionMismatch — the index must be rebuilt with the current
// embedding model.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]rag.Document, error) {
	if topK <= 0 {
		return []rag.Document{}, nil
	}
	if len(queryEmbedding) != s.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(queryEmbedding), s.dims)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT seq, id, content, source, metadata, embedding FROM documents ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("index: search query: %w", err)
	}
	defer rows.Close()

	var results []scored
	for rows.Next() {
		var sc scored
		var metaJSON string
		var blob []byte
		if err := rows.Scan(&sc.seq, &sc.doc.ID, &sc.doc.Content, &sc.doc.Source, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("index: search scan: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &sc.doc.Metadata); err != nil {
			return nil, fmt.Errorf("index: metadata for %s: %w", sc.doc.ID, err)
		}
		sc.score = cosineSimilarity(queryEmbedding, decodeVector(blob))
		sc.doc.Score = sc.score
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: search rows: %w", err)
	}

	// Stable sort over seq-ordered rows keeps insertion order on score ties.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if topK > len(results) {
		topK = len(results)
	}
	docs := make([]rag.Document, 0, topK)
	for _, sc := range results[:topK] {
		docs = append(docs, sc.doc)
	}
	return docs, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("index: close: %w", err)
	}
	return nil
}

// Builder stages one full index build. It implements rag.IndexWriter.
// Documents are written to "<path>.staging"; Commit atomically renames the
// staging file over the live index, Abort removes it.
type Builder struct {
	db          *sql.DB
	path        string
	stagingPath string
	model       string
	dims        int
	added       int
	done        bool
}

// NewBuilder creates a staging database for a fresh build at path.
// model records which embedding model produced the vectors. dims may be 0,
// in which case the dimensionality is fixed by the first batch added.
func NewBuilder(path, model string, dims int) (*Builder, error) {
	stagingPath := path + ".staging"
	// A stale staging file from a crashed build is dead weight — replace it.
	if err := os.Remove(stagingPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("index: remove stale staging file: %w", err)
	}

	db, err := openDB(stagingPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		_ = os.Remove(stagingPath)
		return nil, fmt.Errorf("index: create schema: %w", err)
	}

	return &Builder{
		db:          db,
		path:        path,
		stagingPath: stagingPath,
		model:       model,
		dims:        dims,
	}, nil
}

// Add stages a batch of documents with their embeddings. Every embedding
// must match the builder's dimensionality; document IDs must be unique
// across the whole build.
func (b *Builder) Add(ctx context.Context, docs []rag.Document, embeddings [][]float32) error {
	if b.done {
		return fmt.Errorf("index: builder already finalised")
	}
	if len(docs) != len(embeddings) {
		return fmt.Errorf("index: %d documents but %d embeddings", len(docs), len(embeddings))
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for i, doc := range docs {
		vec := embeddings[i]
		if b.dims == 0 {
			b.dims = len(vec)
		}
		if len(vec) != b.dims || b.dims == 0 {
			return fmt.Errorf("%w: document %s has %d dimensions, build has %d", ErrDimensionMismatch, doc.ID, len(vec), b.dims)
		}

		metaJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("index: marshal metadata for %s: %w", doc.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (id, content, source, metadata, embedding) VALUES (?, ?, ?, ?, ?)`,
			doc.ID, doc.Content, doc.Source, string(metaJSON), encodeVector(vec),
		)
		if err != nil {
			return fmt.Errorf("index: insert %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit batch: %w", err)
	}
	b.added += len(docs)
	return nil
}

// Commit finalises the build: meta is written, the staging database is
// closed, and the file is renamed over the live index in one atomic step.
func (b *Builder) Commit(ctx context.Context) error {
	if b.done {
		return fmt.Errorf("index: builder already finalised")
	}

	meta := map[string]string{
		"version":    fmt.Sprintf("%d", formatVersion),
		"dimensions": fmt.Sprintf("%d", b.dims),
		"model":      b.model,
		"documents":  fmt.Sprintf("%d", b.added),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := b.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("index: write meta %s: %w", k, err)
		}
	}

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("index: close staging db: %w", err)
	}
	if err := os.Rename(b.stagingPath, b.path); err != nil {
		return fmt.Errorf("index: swap staging into place: %w", err)
	}
	b.done = true
	return nil
}

// Abort discards the staged build, leaving any previous index untouched.
// Safe to call more than once and a no-op after Commit.
func (b *Builder) Abort() error {
	if b.done {
		return nil
	}
	b.done = true
	_ = b.db.Close()
	if err := os.Remove(b.stagingPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("index: remove staging file: %w", err)
	}
	return nil
}
