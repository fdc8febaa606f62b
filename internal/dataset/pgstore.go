package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/deepquery/deepquery/internal/ai"
	"github.com/deepquery/deepquery/internal/model"
	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

// The postgres backend stores every dataset in two shared tables, keyed by
// the logical dataset path, and relies on pgvector for similarity search.
// Generations play the role the ".building" file plays for sqlite: a rebuild
// stages rows under generation live+1 and flips the live pointer in one
// transaction on commit.

type pgConfig struct {
	DSN string `json:"dsn"`
	Dim int    `json:"dim"`
}

type pgStore struct {
	db       *sqlx.DB
	embedder ai.IEmbedder
}

func init() {
	Register("postgres", createPgStore)
}

func createPgStore(args interface{}, embedder ai.IEmbedder) (Store, error) {
	cfg := &pgConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dataset postgres dsn is required")
	}
	if cfg.Dim <= 0 {
		cfg.Dim = 1536
	}
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS dataset_generations (
	dataset_path TEXT PRIMARY KEY,
	live BIGINT NOT NULL,
	embed_model TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dataset_chunks (
	id BIGSERIAL PRIMARY KEY,
	dataset_path TEXT NOT NULL,
	generation BIGINT NOT NULL,
	source TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding vector(%d) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dataset_chunks_scope ON dataset_chunks (dataset_path, generation);
`, cfg.Dim)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init pgvector schema: %w", err)
	}
	return &pgStore{db: db, embedder: embedder}, nil
}

func (s *pgStore) liveGeneration(ctx context.Context, path string) (int64, string, bool, error) {
	var row struct {
		Live       int64  `db:"live"`
		EmbedModel string `db:"embed_model"`
	}
	err := s.db.GetContext(ctx, &row,
		"SELECT live, embed_model FROM dataset_generations WHERE dataset_path = $1", path)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("%w: read generation: %v", errs.ErrIO, err)
	}
	return row.Live, row.EmbedModel, true, nil
}

func (s *pgStore) Exists(ctx context.Context, path string) (bool, error) {
	_, _, ok, err := s.liveGeneration(ctx, path)
	return ok, err
}

func (s *pgStore) Open(ctx context.Context, path string) (Handle, error) {
	live, embedModel, ok, err := s.liveGeneration(ctx, path)
	if err != nil {
		return nil, err
	}
	if ok && embedModel != s.embedder.ModelName() {
		return nil, fmt.Errorf("%w: %s indexed with model %q, querying with %q",
			errs.ErrDatasetCorrupt, path, embedModel, s.embedder.ModelName())
	}
	return &pgHandle{store: s, path: path, generation: live, known: ok}, nil
}

func (s *pgStore) Rebuild(ctx context.Context, path string) (Builder, error) {
	live, _, _, err := s.liveGeneration(ctx, path)
	if err != nil {
		return nil, err
	}
	return &pgBuilder{store: s, path: path, generation: live + 1}, nil
}

func (s *pgStore) Delete(ctx context.Context, path string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: delete dataset: %v", errs.ErrIO, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM dataset_chunks WHERE dataset_path = $1", path); err != nil {
		return fmt.Errorf("%w: delete chunks: %v", errs.ErrIO, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM dataset_generations WHERE dataset_path = $1", path); err != nil {
		return fmt.Errorf("%w: delete generation: %v", errs.ErrIO, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: delete dataset: %v", errs.ErrIO, err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLikePattern(s string) string {
	return likeEscaper.Replace(s)
}

func (s *pgStore) DeleteIdentity(ctx context.Context, identity string) error {
	// Sanitized segments may contain `_`, which is a LIKE wildcard; escape
	// the prefix so one tenant's delete never matches another's paths.
	prefix := escapeLikePattern(IdentityPrefix(identity)) + "/%"
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: delete identity datasets: %v", errs.ErrIO, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_chunks WHERE dataset_path LIKE $1 ESCAPE '\'`, prefix); err != nil {
		return fmt.Errorf("%w: delete identity chunks: %v", errs.ErrIO, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_generations WHERE dataset_path LIKE $1 ESCAPE '\'`, prefix); err != nil {
		return fmt.Errorf("%w: delete identity generations: %v", errs.ErrIO, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: delete identity datasets: %v", errs.ErrIO, err)
	}
	return nil
}

type pgHandle struct {
	store      *pgStore
	path       string
	generation int64
	known      bool
}

func (h *pgHandle) Path() string {
	return h.path
}

func (h *pgHandle) Count(ctx context.Context) (int, error) {
	if !h.known {
		return 0, nil
	}
	var count int
	err := h.store.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM dataset_chunks WHERE dataset_path = $1 AND generation = $2",
		h.path, h.generation)
	if err != nil {
		return 0, fmt.Errorf("%w: count chunks: %v", errs.ErrIO, err)
	}
	return count, nil
}

func (h *pgHandle) Search(ctx context.Context, query string, k int) ([]model.SearchResult, error) {
	if !h.known {
		return nil, nil
	}
	queryVec, err := h.store.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultTopK
	}
	rows, err := h.store.db.QueryxContext(ctx, `
SELECT content, source, 1 - (embedding <=> $1) AS score
FROM dataset_chunks
WHERE dataset_path = $2 AND generation = $3
ORDER BY embedding <=> $1
LIMIT $4`,
		pgvector.NewVector(queryVec), h.path, h.generation, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrDatasetCorrupt, h.path, err)
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		if err := rows.Scan(&r.Text, &r.Source, &r.Score); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrDatasetCorrupt, h.path, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrDatasetCorrupt, h.path, err)
	}
	return results, nil
}

func (h *pgHandle) Close() error {
	return nil
}

type pgBuilder struct {
	store      *pgStore
	path       string
	generation int64
	done       bool
}

func (b *pgBuilder) Add(ctx context.Context, chunks []model.Chunk) (int, int, error) {
	kept, vecs, failed, err := embedChunks(ctx, b.store.embedder, chunks)
	if err != nil {
		return 0, 0, err
	}
	for i, c := range kept {
		_, err := b.store.db.ExecContext(ctx, `
INSERT INTO dataset_chunks (dataset_path, generation, source, content, embedding)
VALUES ($1, $2, $3, $4, $5)`,
			b.path, b.generation, c.Source, c.Text, pgvector.NewVector(vecs[i]))
		if err != nil {
			return 0, 0, fmt.Errorf("%w: insert chunk: %v", errs.ErrIO, err)
		}
	}
	return len(kept), failed, nil
}

func (b *pgBuilder) Commit(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	tx, err := b.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: commit rebuild: %v", errs.ErrIO, err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
INSERT INTO dataset_generations (dataset_path, live, embed_model)
VALUES ($1, $2, $3)
ON CONFLICT (dataset_path) DO UPDATE SET live = EXCLUDED.live, embed_model = EXCLUDED.embed_model`,
		b.path, b.generation, b.store.embedder.ModelName())
	if err != nil {
		return fmt.Errorf("%w: flip live generation: %v", errs.ErrIO, err)
	}
	_, err = tx.ExecContext(ctx,
		"DELETE FROM dataset_chunks WHERE dataset_path = $1 AND generation < $2",
		b.path, b.generation)
	if err != nil {
		return fmt.Errorf("%w: drop old generations: %v", errs.ErrIO, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit rebuild: %v", errs.ErrIO, err)
	}
	return nil
}

func (b *pgBuilder) Abort() {
	if b.done {
		return
	}
	b.done = true
	_, _ = b.store.db.Exec(
		"DELETE FROM dataset_chunks WHERE dataset_path = $1 AND generation = $2",
		b.path, b.generation)
}
