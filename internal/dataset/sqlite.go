package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/deepquery/deepquery/internal/ai"
	"github.com/deepquery/deepquery/internal/model"
	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

// The sqlite backend keeps one database file per dataset path under a root
// directory. A rebuild is staged in a sibling ".building" file and renamed
// over the live file only after population succeeds, so a failed rebuild
// leaves the previous generation intact.

const buildingSuffix = ".building"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const metaEmbedModel = "embed_model"

type sqliteConfig struct {
	Root string `json:"root"`
}

type sqliteStore struct {
	root     string
	embedder ai.IEmbedder
}

func init() {
	Register("sqlite", createSqliteStore)
}

func createSqliteStore(args interface{}, embedder ai.IEmbedder) (Store, error) {
	cfg := &sqliteConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("dataset sqlite root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dataset root: %v", errs.ErrIO, err)
	}
	return &sqliteStore{root: cfg.Root, embedder: embedder}, nil
}

func (s *sqliteStore) abs(logical string) string {
	return filepath.Join(s.root, filepath.FromSlash(logical))
}

func (s *sqliteStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(s.abs(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat dataset: %v", errs.ErrIO, err)
}

// Open returns a handle for the dataset at path, creating an empty dataset
// lazily when none exists yet.
func (s *sqliteStore) Open(ctx context.Context, path string) (Handle, error) {
	file := s.abs(path)
	existing, err := s.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !existing {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create dataset dir: %v", errs.ErrIO, err)
		}
	}
	db, err := openSqlite(file, s.embedder.ModelName())
	if err != nil {
		if existing {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrDatasetCorrupt, path, err)
		}
		return nil, fmt.Errorf("%w: create dataset: %v", errs.ErrIO, err)
	}
	storedModel, err := readMeta(ctx, db, metaEmbedModel)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrDatasetCorrupt, path, err)
	}
	if storedModel != "" && storedModel != s.embedder.ModelName() {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s indexed with model %q, querying with %q",
			errs.ErrDatasetCorrupt, path, storedModel, s.embedder.ModelName())
	}
	return &sqliteHandle{db: db, path: path, embedder: s.embedder}, nil
}

func (s *sqliteStore) Rebuild(ctx context.Context, path string) (Builder, error) {
	file := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dataset dir: %v", errs.ErrIO, err)
	}
	staged := file + buildingSuffix
	if err := os.Remove(staged); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: clear stale build file: %v", errs.ErrIO, err)
	}
	db, err := openSqlite(staged, s.embedder.ModelName())
	if err != nil {
		return nil, fmt.Errorf("%w: create build file: %v", errs.ErrIO, err)
	}
	return &sqliteBuilder{db: db, live: file, staged: staged, path: path, embedder: s.embedder}, nil
}

func (s *sqliteStore) Delete(ctx context.Context, path string) error {
	file := s.abs(path)
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: delete dataset: %v", errs.ErrIO, err)
	}
	_ = os.Remove(file + buildingSuffix)
	s.pruneEmptyDirs(filepath.Dir(file))
	return nil
}

func (s *sqliteStore) DeleteIdentity(ctx context.Context, identity string) error {
	dir := filepath.Join(s.root, SanitizeSegment(identity))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: delete identity datasets: %v", errs.ErrIO, err)
	}
	return nil
}

// pruneEmptyDirs removes now-empty scope directories up to the store root.
func (s *sqliteStore) pruneEmptyDirs(dir string) {
	root := filepath.Clean(s.root)
	for dir != root && strings.HasPrefix(dir, root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func openSqlite(file string, embedModel string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		metaEmbedModel, embedModel,
	); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func readMeta(ctx context.Context, db *sql.DB, key string) (string, error) {
	cond, vals, err := builder.BuildSelect("meta", map[string]interface{}{"key": key}, []string{"value"})
	if err != nil {
		return "", err
	}
	var value string
	if err := db.QueryRowContext(ctx, cond, vals...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

type sqliteHandle struct {
	db       *sql.DB
	path     string
	embedder ai.IEmbedder
}

func (h *sqliteHandle) Path() string {
	return h.path
}

func (h *sqliteHandle) Count(ctx context.Context) (int, error) {
	var count int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count chunks: %v", errs.ErrDatasetCorrupt, err)
	}
	return count, nil
}

func (h *sqliteHandle) Search(ctx context.Context, query string, k int) ([]model.SearchResult, error) {
	queryVec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	cond, vals, err := builder.BuildSelect("chunks", nil, []string{"source", "content", "embedding"})
	if err != nil {
		return nil, err
	}
	rows, err := h.db.QueryContext(ctx, cond, vals...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrDatasetCorrupt, h.path, err)
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var source, content string
		var blob []byte
		if err := rows.Scan(&source, &content, &blob); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrDatasetCorrupt, h.path, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad embedding row: %v", errs.ErrDatasetCorrupt, h.path, err)
		}
		results = append(results, model.SearchResult{
			Text:   content,
			Source: source,
			Score:  cosineSimilarity(queryVec, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrDatasetCorrupt, h.path, err)
	}
	return topK(results, k), nil
}

func (h *sqliteHandle) Close() error {
	return h.db.Close()
}

type sqliteBuilder struct {
	db       *sql.DB
	live     string
	staged   string
	path     string
	embedder ai.IEmbedder
	done     bool
}

// sqlite caps bind variables per statement, so large files are inserted in
// bounded batches.
const insertBatchSize = 500

func (b *sqliteBuilder) Add(ctx context.Context, chunks []model.Chunk) (int, int, error) {
	kept, vecs, failed, err := embedChunks(ctx, b.embedder, chunks)
	if err != nil {
		return 0, 0, err
	}
	if len(kept) == 0 {
		return 0, failed, nil
	}
	records := make([]map[string]interface{}, 0, len(kept))
	for i, c := range kept {
		blob, err := encodeVector(vecs[i])
		if err != nil {
			return 0, 0, fmt.Errorf("encode embedding: %w", err)
		}
		records = append(records, map[string]interface{}{
			"source":    c.Source,
			"content":   c.Text,
			"embedding": blob,
		})
	}
	for start := 0; start < len(records); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(records) {
			end = len(records)
		}
		cond, vals, err := builder.BuildInsert("chunks", records[start:end])
		if err != nil {
			return 0, 0, err
		}
		if _, err := b.db.ExecContext(ctx, cond, vals...); err != nil {
			return 0, 0, fmt.Errorf("%w: insert chunks: %v", errs.ErrIO, err)
		}
	}
	return len(kept), failed, nil
}

func (b *sqliteBuilder) Commit(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("%w: close build file: %v", errs.ErrIO, err)
	}
	if err := os.Rename(b.staged, b.live); err != nil {
		// Graceful swap failed; force out the old generation and retry once.
		logutil.GetLogger(ctx).Warn("dataset swap failed, forcing delete of previous generation",
			zap.String("path", b.path), zap.Error(err))
		if rmErr := os.Remove(b.live); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return fmt.Errorf("%w: replace dataset: %v", errs.ErrIO, err)
		}
		if err := os.Rename(b.staged, b.live); err != nil {
			return fmt.Errorf("%w: replace dataset: %v", errs.ErrIO, err)
		}
	}
	return nil
}

func (b *sqliteBuilder) Abort() {
	if b.done {
		return
	}
	b.done = true
	_ = b.db.Close()
	_ = os.Remove(b.staged)
}
