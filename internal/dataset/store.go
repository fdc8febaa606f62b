package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/deepquery/deepquery/internal/ai"
	"github.com/deepquery/deepquery/internal/model"
	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

// DefaultTopK is the similarity-search result count when the caller does not
// ask for a specific k.
const DefaultTopK = 4

// Handle is an open dataset ready for querying.
type Handle interface {
	Path() string
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, query string, k int) ([]model.SearchResult, error)
	Close() error
}

// Builder populates a replacement generation of a dataset. The live dataset
// stays untouched (and queryable) until Commit succeeds; Abort discards the
// staged generation. Callers hold the per-path write lock across the whole
// Rebuild-Add-Commit sequence.
type Builder interface {
	Add(ctx context.Context, chunks []model.Chunk) (added int, failed int, err error)
	Commit(ctx context.Context) error
	Abort()
}

// Store owns every per-identity vector dataset under one backend.
type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	Open(ctx context.Context, path string) (Handle, error)
	Rebuild(ctx context.Context, path string) (Builder, error)
	Delete(ctx context.Context, path string) error
	DeleteIdentity(ctx context.Context, identity string) error
}

// Factory builds a Store backend; the embedder is shared so indexing and
// querying always use the same embedding model.
type Factory func(args interface{}, embedder ai.IEmbedder) (Store, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func New(backend string, args interface{}, embedder ai.IEmbedder) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(backend))
	if key == "" {
		return nil, fmt.Errorf("dataset.backend is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported dataset backend: %s", backend)
	}
	if embedder == nil {
		return nil, fmt.Errorf("dataset store requires an embedder")
	}
	return factory(args, embedder)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("dataset backend config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode dataset config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode dataset config: %w", err)
	}
	return nil
}

// embedChunks embeds chunk texts as one batch, falling back to per-chunk
// calls when the batch fails so a single bad chunk cannot sink its siblings.
// Rate-limit exhaustion aborts: retrying chunk by chunk against a throttled
// provider only digs the hole deeper.
func embedChunks(ctx context.Context, embedder ai.IEmbedder, chunks []model.Chunk) ([]model.Chunk, [][]float32, int, error) {
	if len(chunks) == 0 {
		return nil, nil, 0, nil
	}
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err == nil {
		return chunks, vecs, 0, nil
	}
	if errs.IsRateLimited(err) {
		return nil, nil, 0, err
	}
	logutil.GetLogger(ctx).Warn("batch embedding failed, retrying per chunk", zap.Error(err))

	kept := make([]model.Chunk, 0, len(chunks))
	keptVecs := make([][]float32, 0, len(chunks))
	failed := 0
	for _, c := range chunks {
		vec, err := embedder.Embed(ctx, c.Text)
		if err != nil {
			if errs.IsRateLimited(err) {
				return nil, nil, 0, err
			}
			logutil.GetLogger(ctx).Warn("chunk embedding failed, skipping",
				zap.String("source", c.Source), zap.Error(err))
			failed++
			continue
		}
		kept = append(kept, c)
		keptVecs = append(keptVecs, vec)
	}
	return kept, keptVecs, failed, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func topK(results []model.SearchResult, k int) []model.SearchResult {
	if k <= 0 {
		k = DefaultTopK
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

func encodeVector(vec []float32) ([]byte, error) {
	return json.Marshal(vec)
}

func decodeVector(blob []byte) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal(blob, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}
