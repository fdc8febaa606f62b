package pack

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/deepquery/deepquery/internal/chunk"
	"github.com/deepquery/deepquery/internal/dataset"
	"github.com/deepquery/deepquery/internal/extract"
	"github.com/deepquery/deepquery/internal/filestore"
	"github.com/deepquery/deepquery/internal/model"
	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

// Ingestor turns packs and uploaded files into queryable datasets. One
// ingestion fully replaces the dataset for its (identity, pack_type, pack_id)
// scope; per-file failures are collected, not fatal.
type Ingestor struct {
	fetcher      Fetcher
	store        dataset.Store
	staging      filestore.Store
	locks        *dataset.KeyedLock
	chunkSize    int
	chunkOverlap int
}

func NewIngestor(fetcher Fetcher, store dataset.Store, staging filestore.Store,
	locks *dataset.KeyedLock, chunkSize int, chunkOverlap int) *Ingestor {

	if chunkSize <= 0 {
		chunkSize = chunk.DefaultSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = chunk.DefaultOverlap
	}
	return &Ingestor{
		fetcher:      fetcher,
		store:        store,
		staging:      staging,
		locks:        locks,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

func stagingPrefix(identity, packType, packID string) string {
	return path.Join(
		dataset.SanitizeSegment(identity),
		dataset.SanitizeSegment(packType),
		dataset.SanitizeSegment(packID),
	)
}

// Ingest fetches the pack, stages its entries, and rebuilds the dataset for
// (identity, packType, packID). Staged files are deleted after a successful
// rebuild; the indexed vectors are the durable artifact.
func (in *Ingestor) Ingest(ctx context.Context, identity, packID, packType, token string) (*model.IngestResult, error) {
	pack, err := in.fetcher.FetchPack(ctx, packType, packID, token)
	if err != nil {
		return nil, err
	}
	prefix := stagingPrefix(identity, packType, packID)
	staged, stageFailed := in.stageEntries(ctx, prefix, pack.Entries)

	datasetPath := dataset.Resolve(identity, packType, packID)
	result, err := in.indexStaged(ctx, datasetPath, staged, len(pack.Entries))
	if err != nil {
		return nil, err
	}
	result.FilesFailed = append(stageFailed, result.FilesFailed...)

	if err := in.staging.Delete(ctx, prefix); err != nil {
		logutil.GetLogger(ctx).Warn("delete staging after ingest failed",
			zap.String("prefix", prefix), zap.Error(err))
	}
	return result, nil
}

// EnsureIndexed ingests the pack unless its dataset already exists. It
// returns the dataset path either way, so repeat queries skip the fetch.
func (in *Ingestor) EnsureIndexed(ctx context.Context, identity, packID, packType, token string, force bool) (string, error) {
	datasetPath := dataset.Resolve(identity, packType, packID)
	if !force {
		exists, err := in.store.Exists(ctx, datasetPath)
		if err != nil {
			return "", err
		}
		if exists {
			return datasetPath, nil
		}
	}
	result, err := in.Ingest(ctx, identity, packID, packType, token)
	if err != nil {
		return "", err
	}
	return result.DatasetPath, nil
}

// IngestUploads rebuilds the uploads dataset for one session from its staged
// files. The staged files are kept so the session can list and re-index them.
func (in *Ingestor) IngestUploads(ctx context.Context, identity, sessionID string) (*model.IngestResult, error) {
	prefix := stagingPrefix(identity, model.PackTypeUploads, sessionID)
	objects, err := in.staging.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list staged uploads: %v", errs.ErrIO, err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: no uploaded files for session %s", errs.ErrNotFound, sessionID)
	}
	staged := make([]string, 0, len(objects))
	for _, obj := range objects {
		staged = append(staged, obj.Key)
	}
	datasetPath := dataset.Resolve(identity, model.PackTypeUploads, sessionID)
	return in.indexStaged(ctx, datasetPath, staged, len(staged))
}

// ListUploads returns the staged upload filenames for one session.
func (in *Ingestor) ListUploads(ctx context.Context, identity, sessionID string) ([]string, error) {
	prefix := stagingPrefix(identity, model.PackTypeUploads, sessionID)
	objects, err := in.staging.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list staged uploads: %v", errs.ErrIO, err)
	}
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		names = append(names, path.Base(obj.Key))
	}
	return names, nil
}

// SaveUpload stages one uploaded file for a session.
func (in *Ingestor) SaveUpload(ctx context.Context, identity, sessionID, filename string, content []byte) error {
	name := sanitizeFilename(filename)
	if name == "" {
		return fmt.Errorf("%w: invalid upload filename: %s", errs.ErrInvalid, filename)
	}
	key := path.Join(stagingPrefix(identity, model.PackTypeUploads, sessionID), name)
	if err := in.staging.Save(ctx, key, strings.NewReader(string(content)), int64(len(content))); err != nil {
		return fmt.Errorf("%w: stage upload: %v", errs.ErrIO, err)
	}
	return nil
}

// DeleteSession removes a session's staged uploads and its dataset.
func (in *Ingestor) DeleteSession(ctx context.Context, identity, sessionID string) error {
	prefix := stagingPrefix(identity, model.PackTypeUploads, sessionID)
	if err := in.staging.Delete(ctx, prefix); err != nil {
		return fmt.Errorf("%w: delete staged uploads: %v", errs.ErrIO, err)
	}
	datasetPath := dataset.Resolve(identity, model.PackTypeUploads, sessionID)
	unlock := in.locks.Lock(datasetPath)
	defer unlock()
	return in.store.Delete(ctx, datasetPath)
}

// DeleteIdentity removes every staged file and dataset owned by an identity.
func (in *Ingestor) DeleteIdentity(ctx context.Context, identity string) error {
	if err := in.staging.Delete(ctx, dataset.SanitizeSegment(identity)); err != nil {
		logutil.GetLogger(ctx).Warn("delete identity staging failed",
			zap.String("identity", identity), zap.Error(err))
	}
	return in.store.DeleteIdentity(ctx, identity)
}

// stageEntries writes pack entries into the staging prefix and returns the
// staged keys plus the filenames that failed to stage.
func (in *Ingestor) stageEntries(ctx context.Context, prefix string, entries []model.PackEntry) ([]string, []string) {
	logger := logutil.GetLogger(ctx)
	var staged []string
	var failed []string
	for i, entry := range entries {
		name := EntryFilename(entry, i)
		key := path.Join(prefix, name)
		if err := in.staging.Save(ctx, key, strings.NewReader(entry.Content), int64(len(entry.Content))); err != nil {
			logger.Warn("stage pack entry failed", zap.String("filename", name), zap.Error(err))
			failed = append(failed, name)
			continue
		}
		staged = append(staged, key)
	}
	return staged, failed
}

// indexStaged rebuilds the dataset at datasetPath from the staged keys under
// the per-path write lock. Queries against the previous generation keep
// working until the swap commits.
func (in *Ingestor) indexStaged(ctx context.Context, datasetPath string, staged []string, totalEntries int) (*model.IngestResult, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("dataset", datasetPath))

	unlock := in.locks.Lock(datasetPath)
	defer unlock()

	builder, err := in.store.Rebuild(ctx, datasetPath)
	if err != nil {
		return nil, err
	}

	result := &model.IngestResult{DatasetPath: datasetPath}
	for _, key := range staged {
		name := path.Base(key)
		added, err := in.indexOne(ctx, builder, key, name)
		if err != nil {
			// Provider-level failures (rate limit exhausted, auth) abort the
			// whole rebuild; the previous generation stays live.
			builder.Abort()
			return nil, err
		}
		if added == 0 {
			result.FilesFailed = append(result.FilesFailed, name)
			continue
		}
		result.FilesIndexed++
	}

	if result.FilesIndexed == 0 && totalEntries > 0 {
		builder.Abort()
		return nil, fmt.Errorf("no entries could be indexed for %s", datasetPath)
	}
	if err := builder.Commit(ctx); err != nil {
		return nil, err
	}
	logger.Info("dataset rebuilt",
		zap.Int("files_indexed", result.FilesIndexed),
		zap.Int("files_failed", len(result.FilesFailed)))
	return result, nil
}

// indexOne extracts, chunks, and adds one staged file. Skips and per-file
// extraction failures return added=0 with a nil error.
func (in *Ingestor) indexOne(ctx context.Context, builder dataset.Builder, key, name string) (int, error) {
	logger := logutil.GetLogger(ctx)
	rc, err := in.staging.Open(ctx, key)
	if err != nil {
		logger.Warn("open staged file failed", zap.String("filename", name), zap.Error(err))
		return 0, nil
	}
	res, err := extract.Extract(name, rc)
	_ = rc.Close()
	if err != nil {
		logger.Warn("extract staged file failed", zap.String("filename", name), zap.Error(err))
		return 0, nil
	}
	if res.Skipped {
		logger.Warn("skipping staged file", zap.String("filename", name), zap.String("reason", res.Reason))
		return 0, nil
	}
	var chunks []model.Chunk
	for _, text := range res.Texts {
		for _, piece := range chunk.Split(text, in.chunkSize, in.chunkOverlap) {
			chunks = append(chunks, model.Chunk{Text: piece, Source: name})
		}
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	added, failedChunks, err := builder.Add(ctx, chunks)
	if err != nil {
		return 0, err
	}
	if failedChunks > 0 {
		logger.Warn("some chunks failed to embed",
			zap.String("filename", name), zap.Int("failed", failedChunks))
	}
	return added, nil
}
