package job

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/deepquery/deepquery/internal/filestore"
)

// StagingSweepJob deletes staged files that outlived their ingestion. Pack
// staging is normally removed right after a successful rebuild; this catches
// the leftovers of crashed or aborted ingestions, plus abandoned upload
// sessions.
type StagingSweepJob struct {
	staging filestore.Store
	maxAge  time.Duration
}

func NewStagingSweepJob(staging filestore.Store, maxAge time.Duration) *StagingSweepJob {
	return &StagingSweepJob{staging: staging, maxAge: maxAge}
}

func (j *StagingSweepJob) Name() string {
	return "staging_sweep"
}

func (j *StagingSweepJob) Run(ctx context.Context) error {
	if j.staging == nil {
		return nil
	}
	maxAge := j.maxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	cutoff := time.Now().Add(-maxAge)

	objects, err := j.staging.List(ctx, "")
	if err != nil {
		return err
	}
	// Collect stale session prefixes first so one Delete removes the whole
	// directory instead of racing per-file.
	stale := map[string]struct{}{}
	for _, obj := range objects {
		if obj.ModTime.After(cutoff) {
			continue
		}
		prefix := path.Dir(obj.Key)
		if prefix == "." || prefix == "/" {
			continue
		}
		stale[prefix] = struct{}{}
	}
	logger := logutil.GetLogger(ctx)
	removed := 0
	for prefix := range stale {
		if j.hasFreshFiles(objects, prefix, cutoff) {
			continue
		}
		if err := j.staging.Delete(ctx, prefix); err != nil {
			logger.Warn("sweep staging prefix failed", zap.String("prefix", prefix), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("stale staging swept", zap.Int("prefixes", removed))
	}
	return nil
}

// hasFreshFiles reports whether any file under prefix is newer than cutoff;
// such prefixes belong to live sessions and must survive the sweep.
func (j *StagingSweepJob) hasFreshFiles(objects []filestore.Object, prefix string, cutoff time.Time) bool {
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, prefix+"/") {
			continue
		}
		if obj.ModTime.After(cutoff) {
			return true
		}
	}
	return false
}
