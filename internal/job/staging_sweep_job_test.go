package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepquery/deepquery/internal/filestore"
)

func TestStagingSweepJob_RemovesOnlyStalePrefixes(t *testing.T) {
	dir := t.TempDir()
	staging, err := filestore.New("local", map[string]interface{}{"dir": dir})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"alice/uploads/old/a.txt", "alice/uploads/live/b.txt"} {
		require.NoError(t, staging.Save(ctx, key, strings.NewReader("x"), 1))
	}
	stalePath := filepath.Join(dir, "alice", "uploads", "old", "a.txt")
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))

	require.NoError(t, NewStagingSweepJob(staging, 24*time.Hour).Run(ctx))

	objects, err := staging.List(ctx, "alice/uploads")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.Equal(t, "alice/uploads/live/b.txt", objects[0].Key)
}

func TestStagingSweepJob_MixedPrefixSurvives(t *testing.T) {
	dir := t.TempDir()
	staging, err := filestore.New("local", map[string]interface{}{"dir": dir})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, staging.Save(ctx, "alice/uploads/s1/old.txt", strings.NewReader("x"), 1))
	require.NoError(t, staging.Save(ctx, "alice/uploads/s1/fresh.txt", strings.NewReader("y"), 1))
	stalePath := filepath.Join(dir, "alice", "uploads", "s1", "old.txt")
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))

	require.NoError(t, NewStagingSweepJob(staging, 24*time.Hour).Run(ctx))

	objects, err := staging.List(ctx, "alice/uploads/s1")
	require.NoError(t, err)
	require.Len(t, objects, 2, "a prefix with any fresh file must be kept whole")
}

func TestStagingSweepJob_NilStoreIsNoop(t *testing.T) {
	require.NoError(t, NewStagingSweepJob(nil, time.Hour).Run(context.Background()))
}
