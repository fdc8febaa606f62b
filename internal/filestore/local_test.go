package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) Store {
	t.Helper()
	store, err := New("local", map[string]interface{}{"dir": t.TempDir()})
	require.NoError(t, err)
	return store
}

func TestLocalStore_SaveOpenRoundTrip(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	body := "uploaded document body"
	require.NoError(t, store.Save(ctx, "alice/uploads/s1/notes.txt", strings.NewReader(body), int64(len(body))))

	rc, err := store.Open(ctx, "alice/uploads/s1/notes.txt")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, body, string(got))
}

func TestLocalStore_ListScopedByPrefix(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	for _, key := range []string{"alice/uploads/s1/a.txt", "alice/uploads/s1/b.csv", "bob/uploads/s2/c.txt"} {
		require.NoError(t, store.Save(ctx, key, strings.NewReader("x"), 1))
	}

	objects, err := store.List(ctx, "alice/uploads/s1")
	require.NoError(t, err)
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	require.ElementsMatch(t, []string{"alice/uploads/s1/a.txt", "alice/uploads/s1/b.csv"}, keys)
}

func TestLocalStore_ListMissingPrefixIsEmpty(t *testing.T) {
	store := newLocal(t)
	objects, err := store.List(context.Background(), "nobody/uploads/s9")
	require.NoError(t, err)
	require.Empty(t, objects)
}

func TestLocalStore_DeletePrefixRemovesSession(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "alice/uploads/s1/a.txt", strings.NewReader("x"), 1))
	require.NoError(t, store.Save(ctx, "alice/uploads/s2/b.txt", strings.NewReader("y"), 1))

	require.NoError(t, store.Delete(ctx, "alice/uploads/s1"))

	objects, err := store.List(ctx, "alice/uploads")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.Equal(t, "alice/uploads/s2/b.txt", objects[0].Key)
}

func TestLocalStore_RejectsTraversalKeys(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	err := store.Save(ctx, "../escape.txt", strings.NewReader("x"), 1)
	require.Error(t, err)
	_, err = store.Open(ctx, "a/../../etc/passwd")
	require.Error(t, err)
	require.Error(t, store.Delete(ctx, ".."))
}

func TestLocalStore_DeletePrunesEmptyParents(t *testing.T) {
	dir := t.TempDir()
	store, err := New("local", map[string]interface{}{"dir": dir})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "alice/content/p1/a.txt", strings.NewReader("x"), 1))
	require.NoError(t, store.Save(ctx, "alice/uploads/s1/b.txt", strings.NewReader("y"), 1))

	require.NoError(t, store.Delete(ctx, "alice/content/p1"))
	_, err = os.Stat(filepath.Join(dir, "alice", "content"))
	require.ErrorIs(t, err, os.ErrNotExist, "emptied pack-type dir must be pruned")
	_, err = os.Stat(filepath.Join(dir, "alice", "uploads", "s1", "b.txt"))
	require.NoError(t, err, "sibling session must survive")

	require.NoError(t, store.Delete(ctx, "alice/uploads/s1"))
	_, err = os.Stat(filepath.Join(dir, "alice"))
	require.ErrorIs(t, err, os.ErrNotExist, "emptied identity dir must be pruned")
	_, err = os.Stat(dir)
	require.NoError(t, err, "store root must survive")
}
