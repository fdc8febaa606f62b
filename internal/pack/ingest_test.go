package pack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepquery/deepquery/internal/dataset"
	"github.com/deepquery/deepquery/internal/filestore"
	"github.com/deepquery/deepquery/internal/model"
	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

type fixedEmbedder struct{}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r)
	}
	return vec, nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, _ := f.Embed(ctx, t)
		out = append(out, vec)
	}
	return out, nil
}

func (f *fixedEmbedder) ModelName() string { return "fixed" }

type fixture struct {
	ingestor *Ingestor
	store    dataset.Store
	staging  filestore.Store
	fetches  *atomic.Int64
}

func newFixture(t *testing.T, pack *model.Pack, status int) *fixture {
	t.Helper()
	fetches := &atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(pack)
	}))
	t.Cleanup(srv.Close)

	store, err := dataset.New("sqlite", map[string]interface{}{"root": t.TempDir()}, &fixedEmbedder{})
	require.NoError(t, err)
	staging, err := filestore.New("local", map[string]interface{}{"dir": t.TempDir()})
	require.NoError(t, err)

	return &fixture{
		ingestor: NewIngestor(NewClient(srv.URL, 0), store, staging, dataset.NewKeyedLock(), 100, 10),
		store:    store,
		staging:  staging,
		fetches:  fetches,
	}
}

func contentPack(entries ...model.PackEntry) *model.Pack {
	return &model.Pack{Entries: entries}
}

func TestIngest_IndexesEntriesAndCleansStaging(t *testing.T) {
	fx := newFixture(t, contentPack(
		model.PackEntry{DataType: model.EntryTypeFile, Content: "alpha document body", Filename: "a.txt"},
		model.PackEntry{DataType: model.EntryTypeFile, Content: "beta document body", Filename: "b.md"},
		model.PackEntry{DataType: model.EntryTypeLink, Content: "https://example.com/page"},
	), http.StatusOK)
	ctx := context.Background()

	result, err := fx.ingestor.Ingest(ctx, "alice", "p1", model.PackTypeContent, "tok")
	require.NoError(t, err)
	require.Equal(t, dataset.Resolve("alice", model.PackTypeContent, "p1"), result.DatasetPath)
	require.Equal(t, 3, result.FilesIndexed)
	require.Empty(t, result.FilesFailed)

	exists, err := fx.store.Exists(ctx, result.DatasetPath)
	require.NoError(t, err)
	require.True(t, exists)

	objects, err := fx.staging.List(ctx, stagingPrefix("alice", model.PackTypeContent, "p1"))
	require.NoError(t, err)
	require.Empty(t, objects, "staging must be deleted after a successful ingest")
}

func TestIngest_BinaryEntrySkippedOthersSurvive(t *testing.T) {
	fx := newFixture(t, contentPack(
		model.PackEntry{DataType: model.EntryTypeFile, Content: "readable text", Filename: "good.txt"},
		model.PackEntry{DataType: model.EntryTypeFile, Content: "bin\x00ary", Filename: "bad.txt"},
	), http.StatusOK)

	result, err := fx.ingestor.Ingest(context.Background(), "alice", "p1", model.PackTypeContent, "tok")
	require.NoError(t, err)
	require.Equal(t, 1, result.FilesIndexed)
	require.Equal(t, []string{"bad.txt"}, result.FilesFailed)
}

func TestIngest_AllEntriesFailedIsError(t *testing.T) {
	fx := newFixture(t, contentPack(
		model.PackEntry{DataType: model.EntryTypeFile, Content: "bin\x00ary", Filename: "bad.bin"},
	), http.StatusOK)
	ctx := context.Background()

	_, err := fx.ingestor.Ingest(ctx, "alice", "p1", model.PackTypeContent, "tok")
	require.Error(t, err)

	exists, err := fx.store.Exists(ctx, dataset.Resolve("alice", model.PackTypeContent, "p1"))
	require.NoError(t, err)
	require.False(t, exists, "aborted rebuild must not materialize a dataset")
}

func TestIngest_FetchErrors(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		fx := newFixture(t, contentPack(), http.StatusOK)
		_, err := fx.ingestor.Ingest(context.Background(), "alice", "p1", model.PackTypeContent, "")
		require.ErrorIs(t, err, errs.ErrAuthentication)
		require.Zero(t, fx.fetches.Load(), "missing token must fail before the remote call")
	})
	t.Run("rejected token", func(t *testing.T) {
		fx := newFixture(t, contentPack(), http.StatusUnauthorized)
		_, err := fx.ingestor.Ingest(context.Background(), "alice", "p1", model.PackTypeContent, "tok")
		require.ErrorIs(t, err, errs.ErrAuthentication)
	})
	t.Run("server failure", func(t *testing.T) {
		fx := newFixture(t, contentPack(), http.StatusInternalServerError)
		_, err := fx.ingestor.Ingest(context.Background(), "alice", "p1", model.PackTypeContent, "tok")
		require.ErrorIs(t, err, errs.ErrPackFetch)
	})
	t.Run("unknown pack type", func(t *testing.T) {
		fx := newFixture(t, contentPack(), http.StatusOK)
		_, err := fx.ingestor.Ingest(context.Background(), "alice", "p1", "bogus", "tok")
		require.ErrorIs(t, err, errs.ErrInvalid)
	})
}

func TestClient_BadJSONIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL, 0).FetchPack(context.Background(), model.PackTypeContent, "p1", "tok")
	require.ErrorIs(t, err, errs.ErrPackParse)
}

func TestEnsureIndexed_SkipsFetchWhenDatasetExists(t *testing.T) {
	fx := newFixture(t, contentPack(
		model.PackEntry{DataType: model.EntryTypeFile, Content: "some text", Filename: "a.txt"},
	), http.StatusOK)
	ctx := context.Background()

	path1, err := fx.ingestor.EnsureIndexed(ctx, "alice", "p1", model.PackTypeContent, "tok", false)
	require.NoError(t, err)
	require.EqualValues(t, 1, fx.fetches.Load())

	path2, err := fx.ingestor.EnsureIndexed(ctx, "alice", "p1", model.PackTypeContent, "tok", false)
	require.NoError(t, err)
	require.Equal(t, path1, path2)
	require.EqualValues(t, 1, fx.fetches.Load(), "existing dataset must not be refetched")

	_, err = fx.ingestor.EnsureIndexed(ctx, "alice", "p1", model.PackTypeContent, "tok", true)
	require.NoError(t, err)
	require.EqualValues(t, 2, fx.fetches.Load(), "force must refetch and rebuild")
}

func TestUploadsLifecycle(t *testing.T) {
	fx := newFixture(t, contentPack(), http.StatusOK)
	ctx := context.Background()

	require.NoError(t, fx.ingestor.SaveUpload(ctx, "alice", "s1", "notes.txt", []byte("uploaded note text")))
	require.NoError(t, fx.ingestor.SaveUpload(ctx, "alice", "s1", "data.csv", []byte("name,age\nbob,30\neve,25\n")))

	names, err := fx.ingestor.ListUploads(ctx, "alice", "s1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"notes.txt", "data.csv"}, names)

	result, err := fx.ingestor.IngestUploads(ctx, "alice", "s1")
	require.NoError(t, err)
	require.Equal(t, 2, result.FilesIndexed)

	// Uploads stay staged after indexing so the session can still list them.
	names, err = fx.ingestor.ListUploads(ctx, "alice", "s1")
	require.NoError(t, err)
	require.Len(t, names, 2)

	require.NoError(t, fx.ingestor.DeleteSession(ctx, "alice", "s1"))
	names, err = fx.ingestor.ListUploads(ctx, "alice", "s1")
	require.NoError(t, err)
	require.Empty(t, names)

	exists, err := fx.store.Exists(ctx, dataset.Resolve("alice", model.PackTypeUploads, "s1"))
	require.NoError(t, err)
	require.False(t, exists)

	_, err = fx.ingestor.IngestUploads(ctx, "alice", "s1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDeleteIdentity_RemovesDatasetsAndStagedUploads(t *testing.T) {
	fx := newFixture(t, contentPack(
		model.PackEntry{DataType: model.EntryTypeFile, Content: "alpha document body", Filename: "a.txt"},
	), http.StatusOK)
	ctx := context.Background()

	_, err := fx.ingestor.Ingest(ctx, "alice", "p1", model.PackTypeContent, "tok")
	require.NoError(t, err)
	require.NoError(t, fx.ingestor.SaveUpload(ctx, "alice", "s1", "notes.txt", []byte("staged notes")))

	require.NoError(t, fx.ingestor.DeleteIdentity(ctx, "alice"))

	exists, err := fx.store.Exists(ctx, dataset.Resolve("alice", model.PackTypeContent, "p1"))
	require.NoError(t, err)
	require.False(t, exists)
	names, err := fx.ingestor.ListUploads(ctx, "alice", "s1")
	require.NoError(t, err)
	require.Empty(t, names)
}
