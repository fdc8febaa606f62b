package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepquery/deepquery/internal/model"
	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

type stubHandle struct {
	hits []model.SearchResult
	err  error
	k    int
}

func (s *stubHandle) Path() string                           { return "stub/path" }
func (s *stubHandle) Count(ctx context.Context) (int, error) { return len(s.hits), nil }
func (s *stubHandle) Close() error                           { return nil }

func (s *stubHandle) Search(ctx context.Context, query string, k int) ([]model.SearchResult, error) {
	s.k = k
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.hits) {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

func TestQuery_LabelsInRelevanceOrder(t *testing.T) {
	handle := &stubHandle{hits: []model.SearchResult{
		{Text: "most relevant", Source: "a.txt", Score: 0.9},
		{Text: "second", Source: "b.txt", Score: 0.7},
		{Text: "third", Source: "a.txt", Score: 0.5},
	}}
	results, err := NewEngine(4).Query(context.Background(), handle, "question")
	require.NoError(t, err)
	require.Equal(t, []string{"Document 1", "Document 2", "Document 3"}, results.Labels)
	require.Equal(t, "most relevant", results.Passages["Document 1"])
	require.Equal(t, "third", results.Passages["Document 3"])
	require.Equal(t, "a.txt", results.Sources["Document 1"])
	require.Equal(t, 4, handle.k)
}

func TestQuery_EmptyDatasetIsNotAnError(t *testing.T) {
	results, err := NewEngine(4).Query(context.Background(), &stubHandle{}, "question")
	require.NoError(t, err)
	require.True(t, results.Empty())
	require.Empty(t, results.Labels)
}

func TestQuery_BlankPassagesSkippedLabelsStayDense(t *testing.T) {
	handle := &stubHandle{hits: []model.SearchResult{
		{Text: "real passage", Source: "a.txt", Score: 0.9},
		{Text: "   ", Source: "b.txt", Score: 0.8},
		{Text: "another passage", Source: "c.txt", Score: 0.7},
	}}
	results, err := NewEngine(4).Query(context.Background(), handle, "question")
	require.NoError(t, err)
	require.Equal(t, []string{"Document 1", "Document 2"}, results.Labels)
	require.Equal(t, "another passage", results.Passages["Document 2"])
}

func TestQuery_BlankQueryRejected(t *testing.T) {
	_, err := NewEngine(4).Query(context.Background(), &stubHandle{}, "   ")
	require.ErrorIs(t, err, errs.ErrInvalid)
}

func TestContextBlock(t *testing.T) {
	results := Results{
		Labels: []string{"Document 1", "Document 2"},
		Passages: map[string]string{
			"Document 1": "first passage",
			"Document 2": "second passage",
		},
	}
	want := "Document 1:\nfirst passage\n\nDocument 2:\nsecond passage"
	require.Equal(t, want, results.ContextBlock())

	require.Empty(t, Results{}.ContextBlock())
}
