package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

type scriptedEmbedder struct {
	errs  []error
	calls int
}

func (s *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	defer func() { s.calls++ }()
	if s.calls < len(s.errs) && s.errs[s.calls] != nil {
		return nil, s.errs[s.calls]
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (s *scriptedEmbedder) ModelName() string {
	return "fake-model"
}

func noSleep(ctx context.Context, d time.Duration) error {
	return nil
}

func TestRetryEmbedder_RecoversAfterRateLimit(t *testing.T) {
	rateLimited := errors.New("429 rate limit reached for requests")
	next := &scriptedEmbedder{errs: []error{rateLimited, rateLimited}}
	r := &retryEmbedder{next: next, policy: RetryPolicy{MaxRetries: 3, Delay: time.Millisecond}, sleep: noSleep}

	vecs, err := r.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, 3, next.calls)
}

func TestRetryEmbedder_ExhaustsRetries(t *testing.T) {
	rateLimited := errors.New("rate limit exceeded, slow down")
	next := &scriptedEmbedder{errs: []error{rateLimited, rateLimited, rateLimited, rateLimited}}
	r := &retryEmbedder{next: next, policy: RetryPolicy{MaxRetries: 3, Delay: time.Millisecond}, sleep: noSleep}

	_, err := r.EmbedBatch(context.Background(), []string{"a"})
	require.ErrorIs(t, err, errs.ErrRateLimitExceeded)
	require.Equal(t, 4, next.calls)
}

func TestRetryEmbedder_NoRetryOnProviderError(t *testing.T) {
	boom := errors.New("model not found")
	next := &scriptedEmbedder{errs: []error{boom}}
	r := &retryEmbedder{next: next, policy: RetryPolicy{MaxRetries: 3, Delay: time.Millisecond}, sleep: noSleep}

	_, err := r.EmbedBatch(context.Background(), []string{"a"})
	require.ErrorIs(t, err, errs.ErrEmbeddingProvider)
	require.Equal(t, 1, next.calls)
}

func TestIsRateLimit_PlainErrors(t *testing.T) {
	require.True(t, IsRateLimit(errors.New("RESOURCE_EXHAUSTED: quota")))
	require.False(t, IsRateLimit(errors.New("bad request")))
	require.False(t, IsRateLimit(nil))
}
