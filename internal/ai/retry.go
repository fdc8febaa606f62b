package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"google.golang.org/genai"

	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

// RetryPolicy bounds retries of rate-limited embedding calls. Only rate-limit
// responses are retried; any other provider failure propagates immediately.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: 5 * time.Second}
}

// WrapRetryToEmbedder decorates an embedder with the bounded retry policy and
// normalizes failures into the service error taxonomy.
func WrapRetryToEmbedder(next IEmbedder, policy RetryPolicy) IEmbedder {
	if next == nil {
		return nil
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &retryEmbedder{next: next, policy: policy, sleep: sleepCtx}
}

type retryEmbedder struct {
	next   IEmbedder
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func (r *retryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (r *retryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			logutil.GetLogger(ctx).Warn("embedding rate limited, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", r.policy.Delay),
			)
			if err := r.sleep(ctx, r.policy.Delay); err != nil {
				return nil, mapTimeout(err)
			}
		}
		vecs, err := r.next.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if !IsRateLimit(err) {
			return nil, classify(err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", errs.ErrRateLimitExceeded, lastErr)
}

func (r *retryEmbedder) ModelName() string {
	return r.next.ModelName()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRateLimit reports whether a provider error is a rate-limit signal.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var gerr genai.APIError
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "resource_exhausted")
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return mapTimeout(err)
	case errors.Is(err, errs.ErrInvalid), errors.Is(err, errs.ErrEmbeddingProvider):
		return err
	default:
		return fmt.Errorf("%w: %v", errs.ErrEmbeddingProvider, err)
	}
}
