package errors

import "errors"

var (
	ErrAuthentication    = errors.New("authentication failed")
	ErrPackFetch         = errors.New("pack fetch failed")
	ErrPackParse         = errors.New("pack parse failed")
	ErrEmbeddingProvider = errors.New("embedding provider error")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrDatasetCorrupt    = errors.New("dataset corrupt")
	ErrIO                = errors.New("io failure")
	ErrTimeout           = errors.New("timeout")
	ErrInvalid           = errors.New("invalid")
	ErrNotFound          = errors.New("not found")
	ErrTooMany           = errors.New("too many requests")
)

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

func IsAuthentication(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
