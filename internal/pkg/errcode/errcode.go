package errcode

const (
	ErrUnknown = 20000000 + iota
	ErrUnauthorized
	ErrInvalid
	ErrNotFound
	ErrTooMany
	ErrInternal
	ErrPackFetch
	ErrPackParse
	ErrEmbedding
	ErrRateLimited
	ErrDataset
	ErrTimeout
)
