package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

// IProvider is one remote model vendor, able to serve both embedding and
// completion calls for a given model name.
type IProvider interface {
	Name() string
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
	Generate(ctx context.Context, model string, system string, user string) (string, error)
}

// IEmbedder converts text into fixed-dimension vectors.
type IEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// IGenerator produces a completion from a system and user message pair.
type IGenerator interface {
	Generate(ctx context.Context, system string, user string) (string, error)
}

type embedder struct {
	provider IProvider
	model    string
	timeout  time.Duration
}

// NewEmbedder binds a provider to a concrete embedding model. Every call is
// bounded by timeout when it is non-zero.
func NewEmbedder(p IProvider, model string, timeout time.Duration) IEmbedder {
	return &embedder{provider: p, model: model, timeout: timeout}
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: empty embed input", errs.ErrInvalid)
	}
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()
	vecs, err := e.provider.EmbedBatch(ctx, e.model, texts)
	if err != nil {
		return nil, mapTimeout(err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d inputs", errs.ErrEmbeddingProvider, len(vecs), len(texts))
	}
	return vecs, nil
}

func (e *embedder) ModelName() string {
	return e.model
}

type generator struct {
	provider IProvider
	model    string
	timeout  time.Duration
}

func NewGenerator(p IProvider, model string, timeout time.Duration) IGenerator {
	return &generator{provider: p, model: model, timeout: timeout}
}

func (g *generator) Generate(ctx context.Context, system string, user string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	out, err := g.provider.Generate(ctx, g.model, system, user)
	if err != nil {
		return "", mapTimeout(err)
	}
	return out, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func mapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errs.ErrTimeout, err)
	}
	return err
}

type ProviderFactory func(args interface{}) (IProvider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (IProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode provider config: %w", err)
	}
	return nil
}
