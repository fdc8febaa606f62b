package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/deepquery/deepquery/internal/dataset"
	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

// Results is an ordered, labeled set of retrieved passages. Labels run
// "Document 1..N" in descending relevance; Passages maps each label to its
// text. An empty Results means nothing matched, which is not an error.
type Results struct {
	Labels   []string          `json:"labels"`
	Passages map[string]string `json:"passages"`
	Sources  map[string]string `json:"sources,omitempty"`
}

func (r Results) Empty() bool {
	return len(r.Labels) == 0
}

// ContextBlock renders the passages into the text block handed to the
// completion model.
func (r Results) ContextBlock() string {
	var sb strings.Builder
	for _, label := range r.Labels {
		sb.WriteString(label)
		sb.WriteString(":\n")
		sb.WriteString(r.Passages[label])
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Engine shapes similarity-search hits into labeled results.
type Engine struct {
	topK int
}

func NewEngine(topK int) *Engine {
	if topK <= 0 {
		topK = dataset.DefaultTopK
	}
	return &Engine{topK: topK}
}

// Query runs a similarity search against the handle and labels the hits in
// descending relevance. An empty or all-blank hit set yields empty Results.
func (e *Engine) Query(ctx context.Context, handle dataset.Handle, text string) (Results, error) {
	if strings.TrimSpace(text) == "" {
		return Results{}, fmt.Errorf("%w: query text is required", errs.ErrInvalid)
	}
	hits, err := handle.Search(ctx, text, e.topK)
	if err != nil {
		return Results{}, err
	}
	results := Results{Passages: map[string]string{}, Sources: map[string]string{}}
	for _, hit := range hits {
		if strings.TrimSpace(hit.Text) == "" {
			logutil.GetLogger(ctx).Warn("skipping empty passage",
				zap.String("dataset", handle.Path()), zap.String("source", hit.Source))
			continue
		}
		label := fmt.Sprintf("Document %d", len(results.Labels)+1)
		results.Labels = append(results.Labels, label)
		results.Passages[label] = hit.Text
		results.Sources[label] = hit.Source
	}
	return results, nil
}
