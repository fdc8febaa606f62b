package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Meter reports consumed tokens to the external quota service. Reporting is
// strictly best-effort: a failed report is logged and swallowed so it can
// never fail the request that produced it.
type Meter struct {
	endpoint string
	client   *http.Client
}

func NewMeter(authAPI string, timeout time.Duration) *Meter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Meter{
		endpoint: strings.TrimSuffix(authAPI, "/") + "/user/add_tokens",
		client:   &http.Client{Timeout: timeout},
	}
}

// Record estimates the tokens consumed across the request's text fields,
// reports the total, and returns it.
func (m *Meter) Record(ctx context.Context, token string, fields ...string) int {
	total := 0
	for _, field := range fields {
		total += EstimateTokens(field)
	}
	if total == 0 {
		return 0
	}
	if err := m.report(ctx, token, total); err != nil {
		logutil.GetLogger(ctx).Warn("usage report failed",
			zap.Int("tokens", total), zap.Error(err))
	}
	return total
}

func (m *Meter) report(ctx context.Context, token string, tokens int) error {
	body, err := json.Marshal(map[string]int{"tokens": tokens})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rsp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode < 200 || rsp.StatusCode >= 300 {
		return fmt.Errorf("quota service returned status %d", rsp.StatusCode)
	}
	return nil
}

// EstimateTokens approximates the token cost of a text: one per word for
// ASCII, one per rune beyond ASCII.
func EstimateTokens(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}
