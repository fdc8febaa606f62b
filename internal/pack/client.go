package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepquery/deepquery/internal/model"
	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

// Fetcher retrieves a pack from the external content service.
type Fetcher interface {
	FetchPack(ctx context.Context, packType string, packID string, token string) (*model.Pack, error)
}

type Client struct {
	base   string
	client *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:   strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func packRoute(packType string) (string, error) {
	switch packType {
	case model.PackTypeContent:
		return "/packman/pack/details/", nil
	case model.PackTypeCode:
		return "/packman/code/details/", nil
	default:
		return "", fmt.Errorf("%w: unknown pack type: %s", errs.ErrInvalid, packType)
	}
}

func (c *Client) FetchPack(ctx context.Context, packType string, packID string, token string) (*model.Pack, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: pack fetch requires a bearer token", errs.ErrAuthentication)
	}
	route, err := packRoute(packType)
	if err != nil {
		return nil, err
	}
	url := c.base + route + packID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build pack request: %v", errs.ErrPackFetch, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rsp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrPackFetch, err)
	}
	defer rsp.Body.Close()
	switch {
	case rsp.StatusCode == http.StatusUnauthorized || rsp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: pack service rejected token, status %d", errs.ErrAuthentication, rsp.StatusCode)
	case rsp.StatusCode < 200 || rsp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: pack service returned status %d", errs.ErrPackFetch, rsp.StatusCode)
	}
	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read pack body: %v", errs.ErrPackFetch, err)
	}
	pack := &model.Pack{}
	if err := json.Unmarshal(body, pack); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrPackParse, err)
	}
	pack.ID = packID
	pack.Type = packType
	return pack, nil
}
