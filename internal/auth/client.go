package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

// Client talks to the external auth service that owns user accounts.
type Client struct {
	base   string
	client *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// UserID resolves the bearer token to the auth service's user id.
func (c *Client) UserID(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/user/id", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rsp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth service: %w", err)
	}
	defer rsp.Body.Close()
	switch {
	case rsp.StatusCode == http.StatusUnauthorized || rsp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: auth service rejected token, status %d", errs.ErrAuthentication, rsp.StatusCode)
	case rsp.StatusCode < 200 || rsp.StatusCode >= 300:
		return "", fmt.Errorf("auth service returned status %d", rsp.StatusCode)
	}
	var body struct {
		UserID string      `json:"user_id"`
		ID     json.Number `json:"id"`
	}
	if err := json.NewDecoder(rsp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if body.UserID != "" {
		return body.UserID, nil
	}
	if body.ID.String() != "" {
		return body.ID.String(), nil
	}
	return "", fmt.Errorf("%w: auth service returned no user id", errs.ErrAuthentication)
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/login", strings.NewReader(string(payload)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	rsp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth service: %w", err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode < 200 || rsp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: login failed, status %d", errs.ErrAuthentication, rsp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rsp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: login returned no token", errs.ErrAuthentication)
	}
	return body.AccessToken, nil
}
