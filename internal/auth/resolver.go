package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	errs "github.com/deepquery/deepquery/internal/pkg/errors"
	"github.com/deepquery/deepquery/internal/pkg/jwt"
)

const (
	identityCacheSize = 10000
	identityCacheTTL  = 2 * time.Hour
	opaqueIdentityLen = 32
)

// Resolver maps a bearer token to a stable identity key. Locally issued JWTs
// resolve from their claims; otherwise the auth service is asked; with no
// auth service configured the token itself is hashed, so the same opaque
// token always addresses the same datasets.
type Resolver struct {
	client *Client
	secret []byte
	cache  *expirable.LRU[string, string]
}

func NewResolver(client *Client, secret []byte) *Resolver {
	return &Resolver{
		client: client,
		secret: secret,
		cache:  expirable.NewLRU[string, string](identityCacheSize, nil, identityCacheTTL),
	}
}

func (r *Resolver) Identity(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", errs.ErrAuthentication)
	}
	if identity, ok := r.cache.Get(token); ok {
		return identity, nil
	}
	identity, err := r.resolve(ctx, token)
	if err != nil {
		return "", err
	}
	r.cache.Add(token, identity)
	return identity, nil
}

func (r *Resolver) resolve(ctx context.Context, token string) (string, error) {
	if len(r.secret) > 0 {
		if claims, err := jwt.ParseToken(token, r.secret); err == nil && claims.UserID != "" {
			return claims.UserID, nil
		}
	}
	if r.client != nil {
		identity, err := r.client.UserID(ctx, token)
		if err == nil {
			return identity, nil
		}
		if errs.IsAuthentication(err) {
			return "", err
		}
		// Auth service unreachable: fall back to the token hash rather than
		// failing every request.
		logutil.GetLogger(ctx).Warn("auth service lookup failed, using token hash", zap.Error(err))
	}
	return hashIdentity(token), nil
}

func hashIdentity(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:opaqueIdentityLen]
}
