package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/deepquery/deepquery/internal/middleware"
	"github.com/deepquery/deepquery/internal/pkg/errcode"
	errs "github.com/deepquery/deepquery/internal/pkg/errors"
	"github.com/deepquery/deepquery/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("identity", middleware.Identity(c)),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, errs.ErrAuthentication):
		response.Error(c, errcode.ErrUnauthorized, "authentication failed")
	case errors.Is(err, errs.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, errs.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, errs.ErrPackFetch):
		response.Error(c, errcode.ErrPackFetch, "pack fetch failed")
	case errors.Is(err, errs.ErrPackParse):
		response.Error(c, errcode.ErrPackParse, "pack parse failed")
	case errors.Is(err, errs.ErrRateLimitExceeded):
		response.Error(c, errcode.ErrRateLimited, "embedding provider rate limited")
	case errors.Is(err, errs.ErrEmbeddingProvider):
		response.Error(c, errcode.ErrEmbedding, "embedding provider error")
	case errors.Is(err, errs.ErrDatasetCorrupt):
		response.Error(c, errcode.ErrDataset, "dataset unavailable")
	case errors.Is(err, errs.ErrTimeout):
		response.Error(c, errcode.ErrTimeout, "request timed out")
	case errors.Is(err, errs.ErrTooMany):
		response.Error(c, errcode.ErrTooMany, "too many requests")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
