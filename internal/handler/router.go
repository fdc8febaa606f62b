package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deepquery/deepquery/internal/auth"
	"github.com/deepquery/deepquery/internal/middleware"
)

type RouterDeps struct {
	DeepQuery *DeepQueryHandler
	Resolver  *auth.Resolver
	RateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	authGroup := api.Group("")
	authGroup.Use(middleware.BearerAuth(deps.Resolver))
	if deps.RateLimit > 0 {
		authGroup.Use(middleware.RateLimit(deps.RateLimit))
	}
	authGroup.POST("/upload", deps.DeepQuery.Upload)
	authGroup.GET("/retrieve-files", deps.DeepQuery.RetrieveFiles)
	authGroup.DELETE("/delete-session", deps.DeepQuery.DeleteSession)
	authGroup.DELETE("/delete-identity", deps.DeepQuery.DeleteIdentity)
	authGroup.POST("/deepquery", deps.DeepQuery.Query)
	authGroup.POST("/deepquery-raw", deps.DeepQuery.QueryRaw)
	authGroup.POST("/deepquery-code", deps.DeepQuery.QueryCode)
	authGroup.POST("/deepquery-code-raw", deps.DeepQuery.QueryCodeRaw)
}
