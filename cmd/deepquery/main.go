package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/deepquery/deepquery/internal/ai"
	"github.com/deepquery/deepquery/internal/auth"
	"github.com/deepquery/deepquery/internal/config"
	"github.com/deepquery/deepquery/internal/dataset"
	"github.com/deepquery/deepquery/internal/embedcache"
	"github.com/deepquery/deepquery/internal/filestore"
	"github.com/deepquery/deepquery/internal/handler"
	"github.com/deepquery/deepquery/internal/job"
	"github.com/deepquery/deepquery/internal/middleware"
	"github.com/deepquery/deepquery/internal/pack"
	"github.com/deepquery/deepquery/internal/query"
	"github.com/deepquery/deepquery/internal/schedule"
	"github.com/deepquery/deepquery/internal/service"
	"github.com/deepquery/deepquery/internal/usage"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "deepquery",
		Short: "deepquery RAG server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run deepquery server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
			return runServer(cfg)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func buildEmbedder(cfg *config.Config, provider ai.IProvider) ai.IEmbedder {
	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	embedder := ai.NewEmbedder(provider, cfg.AI.EmbedModel, timeout)
	embedder = ai.WrapRetryToEmbedder(embedder, ai.RetryPolicy{
		MaxRetries: cfg.AI.MaxRetries,
		Delay:      time.Duration(cfg.AI.RetryDelaySecs) * time.Second,
	})
	if cfg.AI.CacheSize > 0 {
		ttl := time.Duration(cfg.AI.CacheTTLHours) * time.Hour
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.AI.CacheSize, ttl)
	}
	return embedder
}

func runServer(cfg *config.Config) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("dataset_backend", cfg.Dataset.Backend),
		zap.String("staging", cfg.Staging.Type),
	)

	provider, err := ai.NewProvider(cfg.AI.Provider, cfg.AI.Data)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	embedder := buildEmbedder(cfg, provider)
	generator := ai.NewGenerator(provider, cfg.AI.Model, time.Duration(cfg.AI.TimeoutSeconds)*time.Second)

	store, err := dataset.New(cfg.Dataset.Backend, cfg.Dataset.Data, embedder)
	if err != nil {
		return fmt.Errorf("init dataset store: %w", err)
	}
	staging, err := filestore.New(cfg.Staging.Type, cfg.Staging.Data)
	if err != nil {
		return fmt.Errorf("init staging store: %w", err)
	}

	locks := dataset.NewKeyedLock()
	packClient := pack.NewClient(cfg.Packman.API, time.Duration(cfg.Packman.TimeoutSeconds)*time.Second)
	ingestor := pack.NewIngestor(packClient, store, staging, locks, cfg.Chunking.Size, cfg.Chunking.Overlap)
	engine := query.NewEngine(cfg.Query.TopK)
	meter := usage.NewMeter(cfg.Auth.API, time.Duration(cfg.Auth.TimeoutSeconds)*time.Second)
	svc := service.NewDeepQueryService(ingestor, store, locks, engine, generator, meter)

	authClient := auth.NewClient(cfg.Auth.API, time.Duration(cfg.Auth.TimeoutSeconds)*time.Second)
	resolver := auth.NewResolver(authClient, []byte(cfg.JWTSecret))

	deps := handler.RouterDeps{
		DeepQuery: handler.NewDeepQueryHandler(svc),
		Resolver:  resolver,
		RateLimit: time.Duration(cfg.RateLimit) * time.Second,
	}

	webEngine, err := webapi.NewEngine(
		"/",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORSList),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if cfg.Jobs.StagingSweepSchedule != "" {
		sweep := job.NewStagingSweepJob(staging, time.Duration(cfg.Jobs.StagingMaxAgeHours)*time.Hour)
		if err := scheduler.AddJob(sweep, cfg.Jobs.StagingSweepSchedule); err != nil {
			return fmt.Errorf("schedule staging sweep: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(context.Background()).Info("http server listening",
		zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	go func() {
		if err := webEngine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
