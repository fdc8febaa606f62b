package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"

	"github.com/deepquery/deepquery/internal/chunk"
	"github.com/deepquery/deepquery/internal/dataset"
)

type Config struct {
	Port      int              `json:"port"`
	JWTSecret string           `json:"jwt_secret"`
	CORSList  []string         `json:"cors_list"`
	RateLimit int              `json:"rate_limit_seconds"`
	LogConfig logger.LogConfig `json:"log_config"`
	Auth      AuthConfig       `json:"auth"`
	AI        AIConfig         `json:"ai"`
	Dataset   DatasetConfig    `json:"dataset"`
	Staging   StagingConfig    `json:"staging"`
	Packman   PackmanConfig    `json:"packman"`
	Chunking  ChunkingConfig   `json:"chunking"`
	Query     QueryConfig      `json:"query"`
	Jobs      JobsConfig       `json:"jobs"`
}

type AuthConfig struct {
	API            string `json:"api"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type AIConfig struct {
	Provider       string      `json:"provider"`
	Data           interface{} `json:"data"`
	Model          string      `json:"model"`
	EmbedModel     string      `json:"embed_model"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	MaxRetries     int         `json:"max_retries"`
	RetryDelaySecs int         `json:"retry_delay_seconds"`
	CacheSize      int         `json:"cache_size"`
	CacheTTLHours  int         `json:"cache_ttl_hours"`
}

type DatasetConfig struct {
	Backend string      `json:"backend"`
	Data    interface{} `json:"data"`
}

type StagingConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type PackmanConfig struct {
	API            string `json:"api"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type ChunkingConfig struct {
	Size    int `json:"size"`
	Overlap int `json:"overlap"`
}

type QueryConfig struct {
	TopK int `json:"top_k"`
}

type JobsConfig struct {
	StagingSweepSchedule string `json:"staging_sweep_schedule"`
	StagingMaxAgeHours   int    `json:"staging_max_age_hours"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.AI.Provider == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.EmbedModel == "" {
		return nil, fmt.Errorf("ai.embed_model is required")
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = 60
	}
	if cfg.AI.MaxRetries == 0 {
		cfg.AI.MaxRetries = 3
	}
	if cfg.AI.RetryDelaySecs == 0 {
		cfg.AI.RetryDelaySecs = 5
	}
	if cfg.Dataset.Backend == "" {
		cfg.Dataset.Backend = "sqlite"
	}
	if cfg.Staging.Type == "" {
		cfg.Staging.Type = "local"
	}
	if cfg.Packman.API == "" {
		return nil, fmt.Errorf("packman.api is required")
	}
	if cfg.Packman.TimeoutSeconds == 0 {
		cfg.Packman.TimeoutSeconds = 30
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = chunk.DefaultSize
	}
	if cfg.Chunking.Size > chunk.MaxSize {
		return nil, fmt.Errorf("chunking.size must not exceed %d", chunk.MaxSize)
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = chunk.DefaultOverlap
	}
	if cfg.Chunking.Overlap >= cfg.Chunking.Size {
		return nil, fmt.Errorf("chunking.overlap must be smaller than chunking.size")
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = dataset.DefaultTopK
	}
	if cfg.Jobs.StagingMaxAgeHours == 0 {
		cfg.Jobs.StagingMaxAgeHours = 24
	}
	return &cfg, nil
}
