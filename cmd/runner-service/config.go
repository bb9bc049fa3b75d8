package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"judgelet/internal/common/cache"
	"judgelet/internal/common/db"
	"judgelet/internal/common/storage"
	"judgelet/internal/judge/language"
	"judgelet/internal/judge/sandbox/isolate"
	"judgelet/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultCacheTTL        = 10 * time.Minute
	defaultMinBoxID        = 0
	defaultMaxBoxID        = 999
)

// ServerConfig holds HTTP server settings. The write timeout stays zero:
// SSE responses are open-ended.
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

// PoolConfig holds box pool settings.
type PoolConfig struct {
	MinBoxID    int `yaml:"minBoxID"`
	MaxBoxID    int `yaml:"maxBoxID"`
	Concurrency int `yaml:"concurrency"`
}

// ProblemConfig holds metadata store settings.
type ProblemConfig struct {
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// AppConfig holds runner-service config.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server"`
	Logger    logger.Config       `yaml:"logger"`
	Database  db.Config           `yaml:"database"`
	Redis     cache.Config        `yaml:"redis"`
	MinIO     storage.Config      `yaml:"minio"`
	Sandbox   isolate.Config      `yaml:"sandbox"`
	Limits    isolate.Limits      `yaml:"limits"`
	Pool      PoolConfig          `yaml:"pool"`
	Problem   ProblemConfig       `yaml:"problem"`
	Languages []language.Override `yaml:"languages"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Pool.MaxBoxID == 0 {
		cfg.Pool.MinBoxID = defaultMinBoxID
		cfg.Pool.MaxBoxID = defaultMaxBoxID
	}
	if cfg.Pool.Concurrency <= 0 {
		cfg.Pool.Concurrency = cfg.Pool.MaxBoxID - cfg.Pool.MinBoxID + 1
	}
	if cfg.Problem.CacheTTL == 0 {
		cfg.Problem.CacheTTL = defaultCacheTTL
	}
	return &cfg, nil
}
