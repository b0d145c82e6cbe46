package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	RedisURL    string

	DataDir  string
	ModelDir string
	// RunConfigPath points at the YAML run config used by scheduled and
	// manually triggered training.
	RunConfigPath string

	LogLevel  string
	LogFormat string

	HTTPPort string
	APIKey   string

	MLEnabled       bool
	MLTrainHourUTC  int
	MLInferPollSecs int
	ModelCacheTTL   time.Duration

	// Warnings collects fallbacks applied while loading, for the caller to log.
	Warnings []string
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		APIKey:      os.Getenv("API_KEY"),
	}

	if cfg.DatabaseURL == "" {
		cfg.warn("DATABASE_URL not set, model versions and predictions will not be persisted")
	}
	if cfg.RedisURL == "" {
		cfg.warn("REDIS_URL not set, model cache is process-local")
	}

	cfg.DataDir = strings.TrimSpace(os.Getenv("QUANTLAB_DATA_DIR"))
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	cfg.ModelDir = strings.TrimSpace(os.Getenv("QUANTLAB_MODEL_DIR"))
	if cfg.ModelDir == "" {
		cfg.ModelDir = "models"
	}

	cfg.RunConfigPath = strings.TrimSpace(os.Getenv("QUANTLAB_RUN_CONFIG"))

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.LogFormat = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		cfg.warn("unsupported LOG_FORMAT=" + strconv.Quote(cfg.LogFormat) + ", defaulting to json")
		cfg.LogFormat = "json"
	}

	cfg.HTTPPort = strings.TrimSpace(os.Getenv("HTTP_PORT"))
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = "8080"
	}

	cfg.MLEnabled = strings.EqualFold(strings.TrimSpace(os.Getenv("ML_ENABLED")), "true")

	cfg.MLTrainHourUTC = 0
	if v := strings.TrimSpace(os.Getenv("ML_TRAIN_HOUR_UTC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			cfg.MLTrainHourUTC = n
		} else {
			cfg.warn("invalid ML_TRAIN_HOUR_UTC=" + strconv.Quote(v) + ", defaulting to 0")
		}
	}

	cfg.MLInferPollSecs = 900
	if v := strings.TrimSpace(os.Getenv("ML_INFER_POLL_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MLInferPollSecs = n
		}
	}

	cfg.ModelCacheTTL = 30 * time.Minute
	if v := strings.TrimSpace(os.Getenv("MODEL_CACHE_TTL_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ModelCacheTTL = time.Duration(n) * time.Second
		}
	}

	return cfg
}

func (c *Config) warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}
