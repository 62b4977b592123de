// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// キューのバックエンド。
const (
	QueueBackendRedis  = "redis"
	QueueBackendMemory = "memory"
)

// LLMプロバイダ。
const (
	LLMProviderOpenAI    = "openai"
	LLMProviderAnthropic = "anthropic"
	LLMProviderNone      = "none"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	ServerPort string
	LogLevel   string

	// Queue
	QueueBackend            string
	QueueMaxAttempts        int
	QueueBackoffBase        time.Duration
	QueueBackoffMax         time.Duration
	QueueVisibilityTimeout  time.Duration
	QueuePollTimeout        time.Duration
	QueueCompletedRetention time.Duration
	QueueCompletedMax       int
	QueueDeadRetention      time.Duration
	QueueDeadMax            int

	// Worker
	WorkerConcurrency int
	JobTimeout        time.Duration

	// Edition
	EditionUTCOffsetHours int
	EditionCutoffHour     int

	// Trigger
	TriggerEnabled       bool
	TriggerHour          int
	TriggerMinute        int
	TriggerCheckInterval time.Duration
	CronSecret           string

	// Market data
	FinnhubAPIKey       string
	ProviderMinInterval time.Duration
	ProviderTimeout     time.Duration
	NewsLookbackDays    int
	NewsRSSURLTemplate  string

	// LLM
	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	LLMTimeout      time.Duration

	// Cache / Rate Limit
	BriefingCacheTTL     time.Duration
	RefreshRatePerMinute int

	// Retention
	SnapshotRetentionDays int
	RunRetentionDays      int
}

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーで返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.QueueBackend = strings.ToLower(getEnvString("QUEUE_BACKEND", QueueBackendRedis))
	if cfg.QueueBackend != QueueBackendMemory {
		cfg.QueueBackend = QueueBackendRedis
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	if cfg.QueueBackend == QueueBackendRedis {
		cfg.RedisURL = required("REDIS_URL")
	} else {
		cfg.RedisURL = os.Getenv("REDIS_URL")
	}
	cfg.FinnhubAPIKey = required("FINNHUB_API_KEY")
	cfg.CronSecret = required("CRON_SECRET")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.QueueMaxAttempts = getEnvInt("QUEUE_MAX_ATTEMPTS", 3)
	cfg.QueueBackoffBase = getEnvDuration("QUEUE_BACKOFF_BASE", 30*time.Second)
	cfg.QueueBackoffMax = getEnvDuration("QUEUE_BACKOFF_MAX", 30*time.Minute)
	cfg.QueueVisibilityTimeout = getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 15*time.Minute)
	cfg.QueuePollTimeout = getEnvDuration("QUEUE_POLL_TIMEOUT", 5*time.Second)
	cfg.QueueCompletedRetention = getEnvDuration("QUEUE_COMPLETED_RETENTION", 24*time.Hour)
	cfg.QueueCompletedMax = getEnvInt("QUEUE_COMPLETED_MAX", 500)
	cfg.QueueDeadRetention = getEnvDuration("QUEUE_DEAD_RETENTION", 168*time.Hour)
	cfg.QueueDeadMax = getEnvInt("QUEUE_DEAD_MAX", 200)

	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 1)
	cfg.JobTimeout = getEnvDuration("JOB_TIMEOUT", 10*time.Minute)

	cfg.EditionUTCOffsetHours = getEnvInt("EDITION_UTC_OFFSET_HOURS", 9)
	cfg.EditionCutoffHour = getEnvInt("EDITION_CUTOFF_HOUR", 8)

	cfg.TriggerEnabled = getEnvBool("TRIGGER_ENABLED", true)
	cfg.TriggerHour = getEnvInt("TRIGGER_HOUR", 8)
	cfg.TriggerMinute = getEnvInt("TRIGGER_MINUTE", 5)
	cfg.TriggerCheckInterval = getEnvDuration("TRIGGER_CHECK_INTERVAL", time.Minute)

	cfg.ProviderMinInterval = getEnvDuration("PROVIDER_MIN_INTERVAL", time.Second)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.NewsLookbackDays = getEnvInt("NEWS_LOOKBACK_DAYS", 7)
	cfg.NewsRSSURLTemplate = getEnvString("NEWS_RSS_URL_TEMPLATE", "")

	cfg.LLMProvider = strings.ToLower(getEnvString("LLM_PROVIDER", LLMProviderOpenAI))
	switch cfg.LLMProvider {
	case LLMProviderOpenAI, LLMProviderAnthropic, LLMProviderNone:
	default:
		cfg.LLMProvider = LLMProviderOpenAI
	}
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.AnthropicModel = getEnvString("ANTHROPIC_MODEL", "claude-haiku-4-5")
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT", 60*time.Second)

	cfg.BriefingCacheTTL = getEnvDuration("BRIEFING_CACHE_TTL", 24*time.Hour)
	cfg.RefreshRatePerMinute = getEnvInt("REFRESH_RATE_PER_MINUTE", 5)

	cfg.SnapshotRetentionDays = getEnvInt("SNAPSHOT_RETENTION_DAYS", 90)
	cfg.RunRetentionDays = getEnvInt("RUN_RETENTION_DAYS", 180)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
