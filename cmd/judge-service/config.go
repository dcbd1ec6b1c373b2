package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/judge/codec"
	"codejudge/internal/judge/executor"
	"codejudge/internal/judge/repository"
	"codejudge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 90 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultMaxExecutionTimeMs = 2000
	defaultMaxMemoryMB        = 256

	defaultRunEventTopic   = "judge.run.finished"
	defaultRateLimitWindow = time.Minute
)

// Environment variables that override the executor section.
const (
	envBaseURL          = "JUDGE0_BASE_URL"
	envAuthToken        = "JUDGE0_AUTH_TOKEN"
	envAuthHeader       = "JUDGE0_AUTH_HEADER"
	envMaxExecutionTime = "JUDGE_MAX_EXECUTION_TIME_MS"
	envMaxMemory        = "JUDGE_MAX_MEMORY_MB"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// MaxBodyBytes caps zstd-decoded request bodies.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

// ExecutorConfig holds remote executor settings.
type ExecutorConfig struct {
	BaseURL            string         `yaml:"baseURL"`
	AuthHeader         string         `yaml:"authHeader"`
	AuthToken          string         `yaml:"authToken"`
	MaxExecutionTimeMs int            `yaml:"maxExecutionTimeMs"`
	MaxMemoryMB        int            `yaml:"maxMemoryMB"`
	HealthTimeout      time.Duration  `yaml:"healthTimeout"`
	RequestTimeout     time.Duration  `yaml:"requestTimeout"`
	SyncTimeout        time.Duration  `yaml:"syncTimeout"`
	PollInterval       time.Duration  `yaml:"pollInterval"`
	PollAttempts       int            `yaml:"pollAttempts"`
	PollConcurrency    int            `yaml:"pollConcurrency"`
	Languages          map[string]int `yaml:"languages"`
}

// HealthConfig holds health probe caching settings.
type HealthConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	UnhealthyTTL time.Duration `yaml:"unhealthyTTL"`
}

// KafkaConfig holds run event publishing settings. No brokers disables publishing.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	Compression  string        `yaml:"compression"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server    ServerConfig             `yaml:"server"`
	Logger    logger.Config            `yaml:"logger"`
	Redis     cache.RedisConfig        `yaml:"redis"`
	Executor  ExecutorConfig           `yaml:"executor"`
	Health    HealthConfig             `yaml:"health"`
	RateLimit commonmw.RateLimitPolicy `yaml:"rateLimit"`
	Kafka     KafkaConfig              `yaml:"kafka"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyExecutorEnv(&cfg.Executor, os.LookupEnv); err != nil {
		return nil, err
	}
	applyServerDefaults(&cfg.Server)
	applyExecutorDefaults(&cfg.Executor)
	applyHealthDefaults(&cfg.Health)
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = defaultRateLimitWindow
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = defaultRunEventTopic
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}
	if cfg.Executor.MaxExecutionTimeMs <= 0 || cfg.Executor.MaxMemoryMB <= 0 {
		return nil, fmt.Errorf("executor limits must be positive")
	}
	return &cfg, nil
}

func applyExecutorEnv(cfg *ExecutorConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup(envBaseURL); ok && strings.TrimSpace(v) != "" {
		cfg.BaseURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(envAuthToken); ok {
		cfg.AuthToken = v
	}
	if v, ok := lookup(envAuthHeader); ok && strings.TrimSpace(v) != "" {
		cfg.AuthHeader = strings.TrimSpace(v)
	}
	if v, ok := lookup(envMaxExecutionTime); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envMaxExecutionTime, err)
		}
		cfg.MaxExecutionTimeMs = n
	}
	if v, ok := lookup(envMaxMemory); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envMaxMemory, err)
		}
		cfg.MaxMemoryMB = n
	}
	return nil
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultHTTPAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
}

func applyExecutorDefaults(cfg *ExecutorConfig) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = executor.DefaultBaseURL
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = executor.DefaultAuthHeader
	}
	if cfg.MaxExecutionTimeMs == 0 {
		cfg.MaxExecutionTimeMs = defaultMaxExecutionTimeMs
	}
	if cfg.MaxMemoryMB == 0 {
		cfg.MaxMemoryMB = defaultMaxMemoryMB
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = 1
	}
}

func applyHealthDefaults(cfg *HealthConfig) {
	if cfg.TTL == 0 {
		cfg.TTL = repository.DefaultHealthTTL
	}
	if cfg.UnhealthyTTL == 0 {
		cfg.UnhealthyTTL = repository.DefaultUnhealthyTTL
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (e ExecutorConfig) toClientConfig() executor.Config {
	return executor.Config{
		BaseURL:        e.BaseURL,
		AuthHeader:     e.AuthHeader,
		AuthToken:      e.AuthToken,
		HealthTimeout:  e.HealthTimeout,
		RequestTimeout: e.RequestTimeout,
		SyncTimeout:    e.SyncTimeout,
		PollInterval:   e.PollInterval,
		PollAttempts:   e.PollAttempts,
	}
}

func (e ExecutorConfig) limits() codec.Limits {
	return codec.Limits{MaxExecutionTimeMs: e.MaxExecutionTimeMs, MaxMemoryMB: e.MaxMemoryMB}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		WriteTimeout: k.WriteTimeout,
		Compression:  mq.ParseCompression(k.Compression),
	}
}
