package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"nodeo/internal/common/cache"
	"nodeo/internal/common/db"
	commonmw "nodeo/internal/common/http/middleware"
	"nodeo/internal/common/mq"
	"nodeo/internal/common/storage"
	"nodeo/internal/evaluator/judge"
	"nodeo/internal/evaluator/runner"
	"nodeo/internal/evaluator/service"
	"nodeo/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	WatchInterval time.Duration `yaml:"watchInterval"`
	// RateLimit applies to the endpoints that execute code.
	RateLimit commonmw.RateLimitPolicy `yaml:"rateLimit"`
	CORS      commonmw.CORSConfig      `yaml:"cors"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	MinBytes     int           `yaml:"minBytes"`
	MaxBytes     int           `yaml:"maxBytes"`
	MaxWait      time.Duration `yaml:"maxWait"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
}

// ConsumerConfig holds one topic subscription's settings.
type ConsumerConfig struct {
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	MaxRetryDelay   time.Duration `yaml:"maxRetryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	MessageTTL      time.Duration `yaml:"messageTTL"`
}

// TopicConfig names the run and final status topics.
type TopicConfig struct {
	Run         string `yaml:"run"`
	StatusFinal string `yaml:"statusFinal"`
}

// WorkerConfig bounds queued run execution.
type WorkerConfig struct {
	PoolSize int            `yaml:"poolSize"`
	Timeout  time.Duration  `yaml:"timeout"`
	LockTTL  time.Duration  `yaml:"lockTTL"`
	Consumer ConsumerConfig `yaml:"consumer"`
}

// StatusConfig holds run status settings.
type StatusConfig struct {
	TTL           time.Duration  `yaml:"ttl"`
	EmptyTTL      time.Duration  `yaml:"emptyTTL"`
	FinalConsumer ConsumerConfig `yaml:"finalConsumer"`
}

// RunConfig holds request limits.
type RunConfig struct {
	MaxCodeBytes   int           `yaml:"maxCodeBytes"`
	IdempotencyTTL time.Duration `yaml:"idempotencyTTL"`
	SourceBucket   string        `yaml:"sourceBucket"`
	ChallengesDir  string        `yaml:"challengesDir"`
}

// AppConfig holds evaluator-service configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    KafkaConfig         `yaml:"kafka"`
	Topics   TopicConfig         `yaml:"topics"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Database db.MySQLConfig      `yaml:"database"`
	Judge    judge.Config        `yaml:"judge"`
	Runner   runner.Config       `yaml:"runner"`
	Run      RunConfig           `yaml:"run"`
	Worker   WorkerConfig        `yaml:"worker"`
	Status   StatusConfig        `yaml:"status"`
	Timeouts service.Timeouts    `yaml:"timeouts"`
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
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() error {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.WatchInterval == 0 {
		cfg.Server.WatchInterval = service.DefaultWatchInterval
	}

	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if cfg.MinIO.Endpoint == "" {
		return fmt.Errorf("minio endpoint is required")
	}

	if cfg.Topics.Run == "" {
		cfg.Topics.Run = "eval.runs"
	}
	if cfg.Topics.StatusFinal == "" {
		cfg.Topics.StatusFinal = "eval.status.final"
	}
	if cfg.Worker.Consumer.ConsumerGroup == "" {
		cfg.Worker.Consumer.ConsumerGroup = "nodeo-evaluator"
	}
	if cfg.Worker.Consumer.DeadLetterTopic == "" {
		cfg.Worker.Consumer.DeadLetterTopic = cfg.Topics.Run + ".dlq"
	}
	if cfg.Status.FinalConsumer.ConsumerGroup == "" {
		cfg.Status.FinalConsumer.ConsumerGroup = "nodeo-history"
	}

	if cfg.Worker.PoolSize == 0 {
		cfg.Worker.PoolSize = 4
	}
	if cfg.Worker.Timeout == 0 {
		cfg.Worker.Timeout = 2 * time.Minute
	}
	if cfg.Worker.LockTTL == 0 {
		cfg.Worker.LockTTL = 2 * cfg.Worker.Timeout
	}
	if cfg.Worker.Consumer.Concurrency == 0 {
		cfg.Worker.Consumer.Concurrency = cfg.Worker.PoolSize
	}

	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = 24 * time.Hour
	}
	if cfg.Status.EmptyTTL == 0 {
		cfg.Status.EmptyTTL = 30 * time.Second
	}

	if cfg.Run.MaxCodeBytes == 0 {
		cfg.Run.MaxCodeBytes = service.DefaultMaxCodeBytes
	}
	if cfg.Run.IdempotencyTTL == 0 {
		cfg.Run.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.Run.SourceBucket == "" {
		cfg.Run.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Run.SourceBucket == "" {
		cfg.Run.SourceBucket = "nodeo-sources"
	}
	if cfg.Runner.LocalTimeout == 0 {
		cfg.Runner.LocalTimeout = 10 * time.Second
	}

	if cfg.Timeouts.DB == 0 {
		cfg.Timeouts.DB = 3 * time.Second
	}
	if cfg.Timeouts.Cache == 0 {
		cfg.Timeouts.Cache = 1 * time.Second
	}
	if cfg.Timeouts.MQ == 0 {
		cfg.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Timeouts.Storage == 0 {
		cfg.Timeouts.Storage = 5 * time.Second
	}
	if cfg.Timeouts.Status == 0 {
		cfg.Timeouts.Status = 2 * time.Second
	}
	return nil
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (c ConsumerConfig) toSubscribeOptions() mq.SubscribeOptions {
	opts := mq.SubscribeOptions{
		ConsumerGroup:   c.ConsumerGroup,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		MaxRetryDelay:   c.MaxRetryDelay,
		DeadLetterTopic: c.DeadLetterTopic,
		MessageTTL:      c.MessageTTL,
	}
	opts.SetDefaults()
	return opts
}
