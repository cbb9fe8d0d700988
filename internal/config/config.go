package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"orderflow/internal/model"
)

var ErrInvalid = errors.New("invalid config")

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	Client            string   `yaml:"client"` // segmentio|confluent
	GroupID           string   `yaml:"group_id"`
	EnsureTopics      bool     `yaml:"ensure_topics"`
	Partitions        int      `yaml:"partitions"`
	ReplicationFactor int      `yaml:"replication_factor"`
}

type StreamsConfig struct {
	Standard   string `yaml:"standard"`
	Urgent     string `yaml:"urgent"`
	DeadLetter string `yaml:"dead_letter"`
}

type GeneratorConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 disables the scheduled generator
}

type PipelineConfig struct {
	MarkupFactor  float64 `yaml:"markup_factor"`
	BatchPriority string  `yaml:"batch_priority"`
	MaxBatch      int     `yaml:"max_batch"` // upper bound on one batch request
}

type StoreConfig struct {
	Backend     string `yaml:"backend"` // memory|pebble|badger|postgres|redis
	PebbleDir   string `yaml:"pebble_dir"`
	BadgerDir   string `yaml:"badger_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`

	SnapshotDir     string `yaml:"snapshot_dir"`     // empty disables the shutdown snapshot
	RestoreSnapshot string `yaml:"restore_snapshot"` // snapshot id loaded at startup
}

type DeadLetterConfig struct {
	Publish bool   `yaml:"publish"`
	LogFile string `yaml:"log_file"` // empty disables the JSONL sink
}

type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Transport  string           `yaml:"transport"` // kafka|memory
	Kafka      KafkaConfig      `yaml:"kafka"`
	Streams    StreamsConfig    `yaml:"streams"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Store      StoreConfig      `yaml:"store"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Transport: "kafka",
		Kafka: KafkaConfig{
			Brokers:           []string{"localhost:9092"},
			Client:            "segmentio",
			GroupID:           "orderflow",
			Partitions:        6,
			ReplicationFactor: 3,
		},
		Streams: StreamsConfig{
			Standard:   "orders-topic",
			Urgent:     "urgent-orders-topic",
			DeadLetter: "orders-dlq-topic",
		},
		Generator: GeneratorConfig{Interval: 5 * time.Second},
		Pipeline:  PipelineConfig{MarkupFactor: 1.1, BatchPriority: string(model.PriorityHigh), MaxBatch: 400},
		Store: StoreConfig{
			Backend:   "pebble",
			PebbleDir: "./data/orders",
			BadgerDir: "./data/orders-badger",
		},
		DeadLetter: DeadLetterConfig{Publish: true, LogFile: "./deadletter/orders.jsonl"},
		Breaker:    BreakerConfig{MinRequests: 10, FailureRatio: 0.5, OpenTimeout: 30 * time.Second},
		HTTP:       HTTPConfig{Addr: ":8080"},
		Log:        LogConfig{Level: "info"},
	}
}

// Load applies, in order: defaults, the YAML file at path (if non-empty), environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(c *Config) {
	c.Transport = getEnvOrDefault("TRANSPORT", c.Transport)
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitCSV(v)
	}
	c.Kafka.Client = getEnvOrDefault("KAFKA_CLIENT", c.Kafka.Client)
	c.Kafka.GroupID = getEnvOrDefault("KAFKA_GROUP_ID", c.Kafka.GroupID)
	c.Kafka.EnsureTopics = getEnvAsBool("KAFKA_ENSURE_TOPICS", c.Kafka.EnsureTopics)
	c.Kafka.Partitions = getEnvAsInt("KAFKA_PARTITIONS", c.Kafka.Partitions)
	c.Kafka.ReplicationFactor = getEnvAsInt("KAFKA_REPLICATION_FACTOR", c.Kafka.ReplicationFactor)

	c.Streams.Standard = getEnvOrDefault("STREAM_STANDARD", c.Streams.Standard)
	c.Streams.Urgent = getEnvOrDefault("STREAM_URGENT", c.Streams.Urgent)
	c.Streams.DeadLetter = getEnvOrDefault("STREAM_DEAD_LETTER", c.Streams.DeadLetter)

	c.Generator.Interval = getEnvAsDuration("GENERATOR_INTERVAL", c.Generator.Interval)
	c.Pipeline.MarkupFactor = getEnvAsFloat("MARKUP_FACTOR", c.Pipeline.MarkupFactor)
	c.Pipeline.BatchPriority = getEnvOrDefault("BATCH_PRIORITY", c.Pipeline.BatchPriority)
	c.Pipeline.MaxBatch = getEnvAsInt("MAX_BATCH", c.Pipeline.MaxBatch)

	c.Store.Backend = getEnvOrDefault("STORE_BACKEND", c.Store.Backend)
	c.Store.PebbleDir = getEnvOrDefault("PEBBLE_DIR", c.Store.PebbleDir)
	c.Store.BadgerDir = getEnvOrDefault("BADGER_DIR", c.Store.BadgerDir)
	c.Store.PostgresDSN = getEnvOrDefault("POSTGRES_DSN", c.Store.PostgresDSN)
	c.Store.RedisAddr = getEnvOrDefault("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.SnapshotDir = getEnvOrDefault("SNAPSHOT_DIR", c.Store.SnapshotDir)
	c.Store.RestoreSnapshot = getEnvOrDefault("RESTORE_SNAPSHOT", c.Store.RestoreSnapshot)

	c.DeadLetter.Publish = getEnvAsBool("DEAD_LETTER_PUBLISH", c.DeadLetter.Publish)
	c.DeadLetter.LogFile = getEnvOrDefault("DEAD_LETTER_LOG_FILE", c.DeadLetter.LogFile)

	c.Breaker.Enabled = getEnvAsBool("BREAKER_ENABLED", c.Breaker.Enabled)

	c.HTTP.Addr = getEnvOrDefault("HTTP_ADDR", c.HTTP.Addr)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Development = getEnvAsBool("LOG_DEVELOPMENT", c.Log.Development)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Transport {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: kafka.brokers is empty", ErrInvalid)
		}
		if c.Kafka.Client != "segmentio" && c.Kafka.Client != "confluent" {
			return fmt.Errorf("%w: kafka.client %q", ErrInvalid, c.Kafka.Client)
		}
	case "memory":
	default:
		return fmt.Errorf("%w: transport %q", ErrInvalid, c.Transport)
	}

	s := c.Streams
	if s.Standard == "" || s.Urgent == "" || s.DeadLetter == "" {
		return fmt.Errorf("%w: stream names must be set", ErrInvalid)
	}
	if s.Standard == s.Urgent || s.Standard == s.DeadLetter || s.Urgent == s.DeadLetter {
		return fmt.Errorf("%w: stream names must be distinct", ErrInvalid)
	}
	if c.Generator.Interval < 0 {
		return fmt.Errorf("%w: generator.interval must not be negative", ErrInvalid)
	}
	if !(c.Pipeline.MarkupFactor > 0) {
		return fmt.Errorf("%w: pipeline.markup_factor must be positive", ErrInvalid)
	}
	if _, err := model.ParsePriority(c.Pipeline.BatchPriority); err != nil {
		return fmt.Errorf("%w: pipeline.batch_priority: %v", ErrInvalid, err)
	}
	if c.Pipeline.MaxBatch <= 0 {
		return fmt.Errorf("%w: pipeline.max_batch must be positive", ErrInvalid)
	}
	switch c.Store.Backend {
	case "memory", "pebble", "badger":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("%w: store.postgres_dsn is empty", ErrInvalid)
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redis_addr is empty", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: store.backend %q", ErrInvalid, c.Store.Backend)
	}
	if c.Store.RestoreSnapshot != "" && c.Store.SnapshotDir == "" {
		return fmt.Errorf("%w: store.restore_snapshot needs store.snapshot_dir", ErrInvalid)
	}
	if c.Breaker.Enabled && (c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1) {
		return fmt.Errorf("%w: breaker.failure_ratio must be in (0,1]", ErrInvalid)
	}
	return nil
}

// BatchPriority returns the validated batch priority.
func (c *Config) BatchPriority() model.Priority {
	p, _ := model.ParsePriority(c.Pipeline.BatchPriority)
	return p
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnvOrDefault(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnvOrDefault(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnvOrDefault(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnvOrDefault(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
