// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Scorer, Intake, Gateway, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Scorer    ScorerConfig    `yaml:"scorer"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Intake    IntakeConfig    `yaml:"intake"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the scorer service.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CompletionBatches string `yaml:"completionBatches"`
	ScoreEvents       string `yaml:"scoreEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// ScorerConfig holds the scorer service's RPC port and the engine definitions
// it hosts. Every model name routes to its own in-memory engine.
type ScorerConfig struct {
	RPCPort int           `yaml:"rpcPort"`
	Models  []ModelConfig `yaml:"models"`
}

// ModelConfig defines one scoring engine: how completions are reduced to
// units, which n-gram lengths are tracked, which frequency strategy backs the
// store, and where the verdict boundaries sit.
type ModelConfig struct {
	Name                 string  `yaml:"name"`
	Strategy             string  `yaml:"strategy"`   // "window" or "lossy"
	UnitScheme           string  `yaml:"unitScheme"` // "words" or "tokens"
	Preprocess           string  `yaml:"preprocess"` // characters stripped before splitting
	WordLimit            int     `yaml:"wordLimit"`
	NMin                 int     `yaml:"nMin"`
	NMax                 int     `yaml:"nMax"`
	SignificanceFactor   float64 `yaml:"significanceFactor"`
	Boundary             float64 `yaml:"boundary"`
	PartialRatioBoundary int     `yaml:"partialRatioBoundary"`
	Capacity             int     `yaml:"capacity"`  // window strategy: n-grams retained
	Support              float64 `yaml:"support"`   // lossy strategy
	ErrorRate            float64 `yaml:"errorRate"` // lossy strategy
	VocabPath            string  `yaml:"vocabPath"` // tokens scheme; empty uses the embedded vocabulary
}

// ArchiveConfig controls the batched Postgres writer for scored-event records.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	FlushTimeout  time.Duration `yaml:"flushTimeout"`
}

// IntakeConfig holds the intake service port and batch acceptance limits.
type IntakeConfig struct {
	Port               int `yaml:"port"`
	MaxCompletions     int `yaml:"maxCompletions"`
	MaxCompletionBytes int `yaml:"maxCompletionBytes"`
}

// AnalyticsConfig holds the analytics service port and snapshot cadence.
type AnalyticsConfig struct {
	Port             int           `yaml:"port"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	TopPhrases       int           `yaml:"topPhrases"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls request tracing on the scoring path.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// GatewayConfig holds the API gateway port and upstream service URLs.
type GatewayConfig struct {
	Port      int    `yaml:"port"`
	ScorerURL string `yaml:"scorerUrl"`
	IntakeURL string `yaml:"intakeUrl"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Model returns the named model configuration, or false when it is not
// declared.
func (c *Config) Model(name string) (ModelConfig, bool) {
	for _, m := range c.Scorer.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// DefaultModel returns the baseline engine definition: the exact windowed
// strategy over lowercase words, with the boundaries the scoring deployment
// has always shipped with.
func DefaultModel() ModelConfig {
	return ModelConfig{
		Name:                 "default",
		Strategy:             "window",
		UnitScheme:           "words",
		Preprocess:           `[^(\w|\s)]`,
		WordLimit:            2000,
		NMin:                 5,
		NMax:                 14,
		SignificanceFactor:   1.3,
		Boundary:             1000,
		PartialRatioBoundary: 95,
		Capacity:             1_000_000,
		Support:              0.01,
		ErrorRate:            5e-6,
	}
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "phrasewatch",
			User:            "phrasewatch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "phrasewatch-group",
			Topics: KafkaTopics{
				CompletionBatches: "completion-batches",
				ScoreEvents:       "score-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Scorer: ScorerConfig{
			RPCPort: 7090,
			Models:  []ModelConfig{DefaultModel()},
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			BatchSize:     64,
			FlushInterval: 5 * time.Second,
			FlushTimeout:  3 * time.Second,
		},
		Intake: IntakeConfig{
			Port:               8081,
			MaxCompletions:     256,
			MaxCompletionBytes: 65536,
		},
		Analytics: AnalyticsConfig{
			Port:             8083,
			SnapshotInterval: 60 * time.Second,
			TopPhrases:       20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Gateway: GatewayConfig{
			Port:      8082,
			ScorerURL: "http://localhost:8080",
			IntakeURL: "http://localhost:8081",
		},
	}
}

// applyEnvOverrides reads PW_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PW_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PW_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("PW_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("PW_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PW_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PW_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("PW_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PW_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PW_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PW_SCORER_RPC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Scorer.RPCPort = port
		}
	}
	if v := os.Getenv("PW_INTAKE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Intake.Port = port
		}
	}
	if v := os.Getenv("PW_ANALYTICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Analytics.Port = port
		}
	}
	if v := os.Getenv("PW_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("PW_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("PW_GATEWAY_SCORER_URL"); v != "" {
		cfg.Gateway.ScorerURL = v
	}
	if v := os.Getenv("PW_GATEWAY_INTAKE_URL"); v != "" {
		cfg.Gateway.IntakeURL = v
	}
}
