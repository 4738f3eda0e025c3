// Package config loads relay configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration shared by the relay binaries.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Server        ServerConfig        `yaml:"server"`
	Relay         RelayConfig         `yaml:"relay"`
	STT           STTConfig           `yaml:"stt"`
	Fanout        FanoutConfig        `yaml:"fanout"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env"`
}

// ServerConfig configures the ingestion server.
type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr"`
	GRPCPort    string   `yaml:"grpc_port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// RelayConfig configures the producing client pipeline.
type RelayConfig struct {
	IngestURL      string        `yaml:"ingest_url"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	IncludePartial bool          `yaml:"include_partial"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
	QueueSize      int           `yaml:"queue_size"`
}

// STTConfig selects and configures the transcription source.
type STTConfig struct {
	Provider       string        `yaml:"provider"` // mock, google
	LanguageCode   string        `yaml:"language_code"`
	SampleRateHz   int           `yaml:"sample_rate_hz"`
	InterimResults bool          `yaml:"interim_results"`
	AudioEncoding  string        `yaml:"audio_encoding"`
	AudioFile      string        `yaml:"audio_file"` // empty reads stdin
	FrameInterval  time.Duration `yaml:"frame_interval"`
}

// FanoutConfig bounds per-subscriber resources.
type FanoutConfig struct {
	SendQueue    int           `yaml:"send_queue"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig configures the ingested-message mirror.
type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Principal string   `yaml:"principal"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "speech-relay",
		},
		Server: ServerConfig{
			HTTPAddr:    ":5000",
			GRPCPort:    "50051",
			CORSOrigins: []string{"*"},
		},
		Relay: RelayConfig{
			IngestURL:      "http://localhost:5000/api/stt",
			FlushInterval:  5 * time.Second,
			RequestTimeout: 5 * time.Second,
			MaxRetries:     1,
			RetryBackoff:   time.Second,
			IncludePartial: false,
			StatsInterval:  60 * time.Second,
			QueueSize:      256,
		},
		STT: STTConfig{
			Provider:       "mock",
			LanguageCode:   "ko-KR",
			SampleRateHz:   16000,
			InterimResults: true,
			AudioEncoding:  "LINEAR16",
			FrameInterval:  100 * time.Millisecond,
		},
		Fanout: FanoutConfig{
			SendQueue:    64,
			WriteTimeout: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "stt.messages",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsAddr: ":9091",
		},
	}
}

// Load returns the defaults overridden by environment variables.
func Load() *Config {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies environment
// variables. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Service.Name = envOrDefault("SERVICE_NAME", cfg.Service.Name)
	cfg.Service.Env = envOrDefault("ENV", cfg.Service.Env)

	cfg.Server.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.Server.HTTPAddr)
	cfg.Server.GRPCPort = envOrDefault("GRPC_PORT", cfg.Server.GRPCPort)
	cfg.Server.CORSOrigins = envOrDefaultList("CORS_ALLOWED_ORIGINS", cfg.Server.CORSOrigins)

	cfg.Relay.IngestURL = envOrDefault("INGEST_URL", cfg.Relay.IngestURL)
	cfg.Relay.FlushInterval = envOrDefaultDuration("FLUSH_INTERVAL", cfg.Relay.FlushInterval)
	cfg.Relay.RequestTimeout = envOrDefaultDuration("REQUEST_TIMEOUT", cfg.Relay.RequestTimeout)
	cfg.Relay.MaxRetries = envOrDefaultInt("MAX_RETRIES", cfg.Relay.MaxRetries)
	cfg.Relay.RetryBackoff = envOrDefaultDuration("RETRY_BACKOFF", cfg.Relay.RetryBackoff)
	cfg.Relay.IncludePartial = envOrDefaultBool("FLUSH_INCLUDE_PARTIAL", cfg.Relay.IncludePartial)
	cfg.Relay.StatsInterval = envOrDefaultDuration("STATS_INTERVAL", cfg.Relay.StatsInterval)
	cfg.Relay.QueueSize = envOrDefaultInt("SEGMENT_QUEUE_SIZE", cfg.Relay.QueueSize)

	cfg.STT.Provider = envOrDefault("STT_PROVIDER", cfg.STT.Provider)
	cfg.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", cfg.STT.LanguageCode)
	cfg.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", cfg.STT.SampleRateHz)
	cfg.STT.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", cfg.STT.InterimResults)
	cfg.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", cfg.STT.AudioEncoding)
	cfg.STT.AudioFile = envOrDefault("STT_AUDIO_FILE", cfg.STT.AudioFile)
	cfg.STT.FrameInterval = envOrDefaultDuration("STT_FRAME_INTERVAL", cfg.STT.FrameInterval)

	cfg.Fanout.SendQueue = envOrDefaultInt("FANOUT_SEND_QUEUE", cfg.Fanout.SendQueue)
	cfg.Fanout.WriteTimeout = envOrDefaultDuration("FANOUT_WRITE_TIMEOUT", cfg.Fanout.WriteTimeout)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = envOrDefault("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Name
	}

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
	cfg.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", cfg.Observability.MetricsAddr)
}

// WorstCaseSendLatency is the longest a single send-with-retry cycle can block
// the flush scheduler.
func (r RelayConfig) WorstCaseSendLatency() time.Duration {
	attempts := time.Duration(r.MaxRetries + 1)
	return attempts*r.RequestTimeout + time.Duration(r.MaxRetries)*r.RetryBackoff
}

// Validate rejects relay settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Relay.IngestURL == "" {
		errs = append(errs, errors.New("ingest url must not be empty"))
	}
	if c.Relay.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("flush interval must be positive, got %v", c.Relay.FlushInterval))
	}
	if c.Relay.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %v", c.Relay.RequestTimeout))
	}
	if c.Relay.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.Relay.MaxRetries))
	}
	if c.Relay.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry backoff must not be negative, got %v", c.Relay.RetryBackoff))
	}
	if c.Relay.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("segment queue size must be positive, got %d", c.Relay.QueueSize))
	}
	switch c.STT.Provider {
	case "mock", "google":
	default:
		errs = append(errs, fmt.Errorf("unknown stt provider %q", c.STT.Provider))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
