package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Anthropic AnthropicConfig `koanf:"anthropic"`
	Microblog MicroblogConfig `koanf:"microblog"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Path is the SQLite file location; ":memory:" is valid for tests.
	Path string `koanf:"path"`
}

type RedisConfig struct {
	// URL enables the brief cache when non-empty.
	URL      string        `koanf:"url"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	BriefTTL time.Duration `koanf:"brief_ttl"`
}

type AnthropicConfig struct {
	// APIKey is required to run the analyzer; without it the
	// coordinator refuses to start a crawl.
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

type MicroblogConfig struct {
	// BearerToken gates microblog sources; absent means they are
	// silently skipped.
	BearerToken string        `koanf:"bearer_token"`
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxRetries  int           `koanf:"max_retries"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
	MaxBackoff  time.Duration `koanf:"max_backoff"`
	QueryDelay  time.Duration `koanf:"query_delay"`
}

type PipelineConfig struct {
	FetchConcurrency    int           `koanf:"fetch_concurrency"`
	AnalysisConcurrency int           `koanf:"analysis_concurrency"`
	FetchTimeout        time.Duration `koanf:"fetch_timeout"`
}

type TelemetryConfig struct {
	Enabled      bool          `koanf:"enabled"`
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	SamplingRate float64       `koanf:"sampling_rate"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
}

func defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "regradar.db",
		},
		Redis: RedisConfig{
			BriefTTL: 60 * time.Second,
		},
		Anthropic: AnthropicConfig{
			Model:   "claude-sonnet-4-20250514",
			Timeout: 60 * time.Second,
		},
		Microblog: MicroblogConfig{
			BaseURL:     "https://api.x.com/2",
			Timeout:     15 * time.Second,
			MaxRetries:  4,
			BaseBackoff: 1500 * time.Millisecond,
			MaxBackoff:  30 * time.Second,
			QueryDelay:  1500 * time.Millisecond,
		},
		Pipeline: PipelineConfig{
			FetchConcurrency:    5,
			AnalysisConcurrency: 12,
			FetchTimeout:        30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			SamplingRate: 0.1,
			BatchTimeout: 5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file
// and REGRADAR_-prefixed environment variables, in that order.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = "configs/config.yaml"
	}
	// Config file is optional.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("REGRADAR_", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.normalize()
	return &cfg, nil
}

var envSections = map[string]bool{
	"server": true, "database": true, "redis": true, "anthropic": true,
	"microblog": true, "pipeline": true, "telemetry": true,
}

// envKey maps REGRADAR_SECTION_LEAF_NAME to "section.leaf_name". Only
// the section separator becomes a dot; leaf keys keep their
// underscores (api_key, read_timeout).
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, "REGRADAR_"))
	if i := strings.IndexByte(key, '_'); i > 0 && envSections[key[:i]] {
		return key[:i] + "." + key[i+1:]
	}
	return key
}

// normalize clamps knobs to their documented bounds.
func (c *Config) normalize() {
	if c.Pipeline.AnalysisConcurrency < 10 {
		c.Pipeline.AnalysisConcurrency = 10
	}
	if c.Pipeline.FetchConcurrency < 1 {
		c.Pipeline.FetchConcurrency = 5
	}
	if c.Microblog.MaxRetries < 0 {
		c.Microblog.MaxRetries = 4
	}
	if c.Database.Path == "" {
		c.Database.Path = "regradar.db"
	}
}
