package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// OrchestratorConfig is the root configuration loaded from
// orchestrator.yaml.
type OrchestratorConfig struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Breaker     BreakerConfig     `mapstructure:"circuit_breaker"`
	FanOut      FanOutConfig      `mapstructure:"fanout"`
	Revise      ReviseConfig      `mapstructure:"revise"`
	Quality     QualityConfig     `mapstructure:"quality"`
	Degradation DegradationConfig `mapstructure:"degradation"`
	Events      EventsConfig      `mapstructure:"events"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
}

type ServerConfig struct {
	HTTPPort    int `mapstructure:"http_port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type ProvidersConfig struct {
	LLMTimeoutMs    int                      `mapstructure:"llm_timeout_ms"`
	SearchTimeoutMs int                      `mapstructure:"search_timeout_ms"`
	RateLimitsPath  string                   `mapstructure:"rate_limits_path"`
	Endpoints       []ProviderEndpointConfig `mapstructure:"endpoints"`
}

// ProviderEndpointConfig declares one agent-service endpoint. Lower
// priority wins; ties keep declaration order.
type ProviderEndpointConfig struct {
	ID         string `mapstructure:"id"`
	URL        string `mapstructure:"url"`
	Capability string `mapstructure:"capability"`
	Priority   int    `mapstructure:"priority"`
}

type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownMs       int `mapstructure:"cooldown_ms"`
}

type FanOutConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

type ReviseConfig struct {
	MaxIterations int     `mapstructure:"max_iterations"`
	Threshold     float64 `mapstructure:"threshold"`
}

type QualityConfig struct {
	Weights map[string]float64 `mapstructure:"weights"`
}

type DegradationConfig struct {
	FailureRatioThreshold float64 `mapstructure:"failure_ratio_threshold"`
}

type EventsConfig struct {
	RingCapacity int         `mapstructure:"ring_capacity"`
	Redis        RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
}

type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConnections  int    `mapstructure:"max_connections"`
	IdleConnections int    `mapstructure:"idle_connections"`
}

type ArtifactsConfig struct {
	Root string `mapstructure:"root"`
}

// Load reads orchestrator.yaml from CONFIG_PATH or the default location
// and applies defaults for anything unset.
func Load() (*OrchestratorConfig, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/orchestrator.yaml"
	}
	return LoadFile(cfgPath)
}

// LoadFile reads a specific configuration file.
func LoadFile(path string) (*OrchestratorConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		// Missing file runs on defaults; a malformed one is fatal
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg OrchestratorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8081)
	v.SetDefault("server.metrics_port", 2112)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("tracing.service_name", "inkwell-orchestrator")
	v.SetDefault("providers.llm_timeout_ms", 30000)
	v.SetDefault("providers.search_timeout_ms", 15000)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.cooldown_ms", 60000)
	v.SetDefault("fanout.max_concurrency", 3)
	v.SetDefault("revise.max_iterations", 3)
	v.SetDefault("revise.threshold", 0.8)
	v.SetDefault("degradation.failure_ratio_threshold", 0.5)
	v.SetDefault("events.ring_capacity", 256)
	v.SetDefault("events.redis.stream_max_len", 1000)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("artifacts.root", "/var/lib/inkwell/artifacts")
}

// Validate rejects configurations that would misbehave at runtime.
func Validate(cfg *OrchestratorConfig) error {
	if cfg.Revise.MaxIterations < 1 {
		return fmt.Errorf("revise.max_iterations must be at least 1, got %d", cfg.Revise.MaxIterations)
	}
	if cfg.Revise.Threshold < 0 || cfg.Revise.Threshold > 1 {
		return fmt.Errorf("revise.threshold must be within [0,1], got %v", cfg.Revise.Threshold)
	}
	if cfg.Degradation.FailureRatioThreshold < 0 || cfg.Degradation.FailureRatioThreshold > 1 {
		return fmt.Errorf("degradation.failure_ratio_threshold must be within [0,1], got %v", cfg.Degradation.FailureRatioThreshold)
	}
	if cfg.FanOut.MaxConcurrency < 1 {
		return fmt.Errorf("fanout.max_concurrency must be at least 1, got %d", cfg.FanOut.MaxConcurrency)
	}
	if cfg.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1, got %d", cfg.Breaker.FailureThreshold)
	}
	return nil
}

// MetricsPort returns the metrics port, with METRICS_PORT taking
// precedence over the config file.
func (c *OrchestratorConfig) MetricsPort() int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		var v int
		_, _ = fmt.Sscanf(p, "%d", &v)
		if v > 0 {
			return v
		}
	}
	return c.Server.MetricsPort
}
