package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Fallback   FallbackConfig   `yaml:"fallback"`
	Guard      GuardConfig      `yaml:"guard"`
	Policy     PolicyConfig     `yaml:"policy"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Usage      UsageConfig      `yaml:"usage"`
	Routing    RoutingConfig    `yaml:"routing"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	KeyEnv           string        `yaml:"key_env"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Name, max(d.MaxOpenConns, 1))
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	LogDir      string `yaml:"log_dir"`
	LogMaxSize  int    `yaml:"log_max_size_mb"`
	LogBackups  int    `yaml:"log_max_backups"`
	LogMaxAge   int    `yaml:"log_max_age_days"`
	MetricsPort int    `yaml:"metrics_port"`
}

// ClassifierConfig holds the fixed generation parameters and the bound on
// each backend call.
type ClassifierConfig struct {
	BackendTimeout time.Duration `yaml:"backend_timeout"`
	TopP           float64       `yaml:"top_p"`
	RepeatPenalty  float64       `yaml:"repeat_penalty"`

	// PromptFile replaces the built-in instruction template; it must
	// contain the {message} placeholder. Read once at startup.
	PromptFile string `yaml:"prompt_file"`
}

type FallbackConfig struct {
	Locale          string `yaml:"locale"`
	RulepackDir     string `yaml:"rulepack_dir"`
	FixedConfidence bool   `yaml:"fixed_confidence"`
}

type GuardConfig struct {
	Enabled        bool    `yaml:"enabled"`
	BlockThreshold float64 `yaml:"block_threshold"`
}

type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type RateLimitConfig struct {
	Enabled      bool `yaml:"enabled"`
	AnonymousRPM int  `yaml:"anonymous_rpm"`
	DefaultRPM   int  `yaml:"default_rpm"`
}

type UsageConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RecentLimit  int           `yaml:"recent_limit"`
}

type RoutingConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			KeyEnv:           "prod",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "kinsafe",
			User:            "kinsafe",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			LogMaxSize:  100,
			LogBackups:  5,
			LogMaxAge:   14,
			MetricsPort: 9090,
		},
		Classifier: ClassifierConfig{
			BackendTimeout: 10 * time.Second,
			TopP:           0.9,
			RepeatPenalty:  1.1,
		},
		Fallback: FallbackConfig{
			Locale: "en",
		},
		Guard: GuardConfig{
			Enabled:        true,
			BlockThreshold: 0.9,
		},
		Policy: PolicyConfig{
			Enabled:           true,
			EvaluationTimeout: 100 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			AnonymousRPM: 20,
			DefaultRPM:   60,
		},
		Usage: UsageConfig{
			QueueSize:    1024,
			WriteTimeout: 2 * time.Second,
			RecentLimit:  50,
		},
		Routing: RoutingConfig{
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryInterval: 15 * time.Second,
			},
		},
	}
}
