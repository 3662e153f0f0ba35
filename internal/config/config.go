package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Automation AutomationConfig `mapstructure:"automation"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Push       PushConfig       `mapstructure:"push"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	MDNS       MDNSConfig       `mapstructure:"mdns"`
}

type AppConfig struct {
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	AgentID   string `mapstructure:"agent_id"`
}

type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	ContextCacheTTL time.Duration `mapstructure:"context_cache_ttl"`
}

type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	EventTopic     string        `mapstructure:"event_topic"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type QueueConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Concurrency     int           `mapstructure:"concurrency"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
}

type AutomationConfig struct {
	ActionTimeout        time.Duration `mapstructure:"action_timeout"`
	MaxRetries           int           `mapstructure:"max_retries"`
	InitialBackoff       time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
	TemporalQueryTimeout time.Duration `mapstructure:"temporal_query_timeout"`
	TemporalMaxEvents    int           `mapstructure:"temporal_max_events"`
	RulesFile            string        `mapstructure:"rules_file"`
	DefaultTimeZone      string        `mapstructure:"default_timezone"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type PushConfig struct {
	GatewayURL string        `mapstructure:"gateway_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type MDNSConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	LocalName string `mapstructure:"local_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("app.agent_id", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.context_cache_ttl", 5*time.Minute)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "automation-engine")
	v.SetDefault("mqtt.event_topic", "events/+/standardized")
	v.SetDefault("mqtt.publish_timeout", 5*time.Second)

	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.dispatch_timeout", 2*time.Minute)

	v.SetDefault("automation.action_timeout", 30*time.Second)
	v.SetDefault("automation.max_retries", 3)
	v.SetDefault("automation.initial_backoff", 500*time.Millisecond)
	v.SetDefault("automation.max_backoff", 10*time.Second)
	v.SetDefault("automation.temporal_query_timeout", 10*time.Second)
	v.SetDefault("automation.temporal_max_events", 10000)
	v.SetDefault("automation.rules_file", "")
	v.SetDefault("automation.default_timezone", "UTC")
	v.SetDefault("automation.shutdown_timeout", 30*time.Second)

	v.SetDefault("jwt.secret", "")

	v.SetDefault("push.gateway_url", "")
	v.SetDefault("push.token", "")
	v.SetDefault("push.timeout", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.local_name", "automation-engine.local")
}

// LoadConfig reads configuration from config.yaml, .env and environment
// variables. Environment variables win; "database.url" is DATABASE_URL.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Automation.MaxRetries < 0 {
		errs = append(errs, errors.New("automation.max_retries must not be negative"))
	}
	if c.Automation.TemporalMaxEvents < 0 {
		errs = append(errs, errors.New("automation.temporal_max_events must not be negative"))
	}
	durations := map[string]time.Duration{
		"automation.action_timeout":         c.Automation.ActionTimeout,
		"automation.initial_backoff":        c.Automation.InitialBackoff,
		"automation.max_backoff":            c.Automation.MaxBackoff,
		"automation.temporal_query_timeout": c.Automation.TemporalQueryTimeout,
		"automation.shutdown_timeout":       c.Automation.ShutdownTimeout,
		"redis.context_cache_ttl":           c.Redis.ContextCacheTTL,
		"mqtt.publish_timeout":              c.MQTT.PublishTimeout,
		"queue.dispatch_timeout":            c.Queue.DispatchTimeout,
		"push.timeout":                      c.Push.Timeout,
	}
	for key, d := range durations {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}
	if c.Queue.Concurrency <= 0 {
		errs = append(errs, errors.New("queue.concurrency must be positive"))
	}
	return errors.Join(errs...)
}
