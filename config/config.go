package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the answering service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Engine    EngineConfig    `mapstructure:"engine"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Listen   string `mapstructure:"listen"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// EngineConfig contains orchestration loop settings.
type EngineConfig struct {
	MaxIterations       int           `mapstructure:"max_iterations"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	ToolTimeout         time.Duration `mapstructure:"tool_timeout"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	SchemaPath          string        `mapstructure:"schema_path"`
	SchemaRefreshCron   string        `mapstructure:"schema_refresh_cron"`
}

// LLMConfig contains model provider settings. An empty APIKey disables the
// model and the engine runs on its rule-based builders.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DatabasesConfig contains backend connection settings. Each backend is
// optional; unset backends are simply unavailable to the planner.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j"`
	Weaviate WeaviateConfig `mapstructure:"weaviate"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains relational engine settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	if p.Host == "" || p.DBName == "" {
		return ""
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// Neo4jConfig contains graph engine settings.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// WeaviateConfig contains vector engine settings.
type WeaviateConfig struct {
	Host   string `mapstructure:"host"`
	Scheme string `mapstructure:"scheme"`
}

// RedisConfig contains session history store settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Addr renders host:port, empty when unconfigured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", r.Host, port)
}

// SessionsConfig contains server-side session settings.
type SessionsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("revlens")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("REVLENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("general.listen", ":8080")
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")

	viper.SetDefault("engine.max_iterations", 3)
	viper.SetDefault("engine.confidence_threshold", 0.7)
	viper.SetDefault("engine.tool_timeout", "15s")
	viper.SetDefault("engine.request_timeout", "2m")
	viper.SetDefault("engine.schema_path", "./data/schema_summary.json")
	viper.SetDefault("engine.schema_refresh_cron", "@hourly")

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.timeout", "60s")

	viper.SetDefault("databases.postgres.sslmode", "disable")
	viper.SetDefault("databases.weaviate.scheme", "http")
	viper.SetDefault("databases.redis.db", 0)
	viper.SetDefault("databases.redis.ttl", "24h")

	viper.SetDefault("sessions.ttl", "30m")

	viper.SetDefault("telemetry.enabled", true)
}

// overrideFromEnv maps well-known environment variables onto config keys.
func overrideFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.api_key", apiKey)
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		viper.Set("databases.postgres.url", dsn)
	}
}

func validateConfig(config *Config) error {
	if config.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be at least 1")
	}
	if config.Engine.ConfidenceThreshold <= 0 || config.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("engine.confidence_threshold must be in (0, 1]")
	}
	if config.Engine.ToolTimeout <= 0 {
		return fmt.Errorf("engine.tool_timeout must be positive")
	}
	if config.Engine.SchemaPath == "" {
		return fmt.Errorf("engine.schema_path is required")
	}
	return nil
}
