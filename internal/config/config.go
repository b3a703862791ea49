package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment    string               `mapstructure:"environment"`
	LogLevel       string               `mapstructure:"log_level"`
	Server         ServerConfig         `mapstructure:"server"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Protocols      ProtocolsConfig      `mapstructure:"protocols"`
	Oracle         OracleConfig         `mapstructure:"oracle"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Updater        UpdaterConfig        `mapstructure:"updater"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ProtocolsConfig struct {
	VelarBaseURL string `mapstructure:"velar_base_url"`
	AlexBaseURL  string `mapstructure:"alex_base_url"`
	Timeout      int    `mapstructure:"timeout"` // seconds
}

type OracleConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

type CacheConfig struct {
	TTL            string `mapstructure:"ttl"`
	StaleThreshold string `mapstructure:"stale_threshold"`
	KeyPrefix      string `mapstructure:"key_prefix"`
}

type RecommendationConfig struct {
	AIEnabled bool   `mapstructure:"ai_enabled"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key" json:"-" yaml:"-"`
	Model     string `mapstructure:"model"`
	Timeout   int    `mapstructure:"timeout"` // seconds
}

type UpdaterConfig struct {
	Interval string  `mapstructure:"interval"`
	MaxAPY   float64 `mapstructure:"max_apy"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("recommendation.api_key", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind OPENAI_API_KEY environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	ttl, err := time.ParseDuration(config.Cache.TTL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache ttl: %w", err)
	}
	stale, err := time.ParseDuration(config.Cache.StaleThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid cache stale threshold: %w", err)
	}
	if stale >= ttl {
		return nil, fmt.Errorf("cache stale threshold (%s) must be smaller than ttl (%s)", stale, ttl)
	}
	if _, err := time.ParseDuration(config.Updater.Interval); err != nil {
		return nil, fmt.Errorf("invalid updater interval: %w", err)
	}
	if config.Recommendation.AIEnabled && config.Recommendation.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required when recommendation.ai_enabled is true")
	}

	return &config, nil
}

// CacheTTL returns the parsed hard TTL. Load guarantees it parses.
func (c *CacheConfig) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// StaleAfter returns the parsed staleness threshold. Load guarantees it parses.
func (c *CacheConfig) StaleAfter() time.Duration {
	d, _ := time.ParseDuration(c.StaleThreshold)
	return d
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Protocol vendor APIs
	viper.SetDefault("protocols.velar_base_url", "https://api.velar.co")
	viper.SetDefault("protocols.alex_base_url", "https://api.alexgo.io")
	viper.SetDefault("protocols.timeout", 15)

	// Price oracle
	viper.SetDefault("oracle.base_url", "https://api.coingecko.com/api/v3")
	viper.SetDefault("oracle.timeout", 10)

	// Cache
	viper.SetDefault("cache.ttl", "5m")
	viper.SetDefault("cache.stale_threshold", "2m")
	viper.SetDefault("cache.key_prefix", "yieldr:")

	// Recommendation engine
	viper.SetDefault("recommendation.ai_enabled", false)
	viper.SetDefault("recommendation.base_url", "")
	viper.SetDefault("recommendation.api_key", "")
	viper.SetDefault("recommendation.model", "gpt-4o-mini")
	viper.SetDefault("recommendation.timeout", 20)

	// Background updater
	viper.SetDefault("updater.interval", "3m")
	viper.SetDefault("updater.max_apy", 1000.0)
}
