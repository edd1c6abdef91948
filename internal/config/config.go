package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sabarim/kitectl/internal/auth"
	"github.com/sabarim/kitectl/internal/logger"
	"github.com/sabarim/kitectl/internal/transport"
)

// Config defines the application configuration structure
type Config struct {
	Auth       AuthConfig       `mapstructure:"auth"`
	API        APIConfig        `mapstructure:"api"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Historical HistoricalConfig `mapstructure:"historical"`
	Log        LogConfig        `mapstructure:"log"`

	// Path is the file the configuration was loaded from and the session is saved to.
	Path string `mapstructure:"-"`
}

// AuthConfig defines authentication configuration
type AuthConfig struct {
	ApiKey       string `mapstructure:"api_key"`
	ApiSecret    string `mapstructure:"api_secret"`
	AccessToken  string `mapstructure:"access_token"`
	TokenExpiry  string `mapstructure:"token_expiry"`
	ExpiryPolicy string `mapstructure:"expiry_policy"` // "rolling" or "daily_reset"
}

// APIConfig defines the upstream endpoint
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// HTTPConfig defines request timeouts and retries
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryWait    time.Duration `mapstructure:"retry_wait"`
	MaxRetryWait time.Duration `mapstructure:"max_retry_wait"`
}

// RateLimitConfig defines the request throttle
type RateLimitConfig struct {
	Capacity  int           `mapstructure:"capacity"`
	PerSecond float64       `mapstructure:"per_second"`
	MaxWait   time.Duration `mapstructure:"max_wait"`
}

// CacheConfig defines where instrument lists are cached
type CacheConfig struct {
	Dir string        `mapstructure:"dir"`
	TTL time.Duration `mapstructure:"ttl"`
}

// HistoricalConfig defines the historical data download configuration
type HistoricalConfig struct {
	OutputDir      string `mapstructure:"output_dir"`
	ParquetEnabled bool   `mapstructure:"parquet_enabled"`
	ParquetDir     string `mapstructure:"parquet_dir"`
	Interval       string `mapstructure:"interval"`
	DaysToFetch    int    `mapstructure:"days_to_fetch"`
}

// LogConfig defines logging output
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	File   string `mapstructure:"file"`
}

var envBindings = map[string]string{
	"auth.api_key":               "KITE_API_KEY",
	"auth.api_secret":            "KITE_API_SECRET",
	"auth.access_token":          "KITE_ACCESS_TOKEN",
	"auth.token_expiry":          "KITE_TOKEN_EXPIRY",
	"auth.expiry_policy":         "KITE_EXPIRY_POLICY",
	"api.base_url":               "KITE_BASE_URL",
	"http.timeout":               "KITE_HTTP_TIMEOUT",
	"http.max_retries":           "KITE_MAX_RETRIES",
	"http.retry_wait":            "KITE_RETRY_WAIT",
	"http.max_retry_wait":        "KITE_MAX_RETRY_WAIT",
	"rate_limit.capacity":        "KITE_RATE_LIMIT_CAPACITY",
	"rate_limit.per_second":      "KITE_RATE_LIMIT_PER_SECOND",
	"rate_limit.max_wait":        "KITE_RATE_LIMIT_MAX_WAIT",
	"cache.dir":                  "KITE_CACHE_DIR",
	"cache.ttl":                  "KITE_CACHE_TTL",
	"historical.output_dir":      "KITE_HISTORICAL_OUTPUT_DIR",
	"historical.parquet_enabled": "KITE_HISTORICAL_PARQUET_ENABLED",
	"historical.parquet_dir":     "KITE_HISTORICAL_PARQUET_DIR",
	"historical.interval":        "KITE_HISTORICAL_INTERVAL",
	"historical.days_to_fetch":   "KITE_HISTORICAL_DAYS",
	"log.level":                  "KITE_LOG_LEVEL",
	"log.pretty":                 "KITE_LOG_PRETTY",
	"log.file":                   "KITE_LOG_FILE",
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "kitectl", "config.yaml")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment. Variables already set
// win, and a missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from file and overrides with environment variables
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("error binding %s: %w", env, err)
		}
	}

	// A missing file is normal before the first login; anything else is a real error.
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Zero is a meaningful value for these keys, so they default here rather than in applyDefaults.
	v.SetDefault("http.max_retries", 3)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.Path = path

	applyDefaults(&config)
	return config, nil
}

// applyDefaults sets default values for any config values not set from file or environment
func applyDefaults(config *Config) {
	if config.Auth.ExpiryPolicy == "" {
		config.Auth.ExpiryPolicy = "rolling"
	}

	if config.API.BaseURL == "" {
		config.API.BaseURL = transport.DefaultBaseURL
	}

	if config.HTTP.Timeout == 0 {
		config.HTTP.Timeout = 30 * time.Second
	}
	if config.HTTP.RetryWait == 0 {
		config.HTTP.RetryWait = 500 * time.Millisecond
	}
	if config.HTTP.MaxRetryWait == 0 {
		config.HTTP.MaxRetryWait = 10 * time.Second
	}

	if config.RateLimit.Capacity == 0 {
		config.RateLimit.Capacity = 3
	}
	if config.RateLimit.PerSecond == 0 {
		config.RateLimit.PerSecond = 3
	}
	if config.RateLimit.MaxWait == 0 {
		config.RateLimit.MaxWait = 30 * time.Second
	}

	if config.Cache.Dir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			config.Cache.Dir = filepath.Join(dir, "kitectl", "instruments")
		} else {
			config.Cache.Dir = "./instruments_cache"
		}
	}
	if config.Cache.TTL == 0 {
		config.Cache.TTL = 24 * time.Hour
	}

	if config.Historical.OutputDir == "" {
		config.Historical.OutputDir = "./historical_data"
	}
	if config.Historical.ParquetDir == "" {
		config.Historical.ParquetDir = "./parquet_data"
	}
	if config.Historical.Interval == "" {
		config.Historical.Interval = "minute"
	}
	if config.Historical.DaysToFetch == 0 {
		config.Historical.DaysToFetch = 30
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

// Credentials returns the app credentials.
func (c Config) Credentials() auth.Credentials {
	return auth.Credentials{APIKey: c.Auth.ApiKey, APISecret: c.Auth.ApiSecret}
}

// Session returns the persisted session; an unparsable expiry yields an invalid session.
func (c Config) Session() auth.Session {
	return auth.ParseSession(c.Auth.AccessToken, c.Auth.TokenExpiry)
}

// ExpiryPolicy resolves auth.expiry_policy.
func (c Config) ExpiryPolicy() (auth.ExpiryPolicy, error) {
	switch strings.ToLower(c.Auth.ExpiryPolicy) {
	case "", "rolling":
		return auth.Rolling(auth.DefaultSessionTTL), nil
	case "daily_reset":
		loc, err := time.LoadLocation("Asia/Kolkata")
		if err != nil {
			loc = time.FixedZone("IST", 5*3600+1800)
		}
		return auth.DailyReset(6, loc), nil
	default:
		return nil, fmt.Errorf("unknown auth.expiry_policy %q (want rolling or daily_reset)", c.Auth.ExpiryPolicy)
	}
}

// ExecutorOptions maps the HTTP and rate limit settings onto the transport.
func (c Config) ExecutorOptions() transport.Options {
	return transport.Options{
		BaseURL:       c.API.BaseURL,
		Timeout:       c.HTTP.Timeout,
		RateLimitWait: c.RateLimit.MaxWait,
		MaxRetries:    c.HTTP.MaxRetries,
		RetryWait:     c.HTTP.RetryWait,
		MaxRetryWait:  c.HTTP.MaxRetryWait,
		Secrets:       []string{c.Auth.ApiSecret},
	}
}

// RequestBudget is the longest one idempotent request can take through the executor: the
// limiter wait plus every attempt and the backoff before it.
func (c Config) RequestBudget() time.Duration {
	attempts := time.Duration(max(c.HTTP.MaxRetries, 0) + 1)
	return c.RateLimit.MaxWait + attempts*(c.HTTP.Timeout+c.HTTP.MaxRetryWait)
}

// LoggerConfig maps the log section onto the logger.
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.Log.Level, Pretty: c.Log.Pretty, File: c.Log.File}
}
