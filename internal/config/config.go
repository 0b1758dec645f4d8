// Package config loads runtime configuration from an optional config file,
// a .env file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jonathan/stack-scout/internal/types"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "STACK_SCOUT"

// Config is the full runtime configuration. Durations accept Go duration
// strings ("90s", "168h").
type Config struct {
	// DatabaseURL selects the store: postgres://..., sqlite:<path>, or memory.
	DatabaseURL string `mapstructure:"database_url" validate:"required"`
	RedisURL    string `mapstructure:"redis_url"`

	GeminiAPIKey       string        `mapstructure:"gemini_api_key"`
	Model              string        `mapstructure:"model" validate:"required"`
	MinLLMDelay        time.Duration `mapstructure:"min_llm_delay" validate:"gte=0"`
	AnalysisTimeout    time.Duration `mapstructure:"analysis_timeout" validate:"gt=0"`
	InvalidJSONRetries int           `mapstructure:"invalid_json_retries" validate:"gte=0,lte=5"`
	Retry              RetryConfig   `mapstructure:"retry"`

	MaxItemsPerTerm    int           `mapstructure:"max_items_per_term" validate:"gt=0,lte=10000"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval" validate:"gt=0"`
	ScrapeTimeout      time.Duration `mapstructure:"scrape_timeout" validate:"gt=0"`
	StorageTimeout     time.Duration `mapstructure:"storage_timeout" validate:"gt=0"`
	CompanyCacheTTL    time.Duration `mapstructure:"company_cache_ttl" validate:"gte=0"`
	SkipKnownCompanies bool          `mapstructure:"skip_known_companies"`
	RetryPending       bool          `mapstructure:"retry_pending"`
	PendingLimit       int           `mapstructure:"pending_limit" validate:"gte=0"`

	Scraper ScraperConfig `mapstructure:"scraper"`
	Serve   ServeConfig   `mapstructure:"serve"`
	Lease   LeaseConfig   `mapstructure:"lease"`
}

// RetryConfig controls retries of transient LLM provider errors.
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseBackoff time.Duration `mapstructure:"base_backoff" validate:"gte=0"`
}

// ScraperConfig selects and tunes the job source.
type ScraperConfig struct {
	Source       string        `mapstructure:"source" validate:"oneof=linkedin apify"`
	Location     string        `mapstructure:"location"`
	RequestDelay time.Duration `mapstructure:"request_delay" validate:"gte=0"`
	UseBrowser   bool          `mapstructure:"use_browser"`
	ApifyToken   string        `mapstructure:"apify_token"`
	ApifyActor   string        `mapstructure:"apify_actor"`
}

// ServeConfig configures continuous mode.
type ServeConfig struct {
	Schedule string `mapstructure:"schedule" validate:"required"`
	Port     int    `mapstructure:"port" validate:"gt=0,lte=65535"`
}

// LeaseConfig configures the Redis run lease.
type LeaseConfig struct {
	Key string        `mapstructure:"key"`
	TTL time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DatabaseURL:        "sqlite:stack_scout.db",
		Model:              "gemini-2.5-flash",
		MinLLMDelay:        time.Second,
		AnalysisTimeout:    60 * time.Second,
		InvalidJSONRetries: 1,
		Retry:              RetryConfig{MaxRetries: 3, BaseBackoff: time.Second},
		MaxItemsPerTerm:    500,
		RefreshInterval:    7 * 24 * time.Hour,
		ScrapeTimeout:      60 * time.Second,
		StorageTimeout:     10 * time.Second,
		SkipKnownCompanies: true,
		RetryPending:       true,
		PendingLimit:       100,
		Scraper: ScraperConfig{
			Source:       "linkedin",
			RequestDelay: 2 * time.Second,
			ApifyActor:   "bebity~linkedin-jobs-scraper",
		},
		Serve: ServeConfig{Schedule: "@every 5m", Port: 8080},
		Lease: LeaseConfig{Key: "stack-scout:run-lease", TTL: 15 * time.Minute},
	}
}

// Unprefixed variables honored alongside the STACK_SCOUT_ ones.
var conventionalEnv = map[string]string{
	"database_url":        "DATABASE_URL",
	"redis_url":           "REDIS_URL",
	"gemini_api_key":      "GEMINI_API_KEY",
	"scraper.apify_token": "APIFY_TOKEN",
}

// Load builds a Config. A .env file in the working directory is loaded first
// (existing variables win), then configPath if non-empty, then the environment.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range conventionalEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("redis_url", d.RedisURL)
	v.SetDefault("gemini_api_key", d.GeminiAPIKey)
	v.SetDefault("model", d.Model)
	v.SetDefault("min_llm_delay", d.MinLLMDelay)
	v.SetDefault("analysis_timeout", d.AnalysisTimeout)
	v.SetDefault("invalid_json_retries", d.InvalidJSONRetries)
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.base_backoff", d.Retry.BaseBackoff)
	v.SetDefault("max_items_per_term", d.MaxItemsPerTerm)
	v.SetDefault("refresh_interval", d.RefreshInterval)
	v.SetDefault("scrape_timeout", d.ScrapeTimeout)
	v.SetDefault("storage_timeout", d.StorageTimeout)
	v.SetDefault("company_cache_ttl", d.CompanyCacheTTL)
	v.SetDefault("skip_known_companies", d.SkipKnownCompanies)
	v.SetDefault("retry_pending", d.RetryPending)
	v.SetDefault("pending_limit", d.PendingLimit)
	v.SetDefault("scraper.source", d.Scraper.Source)
	v.SetDefault("scraper.location", d.Scraper.Location)
	v.SetDefault("scraper.request_delay", d.Scraper.RequestDelay)
	v.SetDefault("scraper.use_browser", d.Scraper.UseBrowser)
	v.SetDefault("scraper.apify_token", d.Scraper.ApifyToken)
	v.SetDefault("scraper.apify_actor", d.Scraper.ApifyActor)
	v.SetDefault("serve.schedule", d.Serve.Schedule)
	v.SetDefault("serve.port", d.Serve.Port)
	v.SetDefault("lease.key", d.Lease.Key)
	v.SetDefault("lease.ttl", d.Lease.TTL)
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}()

// Validate checks ranges and cross-field requirements. The error is a
// *types.ValidationError naming the offending key.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &types.ValidationError{
				Field:   keyFromNamespace(verrs[0].Namespace()),
				Message: fmt.Sprintf("failed %q check (value %v)", verrs[0].Tag(), verrs[0].Value()),
			}
		}
		return &types.ValidationError{Message: err.Error()}
	}

	if c.Scraper.Source == "apify" && c.Scraper.ApifyToken == "" {
		return &types.ValidationError{Field: "scraper.apify_token", Message: "required when scraper.source is apify"}
	}
	if _, err := StoreKind(c.DatabaseURL); err != nil {
		return err
	}
	return nil
}

// RequireLLM reports a ValidationError when no Gemini API key is configured.
// Commands that never call the model skip this check.
func (c *Config) RequireLLM() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return &types.ValidationError{Field: "gemini_api_key", Message: "set GEMINI_API_KEY or gemini_api_key"}
	}
	return nil
}

// keyFromNamespace turns "Config.scraper.source" into "scraper.source".
func keyFromNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Store kinds returned by StoreKind.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// StoreKind classifies a database_url.
func StoreKind(databaseURL string) (string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return StorePostgres, nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return StoreSQLite, nil
	case databaseURL == "memory":
		return StoreMemory, nil
	default:
		return "", &types.ValidationError{Field: "database_url", Message: "must be postgres://..., sqlite:<path>, or memory"}
	}
}

// SQLitePath returns the file path of a sqlite: URL.
func SQLitePath(databaseURL string) string {
	return strings.TrimPrefix(databaseURL, "sqlite:")
}
