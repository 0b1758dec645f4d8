package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/stack-scout/internal/types"
)

// chdirTemp moves into an empty directory so a developer's .env is not picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	for _, name := range conventionalEnv {
		t.Setenv(name, "")
	}

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := chdirTemp(t)
	content := `
database_url: postgres://scout@localhost:5432/scout
max_items_per_term: 50
refresh_interval: 72h
retry:
  max_retries: 1
  base_backoff: 250ms
scraper:
  source: apify
  apify_token: tok
serve:
  port: 9090
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://scout@localhost:5432/scout", cfg.DatabaseURL)
	assert.Equal(t, 50, cfg.MaxItemsPerTerm)
	assert.Equal(t, 72*time.Hour, cfg.RefreshInterval)
	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseBackoff)
	assert.Equal(t, "apify", cfg.Scraper.Source)
	assert.Equal(t, 9090, cfg.Serve.Port)
	// Unset keys keep defaults.
	assert.Equal(t, "@every 5m", cfg.Serve.Schedule)
	assert.Equal(t, 100, cfg.PendingLimit)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GEMINI_API_KEY", "from-conventional")
	t.Setenv("STACK_SCOUT_MAX_ITEMS_PER_TERM", "25")
	t.Setenv("STACK_SCOUT_SCRAPER_USE_BROWSER", "true")
	t.Setenv("DATABASE_URL", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-conventional", cfg.GeminiAPIKey)
	assert.Equal(t, 25, cfg.MaxItemsPerTerm)
	assert.True(t, cfg.Scraper.UseBrowser)
	assert.Equal(t, "memory", cfg.DatabaseURL)
}

func TestLoad_PrefixedBeatsConventional(t *testing.T) {
	chdirTemp(t)
	t.Setenv("STACK_SCOUT_GEMINI_API_KEY", "prefixed")
	t.Setenv("GEMINI_API_KEY", "conventional")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.GeminiAPIKey)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("APIFY_TOKEN=from-dotenv\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("APIFY_TOKEN") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Scraper.ApifyToken)
}

func TestLoad_FileNotFound(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero max items", func(c *Config) { c.MaxItemsPerTerm = 0 }, "max_items_per_term"},
		{"negative pending limit", func(c *Config) { c.PendingLimit = -1 }, "pending_limit"},
		{"unknown source", func(c *Config) { c.Scraper.Source = "indeed" }, "scraper.source"},
		{"apify without token", func(c *Config) { c.Scraper.Source = "apify" }, "scraper.apify_token"},
		{"bad port", func(c *Config) { c.Serve.Port = 70000 }, "serve.port"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries"},
		{"unknown store", func(c *Config) { c.DatabaseURL = "mysql://x" }, "database_url"},
		{"empty store", func(c *Config) { c.DatabaseURL = "" }, "database_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var ve *types.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestRequireLLM(t *testing.T) {
	cfg := Default()
	var ve *types.ValidationError
	require.ErrorAs(t, cfg.RequireLLM(), &ve)
	assert.Equal(t, "gemini_api_key", ve.Field)

	cfg.GeminiAPIKey = "key"
	assert.NoError(t, cfg.RequireLLM())
}

func TestStoreKind(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgres://u@h/db", StorePostgres},
		{"postgresql://u@h/db", StorePostgres},
		{"sqlite:scout.db", StoreSQLite},
		{"sqlite::memory:", StoreSQLite},
		{"memory", StoreMemory},
	}
	for _, tt := range tests {
		got, err := StoreKind(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}
	assert.Equal(t, ":memory:", SQLitePath("sqlite::memory:"))
}
