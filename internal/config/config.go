// Package config loads service configuration from an optional JSON file and
// the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Pipeline timeout bounds.
const (
	MinPipelineTimeout     = 60 * time.Second
	MaxPipelineTimeout     = 180 * time.Second
	DefaultPipelineTimeout = 120 * time.Second
)

// Re-appraisal policies.
const (
	PolicyNewRecord    = "new_record"
	PolicyRetryInPlace = "retry_in_place"
)

// Storage backends.
const (
	StorageMinIO = "minio"
	StorageS3    = "s3"
)

// Config is the full service configuration. Environment variables override
// values read from a config file.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	LLM          LLMConfig          `json:"llm"`
	Lens         LensConfig         `json:"lens"`
	CustomSearch CustomSearchConfig `json:"custom_search"`
	Storage      StorageConfig      `json:"storage"`
	Cache        CacheConfig        `json:"cache"`
	Fetch        FetchConfig        `json:"fetch"`
	Pipeline     PipelineConfig     `json:"pipeline"`
	Records      RecordsConfig      `json:"records"`
	Log          LogConfig          `json:"log"`

	// JWT is nil when JWT_SECRET is not set.
	JWT *JWTConfig `json:"-"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Port           int      `json:"port,omitempty"`
	MetricsAddr    string   `json:"metrics_addr,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL string `json:"url,omitempty"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider         string `json:"provider,omitempty"`
	APIKey           string `json:"-"`
	GuardrailEnabled bool   `json:"guardrail_enabled"`
}

// LensConfig configures SerpAPI Google Lens.
type LensConfig struct {
	APIKey  string        `json:"-"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// CustomSearchConfig configures Google Custom Search evidence lookups.
type CustomSearchConfig struct {
	APIKey string `json:"-"`
	CX     string `json:"cx,omitempty"`
}

// Enabled reports whether web evidence search is configured.
func (c CustomSearchConfig) Enabled() bool {
	return c.APIKey != "" && c.CX != ""
}

// StorageConfig configures the image object store.
type StorageConfig struct {
	Backend    string        `json:"backend,omitempty"`
	Bucket     string        `json:"bucket,omitempty"`
	Endpoint   string        `json:"endpoint,omitempty"`
	Region     string        `json:"region,omitempty"`
	AccessKey  string        `json:"-"`
	SecretKey  string        `json:"-"`
	UseSSL     bool          `json:"use_ssl"`
	PresignTTL time.Duration `json:"presign_ttl,omitempty"`
}

// CacheConfig configures the price cache.
type CacheConfig struct {
	ValkeyAddr string        `json:"valkey_addr,omitempty"`
	PriceTTL   time.Duration `json:"price_ttl,omitempty"`
}

// FetchConfig configures listing page fetching for price evidence.
type FetchConfig struct {
	Timeout      time.Duration `json:"timeout,omitempty"`
	Browser      bool          `json:"browser"`
	MaxPages     int           `json:"max_pages,omitempty"`
	PageCacheTTL time.Duration `json:"page_cache_ttl,omitempty"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	Timeout time.Duration `json:"timeout,omitempty"`
}

// RecordsConfig configures appraisal history.
type RecordsConfig struct {
	ReappraisalPolicy string `json:"reappraisal_policy,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Format string `json:"format,omitempty"`
	Level  string `json:"level,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			MetricsAddr:    ":9090",
			AllowedOrigins: []string{"*"},
		},
		LLM: LLMConfig{
			Provider:         "gemini",
			GuardrailEnabled: true,
		},
		Lens: LensConfig{
			Timeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			Backend:    StorageMinIO,
			Bucket:     "appraisal-images",
			Region:     "ap-northeast-1",
			PresignTTL: time.Hour,
		},
		Cache: CacheConfig{
			PriceTTL: 6 * time.Hour,
		},
		Fetch: FetchConfig{
			Timeout:      15 * time.Second,
			MaxPages:     3,
			PageCacheTTL: 30 * time.Minute,
		},
		Pipeline: PipelineConfig{
			Timeout: DefaultPipelineTimeout,
		},
		Records: RecordsConfig{
			ReappraisalPolicy: PolicyNewRecord,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load builds the configuration from defaults, the optional JSON file at
// path, and the environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if os.Getenv("JWT_SECRET") != "" {
		jwt, err := NewJWTConfig()
		if err != nil {
			return nil, err
		}
		cfg.JWT = jwt
	}

	cfg.Pipeline.Timeout = ClampPipelineTimeout(cfg.Pipeline.Timeout)
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.MetricsAddr = getEnvString("METRICS_ADDR", c.Server.MetricsAddr)
	if origins := getEnvString("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}

	c.Database.URL = getEnvString("DATABASE_URL", c.Database.URL)

	c.LLM.Provider = strings.ToLower(getEnvString("LLM_PROVIDER", c.LLM.Provider))
	switch c.LLM.Provider {
	case "anthropic":
		c.LLM.APIKey = getEnvString("ANTHROPIC_API_KEY", c.LLM.APIKey)
	default:
		c.LLM.APIKey = getEnvString("GEMINI_API_KEY", c.LLM.APIKey)
	}
	c.LLM.GuardrailEnabled = getEnvBool("ENABLE_GUARDRAIL_CHECK", c.LLM.GuardrailEnabled)

	c.Lens.APIKey = getEnvString("SERPAPI_API_KEY", c.Lens.APIKey)
	c.Lens.Timeout = getEnvDuration("SERPAPI_TIMEOUT", c.Lens.Timeout)

	c.CustomSearch.APIKey = getEnvString("GOOGLE_SEARCH_API_KEY", c.CustomSearch.APIKey)
	c.CustomSearch.CX = getEnvString("GOOGLE_SEARCH_CX", c.CustomSearch.CX)

	c.Storage.Backend = strings.ToLower(getEnvString("STORAGE_BACKEND", c.Storage.Backend))
	c.Storage.Bucket = getEnvString("STORAGE_BUCKET", c.Storage.Bucket)
	c.Storage.Endpoint = getEnvString("STORAGE_ENDPOINT", c.Storage.Endpoint)
	c.Storage.Region = getEnvString("STORAGE_REGION", c.Storage.Region)
	c.Storage.AccessKey = getEnvString("STORAGE_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = getEnvString("STORAGE_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.UseSSL = getEnvBool("STORAGE_USE_SSL", c.Storage.UseSSL)
	c.Storage.PresignTTL = getEnvDuration("IMAGE_URL_TTL", c.Storage.PresignTTL)

	c.Cache.ValkeyAddr = getEnvString("VALKEY_ADDR", c.Cache.ValkeyAddr)
	c.Cache.PriceTTL = getEnvDuration("PRICE_CACHE_TTL", c.Cache.PriceTTL)

	c.Fetch.Timeout = getEnvDuration("FETCH_TIMEOUT", c.Fetch.Timeout)
	c.Fetch.Browser = getEnvBool("FETCH_BROWSER", c.Fetch.Browser)
	c.Fetch.MaxPages = getEnvInt("FETCH_MAX_PAGES", c.Fetch.MaxPages)
	c.Fetch.PageCacheTTL = getEnvDuration("PAGE_CACHE_TTL", c.Fetch.PageCacheTTL)

	c.Pipeline.Timeout = getEnvDuration("PIPELINE_TIMEOUT", c.Pipeline.Timeout)

	c.Records.ReappraisalPolicy = strings.ToLower(getEnvString("REAPPRAISAL_POLICY", c.Records.ReappraisalPolicy))

	c.Log.Format = strings.ToLower(getEnvString("LOG_FORMAT", c.Log.Format))
	c.Log.Level = strings.ToLower(getEnvString("LOG_LEVEL", c.Log.Level))
}

// ClampPipelineTimeout keeps d within [MinPipelineTimeout, MaxPipelineTimeout].
// Zero selects the default.
func ClampPipelineTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultPipelineTimeout
	case d < MinPipelineTimeout:
		return MinPipelineTimeout
	case d > MaxPipelineTimeout:
		return MaxPipelineTimeout
	}
	return d
}

// Validate checks the settings every command needs. Serving additionally
// requires ValidateServe.
func (c *Config) Validate() error {
	var errs []error

	if c.LLM.Provider != "gemini" && c.LLM.Provider != "anthropic" {
		errs = append(errs, fmt.Errorf("config error: unsupported LLM_PROVIDER %q", c.LLM.Provider))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("config error: API key for LLM provider %q is not set", c.LLM.Provider))
	}
	if c.Lens.APIKey == "" {
		errs = append(errs, errors.New("config error: SERPAPI_API_KEY is not set"))
	}
	if c.Storage.Backend != StorageMinIO && c.Storage.Backend != StorageS3 {
		errs = append(errs, fmt.Errorf("config error: unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("config error: STORAGE_BUCKET is not set"))
	}
	if c.Storage.Backend == StorageMinIO && c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("config error: STORAGE_ENDPOINT is required for minio"))
	}
	if c.Records.ReappraisalPolicy != PolicyNewRecord && c.Records.ReappraisalPolicy != PolicyRetryInPlace {
		errs = append(errs, fmt.Errorf("config error: unsupported REAPPRAISAL_POLICY %q", c.Records.ReappraisalPolicy))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("config error: unsupported LOG_FORMAT %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ValidateServe checks the settings required by the HTTP server.
func (c *Config) ValidateServe() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("config error: DATABASE_URL is not set"))
	}
	if c.JWT == nil {
		errs = append(errs, errors.New("config error: JWT_SECRET is required to serve"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config error: invalid PORT %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

// getEnvString gets an environment variable as a string with a default value.
func getEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration with a default value.
// Plain integers are read as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
