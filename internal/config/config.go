package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app" yaml:"app"`
	News       News       `mapstructure:"news" yaml:"news"`
	Relevance  Relevance  `mapstructure:"relevance" yaml:"relevance"`
	AI         AI         `mapstructure:"ai" yaml:"ai"`
	Email      Email      `mapstructure:"email" yaml:"email"`
	RateLimits RateLimits `mapstructure:"rate_limits" yaml:"rate_limits"`
	Schedule   Schedule   `mapstructure:"schedule" yaml:"schedule"`
	Storage    Storage    `mapstructure:"storage" yaml:"storage"`
	Server     Server     `mapstructure:"server" yaml:"server"`
	Logging    Logging    `mapstructure:"logging" yaml:"logging"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug" yaml:"debug"`
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	ConfigFile string `mapstructure:"config_file" yaml:"config_file"`
	Timezone   string `mapstructure:"timezone" yaml:"timezone"`
}

// Section describes one listing page to scrape
type Section struct {
	Name     string `mapstructure:"name" yaml:"name"`
	URL      string `mapstructure:"url" yaml:"url"`
	Category string `mapstructure:"category" yaml:"category"`
	Kind     string `mapstructure:"kind" yaml:"kind"` // html or rss
}

// News holds news source configuration
type News struct {
	SourceURL        string    `mapstructure:"source_url" yaml:"source_url"`
	Sections         []Section `mapstructure:"sections" yaml:"sections"`
	ArticleLimit     int       `mapstructure:"article_limit" yaml:"article_limit"`
	RetentionWindow  string    `mapstructure:"retention_window" yaml:"retention_window"`
	ArticleTimeout   string    `mapstructure:"article_timeout" yaml:"article_timeout"`
	ListingTimeout   string    `mapstructure:"listing_timeout" yaml:"listing_timeout"`
	UserAgent        string    `mapstructure:"user_agent" yaml:"user_agent"`
	MediaPath        string    `mapstructure:"media_path" yaml:"media_path"`
	MaxConcurrency   int       `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	MaxImageBytes    int64     `mapstructure:"max_image_bytes" yaml:"max_image_bytes"`
	ContentSelectors []string  `mapstructure:"content_selectors" yaml:"content_selectors"`
}

// Relevance holds ranking configuration
type Relevance struct {
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
	Locale   string   `mapstructure:"locale" yaml:"locale"`
}

// AI holds AI/LLM configuration
type AI struct {
	Provider string       `mapstructure:"provider" yaml:"provider"` // gemini or openai
	Gemini   GeminiConfig `mapstructure:"gemini" yaml:"gemini"`
	OpenAI   OpenAIConfig `mapstructure:"openai" yaml:"openai"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	Model       string  `mapstructure:"model" yaml:"model"`
	Timeout     string  `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens   int32   `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	Model       string  `mapstructure:"model" yaml:"model"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Timeout     string  `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens   int64   `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

// Email holds email configuration
type Email struct {
	SMTP              SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
	FromAddress       string     `mapstructure:"from_address" yaml:"from_address"`
	FromName          string     `mapstructure:"from_name" yaml:"from_name"`
	SubjectPrefix     string     `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	DefaultRecipients []string   `mapstructure:"default_recipients" yaml:"default_recipients"`
}

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	Username   string `mapstructure:"username" yaml:"username"`
	Password   string `mapstructure:"password" yaml:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled" yaml:"tls_enabled"`
	Timeout    string `mapstructure:"timeout" yaml:"timeout"`
}

// RateLimit is a fixed window limit for one category of outbound calls
type RateLimit struct {
	Limit  int    `mapstructure:"limit" yaml:"limit"`
	Window string `mapstructure:"window" yaml:"window"`
}

// RateLimits holds the outbound call limits
type RateLimits struct {
	HTTP  RateLimit `mapstructure:"http" yaml:"http"`
	AI    RateLimit `mapstructure:"ai" yaml:"ai"`
	Email RateLimit `mapstructure:"email" yaml:"email"`
}

// Schedule holds scheduler defaults
type Schedule struct {
	DefaultInterval int  `mapstructure:"default_interval" yaml:"default_interval"`
	Enabled         bool `mapstructure:"enabled" yaml:"enabled"`
}

// Storage holds persistence configuration
type Storage struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // memory or sqlite
	Path   string `mapstructure:"path" yaml:"path"`
}

// Server holds HTTP server configuration
type Server struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	TriggerPerHour  int           `mapstructure:"trigger_per_hour" yaml:"trigger_per_hour"`
	CORS            CORSConfig    `mapstructure:"cors" yaml:"cors"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".newsdigest")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".newsdigest")
	viper.SetDefault("app.timezone", "Asia/Kuala_Lumpur")

	viper.SetDefault("news.source_url", "https://www.freemalaysiatoday.com")
	viper.SetDefault("news.sections", []map[string]any{
		{"name": "nation", "url": "/category/nation/", "category": "domestic", "kind": "html"},
		{"name": "world", "url": "/category/world/", "category": "international", "kind": "html"},
	})
	viper.SetDefault("news.article_limit", 10)
	viper.SetDefault("news.retention_window", "6h")
	viper.SetDefault("news.article_timeout", "10s")
	viper.SetDefault("news.listing_timeout", "30s")
	viper.SetDefault("news.user_agent", "Mozilla/5.0 (compatible; NewsDigest/1.0)")
	viper.SetDefault("news.media_path", "/wp-content/uploads/")
	viper.SetDefault("news.max_concurrency", 5)
	viper.SetDefault("news.max_image_bytes", 5<<20)
	viper.SetDefault("news.content_selectors", []string{
		".entry-content", ".post-content", ".article-content", ".content", "main article", ".story-body",
	})

	viper.SetDefault("relevance.keywords", []string{
		"malaysia", "government", "parliament", "economy", "minister", "court", "police", "election",
	})
	viper.SetDefault("relevance.locale", "malaysia")

	viper.SetDefault("ai.provider", "openai")
	viper.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("ai.gemini.timeout", "60s")
	viper.SetDefault("ai.gemini.max_tokens", 2048)
	viper.SetDefault("ai.gemini.temperature", 0.7)
	viper.SetDefault("ai.openai.model", "gpt-4o")
	viper.SetDefault("ai.openai.timeout", "60s")
	viper.SetDefault("ai.openai.max_tokens", 1000)
	viper.SetDefault("ai.openai.temperature", 0.7)

	viper.SetDefault("email.smtp.host", "smtp.gmail.com")
	viper.SetDefault("email.smtp.port", 587)
	viper.SetDefault("email.smtp.tls_enabled", true)
	viper.SetDefault("email.smtp.timeout", "30s")
	viper.SetDefault("email.from_name", "FMT News Digest")
	viper.SetDefault("email.subject_prefix", "FMT News Digest")
	viper.SetDefault("email.default_recipients", []string{"admin@example.com"})

	viper.SetDefault("rate_limits.http.limit", 100)
	viper.SetDefault("rate_limits.http.window", "1h")
	viper.SetDefault("rate_limits.ai.limit", 10)
	viper.SetDefault("rate_limits.ai.window", "1h")
	viper.SetDefault("rate_limits.email.limit", 50)
	viper.SetDefault("rate_limits.email.window", "24h")

	viper.SetDefault("schedule.default_interval", 3)
	viper.SetDefault("schedule.enabled", true)

	viper.SetDefault("storage.driver", "memory")
	viper.SetDefault("storage.path", "newsdigest.db")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "5m")
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("server.trigger_per_hour", 10)
	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"*"})
	viper.SetDefault("server.base_url", "http://localhost:8080")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("ai.openai.api_key", []string{
		"OPENAI_API_KEY",
		"OPENAI_API_KEY_ENV_VAR",
	})

	bindEnvKeys("ai.provider", []string{
		"AI_PROVIDER",
	})

	bindEnvKeys("email.smtp.host", []string{
		"SMTP_HOST",
		"EMAIL_SMTP_HOST",
	})

	bindEnvKeys("email.smtp.port", []string{
		"SMTP_PORT",
	})

	bindEnvKeys("email.smtp.username", []string{
		"SMTP_USER",
		"SMTP_USERNAME",
		"EMAIL_USER",
	})

	bindEnvKeys("email.smtp.password", []string{
		"SMTP_PASSWORD",
		"SMTP_PASS",
		"EMAIL_PASS",
	})

	bindEnvKeys("email.from_address", []string{
		"EMAIL_FROM",
		"EMAIL_USER",
	})

	bindEnvKeys("news.source_url", []string{
		"NEWS_SOURCE_URL",
	})

	bindEnvKeys("server.port", []string{
		"PORT",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"NEWSDIGEST_DEBUG",
	})

	// RECIPIENT_EMAIL accepts a comma separated list
	if value := os.Getenv("RECIPIENT_EMAIL"); value != "" {
		viper.Set("email.default_recipients", splitList(value))
	}
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) && !strings.HasPrefix(config.Storage.Path, "~/") {
		config.Storage.Path = filepath.Join(config.App.DataDir, config.Storage.Path)
	}
	config.Storage.Path = expandPath(config.Storage.Path)

	if config.Email.FromAddress == "" {
		config.Email.FromAddress = config.Email.SMTP.Username
	}

	config.News.SourceURL = strings.TrimRight(config.News.SourceURL, "/")
	for i := range config.News.Sections {
		if config.News.Sections[i].Kind == "" {
			config.News.Sections[i].Kind = "html"
		}
		resolved, err := resolveSectionURL(config.News.SourceURL, config.News.Sections[i].URL)
		if err != nil {
			return fmt.Errorf("invalid url for news section %q: %w", config.News.Sections[i].Name, err)
		}
		config.News.Sections[i].URL = resolved
	}

	durations := map[string]string{
		"news.retention_window":    config.News.RetentionWindow,
		"news.article_timeout":     config.News.ArticleTimeout,
		"news.listing_timeout":     config.News.ListingTimeout,
		"ai.gemini.timeout":        config.AI.Gemini.Timeout,
		"ai.openai.timeout":        config.AI.OpenAI.Timeout,
		"email.smtp.timeout":       config.Email.SMTP.Timeout,
		"rate_limits.http.window":  config.RateLimits.HTTP.Window,
		"rate_limits.ai.window":    config.RateLimits.AI.Window,
		"rate_limits.email.window": config.RateLimits.Email.Window,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// resolveSectionURL makes a relative section URL absolute against the
// source URL. Absolute URLs are returned unchanged.
func resolveSectionURL(source, section string) (string, error) {
	ref, err := url.Parse(section)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() || section == "" {
		return section, nil
	}
	base, err := url.Parse(source)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("relative url %q needs an absolute news.source_url", section)
	}
	return base.ResolveReference(ref).String(), nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures the configuration is coherent
func validateConfig(config *Config) error {
	var errors []string

	if _, err := time.LoadLocation(config.App.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("Unknown timezone: %s", config.App.Timezone))
	}

	if len(config.News.Sections) == 0 {
		errors = append(errors, "At least one news section is required (news.sections)")
	}
	for _, section := range config.News.Sections {
		if section.URL == "" {
			errors = append(errors, fmt.Sprintf("News section %q has no url", section.Name))
		}
		switch section.Category {
		case "domestic", "international":
		default:
			errors = append(errors, fmt.Sprintf("News section %q has unknown category %q. Supported: domestic, international", section.Name, section.Category))
		}
		switch section.Kind {
		case "html", "rss":
		default:
			errors = append(errors, fmt.Sprintf("News section %q has unknown kind %q. Supported: html, rss", section.Name, section.Kind))
		}
	}

	switch config.AI.Provider {
	case "gemini", "openai":
	default:
		errors = append(errors, fmt.Sprintf("Unknown AI provider: %s. Supported: gemini, openai", config.AI.Provider))
	}

	switch config.Storage.Driver {
	case "memory", "sqlite":
	default:
		errors = append(errors, fmt.Sprintf("Unknown storage driver: %s. Supported: memory, sqlite", config.Storage.Driver))
	}

	if config.Schedule.DefaultInterval < 1 || config.Schedule.DefaultInterval > 24 {
		errors = append(errors, "schedule.default_interval must be between 1 and 24 hours")
	}

	for name, limit := range map[string]RateLimit{
		"http":  config.RateLimits.HTTP,
		"ai":    config.RateLimits.AI,
		"email": config.RateLimits.Email,
	} {
		if limit.Limit < 1 {
			errors = append(errors, fmt.Sprintf("rate_limits.%s.limit must be positive", name))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Duration parses a validated duration string, returning fallback when it is empty
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// Location returns the configured target timezone, falling back to UTC
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasValidAIKey returns true if the selected provider has a usable API key
func (c *Config) HasValidAIKey() bool {
	switch c.AI.Provider {
	case "gemini":
		return isValidAPIKey(c.AI.Gemini.APIKey)
	case "openai":
		return isValidAPIKey(c.AI.OpenAI.APIKey)
	}
	return false
}

// isValidAPIKey checks if an API key is valid (not empty and not a placeholder)
func isValidAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}

	placeholders := []string{
		"your-api-key", "your-openai-key", "your-gemini-key", "default_key",
		"YOUR_API_KEY", "PLACEHOLDER", "TODO", "CHANGE_ME",
	}

	for _, placeholder := range placeholders {
		if apiKey == placeholder {
			return false
		}
	}

	return true
}

// Redacted returns a copy of the configuration with secrets masked, for display
func (c *Config) Redacted() Config {
	out := *c
	out.AI.Gemini.APIKey = maskSecret(out.AI.Gemini.APIKey)
	out.AI.OpenAI.APIKey = maskSecret(out.AI.OpenAI.APIKey)
	out.Email.SMTP.Password = maskSecret(out.Email.SMTP.Password)
	return out
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// SetSourceURL persists a new news source URL into the active config file
func SetSourceURL(url string) (string, error) {
	viper.Set("news.source_url", strings.TrimRight(url, "/"))

	path := viper.ConfigFileUsed()
	if path == "" {
		path = ".newsdigest.yaml"
		if err := viper.WriteConfigAs(path); err != nil {
			return "", fmt.Errorf("failed to write config file: %w", err)
		}
		return path, nil
	}
	if err := viper.WriteConfig(); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
