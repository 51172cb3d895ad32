package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	URLTemplate    string `envconfig:"URL_TEMPLATE" default:"http://www.celestrak.com/NORAD/elements/%s.txt"`
	DefaultCatalog string `envconfig:"DEFAULT_CATALOG" default:"iridium"`
	CatalogsFile   string `envconfig:"CATALOGS_FILE"`

	CacheDir     string        `envconfig:"CACHE_DIR" default:"tle-cache"`
	DBPath       string        `envconfig:"DB_PATH" default:"settings.db"`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	SyncPolicy   string        `envconfig:"SYNC_POLICY" default:"confirm"`
	ResumeOnBoot bool          `envconfig:"RESUME_ON_BOOT" default:"true"`

	KeepCachedFor   time.Duration `envconfig:"KEEP_CACHED_FOR" default:"0"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	UIMode            string `envconfig:"UI_MODE" default:"log"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"tle_downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		// Username and Password enable basic auth on the session API when both are set.
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values envconfig cannot check on its own.
func (c *Config) Validate() error {
	if strings.Count(c.URLTemplate, "%s") != 1 {
		return fmt.Errorf("URL_TEMPLATE must contain exactly one %%s verb: %q", c.URLTemplate)
	}

	if c.DefaultCatalog == "" {
		return fmt.Errorf("DEFAULT_CATALOG must not be empty")
	}

	switch strings.ToLower(c.SyncPolicy) {
	case "confirm", "auto":
	default:
		return fmt.Errorf("invalid SYNC_POLICY %q: want confirm or auto", c.SyncPolicy)
	}

	switch strings.ToLower(c.UIMode) {
	case "log", "console":
	default:
		return fmt.Errorf("invalid UI_MODE %q: want log or console", c.UIMode)
	}

	if (c.Web.Username == "") != (c.Web.Password == "") {
		return fmt.Errorf("WEB_USERNAME and WEB_PASSWORD must be set together")
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
