package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string        `mapstructure:"PORT"`
	Env                   string        `mapstructure:"ENV"`
	DatabaseURL           string        `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL              string        `mapstructure:"REDIS_URL"`
	WebhookSecret         string        `mapstructure:"WEBHOOK_SECRET"`
	JWTSecret             string        `mapstructure:"JWT_SECRET"`
	OrthancBaseURL        string        `mapstructure:"ORTHANC_BASE_URL"`
	OrthancUsername       string        `mapstructure:"ORTHANC_USERNAME"`
	OrthancPassword       string        `mapstructure:"ORTHANC_PASSWORD"`
	ArchiveTimeout        time.Duration `mapstructure:"ARCHIVE_TIMEOUT"`
	ArchiveMaxConcurrency int           `mapstructure:"ARCHIVE_MAX_CONCURRENCY"`
	ListingPartialResults bool          `mapstructure:"LISTING_PARTIAL_RESULTS"`
	ViewerTokenTTL        time.Duration `mapstructure:"VIEWER_TOKEN_TTL"`
	NotifyWebhookURL      string        `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret   string        `mapstructure:"NOTIFY_WEBHOOK_SECRET"`
	AdminRecipients       []string      `mapstructure:"ADMIN_RECIPIENTS"`
	CORSOrigins           []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit             string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout        time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"REDIS_URL",
	"WEBHOOK_SECRET",
	"JWT_SECRET",
	"ORTHANC_BASE_URL",
	"ORTHANC_USERNAME",
	"ORTHANC_PASSWORD",
	"ARCHIVE_TIMEOUT",
	"ARCHIVE_MAX_CONCURRENCY",
	"LISTING_PARTIAL_RESULTS",
	"VIEWER_TOKEN_TTL",
	"NOTIFY_WEBHOOK_URL",
	"NOTIFY_WEBHOOK_SECRET",
	"ADMIN_RECIPIENTS",
	"CORS_ORIGINS",
	"BODY_LIMIT",
	"REQUEST_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "3000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("ORTHANC_BASE_URL", "https://pacs.radiweb.com.br")
	v.SetDefault("ARCHIVE_TIMEOUT", "10s")
	v.SetDefault("ARCHIVE_MAX_CONCURRENCY", 8)
	v.SetDefault("LISTING_PARTIAL_RESULTS", false)
	v.SetDefault("VIEWER_TOKEN_TTL", "24h")
	v.SetDefault("ADMIN_RECIPIENTS", "admins")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.AdminRecipients = splitList(v.GetString("ADMIN_RECIPIENTS"))
	cfg.OrthancBaseURL = strings.TrimRight(cfg.OrthancBaseURL, "/")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.WebhookSecret == "" {
		log.Println("WARNING: WEBHOOK_SECRET is empty; every study webhook will be rejected.")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. JWT_SECRET is always
// required because both the API gate and viewer links depend on it. Outside
// development WEBHOOK_SECRET must be set and at least 16 characters long.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if !c.IsDev() {
		if c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required when ENV=%q", c.Env)
		}
		if len(c.WebhookSecret) < 16 {
			return fmt.Errorf("WEBHOOK_SECRET must be at least 16 characters, got %d", len(c.WebhookSecret))
		}
	}
	if c.OrthancBaseURL == "" {
		return fmt.Errorf("ORTHANC_BASE_URL is required")
	}
	if c.ArchiveTimeout <= 0 {
		return fmt.Errorf("ARCHIVE_TIMEOUT must be positive, got %s", c.ArchiveTimeout)
	}
	if c.ArchiveMaxConcurrency <= 0 {
		return fmt.Errorf("ARCHIVE_MAX_CONCURRENCY must be positive, got %d", c.ArchiveMaxConcurrency)
	}
	if c.ViewerTokenTTL <= 0 {
		return fmt.Errorf("VIEWER_TOKEN_TTL must be positive, got %s", c.ViewerTokenTTL)
	}
	return nil
}
