package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
	LedgerMemory   = "memory"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit   string   `mapstructure:"BODY_LIMIT"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	ExtendAPIKey      string        `mapstructure:"EXTEND_AI_API_KEY"`
	ExtendProcessorID string        `mapstructure:"EXTEND_AI_PROCESSOR_ID"`
	ExtendAPIURL      string        `mapstructure:"EXTEND_AI_API_URL"`
	ExtendAPIVersion  string        `mapstructure:"EXTEND_AI_API_VERSION"`
	ExtendMaxRetries  int           `mapstructure:"EXTEND_AI_MAX_RETRIES"`
	ExtendRetryDelay  time.Duration `mapstructure:"EXTEND_AI_RETRY_DELAY"`
	ExtendTimeout     time.Duration `mapstructure:"EXTEND_AI_TIMEOUT"`

	ScoreThreshold   float64 `mapstructure:"SCORE_THRESHOLD"`
	GapFillThreshold float64 `mapstructure:"GAP_FILL_THRESHOLD"`
	KeywordBonus     float64 `mapstructure:"KEYWORD_BONUS"`
	MaxFields        int     `mapstructure:"MAX_FIELDS"`
	FallbackScore    float64 `mapstructure:"FALLBACK_SCORE"`
	FallbackLimit    int     `mapstructure:"FALLBACK_LIMIT"`

	FallbackReviewerFirstName string `mapstructure:"FALLBACK_REVIEWER_FIRST_NAME"`
	FallbackReviewerLastName  string `mapstructure:"FALLBACK_REVIEWER_LAST_NAME"`

	LedgerDriver string `mapstructure:"LEDGER_DRIVER"`
	LedgerDSN    string `mapstructure:"LEDGER_DSN"`

	CallbackURL    string `mapstructure:"EFFECTS_CALLBACK_URL"`
	CallbackSecret string `mapstructure:"EFFECTS_CALLBACK_SECRET"`

	DocumentTypesFile string `mapstructure:"DOCUMENT_TYPES_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS", "BODY_LIMIT",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"EXTEND_AI_API_KEY", "EXTEND_AI_PROCESSOR_ID", "EXTEND_AI_API_URL", "EXTEND_AI_API_VERSION",
	"EXTEND_AI_MAX_RETRIES", "EXTEND_AI_RETRY_DELAY", "EXTEND_AI_TIMEOUT",
	"SCORE_THRESHOLD", "GAP_FILL_THRESHOLD", "KEYWORD_BONUS", "MAX_FIELDS", "FALLBACK_SCORE", "FALLBACK_LIMIT",
	"FALLBACK_REVIEWER_FIRST_NAME", "FALLBACK_REVIEWER_LAST_NAME",
	"LEDGER_DRIVER", "LEDGER_DSN",
	"EFFECTS_CALLBACK_URL", "EFFECTS_CALLBACK_SECRET",
	"DOCUMENT_TYPES_FILE",
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first without overriding variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("AUTH_ISSUER", "docproc")
	v.SetDefault("EXTEND_AI_API_URL", "https://api.extend.ai/processor_runs")
	v.SetDefault("EXTEND_AI_API_VERSION", "2025-04-21")
	v.SetDefault("EXTEND_AI_MAX_RETRIES", 2)
	v.SetDefault("EXTEND_AI_RETRY_DELAY", "1s")
	v.SetDefault("EXTEND_AI_TIMEOUT", "120s")
	v.SetDefault("SCORE_THRESHOLD", 0.3)
	v.SetDefault("GAP_FILL_THRESHOLD", 0.05)
	v.SetDefault("KEYWORD_BONUS", 0.05)
	v.SetDefault("MAX_FIELDS", 120)
	v.SetDefault("FALLBACK_SCORE", 0.1)
	v.SetDefault("FALLBACK_LIMIT", 3)
	v.SetDefault("FALLBACK_REVIEWER_FIRST_NAME", "Canvas")
	v.SetDefault("FALLBACK_REVIEWER_LAST_NAME", "Bot")
	v.SetDefault("LEDGER_DRIVER", LedgerPostgres)

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.LedgerDriver = strings.ToLower(strings.TrimSpace(cfg.LedgerDriver))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("running in DEVELOPMENT mode (ENV=development): every request is authenticated as admin")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
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

// HasExtendCredentials reports whether the extraction API can be called.
func (c *Config) HasExtendCredentials() bool {
	return strings.TrimSpace(c.ExtendAPIKey) != "" && strings.TrimSpace(c.ExtendProcessorID) != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"SCORE_THRESHOLD":    c.ScoreThreshold,
		"GAP_FILL_THRESHOLD": c.GapFillThreshold,
		"KEYWORD_BONUS":      c.KeywordBonus,
		"FALLBACK_SCORE":     c.FallbackScore,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}
	if c.MaxFields <= 0 {
		return fmt.Errorf("MAX_FIELDS must be positive, got %d", c.MaxFields)
	}
	if c.FallbackLimit < 0 {
		return fmt.Errorf("FALLBACK_LIMIT must not be negative, got %d", c.FallbackLimit)
	}
	if c.ExtendMaxRetries < 0 {
		return fmt.Errorf("EXTEND_AI_MAX_RETRIES must not be negative, got %d", c.ExtendMaxRetries)
	}

	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters")
	}

	switch c.LedgerDriver {
	case LedgerPostgres, LedgerMemory:
	case LedgerSQLite:
		if c.LedgerDSN == "" {
			return fmt.Errorf("LEDGER_DSN is required when LEDGER_DRIVER is %q", LedgerSQLite)
		}
	default:
		return fmt.Errorf("LEDGER_DRIVER must be %q, %q, or %q, got %q", LedgerPostgres, LedgerSQLite, LedgerMemory, c.LedgerDriver)
	}

	if c.CallbackURL != "" && c.CallbackSecret == "" {
		return fmt.Errorf("EFFECTS_CALLBACK_SECRET is required when EFFECTS_CALLBACK_URL is set")
	}

	return nil
}
