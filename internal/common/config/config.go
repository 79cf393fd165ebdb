// Package config loads and validates server configuration from the environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"portal-auth/pkg/utils"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// OTP ledger backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds server configuration.
type Config struct {
	Env     string `mapstructure:"APP_ENV"`
	Port    string `mapstructure:"PORT"`
	GinMode string `mapstructure:"GIN_MODE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// CORSAllowedOrigins is a comma-separated origin list; "*" when empty outside production.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSL_MODE"`

	// OTPStore selects the pending-code ledger: memory, redis or postgres.
	OTPStore string `mapstructure:"OTP_STORE"`
	// OTPTTL is how long a sent code stays verifiable (e.g. "5m").
	OTPTTL string `mapstructure:"OTP_TTL"`
	// OTPEncryptionKey seals codes at rest in the postgres ledger (16, 24 or 32 bytes).
	OTPEncryptionKey string `mapstructure:"OTP_ENCRYPTION_KEY"`
	RedisURL         string `mapstructure:"REDIS_URL"`

	VonageAPIKey    string `mapstructure:"VONAGE_API_KEY"`
	VonageAPISecret string `mapstructure:"VONAGE_API_SECRET"`
	VonageBrandName string `mapstructure:"VONAGE_BRAND_NAME"`
	VonageBaseURL   string `mapstructure:"VONAGE_BASE_URL"`

	TwilioAccountSID       string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken        string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioVerifyServiceSID string `mapstructure:"TWILIO_VERIFY_SERVICE_SID"`
	TwilioBaseURL          string `mapstructure:"TWILIO_BASE_URL"`

	// SessionSigningKey signs Twilio-path session tokens. Random per process when empty (dev only).
	SessionSigningKey string `mapstructure:"SESSION_SIGNING_KEY"`

	// KafkaBrokers is a comma-separated broker list; auth events are dropped when empty.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuthEventsTopic string `mapstructure:"AUTH_EVENTS_TOPIC"`
}

// Load reads .env (if present), then builds and validates Config from the environment.
func Load() (*Config, error) {
	// Missing .env is fine: CI and containers pass real env vars.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "patient_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("OTP_STORE", StoreMemory)
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_ENCRYPTION_KEY", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("VONAGE_API_KEY", "")
	v.SetDefault("VONAGE_API_SECRET", "")
	v.SetDefault("VONAGE_BRAND_NAME", "Precix")
	v.SetDefault("VONAGE_BASE_URL", "https://rest.nexmo.com/sms/json")
	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_AUTH_TOKEN", "")
	v.SetDefault("TWILIO_VERIFY_SERVICE_SID", "")
	v.SetDefault("TWILIO_BASE_URL", "https://verify.twilio.com/v2")
	v.SetDefault("SESSION_SIGNING_KEY", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_TOPIC", "portal-auth-events")
}

// Validate checks field values and the production-only constraints.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: PORT must be set")
	}
	switch c.OTPStore {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("config: OTP_STORE must be one of memory, redis, postgres (got %q)", c.OTPStore)
	}
	if d, err := time.ParseDuration(c.OTPTTL); err != nil || d <= 0 {
		return fmt.Errorf("config: OTP_TTL must be a positive duration (got %q)", c.OTPTTL)
	}
	if k := len(c.OTPEncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return errors.New("config: OTP_ENCRYPTION_KEY must be 16, 24, or 32 bytes long")
	}

	if !c.IsProduction() {
		return nil
	}
	if c.VonageDevelopmentMode() {
		return errors.New("config: VONAGE_API_KEY and VONAGE_API_SECRET are required when APP_ENV=production")
	}
	if c.TwilioDevelopmentMode() {
		return errors.New("config: TWILIO_* credentials are required when APP_ENV=production")
	}
	if c.SessionSigningKey == "" {
		return errors.New("config: SESSION_SIGNING_KEY is required when APP_ENV=production")
	}
	if c.OTPStore == StoreMemory {
		return errors.New("config: OTP_STORE=memory is not allowed when APP_ENV=production")
	}
	if c.OTPStore == StorePostgres && c.OTPEncryptionKey == "" {
		return errors.New("config: OTP_ENCRYPTION_KEY is required for the postgres OTP store in production")
	}
	origins := strings.TrimSpace(c.CORSAllowedOrigins)
	if origins == "" {
		return errors.New("config: CORS_ALLOWED_ORIGINS is required when APP_ENV=production")
	}
	for _, o := range strings.Split(origins, ",") {
		if strings.TrimSpace(o) == "*" {
			return errors.New("config: CORS_ALLOWED_ORIGINS must not contain * when APP_ENV=production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV names production.
func (c *Config) IsProduction() bool {
	return utils.IsProductionEnv(c.Env)
}

// OTPTTLDuration parses OTPTTL. Returns 5m if unset or invalid.
func (c *Config) OTPTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.OTPTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// VonageDevelopmentMode is true when Vonage credentials are missing and codes are only stored locally.
func (c *Config) VonageDevelopmentMode() bool {
	return c.VonageAPIKey == "" || c.VonageAPISecret == ""
}

// TwilioDevelopmentMode is true when any Twilio Verify credential is missing.
func (c *Config) TwilioDevelopmentMode() bool {
	return c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioVerifyServiceSID == ""
}

// Brokers splits KafkaBrokers into a trimmed, non-empty list.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
