// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"phone-otp-auth/backend/internal/ratelimit"
)

// EnvProduction is the APP_ENV value that enables production-only checks.
const EnvProduction = "production"

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DatabaseURL is the Postgres DSN; empty keeps accounts and refresh records in memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is a redis:// URL; empty keeps challenges, counters and staged details in memory.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA); literal "\n" sequences are accepted.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key matching JWTPrivateKey.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// AccessTokenTTL is the access token lifetime (e.g. "15m").
	AccessTokenTTL string `mapstructure:"ACCESS_TOKEN_TTL"`
	// RefreshTokenTTL is the refresh token lifetime (e.g. "7d").
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`

	OTPLength        int `mapstructure:"OTP_LENGTH"`
	OTPExpireMinutes int `mapstructure:"OTP_EXPIRE_MINUTES"`
	OTPMaxAttempts   int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPIssueRateLimit is the per-phone issuance limit as count/window (e.g. "3/10m").
	OTPIssueRateLimit string `mapstructure:"OTP_ISSUE_RATE_LIMIT"`
	// OTPAddrRateLimit is the per-client-address issuance limit (e.g. "20/1h").
	OTPAddrRateLimit string `mapstructure:"OTP_ADDR_RATE_LIMIT"`
	// OTPHashSecret keys the code hash; empty generates a random secret per process outside production.
	OTPHashSecret  string `mapstructure:"OTP_HASH_SECRET"`
	OTPSendTimeout string `mapstructure:"OTP_SEND_TIMEOUT"`
	// OTPPolicyFile is an optional Rego file replacing the built-in issuance policy.
	OTPPolicyFile string `mapstructure:"OTP_POLICY_FILE"`
	// OTPBlockedCountryCodes is a comma-separated list of calling codes denied by the default policy.
	OTPBlockedCountryCodes string `mapstructure:"OTP_BLOCKED_COUNTRY_CODES"`
	// PhoneStrictValidation additionally validates numbers against libphonenumber metadata.
	PhoneStrictValidation bool `mapstructure:"PHONE_STRICT_VALIDATION"`

	// SMSLocalAPIKey is the API key for SMS Local. Required unless OTPReturnToClient is set.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// OTPReturnToClient when true enables dev OTP mode: no SMS, codes readable at GET /dev/otp.
	// Rejected when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`

	// SweepInterval is how often expired challenges and refresh records are deleted.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	// When set, auth events are also published to AuthEventsKafkaTopic.
	KafkaBrokers         string `mapstructure:"KAFKA_BROKERS"`
	AuthEventsKafkaTopic string `mapstructure:"AUTH_EVENTS_KAFKA_TOPIC"`
	// Worker-only: consumer group and Loki URL for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	LokiURL      string `mapstructure:"LOKI_URL"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                   ":8080",
	"APP_ENV":                     "",
	"LOG_LEVEL":                   "info",
	"DATABASE_URL":                "",
	"REDIS_URL":                   "",
	"JWT_PRIVATE_KEY":             "",
	"JWT_PUBLIC_KEY":              "",
	"JWT_ISSUER":                  "phoneauth",
	"JWT_AUDIENCE":                "phoneauth-api",
	"ACCESS_TOKEN_TTL":            "15m",
	"REFRESH_TOKEN_TTL":           "7d",
	"OTP_LENGTH":                  6,
	"OTP_EXPIRE_MINUTES":          5,
	"OTP_MAX_ATTEMPTS":            5,
	"OTP_ISSUE_RATE_LIMIT":        "3/10m",
	"OTP_ADDR_RATE_LIMIT":         "20/1h",
	"OTP_HASH_SECRET":             "",
	"OTP_SEND_TIMEOUT":            "5s",
	"OTP_POLICY_FILE":             "",
	"OTP_BLOCKED_COUNTRY_CODES":   "",
	"PHONE_STRICT_VALIDATION":     false,
	"SMS_LOCAL_API_KEY":           "",
	"SMS_LOCAL_SENDER":            "",
	"SMS_LOCAL_BASE_URL":          "https://www.smslocal.com/dev/bulkV2",
	"OTP_RETURN_TO_CLIENT":        false,
	"SWEEP_INTERVAL":              "1m",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"KAFKA_BROKERS":               "",
	"AUTH_EVENTS_KAFKA_TOPIC":     "phoneauth-events",
	"KAFKA_GROUP_ID":              "phoneauth-event-worker",
	"LOKI_URL":                    "",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if any field is invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges, parses every duration and rule, and applies production-only requirements.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return errors.New("config: OTP_LENGTH must be between 4 and 10")
	}
	if c.OTPExpireMinutes < 1 {
		return errors.New("config: OTP_EXPIRE_MINUTES must be at least 1")
	}
	if c.OTPMaxAttempts < 1 {
		return errors.New("config: OTP_MAX_ATTEMPTS must be at least 1")
	}
	for key, val := range map[string]string{
		"ACCESS_TOKEN_TTL":  c.AccessTokenTTL,
		"REFRESH_TOKEN_TTL": c.RefreshTokenTTL,
		"OTP_SEND_TIMEOUT":  c.OTPSendTimeout,
		"SWEEP_INTERVAL":    c.SweepInterval,
	} {
		if d, err := ParseDuration(val); err != nil || d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration, got %q", key, val)
		}
	}
	if _, err := ratelimit.ParseRule(c.OTPIssueRateLimit); err != nil {
		return fmt.Errorf("config: OTP_ISSUE_RATE_LIMIT: %w", err)
	}
	if _, err := ratelimit.ParseRule(c.OTPAddrRateLimit); err != nil {
		return fmt.Errorf("config: OTP_ADDR_RATE_LIMIT: %w", err)
	}
	if _, err := c.BlockedCountryCodes(); err != nil {
		return err
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if c.IsProduction() {
		if c.OTPReturnToClient {
			return errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
		}
		if c.JWTPrivateKey == "" {
			return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when APP_ENV=production")
		}
		if c.OTPHashSecret == "" {
			return errors.New("config: OTP_HASH_SECRET is required when APP_ENV=production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

// ParseDuration accepts time.ParseDuration syntax plus a whole-day suffix ("7d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// AccessTTL returns the access token lifetime, 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return durationOr(c.AccessTokenTTL, 15*time.Minute) }

// RefreshTTL returns the refresh token lifetime, 7d if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return durationOr(c.RefreshTokenTTL, 7*24*time.Hour) }

// OTPTTL returns the challenge lifetime.
func (c *Config) OTPTTL() time.Duration { return time.Duration(c.OTPExpireMinutes) * time.Minute }

// SendTimeout returns the bound on a single SMS send.
func (c *Config) SendTimeout() time.Duration { return durationOr(c.OTPSendTimeout, 5*time.Second) }

// SweepEvery returns the sweeper interval.
func (c *Config) SweepEvery() time.Duration { return durationOr(c.SweepInterval, time.Minute) }

// IssueRateRule returns the per-phone issuance rule. Call after Validate.
func (c *Config) IssueRateRule() ratelimit.Rule {
	r, _ := ratelimit.ParseRule(c.OTPIssueRateLimit)
	return r
}

// AddrRateRule returns the per-address issuance rule. Call after Validate.
func (c *Config) AddrRateRule() ratelimit.Rule {
	r, _ := ratelimit.ParseRule(c.OTPAddrRateLimit)
	return r
}

// BlockedCountryCodes parses OTP_BLOCKED_COUNTRY_CODES ("44, +91").
func (c *Config) BlockedCountryCodes() ([]int, error) {
	var out []int
	for _, p := range splitList(c.OTPBlockedCountryCodes) {
		n, err := strconv.Atoi(strings.TrimPrefix(p, "+"))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: invalid calling code %q in OTP_BLOCKED_COUNTRY_CODES", p)
		}
		out = append(out, n)
	}
	return out, nil
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
