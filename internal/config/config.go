// Package config loads the propgate gateway configuration from
// environment variables. All values are read once at startup and
// treated as read-only afterwards.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the gateway.
type Config struct {
	Port    int
	Version string

	// AllowOrigin is the comma-separated CORS allow-list ("*", exact
	// origins, or "*.suffix" wildcards).
	AllowOrigin string

	// SigningKey signs usage tokens. Required unless demo-free mode.
	SigningKey string

	// TokenTTL bounds both the token claim expiry and the store TTL.
	TokenTTL time.Duration

	// CreditsPerPurchase is the credit balance granted per payment.
	CreditsPerPurchase int

	// AllowDemoFree skips token checks and serves from a free quota.
	AllowDemoFree bool
	FreeQuota     int

	// PromptMaxLen caps prompt length in runes; 0 uses the built-in
	// default. PromptBlocklist is a comma-separated list of
	// case-insensitive regex patterns that reject a prompt outright.
	PromptMaxLen    int
	PromptBlocklist string

	// DBPath points at the SQLite token store; empty selects the
	// in-memory store.
	DBPath string

	Stripe    StripeConfig
	Backend   BackendConfig
	Telemetry TelemetryConfig
}

// StripeConfig holds payment provider credentials.
type StripeConfig struct {
	SecretKey string
	PriceID   string
	ProductID string
}

// BackendConfig holds analytics backend connection settings.
type BackendConfig struct {
	// Variant selects the authoritative protocol shape:
	// complete, batch, or stream.
	Variant string

	Account       string
	OAuthToken    string
	Database      string
	Schema        string
	Warehouse     string
	AgentService  string
	SearchService string
	SemanticModel string
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() *Config {
	return &Config{
		Port:               envInt("PROPGATE_PORT", 8080),
		Version:            envStr("PROPGATE_VERSION", "0.2.0"),
		AllowOrigin:        envStr("PROPGATE_ALLOW_ORIGIN", "*"),
		SigningKey:         envStr("PROPGATE_SIGNING_KEY", ""),
		TokenTTL:           envDur("PROPGATE_TOKEN_TTL", 15*time.Minute),
		CreditsPerPurchase: envInt("PROPGATE_CREDITS_PER_PURCHASE", 10),
		AllowDemoFree:      envBool("PROPGATE_ALLOW_DEMO_FREE", false),
		FreeQuota:          envInt("PROPGATE_FREE_QUOTA", 25),
		PromptMaxLen:       envInt("PROPGATE_PROMPT_MAX_LEN", 0),
		PromptBlocklist:    envStr("PROPGATE_PROMPT_BLOCKLIST", ""),
		DBPath:             envStr("PROPGATE_DB_PATH", ""),
		Stripe: StripeConfig{
			SecretKey: envStr("STRIPE_SECRET_KEY", ""),
			PriceID:   envStr("STRIPE_PRICE_ID", ""),
			ProductID: envStr("STRIPE_PRODUCT_ID", ""),
		},
		Backend: BackendConfig{
			Variant:       envStr("PROPGATE_AGENT_VARIANT", "stream"),
			Account:       envStr("SNOWFLAKE_ACCOUNT", ""),
			OAuthToken:    envStr("SNOWFLAKE_OAUTH_TOKEN", ""),
			Database:      envStr("SNOWFLAKE_DATABASE", "PROPDATA"),
			Schema:        envStr("SNOWFLAKE_SCHEMA", "LISTINGS"),
			Warehouse:     envStr("SNOWFLAKE_WAREHOUSE", "DEMO_WH"),
			AgentService:  envStr("SNOWFLAKE_AGENT_SERVICE", "listing_analyst"),
			SearchService: envStr("SNOWFLAKE_SEARCH_SERVICE", "listing_search"),
			SemanticModel: envStr("SNOWFLAKE_SEMANTIC_MODEL", "listings.yaml"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "propgate-gateway"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
