package config

import (
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// Server captures process level configuration. Rail credentials and shared
// base URLs live here as explicit injected config, never as package state.
type Server struct {
	Addr         string
	AdminToken   string
	PollInterval time.Duration

	// Optional backing services. Empty means in-memory fallbacks.
	PostgresDSN string
	RedisURL    string

	Mpesa MpesaConfig
	Tron  TronConfig

	// USDToKES is the fixed conversion rate for the mobile-money rail.
	// A config value, not a market feed; reconciliation needs a stable
	// settlement amount per intent.
	USDToKES decimal.Decimal
}

// MpesaConfig configures the STK push rail adapter.
type MpesaConfig struct {
	BaseURL        string
	ShortCode      string
	Passkey        string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string
	// MatchingWindow caps how long an intent may wait for the push
	// confirmation before the expiry sweep rejects it.
	MatchingWindow time.Duration
}

// TronConfig configures the TRC20 ledger rail adapter.
type TronConfig struct {
	APIBase string
	// ReceivingAddress is the fixed deposit address payers transfer to.
	ReceivingAddress string
	// TokenContract is the TRC20 contract of the settlement token (USDT).
	TokenContract string
	// MatchingWindow bounds how old a ledger transfer may be and still
	// confirm an intent.
	MatchingWindow time.Duration
	// Tolerance is the allowed fractional deviation between expected and
	// observed settlement amount (0.01 = 1%).
	Tolerance decimal.Decimal
	// PollLimit caps how many transfers a single poll fetches.
	PollLimit int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:         envOr("RAILGATE_ADDR", ":8080"),
		AdminToken:   envOr("RAILGATE_ADMIN_TOKEN", "dev-admin-token-change-in-production"),
		PollInterval: durationOr("RAILGATE_POLL_INTERVAL", 15*time.Second),
		PostgresDSN:  os.Getenv("RAILGATE_POSTGRES_DSN"),
		RedisURL:     os.Getenv("RAILGATE_REDIS_URL"),
		Mpesa: MpesaConfig{
			BaseURL:        envOr("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ShortCode:      os.Getenv("MPESA_SHORTCODE"),
			Passkey:        os.Getenv("MPESA_PASSKEY"),
			ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
			MatchingWindow: durationOr("MPESA_MATCHING_WINDOW", time.Hour),
		},
		Tron: TronConfig{
			APIBase:          envOr("TRON_API_BASE", "https://apilist.tronscanapi.com"),
			ReceivingAddress: os.Getenv("TRON_RECEIVING_ADDRESS"),
			TokenContract:    envOr("TRON_TOKEN_CONTRACT", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"),
			MatchingWindow:   durationOr("TRON_MATCHING_WINDOW", 30*time.Minute),
			Tolerance:        decimalOr("TRON_TOLERANCE", "0.01"),
			PollLimit:        20,
		},
		USDToKES: decimalOr("USD_KES_RATE", "130"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func decimalOr(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
