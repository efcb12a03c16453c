package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	Environment string
	SentryDSN   string

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Browser origins allowed to open the live call stream
	AllowedOrigins []string

	// Voice provider
	VoiceAPIKey      string
	VoiceAPIURL      string
	VoiceAssistantID string
	MaxLiveCalls     int

	// EAS attestation (Sepolia)
	AttesterPrivateKey string
	SepoliaRPCURL      string
	EASContractAddress string
	EASSchemaUID       string
	AttestationTimeout time.Duration

	// Knowledge base answers
	OpenAIAPIKey string
	OpenAIModel  string

	// Notifications
	DiscordWebhookURL string
	APNsKeyPath       string
	APNsKeyID         string
	APNsTeamID        string
	APNsBundleID      string
	APNsProduction    bool

	// Background jobs
	StaleMeetingAge time.Duration
}

func LoadConfigFromEnv() Config {
	addr := getenv("HTTP_ADDR", "")
	if addr == "" {
		addr = ":" + getenv("PORT", "8080")
	}

	return Config{
		HTTPAddr:    addr,
		DatabaseURL: getenv("DATABASE_URL", ""),
		Environment: getenv("ENVIRONMENT", "development"),
		SentryDSN:   getenv("SENTRY_DSN", ""),

		// JWT Authentication
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: getenvDuration("JWT_EXPIRY", 24*time.Hour),

		AllowedOrigins: parseList(os.Getenv("ALLOWED_ORIGINS")),

		// Voice provider
		VoiceAPIKey:      getenv("VOICE_API_KEY", ""),
		VoiceAPIURL:      getenv("VOICE_API_URL", ""),
		VoiceAssistantID: getenv("VOICE_ASSISTANT_ID", ""),
		MaxLiveCalls:     getenvIntClamped("MAX_LIVE_CALLS", 50, 1, 1000),

		// EAS attestation (Sepolia)
		AttesterPrivateKey: os.Getenv("ATTESTER_PRIVATE_KEY"),
		SepoliaRPCURL:      getenv("SEPOLIA_RPC_URL", "https://rpc.ankr.com/eth_sepolia"),
		EASContractAddress: getenv("EAS_CONTRACT_ADDRESS", ""),
		EASSchemaUID:       getenv("EAS_SCHEMA_UID", ""),
		AttestationTimeout: time.Duration(getenvIntClamped("ATTESTATION_TIMEOUT_SECONDS", 60, 5, 600)) * time.Second,

		// Knowledge base answers
		OpenAIAPIKey: getenv("OPENAI_API_KEY", ""),
		OpenAIModel:  getenv("OPENAI_MODEL", "gpt-4o-mini"),

		// Notifications
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),
		APNsKeyPath:       getenv("APNS_KEY_PATH", ""),
		APNsKeyID:         getenv("APNS_KEY_ID", ""),
		APNsTeamID:        getenv("APNS_TEAM_ID", ""),
		APNsBundleID:      getenv("APNS_BUNDLE_ID", ""),
		APNsProduction:    getenvBool("APNS_PRODUCTION", false),

		// Background jobs
		StaleMeetingAge: time.Duration(getenvIntClamped("STALE_MEETING_MINUTES", 180, 15, 24*60)) * time.Minute,
	}
}

// parseList splits a comma-separated value, dropping empty entries.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped reads an integer, falling back to def when unset or
// invalid and clamping the result to [min, max].
func getenvIntClamped(k string, def, min, max int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func getenvDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvBool(k string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(k))
	if err != nil {
		return def
	}
	return b
}
