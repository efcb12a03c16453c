package app

import (
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvIntClamped(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      int
		min      int
		max      int
		want     int
	}{
		{
			name:     "value within range",
			envKey:   "TEST_INT_NORMAL",
			envValue: "500",
			def:      100,
			min:      0,
			max:      1000,
			want:     500,
		},
		{
			name:     "value below min - clamp to min",
			envKey:   "TEST_INT_LOW",
			envValue: "-100",
			def:      100,
			min:      0,
			max:      1000,
			want:     0,
		},
		{
			name:     "value above max - clamp to max",
			envKey:   "TEST_INT_HIGH",
			envValue: "2000",
			def:      100,
			min:      0,
			max:      1000,
			want:     1000,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_INT_NOTSET",
			envValue: "",
			def:      100,
			min:      0,
			max:      1000,
			want:     100,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_INT_INVALID",
			envValue: "not_a_number",
			def:      100,
			min:      0,
			max:      1000,
			want:     100,
		},
		{
			name:     "boundary: exactly min",
			envKey:   "TEST_INT_MIN",
			envValue: "200",
			def:      500,
			min:      200,
			max:      800,
			want:     200,
		},
		{
			name:     "boundary: exactly max",
			envKey:   "TEST_INT_MAX",
			envValue: "800",
			def:      500,
			min:      200,
			max:      800,
			want:     800,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvIntClamped(tt.envKey, tt.def, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("getenvIntClamped(%q, %d, %d, %d) = %d, want %d",
					tt.envKey, tt.def, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "valid", value: "90m", want: 90 * time.Minute},
		{name: "unset", value: "", want: time.Hour},
		{name: "invalid", value: "soon", want: time.Hour},
		{name: "negative", value: "-5m", want: time.Hour},
		{name: "zero", value: "0s", want: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getenvDuration("TEST_DURATION", time.Hour); got != tt.want {
				t.Errorf("getenvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetenvBool(t *testing.T) {
	tests := []struct {
		name  string
		value string
		def   bool
		want  bool
	}{
		{name: "true", value: "true", def: false, want: true},
		{name: "one", value: "1", def: false, want: true},
		{name: "false", value: "false", def: true, want: false},
		{name: "unset", value: "", def: true, want: true},
		{name: "garbage", value: "yes please", def: false, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			if got := getenvBool("TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("getenvBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single origin",
			input: "https://app.pactum.ai",
			want:  []string{"https://app.pactum.ai"},
		},
		{
			name:  "multiple origins",
			input: "https://app.pactum.ai,http://localhost:3000",
			want:  []string{"https://app.pactum.ai", "http://localhost:3000"},
		},
		{
			name:  "extra whitespace",
			input: "  https://a.example  ,  https://b.example  ",
			want:  []string{"https://a.example", "https://b.example"},
		},
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
		{
			name:  "trailing comma",
			input: "https://a.example,",
			want:  []string{"https://a.example"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseList(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("parseList(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseList(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

var configKeys = []string{
	"HTTP_ADDR", "PORT", "ENVIRONMENT", "JWT_EXPIRY", "ALLOWED_ORIGINS",
	"MAX_LIVE_CALLS", "SEPOLIA_RPC_URL", "ATTESTATION_TIMEOUT_SECONDS",
	"OPENAI_MODEL", "APNS_PRODUCTION", "STALE_MEETING_MINUTES",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("JWTExpiry = %v, want 24h", cfg.JWTExpiry)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil", cfg.AllowedOrigins)
	}
	if cfg.MaxLiveCalls != 50 {
		t.Errorf("MaxLiveCalls = %d, want 50", cfg.MaxLiveCalls)
	}
	if cfg.SepoliaRPCURL != "https://rpc.ankr.com/eth_sepolia" {
		t.Errorf("SepoliaRPCURL = %q", cfg.SepoliaRPCURL)
	}
	if cfg.AttestationTimeout != 60*time.Second {
		t.Errorf("AttestationTimeout = %v, want 60s", cfg.AttestationTimeout)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("OpenAIModel = %q, want gpt-4o-mini", cfg.OpenAIModel)
	}
	if cfg.APNsProduction {
		t.Error("APNsProduction = true, want false")
	}
	if cfg.StaleMeetingAge != 3*time.Hour {
		t.Errorf("StaleMeetingAge = %v, want 3h", cfg.StaleMeetingAge)
	}
}

func TestLoadConfigFromEnvCustomValues(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_EXPIRY", "2h")
	t.Setenv("ALLOWED_ORIGINS", "https://app.pactum.ai, http://localhost:3000")
	t.Setenv("MAX_LIVE_CALLS", "5000")
	t.Setenv("ATTESTATION_TIMEOUT_SECONDS", "1")
	t.Setenv("APNS_PRODUCTION", "true")
	t.Setenv("STALE_MEETING_MINUTES", "30")

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.Environment != "production" {
		t.Errorf("Environment = %q, want production", cfg.Environment)
	}
	if cfg.JWTExpiry != 2*time.Hour {
		t.Errorf("JWTExpiry = %v, want 2h", cfg.JWTExpiry)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://localhost:3000" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.MaxLiveCalls != 1000 {
		t.Errorf("MaxLiveCalls = %d, want clamp to 1000", cfg.MaxLiveCalls)
	}
	if cfg.AttestationTimeout != 5*time.Second {
		t.Errorf("AttestationTimeout = %v, want clamp to 5s", cfg.AttestationTimeout)
	}
	if !cfg.APNsProduction {
		t.Error("APNsProduction = false, want true")
	}
	if cfg.StaleMeetingAge != 30*time.Minute {
		t.Errorf("StaleMeetingAge = %v, want 30m", cfg.StaleMeetingAge)
	}
}

func TestLoadConfigFromEnvPort(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "3001")

	if got := LoadConfigFromEnv().HTTPAddr; got != ":3001" {
		t.Errorf("HTTPAddr = %q, want :3001", got)
	}
}
