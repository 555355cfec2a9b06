// Package config loads the closed process configuration from the
// environment. Every field is enumerated here; subsystems receive the values
// they need through their constructors, and runtime-switchable values (model
// default, consolidation schedule) change through explicit setters on the
// owning subsystem, not by re-reading the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// minSigningKeyLen is the floor on FRIDAY_SIGNING_KEY length. A shorter key
// weakens the audit chain HMAC.
const minSigningKeyLen = 32

// Config is the full process configuration. Closed struct: no free-form
// bag; unknown environment variables are ignored.
type Config struct {
	// Required secrets.
	SigningKey        string // FRIDAY_SIGNING_KEY, >= 32 chars, signs the audit chain
	TokenSecret       string // FRIDAY_TOKEN_SECRET, signs session JWTs
	EncryptionKey     string // FRIDAY_ENCRYPTION_KEY, encrypts integration config at rest
	AdminPasswordHash string // FRIDAY_ADMIN_PASSWORD_HASH, bcrypt

	// Storage.
	DatabaseURL   string // DATABASE_URL, Postgres; empty = SQLite lite mode
	DataDir       string // FRIDAY_DATA_DIR, default ./data
	RedisURL      string // REDIS_URL, rate-limit counter store
	MilvusAddress string // MILVUS_ADDRESS, remote vector index

	// HTTP.
	Port int // FRIDAY_PORT, default 8080

	// AI providers. Key presence decides model availability in the router.
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DeepSeekAPIKey  string
	MistralAPIKey   string
	GrokAPIKey      string
	GeminiAPIKey    string
	OllamaHost      string

	DefaultProvider string // FRIDAY_DEFAULT_PROVIDER
	DefaultModel    string // FRIDAY_DEFAULT_MODEL
	DailyTokenLimit int64  // FRIDAY_DAILY_TOKEN_LIMIT, 0 = no ceiling

	// Memory consolidation.
	ConsolidationSchedule string // FRIDAY_CONSOLIDATION_SCHEDULE, 5-field cron

	// Extensions.
	ExtensionsDir string // FRIDAY_EXTENSIONS_DIR
	AllowWebhooks bool   // FRIDAY_ALLOW_WEBHOOKS, default true

	// Observability.
	OTLPEndpoint string // FRIDAY_OTLP_ENDPOINT, empty = disabled

	// Integrations that start with the process.
	Autostart map[string]bool // FRIDAY_AUTOSTART_<PLATFORM>=true

	// Version is injected by the build; treated as configuration so the
	// banner and the status endpoint read one source.
	Version string
}

// Load reads .env (if present) and the environment into a Config and
// validates it. The .env file never overrides variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SigningKey:        os.Getenv("FRIDAY_SIGNING_KEY"),
		TokenSecret:       os.Getenv("FRIDAY_TOKEN_SECRET"),
		EncryptionKey:     os.Getenv("FRIDAY_ENCRYPTION_KEY"),
		AdminPasswordHash: os.Getenv("FRIDAY_ADMIN_PASSWORD_HASH"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DataDir:       getenvDefault("FRIDAY_DATA_DIR", "data"),
		RedisURL:      os.Getenv("REDIS_URL"),
		MilvusAddress: os.Getenv("MILVUS_ADDRESS"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		MistralAPIKey:   os.Getenv("MISTRAL_API_KEY"),
		GrokAPIKey:      os.Getenv("GROK_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		OllamaHost:      os.Getenv("OLLAMA_HOST"),

		DefaultProvider: os.Getenv("FRIDAY_DEFAULT_PROVIDER"),
		DefaultModel:    os.Getenv("FRIDAY_DEFAULT_MODEL"),

		ConsolidationSchedule: getenvDefault("FRIDAY_CONSOLIDATION_SCHEDULE", "0 3 * * *"),

		ExtensionsDir: os.Getenv("FRIDAY_EXTENSIONS_DIR"),
		AllowWebhooks: getenvDefault("FRIDAY_ALLOW_WEBHOOKS", "true") == "true",

		OTLPEndpoint: os.Getenv("FRIDAY_OTLP_ENDPOINT"),

		Autostart: autostartFromEnv(os.Environ()),
	}

	port := getenvDefault("FRIDAY_PORT", "8080")
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("config: FRIDAY_PORT %q is not a valid port", port)
	}
	cfg.Port = p

	if raw := os.Getenv("FRIDAY_DAILY_TOKEN_LIMIT"); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("config: FRIDAY_DAILY_TOKEN_LIMIT %q is not a non-negative integer", raw)
		}
		cfg.DailyTokenLimit = limit
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and key strength.
func (c *Config) Validate() error {
	if len(c.SigningKey) < minSigningKeyLen {
		return fmt.Errorf("config: FRIDAY_SIGNING_KEY must be at least %d characters", minSigningKeyLen)
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("config: FRIDAY_TOKEN_SECRET is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("config: FRIDAY_ENCRYPTION_KEY is required")
	}
	if c.AdminPasswordHash == "" {
		return fmt.Errorf("config: FRIDAY_ADMIN_PASSWORD_HASH is required")
	}
	return nil
}

// autostartFromEnv collects FRIDAY_AUTOSTART_<PLATFORM>=true switches into a
// lowercase platform set.
func autostartFromEnv(environ []string) map[string]bool {
	const prefix = "FRIDAY_AUTOSTART_"
	out := make(map[string]bool)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		platform := strings.ToLower(strings.TrimPrefix(key, prefix))
		if platform != "" {
			out[platform] = value == "true" || value == "1"
		}
	}
	return out
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
