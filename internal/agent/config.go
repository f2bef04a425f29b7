package agent

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dmorn/m4d-chatter/internal/history"
)

// Config is the process configuration, read from the environment.
type Config struct {
	TelegramToken string // TELEGRAM_BOT_TOKEN (required)
	LLMProvider   string // LLM_PROVIDER: openai, anthropic or gemini (default: openai)
	LLMKey        string // LLM_API_KEY, else the provider's own key variable (required)
	LLMModel      string // LLM_MODEL or OPENAI_MODEL (required)
	LLMBaseURL    string // LLM_BASE_URL or OPENAI_BASE_URL
	ImageModel    string // IMAGE_MODEL (default depends on provider)
	MaxTokens     int    // LLM_MAX_TOKENS (default: 1024)
	PolicyPath    string // POLICY_PATH (default: ./prompt-config.json)
	LogLevel      string // LOG_LEVEL (default: info)
	PollTimeout   int    // POLL_TIMEOUT (default: 30)
	MaxConcurrent int    // MAX_CONCURRENT_EVENTS (default: 16)
	RandomSeed    uint64 // RANDOM_SEED (default: 0, time based)
	WebhookAddr   string // WEBHOOK_ADDR; webhook mode when set
	WebhookURL    string // WEBHOOK_URL; registered with setWebhook when set
	WebhookSecret string // WEBHOOK_SECRET

	Store StoreConfig
}

// StoreConfig selects and configures the history backend.
type StoreConfig struct {
	Backend     string // HISTORY_BACKEND: file, sqlite or postgres (default: file)
	ContextDir  string // CONTEXT_DIR (default: ./contexts)
	SQLitePath  string // SQLITE_PATH (default: ./contexts.db)
	DatabaseURL string // DATABASE_URL (required for postgres)
	Retention   int    // HISTORY_RETENTION (default: 200)
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"

	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// MaxPollTimeout keeps getUpdates well under the Telegram client's 60s HTTP
// timeout.
const MaxPollTimeout = 50

func envOrDefault(name, fallback string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	return v
}

// firstEnv returns the first non-empty variable among names.
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func intEnvOrDefault(name string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func positiveIntEnv(name string, fallback int) (int, error) {
	n, err := intEnvOrDefault(name, fallback)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", name, n)
	}
	return n, nil
}

var providerKeyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

// LoadConfig returns an error if required vars are missing or malformed.
func LoadConfig() (*Config, error) {
	store, err := LoadStoreConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		TelegramToken: strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		LLMProvider:   strings.ToLower(envOrDefault("LLM_PROVIDER", ProviderOpenAI)),
		LLMModel:      firstEnv("LLM_MODEL", "OPENAI_MODEL"),
		LLMBaseURL:    firstEnv("LLM_BASE_URL", "OPENAI_BASE_URL"),
		ImageModel:    envOrDefault("IMAGE_MODEL", ""),
		PolicyPath:    envOrDefault("POLICY_PATH", "./prompt-config.json"),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		WebhookAddr:   envOrDefault("WEBHOOK_ADDR", ""),
		WebhookURL:    envOrDefault("WEBHOOK_URL", ""),
		WebhookSecret: envOrDefault("WEBHOOK_SECRET", ""),
		Store:         store,
	}

	keyEnv, ok := providerKeyEnv[cfg.LLMProvider]
	if !ok {
		return nil, fmt.Errorf("invalid LLM_PROVIDER %q: want openai, anthropic or gemini", cfg.LLMProvider)
	}
	cfg.LLMKey = firstEnv("LLM_API_KEY", keyEnv)

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("missing required env var: TELEGRAM_BOT_TOKEN")
	}
	if cfg.LLMKey == "" {
		return nil, fmt.Errorf("missing required env var: LLM_API_KEY or %s", keyEnv)
	}
	if cfg.LLMModel == "" {
		return nil, fmt.Errorf("missing required env var: LLM_MODEL or OPENAI_MODEL")
	}

	if cfg.MaxTokens, err = positiveIntEnv("LLM_MAX_TOKENS", 1024); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = intEnvOrDefault("POLL_TIMEOUT", 30); err != nil {
		return nil, err
	}
	if cfg.PollTimeout < 0 || cfg.PollTimeout > MaxPollTimeout {
		return nil, fmt.Errorf("invalid POLL_TIMEOUT: want 0..%d seconds, got %d", MaxPollTimeout, cfg.PollTimeout)
	}
	if cfg.MaxConcurrent, err = positiveIntEnv("MAX_CONCURRENT_EVENTS", 16); err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(os.Getenv("RANDOM_SEED")); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RANDOM_SEED: %w", err)
		}
		cfg.RandomSeed = seed
	}
	return cfg, nil
}

// LoadStoreConfig reads only the history backend settings, for commands
// that inspect history without running the bot.
func LoadStoreConfig() (StoreConfig, error) {
	cfg := StoreConfig{
		Backend:     strings.ToLower(envOrDefault("HISTORY_BACKEND", BackendFile)),
		ContextDir:  envOrDefault("CONTEXT_DIR", "./contexts"),
		SQLitePath:  envOrDefault("SQLITE_PATH", "./contexts.db"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
	var err error
	if cfg.Retention, err = positiveIntEnv("HISTORY_RETENTION", history.DefaultRetention); err != nil {
		return StoreConfig{}, err
	}

	switch cfg.Backend {
	case BackendFile, BackendSQLite:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return StoreConfig{}, fmt.Errorf("missing required env var: DATABASE_URL (HISTORY_BACKEND=postgres)")
		}
	default:
		return StoreConfig{}, fmt.Errorf("invalid HISTORY_BACKEND %q: want file, sqlite or postgres", cfg.Backend)
	}
	return cfg, nil
}
