package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"TELEGRAM_BOT_TOKEN", "LLM_PROVIDER", "LLM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
	"GEMINI_API_KEY", "LLM_MODEL", "OPENAI_MODEL", "LLM_BASE_URL", "OPENAI_BASE_URL", "IMAGE_MODEL",
	"LLM_MAX_TOKENS", "POLICY_PATH", "LOG_LEVEL", "POLL_TIMEOUT", "MAX_CONCURRENT_EVENTS",
	"RANDOM_SEED", "WEBHOOK_ADDR", "WEBHOOK_URL", "WEBHOOK_SECRET", "HISTORY_BACKEND",
	"CONTEXT_DIR", "SQLITE_PATH", "DATABASE_URL", "HISTORY_RETENTION",
}

// clearEnv blanks every variable the config reads; blank counts as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range configEnv {
		t.Setenv(name, "")
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, "sk-test", cfg.LLMKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.Equal(t, 1024, cfg.MaxTokens)
	assert.Equal(t, "./prompt-config.json", cfg.PolicyPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30, cfg.PollTimeout)
	assert.Equal(t, 16, cfg.MaxConcurrent)
	assert.Zero(t, cfg.RandomSeed)
	assert.Equal(t, StoreConfig{Backend: BackendFile, ContextDir: "./contexts", SQLitePath: "./contexts.db", Retention: 200}, cfg.Store)
}

func TestLoadConfigProviderKey(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "ant-key")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, cfg.LLMProvider)
	assert.Equal(t, "ant-key", cfg.LLMKey)

	t.Setenv("LLM_API_KEY", "generic")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "generic", cfg.LLMKey, "LLM_API_KEY wins over the provider variable")
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("LLM_MODEL", "gpt-4.1")
	t.Setenv("RANDOM_SEED", "42")
	t.Setenv("MAX_CONCURRENT_EVENTS", "4")
	t.Setenv("HISTORY_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/chatter")
	t.Setenv("HISTORY_RETENTION", "50")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", cfg.LLMModel)
	assert.Equal(t, uint64(42), cfg.RandomSeed)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, 50, cfg.Store.Retention)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing token", map[string]string{"TELEGRAM_BOT_TOKEN": ""}, "TELEGRAM_BOT_TOKEN"},
		{"missing key", map[string]string{"OPENAI_API_KEY": ""}, "OPENAI_API_KEY"},
		{"missing model", map[string]string{"OPENAI_MODEL": ""}, "LLM_MODEL"},
		{"unknown provider", map[string]string{"LLM_PROVIDER": "mistral"}, "LLM_PROVIDER"},
		{"bad max tokens", map[string]string{"LLM_MAX_TOKENS": "-1"}, "LLM_MAX_TOKENS"},
		{"bad seed", map[string]string{"RANDOM_SEED": "seed"}, "RANDOM_SEED"},
		{"postgres without url", map[string]string{"HISTORY_BACKEND": "postgres"}, "DATABASE_URL"},
		{"unknown backend", map[string]string{"HISTORY_BACKEND": "redis"}, "HISTORY_BACKEND"},
		{"poll timeout too long", map[string]string{"POLL_TIMEOUT": "60"}, "POLL_TIMEOUT"},
		{"negative poll timeout", map[string]string{"POLL_TIMEOUT": "-1"}, "POLL_TIMEOUT"},
		{"bad retention", map[string]string{"HISTORY_RETENTION": "0"}, "HISTORY_RETENTION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
