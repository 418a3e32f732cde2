package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(databaseDriverEnv, "")
	t.Setenv(openAIAPIKeyEnv, "")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "standard", cfg.Workflow.DefaultDepth)
	require.Contains(t, cfg.Search.Plans, "deep")
	assert.Len(t, cfg.Search.Plans["basic"], 2)
	assert.Len(t, cfg.Search.Plans["standard"], 4)
	assert.Len(t, cfg.Search.Plans["deep"], 7)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.yaml")
	raw := `
logging:
  level: warn
database:
  driver: Postgres
  dsn: postgres://file
llm:
  model: file-model
  timeout: 45s
search:
  plans:
    basic:
      - name: company_info
        queries: ["{company} overview"]
workflow:
  retainFinished: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	t.Setenv(configPathEnv, path)
	t.Setenv(databaseDSNEnv, "postgres://env")
	t.Setenv(openAIBaseURLEnv, "http://localhost:9999/v1/")
	t.Setenv(openAIModelEnv, "")
	t.Setenv(databaseDriverEnv, "")
	t.Setenv(logLevelEnv, "")

	cfg := Load()

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, "file-model", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "http://localhost:9999/v1/chat/completions", cfg.LLM.Endpoint)
	assert.Equal(t, 5*time.Minute, cfg.Workflow.RetainFinished)
	assert.Equal(t, time.Minute, cfg.Workflow.JanitorInterval)

	require.Len(t, cfg.Search.Plans["basic"], 1)
	assert.Equal(t, []string{"{company} overview"}, cfg.Search.Plans["basic"][0].Queries)
	assert.Len(t, cfg.Search.Plans["deep"], 7)
}

func TestLoadIgnoresBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: [unterminated"), 0o600))
	t.Setenv(configPathEnv, path)
	t.Setenv(logLevelEnv, "")

	cfg := Load()
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestTelegramFromEnv(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(telegramTokenEnv, "")
	t.Setenv(telegramChatEnv, "")

	cfg := Load()
	assert.False(t, cfg.Telegram.Enabled())
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.APIBase)

	t.Setenv(telegramTokenEnv, "token")
	t.Setenv(telegramChatEnv, "42")
	cfg = Load()
	assert.True(t, cfg.Telegram.Enabled())
}
