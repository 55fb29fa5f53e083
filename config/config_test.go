package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-test")

	path := writeConfig(t, `
server:
  port: 9000
  shutdown_timeout: 5s
model:
  provider: anthropic
  name: claude-sonnet-4-5
  api_key: ${TEST_ANTHROPIC_KEY}
agent:
  thinking_budget: 2048
  effort: medium
tools:
  calculator: true
  web_search:
    enabled: true
    max_uses: 3
storage:
  driver: sqlite
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, int64(2048), cfg.Agent.ThinkingBudget)
	assert.True(t, cfg.Tools.Calculator)
	assert.Equal(t, int64(3), cfg.Tools.WebSearch.MaxUses)
	assert.Equal(t, "agentstream.db", cfg.Storage.Path)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTSTREAM_PORT", "7070")
	t.Setenv("AGENTSTREAM_MODEL_PROVIDER", "openai")
	t.Setenv("AGENTSTREAM_METRICS", "true")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "sk-openai", cfg.Model.APIKey)
	assert.True(t, cfg.Observability.Metrics)
}

func TestLoad_WithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("server:\n  prot: 80\n"))
	assert.Error(t, err)

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Zero(t, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Model.Provider = "gemini"
	cfg.Agent.Effort = "extreme"
	cfg.Storage.Driver = "postgres"
	cfg.Observability.Tracing.SamplingRate = 2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.provider")
	assert.Contains(t, err.Error(), "agent.effort")
	assert.Contains(t, err.Error(), "storage.driver")
	assert.Contains(t, err.Error(), "sampling_rate")
}

func TestJSONSchema(t *testing.T) {
	raw, err := JSONSchema()
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(raw))

	assert.Contains(t, string(raw), "max_parallel_tools")
	assert.Contains(t, string(raw), "allowed_hosts")
}

func TestLoad_AccessTokens(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  access_tokens:\n    tok-a: alice\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tok-a": "alice"}, cfg.Server.AccessTokens)
	assert.Equal(t, "default", cfg.Server.UserID)

	t.Setenv("AGENTSTREAM_ACCESS_TOKENS", "tok-b=bob, broken ,tok-c=carol")
	t.Setenv("AGENTSTREAM_USER_ID", "owner")

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tok-b": "bob", "tok-c": "carol"}, cfg.Server.AccessTokens)
	assert.Equal(t, "owner", cfg.Server.UserID)
}

func TestValidate_AccessTokensNeedUser(t *testing.T) {
	cfg := Default()
	cfg.Server.AccessTokens = map[string]string{"tok": ""}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.access_tokens")
}
