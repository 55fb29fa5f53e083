package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentstream/config"
	"github.com/hupe1980/agentstream/core"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"serve", "chat", "config"} {
		assert.True(t, names[name], "missing subcommand %q", name)
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "schema"})

	require.NoError(t, cmd.Execute())
	assert.True(t, gjson.Valid(out.String()))
	assert.True(t, gjson.Get(out.String(), "$defs").Exists() || gjson.Get(out.String(), "properties").Exists())
}

func TestBuildServices_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "agentstream.db")
	cfg.Observability.Metrics = true
	cfg.Tools.Search.APIKey = "brave-key"
	cfg.Tools.GitHub.Enabled = true

	var logs bytes.Buffer
	svc, err := buildServices(cfg, &logs)
	require.NoError(t, err)
	defer func() { require.NoError(t, svc.Close(context.Background())) }()

	require.NotNil(t, svc.registry)
	require.NotNil(t, svc.metrics)

	ctx := context.Background()
	require.NoError(t, svc.app.Chats().Put(ctx, &core.Chat{ID: "c1", UserID: "u1"}))
	chats, err := svc.app.Chats().List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestCapabilities(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.Calculator = true
	cfg.Tools.Search.APIKey = "brave-key"
	cfg.Tools.WebFetch.Enabled = true
	cfg.Tools.WebFetch.AllowedHosts = []string{"example.com"}
	cfg.Tools.Spotify = config.OAuthConfig{Enabled: true, ClientID: "id", Scopes: []string{"user-read-playback-state"}}

	caps, err := capabilities(cfg)
	require.NoError(t, err)

	assert.True(t, caps.Calculator)
	assert.NotNil(t, caps.Search)
	assert.Nil(t, caps.GitHub)
	require.NotNil(t, caps.Spotify)
	assert.Equal(t, "id", caps.Spotify.ClientID)
	assert.Len(t, caps.Native.Specs(), 1)
}

func TestModelProvider_RequiresKey(t *testing.T) {
	provider := modelProvider(config.ModelConfig{Provider: "anthropic"})

	_, err := provider("")
	var agentErr *core.AgentError
	require.True(t, errors.As(err, &agentErr))
	assert.Equal(t, core.ErrorAuthentication, agentErr.Type)

	m, err := provider("sk-test")
	require.NoError(t, err)
	assert.NotNil(t, m)

	m, err = modelProvider(config.ModelConfig{Provider: "openai", Name: "gpt-4o"})("sk-test")
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestPrintSink(t *testing.T) {
	var out, status bytes.Buffer
	sink := printSink(chatParams{Out: &out, Status: &status})
	ctx := context.Background()

	for _, ev := range []core.StreamEvent{
		core.ReasoningDelta{Text: "hmm"},
		core.ToolStart{ID: "t1", Name: "calculator"},
		core.ToolEnd{ID: "t1", Name: "calculator", Result: "4"},
		core.TextDelta{Text: "2 + 2 = 4"},
		core.Done{},
	} {
		require.NoError(t, sink.Send(ctx, ev))
	}

	assert.Equal(t, "2 + 2 = 4\n", out.String())
	assert.Contains(t, status.String(), "[calculator] started")
	assert.Contains(t, status.String(), "[calculator] done")
	assert.NotContains(t, status.String(), "hmm")

	status.Reset()
	require.NoError(t, sink.Send(ctx, core.ErrorEvent{Err: &core.AgentError{Type: core.ErrorOverloaded, Message: "busy"}}))
	assert.Contains(t, status.String(), "error (overloaded): busy")
}
