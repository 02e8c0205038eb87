package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600))
	t.Chdir(dir)

	got, err := FindConfig("")
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", got)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("VERONICA_TEST_KEY", "sk-test-123")
	path := writeConfig(t, "openai:\n  api_key: ${VERONICA_TEST_KEY}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.OpenAI.APIKey)
}

func TestLoad_KeepsDefaults(t *testing.T) {
	path := writeConfig(t, "history:\n  capacity: 4\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.History.Capacity)
	assert.Equal(t, "gpt-3.5-turbo", cfg.OpenAI.Model)
	assert.Equal(t, 3000, cfg.Listen.Port)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout())
}

func TestLoad_ZeroCapacityRejected(t *testing.T) {
	path := writeConfig(t, "history:\n  capacity: 0\n")

	_, err := Load(path)
	require.ErrorContains(t, err, "history.capacity")
}

func TestLoad_Policies(t *testing.T) {
	path := writeConfig(t, `
dispatch:
  policies:
    reply_with_expression:
      follow_up: true
    train_status:
      terminal_on_failure: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	p := cfg.Dispatch.Policies["reply_with_expression"]
	require.NotNil(t, p.FollowUp)
	assert.True(t, *p.FollowUp)
	assert.Nil(t, p.TerminalOnFailure)

	tp := cfg.Dispatch.Policies["train_status"]
	require.NotNil(t, tp.TerminalOnFailure)
	assert.False(t, *tp.TerminalOnFailure)
}

func TestValidate_DevicesPath(t *testing.T) {
	tests := []struct {
		path string
		ok   bool
	}{
		{"/ws", true},
		{"/devices/ws", true},
		{"/ws/", true},
		{"", false},
		{"ws", false},
		{"/", false},
		{"/ping", false},
		{"/health/", false},
		{"/version", false},
		{"/clear", false},
		{"/todo", false},
		{"/memory", false},
		{"/v1", false},
		{"/v1/devices", false},
		{"/storetoken/refreshtoken", false},
		{"/ws/{id}", false},
		{"/my ws", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			cfg := Default()
			cfg.Devices.Path = tt.path
			err := cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, "devices.path")
		})
	}
}

func TestLoad_RejectsBadDevicesPath(t *testing.T) {
	path := writeConfig(t, "devices:\n  path: ping\n")

	_, err := Load(path)
	require.ErrorContains(t, err, "devices.path")
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "chatty"
	require.ErrorContains(t, cfg.Validate(), "unknown log level")
}

func TestDefault_Valid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestSystemPrompt_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("be brief"), 0600))

	cfg := Default()
	cfg.Prompt.File = path
	got, err := cfg.SystemPrompt()
	require.NoError(t, err)
	assert.Equal(t, "be brief", got)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{" trace ", LevelTrace},
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewLogger_RendersTrace(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "trace")
	require.NoError(t, err)

	logger.Log(t.Context(), LevelTrace, "payload")
	assert.Contains(t, buf.String(), "level=TRACE")
}
