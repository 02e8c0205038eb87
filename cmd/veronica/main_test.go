package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/veronica/internal/config"
	"github.com/nugget/veronica/internal/llm"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "veronica.db")
	cfg.Listen.Address = "127.0.0.1"
	cfg.Listen.Port = 0
	return cfg
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		require.NoError(t, run(context.Background(), &out, &out, args))
		assert.Contains(t, out.String(), "Usage: veronica")
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"launch"}, "unknown command: launch"},
		{[]string{"-x"}, "unknown flag: -x"},
		{[]string{"-o", "xml", "version"}, "unknown output format"},
		{[]string{"ask"}, "usage: veronica ask"},
		{[]string{"-config", "/nonexistent/config.yaml", "serve"}, "config file not found"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		err := run(context.Background(), &out, &out, tt.args)
		require.ErrorContains(t, err, tt.want, "%v", tt.args)
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &out, &out, []string{"version"}))
	assert.Contains(t, out.String(), "Veronica dev")

	out.Reset()
	require.NoError(t, run(context.Background(), &out, &out, []string{"-o", "json", "version"}))
	var info map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "dev", info["version"])
}

func TestAsk_ScriptedConversation(t *testing.T) {
	cfg := testConfig(t)
	client := llm.NewScriptedClient(
		llm.Call("create_todo", `{"task":"water the plants"}`),
		llm.Text("Done, I added water the plants."),
	)
	var out bytes.Buffer

	err := ask(context.Background(), &out, cfg, client, slog.New(slog.DiscardHandler), "text", "remind me to water the plants")
	require.NoError(t, err)
	assert.Equal(t, "Done, I added water the plants.\n", out.String())

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, config.DefaultSystemPrompt, reqs[0].System)
}

func TestAsk_JSONOutput(t *testing.T) {
	cfg := testConfig(t)
	client := llm.NewScriptedClient(llm.Call("reply_with_expression", `{"content":"Yay!","animationName":"Happy"}`))
	var out bytes.Buffer

	require.NoError(t, ask(context.Background(), &out, cfg, client, slog.New(slog.DiscardHandler), "json", "I got the job"))

	var res struct {
		Reply struct {
			Content   string `json:"content"`
			Animation string `json:"animation"`
		} `json:"reply"`
		Actions []string `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "Yay!", res.Reply.Content)
	assert.Equal(t, "Happy", res.Reply.Animation)
	assert.Equal(t, []string{"reply_with_expression"}, res.Actions)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		errc <- serve(ctx, cfg, llm.NewScriptedClient(), slog.New(slog.DiscardHandler))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

func TestServe_BadPromptFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Prompt.File = filepath.Join(t.TempDir(), "missing.md")

	err := serve(context.Background(), cfg, llm.NewScriptedClient(), slog.New(slog.DiscardHandler))
	require.ErrorContains(t, err, "read prompt file")
}

func TestRunInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	var out bytes.Buffer

	require.NoError(t, runInit(&out, dir))

	cfgPath := filepath.Join(dir, "config.yaml")
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "history:")

	info, err := os.Stat(cfgPath)
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&0o077, "config.yaml should not be group or world readable")

	_, err = os.Stat(filepath.Join(dir, "prompt.md"))
	require.NoError(t, err)

	// Existing files are left alone.
	require.NoError(t, os.WriteFile(cfgPath, []byte("log_level: debug\n"), 0o600))
	require.NoError(t, runInit(&out, dir))
	data, err = os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "log_level: debug\n", string(data))
}

func TestExampleConfigLoads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runInit(&bytes.Buffer{}, dir))
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, 10, cfg.History.Capacity)
}
