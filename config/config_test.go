package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, ".docchat", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func clearEnv(t *testing.T) {
	t.Setenv("DOCCHAT_LLM", "")
	t.Setenv("DOCCHAT_MODEL", "")
	t.Setenv("CLAUDE_MODEL", "")
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, int64(DefaultMaxTokens), cfg.MaxTokens)
	assert.Equal(t, DefaultMaxToolRounds, cfg.MaxToolRounds)
	assert.Equal(t, DefaultCompletionTimeout, cfg.CompletionTimeout)
	assert.Equal(t, DefaultToolTimeout, cfg.ToolTimeout)
	assert.Equal(t, "docserver", cfg.ToolHost.Command)
	assert.Equal(t, DefaultResourceURI, cfg.ToolHost.ResourceURI)
	assert.Equal(t, ReferencesReject, cfg.UnresolvedReferences)
	assert.Equal(t, DefaultCommands(), cfg.Commands)
	assert.Contains(t, cfg.Documents.Hidden, ".docchat/**")

	// Applying twice does not duplicate hidden patterns.
	cfg.ApplyDefaults()
	count := 0
	for _, h := range cfg.Documents.Hidden {
		if h == ".docchat" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, `
llm: anthropic
model: claude-sonnet-4-0
max_tool_rounds: 3
tool_timeout: 5s
completion_timeout: 1m30s
parallel_tools: true
unresolved_references: keep
tool_host:
  command: go
  args: ["run", "./cmd/docserver"]
commands:
  - name: sum
    prompt: summarize
  - name: md
    prompt: rewrite_markdown
    argument: doc
toolsets:
  - name: default
    tools: ["*"]
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLMClient)
	assert.Equal(t, "claude-sonnet-4-0", cfg.Model)
	assert.Equal(t, 3, cfg.MaxToolRounds)
	assert.Equal(t, 5*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 90*time.Second, cfg.CompletionTimeout)
	assert.True(t, cfg.ParallelTools)
	assert.Equal(t, ReferencesKeep, cfg.UnresolvedReferences)
	assert.Equal(t, []string{"run", "./cmd/docserver"}, cfg.ToolHost.Args)

	sum, ok := cfg.GetCommand("sum")
	require.True(t, ok)
	assert.Equal(t, "summarize", sum.Prompt)
	assert.Equal(t, "doc_id", sum.Argument)
	assert.True(t, sum.NeedsResource())

	md, ok := cfg.GetCommand("md")
	require.True(t, ok)
	assert.Equal(t, "doc", md.Argument)

	_, ok = cfg.GetCommand("summarize")
	assert.False(t, ok)
}

func TestLoadFileEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "llm: openai\n")

	t.Setenv("DOCCHAT_LLM", "anthropic")
	t.Setenv("CLAUDE_MODEL", "claude-from-env")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLMClient)
	assert.Equal(t, "claude-from-env", cfg.Model)

	t.Setenv("DOCCHAT_MODEL", "explicit")
	cfg, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Model)
}

func TestLoadConfigProjectOverridesUser(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	writeConfig(t, home, "llm: gemini\nmodel: user-model\nmax_tool_rounds: 4\n")
	writeConfig(t, project, "model: project-model\n")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(project))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLMClient)
	assert.Equal(t, "project-model", cfg.Model)
	assert.Equal(t, 4, cfg.MaxToolRounds)
}

func TestValidate(t *testing.T) {
	t.Run("bad reference policy", func(t *testing.T) {
		cfg := &Config{UnresolvedReferences: "ignore"}
		cfg.ApplyDefaults()
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate command", func(t *testing.T) {
		cfg := &Config{Commands: []Command{{Name: "summarize"}, {Name: "summarize"}}}
		cfg.ApplyDefaults()
		assert.Error(t, cfg.Validate())
	})

	t.Run("command that takes free text", func(t *testing.T) {
		no := false
		cmd := Command{Name: "ask", ExpectsResource: &no}
		assert.False(t, cmd.NeedsResource())
	})
}

func TestGetToolset(t *testing.T) {
	t.Run("no toolsets selects all tools", func(t *testing.T) {
		cfg := &Config{}
		ts, err := cfg.GetToolset("anything")
		require.NoError(t, err)
		assert.Nil(t, ts)
	})

	cfg := &Config{Toolsets: []Toolset{
		{Name: "default", Tools: []string{"*"}},
		{Name: "readonly", Tools: []string{"read_doc_contents"}},
	}}

	t.Run("named toolset", func(t *testing.T) {
		ts, err := cfg.GetToolset("readonly")
		require.NoError(t, err)
		assert.Equal(t, "readonly", ts.Name)
	})

	t.Run("unknown falls back to default", func(t *testing.T) {
		ts, err := cfg.GetToolset("missing")
		require.NoError(t, err)
		assert.Equal(t, "default", ts.Name)
	})

	t.Run("missing default", func(t *testing.T) {
		cfg := &Config{Toolsets: []Toolset{{Name: "readonly"}}}
		_, err := cfg.GetToolset("")
		assert.Error(t, err)
	})
}
