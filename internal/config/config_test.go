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
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Base(root), cfg.ProjectName)
	assert.Equal(t, filepath.Join(root, "tasks.json"), cfg.StorePath)
	assert.Equal(t, filepath.Join(root, ".worktrees"), cfg.WorktreesRoot)
	assert.Equal(t, "claude", cfg.Provider)
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.Equal(t, 30*time.Minute, cfg.AgentTimeout())
	assert.False(t, cfg.Sandboxed)
}

func TestLoadFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(ControlDir(root), 0o755))
	body := `project_name: demo
store: backlog.yml
provider: codex
model: o4-mini
sandboxed: true
poll_seconds: 5
agent_timeout_minutes: 10
notify_command: notify-send
`
	require.NoError(t, os.WriteFile(filepath.Join(ControlDir(root), "config.yml"), []byte(body), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.ProjectName)
	assert.Equal(t, filepath.Join(root, "backlog.yml"), cfg.StorePath)
	assert.Equal(t, "codex", cfg.Provider)
	assert.Equal(t, "o4-mini", cfg.Model)
	assert.True(t, cfg.Sandboxed)
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.Equal(t, 10*time.Minute, cfg.AgentTimeout())
	assert.Equal(t, "notify-send", cfg.NotifyCommand)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(ControlDir(root), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ControlDir(root), "config.yml"), []byte("model: opus\n"), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "opus", cfg.Model)
	assert.Equal(t, "claude", cfg.Provider)
	assert.Equal(t, 30, cfg.PollSeconds)
}

func TestLoadMalformed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(ControlDir(root), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ControlDir(root), "config.yml"), []byte("provider: [unterminated"), 0o644))

	_, err := Load(root)
	require.Error(t, err)
}

func TestInstructionsOptional(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)

	data, err := cfg.Instructions()
	require.NoError(t, err)
	assert.Nil(t, data)

	tmpl := filepath.Join(root, "custom.md")
	require.NoError(t, os.WriteFile(tmpl, []byte("do the thing"), 0o644))
	cfg.InstructionsPath = tmpl

	data, err = cfg.Instructions()
	require.NoError(t, err)
	assert.Equal(t, "do the thing", string(data))
}

func TestScaffoldedInstructionsPickedUp(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(ControlDir(root), 0o755))
	scaffold := filepath.Join(ControlDir(root), "instructions.md")
	require.NoError(t, os.WriteFile(scaffold, []byte("custom contract"), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, scaffold, cfg.InstructionsPath)

	data, err := cfg.Instructions()
	require.NoError(t, err)
	assert.Equal(t, "custom contract", string(data))
}

func TestControlPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/p", ".taskloop", "run.lock"), LockPath("/p"))
	assert.Equal(t, filepath.Join("/p", ".taskloop", "resume.json"), ResumePath("/p"))
	assert.Equal(t, filepath.Join("/p", ".taskloop", "quarantine"), QuarantinePath("/p"))
}
