// Package config loads the project configuration from the control directory.
// The loaded struct is threaded explicitly through the orchestration call
// graph; nothing in this repository keeps configuration in package state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// ControlDirName is the per-project control directory.
const ControlDirName = ".taskloop"

// Default values applied when the config file is absent or partial.
const (
	DefaultStoreFile    = "tasks.json"
	DefaultProvider     = "claude"
	DefaultPollSeconds  = 30
	DefaultAgentTimeout = 30 * time.Minute
)

// Config is the per-project configuration from .taskloop/config.yml.
type Config struct {
	// ProjectName prefixes worktree directory names. Defaults to the
	// project directory's base name.
	ProjectName string `yaml:"project_name"`

	// StorePath is the task store file, relative to the project root
	// unless absolute. Its extension selects JSON or YAML.
	StorePath string `yaml:"store"`

	// WorktreesRoot is where branch worktrees are created. Defaults to
	// <project>/.worktrees.
	WorktreesRoot string `yaml:"worktrees_root"`

	// Provider names the agent CLI ("claude", "codex", or a custom
	// provider defined below).
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// Sandboxed asserts that runs happen inside an isolated environment,
	// enabling the provider's auto-approve flags.
	Sandboxed bool `yaml:"sandboxed"`

	// PollSeconds is the idle re-check interval in loop mode.
	PollSeconds int `yaml:"poll_seconds"`

	// AgentTimeoutMinutes bounds one agent iteration.
	AgentTimeoutMinutes int `yaml:"agent_timeout_minutes"`

	// NotifyCommand, if set, receives events as `cmd <event> <detail>`.
	NotifyCommand string `yaml:"notify_command"`

	// InstructionsPath points at a custom instruction template.
	InstructionsPath string `yaml:"instructions"`

	// SaveStreamLogs persists raw stream-json output per iteration.
	SaveStreamLogs bool `yaml:"save_stream_logs"`
}

// Load reads .taskloop/config.yml under projectRoot. A missing file yields
// defaults; only malformed content is an error.
func Load(projectRoot string) (*Config, error) {
	cfg := &Config{}
	path := filepath.Join(projectRoot, ControlDirName, "config.yml")
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if uerr := yamlv3.Unmarshal(data, cfg); uerr != nil {
			return nil, fmt.Errorf("parse %s: %w", path, uerr)
		}
	}
	cfg.applyDefaults(projectRoot)
	return cfg, nil
}

func (c *Config) applyDefaults(projectRoot string) {
	if c.ProjectName == "" {
		c.ProjectName = filepath.Base(projectRoot)
	}
	if c.StorePath == "" {
		c.StorePath = DefaultStoreFile
	}
	if !filepath.IsAbs(c.StorePath) {
		c.StorePath = filepath.Join(projectRoot, c.StorePath)
	}
	if c.WorktreesRoot == "" {
		c.WorktreesRoot = filepath.Join(projectRoot, ".worktrees")
	}
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.PollSeconds <= 0 {
		c.PollSeconds = DefaultPollSeconds
	}
	if c.InstructionsPath != "" && !filepath.IsAbs(c.InstructionsPath) {
		c.InstructionsPath = filepath.Join(projectRoot, c.InstructionsPath)
	}
	if c.InstructionsPath == "" {
		// A scaffolded template takes effect without config edits.
		candidate := filepath.Join(ControlDir(projectRoot), "instructions.md")
		if _, err := os.Stat(candidate); err == nil {
			c.InstructionsPath = candidate
		}
	}
}

// PollInterval returns the loop-mode idle interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// AgentTimeout returns the per-iteration timeout.
func (c *Config) AgentTimeout() time.Duration {
	if c.AgentTimeoutMinutes <= 0 {
		return DefaultAgentTimeout
	}
	return time.Duration(c.AgentTimeoutMinutes) * time.Minute
}

// ControlDir returns the control directory under projectRoot.
func ControlDir(projectRoot string) string {
	return filepath.Join(projectRoot, ControlDirName)
}

// LockPath returns the run-lock marker path.
func LockPath(projectRoot string) string {
	return filepath.Join(ControlDir(projectRoot), "run.lock")
}

// ResumePath returns the resume-state path.
func ResumePath(projectRoot string) string {
	return filepath.Join(ControlDir(projectRoot), "resume.json")
}

// QuarantinePath returns where corrupt store content is preserved.
func QuarantinePath(projectRoot string) string {
	return filepath.Join(ControlDir(projectRoot), "quarantine")
}

// LogDir returns the log directory.
func LogDir(projectRoot string) string {
	return filepath.Join(ControlDir(projectRoot), "logs")
}

// Instructions loads the custom instruction template, or nil when none is
// configured (callers fall back to the embedded default).
func (c *Config) Instructions() ([]byte, error) {
	if c.InstructionsPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.InstructionsPath)
	if err != nil {
		return nil, fmt.Errorf("read instructions template: %w", err)
	}
	return data, nil
}
