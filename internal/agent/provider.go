package agent

import (
	"fmt"
	"regexp"
)

// PromptMode selects how workspace paths reach the agent.
type PromptMode string

const (
	// PromptInline embeds the workspace paths inside one prompt string.
	PromptInline PromptMode = "inline"

	// PromptFiles passes each workspace path behind a separate flag.
	PromptFiles PromptMode = "files"
)

// Provider describes how to invoke one agent CLI. The prompt delivery
// convention and flag vocabulary differ per provider and are configuration,
// not code.
type Provider struct {
	// Name keys the provider in config and in the stream parser registry.
	Name string `yaml:"name"`

	// Command is the CLI binary.
	Command string `yaml:"command"`

	// BaseArgs always precede everything else.
	BaseArgs []string `yaml:"base_args"`

	// YoloArgs enable auto-approval. They are appended only when running
	// inside an isolated environment; passing them on a developer machine
	// hands the agent an unsupervised shell.
	YoloArgs []string `yaml:"yolo_args"`

	// ModelFlag selects a model (e.g. "--model"); empty disables model
	// selection for this provider.
	ModelFlag string `yaml:"model_flag"`

	// StreamJSON turns on structured line-delimited JSON output.
	StreamJSON bool `yaml:"stream_json"`

	// StreamArgs are the flags that request structured output.
	StreamArgs []string `yaml:"stream_args"`

	// PromptMode is the prompt delivery convention.
	PromptMode PromptMode `yaml:"prompt_mode"`

	// FileFlag carries each workspace path in PromptFiles mode.
	FileFlag string `yaml:"file_flag"`
}

// Claude is the provider definition for the Claude Code CLI.
func Claude() Provider {
	return Provider{
		Name:       "claude",
		Command:    "claude",
		BaseArgs:   []string{"--print"},
		YoloArgs:   []string{"--dangerously-skip-permissions"},
		ModelFlag:  "--model",
		StreamJSON: true,
		StreamArgs: []string{"--output-format", "stream-json", "--verbose"},
		PromptMode: PromptInline,
	}
}

// Codex is the provider definition for the Codex CLI.
func Codex() Provider {
	return Provider{
		Name:       "codex",
		Command:    "codex",
		BaseArgs:   []string{"exec"},
		YoloArgs:   []string{"--dangerously-bypass-approvals-and-sandbox"},
		ModelFlag:  "--model",
		StreamJSON: true,
		StreamArgs: []string{"--json"},
		PromptMode: PromptInline,
	}
}

// Builtin returns a built-in provider definition by name.
func Builtin(name string) (Provider, bool) {
	switch name {
	case "claude":
		return Claude(), true
	case "codex":
		return Codex(), true
	default:
		return Provider{}, false
	}
}

// InlinePrompt builds the single prompt string used in PromptInline mode.
func InlinePrompt(inv Invocation) string {
	return fmt.Sprintf(
		"Read and follow the instructions in %s. Your assigned tasks are in %s. The progress log from previous iterations is in %s.",
		inv.Instructions, inv.TaskView, inv.ProgressLog)
}

// modelSuggestionPattern recognizes the "model not found, did you mean X"
// family of diagnostics across provider CLIs.
var modelSuggestionPattern = regexp.MustCompile(
	`(?is)model\b.{0,120}?not\s+(?:found|available|recognized).{0,160}?did you mean[:\s]+` + "[`'\"]?" + `([A-Za-z0-9][A-Za-z0-9._:-]*)`)

// SuggestedModel extracts the suggested model name from an error stream, if
// the diagnostic is recognizable. The caller retries the iteration once with
// the suggestion before counting a failure.
func SuggestedModel(stderr string) (string, bool) {
	m := modelSuggestionPattern.FindStringSubmatch(stderr)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}
