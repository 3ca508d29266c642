package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseFunc maps one line of a provider's structured output stream to zero
// or more lines of human-readable text. Implementations are pure functions:
// the event vocabularies are open-ended and providers add event types
// without notice, so unknown events must map to nothing rather than error.
// Non-JSON lines pass through unchanged.
type ParseFunc func(line string) []string

// Registry holds the per-provider stream parsers. Adding a provider means
// adding one entry, not editing a shared conditional.
type Registry struct {
	parsers map[string]ParseFunc
}

// NewRegistry returns a registry seeded with the built-in parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]ParseFunc)}
	r.Register("claude", ParseClaudeLine)
	r.Register("codex", ParseCodexLine)
	return r
}

// Register adds or replaces the parser for a provider.
func (r *Registry) Register(name string, fn ParseFunc) {
	r.parsers[name] = fn
}

// Get returns the parser for a provider, falling back to passthrough for
// providers without structured output.
func (r *Registry) Get(name string) ParseFunc {
	if fn, ok := r.parsers[name]; ok {
		return fn
	}
	return Passthrough
}

// Passthrough returns every line unchanged.
func Passthrough(line string) []string {
	return []string{line}
}

// ParseClaudeLine handles the Claude Code stream-json vocabulary.
func ParseClaudeLine(line string) []string {
	var event struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
		Model   string `json:"model"`
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
				Name string `json:"name"`
			} `json:"content"`
		} `json:"message"`
		Result       string  `json:"result"`
		TotalCostUSD float64 `json:"total_cost_usd"`
		NumTurns     int     `json:"num_turns"`
		IsError      bool    `json:"is_error"`
	}
	if !looksLikeJSON(line) || json.Unmarshal([]byte(line), &event) != nil {
		return []string{line}
	}

	switch event.Type {
	case "system":
		if event.Subtype == "init" && event.Model != "" {
			return []string{fmt.Sprintf("[session started: %s]", event.Model)}
		}
		return nil
	case "assistant":
		var out []string
		for _, block := range event.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					out = append(out, block.Text)
				}
			case "tool_use":
				out = append(out, fmt.Sprintf("[tool: %s]", block.Name))
			}
		}
		return out
	case "result":
		var out []string
		if event.Result != "" {
			out = append(out, event.Result)
		}
		if event.TotalCostUSD > 0 {
			out = append(out, fmt.Sprintf("[done: %d turns, $%.4f]", event.NumTurns, event.TotalCostUSD))
		}
		return out
	default:
		// Open-ended vocabulary: tool results, stream deltas, turn
		// boundaries and whatever ships next week.
		return nil
	}
}

// ParseCodexLine handles the Codex CLI --json event vocabulary.
func ParseCodexLine(line string) []string {
	var event struct {
		Type string `json:"type"`
		Item struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			Command  string `json:"command"`
			ExitCode *int   `json:"exit_code"`
		} `json:"item"`
		Message string `json:"message"`
	}
	if !looksLikeJSON(line) || json.Unmarshal([]byte(line), &event) != nil {
		return []string{line}
	}

	switch event.Type {
	case "item.completed":
		switch event.Item.Type {
		case "agent_message", "reasoning":
			if event.Item.Text != "" {
				return []string{event.Item.Text}
			}
		case "command_execution":
			out := []string{fmt.Sprintf("$ %s", event.Item.Command)}
			if event.Item.ExitCode != nil && *event.Item.ExitCode != 0 {
				out = append(out, fmt.Sprintf("[exit %d]", *event.Item.ExitCode))
			}
			return out
		}
		return nil
	case "error":
		if event.Message != "" {
			return []string{fmt.Sprintf("[error: %s]", event.Message)}
		}
		return nil
	default:
		return nil
	}
}

func looksLikeJSON(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")
}
