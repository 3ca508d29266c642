package agent

import (
	"strings"
	"testing"
)

func TestParseClaudeLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "system init",
			line: `{"type":"system","subtype":"init","cwd":"/tmp","session_id":"abc-123","model":"claude-opus-4-5-20251101"}`,
			want: []string{"[session started: claude-opus-4-5-20251101]"},
		},
		{
			name: "assistant text",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}`,
			want: []string{"working on it"},
		},
		{
			name: "assistant tool use",
			line: `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tool_1","name":"Read","input":{"path":"/tmp"}}]}}`,
			want: []string{"[tool: Read]"},
		},
		{
			name: "result with cost",
			line: `{"type":"result","subtype":"success","result":"all done","duration_ms":3000,"num_turns":4,"total_cost_usd":0.05}`,
			want: []string{"all done", "[done: 4 turns, $0.0500]"},
		},
		{
			name: "unknown event maps to nothing",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"h"}}}`,
			want: nil,
		},
		{
			name: "tool result event maps to nothing",
			line: `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tool_1"}]}}`,
			want: nil,
		},
		{
			name: "non-JSON passes through",
			line: "plain text from the agent",
			want: []string{"plain text from the agent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseClaudeLine(tt.line)
			assertLines(t, got, tt.want)
		})
	}
}

func TestParseCodexLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "agent message",
			line: `{"type":"item.completed","item":{"type":"agent_message","text":"implementing now"}}`,
			want: []string{"implementing now"},
		},
		{
			name: "command execution",
			line: `{"type":"item.completed","item":{"type":"command_execution","command":"go test ./...","exit_code":0}}`,
			want: []string{"$ go test ./..."},
		},
		{
			name: "failed command shows exit code",
			line: `{"type":"item.completed","item":{"type":"command_execution","command":"go build","exit_code":2}}`,
			want: []string{"$ go build", "[exit 2]"},
		},
		{
			name: "error event",
			line: `{"type":"error","message":"rate limited"}`,
			want: []string{"[error: rate limited]"},
		},
		{
			name: "turn boundary maps to nothing",
			line: `{"type":"turn.completed","usage":{"input_tokens":100}}`,
			want: nil,
		},
		{
			name: "non-JSON passes through",
			line: "warning: something",
			want: []string{"warning: something"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCodexLine(tt.line)
			assertLines(t, got, tt.want)
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	if got := reg.Get("claude")(`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`); len(got) != 1 || got[0] != "hi" {
		t.Errorf("claude parser not registered, got %v", got)
	}

	// Unknown providers fall back to passthrough.
	if got := reg.Get("mystery")(`{"type":"anything"}`); len(got) != 1 {
		t.Errorf("fallback parser should pass lines through, got %v", got)
	}

	// Adding a provider is one registry entry.
	reg.Register("custom", func(line string) []string {
		return []string{"custom:" + line}
	})
	if got := reg.Get("custom")("x"); len(got) != 1 || got[0] != "custom:x" {
		t.Errorf("custom parser = %v", got)
	}
}

func assertLines(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d lines %v, want %d lines %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLooksLikeJSON(t *testing.T) {
	if !looksLikeJSON(`  {"a":1}  `) {
		t.Error("object with surrounding whitespace should look like JSON")
	}
	if looksLikeJSON("plain {embedded} text") {
		t.Error("embedded braces are not a JSON line")
	}
	if looksLikeJSON(strings.Repeat("x", 10)) {
		t.Error("plain text is not JSON")
	}
}
