package agent

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSuggestedModel(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
		ok     bool
	}{
		{
			name:   "claude style",
			stderr: `Error: model 'claude-opus-5' not found. Did you mean 'claude-opus-4-5'?`,
			want:   "claude-opus-4-5",
			ok:     true,
		},
		{
			name:   "multiline diagnostic",
			stderr: "API error:\nThe requested model is not available.\nDid you mean: gpt-5-codex",
			want:   "gpt-5-codex",
			ok:     true,
		},
		{
			name:   "unrelated error",
			stderr: "Error: missing API key",
			ok:     false,
		},
		{
			name:   "not found without suggestion",
			stderr: "model foo not found",
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SuggestedModel(tt.stderr)
			if ok != tt.ok || got != tt.want {
				t.Errorf("SuggestedModel() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestBuildArgs_InlinePrompt(t *testing.T) {
	r := NewRunner(Claude(), true, "claude-opus-4-5", nil)
	inv := Invocation{
		Dir:          "/work",
		TaskView:     ".taskloop/tasks.json",
		ProgressLog:  ".taskloop/progress.md",
		Instructions: ".taskloop/instructions.md",
	}

	args := r.BuildArgs(inv, r.Model)
	joined := strings.Join(args, " ")

	if args[0] != "--print" {
		t.Errorf("args[0] = %q", args[0])
	}
	if !strings.Contains(joined, "--dangerously-skip-permissions") {
		t.Error("sandboxed run should include yolo flags")
	}
	if !strings.Contains(joined, "--model claude-opus-4-5") {
		t.Error("model flag missing")
	}
	if !strings.Contains(joined, "--output-format stream-json") {
		t.Error("stream args missing")
	}
	prompt := args[len(args)-1]
	for _, path := range []string{inv.TaskView, inv.ProgressLog, inv.Instructions} {
		if !strings.Contains(prompt, path) {
			t.Errorf("inline prompt missing %q", path)
		}
	}
}

func TestBuildArgs_NotSandboxed(t *testing.T) {
	r := NewRunner(Claude(), false, "", nil)
	args := r.BuildArgs(Invocation{}, "")
	joined := strings.Join(args, " ")

	if strings.Contains(joined, "--dangerously-skip-permissions") {
		t.Error("yolo flags must only appear in sandboxed runs")
	}
	if strings.Contains(joined, "--model") {
		t.Error("empty model must not produce a model flag")
	}
}

func TestBuildArgs_FilesMode(t *testing.T) {
	p := Provider{
		Name:       "filer",
		Command:    "filer",
		PromptMode: PromptFiles,
		FileFlag:   "--context-file",
	}
	r := NewRunner(p, false, "", nil)
	inv := Invocation{TaskView: "t.json", ProgressLog: "p.md", Instructions: "i.md"}

	args := r.BuildArgs(inv, "")
	want := []string{"--context-file", "i.md", "--context-file", "t.json", "--context-file", "p.md"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

// fakeShellProvider runs a shell script instead of a real agent CLI. The
// inline prompt lands in $0, which the script ignores.
func fakeShellProvider(script string) Provider {
	return Provider{
		Name:       "fake",
		Command:    "sh",
		BaseArgs:   []string{"-c", script},
		PromptMode: PromptInline,
	}
}

func TestRun_CapturesOutputAndExitCode(t *testing.T) {
	r := NewRunner(fakeShellProvider(`printf 'line one\nline two\n'; echo 'oops' >&2; exit 7`), false, "", nil)

	res, err := r.Run(context.Background(), Invocation{Dir: t.TempDir()}, RunOpts{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", res.ExitCode)
	}
	if res.Output != "line one\nline two\n" {
		t.Errorf("Output = %q", res.Output)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestRun_StreamsLines(t *testing.T) {
	r := NewRunner(fakeShellProvider(`printf 'a\nb\n'`), false, "", nil)

	stream := make(chan string, 10)
	res, err := r.Run(context.Background(), Invocation{Dir: t.TempDir()}, RunOpts{Stream: stream})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(stream)

	var got []string
	for chunk := range stream {
		got = append(got, chunk)
	}
	if len(got) != 2 || got[0] != "a\n" || got[1] != "b\n" {
		t.Errorf("streamed = %v", got)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
}

func TestRun_RawSinkGetsVerbatimLines(t *testing.T) {
	p := fakeShellProvider(`printf '{"type":"turn.completed"}\nplain\n'`)
	p.StreamJSON = true
	p.Name = "codex"
	r := NewRunner(p, false, "", nil)

	var raw strings.Builder
	res, err := r.Run(context.Background(), Invocation{Dir: t.TempDir()}, RunOpts{RawSink: &raw})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The parsed output drops the turn boundary, the raw sink keeps it.
	if strings.Contains(res.Output, "turn.completed") {
		t.Errorf("parsed output should not contain raw event, got %q", res.Output)
	}
	if raw.String() != "{\"type\":\"turn.completed\"}\nplain\n" {
		t.Errorf("raw = %q", raw.String())
	}
}

func TestRun_Timeout(t *testing.T) {
	r := NewRunner(fakeShellProvider(`sleep 5`), false, "", nil)

	start := time.Now()
	_, err := r.Run(context.Background(), Invocation{Dir: t.TempDir()}, RunOpts{Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout did not interrupt the child promptly")
	}
}
