package task

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// RecoverOutcome describes what recovery did to the store.
type RecoverOutcome struct {
	// Tasks is the backlog after recovery, already persisted.
	Tasks []Task

	// ItemsUpdated is the number of completions adopted from disk.
	ItemsUpdated int

	// Reset is true when the on-disk content was unparsable and the
	// store was rewritten wholesale from the trusted snapshot.
	Reset bool

	// Extracted is the number of task descriptions salvaged from
	// unparsable content.
	Extracted int

	// Warnings carries merge warnings and recovery notices.
	Warnings []string
}

// Recover repairs the store file in place using the trusted snapshot.
//
// Unparsable content is quarantined and the store is rewritten from trusted,
// plus any new task descriptions salvaged from the wreckage by best-effort
// pattern matching, so recorded completions are never lost to a syntactically
// broken write. Parsable but structurally invalid content goes through
// SmartMerge. Valid content is adopted as-is.
func (s *Store) Recover(trusted []Task, quarantineDir string) (*RecoverOutcome, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		out := &RecoverOutcome{Tasks: trusted, Reset: true,
			Warnings: []string{"store file disappeared, rewritten from trusted snapshot"}}
		return out, s.Save(trusted)
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	raw, decodeErr := DecodeAny(data, s.format)
	if decodeErr != nil {
		out := &RecoverOutcome{Reset: true}
		if qerr := quarantine(quarantineDir, s.path, data); qerr != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("quarantine failed: %v", qerr))
		}
		merged := append([]Task(nil), trusted...)
		for _, desc := range ExtractDescriptions(data) {
			if matchIndexes(desc, merged) != nil {
				continue
			}
			merged = append(merged, Task{Category: DefaultCategory, Description: desc, Steps: []string{}})
			out.Extracted++
		}
		out.Tasks = merged
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("store was unparsable (%v), rewritten from trusted snapshot with %d salvaged tasks", decodeErr, out.Extracted))
		return out, s.Save(merged)
	}

	if valid, reasons := ValidateValue(raw); !valid {
		mr := SmartMerge(trusted, raw)
		out := &RecoverOutcome{
			Tasks:        mr.Merged,
			ItemsUpdated: mr.ItemsUpdated,
			Warnings:     append([]string{fmt.Sprintf("store was structurally invalid: %s", strings.Join(reasons, "; "))}, mr.Warnings...),
		}
		return out, s.Save(mr.Merged)
	}

	tasks, err := Decode(data, s.format, s.path)
	if err != nil {
		// Validated but undecodable: fall back to the merge path.
		mr := SmartMerge(trusted, raw)
		out := &RecoverOutcome{Tasks: mr.Merged, ItemsUpdated: mr.ItemsUpdated, Warnings: mr.Warnings}
		return out, s.Save(mr.Merged)
	}
	return &RecoverOutcome{Tasks: tasks}, nil
}

// quarantine preserves corrupt store bytes under a timestamped name before
// recovery overwrites them.
func quarantine(dir, storePath string, data []byte) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}
	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(storePath), time.Now().Format("20060102T150405"))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return fmt.Errorf("write quarantine copy: %w", err)
	}
	return nil
}

var (
	jsonDescPattern = regexp.MustCompile(`"description"\s*:\s*"((?:[^"\\\n]|\\.)+)"`)
	yamlDescPattern = regexp.MustCompile(`(?m)^\s*(?:-\s+)?description:\s+(?:"([^"]+)"|'([^']+)'|([^\s#][^#\n]*))`)
)

// ExtractDescriptions pulls task descriptions out of unparsable store
// content. Best effort only: the result seeds new tasks with defaults and is
// never trusted for anything else.
func ExtractDescriptions(data []byte) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for _, m := range jsonDescPattern.FindAllStringSubmatch(string(data), -1) {
		add(unescapeJSONString(m[1]))
	}
	for _, m := range yamlDescPattern.FindAllStringSubmatch(string(data), -1) {
		for _, g := range m[1:] {
			if g != "" {
				add(g)
				break
			}
		}
	}
	return out
}

func unescapeJSONString(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\\`, `\`)
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\t`, "\t")
	return s
}
