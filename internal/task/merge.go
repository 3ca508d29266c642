package task

import (
	"fmt"
	"strings"
)

// MergeResult is the outcome of a SmartMerge.
type MergeResult struct {
	// Merged is the reconciled backlog: the trusted structure plus any
	// brand-new tasks found on disk.
	Merged []Task

	// ItemsUpdated counts trusted tasks whose passes flag was adopted
	// from the on-disk copy.
	ItemsUpdated int

	// Warnings describes ambiguous or unresolved description matches.
	Warnings []string
}

// SmartMerge reconciles a trusted in-memory snapshot against whatever the
// agent left on disk. Identity is the description: an exact match, or either
// description containing the other. The first match in on-disk order wins;
// ties between overlapping descriptions are not resolved beyond that, and the
// resulting non-determinism is a documented property of the merge.
//
// The merge never reverts a completion recorded in trusted, and every trusted
// task survives into the result. Tasks present on disk but matching nothing
// in trusted are appended with safe field defaults.
func SmartMerge(trusted []Task, current []any) MergeResult {
	res := MergeResult{Merged: make([]Task, len(trusted))}
	copy(res.Merged, trusted)

	currentTasks := make([]Task, 0, len(current))
	for i, el := range current {
		t, ok := coerceTask(el)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("discarded unrecoverable item %d", i))
			continue
		}
		currentTasks = append(currentTasks, t)
	}

	claimed := make([]bool, len(currentTasks))
	for i := range res.Merged {
		matches := matchIndexes(res.Merged[i].Description, currentTasks)
		if len(matches) == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("no match on disk for %q", res.Merged[i].Description))
			continue
		}
		if len(matches) > 1 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("ambiguous match for %q (%d candidates, using first)", res.Merged[i].Description, len(matches)))
		}
		first := matches[0]
		for _, m := range matches {
			claimed[m] = true
		}
		if currentTasks[first].Passes && !res.Merged[i].Passes {
			res.Merged[i].Passes = true
			res.ItemsUpdated++
		}
	}

	for i, ct := range currentTasks {
		if claimed[i] {
			// Matched a trusted description (possibly as a losing
			// candidate); carrying it over would duplicate work.
			continue
		}
		res.Merged = append(res.Merged, ct)
	}

	return res
}

// descriptionsMatch implements the fuzzy identity rule: exact equality or
// substring containment in either direction.
func descriptionsMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func matchIndexes(desc string, candidates []Task) []int {
	var out []int
	for i, c := range candidates {
		if descriptionsMatch(desc, c.Description) {
			out = append(out, i)
		}
	}
	return out
}

// coerceTask rebuilds a task from a generic store element, applying safe
// defaults for anything missing or mistyped. A usable description is the
// only hard requirement.
func coerceTask(el any) (Task, bool) {
	m, ok := asMap(el)
	if !ok {
		return Task{}, false
	}
	desc, ok := m["description"].(string)
	if !ok || desc == "" {
		return Task{}, false
	}

	t := Task{Description: desc, Category: DefaultCategory, Steps: []string{}}
	if c, ok := m["category"].(string); ok && c != "" {
		t.Category = c
	}
	if b, ok := m["branch"].(string); ok {
		t.Branch = b
	}
	t.Passes = coerceBool(m["passes"])
	if raw, ok := m["steps"].([]any); ok {
		for _, s := range raw {
			if step, ok := s.(string); ok {
				t.Steps = append(t.Steps, step)
			}
		}
	}
	return t, true
}

// coerceBool interprets the passes field loosely: agents have written it as
// a bool, a string, and a number.
func coerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}
