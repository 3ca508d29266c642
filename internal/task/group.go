package task

// Group is a branch-tagged partition of incomplete work. Branch is empty for
// tasks that run in the primary workspace.
type Group struct {
	Branch string
	Tasks  []Task
}

// GroupIncomplete partitions the incomplete tasks by branch tag, after
// applying the category filter. Tasks tagged with the current base branch
// belong in the primary workspace and are folded into the untagged group.
// Groups appear in order of their first task in the store; iteration order
// is what makes target selection deterministic.
func GroupIncomplete(tasks []Task, category, baseBranch string) []Group {
	var groups []Group
	index := make(map[string]int)

	for _, t := range FilterCategory(tasks, category) {
		if t.Passes {
			continue
		}
		branch := t.Branch
		if branch == baseBranch {
			branch = ""
		}
		i, ok := index[branch]
		if !ok {
			i = len(groups)
			index[branch] = i
			groups = append(groups, Group{Branch: branch})
		}
		groups[i].Tasks = append(groups[i].Tasks, t)
	}
	return groups
}

// SelectTarget picks the group to execute this iteration. A resume branch
// names the target unconditionally; otherwise the group of the first
// incomplete task wins. The second return is false when no group matches the
// resume branch (it was finished or pruned since the state was written), in
// which case the caller should clear the stale state and use the fallback.
func SelectTarget(groups []Group, resumeBranch string) (Group, bool) {
	if len(groups) == 0 {
		return Group{}, false
	}
	if resumeBranch != "" {
		for _, g := range groups {
			if g.Branch == resumeBranch {
				return g, true
			}
		}
		return groups[0], false
	}
	return groups[0], true
}
