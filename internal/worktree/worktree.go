// Package worktree manages isolated git working copies for branch-tagged
// task groups and materializes the branch-scoped workspace inside them.
package worktree

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNotGitRepo is returned when the project directory is not a git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// ErrRootMissing is returned when the configured worktrees root does not
// exist. In mounted-volume setups this usually means the mount is absent.
var ErrRootMissing = errors.New("worktrees root does not exist")

// ErrNoCommits is returned when the repository has no commits yet; a
// worktree cannot be created against an empty HEAD.
var ErrNoCommits = errors.New("repository has no commits")

// Manager handles git worktree lifecycle for one project.
type Manager struct {
	repoRoot      string
	worktreesRoot string
	project       string
}

// NewManager creates a worktree manager. Returns ErrNotGitRepo if repoRoot
// is not a git repository.
func NewManager(repoRoot, worktreesRoot, project string) (*Manager, error) {
	info, err := os.Stat(filepath.Join(repoRoot, ".git"))
	if err != nil {
		return nil, ErrNotGitRepo
	}
	// .git is a directory in a normal repo and a file inside a worktree.
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, ErrNotGitRepo
	}
	return &Manager{
		repoRoot:      repoRoot,
		worktreesRoot: worktreesRoot,
		project:       project,
	}, nil
}

// Name returns the deterministic worktree directory name for a branch.
// Slashes in the branch are flattened so names stay collision-resistant
// across multiple projects sharing one worktrees root.
func Name(project, branch string) string {
	return project + "_" + strings.ReplaceAll(branch, "/", "-")
}

// Path returns where the worktree for a branch lives.
func (m *Manager) Path(branch string) string {
	return filepath.Join(m.worktreesRoot, Name(m.project, branch))
}

// CheckPreconditions probes what worktree creation needs: the worktrees
// root must exist and the repository must have at least one commit. Callers
// skip branch groups on failure rather than aborting the run.
func (m *Manager) CheckPreconditions() error {
	info, err := os.Stat(m.worktreesRoot)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootMissing, m.worktreesRoot)
	}
	if !m.hasCommits() {
		return fmt.Errorf("%w: %s", ErrNoCommits, m.repoRoot)
	}
	return nil
}

// Ensure returns the worktree directory for a branch, creating it if needed.
// An existing directory is reused as-is: its local state (progress log,
// uncommitted work) is what makes interrupted branch groups resumable.
func (m *Manager) Ensure(branch string) (string, error) {
	wtPath := m.Path(branch)
	if _, err := os.Stat(wtPath); err == nil {
		return wtPath, nil
	}

	var cmd *exec.Cmd
	if m.branchExists(branch) {
		cmd = exec.Command("git", "worktree", "add", wtPath, branch)
	} else {
		cmd = exec.Command("git", "worktree", "add", wtPath, "-b", branch)
	}
	cmd.Dir = m.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("create worktree for %s: %s: %w", branch, strings.TrimSpace(string(output)), err)
	}
	return wtPath, nil
}

// BaseBranch returns the currently checked-out branch of the project repo.
func (m *Manager) BaseBranch() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = m.repoRoot
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("resolve base branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// branchExists checks for a local branch ref.
func (m *Manager) branchExists(branch string) bool {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = m.repoRoot
	return cmd.Run() == nil
}

// hasCommits reports whether HEAD resolves to a commit.
func (m *Manager) hasCommits() bool {
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", "HEAD")
	cmd.Dir = m.repoRoot
	return cmd.Run() == nil
}
