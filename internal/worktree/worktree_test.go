package worktree

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// initRepo creates a git repository with one commit and returns its path.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "git", "init", "-q", "-b", "main")
	run(t, dir, "git", "config", "user.email", "test@example.com")
	run(t, dir, "git", "config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("test repo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, dir, "git", "add", ".")
	run(t, dir, "git", "commit", "-q", "-m", "initial commit")
	return dir
}

// initEmptyRepo creates a git repository with no commits.
func initEmptyRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "git", "init", "-q", "-b", "main")
	return dir
}

func run(t *testing.T, dir string, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("%s %v: %v\n%s", name, args, err, out)
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		project string
		branch  string
		want    string
	}{
		{"myapp", "feat/login", "myapp_feat-login"},
		{"myapp", "main", "myapp_main"},
		{"other", "feat/login", "other_feat-login"},
		{"myapp", "release/v2/hotfix", "myapp_release-v2-hotfix"},
	}
	for _, tt := range tests {
		if got := Name(tt.project, tt.branch); got != tt.want {
			t.Errorf("Name(%q, %q) = %q, want %q", tt.project, tt.branch, got, tt.want)
		}
	}
}

func TestNewManager_NotARepo(t *testing.T) {
	_, err := NewManager(t.TempDir(), t.TempDir(), "proj")
	if !errors.Is(err, ErrNotGitRepo) {
		t.Fatalf("err = %v, want ErrNotGitRepo", err)
	}
}

func TestCheckPreconditions(t *testing.T) {
	repo := initRepo(t)
	root := t.TempDir()

	m, err := NewManager(repo, root, "proj")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CheckPreconditions(); err != nil {
		t.Errorf("CheckPreconditions() = %v, want nil", err)
	}
}

func TestCheckPreconditions_MissingRoot(t *testing.T) {
	repo := initRepo(t)

	m, err := NewManager(repo, filepath.Join(t.TempDir(), "not-mounted"), "proj")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CheckPreconditions(); !errors.Is(err, ErrRootMissing) {
		t.Errorf("err = %v, want ErrRootMissing", err)
	}
}

func TestCheckPreconditions_EmptyRepo(t *testing.T) {
	repo := initEmptyRepo(t)

	m, err := NewManager(repo, t.TempDir(), "proj")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CheckPreconditions(); !errors.Is(err, ErrNoCommits) {
		t.Errorf("err = %v, want ErrNoCommits", err)
	}
}

func TestEnsure_CreatesAndReuses(t *testing.T) {
	repo := initRepo(t)
	root := t.TempDir()

	m, err := NewManager(repo, root, "proj")
	if err != nil {
		t.Fatal(err)
	}

	path, err := m.Ensure("feat/x")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if path != filepath.Join(root, "proj_feat-x") {
		t.Errorf("path = %q", path)
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Errorf("worktree missing checked-out files: %v", err)
	}

	// Drop a marker file; a second Ensure must reuse, not recreate.
	marker := filepath.Join(path, "marker.txt")
	if err := os.WriteFile(marker, []byte("kept"), 0644); err != nil {
		t.Fatal(err)
	}
	again, err := m.Ensure("feat/x")
	if err != nil {
		t.Fatalf("Ensure (reuse): %v", err)
	}
	if again != path {
		t.Errorf("reuse path = %q, want %q", again, path)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("existing worktree was recreated instead of reused")
	}
}

func TestEnsure_AttachesToExistingBranch(t *testing.T) {
	repo := initRepo(t)
	root := t.TempDir()
	run(t, repo, "git", "branch", "feat/existing")

	m, err := NewManager(repo, root, "proj")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Ensure("feat/existing"); err != nil {
		t.Fatalf("Ensure on existing branch: %v", err)
	}
}

func TestBaseBranch(t *testing.T) {
	repo := initRepo(t)

	m, err := NewManager(repo, t.TempDir(), "proj")
	if err != nil {
		t.Fatal(err)
	}
	base, err := m.BaseBranch()
	if err != nil {
		t.Fatal(err)
	}
	if base != "main" {
		t.Errorf("BaseBranch() = %q, want %q", base, "main")
	}
}
