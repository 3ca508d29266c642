package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeStore_RoundTrip(t *testing.T) {
	store := NewResumeStore(filepath.Join(t.TempDir(), "state", "resume.json"))

	assert.Nil(t, store.Load())

	require.NoError(t, store.Save(ResumeState{BaseBranch: "main", CurrentBranch: "feat/x"}))

	st := store.Load()
	require.NotNil(t, st)
	assert.Equal(t, "main", st.BaseBranch)
	assert.Equal(t, "feat/x", st.CurrentBranch)

	require.NoError(t, store.Clear())
	assert.Nil(t, store.Load())
}

func TestResumeStore_ClearIsIdempotent(t *testing.T) {
	store := NewResumeStore(filepath.Join(t.TempDir(), "resume.json"))
	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
}

func TestResumeStore_CorruptStateTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"current_branch": `), 0644))

	assert.Nil(t, NewResumeStore(path).Load())
}

func TestResumeStore_EmptyBranchTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"base_branch":"main","current_branch":""}`), 0644))

	assert.Nil(t, NewResumeStore(path).Load())
}
