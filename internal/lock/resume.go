package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ResumeState points at the branch group being actively executed. Its
// presence after an unclean process exit is the only signal that a
// partially-worked branch group exists.
type ResumeState struct {
	BaseBranch    string `json:"base_branch"`
	CurrentBranch string `json:"current_branch"`
}

// ResumeStore persists ResumeState as a small whole-file JSON document.
type ResumeStore struct {
	path string
}

// NewResumeStore binds the resume state to a file path.
func NewResumeStore(path string) *ResumeStore {
	return &ResumeStore{path: path}
}

// Load returns the persisted state, or nil when none exists. An unreadable
// state file is treated as absent: resuming is an optimization, and a
// half-written pointer must not block a restart.
func (s *ResumeStore) Load() *ResumeState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var st ResumeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil
	}
	if st.CurrentBranch == "" {
		return nil
	}
	return &st
}

// Save persists the state before a branch group executes.
func (s *ResumeStore) Save(st ResumeState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal resume state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write resume state: %w", err)
	}
	return nil
}

// Clear removes the state once its branch group has fully returned,
// including output sync and store recovery.
func (s *ResumeStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear resume state: %w", err)
	}
	return nil
}
