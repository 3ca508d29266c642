package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// ErrStoreExists is returned by Init when the store file already exists.
var ErrStoreExists = errors.New("task store already exists")

// ErrStoreMissing is returned when the store file does not exist.
var ErrStoreMissing = errors.New("task store not found")

// Store binds the backlog to one file. All writes are whole-file rewrites:
// the store is not an append log and is never partially updated in place.
type Store struct {
	path   string
	format Format
}

// NewStore creates a store bound to the given file path. The encoding is
// chosen by extension.
func NewStore(path string) *Store {
	return &Store{path: path, format: DetectFormat(path)}
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Format returns the store encoding.
func (s *Store) Format() Format {
	return s.format
}

// Exists reports whether the store file is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read returns the raw store bytes.
func (s *Store) Read() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStoreMissing, s.path)
		}
		return nil, err
	}
	return data, nil
}

// Load parses the store file. It returns *FormatError when the content is
// not a parsable array at all, and *ValidationError when it parses but is
// not structurally an array of task records.
func (s *Store) Load() ([]Task, error) {
	data, err := s.Read()
	if err != nil {
		return nil, err
	}
	return Decode(data, s.format, s.path)
}

// Decode parses store-shaped content. Errors follow the Load contract.
func Decode(data []byte, format Format, path string) ([]Task, error) {
	raw, err := DecodeAny(data, format)
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}
	if valid, reasons := ValidateValue(raw); !valid {
		return nil, &ValidationError{Path: path, Reasons: reasons}
	}
	var tasks []Task
	if format == FormatYAML {
		err = yamlv3.Unmarshal(data, &tasks)
	} else {
		err = json.Unmarshal(data, &tasks)
	}
	if err != nil {
		// Validation passed, so a decode failure here is a shape the
		// struct cannot hold; treat it the same as invalid structure.
		return nil, &ValidationError{Path: path, Reasons: []string{err.Error()}}
	}
	return tasks, nil
}

// DecodeAny parses the content into a generic value and requires the top
// level to be an array. The elements are not checked.
func DecodeAny(data []byte, format Format) ([]any, error) {
	var raw any
	var err error
	if format == FormatYAML {
		err = yamlv3.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, err
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %T, want array", raw)
	}
	return arr, nil
}

// Save rewrites the store atomically: temp file in the same directory,
// re-read validation, backup of the previous content, then rename.
func (s *Store) Save(tasks []Task) error {
	if tasks == nil {
		tasks = []Task{}
	}
	content, err := Encode(tasks, s.format)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".taskloop-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Re-read and re-parse what actually hit the disk before it can
	// replace the only copy of the backlog.
	written, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("read temp file back: %w", err)
	}
	if _, err := DecodeAny(written, s.format); err != nil {
		return fmt.Errorf("written store failed validation: %w", err)
	}

	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".bak", prev, 0644); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Encode serializes tasks in the given format.
func Encode(tasks []Task, format Format) ([]byte, error) {
	if tasks == nil {
		tasks = []Task{}
	}
	if format == FormatYAML {
		content, err := yamlv3.Marshal(tasks)
		if err != nil {
			return nil, fmt.Errorf("yaml marshal: %w", err)
		}
		return content, nil
	}
	content, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return append(content, '\n'), nil
}

// Init creates a new store file with a single placeholder task. It refuses
// to overwrite an existing store.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrStoreExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	placeholder := []Task{{
		Category:    "setup",
		Description: "Replace this placeholder with the first real task",
		Steps:       []string{},
	}}
	return NewStore(path).Save(placeholder)
}
