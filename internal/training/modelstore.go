package training

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ModelStore keeps fitted models as JSON files, one per version.
type ModelStore struct {
	dir string
}

// NewModelStore creates dir if needed.
func NewModelStore(dir string) (*ModelStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &ModelStore{dir: dir}, nil
}

// Path returns the file a version is stored in.
func (s *ModelStore) Path(version string) string {
	return filepath.Join(s.dir, version+".json")
}

// Save writes the model under its version. The file appears atomically.
func (s *ModelStore) Save(m Model) (string, error) {
	if m.Version == "" {
		return "", errors.New("model has no version")
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode model: %w", err)
	}

	path := s.Path(m.Version)
	tmp, err := os.CreateTemp(s.dir, ".model-*")
	if err != nil {
		return "", fmt.Errorf("create model file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename model file: %w", err)
	}
	return path, nil
}

// Load reads a model file.
func (s *ModelStore) Load(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("read model %s: %w", path, err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return Model{}, fmt.Errorf("decode model %s: %w", path, err)
	}
	if len(m.Coefficients) != numColumns {
		return Model{}, fmt.Errorf("model %s has %d coefficients, want %d", path, len(m.Coefficients), numColumns)
	}
	return m, nil
}

// Remove deletes a model file; a missing file is not an error.
func (s *ModelStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
