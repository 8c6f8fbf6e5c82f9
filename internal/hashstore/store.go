// Package hashstore persists the content fingerprint of every tracked source.
package hashstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Hashes maps a source identifier to the hex SHA-256 of its last indexed content.
type Hashes map[string]string

// Clone returns an independent copy.
func (h Hashes) Clone() Hashes {
	out := make(Hashes, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// ComputeHash returns the hex-encoded SHA-256 digest of content.
func ComputeHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Store loads and saves a Hashes map.
type Store interface {
	Load() (Hashes, error)
	Save(Hashes) error
}

// FileStore keeps the map as a JSON object on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the map. A missing file yields an empty map.
func (s *FileStore) Load() (Hashes, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Hashes{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hash file: %w", err)
	}

	hashes := Hashes{}
	if len(data) == 0 {
		return hashes, nil
	}
	if err := json.Unmarshal(data, &hashes); err != nil {
		return nil, fmt.Errorf("decode hash file %s: %w", s.path, err)
	}
	return hashes, nil
}

// Save writes the map atomically through a temp file in the same directory.
func (s *FileStore) Save(hashes Hashes) error {
	if hashes == nil {
		hashes = Hashes{}
	}
	data, err := json.MarshalIndent(hashes, "", "  ")
	if err != nil {
		return fmt.Errorf("encode hashes: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create hash dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".hashes-*.json")
	if err != nil {
		return fmt.Errorf("create temp hash file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp hash file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp hash file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace hash file: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store, used by tests and dry runs.
type MemoryStore struct {
	hashes Hashes
	Saves  int
}

func NewMemoryStore(initial Hashes) *MemoryStore {
	return &MemoryStore{hashes: initial.Clone()}
}

func (m *MemoryStore) Load() (Hashes, error) {
	return m.hashes.Clone(), nil
}

func (m *MemoryStore) Save(h Hashes) error {
	m.hashes = h.Clone()
	m.Saves++
	return nil
}
