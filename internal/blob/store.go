package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Store is a content-addressed attachment store on the local filesystem.
// Blobs are keyed by the hex SHA-256 of their decoded bytes and laid out as
// root/ab/cd/abcd... so one directory never grows unbounded. Identical bytes
// from different messages or accounts share a single file; writes are
// tmp+rename so a crash never leaves a partial blob under its final key.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Hash returns the hex SHA-256 content hash used as the blob key.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// keyPath maps a hash to its sharded relative key.
func keyPath(hash string) (string, error) {
	if len(hash) != sha256.Size*2 {
		return "", fmt.Errorf("invalid content hash %q", hash)
	}
	return filepath.Join(hash[0:2], hash[2:4], hash), nil
}

// Put stores content under its hash and returns the storage key. If the blob
// already exists the write is skipped entirely; content addressing makes the
// existing bytes identical by construction.
func (s *Store) Put(hash string, content []byte) (string, error) {
	key, err := keyPath(hash)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(s.root, key)
	if _, err := os.Stat(dest); err == nil {
		return key, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to close blob: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize blob: %w", err)
	}

	return key, nil
}

// Open returns the stored bytes for a storage key.
func (s *Store) Open(key string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Join(s.root, key))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return content, nil
}

// Exists reports whether a blob with this hash is already stored.
func (s *Store) Exists(hash string) bool {
	key, err := keyPath(hash)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(s.root, key))
	return err == nil
}
