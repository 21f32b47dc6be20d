package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bitter-oolong/telepage/pkg/errs"
)

// FileStore keeps one pretty-printed JSON file per domain under a base
// directory. Writes go through a temp file and rename so a crash mid-write
// never leaves a truncated document behind.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

func (fs *FileStore) path(domain Domain) string {
	return filepath.Join(fs.baseDir, string(domain)+".json")
}

// Load reads the document for domain. A missing file is not an error.
func (fs *FileStore) Load(domain Domain) (json.RawMessage, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.path(domain))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.IO(fmt.Sprintf("failed to read %s document", domain), err)
	}
	return data, nil
}

// Save replaces the document for domain.
func (fs *FileStore) Save(domain Domain, doc json.RawMessage) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.baseDir, 0755); err != nil {
		return errs.IO(fmt.Sprintf("failed to create data directory for %s", domain), err)
	}

	target := fs.path(domain)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, doc, 0644); err != nil {
		return errs.IO(fmt.Sprintf("failed to write %s document", domain), err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return errs.IO(fmt.Sprintf("failed to replace %s document", domain), err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (fs *FileStore) Close() error {
	return nil
}
