package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bitter-oolong/telepage/pkg/errs"

	_ "modernc.org/sqlite"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	domain     TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore keeps every domain document as a row in a single sqlite
// database. It satisfies the same contract as FileStore and is selected
// via configuration.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.Mutex
}

// NewSQLiteStore creates a store bound to dbPath. Call Init before use.
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath}
}

// Init opens the database, applies pragmas and ensures the schema exists.
func (s *SQLiteStore) Init() error {
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
		return fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(documentsSchema); err != nil {
		db.Close()
		return fmt.Errorf("ensure documents schema: %w", err)
	}

	s.db = db
	return nil
}

// Load reads the document for domain. A missing row is not an error.
func (s *SQLiteStore) Load(domain Domain) (json.RawMessage, error) {
	if s.db == nil {
		return nil, fmt.Errorf("sqlite store not initialized")
	}

	var body string
	err := s.db.QueryRow(`SELECT body FROM documents WHERE domain = ?`, string(domain)).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.IO(fmt.Sprintf("failed to read %s document", domain), err)
	}
	return json.RawMessage(body), nil
}

// Save upserts the document for domain.
func (s *SQLiteStore) Save(domain Domain, doc json.RawMessage) error {
	if s.db == nil {
		return fmt.Errorf("sqlite store not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO documents (domain, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`,
		string(domain), string(doc), time.Now().Unix())
	if err != nil {
		return errs.IO(fmt.Sprintf("failed to save %s document", domain), err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
