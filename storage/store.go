// Package storage persists conversations and the tool server catalog
// in a single sqlite database under the data directory.
package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"nore/config"
)

// Store is a bucketed key/value layer over sqlite. Values are JSON
// documents written by the typed stores in this package.
type Store struct {
	db *sql.DB
}

func Open(dataDir string) (*Store, error) {
	if err := config.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "nore.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (bucket, key)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Put writes value under (bucket, key), replacing any previous value.
func (s *Store) Put(bucket, key, value string) error {
	query := `
	INSERT OR REPLACE INTO kv (bucket, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, bucket, key, value, time.Now())
	return err
}

// Get reads the value under (bucket, key). A missing key returns ok
// false, not an error.
func (s *Store) Get(bucket, key string) (string, bool, error) {
	query := `SELECT value FROM kv WHERE bucket = ? AND key = ?`

	var value string
	err := s.db.QueryRow(query, bucket, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Delete removes (bucket, key). Deleting an absent key is not an error.
func (s *Store) Delete(bucket, key string) error {
	query := `DELETE FROM kv WHERE bucket = ? AND key = ?`
	_, err := s.db.Exec(query, bucket, key)
	return err
}

// List returns every key in a bucket, sorted.
func (s *Store) List(bucket string) ([]string, error) {
	query := `SELECT key FROM kv WHERE bucket = ? ORDER BY key`

	rows, err := s.db.Query(query, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
