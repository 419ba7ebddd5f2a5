package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteProvider struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteProvider creates a new cache store with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteProvider(filename string) (SQLiteProvider, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteProvider{}, err
	}
	statements := []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS cache (
			generation TEXT,
			key TEXT,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (generation, key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteProvider{}, fmt.Errorf("init cache db: %w", err)
		}
	}
	return SQLiteProvider{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteProvider) Close() error {
	return s.db.Close()
}

func (s SQLiteProvider) Open(name string) (Generation, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)", name, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	return sqliteGeneration{provider: s, name: name}, nil
}

func (s SQLiteProvider) Generations() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM generations ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteProvider) HasGeneration(name string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM generations WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s SQLiteProvider) DeleteGeneration(name string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM cache WHERE generation = ?", name); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("DELETE FROM generations WHERE name = ?", name); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type sqliteGeneration struct {
	provider SQLiteProvider
	name     string
}

func (g sqliteGeneration) Name() string {
	return g.name
}

func (g sqliteGeneration) Get(key string) ([]byte, bool, error) {
	var bytes []byte
	err := g.provider.db.QueryRow("SELECT bytes FROM cache WHERE generation = ? AND key = ?", g.name, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (g sqliteGeneration) Put(key string, bytes []byte) error {
	g.provider.writeMutex.Lock()
	defer g.provider.writeMutex.Unlock()
	_, err := g.provider.db.Exec(
		"INSERT OR REPLACE INTO cache (generation, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		g.name, key, time.Now().Unix(), bytes,
	)
	return err
}

func (g sqliteGeneration) Purge(key string) error {
	g.provider.writeMutex.Lock()
	defer g.provider.writeMutex.Unlock()
	_, err := g.provider.db.Exec("DELETE FROM cache WHERE generation = ? AND key = ?", g.name, key)
	return err
}

func (g sqliteGeneration) Has(key string) bool {
	var one int
	err := g.provider.db.QueryRow("SELECT 1 FROM cache WHERE generation = ? AND key = ?", g.name, key).Scan(&one)
	return err == nil
}

func (g sqliteGeneration) Keys(cb func(string)) {
	rows, err := g.provider.db.Query("SELECT key FROM cache WHERE generation = ? ORDER BY key", g.name)
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return
		}
		cb(key)
	}
}
