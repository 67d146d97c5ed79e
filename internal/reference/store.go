package reference

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/rand/chatbattery/internal/formula"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps a reference collection in SQLite.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Options configures the reference store.
type Options struct {
	// Path to the SQLite database file. Empty uses an in-memory database.
	Path string

	// CreateIfNotExists creates the parent directory of Path.
	CreateIfNotExists bool
}

// ImportInfo describes one completed import.
type ImportInfo struct {
	Source     string    `json:"source" yaml:"source"`
	Count      int       `json:"count" yaml:"count"`
	ImportedAt time.Time `json:"imported_at" yaml:"imported_at"`
}

// NewStore opens the database and applies the schema.
func NewStore(opts Options) (*Store, error) {
	var dsn string
	if opts.Path == "" {
		dsn = "file::memory:"
	} else {
		if opts.CreateIfNotExists {
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = "file:" + opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.Path == "" {
		// Every new connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, path: opts.Path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Import replaces the stored collection with c and records the import.
func (s *Store) Import(ctx context.Context, c *Collection, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM reference_formulas"); err != nil {
			return fmt.Errorf("clear formulas: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO reference_formulas (position, formula, source) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, f := range c.Formulas() {
			if _, err := stmt.ExecContext(ctx, i, string(f), source); err != nil {
				return fmt.Errorf("insert %s: %w", f, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO reference_imports (source, count, imported_at) VALUES (?, ?, ?)",
			source, c.Len(), time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("record import: %w", err)
		}
		return nil
	})
}

// Load returns the stored collection in its original order.
func (s *Store) Load(ctx context.Context) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT formula FROM reference_formulas ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("query formulas: %w", err)
	}
	defer rows.Close()

	var fs []formula.Formula
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan formula: %w", err)
		}
		fs = append(fs, formula.Formula(f))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate formulas: %w", err)
	}
	return NewCollection(fs), nil
}

// LastImport returns the most recent import, or nil if there has been none.
func (s *Store) LastImport(ctx context.Context) (*ImportInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		info ImportInfo
		at   string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT source, count, imported_at FROM reference_imports ORDER BY id DESC LIMIT 1",
	).Scan(&info.Source, &info.Count, &at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last import: %w", err)
	}

	info.ImportedAt, err = time.Parse(time.RFC3339, at)
	if err != nil {
		return nil, fmt.Errorf("parse import time: %w", err)
	}
	return &info, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
