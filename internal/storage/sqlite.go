// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/vector"
)

// SQLiteStorage implements Storage using SQLite. Embeddings are stored as
// little-endian float32 BLOBs.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reference_cases (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT NOT NULL UNIQUE,
		condition_label TEXT NOT NULL,
		ethnicity TEXT NOT NULL DEFAULT '',
		skin_type TEXT NOT NULL DEFAULT '',
		age_group TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_cases_condition ON reference_cases(condition_label);
	`
	_, err := db.Exec(schema)
	return err
}

const caseColumns = `case_id, condition_label, ethnicity, skin_type, age_group, embedding, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(r rowScanner) (*models.ReferenceCase, error) {
	var c models.ReferenceCase
	var blob []byte
	if err := r.Scan(&c.CaseID, &c.ConditionLabel,
		&c.Demographics.Ethnicity, &c.Demographics.SkinType, &c.Demographics.AgeGroup,
		&blob, &c.CreatedAt); err != nil {
		return nil, err
	}
	if len(blob) > 0 {
		if len(blob)%4 != 0 {
			return nil, fmt.Errorf("case %s: corrupt embedding blob of %d bytes", c.CaseID, len(blob))
		}
		c.Embedding = vector.BytesToFloat32Slice(blob)
	}
	return &c, nil
}

// GetCase returns a case by ID, or an error wrapping models.ErrCaseNotFound.
func (s *SQLiteStorage) GetCase(ctx context.Context, id string) (*models.ReferenceCase, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM reference_cases WHERE case_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrCaseNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCase removes a case by ID, or returns an error wrapping models.ErrCaseNotFound.
func (s *SQLiteStorage) DeleteCase(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reference_cases WHERE case_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrCaseNotFound, id)
	}
	return nil
}

// ListCases returns cases in insertion order with offset and limit.
func (s *SQLiteStorage) ListCases(ctx context.Context, offset, limit int) ([]*models.ReferenceCase, error) {
	return s.queryCases(ctx,
		`SELECT `+caseColumns+` FROM reference_cases ORDER BY seq LIMIT ? OFFSET ?`,
		limit, offset,
	)
}

// AllCases returns every case in insertion order.
func (s *SQLiteStorage) AllCases(ctx context.Context) ([]*models.ReferenceCase, error) {
	return s.queryCases(ctx, `SELECT `+caseColumns+` FROM reference_cases ORDER BY seq`)
}

func (s *SQLiteStorage) queryCases(ctx context.Context, query string, args ...any) ([]*models.ReferenceCase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*models.ReferenceCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// BatchUpsertCases inserts or replaces cases in a transaction. A replaced case keeps its
// original position in insertion order.
func (s *SQLiteStorage) BatchUpsertCases(ctx context.Context, cases []*models.ReferenceCase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reference_cases (`+caseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(case_id) DO UPDATE SET
			condition_label = excluded.condition_label,
			ethnicity = excluded.ethnicity,
			skin_type = excluded.skin_type,
			age_group = excluded.age_group,
			embedding = excluded.embedding`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range cases {
		c.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, c.CaseID, c.ConditionLabel,
			c.Demographics.Ethnicity, c.Demographics.SkinType, c.Demographics.AgeGroup,
			embeddingBlob(c.Embedding), c.CreatedAt); err != nil {
			return fmt.Errorf("case %s: %w", c.CaseID, err)
		}
	}
	return tx.Commit()
}

// CountCases returns the total number of cases.
func (s *SQLiteStorage) CountCases(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_cases`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func embeddingBlob(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	return vector.Float32SliceToBytes(v)
}
