// Package history keeps a SQLite log of finished conversions.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"encore-converter/internal/domain"
)

const defaultRecentLimit = 50

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Entry is one recorded job outcome.
type Entry struct {
	ID         int64            `json:"id"`
	BatchID    string           `json:"batchId"`
	JobID      string           `json:"jobId"`
	SourcePath string           `json:"sourcePath"`
	Status     domain.JobStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	OutputPath string           `json:"outputPath,omitempty"`
	FinishedAt time.Time        `json:"finishedAt"`
}

// SQLiteStore persists entries in a single-file database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		version := migrationVersion(entry.Name())
		if entry.IsDir() || version <= 0 {
			continue
		}
		var applied int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion reads the leading integer of a file name ("001_init.sql" is 1).
func migrationVersion(name string) int {
	end := strings.IndexFunc(name, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 {
		return 0
	}
	if end < 0 {
		end = len(name)
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}

// Record stores one terminal job. Non-terminal jobs are rejected.
func (s *SQLiteStore) Record(ctx context.Context, batchID string, job domain.Job) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("job %s is not finished: %s", job.ID, job.Status)
	}
	finishedAt := job.UpdatedAt
	if finishedAt.IsZero() {
		finishedAt = s.now()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO conversions (batch_id, job_id, source_path, status, error, output_path, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		batchID,
		job.ID,
		job.SourcePath,
		string(job.Status),
		job.Error,
		job.OutputPath,
		finishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record conversion: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, batch_id, job_id, source_path, status, error, output_path, finished_at
		 FROM conversions
		 ORDER BY finished_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Entry, 0)
	for rows.Next() {
		var item Entry
		var status string
		var finishedAt int64
		if err := rows.Scan(
			&item.ID,
			&item.BatchID,
			&item.JobID,
			&item.SourcePath,
			&status,
			&item.Error,
			&item.OutputPath,
			&finishedAt,
		); err != nil {
			return nil, err
		}
		item.Status = domain.JobStatus(status)
		item.FinishedAt = time.UnixMilli(finishedAt).UTC()
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Prune deletes entries finished before cutoff and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE finished_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
