// Package sqlite implements the parcel share history backed by a SQLite
// database. It records every started share and finalizes the row with the
// transfer counters when the share stops.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/koltyakov/parcel/internal/domain"
)

const defaultMaxOpenConns = 10
const defaultMaxIdleConns = 10
const defaultListLimit = 50

// OpenOptions controls SQLite connection pool sizing.
type OpenOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Store wraps a SQLite database holding the share history. It satisfies
// the share manager's history interface; rows never contain tokens or
// password hashes.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path, runs migrations, and
// enables WAL mode for improved concurrent read performance.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions creates or opens the SQLite database at path with tunable
// connection pool settings, runs migrations, and enables WAL mode.
func OpenWithOptions(path string, opts OpenOptions) (*Store, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	// Append per-connection PRAGMAs to the DSN so every pooled connection gets them.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)

	// journal_mode and busy_timeout are database-wide; set them once here.
	// foreign_keys and synchronous are per-connection and are handled via
	// DSN _pragma parameters.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes if they do not already
// exist.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS shares (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	provider TEXT NOT NULL,
	protected INTEGER NOT NULL,
	public_url TEXT NULL,
	created_at DATETIME NOT NULL,
	stopped_at DATETIME NULL,
	completions INTEGER NOT NULL DEFAULT 0,
	bytes_sent INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_shares_created_at ON shares(created_at DESC);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// RecordShare inserts the history row for a freshly started share.
func (s *Store) RecordShare(ctx context.Context, rec domain.ShareRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO shares(id, file_name, file_path, file_size, provider, protected, public_url, created_at, stopped_at, completions, bytes_sent)
VALUES(?, ?, ?, ?, ?, ?, NULL, ?, NULL, 0, 0)`,
		rec.ID, rec.FileName, rec.FilePath, rec.FileSize, rec.Provider, boolToInt(rec.Protected), rec.CreatedAt.UTC())
	return err
}

// SetPublicURL stores the public URL once the tunnel agent reported it.
func (s *Store) SetPublicURL(ctx context.Context, shareID, publicURL string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE shares
SET public_url = ?
WHERE id = ?`, nullableString(publicURL), shareID)
	return err
}

// FinishShare closes the history row with the final transfer counters.
// Finishing an unknown share is a no-op.
func (s *Store) FinishShare(ctx context.Context, shareID string, completions, bytesSent int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE shares
SET stopped_at = ?, completions = ?, bytes_sent = ?
WHERE id = ?`, time.Now().UTC(), completions, bytesSent, shareID)
	return err
}

// ListShares returns the newest limit history rows, newest first. A limit
// of zero or less applies the default.
func (s *Store) ListShares(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, file_name, file_path, file_size, provider, protected, public_url, created_at, stopped_at, completions, bytes_sent
FROM shares
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var protected int
		var publicURL sql.NullString
		var stoppedAt sql.NullTime
		if err = rows.Scan(&e.ID, &e.FileName, &e.FilePath, &e.FileSize, &e.Provider, &protected, &publicURL, &e.CreatedAt, &stoppedAt, &e.Completions, &e.BytesSent); err != nil {
			return nil, err
		}
		e.Protected = protected != 0
		if publicURL.Valid {
			e.PublicURL = publicURL.String
		}
		if stoppedAt.Valid {
			t := stoppedAt.Time
			e.StoppedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func ensureParentDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
