package annotation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pagetagger/internal/storage/csvtable"
)

// ErrWriteBlocked is the sentinel both backends report when another writer
// holds the destination.
var ErrWriteBlocked = csvtable.ErrWriteBlocked

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS annotations (
	id TEXT NOT NULL,
	page TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (id, page)
);
`

// SQLiteBackend keeps the table in SQLite keyed by (id, page) and applies
// only the changed keys on Sync.
type SQLiteBackend struct {
	db          *sql.DB
	lockTimeout time.Duration
}

type SQLiteOptions struct {
	// ImportCSV seeds an empty database from an existing annotations file.
	ImportCSV   string
	LockTimeout time.Duration
}

func OpenSQLiteBackend(ctx context.Context, path string, opts SQLiteOptions) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	b := &SQLiteBackend{db: db, lockTimeout: opts.LockTimeout}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init annotations schema: %w", err)
	}
	if opts.ImportCSV != "" {
		if err := b.importCSV(ctx, opts.ImportCSV); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *SQLiteBackend) importCSV(ctx context.Context, path string) error {
	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM annotations").Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	rows, err := NewCSVBackend(path, 0).Load(ctx)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	changes := make([]Change, 0, len(rows))
	for _, row := range rows {
		if row.ID == "" || row.Page == "" || row.State == "" {
			continue
		}
		changes = append(changes, Change{Key: Key{ID: row.ID, Page: row.Page}, State: row.State})
	}
	if err := b.apply(ctx, changes); err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	slog.Info("annotations imported into sqlite", "path", path, "rows", len(changes))
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context) ([]Row, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT id, page, state FROM annotations ORDER BY id, page")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.Page, &row.State); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *SQLiteBackend) Sync(ctx context.Context, _ []Row, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	return b.apply(ctx, changes)
}

func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLiteBackend) apply(ctx context.Context, changes []Change) error {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		err := b.applyOnce(ctx, changes)
		if err == nil {
			slog.Debug("sqlite sync done", "changes", len(changes), "attempts", attempt+1, "duration_ms", time.Since(start).Milliseconds())
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		slog.Debug("sqlite sync busy", "attempt", attempt+1, "err", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if b.lockTimeout <= 0 || time.Since(start) >= b.lockTimeout {
			return fmt.Errorf("%w: %v", ErrWriteBlocked, err)
		}
		time.Sleep(retryDelay(attempt))
	}
}

func (b *SQLiteBackend) applyOnce(ctx context.Context, changes []Change) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, change := range changes {
		if change.Deleted {
			_, err = tx.ExecContext(ctx, "DELETE FROM annotations WHERE id=? AND page=?", change.Key.ID, change.Key.Page)
		} else {
			_, err = tx.ExecContext(ctx, `INSERT INTO annotations(id, page, state, updated_at) VALUES(?, ?, ?, ?)
ON CONFLICT(id, page) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at`,
				change.Key.ID, change.Key.Page, change.State, now)
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

func retryDelay(attempt int) time.Duration {
	delay := time.Duration(attempt+1) * 40 * time.Millisecond
	if delay > 300*time.Millisecond {
		delay = 300 * time.Millisecond
	}
	return delay
}
