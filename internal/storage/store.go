// Package storage wraps the two embedded SQLite units the broker owns: the
// primary unit (config, policies, secrets) and the secondary audit unit,
// kept physically separate so high-write audit inserts never contend with
// configuration reads (spec §4.9).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// applicationID values are checked on open; a mismatch on an existing file
// means the file was not created by this daemon (or a different unit).
const (
	primaryApplicationID = 0x41674e31 // "AgN1"
	auditApplicationID   = 0x41674e32 // "AgN2"
)

// ErrTampered is returned when an on-disk database's application_id pragma
// does not match the expected unit, i.e. the file was substituted or
// corrupted out from under the daemon.
var ErrTampered = fmt.Errorf("storage: application identifier mismatch (tamper detected)")

// Store owns the primary and audit database handles.
type Store struct {
	Primary *sql.DB
	Audit   *sql.DB
}

// Open opens (creating if absent) both storage units at the configured
// paths, applies pending migrations, and verifies each file's application
// identifier.
func Open(ctx context.Context, primaryPath, auditPath string) (*Store, error) {
	primary, err := openUnit(ctx, primaryPath, primaryApplicationID, primaryMigrations)
	if err != nil {
		return nil, fmt.Errorf("open primary storage: %w", err)
	}
	audit, err := openUnit(ctx, auditPath, auditApplicationID, auditMigrations)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("open audit storage: %w", err)
	}
	return &Store{Primary: primary, Audit: audit}, nil
}

// OpenWithRetry retries Open with exponential backoff, per spec §7
// ("5 attempts, 200 ms -> 3 s").
func OpenWithRetry(ctx context.Context, primaryPath, auditPath string) (*Store, error) {
	const attempts = 5
	delay := 200 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		st, err := Open(ctx, primaryPath, auditPath)
		if err == nil {
			return st, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > 3*time.Second {
			delay = 3 * time.Second
		}
	}
	return nil, lastErr
}

func openUnit(ctx context.Context, path string, appID int, migrations []migration) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// A single writer connection avoids SQLITE_BUSY under the broker's own
	// serialized-per-connection write pattern; WAL still allows concurrent
	// readers against it.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := checkOrSetApplicationID(ctx, db, appID); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applyMigrations(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func checkOrSetApplicationID(ctx context.Context, db *sql.DB, want int) error {
	var current int
	if err := db.QueryRowContext(ctx, `PRAGMA application_id;`).Scan(&current); err != nil {
		return err
	}
	if current == 0 {
		_, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA application_id=%d;`, want))
		return err
	}
	if current != want {
		return ErrTampered
	}
	return nil
}

// Close closes both units.
func (s *Store) Close() error {
	var firstErr error
	if s.Primary != nil {
		if err := s.Primary.Close(); err != nil {
			firstErr = err
		}
	}
	if s.Audit != nil {
		if err := s.Audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
