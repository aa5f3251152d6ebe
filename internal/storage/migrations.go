package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one numbered step in the linear schema ladder. Stmts run
// inside the same transaction that records the new current-version row.
type migration struct {
	version int
	stmts   []string
}

func applyMigrations(ctx context.Context, db *sql.DB, migrations []migration) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		);`); err != nil {
		return fmt.Errorf("ensure schema_version: %w", err)
	}

	current := 0
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id = 1`).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_version (id, version) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET version = excluded.version`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: record version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.version, err)
		}
		current = m.version
	}
	return nil
}

var primaryMigrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS configs (
				scope_target TEXT NOT NULL DEFAULT '',
				scope_user   TEXT NOT NULL DEFAULT '',
				field        TEXT NOT NULL,
				value        TEXT NOT NULL,
				updated_at   TEXT NOT NULL,
				PRIMARY KEY (scope_target, scope_user, field)
			);`,
			`CREATE TABLE IF NOT EXISTS policies (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL,
				action       TEXT NOT NULL,
				target       TEXT NOT NULL,
				patterns     TEXT NOT NULL,
				enabled      INTEGER NOT NULL DEFAULT 1,
				priority     INTEGER NOT NULL DEFAULT 0,
				scope_restriction TEXT NOT NULL DEFAULT '',
				fs_ops       TEXT NOT NULL DEFAULT '',
				egress_mode  TEXT NOT NULL DEFAULT '',
				scope_target TEXT NOT NULL DEFAULT '',
				scope_user   TEXT NOT NULL DEFAULT '',
				created_at   TEXT NOT NULL,
				updated_at   TEXT NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_policies_target ON policies(target);`,
			`CREATE TABLE IF NOT EXISTS secrets (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL,
				ciphertext   TEXT NOT NULL,
				scope        TEXT NOT NULL,
				placement    TEXT NOT NULL DEFAULT '',
				linked_policies TEXT NOT NULL DEFAULT '',
				scope_target TEXT NOT NULL DEFAULT '',
				scope_user   TEXT NOT NULL DEFAULT '',
				created_at   TEXT NOT NULL,
				UNIQUE(name, scope, scope_target, scope_user)
			);`,
			`CREATE TABLE IF NOT EXISTS vault_kdf (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				salt TEXT NOT NULL,
				verification_hash TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS secret_approvals (
				id          TEXT PRIMARY KEY,
				secret_name TEXT NOT NULL,
				requester   TEXT NOT NULL,
				reason      TEXT NOT NULL DEFAULT '',
				status      TEXT NOT NULL DEFAULT 'pending',
				resolved_by TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL,
				resolved_at TEXT NOT NULL DEFAULT ''
			);`,
		},
	},
}

var auditMigrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS audit_events (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				ts               TEXT NOT NULL,
				operation        TEXT NOT NULL,
				channel          TEXT NOT NULL,
				allowed          INTEGER NOT NULL,
				matched_policy   TEXT,
				target           TEXT NOT NULL,
				result           TEXT NOT NULL,
				error_message    TEXT,
				elapsed_ms       INTEGER NOT NULL,
				metadata         TEXT NOT NULL DEFAULT '{}'
			);`,
			`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);`,
			`CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_events(target);`,
			`CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_events(operation);`,
		},
	},
}
