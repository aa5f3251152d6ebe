package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/agenshield/agenshield/internal/scope"
)

// ConfigStore persists scoped configuration fields and merges them per
// spec §3 ("most-specific level whose value is non-null wins").
type ConfigStore struct {
	db *sql.DB
}

func NewConfigStore(db *sql.DB) *ConfigStore { return &ConfigStore{db: db} }

// SetField writes a single field at the given scope level.
func (s *ConfigStore) SetField(ctx context.Context, tr scope.Triple, field, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configs (scope_target, scope_user, field, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope_target, scope_user, field) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at`,
		tr.Target, tr.User, field, value, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// Merged returns the effective field->value map for the given scope,
// walking base -> target -> target+user and letting the most specific
// non-null level win per field.
func (s *ConfigStore) Merged(ctx context.Context, tr scope.Triple) (map[string]string, error) {
	result := map[string]string{}
	for _, level := range tr.Levels() {
		rows, err := s.db.QueryContext(ctx, `
			SELECT field, value FROM configs WHERE scope_target = ? AND scope_user = ?`,
			level.Target, level.User)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var field, value string
			if err := rows.Scan(&field, &value); err != nil {
				rows.Close()
				return nil, err
			}
			result[field] = value
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return result, nil
}
