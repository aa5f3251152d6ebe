package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"strings"
	"time"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/scope"
)

// SecretStore persists encrypted secrets and resolves them by name across
// scope levels: "most-specific non-null wins" (spec §3).
type SecretStore struct {
	db *sql.DB
}

func NewSecretStore(db *sql.DB) *SecretStore { return &SecretStore{db: db} }

// Put inserts or replaces a secret. The ciphertext is opaque to this layer;
// only the vault ever sees plaintext.
func (s *SecretStore) Put(ctx context.Context, sec model.Secret) error {
	if sec.ID == "" {
		sec.ID = model.NewSecretID()
	}
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (id, name, ciphertext, scope, placement, linked_policies,
			scope_target, scope_user, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, scope, scope_target, scope_user) DO UPDATE SET
			ciphertext = excluded.ciphertext, placement = excluded.placement,
			linked_policies = excluded.linked_policies`,
		sec.ID, sec.Name, base64.StdEncoding.EncodeToString(sec.Ciphertext), string(sec.Scope),
		sec.Placement, strings.Join(sec.LinkedPolicies, ","), sec.ScopeTarget, sec.ScopeUser,
		sec.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// Delete removes a secret by id.
func (s *SecretStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, id)
	return err
}

// ResolveByName returns the secret whose storage scope is the most
// specific match over {base, target, target+user} for the given name.
func (s *SecretStore) ResolveByName(ctx context.Context, tr scope.Triple, name string) (model.Secret, bool, error) {
	var candidates []scope.Scoped[model.Secret]
	for _, level := range tr.Levels() {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, name, ciphertext, scope, placement, linked_policies, scope_target, scope_user, created_at
			FROM secrets WHERE name = ? AND scope_target = ? AND scope_user = ?`,
			name, level.Target, level.User)
		sec, ok, err := scanSecret(row)
		if err != nil {
			return model.Secret{}, false, err
		}
		if ok {
			candidates = append(candidates, scope.Scoped[model.Secret]{Triple: level, Value: sec})
		}
	}
	return scope.MostSpecific(candidates)
}

// ListAll returns every secret row, for operator listing and re-encryption
// during change_passcode.
func (s *SecretStore) ListAll(ctx context.Context) ([]model.Secret, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, ciphertext, scope, placement, linked_policies, scope_target, scope_user, created_at
		FROM secrets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Secret
	for rows.Next() {
		sec, err := scanSecretRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// ReplaceCiphertext rewrites one secret's ciphertext in place; used by
// change_passcode's re-encryption pass, always inside a caller-managed
// transaction.
func ReplaceCiphertext(ctx context.Context, tx *sql.Tx, id string, ciphertext []byte) error {
	_, err := tx.ExecContext(ctx, `UPDATE secrets SET ciphertext = ? WHERE id = ?`,
		base64.StdEncoding.EncodeToString(ciphertext), id)
	return err
}

// DB exposes the underlying handle for transactional callers (vault
// re-encryption needs one transaction spanning many rows).
func (s *SecretStore) DB() *sql.DB { return s.db }

func scanSecret(row *sql.Row) (model.Secret, bool, error) {
	var sec model.Secret
	var scopeStr, ciphertextB64, linked, createdAt string
	err := row.Scan(&sec.ID, &sec.Name, &ciphertextB64, &scopeStr, &sec.Placement, &linked,
		&sec.ScopeTarget, &sec.ScopeUser, &createdAt)
	if err == sql.ErrNoRows {
		return model.Secret{}, false, nil
	}
	if err != nil {
		return model.Secret{}, false, err
	}
	sec.Scope = model.SecretScope(scopeStr)
	if linked != "" {
		sec.LinkedPolicies = strings.Split(linked, ",")
	}
	sec.Ciphertext, err = base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return model.Secret{}, false, err
	}
	sec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return sec, true, nil
}

func scanSecretRow(rows *sql.Rows) (model.Secret, error) {
	var sec model.Secret
	var scopeStr, ciphertextB64, linked, createdAt string
	if err := rows.Scan(&sec.ID, &sec.Name, &ciphertextB64, &scopeStr, &sec.Placement, &linked,
		&sec.ScopeTarget, &sec.ScopeUser, &createdAt); err != nil {
		return model.Secret{}, err
	}
	sec.Scope = model.SecretScope(scopeStr)
	if linked != "" {
		sec.LinkedPolicies = strings.Split(linked, ",")
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return model.Secret{}, err
	}
	sec.Ciphertext = raw
	sec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return sec, nil
}
