package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"time"
)

// KDFRecord is the persisted salt + passcode verification hash the vault
// checks on unlock. There is exactly one row (id=1).
type KDFRecord struct {
	Salt             []byte
	VerificationHash []byte
	UpdatedAt        time.Time
}

// VaultStore persists the vault's key-derivation record and secret
// approval queue.
type VaultStore struct {
	db *sql.DB
}

func NewVaultStore(db *sql.DB) *VaultStore { return &VaultStore{db: db} }

// LoadKDF returns the stored KDF record, or ok=false if set_passcode has
// never been called.
func (s *VaultStore) LoadKDF(ctx context.Context) (KDFRecord, bool, error) {
	var saltB64, hashB64, updatedAt string
	err := s.db.QueryRowContext(ctx, `SELECT salt, verification_hash, updated_at FROM vault_kdf WHERE id = 1`).
		Scan(&saltB64, &hashB64, &updatedAt)
	if err == sql.ErrNoRows {
		return KDFRecord{}, false, nil
	}
	if err != nil {
		return KDFRecord{}, false, err
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return KDFRecord{}, false, err
	}
	hash, err := base64.StdEncoding.DecodeString(hashB64)
	if err != nil {
		return KDFRecord{}, false, err
	}
	ts, _ := time.Parse(time.RFC3339Nano, updatedAt)
	return KDFRecord{Salt: salt, VerificationHash: hash, UpdatedAt: ts}, true, nil
}

// SaveKDF upserts the single KDF record, used by both set_passcode and
// change_passcode.
func (s *VaultStore) SaveKDF(ctx context.Context, rec KDFRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_kdf (id, salt, verification_hash, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			salt = excluded.salt, verification_hash = excluded.verification_hash,
			updated_at = excluded.updated_at`,
		base64.StdEncoding.EncodeToString(rec.Salt),
		base64.StdEncoding.EncodeToString(rec.VerificationHash),
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// SaveKDFTx is SaveKDF run against a caller-managed transaction, used by
// change_passcode's single-transaction re-encryption.
func SaveKDFTx(ctx context.Context, tx *sql.Tx, rec KDFRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vault_kdf (id, salt, verification_hash, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			salt = excluded.salt, verification_hash = excluded.verification_hash,
			updated_at = excluded.updated_at`,
		base64.StdEncoding.EncodeToString(rec.Salt),
		base64.StdEncoding.EncodeToString(rec.VerificationHash),
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// DB exposes the handle for transactional callers.
func (s *VaultStore) DB() *sql.DB { return s.db }

// SecretApproval is one pending or resolved credential-access approval
// request for a policed secret (spec §4.8 + credential-access approval
// workflow expansion).
type SecretApproval struct {
	ID         string
	SecretName string
	Requester  string
	Reason     string
	Status     string // "pending", "approved", "denied", "consumed"
	ResolvedBy string
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// RequestApproval inserts a new pending approval row.
func (s *VaultStore) RequestApproval(ctx context.Context, a SecretApproval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secret_approvals (id, secret_name, requester, reason, status, resolved_by, created_at, resolved_at)
		VALUES (?, ?, ?, ?, 'pending', '', ?, '')`,
		a.ID, a.SecretName, a.Requester, a.Reason, a.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// Resolve marks a pending approval approved or denied.
func (s *VaultStore) Resolve(ctx context.Context, id, status, resolvedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE secret_approvals SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ?`, status, resolvedBy, time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// Get returns one approval row by id.
func (s *VaultStore) Get(ctx context.Context, id string) (SecretApproval, bool, error) {
	var a SecretApproval
	var createdAt, resolvedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, secret_name, requester, reason, status, resolved_by, created_at, resolved_at
		FROM secret_approvals WHERE id = ?`, id).
		Scan(&a.ID, &a.SecretName, &a.Requester, &a.Reason, &a.Status, &a.ResolvedBy, &createdAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return SecretApproval{}, false, nil
	}
	if err != nil {
		return SecretApproval{}, false, err
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if resolvedAt != "" {
		a.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolvedAt)
	}
	return a, true, nil
}

// PendingForSecret lists outstanding pending approvals for a secret name.
func (s *VaultStore) PendingForSecret(ctx context.Context, secretName string) ([]SecretApproval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, secret_name, requester, reason, status, resolved_by, created_at, resolved_at
		FROM secret_approvals WHERE secret_name = ? AND status = 'pending'`, secretName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SecretApproval
	for rows.Next() {
		var a SecretApproval
		var createdAt, resolvedAt string
		if err := rows.Scan(&a.ID, &a.SecretName, &a.Requester, &a.Reason, &a.Status, &a.ResolvedBy, &createdAt, &resolvedAt); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApprovedForRequester returns the most recently resolved, not-yet-consumed
// "approved" request a requester holds for a secret, if any. Ordering by
// resolved_at (most recent first) means a requester who was approved more than
// once always redeems the freshest grant first.
func (s *VaultStore) ApprovedForRequester(ctx context.Context, secretName, requester string) (SecretApproval, bool, error) {
	var a SecretApproval
	var createdAt, resolvedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, secret_name, requester, reason, status, resolved_by, created_at, resolved_at
		FROM secret_approvals
		WHERE secret_name = ? AND requester = ? AND status = 'approved'
		ORDER BY resolved_at DESC LIMIT 1`, secretName, requester).
		Scan(&a.ID, &a.SecretName, &a.Requester, &a.Reason, &a.Status, &a.ResolvedBy, &createdAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return SecretApproval{}, false, nil
	}
	if err != nil {
		return SecretApproval{}, false, err
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if resolvedAt != "" {
		a.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolvedAt)
	}
	return a, true, nil
}

// Consume marks an approved request "consumed" so it cannot release a
// secret a second time.
func (s *VaultStore) Consume(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE secret_approvals SET status = 'consumed' WHERE id = ? AND status = 'approved'`, id)
	return err
}
