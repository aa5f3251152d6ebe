package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agenshield/agenshield/internal/model"
)

// AuditStore persists append-only audit events on the secondary storage
// unit, isolated from the primary unit's configuration/policy/secret
// writes (spec §4.9).
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore { return &AuditStore{db: db} }

// InsertBatch appends many events in one transaction, the unit the
// batched writer flushes in.
func (s *AuditStore) InsertBatch(ctx context.Context, events []model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_events (ts, operation, channel, allowed, matched_policy, target, result, error_message, elapsed_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		allowed := 0
		if e.Allowed {
			allowed = 1
		}
		metaJSON, err := json.Marshal(e.RedactedMeta)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Operation,
			string(e.Channel), allowed, e.MatchedPolicy, e.Target, string(e.Result), e.ErrorMessage,
			e.ElapsedMillis, string(metaJSON)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Page lists audit events in descending id order starting below beforeID
// (exclusive; 0 means from the most recent), for control-API pagination.
// SSE cursor resume uses Since instead.
func (s *AuditStore) Page(ctx context.Context, beforeID int64, limit int) ([]model.AuditEvent, error) {
	var rows *sql.Rows
	var err error
	if beforeID > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, ts, operation, channel, allowed, matched_policy, target, result, error_message, elapsed_ms, metadata
			FROM audit_events WHERE id < ? ORDER BY id DESC LIMIT ?`, beforeID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, ts, operation, channel, allowed, matched_policy, target, result, error_message, elapsed_ms, metadata
			FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Since returns events with id > afterID in ascending order, for the SSE
// feed's cursor resume.
func (s *AuditStore) Since(ctx context.Context, afterID int64, limit int) ([]model.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, operation, channel, allowed, matched_policy, target, result, error_message, elapsed_ms, metadata
		FROM audit_events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TrimByCount deletes the oldest rows past retentionCount, keeping only
// the most recent retentionCount events.
func (s *AuditStore) TrimByCount(ctx context.Context, retentionCount int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM audit_events WHERE id <= (
			SELECT id FROM audit_events ORDER BY id DESC LIMIT 1 OFFSET ?
		)`, retentionCount)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TrimByAge deletes events older than the retention window.
func (s *AuditStore) TrimByAge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE ts < ?`, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanAuditEvent(rows *sql.Rows) (model.AuditEvent, error) {
	var e model.AuditEvent
	var ts, channel, result, metaJSON string
	var allowed int
	var matchedPolicy, errorMessage sql.NullString
	if err := rows.Scan(&e.ID, &ts, &e.Operation, &channel, &allowed, &matchedPolicy, &e.Target,
		&result, &errorMessage, &e.ElapsedMillis, &metaJSON); err != nil {
		return model.AuditEvent{}, err
	}
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	e.Channel = model.Channel(channel)
	e.Allowed = allowed != 0
	if matchedPolicy.Valid {
		e.MatchedPolicy = &matchedPolicy.String
	}
	e.Result = model.Result(result)
	if errorMessage.Valid {
		e.ErrorMessage = &errorMessage.String
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &e.RedactedMeta)
	}
	return e, nil
}
