package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/scope"
)

// PolicyStore persists policies and implements the policy scoping rule:
// "union across base, target, and target+user; evaluated in one pool."
type PolicyStore struct {
	db *sql.DB
}

func NewPolicyStore(db *sql.DB) *PolicyStore { return &PolicyStore{db: db} }

// Upsert inserts or replaces a policy. Per spec §3, two enabled policies
// with identical (target, pattern, scope) are not both allowed to exist;
// the caller is responsible for deleting the prior row first (last write
// wins), which Upsert itself does not detect since patterns are a list.
func (s *PolicyStore) Upsert(ctx context.Context, p model.Policy) error {
	if p.ID == "" {
		p.ID = model.NewPolicyID()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	fsOps := make([]string, 0, len(p.FSOps))
	for _, op := range p.FSOps {
		fsOps = append(fsOps, string(op))
	}
	enabled := 0
	if p.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (id, name, action, target, patterns, enabled, priority,
			scope_restriction, fs_ops, egress_mode, scope_target, scope_user, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, action = excluded.action, target = excluded.target,
			patterns = excluded.patterns, enabled = excluded.enabled, priority = excluded.priority,
			scope_restriction = excluded.scope_restriction, fs_ops = excluded.fs_ops,
			egress_mode = excluded.egress_mode, scope_target = excluded.scope_target,
			scope_user = excluded.scope_user, updated_at = excluded.updated_at`,
		p.ID, p.Name, string(p.Action), string(p.TargetType), strings.Join(p.Patterns, "\n"),
		enabled, p.Priority, p.ScopeRestriction, strings.Join(fsOps, ","), string(p.EgressMode),
		p.ScopeTarget, p.ScopeUser, p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// Delete removes a policy by id.
func (s *PolicyStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	return err
}

// ListForScope returns the union of enabled and disabled policies across
// base, target, and target+user levels, for the compiler to sort and
// filter.
func (s *PolicyStore) ListForScope(ctx context.Context, tr scope.Triple) ([]model.Policy, error) {
	var all []model.Policy
	for _, level := range tr.Levels() {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, name, action, target, patterns, enabled, priority, scope_restriction,
				fs_ops, egress_mode, scope_target, scope_user, created_at, updated_at
			FROM policies WHERE scope_target = ? AND scope_user = ?`,
			level.Target, level.User)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			p, err := scanPolicy(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			all = append(all, p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return all, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(rows rowScanner) (model.Policy, error) {
	var p model.Policy
	var action, target, patterns, fsOps, egress, createdAt, updatedAt string
	var enabled int
	if err := rows.Scan(&p.ID, &p.Name, &action, &target, &patterns, &enabled, &p.Priority,
		&p.ScopeRestriction, &fsOps, &egress, &p.ScopeTarget, &p.ScopeUser, &createdAt, &updatedAt); err != nil {
		return model.Policy{}, err
	}
	p.Action = model.Action(action)
	p.TargetType = model.Target(target)
	if patterns != "" {
		p.Patterns = strings.Split(patterns, "\n")
	}
	p.Enabled = enabled != 0
	p.EgressMode = model.EgressMode(egress)
	if fsOps != "" {
		for _, op := range strings.Split(fsOps, ",") {
			p.FSOps = append(p.FSOps, model.FSOp(op))
		}
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return p, nil
}
