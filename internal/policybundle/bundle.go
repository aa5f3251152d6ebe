// Package policybundle renders and parses policy sets as YAML, the format
// operators hand-edit and check into version control, grounded on the
// paas compose manifest's own gopkg.in/yaml.v3 usage (tools/si's
// paas_compose_resolver.go) for the corpus's YAML-manifest idiom.
package policybundle

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agenshield/agenshield/internal/model"
)

// Bundle is the on-disk shape of an exported policy set: one scope triple
// plus every policy rule at that exact scope level.
type Bundle struct {
	Version      int            `yaml:"version"`
	ScopeTarget  string         `yaml:"scope_target,omitempty"`
	ScopeUser    string         `yaml:"scope_user,omitempty"`
	ExportedAt   time.Time      `yaml:"exported_at"`
	Policies     []BundlePolicy `yaml:"policies"`
}

// BundlePolicy is the YAML-facing projection of model.Policy: it omits
// storage identity (ID, CreatedAt, UpdatedAt) since those are assigned on
// import, not carried across a round trip.
type BundlePolicy struct {
	Name             string   `yaml:"name"`
	Action           string   `yaml:"action"`
	TargetType       string   `yaml:"target_type"`
	Patterns         []string `yaml:"patterns"`
	Enabled          bool     `yaml:"enabled"`
	Priority         int      `yaml:"priority"`
	ScopeRestriction string   `yaml:"scope_restriction,omitempty"`
	FSOps            []string `yaml:"fs_ops,omitempty"`
	EgressMode       string   `yaml:"egress_mode,omitempty"`
}

const currentVersion = 1

// Export converts stored policies at one scope level into a Bundle ready
// for yaml.Marshal.
func Export(scopeTarget, scopeUser string, policies []model.Policy, now time.Time) Bundle {
	b := Bundle{
		Version:     currentVersion,
		ScopeTarget: scopeTarget,
		ScopeUser:   scopeUser,
		ExportedAt:  now,
	}
	for _, p := range policies {
		b.Policies = append(b.Policies, BundlePolicy{
			Name:             p.Name,
			Action:           string(p.Action),
			TargetType:       string(p.TargetType),
			Patterns:         append([]string(nil), p.Patterns...),
			Enabled:          p.Enabled,
			Priority:         p.Priority,
			ScopeRestriction: p.ScopeRestriction,
			FSOps:            fsOpsToStrings(p.FSOps),
			EgressMode:       string(p.EgressMode),
		})
	}
	return b
}

// Marshal renders a Bundle as YAML.
func Marshal(b Bundle) ([]byte, error) {
	return yaml.Marshal(b)
}

// Parse decodes a YAML document into a Bundle, rejecting unknown future
// versions outright rather than guessing at a migration.
func Parse(data []byte) (Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("policybundle: parse: %w", err)
	}
	if b.Version == 0 {
		b.Version = currentVersion
	}
	if b.Version != currentVersion {
		return Bundle{}, fmt.Errorf("policybundle: unsupported version %d", b.Version)
	}
	return b, nil
}

// ToPolicies projects a Bundle's rules back into model.Policy values scoped
// to the bundle's target/user, assigning each a fresh ID — callers Upsert
// these directly.
func (b Bundle) ToPolicies() []model.Policy {
	out := make([]model.Policy, 0, len(b.Policies))
	for _, bp := range b.Policies {
		out = append(out, model.Policy{
			ID:               model.NewPolicyID(),
			Name:             bp.Name,
			Action:           model.Action(bp.Action),
			TargetType:       model.Target(bp.TargetType),
			Patterns:         append([]string(nil), bp.Patterns...),
			Enabled:          bp.Enabled,
			Priority:         bp.Priority,
			ScopeRestriction: bp.ScopeRestriction,
			FSOps:            fsOpsFromStrings(bp.FSOps),
			EgressMode:       model.EgressMode(bp.EgressMode),
			ScopeTarget:      b.ScopeTarget,
			ScopeUser:        b.ScopeUser,
		})
	}
	return out
}

func fsOpsToStrings(ops []model.FSOp) []string {
	if len(ops) == 0 {
		return nil
	}
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}

func fsOpsFromStrings(ss []string) []model.FSOp {
	if len(ss) == 0 {
		return nil
	}
	out := make([]model.FSOp, len(ss))
	for i, s := range ss {
		out[i] = model.FSOp(s)
	}
	return out
}
