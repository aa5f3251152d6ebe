// Package policy compiles scoped policy rows into a priority-ordered rule
// set and evaluates requests against it, following spec §4.3: unioned scope
// levels, descending priority with stable-id tiebreak, atomic snapshot swap,
// and a reload cooldown instead of a re-read per request.
package policy

import (
	"context"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/scope"
	"github.com/agenshield/agenshield/internal/storage"
)

// Request is the target the engine evaluates a decision for.
type Request struct {
	TargetType       model.Target
	Target           string   // URL, absolute path, or skill name
	Args             []string // exec argv, for command targets
	ScopeRestriction string   // calling context tag, e.g. "command:git"
	Scope            scope.Triple
}

// Decision is the engine's verdict plus any sandbox hints the matched
// allow rule carries.
type Decision struct {
	Action        model.Action
	MatchedPolicy string // policy id, empty if the default action applied
	EgressMode    model.EgressMode
	FSOps         []model.FSOp
}

// snapshot is the immutable, atomically-swapped compiled rule set.
type snapshot struct {
	rules         []model.Policy
	defaultAction model.Action
}

// Engine holds the current snapshot and periodically refreshes it from the
// store, never more often than the configured cooldown.
type Engine struct {
	policies *storage.PolicyStore
	configs  *storage.ConfigStore
	cooldown time.Duration
	logger   *log.Logger

	current  atomic.Pointer[snapshot]
	unhealth atomic.Bool
	lastLoad atomic.Int64 // unix nanos
}

// New constructs an engine and loads its first snapshot synchronously so
// the daemon never serves requests against an empty rule set.
func New(ctx context.Context, policies *storage.PolicyStore, configs *storage.ConfigStore, cooldown time.Duration, logger *log.Logger) (*Engine, error) {
	e := &Engine{policies: policies, configs: configs, cooldown: cooldown, logger: logger}
	if err := e.reload(ctx, scope.Base); err != nil {
		return nil, err
	}
	return e, nil
}

// Healthy reports false once the store has become unreachable and the
// engine is serving a stale snapshot.
func (e *Engine) Healthy() bool { return !e.unhealth.Load() }

// Reload re-reads the store for the given scope and swaps the snapshot if
// the cooldown has elapsed. Callers on the request path should call this;
// it is a cheap no-op within the cooldown window.
func (e *Engine) Reload(ctx context.Context, tr scope.Triple) {
	last := e.lastLoad.Load()
	if last != 0 && time.Since(time.Unix(0, last)) < e.cooldown {
		return
	}
	if err := e.reload(ctx, tr); err != nil && e.logger != nil {
		e.logger.Printf("policy: reload failed, retaining last good snapshot: %v", err)
	}
}

func (e *Engine) reload(ctx context.Context, tr scope.Triple) error {
	rows, err := e.policies.ListForScope(ctx, tr)
	if err != nil {
		e.unhealth.Store(true)
		return err
	}
	defaultAction := model.ActionDeny
	if e.configs != nil {
		merged, cfgErr := e.configs.Merged(ctx, tr)
		if cfgErr == nil {
			if v, ok := merged["defaultAction"]; ok && v != "" {
				defaultAction = model.Action(v)
			}
		}
	}

	compiled := compile(rows, e.logger)
	e.current.Store(&snapshot{rules: compiled, defaultAction: defaultAction})
	e.unhealth.Store(false)
	e.lastLoad.Store(time.Now().UnixNano())
	return nil
}

// compile sorts enabled, well-formed policies by descending priority then
// ascending stable id. A malformed rule (empty pattern list) is logged and
// dropped rather than allowed to poison the snapshot.
func compile(rows []model.Policy, logger *log.Logger) []model.Policy {
	out := make([]model.Policy, 0, len(rows))
	for _, p := range rows {
		if !p.Enabled {
			continue
		}
		if len(p.Patterns) == 0 {
			if logger != nil {
				logger.Printf("policy: skipping malformed rule id=%s (no patterns)", p.ID)
			}
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Evaluate walks the current snapshot for the given request, returning the
// first matching rule's action or the configured default action.
func (e *Engine) Evaluate(req Request) Decision {
	snap := e.current.Load()
	if snap == nil {
		return Decision{Action: model.ActionDeny}
	}
	for _, p := range snap.rules {
		if p.TargetType != req.TargetType {
			continue
		}
		if p.ScopeRestriction != "" && p.ScopeRestriction != req.ScopeRestriction {
			continue
		}
		if !matchesAny(p, req) {
			continue
		}
		return Decision{
			Action:        p.Action,
			MatchedPolicy: p.ID,
			EgressMode:    p.EgressMode,
			FSOps:         p.FSOps,
		}
	}
	return Decision{Action: snap.defaultAction}
}

func matchesAny(p model.Policy, req Request) bool {
	for _, pattern := range p.Patterns {
		switch p.TargetType {
		case model.TargetURL:
			if matchURL(pattern, req.Target) {
				return true
			}
		case model.TargetCommand:
			if matchCommand(pattern, req.Target, req.Args) {
				return true
			}
		case model.TargetFilesystem:
			if matchFilesystem(pattern, req.Target) {
				return true
			}
		case model.TargetSkill:
			if matchSkill(pattern, req.Target) {
				return true
			}
		}
	}
	return false
}
