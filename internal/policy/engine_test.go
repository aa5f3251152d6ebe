package policy

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/scope"
	"github.com/agenshield/agenshield/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.PolicyStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(context.Background(), filepath.Join(dir, "p.db"), filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ps := storage.NewPolicyStore(st.Primary)
	cs := storage.NewConfigStore(st.Primary)
	logger := log.New(os.Stderr, "", 0)
	eng, err := New(context.Background(), ps, cs, time.Hour, logger)
	if err != nil {
		t.Fatal(err)
	}
	return eng, ps
}

func TestEvaluateDefaultDenyWithNoRules(t *testing.T) {
	eng, _ := newTestEngine(t)
	d := eng.Evaluate(Request{TargetType: model.TargetURL, Target: "https://example.com/x"})
	if d.Action != model.ActionDeny {
		t.Fatalf("action = %q, want deny", d.Action)
	}
}

func TestEvaluateHigherPriorityWins(t *testing.T) {
	eng, ps := newTestEngine(t)
	ctx := context.Background()
	if err := ps.Upsert(ctx, model.Policy{Name: "low-deny", Action: model.ActionDeny, TargetType: model.TargetURL,
		Patterns: []string{"example.com/**"}, Enabled: true, Priority: 10}); err != nil {
		t.Fatal(err)
	}
	if err := ps.Upsert(ctx, model.Policy{Name: "high-allow", Action: model.ActionAllow, TargetType: model.TargetURL,
		Patterns: []string{"example.com/**"}, Enabled: true, Priority: 50}); err != nil {
		t.Fatal(err)
	}
	eng.lastLoad.Store(0)
	eng.Reload(ctx, scope.Base)

	d := eng.Evaluate(Request{TargetType: model.TargetURL, Target: "https://example.com/v1"})
	if d.Action != model.ActionAllow {
		t.Fatalf("action = %q, want allow (higher priority rule)", d.Action)
	}
}

func TestEvaluateScopeRestrictionSkipsNonMatchingContext(t *testing.T) {
	eng, ps := newTestEngine(t)
	ctx := context.Background()
	if err := ps.Upsert(ctx, model.Policy{Name: "git-only", Action: model.ActionAllow, TargetType: model.TargetURL,
		Patterns: []string{"example.com/**"}, Enabled: true, Priority: 10, ScopeRestriction: "command:git"}); err != nil {
		t.Fatal(err)
	}
	eng.lastLoad.Store(0)
	eng.Reload(ctx, scope.Base)

	d := eng.Evaluate(Request{TargetType: model.TargetURL, Target: "https://example.com/v1"})
	if d.Action != model.ActionDeny {
		t.Fatalf("action = %q, want deny (scope restriction should skip the rule)", d.Action)
	}

	d2 := eng.Evaluate(Request{TargetType: model.TargetURL, Target: "https://example.com/v1", ScopeRestriction: "command:git"})
	if d2.Action != model.ActionAllow {
		t.Fatalf("action = %q, want allow (matching scope restriction)", d2.Action)
	}
}

func TestCompileSkipsMalformedRuleWithoutPoisoningSnapshot(t *testing.T) {
	rows := []model.Policy{
		{ID: "a", Enabled: true, Priority: 10}, // no patterns: malformed
		{ID: "b", Enabled: true, Priority: 5, Patterns: []string{"example.com"}, TargetType: model.TargetURL},
	}
	compiled := compile(rows, nil)
	if len(compiled) != 1 || compiled[0].ID != "b" {
		t.Fatalf("compiled = %+v, want only rule b", compiled)
	}
}

func TestReloadCooldownSuppressesImmediateRereads(t *testing.T) {
	eng, ps := newTestEngine(t)
	ctx := context.Background()
	eng.cooldown = time.Hour
	if err := ps.Upsert(ctx, model.Policy{Name: "late", Action: model.ActionAllow, TargetType: model.TargetURL,
		Patterns: []string{"example.com/**"}, Enabled: true, Priority: 10}); err != nil {
		t.Fatal(err)
	}
	eng.Reload(ctx, scope.Base) // within cooldown since New() already loaded: should be a no-op
	d := eng.Evaluate(Request{TargetType: model.TargetURL, Target: "https://example.com/v1"})
	if d.Action != model.ActionDeny {
		t.Fatalf("action = %q, want deny (reload should have been suppressed by cooldown)", d.Action)
	}
}
