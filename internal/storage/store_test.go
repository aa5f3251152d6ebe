package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/scope"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(context.Background(), filepath.Join(dir, "primary.db"), filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenAppliesMigrationsAndApplicationID(t *testing.T) {
	st := openTestStore(t)
	var appID int
	if err := st.Primary.QueryRow(`PRAGMA application_id;`).Scan(&appID); err != nil {
		t.Fatal(err)
	}
	if appID != primaryApplicationID {
		t.Fatalf("application_id = %d, want %d", appID, primaryApplicationID)
	}
}

func TestReopenDetectsTamperedApplicationID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primary.db")
	auditPath := filepath.Join(dir, "audit.db")
	st, err := Open(context.Background(), path, auditPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	// Reopen directly and stomp the application_id to simulate tamper.
	tampered, err := openUnit(context.Background(), path, 0xDEADBEEF, nil)
	if err == nil {
		_ = tampered.Close()
		t.Fatal("expected tamper error reopening with a different application id")
	}
	if err != ErrTampered {
		t.Fatalf("err = %v, want ErrTampered", err)
	}
}

func TestConfigMergeMostSpecificWins(t *testing.T) {
	st := openTestStore(t)
	cs := NewConfigStore(st.Primary)
	ctx := context.Background()

	if err := cs.SetField(ctx, scope.Base, "defaultAction", "deny"); err != nil {
		t.Fatal(err)
	}
	if err := cs.SetField(ctx, scope.Triple{Target: "prod"}, "defaultAction", "allow"); err != nil {
		t.Fatal(err)
	}
	if err := cs.SetField(ctx, scope.Triple{Target: "prod"}, "requestTimeoutMs", "5000"); err != nil {
		t.Fatal(err)
	}

	merged, err := cs.Merged(ctx, scope.Triple{Target: "prod", User: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if merged["defaultAction"] != "allow" {
		t.Fatalf("defaultAction = %q, want allow (target overlay)", merged["defaultAction"])
	}
	if merged["requestTimeoutMs"] != "5000" {
		t.Fatalf("requestTimeoutMs = %q, want 5000", merged["requestTimeoutMs"])
	}

	mergedOther, err := cs.Merged(ctx, scope.Triple{Target: "staging"})
	if err != nil {
		t.Fatal(err)
	}
	if mergedOther["defaultAction"] != "deny" {
		t.Fatalf("staging defaultAction = %q, want base deny", mergedOther["defaultAction"])
	}
}

func TestPolicyListForScopeUnionsLevels(t *testing.T) {
	st := openTestStore(t)
	ps := NewPolicyStore(st.Primary)
	ctx := context.Background()

	base := model.Policy{Name: "base-allow", Action: model.ActionAllow, TargetType: model.TargetURL,
		Patterns: []string{"example.com"}, Enabled: true, Priority: 100}
	targeted := model.Policy{Name: "prod-deny", Action: model.ActionDeny, TargetType: model.TargetURL,
		Patterns: []string{"example.com"}, Enabled: true, Priority: 200, ScopeTarget: "prod"}
	if err := ps.Upsert(ctx, base); err != nil {
		t.Fatal(err)
	}
	if err := ps.Upsert(ctx, targeted); err != nil {
		t.Fatal(err)
	}

	list, err := ps.ListForScope(ctx, scope.Triple{Target: "prod"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}

	other, err := ps.ListForScope(ctx, scope.Triple{Target: "staging"})
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Fatalf("len(other) = %d, want 1 (base only)", len(other))
	}
}

func TestSecretResolveByNameMostSpecific(t *testing.T) {
	st := openTestStore(t)
	ss := NewSecretStore(st.Primary)
	ctx := context.Background()

	base := model.Secret{Name: "API_KEY", Ciphertext: []byte("base-cipher"), Scope: model.SecretGlobal}
	scoped := model.Secret{Name: "API_KEY", Ciphertext: []byte("prod-cipher"), Scope: model.SecretGlobal, ScopeTarget: "prod"}
	if err := ss.Put(ctx, base); err != nil {
		t.Fatal(err)
	}
	if err := ss.Put(ctx, scoped); err != nil {
		t.Fatal(err)
	}

	got, ok, err := ss.ResolveByName(ctx, scope.Triple{Target: "prod", User: "alice"}, "API_KEY")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a resolved secret")
	}
	if string(got.Ciphertext) != "prod-cipher" {
		t.Fatalf("ciphertext = %q, want prod-cipher", got.Ciphertext)
	}

	gotStaging, ok, err := ss.ResolveByName(ctx, scope.Triple{Target: "staging"}, "API_KEY")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected base secret to resolve for an unrelated target")
	}
	if string(gotStaging.Ciphertext) != "base-cipher" {
		t.Fatalf("ciphertext = %q, want base-cipher", gotStaging.Ciphertext)
	}
}
