package vault

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agenshield/agenshield/internal/crypto"
	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/scope"
	"github.com/agenshield/agenshield/internal/storage"
)

func testParams() crypto.Params {
	return crypto.Params{ScryptN: 16, ScryptR: 8, ScryptP: 1, PBKDF2Iters: 100}
}

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(context.Background(), filepath.Join(dir, "p.db"), filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(storage.NewSecretStore(st.Primary), storage.NewVaultStore(st.Primary), testParams())
}

func TestOperationsFailLockedBeforeUnlock(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	if _, _, err := v.GetByName(ctx, scope.Base, "x"); err != ErrLocked {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	if err := v.Put(ctx, scope.Base, "x", model.SecretGlobal, "", nil, []byte("y")); err != ErrLocked {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
}

func TestSetPasscodeThenUnlockRoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	if err := v.SetPasscode(ctx, "correct horse battery staple"); err != nil {
		t.Fatal(err)
	}
	if !v.IsUnlocked() {
		t.Fatal("expected vault unlocked after set_passcode")
	}

	if err := v.Put(ctx, scope.Base, "API_KEY", model.SecretGlobal, "header:Authorization", nil, []byte("sk-live-123")); err != nil {
		t.Fatal(err)
	}
	v.Lock()
	if v.IsUnlocked() {
		t.Fatal("expected locked after Lock")
	}
	if _, _, err := v.GetByName(ctx, scope.Base, "API_KEY"); err != ErrLocked {
		t.Fatalf("err = %v, want ErrLocked while locked", err)
	}

	if err := v.Unlock(ctx, "correct horse battery staple"); err != nil {
		t.Fatal(err)
	}
	plaintext, _, err := v.GetByName(ctx, scope.Base, "API_KEY")
	if err != nil {
		t.Fatal(err)
	}
	if string(plaintext) != "sk-live-123" {
		t.Fatalf("plaintext = %q, want sk-live-123", plaintext)
	}
}

func TestUnlockWrongPasscodeFails(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	if err := v.SetPasscode(ctx, "right-passcode"); err != nil {
		t.Fatal(err)
	}
	v.Lock()
	if err := v.Unlock(ctx, "wrong-passcode"); err != ErrWrongPasscode {
		t.Fatalf("err = %v, want ErrWrongPasscode", err)
	}
}

func TestChangePasscodeReencryptsAndRetiresOldPasscode(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	if err := v.SetPasscode(ctx, "old-passcode"); err != nil {
		t.Fatal(err)
	}
	if err := v.Put(ctx, scope.Base, "TOKEN", model.SecretGlobal, "", nil, []byte("secret-value")); err != nil {
		t.Fatal(err)
	}

	if err := v.ChangePasscode(ctx, "old-passcode", "new-passcode"); err != nil {
		t.Fatal(err)
	}

	plaintext, _, err := v.GetByName(ctx, scope.Base, "TOKEN")
	if err != nil {
		t.Fatal(err)
	}
	if string(plaintext) != "secret-value" {
		t.Fatalf("plaintext after rekey = %q, want secret-value", plaintext)
	}

	v.Lock()
	if err := v.Unlock(ctx, "old-passcode"); err != ErrWrongPasscode {
		t.Fatalf("old passcode should no longer unlock, got %v", err)
	}
	if err := v.Unlock(ctx, "new-passcode"); err != nil {
		t.Fatalf("new passcode should unlock: %v", err)
	}
}

func TestChangePasscodeWrongOldLeavesVaultUntouched(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	if err := v.SetPasscode(ctx, "old-passcode"); err != nil {
		t.Fatal(err)
	}
	if err := v.ChangePasscode(ctx, "not-the-old-passcode", "new-passcode"); err != ErrWrongPasscode {
		t.Fatalf("err = %v, want ErrWrongPasscode", err)
	}
	v.Lock()
	if err := v.Unlock(ctx, "old-passcode"); err != nil {
		t.Fatalf("old passcode should still unlock after a failed change: %v", err)
	}
}

func newTestVaultAndStore(t *testing.T) (*Vault, *storage.VaultStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(context.Background(), filepath.Join(dir, "p.db"), filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	vs := storage.NewVaultStore(st.Primary)
	return New(storage.NewSecretStore(st.Primary), vs, testParams()), vs
}

func TestGetByNameForPolicyApprovedRequestReleasesValueOnce(t *testing.T) {
	v, vs := newTestVaultAndStore(t)
	ctx := context.Background()
	if err := v.SetPasscode(ctx, "p"); err != nil {
		t.Fatal(err)
	}
	if err := v.Put(ctx, scope.Base, "DB_PASSWORD", model.SecretPoliced, "", []string{"pol-1"}, []byte("s3cr3t")); err != nil {
		t.Fatal(err)
	}

	_, _, err := v.GetByNameForPolicy(ctx, vs, scope.Base, "DB_PASSWORD", "pol-1", "agent-a")
	if err != ErrApprovalPending {
		t.Fatalf("first access: err = %v, want ErrApprovalPending", err)
	}

	pending, err := vs.PendingForSecret(ctx, "DB_PASSWORD")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if err := v.Resolve(ctx, vs, pending[0].ID, ApprovalApproved, "operator-1"); err != nil {
		t.Fatal(err)
	}

	plaintext, _, err := v.GetByNameForPolicy(ctx, vs, scope.Base, "DB_PASSWORD", "pol-1", "agent-a")
	if err != nil {
		t.Fatalf("access after approval: err = %v, want nil", err)
	}
	if string(plaintext) != "s3cr3t" {
		t.Fatalf("plaintext = %q, want s3cr3t", plaintext)
	}

	if _, _, err := v.GetByNameForPolicy(ctx, vs, scope.Base, "DB_PASSWORD", "pol-1", "agent-a"); err != ErrApprovalPending {
		t.Fatalf("access after consuming the approval: err = %v, want ErrApprovalPending (a fresh request)", err)
	}
}

func TestSecretResolutionMostSpecificScope(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	if err := v.SetPasscode(ctx, "p"); err != nil {
		t.Fatal(err)
	}
	if err := v.Put(ctx, scope.Base, "NAME", model.SecretGlobal, "", nil, []byte("base-value")); err != nil {
		t.Fatal(err)
	}
	if err := v.Put(ctx, scope.Triple{Target: "prod"}, "NAME", model.SecretGlobal, "", nil, []byte("prod-value")); err != nil {
		t.Fatal(err)
	}
	got, _, err := v.GetByName(ctx, scope.Triple{Target: "prod", User: "alice"}, "NAME")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "prod-value" {
		t.Fatalf("got = %q, want prod-value", got)
	}
}
