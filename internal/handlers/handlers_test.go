package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/agenshield/agenshield/internal/config"
	"github.com/agenshield/agenshield/internal/crypto"
	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/rpc"
	"github.com/agenshield/agenshield/internal/rpcerr"
	"github.com/agenshield/agenshield/internal/sandbox"
	"github.com/agenshield/agenshield/internal/scope"
	"github.com/agenshield/agenshield/internal/storage"
	"github.com/agenshield/agenshield/internal/vault"
)

// testParams is a fast, test-only scrypt/pbkdf2 tuning so vault tests don't
// pay the production KDF cost.
var testParams = crypto.Params{ScryptN: 16, ScryptR: 1, ScryptP: 1, PBKDF2Iters: 100}

func newTestDeps(t *testing.T) (Deps, *storage.Store) {
	t.Helper()
	dir := t.TempDir()
	workspace := filepath.Join(dir, "workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := storage.Open(context.Background(), filepath.Join(dir, "p.db"), filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	secretStore := storage.NewSecretStore(st.Primary)
	vaultStore := storage.NewVaultStore(st.Primary)
	v := vault.New(secretStore, vaultStore, testParams)

	deps := Deps{
		Config: config.Config{
			WorkspaceRoot:   workspace,
			MaxOutputBytes:  1024,
			MaxBodyBytes:    1024,
			FollowRedirects: 5,
		},
		Vault:      v,
		VaultStore: vaultStore,
		Sandbox:    sandbox.NewManager(filepath.Join(dir, "profiles")),
	}
	return deps, st
}

func TestPingReturnsOK(t *testing.T) {
	var p Ping
	res, err := p.Invoke(context.Background(), rpc.HandlerContext{}, nil)
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	m, ok := res.(map[string]string)
	if !ok || m["status"] != "ok" {
		t.Fatalf("res = %v, want status ok", res)
	}
}

func TestFileReadRejectsPathEscape(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := &FileRead{Deps: deps}
	params, _ := json.Marshal(fileParams{Path: "../../etc/passwd"})
	hctx := rpc.HandlerContext{FSOps: []model.FSOp{model.FSRead}}
	_, rerr := h.Invoke(context.Background(), hctx, params)
	if rerr == nil || rerr.Code != rpcerr.CodePolicyDenied {
		t.Fatalf("rerr = %v, want policy-denied", rerr)
	}
}

func TestFileReadRequiresReadFSOp(t *testing.T) {
	deps, _ := newTestDeps(t)
	if err := os.WriteFile(filepath.Join(deps.Config.WorkspaceRoot, "note.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := &FileRead{Deps: deps}
	params, _ := json.Marshal(fileParams{Path: "note.txt"})

	_, rerr := h.Invoke(context.Background(), rpc.HandlerContext{}, params)
	if rerr == nil || rerr.Code != rpcerr.CodePolicyDenied {
		t.Fatalf("rerr = %v, want policy-denied without the read FSOp", rerr)
	}

	res, rerr := h.Invoke(context.Background(), rpc.HandlerContext{FSOps: []model.FSOp{model.FSRead}}, params)
	if rerr != nil {
		t.Fatalf("rerr = %v, want nil", rerr)
	}
	m := res.(map[string]interface{})
	decoded, _ := base64.StdEncoding.DecodeString(m["content"].(string))
	if string(decoded) != "hello" {
		t.Fatalf("content = %q, want hello", decoded)
	}
}

func TestFileReadTruncatesOverLimit(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Config.MaxOutputBytes = 2
	big := []byte("abcdef")
	if err := os.WriteFile(filepath.Join(deps.Config.WorkspaceRoot, "big.txt"), big, 0o644); err != nil {
		t.Fatal(err)
	}
	h := &FileRead{Deps: deps}
	params, _ := json.Marshal(fileParams{Path: "big.txt"})
	res, rerr := h.Invoke(context.Background(), rpc.HandlerContext{FSOps: []model.FSOp{model.FSRead}}, params)
	if rerr != nil {
		t.Fatalf("rerr = %v, want nil", rerr)
	}
	m := res.(map[string]interface{})
	if !m["truncated"].(bool) {
		t.Fatal("expected truncated=true")
	}
	decoded, _ := base64.StdEncoding.DecodeString(m["content"].(string))
	if len(decoded) != 2 {
		t.Fatalf("len(decoded) = %d, want 2", len(decoded))
	}
}

func TestFileWriteRequiresWriteFSOp(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := &FileWrite{Deps: deps}
	params, _ := json.Marshal(fileWriteParams{Path: "out.txt", Content: base64.StdEncoding.EncodeToString([]byte("hi"))})

	_, rerr := h.Invoke(context.Background(), rpc.HandlerContext{}, params)
	if rerr == nil || rerr.Code != rpcerr.CodePolicyDenied {
		t.Fatalf("rerr = %v, want policy-denied without the write FSOp", rerr)
	}

	_, rerr = h.Invoke(context.Background(), rpc.HandlerContext{FSOps: []model.FSOp{model.FSWrite}}, params)
	if rerr != nil {
		t.Fatalf("rerr = %v, want nil", rerr)
	}
	written, err := os.ReadFile(filepath.Join(deps.Config.WorkspaceRoot, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(written) != "hi" {
		t.Fatalf("written = %q, want hi", written)
	}
}

func TestFileWriteRejectsPathEscape(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := &FileWrite{Deps: deps}
	params, _ := json.Marshal(fileWriteParams{Path: "../escape.txt", Content: base64.StdEncoding.EncodeToString([]byte("x"))})
	_, rerr := h.Invoke(context.Background(), rpc.HandlerContext{FSOps: []model.FSOp{model.FSWrite}}, params)
	if rerr == nil || rerr.Code != rpcerr.CodePolicyDenied {
		t.Fatalf("rerr = %v, want policy-denied", rerr)
	}
}

func TestOpenURLRejectsNonHTTPScheme(t *testing.T) {
	h := &OpenURL{}
	params, _ := json.Marshal(openURLParams{URL: "file:///etc/passwd"})
	_, rerr := h.Invoke(context.Background(), rpc.HandlerContext{}, params)
	if rerr == nil || rerr.Code != rpcerr.CodePolicyDenied {
		t.Fatalf("rerr = %v, want policy-denied", rerr)
	}
}

func TestOpenURLAcceptsHTTPS(t *testing.T) {
	h := &OpenURL{}
	params, _ := json.Marshal(openURLParams{URL: "https://example.com/docs"})
	res, rerr := h.Invoke(context.Background(), rpc.HandlerContext{}, params)
	if rerr != nil {
		t.Fatalf("rerr = %v, want nil", rerr)
	}
	if res.(map[string]interface{})["opened"] != "https://example.com/docs" {
		t.Fatalf("res = %v", res)
	}
}

func TestResolveBinaryRejectsPathComponents(t *testing.T) {
	if _, err := resolveBinary("../sh"); err == nil {
		t.Fatal("expected rejection of a relative path-qualified command")
	}
	if _, err := resolveBinary("/opt/evil/sh"); err == nil {
		t.Fatal("expected rejection of an absolute command outside the safe-list dirs")
	}
}

func TestResolveBinaryAcceptsAbsolutePathUnderSafeListDir(t *testing.T) {
	bare, errBare := resolveBinary("echo")
	if errBare != nil {
		t.Skip("echo not present on safe-list PATH in this environment")
	}
	abs, err := resolveBinary(bare)
	if err != nil {
		t.Fatalf("resolveBinary(%q) = %v, want nil error", bare, err)
	}
	if abs != bare {
		t.Fatalf("resolveBinary(%q) = %q, want %q", bare, abs, bare)
	}
}

func TestSplitCommandLineHandlesLiteralSingleStringForm(t *testing.T) {
	cmd, args := splitCommandLine("/bin/echo hi", nil)
	if cmd != "/bin/echo" || len(args) != 1 || args[0] != "hi" {
		t.Fatalf("splitCommandLine = (%q, %v), want (/bin/echo, [hi])", cmd, args)
	}
	cmd, args = splitCommandLine("git", []string{"status"})
	if cmd != "git" || len(args) != 1 || args[0] != "status" {
		t.Fatalf("splitCommandLine = (%q, %v), want (git, [status])", cmd, args)
	}
}

type stubLauncher struct {
	result sandbox.ExecResult
	err    error
	bin    string
	args   []string
	env    []string
}

func (s *stubLauncher) Launch(ctx context.Context, profilePath, bin string, args, env []string, maxOutputBytes int) (sandbox.ExecResult, error) {
	s.bin = bin
	s.args = args
	s.env = env
	return s.result, s.err
}

func TestExecInvokesLauncherWithSandboxedEnv(t *testing.T) {
	deps, _ := newTestDeps(t)
	launcher := &stubLauncher{result: sandbox.ExecResult{Stdout: []byte("hi\n"), ExitCode: 0}}
	deps.HostLauncher = launcher
	h := &Exec{Deps: deps}

	params, _ := json.Marshal(execParams{Command: "echo", Args: []string{"hi"}, Env: []string{"HOME=/root", "PATH=/evil"}})
	hctx := rpc.HandlerContext{EgressMode: model.EgressNone}

	// resolveBinary requires the command to actually exist on the
	// safe-list PATH; fall back to skipping the assertion on environments
	// without /bin/echo or /usr/bin/echo.
	if _, err := resolveBinary("echo"); err != nil {
		t.Skip("echo not present on safe-list PATH in this environment")
	}

	res, rerr := h.Invoke(context.Background(), hctx, params)
	if rerr != nil {
		t.Fatalf("rerr = %v, want nil", rerr)
	}
	m := res.(map[string]interface{})
	if m["stdout"] != "hi\n" {
		t.Fatalf("stdout = %v, want hi", m["stdout"])
	}
	for _, kv := range launcher.env {
		if kv == "PATH=/evil" {
			t.Fatal("caller-supplied PATH must not override the safe-list PATH")
		}
	}
}

func TestSecretInjectFailsWhenVaultLocked(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := &SecretInject{Deps: deps}
	params, _ := json.Marshal(secretInjectParams{Name: "api-key"})
	_, rerr := h.Invoke(context.Background(), rpc.HandlerContext{Scope: scope.Base}, params)
	if rerr == nil || rerr.Code != rpcerr.CodeVaultLocked {
		t.Fatalf("rerr = %v, want vault-locked", rerr)
	}
}

func TestSecretInjectReturnsStandaloneSecretValue(t *testing.T) {
	deps, _ := newTestDeps(t)
	ctx := context.Background()
	if err := deps.Vault.SetPasscode(ctx, "correct horse battery staple"); err != nil {
		t.Fatal(err)
	}
	if err := deps.Vault.Put(ctx, scope.Base, "api-key", model.SecretStandalone, "header:Authorization", nil, []byte("sk-live-xyz")); err != nil {
		t.Fatal(err)
	}
	h := &SecretInject{Deps: deps}
	params, _ := json.Marshal(secretInjectParams{Name: "api-key"})
	res, rerr := h.Invoke(ctx, rpc.HandlerContext{Scope: scope.Base}, params)
	if rerr != nil {
		t.Fatalf("rerr = %v, want nil", rerr)
	}
	m := res.(map[string]interface{})
	if m["value"] != "sk-live-xyz" {
		t.Fatalf("value = %v, want sk-live-xyz", m["value"])
	}
}
