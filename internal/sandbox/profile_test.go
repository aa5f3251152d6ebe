package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agenshield/agenshield/internal/model"
)

func testInputs() model.SandboxProfileInputs {
	return model.SandboxProfileInputs{
		WorkspaceRoot: "/tmp/workspace",
		SocketPath:    "/var/run/agenshield/agenshield.sock",
		EgressMode:    model.EgressProxy,
		ReadAllow:     []string{"/tmp/workspace/data", "/tmp/workspace/docs"},
		WriteAllow:    []string{"/tmp/workspace/out"},
		ProxyAddress:  "127.0.0.1:8080",
	}
}

func TestProfileForIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	path1, err := m.ProfileFor(testInputs())
	if err != nil {
		t.Fatal(err)
	}
	path2, err := m.ProfileFor(testInputs())
	if err != nil {
		t.Fatal(err)
	}
	if path1 != path2 {
		t.Fatalf("path1 = %q, path2 = %q, want equal for equal input", path1, path2)
	}

	c1, err := os.ReadFile(path1)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := os.ReadFile(path2)
	if err != nil {
		t.Fatal(err)
	}
	if string(c1) != string(c2) {
		t.Fatal("cached profile content should be byte-identical across calls")
	}
}

func TestProfileForCanonicalizesInputOrdering(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	in1 := testInputs()
	in2 := testInputs()
	in2.ReadAllow = []string{"/tmp/workspace/docs", "/tmp/workspace/data"} // reordered

	path1, err := m.ProfileFor(in1)
	if err != nil {
		t.Fatal(err)
	}
	path2, err := m.ProfileFor(in2)
	if err != nil {
		t.Fatal(err)
	}
	if path1 != path2 {
		t.Fatal("reordered but equivalent allow-lists should canonicalize to the same path")
	}
}

func TestProfileForDiffersOnDifferentInput(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	in1 := testInputs()
	in2 := testInputs()
	in2.EgressMode = model.EgressNone

	path1, err := m.ProfileFor(in1)
	if err != nil {
		t.Fatal(err)
	}
	path2, err := m.ProfileFor(in2)
	if err != nil {
		t.Fatal(err)
	}
	if path1 == path2 {
		t.Fatal("different egress mode should produce a different cache key")
	}
	if filepath.Dir(path1) != dir {
		t.Fatalf("profile should live under the configured cache dir, got %q", path1)
	}
}
