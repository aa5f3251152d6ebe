// Package sandbox generates per-invocation kernel sandbox profiles from
// policy-engine hints (spec §4.4) and dispatches exec requests to one of
// two launcher backends: a host sandbox-exec wrapper, or a containerized
// Docker exec, chosen once at daemon startup from the sandboxBackend
// configuration field.
package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agenshield/agenshield/internal/model"
)

// Manager generates and caches textual sandbox profiles on disk, keyed by
// a hash of their canonicalised input.
type Manager struct {
	cacheDir string
}

func NewManager(cacheDir string) *Manager {
	return &Manager{cacheDir: cacheDir}
}

// ProfileFor returns the path to a deny-default profile reflecting inputs,
// writing it to the cache directory on first use and returning the cached
// path on repeat, byte-identical, calls.
func (m *Manager) ProfileFor(inputs model.SandboxProfileInputs) (string, error) {
	canon := canonicalize(inputs)
	key := fingerprint(canon)
	path := filepath.Join(m.cacheDir, key+".sb")

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(m.cacheDir, 0o700); err != nil {
		return "", fmt.Errorf("sandbox: create cache dir: %w", err)
	}
	content := render(canon)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("sandbox: write profile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("sandbox: install profile: %w", err)
	}
	return path, nil
}

// canonical is the sorted, deduplicated projection of inputs that the
// fingerprint and render steps both operate on, so that equivalent inputs
// under reordering or duplication hash identically.
type canonical struct {
	WorkspaceRoot string
	SocketPath    string
	EgressMode    model.EgressMode
	ProxyAddress  string
	ReadAllow     []string
	WriteAllow    []string
	ExtraDeny     []string
}

func canonicalize(in model.SandboxProfileInputs) canonical {
	return canonical{
		WorkspaceRoot: filepath.Clean(in.WorkspaceRoot),
		SocketPath:    filepath.Clean(in.SocketPath),
		EgressMode:    in.EgressMode,
		ProxyAddress:  strings.TrimSpace(in.ProxyAddress),
		ReadAllow:     sortedUnique(in.ReadAllow),
		WriteAllow:    sortedUnique(in.WriteAllow),
		ExtraDeny:     sortedUnique(in.ExtraDeny),
	}
}

func sortedUnique(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		c := filepath.Clean(s)
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func fingerprint(c canonical) string {
	h := sha256.New()
	fmt.Fprintf(h, "workspace=%s\nsocket=%s\negress=%s\nproxy=%s\n", c.WorkspaceRoot, c.SocketPath, c.EgressMode, c.ProxyAddress)
	for _, p := range c.ReadAllow {
		fmt.Fprintf(h, "read=%s\n", p)
	}
	for _, p := range c.WriteAllow {
		fmt.Fprintf(h, "write=%s\n", p)
	}
	for _, p := range c.ExtraDeny {
		fmt.Fprintf(h, "deny=%s\n", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// render produces the textual deny-default profile. Format follows the
// sandbox-exec S-expression profile grammar: deny everything by default,
// then targeted allows.
func render(c canonical) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(deny default)\n\n")

	fmt.Fprintf(&b, "(allow file-read* file-write* (literal %q))\n", c.SocketPath)
	b.WriteString("(allow network-outbound (remote unix-socket))\n\n")

	for _, p := range c.ReadAllow {
		fmt.Fprintf(&b, "(allow file-read* (subpath %q))\n", p)
	}
	for _, p := range c.WriteAllow {
		fmt.Fprintf(&b, "(allow file-read* file-write* (subpath %q))\n", p)
	}
	for _, p := range c.ExtraDeny {
		fmt.Fprintf(&b, "(deny file-read* file-write* (subpath %q))\n", p)
	}

	b.WriteString("\n")
	switch c.EgressMode {
	case model.EgressDirect:
		b.WriteString("(allow network-outbound)\n")
	case model.EgressProxy:
		fmt.Fprintf(&b, "(allow network-outbound (remote tcp %q))\n", c.ProxyAddress)
	case model.EgressNone:
		b.WriteString("(deny network-outbound)\n")
	default:
		b.WriteString("(deny network-outbound)\n")
	}
	return b.String()
}
