package handlers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/rpc"
	"github.com/agenshield/agenshield/internal/rpcerr"
)

// safePathDirs is the static safe-list used to resolve exec binaries and as
// the child's PATH; the broker's own environment is never forwarded.
var safePathDirs = []string{"/usr/local/bin", "/usr/bin", "/bin"}

type execParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Env     []string `json:"env"` // "NAME=value" pairs requested by the caller
}

// Exec implements `exec` (spec §4.5): socket-only, requires a matching
// allow rule and flows through the sandbox profile manager and a launcher
// backend before the target binary ever runs.
type Exec struct{ Deps Deps }

func (h *Exec) Describe(params json.RawMessage) (rpc.Describe, *rpcerr.Error) {
	var p execParams
	if err := json.Unmarshal(params, &p); err != nil {
		return rpc.Describe{}, rpcerr.InvalidParams("exec: " + err.Error())
	}
	if p.Command == "" {
		return rpc.Describe{}, rpcerr.InvalidParams("exec: command is required")
	}
	command, args := splitCommandLine(p.Command, p.Args)
	return rpc.Describe{
		TargetType:       model.TargetCommand,
		Target:           command,
		Args:             args,
		ScopeRestriction: "command:" + filepath.Base(command),
	}, nil
}

func (h *Exec) Invoke(ctx context.Context, hctx rpc.HandlerContext, params json.RawMessage) (interface{}, *rpcerr.Error) {
	var p execParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.InvalidParams("exec: " + err.Error())
	}

	command, args := splitCommandLine(p.Command, p.Args)

	bin, err := resolveBinary(command)
	if err != nil {
		return nil, rpcerr.PolicyDenied("exec: could not resolve command on configured PATH: " + p.Command)
	}

	profilePath, err := h.Deps.Sandbox.ProfileFor(model.SandboxProfileInputs{
		WorkspaceRoot: h.Deps.Config.WorkspaceRoot,
		SocketPath:    h.Deps.Config.SocketPath,
		EgressMode:    hctx.EgressMode,
		ReadAllow:     []string{h.Deps.Config.WorkspaceRoot},
		WriteAllow:    fsWriteAllow(hctx.FSOps, h.Deps.Config.WorkspaceRoot),
	})
	if err != nil {
		return nil, rpcerr.Internal("exec: sandbox profile: " + err.Error())
	}

	env := intersectEnv(safePathDirs, p.Env)

	launcher := h.Deps.HostLauncher
	if launcher == nil {
		return nil, rpcerr.Internal("exec: no launcher backend configured")
	}

	maxOut := int(h.Deps.Config.MaxOutputBytes)
	result, err := launcher.Launch(ctx, profilePath, bin, args, env, maxOut)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rpcerr.DeadlineExceeded()
		}
		return nil, rpcerr.Internal("exec: " + err.Error())
	}

	return map[string]interface{}{
		"exit_code": result.ExitCode,
		"stdout":    string(result.Stdout),
		"stderr":    string(result.Stderr),
		"truncated": result.Truncated,
	}, nil
}

// splitCommandLine accepts both calling conventions an agent harness might
// use: {"command":"git","args":["status"]} and the single-string form
// {"command":"/bin/echo hi"} (spec.md §8 scenario 4). When args is already
// populated, command is used as-is; otherwise command is split on
// whitespace, the first token becoming the binary and the rest its args.
// This is a plain space split with no shell quoting — good enough for the
// safe-list binaries this handler ever resolves.
func splitCommandLine(command string, args []string) (string, []string) {
	if len(args) > 0 {
		return command, args
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command, nil
	}
	if len(fields) == 1 {
		return fields[0], nil
	}
	return fields[0], fields[1:]
}

// resolveBinary canonicalises the requested command against the static
// safe-list PATH, rejecting anything not found there (spec §4.5 step 1). A
// bare name is searched across safePathDirs; an absolute path is accepted
// only when its parent directory is itself one of safePathDirs, so
// "/bin/echo" resolves the same way "echo" does but "/opt/evil/echo" never
// does. Any other path shape (relative with a separator, "..", etc.) is
// rejected outright.
func resolveBinary(command string) (string, error) {
	if command == filepath.Base(command) {
		for _, dir := range safePathDirs {
			candidate := filepath.Join(dir, command)
			if bin, ok := statExecutable(candidate); ok {
				return bin, nil
			}
		}
		return "", os.ErrNotExist
	}
	if filepath.IsAbs(command) {
		dir := filepath.Dir(command)
		for _, safe := range safePathDirs {
			if dir == safe {
				if bin, ok := statExecutable(command); ok {
					return bin, nil
				}
				return "", os.ErrNotExist
			}
		}
	}
	return "", os.ErrNotExist
}

func statExecutable(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	if info.Mode()&0o111 == 0 {
		return "", false
	}
	return path, true
}

func fsWriteAllow(ops []model.FSOp, workspaceRoot string) []string {
	for _, op := range ops {
		if op == model.FSWrite {
			return []string{workspaceRoot}
		}
	}
	return nil
}

// intersectEnv returns a PATH entry built from the static safe-list plus the
// caller's requested "NAME=value" pairs. Requested names are not checked
// against a name safe-list or a rule whitelist: every well-formed pair
// passes through except PATH, which the safe-list entry always supplies.
// The broker's own environment is never forwarded.
func intersectEnv(pathDirs []string, requested []string) []string {
	env := []string{"PATH=" + strings.Join(pathDirs, ":")}
	for _, kv := range requested {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || name == "" || name == "PATH" {
			continue
		}
		env = append(env, kv)
	}
	return env
}
