package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// HostLauncher wraps the target binary with the host's sandbox-launcher
// program (spec §4.5: "profile path as the first argument family, the
// target binary as the trailing command").
type HostLauncher struct {
	LauncherPath string
}

func NewHostLauncher(launcherPath string) *HostLauncher {
	return &HostLauncher{LauncherPath: launcherPath}
}

func (l *HostLauncher) Launch(ctx context.Context, profilePath, bin string, args, env []string, maxOutputBytes int) (ExecResult, error) {
	launchArgs := append([]string{"-f", profilePath, bin}, args...)
	cmd := exec.CommandContext(ctx, l.LauncherPath, launchArgs...)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		err = nil
	} else if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: launch %s: %w", bin, err)
	}

	out, truncated := capBytes(stdout.Bytes(), maxOutputBytes)
	return ExecResult{Stdout: out, Stderr: stderr.Bytes(), ExitCode: exitCode, Truncated: truncated}, nil
}

func capBytes(b []byte, limit int) ([]byte, bool) {
	if limit <= 0 || len(b) <= limit {
		return b, false
	}
	return b[:limit], true
}
