package sandbox

import "context"

// ExecResult is the outcome of launching a sandboxed command, whichever
// backend ran it.
type ExecResult struct {
	Stdout    []byte
	Stderr    []byte
	ExitCode  int
	Truncated bool
}

// Launcher runs bin with args and env under the profile at profilePath,
// capping captured stdout at maxOutputBytes.
type Launcher interface {
	Launch(ctx context.Context, profilePath, bin string, args, env []string, maxOutputBytes int) (ExecResult, error)
}
