package daemon

import (
	"testing"

	"github.com/agenshield/agenshield/internal/config"
	"github.com/agenshield/agenshield/internal/sandbox"
)

func TestBuildLauncherDefaultsToHost(t *testing.T) {
	cfg := config.Config{SandboxLauncherPath: "/usr/bin/sandbox-exec"}
	l, err := buildLauncher(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*sandbox.HostLauncher); !ok {
		t.Fatalf("launcher = %T, want *sandbox.HostLauncher", l)
	}
}

func TestBuildLauncherExplicitHost(t *testing.T) {
	cfg := config.Config{SandboxBackend: "host", SandboxLauncherPath: "/usr/bin/sandbox-exec"}
	l, err := buildLauncher(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*sandbox.HostLauncher); !ok {
		t.Fatalf("launcher = %T, want *sandbox.HostLauncher", l)
	}
}

func TestBuildLauncherContainerRequiresContainerID(t *testing.T) {
	cfg := config.Config{SandboxBackend: "container"}
	if _, err := buildLauncher(cfg); err == nil {
		t.Fatal("expected an error when sandboxContainerId is unset")
	}
}

func TestBuildLauncherRejectsUnknownBackend(t *testing.T) {
	cfg := config.Config{SandboxBackend: "vm"}
	if _, err := buildLauncher(cfg); err == nil {
		t.Fatal("expected an error for an unrecognised sandboxBackend")
	}
}
