// Package config loads the daemon's JSON configuration file and fills in
// documented defaults for any field left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const DefaultPath = "/opt/agenshield/config/shield.json"

// Config mirrors the fields enumerated in the external interfaces section of
// the specification. JSON field names are the wire names; missing fields
// take the defaults applied in Load.
type Config struct {
	SocketPath string `json:"socketPath"`

	HTTPHost string `json:"httpHost"`
	HTTPPort int    `json:"httpPort"`

	ControlHost string `json:"controlHost"`
	ControlPort int    `json:"controlPort"`

	PoliciesPath string `json:"policiesPath"`
	AuditLogPath string `json:"auditLogPath"`

	DefaultAction string `json:"defaultAction"`

	RequestTimeoutMs int `json:"requestTimeoutMs"`
	ReloadCooldownMs int `json:"reloadCooldownMs"`

	MaxBodyBytes   int64 `json:"maxBodyBytes"`
	MaxOutputBytes int64 `json:"maxOutputBytes"`

	FollowRedirects int `json:"followRedirects"`

	SandboxLauncherPath string `json:"sandboxLauncherPath"`
	SandboxProfileDir   string `json:"sandboxProfileDir"`

	// SandboxBackend selects the exec launcher: "host" (default) runs the
	// target directly via the sandbox-exec wrapper; "container" execs it
	// inside the already-running container named by SandboxContainerID.
	SandboxBackend     string `json:"sandboxBackend"`
	SandboxContainerID string `json:"sandboxContainerId"`

	RetentionCount int `json:"retentionCount"`
	RetentionDays  int `json:"retentionDays"`

	ScryptN int `json:"scryptN"`
	ScryptR int `json:"scryptR"`
	ScryptP int `json:"scryptP"`

	PBKDF2Iters int `json:"pbkdf2Iters"`

	WorkspaceRoot string `json:"workspaceRoot"`
}

// Load reads the config file at path, applying documented defaults for any
// field the file omits or sets to its zero value. An empty path uses
// DefaultPath.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	cfg := defaults()

	raw, err := os.ReadFile(path) // #nosec G304 -- operator-controlled config path.
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var onDisk Config
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	merge(&cfg, onDisk)
	return cfg, nil
}

func defaults() Config {
	return Config{
		SocketPath:          "/var/run/agenshield/agenshield.sock",
		HTTPHost:            "127.0.0.1",
		HTTPPort:            5201,
		ControlHost:         "127.0.0.1",
		ControlPort:         5200,
		PoliciesPath:        "/opt/agenshield/data/agenshield.db",
		AuditLogPath:        "/opt/agenshield/data/agenshield-audit.db",
		DefaultAction:       "deny",
		RequestTimeoutMs:    30_000,
		ReloadCooldownMs:    60_000,
		MaxBodyBytes:        10 * 1024 * 1024,
		MaxOutputBytes:      4 * 1024 * 1024,
		FollowRedirects:     5,
		SandboxLauncherPath: "/usr/bin/sandbox-exec",
		SandboxProfileDir:   "/tmp/agenshield-profiles",
		SandboxBackend:      "host",
		RetentionCount:      1_000_000,
		RetentionDays:       90,
		ScryptN:             16384,
		ScryptR:             8,
		ScryptP:             1,
		PBKDF2Iters:         100_000,
		WorkspaceRoot:       "/opt/agenshield/workspace",
	}
}

// merge overlays every non-zero field of onDisk onto cfg.
func merge(cfg *Config, onDisk Config) {
	if onDisk.SocketPath != "" {
		cfg.SocketPath = onDisk.SocketPath
	}
	if onDisk.HTTPHost != "" {
		cfg.HTTPHost = onDisk.HTTPHost
	}
	if onDisk.HTTPPort != 0 {
		cfg.HTTPPort = onDisk.HTTPPort
	}
	if onDisk.ControlHost != "" {
		cfg.ControlHost = onDisk.ControlHost
	}
	if onDisk.ControlPort != 0 {
		cfg.ControlPort = onDisk.ControlPort
	}
	if onDisk.PoliciesPath != "" {
		cfg.PoliciesPath = onDisk.PoliciesPath
	}
	if onDisk.AuditLogPath != "" {
		cfg.AuditLogPath = onDisk.AuditLogPath
	}
	if onDisk.DefaultAction != "" {
		cfg.DefaultAction = onDisk.DefaultAction
	}
	if onDisk.RequestTimeoutMs != 0 {
		cfg.RequestTimeoutMs = onDisk.RequestTimeoutMs
	}
	if onDisk.ReloadCooldownMs != 0 {
		cfg.ReloadCooldownMs = onDisk.ReloadCooldownMs
	}
	if onDisk.MaxBodyBytes != 0 {
		cfg.MaxBodyBytes = onDisk.MaxBodyBytes
	}
	if onDisk.MaxOutputBytes != 0 {
		cfg.MaxOutputBytes = onDisk.MaxOutputBytes
	}
	if onDisk.FollowRedirects != 0 {
		cfg.FollowRedirects = onDisk.FollowRedirects
	}
	if onDisk.SandboxLauncherPath != "" {
		cfg.SandboxLauncherPath = onDisk.SandboxLauncherPath
	}
	if onDisk.SandboxProfileDir != "" {
		cfg.SandboxProfileDir = onDisk.SandboxProfileDir
	}
	if onDisk.SandboxBackend != "" {
		cfg.SandboxBackend = onDisk.SandboxBackend
	}
	if onDisk.SandboxContainerID != "" {
		cfg.SandboxContainerID = onDisk.SandboxContainerID
	}
	if onDisk.RetentionCount != 0 {
		cfg.RetentionCount = onDisk.RetentionCount
	}
	if onDisk.RetentionDays != 0 {
		cfg.RetentionDays = onDisk.RetentionDays
	}
	if onDisk.ScryptN != 0 {
		cfg.ScryptN = onDisk.ScryptN
	}
	if onDisk.ScryptR != 0 {
		cfg.ScryptR = onDisk.ScryptR
	}
	if onDisk.ScryptP != 0 {
		cfg.ScryptP = onDisk.ScryptP
	}
	if onDisk.PBKDF2Iters != 0 {
		cfg.PBKDF2Iters = onDisk.PBKDF2Iters
	}
	if onDisk.WorkspaceRoot != "" {
		cfg.WorkspaceRoot = onDisk.WorkspaceRoot
	}
}
