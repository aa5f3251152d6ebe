// Package daemon builds the injected daemon context: every storage
// handle, the vault, the policy engine, the audit log, and a fully wired
// dispatcher, constructed once in main and threaded through every
// component instead of package-level globals (spec §9 Design Notes).
package daemon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/agenshield/agenshield/internal/audit"
	"github.com/agenshield/agenshield/internal/client"
	"github.com/agenshield/agenshield/internal/config"
	"github.com/agenshield/agenshield/internal/control"
	"github.com/agenshield/agenshield/internal/crypto"
	"github.com/agenshield/agenshield/internal/handlers"
	"github.com/agenshield/agenshield/internal/policy"
	"github.com/agenshield/agenshield/internal/rpc"
	"github.com/agenshield/agenshield/internal/sandbox"
	"github.com/agenshield/agenshield/internal/session"
	"github.com/agenshield/agenshield/internal/storage"
	"github.com/agenshield/agenshield/internal/vault"
)

const (
	defaultSessionTTL       = 15 * time.Minute
	defaultSessionLockAfter = 30 * time.Minute
)

// Context owns every long-lived component the daemon binary starts
// listeners around.
type Context struct {
	Config config.Config
	Logger *log.Logger

	Store      *storage.Store
	Engine     *policy.Engine
	AuditLog   *audit.Log
	Vault      *vault.Vault
	VaultStore *storage.VaultStore
	Sandbox    *sandbox.Manager
	Sessions   *session.Manager
	Dispatcher *rpc.Dispatcher
	Control    *control.Server

	launcher sandbox.Launcher
}

// New opens storage, builds every component, and registers every handler
// on a fresh dispatcher. Callers (cmd/agenshieldd) are responsible for
// turning storage.ErrTampered into the documented exit code.
func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*Context, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "agenshieldd ", log.LstdFlags|log.LUTC)
	}

	st, err := storage.OpenWithRetry(ctx, cfg.PoliciesPath, cfg.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open storage: %w", err)
	}

	policies := storage.NewPolicyStore(st.Primary)
	configs := storage.NewConfigStore(st.Primary)
	auditStore := storage.NewAuditStore(st.Audit)
	secrets := storage.NewSecretStore(st.Primary)
	vaultStore := storage.NewVaultStore(st.Primary)

	cooldown := time.Duration(cfg.ReloadCooldownMs) * time.Millisecond
	engine, err := policy.New(ctx, policies, configs, cooldown, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("daemon: build policy engine: %w", err)
	}

	auditLog := audit.New(auditStore, logger)

	params := crypto.Params{ScryptN: cfg.ScryptN, ScryptR: cfg.ScryptR, ScryptP: cfg.ScryptP, PBKDF2Iters: cfg.PBKDF2Iters}
	v := vault.New(secrets, vaultStore, params)

	sb := sandbox.NewManager(cfg.SandboxProfileDir)
	launcher, err := buildLauncher(cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("daemon: build sandbox launcher: %w", err)
	}

	sessions, err := session.NewManager(defaultSessionTTL, defaultSessionLockAfter)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("daemon: build session manager: %w", err)
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	dispatcher := rpc.NewDispatcher(engine, auditLog, requestTimeout)

	deps := handlers.Deps{
		Config:       cfg,
		Vault:        v,
		VaultStore:   vaultStore,
		Sandbox:      sb,
		HostLauncher: launcher,
		Logger:       logger,
	}
	registerHandlers(dispatcher, deps)

	controlSrv := control.New(control.Config{Host: cfg.ControlHost, Port: cfg.ControlPort},
		st, policies, configs, auditStore, v, vaultStore, engine, sessions, logger, false)

	return &Context{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Engine:     engine,
		AuditLog:   auditLog,
		Vault:      v,
		VaultStore: vaultStore,
		Sandbox:    sb,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Control:    controlSrv,
		launcher:   launcher,
	}, nil
}

// buildLauncher selects the exec backend named by cfg.SandboxBackend
// (spec.md §4.4 expansion): "container" execs into an already-running
// sandbox container instead of spawning the target directly on the host.
func buildLauncher(cfg config.Config) (sandbox.Launcher, error) {
	switch cfg.SandboxBackend {
	case "", "host":
		return sandbox.NewHostLauncher(cfg.SandboxLauncherPath), nil
	case "container":
		return sandbox.NewContainerLauncher(cfg.SandboxContainerID)
	default:
		return nil, fmt.Errorf("unknown sandboxBackend %q", cfg.SandboxBackend)
	}
}

func registerHandlers(d *rpc.Dispatcher, deps handlers.Deps) {
	d.Register("ping", &handlers.Ping{})
	d.Register("http_request", &handlers.HTTPRequest{Deps: deps})
	d.Register("file_read", &handlers.FileRead{Deps: deps})
	d.Register("file_list", &handlers.FileList{Deps: deps})
	d.Register("file_write", &handlers.FileWrite{Deps: deps})
	d.Register("exec", &handlers.Exec{Deps: deps})
	d.Register("open_url", &handlers.OpenURL{Deps: deps})
	d.Register("secret_inject", &handlers.SecretInject{Deps: deps})
}

// Close stops the audit log's flush loop, closes storage, and releases the
// launcher backend (the container backend holds a Docker API connection).
// It does not stop any listener; callers own those.
func (c *Context) Close() {
	c.AuditLog.Close()
	_ = c.Store.Close()
	if closer, ok := c.launcher.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// NewWrapperClient builds the thin RPC client an in-process caller (e.g.
// the MCP sidecar) can use to reach this same daemon over its own front
// doors, exercising the identical wire protocol external wrappers use.
func NewWrapperClient(cfg config.Config) *client.Client {
	httpAddr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	return client.New(cfg.SocketPath, httpAddr)
}
