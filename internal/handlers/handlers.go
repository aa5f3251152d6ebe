// Package handlers implements the typed RPC operations the dispatcher
// invokes after an allow decision: HTTP proxy, filesystem read/list/write,
// subprocess execute, URL open, secret injection, and ping (spec §4.5-§4.8).
package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/agenshield/agenshield/internal/config"
	"github.com/agenshield/agenshield/internal/sandbox"
	"github.com/agenshield/agenshield/internal/storage"
	"github.com/agenshield/agenshield/internal/vault"
)

// Deps are the daemon-context dependencies every handler needs, injected
// at construction instead of read from package-level globals (spec §9).
type Deps struct {
	Config       config.Config
	Vault        *vault.Vault
	VaultStore   *storage.VaultStore
	Sandbox      *sandbox.Manager
	HostLauncher sandbox.Launcher
	Logger       *log.Logger
}

// httpClientFor builds a client whose redirect cap and TLS verification
// match spec §4.6 for a given hop limit.
func httpClientFor(maxRedirects int) *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
