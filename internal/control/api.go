// Package control implements the operator-facing read/write/stream API
// (spec §4.11): chi-routed endpoints gated by a bearer session, with an
// optional anonymous read-only mode, grounded on the chi.Router pattern in
// ReleaseParty's internal/api.Server.
package control

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agenshield/agenshield/internal/audit"
	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/policy"
	"github.com/agenshield/agenshield/internal/policybundle"
	"github.com/agenshield/agenshield/internal/scope"
	"github.com/agenshield/agenshield/internal/session"
	"github.com/agenshield/agenshield/internal/storage"
	"github.com/agenshield/agenshield/internal/vault"
)

// Server exposes the control API's chi router. AllowAnonymousRead gates
// non-secret reads without a session; it is set from New's argument only,
// config.Config has no field for it, and the daemon always passes false.
type Server struct {
	cfg              Config
	store            *storage.Store
	policies         *storage.PolicyStore
	configs          *storage.ConfigStore
	audit            *storage.AuditStore
	vault            *vault.Vault
	vaultStore       *storage.VaultStore
	engine           *policy.Engine
	sessions         *session.Manager
	log              *log.Logger
	AllowAnonymousRead bool
}

// Config is the subset of daemon config the control server needs directly.
type Config struct {
	Host string
	Port int
}

func New(cfg Config, store *storage.Store, ps *storage.PolicyStore, cs *storage.ConfigStore, as *storage.AuditStore,
	v *vault.Vault, vs *storage.VaultStore, eng *policy.Engine, sessions *session.Manager, logger *log.Logger, allowAnonymousRead bool) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "agenshield-control ", log.LstdFlags|log.LUTC)
	}
	return &Server{
		cfg: cfg, store: store, policies: ps, configs: cs, audit: as,
		vault: v, vaultStore: vs, engine: eng, sessions: sessions, log: logger,
		AllowAnonymousRead: allowAnonymousRead,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/vault/set-passcode", s.handleSetPasscode)
		r.Post("/vault/unlock", s.handleUnlock)
		r.Post("/vault/lock", s.authenticated(s.handleLock))
		r.Post("/vault/change-passcode", s.authenticated(s.handleChangePasscode))
		r.Post("/session/refresh", s.handleRefresh)

		r.Get("/policies", s.readGated(s.handleListPolicies))
		r.Post("/policies", s.authenticated(s.handleUpsertPolicy))
		r.Delete("/policies/{id}", s.authenticated(s.handleDeletePolicy))
		r.Get("/policies/bundle", s.readGated(s.handleExportPolicyBundle))
		r.Post("/policies/bundle", s.authenticated(s.handleImportPolicyBundle))

		r.Get("/config", s.readGated(s.handleGetConfig))
		r.Post("/config", s.authenticated(s.handleSetConfig))

		r.Get("/secrets", s.authenticated(s.handleListSecrets))
		r.Post("/secrets", s.authenticated(s.handlePutSecret))
		r.Delete("/secrets/{id}", s.authenticated(s.handleDeleteSecret))

		r.Post("/approvals/{id}/resolve", s.authenticated(s.handleResolveApproval))

		r.Get("/audit", s.readGated(s.handleAuditPage))
		r.Get("/stream", s.readGated(s.handleStream))
	})

	return r
}

// authenticated requires a valid bearer session regardless of
// AllowAnonymousRead (spec §4.11: "writes are gated by a valid bearer
// session").
func (s *Server) authenticated(next func(http.ResponseWriter, *http.Request, model.SessionPermission)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perm, err := s.authorize(r)
		if err != nil || perm != model.PermissionAuthenticated {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, perm)
	}
}

// readGated admits an authenticated session, or an anonymous caller when
// AllowAnonymousRead is set — anonymous reads never see secret values
// (handlers enforce that themselves).
func (s *Server) readGated(next func(http.ResponseWriter, *http.Request, model.SessionPermission)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perm, err := s.authorize(r)
		if err == nil {
			next(w, r, perm)
			return
		}
		if s.AllowAnonymousRead {
			next(w, r, model.PermissionReadOnlyAnonymous)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func (s *Server) authorize(r *http.Request) (model.SessionPermission, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return "", session.ErrInvalid
	}
	return s.sessions.Verify(token)
}

func (s *Server) handleSetPasscode(w http.ResponseWriter, r *http.Request) {
	var body struct{ Passcode string `json:"passcode"` }
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.vault.SetPasscode(r.Context(), body.Passcode); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tok, err := s.sessions.Issue(model.PermissionAuthenticated)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var body struct{ Passcode string `json:"passcode"` }
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.vault.Unlock(r.Context(), body.Passcode); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	tok, err := s.sessions.Issue(model.PermissionAuthenticated)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	s.vault.Lock()
	s.sessions.Destroy(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangePasscode(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	var body struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.vault.ChangePasscode(r.Context(), body.Old, body.New); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	newTok, err := s.sessions.Refresh(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": newTok})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	tr := triFromQuery(r)
	policies, err := s.policies.ListForScope(r.Context(), tr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (s *Server) handleUpsertPolicy(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	var p model.Policy
	if !decodeBody(w, r, &p) {
		return
	}
	if err := s.policies.Upsert(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.engine.Reload(r.Context(), scope.Triple{Target: p.ScopeTarget, User: p.ScopeUser})
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	id := chi.URLParam(r, "id")
	if err := s.policies.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportPolicyBundle renders the policy set at one scope level as a
// YAML bundle operators can check into version control and re-import.
func (s *Server) handleExportPolicyBundle(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	tr := triFromQuery(r)
	policies, err := s.policies.ListForScope(r.Context(), tr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	bundle := policybundle.Export(tr.Target, tr.User, policies, time.Now().UTC())
	raw, err := policybundle.Marshal(bundle)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// handleImportPolicyBundle parses a YAML policy bundle and upserts every
// rule it contains, then reloads the engine for the bundle's scope.
func (s *Server) handleImportPolicyBundle(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bundle, err := policybundle.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	policies := bundle.ToPolicies()
	for _, p := range policies {
		if err := s.policies.Upsert(r.Context(), p); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.engine.Reload(r.Context(), scope.Triple{Target: bundle.ScopeTarget, User: bundle.ScopeUser})
	writeJSON(w, http.StatusOK, map[string]int{"imported": len(policies)})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	tr := triFromQuery(r)
	merged, err := s.configs.Merged(r.Context(), tr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	var body struct {
		Target string `json:"target"`
		User   string `json:"user"`
		Field  string `json:"field"`
		Value  string `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	tr := scope.Triple{Target: body.Target, User: body.User}
	if err := s.configs.SetField(r.Context(), tr, body.Field, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// secretMetadata is what a listing returns: never plaintext, never
// ciphertext bytes.
type secretMetadata struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Scope          string   `json:"scope"`
	Placement      string   `json:"placement"`
	LinkedPolicies []string `json:"linked_policies"`
	ScopeTarget    string   `json:"scope_target"`
	ScopeUser      string   `json:"scope_user"`
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	secrets, err := s.vault.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]secretMetadata, 0, len(secrets))
	for _, sec := range secrets {
		out = append(out, secretMetadata{
			ID: sec.ID, Name: sec.Name, Scope: string(sec.Scope), Placement: sec.Placement,
			LinkedPolicies: sec.LinkedPolicies, ScopeTarget: sec.ScopeTarget, ScopeUser: sec.ScopeUser,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutSecret(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	var body struct {
		Name           string   `json:"name"`
		Scope          string   `json:"scope"`
		Placement      string   `json:"placement"`
		LinkedPolicies []string `json:"linked_policies"`
		Value          string   `json:"value"`
		Target         string   `json:"target"`
		User           string   `json:"user"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	tr := scope.Triple{Target: body.Target, User: body.User}
	if err := s.vault.Put(r.Context(), tr, body.Name, model.SecretScope(body.Scope), body.Placement,
		body.LinkedPolicies, []byte(body.Value)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	id := chi.URLParam(r, "id")
	if err := s.vault.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	id := chi.URLParam(r, "id")
	var body struct {
		Decision   string `json:"decision"`
		ResolvedBy string `json:"resolved_by"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.vault.Resolve(r.Context(), s.vaultStore, id, vault.ApprovalDecision(body.Decision), body.ResolvedBy); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuditPage(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	beforeID, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	events, err := audit.Page(r.Context(), s.audit, beforeID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func triFromQuery(r *http.Request) scope.Triple {
	return scope.Triple{Target: r.URL.Query().Get("target"), User: r.URL.Query().Get("user")}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
