// Package model holds the core data-model entities shared across storage,
// policy, vault, and audit: Policy, Secret, AuditEvent, and the small enums
// the spec pins to each (spec §3).
package model

import (
	"time"

	"github.com/google/uuid"
)

// Action is a policy's effective disposition.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionApprovalPending Action = "approval-pending"
)

// Target names the kind of request a policy or rule governs.
type Target string

const (
	TargetURL        Target = "url"
	TargetCommand    Target = "command"
	TargetFilesystem Target = "filesystem"
	TargetSkill      Target = "skill"
)

// FSOp is one of the filesystem operations a filesystem policy allows.
type FSOp string

const (
	FSRead  FSOp = "read"
	FSWrite FSOp = "write"
)

// EgressMode controls what network egress an exec allow-hint permits.
type EgressMode string

const (
	EgressDirect EgressMode = "direct"
	EgressProxy  EgressMode = "proxy"
	EgressNone   EgressMode = "none"
)

// SecretScope is a secret's storage scope classification.
type SecretScope string

const (
	SecretStandalone SecretScope = "standalone"
	SecretGlobal     SecretScope = "global"
	SecretPoliced    SecretScope = "policed"
)

// Channel is the RPC ingress path, which governs method availability.
type Channel string

const (
	ChannelSocket Channel = "socket"
	ChannelHTTP   Channel = "http"
)

// Result is an audit event's outcome classification.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
	ResultDenied  Result = "denied"
)

// Policy is one rule in the policy engine's input set.
type Policy struct {
	ID               string
	Name             string
	Action           Action
	TargetType       Target
	Patterns         []string
	Enabled          bool
	Priority         int
	ScopeRestriction string // e.g. "command:git"; empty = unrestricted
	FSOps            []FSOp
	EgressMode       EgressMode
	ScopeTarget       string
	ScopeUser         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPolicyID returns a fresh stable identifier for a policy row.
func NewPolicyID() string { return uuid.NewString() }

// Secret is one encrypted credential stored in the vault.
type Secret struct {
	ID              string
	Name            string
	Ciphertext      []byte
	Scope           SecretScope
	Placement       string // e.g. "header:Authorization", "query:api_key", "env:NAME"
	LinkedPolicies  []string
	ScopeTarget     string
	ScopeUser       string
	CreatedAt       time.Time
}

// NewSecretID returns a fresh stable identifier for a secret row.
func NewSecretID() string { return uuid.NewString() }

// AuditEvent is one append-only entry in the audit log.
type AuditEvent struct {
	ID             int64
	Timestamp      time.Time
	Operation      string
	Channel        Channel
	Allowed        bool
	MatchedPolicy  *string
	Target         string
	Result         Result
	ErrorMessage   *string
	ElapsedMillis  int64
	RedactedMeta   map[string]string
}

// SandboxProfileInputs canonicalises the inputs the sandbox profile manager
// hashes to derive a cache key.
type SandboxProfileInputs struct {
	WorkspaceRoot string
	SocketPath    string
	EgressMode    EgressMode
	ReadAllow     []string
	WriteAllow    []string
	ExtraDeny     []string
	ProxyAddress  string
}

// SessionPermission is the permission class a session token carries.
type SessionPermission string

const (
	PermissionReadOnlyAnonymous SessionPermission = "read-only-anonymous"
	PermissionAuthenticated     SessionPermission = "authenticated"
)
