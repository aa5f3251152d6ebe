package vault

import (
	"context"
	"errors"
	"time"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/scope"
	"github.com/agenshield/agenshield/internal/storage"
	"github.com/google/uuid"
)

// ErrApprovalPending is returned by GetByNameForPolicy when a policed
// secret lists the matched policy among its linked policies and no
// approved, unconsumed request exists yet for this requester.
var ErrApprovalPending = errors.New("vault: secret access awaits operator approval")

// ApprovalDecision mirrors the store row's status for callers that only
// need the outcome.
type ApprovalDecision string

const (
	ApprovalApproved ApprovalDecision = "approved"
	ApprovalDenied   ApprovalDecision = "denied"
	ApprovalPending  ApprovalDecision = "pending"
)

// RequestApproval records a new pending access request for a policed
// secret and returns its id, for the caller to surface to the operator
// control feed.
func (v *Vault) RequestApproval(ctx context.Context, store *storage.VaultStore, secretName, requester, reason string) (string, error) {
	id := uuid.NewString()
	err := store.RequestApproval(ctx, storage.SecretApproval{
		ID:         id,
		SecretName: secretName,
		Requester:  requester,
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	})
	return id, err
}

// Resolve records an operator's approve/deny decision on a pending
// request.
func (v *Vault) Resolve(ctx context.Context, store *storage.VaultStore, approvalID string, decision ApprovalDecision, resolvedBy string) error {
	if decision != ApprovalApproved && decision != ApprovalDenied {
		return errors.New("vault: decision must be approved or denied")
	}
	return store.Resolve(ctx, approvalID, string(decision), resolvedBy)
}

// GetByNameForPolicy resolves a secret the way GetByName does, but first
// enforces the policed-secret approval gate: a secret whose Scope is
// "policed" and whose LinkedPolicies include matchedPolicyID requires an
// approved request before its plaintext is released. A policed secret
// with zero linked policies degrades to standalone (spec §3) and skips
// this gate entirely.
func (v *Vault) GetByNameForPolicy(ctx context.Context, store *storage.VaultStore, tr scope.Triple, name, matchedPolicyID, requester string) ([]byte, model.Secret, error) {
	plaintext, sec, err := v.GetByName(ctx, tr, name)
	if err != nil {
		return nil, model.Secret{}, err
	}
	if sec.Scope != model.SecretPoliced || len(sec.LinkedPolicies) == 0 {
		return plaintext, sec, nil
	}
	linked := false
	for _, p := range sec.LinkedPolicies {
		if p == matchedPolicyID {
			linked = true
			break
		}
	}
	if !linked {
		return plaintext, sec, nil
	}
	approved, ok, err := store.ApprovedForRequester(ctx, name, requester)
	if err != nil {
		return nil, model.Secret{}, err
	}
	if ok {
		if err := store.Consume(ctx, approved.ID); err != nil {
			return nil, model.Secret{}, err
		}
		return plaintext, sec, nil
	}

	pending, err := store.PendingForSecret(ctx, name)
	if err != nil {
		return nil, model.Secret{}, err
	}
	for _, p := range pending {
		if p.Requester == requester {
			return nil, model.Secret{}, ErrApprovalPending
		}
	}
	if _, err := v.RequestApproval(ctx, store, name, requester, "policed secret access via matched policy "+matchedPolicyID); err != nil {
		return nil, model.Secret{}, err
	}
	return nil, model.Secret{}, ErrApprovalPending
}
