package handlers

import (
	"context"
	"encoding/json"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/rpc"
	"github.com/agenshield/agenshield/internal/rpcerr"
	"github.com/agenshield/agenshield/internal/vault"
)

type secretInjectParams struct {
	Name string `json:"name"`
}

// SecretInject implements `secret_inject`: socket-only (spec §4.2), it
// returns a named secret's plaintext directly to the caller for wrapper
// executables that need to set their own environment rather than go
// through http_request's header/query injection.
type SecretInject struct{ Deps Deps }

func (h *SecretInject) Describe(params json.RawMessage) (rpc.Describe, *rpcerr.Error) {
	var p secretInjectParams
	if err := json.Unmarshal(params, &p); err != nil {
		return rpc.Describe{}, rpcerr.InvalidParams("secret_inject: " + err.Error())
	}
	if p.Name == "" {
		return rpc.Describe{}, rpcerr.InvalidParams("secret_inject: name is required")
	}
	return rpc.Describe{TargetType: model.TargetSkill, Target: "secret:" + p.Name}, nil
}

func (h *SecretInject) Invoke(ctx context.Context, hctx rpc.HandlerContext, params json.RawMessage) (interface{}, *rpcerr.Error) {
	var p secretInjectParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.InvalidParams("secret_inject: " + err.Error())
	}
	if h.Deps.Vault == nil || !h.Deps.Vault.IsUnlocked() {
		return nil, rpcerr.VaultLocked()
	}

	plaintext, sec, err := h.Deps.Vault.GetByNameForPolicy(ctx, h.Deps.VaultStore, hctx.Scope, p.Name, hctx.MatchedID, "secret_inject")
	if err != nil {
		if err == vault.ErrLocked {
			return nil, rpcerr.VaultLocked()
		}
		if err == vault.ErrApprovalPending {
			return nil, rpcerr.ApprovalPending()
		}
		return nil, rpcerr.Internal("secret_inject: " + err.Error())
	}

	return map[string]interface{}{
		"name":      sec.Name,
		"value":     string(plaintext),
		"placement": sec.Placement,
	}, nil
}
