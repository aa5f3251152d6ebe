package handlers

import (
	"context"
	"encoding/json"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/rpc"
	"github.com/agenshield/agenshield/internal/rpcerr"
)

// Ping is a liveness check. It flows through the same pipeline as every
// other method and is evaluated as the skill target "ping", so it is denied
// unless an allow rule matches that target.
type Ping struct{}

func (Ping) Describe(params json.RawMessage) (rpc.Describe, *rpcerr.Error) {
	return rpc.Describe{TargetType: model.TargetSkill, Target: "ping"}, nil
}

func (Ping) Invoke(ctx context.Context, hctx rpc.HandlerContext, params json.RawMessage) (interface{}, *rpcerr.Error) {
	return map[string]string{"status": "ok"}, nil
}
