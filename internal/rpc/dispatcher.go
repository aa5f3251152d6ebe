package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agenshield/agenshield/internal/audit"
	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/policy"
	"github.com/agenshield/agenshield/internal/rpcerr"
	"github.com/agenshield/agenshield/internal/scope"
)

// Describe is what a handler extracts from its params before policy
// evaluation: the target string and type the engine's pattern matcher
// needs (spec §4.3's per-handler-type target extraction).
type Describe struct {
	TargetType       model.Target
	Target           string
	Args             []string
	ScopeRestriction string
}

// HandlerContext is the injected, per-request context a handler receives
// instead of reaching for package-level globals (spec §9 Design Notes).
type HandlerContext struct {
	RequestID  json.RawMessage
	Channel    model.Channel
	Timestamp  time.Time
	Scope      scope.Triple
	MatchedID  string
	EgressMode model.EgressMode
	FSOps      []model.FSOp
}

// Handler is one typed RPC operation.
type Handler interface {
	Describe(params json.RawMessage) (Describe, *rpcerr.Error)
	Invoke(ctx context.Context, hctx HandlerContext, params json.RawMessage) (interface{}, *rpcerr.Error)
}

// httpDeniedMethods is the reserved-socket-only set (spec §4.2).
var httpDeniedMethods = map[string]bool{
	"exec":          true,
	"file_write":    true,
	"secret_inject": true,
}

// Dispatcher wires handler lookup, policy evaluation, and audit recording
// into the one pipeline both front ends share.
type Dispatcher struct {
	handlers       map[string]Handler
	engine         *policy.Engine
	auditLog       *audit.Log
	requestTimeout time.Duration
}

func NewDispatcher(engine *policy.Engine, auditLog *audit.Log, requestTimeout time.Duration) *Dispatcher {
	return &Dispatcher{handlers: map[string]Handler{}, engine: engine, auditLog: auditLog, requestTimeout: requestTimeout}
}

func (d *Dispatcher) Register(method string, h Handler) {
	d.handlers[method] = h
}

// Dispatch runs one request through the full pipeline: channel
// restriction, policy evaluation, handler invocation, audit recording.
func (d *Dispatcher) Dispatch(ctx context.Context, channel model.Channel, tr scope.Triple, req Request) Response {
	start := time.Now()

	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, rpcerr.CodeInvalidRequest, "invalid JSON-RPC 2.0 envelope")
	}

	h, ok := d.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, rpcerr.CodeMethodNotFound, "method not found: "+req.Method)
	}

	if channel == model.ChannelHTTP && httpDeniedMethods[req.Method] {
		d.record(req.Method, channel, false, nil, req.Method, model.ResultDenied,
			strPtr("operation not allowed over HTTP fallback"), time.Since(start))
		return errorResponse(req.ID, rpcerr.CodeChannelRestricted, "operation not allowed over HTTP fallback: "+req.Method)
	}

	desc, derr := h.Describe(req.Params)
	if derr != nil {
		return errorResponse(req.ID, derr.Code, derr.Message)
	}

	d.engine.Reload(ctx, tr)
	decision := d.engine.Evaluate(policy.Request{
		TargetType:       desc.TargetType,
		Target:           desc.Target,
		Args:             desc.Args,
		ScopeRestriction: desc.ScopeRestriction,
		Scope:            tr,
	})

	switch decision.Action {
	case model.ActionDeny:
		reason := "denied by default"
		var matched *string
		if decision.MatchedPolicy != "" {
			matched = &decision.MatchedPolicy
			reason = "denied by policy"
		}
		d.record(req.Method, channel, false, matched, desc.Target, model.ResultDenied, strPtr(reason), time.Since(start))
		return errorResponse(req.ID, rpcerr.CodePolicyDenied, reason)
	case model.ActionApprovalPending:
		var matched *string
		if decision.MatchedPolicy != "" {
			matched = &decision.MatchedPolicy
		}
		d.record(req.Method, channel, false, matched, desc.Target, model.ResultDenied,
			strPtr("awaiting approval"), time.Since(start))
		return errorResponse(req.ID, rpcerr.CodeApprovalPending, "secret access awaits operator approval")
	}

	hctx := HandlerContext{
		RequestID:  req.ID,
		Channel:    channel,
		Timestamp:  start,
		Scope:      tr,
		MatchedID:  decision.MatchedPolicy,
		EgressMode: decision.EgressMode,
		FSOps:      decision.FSOps,
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if d.requestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()
	}

	result, herr := h.Invoke(callCtx, hctx, req.Params)
	elapsed := time.Since(start)

	var matched *string
	if decision.MatchedPolicy != "" {
		matched = &decision.MatchedPolicy
	}

	if herr != nil {
		outcomeResult := model.ResultError
		if herr.Code == rpcerr.CodeDeadlineExceeded {
			outcomeResult = model.ResultError
		}
		d.record(req.Method, channel, true, matched, desc.Target, outcomeResult, strPtr(herr.Message), elapsed)
		return errorResponse(req.ID, herr.Code, herr.Message)
	}

	d.record(req.Method, channel, true, matched, desc.Target, model.ResultSuccess, nil, elapsed)
	return successResponse(req.ID, result)
}

func (d *Dispatcher) record(operation string, channel model.Channel, allowed bool, matchedPolicy *string,
	target string, result model.Result, errMsg *string, elapsed time.Duration) {
	if d.auditLog == nil {
		return
	}
	d.auditLog.Record(model.AuditEvent{
		Operation:     operation,
		Channel:       channel,
		Allowed:       allowed,
		MatchedPolicy: matchedPolicy,
		Target:        target,
		Result:        result,
		ErrorMessage:  errMsg,
		ElapsedMillis: elapsed.Milliseconds(),
	})
}

func strPtr(s string) *string { return &s }
