package rpc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/agenshield/agenshield/internal/audit"
	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/policy"
	"github.com/agenshield/agenshield/internal/rpcerr"
	"github.com/agenshield/agenshield/internal/scope"
	"github.com/agenshield/agenshield/internal/storage"
)

type stubHandler struct {
	targetType model.Target
	target     string
	result     interface{}
	err        *rpcerr.Error
	invoked    bool
}

func (h *stubHandler) Describe(params json.RawMessage) (Describe, *rpcerr.Error) {
	return Describe{TargetType: h.targetType, Target: h.target}, nil
}

func (h *stubHandler) Invoke(ctx context.Context, hctx HandlerContext, params json.RawMessage) (interface{}, *rpcerr.Error) {
	h.invoked = true
	return h.result, h.err
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *storage.PolicyStore, *storage.AuditStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(context.Background(), filepath.Join(dir, "p.db"), filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ps := storage.NewPolicyStore(st.Primary)
	cs := storage.NewConfigStore(st.Primary)
	as := storage.NewAuditStore(st.Audit)

	eng, err := policy.New(context.Background(), ps, cs, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	al := audit.New(as, nil)
	t.Cleanup(al.Close)

	return NewDispatcher(eng, al, 30*time.Second), ps, as
}

// waitForAuditEvents pages the audit store until an event shows up or a
// deadline passes: the audit log flushes in the background (every 2 s or
// 200 events), so an event recorded by Dispatch is not readable at once.
func waitForAuditEvents(as *storage.AuditStore) ([]model.AuditEvent, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		events, err := as.Page(context.Background(), 0, 1)
		if err != nil || len(events) > 0 || time.Now().After(deadline) {
			return events, err
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestDispatchDeniesByDefault(t *testing.T) {
	d, _, as := newTestDispatcher(t)
	d.Register("http_request", &stubHandler{targetType: model.TargetURL, target: "https://example.com"})

	resp := d.Dispatch(context.Background(), model.ChannelSocket, scope.Base, Request{JSONRPC: "2.0", Method: "http_request"})
	if resp.Error == nil || resp.Error.Code != rpcerr.CodePolicyDenied {
		t.Fatalf("resp.Error = %+v, want policy-denied", resp.Error)
	}

	events, err := waitForAuditEvents(as)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Allowed {
		t.Fatalf("events = %+v, want one denied entry", events)
	}
}

func TestDispatchAllowsOnMatchingPolicyAndInvokesHandler(t *testing.T) {
	d, ps, _ := newTestDispatcher(t)
	h := &stubHandler{targetType: model.TargetURL, target: "https://example.com/x", result: "ok"}
	d.Register("http_request", h)

	if err := ps.Upsert(context.Background(), model.Policy{
		Name: "allow-example", Action: model.ActionAllow, TargetType: model.TargetURL,
		Patterns: []string{"example.com/**"}, Enabled: true, Priority: 100,
	}); err != nil {
		t.Fatal(err)
	}

	resp := d.Dispatch(context.Background(), model.ChannelSocket, scope.Base, Request{JSONRPC: "2.0", Method: "http_request"})
	if resp.Error != nil {
		t.Fatalf("resp.Error = %+v, want nil", resp.Error)
	}
	if !h.invoked {
		t.Fatal("expected handler to be invoked on allow")
	}
	if resp.Result != "ok" {
		t.Fatalf("resp.Result = %v, want ok", resp.Result)
	}
}

func TestDispatchChannelRestrictionBlocksHandlerOnHTTP(t *testing.T) {
	d, ps, as := newTestDispatcher(t)
	h := &stubHandler{targetType: model.TargetCommand, target: "echo"}
	d.Register("exec", h)
	if err := ps.Upsert(context.Background(), model.Policy{
		Name: "allow-echo", Action: model.ActionAllow, TargetType: model.TargetCommand,
		Patterns: []string{"echo"}, Enabled: true, Priority: 100,
	}); err != nil {
		t.Fatal(err)
	}

	resp := d.Dispatch(context.Background(), model.ChannelHTTP, scope.Base, Request{JSONRPC: "2.0", Method: "exec"})
	if resp.Error == nil || resp.Error.Code != rpcerr.CodeChannelRestricted {
		t.Fatalf("resp.Error = %+v, want channel-restricted", resp.Error)
	}
	if h.invoked {
		t.Fatal("handler must not be invoked for a channel-restricted method")
	}

	events, err := waitForAuditEvents(as)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Result != model.ResultDenied {
		t.Fatalf("events = %+v, want one denied entry distinct from policy denial", events)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), model.ChannelSocket, scope.Base, Request{JSONRPC: "2.0", Method: "nonexistent"})
	if resp.Error == nil || resp.Error.Code != rpcerr.CodeMethodNotFound {
		t.Fatalf("resp.Error = %+v, want method-not-found", resp.Error)
	}
}
