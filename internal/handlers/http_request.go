package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/rpc"
	"github.com/agenshield/agenshield/internal/rpcerr"
	"github.com/agenshield/agenshield/internal/vault"
)

type httpRequestParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// HTTPRequest implements `http_request` (spec §4.6): available on both
// channels. Before dispatch it injects any secret whose linked-policy set
// includes the matched allow rule, per the secret's declared placement.
type HTTPRequest struct{ Deps Deps }

func (h *HTTPRequest) Describe(params json.RawMessage) (rpc.Describe, *rpcerr.Error) {
	var p httpRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return rpc.Describe{}, rpcerr.InvalidParams("http_request: " + err.Error())
	}
	if p.URL == "" {
		return rpc.Describe{}, rpcerr.InvalidParams("http_request: url is required")
	}
	return rpc.Describe{TargetType: model.TargetURL, Target: p.URL}, nil
}

func (h *HTTPRequest) Invoke(ctx context.Context, hctx rpc.HandlerContext, params json.RawMessage) (interface{}, *rpcerr.Error) {
	var p httpRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.InvalidParams("http_request: " + err.Error())
	}
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}

	parsed, err := url.Parse(p.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, rpcerr.InvalidParams("http_request: url must be absolute")
	}
	// TLS verification is always on for bare-hostname targets (spec §4.6);
	// the default transport never skips it, and we never override it here.

	req, err := http.NewRequestWithContext(ctx, method, p.URL, strings.NewReader(p.Body))
	if err != nil {
		return nil, rpcerr.InvalidParams("http_request: " + err.Error())
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	if h.Deps.Vault != nil && h.Deps.Vault.IsUnlocked() && hctx.MatchedID != "" {
		if err := h.injectSecrets(ctx, req, hctx); err != nil {
			if err == vault.ErrApprovalPending {
				return nil, rpcerr.ApprovalPending()
			}
			return nil, rpcerr.Internal("http_request: secret injection: " + err.Error())
		}
	}

	client := httpClientFor(h.Deps.Config.FollowRedirects)
	resp, err := client.Do(req)
	if err != nil {
		return nil, rpcerr.Internal("http_request: " + err.Error())
	}
	defer resp.Body.Close()

	limit := h.Deps.Config.MaxBodyBytes
	reader := io.LimitReader(resp.Body, limit+1)
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, rpcerr.Internal("http_request: read response: " + err.Error())
	}
	truncated := false
	if limit > 0 && int64(len(body)) > limit {
		body = body[:limit]
		truncated = true
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]interface{}{
		"status":    resp.StatusCode,
		"headers":   headers,
		"body":      string(body),
		"truncated": truncated,
	}, nil
}

// injectSecrets consults the vault for any secret linked to the matched
// policy and applies it per its declared placement: header, query, or env
// (env placements are recorded as request headers under an X-Agenshield-Env
// prefix for downstream wrapper consumption, since a direct HTTP call has
// no child environment to set).
func (h *HTTPRequest) injectSecrets(ctx context.Context, req *http.Request, hctx rpc.HandlerContext) error {
	secrets, err := h.Deps.Vault.List(ctx)
	if err != nil {
		return err
	}
	for _, sec := range secrets {
		linked := false
		for _, pid := range sec.LinkedPolicies {
			if pid == hctx.MatchedID {
				linked = true
				break
			}
		}
		if !linked {
			continue
		}
		plaintext, _, err := h.Deps.Vault.GetByNameForPolicy(ctx, h.Deps.VaultStore, hctx.Scope, sec.Name, hctx.MatchedID, "http_request")
		if err != nil {
			return err
		}
		applyPlacement(req, sec.Placement, string(plaintext))
	}
	return nil
}

func applyPlacement(req *http.Request, placement, value string) {
	kind, name, ok := strings.Cut(placement, ":")
	if !ok {
		return
	}
	switch kind {
	case "header":
		req.Header.Set(name, value)
	case "query":
		q := req.URL.Query()
		q.Set(name, value)
		req.URL.RawQuery = q.Encode()
	case "env":
		req.Header.Set("X-Agenshield-Env-"+name, value)
	}
}
