package handlers

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/rpc"
	"github.com/agenshield/agenshield/internal/rpcerr"
)

type openURLParams struct {
	URL string `json:"url"`
}

// OpenURL implements `open_url`: available on both channels, it records
// the intent to present a URL to the operator's desktop rather than
// fetching it itself (spec §4.1 component table distinguishes it from
// http_request).
type OpenURL struct{ Deps Deps }

func (h *OpenURL) Describe(params json.RawMessage) (rpc.Describe, *rpcerr.Error) {
	var p openURLParams
	if err := json.Unmarshal(params, &p); err != nil {
		return rpc.Describe{}, rpcerr.InvalidParams("open_url: " + err.Error())
	}
	if p.URL == "" {
		return rpc.Describe{}, rpcerr.InvalidParams("open_url: url is required")
	}
	return rpc.Describe{TargetType: model.TargetURL, Target: p.URL}, nil
}

func (h *OpenURL) Invoke(ctx context.Context, hctx rpc.HandlerContext, params json.RawMessage) (interface{}, *rpcerr.Error) {
	var p openURLParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.InvalidParams("open_url: " + err.Error())
	}
	parsed, err := url.Parse(p.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, rpcerr.InvalidParams("open_url: url must be absolute")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, rpcerr.PolicyDenied("open_url: only http/https schemes may be opened")
	}
	return map[string]interface{}{"opened": p.URL}, nil
}
