package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/rpc"
	"github.com/agenshield/agenshield/internal/rpcerr"
)

type fileParams struct {
	Path string `json:"path"`
}

// FileRead implements `file_read` (spec §4.7): the target path must
// resolve inside the configured workspace root after symlink expansion
// and the matched rule must carry the "read" filesystem operation.
type FileRead struct{ Deps Deps }

func (h *FileRead) Describe(params json.RawMessage) (rpc.Describe, *rpcerr.Error) {
	var p fileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return rpc.Describe{}, rpcerr.InvalidParams("file_read: " + err.Error())
	}
	return rpc.Describe{TargetType: model.TargetFilesystem, Target: p.Path}, nil
}

func (h *FileRead) Invoke(ctx context.Context, hctx rpc.HandlerContext, params json.RawMessage) (interface{}, *rpcerr.Error) {
	var p fileParams
	_ = json.Unmarshal(params, &p)

	resolved, rerr := resolveInWorkspace(h.Deps.Config.WorkspaceRoot, p.Path)
	if rerr != nil {
		return nil, rerr
	}
	if !hasFSOp(hctx.FSOps, model.FSRead) {
		return nil, rpcerr.PolicyDenied("matched rule does not grant read")
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, rpcerr.Internal("file_read: " + sanitizeError(err, h.Deps.Config.WorkspaceRoot))
	}
	limit := int(h.Deps.Config.MaxOutputBytes)
	truncated := false
	if limit > 0 && len(data) > limit {
		data = data[:limit]
		truncated = true
	}
	return map[string]interface{}{
		"content":   base64.StdEncoding.EncodeToString(data),
		"truncated": truncated,
	}, nil
}

// FileList implements `file_list`.
type FileList struct{ Deps Deps }

func (h *FileList) Describe(params json.RawMessage) (rpc.Describe, *rpcerr.Error) {
	var p fileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return rpc.Describe{}, rpcerr.InvalidParams("file_list: " + err.Error())
	}
	return rpc.Describe{TargetType: model.TargetFilesystem, Target: p.Path}, nil
}

func (h *FileList) Invoke(ctx context.Context, hctx rpc.HandlerContext, params json.RawMessage) (interface{}, *rpcerr.Error) {
	var p fileParams
	_ = json.Unmarshal(params, &p)

	resolved, rerr := resolveInWorkspace(h.Deps.Config.WorkspaceRoot, p.Path)
	if rerr != nil {
		return nil, rerr
	}
	if !hasFSOp(hctx.FSOps, model.FSRead) {
		return nil, rpcerr.PolicyDenied("matched rule does not grant read")
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, rpcerr.Internal("file_list: " + sanitizeError(err, h.Deps.Config.WorkspaceRoot))
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return map[string]interface{}{"entries": names}, nil
}

// resolveInWorkspace expands symlinks in path and confirms the result is
// inside root, per spec §4.7.
func resolveInWorkspace(root, path string) (string, *rpcerr.Error) {
	if root == "" || path == "" {
		return "", rpcerr.InvalidParams("path and workspace root are required")
	}
	joined := filepath.Join(root, path)
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = filepath.Clean(joined)
		} else {
			return "", rpcerr.Internal("resolve path: " + err.Error())
		}
	}
	cleanRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		cleanRoot = filepath.Clean(root)
	}
	if resolved != cleanRoot && !strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
		return "", rpcerr.PolicyDenied("path escapes the workspace root")
	}
	return resolved, nil
}

func hasFSOp(ops []model.FSOp, want model.FSOp) bool {
	for _, op := range ops {
		if op == want {
			return true
		}
	}
	return false
}

// sanitizeError strips anything beyond the workspace root from an error
// message (spec §7: handler failures are sanitised of internal paths).
func sanitizeError(err error, root string) string {
	msg := err.Error()
	return strings.ReplaceAll(msg, root, "<workspace>")
}
