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

type fileWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"` // base64-encoded
	Append  bool   `json:"append"`
}

// FileWrite implements `file_write` (spec §4.7): socket-only, requires the
// matched rule to carry the "write" filesystem operation.
type FileWrite struct{ Deps Deps }

func (h *FileWrite) Describe(params json.RawMessage) (rpc.Describe, *rpcerr.Error) {
	var p fileWriteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return rpc.Describe{}, rpcerr.InvalidParams("file_write: " + err.Error())
	}
	return rpc.Describe{TargetType: model.TargetFilesystem, Target: p.Path}, nil
}

func (h *FileWrite) Invoke(ctx context.Context, hctx rpc.HandlerContext, params json.RawMessage) (interface{}, *rpcerr.Error) {
	var p fileWriteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpcerr.InvalidParams("file_write: " + err.Error())
	}

	if !hasFSOp(hctx.FSOps, model.FSWrite) {
		return nil, rpcerr.PolicyDenied("matched rule does not grant write")
	}

	data, err := base64.StdEncoding.DecodeString(p.Content)
	if err != nil {
		return nil, rpcerr.InvalidParams("file_write: content is not valid base64")
	}
	limit := int(h.Deps.Config.MaxOutputBytes)
	if limit > 0 && len(data) > limit {
		return nil, rpcerr.ResourceLimit("file_write: content exceeds the configured output limit")
	}

	resolved, rerr := resolveNewPathInWorkspace(h.Deps.Config.WorkspaceRoot, p.Path)
	if rerr != nil {
		return nil, rerr
	}

	flags := os.O_WRONLY | os.O_CREATE
	if p.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(resolved, flags, 0o640)
	if err != nil {
		return nil, rpcerr.Internal("file_write: " + sanitizeError(err, h.Deps.Config.WorkspaceRoot))
	}
	defer f.Close()
	n, err := f.Write(data)
	if err != nil {
		return nil, rpcerr.Internal("file_write: " + sanitizeError(err, h.Deps.Config.WorkspaceRoot))
	}
	return map[string]interface{}{"bytes_written": n}, nil
}

// resolveNewPathInWorkspace resolves path's parent directory against
// symlinks (the file itself may not yet exist) and confirms the result
// stays inside root.
func resolveNewPathInWorkspace(root, path string) (string, *rpcerr.Error) {
	if root == "" || path == "" {
		return "", rpcerr.InvalidParams("path and workspace root are required")
	}
	joined := filepath.Join(root, path)
	dir := filepath.Dir(joined)
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", rpcerr.Internal("resolve path: " + sanitizeError(err, root))
	}
	cleanRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		cleanRoot = filepath.Clean(root)
	}
	if resolvedDir != cleanRoot && !strings.HasPrefix(resolvedDir, cleanRoot+string(filepath.Separator)) {
		return "", rpcerr.PolicyDenied("path escapes the workspace root")
	}
	return filepath.Join(resolvedDir, filepath.Base(joined)), nil
}
