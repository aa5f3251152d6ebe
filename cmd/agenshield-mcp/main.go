// Command agenshield-mcp exposes the broker's method surface as MCP tools,
// so an agent harness speaking MCP can reach the daemon without knowing its
// JSON-RPC wire format. It never implements policy itself; every tool call
// is a single internal/client.Call against the already-running daemon,
// grounded on the pack's MCP sidecar shape (tools/credentials-mcp/main.go).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agenshield/agenshield/internal/client"
)

type server struct {
	rpc    *client.Client
	logger *log.Logger
}

type PingInput struct{}
type PingOutput struct {
	Status string `json:"status"`
}

type HTTPRequestInput struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}
type HTTPRequestOutput struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	Truncated bool              `json:"truncated"`
}

type FileReadInput struct {
	Path string `json:"path"`
}
type FileReadOutput struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

type FileListInput struct {
	Path string `json:"path"`
}
type FileListOutput struct {
	Entries []string `json:"entries"`
}

type FileWriteInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append,omitempty"`
}
type FileWriteOutput struct {
	BytesWritten int `json:"bytes_written"`
}

type ExecInput struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"` // "NAME=value" pairs
}
type ExecOutput struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	Truncated bool   `json:"truncated"`
}

type OpenURLInput struct {
	URL string `json:"url"`
}
type OpenURLOutput struct {
	Opened string `json:"opened"`
}

type SecretInjectInput struct {
	Name string `json:"name"`
}
type SecretInjectOutput struct {
	Injected bool `json:"injected"`
}

func main() {
	logger := log.New(os.Stdout, "agenshield-mcp ", log.LstdFlags|log.LUTC)

	socketPath := envOr("AGENSHIELD_SOCKET", "/var/run/agenshield/agenshield.sock")
	httpAddr := envOr("AGENSHIELD_HTTP_ADDR", "127.0.0.1:5201")

	srv := &server{
		rpc:    client.New(socketPath, httpAddr),
		logger: logger,
	}

	impl := &mcp.Implementation{
		Name:    "agenshield",
		Title:   "Agenshield Broker",
		Version: "0.1.0",
	}
	mcpServer := mcp.NewServer(impl, &mcp.ServerOptions{HasTools: true})

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "agenshield.ping",
		Description: "Check that the broker daemon is reachable and responsive.",
	}, srv.ping)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "agenshield.http_request",
		Description: "Issue an HTTP request through the broker's policy and secret-injection layer.",
	}, srv.httpRequest)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "agenshield.file_read",
		Description: "Read a file from the agent's workspace, subject to policy.",
	}, srv.fileRead)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "agenshield.file_list",
		Description: "List a directory in the agent's workspace, subject to policy.",
	}, srv.fileList)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "agenshield.file_write",
		Description: "Write or append to a file in the agent's workspace, subject to policy.",
	}, srv.fileWrite)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "agenshield.exec",
		Description: "Run a subprocess inside the broker's sandbox, subject to policy.",
	}, srv.exec)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "agenshield.open_url",
		Description: "Request that the host open a URL in the user's browser, subject to policy.",
	}, srv.openURL)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "agenshield.secret_inject",
		Description: "Resolve a named secret for injection into a subsequent call, subject to vault and policy state.",
	}, srv.secretInject)

	handler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := envOr("ADDR", ":8090")
	logger.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}

func (s *server) ping(ctx context.Context, _ *mcp.CallToolRequest, _ PingInput) (*mcp.CallToolResult, PingOutput, error) {
	var out PingOutput
	if err := s.call(ctx, "ping", struct{}{}, &out); err != nil {
		return nil, PingOutput{}, err
	}
	return nil, out, nil
}

func (s *server) httpRequest(ctx context.Context, _ *mcp.CallToolRequest, in HTTPRequestInput) (*mcp.CallToolResult, HTTPRequestOutput, error) {
	var out HTTPRequestOutput
	if err := s.call(ctx, "http_request", in, &out); err != nil {
		return nil, HTTPRequestOutput{}, err
	}
	return nil, out, nil
}

func (s *server) fileRead(ctx context.Context, _ *mcp.CallToolRequest, in FileReadInput) (*mcp.CallToolResult, FileReadOutput, error) {
	var out FileReadOutput
	if err := s.call(ctx, "file_read", in, &out); err != nil {
		return nil, FileReadOutput{}, err
	}
	return nil, out, nil
}

func (s *server) fileList(ctx context.Context, _ *mcp.CallToolRequest, in FileListInput) (*mcp.CallToolResult, FileListOutput, error) {
	var out FileListOutput
	if err := s.call(ctx, "file_list", in, &out); err != nil {
		return nil, FileListOutput{}, err
	}
	return nil, out, nil
}

func (s *server) fileWrite(ctx context.Context, _ *mcp.CallToolRequest, in FileWriteInput) (*mcp.CallToolResult, FileWriteOutput, error) {
	var out FileWriteOutput
	if err := s.call(ctx, "file_write", in, &out); err != nil {
		return nil, FileWriteOutput{}, err
	}
	return nil, out, nil
}

func (s *server) exec(ctx context.Context, _ *mcp.CallToolRequest, in ExecInput) (*mcp.CallToolResult, ExecOutput, error) {
	var out ExecOutput
	if err := s.call(ctx, "exec", in, &out); err != nil {
		return nil, ExecOutput{}, err
	}
	return nil, out, nil
}

func (s *server) openURL(ctx context.Context, _ *mcp.CallToolRequest, in OpenURLInput) (*mcp.CallToolResult, OpenURLOutput, error) {
	var out OpenURLOutput
	if err := s.call(ctx, "open_url", in, &out); err != nil {
		return nil, OpenURLOutput{}, err
	}
	return nil, out, nil
}

func (s *server) secretInject(ctx context.Context, _ *mcp.CallToolRequest, in SecretInjectInput) (*mcp.CallToolResult, SecretInjectOutput, error) {
	var out SecretInjectOutput
	if err := s.call(ctx, "secret_inject", in, &out); err != nil {
		return nil, SecretInjectOutput{}, err
	}
	out.Injected = true
	return nil, out, nil
}

func (s *server) call(ctx context.Context, method string, params, result interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.rpc.Call(callCtx, method, params, result); err != nil {
		s.logger.Printf("%s: %v", method, err)
		return err
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
