// Package client is the thin wrapper-side library agent-side executables
// link against to call the broker: one JSON-RPC call per invocation, over
// the local socket with a loopback-HTTP fallback (spec §4.1/4.2
// expansion), grounded on the pack's thin unix/HTTP client shape
// (tools/si's sun_client.go-style wrappers).
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/agenshield/agenshield/internal/rpc"
)

// Client issues one request at a time against the broker, preferring the
// Unix socket and falling back to loopback HTTP when the socket is
// unreachable.
type Client struct {
	socketPath string
	httpAddr   string
	httpClient *http.Client
	nextID     int64
}

func New(socketPath, httpAddr string) *Client {
	return &Client{
		socketPath: socketPath,
		httpAddr:   httpAddr,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Call issues method with params and decodes the result into result (which
// may be nil to discard it).
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	c.nextID++
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("client: marshal params: %w", err)
	}
	req := rpc.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(fmt.Sprintf("%d", c.nextID)),
		Method:  method,
		Params:  paramsJSON,
	}

	resp, err := c.callSocket(ctx, req)
	if err != nil {
		resp, err = c.callHTTP(ctx, req)
		if err != nil {
			return err
		}
	}
	if resp.Error != nil {
		return fmt.Errorf("client: rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (c *Client) callSocket(ctx context.Context, req rpc.Request) (rpc.Response, error) {
	if c.socketPath == "" {
		return rpc.Response{}, fmt.Errorf("client: no socket path configured")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return rpc.Response{}, fmt.Errorf("client: dial socket: %w", err)
	}
	defer conn.Close()

	raw, err := json.Marshal(req)
	if err != nil {
		return rpc.Response{}, err
	}
	if _, err := conn.Write(append(raw, '\n')); err != nil {
		return rpc.Response{}, fmt.Errorf("client: write request: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return rpc.Response{}, fmt.Errorf("client: read response: %w", err)
	}
	var resp rpc.Response
	if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
		return rpc.Response{}, fmt.Errorf("client: decode response: %w", err)
	}
	return resp, nil
}

func (c *Client) callHTTP(ctx context.Context, req rpc.Request) (rpc.Response, error) {
	if c.httpAddr == "" {
		return rpc.Response{}, fmt.Errorf("client: no http fallback address configured")
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return rpc.Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+c.httpAddr+"/rpc", bytes.NewReader(raw))
	if err != nil {
		return rpc.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return rpc.Response{}, fmt.Errorf("client: http fallback: %w", err)
	}
	defer httpResp.Body.Close()

	var resp rpc.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return rpc.Response{}, fmt.Errorf("client: decode http response: %w", err)
	}
	return resp, nil
}
