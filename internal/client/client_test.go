package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/agenshield/agenshield/internal/rpc"
)

// fakeSocketServer accepts one connection and echoes a fixed ping result
// for every request, enough to exercise the client's socket path without
// pulling in the full dispatcher stack.
func fakeSocketServer(t *testing.T, path string) net.Listener {
	t.Helper()
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			var req rpc.Request
			_ = json.Unmarshal(line, &req)
			resp := rpc.Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]string{"status": "ok"}}
			raw, _ := json.Marshal(resp)
			conn.Write(append(raw, '\n'))
		}
	}()
	return ln
}

func TestCallOverSocketDecodesResult(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")
	ln := fakeSocketServer(t, sockPath)
	defer ln.Close()

	c := New(sockPath, "")
	var result struct {
		Status string `json:"status"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Call(ctx, "ping", map[string]string{}, &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != "ok" {
		t.Fatalf("status = %q, want ok", result.Status)
	}
}

func TestCallFailsWithNoReachableTransport(t *testing.T) {
	c := New("", "")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Call(ctx, "ping", nil, nil); err == nil {
		t.Fatal("expected an error when neither socket nor http is configured")
	}
}
