// Package rpc implements the JSON-RPC 2.0 dispatch pipeline shared by the
// local-socket and loopback-HTTP front ends (spec §4.1, §4.2).
package rpc

import "encoding/json"

// Request is one JSON-RPC 2.0 call, framed as a single newline-delimited
// JSON value on the socket front end or a single HTTP body on the fallback.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// WireError is the {code, message} pair carried in a Response's Error
// field.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the JSON-RPC 2.0 reply. Exactly one of Result/Error is set
// on a terminal response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

func errorResponse(id json.RawMessage, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &WireError{Code: code, Message: message}}
}

func successResponse(id json.RawMessage, result interface{}) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
