package rpc

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/scope"
)

const maxHTTPBodyBytes = 10 << 20 // 10 MiB, spec §4.2

// HTTPServer is the loopback-only JSON-RPC fallback front end: POST /rpc
// with the reduced method surface, GET /health.
type HTTPServer struct {
	addr       string
	dispatcher *Dispatcher
	logger     *log.Logger
	router     chi.Router
}

func NewHTTPServer(host string, port int, dispatcher *Dispatcher, logger *log.Logger) *HTTPServer {
	s := &HTTPServer{addr: net.JoinHostPort(host, itoa(port)), dispatcher: dispatcher, logger: logger}
	r := chi.NewRouter()
	r.Use(s.loopbackOnly)
	r.Post("/rpc", s.handleRPC)
	r.Get("/health", s.handleHealth)
	s.router = r
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// loopbackOnly rejects any request whose remote address is not loopback,
// per spec §4.2.
func (s *HTTPServer) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			http.Error(w, "forbidden: non-loopback caller", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxHTTPBodyBytes)
	raw, err := io.ReadAll(body)
	if err != nil {
		if strings.Contains(err.Error(), "http: request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse(nil, -32005, "request body exceeds maximum size"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, -32700, "failed to read request body"))
		return
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil, -32700, "parse error: "+err.Error()))
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), model.ChannelHTTP, scope.Base, req)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves until ctx is cancelled.
func (s *HTTPServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
