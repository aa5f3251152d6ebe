package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/agenshield/agenshield/internal/audit"
	"github.com/agenshield/agenshield/internal/model"
)

// streamEvent is the envelope the SSE feed emits: {category, cursor,
// data}, cursor-resumable off the audit log's monotonic row id (spec
// §4.11).
type streamEvent struct {
	Category string          `json:"category"`
	Cursor   int64           `json:"cursor"`
	Data     json.RawMessage `json:"data"`
}

const (
	streamPollInterval = 500 * time.Millisecond
	heartbeatInterval  = 15 * time.Second
	streamPageSize     = 100
)

// handleStream serves the categorized event feed. Clients resume with
// ?cursor=<id> to avoid replay gaps within the retention window.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, _ model.SessionPermission) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)

	ctx := r.Context()
	poll := time.NewTicker(streamPollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(w, streamEvent{Category: "heartbeat", Cursor: cursor, Data: json.RawMessage("null")})
			flusher.Flush()
		case <-poll.C:
			events, err := audit.Since(ctx, s.audit, cursor, streamPageSize)
			if err != nil {
				s.log.Printf("control: stream poll failed: %v", err)
				continue
			}
			for _, e := range events {
				cursor = e.ID
				data, err := json.Marshal(e)
				if err != nil {
					continue
				}
				writeSSE(w, streamEvent{Category: categoryFor(e), Cursor: cursor, Data: data})
			}
			if len(events) > 0 {
				flusher.Flush()
			}
		}
	}
}

// categoryFor buckets an audit event into one of the feed's published
// categories: security:denied for any denial, exec:<result> for subprocess
// operations, config:<result> for file_write and secret_inject, and
// activity:<result> otherwise.
func categoryFor(e model.AuditEvent) string {
	switch {
	case e.Result == model.ResultDenied:
		return "security:denied"
	case e.Operation == "exec":
		return "exec:" + string(e.Result)
	case e.Operation == "file_write" || e.Operation == "secret_inject":
		return "config:" + string(e.Result)
	default:
		return "activity:" + string(e.Result)
	}
}

func writeSSE(w http.ResponseWriter, ev streamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Category, payload)
}
