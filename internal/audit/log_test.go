package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agenshield/agenshield/internal/model"
	"github.com/agenshield/agenshield/internal/storage"
)

func newTestStore(t *testing.T) *storage.AuditStore {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(context.Background(), filepath.Join(dir, "p.db"), filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return storage.NewAuditStore(st.Audit)
}

func TestRecordFlushesOnClose(t *testing.T) {
	store := newTestStore(t)
	l := New(store, nil)
	l.Record(model.AuditEvent{Operation: "ping", Channel: model.ChannelSocket, Allowed: true, Target: "-", Result: model.ResultSuccess})
	l.Record(model.AuditEvent{Operation: "file_read", Channel: model.ChannelSocket, Allowed: true, Target: "/workspace/a", Result: model.ResultSuccess})
	l.Close()

	page, err := store.Page(context.Background(), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}
}

func TestRecordedEventIDsAreMonotonic(t *testing.T) {
	store := newTestStore(t)
	l := New(store, nil)
	for i := 0; i < 5; i++ {
		l.Record(model.AuditEvent{Operation: "ping", Channel: model.ChannelSocket, Allowed: true, Target: "-", Result: model.ResultSuccess})
	}
	l.Close()

	page, err := store.Page(context.Background(), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 5 {
		t.Fatalf("len(page) = %d, want 5", len(page))
	}
	for i := 1; i < len(page); i++ {
		if page[i].ID >= page[i-1].ID {
			t.Fatalf("Page should return descending ids, got %d then %d", page[i-1].ID, page[i].ID)
		}
	}
}

func TestRecordRedactsSensitiveMetadataKeys(t *testing.T) {
	store := newTestStore(t)
	l := New(store, nil)
	l.Record(model.AuditEvent{
		Operation: "secret_inject", Channel: model.ChannelSocket, Allowed: true, Target: "example.com", Result: model.ResultSuccess,
		RedactedMeta: map[string]string{"api_key": "sk-live-abc", "header": "Authorization"},
	})
	l.Close()

	page, err := store.Page(context.Background(), 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 {
		t.Fatalf("len(page) = %d, want 1", len(page))
	}
	if page[0].RedactedMeta["api_key"] != "<redacted>" {
		t.Fatalf("api_key = %q, want <redacted>", page[0].RedactedMeta["api_key"])
	}
	if page[0].RedactedMeta["header"] != "Authorization" {
		t.Fatalf("header = %q, want untouched", page[0].RedactedMeta["header"])
	}
}

func TestTrimRetentionByCount(t *testing.T) {
	store := newTestStore(t)
	l := New(store, nil)
	for i := 0; i < 10; i++ {
		l.Record(model.AuditEvent{Operation: "ping", Channel: model.ChannelSocket, Allowed: true, Target: "-", Result: model.ResultSuccess})
	}
	l.Close()

	n, err := TrimRetention(context.Background(), store, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("trimmed = %d, want 7", n)
	}
	page, err := store.Page(context.Background(), 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 {
		t.Fatalf("remaining = %d, want 3", len(page))
	}
}

func TestTrimRetentionByAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.InsertBatch(ctx, []model.AuditEvent{
		{Timestamp: time.Now().UTC().AddDate(0, 0, -100), Operation: "old", Channel: model.ChannelSocket, Allowed: true, Target: "-", Result: model.ResultSuccess},
		{Timestamp: time.Now().UTC(), Operation: "new", Channel: model.ChannelSocket, Allowed: true, Target: "-", Result: model.ResultSuccess},
	}); err != nil {
		t.Fatal(err)
	}

	n, err := TrimRetention(ctx, store, 0, 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("trimmed = %d, want 1", n)
	}
}
