package session

import (
	"testing"
	"time"

	"github.com/agenshield/agenshield/internal/model"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	m, err := NewManager(time.Hour, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := m.Issue(model.PermissionAuthenticated)
	if err != nil {
		t.Fatal(err)
	}
	perm, err := m.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if perm != model.PermissionAuthenticated {
		t.Fatalf("perm = %q, want authenticated", perm)
	}
}

func TestDestroyInvalidatesToken(t *testing.T) {
	m, err := NewManager(time.Hour, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := m.Issue(model.PermissionAuthenticated)
	if err != nil {
		t.Fatal(err)
	}
	m.Destroy(tok)
	if _, err := m.Verify(tok); err == nil {
		t.Fatal("expected verify to fail after destroy")
	}
}

func TestRefreshTooEarlyFails(t *testing.T) {
	m, err := NewManager(time.Hour, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := m.Issue(model.PermissionAuthenticated)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Refresh(tok); err != ErrRefreshTooEarly {
		t.Fatalf("err = %v, want ErrRefreshTooEarly", err)
	}
}

func TestRefreshNearExpirySucceeds(t *testing.T) {
	m, err := NewManager(time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := m.Issue(model.PermissionAuthenticated)
	if err != nil {
		t.Fatal(err)
	}
	newTok, err := m.Refresh(tok)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Verify(newTok); err != nil {
		t.Fatalf("refreshed token should verify: %v", err)
	}
}
