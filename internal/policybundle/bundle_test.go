package policybundle

import (
	"testing"
	"time"

	"github.com/agenshield/agenshield/internal/model"
)

func TestExportMarshalParseRoundTrip(t *testing.T) {
	policies := []model.Policy{
		{
			Name:       "allow-example",
			Action:     model.ActionAllow,
			TargetType: model.TargetURL,
			Patterns:   []string{"example.com/**"},
			Enabled:    true,
			Priority:   100,
			FSOps:      []model.FSOp{model.FSRead},
			EgressMode: model.EgressDirect,
		},
	}

	b := Export("workstation-1", "alice", policies, time.Unix(0, 0).UTC())
	raw, err := Marshal(b)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.ScopeTarget != "workstation-1" || parsed.ScopeUser != "alice" {
		t.Fatalf("scope mismatch: %+v", parsed)
	}
	if len(parsed.Policies) != 1 || parsed.Policies[0].Name != "allow-example" {
		t.Fatalf("policies mismatch: %+v", parsed.Policies)
	}

	restored := parsed.ToPolicies()
	if len(restored) != 1 {
		t.Fatalf("expected 1 restored policy, got %d", len(restored))
	}
	if restored[0].ID == "" {
		t.Fatal("expected a freshly assigned policy ID")
	}
	if restored[0].ScopeTarget != "workstation-1" || restored[0].Action != model.ActionAllow {
		t.Fatalf("restored policy mismatch: %+v", restored[0])
	}
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	_, err := Parse([]byte("version: 99\npolicies: []\n"))
	if err == nil {
		t.Fatal("expected an error for an unsupported bundle version")
	}
}
