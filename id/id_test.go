package id_test

import (
	"strings"
	"testing"

	"github.com/zendesk/samson-sub001/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() string
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"DeployID", id.NewDeployID, "dep_"},
		{"SubscriberID", id.NewSubscriberID, "sub_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 1000 {
		s := id.NewJobID()
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate id %q", s)
		}
		seen[s] = struct{}{}
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := id.NewDeployID()
	prefix, suffix, err := id.Parse(original)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if prefix != id.PrefixDeploy {
		t.Errorf("prefix = %q, want %q", prefix, id.PrefixDeploy)
	}
	if got := string(prefix) + "_" + suffix.String(); got != original {
		t.Errorf("round-trip mismatch: %q != %q", got, original)
	}
}

func TestParseWithPrefix(t *testing.T) {
	if _, err := id.ParseWithPrefix(id.NewJobID(), id.PrefixJob); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := id.ParseWithPrefix(id.NewJobID(), id.PrefixDeploy); err == nil {
		t.Error("expected cross-type rejection")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "job", "job_", "_abc", "job_not-an-xid"} {
		if _, _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}
