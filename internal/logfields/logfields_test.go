package logfields

import (
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"BuildID", KeyBuildID, "b1", BuildID("b1")},
		{"State", KeyState, "idle", State("idle")},
		{"Reason", KeyReason, "watch", Reason("watch")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Dir", KeyDir, "/tmp", Dir("/tmp")},
		{"Target", KeyTarget, "/tmp/config", Target("/tmp/config")},
		{"Fragment", KeyFragment, "10-base.conf", Fragment("10-base.conf")},
		{"Variable", KeyVariable, "mod", Variable("mod")},
		{"Digest", KeyDigest, "abc", Digest("abc")},
		{"Op", KeyOp, "create", Op("create")},
		{"Hook", KeyHook, "i3", Hook("i3")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestNumericHelpers verifies keys for numeric & float helpers.
func TestNumericHelpers(t *testing.T) {
	if v := Fragments(3); v.Key != KeyFragments {
		t.Fatalf("Fragments key mismatch: %s", v.Key)
	}
	if v := PID(42); v.Key != KeyPID {
		t.Fatalf("PID key mismatch: %s", v.Key)
	}
	if v := Count(5); v.Key != KeyCount {
		t.Fatalf("Count key mismatch: %s", v.Key)
	}
	if v := DurationMS(12.5); v.Key != KeyDurationMS {
		t.Fatalf("DurationMS key mismatch: %s", v.Key)
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError {
		t.Fatalf("Error key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "" {
		t.Fatalf("Expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errTest{})
	if attr.Value.String() != "err-test" {
		t.Fatalf("Expected 'err-test', got %s", attr.Value.String())
	}
}

type errTest struct{}

func (e errTest) Error() string { return "err-test" }
