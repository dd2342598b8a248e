package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesCanonicalAndFields(t *testing.T) {
	err := New(
		"pollworker",
		CodeInvariantViolation,
		WithProvider("resy"),
		WithMessage("drop slot found in stored baseline"),
		WithCanonicalCode(CanonicalBucketMissing),
		WithFields(map[string]string{
			"bucket_id": "2026-02-14_20:30",
			"slot_id":   "abc123",
		}),
		WithField("run_id", "run-1"),
		WithCause(errors.New("baseline echo")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=pollworker") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=invariant_violation") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "canonical=bucket_missing") {
		t.Fatalf("expected canonical classification in error string: %s", out)
	}
	if !strings.Contains(out, "provider=resy") {
		t.Fatalf("expected provider marker in error string: %s", out)
	}
	expectedFields := `fields=bucket_id="2026-02-14_20:30",run_id="run-1",slot_id="abc123"`
	if !strings.Contains(out, expectedFields) {
		t.Fatalf("expected fields %q in error string: %s", expectedFields, out)
	}
	if !strings.Contains(out, `cause="baseline echo"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithCanonicalCodeEmptyDefaultsToUnknown(t *testing.T) {
	err := New("scheduler", CodeInvalid, WithCanonicalCode("   "))
	if err.Canonical != CanonicalUnknown {
		t.Fatalf("expected canonical code to default to unknown, got %q", err.Canonical)
	}
	if strings.Contains(err.Error(), "canonical=") {
		t.Fatalf("canonical marker should be omitted when code is unknown: %s", err.Error())
	}
}

func TestWithFieldsMerge(t *testing.T) {
	err := New(
		"notify",
		CodePushFatal,
		WithFields(map[string]string{"token": "aaa"}),
		WithFields(map[string]string{"token": "bbb", "channel": "apns"}),
	)

	if got := err.Fields["token"]; got != "bbb" {
		t.Fatalf("expected latest field to win, got %q", got)
	}
	if got := err.Fields["channel"]; got != "apns" {
		t.Fatalf("expected channel field to be present, got %q", got)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}

func TestIsLockBusyAndTransport(t *testing.T) {
	lockErr := New("pollworker", CodeLockBusy)
	if !IsLockBusy(lockErr) {
		t.Fatalf("expected lock busy classification")
	}
	if IsTransport(lockErr) {
		t.Fatalf("did not expect transport classification")
	}

	wrapped := errors.New("wrapped")
	transportErr := New("provider", CodeTransport, WithCause(wrapped))
	if !IsTransport(transportErr) {
		t.Fatalf("expected transport classification")
	}
}
