package circuitbreaker

import (
	"testing"
	"time"
)

func TestClosedAllowsRequests(t *testing.T) {
	b := New(3, time.Minute)
	if !b.Allow("explorer") {
		t.Error("closed breaker should allow requests")
	}
	if b.State("explorer") != StateClosed {
		t.Errorf("expected closed, got %s", b.State("explorer"))
	}
}

func TestTripsOpenAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		b.RecordFailure("explorer")
	}

	if b.State("explorer") != StateOpen {
		t.Errorf("expected open after 3 failures, got %s", b.State("explorer"))
	}
	if b.Allow("explorer") {
		t.Error("open breaker should reject requests")
	}
}

func TestHalfOpenProbeAfterTimeout(t *testing.T) {
	b := New(2, 10*time.Millisecond)

	b.RecordFailure("repo_search")
	b.RecordFailure("repo_search")
	if b.State("repo_search") != StateOpen {
		t.Fatalf("expected open, got %s", b.State("repo_search"))
	}

	time.Sleep(15 * time.Millisecond)

	// First request after the open window is the probe.
	if !b.Allow("repo_search") {
		t.Error("expected probe request to be allowed")
	}
	if b.State("repo_search") != StateHalfOpen {
		t.Errorf("expected half_open, got %s", b.State("repo_search"))
	}
	// Second request while probing is rejected.
	if b.Allow("repo_search") {
		t.Error("expected concurrent probe to be rejected")
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	b := New(2, 10*time.Millisecond)
	b.RecordFailure("k")
	b.RecordFailure("k")

	time.Sleep(15 * time.Millisecond)
	b.Allow("k") // probe
	b.RecordSuccess("k")

	if b.State("k") != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State("k"))
	}
	if !b.Allow("k") {
		t.Error("closed breaker should allow requests")
	}
}

func TestProbeFailureReopens(t *testing.T) {
	b := New(2, 10*time.Millisecond)
	b.RecordFailure("k")
	b.RecordFailure("k")

	time.Sleep(15 * time.Millisecond)
	b.Allow("k") // probe
	b.RecordFailure("k")

	if b.State("k") != StateOpen {
		t.Errorf("expected open after failed probe, got %s", b.State("k"))
	}
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(2, time.Minute)
	b.RecordFailure("a")
	b.RecordFailure("a")

	if b.Allow("a") {
		t.Error("key a should be open")
	}
	if !b.Allow("b") {
		t.Error("key b should be unaffected")
	}
}
