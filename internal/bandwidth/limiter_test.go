package bandwidth

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLimiterUnlimitedAlwaysAllows(t *testing.T) {
	l := NewLimiter(0)
	l.Record(Sent, 10_000_000)
	if !l.Allow() {
		t.Fatalf("unlimited limiter should always allow")
	}
}

func TestLimiterDeniesOverCapWithinWindow(t *testing.T) {
	l := NewLimiter(1) // 1 Mbps = 125,000 bytes/sec
	l.Record(Sent, 200_000)
	if l.Allow() {
		t.Fatalf("expected deny once over cap within the same window")
	}
}

func TestLimiterAdmitsAfterWindowRollover(t *testing.T) {
	l := NewLimiter(1)
	l.Record(Sent, 200_000)
	if l.Allow() {
		t.Fatalf("expected deny before rollover")
	}

	time.Sleep(1100 * time.Millisecond)
	if !l.Allow() {
		t.Fatalf("expected allow after window rollover")
	}
	sent, received := l.Snapshot()
	if sent != 0 || received != 0 {
		t.Fatalf("expected counters reset after rollover, got sent=%d received=%d", sent, received)
	}
}

func TestRegistryReusesLimiterPerUser(t *testing.T) {
	r := NewRegistry()
	a := r.Get("alice", 10)
	b := r.Get("alice", 999) // limit ignored on second call
	if a != b {
		t.Fatalf("expected same Limiter instance for repeated Get of the same user")
	}
	if a.LimitMbps != 10 {
		t.Fatalf("LimitMbps = %d, want 10 (set on first Get)", a.LimitMbps)
	}
}

func TestSaveSnapshotRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.json")

	r := NewRegistry()
	r.Get("alice", 0).Record(Sent, 42)
	r.Get("bob", 0).Record(Received, 7)

	if err := saveSnapshot(path, r.Snapshot()); err != nil {
		t.Fatalf("saveSnapshot: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(b) == 0 {
		t.Fatalf("expected non-empty snapshot file")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected tmp file to be renamed away, stat err = %v", err)
	}
}
