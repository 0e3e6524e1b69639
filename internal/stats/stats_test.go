package stats

import (
	"testing"
	"time"
)

func TestLatencyAnalyzerMeanAndStdDev(t *testing.T) {
	a := NewLatencyAnalyzer()
	a.OnEvent(&Event{Username: "alice", HandshakeDur: int64(10 * time.Millisecond)})
	a.OnEvent(&Event{Username: "alice", HandshakeDur: int64(20 * time.Millisecond)})

	snap := a.Snapshot(0)
	if len(snap) != 1 {
		t.Fatalf("expected one user in snapshot, got %d", len(snap))
	}
	if snap[0].Count != 2 {
		t.Fatalf("Count = %d, want 2", snap[0].Count)
	}
	if snap[0].Mean != 15*time.Millisecond {
		t.Fatalf("Mean = %v, want 15ms", snap[0].Mean)
	}
	if snap[0].StdDev != 5*time.Millisecond {
		t.Fatalf("StdDev = %v, want 5ms", snap[0].StdDev)
	}
}

func TestLatencyAnalyzerIgnoresNonHandshakeEvents(t *testing.T) {
	a := NewLatencyAnalyzer()
	a.OnEvent(&Event{Username: "alice", ChunkBytes: 100})
	if len(a.Snapshot(0)) != 0 {
		t.Fatalf("expected no latency entries from a non-handshake event")
	}
}

func TestRetryAnalyzerAccumulatesAndResetsOnSuccess(t *testing.T) {
	a := NewRetryAnalyzer()
	a.OnEvent(&Event{Username: "alice", HandshakeDur: 1, HandshakeOK: false})
	a.OnEvent(&Event{Username: "alice", HandshakeDur: 1, HandshakeOK: false})

	snap := a.Snapshot(2)
	if len(snap) != 1 || snap[0].Count != 2 {
		t.Fatalf("expected a burst of 2, got %+v", snap)
	}

	a.OnEvent(&Event{Username: "alice", HandshakeDur: 1, HandshakeOK: true})
	if len(a.Snapshot(1)) != 0 {
		t.Fatalf("expected success to clear the burst")
	}
}

func TestSizeAnalyzerTracksPerUserDistribution(t *testing.T) {
	a := NewSizeAnalyzer()
	a.OnEvent(&Event{Username: "alice", ChunkBytes: 100})
	a.OnEvent(&Event{Username: "alice", ChunkBytes: 300})

	snap := a.Snapshot(0)
	if len(snap) != 1 {
		t.Fatalf("expected one user, got %d", len(snap))
	}
	if snap[0].Mean != 200 {
		t.Fatalf("Mean = %v, want 200", snap[0].Mean)
	}
	if snap[0].Min != 100 || snap[0].Max != 300 {
		t.Fatalf("Min/Max = %d/%d, want 100/300", snap[0].Min, snap[0].Max)
	}
}

func TestTransitionAnalyzerIgnoresEventsWithoutTransition(t *testing.T) {
	a := NewTransitionAnalyzer()
	a.OnEvent(&Event{Username: "alice", ChunkBytes: 10})
	if len(a.Snapshot()) != 0 {
		t.Fatalf("expected no transitions recorded")
	}
}

func TestTransitionAnalyzerRecordsCounts(t *testing.T) {
	a := NewTransitionAnalyzer()
	a.OnEvent(&Event{Username: "alice", Transition: &Transition{From: StateAwaitAuth, To: StateAwaitConnect}})
	a.OnEvent(&Event{Username: "alice", Transition: &Transition{From: StateAwaitConnect, To: StateRelay}})

	snap := a.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one user, got %d", len(snap))
	}
	if snap[0].Counts[StateAwaitAuth][StateAwaitConnect] != 1 {
		t.Fatalf("expected AwaitAuth->AwaitConnect count of 1")
	}
	if snap[0].Counts[StateAwaitConnect][StateRelay] != 1 {
		t.Fatalf("expected AwaitConnect->Relay count of 1")
	}
}

func TestRegistryFansOutToAllAnalyzers(t *testing.T) {
	r := NewDefaultRegistry()
	r.OnEvent(&Event{Username: "alice", HandshakeDur: int64(5 * time.Millisecond), HandshakeOK: true})
	r.OnEvent(&Event{Username: "alice", ChunkBytes: 64})

	if len(r.Latency().Snapshot(0)) != 1 {
		t.Fatalf("expected latency analyzer to have recorded the handshake")
	}
	if len(r.Sizes().Snapshot(0)) != 1 {
		t.Fatalf("expected size analyzer to have recorded the chunk")
	}
}
