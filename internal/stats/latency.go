package stats

import (
	"math"
	"sync"
	"time"
)

// LatencyStats holds aggregated handshake-latency metrics for one user.
type LatencyStats struct {
	Count       int64
	Total       time.Duration
	SquaredNS   float64
	Max         time.Duration
	Min         time.Duration
	LastUpdated time.Time
}

// Mean returns the average handshake latency.
func (s *LatencyStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return time.Duration(int64(s.Total) / s.Count)
}

// StdDev returns the standard deviation of handshake latency.
func (s *LatencyStats) StdDev() time.Duration {
	if s.Count == 0 {
		return 0
	}
	meanNs := float64(s.Total) / float64(s.Count)
	varNs2 := s.SquaredNS/float64(s.Count) - meanNs*meanNs
	if varNs2 < 0 {
		varNs2 = 0
	}
	return time.Duration(math.Sqrt(varNs2))
}

// UserLatencySnapshot is a read-only view combining username + stats.
type UserLatencySnapshot struct {
	Username    string
	Count       int64
	Mean        time.Duration
	StdDev      time.Duration
	Min         time.Duration
	Max         time.Duration
	LastUpdated time.Time
}

// LatencyAnalyzer aggregates handshake-latency distributions per user.
type LatencyAnalyzer struct {
	mu     sync.RWMutex
	byUser map[string]*LatencyStats
}

// NewLatencyAnalyzer constructs an empty LatencyAnalyzer.
func NewLatencyAnalyzer() *LatencyAnalyzer {
	return &LatencyAnalyzer{byUser: make(map[string]*LatencyStats)}
}

// OnEvent ingests a handshake event and updates the user's stats. Non-
// handshake events (HandshakeDur == 0) are ignored.
func (a *LatencyAnalyzer) OnEvent(ev *Event) {
	if ev == nil || ev.HandshakeDur == 0 {
		return
	}
	lat := time.Duration(ev.HandshakeDur)
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	stats, ok := a.byUser[ev.Username]
	if !ok {
		stats = &LatencyStats{LastUpdated: now}
		a.byUser[ev.Username] = stats
	}

	stats.Count++
	stats.Total += lat
	if stats.Count == 1 {
		stats.Min = lat
		stats.Max = lat
	} else {
		if lat < stats.Min {
			stats.Min = lat
		}
		if lat > stats.Max {
			stats.Max = lat
		}
	}
	ns := float64(lat)
	stats.SquaredNS += ns * ns
	stats.LastUpdated = now
}

// Snapshot returns per-user latency stats. If minCount > 0, users with fewer
// than minCount observations are filtered out.
func (a *LatencyAnalyzer) Snapshot(minCount int64) []UserLatencySnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]UserLatencySnapshot, 0, len(a.byUser))
	for user, stats := range a.byUser {
		if minCount > 0 && stats.Count < minCount {
			continue
		}
		out = append(out, UserLatencySnapshot{
			Username:    user,
			Count:       stats.Count,
			Mean:        stats.Mean(),
			StdDev:      stats.StdDev(),
			Min:         stats.Min,
			Max:         stats.Max,
			LastUpdated: stats.LastUpdated,
		})
	}
	return out
}
