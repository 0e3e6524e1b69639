package stats

import (
	"math"
	"sync"
	"time"
)

// SizeStats tracks basic statistics for a univariate chunk-size
// distribution.
type SizeStats struct {
	Count        int64
	TotalBytes   int64
	SquaredBytes float64
	MaxBytes     int64
	MinBytes     int64
	LastUpdated  time.Time
}

// Mean returns the arithmetic mean chunk size.
func (s *SizeStats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.TotalBytes) / float64(s.Count)
}

// StdDev returns the standard deviation of chunk size.
func (s *SizeStats) StdDev() float64 {
	if s.Count == 0 {
		return 0
	}
	mean := s.Mean()
	e2 := s.SquaredBytes / float64(s.Count)
	variance := e2 - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// UserSizeSnapshot combines a username with its chunk-size stats.
type UserSizeSnapshot struct {
	Username    string
	Count       int64
	Mean        float64
	StdDev      float64
	Min         int64
	Max         int64
	LastUpdated time.Time
}

// SizeAnalyzer maintains forwarded-chunk size statistics keyed by username.
type SizeAnalyzer struct {
	mu     sync.RWMutex
	byUser map[string]*SizeStats
}

// NewSizeAnalyzer constructs an empty SizeAnalyzer.
func NewSizeAnalyzer() *SizeAnalyzer {
	return &SizeAnalyzer{byUser: make(map[string]*SizeStats)}
}

// OnEvent ingests a forwarded-chunk event and updates the user's profile.
// Events without a chunk size are ignored.
func (a *SizeAnalyzer) OnEvent(ev *Event) {
	if ev == nil || ev.ChunkBytes <= 0 {
		return
	}
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.byUser[ev.Username]
	if !ok {
		s = &SizeStats{}
		a.byUser[ev.Username] = s
	}

	size := int64(ev.ChunkBytes)
	s.Count++
	s.TotalBytes += size
	if s.Count == 1 {
		s.MinBytes = size
		s.MaxBytes = size
	} else {
		if size < s.MinBytes {
			s.MinBytes = size
		}
		if size > s.MaxBytes {
			s.MaxBytes = size
		}
	}
	f := float64(size)
	s.SquaredBytes += f * f
	s.LastUpdated = now
}

// Snapshot returns per-user chunk-size statistics. If minCount > 0, users
// with fewer than minCount observations are filtered out.
func (a *SizeAnalyzer) Snapshot(minCount int64) []UserSizeSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]UserSizeSnapshot, 0, len(a.byUser))
	for user, s := range a.byUser {
		if minCount > 0 && s.Count < minCount {
			continue
		}
		out = append(out, UserSizeSnapshot{
			Username:    user,
			Count:       s.Count,
			Mean:        s.Mean(),
			StdDev:      s.StdDev(),
			Min:         s.MinBytes,
			Max:         s.MaxBytes,
			LastUpdated: s.LastUpdated,
		})
	}
	return out
}
