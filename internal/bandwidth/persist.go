package bandwidth

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotInterval is how often usage counters are flushed to disk.
const SnapshotInterval = 30 * time.Second

// persistedUsage is the on-disk shape written by saveSnapshot.
type persistedUsage struct {
	Users map[string]UserUsage `json:"users"`
}

// saveSnapshot writes usage to path via a temp-file-then-rename so a reader
// never observes a partially written file.
func saveSnapshot(path string, usage map[string]UserUsage) error {
	b, err := json.MarshalIndent(persistedUsage{Users: usage}, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RunPersistLoop periodically snapshots the registry's counters to path
// until ctx is cancelled. Intended to run as a background goroutine.
func RunPersistLoop(ctx context.Context, reg *Registry, path string, logger zerolog.Logger) {
	ticker := time.NewTicker(SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveSnapshot(path, reg.Snapshot()); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("bandwidth snapshot write failed")
			}
		}
	}
}
