package cache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
)

// sweepStore is the slice of Store the sweeper needs.
type sweepStore interface {
	Expired(ctx context.Context, now time.Time) ([]Entry, error)
	Delete(ctx context.Context, hash string) error
}

// Sweeper removes expired cache entries together with their downloaded
// content directories.
type Sweeper struct {
	store sweepStore
	root  string
}

// NewSweeper creates a sweeper over store, deleting content under root.
func NewSweeper(store sweepStore, root string) *Sweeper {
	return &Sweeper{store: store, root: root}
}

// Sweep removes every entry expired at now and returns the removed
// entries. The backing directory is removed best-effort: a missing or
// undeletable directory never blocks metadata deletion, so lookups stay
// consistent even when disk cleanup lags.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) ([]Entry, error) {
	expired, err := s.store.Expired(ctx, now)
	if err != nil {
		return nil, err
	}

	var removed []Entry
	for _, entry := range expired {
		dir := filepath.Join(s.root, entry.Name)
		if err := os.RemoveAll(dir); err != nil {
			logging.Warn("failed to remove content directory",
				zap.String("hash", entry.Hash),
				zap.String("dir", dir),
				zap.Error(err))
		}
		if err := s.store.Delete(ctx, entry.Hash); err != nil {
			logging.Error("failed to delete cache row",
				zap.String("hash", entry.Hash),
				zap.Error(err))
			continue
		}
		removed = append(removed, entry)
	}

	if len(removed) > 0 {
		metrics.RecordCacheSwept(len(removed))
		logging.Info("swept expired cache entries", zap.Int("count", len(removed)))
	}
	return removed, nil
}

// Run sweeps on the given interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, time.Now()); err != nil {
				logging.Error("cache sweep failed", zap.Error(err))
			}
		}
	}
}
