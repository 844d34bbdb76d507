package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reqshield/internal/ratelimit"
	"reqshield/internal/storage"
)

// snapshotter persists the engine's violation records and quarantines so a
// restart neither resets penalties nor releases quarantined clients.
type snapshotter struct {
	engine   *ratelimit.Engine
	store    storage.SnapshotStore
	interval time.Duration
	timeout  time.Duration
}

func newSnapshotter(engine *ratelimit.Engine, store storage.SnapshotStore, interval time.Duration) *snapshotter {
	return &snapshotter{
		engine:   engine,
		store:    store,
		interval: interval,
		timeout:  10 * time.Second,
	}
}

// restore loads the last snapshot into the engine. An empty store is not an
// error.
func (s *snapshotter) restore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap, err := s.store.Load(ctx)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		slog.Info("No defense snapshot to restore")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	s.engine.Restore(snap)
	slog.Info("Defense snapshot restored",
		"violations", len(snap.Violations),
		"quarantines", len(snap.Quarantines),
		"saved_at", snap.SavedAt)
	return nil
}

// save writes the current engine state.
func (s *snapshotter) save(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap := s.engine.Snapshot()
	if err := s.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	slog.Debug("Defense snapshot saved",
		"violations", len(snap.Violations),
		"quarantines", len(snap.Quarantines))
	return nil
}

// run saves on every interval until ctx is cancelled. A zero interval only
// saves on shutdown.
func (s *snapshotter) run(ctx context.Context) {
	if s.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.save(ctx); err != nil {
				slog.Error("Periodic snapshot failed", "error", err)
			}
		}
	}
}
