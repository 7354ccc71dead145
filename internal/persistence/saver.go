// Package persistence keeps the engagement scheduler's state durable by
// restoring the latest snapshot at startup and saving it periodically.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/OutreachPipe/internal/models"
	"github.com/BTreeMap/OutreachPipe/internal/scheduler"
	"github.com/BTreeMap/OutreachPipe/internal/store"
)

// DefaultSaveSchedule saves every five minutes.
const DefaultSaveSchedule = "@every 5m"

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("saver already started")

// Snapshotter exports and imports engine state.
type Snapshotter interface {
	ExportSnapshot() models.Snapshot
	ImportSnapshot(snap models.Snapshot) error
}

// Saver moves snapshots between a Snapshotter and a store.
type Saver struct {
	engine   Snapshotter
	store    store.Store
	schedule string

	mu    sync.Mutex
	sched *scheduler.Scheduler
}

// NewSaver creates a Saver. An empty schedule selects DefaultSaveSchedule.
func NewSaver(engine Snapshotter, st store.Store, schedule string) *Saver {
	if schedule == "" {
		schedule = DefaultSaveSchedule
	}
	return &Saver{engine: engine, store: st, schedule: schedule}
}

// Restore imports the stored snapshot. A store without a snapshot is a fresh start.
func (s *Saver) Restore(ctx context.Context) error {
	snap, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap == nil {
		slog.Info("No stored snapshot, starting fresh")
		return nil
	}
	if err := s.engine.ImportSnapshot(*snap); err != nil {
		return fmt.Errorf("failed to import snapshot: %w", err)
	}
	slog.Info("Snapshot restored", "taken_at", snap.TakenAt, "users", len(snap.Activity))
	return nil
}

// Save exports the current state and writes it to the store.
func (s *Saver) Save(ctx context.Context) error {
	snap := s.engine.ExportSnapshot()
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	slog.Debug("Snapshot saved", "taken_at", snap.TakenAt, "users", len(snap.Activity))
	return nil
}

// Start registers the periodic save. ctx bounds each scheduled save.
func (s *Saver) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		return ErrAlreadyStarted
	}
	sched := scheduler.NewScheduler()
	if err := sched.AddJob(s.schedule, func() {
		if err := s.Save(ctx); err != nil {
			slog.Error("Periodic snapshot save failed", "error", err)
		}
	}); err != nil {
		sched.Stop(context.Background())
		return err
	}
	s.sched = sched
	slog.Info("Snapshot saver started", "schedule", s.schedule)
	return nil
}

// Stop stops the periodic save and writes a final snapshot.
func (s *Saver) Stop(ctx context.Context) error {
	s.mu.Lock()
	sched := s.sched
	s.sched = nil
	s.mu.Unlock()

	if sched != nil {
		if err := sched.Stop(ctx); err != nil {
			slog.Warn("Snapshot scheduler did not stop cleanly", "error", err)
		}
	}
	return s.Save(ctx)
}
