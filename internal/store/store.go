// Package store provides snapshot storage backends for OutreachPipe.
//
// A backend persists the latest engagement scheduler snapshot: activity
// records, engagement states and the daily sent-sets. Saving replaces the
// previously stored snapshot as a whole.
package store

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// ErrDSNNotSet is returned when a database backend is created without a DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// Store persists engagement scheduler snapshots.
type Store interface {
	// SaveSnapshot replaces the stored snapshot with snap.
	SaveSnapshot(ctx context.Context, snap models.Snapshot) error
	// LoadSnapshot returns the stored snapshot, or nil if none was saved yet.
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	// Close releases the backend's resources.
	Close() error
}

// Opts holds configuration for database backends.
type Opts struct {
	DSN string
}

// Option configures a database backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for anything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "user=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the backend matching dsn's type.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		slog.Debug("Store Open selected PostgreSQL backend")
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	slog.Debug("Store Open selected SQLite backend", "path", dsn)
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// InMemoryStore keeps the latest snapshot in memory.
type InMemoryStore struct {
	mu   sync.RWMutex
	snap *models.Snapshot
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveSnapshot(ctx context.Context, snap models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := cloneSnapshot(snap)
	s.mu.Lock()
	s.snap = &c
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, nil
	}
	c := cloneSnapshot(*s.snap)
	return &c, nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneSnapshot(snap models.Snapshot) models.Snapshot {
	out := snap
	out.Activity = slices.Clone(snap.Activity)
	out.Engagement = slices.Clone(snap.Engagement)
	out.DailySent = make([]models.SnapshotDailySent, len(snap.DailySent))
	for i, d := range snap.DailySent {
		d.UserIDs = slices.Clone(d.UserIDs)
		out.DailySent[i] = d
	}
	return out
}
