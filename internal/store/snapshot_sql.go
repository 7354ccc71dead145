package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// sqlSnapshotStore implements snapshot persistence over database/sql.
// Queries are written with ? placeholders and rebound for the dialect.
type sqlSnapshotStore struct {
	db      *sql.DB
	name    string
	dollarN bool
}

func (s *sqlSnapshotStore) q(query string) string {
	if !s.dollarN {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SaveSnapshot replaces every snapshot table inside one transaction.
func (s *sqlSnapshotStore) SaveSnapshot(ctx context.Context, snap models.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error(s.name+" SaveSnapshot rollback failed", "error", rbErr)
			}
		}
	}()

	for _, table := range []string{"snapshot_meta", "activity_records", "engagement_states", "daily_sent_days", "daily_sent_users"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if _, err = tx.ExecContext(ctx, s.q(`INSERT INTO snapshot_meta (id, version, taken_at) VALUES (1, ?, ?)`), snap.Version, snap.TakenAt); err != nil {
		return fmt.Errorf("failed to insert snapshot metadata: %w", err)
	}
	for _, a := range snap.Activity {
		if _, err = tx.ExecContext(ctx, s.q(`INSERT INTO activity_records (user_id, last_active_at, conversation_ref, origin_ref) VALUES (?, ?, ?, ?)`),
			a.UserID, a.LastActiveAt, a.ConversationRef, a.OriginRef); err != nil {
			return fmt.Errorf("failed to insert activity for %s: %w", a.UserID, err)
		}
	}
	for _, e := range snap.Engagement {
		if _, err = tx.ExecContext(ctx, s.q(`INSERT INTO engagement_states (user_id, consecutive_count, last_proactive_at, awaiting_reply, last_shared_at) VALUES (?, ?, ?, ?, ?)`),
			e.UserID, e.ConsecutiveCount, nilIfEmpty(e.LastProactiveAt), e.AwaitingReply, nilIfEmpty(e.LastSharedAt)); err != nil {
			return fmt.Errorf("failed to insert engagement for %s: %w", e.UserID, err)
		}
	}
	for _, d := range snap.DailySent {
		if _, err = tx.ExecContext(ctx, s.q(`INSERT INTO daily_sent_days (family, day) VALUES (?, ?)`), string(d.Family), d.Day); err != nil {
			return fmt.Errorf("failed to insert daily sent-set %s: %w", d.Family, err)
		}
		for _, id := range d.UserIDs {
			if _, err = tx.ExecContext(ctx, s.q(`INSERT INTO daily_sent_users (family, user_id) VALUES (?, ?)`), string(d.Family), id); err != nil {
				return fmt.Errorf("failed to insert daily sent user %s: %w", id, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	slog.Debug(s.name+" SaveSnapshot succeeded", "taken_at", snap.TakenAt, "users", len(snap.Activity))
	return nil
}

// LoadSnapshot reads the stored snapshot in the same order the engine exports it.
func (s *sqlSnapshotStore) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := s.db.QueryRowContext(ctx, `SELECT version, taken_at FROM snapshot_meta WHERE id = 1`).Scan(&snap.Version, &snap.TakenAt)
	if err == sql.ErrNoRows {
		slog.Debug(s.name + " LoadSnapshot found no snapshot")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot metadata: %w", err)
	}

	if snap.Activity, err = s.loadActivity(ctx); err != nil {
		return nil, err
	}
	if snap.Engagement, err = s.loadEngagement(ctx); err != nil {
		return nil, err
	}
	if snap.DailySent, err = s.loadDailySent(ctx); err != nil {
		return nil, err
	}
	slog.Debug(s.name+" LoadSnapshot succeeded", "taken_at", snap.TakenAt, "users", len(snap.Activity))
	return &snap, nil
}

func (s *sqlSnapshotStore) loadActivity(ctx context.Context) ([]models.SnapshotActivity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, last_active_at, conversation_ref, origin_ref FROM activity_records ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity records: %w", err)
	}
	defer rows.Close()

	out := []models.SnapshotActivity{}
	for rows.Next() {
		var a models.SnapshotActivity
		if err := rows.Scan(&a.UserID, &a.LastActiveAt, &a.ConversationRef, &a.OriginRef); err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlSnapshotStore) loadEngagement(ctx context.Context) ([]models.SnapshotEngagement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, consecutive_count, last_proactive_at, awaiting_reply, last_shared_at FROM engagement_states ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query engagement states: %w", err)
	}
	defer rows.Close()

	out := []models.SnapshotEngagement{}
	for rows.Next() {
		var e models.SnapshotEngagement
		var lastProactive, lastShared sql.NullString
		if err := rows.Scan(&e.UserID, &e.ConsecutiveCount, &lastProactive, &e.AwaitingReply, &lastShared); err != nil {
			return nil, fmt.Errorf("failed to scan engagement state: %w", err)
		}
		e.LastProactiveAt = lastProactive.String
		e.LastSharedAt = lastShared.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlSnapshotStore) loadDailySent(ctx context.Context) ([]models.SnapshotDailySent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT family, day FROM daily_sent_days ORDER BY family`)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily sent-sets: %w", err)
	}
	out := []models.SnapshotDailySent{}
	index := map[models.CampaignFamily]int{}
	for rows.Next() {
		var d models.SnapshotDailySent
		if err := rows.Scan(&d.Family, &d.Day); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan daily sent-set: %w", err)
		}
		d.UserIDs = []string{}
		index[d.Family] = len(out)
		out = append(out, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	users, err := s.db.QueryContext(ctx, `SELECT family, user_id FROM daily_sent_users ORDER BY family, user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily sent users: %w", err)
	}
	defer users.Close()
	for users.Next() {
		var family models.CampaignFamily
		var id string
		if err := users.Scan(&family, &id); err != nil {
			return nil, fmt.Errorf("failed to scan daily sent user: %w", err)
		}
		i, ok := index[family]
		if !ok {
			slog.Warn(s.name+" LoadSnapshot orphan daily sent user", "family", family, "user_id", id)
			continue
		}
		out[i].UserIDs = append(out[i].UserIDs, id)
	}
	return out, users.Err()
}

// Close closes the database connection.
func (s *sqlSnapshotStore) Close() error {
	if s.db == nil {
		return nil
	}
	slog.Debug(s.name + " Close invoked")
	return s.db.Close()
}
