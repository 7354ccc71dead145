package models

import (
	"errors"
	"fmt"
	"time"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// TimestampLayout is the textual encoding used for every snapshot timestamp.
const TimestampLayout = time.RFC3339Nano

// DayLayout is the encoding of a civil date in snapshots and daily sent-sets.
const DayLayout = "2006-01-02"

// ErrUnsupportedSnapshot is returned when a snapshot has an unknown version.
var ErrUnsupportedSnapshot = errors.New("unsupported snapshot version")

// SnapshotActivity is the persisted form of an ActivityRecord.
type SnapshotActivity struct {
	UserID          string `json:"user_id"`
	LastActiveAt    string `json:"last_active_at"`
	ConversationRef string `json:"conversation_ref"`
	OriginRef       string `json:"origin_ref"`
}

// SnapshotEngagement is the persisted form of an EngagementState.
// Empty timestamp strings mean the value was never set.
type SnapshotEngagement struct {
	UserID           string `json:"user_id"`
	ConsecutiveCount int    `json:"consecutive_count"`
	LastProactiveAt  string `json:"last_proactive_at,omitempty"`
	AwaitingReply    bool   `json:"awaiting_reply"`
	LastSharedAt     string `json:"last_shared_at,omitempty"`
}

// SnapshotDailySent is the persisted form of one day-bound family's sent-set.
type SnapshotDailySent struct {
	Family  CampaignFamily `json:"family"`
	Day     string         `json:"day"`
	UserIDs []string       `json:"user_ids"`
}

// Snapshot is the exported scheduler state consumed by the persistence layer.
type Snapshot struct {
	Version    int                  `json:"version"`
	TakenAt    string               `json:"taken_at"`
	Activity   []SnapshotActivity   `json:"activity"`
	Engagement []SnapshotEngagement `json:"engagement"`
	DailySent  []SnapshotDailySent  `json:"daily_sent"`
}

// FormatTimestamp encodes t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp decodes a TimestampLayout string.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatOptionalTimestamp encodes t, or returns "" when t is nil.
func FormatOptionalTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTimestamp(*t)
}

// ParseOptionalTimestamp decodes s, returning nil for an empty string.
func ParseOptionalTimestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the version, user ids, families and timestamp encodings.
func (s Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedSnapshot, s.Version)
	}
	for _, a := range s.Activity {
		if a.UserID == "" {
			return fmt.Errorf("activity: %w", ErrEmptyUserID)
		}
		if _, err := ParseTimestamp(a.LastActiveAt); err != nil {
			return fmt.Errorf("activity for %s: %w", a.UserID, err)
		}
	}
	for _, e := range s.Engagement {
		if e.UserID == "" {
			return fmt.Errorf("engagement: %w", ErrEmptyUserID)
		}
		if e.ConsecutiveCount < 0 {
			return fmt.Errorf("engagement for %s: negative consecutive count %d", e.UserID, e.ConsecutiveCount)
		}
		if _, err := ParseOptionalTimestamp(e.LastProactiveAt); err != nil {
			return fmt.Errorf("engagement for %s: %w", e.UserID, err)
		}
		if _, err := ParseOptionalTimestamp(e.LastSharedAt); err != nil {
			return fmt.Errorf("engagement for %s: %w", e.UserID, err)
		}
	}
	for _, d := range s.DailySent {
		if !d.Family.DayBound() {
			return fmt.Errorf("daily sent-set: %w: %q", ErrUnknownFamily, d.Family)
		}
		if _, err := time.Parse(DayLayout, d.Day); err != nil {
			return fmt.Errorf("daily sent-set for %s: invalid day %q: %w", d.Family, d.Day, err)
		}
	}
	return nil
}
