// Package engagement owns the mutable per-user outreach state: the activity
// store, the escalation ladder counters and the per-day sent-sets.
//
// Activity and engagement state share one lock so that an inbound message and
// a firing dispatch always observe each other's updates as a whole.
package engagement

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
	"github.com/BTreeMap/OutreachPipe/internal/policy"
)

// Candidate pairs a user's activity record with a copy of their engagement state.
type Candidate struct {
	Activity models.ActivityRecord
	State    models.EngagementState
}

// Tracker is the activity store and escalation ladder table.
type Tracker struct {
	mu       sync.RWMutex
	activity map[string]models.ActivityRecord
	states   map[string]*models.EngagementState
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		activity: make(map[string]models.ActivityRecord),
		states:   make(map[string]*models.EngagementState),
	}
}

// RecordActivity overwrites the user's activity record and resets the ladder.
// It returns whether a proactive message was awaiting a reply, consuming the flag.
func (t *Tracker) RecordActivity(userID, conversationRef, originRef string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activity[userID] = models.ActivityRecord{
		UserID:          userID,
		LastActiveAt:    now,
		ConversationRef: conversationRef,
		OriginRef:       originRef,
	}

	st, ok := t.states[userID]
	if !ok {
		return false
	}
	wasAwaiting := st.AwaitingReply
	if st.ConsecutiveCount > 0 {
		slog.Debug("Tracker resetting escalation after user activity", "user_id", userID, "previous_count", st.ConsecutiveCount)
	}
	st.ConsecutiveCount = 0
	st.AwaitingReply = false
	return wasAwaiting
}

// GetActivity returns the user's activity record, if any.
func (t *Tracker) GetActivity(userID string) (models.ActivityRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.activity[userID]
	return rec, ok
}

// AllActive returns a copy of every activity record ordered by user id.
func (t *Tracker) AllActive() []models.ActivityRecord {
	t.mu.RLock()
	out := make([]models.ActivityRecord, 0, len(t.activity))
	for _, rec := range t.activity {
		out = append(out, rec)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.ActivityRecord) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

// Candidates returns every user with an activity record together with their
// engagement state, read under a single lock.
func (t *Tracker) Candidates() []Candidate {
	t.mu.RLock()
	out := make([]Candidate, 0, len(t.activity))
	for id, rec := range t.activity {
		out = append(out, Candidate{Activity: rec, State: t.stateCopyLocked(id)})
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b Candidate) int { return strings.Compare(a.Activity.UserID, b.Activity.UserID) })
	return out
}

// View returns the user's activity record and engagement state read under one lock.
func (t *Tracker) View(userID string) (Candidate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.activity[userID]
	if !ok {
		return Candidate{}, false
	}
	return Candidate{Activity: rec, State: t.stateCopyLocked(userID)}, true
}

// State returns a copy of the user's engagement state; the zero state if none exists.
func (t *Tracker) State(userID string) models.EngagementState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stateCopyLocked(userID)
}

func (t *Tracker) stateCopyLocked(userID string) models.EngagementState {
	if st, ok := t.states[userID]; ok {
		return *st
	}
	return models.EngagementState{UserID: userID}
}

// Users returns the number of users with an activity record.
func (t *Tracker) Users() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.activity)
}

// Stage returns the user's escalation ladder stage.
func (t *Tracker) Stage(userID string, maxConsecutive int) models.Stage {
	return policy.StageOf(t.State(userID).ConsecutiveCount, maxConsecutive)
}
