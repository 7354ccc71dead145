package engagement

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// RecordSend applies a successful proactive send to the user's state.
// Idle-timeout sends advance the ladder, capped at maxConsecutive. Every send
// sets LastProactiveAt and AwaitingReply; ambient sharing also sets LastSharedAt.
//
// seenActiveAt is the LastActiveAt the send was validated against. If the user
// has written since then, the reply already answered the send: the timestamps
// are recorded but the ladder and AwaitingReply are left as the reply set them.
func (t *Tracker) RecordSend(userID string, family models.CampaignFamily, now, seenActiveAt time.Time, maxConsecutive int) models.EngagementState {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[userID]
	if !ok {
		st = &models.EngagementState{UserID: userID}
		t.states[userID] = st
	}

	sentAt := now
	st.LastProactiveAt = &sentAt
	if family == models.FamilyAmbientSharing {
		st.LastSharedAt = &sentAt
	}
	if rec, ok := t.activity[userID]; ok && rec.LastActiveAt.After(seenActiveAt) {
		slog.Info("Tracker RecordSend: user wrote during send, ladder not advanced", "user_id", userID, "family", family, "last_active_at", rec.LastActiveAt)
		return *st
	}

	if family == models.FamilyIdleTimeout {
		if st.ConsecutiveCount < maxConsecutive {
			st.ConsecutiveCount++
		} else {
			slog.Warn("Tracker RecordSend: ladder already at ceiling", "user_id", userID, "count", st.ConsecutiveCount, "max", maxConsecutive)
		}
	}
	st.AwaitingReply = true

	slog.Debug("Tracker RecordSend", "user_id", userID, "family", family, "count", st.ConsecutiveCount)
	return *st
}

// IsAwaitingReply reports whether the last proactive message is still unanswered.
func (t *Tracker) IsAwaitingReply(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[userID]
	return ok && st.AwaitingReply
}

// ConsumeAwaitingReply clears the awaiting-reply flag and returns its previous value.
func (t *Tracker) ConsumeAwaitingReply(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[userID]
	if !ok || !st.AwaitingReply {
		return false
	}
	st.AwaitingReply = false
	return true
}
