package engagement

import (
	"fmt"
	"slices"
	"strings"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// Export returns the activity records and engagement states in snapshot form.
func (t *Tracker) Export() ([]models.SnapshotActivity, []models.SnapshotEngagement) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	activity := make([]models.SnapshotActivity, 0, len(t.activity))
	for _, rec := range t.activity {
		activity = append(activity, models.SnapshotActivity{
			UserID:          rec.UserID,
			LastActiveAt:    models.FormatTimestamp(rec.LastActiveAt),
			ConversationRef: rec.ConversationRef,
			OriginRef:       rec.OriginRef,
		})
	}
	slices.SortFunc(activity, func(a, b models.SnapshotActivity) int { return strings.Compare(a.UserID, b.UserID) })

	engagement := make([]models.SnapshotEngagement, 0, len(t.states))
	for _, st := range t.states {
		engagement = append(engagement, models.SnapshotEngagement{
			UserID:           st.UserID,
			ConsecutiveCount: st.ConsecutiveCount,
			LastProactiveAt:  models.FormatOptionalTimestamp(st.LastProactiveAt),
			AwaitingReply:    st.AwaitingReply,
			LastSharedAt:     models.FormatOptionalTimestamp(st.LastSharedAt),
		})
	}
	slices.SortFunc(engagement, func(a, b models.SnapshotEngagement) int { return strings.Compare(a.UserID, b.UserID) })

	return activity, engagement
}

// Import replaces the tracker's contents. Nothing changes if any entry fails to decode.
func (t *Tracker) Import(activity []models.SnapshotActivity, engagement []models.SnapshotEngagement) error {
	recs := make(map[string]models.ActivityRecord, len(activity))
	for _, a := range activity {
		ts, err := models.ParseTimestamp(a.LastActiveAt)
		if err != nil {
			return fmt.Errorf("failed to import activity for %s: %w", a.UserID, err)
		}
		recs[a.UserID] = models.ActivityRecord{
			UserID:          a.UserID,
			LastActiveAt:    ts,
			ConversationRef: a.ConversationRef,
			OriginRef:       a.OriginRef,
		}
	}

	states := make(map[string]*models.EngagementState, len(engagement))
	for _, e := range engagement {
		lastProactive, err := models.ParseOptionalTimestamp(e.LastProactiveAt)
		if err != nil {
			return fmt.Errorf("failed to import engagement for %s: %w", e.UserID, err)
		}
		lastShared, err := models.ParseOptionalTimestamp(e.LastSharedAt)
		if err != nil {
			return fmt.Errorf("failed to import engagement for %s: %w", e.UserID, err)
		}
		states[e.UserID] = &models.EngagementState{
			UserID:           e.UserID,
			ConsecutiveCount: e.ConsecutiveCount,
			LastProactiveAt:  lastProactive,
			AwaitingReply:    e.AwaitingReply,
			LastSharedAt:     lastShared,
		}
	}

	t.mu.Lock()
	t.activity = recs
	t.states = states
	t.mu.Unlock()
	return nil
}
