package engagement

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

type daySet struct {
	day   string
	users map[string]struct{}
}

// DailySentSets tracks which users already received each day-bound campaign
// today. A set is cleared whenever the civil date in loc differs from the
// date it was last reset on; the check runs on every access.
type DailySentSets struct {
	mu   sync.Mutex
	loc  *time.Location
	sets map[models.CampaignFamily]*daySet
}

// NewDailySentSets creates empty sent-sets evaluated in loc (UTC when nil).
func NewDailySentSets(loc *time.Location) *DailySentSets {
	if loc == nil {
		loc = time.UTC
	}
	return &DailySentSets{loc: loc, sets: make(map[models.CampaignFamily]*daySet)}
}

// DayOf returns the civil date of now in the sent-sets' location.
func (d *DailySentSets) DayOf(now time.Time) string {
	return now.In(d.loc).Format(models.DayLayout)
}

// Refresh clears the family's set if the date rolled over and reports whether it did.
func (d *DailySentSets) Refresh(family models.CampaignFamily, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, reset := d.currentLocked(family, d.DayOf(now))
	return reset
}

// currentLocked returns the family's set for day, resetting a set from an earlier day.
func (d *DailySentSets) currentLocked(family models.CampaignFamily, day string) (*daySet, bool) {
	set, ok := d.sets[family]
	if !ok {
		set = &daySet{day: day, users: make(map[string]struct{})}
		d.sets[family] = set
		return set, false
	}
	if set.day >= day {
		return set, false
	}
	slog.Info("Daily sent-set reset on date rollover", "family", family, "previous_day", set.day, "day", day, "cleared", len(set.users))
	set.day = day
	set.users = make(map[string]struct{})
	return set, true
}

// Has reports whether userID already received family's message on now's date.
func (d *DailySentSets) Has(family models.CampaignFamily, userID string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	day := d.DayOf(now)
	set, _ := d.currentLocked(family, day)
	if set.day != day {
		return false
	}
	_, ok := set.users[userID]
	return ok
}

// Mark records userID as sent for family on day. A mark for a day older than
// the set's current day is dropped and reported as false.
func (d *DailySentSets) Mark(family models.CampaignFamily, userID, day string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, _ := d.currentLocked(family, day)
	if set.day != day {
		slog.Debug("DailySentSets dropping stale mark", "family", family, "user_id", userID, "day", day, "current_day", set.day)
		return false
	}
	set.users[userID] = struct{}{}
	return true
}

// Count returns the number of users marked for family on now's date.
func (d *DailySentSets) Count(family models.CampaignFamily, now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	day := d.DayOf(now)
	set, _ := d.currentLocked(family, day)
	if set.day != day {
		return 0
	}
	return len(set.users)
}

// Export returns the sent-sets in snapshot form, ordered by family.
func (d *DailySentSets) Export() []models.SnapshotDailySent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.SnapshotDailySent, 0, len(d.sets))
	for family, set := range d.sets {
		users := make([]string, 0, len(set.users))
		for id := range set.users {
			users = append(users, id)
		}
		slices.Sort(users)
		out = append(out, models.SnapshotDailySent{Family: family, Day: set.day, UserIDs: users})
	}
	slices.SortFunc(out, func(a, b models.SnapshotDailySent) int {
		switch {
		case a.Family < b.Family:
			return -1
		case a.Family > b.Family:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Import replaces the sent-sets. Sets from an earlier day are cleared on first access.
func (d *DailySentSets) Import(entries []models.SnapshotDailySent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sets = make(map[models.CampaignFamily]*daySet, len(entries))
	for _, e := range entries {
		users := make(map[string]struct{}, len(e.UserIDs))
		for _, id := range e.UserIDs {
			users[id] = struct{}{}
		}
		d.sets[e.Family] = &daySet{day: e.Day, users: users}
	}
}
