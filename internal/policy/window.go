// Package policy provides the pure eligibility and send-decision functions
// used by the outreach detection loops.
//
// Nothing in this package holds state beyond the immutable whitelist, so every
// function can be evaluated against an arbitrary instant in tests.
package policy

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// Whitelist gates outreach to a fixed set of users when enabled.
type Whitelist struct {
	enabled bool
	members map[string]struct{}
}

// NewWhitelist builds a Whitelist from settings.
func NewWhitelist(s models.WhitelistSettings) *Whitelist {
	members := make(map[string]struct{}, len(s.UserIDs))
	for _, id := range s.UserIDs {
		members[id] = struct{}{}
	}
	if s.Enabled && len(members) == 0 {
		slog.Warn("Whitelist enabled with no members; all outreach is suppressed")
	}
	return &Whitelist{enabled: s.Enabled, members: members}
}

// IsEligibleUser reports whether the whitelist is disabled or lists userID.
func (w *Whitelist) IsEligibleUser(userID string) bool {
	if w == nil || !w.enabled {
		return true
	}
	_, ok := w.members[userID]
	return ok
}

// InWindow reports whether now's hour falls inside the window's hour range.
// The caller is responsible for converting now to the configured location.
func InWindow(now time.Time, w models.CampaignWindow) bool {
	return HourInWindow(now.Hour(), w.StartHour, w.EndHour)
}

// HourInWindow checks hour against [start, end) with explicit wraparound.
// An end of 24 is midnight, an end at or before start spans midnight, and
// start == end covers the whole day.
func HourInWindow(hour, start, end int) bool {
	s, e := start%24, end%24
	if e <= s {
		return hour >= s || hour < e
	}
	return hour >= s && hour < e
}

// PeriodOf maps an hour to the time-period hint passed to the composer.
func PeriodOf(hour int) models.TimePeriod {
	switch {
	case hour >= 6 && hour < 8:
		return models.PeriodEarlyMorning
	case hour >= 8 && hour < 11:
		return models.PeriodMorning
	case hour >= 11 && hour < 13:
		return models.PeriodNoon
	case hour >= 13 && hour < 17:
		return models.PeriodAfternoon
	case hour >= 17 && hour < 19:
		return models.PeriodDusk
	case hour >= 19 && hour < 23:
		return models.PeriodEvening
	default:
		return models.PeriodLateNight
	}
}

// DaypartOf maps an hour to the coarse bucket used by ambient sharing prompts.
func DaypartOf(hour int) models.Daypart {
	switch {
	case hour >= 5 && hour < 12:
		return models.DaypartMorning
	case hour >= 12 && hour < 18:
		return models.DaypartAfternoon
	case hour >= 18 && hour < 23:
		return models.DaypartEvening
	default:
		return models.DaypartLateNight
	}
}
