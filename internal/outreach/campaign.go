package outreach

import (
	"fmt"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/engagement"
	"github.com/BTreeMap/OutreachPipe/internal/models"
	"github.com/BTreeMap/OutreachPipe/internal/policy"
)

// campaign is one outreach family expressed as a window policy, a
// send-decision policy and a prompt-tier policy.
type campaign struct {
	family   models.CampaignFamily
	settings models.CampaignSettings

	// gate reports whether a tick at the local time may schedule anything.
	gate func(local time.Time) bool
	// eligible is the deterministic part of the send decision; it is
	// evaluated on every tick and again when a task fires.
	eligible func(c engagement.Candidate, now time.Time) bool
	// chance is the probability that an eligible candidate is kept on a tick.
	chance func(c engagement.Candidate, now time.Time) float64
	// tier picks the prompt category and extra context for a send.
	tier func(c engagement.Candidate, local time.Time) (models.PromptCategory, string, int)
	// selectAll disables ratio selection.
	selectAll bool
}

func always(engagement.Candidate, time.Time) float64 { return 1 }

func (e *Engine) newIdleCampaign(cs models.CampaignSettings) *campaign {
	idle := e.settings.Idle
	return &campaign{
		family:   models.FamilyIdleTimeout,
		settings: cs,
		gate: func(local time.Time) bool {
			return !idle.TimeLimitEnabled || policy.InWindow(local, cs.Window)
		},
		eligible: func(c engagement.Candidate, now time.Time) bool {
			st := c.State
			if st.ConsecutiveCount >= idle.MaxConsecutive {
				return false
			}
			if !policy.Idle(now, c.Activity.LastActiveAt, idle.InactiveThreshold) {
				return false
			}
			if st.ConsecutiveCount > 0 && st.LastProactiveAt != nil && now.Sub(*st.LastProactiveAt) < idle.InactiveThreshold {
				return false
			}
			return true
		},
		chance: func(c engagement.Candidate, now time.Time) float64 {
			if !idle.RecencyGate || c.State.ConsecutiveCount == 0 {
				return 1
			}
			return policy.RecencyProbability(now, c.State.LastProactiveAt, idle.Recency)
		},
		tier: func(c engagement.Candidate, _ time.Time) (models.PromptCategory, string, int) {
			attempt := c.State.ConsecutiveCount + 1
			extra := fmt.Sprintf("This is proactive contact %d of %d since the user last wrote.", attempt, idle.MaxConsecutive)
			if attempt >= idle.MaxConsecutive {
				extra += " This is the final contact: let the user know you will not bother them again."
			}
			return policy.TierFor(attempt, idle.MaxConsecutive), extra, attempt
		},
		selectAll: true,
	}
}

func (e *Engine) newDailyCampaign(family models.CampaignFamily, category models.PromptCategory, cs models.CampaignSettings) *campaign {
	return &campaign{
		family:   family,
		settings: cs,
		gate: func(local time.Time) bool {
			return policy.InWindow(local, cs.Window)
		},
		eligible: func(c engagement.Candidate, now time.Time) bool {
			return !e.sent.Has(family, c.Activity.UserID, now)
		},
		chance: always,
		tier: func(engagement.Candidate, time.Time) (models.PromptCategory, string, int) {
			return category, "", 0
		},
	}
}

func (e *Engine) newSharingCampaign(cs models.CampaignSettings) *campaign {
	weighted := e.settings.SharingMode == models.SharingWeighted
	return &campaign{
		family:   models.FamilyAmbientSharing,
		settings: cs,
		gate: func(local time.Time) bool {
			return policy.InWindow(local, cs.Window)
		},
		eligible: func(c engagement.Candidate, now time.Time) bool {
			return policy.SharingDue(now, c.State.LastSharedAt, cs.Window.MinInterval)
		},
		chance: func(c engagement.Candidate, now time.Time) float64 {
			if !weighted {
				return 1
			}
			return policy.SharingProbability(now, c.State.LastSharedAt, cs.Window)
		},
		tier: func(_ engagement.Candidate, local time.Time) (models.PromptCategory, string, int) {
			return models.SharingCategory(policy.DaypartOf(local.Hour())), "", 0
		},
	}
}

// buildCampaigns instantiates every enabled campaign family.
func (e *Engine) buildCampaigns() []*campaign {
	dailyCategories := map[models.CampaignFamily]models.PromptCategory{
		models.FamilyMorning: models.CategoryMorning,
		models.FamilyNight:   models.CategoryNight,
		models.FamilyLunch:   models.CategoryLunch,
		models.FamilyDinner:  models.CategoryDinner,
	}

	var out []*campaign
	for _, family := range models.AllFamilies {
		cs, ok := e.settings.Campaign(family)
		if !ok || !cs.Window.Enabled {
			continue
		}
		switch family {
		case models.FamilyIdleTimeout:
			out = append(out, e.newIdleCampaign(cs))
		case models.FamilyAmbientSharing:
			out = append(out, e.newSharingCampaign(cs))
		default:
			out = append(out, e.newDailyCampaign(family, dailyCategories[family], cs))
		}
	}
	return out
}
