package models

import (
	"fmt"
	"time"
)

// CampaignFamily identifies one outreach campaign.
type CampaignFamily string

const (
	FamilyIdleTimeout    CampaignFamily = "idle_timeout"
	FamilyMorning        CampaignFamily = "morning"
	FamilyNight          CampaignFamily = "night"
	FamilyLunch          CampaignFamily = "lunch"
	FamilyDinner         CampaignFamily = "dinner"
	FamilyAmbientSharing CampaignFamily = "ambient_sharing"
)

// AllFamilies lists every campaign family in loop start order.
var AllFamilies = []CampaignFamily{
	FamilyIdleTimeout,
	FamilyMorning,
	FamilyNight,
	FamilyLunch,
	FamilyDinner,
	FamilyAmbientSharing,
}

// IsValid reports whether f is a known campaign family.
func (f CampaignFamily) IsValid() bool {
	switch f {
	case FamilyIdleTimeout, FamilyMorning, FamilyNight, FamilyLunch, FamilyDinner, FamilyAmbientSharing:
		return true
	default:
		return false
	}
}

// DayBound reports whether the family sends at most once per user per day.
func (f CampaignFamily) DayBound() bool {
	switch f {
	case FamilyMorning, FamilyNight, FamilyLunch, FamilyDinner:
		return true
	default:
		return false
	}
}

// CampaignWindow holds the static gating parameters of a campaign.
// An EndHour of 24 denotes midnight; EndHour <= StartHour spans midnight.
type CampaignWindow struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	StartHour      int           `json:"start_hour" yaml:"start_hour"`
	EndHour        int           `json:"end_hour" yaml:"end_hour"`
	MinInterval    time.Duration `json:"min_interval" yaml:"min_interval"`
	MaxInterval    time.Duration `json:"max_interval" yaml:"max_interval"`
	SelectionRatio float64       `json:"selection_ratio" yaml:"selection_ratio"`
	MinSelected    int           `json:"min_selected" yaml:"min_selected"`
}

// Validate checks hour ranges, interval ordering and the selection ratio.
func (w CampaignWindow) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 {
		return fmt.Errorf("%w: start=%d end=%d", ErrInvalidHour, w.StartHour, w.EndHour)
	}
	if w.MinInterval < 0 || w.MaxInterval < 0 || (w.MaxInterval > 0 && w.MaxInterval < w.MinInterval) {
		return fmt.Errorf("%w: min=%s max=%s", ErrInvalidInterval, w.MinInterval, w.MaxInterval)
	}
	if w.SelectionRatio < 0 || w.SelectionRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidRatio, w.SelectionRatio)
	}
	if w.MinSelected < 0 {
		return fmt.Errorf("min selected cannot be negative: %d", w.MinSelected)
	}
	return nil
}

// DelayBounds is the range from which a dispatch delay is drawn.
type DelayBounds struct {
	Min time.Duration `json:"min" yaml:"min"`
	Max time.Duration `json:"max" yaml:"max"`
}

// Validate checks that 0 <= Min <= Max.
func (d DelayBounds) Validate() error {
	if d.Min < 0 || d.Max < d.Min {
		return fmt.Errorf("%w: min=%s max=%s", ErrInvalidDelayBounds, d.Min, d.Max)
	}
	return nil
}

// RecencyPoint is one breakpoint of the probability-by-recency curve.
type RecencyPoint struct {
	After       time.Duration `json:"after" yaml:"after"`
	Probability float64       `json:"probability" yaml:"probability"`
}

// RecencyCurve maps time since the last proactive message to a send probability.
// Prior applies when no proactive message was ever sent. Step disables
// interpolation between breakpoints.
type RecencyCurve struct {
	Prior  float64        `json:"prior" yaml:"prior"`
	Points []RecencyPoint `json:"points" yaml:"points"`
	Step   bool           `json:"step" yaml:"step"`
}

// Validate checks that breakpoints increase and probabilities stay in 0..1.
func (c RecencyCurve) Validate() error {
	if c.Prior < 0 || c.Prior > 1 {
		return fmt.Errorf("%w: prior=%v", ErrInvalidRecencyCurve, c.Prior)
	}
	for i, p := range c.Points {
		if p.Probability < 0 || p.Probability > 1 || p.After < 0 {
			return fmt.Errorf("%w: point %d", ErrInvalidRecencyCurve, i)
		}
		if i > 0 && (p.After <= c.Points[i-1].After || p.Probability < c.Points[i-1].Probability) {
			return fmt.Errorf("%w: point %d is not increasing", ErrInvalidRecencyCurve, i)
		}
	}
	return nil
}

// PromptCategory selects the prompt catalogue used by the composer.
type PromptCategory string

const (
	CategoryFirstContact  PromptCategory = "idle.first_contact"
	CategoryMildConcern   PromptCategory = "idle.mild_concern"
	CategoryLaterStage    PromptCategory = "idle.later_stage"
	CategoryFarewell      PromptCategory = "idle.farewell"
	CategoryMorning       PromptCategory = "greeting.morning"
	CategoryNight         PromptCategory = "greeting.night"
	CategoryLunch         PromptCategory = "meal.lunch"
	CategoryDinner        PromptCategory = "meal.dinner"
	CategorySharingPrefix PromptCategory = "sharing."
)

// SharingCategory returns the ambient sharing category for a daypart.
func SharingCategory(d Daypart) PromptCategory {
	return CategorySharingPrefix + PromptCategory(d)
}

// TimePeriod is a fine grained time-of-day hint.
type TimePeriod string

const (
	PeriodEarlyMorning TimePeriod = "early_morning"
	PeriodMorning      TimePeriod = "morning"
	PeriodNoon         TimePeriod = "noon"
	PeriodAfternoon    TimePeriod = "afternoon"
	PeriodDusk         TimePeriod = "dusk"
	PeriodEvening      TimePeriod = "evening"
	PeriodLateNight    TimePeriod = "late_night"
)

// Daypart is a coarse time-of-day bucket.
type Daypart string

const (
	DaypartMorning   Daypart = "morning"
	DaypartAfternoon Daypart = "afternoon"
	DaypartEvening   Daypart = "evening"
	DaypartLateNight Daypart = "late_night"
)

// ComposeRequest asks the composer to produce and deliver one proactive message.
type ComposeRequest struct {
	UserID          string         `json:"user_id"`
	ConversationRef string         `json:"conversation_ref"`
	OriginRef       string         `json:"origin_ref"`
	Family          CampaignFamily `json:"family"`
	Category        PromptCategory `json:"category"`
	TimePeriod      TimePeriod     `json:"time_period"`
	Festival        string         `json:"festival,omitempty"`
	ExtraContext    string         `json:"extra_context,omitempty"`
	Attempt         int            `json:"attempt,omitempty"`
}
