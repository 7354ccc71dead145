package models

import (
	"fmt"
	"time"
)

// SharingMode selects the ambient sharing send-decision policy.
type SharingMode string

const (
	// SharingDeterministic sends as soon as the minimum interval has elapsed.
	SharingDeterministic SharingMode = "deterministic"
	// SharingWeighted sends with a probability that grows between the min and max interval.
	SharingWeighted SharingMode = "weighted"
)

// CampaignSettings configures one campaign family.
type CampaignSettings struct {
	Window         CampaignWindow `json:"window" yaml:"window"`
	Delay          DelayBounds    `json:"delay" yaml:"delay"`
	PollInterval   time.Duration  `json:"poll_interval" yaml:"poll_interval"`
	ExcludeDormant bool           `json:"exclude_dormant" yaml:"exclude_dormant"`
}

// IdleSettings holds the idle-timeout ladder parameters.
// When TimeLimitEnabled is set the idle campaign window hours act as the
// activity-hours gate.
type IdleSettings struct {
	TimeLimitEnabled  bool          `json:"time_limit_enabled" yaml:"time_limit_enabled"`
	InactiveThreshold time.Duration `json:"inactive_threshold" yaml:"inactive_threshold"`
	MaxConsecutive    int           `json:"max_consecutive_messages" yaml:"max_consecutive_messages"`
	RecencyGate       bool          `json:"recency_gate" yaml:"recency_gate"`
	Recency           RecencyCurve  `json:"recency" yaml:"recency"`
}

// WhitelistSettings restricts outreach to listed users when enabled.
type WhitelistSettings struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	UserIDs []string `json:"user_ids" yaml:"user_ids"`
}

// Settings is the read-only configuration snapshot consumed by the engine.
type Settings struct {
	Location    *time.Location                      `json:"-" yaml:"-"`
	Whitelist   WhitelistSettings                   `json:"whitelist"`
	Idle        IdleSettings                        `json:"idle"`
	SharingMode SharingMode                         `json:"sharing_mode"`
	Campaigns   map[CampaignFamily]CampaignSettings `json:"campaigns"`
}

// Campaign returns the settings of family f.
func (s Settings) Campaign(f CampaignFamily) (CampaignSettings, bool) {
	c, ok := s.Campaigns[f]
	return c, ok
}

// Validate checks every campaign and the idle ladder parameters.
func (s Settings) Validate() error {
	for f, c := range s.Campaigns {
		if !f.IsValid() {
			return fmt.Errorf("%w: %q", ErrUnknownFamily, f)
		}
		if err := c.Window.Validate(); err != nil {
			return fmt.Errorf("campaign %s: %w", f, err)
		}
		if err := c.Delay.Validate(); err != nil {
			return fmt.Errorf("campaign %s: %w", f, err)
		}
		if c.Window.Enabled && c.PollInterval <= 0 {
			return fmt.Errorf("campaign %s: poll interval must be positive", f)
		}
	}
	if idle, ok := s.Campaigns[FamilyIdleTimeout]; ok && idle.Window.Enabled {
		if s.Idle.MaxConsecutive < 1 {
			return fmt.Errorf("max consecutive messages must be at least 1, got %d", s.Idle.MaxConsecutive)
		}
		if s.Idle.InactiveThreshold <= 0 {
			return fmt.Errorf("inactive threshold must be positive, got %s", s.Idle.InactiveThreshold)
		}
		if err := s.Idle.Recency.Validate(); err != nil {
			return err
		}
	}
	switch s.SharingMode {
	case "", SharingDeterministic, SharingWeighted:
	default:
		return fmt.Errorf("unknown sharing mode %q", s.SharingMode)
	}
	return nil
}
