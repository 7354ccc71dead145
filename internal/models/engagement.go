// Package models defines the core data structures for OutreachPipe.
//
// It includes activity and engagement records, campaign definitions, compose
// requests and the persistence snapshot, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID         = errors.New("user id cannot be empty")
	ErrUnknownFamily       = errors.New("unknown campaign family")
	ErrInvalidHour         = errors.New("hour must be within 0..24")
	ErrInvalidRatio        = errors.New("selection ratio must be within 0..1")
	ErrInvalidDelayBounds  = errors.New("delay bounds must satisfy 0 <= min <= max")
	ErrInvalidInterval     = errors.New("interval bounds must satisfy 0 <= min <= max")
	ErrInvalidRecencyCurve = errors.New("recency breakpoints must be increasing with probabilities in 0..1")
)

// ActivityRecord tracks the last inbound message observed for a user.
type ActivityRecord struct {
	UserID          string    `json:"user_id"`
	LastActiveAt    time.Time `json:"last_active_at"`
	ConversationRef string    `json:"conversation_ref"`
	OriginRef       string    `json:"origin_ref"`
}

// EngagementState is the per-user proactive outreach state.
type EngagementState struct {
	UserID           string     `json:"user_id"`
	ConsecutiveCount int        `json:"consecutive_count"`
	LastProactiveAt  *time.Time `json:"last_proactive_at,omitempty"`
	AwaitingReply    bool       `json:"awaiting_reply"`
	LastSharedAt     *time.Time `json:"last_shared_at,omitempty"`
}

// Stage is the escalation ladder position of a user.
type Stage string

const (
	// StageActive means no unanswered proactive message.
	StageActive Stage = "active"
	// StageEscalating means at least one unanswered proactive message below the ceiling.
	StageEscalating Stage = "escalating"
	// StageDormant means the max consecutive ceiling was reached.
	StageDormant Stage = "dormant"
)

// InboundMessage is a user message observed by the transport layer.
type InboundMessage struct {
	UserID          string    `json:"user_id"`
	ConversationRef string    `json:"conversation_ref"`
	OriginRef       string    `json:"origin_ref"`
	Body            string    `json:"body"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Validate checks that the inbound message identifies a user.
func (m InboundMessage) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	return nil
}
