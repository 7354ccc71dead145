// Package messaging adapts WhatsApp transports to the outreach engine: it
// sends composed messages and turns inbound user messages into
// models.InboundMessage values.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an inbound message waits for a reader
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest accepted phone number
	minPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient and returns its canonical form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins receiving inbound messages.
	Start(ctx context.Context) error

	// Stop stops the service and closes the Responses channel.
	Stop() error

	// Responses returns a channel of inbound user messages.
	Responses() <-chan models.InboundMessage
}

// canonicalPhone strips every non-digit and requires at least minPhoneDigits.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	return canonical, nil
}

// inbox is the stop-aware inbound channel shared by the transport services.
type inbox struct {
	name      string
	transport string
	mu        sync.RWMutex
	stopped   bool
	responses chan models.InboundMessage
}

func newInbox(name, transport string) *inbox {
	return &inbox{
		name:      name,
		transport: transport,
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

// message builds the InboundMessage for a user identified by a canonical phone number.
func (b *inbox) message(phone, body string, at time.Time) models.InboundMessage {
	return models.InboundMessage{
		UserID:          phone,
		ConversationRef: b.transport + ":" + phone,
		OriginRef:       phone,
		Body:            body,
		ReceivedAt:      at,
	}
}

// emit forwards msg unless the service is stopped or no reader shows up in time.
func (b *inbox) emit(msg models.InboundMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		slog.Warn(b.name+" dropping inbound message (service stopped)", "user_id", msg.UserID)
		return false
	}
	select {
	case b.responses <- msg:
		slog.Debug(b.name+" inbound message forwarded", "user_id", msg.UserID, "body_length", len(msg.Body))
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(b.name+" responses channel blocked, dropping message", "user_id", msg.UserID, "timeout", DefaultChannelTimeout)
		return false
	}
}

func (b *inbox) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// close marks the inbox stopped and closes the channel once. Holding the write
// lock guarantees no emit is mid-send.
func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	close(b.responses)
	slog.Info(b.name + " stopped and channels closed")
}
