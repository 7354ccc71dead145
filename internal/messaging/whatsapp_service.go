package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/models"
	"github.com/BTreeMap/OutreachPipe/internal/whatsapp"
)

// WhatsAppService implements Service over a whatsmeow connection.
type WhatsAppService struct {
	client whatsapp.Sender
	*inbox
}

// NewWhatsAppService creates a WhatsAppService wrapping client.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	return &WhatsAppService{client: client, inbox: newInbox("WhatsAppService", "whatsapp")}
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start registers the inbound text handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.client.OnText(func(in whatsapp.IncomingText) {
		phone, err := canonicalPhone(in.From)
		if err != nil {
			slog.Warn("WhatsAppService ignoring message from invalid sender", "from", in.From, "error", err)
			return
		}
		at := in.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		s.emit(s.message(phone, in.Body, at))
	})
	slog.Debug("WhatsAppService inbound handler registered")
	return nil
}

// Stop closes the Responses channel.
func (s *WhatsAppService) Stop() error {
	s.close()
	return nil
}

// SendMessage sends body to the recipient.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := canonicalPhone(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("WhatsAppService message sent", "to", canonicalTo)
	return nil
}

// Responses returns the inbound message channel.
func (s *WhatsAppService) Responses() <-chan models.InboundMessage {
	return s.responses
}
