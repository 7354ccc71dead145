package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/whatsapp"
)

// Ensure WhatsAppService implements Service interface
func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
}

func TestWhatsAppService_SendMessageCanonicalizes(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	sent := mockClient.Messages()
	if len(sent) != 1 || sent[0].To != "15551234567" {
		t.Fatalf("unexpected sent messages: %+v", sent)
	}
	if err := svc.SendMessage(context.Background(), "12", "hello"); err == nil {
		t.Error("expected short recipient to be rejected")
	}
}

func TestWhatsAppService_InboundMessage(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	mockClient.Deliver(whatsapp.IncomingText{From: "15551234567", Body: "morning!", Timestamp: at})

	select {
	case msg := <-svc.Responses():
		if msg.UserID != "15551234567" || msg.ConversationRef != "whatsapp:15551234567" || msg.OriginRef != "15551234567" {
			t.Errorf("unexpected routing: %+v", msg)
		}
		if msg.Body != "morning!" || !msg.ReceivedAt.Equal(at) {
			t.Errorf("unexpected content: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected inbound message")
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "15551234567", "late"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	mockClient.Deliver(whatsapp.IncomingText{From: "15551234567", Body: "after stop"})
}
