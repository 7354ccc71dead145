package main

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/OutreachPipe/internal/conversation"
	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// inboundHandler receives user activity.
type inboundHandler interface {
	OnUserMessage(msg models.InboundMessage) bool
}

// messageRecorder stores conversation turns.
type messageRecorder interface {
	Append(ctx context.Context, ref string, msg conversation.Message) error
}

// relayInbound feeds inbound messages to the engine and records them in the
// conversation history until responses closes or ctx ends.
func relayInbound(ctx context.Context, responses <-chan models.InboundMessage, engine inboundHandler, history messageRecorder) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-responses:
			if !ok {
				slog.Debug("Inbound channel closed")
				return
			}
			if err := msg.Validate(); err != nil {
				slog.Warn("Dropping invalid inbound message", "error", err)
				continue
			}
			replied := engine.OnUserMessage(msg)
			if err := history.Append(ctx, msg.ConversationRef, conversation.Message{
				Role:              conversation.RoleUser,
				Content:           msg.Body,
				Timestamp:         msg.ReceivedAt,
				RepliedToOutreach: replied,
			}); err != nil {
				slog.Warn("Failed to record inbound message", "user_id", msg.UserID, "error", err)
			}
			slog.Debug("Inbound message relayed", "user_id", msg.UserID, "replied_to_outreach", replied)
		}
	}
}
