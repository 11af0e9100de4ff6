package services

import (
	"context"

	"github.com/fundsafe/backend/internal/events"
	"github.com/fundsafe/backend/internal/models"
	"go.uber.org/zap"
)

// publishEscrowEvent announces a committed mutation. Publishing is best
// effort: the mutation is already durable when this runs.
func publishEscrowEvent(ctx context.Context, publisher events.Publisher, log *zap.Logger, e *models.Escrow, before string, actor models.Actor, actions []string) {
	if publisher == nil {
		return
	}
	eventType := events.EventEscrowAction
	if before != e.Status {
		eventType = events.EventEscrowStatusChanged
	}
	err := publisher.Publish(ctx, events.ChannelEscrow, events.Event{
		Type: eventType,
		Payload: map[string]any{
			"escrow_id":      e.EscrowID,
			"old_status":     before,
			"new_status":     e.Status,
			"dispute_status": e.DisputeStatus,
			"actions":        actions,
			"actor_id":       actor.ID,
			"recipients":     []string{e.SenderID, e.ReceiverID},
		},
	})
	if err != nil {
		log.Warn("escrow event not published",
			zap.String("escrow_id", e.EscrowID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

func logActions(logs []models.EscrowLog) []string {
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	return actions
}
