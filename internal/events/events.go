package events

import "context"

// Channels
const (
	ChannelEscrow = "events:escrow"
	ChannelNotify = "events:notify"
)

// Event types
const (
	EventEscrowStatusChanged     = "escrow_status_changed"
	EventEscrowAction            = "escrow_action"
	EventComplianceStatusChanged = "compliance_status_changed"
	EventNotification            = "notification"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Recipients returns the user ids named in the payload's "recipients" field.
// Events decoded from JSON carry []any, events built in-process carry []string.
func (e Event) Recipients() []string {
	switch v := e.Payload["recipients"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
