package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fundsafe/backend/internal/events"
	"go.uber.org/zap"
)

// Notification templates
const (
	TemplateTacCode        = "tac_code"
	TemplateEscrowUpdate   = "escrow_update"
	TemplateDisputeOpened  = "dispute_opened"
	TemplateComplianceHold = "compliance_hold"
)

// EventNotifier queues notifications on the notify channel; cmd/notify-bridge
// forwards them to the delivery service.
type EventNotifier struct {
	publisher events.Publisher
	log       *zap.Logger
}

func NewEventNotifier(publisher events.Publisher, log *zap.Logger) *EventNotifier {
	return &EventNotifier{publisher: publisher, log: log}
}

func (n *EventNotifier) Send(ctx context.Context, to, template string, data map[string]any) bool {
	err := n.publisher.Publish(ctx, events.ChannelNotify, events.Event{
		Type: events.EventNotification,
		Payload: map[string]any{
			"to":       to,
			"template": template,
			"context":  data,
		},
	})
	if err != nil {
		n.log.Warn("notification not queued",
			zap.String("to", to),
			zap.String("template", template),
			zap.Error(err),
		)
		return false
	}
	return true
}

// DeliveryClient posts notifications to the email/SMS delivery service.
type DeliveryClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewDeliveryClient(baseURL string, log *zap.Logger) *DeliveryClient {
	return &DeliveryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// Deliver forwards a notification event. Events without a recipient are skipped.
func (c *DeliveryClient) Deliver(ctx context.Context, event events.Event) error {
	to, _ := event.Payload["to"].(string)
	if to == "" {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"to":       to,
		"template": event.Payload["template"],
		"context":  event.Payload["context"],
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivery service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delivery service returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
