package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes order lifecycle events to NATS for the
// platform notifications service.
//
// Subject convention: notifications.mp.<event_type>
// Event types: order_accepted, order_rejected, invoice_paid, work_submitted,
//              revision_requested, order_approved, payout_initiated,
//              payout_succeeded, payout_failed, order_disputed
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt order processing.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType  string         `json:"event_type"`
	ActorID    string         `json:"actor_id,omitempty"`
	Recipients []string       `json:"recipients"`
	ResourceID string         `json:"resource_id"`
	Severity   string         `json:"severity,omitempty"`
	Category   string         `json:"category,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// PublishOrderEvent publishes an order lifecycle event.
// Subject: notifications.mp.<eventType>
func (p *NotificationPublisher) PublishOrderEvent(ctx context.Context, eventType, orderID, actorID string, recipients []string, payload map[string]any) {
	if p.conn == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:  eventType,
		ActorID:    actorID,
		Recipients: recipients,
		ResourceID: orderID,
		Severity:   "info",
		Category:   "order_fulfillment",
		Payload:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.mp.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("order_id", orderID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("order_id", orderID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
