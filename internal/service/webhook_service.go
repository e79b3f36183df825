package service

import (
	"context"

	"github.com/linkharbor/be-mp-orders/internal/errors"
	"github.com/linkharbor/be-mp-orders/internal/logger"
	"github.com/linkharbor/be-mp-orders/internal/metrics"
	"github.com/linkharbor/be-mp-orders/internal/repository"
)

// Webhook event types emitted by the processor.
const (
	EventInvoicePaid      = "invoice.paid"
	EventInvoiceCancelled = "invoice.cancelled"
	EventPayoutSucceeded  = "payout.succeeded"
	EventPayoutFailed     = "payout.failed"
)

// WebhookEvent is a signed notification from the payment processor. Delivery
// order and delivery count are both unreliable; every handler is idempotent
// and refuses to regress terminal states.
type WebhookEvent struct {
	EventType string          `json:"event_type"`
	Resource  WebhookResource `json:"resource"`
}

// WebhookResource carries the correlating identifiers for the event.
type WebhookResource struct {
	InvoiceID     string `json:"invoice_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	BatchID       string `json:"batch_id,omitempty"`
	ItemID        string `json:"item_id,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Webhook processing outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeNoop      = "noop"
	OutcomeIgnored   = "ignored"
)

// WebhookResult tells the handler what acknowledgement to send.
type WebhookResult struct {
	Outcome string `json:"outcome"`
}

// WebhookService reconciles asynchronous processor notifications with local
// order, payment and payout state. It is a stateless dispatcher keyed by
// event type; signature verification happens in the transport layer before
// events reach it.
type WebhookService struct {
	orders   OrderStore
	payments PaymentStore
	payouts  PayoutStore
	notifier Notifier
	log      *logger.Logger
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(orders OrderStore, payments PaymentStore, payouts PayoutStore, notifier Notifier, log *logger.Logger) *WebhookService {
	return &WebhookService{
		orders:   orders,
		payments: payments,
		payouts:  payouts,
		notifier: notifier,
		log:      log,
	}
}

// HandleEvent dispatches one webhook event. A NotFound error means no
// correlating local record exists yet; the handler maps it to 404 so the
// processor's retry policy re-delivers later.
func (s *WebhookService) HandleEvent(ctx context.Context, event *WebhookEvent) (*WebhookResult, error) {
	var (
		result *WebhookResult
		err    error
	)

	switch event.EventType {
	case EventInvoicePaid:
		result, err = s.handleInvoicePaid(ctx, event)
	case EventInvoiceCancelled:
		result, err = s.handleInvoiceCancelled(ctx, event)
	case EventPayoutSucceeded:
		result, err = s.handlePayoutSucceeded(ctx, event)
	case EventPayoutFailed:
		result, err = s.handlePayoutFailed(ctx, event)
	default:
		s.log.Debug().Str("event_type", event.EventType).Msg("Webhook event type not handled")
		result = &WebhookResult{Outcome: OutcomeIgnored}
	}

	outcome := "error"
	if err == nil {
		outcome = result.Outcome
	}
	metrics.WebhookEventsTotal.WithLabelValues(event.EventType, outcome).Inc()
	return result, err
}

// handleInvoicePaid settles the invoice and releases the publisher to start
// work: payment SENT→PAID, order payment_pending→in_progress, delivery step
// opens. Replays are no-ops; paid_at is stamped exactly once.
func (s *WebhookService) handleInvoicePaid(ctx context.Context, event *WebhookEvent) (*WebhookResult, error) {
	if event.Resource.InvoiceID == "" {
		return nil, errors.InvalidInput("resource.invoice_id", "missing invoice id")
	}

	payment, err := s.payments.GetByExternalInvoiceID(ctx, event.Resource.InvoiceID)
	if err != nil {
		return nil, err
	}
	if payment.InvoiceStatus == repository.InvoiceStatusPaid {
		return &WebhookResult{Outcome: OutcomeNoop}, nil
	}

	var txnID *string
	if event.Resource.TransactionID != "" {
		txnID = &event.Resource.TransactionID
	}
	advanced, err := s.payments.MarkPaid(ctx, payment.ID, txnID)
	if err != nil {
		return nil, err
	}
	if !advanced {
		// Lost a race with a duplicate delivery; the other one advanced it.
		return &WebhookResult{Outcome: OutcomeNoop}, nil
	}

	paymentStatus := repository.PaymentStatusPaid
	if err := s.advanceOrder(ctx, payment.OrderID, ActionInvoicePaid, &paymentStatus); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", payment.OrderID).
		Str("external_invoice_id", event.Resource.InvoiceID).
		Msg("Invoice paid, order in progress")

	order, err := s.orders.GetByID(ctx, payment.OrderID)
	if err == nil {
		s.notifier.PublishOrderEvent(ctx, "invoice_paid", order.ID, "",
			[]string{order.PublisherID, order.AdvertiserID}, nil)
	}

	return &WebhookResult{Outcome: OutcomeProcessed}, nil
}

// handleInvoiceCancelled terminates the invoice. The order reverts to
// pending so the publisher can accept again, which issues a fresh invoice;
// the cancelled payment no longer blocks issuance.
func (s *WebhookService) handleInvoiceCancelled(ctx context.Context, event *WebhookEvent) (*WebhookResult, error) {
	if event.Resource.InvoiceID == "" {
		return nil, errors.InvalidInput("resource.invoice_id", "missing invoice id")
	}

	payment, err := s.payments.GetByExternalInvoiceID(ctx, event.Resource.InvoiceID)
	if err != nil {
		return nil, err
	}
	if payment.InvoiceStatus == repository.InvoiceStatusCancelled {
		return &WebhookResult{Outcome: OutcomeNoop}, nil
	}

	cancelled, err := s.payments.MarkCancelled(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		// Already PAID: cancellation after settlement is not applied.
		return &WebhookResult{Outcome: OutcomeNoop}, nil
	}

	paymentStatus := repository.PaymentStatusUnpaid
	if err := s.advanceOrder(ctx, payment.OrderID, ActionInvoiceCancelled, &paymentStatus); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", payment.OrderID).
		Str("external_invoice_id", event.Resource.InvoiceID).
		Msg("Invoice cancelled, order back to pending")

	return &WebhookResult{Outcome: OutcomeProcessed}, nil
}

// handlePayoutSucceeded finishes the order: payout → SUCCESS, order
// payment_processing → paid. A payout already terminal is never regressed.
func (s *WebhookService) handlePayoutSucceeded(ctx context.Context, event *WebhookEvent) (*WebhookResult, error) {
	payout, err := s.payouts.GetByExternalItemID(ctx, event.Resource.ItemID, event.Resource.BatchID)
	if err != nil {
		return nil, err
	}
	if payout.PayoutStatus == repository.PayoutStatusSuccess {
		return &WebhookResult{Outcome: OutcomeNoop}, nil
	}

	advanced, err := s.payouts.MarkSucceeded(ctx, payout.ID)
	if err != nil {
		return nil, err
	}
	if !advanced {
		s.log.Warn().
			Str("payout_id", payout.ID).
			Str("payout_status", payout.PayoutStatus).
			Msg("Payout success event for a terminal payout; not applied")
		return &WebhookResult{Outcome: OutcomeNoop}, nil
	}

	payment, err := s.payments.GetByID(ctx, payout.PaymentID)
	if err != nil {
		return nil, err
	}

	paymentStatus := repository.PaymentStatusReleased
	if err := s.advanceOrder(ctx, payment.OrderID, ActionPayoutSucceeded, &paymentStatus); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", payment.OrderID).
		Str("payout_id", payout.ID).
		Str("amount", payout.Amount.String()).
		Msg("Payout succeeded, order paid")

	s.notifier.PublishOrderEvent(ctx, "payout_succeeded", payment.OrderID, "",
		[]string{payout.PublisherID}, map[string]any{"amount": payout.Amount.String()})

	return &WebhookResult{Outcome: OutcomeProcessed}, nil
}

// handlePayoutFailed records the failure and reverts the order to completed
// so the advertiser can trigger a retry through RequestPayout. The failed
// payout row stays as history and is flagged for operator attention.
func (s *WebhookService) handlePayoutFailed(ctx context.Context, event *WebhookEvent) (*WebhookResult, error) {
	payout, err := s.payouts.GetByExternalItemID(ctx, event.Resource.ItemID, event.Resource.BatchID)
	if err != nil {
		return nil, err
	}
	if payout.PayoutStatus == repository.PayoutStatusFailed {
		return &WebhookResult{Outcome: OutcomeNoop}, nil
	}

	var reason *string
	if event.Resource.FailureReason != "" {
		reason = &event.Resource.FailureReason
	}
	advanced, err := s.payouts.MarkFailed(ctx, payout.ID, reason)
	if err != nil {
		return nil, err
	}
	if !advanced {
		// SUCCESS is terminal; an out-of-order failure event never regresses it.
		s.log.Warn().
			Str("payout_id", payout.ID).
			Str("payout_status", payout.PayoutStatus).
			Msg("Payout failure event for a terminal payout; not applied")
		return &WebhookResult{Outcome: OutcomeNoop}, nil
	}

	metrics.PayoutFailuresTotal.Inc()

	payment, err := s.payments.GetByID(ctx, payout.PaymentID)
	if err != nil {
		return nil, err
	}

	paymentStatus := repository.PaymentStatusPaid
	if err := s.advanceOrder(ctx, payment.OrderID, ActionPayoutFailed, &paymentStatus); err != nil {
		return nil, err
	}

	s.log.Error().
		Str("order_id", payment.OrderID).
		Str("payout_id", payout.ID).
		Str("failure_reason", event.Resource.FailureReason).
		Msg("Payout failed; operator attention required")

	order, err := s.orders.GetByID(ctx, payment.OrderID)
	if err == nil {
		s.notifier.PublishOrderEvent(ctx, "payout_failed", order.ID, "",
			[]string{order.AdvertiserID, order.PublisherID},
			map[string]any{"failure_reason": event.Resource.FailureReason})
	}

	return &WebhookResult{Outcome: OutcomeProcessed}, nil
}

// advanceOrder applies a webhook-driven order transition. A conflict means
// the order already advanced through another path (duplicate delivery, or a
// human action raced the webhook); that is the idempotent success case, not
// a failure.
func (s *WebhookService) advanceOrder(ctx context.Context, orderID string, action Action, paymentStatus *string) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	toStatus, err := Resolve(action, order.Status)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeConflict) {
			s.log.Debug().
				Str("order_id", orderID).
				Str("action", string(action)).
				Str("status", order.Status).
				Msg("Order already advanced; webhook transition skipped")
			return nil
		}
		return err
	}

	err = s.orders.Transition(ctx, &repository.OrderTransition{
		OrderID:          order.ID,
		FromStatus:       order.Status,
		ToStatus:         toStatus,
		SetPaymentStatus: paymentStatus,
		Steps:            stepChangesFor(toStatus, nil),
	})
	if err != nil && errors.IsCode(err, errors.ErrCodeConflict) {
		// Lost the conditional-update race to a concurrent transition.
		return nil
	}
	observeTransition(action, err)
	return err
}
