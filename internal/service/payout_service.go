package service

import (
	"context"
	"fmt"

	"github.com/linkharbor/be-mp-orders/internal/auth"
	"github.com/linkharbor/be-mp-orders/internal/client"
	"github.com/linkharbor/be-mp-orders/internal/errors"
	"github.com/linkharbor/be-mp-orders/internal/logger"
	"github.com/linkharbor/be-mp-orders/internal/metrics"
	"github.com/linkharbor/be-mp-orders/internal/repository"
)

// PayoutService releases funds to the publisher after the advertiser approves
// delivered work. Unlike invoice issuance, the payout row is written in
// PENDING before the external call: money movement carries higher audit
// requirements, and a failed call must be recorded and attributable even when
// the processor never returned a usable identifier.
type PayoutService struct {
	orders    OrderStore
	payments  PaymentStore
	payouts   PayoutStore
	payoutAPI client.PayoutClientInterface
	profiles  client.ProfilesClientInterface
	notifier  Notifier
	log       *logger.Logger
}

// NewPayoutService creates a new payout service.
func NewPayoutService(
	orders OrderStore,
	payments PaymentStore,
	payouts PayoutStore,
	payoutAPI client.PayoutClientInterface,
	profiles client.ProfilesClientInterface,
	notifier Notifier,
	log *logger.Logger,
) *PayoutService {
	return &PayoutService{
		orders:    orders,
		payments:  payments,
		payouts:   payouts,
		payoutAPI: payoutAPI,
		profiles:  profiles,
		notifier:  notifier,
		log:       log,
	}
}

// RequestPayout initiates the disbursement for a completed, paid order. On
// external success the order moves to payment_processing; on external failure
// the payout row is marked FAILED with the reason and the order stays
// completed so the action can be retried.
func (s *PayoutService) RequestPayout(ctx context.Context, principal auth.Principal, orderID string) (*repository.Payout, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(principal, order, ActionRequestPayout); err != nil {
		return nil, err
	}
	toStatus, err := Resolve(ActionRequestPayout, order.Status)
	if err != nil {
		observeTransition(ActionRequestPayout, err)
		return nil, err
	}

	payment, err := s.payments.GetActiveByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, errors.Conflict(fmt.Sprintf("order %s has no invoice", order.ID))
	}
	if payment.InvoiceStatus != repository.InvoiceStatusPaid {
		return nil, errors.Conflict(fmt.Sprintf(
			"invoice %s is %s, not PAID; payout requires a settled invoice",
			payment.InvoiceNumber, payment.InvoiceStatus))
	}

	existing, err := s.payouts.GetLiveByPaymentID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.Conflict(fmt.Sprintf(
			"a payout already exists for order %s (status %s)", order.ID, existing.PayoutStatus))
	}

	destination, err := s.profiles.GetPayoutEmail(ctx, order.PublisherID)
	if err != nil {
		return nil, errors.External(err, "failed to resolve publisher payout address")
	}
	if destination == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"publisher has no payout address configured; the publisher must set one before funds can be released")
	}

	payout := &repository.Payout{
		PaymentID:        payment.ID,
		PublisherID:      order.PublisherID,
		Amount:           payment.PublisherAmount,
		DestinationEmail: destination,
		PayoutStatus:     repository.PayoutStatusPending,
	}
	if err := s.payouts.Create(ctx, payout); err != nil {
		return nil, err
	}

	result, err := s.payoutAPI.CreatePayout(ctx, destination,
		payout.Amount.String(), order.Currency, payment.InvoiceNumber)
	if err != nil {
		reason := err.Error()
		if _, markErr := s.payouts.MarkFailed(ctx, payout.ID, &reason); markErr != nil {
			s.log.Error().Err(markErr).
				Str("payout_id", payout.ID).
				Msg("Failed to record payout failure")
		}
		observeTransition(ActionRequestPayout, err)
		return nil, errors.External(err, "payout submission failed; order unchanged, please retry")
	}

	// From here on money has moved: any local failure leaves an external
	// payout without committed local state and goes to an operator, never to
	// a blind retry.
	var itemID *string
	if result.ItemID != "" {
		itemID = &result.ItemID
	}
	advanced, err := s.payouts.MarkProcessing(ctx, payout.ID, &result.BatchID, itemID)
	if err != nil {
		s.reportReconciliation(order.ID, payout.ID, result.BatchID, err)
		return nil, errors.Reconciliation(err, "payout submitted but local record update failed")
	}
	if !advanced {
		return nil, errors.Conflict(fmt.Sprintf(
			"payout %s is no longer pending; it was changed concurrently", payout.ID))
	}

	err = s.orders.Transition(ctx, &repository.OrderTransition{
		OrderID:    order.ID,
		FromStatus: order.Status,
		ToStatus:   toStatus,
		Steps:      stepChangesFor(toStatus, nil),
	})
	observeTransition(ActionRequestPayout, err)
	if err != nil {
		s.reportReconciliation(order.ID, payout.ID, result.BatchID, err)
		return nil, errors.Reconciliation(err, "payout submitted but order transition failed")
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("payout_id", payout.ID).
		Str("external_batch_id", result.BatchID).
		Str("amount", payout.Amount.String()).
		Str("destination", destination).
		Msg("Payout initiated")

	s.notifier.PublishOrderEvent(ctx, "payout_initiated", order.ID, principal.UserID,
		[]string{order.PublisherID}, map[string]any{"amount": payout.Amount.String()})

	return s.payouts.GetLiveByPaymentID(ctx, payment.ID)
}

// reportReconciliation logs a submitted-payout-without-committed-local-state
// condition at the highest severity for manual operator intervention. The
// settlement webhook can still finish the order once the processor reports
// the outcome.
func (s *PayoutService) reportReconciliation(orderID, payoutID, externalBatchID string, err error) {
	metrics.ReconciliationErrorsTotal.Inc()
	s.log.Error().Err(err).
		Str("order_id", orderID).
		Str("payout_id", payoutID).
		Str("external_batch_id", externalBatchID).
		Msg("RECONCILIATION REQUIRED: external payout exists without committed local state")
}
