package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/linkharbor/be-mp-orders/internal/auth"
	"github.com/linkharbor/be-mp-orders/internal/client"
	"github.com/linkharbor/be-mp-orders/internal/errors"
	"github.com/linkharbor/be-mp-orders/internal/logger"
	"github.com/linkharbor/be-mp-orders/internal/metrics"
	"github.com/linkharbor/be-mp-orders/internal/money"
	"github.com/linkharbor/be-mp-orders/internal/repository"
)

// InvoiceService implements publisher acceptance: it issues the external
// invoice to the advertiser and, only on external success, persists the
// payment record and advances the order. The external call happens before any
// local write, so a processor failure leaves the order pending and the accept
// safely retryable — there is never a local payment without a real invoice
// behind it.
type InvoiceService struct {
	orders    OrderStore
	payments  PaymentStore
	invoicing client.InvoicingClientInterface
	profiles  client.ProfilesClientInterface
	notifier  Notifier
	log       *logger.Logger
	feeRate   decimal.Decimal
}

// NewInvoiceService creates a new invoice service.
func NewInvoiceService(
	orders OrderStore,
	payments PaymentStore,
	invoicing client.InvoicingClientInterface,
	profiles client.ProfilesClientInterface,
	notifier Notifier,
	log *logger.Logger,
	feeRate decimal.Decimal,
) *InvoiceService {
	return &InvoiceService{
		orders:    orders,
		payments:  payments,
		invoicing: invoicing,
		profiles:  profiles,
		notifier:  notifier,
		log:       log,
		feeRate:   feeRate,
	}
}

// AcceptResult is the outcome of a successful acceptance. Warning is set when
// the invoice exists but the processor could not deliver the notification
// email; the invoice is still payable by direct link.
type AcceptResult struct {
	Order   *repository.Order
	Payment *repository.Payment
	Warning bool
}

// AcceptOrder runs the acceptance flow for the publisher who owns the
// order's website: verify preconditions, issue and send the external
// invoice, then persist the payment and move the order to payment_pending in
// one transition.
func (s *InvoiceService) AcceptOrder(ctx context.Context, principal auth.Principal, orderID string) (*AcceptResult, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(principal, order, ActionAccept); err != nil {
		return nil, err
	}
	toStatus, err := Resolve(ActionAccept, order.Status)
	if err != nil {
		observeTransition(ActionAccept, err)
		return nil, err
	}

	existing, err := s.payments.GetActiveByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.Conflict(fmt.Sprintf(
			"an active invoice (%s) already exists for order %s", existing.InvoiceNumber, order.ID))
	}

	buyer, err := s.profiles.GetBillingContact(ctx, order.AdvertiserID)
	if err != nil {
		return nil, errors.External(err, "failed to resolve buyer contact")
	}

	split, err := money.SplitFee(order.TotalAmount, s.feeRate)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to compute fee split")
	}

	invoiceNumber := newInvoiceNumber()

	result, err := s.invoicing.CreateInvoice(ctx, *buyer, split.Total.String(), order.Currency, invoiceNumber)
	if err != nil {
		observeTransition(ActionAccept, err)
		return nil, errors.External(err, "failed to create invoice; order unchanged, please retry")
	}

	warning, err := s.invoicing.SendInvoice(ctx, result.InvoiceID)
	if err != nil {
		// The invoice exists at the processor; failing the whole accept now
		// would orphan it. The invoice is reachable by direct link, so this
		// degrades to a warning.
		s.log.Warn().Err(err).
			Str("order_id", order.ID).
			Str("external_invoice_id", result.InvoiceID).
			Msg("Invoice created but send failed; proceeding with warning")
		warning = true
	}

	payment := &repository.Payment{
		OrderID:           order.ID,
		ExternalInvoiceID: result.InvoiceID,
		InvoiceNumber:     invoiceNumber,
		InvoiceStatus:     repository.InvoiceStatusSent,
		InvoiceURL:        &result.InvoiceURL,
		TotalAmount:       split.Total,
		PlatformFee:       split.PlatformFee,
		PublisherAmount:   split.PublisherAmount,
		InvoiceSentAt:     time.Now().UTC(),
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		// The external invoice now exists with no local record. Retrying
		// would double-invoice the buyer, so this is handed to an operator.
		s.reportReconciliation(order.ID, result.InvoiceID, err)
		return nil, errors.Reconciliation(err, "invoice issued but local persist failed")
	}

	paymentStatus := repository.PaymentStatusInvoiced
	err = s.orders.Transition(ctx, &repository.OrderTransition{
		OrderID:          order.ID,
		FromStatus:       order.Status,
		ToStatus:         toStatus,
		SetPaymentStatus: &paymentStatus,
		Steps:            stepChangesFor(toStatus, nil),
	})
	observeTransition(ActionAccept, err)
	if err != nil {
		s.reportReconciliation(order.ID, result.InvoiceID, err)
		return nil, errors.Reconciliation(err, "invoice issued but order transition failed")
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("invoice_number", invoiceNumber).
		Str("external_invoice_id", result.InvoiceID).
		Str("total_amount", split.Total.String()).
		Str("platform_fee", split.PlatformFee.String()).
		Str("publisher_amount", split.PublisherAmount.String()).
		Bool("send_warning", warning).
		Msg("Order accepted, invoice issued")

	s.notifier.PublishOrderEvent(ctx, "order_accepted", order.ID, principal.UserID,
		[]string{order.AdvertiserID}, map[string]any{
			"invoice_number": invoiceNumber,
			"invoice_url":    result.InvoiceURL,
		})

	updated, err := s.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &AcceptResult{Order: updated, Payment: payment, Warning: warning}, nil
}

// reportReconciliation logs an external-resource-without-local-record
// condition at the highest severity for manual operator intervention. No
// automated retry is safe here.
func (s *InvoiceService) reportReconciliation(orderID, externalInvoiceID string, err error) {
	metrics.ReconciliationErrorsTotal.Inc()
	s.log.Error().Err(err).
		Str("order_id", orderID).
		Str("external_invoice_id", externalInvoiceID).
		Msg("RECONCILIATION REQUIRED: external invoice exists without committed local state")
}

// newInvoiceNumber generates a bounded-length, collision-resistant invoice
// number, e.g. INV-20260830-9F2C41AB.
func newInvoiceNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}
