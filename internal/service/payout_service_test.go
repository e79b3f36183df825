package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/linkharbor/be-mp-orders/internal/client"
	"github.com/linkharbor/be-mp-orders/internal/errors"
	"github.com/linkharbor/be-mp-orders/internal/logger"
	"github.com/linkharbor/be-mp-orders/internal/repository"
)

type payoutFixture struct {
	orders    *fakeOrderStore
	payments  *fakePaymentStore
	payouts   *fakePayoutStore
	payoutAPI *fakePayoutAPI
	profiles  *fakeProfiles
	notifier  *fakeNotifier
	svc       *PayoutService
}

func newPayoutFixture() *payoutFixture {
	f := &payoutFixture{
		orders:   newFakeOrderStore(),
		payments: newFakePaymentStore(),
		payouts:  newFakePayoutStore(),
		payoutAPI: &fakePayoutAPI{
			result: client.PayoutResult{BatchID: "batch-1", ItemID: "item-1", Status: "PENDING"},
		},
		profiles: &fakeProfiles{payoutEmail: "publisher@example.com"},
		notifier: &fakeNotifier{},
	}
	f.svc = NewPayoutService(f.orders, f.payments, f.payouts, f.payoutAPI,
		f.profiles, f.notifier, logger.Nop())
	return f
}

// completedOrder seeds a completed order with a settled invoice.
func (f *payoutFixture) completedOrder() (*repository.Order, *repository.Payment) {
	order := f.orders.add(testOrder(repository.OrderStatusCompleted))
	order.PaymentStatus = repository.PaymentStatusPaid
	payment := f.payments.add(&repository.Payment{
		OrderID:           order.ID,
		ExternalInvoiceID: "ext-inv-1",
		InvoiceNumber:     "INV-1",
		InvoiceStatus:     repository.InvoiceStatusPaid,
		TotalAmount:       decimal.RequireFromString("157.50"),
		PlatformFee:       decimal.RequireFromString("23.63"),
		PublisherAmount:   decimal.RequireFromString("133.87"),
	})
	return order, payment
}

func TestRequestPayout(t *testing.T) {
	f := newPayoutFixture()
	order, payment := f.completedOrder()

	payout, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if err != nil {
		t.Fatalf("RequestPayout() error = %v", err)
	}

	if payout.PayoutStatus != repository.PayoutStatusProcessing {
		t.Errorf("payout status = %s, want PROCESSING", payout.PayoutStatus)
	}
	if payout.PaymentID != payment.ID {
		t.Errorf("payout payment id = %s, want %s", payout.PaymentID, payment.ID)
	}
	if got := payout.Amount.StringFixed(2); got != "133.87" {
		t.Errorf("payout amount = %s, want publisher share 133.87", got)
	}
	if payout.ExternalBatchID == nil || *payout.ExternalBatchID != "batch-1" {
		t.Errorf("external batch id = %v", payout.ExternalBatchID)
	}

	got, _ := f.orders.GetByID(context.Background(), order.ID)
	if got.Status != repository.OrderStatusPaymentProcessing {
		t.Errorf("order status = %s, want payment_processing", got.Status)
	}
}

func TestRequestPayoutOnlyByAdvertiser(t *testing.T) {
	f := newPayoutFixture()
	order, _ := f.completedOrder()

	_, err := f.svc.RequestPayout(context.Background(), publisherPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Errorf("error = %v, want forbidden", err)
	}
	if f.payoutAPI.calls != 0 {
		t.Error("payout was submitted for a forbidden request")
	}
}

func TestRequestPayoutNotCompleted(t *testing.T) {
	f := newPayoutFixture()
	order := f.orders.add(testOrder(repository.OrderStatusReview))

	_, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Errorf("error = %v, want conflict", err)
	}
}

func TestRequestPayoutUnsettledInvoice(t *testing.T) {
	f := newPayoutFixture()
	order := f.orders.add(testOrder(repository.OrderStatusCompleted))
	f.payments.add(&repository.Payment{
		OrderID:           order.ID,
		ExternalInvoiceID: "ext-inv-1",
		InvoiceNumber:     "INV-1",
		InvoiceStatus:     repository.InvoiceStatusSent,
		PublisherAmount:   decimal.RequireFromString("133.87"),
	})

	_, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Errorf("error = %v, want conflict", err)
	}
	if len(f.payouts.payouts) != 0 {
		t.Error("payout row was created for an unsettled invoice")
	}
}

func TestRequestPayoutNoInvoice(t *testing.T) {
	f := newPayoutFixture()
	order := f.orders.add(testOrder(repository.OrderStatusCompleted))

	_, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Errorf("error = %v, want conflict", err)
	}
}

func TestRequestPayoutDuplicateConflicts(t *testing.T) {
	f := newPayoutFixture()
	order, payment := f.completedOrder()
	f.payouts.add(&repository.Payout{
		PaymentID:    payment.ID,
		PublisherID:  order.PublisherID,
		PayoutStatus: repository.PayoutStatusProcessing,
	})

	_, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Errorf("error = %v, want conflict", err)
	}
	if f.payoutAPI.calls != 0 {
		t.Error("a second payout was submitted")
	}
}

func TestRequestPayoutNoDestinationConfigured(t *testing.T) {
	f := newPayoutFixture()
	order, _ := f.completedOrder()
	f.profiles.payoutEmail = ""

	_, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("error = %v, want invalid_input", err)
	}
	if len(f.payouts.payouts) != 0 {
		t.Error("payout row was created without a destination")
	}
}

func TestRequestPayoutExternalFailureRecordsFailedAttempt(t *testing.T) {
	f := newPayoutFixture()
	order, payment := f.completedOrder()
	f.payoutAPI.err = fmt.Errorf("processor rejected the batch")

	_, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeExternal) {
		t.Errorf("error = %v, want external", err)
	}

	// Order unchanged, retryable.
	got, _ := f.orders.GetByID(context.Background(), order.ID)
	if got.Status != repository.OrderStatusCompleted {
		t.Errorf("order status = %s, want completed", got.Status)
	}

	// The attempt is recorded as FAILED with the reason, for the audit trail.
	if len(f.payouts.payouts) != 1 {
		t.Fatalf("got %d payout rows, want 1", len(f.payouts.payouts))
	}
	for _, p := range f.payouts.payouts {
		if p.PayoutStatus != repository.PayoutStatusFailed {
			t.Errorf("payout status = %s, want FAILED", p.PayoutStatus)
		}
		if p.FailureReason == nil || *p.FailureReason == "" {
			t.Error("failure reason not recorded")
		}
	}

	live, _ := f.payouts.GetLiveByPaymentID(context.Background(), payment.ID)
	if live != nil {
		t.Error("failed payout still counts as live")
	}
}

// A local failure after the processor accepted the payout is
// reconciliation-class: the submitted payout row must survive, and the
// settlement webhook must still be able to finish the order from completed.
func TestRequestPayoutTransitionFailureThenWebhookSettles(t *testing.T) {
	f := newPayoutFixture()
	order, payment := f.completedOrder()
	f.orders.transErr = fmt.Errorf("db connection reset")

	_, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeReconciliation) {
		t.Fatalf("error = %v, want reconciliation", err)
	}

	// The submitted payout is recorded as PROCESSING, not failed.
	live, _ := f.payouts.GetLiveByPaymentID(context.Background(), payment.ID)
	if live == nil || live.PayoutStatus != repository.PayoutStatusProcessing {
		t.Fatalf("live payout = %+v, want PROCESSING", live)
	}

	// A blind retry is rejected; money already moved.
	f.orders.transErr = nil
	_, err = f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Fatalf("retry error = %v, want conflict", err)
	}

	// The processor's settlement notification resolves the stranded order.
	webhooks := NewWebhookService(f.orders, f.payments, f.payouts, f.notifier, logger.Nop())
	result, err := webhooks.HandleEvent(context.Background(), &WebhookEvent{
		EventType: EventPayoutSucceeded,
		Resource:  WebhookResource{BatchID: "batch-1", ItemID: "item-1"},
	})
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if result.Outcome != OutcomeProcessed {
		t.Errorf("outcome = %s, want processed", result.Outcome)
	}

	got, _ := f.orders.GetByID(context.Background(), order.ID)
	if got.Status != repository.OrderStatusPaid {
		t.Errorf("order status = %s, want paid", got.Status)
	}
	if got.PaymentStatus != repository.PaymentStatusReleased {
		t.Errorf("payment status = %s, want released", got.PaymentStatus)
	}
	settled, _ := f.payouts.GetLiveByPaymentID(context.Background(), payment.ID)
	if settled.PayoutStatus != repository.PayoutStatusSuccess {
		t.Errorf("payout status = %s, want SUCCESS", settled.PayoutStatus)
	}
}

func TestRequestPayoutMarkProcessingFailureIsReconciliation(t *testing.T) {
	f := newPayoutFixture()
	order, _ := f.completedOrder()
	f.payouts.processingErr = fmt.Errorf("db connection reset")

	_, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeReconciliation) {
		t.Errorf("error = %v, want reconciliation", err)
	}

	// Order untouched; the operator resolves from the payout row.
	got, _ := f.orders.GetByID(context.Background(), order.ID)
	if got.Status != repository.OrderStatusCompleted {
		t.Errorf("order status = %s, want completed", got.Status)
	}
}

func TestRequestPayoutConcurrentPayoutChangeConflicts(t *testing.T) {
	f := newPayoutFixture()
	order, _ := f.completedOrder()
	f.payouts.processingDenied = true

	_, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Errorf("error = %v, want conflict", err)
	}

	got, _ := f.orders.GetByID(context.Background(), order.ID)
	if got.Status != repository.OrderStatusCompleted {
		t.Errorf("order status = %s, want completed (no transition on a lost race)", got.Status)
	}
}

func TestRequestPayoutRetryAfterFailure(t *testing.T) {
	f := newPayoutFixture()
	order, payment := f.completedOrder()

	// Previous attempt failed; it is history, not a blocker.
	reason := "insufficient funds"
	f.payouts.add(&repository.Payout{
		PaymentID:     payment.ID,
		PublisherID:   order.PublisherID,
		PayoutStatus:  repository.PayoutStatusFailed,
		FailureReason: &reason,
	})

	payout, err := f.svc.RequestPayout(context.Background(), advertiserPrincipal, order.ID)
	if err != nil {
		t.Fatalf("RequestPayout() retry error = %v", err)
	}
	if payout.PayoutStatus != repository.PayoutStatusProcessing {
		t.Errorf("retry payout status = %s, want PROCESSING", payout.PayoutStatus)
	}
	if len(f.payouts.payouts) != 2 {
		t.Errorf("got %d payout rows, want 2 (history + retry)", len(f.payouts.payouts))
	}
}
