package service

import (
	"context"

	"github.com/linkharbor/be-mp-orders/internal/repository"
)

// OrderStore is the slice of the order repository the services depend on.
type OrderStore interface {
	Create(ctx context.Context, order *repository.Order) error
	GetByID(ctx context.Context, id string) (*repository.Order, error)
	List(ctx context.Context, advertiserID, publisherID, status *string, limit, offset int) ([]*repository.Order, int64, error)
	Transition(ctx context.Context, t *repository.OrderTransition) error
}

// PaymentStore is the slice of the payment repository the services depend on.
type PaymentStore interface {
	Create(ctx context.Context, p *repository.Payment) error
	GetByID(ctx context.Context, id string) (*repository.Payment, error)
	GetActiveByOrderID(ctx context.Context, orderID string) (*repository.Payment, error)
	GetByExternalInvoiceID(ctx context.Context, externalInvoiceID string) (*repository.Payment, error)
	MarkPaid(ctx context.Context, id string, transactionID *string) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
}

// PayoutStore is the slice of the payout repository the services depend on.
type PayoutStore interface {
	Create(ctx context.Context, p *repository.Payout) error
	GetLiveByPaymentID(ctx context.Context, paymentID string) (*repository.Payout, error)
	GetByExternalItemID(ctx context.Context, itemID, batchID string) (*repository.Payout, error)
	MarkProcessing(ctx context.Context, id string, batchID, itemID *string) (bool, error)
	MarkSucceeded(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id string, reason *string) (bool, error)
}

// Notifier publishes order lifecycle events. Implementations must be
// non-fatal: a notification failure never fails the triggering operation.
type Notifier interface {
	PublishOrderEvent(ctx context.Context, eventType, orderID, actorID string, recipients []string, payload map[string]any)
}
