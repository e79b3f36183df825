package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/linkharbor/be-mp-orders/internal/database"
	"github.com/linkharbor/be-mp-orders/internal/errors"
)

// PaymentRepository handles external-invoice records. A payment row is only
// created after the external invoice exists, and its terminal states are only
// ever written by the webhook reconciler.
type PaymentRepository struct {
	db *database.DB
}

// NewPaymentRepository creates a new payment repository.
func NewPaymentRepository(db *database.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, order_id, external_invoice_id, invoice_number, invoice_status,
	invoice_url, total_amount, platform_fee, publisher_amount,
	invoice_sent_at, paid_at, external_transaction_id,
	created_at, updated_at
`

// Create persists a payment record for an already-issued external invoice.
// The partial unique index on order_id (excluding CANCELLED rows) backs the
// at-most-one-active-payment invariant.
func (r *PaymentRepository) Create(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (order_id, external_invoice_id, invoice_number,
		                      invoice_status, invoice_url,
		                      total_amount, platform_fee, publisher_amount,
		                      invoice_sent_at)
		VALUES ($1, $2, $3, $4::invoice_status, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		p.OrderID,
		p.ExternalInvoiceID,
		p.InvoiceNumber,
		p.InvoiceStatus,
		p.InvoiceURL,
		p.TotalAmount,
		p.PlatformFee,
		p.PublisherAmount,
		p.InvoiceSentAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create payment")
	}
	return nil
}

// GetByID retrieves a payment by its primary key.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1
	`

	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("payment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get payment")
	}
	return p, nil
}

// GetActiveByOrderID returns the non-cancelled payment for an order, or nil
// when none exists. Cancelled invoices do not block a new issuance.
func (r *PaymentRepository) GetActiveByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1
		  AND invoice_status <> 'CANCELLED'::invoice_status
		ORDER BY created_at DESC
		LIMIT 1
	`

	p, err := scanPayment(r.db.QueryRow(ctx, query, orderID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get payment by order")
	}
	return p, nil
}

// GetByExternalInvoiceID locates a payment by the processor's invoice id.
func (r *PaymentRepository) GetByExternalInvoiceID(ctx context.Context, externalInvoiceID string) (*Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE external_invoice_id = $1
	`

	p, err := scanPayment(r.db.QueryRow(ctx, query, externalInvoiceID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("payment", externalInvoiceID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get payment by external invoice id")
	}
	return p, nil
}

// MarkPaid conditionally advances a SENT payment to PAID and stamps paid_at
// and the processor's transaction id. Returns false when the payment was not
// in SENT — the idempotent-replay case the caller resolves by re-reading.
func (r *PaymentRepository) MarkPaid(ctx context.Context, id string, transactionID *string) (bool, error) {
	query := `
		UPDATE payments
		SET invoice_status          = 'PAID'::invoice_status,
		    paid_at                 = NOW(),
		    external_transaction_id = $2,
		    updated_at              = NOW()
		WHERE id = $1
		  AND invoice_status = 'SENT'::invoice_status
	`

	tag, err := r.db.Exec(ctx, query, id, transactionID)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to mark payment paid")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCancelled conditionally moves a SENT payment to CANCELLED. Paid
// invoices are never cancelled retroactively.
func (r *PaymentRepository) MarkCancelled(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE payments
		SET invoice_status = 'CANCELLED'::invoice_status,
		    updated_at     = NOW()
		WHERE id = $1
		  AND invoice_status = 'SENT'::invoice_status
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to cancel payment")
	}
	return tag.RowsAffected() > 0, nil
}

type paymentScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row paymentScanner) (*Payment, error) {
	p := &Payment{}
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.ExternalInvoiceID,
		&p.InvoiceNumber,
		&p.InvoiceStatus,
		&p.InvoiceURL,
		&p.TotalAmount,
		&p.PlatformFee,
		&p.PublisherAmount,
		&p.InvoiceSentAt,
		&p.PaidAt,
		&p.ExternalTransactionID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
