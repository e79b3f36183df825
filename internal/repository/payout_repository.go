package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/linkharbor/be-mp-orders/internal/database"
	"github.com/linkharbor/be-mp-orders/internal/errors"
)

// PayoutRepository handles disbursement records. Unlike payments, a payout
// row is written in PENDING before the external call, so a failed call still
// leaves an attributable audit record. Terminal states come only from the
// webhook reconciler, and a terminal SUCCESS is never regressed.
type PayoutRepository struct {
	db *database.DB
}

// NewPayoutRepository creates a new payout repository.
func NewPayoutRepository(db *database.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

const payoutColumns = `
	id, payment_id, publisher_id, amount, destination_email,
	payout_status, external_batch_id, external_item_id,
	initiated_at, completed_at, failure_reason,
	created_at, updated_at
`

// Create inserts a payout in PENDING status, capturing the committed intent
// before the external call is made. The partial unique index on payment_id
// (excluding FAILED rows) keeps at most one live payout per payment while
// letting a failed attempt be retried.
func (r *PayoutRepository) Create(ctx context.Context, p *Payout) error {
	query := `
		INSERT INTO payouts (payment_id, publisher_id, amount,
		                     destination_email, payout_status, initiated_at)
		VALUES ($1, $2, $3, $4, $5::payout_status, NOW())
		RETURNING id, initiated_at, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		p.PaymentID,
		p.PublisherID,
		p.Amount,
		p.DestinationEmail,
		p.PayoutStatus,
	).Scan(&p.ID, &p.InitiatedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create payout")
	}
	return nil
}

// GetLiveByPaymentID returns the non-failed payout for a payment, or nil when
// none exists. Failed payouts are history and do not block a retry.
func (r *PayoutRepository) GetLiveByPaymentID(ctx context.Context, paymentID string) (*Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE payment_id = $1
		  AND payout_status <> 'FAILED'::payout_status
		ORDER BY initiated_at DESC
		LIMIT 1
	`

	p, err := scanPayout(r.db.QueryRow(ctx, query, paymentID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get payout by payment")
	}
	return p, nil
}

// GetByExternalItemID locates a payout by the processor's item id, falling
// back to the batch id. The processor does not always echo the item id back
// synchronously, so the batch id may be the only correlator we retained.
func (r *PayoutRepository) GetByExternalItemID(ctx context.Context, itemID, batchID string) (*Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE external_item_id = $1
	`

	p, err := scanPayout(r.db.QueryRow(ctx, query, itemID))
	if err == nil {
		return p, nil
	}
	if err != pgx.ErrNoRows {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get payout by external item id")
	}

	if batchID == "" {
		return nil, errors.NotFound("payout", itemID)
	}

	fallback := `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE external_batch_id = $1
		ORDER BY initiated_at DESC
		LIMIT 1
	`

	p, err = scanPayout(r.db.QueryRow(ctx, fallback, batchID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("payout", itemID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get payout by external batch id")
	}
	return p, nil
}

// MarkProcessing records a successful external submission: PENDING →
// PROCESSING with the processor's batch/item identifiers.
func (r *PayoutRepository) MarkProcessing(ctx context.Context, id string, batchID, itemID *string) (bool, error) {
	query := `
		UPDATE payouts
		SET payout_status     = 'PROCESSING'::payout_status,
		    external_batch_id = $2,
		    external_item_id  = $3,
		    updated_at        = NOW()
		WHERE id = $1
		  AND payout_status = 'PENDING'::payout_status
	`

	tag, err := r.db.Exec(ctx, query, id, batchID, itemID)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to mark payout processing")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSucceeded conditionally advances a payout to SUCCESS. Only PENDING or
// PROCESSING payouts qualify, so a replayed or out-of-order failure event can
// never regress a success afterwards and vice versa.
func (r *PayoutRepository) MarkSucceeded(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE payouts
		SET payout_status = 'SUCCESS'::payout_status,
		    completed_at  = NOW(),
		    updated_at    = NOW()
		WHERE id = $1
		  AND payout_status IN ('PENDING'::payout_status, 'PROCESSING'::payout_status)
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to mark payout succeeded")
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed conditionally moves a non-terminal payout to FAILED with the
// processor's reason. A payout already in SUCCESS stays in SUCCESS.
func (r *PayoutRepository) MarkFailed(ctx context.Context, id string, reason *string) (bool, error) {
	query := `
		UPDATE payouts
		SET payout_status  = 'FAILED'::payout_status,
		    completed_at   = NOW(),
		    failure_reason = $2,
		    updated_at     = NOW()
		WHERE id = $1
		  AND payout_status IN ('PENDING'::payout_status, 'PROCESSING'::payout_status)
	`

	tag, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to mark payout failed")
	}
	return tag.RowsAffected() > 0, nil
}

type payoutScanner interface {
	Scan(dest ...any) error
}

func scanPayout(row payoutScanner) (*Payout, error) {
	p := &Payout{}
	err := row.Scan(
		&p.ID,
		&p.PaymentID,
		&p.PublisherID,
		&p.Amount,
		&p.DestinationEmail,
		&p.PayoutStatus,
		&p.ExternalBatchID,
		&p.ExternalItemID,
		&p.InitiatedAt,
		&p.CompletedAt,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
