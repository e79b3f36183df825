package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/linkharbor/be-mp-orders/internal/database"
	"github.com/linkharbor/be-mp-orders/internal/errors"
)

// OrderRepository handles order, order item and order step data operations.
// Steps are created together with the order and only ever mutated through
// Transition, so an order status and its steps can never be observed out of
// sync.
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts an order, its line items and its fixed workflow steps in one
// transaction.
func (r *OrderRepository) Create(ctx context.Context, order *Order) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		orderQuery := `
			INSERT INTO orders (title, description, advertiser_id, publisher_id, website_id,
			                    total_amount, currency, status, payment_status,
			                    requested_completion_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::order_status, $9, $10)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, orderQuery,
			order.Title,
			order.Description,
			order.AdvertiserID,
			order.PublisherID,
			order.WebsiteID,
			order.TotalAmount,
			order.Currency,
			order.Status,
			order.PaymentStatus,
			order.RequestedCompletionDate,
		).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create order")
		}

		itemQuery := `
			INSERT INTO order_items (order_id, service_type, title, quantity,
			                         unit_price, addon_total, line_total,
			                         target_url, anchor_text, word_count, notes)
			VALUES ($1, $2::service_type, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at
		`

		for _, item := range order.Items {
			item.OrderID = order.ID
			err := tx.QueryRow(ctx, itemQuery,
				item.OrderID,
				item.ServiceType,
				item.Title,
				item.Quantity,
				item.UnitPrice,
				item.AddonTotal,
				item.LineTotal,
				item.TargetURL,
				item.AnchorText,
				item.WordCount,
				item.Notes,
			).Scan(&item.ID, &item.CreatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create order item")
			}
		}

		stepQuery := `
			INSERT INTO order_steps (order_id, step_number, name, description,
			                         status, assignee)
			VALUES ($1, $2, $3, $4, $5::step_status, $6)
			RETURNING id, created_at, updated_at
		`

		for _, step := range order.Steps {
			step.OrderID = order.ID
			err := tx.QueryRow(ctx, stepQuery,
				step.OrderID,
				step.StepNumber,
				step.Name,
				step.Description,
				step.Status,
				step.Assignee,
			).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create order step")
			}
		}

		return nil
	})
}

// GetByID retrieves an order with its items and steps.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	query := `
		SELECT id, title, description, advertiser_id, publisher_id, website_id,
		       total_amount, currency, status, payment_status,
		       published_url, approval_notes, requested_completion_date,
		       created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	order := &Order{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&order.ID,
		&order.Title,
		&order.Description,
		&order.AdvertiserID,
		&order.PublisherID,
		&order.WebsiteID,
		&order.TotalAmount,
		&order.Currency,
		&order.Status,
		&order.PaymentStatus,
		&order.PublishedURL,
		&order.ApprovalNotes,
		&order.RequestedCompletionDate,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("order", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get order")
	}

	items, err := r.getItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	steps, err := r.GetSteps(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Steps = steps

	return order, nil
}

func (r *OrderRepository) getItems(ctx context.Context, orderID string) ([]*OrderItem, error) {
	query := `
		SELECT id, order_id, service_type, title, quantity,
		       unit_price, addon_total, line_total,
		       target_url, anchor_text, word_count, notes, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get order items")
	}
	defer rows.Close()

	items := make([]*OrderItem, 0)
	for rows.Next() {
		item := &OrderItem{}
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ServiceType,
			&item.Title,
			&item.Quantity,
			&item.UnitPrice,
			&item.AddonTotal,
			&item.LineTotal,
			&item.TargetURL,
			&item.AnchorText,
			&item.WordCount,
			&item.Notes,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan order item")
		}
		items = append(items, item)
	}

	return items, nil
}

// GetSteps retrieves all workflow steps for an order in step order.
func (r *OrderRepository) GetSteps(ctx context.Context, orderID string) ([]*OrderStep, error) {
	query := `
		SELECT id, order_id, step_number, name, description,
		       status, assignee, started_at, completed_at, notes,
		       created_at, updated_at
		FROM order_steps
		WHERE order_id = $1
		ORDER BY step_number
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get order steps")
	}
	defer rows.Close()

	steps := make([]*OrderStep, 0)
	for rows.Next() {
		step := &OrderStep{}
		err := rows.Scan(
			&step.ID,
			&step.OrderID,
			&step.StepNumber,
			&step.Name,
			&step.Description,
			&step.Status,
			&step.Assignee,
			&step.StartedAt,
			&step.CompletedAt,
			&step.Notes,
			&step.CreatedAt,
			&step.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan order step")
		}
		steps = append(steps, step)
	}

	return steps, nil
}

// List retrieves orders visible to one side of the marketplace with optional
// status filtering and pagination. Items and steps are not loaded for lists.
func (r *OrderRepository) List(ctx context.Context, advertiserID, publisherID, status *string, limit, offset int) ([]*Order, int64, error) {
	query := `
		SELECT id, title, description, advertiser_id, publisher_id, website_id,
		       total_amount, currency, status, payment_status,
		       published_url, approval_notes, requested_completion_date,
		       created_at, updated_at
		FROM orders
		WHERE 1=1
	`
	countQuery := `SELECT COUNT(*) FROM orders WHERE 1=1`

	args := []any{}
	argCount := 1

	if advertiserID != nil {
		clause := fmt.Sprintf(" AND advertiser_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *advertiserID)
		argCount++
	}

	if publisherID != nil {
		clause := fmt.Sprintf(" AND publisher_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *publisherID)
		argCount++
	}

	if status != nil {
		clause := fmt.Sprintf(" AND status = $%d::order_status", argCount)
		query += clause
		countQuery += clause
		args = append(args, *status)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, limit, offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count orders")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list orders")
	}
	defer rows.Close()

	orders := make([]*Order, 0)
	for rows.Next() {
		order := &Order{}
		err := rows.Scan(
			&order.ID,
			&order.Title,
			&order.Description,
			&order.AdvertiserID,
			&order.PublisherID,
			&order.WebsiteID,
			&order.TotalAmount,
			&order.Currency,
			&order.Status,
			&order.PaymentStatus,
			&order.PublishedURL,
			&order.ApprovalNotes,
			&order.RequestedCompletionDate,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan order")
		}
		orders = append(orders, order)
	}

	return orders, total, nil
}

// Transition applies a conditional order status update and its step changes
// in one transaction. A zero-row order update means the order is no longer in
// FromStatus — a concurrent transition won — and the whole transaction is
// rolled back with a conflict error.
func (r *OrderRepository) Transition(ctx context.Context, t *OrderTransition) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		orderQuery := `
			UPDATE orders
			SET status          = $3::order_status,
			    payment_status  = COALESCE($4, payment_status),
			    published_url   = COALESCE($5, published_url),
			    approval_notes  = COALESCE($6, approval_notes),
			    updated_at      = NOW()
			WHERE id = $1 AND status = $2::order_status
		`

		tag, err := tx.Exec(ctx, orderQuery,
			t.OrderID,
			t.FromStatus,
			t.ToStatus,
			t.SetPaymentStatus,
			t.SetPublishedURL,
			t.SetApprovalNotes,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update order status")
		}
		if tag.RowsAffected() == 0 {
			return errors.Conflict(fmt.Sprintf(
				"order %s is not in status %q; it was changed concurrently", t.OrderID, t.FromStatus))
		}

		for _, sc := range t.Steps {
			if err := applyStepChange(ctx, tx, t.OrderID, sc); err != nil {
				return err
			}
		}

		return nil
	})
}

// applyStepChange updates one workflow step to the target status, stamping
// timestamps from the status value. A step already completed is never moved
// to skipped.
func applyStepChange(ctx context.Context, tx pgx.Tx, orderID string, sc StepChange) error {
	var query string
	switch sc.Status {
	case StepStatusInProgress:
		query = `
			UPDATE order_steps
			SET status       = 'in_progress'::step_status,
			    started_at   = COALESCE(started_at, NOW()),
			    completed_at = NULL,
			    notes        = CASE WHEN $3::text IS NULL THEN notes
			                        ELSE CONCAT_WS(E'\n', notes, $3::text) END,
			    updated_at   = NOW()
			WHERE order_id = $1 AND step_number = $2
		`
	case StepStatusCompleted:
		query = `
			UPDATE order_steps
			SET status       = 'completed'::step_status,
			    started_at   = COALESCE(started_at, NOW()),
			    completed_at = COALESCE(completed_at, NOW()),
			    notes        = CASE WHEN $3::text IS NULL THEN notes
			                        ELSE CONCAT_WS(E'\n', notes, $3::text) END,
			    updated_at   = NOW()
			WHERE order_id = $1 AND step_number = $2
		`
	case StepStatusPending:
		query = `
			UPDATE order_steps
			SET status       = 'pending'::step_status,
			    started_at   = NULL,
			    completed_at = NULL,
			    notes        = CASE WHEN $3::text IS NULL THEN notes
			                        ELSE CONCAT_WS(E'\n', notes, $3::text) END,
			    updated_at   = NOW()
			WHERE order_id = $1 AND step_number = $2
		`
	case StepStatusSkipped:
		query = `
			UPDATE order_steps
			SET status     = 'skipped'::step_status,
			    notes      = CASE WHEN $3::text IS NULL THEN notes
			                      ELSE CONCAT_WS(E'\n', notes, $3::text) END,
			    updated_at = NOW()
			WHERE order_id = $1 AND step_number = $2
			  AND status <> 'completed'::step_status
		`
	default:
		return errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("unknown step status %q", sc.Status))
	}

	if _, err := tx.Exec(ctx, query, orderID, sc.StepNumber, sc.AppendNotes); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update order step")
	}
	return nil
}
