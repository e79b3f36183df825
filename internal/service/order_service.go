package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/linkharbor/be-mp-orders/internal/auth"
	"github.com/linkharbor/be-mp-orders/internal/errors"
	"github.com/linkharbor/be-mp-orders/internal/logger"
	"github.com/linkharbor/be-mp-orders/internal/metrics"
	"github.com/linkharbor/be-mp-orders/internal/money"
	"github.com/linkharbor/be-mp-orders/internal/repository"
)

// OrderService handles order placement, reads and the human-triggered
// transitions that do not call the payment processor. Invoice issuance lives
// in InvoiceService, payouts in PayoutService, webhook reconciliation in
// WebhookService — all four share the transition table in statemachine.go.
type OrderService struct {
	orders   OrderStore
	notifier Notifier
	log      *logger.Logger
	currency string
}

// NewOrderService creates a new order service.
func NewOrderService(orders OrderStore, notifier Notifier, log *logger.Logger, currency string) *OrderService {
	return &OrderService{
		orders:   orders,
		notifier: notifier,
		log:      log,
		currency: currency,
	}
}

// CreateOrderRequest represents an order placement by an advertiser.
type CreateOrderRequest struct {
	Title                   string              `json:"title"`
	Description             *string             `json:"description"`
	PublisherID             string              `json:"publisher_id"`
	WebsiteID               string              `json:"website_id"`
	RequestedCompletionDate *string             `json:"requested_completion_date"`
	Items                   []*OrderItemRequest `json:"items"`
}

// OrderItemRequest is one service line on an order placement. ServiceType
// selects which of the optional fields are required.
type OrderItemRequest struct {
	ServiceType string            `json:"service_type"`
	Title       string            `json:"title"`
	Quantity    int               `json:"quantity"`
	UnitPrice   string            `json:"unit_price"`
	AddonTotal  string            `json:"addon_total"`
	TargetURL   *string           `json:"target_url"`
	AnchorText  *string           `json:"anchor_text"`
	WordCount   *int              `json:"word_count"`
	Notes       map[string]string `json:"notes"`
}

// CreateOrder places a new order. The total is computed server-side from the
// line items and addons, and is immutable afterwards. The order, its items
// and its three workflow steps are created in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, principal auth.Principal, req *CreateOrderRequest) (*repository.Order, error) {
	if principal.Role != auth.RoleAdvertiser {
		return nil, errors.Forbidden("only advertisers may place orders")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}
	if req.PublisherID == "" {
		return nil, errors.InvalidInput("publisher_id", "publisher is required")
	}
	if req.WebsiteID == "" {
		return nil, errors.InvalidInput("website_id", "website is required")
	}
	if len(req.Items) < 1 {
		return nil, errors.InvalidInput("items", "order must have at least 1 item")
	}

	total := decimal.Zero
	items := make([]*repository.OrderItem, 0, len(req.Items))
	for i, itemReq := range req.Items {
		item, err := buildItem(itemReq)
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("items[%d]", i), err.Error())
		}
		total = total.Add(item.LineTotal)
		items = append(items, item)
	}

	order := &repository.Order{
		Title:                   req.Title,
		Description:             req.Description,
		AdvertiserID:            principal.UserID,
		PublisherID:             req.PublisherID,
		WebsiteID:               req.WebsiteID,
		TotalAmount:             total,
		Currency:                s.currency,
		Status:                  repository.OrderStatusPending,
		PaymentStatus:           repository.PaymentStatusUnpaid,
		RequestedCompletionDate: req.RequestedCompletionDate,
		Items:                   items,
		Steps:                   NewOrderSteps(),
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("advertiser_id", order.AdvertiserID).
		Str("publisher_id", order.PublisherID).
		Str("total_amount", order.TotalAmount.String()).
		Int("item_count", len(order.Items)).
		Msg("Order created")

	s.notifier.PublishOrderEvent(ctx, "order_placed", order.ID, principal.UserID,
		[]string{order.PublisherID}, map[string]any{"title": order.Title})

	return order, nil
}

// buildItem validates one line item against its service kind and computes its
// total.
func buildItem(req *OrderItemRequest) (*repository.OrderItem, error) {
	if req.Quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1")
	}

	unitPrice, err := money.ParseAmount(req.UnitPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid unit_price: %v", err)
	}

	addonTotal := decimal.Zero
	if req.AddonTotal != "" {
		addonTotal, err = money.ParseAmount(req.AddonTotal)
		if err != nil {
			return nil, fmt.Errorf("invalid addon_total: %v", err)
		}
	}

	switch req.ServiceType {
	case repository.ServiceTypeGuestPost:
		if req.WordCount == nil || *req.WordCount < 1 {
			return nil, fmt.Errorf("guest_post requires word_count")
		}
	case repository.ServiceTypeLinkPlacement:
		if req.TargetURL == nil || *req.TargetURL == "" {
			return nil, fmt.Errorf("link_placement requires target_url")
		}
		if req.AnchorText == nil || *req.AnchorText == "" {
			return nil, fmt.Errorf("link_placement requires anchor_text")
		}
	case repository.ServiceTypeSponsoredContent:
		if req.TargetURL == nil || *req.TargetURL == "" {
			return nil, fmt.Errorf("sponsored_content requires target_url")
		}
	default:
		return nil, fmt.Errorf("unknown service_type %q", req.ServiceType)
	}

	lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))).Add(addonTotal)

	return &repository.OrderItem{
		ServiceType: req.ServiceType,
		Title:       req.Title,
		Quantity:    req.Quantity,
		UnitPrice:   unitPrice,
		AddonTotal:  addonTotal,
		LineTotal:   lineTotal,
		TargetURL:   req.TargetURL,
		AnchorText:  req.AnchorText,
		WordCount:   req.WordCount,
		Notes:       req.Notes,
	}, nil
}

// GetOrder retrieves an order for a party to it.
func (s *OrderService) GetOrder(ctx context.Context, principal auth.Principal, id string) (*repository.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if principal.UserID != order.AdvertiserID && principal.UserID != order.PublisherID {
		return nil, errors.Forbidden("not a party to this order")
	}
	return order, nil
}

// ListOrders lists the principal's side of the marketplace with optional
// status filtering.
func (s *OrderService) ListOrders(ctx context.Context, principal auth.Principal, status *string, page, pageSize int) ([]*repository.Order, int64, error) {
	var advertiserID, publisherID *string
	switch principal.Role {
	case auth.RoleAdvertiser:
		advertiserID = &principal.UserID
	case auth.RolePublisher:
		publisherID = &principal.UserID
	default:
		return nil, 0, errors.Forbidden("unknown role")
	}

	offset := (page - 1) * pageSize
	return s.orders.List(ctx, advertiserID, publisherID, status, pageSize, offset)
}

// RejectOrder declines a pending order. Terminal; the advertiser is never
// invoiced.
func (s *OrderService) RejectOrder(ctx context.Context, principal auth.Principal, orderID string) (*repository.Order, error) {
	order, err := s.transition(ctx, principal, orderID, ActionReject, nil)
	if err != nil {
		return nil, err
	}

	s.notifier.PublishOrderEvent(ctx, "order_rejected", order.ID, principal.UserID,
		[]string{order.AdvertiserID}, nil)
	return order, nil
}

// SubmitWork records the published URL and moves the order to review. Valid
// from in_progress and from revision (resubmission).
func (s *OrderService) SubmitWork(ctx context.Context, principal auth.Principal, orderID, publishedURL string) (*repository.Order, error) {
	if strings.TrimSpace(publishedURL) == "" {
		return nil, errors.InvalidInput("published_url", "published URL is required")
	}

	order, err := s.transition(ctx, principal, orderID, ActionSubmitWork, &transitionOpts{
		setPublishedURL: &publishedURL,
	})
	if err != nil {
		return nil, err
	}

	s.notifier.PublishOrderEvent(ctx, "work_submitted", order.ID, principal.UserID,
		[]string{order.AdvertiserID}, map[string]any{"published_url": publishedURL})
	return order, nil
}

// ApproveOrder accepts the delivered work and completes the fulfillment
// stage. Funds are released by a subsequent RequestPayout call.
func (s *OrderService) ApproveOrder(ctx context.Context, principal auth.Principal, orderID string, notes *string) (*repository.Order, error) {
	order, err := s.transition(ctx, principal, orderID, ActionApprove, &transitionOpts{
		setApprovalNotes: notes,
	})
	if err != nil {
		return nil, err
	}

	s.notifier.PublishOrderEvent(ctx, "order_approved", order.ID, principal.UserID,
		[]string{order.PublisherID}, nil)
	return order, nil
}

// RequestRevision sends the work back to the publisher with feedback. The
// delivery step reopens with the feedback appended; the approval step resets.
func (s *OrderService) RequestRevision(ctx context.Context, principal auth.Principal, orderID, feedback string) (*repository.Order, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, errors.InvalidInput("feedback", "revision feedback is required")
	}

	order, err := s.transition(ctx, principal, orderID, ActionRequestRevision, &transitionOpts{
		stepNotes: &feedback,
	})
	if err != nil {
		return nil, err
	}

	s.notifier.PublishOrderEvent(ctx, "revision_requested", order.ID, principal.UserID,
		[]string{order.PublisherID}, map[string]any{"feedback": feedback})
	return order, nil
}

// DisputeOrder moves any active order to the disputed state. Steps are left
// where they stand; resolution is manual.
func (s *OrderService) DisputeOrder(ctx context.Context, principal auth.Principal, orderID string) (*repository.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(principal, order, ActionDispute); err != nil {
		return nil, err
	}
	if repository.IsTerminalOrderStatus(order.Status) {
		return nil, errors.Conflict(fmt.Sprintf(
			"cannot dispute an order in terminal status %q", order.Status))
	}

	err = s.orders.Transition(ctx, &repository.OrderTransition{
		OrderID:    order.ID,
		FromStatus: order.Status,
		ToStatus:   repository.OrderStatusDisputed,
	})
	observeTransition(ActionDispute, err)
	if err != nil {
		return nil, err
	}

	s.log.Warn().
		Str("order_id", order.ID).
		Str("raised_by", principal.UserID).
		Str("previous_status", order.Status).
		Msg("Order disputed")

	other := order.PublisherID
	if principal.UserID == order.PublisherID {
		other = order.AdvertiserID
	}
	s.notifier.PublishOrderEvent(ctx, "order_disputed", order.ID, principal.UserID,
		[]string{other}, nil)

	return s.orders.GetByID(ctx, orderID)
}

type transitionOpts struct {
	setPublishedURL  *string
	setApprovalNotes *string
	stepNotes        *string
}

// transition runs the shared guard sequence: load, authorize, resolve the
// target status, apply the conditional update together with the step layout,
// and re-read. The conditional update makes a stale or duplicated request
// fail with a conflict instead of silently reapplying.
func (s *OrderService) transition(ctx context.Context, principal auth.Principal, orderID string, action Action, opts *transitionOpts) (*repository.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(principal, order, action); err != nil {
		return nil, err
	}

	toStatus, err := Resolve(action, order.Status)
	if err != nil {
		observeTransition(action, err)
		return nil, err
	}

	t := &repository.OrderTransition{
		OrderID:    order.ID,
		FromStatus: order.Status,
		ToStatus:   toStatus,
	}
	var stepNotes *string
	if opts != nil {
		t.SetPublishedURL = opts.setPublishedURL
		t.SetApprovalNotes = opts.setApprovalNotes
		stepNotes = opts.stepNotes
	}
	t.Steps = stepChangesFor(toStatus, stepNotes)

	err = s.orders.Transition(ctx, t)
	observeTransition(action, err)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("action", string(action)).
		Str("from_status", order.Status).
		Str("to_status", toStatus).
		Str("actor_id", principal.UserID).
		Msg("Order transitioned")

	return s.orders.GetByID(ctx, orderID)
}

func observeTransition(action Action, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.IsCode(err, errors.ErrCodeConflict):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	metrics.OrderTransitionsTotal.WithLabelValues(string(action), outcome).Inc()
}
