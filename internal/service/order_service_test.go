package service

import (
	"context"
	"testing"

	"github.com/linkharbor/be-mp-orders/internal/auth"
	"github.com/linkharbor/be-mp-orders/internal/errors"
	"github.com/linkharbor/be-mp-orders/internal/logger"
	"github.com/linkharbor/be-mp-orders/internal/repository"
)

func newOrderService(orders *fakeOrderStore) (*OrderService, *fakeNotifier) {
	notifier := &fakeNotifier{}
	return NewOrderService(orders, notifier, logger.Nop(), "USD"), notifier
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func validCreateRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		Title:       "Guest post on example.com",
		PublisherID: "pub-1",
		WebsiteID:   "site-1",
		Items: []*OrderItemRequest{
			{
				ServiceType: repository.ServiceTypeGuestPost,
				Title:       "1500 word article",
				Quantity:    1,
				UnitPrice:   "150.00",
				AddonTotal:  "7.50",
				WordCount:   intPtr(1500),
			},
		},
	}
}

func TestCreateOrder(t *testing.T) {
	orders := newFakeOrderStore()
	svc, notifier := newOrderService(orders)

	order, err := svc.CreateOrder(context.Background(), advertiserPrincipal, validCreateRequest())
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if order.Status != repository.OrderStatusPending {
		t.Errorf("status = %s, want pending", order.Status)
	}
	if order.PaymentStatus != repository.PaymentStatusUnpaid {
		t.Errorf("payment status = %s, want unpaid", order.PaymentStatus)
	}
	if order.AdvertiserID != "adv-1" {
		t.Errorf("advertiser = %s, want adv-1", order.AdvertiserID)
	}
	if got := order.TotalAmount.StringFixed(2); got != "157.50" {
		t.Errorf("total = %s, want 157.50", got)
	}
	if len(order.Steps) != 3 {
		t.Errorf("got %d steps, want 3", len(order.Steps))
	}
	if len(notifier.events) != 1 || notifier.events[0].eventType != "order_placed" {
		t.Errorf("events = %+v, want one order_placed", notifier.events)
	}
}

func TestCreateOrderComputesTotalAcrossItems(t *testing.T) {
	orders := newFakeOrderStore()
	svc, _ := newOrderService(orders)

	req := validCreateRequest()
	req.Items = append(req.Items, &OrderItemRequest{
		ServiceType: repository.ServiceTypeLinkPlacement,
		Title:       "Homepage link",
		Quantity:    2,
		UnitPrice:   "25.00",
		TargetURL:   strPtr("https://buyer.example/landing"),
		AnchorText:  strPtr("best widgets"),
	})

	order, err := svc.CreateOrder(context.Background(), advertiserPrincipal, req)
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	// 150.00*1 + 7.50 + 25.00*2 = 207.50
	if got := order.TotalAmount.StringFixed(2); got != "207.50" {
		t.Errorf("total = %s, want 207.50", got)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateOrderRequest)
	}{
		{"empty title", func(r *CreateOrderRequest) { r.Title = "  " }},
		{"missing publisher", func(r *CreateOrderRequest) { r.PublisherID = "" }},
		{"missing website", func(r *CreateOrderRequest) { r.WebsiteID = "" }},
		{"no items", func(r *CreateOrderRequest) { r.Items = nil }},
		{"zero quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{"negative price", func(r *CreateOrderRequest) { r.Items[0].UnitPrice = "-10.00" }},
		{"sub-cent price", func(r *CreateOrderRequest) { r.Items[0].UnitPrice = "10.001" }},
		{"guest post without word count", func(r *CreateOrderRequest) { r.Items[0].WordCount = nil }},
		{"unknown service type", func(r *CreateOrderRequest) { r.Items[0].ServiceType = "banner_ad" }},
		{"link placement without target", func(r *CreateOrderRequest) {
			r.Items[0] = &OrderItemRequest{
				ServiceType: repository.ServiceTypeLinkPlacement,
				Title:       "Link",
				Quantity:    1,
				UnitPrice:   "25.00",
				AnchorText:  strPtr("widgets"),
			}
		}},
		{"link placement without anchor", func(r *CreateOrderRequest) {
			r.Items[0] = &OrderItemRequest{
				ServiceType: repository.ServiceTypeLinkPlacement,
				Title:       "Link",
				Quantity:    1,
				UnitPrice:   "25.00",
				TargetURL:   strPtr("https://buyer.example"),
			}
		}},
		{"sponsored content without target", func(r *CreateOrderRequest) {
			r.Items[0] = &OrderItemRequest{
				ServiceType: repository.ServiceTypeSponsoredContent,
				Title:       "Feature",
				Quantity:    1,
				UnitPrice:   "99.00",
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newFakeOrderStore()
			svc, _ := newOrderService(orders)

			req := validCreateRequest()
			tt.mutate(req)

			_, err := svc.CreateOrder(context.Background(), advertiserPrincipal, req)
			if err == nil {
				t.Fatal("CreateOrder() expected error, got nil")
			}
			if !errors.IsCode(err, errors.ErrCodeInvalidInput) {
				t.Errorf("error code = %s, want invalid_input", errors.CodeOf(err))
			}
			if len(orders.orders) != 0 {
				t.Error("invalid request created an order")
			}
		})
	}
}

func TestCreateOrderRequiresAdvertiserRole(t *testing.T) {
	orders := newFakeOrderStore()
	svc, _ := newOrderService(orders)

	_, err := svc.CreateOrder(context.Background(), publisherPrincipal, validCreateRequest())
	if !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Errorf("error = %v, want forbidden", err)
	}
}

func TestGetOrderOnlyForParties(t *testing.T) {
	orders := newFakeOrderStore()
	order := orders.add(testOrder(repository.OrderStatusPending))
	svc, _ := newOrderService(orders)

	for _, p := range []auth.Principal{advertiserPrincipal, publisherPrincipal} {
		if _, err := svc.GetOrder(context.Background(), p, order.ID); err != nil {
			t.Errorf("GetOrder(%s) error = %v", p.UserID, err)
		}
	}

	_, err := svc.GetOrder(context.Background(), strangerPrincipal, order.ID)
	if !errors.IsCode(err, errors.ErrCodeForbidden) {
		t.Errorf("stranger GetOrder error = %v, want forbidden", err)
	}
}

func TestListOrdersScopedToRole(t *testing.T) {
	orders := newFakeOrderStore()
	orders.add(testOrder(repository.OrderStatusPending))
	other := testOrder(repository.OrderStatusPending)
	other.AdvertiserID = "adv-2"
	other.PublisherID = "pub-2"
	orders.add(other)
	svc, _ := newOrderService(orders)

	got, total, err := svc.ListOrders(context.Background(), advertiserPrincipal, nil, 1, 50)
	if err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if total != 1 || len(got) != 1 {
		t.Errorf("advertiser sees %d orders (total %d), want 1", len(got), total)
	}
	if got[0].AdvertiserID != "adv-1" {
		t.Errorf("listed order belongs to %s", got[0].AdvertiserID)
	}
}

func TestRejectOrder(t *testing.T) {
	orders := newFakeOrderStore()
	order := orders.add(testOrder(repository.OrderStatusPending))
	svc, notifier := newOrderService(orders)

	updated, err := svc.RejectOrder(context.Background(), publisherPrincipal, order.ID)
	if err != nil {
		t.Fatalf("RejectOrder() error = %v", err)
	}
	if updated.Status != repository.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled", updated.Status)
	}

	// Cancelled orders skip all steps.
	for _, sc := range orders.stepChanges[order.ID] {
		if sc.Status != repository.StepStatusSkipped {
			t.Errorf("step %d status = %s, want skipped", sc.StepNumber, sc.Status)
		}
	}
	if len(notifier.events) != 1 || notifier.events[0].eventType != "order_rejected" {
		t.Errorf("events = %+v, want one order_rejected", notifier.events)
	}
}

func TestSubmitWork(t *testing.T) {
	orders := newFakeOrderStore()
	order := orders.add(testOrder(repository.OrderStatusInProgress))
	svc, _ := newOrderService(orders)

	updated, err := svc.SubmitWork(context.Background(), publisherPrincipal, order.ID, "https://example.com/post")
	if err != nil {
		t.Fatalf("SubmitWork() error = %v", err)
	}
	if updated.Status != repository.OrderStatusReview {
		t.Errorf("status = %s, want review", updated.Status)
	}
	if updated.PublishedURL == nil || *updated.PublishedURL != "https://example.com/post" {
		t.Errorf("published URL = %v, want set", updated.PublishedURL)
	}
}

func TestSubmitWorkRequiresURL(t *testing.T) {
	orders := newFakeOrderStore()
	order := orders.add(testOrder(repository.OrderStatusInProgress))
	svc, _ := newOrderService(orders)

	_, err := svc.SubmitWork(context.Background(), publisherPrincipal, order.ID, "  ")
	if !errors.IsCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("error = %v, want invalid_input", err)
	}
}

func TestSubmitWorkFromRevision(t *testing.T) {
	orders := newFakeOrderStore()
	order := orders.add(testOrder(repository.OrderStatusRevision))
	svc, _ := newOrderService(orders)

	updated, err := svc.SubmitWork(context.Background(), publisherPrincipal, order.ID, "https://example.com/post-v2")
	if err != nil {
		t.Fatalf("SubmitWork() error = %v", err)
	}
	if updated.Status != repository.OrderStatusReview {
		t.Errorf("status = %s, want review", updated.Status)
	}
}

func TestApproveOrder(t *testing.T) {
	orders := newFakeOrderStore()
	order := orders.add(testOrder(repository.OrderStatusReview))
	svc, _ := newOrderService(orders)

	updated, err := svc.ApproveOrder(context.Background(), advertiserPrincipal, order.ID, strPtr("looks great"))
	if err != nil {
		t.Fatalf("ApproveOrder() error = %v", err)
	}
	if updated.Status != repository.OrderStatusCompleted {
		t.Errorf("status = %s, want completed", updated.Status)
	}
	if updated.ApprovalNotes == nil || *updated.ApprovalNotes != "looks great" {
		t.Errorf("approval notes = %v, want set", updated.ApprovalNotes)
	}
}

func TestRequestRevisionAppendsFeedback(t *testing.T) {
	orders := newFakeOrderStore()
	order := orders.add(testOrder(repository.OrderStatusReview))
	svc, _ := newOrderService(orders)

	updated, err := svc.RequestRevision(context.Background(), advertiserPrincipal, order.ID, "fix the anchor text")
	if err != nil {
		t.Fatalf("RequestRevision() error = %v", err)
	}
	if updated.Status != repository.OrderStatusRevision {
		t.Errorf("status = %s, want revision", updated.Status)
	}

	var deliveryNotes *string
	for _, sc := range orders.stepChanges[order.ID] {
		if sc.StepNumber == stepNumberDelivery {
			deliveryNotes = sc.AppendNotes
		}
	}
	if deliveryNotes == nil || *deliveryNotes != "fix the anchor text" {
		t.Errorf("delivery step notes = %v, want feedback", deliveryNotes)
	}
}

func TestRequestRevisionRequiresFeedback(t *testing.T) {
	orders := newFakeOrderStore()
	order := orders.add(testOrder(repository.OrderStatusReview))
	svc, _ := newOrderService(orders)

	_, err := svc.RequestRevision(context.Background(), advertiserPrincipal, order.ID, " ")
	if !errors.IsCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("error = %v, want invalid_input", err)
	}
}

func TestTransitionFromWrongStatusConflicts(t *testing.T) {
	tests := []struct {
		name   string
		status string
		call   func(*OrderService, string) error
	}{
		{"reject after acceptance", repository.OrderStatusInProgress,
			func(s *OrderService, id string) error {
				_, err := s.RejectOrder(context.Background(), publisherPrincipal, id)
				return err
			}},
		{"submit before payment", repository.OrderStatusPaymentPending,
			func(s *OrderService, id string) error {
				_, err := s.SubmitWork(context.Background(), publisherPrincipal, id, "https://x.example")
				return err
			}},
		{"approve twice", repository.OrderStatusCompleted,
			func(s *OrderService, id string) error {
				_, err := s.ApproveOrder(context.Background(), advertiserPrincipal, id, nil)
				return err
			}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newFakeOrderStore()
			order := orders.add(testOrder(tt.status))
			svc, _ := newOrderService(orders)

			err := tt.call(svc, order.ID)
			if !errors.IsCode(err, errors.ErrCodeConflict) {
				t.Errorf("error = %v, want conflict", err)
			}
		})
	}
}

func TestDisputeOrder(t *testing.T) {
	orders := newFakeOrderStore()
	order := orders.add(testOrder(repository.OrderStatusReview))
	svc, _ := newOrderService(orders)

	updated, err := svc.DisputeOrder(context.Background(), publisherPrincipal, order.ID)
	if err != nil {
		t.Fatalf("DisputeOrder() error = %v", err)
	}
	if updated.Status != repository.OrderStatusDisputed {
		t.Errorf("status = %s, want disputed", updated.Status)
	}
	// Steps are frozen where they stand.
	if len(orders.stepChanges[order.ID]) != 0 {
		t.Errorf("dispute applied step changes: %+v", orders.stepChanges[order.ID])
	}
}

func TestDisputeOrderRejectsTerminalStatus(t *testing.T) {
	for _, status := range []string{
		repository.OrderStatusCancelled,
		repository.OrderStatusPaid,
		repository.OrderStatusDisputed,
	} {
		orders := newFakeOrderStore()
		order := orders.add(testOrder(status))
		svc, _ := newOrderService(orders)

		_, err := svc.DisputeOrder(context.Background(), advertiserPrincipal, order.ID)
		if !errors.IsCode(err, errors.ErrCodeConflict) {
			t.Errorf("DisputeOrder(%s) error = %v, want conflict", status, err)
		}
	}
}
