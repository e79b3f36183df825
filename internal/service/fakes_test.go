package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/linkharbor/be-mp-orders/internal/auth"
	"github.com/linkharbor/be-mp-orders/internal/client"
	"github.com/linkharbor/be-mp-orders/internal/errors"
	"github.com/linkharbor/be-mp-orders/internal/repository"
)

// In-memory fakes mirroring the repository contracts, including the
// conditional-update semantics the services rely on.

type fakeOrderStore struct {
	orders      map[string]*repository.Order
	stepChanges map[string][]repository.StepChange
	createErr   error
	getErr      error
	transErr    error
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:      make(map[string]*repository.Order),
		stepChanges: make(map[string][]repository.StepChange),
	}
}

func (f *fakeOrderStore) Create(_ context.Context, order *repository.Order) error {
	if f.createErr != nil {
		return f.createErr
	}
	order.ID = uuid.NewString()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderStore) GetByID(_ context.Context, id string) (*repository.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	order, ok := f.orders[id]
	if !ok {
		return nil, errors.NotFound("order", id)
	}
	cp := *order
	return &cp, nil
}

func (f *fakeOrderStore) List(_ context.Context, advertiserID, publisherID, status *string, limit, offset int) ([]*repository.Order, int64, error) {
	matched := make([]*repository.Order, 0)
	for _, o := range f.orders {
		if advertiserID != nil && o.AdvertiserID != *advertiserID {
			continue
		}
		if publisherID != nil && o.PublisherID != *publisherID {
			continue
		}
		if status != nil && o.Status != *status {
			continue
		}
		matched = append(matched, o)
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (f *fakeOrderStore) Transition(_ context.Context, t *repository.OrderTransition) error {
	if f.transErr != nil {
		return f.transErr
	}
	order, ok := f.orders[t.OrderID]
	if !ok {
		return errors.NotFound("order", t.OrderID)
	}
	if order.Status != t.FromStatus {
		return errors.Conflict(fmt.Sprintf(
			"order %s is not in status %q; it was changed concurrently", t.OrderID, t.FromStatus))
	}
	order.Status = t.ToStatus
	if t.SetPaymentStatus != nil {
		order.PaymentStatus = *t.SetPaymentStatus
	}
	if t.SetPublishedURL != nil {
		order.PublishedURL = t.SetPublishedURL
	}
	if t.SetApprovalNotes != nil {
		order.ApprovalNotes = t.SetApprovalNotes
	}
	f.stepChanges[t.OrderID] = t.Steps
	return nil
}

func (f *fakeOrderStore) add(order *repository.Order) *repository.Order {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	f.orders[order.ID] = order
	return order
}

type fakePaymentStore struct {
	payments  map[string]*repository.Payment
	createErr error
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: make(map[string]*repository.Payment)}
}

func (f *fakePaymentStore) Create(_ context.Context, p *repository.Payment) error {
	if f.createErr != nil {
		return f.createErr
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	f.payments[p.ID] = p
	return nil
}

func (f *fakePaymentStore) GetByID(_ context.Context, id string) (*repository.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, errors.NotFound("payment", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakePaymentStore) GetActiveByOrderID(_ context.Context, orderID string) (*repository.Payment, error) {
	for _, p := range f.payments {
		if p.OrderID == orderID && p.InvoiceStatus != repository.InvoiceStatusCancelled {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePaymentStore) GetByExternalInvoiceID(_ context.Context, externalInvoiceID string) (*repository.Payment, error) {
	for _, p := range f.payments {
		if p.ExternalInvoiceID == externalInvoiceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errors.NotFound("payment", externalInvoiceID)
}

func (f *fakePaymentStore) MarkPaid(_ context.Context, id string, transactionID *string) (bool, error) {
	p, ok := f.payments[id]
	if !ok || p.InvoiceStatus != repository.InvoiceStatusSent {
		return false, nil
	}
	now := time.Now()
	p.InvoiceStatus = repository.InvoiceStatusPaid
	p.PaidAt = &now
	p.ExternalTransactionID = transactionID
	return true, nil
}

func (f *fakePaymentStore) MarkCancelled(_ context.Context, id string) (bool, error) {
	p, ok := f.payments[id]
	if !ok || p.InvoiceStatus != repository.InvoiceStatusSent {
		return false, nil
	}
	p.InvoiceStatus = repository.InvoiceStatusCancelled
	return true, nil
}

func (f *fakePaymentStore) add(p *repository.Payment) *repository.Payment {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	f.payments[p.ID] = p
	return p
}

type fakePayoutStore struct {
	payouts          map[string]*repository.Payout
	createErr        error
	processingErr    error
	processingDenied bool
}

func newFakePayoutStore() *fakePayoutStore {
	return &fakePayoutStore{payouts: make(map[string]*repository.Payout)}
}

func (f *fakePayoutStore) Create(_ context.Context, p *repository.Payout) error {
	if f.createErr != nil {
		return f.createErr
	}
	p.ID = uuid.NewString()
	p.InitiatedAt = time.Now()
	p.CreatedAt = p.InitiatedAt
	p.UpdatedAt = p.InitiatedAt
	f.payouts[p.ID] = p
	return nil
}

func (f *fakePayoutStore) GetLiveByPaymentID(_ context.Context, paymentID string) (*repository.Payout, error) {
	for _, p := range f.payouts {
		if p.PaymentID == paymentID && p.PayoutStatus != repository.PayoutStatusFailed {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePayoutStore) GetByExternalItemID(_ context.Context, itemID, batchID string) (*repository.Payout, error) {
	for _, p := range f.payouts {
		if p.ExternalItemID != nil && *p.ExternalItemID == itemID {
			cp := *p
			return &cp, nil
		}
	}
	if batchID != "" {
		for _, p := range f.payouts {
			if p.ExternalBatchID != nil && *p.ExternalBatchID == batchID {
				cp := *p
				return &cp, nil
			}
		}
	}
	return nil, errors.NotFound("payout", itemID)
}

func (f *fakePayoutStore) MarkProcessing(_ context.Context, id string, batchID, itemID *string) (bool, error) {
	if f.processingErr != nil {
		return false, f.processingErr
	}
	if f.processingDenied {
		return false, nil
	}
	p, ok := f.payouts[id]
	if !ok || p.PayoutStatus != repository.PayoutStatusPending {
		return false, nil
	}
	p.PayoutStatus = repository.PayoutStatusProcessing
	p.ExternalBatchID = batchID
	p.ExternalItemID = itemID
	return true, nil
}

func (f *fakePayoutStore) MarkSucceeded(_ context.Context, id string) (bool, error) {
	p, ok := f.payouts[id]
	if !ok || (p.PayoutStatus != repository.PayoutStatusPending && p.PayoutStatus != repository.PayoutStatusProcessing) {
		return false, nil
	}
	now := time.Now()
	p.PayoutStatus = repository.PayoutStatusSuccess
	p.CompletedAt = &now
	return true, nil
}

func (f *fakePayoutStore) MarkFailed(_ context.Context, id string, reason *string) (bool, error) {
	p, ok := f.payouts[id]
	if !ok || (p.PayoutStatus != repository.PayoutStatusPending && p.PayoutStatus != repository.PayoutStatusProcessing) {
		return false, nil
	}
	now := time.Now()
	p.PayoutStatus = repository.PayoutStatusFailed
	p.CompletedAt = &now
	p.FailureReason = reason
	return true, nil
}

func (f *fakePayoutStore) add(p *repository.Payout) *repository.Payout {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	f.payouts[p.ID] = p
	return p
}

type publishedEvent struct {
	eventType  string
	orderID    string
	actorID    string
	recipients []string
}

type fakeNotifier struct {
	events []publishedEvent
}

func (f *fakeNotifier) PublishOrderEvent(_ context.Context, eventType, orderID, actorID string, recipients []string, _ map[string]any) {
	f.events = append(f.events, publishedEvent{
		eventType:  eventType,
		orderID:    orderID,
		actorID:    actorID,
		recipients: recipients,
	})
}

// Processor client fakes.

type fakeInvoicing struct {
	createErr   error
	sendErr     error
	sendWarning bool
	result      client.InvoiceResult
	created     int
	sent        int
}

func (f *fakeInvoicing) CreateInvoice(_ context.Context, _ client.BuyerContact, _, _, _ string) (*client.InvoiceResult, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	r := f.result
	return &r, nil
}

func (f *fakeInvoicing) SendInvoice(_ context.Context, _ string) (bool, error) {
	if f.sendErr != nil {
		return false, f.sendErr
	}
	f.sent++
	return f.sendWarning, nil
}

type fakePayoutAPI struct {
	err    error
	result client.PayoutResult
	calls  int
}

func (f *fakePayoutAPI) CreatePayout(_ context.Context, _, _, _, _ string) (*client.PayoutResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	r := f.result
	return &r, nil
}

type fakeProfiles struct {
	contact     client.BuyerContact
	contactErr  error
	payoutEmail string
	payoutErr   error
}

func (f *fakeProfiles) GetBillingContact(_ context.Context, _ string) (*client.BuyerContact, error) {
	if f.contactErr != nil {
		return nil, f.contactErr
	}
	c := f.contact
	return &c, nil
}

func (f *fakeProfiles) GetPayoutEmail(_ context.Context, _ string) (string, error) {
	if f.payoutErr != nil {
		return "", f.payoutErr
	}
	return f.payoutEmail, nil
}

// testOrder builds an order between fixed parties in the given status.
func testOrder(status string) *repository.Order {
	return &repository.Order{
		ID:            uuid.NewString(),
		Title:         "Guest post on example.com",
		AdvertiserID:  "adv-1",
		PublisherID:   "pub-1",
		WebsiteID:     "site-1",
		TotalAmount:   decimal.RequireFromString("157.50"),
		Currency:      "USD",
		Status:        status,
		PaymentStatus: repository.PaymentStatusUnpaid,
	}
}

var (
	advertiserPrincipal = auth.Principal{UserID: "adv-1", Role: auth.RoleAdvertiser}
	publisherPrincipal  = auth.Principal{UserID: "pub-1", Role: auth.RolePublisher}
	strangerPrincipal   = auth.Principal{UserID: "other", Role: auth.RolePublisher}
)
