package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Order state machine vocabulary ───────────────────────────────────────────

// Order statuses. Transitions between them are owned by the service layer;
// the repository only ever applies a conditional single-row update.
const (
	OrderStatusPending           = "pending"
	OrderStatusPaymentPending    = "payment_pending"
	OrderStatusInProgress        = "in_progress"
	OrderStatusReview            = "review"
	OrderStatusRevision          = "revision"
	OrderStatusCompleted         = "completed"
	OrderStatusPaymentProcessing = "payment_processing"
	OrderStatusPaid              = "paid"
	OrderStatusCancelled         = "cancelled"
	OrderStatusDisputed          = "disputed"
)

// Secondary payment status tag on the order row.
const (
	PaymentStatusUnpaid   = "unpaid"
	PaymentStatusInvoiced = "invoiced"
	PaymentStatusPaid     = "paid"
	PaymentStatusReleased = "released"
)

// Invoice statuses on the payment record.
const (
	InvoiceStatusSent      = "SENT"
	InvoiceStatusPaid      = "PAID"
	InvoiceStatusCancelled = "CANCELLED"
)

// Payout statuses.
const (
	PayoutStatusPending    = "PENDING"
	PayoutStatusProcessing = "PROCESSING"
	PayoutStatusSuccess    = "SUCCESS"
	PayoutStatusFailed     = "FAILED"
)

// Workflow step statuses and assignees.
const (
	StepStatusPending    = "pending"
	StepStatusInProgress = "in_progress"
	StepStatusCompleted  = "completed"
	StepStatusSkipped    = "skipped"

	StepAssigneePublisher  = "publisher"
	StepAssigneeAdvertiser = "advertiser"
	StepAssigneeBoth       = "both"
)

// Service kinds an order line item can carry.
const (
	ServiceTypeGuestPost        = "guest_post"
	ServiceTypeLinkPlacement    = "link_placement"
	ServiceTypeSponsoredContent = "sponsored_content"
)

// IsTerminalOrderStatus reports whether no further transitions are legal.
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusCancelled, OrderStatusPaid, OrderStatusDisputed:
		return true
	}
	return false
}

// ── Row types ────────────────────────────────────────────────────────────────

// Order is a single commercial transaction between one advertiser and one
// publisher's website.
type Order struct {
	ID                      string
	Title                   string
	Description             *string
	AdvertiserID            string
	PublisherID             string
	WebsiteID               string
	TotalAmount             decimal.Decimal
	Currency                string
	Status                  string
	PaymentStatus           string
	PublishedURL            *string
	ApprovalNotes           *string
	RequestedCompletionDate *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
	Items                   []*OrderItem
	Steps                   []*OrderStep
}

// OrderItem is one purchased service on an order. The service kinds form a
// tagged union: each kind uses an explicit subset of the optional fields, and
// Notes is a free-form bag reserved for publisher instructions.
type OrderItem struct {
	ID          string
	OrderID     string
	ServiceType string
	Title       string
	Quantity    int
	UnitPrice   decimal.Decimal
	AddonTotal  decimal.Decimal
	LineTotal   decimal.Decimal
	TargetURL   *string // link_placement, sponsored_content
	AnchorText  *string // link_placement
	WordCount   *int    // guest_post, sponsored_content
	Notes       map[string]string
	CreatedAt   time.Time
}

// OrderStep is one stage of the fixed three-stage workflow
// (Acceptance, Delivery, Approval).
type OrderStep struct {
	ID          string
	OrderID     string
	StepNumber  int
	Name        string
	Description *string
	Status      string
	Assignee    string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Payment is the local record of an external invoice. At most one
// non-cancelled payment exists per order.
type Payment struct {
	ID                    string
	OrderID               string
	ExternalInvoiceID     string
	InvoiceNumber         string
	InvoiceStatus         string
	InvoiceURL            *string
	TotalAmount           decimal.Decimal
	PlatformFee           decimal.Decimal
	PublisherAmount       decimal.Decimal
	InvoiceSentAt         time.Time
	PaidAt                *time.Time
	ExternalTransactionID *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Payout is the local record of an external disbursement to the publisher.
// Failed payouts are kept as history; at most one non-failed payout exists
// per payment.
type Payout struct {
	ID               string
	PaymentID        string
	PublisherID      string
	Amount           decimal.Decimal
	DestinationEmail string
	PayoutStatus     string
	ExternalBatchID  *string
	ExternalItemID   *string
	InitiatedAt      time.Time
	CompletedAt      *time.Time
	FailureReason    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StepChange is one step mutation applied together with an order status
// transition. Timestamps are stamped by the repository from the status value.
type StepChange struct {
	StepNumber  int
	Status      string
	AppendNotes *string
}

// OrderTransition is a conditional order status update plus the step changes
// that belong to it. The whole transition is applied in one transaction; the
// conditional WHERE on FromStatus is the concurrency-control primitive — a
// zero-row update means a concurrent transition won and the caller gets a
// conflict.
type OrderTransition struct {
	OrderID          string
	FromStatus       string
	ToStatus         string
	SetPaymentStatus *string
	SetPublishedURL  *string
	SetApprovalNotes *string
	Steps            []StepChange
}
