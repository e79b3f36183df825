package service

import (
	"fmt"

	"github.com/linkharbor/be-mp-orders/internal/auth"
	"github.com/linkharbor/be-mp-orders/internal/errors"
	"github.com/linkharbor/be-mp-orders/internal/repository"
)

// Action is one edge of the order state machine.
type Action string

const (
	ActionAccept          Action = "accept"
	ActionReject          Action = "reject"
	ActionSubmitWork      Action = "submit_work"
	ActionApprove         Action = "approve"
	ActionRequestRevision Action = "request_revision"
	ActionRequestPayout   Action = "request_payout"
	ActionDispute         Action = "dispute"

	// Webhook-driven transitions; no human actor.
	ActionInvoicePaid      Action = "invoice_paid"
	ActionInvoiceCancelled Action = "invoice_cancelled"
	ActionPayoutSucceeded  Action = "payout_succeeded"
	ActionPayoutFailed     Action = "payout_failed"
)

type transition struct {
	from  string
	to    string
	actor auth.Role // empty for webhook-driven transitions
}

// transitions is the authoritative transition table. Every component that
// mutates order status goes through Resolve, so no edge outside this table
// can ever be applied.
var transitions = map[Action][]transition{
	ActionAccept:          {{from: repository.OrderStatusPending, to: repository.OrderStatusPaymentPending, actor: auth.RolePublisher}},
	ActionReject:          {{from: repository.OrderStatusPending, to: repository.OrderStatusCancelled, actor: auth.RolePublisher}},
	ActionSubmitWork: {
		{from: repository.OrderStatusInProgress, to: repository.OrderStatusReview, actor: auth.RolePublisher},
		{from: repository.OrderStatusRevision, to: repository.OrderStatusReview, actor: auth.RolePublisher},
	},
	ActionApprove:         {{from: repository.OrderStatusReview, to: repository.OrderStatusCompleted, actor: auth.RoleAdvertiser}},
	ActionRequestRevision: {{from: repository.OrderStatusReview, to: repository.OrderStatusRevision, actor: auth.RoleAdvertiser}},
	ActionRequestPayout:   {{from: repository.OrderStatusCompleted, to: repository.OrderStatusPaymentProcessing, actor: auth.RoleAdvertiser}},

	ActionInvoicePaid:      {{from: repository.OrderStatusPaymentPending, to: repository.OrderStatusInProgress}},
	ActionInvoiceCancelled: {{from: repository.OrderStatusPaymentPending, to: repository.OrderStatusPending}},
	ActionPayoutSucceeded: {
		{from: repository.OrderStatusPaymentProcessing, to: repository.OrderStatusPaid},
		// Recovery edge: the payout was submitted but the local transition to
		// payment_processing was lost. The settlement webhook still finishes
		// the order; it only fires for a payout this service created.
		{from: repository.OrderStatusCompleted, to: repository.OrderStatusPaid},
	},
	ActionPayoutFailed: {{from: repository.OrderStatusPaymentProcessing, to: repository.OrderStatusCompleted}},
}

// Resolve returns the target status for applying action to an order currently
// in fromStatus. A status outside the action's sources yields a conflict:
// the caller is acting on stale state and must refresh rather than retry.
func Resolve(action Action, fromStatus string) (string, error) {
	for _, t := range transitions[action] {
		if t.from == fromStatus {
			return t.to, nil
		}
	}
	return "", errors.Conflict(fmt.Sprintf(
		"cannot %s an order in status %q", action, fromStatus))
}

// Authorize checks that the principal is the expected party for the action on
// this order. Webhook-driven actions have no actor and always pass.
func Authorize(p auth.Principal, order *repository.Order, action Action) error {
	if action == ActionDispute {
		// Either party to the order may raise a dispute.
		if p.UserID == order.PublisherID || p.UserID == order.AdvertiserID {
			return nil
		}
		return errors.Forbidden("only a party to the order may dispute it")
	}

	ts := transitions[action]
	if len(ts) == 0 {
		return errors.New(errors.ErrCodeInternal, fmt.Sprintf("unknown action %q", action))
	}
	expected := ts[0].actor
	if expected == "" {
		return nil
	}

	switch expected {
	case auth.RolePublisher:
		if p.Role != auth.RolePublisher || p.UserID != order.PublisherID {
			return errors.Forbidden("only the order's publisher may perform this action")
		}
	case auth.RoleAdvertiser:
		if p.Role != auth.RoleAdvertiser || p.UserID != order.AdvertiserID {
			return errors.Forbidden("only the order's advertiser may perform this action")
		}
	}
	return nil
}

// StepLayout is the step configuration implied by an order status: the
// statuses of the Acceptance, Delivery and Approval steps, in step order.
// Step state is a total function of order status — applied in the same
// transaction as the status write — so steps can never drift from the order.
func StepLayout(status string) ([3]string, bool) {
	const (
		p = repository.StepStatusPending
		i = repository.StepStatusInProgress
		c = repository.StepStatusCompleted
		s = repository.StepStatusSkipped
	)

	switch status {
	case repository.OrderStatusPending:
		return [3]string{i, p, p}, true
	case repository.OrderStatusPaymentPending:
		return [3]string{c, p, p}, true
	case repository.OrderStatusInProgress, repository.OrderStatusRevision:
		return [3]string{c, i, p}, true
	case repository.OrderStatusReview:
		return [3]string{c, c, i}, true
	case repository.OrderStatusCompleted,
		repository.OrderStatusPaymentProcessing,
		repository.OrderStatusPaid:
		return [3]string{c, c, c}, true
	case repository.OrderStatusCancelled:
		return [3]string{s, s, s}, true
	}
	// disputed: steps are frozen where they stand for the operator to review.
	return [3]string{}, false
}

// stepChangesFor builds the repository step changes for a target status.
// notes, when set, is appended to the delivery step (revision feedback).
func stepChangesFor(toStatus string, notes *string) []repository.StepChange {
	layout, ok := StepLayout(toStatus)
	if !ok {
		return nil
	}

	changes := make([]repository.StepChange, 0, len(layout))
	for idx, status := range layout {
		sc := repository.StepChange{StepNumber: idx + 1, Status: status}
		if notes != nil && idx+1 == stepNumberDelivery {
			sc.AppendNotes = notes
		}
		changes = append(changes, sc)
	}
	return changes
}

// Fixed workflow steps, created with every order.
const (
	stepNumberAcceptance = 1
	stepNumberDelivery   = 2
	stepNumberApproval   = 3
)

// NewOrderSteps returns the three workflow steps every order starts with.
func NewOrderSteps() []*repository.OrderStep {
	acceptDesc := "Publisher reviews the order and accepts or rejects it"
	deliverDesc := "Publisher completes and publishes the work"
	approveDesc := "Advertiser reviews the delivered work"

	return []*repository.OrderStep{
		{
			StepNumber:  stepNumberAcceptance,
			Name:        "Acceptance",
			Description: &acceptDesc,
			Status:      repository.StepStatusInProgress,
			Assignee:    repository.StepAssigneePublisher,
		},
		{
			StepNumber:  stepNumberDelivery,
			Name:        "Work Delivery",
			Description: &deliverDesc,
			Status:      repository.StepStatusPending,
			Assignee:    repository.StepAssigneePublisher,
		},
		{
			StepNumber:  stepNumberApproval,
			Name:        "Approval",
			Description: &approveDesc,
			Status:      repository.StepStatusPending,
			Assignee:    repository.StepAssigneeAdvertiser,
		},
	}
}
