package client

import "context"

// InvoicingClientInterface defines the interface for the processor's
// invoicing API.
type InvoicingClientInterface interface {
	// CreateInvoice creates a draft invoice addressed to the buyer.
	CreateInvoice(ctx context.Context, buyer BuyerContact, amount, currency, reference string) (*InvoiceResult, error)
	// SendInvoice asks the processor to deliver the invoice. A true warning
	// flag means the invoice exists and is payable by direct link but the
	// notification could not be delivered.
	SendInvoice(ctx context.Context, invoiceID string) (warning bool, err error)
}

// PayoutClientInterface defines the interface for the processor's payout API.
type PayoutClientInterface interface {
	CreatePayout(ctx context.Context, destinationEmail, amount, currency, reference string) (*PayoutResult, error)
}

// WebhookVerifierInterface verifies webhook delivery signatures through the
// processor's verification endpoint.
type WebhookVerifierInterface interface {
	Verify(ctx context.Context, headers SignatureHeaders, body []byte) (bool, error)
}

// ProfilesClientInterface defines the interface for the platform profiles
// service, which owns user contact and payout configuration.
type ProfilesClientInterface interface {
	// GetBillingContact resolves the invoice recipient for a user.
	GetBillingContact(ctx context.Context, userID string) (*BuyerContact, error)
	// GetPayoutEmail returns the publisher's configured payout destination,
	// or "" when the publisher has not configured one.
	GetPayoutEmail(ctx context.Context, publisherID string) (string, error)
}
