package client

import (
	"context"
	"fmt"
	"time"
)

// InvoicingClient talks to the processor's invoice-issuance API.
type InvoicingClient struct {
	http *httpClient
}

// NewInvoicingClient creates an invoicing API client.
func NewInvoicingClient(baseURL, apiKey string, timeout time.Duration) *InvoicingClient {
	return &InvoicingClient{http: newHTTPClient(baseURL, apiKey, timeout)}
}

type createInvoiceRequest struct {
	RecipientEmail string        `json:"recipient_email"`
	RecipientName  string        `json:"recipient_name"`
	Amount         amountPayload `json:"amount"`
	Reference      string        `json:"reference"`
}

type amountPayload struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type createInvoiceResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Href   string `json:"href"`
}

// CreateInvoice creates a draft invoice addressed to the buyer.
func (c *InvoicingClient) CreateInvoice(ctx context.Context, buyer BuyerContact, amount, currency, reference string) (*InvoiceResult, error) {
	req := createInvoiceRequest{
		RecipientEmail: buyer.Email,
		RecipientName:  buyer.Name,
		Amount:         amountPayload{Value: amount, Currency: currency},
		Reference:      reference,
	}

	var resp createInvoiceResponse
	if err := c.http.postJSON(ctx, "create_invoice", "/v2/invoicing/invoices", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("processor: create_invoice returned no invoice id")
	}

	return &InvoiceResult{InvoiceID: resp.ID, InvoiceURL: resp.Href}, nil
}

type sendInvoiceResponse struct {
	Status  string `json:"status"`
	Warning string `json:"warning,omitempty"`
}

// SendInvoice asks the processor to deliver the invoice to the buyer. When
// the processor reports the notification could not be delivered, the invoice
// still exists and is payable by direct link, so the caller treats it as a
// soft success.
func (c *InvoicingClient) SendInvoice(ctx context.Context, invoiceID string) (bool, error) {
	var resp sendInvoiceResponse
	path := fmt.Sprintf("/v2/invoicing/invoices/%s/send", invoiceID)
	if err := c.http.postJSON(ctx, "send_invoice", path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Warning != "", nil
}
