package client

import (
	"context"
	"fmt"
	"time"
)

// PayoutClient talks to the processor's disbursement API.
type PayoutClient struct {
	http *httpClient
}

// NewPayoutClient creates a payout API client.
func NewPayoutClient(baseURL, apiKey string, timeout time.Duration) *PayoutClient {
	return &PayoutClient{http: newHTTPClient(baseURL, apiKey, timeout)}
}

type createPayoutRequest struct {
	Receiver  string        `json:"receiver"`
	Amount    amountPayload `json:"amount"`
	Reference string        `json:"reference"`
}

type createPayoutResponse struct {
	BatchID string `json:"batch_id"`
	ItemID  string `json:"item_id"`
	Status  string `json:"status"`
}

// CreatePayout submits a single-item payout to the publisher's destination.
func (c *PayoutClient) CreatePayout(ctx context.Context, destinationEmail, amount, currency, reference string) (*PayoutResult, error) {
	req := createPayoutRequest{
		Receiver:  destinationEmail,
		Amount:    amountPayload{Value: amount, Currency: currency},
		Reference: reference,
	}

	var resp createPayoutResponse
	if err := c.http.postJSON(ctx, "create_payout", "/v1/payments/payouts", req, &resp); err != nil {
		return nil, err
	}
	if resp.BatchID == "" {
		return nil, fmt.Errorf("processor: create_payout returned no batch id")
	}

	return &PayoutResult{BatchID: resp.BatchID, ItemID: resp.ItemID, Status: resp.Status}, nil
}
