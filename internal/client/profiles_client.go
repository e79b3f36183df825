package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProfilesClient talks to the platform profiles service, which owns user
// contact details and publisher payout configuration.
type ProfilesClient struct {
	baseURL string
	http    *http.Client
}

// NewProfilesClient creates a profiles service client.
func NewProfilesClient(baseURL string, timeout time.Duration) *ProfilesClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProfilesClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type profileResponse struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PayoutEmail string `json:"payout_email"`
}

func (c *ProfilesClient) getProfile(ctx context.Context, userID string) (*profileResponse, error) {
	url := fmt.Sprintf("%s/api/v1/profiles/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("profiles: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profiles: get %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profiles: get %s returned %d: %s", userID, resp.StatusCode, string(data))
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("profiles: decode response: %w", err)
	}
	return &profile, nil
}

// GetBillingContact resolves the invoice recipient for a user.
func (c *ProfilesClient) GetBillingContact(ctx context.Context, userID string) (*BuyerContact, error) {
	profile, err := c.getProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BuyerContact{Email: profile.Email, Name: profile.DisplayName}, nil
}

// GetPayoutEmail returns the publisher's configured payout destination, or ""
// when the publisher has not configured one.
func (c *ProfilesClient) GetPayoutEmail(ctx context.Context, publisherID string) (string, error) {
	profile, err := c.getProfile(ctx, publisherID)
	if err != nil {
		return "", err
	}
	return profile.PayoutEmail, nil
}
