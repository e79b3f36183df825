package client

import (
	"context"
	"encoding/json"
	"time"
)

// WebhookVerifier validates webhook delivery signatures by calling the
// processor's verification endpoint. The processor owns the signing keys, so
// verification is delegated rather than reimplemented locally.
type WebhookVerifier struct {
	http *httpClient
}

// NewWebhookVerifier creates a verifier against the processor's verification
// endpoint.
func NewWebhookVerifier(verifyURL, apiKey string, timeout time.Duration) *WebhookVerifier {
	return &WebhookVerifier{http: newHTTPClient(verifyURL, apiKey, timeout)}
}

type verifyRequest struct {
	TransmissionID   string          `json:"transmission_id"`
	TransmissionTime string          `json:"transmission_time"`
	TransmissionSig  string          `json:"transmission_sig"`
	CertURL          string          `json:"cert_url"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// Verify returns true only when the processor confirms the signature. Any
// transport failure is returned as an error, not treated as a failed
// verification, so the caller can distinguish forged requests from a
// temporarily unreachable verifier.
func (v *WebhookVerifier) Verify(ctx context.Context, headers SignatureHeaders, body []byte) (bool, error) {
	req := verifyRequest{
		TransmissionID:   headers.TransmissionID,
		TransmissionTime: headers.TransmissionTime,
		TransmissionSig:  headers.TransmissionSig,
		CertURL:          headers.CertURL,
		WebhookEvent:     json.RawMessage(body),
	}

	var resp verifyResponse
	if err := v.http.postJSON(ctx, "verify_webhook", "/v1/notifications/verify-webhook-signature", req, &resp); err != nil {
		return false, err
	}
	return resp.VerificationStatus == "SUCCESS", nil
}
