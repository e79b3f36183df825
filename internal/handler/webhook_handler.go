package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/linkharbor/be-mp-orders/internal/client"
	"github.com/linkharbor/be-mp-orders/internal/errors"
	"github.com/linkharbor/be-mp-orders/internal/logger"
	"github.com/linkharbor/be-mp-orders/internal/service"
)

// 256 KiB is far beyond any real processor event; anything larger is abuse.
const maxWebhookBody = 256 << 10

// WebhookHandler receives payment processor notifications. It verifies the
// transmission signature against the raw body before any decoding, then hands
// the event to the reconciliation service.
type WebhookHandler struct {
	webhooks *service.WebhookService
	verifier client.WebhookVerifierInterface
	log      *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(webhooks *service.WebhookService, verifier client.WebhookVerifierInterface, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		verifier: verifier,
		log:      log,
	}
}

// HandleProcessorEvent handles POST deliveries from the processor.
//
// Response contract: 200 acknowledges the event (processed or idempotent
// no-op), 401 rejects a bad signature, 404 tells the processor to retry
// later because the correlating local record does not exist yet, and 5xx
// asks for a retry after a transient failure.
func (h *WebhookHandler) HandleProcessorEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errors.InvalidInput("method", "method not allowed"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, errors.InvalidInput("body", "failed to read request body"))
		return
	}

	headers := client.SignatureHeaders{
		TransmissionID:   r.Header.Get("Processor-Transmission-Id"),
		TransmissionTime: r.Header.Get("Processor-Transmission-Time"),
		TransmissionSig:  r.Header.Get("Processor-Transmission-Sig"),
		CertURL:          r.Header.Get("Processor-Cert-Url"),
	}

	valid, err := h.verifier.Verify(r.Context(), headers, body)
	if err != nil {
		// Verification unavailable is not the same as a forged signature;
		// a 5xx makes the processor redeliver once we are healthy again.
		h.log.Error().Err(err).Msg("Webhook signature verification unavailable")
		writeError(w, errors.External(err, "signature verification unavailable"))
		return
	}
	if !valid {
		h.log.Warn().
			Str("transmission_id", headers.TransmissionID).
			Msg("Webhook rejected: invalid signature")
		writeError(w, errors.New(errors.ErrCodeUnauthorized, "invalid webhook signature"))
		return
	}

	var event service.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid event payload"))
		return
	}

	result, err := h.webhooks.HandleEvent(r.Context(), &event)
	if err != nil {
		h.log.Error().Err(err).
			Str("event_type", event.EventType).
			Str("transmission_id", headers.TransmissionID).
			Msg("Webhook event processing failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
