package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/linkharbor/be-mp-orders/internal/auth"
	"github.com/linkharbor/be-mp-orders/internal/errors"
	"github.com/linkharbor/be-mp-orders/internal/logger"
	"github.com/linkharbor/be-mp-orders/internal/middleware"
	"github.com/linkharbor/be-mp-orders/internal/service"
)

// HTTPHandler exposes the order action endpoints consumed by the UI layer.
type HTTPHandler struct {
	orders   *service.OrderService
	invoices *service.InvoiceService
	payouts  *service.PayoutService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(orders *service.OrderService, invoices *service.InvoiceService, payouts *service.PayoutService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		orders:   orders,
		invoices: invoices,
		payouts:  payouts,
		log:      log,
	}
}

// principal extracts the authenticated actor; every action endpoint requires
// one.
func (h *HTTPHandler) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p := middleware.PrincipalFrom(r.Context())
	if !p.Valid() {
		writeError(w, errors.New(errors.ErrCodeUnauthorized, "missing or invalid identity"))
		return auth.Principal{}, false
	}
	return p, true
}

// CreateOrder handles order placement by an advertiser.
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req service.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), p, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles get order requests.
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "order id is required"))
		return
	}

	order, err := h.orders.GetOrder(r.Context(), p, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// ListOrders handles list orders requests for the caller's side of the
// marketplace.
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var status *string
	if v := r.URL.Query().Get("status"); v != "" {
		status = &v
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	orders, total, err := h.orders.ListOrders(r.Context(), p, status, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders":   orders,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

type orderActionRequest struct {
	OrderID      string  `json:"order_id"`
	PublishedURL string  `json:"published_url,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	Feedback     string  `json:"feedback,omitempty"`
}

func decodeAction(w http.ResponseWriter, r *http.Request) (*orderActionRequest, bool) {
	var req orderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("body", "invalid request body"))
		return nil, false
	}
	if req.OrderID == "" {
		writeError(w, errors.InvalidInput("order_id", "order id is required"))
		return nil, false
	}
	return &req, true
}

// AcceptOrder handles publisher acceptance; issuing the invoice is its side
// effect.
func (h *HTTPHandler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	result, err := h.invoices.AcceptOrder(r.Context(), p, req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order":   result.Order,
		"payment": result.Payment,
		"warning": result.Warning,
	})
}

// RejectOrder handles publisher rejection of a pending order.
func (h *HTTPHandler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	order, err := h.orders.RejectOrder(r.Context(), p, req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// SubmitWork handles work delivery (and redelivery after revision).
func (h *HTTPHandler) SubmitWork(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	order, err := h.orders.SubmitWork(r.Context(), p, req.OrderID, req.PublishedURL)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// ApproveOrder handles advertiser approval of delivered work.
func (h *HTTPHandler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	order, err := h.orders.ApproveOrder(r.Context(), p, req.OrderID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// RequestRevision handles advertiser revision requests.
func (h *HTTPHandler) RequestRevision(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	order, err := h.orders.RequestRevision(r.Context(), p, req.OrderID, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// RequestPayout handles the advertiser releasing funds to the publisher.
func (h *HTTPHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	payout, err := h.payouts.RequestPayout(r.Context(), p, req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, payout)
}

// DisputeOrder handles either party raising a dispute.
func (h *HTTPHandler) DisputeOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}

	order, err := h.orders.DisputeOrder(r.Context(), p, req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// ── response helpers ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps an error to its HTTP status. 5xx responses get a generic
// message; internal details (including reconciliation context) stay in the
// logs.
func writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	message := err.Error()
	if status >= 500 {
		message = "internal error"
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    string(errors.CodeOf(err)),
			"message": message,
		},
	})
}
