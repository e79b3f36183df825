package client

// BuyerContact identifies the invoice recipient.
type BuyerContact struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// InvoiceResult is the processor's answer to a create-invoice call.
type InvoiceResult struct {
	InvoiceID  string `json:"invoice_id"`
	InvoiceURL string `json:"invoice_url"`
}

// PayoutResult is the processor's answer to a create-payout call. ItemID may
// be empty; the processor does not always echo it back synchronously.
type PayoutResult struct {
	BatchID string `json:"batch_id"`
	ItemID  string `json:"item_id"`
	Status  string `json:"status"`
}

// SignatureHeaders are the verification fields the processor attaches to
// every webhook delivery.
type SignatureHeaders struct {
	TransmissionID   string `json:"transmission_id"`
	TransmissionTime string `json:"transmission_time"`
	TransmissionSig  string `json:"transmission_sig"`
	CertURL          string `json:"cert_url"`
}
