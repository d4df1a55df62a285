package funding

import (
	"context"
)

// InvoiceRequest describes an invoice to be issued against the node.
type InvoiceRequest struct {
	AmountSat int64
	Memo      string

	// DescriptionHash may only be set together with UnhashedDescription:
	// the node dialect cannot accept a hash alone.
	DescriptionHash     string
	UnhashedDescription string

	ExpirySeconds int64
	Preimage      string
}

// Invoice is a successfully issued invoice.
type Invoice struct {
	PaymentHash string
	Bolt11      string // BOLT11 encoded invoice
	Label       string // adapter-generated, unique per call
}

// PaymentOutcome is the result of a payment attempt. State is tri-valued:
// StateUnknown means the payment may still be in flight or its fate could
// not be determined; it is never a synonym for failure.
type PaymentOutcome struct {
	State        TriState
	CheckingID   string
	FeeMsat      int64
	Preimage     string
	ErrorMessage string
}

// PaymentStatus is the result of an invoice or payment status query.
type PaymentStatus struct {
	State    TriState
	FeeMsat  int64
	Preimage string
}

// PaidInvoice is one event from the paid-invoice stream.
type PaidInvoice struct {
	PaymentHash string
	PayIndex    uint64
}

// Backend defines the funding capability a wallet ledger consumes.
// Implementations translate these operations onto a specific node.
type Backend interface {
	// Balance reports the total owned millisatoshi across open channels.
	Balance(ctx context.Context) (int64, error)

	// CreateInvoice issues a new invoice.
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)

	// PayInvoice pays a BOLT11 invoice with an absolute fee ceiling in
	// millisatoshi. Expected failure modes are reported in the outcome;
	// the error is reserved for capability misconfiguration.
	PayInvoice(ctx context.Context, bolt11 string, feeLimitMsat int64) (PaymentOutcome, error)

	// InvoiceStatus queries the settlement state of an issued invoice.
	InvoiceStatus(ctx context.Context, checkingID string) (PaymentStatus, error)

	// PaymentStatus queries the state of an outgoing payment.
	PaymentStatus(ctx context.Context, checkingID string) (PaymentStatus, error)

	// PaidInvoices starts the long-running paid-invoice stream. The
	// channel delivers at-least-once and is closed when ctx is cancelled;
	// it is never closed due to a transport failure.
	PaidInvoices(ctx context.Context) (<-chan PaidInvoice, error)

	Close() error
}
