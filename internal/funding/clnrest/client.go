// Package clnrest adapts a Core Lightning node's clnrest HTTP control
// plane to the funding.Backend capability interface. Authorization uses
// scoped rune tokens: one read-only rune (required) plus optional invoice
// and pay runes that each gate their operation.
package clnrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/zpay32"

	"clnfund/internal/funding"
	"clnfund/internal/logging"
)

// Client implements funding.Backend against one clnrest endpoint. All
// operations share a single HTTP client; the paid-invoice stream runs
// concurrently with request/response calls over the same client.
type Client struct {
	cfg  Config
	http *http.Client

	// decodeInvoice is swappable so tests can control decoded amounts
	// without minting signed invoices.
	decodeInvoice func(string) (*zpay32.Invoice, error)

	stream *invoiceStream
}

var _ funding.Backend = (*Client)(nil)

// New validates the configuration and builds the client. It performs no
// network calls.
func New(cfg Config) (*Client, error) {
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("cannot initialize clnrest backend: %w", err)
	}

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot initialize clnrest backend: %w", err)
	}

	chain, err := chainParams(cfg.Network)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:  cfg,
		http: httpClient,
		decodeInvoice: func(raw string) (*zpay32.Invoice, error) {
			return zpay32.Decode(raw, chain)
		},
	}, nil
}

// Close releases idle connections. It never fails; stream shutdown is
// driven by the caller's context.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type listFundsResponse struct {
	Channels []struct {
		OurAmountMsat MilliSat `json:"our_amount_msat"`
	} `json:"channels"`
}

// Balance returns the total owned millisatoshi across open channels. A
// response without channels means zero, not an error.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	ctx, cancel := c.shortCtx(ctx)
	defer cancel()

	var resp listFundsResponse
	if err := c.post(ctx, scopeRead, "/v1/listfunds", struct{}{}, &resp); err != nil {
		return 0, err
	}

	var total int64
	for _, ch := range resp.Channels {
		total += int64(ch.OurAmountMsat)
	}
	return total, nil
}

type invoiceParams struct {
	AmountMsat  int64  `json:"amount_msat"`
	Description string `json:"description"`
	Label       string `json:"label"`
	Expiry      int64  `json:"expiry,omitempty"`
	Preimage    string `json:"preimage,omitempty"`
}

type invoiceResponse struct {
	PaymentHash string `json:"payment_hash"`
	Bolt11      string `json:"bolt11"`
}

// CreateInvoice issues an invoice using the invoice rune.
func (c *Client) CreateInvoice(ctx context.Context, req funding.InvoiceRequest) (*funding.Invoice, error) {
	if c.cfg.InvoiceRune == "" {
		return nil, &funding.CapabilityError{Scope: "invoice"}
	}
	if req.DescriptionHash != "" && req.UnhashedDescription == "" {
		return nil, &funding.ValidationError{
			Reason: "'description_hash' requires 'unhashed_description' on this backend",
		}
	}

	description := req.Memo
	if req.UnhashedDescription != "" {
		description = req.UnhashedDescription
	}

	label := c.newLabel()
	params := invoiceParams{
		AmountMsat:  satToMsat(req.AmountSat),
		Description: description,
		Label:       label,
		Expiry:      req.ExpirySeconds,
		Preimage:    req.Preimage,
	}

	logging.Node.WithField("label", label).Debugf("creating invoice for %d sat", req.AmountSat)

	ctx, cancel := c.shortCtx(ctx)
	defer cancel()

	var resp invoiceResponse
	if err := c.post(ctx, scopeInvoice, "/v1/invoice", params, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentHash == "" || resp.Bolt11 == "" {
		return nil, &funding.ProtocolError{Detail: "invoice response missing payment_hash or bolt11"}
	}

	return &funding.Invoice{
		PaymentHash: resp.PaymentHash,
		Bolt11:      resp.Bolt11,
		Label:       label,
	}, nil
}

type payParams struct {
	Bolt11        string `json:"bolt11"`
	Label         string `json:"label,omitempty"`
	Description   string `json:"description,omitempty"`
	MaxFeePercent string `json:"maxfeepercent"`
	ExemptFee     int64  `json:"exemptfee"`
}

type payResponse struct {
	Status         string   `json:"status"`
	PaymentHash    string   `json:"payment_hash"`
	Preimage       string   `json:"payment_preimage"`
	AmountMsat     MilliSat `json:"amount_msat"`
	AmountSentMsat MilliSat `json:"amount_sent_msat"`
}

// hardFailureCodes are node error codes that prove the payment did not
// and will not execute. Any other structured error leaves the outcome
// unknown: a REST failure alone is not proof the payment failed.
var hardFailureCodes = map[int]bool{
	-1:  true, // generic RPC failure
	201: true, // already paid with a different amount/destination
	203: true, // permanent failure at destination
	205: true, // unable to find a route
	206: true, // route too expensive
	207: true, // invoice expired
	210: true, // payment timed out without a permanent failure
}

// PayInvoice pays a BOLT11 invoice. The absolute fee limit is translated
// into the node's native maxfeepercent unit; exemptfee is zeroed so the
// percentage applies even to small payments. The call is not bounded by
// the request timeout: payments may legitimately outlive it.
func (c *Client) PayInvoice(ctx context.Context, bolt11 string, feeLimitMsat int64) (funding.PaymentOutcome, error) {
	if c.cfg.PayRune == "" {
		return funding.PaymentOutcome{}, &funding.CapabilityError{Scope: "pay"}
	}

	decoded, err := c.decodeInvoice(bolt11)
	if err != nil {
		return funding.PaymentOutcome{
			State:        funding.StateFailed,
			ErrorMessage: err.Error(),
		}, nil
	}
	if decoded.MilliSat == nil || *decoded.MilliSat <= 0 {
		return funding.PaymentOutcome{
			State:        funding.StateFailed,
			ErrorMessage: "0 amount invoices are not allowed",
		}, nil
	}
	amountMsat := int64(*decoded.MilliSat)

	params := payParams{
		Bolt11:        bolt11,
		Label:         c.newLabel(),
		MaxFeePercent: formatFeePercent(feeLimitMsat, amountMsat),
		ExemptFee:     0,
	}
	if decoded.Description != nil {
		params.Description = *decoded.Description
	}

	var resp payResponse
	if err := c.post(ctx, scopePay, "/v1/pay", params, &resp); err != nil {
		return classifyPayError(err), nil
	}

	if resp.Status == "" || resp.PaymentHash == "" {
		logging.Node.Warn("pay response missing status or payment_hash")
		return funding.PaymentOutcome{
			State:        funding.StateUnknown,
			ErrorMessage: "pay response missing status or payment_hash",
		}, nil
	}

	switch translateStatus(resp.Status) {
	case funding.StateSettled:
		return funding.PaymentOutcome{
			State:      funding.StateSettled,
			CheckingID: resp.PaymentHash,
			FeeMsat:    int64(resp.AmountSentMsat) - int64(resp.AmountMsat),
			Preimage:   resp.Preimage,
		}, nil
	case funding.StateFailed:
		return funding.PaymentOutcome{
			State:        funding.StateFailed,
			CheckingID:   resp.PaymentHash,
			ErrorMessage: "payment failed",
		}, nil
	default:
		return funding.PaymentOutcome{
			State:      funding.StateUnknown,
			CheckingID: resp.PaymentHash,
		}, nil
	}
}

// classifyPayError maps a failed /v1/pay call to an outcome. Only
// recognized hard-failure codes prove failure; everything else, including
// transport errors, is indeterminate.
func classifyPayError(err error) funding.PaymentOutcome {
	var nodeErr *funding.NodeError
	if errors.As(err, &nodeErr) {
		if hardFailureCodes[nodeErr.Code] {
			return funding.PaymentOutcome{
				State:        funding.StateFailed,
				ErrorMessage: "Payment failed: " + nodeErr.Message,
			}
		}
		return funding.PaymentOutcome{
			State:        funding.StateUnknown,
			ErrorMessage: nodeErr.Message,
		}
	}
	return funding.PaymentOutcome{
		State:        funding.StateUnknown,
		ErrorMessage: err.Error(),
	}
}

// formatFeePercent converts an absolute msat ceiling into the node's
// percentage unit, formatted to the precision the numeric field accepts.
func formatFeePercent(feeLimitMsat, amountMsat int64) string {
	percent := float64(feeLimitMsat) / float64(amountMsat) * 100
	return strconv.FormatFloat(percent, 'g', 11, 64)
}

type checkingIDParams struct {
	PaymentHash string `json:"payment_hash"`
}

type listInvoicesResponse struct {
	Invoices []struct {
		PaymentHash string `json:"payment_hash"`
		Status      string `json:"status"`
	} `json:"invoices"`
}

// InvoiceStatus reports the settlement state of an issued invoice. A
// query failure is not proof of invoice failure, so every error path
// reports unknown.
func (c *Client) InvoiceStatus(ctx context.Context, checkingID string) (funding.PaymentStatus, error) {
	ctx, cancel := c.shortCtx(ctx)
	defer cancel()

	var resp listInvoicesResponse
	err := c.post(ctx, scopeRead, "/v1/listinvoices", checkingIDParams{PaymentHash: checkingID}, &resp)
	if err != nil {
		logging.Node.WithError(err).Debug("invoice status query failed")
		return funding.PaymentStatus{State: funding.StateUnknown}, nil
	}
	if len(resp.Invoices) == 0 {
		return funding.PaymentStatus{State: funding.StateUnknown}, nil
	}

	return funding.PaymentStatus{State: translateStatus(resp.Invoices[0].Status)}, nil
}

type listPaysResponse struct {
	Pays []struct {
		Status         string   `json:"status"`
		Preimage       string   `json:"preimage"`
		AmountMsat     MilliSat `json:"amount_msat"`
		AmountSentMsat MilliSat `json:"amount_sent_msat"`
	} `json:"pays"`
}

// PaymentStatus reports the state of an outgoing payment. An empty result
// set means the payment was not attempted yet and reports unknown; more
// than one record for a payment hash violates the uniqueness invariant
// and is a hard error.
func (c *Client) PaymentStatus(ctx context.Context, checkingID string) (funding.PaymentStatus, error) {
	ctx, cancel := c.shortCtx(ctx)
	defer cancel()

	var resp listPaysResponse
	err := c.post(ctx, scopeRead, "/v1/listpays", checkingIDParams{PaymentHash: checkingID}, &resp)
	if err != nil {
		logging.Node.WithError(err).Debug("payment status query failed")
		return funding.PaymentStatus{State: funding.StateUnknown}, nil
	}
	if len(resp.Pays) == 0 {
		return funding.PaymentStatus{State: funding.StateUnknown}, nil
	}
	if len(resp.Pays) > 1 {
		return funding.PaymentStatus{}, &funding.ProtocolError{
			Detail: fmt.Sprintf("%d payment records for payment_hash %s", len(resp.Pays), checkingID),
		}
	}

	rec := resp.Pays[0]
	status := funding.PaymentStatus{State: translateStatus(rec.Status)}
	if status.State == funding.StateSettled {
		status.FeeMsat = int64(rec.AmountSentMsat) - int64(rec.AmountMsat)
		status.Preimage = rec.Preimage
	}
	return status, nil
}

// newLabel builds a node-side label: stable prefix plus a high-entropy
// suffix so concurrent calls never collide on the node.
func (c *Client) newLabel() string {
	return c.cfg.LabelPrefix + " " + uuid.NewString()
}

// shortCtx bounds request/response operations that must not hang on a
// dead node. Callers that already set a deadline keep it.
func (c *Client) shortCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// post issues one JSON request and decodes the response into out. Node
// error payloads are surfaced as *funding.NodeError regardless of HTTP
// status; malformed success bodies become *funding.ProtocolError.
func (c *Client) post(ctx context.Context, s scope, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = c.headers(s)

	resp, err := c.http.Do(req)
	if err != nil {
		return &funding.TransportError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &funding.TransportError{Op: path, Err: err}
	}

	if nodeErr := parseNodeError(raw); nodeErr != nil {
		return nodeErr
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &funding.NodeError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &funding.ProtocolError{Detail: fmt.Sprintf("undecodable response from %s: %v", path, err)}
		}
	}
	return nil
}

// parseNodeError extracts a structured error payload. The node emits
// either {"error": {"code": n, "message": "..."}} or {"error": "..."}.
func parseNodeError(raw []byte) *funding.NodeError {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Error) == 0 || string(envelope.Error) == "null" {
		return nil
	}

	var structured struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &structured); err == nil && structured.Message != "" {
		return &funding.NodeError{Code: structured.Code, Message: structured.Message}
	}

	var plain string
	if err := json.Unmarshal(envelope.Error, &plain); err == nil {
		return &funding.NodeError{Message: plain}
	}
	return &funding.NodeError{Message: strings.TrimSpace(string(envelope.Error))}
}
