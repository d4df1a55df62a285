package clnrest

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// userAgent is the client identifier sent on every request.
const userAgent = "clnfund/0.3"

// Config holds the validated connection parameters for one clnrest
// endpoint. The URL scheme selects the security mode: "http" is accepted
// for loopback hosts only, "https" requires TrustMaterial. Config is
// validated once in New and never mutated afterwards.
type Config struct {
	// BaseURL is the node's clnrest base URL, e.g. "https://node:3010".
	BaseURL string

	// NodeID is sent as the "nodeid" header on every request.
	NodeID string

	// ReadRune authorizes read-only calls (listfunds, listinvoices,
	// listpays, waitanyinvoice). Required.
	ReadRune string

	// InvoiceRune authorizes invoice creation. Optional; its absence
	// turns CreateInvoice into a capability error.
	InvoiceRune string

	// PayRune authorizes payments. Optional; its absence turns
	// PayInvoice into a capability error.
	PayRune string

	// TrustMaterial is the node certificate, either a path to a PEM file
	// or the inline PEM itself. The file path wins when it exists on
	// disk. Required for https URLs; the cert is the sole trust anchor,
	// the system store is not consulted.
	TrustMaterial string

	// Network names the chain used to decode BOLT11 invoices:
	// "bitcoin" (default), "testnet", "signet" or "regtest".
	Network string

	// LabelPrefix is the stable part of generated invoice labels.
	LabelPrefix string

	// RequestTimeout bounds the short request/response operations.
	// Payments and the invoice stream are never bounded by it.
	RequestTimeout time.Duration

	// Backoff is the reconnect policy of the paid-invoice stream.
	Backoff Backoff

	// StreamWaitSeconds is the node-side timeout sent on waitanyinvoice.
	StreamWaitSeconds int
}

const (
	defaultLabelPrefix    = "clnfund"
	defaultRequestTimeout = 10 * time.Second
	defaultStreamWait     = 600
)

func (c *Config) applyDefaults() {
	if c.LabelPrefix == "" {
		c.LabelPrefix = defaultLabelPrefix
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.StreamWaitSeconds <= 0 {
		c.StreamWaitSeconds = defaultStreamWait
	}
	c.Backoff = c.Backoff.withDefaults()
	if c.Network == "" {
		c.Network = "bitcoin"
	}
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("missing clnrest base URL")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid clnrest base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		if !isLoopbackHost(u.Hostname()) {
			return fmt.Errorf("plaintext connections are only allowed to loopback hosts, got %q", u.Hostname())
		}
	case "https":
		if c.TrustMaterial == "" {
			return fmt.Errorf("https endpoint requires trust material (certificate path or inline PEM)")
		}
	default:
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if c.ReadRune == "" {
		return fmt.Errorf("missing read-only rune")
	}
	if _, err := chainParams(c.Network); err != nil {
		return err
	}
	return nil
}

func chainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "bitcoin", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(raw, "/")
}
