package clnrest

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
)

// scope selects which rune is attached to a request.
type scope int

const (
	scopeRead scope = iota
	scopeInvoice
	scopePay
)

// newHTTPClient builds the single shared HTTP client for a validated
// Config. The client carries no global timeout: payments and the
// paid-invoice stream are deliberately unbounded, short operations bound
// themselves with context deadlines.
func newHTTPClient(cfg Config) (*http.Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		ForceAttemptHTTP2: true,
	}

	if u.Scheme == "https" {
		pool, err := loadTrustAnchor(cfg.TrustMaterial)
		if err != nil {
			return nil, err
		}
		// The configured cert replaces the system store entirely; the
		// node's identity is pinned via ServerName.
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			ServerName: u.Hostname(),
			MinVersion: tls.VersionTLS12,
		}
	}

	return &http.Client{Transport: transport}, nil
}

// loadTrustAnchor resolves the trust material: an existing file path is
// read from disk, anything else is treated as inline PEM.
func loadTrustAnchor(material string) (*x509.CertPool, error) {
	pem := []byte(material)
	if info, err := os.Stat(material); err == nil && !info.IsDir() {
		pem, err = os.ReadFile(material)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate file: %w", err)
		}
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("trust material is neither a readable certificate file nor valid PEM")
	}
	return pool, nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// headers returns the full header set for one request: JSON content
// negotiation, the client identifier, the node id and the scope's rune.
func (c *Client) headers(s scope) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", userAgent)
	if c.cfg.NodeID != "" {
		h.Set("Nodeid", c.cfg.NodeID)
	}
	switch s {
	case scopeInvoice:
		h.Set("Rune", c.cfg.InvoiceRune)
	case scopePay:
		h.Set("Rune", c.cfg.PayRune)
	default:
		h.Set("Rune", c.cfg.ReadRune)
	}
	return h
}
