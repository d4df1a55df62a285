package funding

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"clnfund/internal/logging"
)

// MockBackend implements Backend in memory for development and testing.
type MockBackend struct {
	mu       sync.Mutex
	invoices map[string]*Invoice
	settled  map[string]bool
	events   chan PaidInvoice
	payIndex uint64

	// AutoSettle, when non-zero, settles every created invoice after the
	// given delay.
	AutoSettle time.Duration
}

// NewMockBackend creates a new mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		invoices: make(map[string]*Invoice),
		settled:  make(map[string]bool),
		events:   make(chan PaidInvoice, 100),
	}
}

func (m *MockBackend) Balance(ctx context.Context) (int64, error) {
	return 100_000_000, nil
}

func (m *MockBackend) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if req.DescriptionHash != "" && req.UnhashedDescription == "" {
		return nil, &ValidationError{Reason: "'description_hash' requires 'unhashed_description' on this backend"}
	}

	hash, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	label, err := randomHex(8)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		PaymentHash: hash,
		Bolt11:      "lnbc" + hash[:20], // fake BOLT11
		Label:       "mock " + label,
	}

	m.mu.Lock()
	m.invoices[hash] = inv
	m.mu.Unlock()

	if m.AutoSettle > 0 {
		go func() {
			time.Sleep(m.AutoSettle)
			logging.Internal.Debugf("mock: auto-settling invoice %s", hash[:8])
			m.SimulatePayment(hash)
		}()
	}

	return inv, nil
}

func (m *MockBackend) PayInvoice(ctx context.Context, bolt11 string, feeLimitMsat int64) (PaymentOutcome, error) {
	preimage, err := randomHex(32)
	if err != nil {
		return PaymentOutcome{}, err
	}
	hash, err := randomHex(32)
	if err != nil {
		return PaymentOutcome{}, err
	}
	return PaymentOutcome{
		State:      StateSettled,
		CheckingID: hash,
		FeeMsat:    0,
		Preimage:   preimage,
	}, nil
}

func (m *MockBackend) InvoiceStatus(ctx context.Context, checkingID string) (PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled[checkingID] {
		return PaymentStatus{State: StateSettled}, nil
	}
	return PaymentStatus{State: StateUnknown}, nil
}

func (m *MockBackend) PaymentStatus(ctx context.Context, checkingID string) (PaymentStatus, error) {
	return PaymentStatus{State: StateSettled}, nil
}

func (m *MockBackend) PaidInvoices(ctx context.Context) (<-chan PaidInvoice, error) {
	return m.events, nil
}

// SimulatePayment marks an invoice paid and emits its stream event.
func (m *MockBackend) SimulatePayment(paymentHash string) {
	m.mu.Lock()
	m.settled[paymentHash] = true
	m.payIndex++
	index := m.payIndex
	m.mu.Unlock()

	m.events <- PaidInvoice{PaymentHash: paymentHash, PayIndex: index}
}

func (m *MockBackend) Close() error {
	close(m.events)
	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
