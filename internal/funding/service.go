package funding

import (
	"context"
	"sync"

	"clnfund/internal/logging"
)

// PaymentCallback is called once per settled invoice the service tracks.
type PaymentCallback func(paymentHash string)

// PendingInvoice is an invoice the service created and is waiting on.
type PendingInvoice struct {
	Reference string // caller-supplied, e.g. a ledger entry id
	Invoice   *Invoice
}

// Service tracks invoices created through it and dispatches paid-invoice
// events to a registered callback. It is the seam a wallet ledger plugs
// into; it holds no durable state.
type Service struct {
	backend Backend

	mu          sync.RWMutex
	pending     map[string]*PendingInvoice // keyed by payment hash
	byReference map[string]*PendingInvoice
	onPayment   PaymentCallback
}

// NewService creates a new funding service on top of a backend.
func NewService(backend Backend) *Service {
	return &Service{
		backend:     backend,
		pending:     make(map[string]*PendingInvoice),
		byReference: make(map[string]*PendingInvoice),
	}
}

// CreateInvoice issues an invoice and tracks it under the given
// reference until it settles.
func (s *Service) CreateInvoice(ctx context.Context, reference string, req InvoiceRequest) (*Invoice, error) {
	inv, err := s.backend.CreateInvoice(ctx, req)
	if err != nil {
		return nil, err
	}

	pending := &PendingInvoice{
		Reference: reference,
		Invoice:   inv,
	}

	s.mu.Lock()
	s.pending[inv.PaymentHash] = pending
	s.byReference[reference] = pending
	s.mu.Unlock()

	return inv, nil
}

// PendingByReference returns the pending invoice for a reference.
func (s *Service) PendingByReference(reference string) (*PendingInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending, ok := s.byReference[reference]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return pending, nil
}

// SetPaymentCallback registers the callback fired when a tracked invoice
// settles.
func (s *Service) SetPaymentCallback(cb PaymentCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPayment = cb
}

// StartPaymentWatcher consumes the backend's paid-invoice stream and
// settles tracked invoices. It returns once the stream is attached; the
// watcher goroutine runs until ctx is cancelled.
func (s *Service) StartPaymentWatcher(ctx context.Context) error {
	events, err := s.backend.PaidInvoices(ctx)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.handlePayment(ev.PaymentHash)
			}
		}
	}()

	return nil
}

func (s *Service) handlePayment(paymentHash string) {
	s.mu.Lock()
	pending, ok := s.pending[paymentHash]
	cb := s.onPayment
	if ok {
		delete(s.pending, paymentHash)
		delete(s.byReference, pending.Reference)
	}
	s.mu.Unlock()

	if !ok {
		// Paid invoices not created through this service are normal:
		// delivery is at-least-once and other issuers may share the node.
		logging.Internal.WithField("payment_hash", paymentHash).Debug("paid invoice not tracked here")
		return
	}

	logging.Internal.WithField("payment_hash", paymentHash).Info("invoice settled")

	if cb != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Internal.Errorf("payment callback panic for %s: %v", paymentHash, r)
				}
			}()
			cb(paymentHash)
		}()
	}
}
