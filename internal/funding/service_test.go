package funding

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestService_CreateInvoice(t *testing.T) {
	backend := NewMockBackend()
	svc := NewService(backend)

	ctx := context.Background()

	inv, err := svc.CreateInvoice(ctx, "ledger-entry-1234", InvoiceRequest{AmountSat: 1000, Memo: "coffee"})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	if inv.PaymentHash == "" {
		t.Error("expected non-empty payment hash")
	}
	if inv.Bolt11 == "" {
		t.Error("expected non-empty bolt11")
	}

	pending, err := svc.PendingByReference("ledger-entry-1234")
	if err != nil {
		t.Fatalf("pending lookup failed: %v", err)
	}
	if pending.Invoice.PaymentHash != inv.PaymentHash {
		t.Error("payment hash mismatch")
	}
}

func TestService_PaymentWatcher(t *testing.T) {
	backend := NewMockBackend()
	svc := NewService(backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var settled []string
	svc.SetPaymentCallback(func(paymentHash string) {
		mu.Lock()
		settled = append(settled, paymentHash)
		mu.Unlock()
	})

	if err := svc.StartPaymentWatcher(ctx); err != nil {
		t.Fatalf("start watcher failed: %v", err)
	}

	inv, err := svc.CreateInvoice(ctx, "ledger-entry-5678", InvoiceRequest{AmountSat: 500})
	if err != nil {
		t.Fatal(err)
	}

	backend.SimulatePayment(inv.PaymentHash)

	// Give the watcher goroutine time to process.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	if len(settled) != 1 || settled[0] != inv.PaymentHash {
		t.Errorf("callback got %v, want [%s]", settled, inv.PaymentHash)
	}
	mu.Unlock()

	if _, err := svc.PendingByReference("ledger-entry-5678"); err != ErrInvoiceNotFound {
		t.Error("expected pending invoice to be cleared")
	}
}

func TestService_CallbackPanicIsContained(t *testing.T) {
	backend := NewMockBackend()
	svc := NewService(backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.SetPaymentCallback(func(paymentHash string) {
		panic("ledger exploded")
	})

	if err := svc.StartPaymentWatcher(ctx); err != nil {
		t.Fatal(err)
	}

	inv, err := svc.CreateInvoice(ctx, "ref-a", InvoiceRequest{AmountSat: 1})
	if err != nil {
		t.Fatal(err)
	}
	backend.SimulatePayment(inv.PaymentHash)
	time.Sleep(50 * time.Millisecond)

	// The watcher must survive the panic and keep settling invoices.
	inv2, err := svc.CreateInvoice(ctx, "ref-b", InvoiceRequest{AmountSat: 2})
	if err != nil {
		t.Fatal(err)
	}
	backend.SimulatePayment(inv2.PaymentHash)
	time.Sleep(50 * time.Millisecond)

	if _, err := svc.PendingByReference("ref-b"); err != ErrInvoiceNotFound {
		t.Error("expected second invoice to settle after callback panic")
	}
}

func TestService_UntrackedPaymentIgnored(t *testing.T) {
	backend := NewMockBackend()
	svc := NewService(backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.StartPaymentWatcher(ctx); err != nil {
		t.Fatal(err)
	}

	// A paid invoice this service never issued must not disturb it.
	backend.SimulatePayment("someone-elses-hash")
	time.Sleep(50 * time.Millisecond)

	inv, err := svc.CreateInvoice(ctx, "ref-c", InvoiceRequest{AmountSat: 3})
	if err != nil {
		t.Fatal(err)
	}
	backend.SimulatePayment(inv.PaymentHash)
	time.Sleep(50 * time.Millisecond)

	if _, err := svc.PendingByReference("ref-c"); err != ErrInvoiceNotFound {
		t.Error("expected tracked invoice to settle")
	}
}
