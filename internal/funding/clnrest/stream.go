package clnrest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"clnfund/internal/funding"
	"clnfund/internal/logging"
)

// StreamState is the observable state of the paid-invoice stream.
type StreamState int

const (
	StreamConnected StreamState = iota
	StreamReconnecting
)

func (s StreamState) String() string {
	if s == StreamConnected {
		return "connected"
	}
	return "reconnecting"
}

// Backoff is the reconnect policy: capped exponential, or fixed when
// Multiplier is 1.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = time.Second
	}
	if b.Max < b.Initial {
		b.Max = 30 * time.Second
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	return b
}

func (b Backoff) next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * b.Multiplier)
	if next > b.Max {
		return b.Max
	}
	return next
}

// invoiceStream consumes the node's waitanyinvoice long poll. It has two
// states, connected and reconnecting, and no terminal state: any
// transport, decode or node-reported error moves it to reconnecting, a
// backoff delay moves it back. The cursor is only ever touched by the
// stream goroutine, strictly after a well-formed event, so delivery is
// at-least-once in the node's own order.
type invoiceStream struct {
	client  *Client
	backoff Backoff
	events  chan funding.PaidInvoice

	mu           sync.Mutex
	state        StreamState
	lastErr      error
	lastPayIndex uint64
}

// PaidInvoices starts the paid-invoice stream. The returned channel
// carries one event per paid invoice and is closed only when ctx is
// cancelled; the stream survives every other error class.
func (c *Client) PaidInvoices(ctx context.Context) (<-chan funding.PaidInvoice, error) {
	if c.stream != nil {
		return nil, fmt.Errorf("paid-invoice stream already running")
	}
	s := &invoiceStream{
		client:  c,
		backoff: c.cfg.Backoff,
		events:  make(chan funding.PaidInvoice, 32),
		state:   StreamReconnecting,
	}
	c.stream = s
	go s.run(ctx)
	return s.events, nil
}

// StreamInfo is an observability snapshot of the paid-invoice stream.
type StreamInfo struct {
	Running bool
	State   StreamState
	LastErr error
}

// StreamInfo reports the stream's current state and last error.
func (c *Client) StreamInfo() StreamInfo {
	if c.stream == nil {
		return StreamInfo{}
	}
	c.stream.mu.Lock()
	defer c.stream.mu.Unlock()
	return StreamInfo{Running: true, State: c.stream.state, LastErr: c.stream.lastErr}
}

// LastPayIndex is the stream cursor: the pay index of the newest
// well-formed event observed.
func (c *Client) LastPayIndex() uint64 {
	if c.stream == nil {
		return 0
	}
	c.stream.mu.Lock()
	defer c.stream.mu.Unlock()
	return c.stream.lastPayIndex
}

func (s *invoiceStream) run(ctx context.Context) {
	defer close(s.events)

	delay := s.backoff.Initial
	for {
		s.setState(StreamConnected, nil)
		delivered, err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if delivered > 0 {
			delay = s.backoff.Initial
		}

		s.setState(StreamReconnecting, err)
		logging.Stream.WithError(err).Warnf("lost connection to paid-invoice stream, reconnecting in %s", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = s.backoff.next(delay)
	}
}

type waitInvoiceParams struct {
	LastPayIndex uint64 `json:"lastpay_index"`
	Timeout      int    `json:"timeout"`
}

// waitInvoiceMsg is one newline-delimited message off the long poll.
// Status and pay index are pointers: a message missing either is
// malformed and skipped without advancing the cursor.
type waitInvoiceMsg struct {
	Status      *string `json:"status"`
	PayIndex    *uint64 `json:"pay_index"`
	PaymentHash string  `json:"payment_hash"`
	Label       string  `json:"label"`
}

// consume holds one long-poll connection open and emits paid events
// until the connection ends or a message cannot be decoded. It returns
// how many events it delivered.
func (s *invoiceStream) consume(ctx context.Context) (int, error) {
	c := s.client

	body, err := json.Marshal(waitInvoiceParams{
		LastPayIndex: s.cursor(),
		Timeout:      c.cfg.StreamWaitSeconds,
	})
	if err != nil {
		return 0, err
	}

	// Deliberately no timeout: the read suspends until the next paid
	// invoice or the node-side wait timeout.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/waitanyinvoice", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header = c.headers(scopeRead)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &funding.TransportError{Op: "/v1/waitanyinvoice", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if nodeErr := parseNodeError(raw); nodeErr != nil {
			return 0, nodeErr
		}
		return 0, &funding.NodeError{Message: fmt.Sprintf("waitanyinvoice returned status %d", resp.StatusCode)}
	}

	delivered := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if nodeErr := parseNodeError(line); nodeErr != nil {
			return delivered, nodeErr
		}

		var msg waitInvoiceMsg
		if err := json.Unmarshal(line, &msg); err != nil {
			return delivered, &funding.ProtocolError{Detail: fmt.Sprintf("undecodable stream message: %v", err)}
		}
		if msg.Status == nil || msg.PayIndex == nil {
			logging.Stream.Debug("skipping stream message without status or pay_index")
			continue
		}

		s.advance(*msg.PayIndex)
		if *msg.Status != "paid" {
			continue
		}
		if msg.PaymentHash == "" {
			logging.Stream.WithField("label", msg.Label).Warn("paid event without payment_hash")
			continue
		}

		select {
		case s.events <- funding.PaidInvoice{PaymentHash: msg.PaymentHash, PayIndex: *msg.PayIndex}:
			delivered++
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return delivered, &funding.TransportError{Op: "/v1/waitanyinvoice", Err: err}
	}

	// The node closed the long poll, typically its wait timeout. An
	// ordinary reconnect with the current cursor misses nothing.
	return delivered, io.EOF
}

func (s *invoiceStream) cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPayIndex
}

func (s *invoiceStream) advance(index uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index > s.lastPayIndex {
		s.lastPayIndex = index
	}
}

func (s *invoiceStream) setState(state StreamState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if err != nil {
		s.lastErr = err
	}
}
