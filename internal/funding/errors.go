package funding

import (
	"errors"
	"fmt"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// CapabilityError means the token required for an operation's scope was
// never configured. The operation was not attempted over the network.
type CapabilityError struct {
	Scope string // "readonly", "invoice" or "pay"
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("no %s token configured for this operation", e.Scope)
}

// ValidationError means the caller-supplied request violates a
// precondition. The operation was not attempted over the network.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// TransportError wraps a connect, read, write or TLS failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the node responded but violated the expected
// response shape.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return "node violated protocol: " + e.Detail
}

// NodeError is a structured error payload reported by the node.
type NodeError struct {
	Code    int
	Message string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node reported error %d: %s", e.Code, e.Message)
}
