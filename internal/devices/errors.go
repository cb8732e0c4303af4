package devices

import "fmt"

// ErrorKind is the stable classification of an operation failure.
type ErrorKind string

const (
	// ErrorDeviceNotFound: the device path was not registered at dispatch
	// time. Raised locally; the bus is never contacted.
	ErrorDeviceNotFound ErrorKind = "DeviceNotFound"
	// ErrorBusFailure: the bus reported a method-level failure, e.g. the
	// hardware rejected a PIN. Detail carries the bus-reported reason.
	ErrorBusFailure ErrorKind = "BusFailure"
	// ErrorTimeout: no bus reply arrived within the configured window.
	ErrorTimeout ErrorKind = "Timeout"
	// ErrorTypeMismatch: a property value's type disagrees with the
	// recorded type for that property.
	ErrorTypeMismatch ErrorKind = "TypeMismatch"
)

// OpError is the terminal failure of one device operation. Immutable
// once delivered.
type OpError struct {
	Kind   ErrorKind
	Detail string
}

func (e *OpError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

func newOpError(kind ErrorKind, format string, args ...any) *OpError {
	return &OpError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// toOpError maps a bus-reported failure kind onto the local taxonomy.
// Kinds the bus invents are folded into BusFailure, preserving the
// original kind in the detail.
func toOpError(kind, detail string) *OpError {
	switch k := ErrorKind(kind); k {
	case ErrorDeviceNotFound, ErrorBusFailure, ErrorTimeout, ErrorTypeMismatch:
		return &OpError{Kind: k, Detail: detail}
	}
	if detail == "" {
		return &OpError{Kind: ErrorBusFailure, Detail: kind}
	}
	return &OpError{Kind: ErrorBusFailure, Detail: kind + ": " + detail}
}
