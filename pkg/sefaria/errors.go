package sefaria

import "fmt"

// ErrorKind classifies gateway failures so callers can react without string
// matching.
type ErrorKind int

const (
	// KindUpstream marks transient upstream failures that survived retries.
	KindUpstream ErrorKind = iota
	// KindInvalid marks requests rejected by a local guard before any
	// network call.
	KindInvalid
	// KindOversized marks thinned payloads that still exceed the byte
	// ceiling; the caller should narrow the request.
	KindOversized
)

// GatewayError is the only error type gateway operations return. It is a
// structured value, never a raw transport exception.
type GatewayError struct {
	Op      string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Source tags the internal stage that produced the error, for the response
// envelope's diagnostic field.
func (e *GatewayError) Source() string {
	if e.Kind == KindOversized {
		return "thinning"
	}
	return "network"
}

func upstreamErr(op string, err error) *GatewayError {
	return &GatewayError{Op: op, Kind: KindUpstream, Message: "upstream request failed", Err: err}
}

func invalidErr(op, message string) *GatewayError {
	return &GatewayError{Op: op, Kind: KindInvalid, Message: message}
}

func oversizedErr(op string) *GatewayError {
	return &GatewayError{Op: op, Kind: KindOversized, Message: "payload too large, narrow your request"}
}
