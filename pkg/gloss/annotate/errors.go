package annotate

import "fmt"

// TransportError is a network-level failure from the annotation service:
// rate limiting, server overload, timeouts. Retryable errors are re-issued
// with exponential backoff up to the transport retry budget; non-retryable
// ones abort the batch immediately.
type TransportError struct {
	Status    int // HTTP status, zero when the request never completed
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("annotation service: http %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("annotation service: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError is a structurally unusable response: not JSON, not an
// object, or missing a required top-level container. The call is re-issued
// under the validation retry budget.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid annotation response: " + e.Reason
}

// IntegrationError is a response that passed top-level validation but failed
// a later shape assumption. It is not retried; the batch is marked failed.
type IntegrationError struct {
	Reason string
	Err    error
}

func (e *IntegrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("annotation response rejected: %s: %v", e.Reason, e.Err)
	}
	return "annotation response rejected: " + e.Reason
}

func (e *IntegrationError) Unwrap() error { return e.Err }
