package hiverpc

import "fmt"

// TransportError reports a failed RPC exchange: network failure, a non-2xx
// response, or a JSON-RPC error member. The cursor-holding callers treat it
// as retryable.
type TransportError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc transport failed for %s against %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a payload that arrived but could not be decoded.
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s response: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
