package processor

import "fmt"

// AuthError means the merchant credentials were rejected. Fatal until
// configuration changes; counts as a circuit breaker failure.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("processor authentication failed: %s %s", e.Code, e.Message)
}

// ValidationError means the request never left the client: card or billing
// input failed pre-flight validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// TransactionError is a processor-level rejection with a specific response
// code. Never retried and never trips the circuit breaker.
type TransactionError struct {
	TransactionID string
	ResponseCode  string
	Code          string
	Message       string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed: code=%s response_code=%s %s", e.Code, e.ResponseCode, e.Message)
}

// NetworkError covers connect, read, TLS and decode failures. Retryable by
// callers; counts as a circuit breaker failure.
type NetworkError struct {
	Operation string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("processor %s failed: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
