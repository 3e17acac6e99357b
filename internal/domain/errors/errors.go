package errors

import (
	"errors"
	"net/http"
)

// Kind classifies an error into the taxonomy surfaced over the API.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindRateLimit      Kind = "rate_limit"
	KindPayment        Kind = "payment"
	KindExternal       Kind = "external_service"
	KindDatabase       Kind = "database"
	KindCache          Kind = "cache"
	KindWebhook        Kind = "webhook"
	KindInternal       Kind = "internal"
)

// Domain sentinel errors
var (
	ErrNotFound            = errors.New("resource not found")
	ErrAlreadyExists       = errors.New("resource already exists")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidTransition   = errors.New("invalid payment state transition")
	ErrRefundExceedsAmount = errors.New("refund exceeds remaining refundable amount")
	ErrRateLimited         = errors.New("rate limited")
	ErrServiceUnavailable  = errors.New("upstream service unavailable")
	ErrNotImplemented      = errors.New("not implemented")
)

// CoreError is the tagged error carried through all layers. Kind determines
// the HTTP status; Code is the machine-readable code in the error envelope.
type CoreError struct {
	Kind    Kind                   `json:"kind"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
	Err     error                  `json:"-"`
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to the API status code.
func (e *CoreError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindPayment:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindExternal:
		return http.StatusBadGateway
	case KindWebhook:
		return http.StatusBadRequest
	case KindDatabase, KindCache:
		return http.StatusInternalServerError
	default:
		if errors.Is(e.Err, ErrNotImplemented) {
			return http.StatusNotImplemented
		}
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the client may usefully retry.
func (e *CoreError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindExternal, KindDatabase, KindCache:
		return true
	default:
		return false
	}
}

// New creates a CoreError.
func New(kind Kind, code, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: message, Err: err}
}

// WithContext attaches a context map and returns the error.
func (e *CoreError) WithContext(ctx map[string]interface{}) *CoreError {
	e.Context = ctx
	return e
}

// Common constructors

func Validation(code, message string) *CoreError {
	return New(KindValidation, code, message, ErrInvalidInput)
}

func Authentication(message string) *CoreError {
	return New(KindAuthentication, "unauthorized", message, ErrUnauthorized)
}

func Authorization(message string) *CoreError {
	return New(KindAuthorization, "forbidden", message, ErrForbidden)
}

func NotFound(message string) *CoreError {
	return New(KindNotFound, "not_found", message, ErrNotFound)
}

func Conflict(code, message string) *CoreError {
	return New(KindConflict, code, message, ErrAlreadyExists)
}

func RateLimit(message string, retryAfterSeconds int) *CoreError {
	e := New(KindRateLimit, "rate_limited", message, ErrRateLimited)
	e.Context = map[string]interface{}{"retry_after": retryAfterSeconds}
	return e
}

func Payment(code, message string) *CoreError {
	return New(KindPayment, code, message, nil)
}

func External(message string, err error) *CoreError {
	return New(KindExternal, "external_service_error", message, err)
}

func Database(message string, err error) *CoreError {
	return New(KindDatabase, "database_error", message, err)
}

func CacheErr(message string, err error) *CoreError {
	return New(KindCache, "cache_error", message, err)
}

func Webhook(code, message string, err error) *CoreError {
	return New(KindWebhook, code, message, err)
}

func Internal(err error) *CoreError {
	return New(KindInternal, "internal_error", "internal server error", err)
}

func NotImplemented(message string) *CoreError {
	e := New(KindInternal, "not_implemented", message, ErrNotImplemented)
	return e
}

// AsCoreError extracts a *CoreError from err, wrapping unknown errors as
// internal.
func AsCoreError(err error) *CoreError {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return Internal(err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
