package response

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	domainerrors "easypay.backend/internal/domain/errors"
	"easypay.backend/pkg/resilience"
	"easypay.backend/pkg/utils"
)

// ErrorBody is the error envelope every non-2xx response carries.
// RetryAfter is set on rate-limit rejections only, in seconds.
type ErrorBody struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Envelope wraps the error body with the response timestamp.
type Envelope struct {
	Error     ErrorBody `json:"error"`
	Timestamp string    `json:"timestamp"`
}

// ListMeta wraps list payloads with pagination metadata.
type ListMeta struct {
	Data interface{}          `json:"data"`
	Meta utils.PaginationMeta `json:"meta"`
}

// Success sends a success response
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// List sends a paginated list response
func List(c *gin.Context, data interface{}, meta utils.PaginationMeta) {
	c.JSON(http.StatusOK, ListMeta{Data: data, Meta: meta})
}

// Error maps a domain error onto the wire envelope. A processor outage the
// circuit breaker short-circuited is surfaced as 503 rather than 502: the
// client should back off, not blame the gateway.
func Error(c *gin.Context, err error) {
	ce := domainerrors.AsCoreError(err)
	status := ce.HTTPStatus()

	if errors.Is(ce, resilience.ErrCircuitOpen) {
		status = http.StatusServiceUnavailable
	}

	var retryAfter int
	if ce.Kind == domainerrors.KindRateLimit {
		if seconds, ok := ce.Context["retry_after"].(int); ok {
			retryAfter = seconds
			c.Header("Retry-After", strconv.Itoa(seconds))
		}
	}

	message := ce.Message
	if status == http.StatusInternalServerError {
		// internals stay in the logs
		message = "internal server error"
	}

	c.AbortWithStatusJSON(status, Envelope{
		Error: ErrorBody{
			Type:       string(ce.Kind),
			Code:       ce.Code,
			Message:    message,
			RetryAfter: retryAfter,
			RequestID:  c.GetString("request_id"),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Reject sends an error envelope without a domain error behind it. Used by
// the admission layer for queue_full, shutting_down and timeout rejections.
func Reject(c *gin.Context, status int, kind, code, message string) {
	c.AbortWithStatusJSON(status, Envelope{
		Error: ErrorBody{
			Type:      kind,
			Code:      code,
			Message:   message,
			RequestID: c.GetString("request_id"),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
