package utils

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// ExternalIDPrefix is the merchant-facing payment id prefix.
const ExternalIDPrefix = "pay_"

// GenerateUUIDv7 generates a new UUID v7
func GenerateUUIDv7() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails (highly unlikely)
		return uuid.New()
	}
	return id
}

// GenerateExternalID returns a merchant-facing payment id of the form
// "pay_" followed by 12 lowercase hex characters.
func GenerateExternalID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process is unusable anyway
		panic(err)
	}
	return ExternalIDPrefix + hex.EncodeToString(buf)
}

// GenerateEventID returns a stable unique id for a webhook event.
func GenerateEventID() string {
	return "evt_" + uuid.New().String()
}

// GenerateCorrelationID returns a correlation id for request tracing.
func GenerateCorrelationID() string {
	return uuid.New().String()
}
