package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Prefix identifies the signature scheme in the header value.
const Prefix = "sha256="

// SHA512Prefix is the scheme Authorize.net uses on its notification
// signatures (X-ANET-Signature).
const SHA512Prefix = "sha512="

// Canonicalize returns the canonical JSON bytes of v: object keys sorted,
// no insignificant whitespace. Receivers verify signatures against this
// exact serialization, so it must be stable across processes.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// Round-trip through interface{} so struct field order collapses into
	// map ordering; encoding/json sorts map keys on marshal.
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Sign computes the webhook signature header value over the canonical
// payload: "sha256=" + hex(hmac_sha256(secret, canonical)).
func Sign(secret string, payload interface{}) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return SignBytes(secret, canonical), nil
}

// SignBytes signs raw bytes without canonicalization.
func SignBytes(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return Prefix + hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the signature over the canonical payload and compares
// it against the presented header value in constant time.
func Verify(secret string, payload interface{}, presented string) bool {
	expected, err := Sign(secret, payload)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

// VerifyBytes verifies a signature over raw bytes.
func VerifyBytes(secret string, payload []byte, presented string) bool {
	if !strings.HasPrefix(presented, Prefix) {
		return false
	}
	expected := SignBytes(secret, payload)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

// SignSHA512 computes "sha512=" + hex(hmac_sha512(secret, payload)).
func SignSHA512(secret string, payload []byte) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write(payload)
	return SHA512Prefix + hex.EncodeToString(h.Sum(nil))
}

// VerifySHA512 verifies a SHA-512 notification signature. Authorize.net
// sends the hex digest uppercased, so comparison is case-insensitive.
func VerifySHA512(secret string, payload []byte, presented string) bool {
	presented = strings.ToLower(presented)
	if !strings.HasPrefix(presented, SHA512Prefix) {
		return false
	}
	expected := SignSHA512(secret, payload)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
