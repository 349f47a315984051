package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/stellar/go/strkey"
)

// GenerateID generates a random hex ID
func GenerateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateSecret generates a 64-char hex token used as a webhook HMAC key
func GenerateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// IsValidContractID checks whether a string is a valid Soroban contract address (C...)
func IsValidContractID(contractID string) bool {
	_, err := strkey.Decode(strkey.VersionByteContract, contractID)
	return err == nil
}

// CanonicalJSON marshals v with stable key order. encoding/json sorts map
// keys, so marshaling map-shaped payloads here is deterministic.
func CanonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// PayloadHash returns the SHA-256 hex digest of the canonical JSON of payload
func PayloadHash(payload interface{}) (string, error) {
	data, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SignPayload computes the webhook signature header value for body:
// "sha256=" + hex(HMAC-SHA256(secret, body))
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ShortContractID truncates a contract id to its first 8 chars. Used for
// metric labels so cardinality stays bounded.
func ShortContractID(contractID string) string {
	if contractID == "" {
		return "unknown"
	}
	if len(contractID) > 8 {
		return contractID[:8]
	}
	return contractID
}
