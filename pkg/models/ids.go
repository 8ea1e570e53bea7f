package models

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Derived-effect ids are content-addressed: a stable function of the
// call id and the upstream effect id. Re-running a plan against the
// same cached raw response therefore reproduces byte-identical
// extraction/derivation/claim ids, which is what makes the derived
// stages idempotent. Only response ids are random.

// NewResponseID returns a fresh id for a raw response.
func NewResponseID() string {
	return "raw_" + uuid.New().String()
}

// ExtractionID derives the id of an extraction from its call and
// source response.
func ExtractionID(callID, responseID string) string {
	return derivedID("ext", callID, responseID)
}

// DerivationID derives the id of a derivation from its call and
// source extraction.
func DerivationID(callID, extractionID string) string {
	return derivedID("der", callID, extractionID)
}

// ClaimID derives the id of a claim from its call and source
// derivation.
func ClaimID(callID, derivationID string) string {
	return derivedID("clm", callID, derivationID)
}

func derivedID(prefix, callID, upstreamID string) string {
	h := sha256.Sum256([]byte(prefix + "\x00" + callID + "\x00" + upstreamID))
	return prefix + "_" + hex.EncodeToString(h[:16])
}
