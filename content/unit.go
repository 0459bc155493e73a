package content

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Kind distinguishes text-bearing units from image-bearing ones.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Valid reports whether k is a known unit kind.
func (k Kind) Valid() bool {
	return k == KindText || k == KindImage
}

// Unit is one extracted candidate eligible for classification. The ID is the
// fingerprint of the normalized payload, so two occurrences of the same text
// on a page share an ID.
type Unit struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Payload   string `json:"payload"`
	SourceURL string `json:"source_url"`
}

// NewUnit builds a unit and computes its fingerprint.
func NewUnit(kind Kind, payload, sourceURL string) Unit {
	return Unit{
		ID:        Fingerprint(kind, payload),
		Kind:      kind,
		Payload:   payload,
		SourceURL: sourceURL,
	}
}

// Normalize returns the canonical form of a payload used for fingerprinting.
// Text collapses whitespace runs and is lower-cased; image URLs are only
// trimmed since URL paths are case sensitive.
func Normalize(kind Kind, payload string) string {
	if kind == KindImage {
		return strings.TrimSpace(payload)
	}
	return strings.ToLower(strings.Join(strings.Fields(payload), " "))
}

// Fingerprint returns a stable hex-encoded SHA-256 of the kind and normalized
// payload.
func Fingerprint(kind Kind, payload string) string {
	sum := sha256.Sum256([]byte(string(kind) + ":" + Normalize(kind, payload)))
	return hex.EncodeToString(sum[:])
}
