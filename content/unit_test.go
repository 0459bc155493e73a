package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFingerprint_NormalizesText verifies whitespace and case do not change
// identity
func TestFingerprint_NormalizesText(t *testing.T) {
	a := Fingerprint(KindText, "Las vacunas  contienen\n microchips")
	b := Fingerprint(KindText, "  las VACUNAS contienen microchips ")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "should be hex-encoded sha256")
}

// TestFingerprint_KindMatters verifies text and image payloads never collide
func TestFingerprint_KindMatters(t *testing.T) {
	payload := "https://example.com/a.png"

	assert.NotEqual(t, Fingerprint(KindText, payload), Fingerprint(KindImage, payload))
}

// TestFingerprint_ImageURLCaseSensitive verifies image URLs keep their case
func TestFingerprint_ImageURLCaseSensitive(t *testing.T) {
	assert.NotEqual(t,
		Fingerprint(KindImage, "https://example.com/A.png"),
		Fingerprint(KindImage, "https://example.com/a.png"),
	)
	assert.Equal(t,
		Fingerprint(KindImage, " https://example.com/a.png"),
		Fingerprint(KindImage, "https://example.com/a.png"),
	)
}

// TestNewUnit verifies the unit ID is the payload fingerprint
func TestNewUnit(t *testing.T) {
	unit := NewUnit(KindText, "Some claim", "https://example.com")

	assert.Equal(t, Fingerprint(KindText, "Some claim"), unit.ID)
	assert.Equal(t, KindText, unit.Kind)
	assert.Equal(t, "Some claim", unit.Payload)
	assert.Equal(t, "https://example.com", unit.SourceURL)
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindText.Valid())
	assert.True(t, KindImage.Valid())
	assert.False(t, Kind("video").Valid())
}
