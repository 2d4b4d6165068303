package ingest

import (
	"crypto/sha256"
	"strings"

	"github.com/MikeSquared-Agency/vigil/internal/risk"
)

// seen reports passages whose normalized text was already ingested, so the
// same paragraph quoted in several documents is embedded once.
type seen map[[32]byte]bool

func (s seen) check(text string) bool {
	key := fingerprint(text)
	if s[key] {
		return true
	}
	s[key] = true
	return false
}

func fingerprint(text string) [32]byte {
	norm := strings.Join(strings.Fields(risk.Normalize(text)), " ")
	return sha256.Sum256([]byte(norm))
}
