package core

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// DomainConfig separates config hashes from any other hash in the system.
const DomainConfig = "psyserve/config/v1"

// ConfigHash computes the identity of an experiment configuration.
// Format: SHA256(domain + 0x00 + NFC(config)).
//
// Values derived from a configuration are memoized by this hash, so two
// experiments with the same config text share them.
func ConfigHash(config string) string {
	h := sha256.New()
	h.Write([]byte(DomainConfig))
	h.Write([]byte{0x00})
	h.Write([]byte(norm.NFC.String(config)))
	return hex.EncodeToString(h.Sum(nil))
}
