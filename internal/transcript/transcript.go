// Package transcript wraps the external update_checksum/calc_verify
// contract behind a concrete SHA-256/SHA-384 transcript accumulator:
// every handshake byte except ChangeCipherSpec is fed here in order,
// and Finished/CertificateVerify each pull their own running digest
// from it without disturbing the others.
package transcript

import (
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// Transcript accumulates handshake bytes for two hash algorithms at
// once (SHA-256 and SHA-384, both always live), since suite
// selection — which determines the final
// single hash Finished/CertificateVerify use — happens only after
// ClientHello has already been fed in.
type Transcript struct {
	sha256 hash.Hash
	sha384 hash.Hash
}

// New starts a fresh transcript with both candidate hashes live.
func New() *Transcript {
	return &Transcript{
		sha256: sha256.New(),
		sha384: sha512.New384(),
	}
}

// Write feeds bytes into both live hash states (update_checksum).
func (t *Transcript) Write(p []byte) {
	t.sha256.Write(p)
	t.sha384.Write(p)
}

// Sum returns the running SHA-384 digest for crypto.SHA384 and the
// running SHA-256 digest for any other algorithm, without disturbing
// the accumulator (calc_verify's non-destructive read).
func (t *Transcript) Sum(h crypto.Hash) []byte {
	switch h {
	case crypto.SHA384:
		return t.sha384.Sum(nil)
	default:
		return t.sha256.Sum(nil)
	}
}
