// Package prf implements the TLS 1.2 pseudo-random function (RFC 5246
// §5) and the master-secret/key-block derivation that Finished and the
// ServerHello...Finished key schedule depend on, the way tls_srv.c
// computes it inline rather than through a separate module.
package prf

import (
	"crypto/hmac"
	"crypto"
	"hash"
)

// P_hash is the RFC 5246 §5 data-expansion function: HMAC(secret,
// A(i) || seed) for i = 1, 2, ... concatenated until at least n bytes
// are produced.
func pHash(h crypto.Hash, secret, seed []byte, n int) []byte {
	mac := func() hash.Hash { return hmac.New(h.New, secret) }

	a := seed
	out := make([]byte, 0, n)
	for len(out) < n {
		m := mac()
		m.Write(a)
		a = m.Sum(nil)

		m2 := mac()
		m2.Write(a)
		m2.Write(seed)
		out = append(out, m2.Sum(nil)...)
	}
	return out[:n]
}

// Expand is the PRF itself: PRF(secret, label, seed) = P_hash(secret,
// label || seed).
func Expand(h crypto.Hash, secret []byte, label string, seed []byte, n int) []byte {
	ls := append([]byte(label), seed...)
	return pHash(h, secret, ls, n)
}

// MasterSecret derives the 48-byte master secret from the premaster
// secret and the client/server randoms (RFC 5246 §8.1).
func MasterSecret(h crypto.Hash, preMaster, clientRandom, serverRandom []byte) []byte {
	seed := append(append([]byte{}, clientRandom...), serverRandom...)
	return Expand(h, preMaster, "master secret", seed, 48)
}

// ExtendedMasterSecret derives the master secret bound to the
// handshake transcript hash instead of the two randoms (RFC 7627),
// used whenever both peers negotiated extended_master_secret.
func ExtendedMasterSecret(h crypto.Hash, preMaster, sessionHash []byte) []byte {
	return Expand(h, preMaster, "extended master secret", sessionHash, 48)
}

// KeyBlock derives the key_block material (RFC 5246 §6.3): client and
// server MAC keys, bulk encryption keys, and fixed IVs, concatenated in
// wire order. macLen may be 0 for the AEAD suites this library
// targets, which fold authentication into the cipher and carry no
// separate MAC key.
func KeyBlock(h crypto.Hash, masterSecret, serverRandom, clientRandom []byte, macLen, keyLen, ivLen int) []byte {
	seed := append(append([]byte{}, serverRandom...), clientRandom...)
	total := 2*macLen + 2*keyLen + 2*ivLen
	return Expand(h, masterSecret, "key expansion", seed, total)
}

// Finished computes the 12-byte Finished verify_data (RFC 5246 §7.4.9):
// PRF(master_secret, finished_label, transcript_hash)[0:12].
func Finished(h crypto.Hash, masterSecret []byte, label string, transcriptHash []byte) []byte {
	return Expand(h, masterSecret, label, transcriptHash, 12)
}

const (
	ClientFinishedLabel = "client finished"
	ServerFinishedLabel = "server finished"
)
