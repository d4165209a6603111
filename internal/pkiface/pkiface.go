// Package pkiface is the narrow external-capability boundary of
// Signer/Verifier/Decrypter/SNIResolver as Go interfaces, plus
// crypto/ecdsa and crypto/rsa adapters for them and DefaultSuite, a
// map-backed SNIResolver, so the handshake is exercisable without a
// caller supplying their own certificate stack. The ticket codec is not
// an interface here; it is the concrete ticket.Codec. A caller with a
// hardware-backed key store swaps in their own implementation of the
// same interfaces; internal/handshake never imports crypto/ecdsa or
// crypto/rsa directly.
package pkiface

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"io"
)

// Signer signs a pre-hashed digest (pk_sign).
type Signer interface {
	Sign(rnd io.Reader, mdAlg crypto.Hash, hash []byte) (sig []byte, err error)
}

// Verifier verifies a signature over a pre-hashed digest (pk_verify).
type Verifier interface {
	Verify(mdAlg crypto.Hash, hash, sig []byte) error
}

// Decrypter decrypts an RSA PKCS#1 v1.5 ciphertext (pk_decrypt). An
// implementation may return an error for a malformed ciphertext;
// ClientKeyExchange's Bleichenbacher countermeasure masks a decryption
// error and a bad PMS version uniformly, so neither is visible on the
// wire.
type Decrypter interface {
	Decrypt(rnd io.Reader, ciphertext []byte) (plaintext []byte, err error)
}

// CertBundle is a borrowed (never copied) leaf certificate plus its
// private-key capability and issuer chain, selected by SNI or by
// suite-selection's default vhost.
type CertBundle struct {
	Chain      []*x509.Certificate
	Signer     Signer
	Decrypter  Decrypter // nil for ECDSA-only bundles
	KeyIsECDSA bool
	CurveName  string // set when KeyIsECDSA, matched against negotiated curves
}

// SNIResolver resolves a ClientHello server_name into a vhost's
// certificate bundle (f_sni). A nil serverName (empty string) requests
// the default vhost.
type SNIResolver interface {
	Resolve(serverName string) (*CertBundle, error)
}

var ErrNoSuchVhost = errors.New("pkiface: no vhost for server name")

// DefaultSuite is a concrete SNIResolver over a map of CertBundles; an
// unknown server name falls back to the "" entry. Signing, verification
// and decryption are done by the bundles' own Signer/Decrypter (e.g.
// ECDSASigner, RSADecrypter below), not by DefaultSuite itself.
type DefaultSuite struct {
	Vhosts  map[string]*CertBundle // server_name -> bundle; "" is default
	ecdsaSk *ecdsa.PrivateKey
	rsaSk   *rsa.PrivateKey
}

// NewDefaultSuite builds a DefaultSuite with an empty Vhosts map and
// stores the given keys (either may be nil if unused). No vhost is
// created; callers register bundles in Vhosts themselves.
func NewDefaultSuite(ecdsaSk *ecdsa.PrivateKey, rsaSk *rsa.PrivateKey) *DefaultSuite {
	return &DefaultSuite{
		Vhosts:  map[string]*CertBundle{},
		ecdsaSk: ecdsaSk,
		rsaSk:   rsaSk,
	}
}

func (d *DefaultSuite) Resolve(serverName string) (*CertBundle, error) {
	if b, ok := d.Vhosts[serverName]; ok {
		return b, nil
	}
	if b, ok := d.Vhosts[""]; ok {
		return b, nil
	}
	return nil, ErrNoSuchVhost
}

// ECDSASigner adapts a crypto/ecdsa key to Signer, emitting the ASN.1
// DER (r, s) encoding TLS 1.2 ServerKeyExchange expects.
type ECDSASigner struct{ Key *ecdsa.PrivateKey }

func (s *ECDSASigner) Sign(rnd io.Reader, mdAlg crypto.Hash, hash []byte) ([]byte, error) {
	return ecdsa.SignASN1(rnd, s.Key, hash)
}

// ECDSAVerifier adapts a crypto/ecdsa public key to Verifier.
type ECDSAVerifier struct{ Key *ecdsa.PublicKey }

func (v *ECDSAVerifier) Verify(mdAlg crypto.Hash, hash, sig []byte) error {
	if ecdsa.VerifyASN1(v.Key, hash, sig) {
		return nil
	}
	return errors.New("pkiface: ecdsa signature verification failed")
}

// RSASigner adapts a crypto/rsa key to Signer (PKCS#1 v1.5, per the
// classic cipher suites this library targets).
type RSASigner struct{ Key *rsa.PrivateKey }

func (s *RSASigner) Sign(rnd io.Reader, mdAlg crypto.Hash, hash []byte) ([]byte, error) {
	return rsa.SignPKCS1v15(rnd, s.Key, mdAlg, hash)
}

// RSAVerifier adapts a crypto/rsa public key to Verifier.
type RSAVerifier struct{ Key *rsa.PublicKey }

func (v *RSAVerifier) Verify(mdAlg crypto.Hash, hash, sig []byte) error {
	return rsa.VerifyPKCS1v15(v.Key, mdAlg, hash, sig)
}

// RSADecrypter adapts a crypto/rsa key to Decrypter. A padding failure
// is returned as crypto/rsa's error, unmasked at this layer;
// ClientKeyExchange is responsible for masking either outcome uniformly
// (the Bleichenbacher countermeasure lives in internal/handshake, not
// here, since only the caller knows the expected premaster length).
type RSADecrypter struct{ Key *rsa.PrivateKey }

func (d *RSADecrypter) Decrypt(rnd io.Reader, ciphertext []byte) ([]byte, error) {
	return rsa.DecryptPKCS1v15(rnd, d.Key, ciphertext)
}

// VerifierFromPublicKey adapts an arbitrary crypto.PublicKey (as
// recovered from a peer's Certificate message) to Verifier, keeping
// crypto/ecdsa and crypto/rsa type-switches out of internal/handshake.
func VerifierFromPublicKey(pub crypto.PublicKey) (Verifier, error) {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return &ECDSAVerifier{Key: k}, nil
	case *rsa.PublicKey:
		return &RSAVerifier{Key: k}, nil
	default:
		return nil, errors.New("pkiface: unsupported public key type")
	}
}

// RNG is the external randomness capability (rnd(buf, n)).
type RNG interface {
	Read(p []byte) (n int, err error)
}

// DefaultRNG is crypto/rand, the only RNG this suite wires by default.
var DefaultRNG RNG = rand.Reader
