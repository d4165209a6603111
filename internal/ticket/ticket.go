// Package ticket implements the session-ticket codec backing
// NewSessionTicket-based resumption: an AES-256-GCM sealed, opaque
// body capped at 502 bytes, with a blake2b digest binding the ticket
// to the key version the way utils.go's Generichash derives
// digests over protocol material, and an HKDF-derived sealing key so
// the long-lived master key is never used directly as an AES key.
package ticket

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// MaxBodySize is the sealed ticket's plaintext-body size cap.
const MaxBodySize = 502

// KeyCheckSize is the length of the blake2b key-version digest
// prepended to every sealed ticket, letting Parse reject tickets
// sealed under a rotated-out key without attempting to decrypt them.
const KeyCheckSize = 8

var (
	ErrTooLarge  = errors.New("ticket: plaintext exceeds MaxBodySize")
	ErrMalformed = errors.New("ticket: malformed ciphertext")
	ErrKeyCheck  = errors.New("ticket: key version mismatch")
)

// State is the subset of Sess the ticket codec seals: enough to
// restore a resumed session without re-running the full handshake.
type State struct {
	CipherSuite  uint16
	MasterSecret []byte // 48 bytes
	ExtendedMS   bool
	StartTime    int64
}

// Codec seals/opens tickets under one long-lived master key, deriving
// its AEAD key from that master key via HKDF-SHA256 rather than using
// the master key bytes directly as the AES key (codecs built from the
// same master key derive the same AEAD key).
type Codec struct {
	masterKey []byte
	aeadKey   []byte
	keyCheck  [KeyCheckSize]byte
}

// NewCodec derives the sealing key and key-check tag from masterKey
// (at least 32 bytes of entropy — typically loaded once at startup and
// rotated by the caller's higher-level configuration layer).
func NewCodec(masterKey []byte) (*Codec, error) {
	c := &Codec{masterKey: append([]byte{}, masterKey...)}

	key, err := deriveKey(masterKey, []byte("tempesta session ticket aead key"), 32)
	if err != nil {
		return nil, err
	}
	c.aeadKey = key

	check, err := blake2b.New(KeyCheckSize, nil)
	if err != nil {
		return nil, err
	}
	check.Write(masterKey)
	check.Write([]byte("key-check"))
	copy(c.keyCheck[:], check.Sum(nil))

	return c, nil
}

// Write seals state into a ticket body (f_ticket_write): key-check tag
// || nonce || AES-256-GCM(state). lifetimeSeconds is a fixed policy
// value, not itself encoded in the returned body (RFC 5246 encodes it
// as a separate NewSessionTicket field).
func (c *Codec) Write(s *State) (body []byte, lifetimeSeconds uint32, err error) {
	plain := encodeState(s)
	if len(plain) > MaxBodySize {
		return nil, 0, ErrTooLarge
	}

	block, err := aes.NewCipher(c.aeadKey)
	if err != nil {
		return nil, 0, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, 0, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, 0, err
	}
	sealed := gcm.Seal(nil, nonce, plain, nil)

	out := make([]byte, 0, KeyCheckSize+len(nonce)+len(sealed))
	out = append(out, c.keyCheck[:]...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	if len(out) > MaxBodySize+KeyCheckSize+32 {
		return nil, 0, ErrTooLarge
	}
	return out, DefaultLifetimeSeconds, nil
}

// Parse opens a ticket body produced by Write (f_ticket_parse).
func (c *Codec) Parse(buf []byte) (*State, error) {
	if len(buf) < KeyCheckSize {
		return nil, ErrMalformed
	}
	if !equalConstTime(buf[:KeyCheckSize], c.keyCheck[:]) {
		return nil, ErrKeyCheck
	}
	buf = buf[KeyCheckSize:]

	block, err := aes.NewCipher(c.aeadKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(buf) < gcm.NonceSize() {
		return nil, ErrMalformed
	}
	nonce, ct := buf[:gcm.NonceSize()], buf[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrMalformed
	}
	return decodeState(plain)
}

// DefaultLifetimeSeconds is the ticket validity window advertised in
// NewSessionTicket.
const DefaultLifetimeSeconds = 3600

// deriveKey expands masterKey into an n-byte AEAD key via HKDF-SHA256,
// keeping the long-lived master key out of direct AES use.
func deriveKey(masterKey, info []byte, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, masterKey, nil, info)
	key := make([]byte, n)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func encodeState(s *State) []byte {
	out := make([]byte, 0, 2+1+8+len(s.MasterSecret)+2)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], s.CipherSuite)
	out = append(out, u16[:]...)
	if s.ExtendedMS {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(s.StartTime))
	out = append(out, u64[:]...)
	var msLen [2]byte
	binary.BigEndian.PutUint16(msLen[:], uint16(len(s.MasterSecret)))
	out = append(out, msLen[:]...)
	out = append(out, s.MasterSecret...)
	return out
}

func decodeState(b []byte) (*State, error) {
	if len(b) < 2+1+8+2 {
		return nil, ErrMalformed
	}
	s := &State{}
	s.CipherSuite = binary.BigEndian.Uint16(b[0:2])
	s.ExtendedMS = b[2] != 0
	s.StartTime = int64(binary.BigEndian.Uint64(b[3:11]))
	msLen := int(binary.BigEndian.Uint16(b[11:13]))
	if len(b) < 13+msLen {
		return nil, ErrMalformed
	}
	s.MasterSecret = append([]byte{}, b[13:13+msLen]...)
	return s, nil
}

func equalConstTime(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
