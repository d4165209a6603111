package ticket

import (
	"bytes"
	"testing"
)

func TestWriteParseRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := NewCodec(key)
	if err != nil {
		t.Fatal(err)
	}

	in := &State{
		CipherSuite:  0xC02C,
		MasterSecret: bytes.Repeat([]byte{0x01}, 48),
		ExtendedMS:   true,
		StartTime:    1700000000,
	}
	body, lifetime, err := c.Write(in)
	if err != nil {
		t.Fatal(err)
	}
	if lifetime != DefaultLifetimeSeconds {
		t.Fatalf("lifetime = %d, want %d", lifetime, DefaultLifetimeSeconds)
	}

	out, err := c.Parse(body)
	if err != nil {
		t.Fatal(err)
	}
	if out.CipherSuite != in.CipherSuite || out.ExtendedMS != in.ExtendedMS || out.StartTime != in.StartTime {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
	if !bytes.Equal(out.MasterSecret, in.MasterSecret) {
		t.Fatalf("master secret mismatch")
	}
}

func TestParseRejectsRotatedKey(t *testing.T) {
	c1, _ := NewCodec(bytes.Repeat([]byte{0x11}, 32))
	c2, _ := NewCodec(bytes.Repeat([]byte{0x22}, 32))

	body, _, err := c1.Write(&State{CipherSuite: 1, MasterSecret: bytes.Repeat([]byte{0}, 48)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c2.Parse(body); err != ErrKeyCheck {
		t.Fatalf("expected ErrKeyCheck, got %v", err)
	}
}

func TestParseRejectsTamperedCiphertext(t *testing.T) {
	c, _ := NewCodec(bytes.Repeat([]byte{0x33}, 32))
	body, _, err := c.Write(&State{CipherSuite: 1, MasterSecret: bytes.Repeat([]byte{0}, 48)})
	if err != nil {
		t.Fatal(err)
	}
	body[len(body)-1] ^= 0xff
	if _, err := c.Parse(body); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestWriteRejectsOversizedState(t *testing.T) {
	c, _ := NewCodec(bytes.Repeat([]byte{0x44}, 32))
	_, _, err := c.Write(&State{MasterSecret: bytes.Repeat([]byte{0}, MaxBodySize)})
	if err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
