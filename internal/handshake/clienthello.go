package handshake

import (
	"crypto"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/kovaden/tempesta/internal/alert"
	"github.com/kovaden/tempesta/internal/suites"
)

// handshakeHeaderLen is the 4-byte {type, uint24 length} prefix every
// TLS handshake message carries (RFC 5246 §7.4).
const handshakeHeaderLen = 4

const msgTypeClientHello = 1

// Feed appends newly-arrived bytes to the ClientHello accumulation
// buffer and attempts a parse. It supports incremental,
// byte-at-a-time delivery at the call boundary: a caller is free
// to hand this one byte per Feed call, and StatusNeedMoreBytes is
// returned until a complete ClientHello is buffered — no record ever
// needs to arrive whole. Internally the message is parsed in one pass
// once enough bytes exist, rather than resuming a per-field cursor,
// since the handshake-bytes-so-far buffer already makes re-parsing
// from the start cheap (ClientHello is at most a few KiB).
func (s *State) Feed(chunk []byte) (Status, error) {
	if s.Step != StepClientHello {
		return 0, s.fatal(alert.UnexpectedMessage, decodeErr("Feed called outside ClientHello step"))
	}
	s.chPending = append(s.chPending, chunk...)

	if len(s.chPending) < handshakeHeaderLen {
		return StatusNeedMoreBytes, nil
	}
	if s.chPending[0] != msgTypeClientHello {
		return 0, s.fatal(alert.UnexpectedMessage, decodeErr("expected ClientHello"))
	}
	// Past this point the peer is recognisably speaking our handshake
	// protocol, so failures get a real alert instead of a silent drop.
	s.tlsConfirmed = true
	bodyLen := int(s.chPending[1])<<16 | int(s.chPending[2])<<8 | int(s.chPending[3])
	total := handshakeHeaderLen + bodyLen
	if len(s.chPending) < total {
		return StatusNeedMoreBytes, nil
	}

	body := s.chPending[handshakeHeaderLen:total]
	s.Transcript.Write(s.chPending[:total])
	leftover := append([]byte{}, s.chPending[total:]...)
	s.chPending = nil

	if err := s.parseClientHello(body); err != nil {
		return 0, err
	}
	if err := s.selectSuiteAndRespond(); err != nil {
		return 0, err
	}
	// Step is now StepServerHello: the caller must call BuildResponse
	// before feeding any more bytes. Bytes the client already pipelined
	// past ClientHello are kept for the first FeedClientKeyExchange call.
	s.ckePending = leftover
	return StatusOK, nil
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) u8() (uint8, error) {
	if r.pos >= len(r.b) {
		return 0, decodeErr("truncated")
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if r.pos+2 > len(r.b) {
		return 0, decodeErr("truncated")
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.b) {
		return nil, decodeErr("truncated")
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *byteReader) remaining() int { return len(r.b) - r.pos }

// parseClientHello decodes the fixed prefix, session id, cipher suite
// list (SCSV-aware, clamped to suites.MaxStoredSuites), compression
// methods, and the extensions block, grounded on
// ttls_parse_client_hello's field order.
func (s *State) parseClientHello(body []byte) error {
	r := &byteReader{b: body}

	major, err := r.u8()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	minor, err := r.u8()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	if major != 3 {
		return s.fatal(alert.ProtocolVersion, decodeErr("unsupported major version"))
	}
	s.MinorVersion = int(minor)
	if s.MinorVersion > s.Conf.MaxMinorVer {
		s.MinorVersion = s.Conf.MaxMinorVer
	}

	random, err := r.take(32)
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	copy(s.ClientRandom[:], random)

	sidLen, err := r.u8()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	sid, err := r.take(int(sidLen))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	s.SessionID = append([]byte{}, sid...)

	suitesLen, err := r.u16()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	if suitesLen == 0 || suitesLen%2 != 0 {
		return s.fatal(alert.DecodeError, decodeErr("odd cipher_suites length"))
	}
	suitesRaw, err := r.take(int(suitesLen))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	var peer []suites.ID
	for i := 0; i+2 <= len(suitesRaw); i += 2 {
		id := suites.ID(binary.BigEndian.Uint16(suitesRaw[i:]))
		switch id {
		case suites.FallbackSCSV:
			if s.MinorVersion < s.Conf.MaxMinorVer {
				return s.fatal(alert.InappropriateFallback, decodeErr("TLS_FALLBACK_SCSV on downgraded connection"))
			}
			continue
		case suites.EmptyRenegotiationInfoSCSV:
			s.SecureReneg = true
			continue
		}
		peer = append(peer, id)
	}
	s.PeerSuites = suites.ClampStored(peer)

	compLen, err := r.u8()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	comp, err := r.take(int(compLen))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	if !containsByte(comp, 0) {
		return s.fatal(alert.HandshakeFailure, decodeErr("null compression not offered"))
	}

	if r.remaining() == 0 {
		return nil
	}
	extTotal, err := r.u16()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	extBody, err := r.take(int(extTotal))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	s.ClientExts = len(extBody) > 0
	return s.parseExtensions(extBody)
}

func containsByte(b []byte, v byte) bool {
	for _, x := range b {
		if x == v {
			return true
		}
	}
	return false
}

const (
	extServerName           uint16 = 0
	extSupportedGroups      uint16 = 10
	extECPointFormats       uint16 = 11
	extSignatureAlgorithms  uint16 = 13
	extALPN                 uint16 = 16
	extExtendedMasterSecret uint16 = 23
	extSessionTicket        uint16 = 35
	extRenegotiationInfo    uint16 = 0xff01
)

// parseExtensions dispatches each TLV extension to its handler (
// "Extension dispatch"). Unknown extension types are skipped, per RFC
// 5246 's forward-compatibility rule.
func (s *State) parseExtensions(body []byte) error {
	r := &byteReader{b: body}
	for r.remaining() > 0 {
		typ, err := r.u16()
		if err != nil {
			return s.fatal(alert.DecodeError, err)
		}
		l, err := r.u16()
		if err != nil {
			return s.fatal(alert.DecodeError, err)
		}
		data, err := r.take(int(l))
		if err != nil {
			return s.fatal(alert.DecodeError, err)
		}
		if err := s.handleExtension(typ, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *State) handleExtension(typ uint16, data []byte) error {
	switch typ {
	case extServerName:
		return s.parseSNI(data)
	case extSupportedGroups:
		return s.parseSupportedGroups(data)
	case extECPointFormats:
		return nil // uncompressed is the only format this library emits
	case extSignatureAlgorithms:
		return s.parseSignatureAlgorithms(data)
	case extALPN:
		return s.parseALPN(data)
	case extExtendedMasterSecret:
		s.ExtendedMS = true
		return nil
	case extSessionTicket:
		return s.parseSessionTicket(data)
	case extRenegotiationInfo:
		s.SecureReneg = true
		return nil
	default:
		return nil
	}
}

func (s *State) parseSNI(data []byte) error {
	r := &byteReader{b: data}
	if r.remaining() == 0 {
		return nil
	}
	listLen, err := r.u16()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	list, err := r.take(int(listLen))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	lr := &byteReader{b: list}
	for lr.remaining() > 0 {
		nameType, err := lr.u8()
		if err != nil {
			return s.fatal(alert.DecodeError, err)
		}
		nameLen, err := lr.u16()
		if err != nil {
			return s.fatal(alert.DecodeError, err)
		}
		name, err := lr.take(int(nameLen))
		if err != nil {
			return s.fatal(alert.DecodeError, err)
		}
		if nameType == 0 {
			vhost, err := s.PKI.Resolve(string(name))
			if err != nil {
				return s.fatal(alert.UnrecognizedName, err)
			}
			s.Vhost = vhost
			return nil
		}
	}
	return nil
}

const (
	namedCurveSecp256r1 uint16 = 23
	namedCurveSecp384r1 uint16 = 24
	namedCurveSecp521r1 uint16 = 25
)

func (s *State) parseSupportedGroups(data []byte) error {
	if s.curvesSeen {
		return s.fatal(alert.DecodeError, decodeErr("duplicate supported_groups extension"))
	}
	s.curvesSeen = true
	r := &byteReader{b: data}
	listLen, err := r.u16()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	list, err := r.take(int(listLen))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	for i := 0; i+2 <= len(list); i += 2 {
		s.Curves = append(s.Curves, binary.BigEndian.Uint16(list[i:]))
	}
	return nil
}

func (s *State) parseSignatureAlgorithms(data []byte) error {
	r := &byteReader{b: data}
	listLen, err := r.u16()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	list, err := r.take(int(listLen))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	for i := 0; i+2 <= len(list); i += 2 {
		hashID, sigID := list[i], list[i+1]
		var h crypto.Hash
		switch hashID {
		case 2:
			h = crypto.SHA1
		case 4:
			h = crypto.SHA256
		case 5:
			h = crypto.SHA384
		case 6:
			h = crypto.SHA512
		default:
			continue
		}
		switch sigID {
		case 1: // rsa
			if _, ok := s.SigHashes[suites.SigRSA]; !ok {
				s.SigHashes[suites.SigRSA] = h
			}
		case 3: // ecdsa
			if _, ok := s.SigHashes[suites.SigECDSA]; !ok {
				s.SigHashes[suites.SigECDSA] = h
			}
		}
	}
	return nil
}

func (s *State) parseALPN(data []byte) error {
	r := &byteReader{b: data}
	listLen, err := r.u16()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	list, err := r.take(int(listLen))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	lr := &byteReader{b: list}
	var offered []string
	for lr.remaining() > 0 {
		n, err := lr.u8()
		if err != nil {
			return s.fatal(alert.DecodeError, err)
		}
		proto, err := lr.take(int(n))
		if err != nil {
			return s.fatal(alert.DecodeError, err)
		}
		offered = append(offered, string(proto))
	}
	for _, want := range s.Conf.ALPNProtos {
		for _, got := range offered {
			if want == got {
				s.ALPNChosen = want
				return nil
			}
		}
	}
	if len(s.Conf.ALPNProtos) > 0 && len(offered) > 0 {
		return s.fatal(alert.NoApplicationProtocol, decodeErr("no ALPN overlap"))
	}
	return nil
}

func (s *State) parseSessionTicket(data []byte) error {
	if len(data) == 0 || s.Tickets == nil {
		return nil
	}
	st, err := s.Tickets.Parse(data)
	if err != nil {
		return nil // malformed/rotated ticket: fall through to a full handshake
	}
	suite, ok := suites.Table[suites.ID(st.CipherSuite)]
	if !ok {
		return nil
	}
	s.ChosenSuite = &suite
	s.MasterSecret = st.MasterSecret
	s.ExtendedMS = st.ExtendedMS
	s.Resume = true
	return nil
}

func (s *State) fillServerRandom() error {
	_, err := io.ReadFull(rand.Reader, s.ServerRandom[:])
	return err
}
