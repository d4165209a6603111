package handshake

import (
	"crypto"
	"crypto/rand"
	"crypto/subtle"
	"crypto/x509"
	"encoding/binary"

	"github.com/kovaden/tempesta/internal/alert"
	"github.com/kovaden/tempesta/internal/ecp"
	"github.com/kovaden/tempesta/internal/mpi"
	"github.com/kovaden/tempesta/internal/pkiface"
	"github.com/kovaden/tempesta/internal/prf"
	"github.com/kovaden/tempesta/internal/suites"
	"github.com/kovaden/tempesta/internal/ticket"
)

// signatureAlgorithmFor returns the 2-byte (hash, sig) pair ServerKeyExchange
// advertises for its signature, preferring what the peer offered in
// signature_algorithms and falling back to SHA-256.
func (s *State) signatureAlgorithmFor(kind suites.SigKind) []byte {
	h, ok := s.SigHashes[kind]
	if !ok {
		h = crypto.SHA256
	}
	var hashID byte
	switch h {
	case crypto.SHA384:
		hashID = 5
	case crypto.SHA512:
		hashID = 6
	case crypto.SHA1:
		hashID = 2
	default:
		hashID = 4
	}
	var sigID byte
	if kind == suites.SigECDSA {
		sigID = 3
	} else {
		sigID = 1
	}
	return []byte{hashID, sigID}
}

// serverKeyExchangeDigest hashes client_random || server_random ||
// params under the negotiated signature hash (RFC 5246 §7.4.3).
func (s *State) serverKeyExchangeDigest(params []byte) ([]byte, crypto.Hash) {
	h, ok := s.SigHashes[s.ChosenSuite.Sig]
	if !ok {
		h = crypto.SHA256
	}
	hh := h.New()
	hh.Write(s.ClientRandom[:])
	hh.Write(s.ServerRandom[:])
	hh.Write(params)
	return hh.Sum(nil), h
}

// FeedClientKeyExchange accumulates bytes for the post-ServerHelloDone
// flight: optional Certificate, ClientKeyExchange, optional
// CertificateVerify, ChangeCipherSpec, Finished — the same
// accumulate-then-parse incremental strategy as Feed.
func (s *State) FeedClientKeyExchange(chunk []byte) (Status, error) {
	s.ckePending = append(s.ckePending, chunk...)
	for {
		status, consumed, err := s.tryStepClientFlight()
		if err != nil {
			return 0, err
		}
		if status == StatusNeedMoreBytes {
			return StatusNeedMoreBytes, nil
		}
		s.ckePending = s.ckePending[consumed:]
		if s.Step == StepHandshakeOver {
			return StatusOK, nil
		}
		if len(s.ckePending) == 0 {
			return StatusOK, nil
		}
	}
}

// tryStepClientFlight parses exactly one message (or CCS marker) from
// the front of ckePending given the current Step, returning how many
// bytes it consumed.
func (s *State) tryStepClientFlight() (Status, int, error) {
	switch s.Step {
	case StepClientCertificate, StepClientKeyExchange:
		if len(s.ckePending) < 1 {
			return StatusNeedMoreBytes, 0, nil
		}
		if s.ckePending[0] == 11 { // Certificate
			return s.consumeHandshakeMsg(s.parseClientCertificate)
		}
		return s.consumeHandshakeMsg(s.parseClientKeyExchange)
	case StepCertificateVerify:
		return s.consumeHandshakeMsg(s.parseCertificateVerify)
	case StepClientChangeCipherSpec:
		if len(s.ckePending) < 1 {
			return StatusNeedMoreBytes, 0, nil
		}
		if s.ckePending[0] != ContentTypeChangeCipherSpec {
			return 0, 0, s.fatal(alert.UnexpectedMessage, decodeErr("expected ChangeCipherSpec"))
		}
		s.Step = StepClientFinished
		return StatusOK, 1, nil
	case StepClientFinished:
		return s.consumeClientFinished()
	default:
		return 0, 0, s.fatal(alert.UnexpectedMessage, decodeErr("unexpected client message for current step"))
	}
}

func (s *State) consumeHandshakeMsg(parse func([]byte) error) (Status, int, error) {
	if len(s.ckePending) < handshakeHeaderLen {
		return StatusNeedMoreBytes, 0, nil
	}
	bodyLen := int(s.ckePending[1])<<16 | int(s.ckePending[2])<<8 | int(s.ckePending[3])
	total := handshakeHeaderLen + bodyLen
	if len(s.ckePending) < total {
		return StatusNeedMoreBytes, 0, nil
	}
	msg := s.ckePending[:total]
	s.Transcript.Write(msg)
	if err := parse(msg[handshakeHeaderLen:total]); err != nil {
		return 0, 0, err
	}
	return StatusOK, total, nil
}

// consumeClientFinished parses the client's Finished message the same
// way consumeHandshakeMsg does, except the transcript is sampled for
// verify_data *before* the Finished bytes are folded in and only
// written afterward — RFC 5246 §7.4.9 defines verify_data over every
// handshake message up to but not including Finished itself, so
// writing it to the transcript first (as consumeHandshakeMsg does for
// every other message) would make a genuine peer's tag unverifiable.
func (s *State) consumeClientFinished() (Status, int, error) {
	if len(s.ckePending) < handshakeHeaderLen {
		return StatusNeedMoreBytes, 0, nil
	}
	bodyLen := int(s.ckePending[1])<<16 | int(s.ckePending[2])<<8 | int(s.ckePending[3])
	total := handshakeHeaderLen + bodyLen
	if len(s.ckePending) < total {
		return StatusNeedMoreBytes, 0, nil
	}
	msg := s.ckePending[:total]
	if err := s.parseClientFinished(msg[handshakeHeaderLen:total]); err != nil {
		return 0, 0, err
	}
	s.Transcript.Write(msg)
	return StatusOK, total, nil
}

func (s *State) parseClientCertificate(body []byte) error {
	r := &byteReader{b: body}
	total, err := r.take(3)
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	listLen := int(total[0])<<16 | int(total[1])<<8 | int(total[2])
	list, err := r.take(listLen)
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	lr := &byteReader{b: list}
	if lr.remaining() == 0 {
		if s.Conf.AuthMode == 2 { // required
			return s.fatal(alert.HandshakeFailure, decodeErr("client certificate required"))
		}
		s.Step = StepClientKeyExchange
		return nil
	}
	lenb, err := lr.take(3)
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	certLen := int(lenb[0])<<16 | int(lenb[1])<<8 | int(lenb[2])
	raw, err := lr.take(certLen)
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	cert, err := x509.ParseCertificate(raw)
	if err != nil {
		return s.fatal(alert.BadCertificate, err)
	}
	s.ClientCertPub = cert.PublicKey
	s.Step = StepClientKeyExchange
	return nil
}

func (s *State) parseClientKeyExchange(body []byte) error {
	switch s.ChosenSuite.KX {
	case suites.KeyExchangeECDHE:
		if err := s.kxECDHE(body); err != nil {
			return err
		}
	case suites.KeyExchangeDHE:
		if err := s.kxDHE(body); err != nil {
			return err
		}
	default:
		if err := s.kxRSA(body); err != nil {
			return err
		}
	}
	if s.ClientCertPub != nil {
		s.Step = StepCertificateVerify
	} else {
		s.Step = StepClientChangeCipherSpec
	}
	return nil
}

func (s *State) kxECDHE(body []byte) error {
	r := &byteReader{b: body}
	n, err := r.u8()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	raw, err := r.take(int(n))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	if len(raw) < 1 || raw[0] != 0x04 {
		return s.fatal(alert.DecodeError, decodeErr("expected uncompressed EC point"))
	}
	coordLen := (len(raw) - 1) / 2
	var peer ecp.Point
	if err := peer.X.ReadBinary(raw[1 : 1+coordLen]); err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	if err := peer.Y.ReadBinary(raw[1+coordLen:]); err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	peer.Z.SetInt64(1)

	x, err := ecp.DeriveSharedSecret(s.kex.ecPriv, &peer, s.kex.ecGroup)
	if err != nil {
		return s.fatal(alert.IllegalParameter, err)
	}
	pm := make([]byte, (s.kex.ecGroup.PBits+7)/8)
	_ = x.WriteBinary(pm)
	s.kex.premaster = pm
	return nil
}

func (s *State) kxDHE(body []byte) error {
	r := &byteReader{b: body}
	yl, err := r.u16()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	yraw, err := r.take(int(yl))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	var peerY mpi.Int
	if err := peerY.ReadBinary(yraw); err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	var shared mpi.Int
	if err := mpi.ExpMod(&shared, &peerY, s.kex.dhPriv, s.kex.dhP, nil); err != nil {
		return s.fatal(alert.InternalError, err)
	}
	pm := make([]byte, shared.ByteLen())
	_ = shared.WriteBinary(pm)
	s.kex.premaster = pm
	return nil
}

// kxRSA implements RSA key transport with the Bleichenbacher
// countermeasure ("always substitute the expected-length random
// string on any decode failure or version mismatch, uniformly and
// without an early return, so timing does not leak which case hit").
func (s *State) kxRSA(body []byte) error {
	r := &byteReader{b: body}
	l, err := r.u16()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	ct, err := r.take(int(l))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}

	randomPM := make([]byte, 48)
	if _, err := rand.Reader.Read(randomPM); err != nil {
		return s.fatal(alert.InternalError, err)
	}
	randomPM[0], randomPM[1] = 3, byte(s.MinorVersion)

	decrypted, decErr := s.Vhost.Decrypter.Decrypt(rand.Reader, ct)

	lengthOK := decErr == nil && len(decrypted) == 48
	versionOK := lengthOK && decrypted[0] == 3 && decrypted[1] == byte(s.MinorVersion)
	useDecrypted := lengthOK && versionOK

	pm := make([]byte, 48)
	if !lengthOK {
		copy(pm, randomPM)
	} else {
		subtle.ConstantTimeCopy(boolToInt(useDecrypted), pm, decrypted)
		subtle.ConstantTimeCopy(boolToInt(!useDecrypted), pm, randomPM)
	}
	s.kex.premaster = pm
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *State) parseCertificateVerify(body []byte) error {
	r := &byteReader{b: body}
	hashID, err := r.u8()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	sigID, err := r.u8()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	sl, err := r.u16()
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	sig, err := r.take(int(sl))
	if err != nil {
		return s.fatal(alert.DecodeError, err)
	}
	_ = sigID

	var h crypto.Hash
	switch hashID {
	case 5:
		h = crypto.SHA384
	case 6:
		h = crypto.SHA512
	default:
		h = crypto.SHA256
	}
	digest := s.Transcript.Sum(h)

	verifier, err := pkiface.VerifierFromPublicKey(s.ClientCertPub)
	if err != nil {
		return s.fatal(alert.UnsupportedCertificate, err)
	}
	if err := verifier.Verify(h, digest, sig); err != nil {
		return s.fatal(alert.DecryptError, err)
	}
	s.Step = StepClientChangeCipherSpec
	return nil
}

func (s *State) parseClientFinished(body []byte) error {
	if err := s.deriveMasterSecret(); err != nil {
		return s.fatal(alert.InternalError, err)
	}
	expect := prf.Finished(s.ChosenSuite.Hash, s.MasterSecret, prf.ClientFinishedLabel, s.Transcript.Sum(s.ChosenSuite.Hash))
	if subtle.ConstantTimeCompare(expect, body) != 1 {
		return s.fatal(alert.DecryptError, decodeErr("client Finished mismatch"))
	}
	s.clientFinished = append([]byte{}, body...)
	if s.Resume {
		// buildResumeResponse already sent the server's CCS+Finished
		// before the client's; the abbreviated handshake ends here,
		// with no second server flight.
		s.Step = StepHandshakeOver
	} else {
		s.Step = StepServerChangeCipherSpec
	}
	return nil
}

func (s *State) deriveMasterSecret() error {
	if s.Resume {
		return nil
	}
	if s.ExtendedMS {
		s.MasterSecret = prf.ExtendedMasterSecret(s.ChosenSuite.Hash, s.kex.premaster, s.Transcript.Sum(s.ChosenSuite.Hash))
	} else {
		s.MasterSecret = prf.MasterSecret(s.ChosenSuite.Hash, s.kex.premaster, s.ClientRandom[:], s.ServerRandom[:])
	}
	return nil
}

// buildResumeResponse emits ServerHello + ChangeCipherSpec + Finished
// for an abbreviated (ticket-resumed) handshake ("resumption
// inverts the ChangeCipherSpec/Finished ordering onto the server").
func (s *State) buildResumeResponse(sink RecordSink) error {
	hello := s.encodeServerHello()
	s.Transcript.Write(hello)

	ccs := []byte{1}
	serverFin := prf.Finished(s.ChosenSuite.Hash, s.MasterSecret, prf.ServerFinishedLabel, s.Transcript.Sum(s.ChosenSuite.Hash))
	finMsg := encodeHeader(20, serverFin)
	s.Transcript.Write(finMsg)
	s.serverFinished = serverFin

	frames := []RecordFrame{
		{ContentType: ContentTypeHandshake, Body: hello},
		{ContentType: ContentTypeChangeCipherSpec, Body: ccs},
		{ContentType: ContentTypeHandshake, Body: finMsg},
	}
	s.Step = StepClientChangeCipherSpec
	return sink.WriteRecords(frames, false)
}

// BuildWrapup emits the server's half of a full handshake: optional
// NewSessionTicket, ChangeCipherSpec, Finished, batched in one write
// ("batched end-of-handshake writer").
func (s *State) BuildWrapup(sink RecordSink) error {
	var frames []RecordFrame

	if s.Tickets != nil {
		body, lifetime, err := s.Tickets.Write(&ticket.State{
			CipherSuite:  uint16(s.ChosenSuite.ID),
			MasterSecret: s.MasterSecret,
			ExtendedMS:   s.ExtendedMS,
			StartTime:    s.startTime,
		})
		if err == nil {
			ticketBody := make([]byte, 4+2+len(body))
			binary.BigEndian.PutUint32(ticketBody[0:], lifetime)
			binary.BigEndian.PutUint16(ticketBody[4:], uint16(len(body)))
			copy(ticketBody[6:], body)
			msg := encodeHeader(4, ticketBody)
			s.Transcript.Write(msg)
			frames = append(frames, RecordFrame{ContentType: ContentTypeHandshake, Body: msg})
		}
	}

	frames = append(frames, RecordFrame{ContentType: ContentTypeChangeCipherSpec, Body: []byte{1}})

	serverFin := prf.Finished(s.ChosenSuite.Hash, s.MasterSecret, prf.ServerFinishedLabel, s.Transcript.Sum(s.ChosenSuite.Hash))
	finMsg := encodeHeader(20, serverFin)
	s.Transcript.Write(finMsg)
	s.serverFinished = serverFin
	frames = append(frames, RecordFrame{ContentType: ContentTypeHandshake, Body: finMsg})

	s.Step = StepHandshakeOver
	return sink.WriteRecords(frames, true)
}
