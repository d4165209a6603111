package handshake

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/kovaden/tempesta/internal/alert"
	"github.com/kovaden/tempesta/internal/ecp"
	"github.com/kovaden/tempesta/internal/mpi"
	"github.com/kovaden/tempesta/internal/suites"
)

// selectSuiteAndRespond fills the server random, resolves the default
// vhost when SNI picked none, runs suite selection (local preference
// outer loop, peer-offered inner loop) unless resuming, and moves to
// StepServerHello. It writes nothing; BuildResponse emits the batched
// ServerHello..ServerHelloDone flight afterwards.
func (s *State) selectSuiteAndRespond() error {
	if err := s.fillServerRandom(); err != nil {
		return s.fatal(alert.InternalError, err)
	}

	if s.Vhost == nil {
		vh, err := s.PKI.Resolve("")
		if err != nil {
			return s.fatal(alert.HandshakeFailure, err)
		}
		s.Vhost = vh
	}

	if !s.Resume {
		if err := s.chooseSuite(); err != nil {
			return err
		}
	}

	s.Step = StepServerHello
	return nil
}

func (s *State) chooseSuite() error {
	peerSet := map[suites.ID]bool{}
	for _, id := range s.PeerSuites {
		peerSet[id] = true
	}

	for _, id := range s.Conf.PreferenceList() {
		if !peerSet[id] {
			continue
		}
		suite, ok := suites.Table[id]
		if !ok || suite.MinMinor > s.MinorVersion {
			continue
		}
		if !s.suiteFitsVhost(suite) {
			continue
		}
		if suites.RequiresECP(suite.KX, suite.Sig) && s.chosenCurve() == nil {
			continue
		}
		if suite.KX == suites.KeyExchangeDHE && (s.Conf.DHParamP == "" || s.Conf.DHParamG == "") {
			continue
		}
		chosen := suite
		s.ChosenSuite = &chosen
		return nil
	}
	return s.fatal(alert.HandshakeFailure, decodeErr("no mutually acceptable cipher suite"))
}

func (s *State) suiteFitsVhost(suite suites.Suite) bool {
	switch suite.Sig {
	case suites.SigECDSA:
		return s.Vhost.KeyIsECDSA
	case suites.SigRSA: // ECDHE-RSA/DHE-RSA: server signs the ephemeral key
		return !s.Vhost.KeyIsECDSA && s.Vhost.Signer != nil
	default: // plain RSA key transport: server decrypts the premaster
		return !s.Vhost.KeyIsECDSA && s.Vhost.Decrypter != nil
	}
}

func (s *State) chosenCurve() *ecp.Group {
	for _, c := range s.Curves {
		switch c {
		case namedCurveSecp256r1:
			return ecp.P256
		case namedCurveSecp384r1:
			return ecp.P384
		case namedCurveSecp521r1:
			return ecp.P521
		}
	}
	if len(s.Curves) == 0 {
		return ecp.P256 // peer silent on supported_groups: assume the mandatory default
	}
	return nil
}

// BuildResponse renders the ServerHello...ServerHelloDone flight (or,
// on resumption, ServerHello+ChangeCipherSpec+Finished) as one
// scatter-gather batch and writes it via sink in a single call.
func (s *State) BuildResponse(sink RecordSink) error {
	if s.Resume {
		return s.buildResumeResponse(sink)
	}

	var frames []RecordFrame
	frames = append(frames, RecordFrame{ContentType: ContentTypeHandshake, Body: s.encodeServerHello()})
	frames = append(frames, RecordFrame{ContentType: ContentTypeHandshake, Body: s.encodeCertificate()})

	if s.ChosenSuite.KX != suites.KeyExchangeRSA {
		ske, err := s.encodeServerKeyExchange()
		if err != nil {
			return s.fatal(alert.InternalError, err)
		}
		frames = append(frames, RecordFrame{ContentType: ContentTypeHandshake, Body: ske})
	}

	if s.Conf.AuthMode != 0 {
		frames = append(frames, RecordFrame{ContentType: ContentTypeHandshake, Body: s.encodeCertificateRequest()})
	}

	frames = append(frames, RecordFrame{ContentType: ContentTypeHandshake, Body: encodeHeader(14, nil)}) // ServerHelloDone

	for _, f := range frames {
		s.Transcript.Write(f.Body)
	}

	s.Step = StepClientKeyExchange
	return sink.WriteRecords(frames, false)
}

func encodeHeader(msgType byte, body []byte) []byte {
	out := make([]byte, handshakeHeaderLen+len(body))
	out[0] = msgType
	l := len(body)
	out[1] = byte(l >> 16)
	out[2] = byte(l >> 8)
	out[3] = byte(l)
	copy(out[4:], body)
	return out
}

func (s *State) encodeServerHello() []byte {
	body := make([]byte, 0, 2+32+1+len(s.SessionID)+2+1+16)
	body = append(body, 3, byte(s.MinorVersion))
	body = append(body, s.ServerRandom[:]...)
	body = append(body, byte(len(s.SessionID)))
	body = append(body, s.SessionID...)
	var suiteID [2]byte
	binary.BigEndian.PutUint16(suiteID[:], uint16(s.ChosenSuite.ID))
	body = append(body, suiteID[:]...)
	body = append(body, 0) // null compression

	var exts []byte
	if s.ExtendedMS {
		exts = append(exts, extTLV(extExtendedMasterSecret, nil)...)
	}
	if s.SecureReneg {
		exts = append(exts, extTLV(extRenegotiationInfo, []byte{0})...)
	}
	if s.ALPNChosen != "" {
		proto := []byte(s.ALPNChosen)
		inner := append([]byte{byte(len(proto))}, proto...)
		listLen := make([]byte, 2)
		binary.BigEndian.PutUint16(listLen, uint16(len(inner)))
		exts = append(exts, extTLV(extALPN, append(listLen, inner...))...)
	}
	if s.NewTicket {
		exts = append(exts, extTLV(extSessionTicket, nil)...)
	}
	if len(exts) > 0 {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(exts)))
		body = append(body, l[:]...)
		body = append(body, exts...)
	}
	return encodeHeader(2, body)
}

func extTLV(typ uint16, data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(out[0:], typ)
	binary.BigEndian.PutUint16(out[2:], uint16(len(data)))
	copy(out[4:], data)
	return out
}

func (s *State) encodeCertificate() []byte {
	var chain []byte
	for _, c := range s.Vhost.Chain {
		entry := make([]byte, 3+len(c.Raw))
		l := len(c.Raw)
		entry[0], entry[1], entry[2] = byte(l>>16), byte(l>>8), byte(l)
		copy(entry[3:], c.Raw)
		chain = append(chain, entry...)
	}
	body := make([]byte, 3+len(chain))
	l := len(chain)
	body[0], body[1], body[2] = byte(l>>16), byte(l>>8), byte(l)
	copy(body[3:], chain)
	return encodeHeader(11, body)
}

func (s *State) encodeServerKeyExchange() ([]byte, error) {
	if s.ChosenSuite.KX == suites.KeyExchangeDHE {
		return s.encodeServerKeyExchangeDHE()
	}
	return s.encodeServerKeyExchangeECDHE()
}

// encodeServerKeyExchangeDHE emits classic finite-field DHE params
// using the fixed group configured at startup (DHParamP/DHParamG;
// a suite requiring DHE is never selected when those are unset, see
// chooseSuite).
func (s *State) encodeServerKeyExchangeDHE() ([]byte, error) {
	var p, g mpi.Int
	if err := p.ReadBinary(mustHex(s.Conf.DHParamP)); err != nil {
		return nil, err
	}
	if err := g.ReadBinary(mustHex(s.Conf.DHParamG)); err != nil {
		return nil, err
	}

	var priv mpi.Int
	if err := priv.FillRandom(rand.Reader, p.ByteLen()); err != nil {
		return nil, err
	}
	var pub mpi.Int
	if err := mpi.ExpMod(&pub, &g, &priv, &p, nil); err != nil {
		return nil, err
	}
	s.kex.kind = suites.KeyExchangeDHE
	s.kex.dhP = &p
	s.kex.dhG = &g
	s.kex.dhPriv = &priv

	pBytes := make([]byte, p.ByteLen())
	_ = p.WriteBinary(pBytes)
	gBytes := make([]byte, g.ByteLen())
	_ = g.WriteBinary(gBytes)
	pubBytes := make([]byte, pub.ByteLen())
	_ = pub.WriteBinary(pubBytes)

	params := make([]byte, 0, 6+len(pBytes)+len(gBytes)+len(pubBytes))
	params = appendU16LenPrefixed(params, pBytes)
	params = appendU16LenPrefixed(params, gBytes)
	params = appendU16LenPrefixed(params, pubBytes)

	return s.signAndFrameServerKeyExchange(params)
}

func appendU16LenPrefixed(out, data []byte) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(data)))
	out = append(out, l[:]...)
	return append(out, data...)
}

func mustHex(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := range b {
		hi := hexNibble(s[2*i])
		lo := hexNibble(s[2*i+1])
		b[i] = hi<<4 | lo
	}
	return b
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

func (s *State) signAndFrameServerKeyExchange(params []byte) ([]byte, error) {
	sigAlg := s.signatureAlgorithmFor(s.ChosenSuite.Sig)
	digest, h := s.serverKeyExchangeDigest(params)

	sig, err := s.Vhost.Signer.Sign(rand.Reader, h, digest)
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, len(params)+2+2+len(sig))
	body = append(body, params...)
	body = append(body, sigAlg...)
	body = appendU16LenPrefixed(body, sig)
	return encodeHeader(12, body), nil
}

func (s *State) encodeServerKeyExchangeECDHE() ([]byte, error) {
	group := s.chosenCurve()
	if group == nil {
		return nil, decodeErr("no negotiated curve for ECDHE suite")
	}
	priv, pub, err := ecp.GenerateEphemeral(rand.Reader, group)
	if err != nil {
		return nil, err
	}
	s.kex.kind = suites.KeyExchangeECDHE
	s.kex.ecGroup = group
	s.kex.ecPriv = priv

	pointLen := pub.X.ByteLen()
	if pub.Y.ByteLen() > pointLen {
		pointLen = pub.Y.ByteLen()
	}
	curveBits := group.PBits
	coordLen := (curveBits + 7) / 8
	if pointLen > coordLen {
		coordLen = pointLen
	}

	xb := make([]byte, coordLen)
	yb := make([]byte, coordLen)
	_ = pub.X.WriteBinary(xb)
	_ = pub.Y.WriteBinary(yb)

	point := make([]byte, 0, 1+2*coordLen)
	point = append(point, 0x04)
	point = append(point, xb...)
	point = append(point, yb...)

	var curveID uint16
	switch group.Name {
	case "secp256r1":
		curveID = namedCurveSecp256r1
	case "secp384r1":
		curveID = namedCurveSecp384r1
	case "secp521r1":
		curveID = namedCurveSecp521r1
	}

	params := make([]byte, 0, 4+len(point))
	params = append(params, 3, byte(curveID>>8), byte(curveID))
	params = append(params, byte(len(point)))
	params = append(params, point...)

	return s.signAndFrameServerKeyExchange(params)
}

func (s *State) encodeCertificateRequest() []byte {
	body := []byte{2, 1, 64} // 2 cert types: RSA sign, ECDSA sign
	var sigHashes []byte
	for _, sh := range []struct {
		hashID, sigID byte
	}{{4, 1}, {4, 3}, {5, 1}, {5, 3}} {
		sigHashes = append(sigHashes, sh.hashID, sh.sigID)
	}
	var shl [2]byte
	binary.BigEndian.PutUint16(shl[:], uint16(len(sigHashes)))
	body = append(body, shl[:]...)
	body = append(body, sigHashes...)

	// CA list is non-empty only when configured,
	// else an empty list (the common "accept any issuer" case).
	if s.Conf.CertReqCAList && len(s.Vhost.Chain) > 0 {
		ca := s.Vhost.Chain[len(s.Vhost.Chain)-1].RawSubject
		caList := make([]byte, 2+len(ca))
		binary.BigEndian.PutUint16(caList[0:], uint16(len(ca)))
		copy(caList[2:], ca)
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(caList)))
		body = append(body, l[:]...)
		body = append(body, caList...)
	} else {
		body = append(body, 0, 0)
	}
	return encodeHeader(13, body)
}
