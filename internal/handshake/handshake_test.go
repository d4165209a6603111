package handshake

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/kovaden/tempesta/internal/config"
	"github.com/kovaden/tempesta/internal/ecp"
	"github.com/kovaden/tempesta/internal/pkiface"
	"github.com/kovaden/tempesta/internal/prf"
	"github.com/kovaden/tempesta/internal/suites"
	"github.com/kovaden/tempesta/internal/ticket"
)

type fakeSink struct {
	frames [][]RecordFrame
}

func (f *fakeSink) WriteRecords(frames []RecordFrame, final bool) error {
	cp := append([]RecordFrame{}, frames...)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeSink) allTypes() []uint8 {
	var out []uint8
	for _, batch := range f.frames {
		for _, fr := range batch {
			out = append(out, fr.ContentType)
		}
	}
	return out
}

func testVhost(t *testing.T) *pkiface.DefaultSuite {
	t.Helper()
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &sk.PublicKey, sk)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	suite := pkiface.NewDefaultSuite(sk, nil)
	suite.Vhosts[""] = &pkiface.CertBundle{
		Chain:      []*x509.Certificate{cert},
		Signer:     &pkiface.ECDSASigner{Key: sk},
		KeyIsECDSA: true,
		CurveName:  "secp256r1",
	}
	return suite
}

func testConfig() *config.Config {
	return &config.Config{
		MaxMinorVer: config.MinorVersion3,
		AuthMode:    config.AuthModeNone,
	}
}

// buildClientHello constructs a minimal wire-format ClientHello message
// body (RFC 5246 §7.4.1.2) offering the given suites (plus
// TLS_FALLBACK_SCSV when asked) and the supported_groups and
// signature_algorithms extensions ECDHE-ECDSA selection needs.
func buildClientHello(suiteIDs []suites.ID, includeFallbackSCSV bool) []byte {
	return buildClientHelloWithExtraExts(suiteIDs, includeFallbackSCSV, nil)
}

// buildClientHelloWithExtraExts is buildClientHello plus zero or more
// additional already-encoded extension TLVs appended to the
// extensions block.
func buildClientHelloWithExtraExts(suiteIDs []suites.ID, includeFallbackSCSV bool, extraExts []byte) []byte {
	var body []byte
	body = append(body, 3, 3) // client_version

	var random [32]byte
	body = append(body, random[:]...)

	body = append(body, 0) // session_id length 0

	var sl []byte
	for _, id := range suiteIDs {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(id))
		sl = append(sl, b[:]...)
	}
	if includeFallbackSCSV {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(suites.FallbackSCSV))
		sl = append(sl, b[:]...)
	}
	var sll [2]byte
	binary.BigEndian.PutUint16(sll[:], uint16(len(sl)))
	body = append(body, sll[:]...)
	body = append(body, sl...)

	body = append(body, 1, 0) // compression methods: [null]

	// extensions
	var groups []byte
	groups = append(groups, 0, 2, 0, 23) // supported_groups list: secp256r1
	groupsExt := make([]byte, 4+len(groups))
	binary.BigEndian.PutUint16(groupsExt[0:], 10)
	binary.BigEndian.PutUint16(groupsExt[2:], uint16(len(groups)))
	copy(groupsExt[4:], groups)

	var sigAlgs []byte
	sigAlgs = append(sigAlgs, 0, 2, 4, 3) // sha256+ecdsa
	sigExt := make([]byte, 4+len(sigAlgs))
	binary.BigEndian.PutUint16(sigExt[0:], 13)
	binary.BigEndian.PutUint16(sigExt[2:], uint16(len(sigAlgs)))
	copy(sigExt[4:], sigAlgs)

	exts := append(groupsExt, sigExt...)
	exts = append(exts, extraExts...)
	var extLen [2]byte
	binary.BigEndian.PutUint16(extLen[:], uint16(len(exts)))
	body = append(body, extLen[:]...)
	body = append(body, exts...)

	msg := make([]byte, handshakeHeaderLen+len(body))
	msg[0] = msgTypeClientHello
	l := len(body)
	msg[1], msg[2], msg[3] = byte(l>>16), byte(l>>8), byte(l)
	copy(msg[4:], body)
	return msg
}

func TestClientHelloByteAtATime(t *testing.T) {
	conf := testConfig()
	vhost := testVhost(t)
	st := New(conf, vhost, nil, rand.Reader)
	sink := &fakeSink{}

	msg := buildClientHello([]suites.ID{suites.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384}, false)

	var status Status
	var err error
	for i := 0; i < len(msg)-1; i++ {
		status, err = st.Advance(msg[i:i+1], sink)
		if err != nil {
			t.Fatalf("byte %d: unexpected error: %v", i, err)
		}
		if status != StatusNeedMoreBytes {
			t.Fatalf("byte %d: expected StatusNeedMoreBytes, got %v", i, status)
		}
	}
	status, err = st.Advance(msg[len(msg)-1:], sink)
	if err != nil {
		t.Fatalf("final byte: unexpected error: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("final byte: expected StatusOK, got %v", status)
	}
	if st.ChosenSuite == nil || st.ChosenSuite.ID != suites.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384 {
		t.Fatalf("suite not negotiated as expected: %+v", st.ChosenSuite)
	}
	if len(sink.frames) == 0 {
		t.Fatalf("expected a ServerHello flight to have been written")
	}
	types := sink.allTypes()
	if types[0] != ContentTypeHandshake {
		t.Fatalf("first frame should be a handshake record")
	}
}

func TestClientHelloWholeMessageAtOnce(t *testing.T) {
	conf := testConfig()
	vhost := testVhost(t)
	st := New(conf, vhost, nil, rand.Reader)
	sink := &fakeSink{}

	msg := buildClientHello([]suites.ID{suites.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384}, false)
	status, err := st.Advance(msg, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("expected StatusOK, got %v", status)
	}
}

func TestFallbackSCSVRejectedOnDowngrade(t *testing.T) {
	conf := testConfig()
	conf.MaxMinorVer = 3
	vhost := testVhost(t)
	st := New(conf, vhost, nil, rand.Reader)
	sink := &fakeSink{}

	msg := buildClientHello([]suites.ID{suites.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384}, true)
	// downgrade the advertised client_version below MaxMinorVer so the
	// fallback check fires (minor version 2 = TLS 1.1).
	msg[handshakeHeaderLen+1] = 2

	_, err := st.Advance(msg, sink)
	if err == nil {
		t.Fatalf("expected inappropriate_fallback error")
	}
}

// buildClientKeyExchangeECDHE encodes a ClientKeyExchange body carrying
// an uncompressed EC point, the same wire shape kxECDHE parses.
func buildClientKeyExchangeECDHE(pub *ecp.Point, group *ecp.Group) []byte {
	coordLen := (group.PBits + 7) / 8
	xb := make([]byte, coordLen)
	yb := make([]byte, coordLen)
	_ = pub.X.WriteBinary(xb)
	_ = pub.Y.WriteBinary(yb)

	point := make([]byte, 0, 1+2*coordLen)
	point = append(point, 0x04)
	point = append(point, xb...)
	point = append(point, yb...)

	body := append([]byte{byte(len(point))}, point...)
	return encodeHeader(16, body) // ClientKeyExchange msg type
}

func buildChangeCipherSpec() []byte { return []byte{ContentTypeChangeCipherSpec} }

func buildFinished(verifyData []byte) []byte {
	return encodeHeader(20, verifyData)
}

// TestFullHandshakeClientFinished drives a complete ECDHE-ECDSA
// handshake through to the server's wrap-up flight, acting as a real
// client would: it derives its own premaster/master secret from the
// server's ephemeral key share and computes verify_data over the
// transcript *excluding* its own Finished message, the same way a
// genuine peer does. This is the case that surfaces a transcript
// sampled after the Finished bytes are folded in.
func TestFullHandshakeClientFinished(t *testing.T) {
	conf := testConfig()
	vhost := testVhost(t)
	st := New(conf, vhost, nil, rand.Reader)
	sink := &fakeSink{}

	hello := buildClientHello([]suites.ID{suites.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384}, false)
	status, err := st.Advance(hello, sink)
	if err != nil {
		t.Fatalf("ClientHello: unexpected error: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("ClientHello: expected StatusOK, got %v", status)
	}

	group := st.kex.ecGroup
	if group == nil {
		t.Fatalf("server did not pick an ECDHE group")
	}
	serverPub := ecp.ScalarMultBase(st.kex.ecPriv, group)

	clientPriv, clientPub, err := ecp.GenerateEphemeral(rand.Reader, group)
	if err != nil {
		t.Fatalf("client ephemeral keygen: %v", err)
	}
	shared, err := ecp.DeriveSharedSecret(clientPriv, serverPub, group)
	if err != nil {
		t.Fatalf("client ECDH derivation: %v", err)
	}
	premaster := make([]byte, (group.PBits+7)/8)
	_ = shared.WriteBinary(premaster)

	masterSecret := prf.MasterSecret(st.ChosenSuite.Hash, premaster, st.ClientRandom[:], st.ServerRandom[:])

	cke := buildClientKeyExchangeECDHE(clientPub, group)
	status, err = st.Advance(cke, sink)
	if err != nil {
		t.Fatalf("ClientKeyExchange: unexpected error: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("ClientKeyExchange: expected StatusOK, got %v", status)
	}
	if st.kex.premaster == nil {
		t.Fatalf("server did not derive a premaster secret")
	}

	// The transcript now covers everything up to and including
	// ClientKeyExchange — exactly what a genuine client's verify_data
	// must be computed over.
	transcriptSum := st.Transcript.Sum(st.ChosenSuite.Hash)
	clientVerifyData := prf.Finished(st.ChosenSuite.Hash, masterSecret, prf.ClientFinishedLabel, transcriptSum)

	ccsAndFinished := append(append([]byte{}, buildChangeCipherSpec()...), buildFinished(clientVerifyData)...)
	status, err = st.Advance(ccsAndFinished, sink)
	if err != nil {
		t.Fatalf("ChangeCipherSpec+Finished: unexpected error: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("ChangeCipherSpec+Finished: expected StatusOK, got %v", status)
	}
	if st.Step != StepHandshakeOver {
		t.Fatalf("expected handshake to complete, Step=%v", st.Step)
	}

	types := sink.allTypes()
	var ccsCount, finCount int
	for i, typ := range types {
		if typ == ContentTypeChangeCipherSpec {
			ccsCount++
		}
		if typ == ContentTypeHandshake && i == len(types)-1 {
			finCount++
		}
	}
	if ccsCount != 1 {
		t.Fatalf("expected exactly one server ChangeCipherSpec, got %d", ccsCount)
	}
	if finCount != 1 {
		t.Fatalf("expected the final frame to be the server's Finished")
	}
}

// TestResumedHandshakeNoDoubleWrapup drives an abbreviated,
// ticket-resumed handshake and checks the server does not emit a
// second ChangeCipherSpec+Finished flight after the client's.
func TestResumedHandshakeNoDoubleWrapup(t *testing.T) {
	conf := testConfig()
	vhost := testVhost(t)

	masterKey := make([]byte, 32)
	codec, err := ticket.NewCodec(masterKey)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	sealed, _, err := codec.Write(&ticket.State{
		CipherSuite:  uint16(suites.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384),
		MasterSecret: make([]byte, 48),
	})
	if err != nil {
		t.Fatalf("Write ticket: %v", err)
	}

	st := New(conf, vhost, codec, rand.Reader)
	sink := &fakeSink{}

	hello := buildClientHelloWithTicket(sealed)
	status, err := st.Advance(hello, sink)
	if err != nil {
		t.Fatalf("ClientHello: unexpected error: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("ClientHello: expected StatusOK, got %v", status)
	}
	if !st.Resume {
		t.Fatalf("expected server to resume from the session ticket")
	}
	if st.Step != StepClientChangeCipherSpec {
		t.Fatalf("expected server to be waiting on client CCS, got Step=%v", st.Step)
	}
	flightsAfterServerHello := len(sink.frames)

	transcriptSum := st.Transcript.Sum(st.ChosenSuite.Hash)
	clientVerifyData := prf.Finished(st.ChosenSuite.Hash, st.MasterSecret, prf.ClientFinishedLabel, transcriptSum)
	ccsAndFinished := append(append([]byte{}, buildChangeCipherSpec()...), buildFinished(clientVerifyData)...)

	status, err = st.Advance(ccsAndFinished, sink)
	if err != nil {
		t.Fatalf("ChangeCipherSpec+Finished: unexpected error: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("expected StatusOK, got %v", status)
	}
	if st.Step != StepHandshakeOver {
		t.Fatalf("expected handshake to complete, Step=%v", st.Step)
	}
	if len(sink.frames) != flightsAfterServerHello {
		t.Fatalf("server emitted a second flight after the abbreviated handshake's client Finished: %d batches before, %d after",
			flightsAfterServerHello, len(sink.frames))
	}
}

// buildClientHelloWithTicket is buildClientHello plus a non-empty
// session_ticket extension carrying a previously sealed ticket.
func buildClientHelloWithTicket(sealedTicket []byte) []byte {
	ticketExt := make([]byte, 4+len(sealedTicket))
	binary.BigEndian.PutUint16(ticketExt[0:], 35) // session_ticket
	binary.BigEndian.PutUint16(ticketExt[2:], uint16(len(sealedTicket)))
	copy(ticketExt[4:], sealedTicket)

	return buildClientHelloWithExtraExts([]suites.ID{suites.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384}, false, ticketExt)
}

func TestDuplicateSupportedGroupsRejected(t *testing.T) {
	conf := testConfig()
	vhost := testVhost(t)
	st := New(conf, vhost, nil, rand.Reader)
	sink := &fakeSink{}

	groups := []byte{0, 2, 0, 23}
	groupsExt := make([]byte, 4+len(groups))
	binary.BigEndian.PutUint16(groupsExt[0:], 10)
	binary.BigEndian.PutUint16(groupsExt[2:], uint16(len(groups)))
	copy(groupsExt[4:], groups)

	msg := buildClientHelloWithExtraExts([]suites.ID{suites.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384}, false, groupsExt)

	_, err := st.Advance(msg, sink)
	if err == nil {
		t.Fatalf("expected decode_error on duplicate supported_groups extension")
	}
}

func TestNoSuiteOverlap(t *testing.T) {
	conf := testConfig()
	conf.Suites = []suites.ID{suites.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384}
	vhost := testVhost(t)
	st := New(conf, vhost, nil, rand.Reader)
	sink := &fakeSink{}

	// Offer a suite the server doesn't have configured.
	msg := buildClientHello([]suites.ID{suites.TLS_RSA_WITH_AES_128_CBC_SHA}, false)
	_, err := st.Advance(msg, sink)
	if err == nil {
		t.Fatalf("expected handshake_failure for no suite overlap")
	}
}
