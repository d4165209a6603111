// Package handshake implements the server-side TLS 1.2 handshake state
// machine: the ClientHello incremental parser and its extension
// handlers, cipher-suite selection, the batched ServerHello...
// ServerHelloDone writer, ClientKeyExchange/CertificateVerify/Finished,
// and the batched end-of-handshake writer. Grounded on
// tls_srv.c's ttls_handshake_server_step and its per-message
// parse/write routines, and on session.go's sequence-checked
// method-per-step design — where that design panics on a protocol-order
// violation, this package returns a typed fatal error instead, since the
// FSM must report errors across chunk boundaries instead of unwinding a
// single call stack.
package handshake

import (
	"crypto"
	"io"
	"time"

	"github.com/kovaden/tempesta/internal/alert"
	"github.com/kovaden/tempesta/internal/config"
	"github.com/kovaden/tempesta/internal/ecp"
	"github.com/kovaden/tempesta/internal/mpi"
	"github.com/kovaden/tempesta/internal/pkiface"
	"github.com/kovaden/tempesta/internal/suites"
	"github.com/kovaden/tempesta/internal/ticket"
	"github.com/kovaden/tempesta/internal/transcript"
)

// Step is the top-level state ("States").
type Step int

const (
	StepClientHello Step = iota
	StepServerHello
	StepServerCertificate
	StepServerKeyExchange
	StepCertificateRequest
	StepServerHelloDone
	StepClientCertificate
	StepClientKeyExchange
	StepCertificateVerify
	StepClientChangeCipherSpec
	StepClientFinished
	StepServerChangeCipherSpec
	StepServerFinished
	StepHandshakeWrapup
	StepHandshakeOver
)

// Status is the tagged variant of {ok,
// need-more-bytes, fatal-error}, encoded as an int enum plus a
// separate error return rather than sentinel integers.
type Status int

const (
	StatusOK Status = iota
	StatusNeedMoreBytes
)

// RecordFrame is one scatter-gather entry of an already-formatted
// handshake frame, handed to the record layer as a batch (
// "Batched write").
type RecordFrame struct {
	ContentType uint8
	Body        []byte
}

// RecordSink is the external append-record capability the FSM writes
// its flights through: WriteRecords consumes a scatter-gather list of
// frames in one call.
type RecordSink interface {
	WriteRecords(frames []RecordFrame, final bool) error
}

const (
	ContentTypeChangeCipherSpec uint8 = 20
	ContentTypeAlert            uint8 = 21
	ContentTypeHandshake        uint8 = 22
	ContentTypeApplicationData  uint8 = 23
)

// kexKind tags which key-exchange family the negotiated suite needs.
type kexKind = suites.KeyExchange

// keyExchangeScratch is the tagged union of DHM/ECDH/RSA-PMS scratch
// (Hs.key-exchange context).
type keyExchangeScratch struct {
	kind kexKind

	// ECDHE
	ecGroup  *ecp.Group
	ecPriv   *mpi.Int
	ecPeer   *ecp.Point

	// DHE
	dhP, dhG *mpi.Int
	dhPriv   *mpi.Int

	// shared outcome
	premaster []byte
}

// State is the per-connection transient handshake context (Hs).
type State struct {
	Step Step

	Conf *config.Config
	PKI  pkiface.SNIResolver
	Tickets *ticket.Codec
	RNG  io.Reader

	// randoms
	ClientRandom [32]byte
	ServerRandom [32]byte

	// negotiated parameters
	MinorVersion int
	PeerSuites   []suites.ID
	ChosenSuite  *suites.Suite
	Curves       []uint16 // peer's supported_groups ids in wire order; the list is not length-bounded
	curvesSeen   bool     // supported_groups already present once; a repeat is decode_error
	SigHashes    map[suites.SigKind]crypto.Hash

	SessionID      []byte
	Resume         bool
	NewTicket      bool
	SecureReneg    bool
	ExtendedMS     bool
	ALPNChosen     string
	ClientExts     bool
	Vhost          *pkiface.CertBundle

	kex keyExchangeScratch

	Transcript *transcript.Transcript

	MasterSecret []byte

	// incremental ClientHello parse buffer: accumulates raw handshake
	// bytes across Advance calls until a complete message is present.
	chPending []byte

	// incremental ClientKeyExchange / CertificateVerify / Finished
	// buffers, same accumulate-then-parse strategy.
	ckePending []byte
	cvPending  []byte
	finPending []byte

	tlsConfirmed bool

	clientFinished []byte
	serverFinished []byte

	// ClientCertPub is the client's leaf certificate public key, set by
	// parseClientCertificate and consumed by parseCertificateVerify.
	ClientCertPub crypto.PublicKey

	startTime int64
}

// New creates a fresh handshake State (Hs lifecycle: "created on first
// ClientHello chunk").
func New(conf *config.Config, pki pkiface.SNIResolver, tickets *ticket.Codec, rng io.Reader) *State {
	return &State{
		Step:       StepClientHello,
		Conf:       conf,
		PKI:        pki,
		Tickets:    tickets,
		RNG:        rng,
		Transcript: transcript.New(),
		SigHashes:  map[suites.SigKind]crypto.Hash{},
		startTime:  time.Now().Unix(),
	}
}

// ErrDecode is the taxonomy kind for malformed handshake byte layout
// (Protocol/decode).
type decodeError struct{ msg string }

func (e *decodeError) Error() string { return "handshake: decode: " + e.msg }

var ErrDecode = &decodeError{"generic"}

func decodeErr(msg string) error { return &decodeError{msg} }

// fatal wraps err as an alert.Fatal with description d, unless the
// connection hasn't yet been confirmed to speak TLS (policy: no
// alert before the first two bytes are recognised).
func (s *State) fatal(d alert.Description, err error) error {
	if !s.tlsConfirmed {
		return alert.NewSilent(err)
	}
	return alert.New(d, err)
}
