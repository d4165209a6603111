// Command tempesta-demo runs a minimal server-side TLS 1.2 terminator
// over a plain TCP listener: no HTTP, no sandboxing, just the
// handshake state machine wired to real sockets. Grounded on notary.go's
// main() — flag parsing, signal-driven graceful shutdown, a Cleanup
// call on exit — generalised from an HTTP listener to net.Listen since
// this library terminates TLS at the transport layer, not inside an
// HTTP handler.
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"flag"
	"log"
	"math/big"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/kovaden/tempesta/internal/config"
	"github.com/kovaden/tempesta/internal/handshake"
	"github.com/kovaden/tempesta/internal/pkiface"
	"github.com/kovaden/tempesta/internal/session"
	"github.com/kovaden/tempesta/internal/ticket"
	"github.com/kovaden/tempesta/internal/wpool"
)

// recordSink adapts a net.Conn to handshake.RecordSink by writing each
// frame's 5-byte TLS record header (type, version, length) followed by
// its body, in one batched net.Conn.Write per flight the way
// RecordSink.WriteRecords promises ("batched write" — a single
// syscall per flight rather than one per message).
type recordSink struct {
	conn  net.Conn
	minor int
}

func (r *recordSink) WriteRecords(frames []handshake.RecordFrame, final bool) error {
	var buf []byte
	for _, f := range frames {
		hdr := [5]byte{f.ContentType, 3, byte(r.minor), byte(len(f.Body) >> 8), byte(len(f.Body))}
		buf = append(buf, hdr[:]...)
		buf = append(buf, f.Body...)
	}
	_, err := r.conn.Write(buf)
	return err
}

const recordHeaderLen = 5

// recordFeeder turns a stream of raw socket bytes into the sequence of
// Advance calls the handshake state machine expects: handshake-content
// records are forwarded as their payload, ChangeCipherSpec records are
// collapsed to the single content-type marker byte Advance's
// ChangeCipherSpec step looks for. This is the inbound half of the
// transport boundary recordSink already handles outbound.
type recordFeeder struct {
	pending []byte
}

// feed peels as many complete records as raw (appended to any carry-over
// from a prior short read) contains, advancing st once per record, and
// keeps whatever trailing partial record remains for the next read.
func (f *recordFeeder) feed(raw []byte, st *handshake.State, sink handshake.RecordSink) (handshake.Status, error) {
	f.pending = append(f.pending, raw...)
	var status handshake.Status
	for {
		if len(f.pending) < recordHeaderLen {
			return status, nil
		}
		length := int(f.pending[3])<<8 | int(f.pending[4])
		total := recordHeaderLen + length
		if len(f.pending) < total {
			return status, nil
		}
		contentType := f.pending[0]
		payload := f.pending[recordHeaderLen:total]
		f.pending = f.pending[total:]

		var err error
		switch contentType {
		case handshake.ContentTypeChangeCipherSpec:
			status, err = st.Advance([]byte{handshake.ContentTypeChangeCipherSpec}, sink)
		default:
			status, err = st.Advance(payload, sink)
		}
		if err != nil {
			return status, err
		}
		if st.Step == handshake.StepHandshakeOver {
			return status, nil
		}
	}
}

func main() {
	fs := flag.NewFlagSet("tempesta-demo", flag.ExitOnError)
	listenAddr := fs.String("listen", "0.0.0.0:10443", "TCP address to accept TLS connections on")
	flags := config.RegisterFlags(fs)
	fs.Parse(os.Args[1:])

	conf := flags.Resolve()
	conf.ALPNProtos = []string{"http/1.1"}

	pki, err := loadDemoPKI()
	if err != nil {
		log.Fatalln(err)
	}
	conf.SNI = pki

	var tickets *ticket.Codec
	if conf.TicketMasterKeyHex != "" {
		key, err := hex.DecodeString(conf.TicketMasterKeyHex)
		if err != nil {
			log.Fatalln("bad -ticket-master-key:", err)
		}
		tickets, err = ticket.NewCodec(key)
		if err != nil {
			log.Fatalln(err)
		}
	}

	wpool.Init()
	defer wpool.Close()

	sm := session.New()
	defer sm.Close()

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatalln(err)
	}
	log.Println("listening on", *listenAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		log.Println("exiting...")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Println("accept:", err)
			return
		}
		key := conn.RemoteAddr().String()
		go serve(conn, key, conf, tickets, sm)
	}
}

// serve runs one connection's handshake loop, recovering from any
// panic so a single bad connection never takes the process down
// (notary.go's equivalent guard lived in its HTTP handler recover;
// here it wraps the per-connection goroutine directly).
func serve(conn net.Conn, key string, conf *config.Config, tickets *ticket.Codec, sm *session.Manager) {
	defer destroyOnPanic(key, sm)
	defer conn.Close()
	defer sm.Destroy(key)

	conn.SetDeadline(time.Now().Add(1 * time.Minute))

	st := handshake.New(conf, conf.SNI, tickets, rand.Reader)
	sm.Add(key, st)
	sink := &recordSink{conn: conn, minor: config.MinorVersion3}
	feeder := &recordFeeder{}

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if _, err := feeder.feed(buf[:n], st, sink); err != nil {
			log.Println("handshake error for", key, ":", err)
			return
		}
		if st.Step == handshake.StepHandshakeOver {
			return
		}
	}
}

func destroyOnPanic(key string, sm *session.Manager) {
	if r := recover(); r != nil {
		log.Println("recovered panic on connection", key, ":", r)
		log.Println(string(debug.Stack()))
		sm.Destroy(key)
	}
}

// loadDemoPKI builds a self-signed ECDSA vhost bundle at startup, since
// this command is a protocol demonstration, not a certificate-management
// tool (a production deployment wires pkiface.SNIResolver to a real
// certificate store instead).
func loadDemoPKI() (*pkiface.DefaultSuite, error) {
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tempesta-demo"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &sk.PublicKey, sk)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	suite := pkiface.NewDefaultSuite(sk, nil)
	suite.Vhosts[""] = &pkiface.CertBundle{
		Chain:      []*x509.Certificate{cert},
		Signer:     &pkiface.ECDSASigner{Key: sk},
		KeyIsECDSA: true,
		CurveName:  "secp256r1",
	}
	return suite, nil
}

