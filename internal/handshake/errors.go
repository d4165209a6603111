package handshake

import "errors"

// ErrAlreadyConfirmedTLS marks a connection that is already past the
// record sniff stage (already confirmed to speak TLS).
var ErrAlreadyConfirmedTLS = errors.New("handshake: connection already past the record sniff stage")

// ErrRenegotiation flags a second ClientHello arriving mid-connection
// ("re-handshake guard"): this library refuses renegotiation
// outright rather than implementing RFC 5746's full state machine,
// since a terminating proxy has no use for it and it has a history of
// being a source of protocol-confusion vulnerabilities.
var ErrRenegotiation = errors.New("handshake: renegotiation refused")
