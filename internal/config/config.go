// Package config loads the ambient handshake configuration (
// tunables) the way notary.go loads flags: a flag.*
// call per option plus a small struct, not a generic config framework.
package config

import (
	"flag"

	"github.com/kovaden/tempesta/internal/pkiface"
	"github.com/kovaden/tempesta/internal/suites"
)

// AuthMode is the client-certificate policy (authmode tunable).
type AuthMode int

const (
	AuthModeNone AuthMode = iota
	AuthModeOptional
	AuthModeRequired
)

// Config is the read-only, startup-loaded handshake configuration.
// It is shared read-only across all connections ("the server's
// key/certificate list is read-only during the handshake; configuration
// changes require rotation at a higher layer").
type Config struct {
	AuthMode     AuthMode
	MaxMinorVer  int
	Curves       []string // preferred curve names, strongest first
	Hashes       []string // preferred hash names, strongest first
	DHParamP     string   // hex-encoded DHM P, empty disables DHE suites
	DHParamG     string   // hex-encoded DHM G
	ALPNProtos   []string
	CertReqCAList bool // emit a non-empty CA list

	SNI   pkiface.SNIResolver
	Suites []suites.ID // local preference override; nil uses suites.DefaultPreference

	TicketMasterKeyHex string
}

// MinorVersion3 is TLS 1.2's minor version number (major is always 3).
const MinorVersion3 = 3

// Flags holds the flag.*-bound pointers for Config's scalar fields.
// RegisterFlags defines them; call fs.Parse yourself, then Resolve
// into a Config. Slice/interface fields (Curves, Hashes, ALPNProtos,
// SNI, Suites) are set programmatically by the caller afterward.
type Flags struct {
	authmode  *string
	maxMinor  *int
	certReqCA *bool
	ticketKey *string
}

// RegisterFlags wires Config's scalar fields to flag.*, mirroring
// notary.go's flag.Bool("no-sandbox", ...) idiom.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		authmode:  fs.String("authmode", "optional", "client certificate policy: none, optional, required"),
		maxMinor:  fs.Int("max-minor-ver", MinorVersion3, "maximum negotiated TLS minor version"),
		certReqCA: fs.Bool("cert-req-ca-list", false, "emit a non-empty CertificateRequest CA list"),
		ticketKey: fs.String("ticket-master-key", "", "hex-encoded session ticket master key"),
	}
}

// Resolve builds a Config from parsed flag values; call after fs.Parse.
func (fl *Flags) Resolve() *Config {
	return &Config{
		AuthMode:           parseAuthMode(*fl.authmode),
		MaxMinorVer:        *fl.maxMinor,
		CertReqCAList:      *fl.certReqCA,
		TicketMasterKeyHex: *fl.ticketKey,
	}
}

func parseAuthMode(s string) AuthMode {
	switch s {
	case "required":
		return AuthModeRequired
	case "optional":
		return AuthModeOptional
	default:
		return AuthModeNone
	}
}

// PreferenceList returns the configured suite preference order,
// falling back to suites.DefaultPreference when unset.
func (c *Config) PreferenceList() []suites.ID {
	if len(c.Suites) > 0 {
		return c.Suites
	}
	return suites.DefaultPreference
}
