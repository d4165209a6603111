// Package alert implements the TLS 1.2 alert protocol: the description
// enum, its one-byte wire encoding, and the Fatal error type the rest
// of the module uses to carry "what alert goes on the wire" alongside
// the underlying Go error.
package alert

import "fmt"

// Description is a TLS 1.2 AlertDescription (RFC 5246 §7.2).
type Description uint8

const (
	CloseNotify            Description = 0
	UnexpectedMessage       Description = 10
	BadRecordMAC            Description = 20
	DecryptionFailed        Description = 21
	RecordOverflow          Description = 22
	DecompressionFailure    Description = 30
	HandshakeFailure        Description = 40
	NoCertificate           Description = 41
	BadCertificate          Description = 42
	UnsupportedCertificate  Description = 43
	CertificateRevoked      Description = 44
	CertificateExpired      Description = 45
	CertificateUnknown      Description = 46
	IllegalParameter        Description = 47
	UnknownCA               Description = 48
	AccessDenied            Description = 49
	DecodeError             Description = 50
	DecryptError            Description = 51
	ProtocolVersion         Description = 70
	InsufficientSecurity    Description = 71
	InternalError           Description = 80
	InappropriateFallback   Description = 86
	UserCanceled            Description = 90
	NoRenegotiation         Description = 100
	UnsupportedExtension    Description = 110
	UnrecognizedName        Description = 112
	NoApplicationProtocol   Description = 120
)

// Level is the TLS AlertLevel byte (RFC 5246 §7.2).
type Level uint8

const (
	LevelWarning Level = 1
	LevelFatal   Level = 2
)

func (d Description) String() string {
	switch d {
	case CloseNotify:
		return "close_notify"
	case UnexpectedMessage:
		return "unexpected_message"
	case BadRecordMAC:
		return "bad_record_mac"
	case DecryptionFailed:
		return "decryption_failed"
	case RecordOverflow:
		return "record_overflow"
	case DecompressionFailure:
		return "decompression_failure"
	case HandshakeFailure:
		return "handshake_failure"
	case NoCertificate:
		return "no_certificate"
	case BadCertificate:
		return "bad_certificate"
	case UnsupportedCertificate:
		return "unsupported_certificate"
	case CertificateRevoked:
		return "certificate_revoked"
	case CertificateExpired:
		return "certificate_expired"
	case CertificateUnknown:
		return "certificate_unknown"
	case IllegalParameter:
		return "illegal_parameter"
	case UnknownCA:
		return "unknown_ca"
	case AccessDenied:
		return "access_denied"
	case DecodeError:
		return "decode_error"
	case DecryptError:
		return "decrypt_error"
	case ProtocolVersion:
		return "protocol_version"
	case InsufficientSecurity:
		return "insufficient_security"
	case InternalError:
		return "internal_error"
	case InappropriateFallback:
		return "inappropriate_fallback"
	case UserCanceled:
		return "user_canceled"
	case NoRenegotiation:
		return "no_renegotiation"
	case UnsupportedExtension:
		return "unsupported_extension"
	case UnrecognizedName:
		return "unrecognized_name"
	case NoApplicationProtocol:
		return "no_application_protocol"
	default:
		return fmt.Sprintf("alert(%d)", uint8(d))
	}
}

// Encode returns the two-byte alert record body: level, description.
func Encode(level Level, d Description) []byte {
	return []byte{byte(level), byte(d)}
}

// Fatal wraps an underlying error with the alert description that must
// go on the wire because of it. A nil Alert (the zero Description,
// CloseNotify) paired with Silent=true means no alert should be sent at
// all — used for the pre-TLS two-byte sniff failure, which the error
// handling policy says must close silently.
type Fatal struct {
	Alert  Description
	Silent bool
	Err    error
}

func (f *Fatal) Error() string {
	if f.Silent {
		return fmt.Sprintf("tls: fatal (no alert sent): %v", f.Err)
	}
	return fmt.Sprintf("tls: fatal %s: %v", f.Alert, f.Err)
}

func (f *Fatal) Unwrap() error { return f.Err }

// New builds a Fatal that will emit alert d on the wire.
func New(d Description, err error) *Fatal {
	return &Fatal{Alert: d, Err: err}
}

// NewSilent builds a Fatal for the pre-TLS-confirmed sniff failure: no
// alert byte is ever written.
func NewSilent(err error) *Fatal {
	return &Fatal{Silent: true, Err: err}
}
