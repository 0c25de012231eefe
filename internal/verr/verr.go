// Package verr defines the error taxonomy surfaced by the core: a small set
// of named failure kinds that cross the record layer, handshake, auth, and
// session boundaries, serializable as {"error_kind": "<snake_case_name>"}
// for the UI bridge.
package verr

import "fmt"

// Kind identifies one of the core's named failure categories.
type Kind int

const (
	AesBadLength Kind = iota
	AesBadTag
	AesEncryptionError
	BadHostname
	BadPublicKey
	BadSecretKey
	BadSignature
	SignatureVerificationFailed
	ConnectionClosed
	WrongPacketType
	HostPublicKeyDoesNotExist
	PeerPublicKeyDoesNotExist
	Io
	Socks
	Serde
	Kem
)

func (k Kind) String() string {
	switch k {
	case AesBadLength:
		return "aes_bad_length"
	case AesBadTag:
		return "aes_bad_tag"
	case AesEncryptionError:
		return "aes_encryption_error"
	case BadHostname:
		return "bad_hostname"
	case BadPublicKey:
		return "bad_public_key"
	case BadSecretKey:
		return "bad_secret_key"
	case BadSignature:
		return "bad_signature"
	case SignatureVerificationFailed:
		return "signature_verification_failed"
	case ConnectionClosed:
		return "connection_closed"
	case WrongPacketType:
		return "wrong_packet_type"
	case HostPublicKeyDoesNotExist:
		return "host_public_key_does_not_exist"
	case PeerPublicKeyDoesNotExist:
		return "peer_public_key_does_not_exist"
	case Io:
		return "io"
	case Socks:
		return "socks"
	case Serde:
		return "serde"
	case Kem:
		return "kem"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying one Kind plus an optional human
// description and wrapped cause. WrongPacketType always carries a
// description naming what was expected and what arrived.
type Error struct {
	Kind  Kind
	Desc  string
	Cause error
}

func (e *Error) Error() string {
	if e.Desc != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Desc)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(k Kind, desc string) *Error {
	return &Error{Kind: k, Desc: desc}
}

// Wrap builds an Error wrapping cause under the given Kind.
func Wrap(k Kind, cause error) *Error {
	return &Error{Kind: k, Cause: cause}
}

// Wrongf builds a WrongPacketType error with a formatted description.
func Wrongf(format string, args ...any) *Error {
	return &Error{Kind: WrongPacketType, Desc: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, defaulting
// to Io for anything else — every error that escapes a network call or
// codec step that isn't already typed is treated as a raw I/O failure.
func KindOf(err error) Kind {
	var ve *Error
	if ok := asError(err, &ve); ok {
		return ve.Kind
	}
	return Io
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ve, ok := err.(*Error); ok {
			*target = ve
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// JSON is the user-visible serialization shape named in spec §7.
type JSON struct {
	ErrorKind string `json:"error_kind"`
}

// ToJSON converts err's Kind into the wire shape.
func ToJSON(err error) JSON {
	return JSON{ErrorKind: KindOf(err).String()}
}
