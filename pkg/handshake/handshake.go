// Package handshake implements the TLS 1.3 handshake message codecs for the
// PSK-only profile (RFC 8446 Section 4): ClientHello, ServerHello,
// EncryptedExtensions, Finished and NewSessionTicket, together with the
// pre_shared_key, supported_versions and psk_key_exchange_modes extensions.
// Unknown extensions are preserved verbatim so a decoded message re-encodes
// byte-identically.
//
// Encoding uses cryptobyte.Builder, decoding cryptobyte.String.
package handshake

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Protocol constants for the fixed negotiation profile.
const (
	// VersionTLS10 is the lowest legacy_version accepted in a ClientHello.
	VersionTLS10 uint16 = 0x0301

	// VersionTLS12 is the legacy_version written into hellos
	// (RFC 8446 Section 4.1.2).
	VersionTLS12 uint16 = 0x0303

	// VersionTLS13 is the only negotiable version, carried in
	// supported_versions (RFC 8446 Section 4.2.1).
	VersionTLS13 uint16 = 0x0304

	// CipherSuiteTLSAES128GCMSHA256 is the only suite offered or accepted
	// (RFC 8446 Section 9.1).
	CipherSuiteTLSAES128GCMSHA256 uint16 = 0x1301

	// PSKModePSKKE is the psk_ke key-exchange mode (RFC 8446 Section 4.2.9),
	// the only mode offered or accepted.
	PSKModePSKKE uint8 = 0
)

// Field size limits.
const (
	// RandomLength is the fixed size of the hello random field.
	RandomLength = 32

	// MaxSessionIDLength bounds legacy_session_id (RFC 8446 Section 4.1.2).
	MaxSessionIDLength = 32

	// MinBinderLength is the smallest valid PSK binder; binders carry a
	// full HMAC output (RFC 8446 Section 4.2.11.2).
	MinBinderLength = 32

	// VerifyDataLength is the Finished verify_data size for SHA-256 suites
	// (RFC 8446 Section 4.4.4).
	VerifyDataLength = 32

	// headerLength is the handshake header: u8 type plus u24 body length.
	headerLength = 4
)

// MessageType identifies a handshake message (RFC 8446 Section 4).
type MessageType uint8

// Handshake message types used by this profile.
const (
	TypeClientHello         MessageType = 1
	TypeServerHello         MessageType = 2
	TypeNewSessionTicket    MessageType = 4
	TypeEncryptedExtensions MessageType = 8
	TypeFinished            MessageType = 20
)

// String returns a human-readable message type name.
func (t MessageType) String() string {
	switch t {
	case TypeClientHello:
		return "ClientHello"
	case TypeServerHello:
		return "ServerHello"
	case TypeNewSessionTicket:
		return "NewSessionTicket"
	case TypeEncryptedExtensions:
		return "EncryptedExtensions"
	case TypeFinished:
		return "Finished"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Message is a decoded handshake message body. The concrete types are
// ClientHello, ServerHello, EncryptedExtensions, Finished and
// NewSessionTicket.
type Message interface {
	// Type returns the handshake message type.
	Type() MessageType

	marshal(b *cryptobyte.Builder)
}

// Marshal serializes a message with its four-byte handshake header.
func Marshal(m Message) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(m.Type()))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		m.marshal(b)
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return out, nil
}

// ReadMessage decodes the first handshake message in data. It returns the
// message, the raw bytes of exactly that message (header included, for
// transcript bookkeeping) and any remaining bytes. Record payloads may
// carry several coalesced messages; callers loop until rest is empty.
func ReadMessage(data []byte) (msg Message, raw, rest []byte, err error) {
	s := cryptobyte.String(data)
	var typ uint8
	var body cryptobyte.String
	if !s.ReadUint8(&typ) || !s.ReadUint24LengthPrefixed(&body) {
		return nil, nil, nil, fmt.Errorf("%w: truncated handshake header", ErrDecode)
	}

	raw = data[:len(data)-len(s)]
	rest = []byte(s)

	switch MessageType(typ) {
	case TypeClientHello:
		m := new(ClientHello)
		err = m.unmarshal(&body)
		msg = m
	case TypeServerHello:
		m := new(ServerHello)
		err = m.unmarshal(&body)
		msg = m
	case TypeNewSessionTicket:
		m := new(NewSessionTicket)
		err = m.unmarshal(&body)
		msg = m
	case TypeEncryptedExtensions:
		m := new(EncryptedExtensions)
		err = m.unmarshal(&body)
		msg = m
	case TypeFinished:
		m := new(Finished)
		err = m.unmarshal(&body)
		msg = m
	default:
		return nil, nil, nil, fmt.Errorf("%w: type %d", ErrUnknownMessageType, typ)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	if !body.Empty() {
		return nil, nil, nil, fmt.Errorf("%w: %d trailing bytes in %v body", ErrDecode, len(body), MessageType(typ))
	}

	return msg, raw, rest, nil
}

// Unmarshal decodes data as exactly one handshake message; trailing bytes
// are an error.
func Unmarshal(data []byte) (Message, error) {
	msg, _, rest, err := ReadMessage(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after message", ErrDecode, len(rest))
	}
	return msg, nil
}
