package handshake

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// ClientHello is the first flight of the handshake (RFC 8446 Section 4.1.2).
// The legacy_version and compression_methods fields are fixed by the profile
// and therefore not carried in the struct: hellos are written with
// legacy_version 0x0303 and null compression.
type ClientHello struct {
	// Random is the 32-byte client random.
	Random []byte

	// SessionID is the legacy_session_id, at most 32 bytes. The profile
	// echo-checks it but attaches no meaning to its contents.
	SessionID []byte

	// CipherSuites lists the offered suites in wire order. Decoding fills
	// it in; an empty list is written as TLS_AES_128_GCM_SHA256 alone.
	CipherSuites []uint16

	// Extensions in wire order. When a PreSharedKey offer is present it
	// must be the final extension.
	Extensions []Extension
}

// Type returns TypeClientHello.
func (*ClientHello) Type() MessageType { return TypeClientHello }

func (m *ClientHello) marshal(b *cryptobyte.Builder) {
	b.AddUint16(VersionTLS12)
	addFixedBytes(b, m.Random, RandomLength)
	addSessionID(b, m.SessionID)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		if len(m.CipherSuites) == 0 {
			b.AddUint16(CipherSuiteTLSAES128GCMSHA256)
			return
		}
		for _, suite := range m.CipherSuites {
			b.AddUint16(suite)
		}
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(0)
	})
	marshalExtensions(b, TypeClientHello, m.Extensions)
}

func (m *ClientHello) unmarshal(s *cryptobyte.String) error {
	var vers uint16
	if !s.ReadUint16(&vers) {
		return fmt.Errorf("%w: ClientHello legacy_version", ErrDecode)
	}
	// Some stacks date the initial hello 0x0301; anything from TLS 1.0 up
	// is acceptable here because supported_versions decides.
	if vers < VersionTLS10 {
		return fmt.Errorf("%w: legacy_version %#04x", ErrDecode, vers)
	}
	if !s.ReadBytes(&m.Random, RandomLength) {
		return fmt.Errorf("%w: ClientHello random", ErrDecode)
	}
	if !readUint8LengthPrefixed(s, &m.SessionID) {
		return fmt.Errorf("%w: ClientHello session_id", ErrDecode)
	}
	if len(m.SessionID) > MaxSessionIDLength {
		return fmt.Errorf("%w: session_id length %d", ErrDecode, len(m.SessionID))
	}

	var suites cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&suites) {
		return fmt.Errorf("%w: ClientHello cipher_suites", ErrDecode)
	}
	m.CipherSuites = nil
	offered := false
	for !suites.Empty() {
		var suite uint16
		if !suites.ReadUint16(&suite) {
			return fmt.Errorf("%w: ClientHello cipher_suites", ErrDecode)
		}
		m.CipherSuites = append(m.CipherSuites, suite)
		if suite == CipherSuiteTLSAES128GCMSHA256 {
			offered = true
		}
	}
	if !offered {
		return fmt.Errorf("%w: TLS_AES_128_GCM_SHA256 not offered", ErrDecode)
	}

	var compression []byte
	if !readUint8LengthPrefixed(s, &compression) {
		return fmt.Errorf("%w: ClientHello compression_methods", ErrDecode)
	}
	if len(compression) != 1 || compression[0] != 0 {
		return fmt.Errorf("%w: compression_methods %x", ErrDecode, compression)
	}

	exts, err := readExtensions(s, TypeClientHello)
	if err != nil {
		return err
	}
	m.Extensions = exts

	sv := m.SupportedVersions()
	if sv == nil {
		return fmt.Errorf("%w: missing supported_versions", ErrInvalidExtension)
	}
	offers13 := false
	for _, v := range sv.Versions {
		if v == VersionTLS13 {
			offers13 = true
		}
	}
	if !offers13 {
		return fmt.Errorf("%w: supported_versions does not offer TLS 1.3", ErrInvalidExtension)
	}

	for i, ext := range m.Extensions {
		if _, ok := ext.(*PreSharedKey); ok && i != len(m.Extensions)-1 {
			return fmt.Errorf("%w: pre_shared_key is not the final extension", ErrInvalidExtension)
		}
	}
	return nil
}

// PreSharedKey returns the pre_shared_key offer, or nil when absent.
func (m *ClientHello) PreSharedKey() *PreSharedKey {
	for _, ext := range m.Extensions {
		if e, ok := ext.(*PreSharedKey); ok {
			return e
		}
	}
	return nil
}

// SupportedVersions returns the supported_versions list, or nil when absent.
func (m *ClientHello) SupportedVersions() *SupportedVersions {
	for _, ext := range m.Extensions {
		if e, ok := ext.(*SupportedVersions); ok {
			return e
		}
	}
	return nil
}

// PskKeyExchangeModes returns the psk_key_exchange_modes extension, or nil
// when absent.
func (m *ClientHello) PskKeyExchangeModes() *PskKeyExchangeModes {
	for _, ext := range m.Extensions {
		if e, ok := ext.(*PskKeyExchangeModes); ok {
			return e
		}
	}
	return nil
}

// ServerHello answers a ClientHello (RFC 8446 Section 4.1.3). As with
// ClientHello, the fixed negotiation fields are not carried in the struct.
type ServerHello struct {
	// Random is the 32-byte server random.
	Random []byte

	// SessionID echoes the client's legacy_session_id.
	SessionID []byte

	// Extensions in wire order.
	Extensions []Extension
}

// Type returns TypeServerHello.
func (*ServerHello) Type() MessageType { return TypeServerHello }

func (m *ServerHello) marshal(b *cryptobyte.Builder) {
	b.AddUint16(VersionTLS12)
	addFixedBytes(b, m.Random, RandomLength)
	addSessionID(b, m.SessionID)
	b.AddUint16(CipherSuiteTLSAES128GCMSHA256)
	b.AddUint8(0)
	marshalExtensions(b, TypeServerHello, m.Extensions)
}

func (m *ServerHello) unmarshal(s *cryptobyte.String) error {
	var vers uint16
	if !s.ReadUint16(&vers) {
		return fmt.Errorf("%w: ServerHello legacy_version", ErrDecode)
	}
	if vers != VersionTLS12 {
		return fmt.Errorf("%w: legacy_version %#04x", ErrDecode, vers)
	}
	if !s.ReadBytes(&m.Random, RandomLength) {
		return fmt.Errorf("%w: ServerHello random", ErrDecode)
	}
	if !readUint8LengthPrefixed(s, &m.SessionID) {
		return fmt.Errorf("%w: ServerHello session_id", ErrDecode)
	}
	if len(m.SessionID) > MaxSessionIDLength {
		return fmt.Errorf("%w: session_id length %d", ErrDecode, len(m.SessionID))
	}

	var suite uint16
	if !s.ReadUint16(&suite) {
		return fmt.Errorf("%w: ServerHello cipher_suite", ErrDecode)
	}
	if suite != CipherSuiteTLSAES128GCMSHA256 {
		return fmt.Errorf("%w: cipher_suite %#04x", ErrDecode, suite)
	}

	var compression uint8
	if !s.ReadUint8(&compression) {
		return fmt.Errorf("%w: ServerHello compression_method", ErrDecode)
	}
	if compression != 0 {
		return fmt.Errorf("%w: compression_method %d", ErrDecode, compression)
	}

	exts, err := readExtensions(s, TypeServerHello)
	if err != nil {
		return err
	}
	m.Extensions = exts

	sv := m.SupportedVersionsSelected()
	if sv == nil {
		return fmt.Errorf("%w: missing supported_versions", ErrInvalidExtension)
	}
	if sv.Selected != VersionTLS13 {
		return fmt.Errorf("%w: selected version %#04x", ErrInvalidExtension, sv.Selected)
	}
	return nil
}

// PreSharedKeySelected returns the pre_shared_key selection, or nil when
// absent.
func (m *ServerHello) PreSharedKeySelected() *PreSharedKeySelected {
	for _, ext := range m.Extensions {
		if e, ok := ext.(*PreSharedKeySelected); ok {
			return e
		}
	}
	return nil
}

// SupportedVersionsSelected returns the supported_versions selection, or
// nil when absent.
func (m *ServerHello) SupportedVersionsSelected() *SupportedVersionsSelected {
	for _, ext := range m.Extensions {
		if e, ok := ext.(*SupportedVersionsSelected); ok {
			return e
		}
	}
	return nil
}

// EncryptedExtensions is the first message under handshake keys (RFC 8446
// Section 4.3.1). The profile negotiates nothing in it; the client rejects
// a non-empty extension list at the state machine level.
type EncryptedExtensions struct {
	Extensions []Extension
}

// Type returns TypeEncryptedExtensions.
func (*EncryptedExtensions) Type() MessageType { return TypeEncryptedExtensions }

func (m *EncryptedExtensions) marshal(b *cryptobyte.Builder) {
	marshalExtensions(b, TypeEncryptedExtensions, m.Extensions)
}

func (m *EncryptedExtensions) unmarshal(s *cryptobyte.String) error {
	exts, err := readExtensions(s, TypeEncryptedExtensions)
	if err != nil {
		return err
	}
	m.Extensions = exts
	return nil
}

// Finished carries the handshake authentication MAC (RFC 8446
// Section 4.4.4).
type Finished struct {
	// VerifyData is the 32-byte HMAC over the transcript hash.
	VerifyData []byte
}

// Type returns TypeFinished.
func (*Finished) Type() MessageType { return TypeFinished }

func (m *Finished) marshal(b *cryptobyte.Builder) {
	addFixedBytes(b, m.VerifyData, VerifyDataLength)
}

func (m *Finished) unmarshal(s *cryptobyte.String) error {
	if !s.ReadBytes(&m.VerifyData, VerifyDataLength) {
		return fmt.Errorf("%w: Finished verify_data", ErrDecode)
	}
	return nil
}

// NewSessionTicket (RFC 8446 Section 4.6.1) is decodable so a peer that
// sends one after the handshake does not break the connection. This
// implementation ignores received tickets and never sends one.
type NewSessionTicket struct {
	TicketLifetime uint32
	TicketAgeAdd   uint32
	TicketNonce    []byte
	Ticket         []byte
	Extensions     []Extension
}

// Type returns TypeNewSessionTicket.
func (*NewSessionTicket) Type() MessageType { return TypeNewSessionTicket }

func (m *NewSessionTicket) marshal(b *cryptobyte.Builder) {
	if len(m.Ticket) == 0 {
		b.SetError(fmt.Errorf("%w: empty ticket", ErrEncode))
		return
	}
	b.AddUint32(m.TicketLifetime)
	b.AddUint32(m.TicketAgeAdd)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(m.TicketNonce)
	})
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(m.Ticket)
	})
	marshalExtensions(b, TypeNewSessionTicket, m.Extensions)
}

func (m *NewSessionTicket) unmarshal(s *cryptobyte.String) error {
	if !s.ReadUint32(&m.TicketLifetime) || !s.ReadUint32(&m.TicketAgeAdd) {
		return fmt.Errorf("%w: NewSessionTicket header", ErrDecode)
	}
	if !readUint8LengthPrefixed(s, &m.TicketNonce) {
		return fmt.Errorf("%w: NewSessionTicket nonce", ErrDecode)
	}
	if !readUint16LengthPrefixed(s, &m.Ticket) {
		return fmt.Errorf("%w: NewSessionTicket ticket", ErrDecode)
	}
	if len(m.Ticket) == 0 {
		return fmt.Errorf("%w: empty ticket", ErrDecode)
	}
	exts, err := readExtensions(s, TypeNewSessionTicket)
	if err != nil {
		return err
	}
	m.Extensions = exts
	return nil
}

// addFixedBytes appends v, failing the builder unless it is exactly n bytes.
func addFixedBytes(b *cryptobyte.Builder, v []byte, n int) {
	if len(v) != n {
		b.SetError(fmt.Errorf("%w: expected %d bytes, got %d", ErrEncode, n, len(v)))
		return
	}
	b.AddBytes(v)
}

func addSessionID(b *cryptobyte.Builder, sessionID []byte) {
	if len(sessionID) > MaxSessionIDLength {
		b.SetError(fmt.Errorf("%w: session_id length %d", ErrEncode, len(sessionID)))
		return
	}
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(sessionID)
	})
}

// readUint8LengthPrefixed acts like s.ReadUint8LengthPrefixed, but targets a
// []byte instead of a cryptobyte.String.
func readUint8LengthPrefixed(s *cryptobyte.String, out *[]byte) bool {
	return s.ReadUint8LengthPrefixed((*cryptobyte.String)(out))
}

// readUint16LengthPrefixed acts like s.ReadUint16LengthPrefixed, but targets
// a []byte instead of a cryptobyte.String.
func readUint16LengthPrefixed(s *cryptobyte.String, out *[]byte) bool {
	return s.ReadUint16LengthPrefixed((*cryptobyte.String)(out))
}
