// Package record implements the TLS 1.3 record layer (RFC 8446 Section 5):
// framing, AES-128-GCM record protection and sequence-number discipline.
//
// A Layer writes outbound bytes through a caller-provided send function.
// Outbound payloads of the same type coalesce into one record until Flush,
// a type switch, a size limit or a send-key change forces them out. Inbound
// bytes are handed to Recv one record at a time.
package record

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/backkem/pairtls/pkg/crypto"
)

// Type is the record content type (RFC 8446 Section 5.1).
type Type uint8

// Record content types.
const (
	TypeChangeCipherSpec Type = 20
	TypeAlert            Type = 21
	TypeHandshake        Type = 22
	TypeApplicationData  Type = 23
)

// String returns a human-readable record type name.
func (t Type) String() string {
	switch t {
	case TypeChangeCipherSpec:
		return "change_cipher_spec"
	case TypeAlert:
		return "alert"
	case TypeHandshake:
		return "handshake"
	case TypeApplicationData:
		return "application_data"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseType converts a wire byte into a record Type.
func ParseType(b uint8) (Type, error) {
	switch t := Type(b); t {
	case TypeChangeCipherSpec, TypeAlert, TypeHandshake, TypeApplicationData:
		return t, nil
	default:
		return 0, fmt.Errorf("%w: record type %d", ErrMalformedRecord, b)
	}
}

const (
	// HeaderSize is the fixed record header: type, legacy version, length.
	HeaderSize = 5

	// MaxPlaintextSize is the record plaintext capacity (RFC 8446
	// Section 5.1). Fragmentation over multiple records is not supported,
	// so it also bounds a single Send.
	MaxPlaintextSize = 1 << 14

	// MaxCiphertextSize bounds the protected fragment (RFC 8446
	// Section 5.2): plaintext, inner type byte, padding and AEAD tag.
	MaxCiphertextSize = MaxPlaintextSize + 256

	// MaxSequence caps the number of records protected under one key,
	// keeping well inside AES-GCM data volume limits.
	MaxSequence uint64 = 1 << 24

	legacyVersion = 0x0303

	// A peer's very first flight may be dated TLS 1.0; acceptable only
	// while no receive key is installed (RFC 8446 Section 5.1).
	legacyVersionInitial = 0x0301
)

// cipherState is one direction of record protection: the AEAD keyed for a
// traffic secret, its implicit IV and the record sequence counter.
type cipherState struct {
	aead cipher.AEAD
	iv   []byte
	seq  uint64
}

func newCipherState(secret []byte) (*cipherState, error) {
	key, err := crypto.HKDFExpandLabel(secret, "key", nil, crypto.AESGCMKeySize)
	if err != nil {
		return nil, err
	}
	iv, err := crypto.HKDFExpandLabel(secret, "iv", nil, crypto.AESGCMNonceSize)
	if err != nil {
		return nil, err
	}
	aead, err := crypto.NewAESGCM(key)
	if err != nil {
		return nil, err
	}
	return &cipherState{aead: aead, iv: iv}, nil
}

// nextNonce builds the per-record nonce: the sequence number, big-endian and
// left-padded to the IV size, XORed into the IV (RFC 8446 Section 5.3).
func (s *cipherState) nextNonce() ([crypto.AESGCMNonceSize]byte, error) {
	var nonce [crypto.AESGCMNonceSize]byte
	if s.seq >= MaxSequence {
		return nonce, ErrSequenceOverflow
	}
	copy(nonce[:], s.iv)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], s.seq)
	for i, b := range seq {
		nonce[crypto.AESGCMNonceSize-8+i] ^= b
	}
	return nonce, nil
}

func (s *cipherState) seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce, err := s.nextNonce()
	if err != nil {
		return nil, err
	}
	out := s.aead.Seal(nil, nonce[:], plaintext, additionalData)
	s.seq++
	return out, nil
}

func (s *cipherState) open(ciphertext, additionalData []byte) ([]byte, error) {
	nonce, err := s.nextNonce()
	if err != nil {
		return nil, err
	}
	out, err := s.aead.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	s.seq++
	return out, nil
}

// SendFunc consumes one wire-ready record.
type SendFunc func(data []byte) error

type pendingRecord struct {
	typ Type
	buf []byte
}

// Layer frames, protects and deprotects records for one connection. It is
// not safe for concurrent use; the owning connection serializes access.
type Layer struct {
	send    SendFunc
	sealer  *cipherState
	opener  *cipherState
	pending *pendingRecord
}

// NewLayer returns a record layer that emits outbound records through send.
// Records pass in plaintext until keys are installed.
func NewLayer(send SendFunc) *Layer {
	return &Layer{send: send}
}

// SetSendKey flushes any pending record under the outgoing key and then
// derives fresh write protection from secret, resetting the send sequence
// counter.
func (l *Layer) SetSendKey(secret []byte) error {
	if err := l.Flush(); err != nil {
		return err
	}
	cs, err := newCipherState(secret)
	if err != nil {
		return err
	}
	l.sealer = cs
	return nil
}

// SetRecvKey derives fresh read protection from secret, resetting the
// receive sequence counter.
func (l *Layer) SetRecvKey(secret []byte) error {
	cs, err := newCipherState(secret)
	if err != nil {
		return err
	}
	l.opener = cs
	return nil
}

// Send enqueues one payload of the given type. Payloads coalesce into the
// pending record while the type matches and the combined size fits; a
// mismatch flushes the pending record first. Nothing reaches the wire until
// Flush, SetSendKey or a forced flush here.
func (l *Layer) Send(typ Type, data []byte) error {
	if len(data) > MaxPlaintextSize {
		return fmt.Errorf("%w: %d byte payload", ErrRecordOverflow, len(data))
	}
	if l.pending != nil && (l.pending.typ != typ || len(l.pending.buf)+len(data) > MaxPlaintextSize) {
		if err := l.Flush(); err != nil {
			return err
		}
	}
	if l.pending == nil {
		l.pending = &pendingRecord{typ: typ}
	}
	l.pending.buf = append(l.pending.buf, data...)
	return nil
}

// Flush emits the pending record, protecting it when a send key is
// installed. Flushing with nothing pending is a no-op.
func (l *Layer) Flush() error {
	if l.pending == nil {
		return nil
	}
	typ, payload := l.pending.typ, l.pending.buf
	l.pending = nil

	if l.sealer == nil {
		out := appendHeader(make([]byte, 0, HeaderSize+len(payload)), typ, len(payload))
		return l.send(append(out, payload...))
	}

	// TLSInnerPlaintext: content then the real type byte. No padding is
	// added (RFC 8446 Section 5.4 allows zero-length padding).
	inner := append(payload, byte(typ))
	header := appendHeader(nil, TypeApplicationData, len(inner)+crypto.AESGCMTagSize)
	sealed, err := l.sealer.seal(inner, header)
	if err != nil {
		return err
	}
	return l.send(append(header, sealed...))
}

// Recv parses exactly one record from data and returns its content type and
// payload. Inbound records are decrypted once a receive key is installed,
// except that change_cipher_spec records always pass in plaintext. Trailing
// bytes after the record are an error.
func (l *Layer) Recv(data []byte) (Type, []byte, error) {
	if len(data) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: %d byte record", ErrMalformedRecord, len(data))
	}
	typ, err := ParseType(data[0])
	if err != nil {
		return 0, nil, err
	}
	// legacy_record_version is formally ignored, but conforming stacks
	// only ever emit 0x0303, or 0x0301 on a first plaintext flight.
	version := binary.BigEndian.Uint16(data[1:3])
	if version != legacyVersion && (l.opener != nil || version != legacyVersionInitial) {
		return 0, nil, fmt.Errorf("%w: record version %#04x", ErrMalformedRecord, version)
	}
	length := int(binary.BigEndian.Uint16(data[3:5]))
	fragment := data[HeaderSize:]

	if l.opener == nil || typ == TypeChangeCipherSpec {
		return l.recvPlaintext(typ, length, fragment)
	}
	return l.recvEncrypted(typ, length, data[:HeaderSize], fragment)
}

func (l *Layer) recvPlaintext(typ Type, length int, fragment []byte) (Type, []byte, error) {
	if length > MaxPlaintextSize {
		return 0, nil, fmt.Errorf("%w: %d byte plaintext record", ErrRecordOverflow, length)
	}
	if len(fragment) != length {
		return 0, nil, fmt.Errorf("%w: header claims %d bytes, %d present", ErrMalformedRecord, length, len(fragment))
	}
	return typ, append([]byte(nil), fragment...), nil
}

func (l *Layer) recvEncrypted(typ Type, length int, header, fragment []byte) (Type, []byte, error) {
	if length > MaxCiphertextSize {
		return 0, nil, fmt.Errorf("%w: %d byte encrypted record", ErrRecordOverflow, length)
	}
	if typ != TypeApplicationData {
		return 0, nil, fmt.Errorf("%w: outer type %v under record protection", ErrMalformedRecord, typ)
	}
	if len(fragment) != length {
		return 0, nil, fmt.Errorf("%w: header claims %d bytes, %d present", ErrMalformedRecord, length, len(fragment))
	}

	plaintext, err := l.opener.open(fragment, header)
	if err != nil {
		return 0, nil, err
	}

	// Strip TLSInnerPlaintext zero padding from the end; the last nonzero
	// byte is the real content type.
	i := len(plaintext) - 1
	for i >= 0 && plaintext[i] == 0 {
		i--
	}
	if i < 0 {
		return 0, nil, fmt.Errorf("%w: record carries only padding", ErrMalformedRecord)
	}
	inner, err := ParseType(plaintext[i])
	if err != nil {
		return 0, nil, err
	}
	if inner == TypeChangeCipherSpec {
		return 0, nil, fmt.Errorf("%w: encrypted change_cipher_spec", ErrMalformedRecord)
	}
	return inner, plaintext[:i], nil
}

func appendHeader(b []byte, typ Type, length int) []byte {
	b = append(b, uint8(typ))
	b = binary.BigEndian.AppendUint16(b, legacyVersion)
	return binary.BigEndian.AppendUint16(b, uint16(length))
}
