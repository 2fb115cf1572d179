package crypto

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/hkdf"
)

// HKDF-Expand-Label limits from the HkdfLabel structure (RFC 8446 Section 7.1).
// The label vector holds at most 255 bytes including the "tls13 " prefix, the
// context vector at most 255 bytes.
const (
	labelPrefix      = "tls13 "
	maxLabelLength   = 255 - len(labelPrefix)
	maxContextLength = 255
)

// KDF errors.
var (
	ErrLabelTooLong   = errors.New("kdf: label exceeds 249 bytes")
	ErrContextTooLong = errors.New("kdf: context exceeds 255 bytes")
)

// HKDFExtractSHA256 performs the HKDF-Extract operation (RFC 5869).
// This extracts a pseudorandom key (PRK) from the input keying material.
//
// Parameters:
//   - inputKey: Input keying material (IKM)
//   - salt: Optional salt value (can be nil, defaults to zero-filled HashLen bytes)
//
// Returns a 32-byte pseudorandom key.
func HKDFExtractSHA256(inputKey, salt []byte) []byte {
	return hkdf.Extract(sha256.New, inputKey, salt)
}

// HKDFExpandSHA256 performs the HKDF-Expand operation (RFC 5869).
// This expands a pseudorandom key into output keying material.
//
// Parameters:
//   - prk: Pseudorandom key (from HKDFExtractSHA256 or other source)
//   - info: Optional context/application-specific info
//   - length: Number of bytes to derive
//
// Returns the derived key material.
func HKDFExpandSHA256(prk, info []byte, length int) ([]byte, error) {
	reader := hkdf.Expand(sha256.New, prk, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

// HKDFExpandLabel implements HKDF-Expand-Label from RFC 8446 Section 7.1:
//
//	HKDF-Expand(Secret, HkdfLabel, Length)
//
// where HkdfLabel is the serialized structure
//
//	struct {
//	    uint16 length = Length;
//	    opaque label<7..255> = "tls13 " + Label;
//	    opaque context<0..255> = Context;
//	} HkdfLabel;
//
// The label is given without the "tls13 " prefix. The context is used raw;
// callers that need Derive-Secret semantics hash the transcript first.
func HKDFExpandLabel(secret []byte, label string, context []byte, length int) ([]byte, error) {
	if len(label) > maxLabelLength {
		return nil, ErrLabelTooLong
	}
	if len(context) > maxContextLength {
		return nil, ErrContextTooLong
	}

	var hkdfLabel cryptobyte.Builder
	hkdfLabel.AddUint16(uint16(length))
	hkdfLabel.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(labelPrefix))
		b.AddBytes([]byte(label))
	})
	hkdfLabel.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(context)
	})
	info, err := hkdfLabel.Bytes()
	if err != nil {
		return nil, err
	}

	return HKDFExpandSHA256(secret, info, length)
}
