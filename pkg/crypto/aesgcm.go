// AES-128-GCM for TLS 1.3 record protection.
// TLS_AES_128_GCM_SHA256 (RFC 8446 Section 9.1) requires AES-GCM with:
//   - Key length: 128 bits (16 bytes)
//   - Tag length: 128 bits (16 bytes)
//   - Nonce length: 12 bytes (RFC 5116 AEAD_AES_128_GCM)

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// AES-GCM constants for TLS_AES_128_GCM_SHA256.
const (
	// AESGCMKeySize is the AES-128 key size in bytes.
	AESGCMKeySize = 16

	// AESGCMNonceSize is the AEAD nonce size in bytes (RFC 8446 Section 5.3).
	AESGCMNonceSize = 12

	// AESGCMTagSize is the authentication tag size in bytes.
	AESGCMTagSize = 16
)

// Errors
var (
	ErrAESGCMInvalidKeySize = errors.New("aesgcm: invalid key size, must be 16 bytes")
)

// NewAESGCM creates an AES-128-GCM AEAD instance.
// The key must be exactly 16 bytes (128 bits). The returned AEAD uses
// 12-byte nonces and 16-byte tags.
func NewAESGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESGCMKeySize {
		return nil, ErrAESGCMInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
