package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// Test vectors from the original GCM specification (McGrew & Viega,
// "The Galois/Counter Mode of Operation"), AES-128 test cases 1 and 2.
var aesGCMTestVectors = []struct {
	name       string
	key        string
	nonce      string
	plaintext  string
	aad        string
	ciphertext string // ciphertext || tag (hex)
}{
	{
		name:       "GCM_TC1_empty",
		key:        "00000000000000000000000000000000",
		nonce:      "000000000000000000000000",
		plaintext:  "",
		aad:        "",
		ciphertext: "58e2fccefa7e3061367f1d57a4e7455a",
	},
	{
		name:       "GCM_TC2_one_block",
		key:        "00000000000000000000000000000000",
		nonce:      "000000000000000000000000",
		plaintext:  "00000000000000000000000000000000",
		aad:        "",
		ciphertext: "0388dace60b6a392f328c2b971b2fe78ab6e47d42cec13bdf53a67b21257bddf",
	},
}

func TestAESGCM_Vectors(t *testing.T) {
	for _, tc := range aesGCMTestVectors {
		t.Run(tc.name, func(t *testing.T) {
			key, _ := hex.DecodeString(tc.key)
			nonce, _ := hex.DecodeString(tc.nonce)
			plaintext, _ := hex.DecodeString(tc.plaintext)
			aad, _ := hex.DecodeString(tc.aad)
			expected, _ := hex.DecodeString(tc.ciphertext)

			aead, err := NewAESGCM(key)
			if err != nil {
				t.Fatalf("NewAESGCM failed: %v", err)
			}

			sealed := aead.Seal(nil, nonce, plaintext, aad)
			if !bytes.Equal(sealed, expected) {
				t.Errorf("ciphertext mismatch\ngot:  %x\nwant: %x", sealed, expected)
			}

			opened, err := aead.Open(nil, nonce, sealed, aad)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if !bytes.Equal(opened, plaintext) {
				t.Errorf("plaintext mismatch\ngot:  %x\nwant: %x", opened, plaintext)
			}
		})
	}
}

func TestAESGCM_RoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	nonce := make([]byte, AESGCMNonceSize)
	aad := []byte{0x17, 0x03, 0x03, 0x00, 0x20}
	plaintext := []byte("application data under protection")

	aead, err := NewAESGCM(key)
	if err != nil {
		t.Fatalf("NewAESGCM failed: %v", err)
	}

	if aead.NonceSize() != AESGCMNonceSize {
		t.Errorf("nonce size = %d, want %d", aead.NonceSize(), AESGCMNonceSize)
	}
	if aead.Overhead() != AESGCMTagSize {
		t.Errorf("overhead = %d, want %d", aead.Overhead(), AESGCMTagSize)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	if len(sealed) != len(plaintext)+AESGCMTagSize {
		t.Fatalf("sealed length = %d, want %d", len(sealed), len(plaintext)+AESGCMTagSize)
	}

	opened, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round trip mismatch\ngot:  %x\nwant: %x", opened, plaintext)
	}
}

func TestAESGCM_TamperDetection(t *testing.T) {
	key := []byte("0123456789abcdef")
	nonce := make([]byte, AESGCMNonceSize)
	aad := []byte{0x17, 0x03, 0x03, 0x00, 0x10}

	aead, err := NewAESGCM(key)
	if err != nil {
		t.Fatalf("NewAESGCM failed: %v", err)
	}

	sealed := aead.Seal(nil, nonce, []byte("sixteen byte msg"), aad)

	t.Run("flipped_ciphertext_bit", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[0] ^= 0x01
		if _, err := aead.Open(nil, nonce, tampered, aad); err == nil {
			t.Error("expected authentication failure")
		}
	})

	t.Run("flipped_tag_bit", func(t *testing.T) {
		tampered := append([]byte(nil), sealed...)
		tampered[len(tampered)-1] ^= 0x80
		if _, err := aead.Open(nil, nonce, tampered, aad); err == nil {
			t.Error("expected authentication failure")
		}
	})

	t.Run("wrong_aad", func(t *testing.T) {
		if _, err := aead.Open(nil, nonce, sealed, []byte{0x16, 0x03, 0x03, 0x00, 0x10}); err == nil {
			t.Error("expected authentication failure")
		}
	})
}

func TestAESGCM_InvalidKeySize(t *testing.T) {
	for _, size := range []int{0, 15, 17, 32} {
		if _, err := NewAESGCM(make([]byte, size)); err != ErrAESGCMInvalidKeySize {
			t.Errorf("key size %d: expected ErrAESGCMInvalidKeySize, got %v", size, err)
		}
	}
}

func BenchmarkAESGCM_Seal1K(b *testing.B) {
	key := make([]byte, AESGCMKeySize)
	nonce := make([]byte, AESGCMNonceSize)
	plaintext := make([]byte, 1024)
	aad := make([]byte, 5)

	aead, err := NewAESGCM(key)
	if err != nil {
		b.Fatalf("NewAESGCM failed: %v", err)
	}

	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		aead.Seal(nil, nonce, plaintext, aad)
	}
}
