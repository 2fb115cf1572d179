package crypto

import (
	"bytes"
	"testing"
)

func TestRandomBytes_DefaultSource(t *testing.T) {
	buf, err := RandomBytes(nil, 32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if len(buf) != 32 {
		t.Fatalf("length = %d, want 32", len(buf))
	}
	if bytes.Equal(buf, make([]byte, 32)) {
		t.Error("expected non-zero output from crypto/rand")
	}
}

func TestRandomBytes_InjectedSource(t *testing.T) {
	seed := bytes.Repeat([]byte{0xA5}, 64)
	buf, err := RandomBytes(bytes.NewReader(seed), 16)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if !bytes.Equal(buf, seed[:16]) {
		t.Errorf("output mismatch\ngot:  %x\nwant: %x", buf, seed[:16])
	}
}

func TestRandomBytes_ShortSource(t *testing.T) {
	if _, err := RandomBytes(bytes.NewReader([]byte{1, 2, 3}), 16); err == nil {
		t.Error("expected error from exhausted reader")
	}
}
