package crypto

import (
	"crypto/rand"
	"io"
)

// RandomBytes reads n cryptographically secure random bytes from r.
// A nil reader falls back to crypto/rand. Handshake randoms and session
// identifiers are generated with this function so tests can substitute a
// deterministic source.
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
