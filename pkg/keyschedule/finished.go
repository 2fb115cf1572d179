package keyschedule

import (
	"github.com/backkem/pairtls/pkg/crypto"
)

// ComputeFinishedMAC computes the verify_data for a Finished message
// (RFC 8446 Section 4.4.4):
//
//	finished_key = HKDF-Expand-Label(base_key, "finished", "", 32)
//	verify_data  = HMAC(finished_key, Transcript-Hash(transcript))
//
// The transcript is passed as raw message bytes and hashed here. PSK
// binders (RFC 8446 Section 4.2.11.2) use the same computation with the
// external binder key over the truncated ClientHello.
func ComputeFinishedMAC(baseKey, transcript []byte) ([]byte, error) {
	finishedKey, err := crypto.HKDFExpandLabel(baseKey, labelFinished, nil, crypto.SHA256LenBytes)
	if err != nil {
		return nil, err
	}
	mac := crypto.HMACSHA256(finishedKey, crypto.SHA256Slice(transcript))
	return mac[:], nil
}

// VerifyFinishedMAC recomputes the Finished MAC and compares it against
// verifyData in constant time.
func VerifyFinishedMAC(baseKey, transcript, verifyData []byte) (bool, error) {
	expected, err := ComputeFinishedMAC(baseKey, transcript)
	if err != nil {
		return false, err
	}
	return crypto.HMACEqual(expected, verifyData), nil
}
