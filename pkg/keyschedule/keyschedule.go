// Package keyschedule implements the TLS 1.3 key schedule (RFC 8446
// Section 7.1) restricted to the external-PSK handshake with psk_ke:
// the (EC)DHE input is always absent and resumption master secrets are
// never derived.
//
// The schedule progresses through three extractions:
//
//	Early Secret     = HKDF-Extract(salt=0, IKM=PSK)
//	Handshake Secret = HKDF-Extract(salt=Derive-Secret(Early, "derived", ""), IKM=0)
//	Master Secret    = HKDF-Extract(salt=Derive-Secret(Handshake, "derived", ""), IKM=0)
//
// and exposes only the secrets the PSK-only handshake needs: the external
// binder key and the four traffic secrets.
package keyschedule

import (
	"github.com/backkem/pairtls/pkg/crypto"
)

// HKDF-Expand-Label labels from RFC 8446 Section 7.1.
const (
	labelExtBinder = "ext binder"
	labelDerived   = "derived"
	labelClientHS  = "c hs traffic"
	labelServerHS  = "s hs traffic"
	labelClientApp = "c ap traffic"
	labelServerApp = "s ap traffic"
	labelFinished  = "finished"
)

// Stage identifies how far the schedule has progressed.
type Stage int

const (
	// StageUninitialized is the zero value; no secret has been mixed in.
	StageUninitialized Stage = iota

	// StageEarlySecret holds after AddPSK; the external binder key is
	// available.
	StageEarlySecret

	// StageHandshakeSecret holds after AddECDHE; the handshake traffic
	// secrets are available.
	StageHandshakeSecret

	// StageMasterSecret holds after Finalize; the application traffic
	// secrets are available.
	StageMasterSecret
)

// String returns a human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageUninitialized:
		return "Uninitialized"
	case StageEarlySecret:
		return "EarlySecret"
	case StageHandshakeSecret:
		return "HandshakeSecret"
	case StageMasterSecret:
		return "MasterSecret"
	default:
		return "Unknown"
	}
}

// Schedule is a TLS 1.3 key schedule for one connection. It owns the
// handshake transcript: the state machines append every handshake message
// to it and the traffic secrets are derived over its current contents.
//
// A Schedule is not safe for concurrent use; the connection serializes
// access to it.
type Schedule struct {
	stage Stage

	// secret holds Derive-Secret(current, "derived", "") after each
	// extraction, the salt for the next one.
	secret []byte

	extBinderKey []byte

	clientHandshakeSecret []byte
	serverHandshakeSecret []byte

	clientApplicationSecret []byte
	serverApplicationSecret []byte

	transcript []byte
}

// New creates an empty key schedule in StageUninitialized.
func New() *Schedule {
	return &Schedule{stage: StageUninitialized}
}

// Stage returns the current stage.
func (s *Schedule) Stage() Stage {
	return s.stage
}

// DeriveSecret implements Derive-Secret from RFC 8446 Section 7.1. The
// transcript is passed as raw message bytes and hashed here; derivations
// over the empty transcript pass nil.
func DeriveSecret(secret []byte, label string, transcript []byte) ([]byte, error) {
	return crypto.HKDFExpandLabel(secret, label, crypto.SHA256Slice(transcript), crypto.SHA256LenBytes)
}

// AddPSK mixes the pre-shared key into the schedule, moving it to
// StageEarlySecret and making the external binder key available.
func (s *Schedule) AddPSK(psk []byte) error {
	if s.stage != StageUninitialized {
		return ErrInvalidStage
	}

	zeros := make([]byte, crypto.SHA256LenBytes)
	earlySecret := crypto.HKDFExtractSHA256(psk, zeros)

	extBinderKey, err := DeriveSecret(earlySecret, labelExtBinder, nil)
	if err != nil {
		return err
	}
	derived, err := DeriveSecret(earlySecret, labelDerived, nil)
	if err != nil {
		return err
	}

	s.extBinderKey = extBinderKey
	s.secret = derived
	s.stage = StageEarlySecret
	return nil
}

// AddECDHE mixes the (EC)DHE shared secret into the schedule, moving it to
// StageHandshakeSecret. In psk_ke mode there is no key share; passing an
// empty slice substitutes 32 zero bytes per RFC 8446 Section 7.1. The
// handshake traffic secrets are derived over the current transcript, which
// must end at the ServerHello.
func (s *Schedule) AddECDHE(ecdhe []byte) error {
	if s.stage != StageEarlySecret {
		return ErrInvalidStage
	}

	if len(ecdhe) == 0 {
		ecdhe = make([]byte, crypto.SHA256LenBytes)
	}
	handshakeSecret := crypto.HKDFExtractSHA256(ecdhe, s.secret)

	clientSecret, err := DeriveSecret(handshakeSecret, labelClientHS, s.transcript)
	if err != nil {
		return err
	}
	serverSecret, err := DeriveSecret(handshakeSecret, labelServerHS, s.transcript)
	if err != nil {
		return err
	}
	derived, err := DeriveSecret(handshakeSecret, labelDerived, nil)
	if err != nil {
		return err
	}

	s.clientHandshakeSecret = clientSecret
	s.serverHandshakeSecret = serverSecret
	s.secret = derived
	s.stage = StageHandshakeSecret
	return nil
}

// Finalize completes the schedule, moving it to StageMasterSecret. The
// application traffic secrets are derived over the current transcript,
// which must end at the server Finished.
func (s *Schedule) Finalize() error {
	if s.stage != StageHandshakeSecret {
		return ErrInvalidStage
	}

	zeros := make([]byte, crypto.SHA256LenBytes)
	masterSecret := crypto.HKDFExtractSHA256(zeros, s.secret)

	clientSecret, err := DeriveSecret(masterSecret, labelClientApp, s.transcript)
	if err != nil {
		return err
	}
	serverSecret, err := DeriveSecret(masterSecret, labelServerApp, s.transcript)
	if err != nil {
		return err
	}

	s.clientApplicationSecret = clientSecret
	s.serverApplicationSecret = serverSecret
	s.secret = nil
	s.stage = StageMasterSecret
	return nil
}

// ExternalBinderKey returns the key for PSK binder MACs (RFC 8446
// Section 4.2.11.2). Only valid in StageEarlySecret.
func (s *Schedule) ExternalBinderKey() ([]byte, error) {
	if s.stage != StageEarlySecret {
		return nil, ErrInvalidStage
	}
	return copyBytes(s.extBinderKey), nil
}

// ClientHandshakeTrafficSecret returns the client_handshake_traffic_secret.
// Only valid in StageHandshakeSecret.
func (s *Schedule) ClientHandshakeTrafficSecret() ([]byte, error) {
	if s.stage != StageHandshakeSecret {
		return nil, ErrInvalidStage
	}
	return copyBytes(s.clientHandshakeSecret), nil
}

// ServerHandshakeTrafficSecret returns the server_handshake_traffic_secret.
// Only valid in StageHandshakeSecret.
func (s *Schedule) ServerHandshakeTrafficSecret() ([]byte, error) {
	if s.stage != StageHandshakeSecret {
		return nil, ErrInvalidStage
	}
	return copyBytes(s.serverHandshakeSecret), nil
}

// ClientApplicationTrafficSecret returns client_application_traffic_secret_0.
// Only valid in StageMasterSecret.
func (s *Schedule) ClientApplicationTrafficSecret() ([]byte, error) {
	if s.stage != StageMasterSecret {
		return nil, ErrInvalidStage
	}
	return copyBytes(s.clientApplicationSecret), nil
}

// ServerApplicationTrafficSecret returns server_application_traffic_secret_0.
// Only valid in StageMasterSecret.
func (s *Schedule) ServerApplicationTrafficSecret() ([]byte, error) {
	if s.stage != StageMasterSecret {
		return nil, ErrInvalidStage
	}
	return copyBytes(s.serverApplicationSecret), nil
}

// AddToTranscript appends the serialized bytes of one handshake message,
// header included, to the transcript.
func (s *Schedule) AddToTranscript(message []byte) {
	s.transcript = append(s.transcript, message...)
}

// Transcript returns a copy of the current transcript bytes. State
// machines snapshot it before Finished verification points.
func (s *Schedule) Transcript() []byte {
	return copyBytes(s.transcript)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
