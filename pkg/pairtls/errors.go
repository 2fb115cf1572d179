package pairtls

import (
	"errors"
	"fmt"
)

// Connection errors. Failures from the codec, record and key schedule
// layers are wrapped into these kinds, so errors.Is against a sentinel
// below classifies any error this package returns.
var (
	// ErrInvalidConfig is returned when a Config is missing required fields.
	ErrInvalidConfig = errors.New("pairtls: invalid config")

	// ErrMalformedWire is returned for any framing or length violation in
	// inbound bytes.
	ErrMalformedWire = errors.New("pairtls: malformed wire data")

	// ErrUnexpectedMessage is returned when a wire-valid record or message
	// does not fit the current handshake state.
	ErrUnexpectedMessage = errors.New("pairtls: unexpected message")

	// ErrInvalidExtension is returned when extension contents are invalid
	// for the carrying message.
	ErrInvalidExtension = errors.New("pairtls: invalid extension")

	// ErrSessionIDMismatch is returned when the ServerHello does not echo
	// the legacy_session_id the client sent.
	ErrSessionIDMismatch = errors.New("pairtls: legacy_session_id mismatch")

	// ErrBinderMismatch is returned when PSK binder verification fails.
	ErrBinderMismatch = errors.New("pairtls: PSK binder mismatch")

	// ErrUnknownPSKIdentity is returned when no offered identity matches
	// the server's configured PSKID. It matches ErrBinderMismatch under
	// errors.Is.
	ErrUnknownPSKIdentity = fmt.Errorf("%w: unknown PSK identity", ErrBinderMismatch)

	// ErrFinishedMismatch is returned when a Finished MAC does not verify.
	ErrFinishedMismatch = errors.New("pairtls: Finished verification failed")

	// ErrKeyScheduleState is returned when a key schedule operation runs
	// outside its stage.
	ErrKeyScheduleState = errors.New("pairtls: key schedule stage violation")

	// ErrAEADFailure is returned when record decryption fails.
	ErrAEADFailure = errors.New("pairtls: record decryption failed")

	// ErrDuplicateChangeCipherSpec is returned on a second ChangeCipherSpec.
	ErrDuplicateChangeCipherSpec = errors.New("pairtls: duplicate ChangeCipherSpec")

	// ErrBadChangeCipherSpec is returned when a ChangeCipherSpec payload is
	// not exactly 0x01.
	ErrBadChangeCipherSpec = errors.New("pairtls: malformed ChangeCipherSpec")

	// ErrCryptoPrimitiveFailure is returned when the random source or a key
	// derivation fails.
	ErrCryptoPrimitiveFailure = errors.New("pairtls: crypto primitive failure")

	// ErrRecordOverflow is returned when outbound data exceeds the record
	// plaintext limit.
	ErrRecordOverflow = errors.New("pairtls: record overflow")

	// ErrSequenceOverflow is returned when a sequence number space is
	// exhausted. The connection must be re-established.
	ErrSequenceOverflow = errors.New("pairtls: sequence number space exhausted")

	// ErrHandshakeNotComplete is returned when application data is sent
	// before the handshake finishes.
	ErrHandshakeNotComplete = errors.New("pairtls: handshake not complete")

	// ErrConnectionClosed is reported as the failure cause after Close.
	ErrConnectionClosed = errors.New("pairtls: connection closed")

	// ErrConnectionFailed wraps the first fatal error on every subsequent
	// operation.
	ErrConnectionFailed = errors.New("pairtls: connection failed")
)
