package handshake

import "errors"

// Handshake codec errors.
var (
	// ErrDecode covers structural decode failures: truncation, trailing
	// bytes, bad length prefixes, out-of-range field values.
	ErrDecode = errors.New("handshake: malformed message")

	// ErrUnknownMessageType is returned for a handshake type this profile
	// does not define.
	ErrUnknownMessageType = errors.New("handshake: unknown message type")

	// ErrInvalidExtension covers extension-level violations: a required
	// extension missing, a duplicate recognized extension, pre_shared_key
	// not in final position, or unacceptable extension content.
	ErrInvalidExtension = errors.New("handshake: invalid extension")

	// ErrEncode is returned when a message or extension cannot be written,
	// such as an extension form serialized into the wrong message type.
	ErrEncode = errors.New("handshake: cannot encode")
)
