package record

import "errors"

var (
	// ErrMalformedRecord is returned when record bytes cannot be parsed:
	// a truncated header, a length prefix that does not span the input
	// exactly, an unknown record type, an unacceptable legacy version or
	// an inner plaintext consisting only of padding.
	ErrMalformedRecord = errors.New("record: malformed record")

	// ErrRecordOverflow is returned when a payload exceeds the size a
	// single record may carry.
	ErrRecordOverflow = errors.New("record: payload exceeds record size limit")

	// ErrSequenceOverflow is returned when a direction has protected its
	// maximum number of records under one key.
	ErrSequenceOverflow = errors.New("record: sequence number space exhausted")

	// ErrDecryptFailed is returned when AEAD authentication of an
	// encrypted record fails.
	ErrDecryptFailed = errors.New("record: payload authentication failed")
)
