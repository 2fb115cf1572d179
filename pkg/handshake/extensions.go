package handshake

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// ExtensionType identifies a handshake extension (RFC 8446 Section 4.2).
type ExtensionType uint16

// Extension types interpreted by this profile.
const (
	ExtensionTypePreSharedKey        ExtensionType = 41
	ExtensionTypeSupportedVersions   ExtensionType = 43
	ExtensionTypePSKKeyExchangeModes ExtensionType = 45
)

// String returns a human-readable extension type name.
func (t ExtensionType) String() string {
	switch t {
	case ExtensionTypePreSharedKey:
		return "pre_shared_key"
	case ExtensionTypeSupportedVersions:
		return "supported_versions"
	case ExtensionTypePSKKeyExchangeModes:
		return "psk_key_exchange_modes"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
}

// Extension is a decoded handshake extension. Extensions whose tag or
// message context this profile does not interpret decode as *Unrecognized.
type Extension interface {
	// Type returns the wire extension type.
	Type() ExtensionType

	marshalBody(b *cryptobyte.Builder, msg MessageType)
}

// PSKIdentity is one offered identity in a pre_shared_key extension.
type PSKIdentity struct {
	// Identity is the opaque identity label.
	Identity []byte

	// ObfuscatedTicketAge is carried through re-encoding; external PSKs
	// attach no meaning to it (RFC 8446 Section 4.2.11).
	ObfuscatedTicketAge uint32
}

// PreSharedKey is the ClientHello form of pre_shared_key (RFC 8446
// Section 4.2.11): offered identities and their binders.
type PreSharedKey struct {
	Identities []PSKIdentity
	Binders    [][]byte
}

// Type returns ExtensionTypePreSharedKey.
func (*PreSharedKey) Type() ExtensionType { return ExtensionTypePreSharedKey }

func (e *PreSharedKey) marshalBody(b *cryptobyte.Builder, msg MessageType) {
	if msg != TypeClientHello {
		b.SetError(fmt.Errorf("%w: pre_shared_key offer outside ClientHello", ErrEncode))
		return
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, id := range e.Identities {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddBytes(id.Identity)
			})
			b.AddUint32(id.ObfuscatedTicketAge)
		}
	})
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, binder := range e.Binders {
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddBytes(binder)
			})
		}
	})
}

// BindersSize returns the encoded size of the binders list including its
// length prefix. The binder MAC covers the serialized ClientHello truncated
// by exactly this many bytes (RFC 8446 Section 4.2.11.2).
func (e *PreSharedKey) BindersSize() int {
	n := 2
	for _, binder := range e.Binders {
		n += 1 + len(binder)
	}
	return n
}

func parsePreSharedKey(body *cryptobyte.String) (*PreSharedKey, error) {
	e := new(PreSharedKey)

	var identities cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&identities) {
		return nil, fmt.Errorf("%w: pre_shared_key identities", ErrDecode)
	}
	for !identities.Empty() {
		var id PSKIdentity
		if !readUint16LengthPrefixed(&identities, &id.Identity) ||
			!identities.ReadUint32(&id.ObfuscatedTicketAge) {
			return nil, fmt.Errorf("%w: pre_shared_key identity", ErrDecode)
		}
		e.Identities = append(e.Identities, id)
	}

	var binders cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&binders) {
		return nil, fmt.Errorf("%w: pre_shared_key binders", ErrDecode)
	}
	for !binders.Empty() {
		var binder []byte
		if !readUint8LengthPrefixed(&binders, &binder) {
			return nil, fmt.Errorf("%w: pre_shared_key binder", ErrDecode)
		}
		if len(binder) < MinBinderLength {
			return nil, fmt.Errorf("%w: binder length %d", ErrDecode, len(binder))
		}
		e.Binders = append(e.Binders, binder)
	}

	return e, nil
}

// PreSharedKeySelected is the ServerHello form of pre_shared_key: the index
// of the accepted identity.
type PreSharedKeySelected struct {
	SelectedIdentity uint16
}

// Type returns ExtensionTypePreSharedKey.
func (*PreSharedKeySelected) Type() ExtensionType { return ExtensionTypePreSharedKey }

func (e *PreSharedKeySelected) marshalBody(b *cryptobyte.Builder, msg MessageType) {
	if msg != TypeServerHello {
		b.SetError(fmt.Errorf("%w: pre_shared_key selection outside ServerHello", ErrEncode))
		return
	}
	b.AddUint16(e.SelectedIdentity)
}

func parsePreSharedKeySelected(body *cryptobyte.String) (*PreSharedKeySelected, error) {
	e := new(PreSharedKeySelected)
	if !body.ReadUint16(&e.SelectedIdentity) {
		return nil, fmt.Errorf("%w: pre_shared_key selected_identity", ErrDecode)
	}
	return e, nil
}

// SupportedVersions is the ClientHello form of supported_versions (RFC 8446
// Section 4.2.1): the offered protocol versions in preference order.
type SupportedVersions struct {
	Versions []uint16
}

// Type returns ExtensionTypeSupportedVersions.
func (*SupportedVersions) Type() ExtensionType { return ExtensionTypeSupportedVersions }

func (e *SupportedVersions) marshalBody(b *cryptobyte.Builder, msg MessageType) {
	if msg != TypeClientHello {
		b.SetError(fmt.Errorf("%w: supported_versions list outside ClientHello", ErrEncode))
		return
	}
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, v := range e.Versions {
			b.AddUint16(v)
		}
	})
}

func parseSupportedVersions(body *cryptobyte.String) (*SupportedVersions, error) {
	e := new(SupportedVersions)
	var list cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&list) {
		return nil, fmt.Errorf("%w: supported_versions list", ErrDecode)
	}
	for !list.Empty() {
		var v uint16
		if !list.ReadUint16(&v) {
			return nil, fmt.Errorf("%w: supported_versions entry", ErrDecode)
		}
		e.Versions = append(e.Versions, v)
	}
	return e, nil
}

// SupportedVersionsSelected is the ServerHello form of supported_versions:
// the single negotiated version.
type SupportedVersionsSelected struct {
	Selected uint16
}

// Type returns ExtensionTypeSupportedVersions.
func (*SupportedVersionsSelected) Type() ExtensionType { return ExtensionTypeSupportedVersions }

func (e *SupportedVersionsSelected) marshalBody(b *cryptobyte.Builder, msg MessageType) {
	if msg != TypeServerHello {
		b.SetError(fmt.Errorf("%w: supported_versions selection outside ServerHello", ErrEncode))
		return
	}
	b.AddUint16(e.Selected)
}

func parseSupportedVersionsSelected(body *cryptobyte.String) (*SupportedVersionsSelected, error) {
	e := new(SupportedVersionsSelected)
	if !body.ReadUint16(&e.Selected) {
		return nil, fmt.Errorf("%w: supported_versions selected", ErrDecode)
	}
	return e, nil
}

// PskKeyExchangeModes (RFC 8446 Section 4.2.9) lists the PSK modes the
// client can use; ClientHello only.
type PskKeyExchangeModes struct {
	Modes []uint8
}

// Type returns ExtensionTypePSKKeyExchangeModes.
func (*PskKeyExchangeModes) Type() ExtensionType { return ExtensionTypePSKKeyExchangeModes }

func (e *PskKeyExchangeModes) marshalBody(b *cryptobyte.Builder, msg MessageType) {
	if msg != TypeClientHello {
		b.SetError(fmt.Errorf("%w: psk_key_exchange_modes outside ClientHello", ErrEncode))
		return
	}
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, mode := range e.Modes {
			b.AddUint8(mode)
		}
	})
}

func parsePskKeyExchangeModes(body *cryptobyte.String) (*PskKeyExchangeModes, error) {
	e := new(PskKeyExchangeModes)
	var list cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&list) {
		return nil, fmt.Errorf("%w: psk_key_exchange_modes list", ErrDecode)
	}
	for !list.Empty() {
		var mode uint8
		if !list.ReadUint8(&mode) {
			return nil, fmt.Errorf("%w: psk_key_exchange_modes entry", ErrDecode)
		}
		e.Modes = append(e.Modes, mode)
	}
	return e, nil
}

// OffersPSKKE reports whether psk_ke is among the offered modes.
func (e *PskKeyExchangeModes) OffersPSKKE() bool {
	for _, mode := range e.Modes {
		if mode == PSKModePSKKE {
			return true
		}
	}
	return false
}

// Unrecognized preserves an extension whose tag, or whose tag in this
// message context, the profile does not interpret. Tag and body survive a
// decode/encode round trip unchanged. The state machines never construct
// one, and duplicates among unrecognized tags are tolerated.
type Unrecognized struct {
	Tag  uint16
	Body []byte
}

// Type returns the preserved wire extension type.
func (e *Unrecognized) Type() ExtensionType { return ExtensionType(e.Tag) }

func (e *Unrecognized) marshalBody(b *cryptobyte.Builder, msg MessageType) {
	b.AddBytes(e.Body)
}

func marshalExtensions(b *cryptobyte.Builder, msg MessageType, exts []Extension) {
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, ext := range exts {
			b.AddUint16(uint16(ext.Type()))
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				ext.marshalBody(b, msg)
			})
		}
	})
}

// readExtensions decodes a u16-length-prefixed extensions block. Recognized
// extensions must consume their declared body exactly and may appear at most
// once.
func readExtensions(s *cryptobyte.String, msg MessageType) ([]Extension, error) {
	var block cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&block) {
		return nil, fmt.Errorf("%w: extensions block", ErrDecode)
	}

	var exts []Extension
	seen := make(map[ExtensionType]bool)
	for !block.Empty() {
		var tag uint16
		var body cryptobyte.String
		if !block.ReadUint16(&tag) || !block.ReadUint16LengthPrefixed(&body) {
			return nil, fmt.Errorf("%w: truncated extension", ErrDecode)
		}

		ext, err := parseExtension(ExtensionType(tag), msg, &body)
		if err != nil {
			return nil, err
		}
		if _, unknown := ext.(*Unrecognized); !unknown {
			if seen[ExtensionType(tag)] {
				return nil, fmt.Errorf("%w: duplicate %v", ErrInvalidExtension, ExtensionType(tag))
			}
			seen[ExtensionType(tag)] = true
			if !body.Empty() {
				return nil, fmt.Errorf("%w: %d trailing bytes in %v", ErrDecode, len(body), ExtensionType(tag))
			}
		}
		exts = append(exts, ext)
	}

	return exts, nil
}

func parseExtension(tag ExtensionType, msg MessageType, body *cryptobyte.String) (Extension, error) {
	switch {
	case tag == ExtensionTypePreSharedKey && msg == TypeClientHello:
		return parsePreSharedKey(body)
	case tag == ExtensionTypePreSharedKey && msg == TypeServerHello:
		return parsePreSharedKeySelected(body)
	case tag == ExtensionTypeSupportedVersions && msg == TypeClientHello:
		return parseSupportedVersions(body)
	case tag == ExtensionTypeSupportedVersions && msg == TypeServerHello:
		return parseSupportedVersionsSelected(body)
	case tag == ExtensionTypePSKKeyExchangeModes && msg == TypeClientHello:
		return parsePskKeyExchangeModes(body)
	default:
		ext := &Unrecognized{Tag: uint16(tag), Body: append([]byte(nil), *body...)}
		*body = nil
		return ext, nil
	}
}
