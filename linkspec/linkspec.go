// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package linkspec codes the length-prefixed list of link specifiers
// carried inside a base64 token of an introduction-point record (spec
// §4.5). The binary sub-format is a one-byte count followed by
// type/length/value triples, the same byte-at-a-time scheme-switch shape
// used by stream header parsing and kem/sntrup4591761.go's fixed-size
// key records.
package linkspec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies the kind of endpoint a link specifier describes.
type Type uint8

// Known link specifier types.
const (
	TypeIPv4   Type = 0
	TypeIPv6   Type = 1
	TypeLegacy Type = 2
)

const (
	ipv4Len   = 4 + 2
	ipv6Len   = 16 + 2
	legacyLen = 20
)

// Errors returned while decoding a link specifier list.
var (
	ErrMalformed       = errors.New("linkspec: malformed link specifier list")
	ErrDuplicateType   = errors.New("linkspec: duplicate link specifier of known type")
	ErrNoneUsable      = errors.New("linkspec: no usable link specifiers")
	ErrTooMany         = errors.New("linkspec: more than 255 link specifiers")
)

// Spec is one tagged-union link specifier entry: a known IPv4/IPv6/legacy
// variant, or an opaque Unknown arm that preserves unrecognized payloads
// byte-for-byte across a decode/encode round trip.
type Spec struct {
	Type Type

	// Addr/Port are set for TypeIPv4 (4-byte Addr) and TypeIPv6
	// (16-byte Addr).
	Addr []byte
	Port uint16

	// LegacyID is set for TypeLegacy: a 20-byte relay identity digest.
	LegacyID [20]byte

	// Unknown carries the raw payload for any type this codec does not
	// otherwise recognize. Type is still meaningful: it is the type tag
	// observed on the wire.
	Unknown []byte
}

// NewIPv4 returns a Spec describing an IPv4 address and port.
func NewIPv4(addr [4]byte, port uint16) Spec {
	return Spec{Type: TypeIPv4, Addr: addr[:], Port: port}
}

// NewIPv6 returns a Spec describing an IPv6 address and port.
func NewIPv6(addr [16]byte, port uint16) Spec {
	return Spec{Type: TypeIPv6, Addr: addr[:], Port: port}
}

// NewLegacyID returns a Spec describing a legacy relay identity digest.
func NewLegacyID(id [20]byte) Spec {
	return Spec{Type: TypeLegacy, LegacyID: id}
}

// isKnown reports whether s.Type is one this codec interprets, as
// opposed to an opaque passthrough arm.
func (s Spec) isKnown() bool {
	switch s.Type {
	case TypeIPv4, TypeIPv6, TypeLegacy:
		return true
	default:
		return false
	}
}

func (s Spec) payload() ([]byte, error) {
	switch s.Type {
	case TypeIPv4:
		if len(s.Addr) != 4 {
			return nil, fmt.Errorf("%w: IPv4 address has length %d", ErrMalformed, len(s.Addr))
		}
		out := make([]byte, ipv4Len)
		copy(out, s.Addr)
		binary.BigEndian.PutUint16(out[4:], s.Port)
		return out, nil
	case TypeIPv6:
		if len(s.Addr) != 16 {
			return nil, fmt.Errorf("%w: IPv6 address has length %d", ErrMalformed, len(s.Addr))
		}
		out := make([]byte, ipv6Len)
		copy(out, s.Addr)
		binary.BigEndian.PutUint16(out[16:], s.Port)
		return out, nil
	case TypeLegacy:
		return s.LegacyID[:], nil
	default:
		return s.Unknown, nil
	}
}

// Encode serializes specs to the binary link-specifier-list sub-format.
// specs must be non-empty and at most 255 entries.
func Encode(specs []Spec) ([]byte, error) {
	if len(specs) == 0 {
		return nil, ErrNoneUsable
	}
	if len(specs) > 255 {
		return nil, ErrTooMany
	}
	out := make([]byte, 1, 1+len(specs)*4)
	out[0] = byte(len(specs))
	for _, s := range specs {
		payload, err := s.payload()
		if err != nil {
			return nil, err
		}
		if len(payload) > 255 {
			return nil, fmt.Errorf("%w: payload too long", ErrMalformed)
		}
		out = append(out, byte(s.Type), byte(len(payload)))
		out = append(out, payload...)
	}
	return out, nil
}

// Decode parses the binary link-specifier-list sub-format. It requires at
// least one usable (known-type) specifier and rejects duplicate
// specifiers of the same known type. Unknown-type entries
// are preserved but do not count toward "usable".
func Decode(data []byte) ([]Spec, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	n := int(data[0])
	pos := 1
	specs := make([]Spec, 0, n)
	seen := make(map[Type]bool)
	usable := 0
	for i := 0; i < n; i++ {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated header", ErrMalformed)
		}
		typ := Type(data[pos])
		length := int(data[pos+1])
		pos += 2
		if pos+length > len(data) {
			return nil, fmt.Errorf("%w: truncated payload", ErrMalformed)
		}
		payload := data[pos : pos+length]
		pos += length

		s := Spec{Type: typ}
		switch typ {
		case TypeIPv4:
			if length != ipv4Len {
				return nil, fmt.Errorf("%w: IPv4 length %d", ErrMalformed, length)
			}
			s.Addr = append([]byte(nil), payload[:4]...)
			s.Port = binary.BigEndian.Uint16(payload[4:6])
		case TypeIPv6:
			if length != ipv6Len {
				return nil, fmt.Errorf("%w: IPv6 length %d", ErrMalformed, length)
			}
			s.Addr = append([]byte(nil), payload[:16]...)
			s.Port = binary.BigEndian.Uint16(payload[16:18])
		case TypeLegacy:
			if length != legacyLen {
				return nil, fmt.Errorf("%w: legacy id length %d", ErrMalformed, length)
			}
			copy(s.LegacyID[:], payload)
		default:
			s.Unknown = append([]byte(nil), payload...)
		}
		if s.isKnown() {
			if seen[typ] {
				return nil, fmt.Errorf("%w: type %d", ErrDuplicateType, typ)
			}
			seen[typ] = true
			usable++
		}
		specs = append(specs, s)
	}
	if pos != len(data) {
		return nil, fmt.Errorf("%w: trailing bytes", ErrMalformed)
	}
	if usable == 0 {
		return nil, ErrNoneUsable
	}
	return specs, nil
}
