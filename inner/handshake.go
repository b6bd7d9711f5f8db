// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// The create2-formats line names, by small integer, which introduction
// handshakes the service is willing to accept. Only one is defined at
// time of writing, but the shape is future-extensible. This
// codec treats the identifiers themselves as opaque integers — nothing
// about the wire format requires interpreting them — but it keeps a
// registry of known identifiers for descriptive purposes, generalizing
// the kem.KEM abstraction from "the one key establishment scheme a
// single handshake supports" to "the set of schemes a service may
// advertise".
package inner

import "github.com/jrick/hsdesc3/kem"

// HandshakeID is a create2-formats identifier.
type HandshakeID uint32

// Well-known handshake identifiers. NtorV3 is the only one a real
// service would advertise today; PostQuantumSNTRUP is a placeholder
// showing how a future handshake slots into the same registry without
// changing the wire grammar.
const (
	HandshakeNtorV3           HandshakeID = 2
	HandshakePostQuantumSNTRUP HandshakeID = 100
)

// handshakeDescriptor names a registered handshake and, where
// applicable, the KEM that backs it.
type handshakeDescriptor struct {
	name string
	kem  kem.KEM
}

var registry = map[HandshakeID]handshakeDescriptor{
	HandshakeNtorV3:            {name: "ntor-v3"},
	HandshakePostQuantumSNTRUP: {name: "sntrup4591761-hybrid", kem: kem.SNTRUP4591761()},
}

// DescribeHandshake returns a human-readable name for id, and the KEM
// backing it if the registry has one, for display by the CLI's
// "inspect" subcommand. Unregistered identifiers are still perfectly
// valid on the wire (only a non-empty list of small integers is
// required) — DescribeHandshake returns ok=false for those rather than
// failing the decode.
func DescribeHandshake(id HandshakeID) (name string, k kem.KEM, ok bool) {
	d, ok := registry[id]
	return d.name, d.kem, ok
}
