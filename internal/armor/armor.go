// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package armor frames binary blocks the way a descriptor embeds a
// certificate or an encrypted blob: a "-----BEGIN X-----"/"-----END
// X-----" wrapper around standard base64, one PEM block per directive.
// The wire shape is exactly encoding/pem's, grounded on the armored RSA
// key and signature blocks in onionutil's oniondesc.go.
package armor

import (
	"encoding/pem"
	"fmt"
)

// Encode wraps data in a PEM block of the given kind, e.g. kind "ED25519
// CERT" produces "-----BEGIN ED25519 CERT-----".
func Encode(kind string, data []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: kind, Bytes: data})
}

// Decode parses the leading PEM block from data and requires its header
// to equal one of wantKinds.  It returns the decoded bytes and the number
// of leading bytes of data the block occupied, so that callers can
// continue tokenizing whatever directives follow.  Decode only ever looks
// at the first block and does not examine anything after its footer;
// checking what follows is left to the caller.
func Decode(data []byte, wantKinds ...string) (kind string, decoded []byte, consumed int, err error) {
	block, rest := pem.Decode(data)
	if block == nil {
		return "", nil, 0, fmt.Errorf("armor: no PEM block found")
	}
	ok := len(wantKinds) == 0
	for _, k := range wantKinds {
		if block.Type == k {
			ok = true
			break
		}
	}
	if !ok {
		return "", nil, 0, fmt.Errorf("armor: unexpected block type %q", block.Type)
	}
	consumed = len(data) - len(rest)
	return block.Type, block.Bytes, consumed, nil
}
