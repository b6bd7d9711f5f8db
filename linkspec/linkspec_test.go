// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package linkspec

import (
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	in := []Spec{
		NewIPv4([4]byte{1, 2, 3, 4}, 9001),
		NewIPv6([16]byte{0x26, 0x00}, 9001),
		NewLegacyID([20]byte{0x02, 0x99, 0xf2, 0x68}),
	}
	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d specs, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Type != in[i].Type {
			t.Fatalf("spec %d: type %v != %v", i, out[i].Type, in[i].Type)
		}
	}
}

func TestUnknownTypePreserved(t *testing.T) {
	raw := []byte{2, byte(TypeIPv4), 6, 1, 2, 3, 4, 0x23, 0x29, 99, 3, 0xde, 0xad, 0xbe}
	specs, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(specs) != 2 || specs[1].Type != 99 {
		t.Fatalf("unexpected specs: %+v", specs)
	}
	reencoded, err := Encode(specs)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(reencoded) != string(raw) {
		t.Fatalf("round trip mismatch:\n got  %x\n want %x", reencoded, raw)
	}
}

func TestDuplicateKnownType(t *testing.T) {
	in := []Spec{
		NewIPv4([4]byte{1, 2, 3, 4}, 1),
		NewIPv4([4]byte{5, 6, 7, 8}, 2),
	}
	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(encoded); !errors.Is(err, ErrDuplicateType) {
		t.Fatalf("Decode: got %v, want ErrDuplicateType", err)
	}
}

func TestNoUsableSpecifiers(t *testing.T) {
	raw := []byte{1, 200, 2, 0xaa, 0xbb}
	if _, err := Decode(raw); !errors.Is(err, ErrNoneUsable) {
		t.Fatalf("Decode: got %v, want ErrNoneUsable", err)
	}
}

func TestEncodeEmpty(t *testing.T) {
	if _, err := Encode(nil); !errors.Is(err, ErrNoneUsable) {
		t.Fatalf("Encode: got %v, want ErrNoneUsable", err)
	}
}
