// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package envelope implements the crypto envelope that seals the inner
// plaintext before it is embedded in the outer descriptor:
// zero-pad to the padding quantum, derive a cipher key/IV/MAC key from
// the blinded identity key and a random salt via a SHAKE-256 KDF, encrypt
// with AES-256-CTR, and authenticate (salt || ciphertext) with a keyed
// MAC. The KDF and MAC follow the original hs_descriptor.c construction
// (build_kdf_key/build_mac); the keyed MAC itself reuses the adapted
// cSHAKE-based KMAC (internal/kmac), the same scaffolding kem/cshake.go
// built its own KDF on top of.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha3"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/jrick/hsdesc3/internal/kmac"
)

// PaddingQuantum is the fixed block every plaintext is padded to before
// encryption (spec glossary, §4.7 step 1).
const PaddingQuantum = 10000

const (
	SaltLen = 16
	MACLen  = 32

	cipherKeyLen = 32 // AES-256
	ivLen        = aes.BlockSize
	macKeyLen    = 32

	domainSeparator = "hsdesc3-encrypted-data"
	macCustom       = "hsdesc3-encrypted-mac"

	// MaxEncryptedLen bounds the total size of a sealed blob, mirroring
	// the outer descriptor's 50 KiB cap: nothing
	// useful can fit a padded plaintext larger than this within the
	// overall descriptor budget.
	MaxEncryptedLen = 50 * 1024
)

var (
	// ErrBadLength is returned when an encrypted blob's size does not
	// satisfy EncryptedDataLengthIsValid.
	ErrBadLength = errors.New("envelope: invalid encrypted blob length")
	// ErrBadMAC is returned when authentication fails on Open.
	ErrBadMAC = errors.New("envelope: MAC verification failed")
)

// PadPlaintext zero-pads plaintext up to the next multiple of
// PaddingQuantum (spec testable property 3). It always allocates a new
// slice.
func PadPlaintext(plaintext []byte) []byte {
	padded := make([]byte, PaddedLen(len(plaintext)))
	copy(padded, plaintext)
	return padded
}

// PaddedLen returns ceil(n / PaddingQuantum) * PaddingQuantum, except that
// n == 0 yields one full PaddingQuantum, so a sealed blob always carries
// at least one quantum.
func PaddedLen(n int) int {
	if n == 0 {
		return PaddingQuantum
	}
	q := (n + PaddingQuantum - 1) / PaddingQuantum
	return q * PaddingQuantum
}

// EncryptedDataLengthIsValid reports whether n is a structurally valid
// encrypted blob length.
func EncryptedDataLengthIsValid(n int) bool {
	min := SaltLen + MACLen + PaddingQuantum
	if n < min || n > MaxEncryptedLen {
		return false
	}
	return (n-SaltLen-MACLen)%PaddingQuantum == 0
}

// deriveKeys runs the SHAKE-256 KDF over (secretInput || salt ||
// domainSeparator) and splits the squeezed output into a cipher key, IV,
// and MAC key, mirroring build_secret_key_iv_mac in the original
// implementation.
func deriveKeys(secretInput, salt []byte) (cipherKey, iv, macKey []byte) {
	xof := sha3.NewSHAKE256()
	xof.Write(secretInput)
	xof.Write(salt)
	xof.Write([]byte(domainSeparator))
	out := make([]byte, cipherKeyLen+ivLen+macKeyLen)
	io.ReadFull(xof, out)
	return out[:cipherKeyLen], out[cipherKeyLen : cipherKeyLen+ivLen], out[cipherKeyLen+ivLen:]
}

func computeMAC(macKey, salt, ciphertext []byte) []byte {
	h := kmac.NewKMAC256(macKey, MACLen, []byte(macCustom))
	h.Write(salt)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// Seal pads plaintext, derives keys from (secretInput, a fresh salt drawn
// from rand), encrypts with AES-256-CTR, and returns
// salt || ciphertext || MAC. secretInput binds the encryption
// to the descriptor's blinded identity key (and, for future
// client-authenticated descriptors, the subcredential); building it is
// the caller's responsibility (see descriptor.secretInput).
func Seal(rand io.Reader, secretInput, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxEncryptedLen {
		return nil, fmt.Errorf("envelope: plaintext too large")
	}
	salt := make([]byte, SaltLen)
	if _, err := io.ReadFull(rand, salt); err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}

	cipherKey, iv, macKey := deriveKeys(secretInput, salt)
	defer zero(cipherKey)
	defer zero(iv)
	defer zero(macKey)

	padded := PadPlaintext(plaintext)
	defer zero(padded)

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	stream := cipher.NewCTR(block, iv)
	ciphertext := make([]byte, len(padded))
	stream.XORKeyStream(ciphertext, padded)

	mac := computeMAC(macKey, salt, ciphertext)

	out := make([]byte, 0, SaltLen+len(ciphertext)+MACLen)
	out = append(out, salt...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	return out, nil
}

// Open is the inverse of Seal: it validates the blob's length, rederives
// the keys, verifies the MAC in constant time, and decrypts. The
// returned plaintext is still padded with trailing zero bytes; the
// grammar layer above this one is self-delimiting and trims them (spec
// §4.7 step 1).
func Open(secretInput, blob []byte) ([]byte, error) {
	if !EncryptedDataLengthIsValid(len(blob)) {
		return nil, ErrBadLength
	}
	salt := blob[:SaltLen]
	ciphertext := blob[SaltLen : len(blob)-MACLen]
	tag := blob[len(blob)-MACLen:]

	cipherKey, iv, macKey := deriveKeys(secretInput, salt)
	defer zero(cipherKey)
	defer zero(iv)
	defer zero(macKey)

	wantTag := computeMAC(macKey, salt, ciphertext)
	if subtle.ConstantTimeCompare(wantTag, tag) != 1 {
		return nil, ErrBadMAC
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	stream := cipher.NewCTR(block, iv)
	plaintext := make([]byte, len(ciphertext))
	stream.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
