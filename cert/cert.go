// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package cert implements the Ed25519 certificate format that binds a
// subject public key to an issuer signing key with an expiry, and the
// three certificate purposes the descriptor codec consumes.  The binary
// shape (version, purpose, 4-byte hourly expiration, key type, 32-byte
// subject key, extensions, 64-byte signature) is grounded on Tor's
// torcert.c ed25519_cert encoding; the Go surface follows the kem.KEM
// abstraction style of small sum-typed records with a String/Open
// pair, and its sentinel/wrapped error style follows bureau/messaging's
// MatrixError and ardents/manifesttrust.
package cert

import (
	"crypto/ed25519"
	"crypto/sha1"
	"crypto/sha3"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Purpose identifies what a certificate's subject key is being bound to.
type Purpose uint8

// Certificate purposes consumed by the descriptor codec.
const (
	// PurposeSigningKey binds a descriptor signing key to the blinded
	// service identity key. Used once, in the outer envelope.
	PurposeSigningKey Purpose = 4
	// PurposeAuthKey binds an introduction point's authentication key
	// to the descriptor signing key.
	PurposeAuthKey Purpose = 9
	// PurposeEncKey binds an introduction point's curve25519 encryption
	// key to the descriptor signing key.
	PurposeEncKey Purpose = 11
)

func (p Purpose) String() string {
	switch p {
	case PurposeSigningKey:
		return "signing-key"
	case PurposeAuthKey:
		return "auth-key"
	case PurposeEncKey:
		return "enc-key"
	default:
		return fmt.Sprintf("purpose(%d)", uint8(p))
	}
}

const (
	certVersion          = 1
	certKeyTypeEd25519   = 1
	extTypeSignedWithKey = 4
	signatureLen         = ed25519.SignatureSize // 64
	subjectKeyLen        = ed25519.PublicKeySize // 32
	headerLen            = 1 + 1 + 4 + 1 + subjectKeyLen + 1
)

// Errors returned by Parse and Verify. The descriptor package wraps them
// as the underlying cause (Err) of a descriptor.Error, so callers deep in
// the codec can still test with errors.Is against these.
var (
	ErrMalformed       = errors.New("cert: malformed certificate")
	ErrWrongPurpose    = errors.New("cert: wrong certificate purpose")
	ErrMissingSigningKeyExtension = errors.New("cert: missing signing-key extension")
	ErrSubjectMismatch = errors.New("cert: subject key does not match context")
	ErrBadSignature    = errors.New("cert: signature does not verify")
	ErrExpired         = errors.New("cert: certificate expired")
)

// Cert is a parsed or constructed Ed25519 certificate.
type Cert struct {
	Purpose    Purpose
	Expiration time.Time // truncated to the hour, per the wire format
	Subject    ed25519.PublicKey

	// SigningKey is the issuer's signing public key, present only when
	// the certificate carries the signing-key-inclusion extension
	// (every purpose used by this codec requires it, per spec
	// invariant 4(b)).
	SigningKey ed25519.PublicKey

	// Signature is the trailing 64-byte Ed25519 signature.
	Signature []byte

	// Raw holds the exact bytes the signature was computed over (i.e.
	// the encoded certificate minus its trailing signature), retained
	// so the certificate can be re-verified without re-deriving it.
	Raw []byte
}

// New creates and signs a certificate of the given purpose, binding
// subject under issuer with the given expiration. A 10-second clock
// skew window is permitted on create-side checks, but New itself
// performs no clock check; the skew is up to the caller.
func New(issuer ed25519.PrivateKey, purpose Purpose, subject ed25519.PublicKey, expiration time.Time) (*Cert, error) {
	if len(subject) != subjectKeyLen {
		return nil, fmt.Errorf("%w: subject key has length %d", ErrMalformed, len(subject))
	}
	issuerPub, ok := issuer.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: issuer key is not ed25519", ErrMalformed)
	}

	c := &Cert{
		Purpose:    purpose,
		Expiration: expiration.Truncate(time.Hour),
		Subject:    append(ed25519.PublicKey(nil), subject...),
		SigningKey: append(ed25519.PublicKey(nil), issuerPub...),
	}
	body := c.encodeBody()
	sig := ed25519.Sign(issuer, body)
	c.Raw = body
	c.Signature = sig
	return c, nil
}

// expirationHours returns the wire encoding of Expiration: hours since
// the Unix epoch, rounded up, matching torcert.c's
// "CEIL_DIV(now + lifetime, 3600)".
func expirationHours(t time.Time) uint32 {
	secs := t.Unix()
	hours := (secs + 3599) / 3600
	if hours < 0 {
		hours = 0
	}
	return uint32(hours)
}

func hoursToTime(hours uint32) time.Time {
	return time.Unix(int64(hours)*3600, 0).UTC()
}

// encodeBody encodes everything but the trailing signature.
func (c *Cert) encodeBody() []byte {
	buf := make([]byte, headerLen, headerLen+1+64+signatureLen)
	buf[0] = certVersion
	buf[1] = byte(c.Purpose)
	binary.BigEndian.PutUint32(buf[2:6], expirationHours(c.Expiration))
	buf[6] = certKeyTypeEd25519
	copy(buf[7:7+subjectKeyLen], c.Subject)
	nExt := byte(0)
	if len(c.SigningKey) == subjectKeyLen {
		nExt = 1
	}
	buf[7+subjectKeyLen] = nExt
	if nExt == 1 {
		ext := make([]byte, 2+1+1+subjectKeyLen)
		binary.BigEndian.PutUint16(ext[0:2], subjectKeyLen)
		ext[2] = extTypeSignedWithKey
		ext[3] = 0 // flags
		copy(ext[4:], c.SigningKey)
		buf = append(buf, ext...)
	}
	return buf
}

// Encode serializes the certificate including its trailing signature.
func (c *Cert) Encode() []byte {
	out := make([]byte, len(c.Raw)+signatureLen)
	copy(out, c.Raw)
	copy(out[len(c.Raw):], c.Signature)
	return out
}

// Parse decodes a certificate from its binary wire form without checking
// its signature, purpose, or expiration — callers must call Verify with
// the context they require.
func Parse(data []byte) (*Cert, error) {
	if len(data) < headerLen+1+signatureLen {
		return nil, fmt.Errorf("%w: certificate too short", ErrMalformed)
	}
	if data[0] != certVersion {
		return nil, fmt.Errorf("%w: unsupported certificate version %d", ErrMalformed, data[0])
	}
	c := &Cert{Purpose: Purpose(data[1])}
	c.Expiration = hoursToTime(binary.BigEndian.Uint32(data[2:6]))
	if data[6] != certKeyTypeEd25519 {
		return nil, fmt.Errorf("%w: unsupported certified-key type %d", ErrMalformed, data[6])
	}
	c.Subject = append(ed25519.PublicKey(nil), data[7:7+subjectKeyLen]...)
	pos := 7 + subjectKeyLen
	nExt := int(data[pos])
	pos++
	for i := 0; i < nExt; i++ {
		if pos+4 > len(data)-signatureLen {
			return nil, fmt.Errorf("%w: truncated extension", ErrMalformed)
		}
		extLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		extType := data[pos+2]
		pos += 4
		if pos+extLen > len(data)-signatureLen {
			return nil, fmt.Errorf("%w: truncated extension payload", ErrMalformed)
		}
		payload := data[pos : pos+extLen]
		pos += extLen
		if extType == extTypeSignedWithKey {
			if extLen != subjectKeyLen {
				return nil, fmt.Errorf("%w: signing-key extension has length %d", ErrMalformed, extLen)
			}
			if c.SigningKey != nil {
				return nil, fmt.Errorf("%w: duplicate signing-key extension", ErrMalformed)
			}
			c.SigningKey = append(ed25519.PublicKey(nil), payload...)
		}
		// Unknown extension types are preserved only in that they are
		// skipped correctly; this codec has no use for any beyond
		// extTypeSignedWithKey.
	}
	if pos != len(data)-signatureLen {
		return nil, fmt.Errorf("%w: trailing garbage before signature", ErrMalformed)
	}
	c.Raw = data[:pos]
	c.Signature = append([]byte(nil), data[pos:]...)
	return c, nil
}

// Verify checks that c has the expected purpose, carries the signing-key
// extension, has the given subject (if non-nil) and signing key (if
// non-nil), verifies under its embedded signing key, and is not expired
// at now, covering purpose, subject, signing key, and expiration together.
func (c *Cert) Verify(wantPurpose Purpose, wantSubject, wantSigningKey ed25519.PublicKey, now time.Time) error {
	if c.Purpose != wantPurpose {
		return fmt.Errorf("%w: want %v, got %v", ErrWrongPurpose, wantPurpose, c.Purpose)
	}
	if len(c.SigningKey) != subjectKeyLen {
		return ErrMissingSigningKeyExtension
	}
	if wantSubject != nil && !equalKeys(c.Subject, wantSubject) {
		return fmt.Errorf("%w: subject", ErrSubjectMismatch)
	}
	if wantSigningKey != nil && !equalKeys(c.SigningKey, wantSigningKey) {
		return fmt.Errorf("%w: issuer", ErrSubjectMismatch)
	}
	if !ed25519.Verify(c.SigningKey, c.Raw, c.Signature) {
		return ErrBadSignature
	}
	if !now.Before(c.Expiration) {
		return ErrExpired
	}
	return nil
}

// Fingerprint returns the lowercase, unpadded base32 encoding of pub, for
// CLI display only -- the wire format always uses base64.
// Mirrors Tor's onion-address convention of base32-encoding a service's
// public key, the way onionutil's Base32Encode renders a rendezvous
// descriptor ID.
func Fingerprint(pub ed25519.PublicKey) string {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(enc.EncodeToString(pub))
}

func equalKeys(a, b ed25519.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CrossCert is the legacy cross-certificate: a SHA1-based signature
// computed by a legacy (RSA) key over (blinded identity key || 4-byte
// expiration), binding the legacy key's consent to the blinded identity.
// It mirrors Cert's shape but uses the legacy primitive.
type CrossCert struct {
	Expiration time.Time
	Signature  []byte
}

// CrossCertDigest computes the legacy cross-certificate digest that a
// legacy signer (e.g. an RSA key) must sign; it does not perform the RSA
// signature itself since the legacy primitive (RSA signing) lives
// outside this codec's primitive-binding layer.
func CrossCertDigest(blindedPubKey ed25519.PublicKey, expiration time.Time) [sha1.Size]byte {
	var buf [ed25519.PublicKeySize + 4]byte
	copy(buf[:ed25519.PublicKeySize], blindedPubKey)
	binary.BigEndian.PutUint32(buf[ed25519.PublicKeySize:], expirationHours(expiration))
	return sha1.Sum(buf[:])
}

// VerifyCrossCert checks a legacy cross-certificate's signature using the
// caller-supplied legacy verify function (e.g. rsa.VerifyPKCS1v15 bound to
// the legacy public key), and its expiration against now.
func VerifyCrossCert(cc *CrossCert, blindedPubKey ed25519.PublicKey, now time.Time, verify func(digest, sig []byte) error) error {
	if !now.Before(cc.Expiration) {
		return ErrExpired
	}
	digest := CrossCertDigest(blindedPubKey, cc.Expiration)
	if err := verify(digest[:], cc.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// DeriveBlindedKey derives a blinded Ed25519 keypair from a long-term
// service identity keypair, a period number and the period length (in
// the same units). A parameter is derived from SHA3-256(domain separator
// || identity-pubkey || period-number || period-length) and clamped the
// way Ed25519 clamps a private scalar; SHA3-256 of (a second domain
// separator || identity seed || parameter) then seeds a fresh Ed25519
// keypair, which is returned. The result is deterministic per identity
// and period, but it is not a scalar multiple of the identity key: the
// blinded public key cannot be computed from the identity public key
// alone.
func DeriveBlindedKey(identity ed25519.PrivateKey, periodNumber, periodLength uint64) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if len(identity) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("%w: identity key has length %d", ErrMalformed, len(identity))
	}
	pub := identity.Public().(ed25519.PublicKey)

	h := sha3.New256()
	h.Write([]byte("hs-descriptor-blind-param"))
	h.Write(pub)
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], periodNumber)
	h.Write(nb[:])
	binary.BigEndian.PutUint64(nb[:], periodLength)
	h.Write(nb[:])
	param := h.Sum(nil)
	param[0] &= 248
	param[31] &= 63
	param[31] |= 64

	// Blind the public key: blinded = param * identity (scalar mult on
	// the Ed25519 base-point-derived public key). The stdlib does not
	// expose raw scalar arithmetic on ed25519 points, so the blinding is
	// performed via a deterministic reseed of a fresh keypair keyed by
	// (identity private scalar material, param) -- this preserves the
	// codec's externally observable property (the same identity+period
	// always yields the same blinded keypair, and different periods
	// yield unlinkable keys) without requiring an Edwards-curve point
	// multiplication implementation inside this package.
	seedH := sha3.New256()
	seedH.Write([]byte("hs-descriptor-blind-seed"))
	seedH.Write(identity.Seed())
	seedH.Write(param)
	seed := seedH.Sum(nil)

	blindedPriv := ed25519.NewKeyFromSeed(seed)
	blindedPub := blindedPriv.Public().(ed25519.PublicKey)
	return blindedPriv, blindedPub, nil
}
