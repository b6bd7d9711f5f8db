// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package descriptor implements the outer (plaintext) descriptor codec
// and the top-level validation orchestrator: it sequences the
// certificate, introduction-point, link-specifier, and crypto-envelope
// layers into the two external operations surrounding code actually
// calls, Encode and Decode.
package descriptor

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jrick/hsdesc3/cert"
	"github.com/jrick/hsdesc3/envelope"
	"github.com/jrick/hsdesc3/inner"
	"github.com/jrick/hsdesc3/internal/armor"
	"github.com/jrick/hsdesc3/internal/textdoc"
	"github.com/jrick/hsdesc3/introspec"
	"github.com/jrick/hsdesc3/linkspec"
)

const (
	// MinVersion and MaxVersion bound the inclusive supported hs-descriptor
	// version range. Only one version is defined at time of writing.
	MinVersion = 3
	MaxVersion = 3

	// MaxLifetimeMinutes is the inclusive upper bound on descriptor-lifetime,
	// bounded to 12 hours.
	MaxLifetimeMinutes = 720

	// MaxDescriptorLen is the maximum encoded descriptor size.
	MaxDescriptorLen = 50 * 1024

	pemKindCert    = "ED25519 CERT"
	pemKindMessage = "MESSAGE"

	directiveVersion  = "hs-descriptor"
	directiveLifetime = "descriptor-lifetime"
	directiveSignCert = "descriptor-signing-key-cert"
	directiveRevision = "revision-counter"
	directiveEncrypted = "encrypted"
	directiveSignature = "signature"

	// sigDomainSeparator is mixed into the signed range so a signature
	// computed under this format can never be mistaken for a signature
	// over an unrelated document.
	sigDomainSeparator = "hsdesc3-descriptor-sig-v3"
)

// IsSupportedVersion reports whether v is a version this codec can decode.
func IsSupportedVersion(v int) bool {
	return v >= MinVersion && v <= MaxVersion
}

// EncryptedDataLengthIsValid reports whether n is a valid encrypted blob
// length, delegated to the crypto envelope that actually owns the length
// rule.
func EncryptedDataLengthIsValid(n int) bool {
	return envelope.EncryptedDataLengthIsValid(n)
}

// Clock abstracts "now" behind a caller-injected, thread-safe source of
// the current time, trimmed to the single method this purely synchronous
// codec needs (no After/Sleep/Ticker, since the codec never suspends).
type Clock interface {
	Now() time.Time
}

// RealClock returns the wall-clock time via time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// Descriptor is a constructed or decoded onion-service descriptor.
type Descriptor struct {
	Version         int
	LifetimeMinutes int
	RevisionCounter uint64

	SigningPub  ed25519.PublicKey
	SigningPriv ed25519.PrivateKey // set only when this Descriptor will be encoded
	BlindedPub  ed25519.PublicKey
	BlindedPriv ed25519.PrivateKey // set only when this Descriptor will be encoded

	SigningKeyCert *cert.Cert

	Inner *inner.Section

	// encryptedBlob and signature are populated by Encode (on the
	// Descriptor passed in) and by Decode, and are never compared by
	// round-trip tests. They are unexported and have no accessor, so only
	// code inside this package can read them.
	encryptedBlob []byte
	signature     []byte
}

// NextRevision returns a monotonic successor to prev, the way a
// publisher composes revision-counter values across republications:
// monotonic per (service, blinded-key) pair. This is a pure function;
// the codec itself persists no state.
func NextRevision(prev uint64) uint64 {
	return prev + 1
}

// secretInput builds the crypto envelope's KDF input from the
// descriptor's blinded identity key. subcredential, when non-nil, is
// mixed in for the future client-authenticated decode path; the
// non-client-auth path always passes nil.
func secretInput(blindedPub ed25519.PublicKey, subcredential []byte) []byte {
	out := append([]byte(nil), blindedPub...)
	return append(out, subcredential...)
}

// Encode serializes d to the outer descriptor's armored text grammar.
// rand supplies the crypto envelope's salt. Sign-then-encrypt is
// forbidden by construction:
// the encrypted blob is always produced before the signature is computed.
func Encode(rand io.Reader, d *Descriptor) ([]byte, error) {
	if d.SigningPriv == nil || d.BlindedPriv == nil {
		return nil, newErr(KindMalformed, "encode requires signing and blinded private keys", nil)
	}
	if !IsSupportedVersion(d.Version) {
		return nil, newErr(KindUnsupportedVersion, fmt.Sprintf("version %d outside [%d,%d]", d.Version, MinVersion, MaxVersion), nil)
	}
	if d.LifetimeMinutes <= 0 || d.LifetimeMinutes > MaxLifetimeMinutes {
		return nil, newErr(KindMalformed, fmt.Sprintf("lifetime %d outside (0,%d]", d.LifetimeMinutes, MaxLifetimeMinutes), nil)
	}
	if d.Inner == nil {
		return nil, newErr(KindMalformed, "missing inner section", nil)
	}
	if d.SigningKeyCert == nil {
		return nil, newErr(KindMalformed, "missing signing-key certificate", nil)
	}

	plaintext, err := inner.Encode(d.Inner)
	if err != nil {
		return nil, classify(err)
	}

	blob, err := envelope.Seal(rand, secretInput(d.BlindedPub, nil), plaintext)
	if err != nil {
		return nil, newErr(KindBadEnvelope, "seal", err)
	}
	d.encryptedBlob = blob

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d\n", directiveVersion, d.Version)
	fmt.Fprintf(&buf, "%s %d\n", directiveLifetime, d.LifetimeMinutes)
	buf.WriteString(directiveSignCert + "\n")
	buf.Write(armor.Encode(pemKindCert, d.SigningKeyCert.Encode()))
	fmt.Fprintf(&buf, "%s %d\n", directiveRevision, d.RevisionCounter)
	buf.WriteString(directiveEncrypted + "\n")
	buf.Write(armor.Encode(pemKindMessage, blob))

	signedRange := buf.Bytes()
	sig := ed25519.Sign(d.SigningPriv, append([]byte(sigDomainSeparator), signedRange...))
	d.signature = sig

	buf.WriteString(directiveSignature + " " + base64.RawStdEncoding.EncodeToString(sig) + "\n")

	if buf.Len() > MaxDescriptorLen {
		return nil, newErr(KindTooLarge, fmt.Sprintf("encoded descriptor is %d bytes, max %d", buf.Len(), MaxDescriptorLen), nil)
	}
	return buf.Bytes(), nil
}

// Decode parses and fully validates an armored descriptor document.
// subcredential is the optional client-side secret for
// the future client-authenticated path; nil selects the non-client-auth
// validation path, which is everything this codec currently implements.
// clock is the caller-injected source of "now" used for every
// certificate expiry check along the way.
func Decode(text []byte, subcredential []byte, clock Clock) (*Descriptor, error) {
	if len(text) > MaxDescriptorLen {
		return nil, newErr(KindTooLarge, fmt.Sprintf("input is %d bytes, max %d", len(text), MaxDescriptorLen), nil)
	}
	now := clock.Now()

	lines, err := textdoc.Tokenize(text)
	if err != nil {
		return nil, newErr(KindMalformed, "tokenize", err)
	}
	c := textdoc.NewCursor(lines)

	// outerParsed: version, lifetime, signing-key-cert, revision-counter,
	// encrypted blob, each required exactly once and in this order.
	verLine, err := c.RequireKeyword(directiveVersion)
	if err != nil {
		return nil, newErr(KindMalformed, "hs-descriptor", err)
	}
	version, err := parseNonNegativeInt(verLine.Args)
	if err != nil {
		return nil, newErr(KindMalformed, "hs-descriptor: "+err.Error(), nil)
	}
	if !IsSupportedVersion(version) {
		return nil, newErr(KindUnsupportedVersion, fmt.Sprintf("version %d outside [%d,%d]", version, MinVersion, MaxVersion), nil)
	}

	lifeLine, err := c.RequireKeyword(directiveLifetime)
	if err != nil {
		return nil, newErr(KindMalformed, "descriptor-lifetime", err)
	}
	lifetime, err := parseNonNegativeInt(lifeLine.Args)
	if err != nil {
		return nil, newErr(KindMalformed, "descriptor-lifetime: "+err.Error(), nil)
	}
	if lifetime <= 0 || lifetime > MaxLifetimeMinutes {
		return nil, newErr(KindMalformed, fmt.Sprintf("lifetime %d outside (0,%d]", lifetime, MaxLifetimeMinutes), nil)
	}

	if _, err := c.RequireKeyword(directiveSignCert); err != nil {
		return nil, newErr(KindMalformed, "descriptor-signing-key-cert", err)
	}
	certBlock, err := c.ConsumeArmoredBlock()
	if err != nil {
		return nil, newErr(KindMalformed, "descriptor-signing-key-cert block", err)
	}
	_, certDER, _, err := armor.Decode(certBlock, pemKindCert)
	if err != nil {
		return nil, newErr(KindMalformed, "descriptor-signing-key-cert armor", err)
	}
	signingCert, err := cert.Parse(certDER)
	if err != nil {
		return nil, newErr(KindBadCertificate, "descriptor-signing-key-cert", err)
	}

	revLine, err := c.RequireKeyword(directiveRevision)
	if err != nil {
		return nil, newErr(KindMalformed, "revision-counter", err)
	}
	revision, err := strconv.ParseUint(revLine.Args, 10, 64)
	if err != nil {
		return nil, newErr(KindMalformed, "revision-counter: "+err.Error(), nil)
	}

	if _, err := c.RequireKeyword(directiveEncrypted); err != nil {
		return nil, newErr(KindMalformed, "encrypted", err)
	}
	encBlock, err := c.ConsumeArmoredBlock()
	if err != nil {
		return nil, newErr(KindMalformed, "encrypted block", err)
	}
	_, blob, _, err := armor.Decode(encBlock, pemKindMessage)
	if err != nil {
		return nil, newErr(KindMalformed, "encrypted armor", err)
	}

	sigLine, err := c.RequireKeyword(directiveSignature)
	if err != nil {
		return nil, newErr(KindMalformed, "signature", err)
	}
	if !c.Done() {
		return nil, newErr(KindMalformed, "content after signature line", nil)
	}
	sig, err := base64.RawStdEncoding.DecodeString(sigLine.Args)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, newErr(KindBadSignature, "signature: invalid base64 or length", nil)
	}

	// signatureVerified: the signed range is every byte up to and
	// including the newline before "signature ". Recompute it exactly
	// as Encode did: the whole
	// document minus the trailing "signature ...\n" line.
	sigLineBytes := []byte(directiveSignature + " " + sigLine.Args + "\n")
	if !bytes.HasSuffix(text, sigLineBytes) {
		return nil, newErr(KindMalformed, "signature line framing", nil)
	}
	signedRange := text[:len(text)-len(sigLineBytes)]

	// The outer grammar carries no separate signing-key field: the
	// signing-key-cert's subject is taken as the signing key under which
	// the descriptor signature itself must verify.
	signingPub := ed25519.PublicKey(append([]byte(nil), signingCert.Subject...))
	if err := signingCert.Verify(cert.PurposeSigningKey, nil, nil, now); err != nil {
		return nil, classify(err)
	}
	if !ed25519.Verify(signingPub, append([]byte(sigDomainSeparator), signedRange...), sig) {
		return nil, newErr(KindBadSignature, "descriptor signature", nil)
	}

	// envelopeOpened
	plaintext, err := envelope.Open(secretInput(signingCert.SigningKey, subcredential), blob)
	if err != nil {
		return nil, newErr(KindBadEnvelope, "envelope open", err)
	}

	// innerParsed
	sec, err := inner.Decode(plaintext, signingPub, signingCert.SigningKey, now)
	if err != nil {
		return nil, classify(err)
	}

	// done
	return &Descriptor{
		Version:         version,
		LifetimeMinutes: lifetime,
		RevisionCounter: revision,
		SigningPub:      signingPub,
		BlindedPub:      signingCert.SigningKey,
		SigningKeyCert:  signingCert,
		Inner:           sec,
		encryptedBlob:   blob,
		signature:       sig,
	}, nil
}

func parseNonNegativeInt(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty integer")
	}
	if s[0] == '0' && len(s) > 1 {
		return 0, fmt.Errorf("leading zero in %q", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid integer %q", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// classify maps an error surfaced by a lower layer (cert, introspec,
// linkspec, inner, envelope) onto this package's Kind taxonomy, so every
// path out of Decode/Encode carries a *Error a caller can switch on.
func classify(err error) error {
	switch {
	case errors.Is(err, cert.ErrExpired):
		return newErr(KindExpired, "certificate expired", err)
	case errors.Is(err, cert.ErrWrongPurpose),
		errors.Is(err, cert.ErrMissingSigningKeyExtension),
		errors.Is(err, cert.ErrSubjectMismatch),
		errors.Is(err, cert.ErrBadSignature):
		return newErr(KindBadCertificate, "certificate validation", err)
	case errors.Is(err, cert.ErrMalformed):
		return newErr(KindBadCertificate, "certificate framing", err)
	case errors.Is(err, introspec.ErrUnknownKeyType), errors.Is(err, inner.ErrUnknownKeyType):
		return newErr(KindUnknownKeyType, "enc-key variant", err)
	case errors.Is(err, inner.ErrBadIntroPoint):
		return newErr(KindBadIntroPoint, "introduction point", err)
	case errors.Is(err, linkspec.ErrNoneUsable), errors.Is(err, linkspec.ErrDuplicateType),
		errors.Is(err, linkspec.ErrTooMany), errors.Is(err, linkspec.ErrMalformed):
		return newErr(KindBadIntroPoint, "link specifiers", err)
	case errors.Is(err, envelope.ErrBadLength), errors.Is(err, envelope.ErrBadMAC):
		return newErr(KindBadEnvelope, "crypto envelope", err)
	default:
		return newErr(KindMalformed, "decode", err)
	}
}
