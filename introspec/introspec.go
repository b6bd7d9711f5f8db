// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package introspec encodes and decodes a single introduction-point
// record: link specifiers, an authentication-key certificate, and an
// encryption key that is either a curve25519 "ntor" key (certified by an
// enc-key-certification cert) or a legacy RSA key (bound by a
// cross-certificate). The curve25519 handling is grounded on the
// X25519 ECDH wrapping in kem/x25519sntrup4591761.go; the
// legacy RSA/PEM handling is grounded on onionutil's oniondesc.go.
package introspec

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jrick/hsdesc3/cert"
	"github.com/jrick/hsdesc3/internal/armor"
	"github.com/jrick/hsdesc3/internal/textdoc"
	"github.com/jrick/hsdesc3/linkspec"
)

const (
	directiveIntroPoint   = "introduction-point"
	directiveAuthKey      = "auth-key"
	directiveEncKey       = "enc-key"
	directiveEncKeyCert   = "enc-key-certification"
	encKeyVariantNtor     = "ntor"
	encKeyVariantLegacy   = "legacy"
	pemKindCert           = "ED25519 CERT"
	pemKindRSAPublicKey   = "RSA PUBLIC KEY"
	pemKindCrossCert      = "CROSSCERT"
)

// Errors surfaced while decoding an introduction-point record. A failure
// anywhere in a record rejects that record; the inner codec wraps the
// error with inner.ErrBadIntroPoint and fails the whole section.
var (
	ErrMalformed         = errors.New("introspec: malformed introduction point")
	ErrUnknownKeyType    = errors.New("introspec: unknown enc-key variant")
	ErrDuplicateField    = errors.New("introspec: duplicate sub-directive")
)

// EncKeyVariant distinguishes the two encryption-key shapes an
// introduction point may carry.
type EncKeyVariant int

const (
	// EncKeyNtor is a curve25519 public key, certified by EncKeyCert.
	EncKeyNtor EncKeyVariant = iota
	// EncKeyLegacy is an RSA-1024 public key, bound by CrossCert
	// instead of an Ed25519 certificate.
	EncKeyLegacy
)

// IntroductionPoint is one parsed or constructed introduction-point
// record.
type IntroductionPoint struct {
	LinkSpecifiers []linkspec.Spec
	AuthKeyCert    *cert.Cert

	EncKeyVariant EncKeyVariant
	NtorKey       []byte // 32 raw bytes, set when EncKeyVariant == EncKeyNtor
	LegacyKey     *rsa.PublicKey

	// EncKeyCert is set when EncKeyVariant == EncKeyNtor (cert.PurposeEncKey).
	EncKeyCert *cert.Cert
	// CrossCert is set when EncKeyVariant == EncKeyLegacy.
	CrossCert *cert.CrossCert
}

// Encode serializes ip as the lines of an introduction-point record, in
// the fixed order a decoder requires.
func Encode(ip *IntroductionPoint) ([]byte, error) {
	lsBytes, err := linkspec.Encode(ip.LinkSpecifiers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var out []byte
	out = append(out, []byte(directiveIntroPoint+" "+base64.RawStdEncoding.EncodeToString(lsBytes)+"\n")...)

	if ip.AuthKeyCert == nil {
		return nil, fmt.Errorf("%w: missing auth-key certificate", ErrMalformed)
	}
	out = append(out, []byte(directiveAuthKey+"\n")...)
	out = append(out, armor.Encode(pemKindCert, ip.AuthKeyCert.Encode())...)

	switch ip.EncKeyVariant {
	case EncKeyNtor:
		if len(ip.NtorKey) != 32 {
			return nil, fmt.Errorf("%w: ntor key has length %d", ErrMalformed, len(ip.NtorKey))
		}
		out = append(out, []byte(directiveEncKey+" "+encKeyVariantNtor+" "+base64.RawStdEncoding.EncodeToString(ip.NtorKey)+"\n")...)
		if ip.EncKeyCert == nil {
			return nil, fmt.Errorf("%w: missing enc-key certification", ErrMalformed)
		}
		out = append(out, []byte(directiveEncKeyCert+"\n")...)
		out = append(out, armor.Encode(pemKindCert, ip.EncKeyCert.Encode())...)
	case EncKeyLegacy:
		if ip.LegacyKey == nil {
			return nil, fmt.Errorf("%w: missing legacy enc-key", ErrMalformed)
		}
		out = append(out, []byte(directiveEncKey+" "+encKeyVariantLegacy+"\n")...)
		der := x509.MarshalPKCS1PublicKey(ip.LegacyKey)
		out = append(out, armor.Encode(pemKindRSAPublicKey, der)...)
		if ip.CrossCert == nil {
			return nil, fmt.Errorf("%w: missing cross-certificate", ErrMalformed)
		}
		out = append(out, []byte(directiveEncKeyCert+"\n")...)
		ccBytes := encodeCrossCert(ip.CrossCert)
		out = append(out, armor.Encode(pemKindCrossCert, ccBytes)...)
	default:
		return nil, fmt.Errorf("%w: unknown variant %d", ErrUnknownKeyType, ip.EncKeyVariant)
	}
	return out, nil
}

func encodeCrossCert(cc *cert.CrossCert) []byte {
	var buf [4]byte
	hours := cc.Expiration.Unix() / 3600
	if r := cc.Expiration.Unix() % 3600; r != 0 {
		hours++
	}
	buf[0] = byte(hours >> 24)
	buf[1] = byte(hours >> 16)
	buf[2] = byte(hours >> 8)
	buf[3] = byte(hours)
	return append(buf[:], cc.Signature...)
}

func decodeCrossCert(data []byte) (*cert.CrossCert, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: cross-certificate too short", ErrMalformed)
	}
	hours := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	return &cert.CrossCert{
		Expiration: time.Unix(int64(hours)*3600, 0).UTC(),
		Signature:  append([]byte(nil), data[4:]...),
	}, nil
}

// Decode parses one introduction-point record starting at the cursor's
// current position, consuming exactly the lines (and armored blocks)
// that belong to it. Decoding order within a record is fixed;
// duplicate sub-directives or any malformed/missing/invalid
// sub-directive reject the whole record without partial state.
// blindedPub is the descriptor's blinded identity key, needed to
// authenticate a legacy enc-key's cross-certificate.
func Decode(c *textdoc.Cursor, sigKey, blindedPub ed25519.PublicKey, now time.Time) (*IntroductionPoint, error) {
	guard := textdoc.NewDuplicateGuard()

	ipLine, err := c.RequireKeyword(directiveIntroPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := guard.See(directiveIntroPoint); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateField, err)
	}
	lsRaw, err := base64.RawStdEncoding.DecodeString(ipLine.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: link specifier base64: %v", ErrMalformed, err)
	}
	specs, err := linkspec.Decode(lsRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ip := &IntroductionPoint{LinkSpecifiers: specs}

	if _, err := c.RequireKeyword(directiveAuthKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := guard.See(directiveAuthKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateField, err)
	}
	authCertBytes, consumed, err := consumeBlock(c, pemKindCert)
	if err != nil {
		return nil, fmt.Errorf("%w: auth-key: %v", ErrMalformed, err)
	}
	_ = consumed
	authCert, err := cert.Parse(authCertBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: auth-key: %v", ErrMalformed, err)
	}
	if err := authCert.Verify(cert.PurposeAuthKey, nil, sigKey, now); err != nil {
		return nil, err
	}
	ip.AuthKeyCert = authCert

	encLine, err := c.RequireKeyword(directiveEncKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := guard.See(directiveEncKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateField, err)
	}
	variant, rest, ok := cutFirstField(encLine.Args)
	if !ok {
		return nil, fmt.Errorf("%w: enc-key missing variant", ErrMalformed)
	}

	switch variant {
	case encKeyVariantNtor:
		ip.EncKeyVariant = EncKeyNtor
		key, err := base64.RawStdEncoding.DecodeString(rest)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("%w: ntor key", ErrMalformed)
		}
		if _, err := ecdh.X25519().NewPublicKey(key); err != nil {
			return nil, fmt.Errorf("%w: ntor key: %v", ErrMalformed, err)
		}
		ip.NtorKey = key

		if _, err := c.RequireKeyword(directiveEncKeyCert); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := guard.See(directiveEncKeyCert); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateField, err)
		}
		certBytes, _, err := consumeBlock(c, pemKindCert)
		if err != nil {
			return nil, fmt.Errorf("%w: enc-key-certification: %v", ErrMalformed, err)
		}
		encCert, err := cert.Parse(certBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: enc-key-certification: %v", ErrMalformed, err)
		}
		if err := encCert.Verify(cert.PurposeEncKey, ed25519.PublicKey(key), sigKey, now); err != nil {
			return nil, err
		}
		ip.EncKeyCert = encCert

	case encKeyVariantLegacy:
		ip.EncKeyVariant = EncKeyLegacy
		der, _, err := consumeBlock(c, pemKindRSAPublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: legacy enc-key: %v", ErrMalformed, err)
		}
		pub, err := x509.ParsePKCS1PublicKey(der)
		if err != nil {
			return nil, fmt.Errorf("%w: legacy enc-key: %v", ErrMalformed, err)
		}
		ip.LegacyKey = pub

		if _, err := c.RequireKeyword(directiveEncKeyCert); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := guard.See(directiveEncKeyCert); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateField, err)
		}
		ccBytes, _, err := consumeBlock(c, pemKindCrossCert)
		if err != nil {
			return nil, fmt.Errorf("%w: cross-certificate: %v", ErrMalformed, err)
		}
		cc, err := decodeCrossCert(ccBytes)
		if err != nil {
			return nil, err
		}
		verifyRSA := func(digest, sig []byte) error {
			return rsa.VerifyPKCS1v15(pub, crypto.Hash(0), digest, sig)
		}
		if err := cert.VerifyCrossCert(cc, blindedPub, now, verifyRSA); err != nil {
			return nil, err
		}
		ip.CrossCert = cc

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyType, variant)
	}

	return ip, nil
}

// consumeBlock reads the armored block beginning at the cursor's current
// raw position. Because textdoc.Cursor operates on already-split lines
// rather than raw bytes, the block is rejoined from its constituent
// lines before being handed to armor.Decode, and the cursor is advanced
// past every line the block occupied.
func consumeBlock(c *textdoc.Cursor, kind string) ([]byte, int, error) {
	var buf []byte
	start := true
	consumedLines := 0
	for {
		l, ok := c.Next()
		if !ok {
			return nil, 0, fmt.Errorf("unterminated PEM block")
		}
		consumedLines++
		line := l.Keyword
		if l.Args != "" {
			line += " " + l.Args
		}
		buf = append(buf, []byte(line+"\n")...)
		if start {
			start = false
		}
		if len(line) >= 9 && line[:5] == "-----" && hasSuffix(line, "-----") && hasPrefix(line, "-----END ") {
			break
		}
	}
	_, decoded, _, err := armor.Decode(buf, kind)
	if err != nil {
		return nil, 0, err
	}
	return decoded, consumedLines, nil
}

func hasPrefix(s, p string) bool {
	return len(s) >= len(p) && s[:len(p)] == p
}

func hasSuffix(s, suf string) bool {
	return len(s) >= len(suf) && s[len(s)-len(suf):] == suf
}

func cutFirstField(s string) (first, rest string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i], s[i+1:], true
		}
	}
	if s == "" {
		return "", "", false
	}
	return s, "", true
}
