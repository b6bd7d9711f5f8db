// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package descriptor

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jrick/hsdesc3/cert"
	"github.com/jrick/hsdesc3/inner"
	"github.com/jrick/hsdesc3/internal/armor"
	"github.com/jrick/hsdesc3/introspec"
	"github.com/jrick/hsdesc3/linkspec"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func pemEncodeCert(c *cert.Cert) []byte {
	return armor.Encode("ED25519 CERT", c.Encode())
}

// buildTestDescriptor constructs a fully valid Descriptor with nIntro
// introduction points, a minimal golden fixture for round-trip tests.
func buildTestDescriptor(t *testing.T, nIntro int) (*Descriptor, ed25519.PrivateKey) {
	t.Helper()
	_, identityPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	blindedPriv, blindedPub, err := cert.DeriveBlindedKey(identityPriv, 1, 1)
	if err != nil {
		t.Fatalf("DeriveBlindedKey: %v", err)
	}
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	expiry := time.Now().Add(24 * time.Hour)
	signCert, err := cert.New(blindedPriv, cert.PurposeSigningKey, signPub, expiry)
	if err != nil {
		t.Fatalf("cert.New: %v", err)
	}

	sec := &inner.Section{CreateHandshakes: []inner.HandshakeID{inner.HandshakeNtorV3}}
	for i := 0; i < nIntro; i++ {
		ntorPub, _, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		authPub, _, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		authCert, err := cert.New(signPriv, cert.PurposeAuthKey, authPub, expiry)
		if err != nil {
			t.Fatalf("cert.New auth: %v", err)
		}
		encCert, err := cert.New(signPriv, cert.PurposeEncKey, ntorPub, expiry)
		if err != nil {
			t.Fatalf("cert.New enc: %v", err)
		}
		sec.IntroPoints = append(sec.IntroPoints, &introspec.IntroductionPoint{
			LinkSpecifiers: []linkspec.Spec{linkspec.NewIPv4([4]byte{1, 2, 3, 4}, 9001 + uint16(i))},
			AuthKeyCert:    authCert,
			EncKeyVariant:  introspec.EncKeyNtor,
			NtorKey:        []byte(ntorPub),
			EncKeyCert:     encCert,
		})
	}

	d := &Descriptor{
		Version:         MaxVersion,
		LifetimeMinutes: 180,
		RevisionCounter: 42,
		SigningPub:      signPub,
		SigningPriv:     signPriv,
		BlindedPub:      blindedPub,
		BlindedPriv:     blindedPriv,
		SigningKeyCert:  signCert,
		Inner:           sec,
	}
	return d, identityPriv
}

// Scenario 1: round trip with a mix of introduction points.
func TestScenario1RoundTrip(t *testing.T) {
	_, identityPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	blindedPriv, blindedPub, err := cert.DeriveBlindedKey(identityPriv, 1, 1)
	if err != nil {
		t.Fatalf("DeriveBlindedKey: %v", err)
	}
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	expiry := time.Now().Add(24 * time.Hour)
	signCert, err := cert.New(blindedPriv, cert.PurposeSigningKey, signPub, expiry)
	if err != nil {
		t.Fatalf("cert.New: %v", err)
	}

	mkAuthEnc := func() (*cert.Cert, ed25519.PublicKey, *cert.Cert) {
		authPub, _, _ := ed25519.GenerateKey(rand.Reader)
		authCert, err := cert.New(signPriv, cert.PurposeAuthKey, authPub, expiry)
		if err != nil {
			t.Fatalf("cert.New auth: %v", err)
		}
		ntorPub, _, _ := ed25519.GenerateKey(rand.Reader)
		encCert, err := cert.New(signPriv, cert.PurposeEncKey, ntorPub, expiry)
		if err != nil {
			t.Fatalf("cert.New enc: %v", err)
		}
		return authCert, ntorPub, encCert
	}

	auth1, ntor1, enc1 := mkAuthEnc()
	auth2, ntor2, enc2 := mkAuthEnc()
	auth3, ntor3, enc3 := mkAuthEnc()

	var legacyID [20]byte
	copy(legacyID[:], []byte{0x02, 0x99, 0xF2, 0x68, 0xFC, 0xA9, 0xD5, 0x5C, 0xD1, 0x57, 0x97, 0x6D, 0x39, 0xAE, 0x92, 0xB4, 0xB4, 0x55, 0xB3, 0xA8})

	auth4, _, _ := mkAuthEnc()
	legacyPriv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	ccDigest := cert.CrossCertDigest(blindedPub, expiry)
	ccSig, err := rsa.SignPKCS1v15(rand.Reader, legacyPriv, 0, ccDigest[:])
	if err != nil {
		t.Fatalf("SignPKCS1v15: %v", err)
	}

	sec := &inner.Section{
		CreateHandshakes: []inner.HandshakeID{inner.HandshakeNtorV3},
		IntroPoints: []*introspec.IntroductionPoint{
			{
				LinkSpecifiers: []linkspec.Spec{linkspec.NewIPv4([4]byte{1, 2, 3, 4}, 9001)},
				AuthKeyCert:    auth1,
				EncKeyVariant:  introspec.EncKeyNtor,
				NtorKey:        []byte(ntor1),
				EncKeyCert:     enc1,
			},
			{
				LinkSpecifiers: []linkspec.Spec{linkspec.NewIPv6([16]byte{0x26, 0x00}, 9001)},
				AuthKeyCert:    auth2,
				EncKeyVariant:  introspec.EncKeyNtor,
				NtorKey:        []byte(ntor2),
				EncKeyCert:     enc2,
			},
			{
				LinkSpecifiers: []linkspec.Spec{linkspec.NewLegacyID(legacyID)},
				AuthKeyCert:    auth3,
				EncKeyVariant:  introspec.EncKeyNtor,
				NtorKey:        []byte(ntor3),
				EncKeyCert:     enc3,
			},
			{
				LinkSpecifiers: []linkspec.Spec{linkspec.NewIPv4([4]byte{5, 6, 7, 8}, 9004)},
				AuthKeyCert:    auth4,
				EncKeyVariant:  introspec.EncKeyLegacy,
				LegacyKey:      &legacyPriv.PublicKey,
				CrossCert:      &cert.CrossCert{Expiration: expiry, Signature: ccSig},
			},
		},
	}

	d := &Descriptor{
		Version:         MaxVersion,
		LifetimeMinutes: 180,
		RevisionCounter: 42,
		SigningPub:      signPub,
		SigningPriv:     signPriv,
		BlindedPub:      blindedPub,
		BlindedPriv:     blindedPriv,
		SigningKeyCert:  signCert,
		Inner:           sec,
	}

	encoded, err := Encode(rand.Reader, d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(encoded, nil, RealClock{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Version != d.Version || decoded.LifetimeMinutes != d.LifetimeMinutes || decoded.RevisionCounter != d.RevisionCounter {
		t.Fatalf("scalar fields did not round-trip: %+v", decoded)
	}
	if len(decoded.Inner.IntroPoints) != 4 {
		t.Fatalf("got %d intro points, want 4", len(decoded.Inner.IntroPoints))
	}
	legacyIP := decoded.Inner.IntroPoints[3]
	if legacyIP.EncKeyVariant != introspec.EncKeyLegacy {
		t.Fatalf("got variant %v, want EncKeyLegacy", legacyIP.EncKeyVariant)
	}
	if legacyIP.LegacyKey == nil || legacyIP.LegacyKey.N.Cmp(legacyPriv.PublicKey.N) != 0 {
		t.Fatalf("legacy key did not round-trip end-to-end")
	}
}

// Scenario 2: garbage input.
func TestScenario2Garbage(t *testing.T) {
	_, err := Decode([]byte("hladfjlkjadf"), nil, RealClock{})
	var derr *Error
	if !errors.As(err, &derr) || derr.Kind != KindMalformed {
		t.Fatalf("Decode: got %v, want Malformed", err)
	}
}

// Scenario 3: unsupported version.
func TestScenario3UnsupportedVersion(t *testing.T) {
	d, _ := buildTestDescriptor(t, 1)
	encoded, err := Encode(rand.Reader, d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tampered := bytes.Replace(encoded, []byte("hs-descriptor 3\n"), []byte("hs-descriptor 42\n"), 1)
	if bytes.Equal(tampered, encoded) {
		t.Fatalf("version line substitution did not match")
	}
	_, err = Decode(tampered, nil, RealClock{})
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("Decode: got %v, want UnsupportedVersion", err)
	}
}

// Scenario 4: lifetime out of range.
func TestScenario4BadLifetime(t *testing.T) {
	d, _ := buildTestDescriptor(t, 1)
	encoded, err := Encode(rand.Reader, d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tampered := bytes.Replace(encoded, []byte("descriptor-lifetime 180\n"), []byte("descriptor-lifetime 7181615\n"), 1)
	if bytes.Equal(tampered, encoded) {
		t.Fatalf("lifetime line substitution did not match")
	}
	_, err = Decode(tampered, nil, RealClock{})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Decode: got %v, want Malformed", err)
	}
}

// Scenario 5: oversized input.
func TestScenario5TooLarge(t *testing.T) {
	big := bytes.Repeat([]byte("a"), 64000)
	_, err := Decode(big, nil, RealClock{})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Decode: got %v, want TooLarge", err)
	}
}

// Scenario 6: unknown enc-key variant.
func TestScenario6UnknownKeyType(t *testing.T) {
	d, _ := buildTestDescriptor(t, 1)
	_, err := Encode(rand.Reader, d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// The enc-key line lives inside the encrypted blob, so it cannot be
	// patched on the armored ciphertext directly; instead corrupt the
	// plaintext grammar before sealing and re-run the pipeline by hand.
	sec := d.Inner
	sec.IntroPoints[0].EncKeyVariant = introspec.EncKeyVariant(99)
	_, err = inner.Encode(sec)
	if err == nil {
		t.Fatalf("inner.Encode: expected error for unknown variant")
	}
	if !errors.Is(err, introspec.ErrUnknownKeyType) {
		t.Fatalf("inner.Encode: got %v, want ErrUnknownKeyType", err)
	}

	// Exercise the decode-side classification directly against a
	// hand-built inner plaintext carrying "enc-key unicorn".
	lsBytes, err := linkspec.Encode([]linkspec.Spec{linkspec.NewIPv4([4]byte{1, 2, 3, 4}, 9001)})
	if err != nil {
		t.Fatalf("linkspec.Encode: %v", err)
	}
	sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	authPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	authCert, err := cert.New(sigPriv, cert.PurposeAuthKey, authPub, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("cert.New: %v", err)
	}
	var buf bytes.Buffer
	buf.WriteString("create2-formats 2\n")
	fmt.Fprintf(&buf, "introduction-point %s\n", base64.RawStdEncoding.EncodeToString(lsBytes))
	buf.WriteString("auth-key\n")
	buf.Write([]byte(pemEncodeCert(authCert)))
	buf.WriteString("enc-key unicorn AAAA\n")

	_, err = inner.Decode(buf.Bytes(), sigPub, nil, time.Now())
	if !errors.Is(err, introspec.ErrUnknownKeyType) {
		t.Fatalf("inner.Decode: got %v, want ErrUnknownKeyType", err)
	}
}

// Scenario 7: zero introduction points.
func TestScenario7ZeroIntroPoints(t *testing.T) {
	d, _ := buildTestDescriptor(t, 0)
	encoded, err := Encode(rand.Reader, d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded, nil, RealClock{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Inner.IntroPoints) != 0 {
		t.Fatalf("got %d intro points, want 0", len(decoded.Inner.IntroPoints))
	}
	if len(decoded.Inner.CreateHandshakes) == 0 {
		t.Fatalf("create-handshake list is empty")
	}
}

// Property 5: version gate boundaries.
func TestVersionGateBoundaries(t *testing.T) {
	cases := []struct {
		v    int
		want bool
	}{
		{MinVersion - 1, false},
		{MinVersion, true},
		{MaxVersion, true},
		{MaxVersion + 1, false},
		{0, false},
		{42, false},
	}
	for _, c := range cases {
		if got := IsSupportedVersion(c.v); got != c.want {
			t.Errorf("IsSupportedVersion(%d) = %v, want %v", c.v, got, c.want)
		}
	}
}

// Property 6: certificate expiry monotonicity.
func TestCertExpiryMonotonicity(t *testing.T) {
	d, _ := buildTestDescriptor(t, 1)
	encoded, err := Encode(rand.Reader, d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	expiry := d.SigningKeyCert.Expiration

	if _, err := Decode(encoded, nil, fixedClock{expiry.Add(-time.Second)}); err != nil {
		t.Fatalf("Decode before expiry: %v", err)
	}
	if _, err := Decode(encoded, nil, fixedClock{expiry}); !errors.Is(err, ErrExpired) {
		t.Fatalf("Decode at expiry: got %v, want Expired", err)
	}
	if _, err := Decode(encoded, nil, fixedClock{expiry.Add(time.Second)}); !errors.Is(err, ErrExpired) {
		t.Fatalf("Decode after expiry: got %v, want Expired", err)
	}
}

// Property 7: signature adversarial property.
func TestSignatureAdversarialProperty(t *testing.T) {
	d, _ := buildTestDescriptor(t, 1)
	encoded, err := Encode(rand.Reader, d)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Flip a bit strictly before the signature line, inside a field that
	// still parses (revision-counter 42 becomes 52): BadSignature.
	flippedBody := append([]byte(nil), encoded...)
	revIdx := bytes.Index(flippedBody, []byte("revision-counter 42\n"))
	if revIdx < 0 {
		t.Fatalf("revision-counter line not found")
	}
	flippedBody[revIdx+len("revision-counter ")] ^= 0x01
	if _, err := Decode(flippedBody, nil, RealClock{}); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("flip before signature: got %v, want BadSignature", err)
	}

	// Flip a bit inside the signature token itself: BadSignature.
	flippedSig := append([]byte(nil), encoded...)
	flippedSig[len(flippedSig)-4] ^= 0x01
	if _, err := Decode(flippedSig, nil, RealClock{}); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("flip inside signature: got %v, want BadSignature", err)
	}

	// Append bytes strictly after the signature line: Malformed.
	appended := append(append([]byte(nil), encoded...), []byte("trailing-garbage\n")...)
	if _, err := Decode(appended, nil, RealClock{}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("append after signature: got %v, want Malformed", err)
	}
}
