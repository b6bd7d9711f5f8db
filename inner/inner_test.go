// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package inner

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/jrick/hsdesc3/cert"
	"github.com/jrick/hsdesc3/introspec"
	"github.com/jrick/hsdesc3/linkspec"
)

func buildIntroPoint(t *testing.T, sigKey ed25519.PrivateKey) *introspec.IntroductionPoint {
	t.Helper()
	ntorPub, _, err := ed25519.GenerateKey(rand.Reader) // stand-in 32-byte key
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	authPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	authCert, err := cert.New(sigKey, cert.PurposeAuthKey, authPub, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("cert.New: %v", err)
	}
	encCert, err := cert.New(sigKey, cert.PurposeEncKey, ntorPub, time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("cert.New: %v", err)
	}
	return &introspec.IntroductionPoint{
		LinkSpecifiers: []linkspec.Spec{linkspec.NewIPv4([4]byte{1, 2, 3, 4}, 9001)},
		AuthKeyCert:    authCert,
		EncKeyVariant:  introspec.EncKeyNtor,
		NtorKey:        []byte(ntorPub),
		EncKeyCert:     encCert,
	}
}

func TestRoundTripEmpty(t *testing.T) {
	_, sigKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s := &Section{CreateHandshakes: []HandshakeID{HandshakeNtorV3}}
	encoded, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded, sigKey.Public().(ed25519.PublicKey), nil, time.Now())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.IntroPoints) != 0 {
		t.Fatalf("got %d intro points, want 0", len(decoded.IntroPoints))
	}
	if len(decoded.CreateHandshakes) != 1 || decoded.CreateHandshakes[0] != HandshakeNtorV3 {
		t.Fatalf("unexpected handshakes: %v", decoded.CreateHandshakes)
	}
}

func TestRoundTripWithIntroPoints(t *testing.T) {
	sigPub, sigKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s := &Section{
		CreateHandshakes: []HandshakeID{HandshakeNtorV3},
		AuthTypes:        []string{"1", "2"},
		IntroPoints: []*introspec.IntroductionPoint{
			buildIntroPoint(t, sigKey),
			buildIntroPoint(t, sigKey),
		},
	}
	encoded, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded, sigPub, nil, time.Now())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.IntroPoints) != 2 {
		t.Fatalf("got %d intro points, want 2", len(decoded.IntroPoints))
	}
}

func TestUnknownEncKeyVariant(t *testing.T) {
	sigPub, sigKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ip := buildIntroPoint(t, sigKey)
	encoded, err := introspec.Encode(ip)
	if err != nil {
		t.Fatalf("introspec.Encode: %v", err)
	}
	// Corrupt the "ntor" variant token into something unrecognized.
	corrupted := []byte(replaceOnce(string(encoded), "enc-key ntor", "enc-key unicorn"))
	plaintext := append([]byte("create2-formats 2\n"), corrupted...)

	_, err = Decode(plaintext, sigPub, nil, time.Now())
	if !errors.Is(err, introspec.ErrUnknownKeyType) {
		t.Fatalf("Decode: got %v, want ErrUnknownKeyType", err)
	}
}

func replaceOnce(s, old, new string) string {
	i := indexOf(s, old)
	if i == -1 {
		return s
	}
	return s[:i] + new + s[i+len(old):]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
