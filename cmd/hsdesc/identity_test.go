// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func testKDFParams() kdfParams {
	// Minimal-but-nonzero difficulty so the tests run fast; production
	// use would pick the defaults main.go sets for keygen.
	return kdfParams{Time: 1, Memory: 8}
}

func TestIdentityRoundTrip(t *testing.T) {
	var pkBuf, skBuf bytes.Buffer
	passphrase := []byte("correct horse battery staple")
	fp, err := generateIdentity(rand.Reader, &pkBuf, &skBuf, passphrase, testKDFParams(), "test identity")
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}
	if fp == "" {
		t.Fatalf("empty fingerprint")
	}

	pub, err := readIdentityPublicKey(bytes.NewReader(pkBuf.Bytes()))
	if err != nil {
		t.Fatalf("readIdentityPublicKey: %v", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		t.Fatalf("public key has length %d, want %d", len(pub), ed25519.PublicKeySize)
	}

	priv, kf, err := openIdentitySecretKey(bytes.NewReader(skBuf.Bytes()), passphrase)
	if err != nil {
		t.Fatalf("openIdentitySecretKey: %v", err)
	}
	if kf.Fingerprint != fp {
		t.Fatalf("fingerprint mismatch: got %q want %q", kf.Fingerprint, fp)
	}
	if kf.Comment != "test identity" {
		t.Fatalf("comment mismatch: got %q", kf.Comment)
	}
	if !bytes.Equal(priv.Public().(ed25519.PublicKey), pub) {
		t.Fatalf("secret key's public half does not match the public keyfile")
	}

	msg := []byte("a message signed by the recovered identity key")
	sig := ed25519.Sign(priv, msg)
	if !ed25519.Verify(pub, msg, sig) {
		t.Fatalf("signature under recovered secret key does not verify against public keyfile")
	}
}

func TestIdentityWrongPassphraseRejectedBeforeUnseal(t *testing.T) {
	var pkBuf, skBuf bytes.Buffer
	_, err := generateIdentity(rand.Reader, &pkBuf, &skBuf, []byte("right passphrase"), testKDFParams(), "")
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}

	_, _, err = openIdentitySecretKey(bytes.NewReader(skBuf.Bytes()), []byte("wrong passphrase"))
	if err == nil {
		t.Fatalf("openIdentitySecretKey: expected an error for a wrong passphrase")
	}
	if err.Error() != "hsdesc: incorrect passphrase" {
		t.Fatalf("openIdentitySecretKey: got %v, want the poly1305 KDF-parameter check to reject it", err)
	}
}

func TestIdentityTamperedKeyfileRejected(t *testing.T) {
	var pkBuf, skBuf bytes.Buffer
	passphrase := []byte("a passphrase")
	_, err := generateIdentity(rand.Reader, &pkBuf, &skBuf, passphrase, testKDFParams(), "")
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}

	tampered := bytes.Replace(skBuf.Bytes(), []byte("comment: \n"), []byte("comment: x\n"), 1)
	if bytes.Equal(tampered, skBuf.Bytes()) {
		t.Fatalf("tampering did not change the keyfile")
	}
	_, _, err = openIdentitySecretKey(bytes.NewReader(tampered), passphrase)
	if err == nil {
		t.Fatalf("openIdentitySecretKey: expected an error after tampering with the associated data")
	}
}
