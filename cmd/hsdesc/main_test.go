// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/jrick/hsdesc3/introspec"
	"github.com/jrick/hsdesc3/linkspec"
)

func TestBuildIntroPointIPv4(t *testing.T) {
	_, signingPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	expiry := time.Now().Add(time.Hour)

	ip, err := buildIntroPoint(signingPriv, "203.0.113.1:9001", expiry)
	if err != nil {
		t.Fatalf("buildIntroPoint: %v", err)
	}
	if len(ip.LinkSpecifiers) != 1 || ip.LinkSpecifiers[0].Type != linkspec.TypeIPv4 {
		t.Fatalf("unexpected link specifiers: %+v", ip.LinkSpecifiers)
	}
	if ip.EncKeyVariant != introspec.EncKeyNtor {
		t.Fatalf("got enc-key variant %v, want EncKeyNtor", ip.EncKeyVariant)
	}
	if len(ip.NtorKey) != 32 {
		t.Fatalf("ntor key has length %d, want 32", len(ip.NtorKey))
	}
	if ip.AuthKeyCert == nil || ip.EncKeyCert == nil {
		t.Fatalf("missing certificate on constructed introduction point")
	}
}

func TestBuildIntroPointIPv6(t *testing.T) {
	_, signingPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	expiry := time.Now().Add(time.Hour)

	ip, err := buildIntroPoint(signingPriv, "[2001:db8::1]:9001", expiry)
	if err != nil {
		t.Fatalf("buildIntroPoint: %v", err)
	}
	if len(ip.LinkSpecifiers) != 1 || ip.LinkSpecifiers[0].Type != linkspec.TypeIPv6 {
		t.Fatalf("unexpected link specifiers: %+v", ip.LinkSpecifiers)
	}
}

func TestBuildIntroPointRejectsHostname(t *testing.T) {
	_, signingPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	_, err = buildIntroPoint(signingPriv, "relay.example.org:9001", time.Now().Add(time.Hour))
	if err == nil {
		t.Fatalf("buildIntroPoint: expected an error for a non-literal hostname")
	}
}
