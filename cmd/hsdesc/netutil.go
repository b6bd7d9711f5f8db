// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"crypto/ecdh"
	"crypto/rand"
	"net"
)

// splitHostPort parses "host:port", a CLI-input boundary concern with
// no domain-specific library in the examined corpus, so it is the one
// place this command reaches directly for net's stdlib helper.
func splitHostPort(hostport string) (host, port string, err error) {
	return net.SplitHostPort(hostport)
}

func parseIPv4(host string) *[4]byte {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}
	var out [4]byte
	copy(out[:], ip4)
	return &out
}

func parseIPv6(host string) *[16]byte {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if ip.To4() != nil {
		return nil
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return nil
	}
	var out [16]byte
	copy(out[:], ip16)
	return &out
}

// generateX25519PublicKey generates an ephemeral curve25519 keypair and
// returns only the 32-byte public half, the way a service would mint a
// fresh ntor encryption key for each introduction point. Grounded on
// the same crypto/ecdh X25519 wrapping introspec.go uses to validate
// ntor keys structurally.
func generateX25519PublicKey() ([]byte, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return priv.PublicKey().Bytes(), nil
}
