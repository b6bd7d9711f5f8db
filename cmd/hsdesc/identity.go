// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

// Local keyfile protection for the long-term Ed25519 service identity
// key. The text keyfile grammar (first line identifies the file kind,
// "key: value" fields form the associated data, a blank line precedes
// the base64-encoded key material) and the Argon2id-derived secret-key
// sealing are adapted from the keyfile package's grammar. The
// poly1305 tag over the KDF parameters, checked before the full
// ChaCha20-Poly1305 unseal is even attempted, is adapted verbatim from
// stream.PassphraseHeader/Header.Tag.

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/poly1305"

	"github.com/jrick/hsdesc3/cert"
)

const identitySaltSize = 16

// kdfParams describes the difficulty parameters used when deriving a
// symmetric encryption key from a passphrase using the Argon2id KDF.
type kdfParams struct {
	Time   uint32
	Memory uint32
}

// identityFields describes identity keyfile fields that must be
// preserved when a key is reencrypted.
type identityFields struct {
	Comment     string
	Fingerprint string
}

// generateIdentity creates a random long-term Ed25519 service identity
// keypair, writing the public half to pkw and the Argon2id+ChaCha20-
// Poly1305-sealed secret half to skw. Cryptographically secure
// randomness is read from rnd.
func generateIdentity(rnd io.Reader, pkw, skw io.Writer, passphrase []byte, kdfp kdfParams, comment string) (fingerprint string, err error) {
	pub, priv, err := ed25519.GenerateKey(rnd)
	if err != nil {
		return "", err
	}
	fingerprint = cert.Fingerprint(pub)

	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "hsdesc identity public key\n")
	fmt.Fprintf(buf, "comment: %s\n", comment)
	fmt.Fprintf(buf, "cryptosystem: ed25519\n")
	fmt.Fprintf(buf, "fingerprint: %s\n", fingerprint)
	fmt.Fprintf(buf, "encoding: base64\n")
	fmt.Fprintf(buf, "\n")
	enc := base64.NewEncoder(base64.StdEncoding, buf)
	enc.Write(pub)
	enc.Close()
	fmt.Fprintf(buf, "\n")
	if _, err = io.Copy(pkw, buf); err != nil {
		return "", err
	}

	buf.Reset()
	kf := identityFields{Comment: comment, Fingerprint: fingerprint}
	if err = writeIdentitySecretKey(rnd, buf, priv, kf, passphrase, kdfp); err != nil {
		return "", err
	}
	if _, err = io.Copy(skw, buf); err != nil {
		return "", err
	}
	return fingerprint, nil
}

func writeIdentitySecretKey(rnd io.Reader, buf *bytes.Buffer, priv ed25519.PrivateKey, kf identityFields, passphrase []byte, kdfp kdfParams) error {
	salt := make([]byte, identitySaltSize)
	if _, err := io.ReadFull(rnd, salt); err != nil {
		return err
	}
	threads := uint8(min(runtime.NumCPU(), 256))

	// Derive a 64-byte Argon2id key: the first 32 bytes authenticate
	// the KDF parameters themselves (detecting a wrong passphrase
	// before the AEAD open is attempted), the last 32 bytes seal the
	// private key.
	idkey := argon2.IDKey(passphrase, salt, kdfp.Time, kdfp.Memory, threads, 64)
	kdfData := kdfParamBytes(salt, kdfp.Time, kdfp.Memory, threads)
	var polyKey [32]byte
	copy(polyKey[:], idkey[:32])
	var tag [16]byte
	poly1305.Sum(&tag, kdfData, &polyKey)

	fmt.Fprintf(buf, "hsdesc identity secret key\n")
	fmt.Fprintf(buf, "comment: %s\n", kf.Comment)
	fmt.Fprintf(buf, "cryptosystem: ed25519\n")
	fmt.Fprintf(buf, "fingerprint: %s\n", kf.Fingerprint)
	fmt.Fprintf(buf, "encryption: argon2id-chacha20-poly1305\n")
	fmt.Fprintf(buf, "argon2id-salt: %s\n", base64.StdEncoding.EncodeToString(salt))
	fmt.Fprintf(buf, "argon2id-time: %d\n", kdfp.Time)
	fmt.Fprintf(buf, "argon2id-memory: %d\n", kdfp.Memory)
	fmt.Fprintf(buf, "argon2id-threads: %d\n", threads)
	fmt.Fprintf(buf, "poly1305-tag: %s\n", base64.StdEncoding.EncodeToString(tag[:]))
	fmt.Fprintf(buf, "encoding: base64\n")
	// Everything above is Associated Data for the secret key seal.
	ad := append([]byte(nil), buf.Bytes()...)
	fmt.Fprintf(buf, "\n")

	aead, err := chacha20poly1305.New(idkey[32:])
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	sealed := aead.Seal(nil, nonce, priv, ad)
	enc := base64.NewEncoder(base64.StdEncoding, buf)
	enc.Write(sealed)
	enc.Close()
	fmt.Fprintf(buf, "\n")
	return nil
}

// kdfParamBytes is the exact byte layout poly1305 authenticates,
// mirroring stream.go's header[:17+9] slice (salt || time || memory ||
// threads, little-endian).
func kdfParamBytes(salt []byte, time, memory uint32, threads uint8) []byte {
	buf := make([]byte, len(salt)+4+4+1)
	copy(buf, salt)
	binary.LittleEndian.PutUint32(buf[len(salt):], time)
	binary.LittleEndian.PutUint32(buf[len(salt)+4:], memory)
	buf[len(salt)+8] = threads
	return buf
}

func readIdentityKeyFile(r io.Reader, firstLine string) (fields map[string]string, ad []byte, encodedKey string, err error) {
	fields = make(map[string]string)
	s := bufio.NewScanner(r)
	i := 0
	keyline := false
	adbuf := new(bytes.Buffer)
	for s.Scan() {
		line := s.Text()
		if len(line) > 0 && line[0] == '#' {
			continue
		}
		if keyline {
			encodedKey = line
			break
		}
		if i == 0 {
			if line != firstLine {
				return nil, nil, "", fmt.Errorf("first line does not match %q", firstLine)
			}
			fmt.Fprintf(adbuf, "%s\n", line)
			i++
			continue
		}
		if line == "" {
			keyline = true
			continue
		}
		const sep = ": "
		split := strings.Index(line, sep)
		if split == -1 {
			return nil, nil, "", errors.New("missing field separator")
		}
		k, v := line[:split], line[split+len(sep):]
		if _, ok := fields[k]; ok {
			return nil, nil, "", fmt.Errorf("duplicate field %q", k)
		}
		fields[k] = v
		fmt.Fprintf(adbuf, "%s\n", line)
	}
	return fields, adbuf.Bytes(), encodedKey, nil
}

func requireIdentityFields(fields, required map[string]string) error {
	for k, v := range required {
		if fields[k] != v {
			return fmt.Errorf("keyfile field %q must be %q, but is %q", k, v, fields[k])
		}
	}
	return nil
}

// readIdentityPublicKey reads an Ed25519 service identity public key in
// the keyfile format from r.
func readIdentityPublicKey(r io.Reader) (ed25519.PublicKey, error) {
	fields, _, encodedKey, err := readIdentityKeyFile(r, "hsdesc identity public key")
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, err
	}
	if err := requireIdentityFields(fields, map[string]string{
		"cryptosystem": "ed25519",
		"encoding":     "base64",
	}); err != nil {
		return nil, err
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity public key has invalid length %d", len(key))
	}
	return ed25519.PublicKey(key), nil
}

// openIdentitySecretKey reads and decrypts an Ed25519 service identity
// secret key in the keyfile format from r. The Argon2id KDF parameters
// are authenticated with poly1305 before the ChaCha20-Poly1305 unseal
// is attempted, so an incorrect passphrase is reported without ever
// touching the sealed key material.
func openIdentitySecretKey(r io.Reader, passphrase []byte) (ed25519.PrivateKey, identityFields, error) {
	e := func(err error) (ed25519.PrivateKey, identityFields, error) {
		return nil, identityFields{}, err
	}

	fields, keyAD, encodedSealedKey, err := readIdentityKeyFile(r, "hsdesc identity secret key")
	if err != nil {
		return e(err)
	}
	sealedKey, err := base64.StdEncoding.DecodeString(encodedSealedKey)
	if err != nil {
		return e(err)
	}
	if err := requireIdentityFields(fields, map[string]string{
		"cryptosystem": "ed25519",
		"encryption":   "argon2id-chacha20-poly1305",
		"encoding":     "base64",
	}); err != nil {
		return e(err)
	}
	salt, err := base64.StdEncoding.DecodeString(fields["argon2id-salt"])
	if err != nil {
		return e(err)
	}
	t, err := strconv.ParseUint(fields["argon2id-time"], 10, 32)
	if err != nil {
		return e(fmt.Errorf("argon2id-time: %w", err))
	}
	memory, err := strconv.ParseUint(fields["argon2id-memory"], 10, 32)
	if err != nil {
		return e(fmt.Errorf("argon2id-memory: %w", err))
	}
	threads, err := strconv.ParseUint(fields["argon2id-threads"], 10, 8)
	if err != nil {
		return e(fmt.Errorf("argon2id-threads: %w", err))
	}
	wantTag, err := base64.StdEncoding.DecodeString(fields["poly1305-tag"])
	if err != nil {
		return e(fmt.Errorf("poly1305-tag: %w", err))
	}
	if len(wantTag) != 16 {
		return e(fmt.Errorf("poly1305-tag has invalid length %d", len(wantTag)))
	}

	idkey := argon2.IDKey(passphrase, salt, uint32(t), uint32(memory), uint8(threads), 64)
	var polyKey [32]byte
	copy(polyKey[:], idkey[:32])
	var tag [16]byte
	copy(tag[:], wantTag)
	kdfData := kdfParamBytes(salt, uint32(t), uint32(memory), uint8(threads))
	if !poly1305.Verify(&tag, kdfData, &polyKey) {
		return e(errors.New("hsdesc: incorrect passphrase"))
	}

	aead, err := chacha20poly1305.New(idkey[32:])
	if err != nil {
		return e(err)
	}
	nonce := make([]byte, aead.NonceSize())
	key, err := aead.Open(sealedKey[:0], nonce, sealedKey, keyAD)
	if err != nil {
		return e(err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return e(fmt.Errorf("identity secret key has invalid length %d", len(key)))
	}
	var kf identityFields
	kf.Comment = fields["comment"]
	kf.Fingerprint = fields["fingerprint"]
	return ed25519.PrivateKey(append([]byte(nil), key...)), kf, nil
}
