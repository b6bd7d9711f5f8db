// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package inner assembles and parses the inner (encrypted) section of a
// descriptor: the create2-formats line, an optional
// authentication-required line, and the ordered sequence of
// introduction-point records.
package inner

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jrick/hsdesc3/internal/textdoc"
	"github.com/jrick/hsdesc3/introspec"
)

const (
	directiveCreate2Formats = "create2-formats"
	directiveAuthRequired   = "authentication-required"
)

// Errors returned while decoding an inner section.
var (
	ErrMalformed      = errors.New("inner: malformed inner section")
	ErrUnknownKeyType = introspec.ErrUnknownKeyType
	ErrBadIntroPoint  = errors.New("inner: invalid introduction point")
)

// Section is a parsed or constructed inner (encrypted) section.
type Section struct {
	CreateHandshakes []HandshakeID
	AuthTypes        []string // optional, may be nil
	IntroPoints      []*introspec.IntroductionPoint
}

// Encode serializes s to the inner section's plaintext grammar. The
// create2-formats and (optional) authentication-required lines are
// written first in that order, followed by each introduction point's
// record in list order.
func Encode(s *Section) ([]byte, error) {
	if len(s.CreateHandshakes) == 0 {
		return nil, fmt.Errorf("%w: create2-formats must be non-empty", ErrMalformed)
	}
	fields := make([]string, len(s.CreateHandshakes))
	for i, h := range s.CreateHandshakes {
		fields[i] = strconv.FormatUint(uint64(h), 10)
	}
	out := []byte(directiveCreate2Formats + " " + strings.Join(fields, " ") + "\n")

	if len(s.AuthTypes) > 0 {
		out = append(out, []byte(directiveAuthRequired+" "+strings.Join(s.AuthTypes, " ")+"\n")...)
	}

	for i, ip := range s.IntroPoints {
		encoded, err := introspec.Encode(ip)
		if err != nil {
			return nil, fmt.Errorf("%w: introduction point %d: %w", ErrBadIntroPoint, i, err)
		}
		out = append(out, encoded...)
	}
	return out, nil
}

// Decode parses the inner section's plaintext grammar. sigKey is the
// descriptor signing key that every introduction point's auth-key and
// enc-key certificates must be issued by; blindedPub is the descriptor's
// blinded identity key, needed to authenticate a legacy introduction
// point's cross-certificate; now is the clock used for certificate
// expiry checks.
//
// Trailing zero bytes (the crypto envelope's padding) are trimmed before
// tokenizing. Unknown directives at the top of the section are rejected
// outright; an invalid introduction-point record fails the whole decode
// with ErrBadIntroPoint wrapping the record's error.
func Decode(plaintext []byte, sigKey, blindedPub ed25519.PublicKey, now time.Time) (*Section, error) {
	plaintext = bytes.TrimRight(plaintext, "\x00")
	lines, err := textdoc.Tokenize(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	c := textdoc.NewCursor(lines)

	first, ok := c.Peek()
	if !ok {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}

	s := &Section{}
	sawCreate2 := false
	sawAuth := false

	// create2-formats and authentication-required may appear in either
	// order but must precede any introduction-point record.
	for {
		l, ok := c.Peek()
		if !ok {
			break
		}
		if l.Keyword != directiveCreate2Formats && l.Keyword != directiveAuthRequired {
			break
		}
		switch l.Keyword {
		case directiveCreate2Formats:
			if sawCreate2 {
				return nil, fmt.Errorf("%w: duplicate create2-formats", ErrMalformed)
			}
			sawCreate2 = true
			c.Next()
			ids, err := parseHandshakeList(l.Args)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			s.CreateHandshakes = ids
		case directiveAuthRequired:
			if sawAuth {
				return nil, fmt.Errorf("%w: duplicate authentication-required", ErrMalformed)
			}
			sawAuth = true
			c.Next()
			if l.Args == "" {
				return nil, fmt.Errorf("%w: empty authentication-required", ErrMalformed)
			}
			s.AuthTypes = strings.Fields(l.Args)
		}
	}
	if !sawCreate2 {
		return nil, fmt.Errorf("%w: missing create2-formats", ErrMalformed)
	}
	_ = first

	for !c.Done() {
		l, _ := c.Peek()
		if l.Keyword != "introduction-point" {
			return nil, fmt.Errorf("%w: unexpected directive %q", ErrMalformed, l.Keyword)
		}
		ip, err := introspec.Decode(c, sigKey, blindedPub, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadIntroPoint, err)
		}
		s.IntroPoints = append(s.IntroPoints, ip)
	}

	return s, nil
}

func parseHandshakeList(args string) ([]HandshakeID, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return nil, errors.New("empty create2-formats list")
	}
	ids := make([]HandshakeID, 0, len(fields))
	for _, f := range fields {
		if len(f) == 0 || (f[0] == '0' && len(f) > 1) {
			return nil, fmt.Errorf("invalid integer %q", f)
		}
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", f, err)
		}
		ids = append(ids, HandshakeID(n))
	}
	return ids, nil
}
