// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package textdoc tokenizes the line-oriented directive/value grammar
// shared by the outer descriptor and the inner encrypted section.  A
// directive line is "keyword[ space-separated args]"; some directives are
// immediately followed by an armored block (see internal/armor) rather
// than carrying their value inline.
package textdoc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
)

// ErrDuplicateDirective is returned by DuplicateGuard.See when the same
// keyword is seen more than once among those it tracks as unique.
var ErrDuplicateDirective = errors.New("textdoc: duplicate directive")

// Line is one tokenized directive line: the keyword and the remainder of
// the line, split on the first space.  Args is empty if there is no
// remainder.
type Line struct {
	Keyword string
	Args    string
}

// Tokenize splits doc into lines and returns one Line per line. Empty
// lines are rejected, as is trailing whitespace; the final line need not be
// newline-terminated but every line before it must be.  Tokenize does not
// itself interpret armored blocks: callers that expect one to follow a
// directive must consume the corresponding number of lines from the
// returned slice themselves (see Cursor).
func Tokenize(doc []byte) ([]Line, error) {
	if len(doc) == 0 {
		return nil, fmt.Errorf("textdoc: empty document")
	}
	var lines []Line
	s := bufio.NewScanner(bytes.NewReader(doc))
	s.Buffer(make([]byte, 0, 1024), 1<<20)
	for s.Scan() {
		raw := s.Text()
		if len(raw) == 0 {
			return nil, fmt.Errorf("textdoc: empty line")
		}
		if raw[len(raw)-1] == ' ' || raw[len(raw)-1] == '\t' {
			return nil, fmt.Errorf("textdoc: trailing whitespace")
		}
		sp := bytes.IndexByte([]byte(raw), ' ')
		var l Line
		if sp == -1 {
			l = Line{Keyword: raw}
		} else {
			l = Line{Keyword: raw[:sp], Args: raw[sp+1:]}
		}
		lines = append(lines, l)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("textdoc: %w", err)
	}
	return lines, nil
}

// Cursor walks a tokenized line slice one directive (and, where relevant,
// its following armored block) at a time, the way keyfile.readKeyFile
// scans a keyfile's fields before reaching the encoded key line.
type Cursor struct {
	lines []Line
	pos   int
}

// NewCursor returns a Cursor positioned at the first line.
func NewCursor(lines []Line) *Cursor {
	return &Cursor{lines: lines}
}

// Peek returns the current line without advancing, and false if the
// cursor is exhausted.
func (c *Cursor) Peek() (Line, bool) {
	if c.pos >= len(c.lines) {
		return Line{}, false
	}
	return c.lines[c.pos], true
}

// Next returns the current line and advances the cursor, or false if the
// cursor is exhausted.
func (c *Cursor) Next() (Line, bool) {
	l, ok := c.Peek()
	if ok {
		c.pos++
	}
	return l, ok
}

// Done reports whether every line has been consumed.
func (c *Cursor) Done() bool {
	return c.pos >= len(c.lines)
}

// Remaining returns the lines not yet consumed.
func (c *Cursor) Remaining() []Line {
	return c.lines[c.pos:]
}

// RequireKeyword advances past the current line if its keyword matches
// kw, and otherwise returns an error naming the expected keyword.
func (c *Cursor) RequireKeyword(kw string) (Line, error) {
	l, ok := c.Next()
	if !ok {
		return Line{}, fmt.Errorf("textdoc: expected %q, got end of document", kw)
	}
	if l.Keyword != kw {
		return Line{}, fmt.Errorf("textdoc: expected %q, got %q", kw, l.Keyword)
	}
	return l, nil
}

// ConsumeArmoredBlock re-joins the raw lines of a PEM-like armored block
// starting at the cursor's current position, advancing the cursor past
// every line the block occupies. Because Cursor operates on already-split
// lines rather than raw bytes, the header/body/footer lines are
// reassembled with "\n" separators before being handed to
// internal/armor.Decode by the caller.
func (c *Cursor) ConsumeArmoredBlock() ([]byte, error) {
	var buf []byte
	for {
		l, ok := c.Next()
		if !ok {
			return nil, fmt.Errorf("textdoc: unterminated armored block")
		}
		line := l.Keyword
		if l.Args != "" {
			line += " " + l.Args
		}
		buf = append(buf, []byte(line+"\n")...)
		if len(line) >= len("-----END -----") && line[:5] == "-----" && line[len(line)-5:] == "-----" &&
			len(line) >= 9 && line[5:9] == "END " {
			break
		}
	}
	return buf, nil
}

// DuplicateGuard tracks which keywords have already been seen among a set
// the caller considers must-be-unique, returning ErrDuplicateDirective on
// a repeat.
type DuplicateGuard struct {
	seen map[string]bool
}

// NewDuplicateGuard returns an empty guard.
func NewDuplicateGuard() *DuplicateGuard {
	return &DuplicateGuard{seen: make(map[string]bool)}
}

// See records kw as observed, returning ErrDuplicateDirective if it was
// already recorded.
func (g *DuplicateGuard) See(kw string) error {
	if g.seen[kw] {
		return fmt.Errorf("%w: %q", ErrDuplicateDirective, kw)
	}
	g.seen[kw] = true
	return nil
}
