// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package stream implements the character cursor underlying the script
// resource parser. The cursor delivers one code point at a time with
// line/column tracking, normalises line endings, strips '#' line comments and
// buffers one backslash escape so that the character following a backslash is
// always delivered literally.
package stream

import (
	"bufio"
	"fmt"
	"io"
	"unicode"
)

// EOF is the code point reported by the cursor once the input is exhausted.
const EOF rune = 0

// Cursor reads a script resource one code point at a time. It is not safe for
// concurrent use and must not outlive the load call that created it.
type Cursor struct {
	r *bufio.Reader

	// ch is the current code point, EOF once the input is exhausted.
	ch rune
	// escaped is true when ch was delivered through a backslash escape. An
	// escaped code point never triggers comment or grammar handling.
	escaped bool

	// line and col are the 1-based position of ch. col resets to 1 after a
	// line feed.
	line int
	col  int

	// nextIsNewline is set after a line feed has been consumed so the
	// position of the following code point can be computed.
	nextIsNewline bool

	started bool
	err     error
}

// New returns a cursor over r positioned before the first code point.
// Advance must be called once before the cursor is read.
func New(r io.Reader) *Cursor {
	return &Cursor{r: bufio.NewReader(r), line: 1, col: 0}
}

// Rune returns the current code point, or EOF at end of input.
func (c *Cursor) Rune() rune {
	return c.ch
}

// Escaped reports whether the current code point was preceded by a backslash.
func (c *Cursor) Escaped() bool {
	return c.escaped
}

// EOF reports whether the input is exhausted.
func (c *Cursor) EOF() bool {
	return c.ch == EOF && c.started
}

// Line returns the 1-based line number of the current code point.
func (c *Cursor) Line() int {
	return c.line
}

// Col returns the 1-based column number of the current code point.
func (c *Cursor) Col() int {
	return c.col
}

// Errorf returns a load error annotated with the position of the current code
// point.
func (c *Cursor) Errorf(format string, args ...any) error {
	return fmt.Errorf("line %d, column %d: %s", c.line, c.col, fmt.Sprintf(format, args...))
}

// readRaw reads the next code point from the underlying reader with '\r'
// normalised to '\n' ("\r\n" counts as a single line feed).
func (c *Cursor) readRaw() (rune, error) {
	r, _, err := c.r.ReadRune()
	if err != nil {
		return EOF, err
	}
	if r == '\r' {
		if next, _, err := c.r.ReadRune(); err == nil && next != '\n' {
			c.r.UnreadRune()
		}
		r = '\n'
	}
	return r, nil
}

// Advance moves the cursor to the next code point. At a backslash it reads one
// further code point and delivers it with Escaped reporting true. Outside of
// escape handling a '#' starts a comment running to the end of the line; the
// cursor delivers the terminating line feed.
func (c *Cursor) Advance() error {
	if c.err != nil {
		return c.err
	}
	if c.started && c.ch == EOF {
		return nil
	}

	newline := !c.started || c.nextIsNewline
	if !c.started {
		c.started = true
	}

	r, err := c.readRaw()
	if err == io.EOF {
		c.setPos(newline)
		c.ch, c.escaped = EOF, false
		return nil
	} else if err != nil {
		c.err = fmt.Errorf("cannot read script resource: %w", err)
		return c.err
	}

	escaped := false
	switch r {
	case '\\':
		next, err := c.readRaw()
		if err == io.EOF {
			// A trailing lone backslash is delivered as itself.
		} else if err != nil {
			c.err = fmt.Errorf("cannot read script resource: %w", err)
			return c.err
		} else {
			r = next
			escaped = true
		}
	case '#':
		for r != '\n' {
			r, err = c.readRaw()
			if err == io.EOF {
				c.setPos(newline)
				c.ch, c.escaped = EOF, false
				return nil
			} else if err != nil {
				c.err = fmt.Errorf("cannot read script resource: %w", err)
				return c.err
			}
		}
	}

	c.setPos(newline)
	if escaped {
		// The consumed backslash occupies the column before the delivered
		// code point.
		c.col++
	}
	c.ch, c.escaped = r, escaped
	c.nextIsNewline = r == '\n'
	return nil
}

// setPos assigns the position of the code point about to become current.
func (c *Cursor) setPos(newline bool) {
	if newline {
		if c.col > 0 {
			c.line++
		}
		c.col = 1
	} else {
		c.col++
	}
}

// Is reports whether the current code point equals r and was not escaped.
func (c *Cursor) Is(r rune) bool {
	return c.ch == r && !c.escaped
}

// Skip advances past the current code point if it equals r unescaped and
// reports whether it did.
func (c *Cursor) Skip(r rune) (bool, error) {
	if !c.Is(r) {
		return false, nil
	}
	return true, c.Advance()
}

// Require consumes the current code point, which must equal r unescaped, or
// returns a load error with the position of the mismatch.
func (c *Cursor) Require(r rune) error {
	if !c.Is(r) {
		if c.EOF() {
			return c.Errorf("expected %q, got end of input", r)
		}
		return c.Errorf("expected %q, got %q", r, c.ch)
	}
	return c.Advance()
}

// SkipSpace advances past whitespace, including line feeds.
func (c *Cursor) SkipSpace() error {
	for !c.EOF() && !c.escaped && unicode.IsSpace(c.ch) {
		if err := c.Advance(); err != nil {
			return err
		}
	}
	return nil
}

// isNameStart reports whether r can start an identifier.
func isNameStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '$'
}

// isNameChar reports whether r can continue an identifier.
func isNameChar(r rune) bool {
	return isNameStart(r) || unicode.IsDigit(r)
}

// ReadName reads an identifier: a letter, underscore or dollar sign followed
// by letters, digits, underscores and dollar signs.
func (c *Cursor) ReadName() (string, error) {
	if c.escaped || !isNameStart(c.ch) {
		return "", c.Errorf("expected identifier")
	}
	var name []rune
	for !c.EOF() && !c.escaped && isNameChar(c.ch) {
		name = append(name, c.ch)
		if err := c.Advance(); err != nil {
			return "", err
		}
	}
	return string(name), nil
}

// ReadClassName reads a dotted type name, e.g. "time.Time" or
// "sql.NullInt64". Each dot must be followed by a further identifier.
func (c *Cursor) ReadClassName() (string, error) {
	name, err := c.ReadName()
	if err != nil {
		return "", err
	}
	for c.Is('.') {
		if err := c.Advance(); err != nil {
			return "", err
		}
		part, err := c.ReadName()
		if err != nil {
			return "", err
		}
		name += "." + part
	}
	return name, nil
}

// ReadToken reads a run of letters and digits.
func (c *Cursor) ReadToken() (string, error) {
	if c.escaped || !(unicode.IsLetter(c.ch) || unicode.IsDigit(c.ch)) {
		return "", c.Errorf("expected token")
	}
	var tok []rune
	for !c.EOF() && !c.escaped && (unicode.IsLetter(c.ch) || unicode.IsDigit(c.ch)) {
		tok = append(tok, c.ch)
		if err := c.Advance(); err != nil {
			return "", err
		}
	}
	return string(tok), nil
}
