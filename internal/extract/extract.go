// Package extract finds the code regions that are sent through the analysis pipeline.
package extract

import (
	"strings"
	"unicode"

	"rustsentry/internal/models"
)

// Block is one extracted region, before it is persisted.
type Block struct {
	Index     int
	RawCode   string
	LineStart int
	LineEnd   int
	Type      models.BlockType
}

// Blocks returns every top-level `unsafe { ... }` region of Rust source in source order.
// Braces, keywords and quotes inside comments, strings and char literals are ignored.
// Nested unsafe blocks belong to their outer block. An unterminated block is dropped.
func Blocks(code string) []Block {
	src := []rune(code)
	var out []Block

	s := scanner{src: src}
	for s.pos < len(src) {
		if s.skipNonCode() {
			continue
		}
		if s.atKeyword("unsafe") {
			start := s.pos
			open := s.pos + len("unsafe")
			for open < len(src) && unicode.IsSpace(src[open]) {
				open++
			}
			if open < len(src) && src[open] == '{' {
				end, ok := s.matchBrace(open)
				if !ok {
					break
				}
				raw := string(src[start : end+1])
				lineStart := 1 + countNewlines(src[:start])
				out = append(out, Block{
					Index:     len(out),
					RawCode:   raw,
					LineStart: lineStart,
					LineEnd:   lineStart + strings.Count(raw, "\n"),
					Type:      models.BlockFlagged,
				})
				s.pos = end + 1
				continue
			}
			s.pos = open
			continue
		}
		s.pos++
	}
	return out
}

func countNewlines(rs []rune) int {
	n := 0
	for _, r := range rs {
		if r == '\n' {
			n++
		}
	}
	return n
}

type scanner struct {
	src []rune
	pos int
}

func (s *scanner) peek(off int) rune {
	if i := s.pos + off; i < len(s.src) {
		return s.src[i]
	}
	return 0
}

func isIdent(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (s *scanner) atKeyword(kw string) bool {
	if s.pos > 0 && isIdent(s.src[s.pos-1]) {
		return false
	}
	k := []rune(kw)
	if s.pos+len(k) > len(s.src) {
		return false
	}
	for i, r := range k {
		if s.src[s.pos+i] != r {
			return false
		}
	}
	next := s.pos + len(k)
	return next >= len(s.src) || !isIdent(s.src[next])
}

// skipNonCode advances past a comment, string or char literal starting at pos.
// It reports whether anything was skipped.
func (s *scanner) skipNonCode() bool {
	c := s.peek(0)
	switch {
	case c == '/' && s.peek(1) == '/':
		for s.pos < len(s.src) && s.src[s.pos] != '\n' {
			s.pos++
		}
		return true
	case c == '/' && s.peek(1) == '*':
		s.skipBlockComment()
		return true
	case c == 'r' && !s.afterIdent() && (s.peek(1) == '"' || s.peek(1) == '#'):
		return s.skipRawString()
	case (c == 'b' || c == 'c') && !s.afterIdent():
		return s.skipPrefixedLiteral(c)
	case c == '"':
		s.skipString()
		return true
	case c == '\'':
		s.skipCharOrLifetime()
		return true
	}
	return false
}

func (s *scanner) afterIdent() bool {
	return s.pos > 0 && isIdent(s.src[s.pos-1])
}

// skipPrefixedLiteral handles b"..", b'..', br#".."#, c".." and cr#".."#.
func (s *scanner) skipPrefixedLiteral(prefix rune) bool {
	switch s.peek(1) {
	case '"':
		s.pos++
		s.skipString()
		return true
	case '\'':
		if prefix == 'b' {
			s.pos++
			s.skipCharOrLifetime()
			return true
		}
	case 'r':
		if s.peek(2) == '"' || s.peek(2) == '#' {
			s.pos++
			if s.skipRawString() {
				return true
			}
			s.pos--
		}
	}
	return false
}

// Rust block comments nest.
func (s *scanner) skipBlockComment() {
	depth := 0
	for s.pos < len(s.src) {
		switch {
		case s.peek(0) == '/' && s.peek(1) == '*':
			depth++
			s.pos += 2
		case s.peek(0) == '*' && s.peek(1) == '/':
			depth--
			s.pos += 2
			if depth == 0 {
				return
			}
		default:
			s.pos++
		}
	}
}

func (s *scanner) skipString() {
	s.pos++ // opening quote
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
		case '"':
			s.pos++
			return
		default:
			s.pos++
		}
	}
}

func (s *scanner) skipRawString() bool {
	i := s.pos + 1
	hashes := 0
	for i < len(s.src) && s.src[i] == '#' {
		hashes++
		i++
	}
	if i >= len(s.src) || s.src[i] != '"' {
		return false
	}
	i++
	for i < len(s.src) {
		if s.src[i] == '"' {
			j := i + 1
			n := 0
			for j < len(s.src) && n < hashes && s.src[j] == '#' {
				n++
				j++
			}
			if n == hashes {
				s.pos = j
				return true
			}
		}
		i++
	}
	s.pos = len(s.src)
	return true
}

// skipCharOrLifetime consumes 'x', '\n', '\u{..}' literals. A lifetime such as 'a is
// consumed as just the apostrophe.
func (s *scanner) skipCharOrLifetime() {
	if s.peek(1) == '\\' {
		for i := s.pos + 2; i < len(s.src) && i < s.pos+12; i++ {
			if s.src[i] == '\'' {
				s.pos = i + 1
				return
			}
		}
	} else if s.peek(2) == '\'' {
		s.pos += 3
		return
	}
	s.pos++
}

// matchBrace returns the index of the '}' closing the '{' at open.
func (s *scanner) matchBrace(open int) (int, bool) {
	inner := scanner{src: s.src, pos: open}
	depth := 0
	for inner.pos < len(inner.src) {
		if inner.skipNonCode() {
			continue
		}
		switch inner.src[inner.pos] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return inner.pos, true
			}
		}
		inner.pos++
	}
	return 0, false
}
