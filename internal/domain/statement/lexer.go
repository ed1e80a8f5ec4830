package statement

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokSemicolon
	tokPunct
	// tokOpaque is an identifier whose spelling could not be decoded.
	tokOpaque
)

type token struct {
	kind tokenKind
	// text is the upper-cased word, the unquoted identifier, or the raw
	// punctuation. Empty for string literals.
	text string
}

// lex splits input into tokens, discarding whitespace and comments.
// ok is false when a string, quoted identifier, dollar-quoted body or block
// comment is left unterminated.
func lex(input string) (tokens []token, ok bool) {
	i := 0
	n := len(input)
	for i < n {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '-' && i+1 < n && input[i+1] == '-':
			end := strings.IndexByte(input[i:], '\n')
			if end < 0 {
				i = n
			} else {
				i += end + 1
			}

		case r == '/' && i+1 < n && input[i+1] == '*':
			end, closed := skipBlockComment(input, i)
			if !closed {
				return tokens, false
			}
			i = end

		case r == ';':
			tokens = append(tokens, token{kind: tokSemicolon, text: ";"})
			i++

		case r == '\'':
			end, closed := skipQuoted(input, i, '\'', false)
			if !closed {
				return tokens, false
			}
			tokens = append(tokens, token{kind: tokString})
			i = end

		case r == '"' || r == '`':
			end, closed := skipQuoted(input, i, byte(r), false)
			if !closed {
				return tokens, false
			}
			ident := input[i+1 : end-1]
			ident = strings.ReplaceAll(ident, string([]byte{byte(r), byte(r)}), string(r))
			tokens = append(tokens, token{kind: tokQuotedIdent, text: strings.ToUpper(ident)})
			i = end

		case r == '$':
			if tag, ok := dollarTag(input, i); ok {
				body := strings.Index(input[i+len(tag):], tag)
				if body < 0 {
					return tokens, false
				}
				tokens = append(tokens, token{kind: tokString})
				i += len(tag) + body + len(tag)
				continue
			}
			// Positional parameter like $1.
			j := i + 1
			for j < n && input[j] >= '0' && input[j] <= '9' {
				j++
			}
			tokens = append(tokens, token{kind: tokPunct, text: input[i:j]})
			i = j

		case isWordStart(r):
			j := i + size
			for j < n {
				r2, s2 := utf8.DecodeRuneInString(input[j:])
				if !isWordPart(r2) {
					break
				}
				j += s2
			}
			word := input[i:j]
			// Unicode-escaped identifier: U&"d\0061ta".
			if j+1 < n && input[j] == '&' && input[j+1] == '"' && strings.EqualFold(word, "U") {
				tok, end, closed := lexUnicodeIdent(input, j+1)
				if !closed {
					return tokens, false
				}
				tokens = append(tokens, tok)
				i = end
				continue
			}
			// Prefixed string literals: E'..', N'..', B'..', X'..'.
			if j < n && input[j] == '\'' && isStringPrefix(word) {
				escapes := strings.EqualFold(word, "E")
				end, closed := skipQuoted(input, j, '\'', escapes)
				if !closed {
					return tokens, false
				}
				tokens = append(tokens, token{kind: tokString})
				i = end
				continue
			}
			tokens = append(tokens, token{kind: tokWord, text: strings.ToUpper(word)})
			i = j

		case r >= '0' && r <= '9':
			j := i + 1
			for j < n && (isWordPart(rune(input[j])) || input[j] == '.') {
				j++
			}
			tokens = append(tokens, token{kind: tokNumber, text: input[i:j]})
			i = j

		default:
			tokens = append(tokens, token{kind: tokPunct, text: string(r)})
			i += size
		}
	}
	return tokens, true
}

// lexUnicodeIdent reads the quoted part of a U&"..." identifier starting at
// quote, including an optional UESCAPE clause, and returns the decoded
// identifier. Escapes that do not decode yield a tokOpaque token.
func lexUnicodeIdent(input string, quote int) (token, int, bool) {
	end, closed := skipQuoted(input, quote, '"', false)
	if !closed {
		return token{}, end, false
	}
	raw := strings.ReplaceAll(input[quote+1:end-1], `""`, `"`)

	esc := byte('\\')
	k := skipSpace(input, end)
	if k+len("UESCAPE") <= len(input) && strings.EqualFold(input[k:k+len("UESCAPE")], "UESCAPE") {
		k = skipSpace(input, k+len("UESCAPE"))
		if k+3 > len(input) || input[k] != '\'' || input[k+2] != '\'' || !validEscapeChar(input[k+1]) {
			return token{kind: tokOpaque, text: "UESCAPE"}, k, true
		}
		esc = input[k+1]
		end = k + 3
	}

	ident, ok := decodeUnicodeEscapes(raw, esc)
	if !ok {
		return token{kind: tokOpaque, text: "U&"}, end, true
	}
	return token{kind: tokQuotedIdent, text: strings.ToUpper(ident)}, end, true
}

// decodeUnicodeEscapes expands esc+XXXX, esc++XXXXXX and esc+esc.
func decodeUnicodeEscapes(raw string, esc byte) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(raw); {
		if raw[i] != esc {
			b.WriteByte(raw[i])
			i++
			continue
		}
		if i+1 < len(raw) && raw[i+1] == esc {
			b.WriteByte(esc)
			i += 2
			continue
		}
		start, width := i+1, 4
		if start < len(raw) && raw[start] == '+' {
			start, width = start+1, 6
		}
		if start+width > len(raw) {
			return "", false
		}
		var cp rune
		for _, c := range raw[start : start+width] {
			d := hexValue(c)
			if d < 0 {
				return "", false
			}
			cp = cp<<4 | rune(d)
		}
		if !utf8.ValidRune(cp) {
			return "", false
		}
		b.WriteRune(cp)
		i = start + width
	}
	return b.String(), true
}

func hexValue(c rune) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// validEscapeChar rejects the characters Postgres forbids after UESCAPE.
func validEscapeChar(c byte) bool {
	if hexValue(rune(c)) >= 0 {
		return false
	}
	switch c {
	case '+', '\'', '"', ' ', '\t', '\n', '\r':
		return false
	}
	return true
}

func skipSpace(input string, i int) int {
	for i < len(input) && (input[i] == ' ' || input[i] == '\t' || input[i] == '\n' || input[i] == '\r') {
		i++
	}
	return i
}

// skipBlockComment returns the index just past the comment starting at
// start. Block comments nest.
func skipBlockComment(input string, start int) (int, bool) {
	depth := 0
	i := start
	for i < len(input)-1 {
		switch {
		case input[i] == '/' && input[i+1] == '*':
			depth++
			i += 2
		case input[i] == '*' && input[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i, true
			}
		default:
			i++
		}
	}
	return len(input), false
}

// skipQuoted returns the index just past the closing quote. A doubled
// quote is an escaped quote. With backslash set, \x escapes any byte.
func skipQuoted(input string, start int, quote byte, backslash bool) (int, bool) {
	i := start + 1
	for i < len(input) {
		c := input[i]
		switch {
		case backslash && c == '\\':
			i += 2
		case c == quote:
			if i+1 < len(input) && input[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, true
		default:
			i++
		}
	}
	return len(input), false
}

// dollarTag reports the $tag$ opener at i, if any.
func dollarTag(input string, i int) (string, bool) {
	j := i + 1
	for j < len(input) {
		c := input[j]
		if c == '$' {
			return input[i : j+1], true
		}
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (j > i+1 && c >= '0' && c <= '9')) {
			return "", false
		}
		j++
	}
	return "", false
}

func isStringPrefix(word string) bool {
	switch strings.ToUpper(word) {
	case "E", "N", "B", "X":
		return true
	}
	return false
}

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
