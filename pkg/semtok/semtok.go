package semtok

import (
	"strings"
	"unicode/utf8"

	"github.com/walteh/tmtokens/pkg/highlight"
)

type rule struct {
	prefix   string
	typ      TokenType
	modifier TokenModifier
}

// More specific prefixes come first.
var rules = []rule{
	{"comment.block.documentation", TokenComment, ModifierDocumentation},
	{"comment", TokenComment, ModifierNone},
	{"string.regexp", TokenRegexp, ModifierNone},
	{"string", TokenString, ModifierNone},
	{"constant.numeric", TokenNumber, ModifierNone},
	{"constant.character.escape", TokenString, ModifierNone},
	{"constant.language", TokenKeyword, ModifierReadonly},
	{"constant", TokenVariable, ModifierReadonly},
	{"keyword.operator", TokenOperator, ModifierNone},
	{"keyword", TokenKeyword, ModifierNone},
	{"storage", TokenKeyword, ModifierNone},
	{"entity.name.function", TokenFunction, ModifierDeclaration},
	{"entity.name.command", TokenFunction, ModifierNone},
	{"support.function", TokenFunction, ModifierDefaultLibrary},
	{"entity.name.type", TokenClass, ModifierDeclaration},
	{"entity.name.class", TokenClass, ModifierDeclaration},
	{"entity.name.namespace", TokenNamespace, ModifierDeclaration},
	{"support.type.property-name", TokenProperty, ModifierNone},
	{"support.class", TokenClass, ModifierDefaultLibrary},
	{"support.type", TokenClass, ModifierDefaultLibrary},
	{"entity.other.attribute-name", TokenProperty, ModifierNone},
	{"variable.parameter", TokenParameter, ModifierNone},
	{"variable.other.property", TokenProperty, ModifierNone},
	{"variable.other.constant", TokenVariable, ModifierReadonly},
	{"variable.language", TokenVariable, ModifierDefaultLibrary},
	{"variable", TokenVariable, ModifierNone},
}

func hasSegmentPrefix(scope, prefix string) bool {
	return scope == prefix || (strings.HasPrefix(scope, prefix) && scope[len(prefix)] == '.')
}

// Classify maps a scope list, outermost first, to a semantic token type.
// It reports false when no scope is recognised.
func Classify(scopes []string) (TokenType, TokenModifier, bool) {
	for i := len(scopes) - 1; i >= 0; i-- {
		for _, r := range rules {
			if hasSegmentPrefix(scopes[i], r.prefix) {
				return r.typ, r.modifier, true
			}
		}
	}
	return 0, ModifierNone, false
}

// Tokens classifies the highlighted lines of source. Adjacent tokens of the
// same line and classification are joined into one.
func Tokens(source string, lines [][]highlight.StyledToken) []Token {
	var out []Token

	lineStart := 0
	for i, line := range lines {
		if i > 0 {
			next := strings.IndexByte(source[lineStart:], '\n')
			if next < 0 {
				break
			}
			lineStart += next + 1
		}

		pos, char := lineStart, 0
		prevEnd := -1

		for _, tok := range line {
			if tok.IsWhitespace || tok.Start < pos || tok.End > len(source) {
				continue
			}

			typ, mod, ok := Classify(tok.Scopes)
			if !ok {
				continue
			}

			char += utf16Len(source[pos:tok.Start])
			length := utf16Len(source[tok.Start:tok.End])
			pos = tok.End

			if n := len(out); n > 0 && prevEnd == tok.Start && out[n-1].Line == i && out[n-1].Type == typ && out[n-1].Modifier == mod {
				out[n-1].Length += length
			} else {
				out = append(out, Token{Line: i, Character: char, Length: length, Type: typ, Modifier: mod})
			}

			char += length
			prevEnd = tok.End
		}
	}

	return out
}

// Encode packs tokens into the relative five-integer form of
// textDocument/semanticTokens. Tokens must be ordered by position.
func Encode(tokens []Token) []uint32 {
	data := make([]uint32, 0, len(tokens)*5)

	prevLine, prevChar := 0, 0
	for _, tok := range tokens {
		deltaLine := tok.Line - prevLine
		deltaChar := tok.Character
		if deltaLine == 0 {
			deltaChar -= prevChar
		}

		data = append(data,
			uint32(deltaLine),
			uint32(deltaChar),
			uint32(tok.Length),
			uint32(tok.Type),
			uint32(tok.Modifier),
		)

		prevLine, prevChar = tok.Line, tok.Character
	}

	return data
}

// Decode is the inverse of Encode.
func Decode(data []uint32) []Token {
	tokens := make([]Token, 0, len(data)/5)

	line, char := 0, 0
	for i := 0; i+4 < len(data); i += 5 {
		if data[i] > 0 {
			line += int(data[i])
			char = 0
		}
		char += int(data[i+1])

		tokens = append(tokens, Token{
			Line:      line,
			Character: char,
			Length:    int(data[i+2]),
			Type:      TokenType(data[i+3]),
			Modifier:  TokenModifier(data[i+4]),
		})
	}

	return tokens
}

func utf16Len(s string) int {
	n := 0
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
