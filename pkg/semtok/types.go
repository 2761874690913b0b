package semtok

import "strings"

// TokenType is an index into the legend's token types.
type TokenType uint32

const (
	TokenNamespace TokenType = iota
	TokenClass
	TokenParameter
	TokenVariable
	TokenProperty
	TokenFunction
	TokenKeyword
	TokenComment
	TokenString
	TokenNumber
	TokenRegexp
	TokenOperator
)

var tokenTypeNames = [...]string{
	TokenNamespace: "namespace",
	TokenClass:     "class",
	TokenParameter: "parameter",
	TokenVariable:  "variable",
	TokenProperty:  "property",
	TokenFunction:  "function",
	TokenKeyword:   "keyword",
	TokenComment:   "comment",
	TokenString:    "string",
	TokenNumber:    "number",
	TokenRegexp:    "regexp",
	TokenOperator:  "operator",
}

// String returns the LSP name of the token type
func (t TokenType) String() string {
	if int(t) < len(tokenTypeNames) {
		return tokenTypeNames[t]
	}
	return "unknown"
}

// TokenModifier is a bit set; bit i is the legend's i-th modifier.
type TokenModifier uint32

const ModifierNone TokenModifier = 0

const (
	ModifierDeclaration TokenModifier = 1 << iota
	ModifierReadonly
	ModifierDefaultLibrary
	ModifierDocumentation
)

var modifierNames = [...]string{"declaration", "readonly", "defaultLibrary", "documentation"}

// String joins the names of the set bits with "|".
func (m TokenModifier) String() string {
	if m == ModifierNone {
		return "none"
	}
	var names []string
	for i, name := range modifierNames {
		if m&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, "|")
}

// Legend is the SemanticTokensLegend a server advertises.
type Legend struct {
	TokenTypes     []string `json:"tokenTypes"`
	TokenModifiers []string `json:"tokenModifiers"`
}

func NewLegend() Legend {
	return Legend{
		TokenTypes:     append([]string(nil), tokenTypeNames[:]...),
		TokenModifiers: append([]string(nil), modifierNames[:]...),
	}
}

// Token is a classified token. Character and Length count UTF-16 code units.
type Token struct {
	Line      int
	Character int
	Length    int
	Type      TokenType
	Modifier  TokenModifier
}
