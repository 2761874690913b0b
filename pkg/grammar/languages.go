package grammar

import "strings"

// DefaultLanguages maps common language identifiers to grammar scope names.
var DefaultLanguages = map[string]string{
	"sh":         "source.shell",
	"bash":       "source.shell",
	"zsh":        "source.shell",
	"shell":      "source.shell",
	"js":         "source.js",
	"mjs":        "source.js",
	"cjs":        "source.js",
	"javascript": "source.js",
	"jsx":        "source.js.jsx",
	"ts":         "source.ts",
	"mts":        "source.ts",
	"cts":        "source.ts",
	"typescript": "source.ts",
	"tsx":        "source.tsx",
	"md":         "text.html.markdown",
	"markdown":   "text.html.markdown",
	"mdx":        "source.mdx",
	"html":       "text.html.basic",
	"css":        "source.css",
	"json":       "source.json",
	"yaml":       "source.yaml",
	"yml":        "source.yaml",
	"go":         "source.go",
}

var plainLanguages = map[string]bool{
	"":          true,
	"plain":     true,
	"plaintext": true,
	"text":      true,
	"txt":       true,
}

// IsPlainText reports whether a language identifier means "no grammar".
func IsPlainText(language string) bool {
	return plainLanguages[strings.ToLower(language)]
}

// ResolveScope maps a language identifier to a scope name. Identifiers that
// already contain a dot are treated as scope names. overrides take precedence
// over DefaultLanguages.
func ResolveScope(language string, overrides map[string]string) string {
	if scope, ok := overrides[language]; ok {
		return scope
	}
	lower := strings.ToLower(language)
	if scope, ok := overrides[lower]; ok {
		return scope
	}
	if strings.Contains(language, ".") {
		return language
	}
	if scope, ok := DefaultLanguages[lower]; ok {
		return scope
	}
	return "source." + lower
}
