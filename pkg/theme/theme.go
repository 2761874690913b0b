// Package theme loads themes and matches token scopes against their rules.
package theme

import (
	"strings"
	"sync"

	"github.com/walteh/tmtokens/pkg/style"
)

// Theme is a normalized, immutable theme. It is safe for concurrent use.
type Theme struct {
	Name       string
	Type       string
	Foreground string
	Background string
	Rules      []Rule

	matches sync.Map // joined scopes -> style.Style
}

type Rule struct {
	Selectors []Selector
	Style     RuleStyle
	// Index is the declaration order; later rules win ties.
	Index int
}

type RuleStyle struct {
	Foreground string
	Background string
	FontStyle  *style.FontStyle
}

// Selector is one scope selector of a rule. "meta.tag string.quoted" has
// Scope "string.quoted" and Parents ["meta.tag"]. "string - string.regexp"
// has Scope "string" and Excludes [["string.regexp"]]; it never matches a
// stack that the excluded path matches.
type Selector struct {
	Scope    string
	Parents  []string
	Segments int
	Excludes [][]string
}

func parseSelector(s string) (Selector, bool) {
	groups := strings.Split(s, " - ")
	parts := strings.Fields(groups[0])
	if len(parts) == 0 {
		return Selector{}, false
	}
	scope := parts[len(parts)-1]
	sel := Selector{
		Scope:    scope,
		Parents:  parts[:len(parts)-1],
		Segments: strings.Count(scope, ".") + 1,
	}
	for _, g := range groups[1:] {
		if ex := strings.Fields(g); len(ex) > 0 {
			sel.Excludes = append(sel.Excludes, ex)
		}
	}
	return sel, true
}

// Normalize turns a raw definition into a Theme. Rules without a scope set
// the global default colors.
func Normalize(def *Definition) *Theme {
	t := &Theme{
		Name: def.Name,
		Type: def.Type,
	}

	fg := def.Colors["editor.foreground"]
	bg := def.Colors["editor.background"]

	entries := def.TokenColors
	if len(entries) == 0 {
		entries = def.Settings
	}

	for i, tc := range entries {
		if len(tc.Scope) == 0 {
			if tc.Settings.Foreground != "" {
				fg = tc.Settings.Foreground
			}
			if tc.Settings.Background != "" {
				bg = tc.Settings.Background
			}
			continue
		}

		rule := Rule{
			Index: i,
			Style: RuleStyle{
				Foreground: normalizeColor(tc.Settings.Foreground),
				Background: normalizeColor(tc.Settings.Background),
			},
		}
		if tc.Settings.FontStyle != nil {
			fs := style.ParseFontStyle(*tc.Settings.FontStyle)
			rule.Style.FontStyle = &fs
		}
		for _, raw := range tc.Scope {
			if sel, ok := parseSelector(raw); ok {
				rule.Selectors = append(rule.Selectors, sel)
			}
		}
		if len(rule.Selectors) > 0 {
			t.Rules = append(t.Rules, rule)
		}
	}

	if fg == "" {
		fg = "#000000"
		if t.IsDark() {
			fg = "#ffffff"
		}
	}
	if bg == "" {
		bg = "#ffffff"
		if t.IsDark() {
			bg = "#000000"
		}
	}
	t.Foreground = normalizeColor(fg)
	t.Background = normalizeColor(bg)

	return t
}

func (t *Theme) IsDark() bool {
	return strings.Contains(strings.ToLower(t.Type), "dark")
}

type specificity struct {
	segments int
	parents  int
	index    int
}

func (a specificity) beats(b specificity) bool {
	if a.segments != b.segments {
		return a.segments > b.segments
	}
	if a.parents != b.parents {
		return a.parents > b.parents
	}
	return a.index >= b.index
}

// Match resolves the style for a scope stack (outermost first). Scopes are
// visited from the innermost outwards; at each level the selector with the
// most dot-separated segments wins, ties going to the later rule. Each of
// foreground, background and font style is resolved on its own, so a less
// specific rule supplies whatever a more specific one leaves unset. An
// unresolved foreground falls back to the theme foreground. The background
// stays empty unless some rule sets one; callers paint Theme.Background
// behind empty backgrounds themselves.
func (t *Theme) Match(scopes []string) style.Style {
	key := strings.Join(scopes, " ")
	if v, ok := t.matches.Load(key); ok {
		return v.(style.Style)
	}

	var (
		fg, bg string
		fs     *style.FontStyle
		haveFg bool
		haveBg bool
		haveFs bool
	)

	for depth := len(scopes) - 1; depth >= 0 && !(haveFg && haveBg && haveFs); depth-- {
		var bestFg, bestBg, bestFs *Rule
		var specFg, specBg, specFs specificity

		for i := range t.Rules {
			r := &t.Rules[i]
			spec, ok := r.matchAt(scopes, depth)
			if !ok {
				continue
			}
			if !haveFg && r.Style.Foreground != "" && (bestFg == nil || spec.beats(specFg)) {
				bestFg, specFg = r, spec
			}
			if !haveBg && r.Style.Background != "" && (bestBg == nil || spec.beats(specBg)) {
				bestBg, specBg = r, spec
			}
			if !haveFs && r.Style.FontStyle != nil && (bestFs == nil || spec.beats(specFs)) {
				bestFs, specFs = r, spec
			}
		}

		if bestFg != nil {
			fg, haveFg = bestFg.Style.Foreground, true
		}
		if bestBg != nil {
			bg, haveBg = bestBg.Style.Background, true
		}
		if bestFs != nil {
			fs, haveFs = bestFs.Style.FontStyle, true
		}
	}

	out := style.Style{
		Color:           t.Foreground,
		BackgroundColor: bg,
	}
	if haveFg {
		out.Color = fg
	}
	if fs != nil {
		out.FontStyle = *fs
	}

	t.matches.Store(key, out)
	return out
}

// IsBase reports whether s is exactly the theme's default text style.
func (t *Theme) IsBase(s style.Style) bool {
	return s.Color == t.Foreground && s.BackgroundColor == "" && s.FontStyle == style.FontStyleNone
}

func (r *Rule) matchAt(scopes []string, depth int) (specificity, bool) {
	var best specificity
	found := false
	for _, sel := range r.Selectors {
		if !scopeMatches(sel.Scope, scopes[depth]) {
			continue
		}
		if !parentsMatch(sel.Parents, scopes[:depth]) {
			continue
		}
		if excluded(sel.Excludes, scopes) {
			continue
		}
		spec := specificity{segments: sel.Segments, parents: len(sel.Parents), index: r.Index}
		if !found || spec.beats(best) {
			best, found = spec, true
		}
	}
	return best, found
}

// scopeMatches reports whether selector is scope itself or a dot-segment
// ancestor of it: "keyword.control" matches "keyword.control.import.tsx" but
// not "keyword.controller".
func scopeMatches(selector, scope string) bool {
	if selector == scope {
		return true
	}
	return strings.HasPrefix(scope, selector) && scope[len(selector)] == '.'
}

// excluded reports whether any exclusion path matches somewhere in the stack.
func excluded(excludes [][]string, scopes []string) bool {
	for _, ex := range excludes {
		last := ex[len(ex)-1]
		for k := len(scopes) - 1; k >= 0; k-- {
			if scopeMatches(last, scopes[k]) && parentsMatch(ex[:len(ex)-1], scopes[:k]) {
				return true
			}
		}
	}
	return false
}

// parentsMatch checks descendant selectors against the enclosing scopes, in
// order, innermost parent first.
func parentsMatch(parents []string, outer []string) bool {
	j := len(outer) - 1
	for i := len(parents) - 1; i >= 0; i-- {
		for j >= 0 && !scopeMatches(parents[i], outer[j]) {
			j--
		}
		if j < 0 {
			return false
		}
		j--
	}
	return true
}
