package grammar

import (
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"gitlab.com/tozd/go/errors"
)

var ErrRegexCompile = errors.Base("regex compile failed")

// never matches in practice; stands in for \A and \G where they cannot apply
const unmatchable = `\uFFFF`

var backReference = regexp2.MustCompile(`\\(\d+)`, regexp2.None)

// Regex is a grammar pattern compiled lazily in up to four variants: with or
// without \A allowed (first line of the document) and with or without \G
// allowed (scanning from the position the current rule was entered).
type Regex struct {
	Source string

	timeout  time.Duration
	anchors  bool
	variants [4]struct {
		once sync.Once
		re   *regexp2.Regexp
		err  error
	}
}

func newRegex(source string, timeout time.Duration) *Regex {
	return &Regex{
		Source:  source,
		timeout: timeout,
		anchors: hasAnchors(source),
	}
}

// Compile forces compilation of the default variant so broken patterns can be
// reported when the grammar is compiled rather than on first use.
func (r *Regex) Compile() error {
	_, err := r.variant(true, true)
	return err
}

// Find returns the first match at or after pos. A nil match means no match.
func (r *Regex) Find(text []rune, pos int, allowA, allowG bool) (*regexp2.Match, error) {
	re, err := r.variant(allowA, allowG)
	if err != nil {
		return nil, err
	}
	m, err := re.FindRunesMatchStartingAt(text, pos)
	if err != nil {
		return nil, errors.Errorf("matching %q: %w", r.Source, err)
	}
	return m, nil
}

func (r *Regex) variant(allowA, allowG bool) (*regexp2.Regexp, error) {
	if !r.anchors {
		allowA, allowG = true, true
	}
	idx := 0
	if allowA {
		idx |= 1
	}
	if allowG {
		idx |= 2
	}
	v := &r.variants[idx]
	v.once.Do(func() {
		src := r.Source
		if r.anchors {
			src = replaceAnchors(src, allowA, allowG)
		}
		re, err := regexp2.Compile(src, regexp2.None)
		if err != nil {
			v.err = errors.Errorf("%w: %q: %s", ErrRegexCompile, r.Source, err.Error())
			return
		}
		if r.timeout > 0 {
			re.MatchTimeout = r.timeout
		}
		v.re = re
	})
	return v.re, v.err
}

func hasAnchors(src string) bool {
	for i := 0; i < len(src)-1; i++ {
		if src[i] != '\\' {
			continue
		}
		if src[i+1] == 'A' || src[i+1] == 'G' {
			return true
		}
		i++
	}
	return false
}

func replaceAnchors(src string, allowA, allowG bool) string {
	var sb strings.Builder
	for i := 0; i < len(src); i++ {
		if src[i] != '\\' || i+1 >= len(src) {
			sb.WriteByte(src[i])
			continue
		}
		next := src[i+1]
		switch {
		case next == 'A' && !allowA, next == 'G' && !allowG:
			sb.WriteString(unmatchable)
		default:
			sb.WriteByte('\\')
			sb.WriteByte(next)
		}
		i++
	}
	return sb.String()
}

// HasBackReferences reports whether an end/while source refers to begin
// captures (\1, \2, ...).
func HasBackReferences(src string) bool {
	ok, _ := backReference.MatchString(src)
	return ok
}

// ResolveBackReferences substitutes \n in src with the escaped text of group n
// of the begin match.
func ResolveBackReferences(src string, begin *regexp2.Match) string {
	out, err := backReference.ReplaceFunc(src, func(m regexp2.Match) string {
		n := 0
		for _, c := range m.GroupByNumber(1).String() {
			n = n*10 + int(c-'0')
		}
		g := begin.GroupByNumber(n)
		if g == nil || len(g.Captures) == 0 {
			return ""
		}
		return regexp2.Escape(g.String())
	}, -1, -1)
	if err != nil {
		return src
	}
	return out
}
