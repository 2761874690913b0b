// Package lexer walks source lines through a compiled grammar and produces
// scoped tokens. One Lexer may serve any number of goroutines; all per-call
// state lives in the Stack values passed between lines.
package lexer

import (
	"context"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/rs/zerolog"
	"github.com/walteh/tmtokens/pkg/grammar"
	"gitlab.com/tozd/go/errors"
)

// Token is a raw lexical token. Offsets are byte offsets into the line.
type Token struct {
	Start  int
	End    int
	Value  string
	Scopes []string
}

// Scope returns the innermost scope of the token.
func (t Token) Scope() string {
	if len(t.Scopes) == 0 {
		return ""
	}
	return t.Scopes[len(t.Scopes)-1]
}

type LineResult struct {
	Tokens []Token
	Stack  *Stack
}

type Lexer struct {
	g *grammar.Grammar
}

func New(g *grammar.Grammar) *Lexer {
	return &Lexer{g: g}
}

func (l *Lexer) Grammar() *grammar.Grammar {
	return l.g
}

// InitialStack is the state before the first line of a document.
func (l *Lexer) InitialStack() *Stack {
	return newStack(l.g.Root(), l.g.ScopeName())
}

// TokenizeLine tokenizes a single line (without its terminator) starting from
// prev. A nil prev means the initial stack. firstLine controls whether \A may
// match.
func (l *Lexer) TokenizeLine(ctx context.Context, line string, prev *Stack, firstLine bool) (*LineResult, error) {
	if prev == nil {
		prev = l.InitialStack()
	}

	text := make([]rune, 0, len(line)+1)
	offsets := make([]int, 0, len(line)+2)
	for i, r := range line {
		text = append(text, r)
		offsets = append(offsets, i)
	}
	lineLen := len(text)
	offsets = append(offsets, len(line))
	text = append(text, '\n')

	frames := make([]Frame, len(prev.frames))
	copy(frames, prev.frames)
	for i := range frames {
		frames[i].enterPos = -1
		frames[i].anchorPos = -1
	}

	s := &scan{
		ctx:       ctx,
		g:         l.g,
		firstLine: firstLine,
		em:        &emitter{lineLen: lineLen},
	}

	frames, pos, err := s.checkWhile(frames, text)
	if err != nil {
		return nil, err
	}

	frames, err = s.run(frames, pos, lineLen, text)
	if err != nil {
		return nil, err
	}

	s.em.produce(frames[len(frames)-1].ContentScopes, lineLen)

	tokens := make([]Token, len(s.em.spans))
	for i, sp := range s.em.spans {
		start, end := offsets[sp.start], offsets[sp.end]
		tokens[i] = Token{
			Start:  start,
			End:    end,
			Value:  line[start:end],
			Scopes: sp.scopes,
		}
	}

	return &LineResult{Tokens: tokens, Stack: &Stack{frames: frames}}, nil
}

type span struct {
	start, end int
	scopes     []string
}

type emitter struct {
	lineLen int
	last    int
	spans   []span
}

func (e *emitter) produce(scopes []string, end int) {
	if end > e.lineLen {
		end = e.lineLen
	}
	if end <= e.last {
		return
	}
	e.spans = append(e.spans, span{start: e.last, end: end, scopes: scopes})
	e.last = end
}

type scan struct {
	ctx       context.Context
	g         *grammar.Grammar
	firstLine bool
	em        *emitter
}

type found struct {
	rule  *grammar.Rule
	isEnd bool
	m     *regexp2.Match
	start int
	end   int
}

func (s *scan) rule(id grammar.RuleID) (*grammar.Rule, error) {
	r := s.g.Rule(id)
	if r == nil {
		return nil, errors.Errorf("unknown rule id %d in grammar %s (lineage %d)", id, s.g.ScopeName(), s.g.ID())
	}
	return r, nil
}

func (s *scan) endRegex(r *grammar.Rule, f Frame) *grammar.Regex {
	if r.End != nil && !r.EndBackrefs {
		return r.End
	}
	return s.g.DynamicRegex(f.EndSource)
}

func (s *scan) find(re *grammar.Regex, text []rune, pos int, allowG bool) *regexp2.Match {
	m, err := re.Find(text, pos, s.firstLine, allowG)
	if err != nil {
		zerolog.Ctx(s.ctx).Warn().Err(err).Str("scope", s.g.ScopeName()).Msg("pattern failed, treating as no match")
		return nil
	}
	return m
}

// run scans text from pos until limit, pushing and popping frames as block
// rules begin and end. It returns the frames left open.
func (s *scan) run(frames []Frame, pos, limit int, text []rune) ([]Frame, error) {
	for pos <= limit {
		top := frames[len(frames)-1]

		next, err := s.next(top, pos, text)
		if err != nil {
			return nil, err
		}
		if next == nil {
			s.em.produce(top.ContentScopes, limit)
			return frames, nil
		}

		s.em.produce(top.ContentScopes, next.start)
		advanced := next.end > pos

		if next.isEnd {
			s.captures(top.NameScopes, next.rule.EndCaptures, next.m, text)
			s.em.produce(top.NameScopes, next.end)
			frames = frames[:len(frames)-1]
			if !advanced && top.enterPos == pos {
				// pushed and popped without advancing; keep the frame and give up on the line
				frames = append(frames, top)
				s.em.produce(top.ContentScopes, limit)
				return frames, nil
			}
			pos = next.end
			continue
		}

		r := next.rule
		scopes := appendScopes(top.ContentScopes, substitute(r.Name, next.m))

		switch r.Kind {
		case grammar.KindMatch:
			s.captures(scopes, r.Captures, next.m, text)
			s.em.produce(scopes, next.end)
			if !advanced {
				s.em.produce(top.ContentScopes, limit)
				return frames, nil
			}
		case grammar.KindBeginEnd, grammar.KindBeginWhile:
			s.captures(scopes, r.Captures, next.m, text)
			s.em.produce(scopes, next.end)

			if !advanced && reentered(frames, r.ID, pos) {
				s.em.produce(top.ContentScopes, limit)
				return frames, nil
			}

			endSource := r.EndSource
			if r.EndBackrefs {
				endSource = grammar.ResolveBackReferences(endSource, next.m)
			}
			frames = append(frames, Frame{
				Rule:          r.ID,
				NameScopes:    scopes,
				ContentScopes: appendScopes(scopes, substitute(r.ContentName, next.m)),
				EndSource:     endSource,
				enterPos:      pos,
				anchorPos:     next.end,
			})
		}

		pos = next.end
	}

	return frames, nil
}

// reentered reports whether rule id is already open at pos, i.e. pushing it
// again without advancing would loop forever.
func reentered(frames []Frame, id grammar.RuleID, pos int) bool {
	for i := len(frames) - 1; i >= 0 && frames[i].enterPos == pos; i-- {
		if frames[i].Rule == id {
			return true
		}
	}
	return false
}

// next finds the earliest match among the frame's end pattern and its
// candidate rules. Ties go to whichever is tried first.
func (s *scan) next(top Frame, pos int, text []rune) (*found, error) {
	r, err := s.rule(top.Rule)
	if err != nil {
		return nil, err
	}

	candidates, err := s.g.Candidates(s.ctx, top.Rule)
	if err != nil {
		return nil, err
	}

	allowG := top.anchorPos == pos

	var best *found
	consider := func(f *found) bool {
		if best == nil || f.start < best.start {
			best = f
		}
		return best.start == pos
	}

	tryEnd := func() bool {
		m := s.find(s.endRegex(r, top), text, pos, allowG)
		if m == nil {
			return false
		}
		return consider(&found{rule: r, isEnd: true, m: m, start: m.Index, end: m.Index + m.Length})
	}

	hasEnd := r.Kind == grammar.KindBeginEnd
	if hasEnd && !r.EndLast && tryEnd() {
		return best, nil
	}

	for _, c := range candidates {
		m := s.find(c.Match, text, pos, allowG)
		if m == nil {
			continue
		}
		if consider(&found{rule: c, m: m, start: m.Index, end: m.Index + m.Length}) {
			return best, nil
		}
	}

	if hasEnd && r.EndLast {
		tryEnd()
	}

	return best, nil
}

// checkWhile runs the while conditions of open begin/while frames at the start
// of a line, outermost first. The first failing condition pops its frame and
// everything above it.
func (s *scan) checkWhile(frames []Frame, text []rune) ([]Frame, int, error) {
	pos := 0
	anchor := -1
	for i := 1; i < len(frames); i++ {
		f := frames[i]
		r, err := s.rule(f.Rule)
		if err != nil {
			return nil, 0, err
		}
		if r.Kind != grammar.KindBeginWhile {
			continue
		}

		m := s.find(s.endRegex(r, f), text, pos, anchor == pos)
		if m == nil {
			frames = frames[:i]
			break
		}

		end := m.Index + m.Length
		s.em.produce(f.ContentScopes, m.Index)
		s.captures(f.ContentScopes, r.EndCaptures, m, text)
		s.em.produce(f.ContentScopes, end)

		anchor = end
		if end > pos {
			pos = end
			s.firstLine = false
		}
		frames[i].anchorPos = anchor
	}
	return frames, pos, nil
}

func (s *scan) captures(base []string, caps []*grammar.Capture, m *regexp2.Match, text []rune) {
	if len(caps) == 0 {
		return
	}

	type open struct {
		scopes []string
		end    int
	}
	var stack []open
	current := func() []string {
		if len(stack) == 0 {
			return base
		}
		return stack[len(stack)-1].scopes
	}

	for i, c := range caps {
		if c == nil {
			continue
		}
		g := m.GroupByNumber(i)
		if g == nil || len(g.Captures) == 0 || g.Length == 0 {
			continue
		}
		start, end := g.Index, g.Index+g.Length
		if start > s.em.lineLen {
			break
		}

		for len(stack) > 0 && stack[len(stack)-1].end <= start {
			top := stack[len(stack)-1]
			s.em.produce(top.scopes, top.end)
			stack = stack[:len(stack)-1]
		}

		parent := current()
		s.em.produce(parent, start)
		scopes := appendScopes(parent, substitute(c.Name, m))

		if c.Rule != 0 {
			sub := []Frame{{
				Rule:          c.Rule,
				NameScopes:    scopes,
				ContentScopes: scopes,
				enterPos:      start,
				anchorPos:     -1,
			}}
			if _, err := s.run(sub, start, end, text[:end]); err != nil {
				zerolog.Ctx(s.ctx).Warn().Err(err).Msg("re-tokenizing capture")
				s.em.produce(scopes, end)
			}
			continue
		}

		if c.Name != "" {
			stack = append(stack, open{scopes: scopes, end: end})
		}
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		s.em.produce(top.scopes, top.end)
		stack = stack[:len(stack)-1]
	}
}

var captureReference = regexp2.MustCompile(`\$(\d+)|\$\{(\d+):\/(downcase|upcase)\}`, regexp2.None)

// substitute expands $n, ${n:/downcase} and ${n:/upcase} in a scope name with
// the text of capture group n.
func substitute(name string, m *regexp2.Match) string {
	if !strings.Contains(name, "$") {
		return name
	}
	out, err := captureReference.ReplaceFunc(name, func(ref regexp2.Match) string {
		num := ref.GroupByNumber(1).String()
		command := ""
		if num == "" {
			num = ref.GroupByNumber(2).String()
			command = ref.GroupByNumber(3).String()
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return ""
		}
		g := m.GroupByNumber(n)
		if g == nil || len(g.Captures) == 0 {
			return ""
		}
		v := strings.TrimLeft(g.String(), ".")
		switch command {
		case "downcase":
			return strings.ToLower(v)
		case "upcase":
			return strings.ToUpper(v)
		}
		return v
	}, -1, -1)
	if err != nil {
		return name
	}
	return out
}
