package lexer

import (
	"slices"
	"strings"

	"github.com/walteh/tmtokens/pkg/grammar"
)

// Frame is one entry of the rule stack: a block rule that has begun and not
// yet ended, or the grammar root.
type Frame struct {
	Rule grammar.RuleID
	// NameScopes are the scopes up to and including the rule's name.
	NameScopes []string
	// ContentScopes add the rule's contentName.
	ContentScopes []string
	// EndSource is the end (or while) pattern with back-references resolved.
	EndSource string

	enterPos  int
	anchorPos int
}

// Stack is the immutable state threaded from one line to the next.
type Stack struct {
	frames []Frame
}

func newStack(root grammar.RuleID, scopeName string) *Stack {
	scopes := []string{scopeName}
	return &Stack{frames: []Frame{{
		Rule:          root,
		NameScopes:    scopes,
		ContentScopes: scopes,
		enterPos:      -1,
		anchorPos:     -1,
	}}}
}

func (s *Stack) Depth() int {
	return len(s.frames)
}

// Top returns the innermost frame.
func (s *Stack) Top() Frame {
	return s.frames[len(s.frames)-1]
}

// Frames returns a copy of the frames, outermost first.
func (s *Stack) Frames() []Frame {
	return slices.Clone(s.frames)
}

// Equal compares rule ids, scopes and resolved end patterns frame by frame.
func (s *Stack) Equal(o *Stack) bool {
	if s == nil || o == nil {
		return s == o
	}
	return slices.EqualFunc(s.frames, o.frames, func(a, b Frame) bool {
		return a.Rule == b.Rule &&
			a.EndSource == b.EndSource &&
			slices.Equal(a.NameScopes, b.NameScopes) &&
			slices.Equal(a.ContentScopes, b.ContentScopes)
	})
}

func (s *Stack) String() string {
	parts := make([]string, len(s.frames))
	for i, f := range s.frames {
		parts[i] = strings.Join(f.ContentScopes, " ")
	}
	return strings.Join(parts, " > ")
}

func appendScopes(base []string, name string) []string {
	if name == "" {
		return base
	}
	extra := strings.Fields(name)
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
