package highlight

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/walteh/tmtokens/pkg/grammar"
	"github.com/walteh/tmtokens/pkg/lexer"
	"gitlab.com/tozd/go/errors"
)

var ErrGrammarStateMismatch = errors.Base("grammar state mismatch")

const plainScope = "text.plain"

// GrammarState is an opaque checkpoint taken after the last line of a call.
// It can only be resumed by a call whose grammar has the same lineage.
type GrammarState struct {
	engine    uuid.UUID
	lineage   uint64
	scopeName string
	stack     *lexer.Stack
}

// Lineage identifies the compiled grammar that produced the state. Plain text
// states have lineage zero.
func (s *GrammarState) Lineage() uint64 {
	return s.lineage
}

func (s *GrammarState) ScopeName() string {
	return s.scopeName
}

// Depth is the number of open rules, including the grammar root.
func (s *GrammarState) Depth() int {
	if s.stack == nil {
		return 0
	}
	return s.stack.Depth()
}

func (s *GrammarState) String() string {
	if s.stack == nil {
		return fmt.Sprintf("%s@%d", s.scopeName, s.lineage)
	}
	return fmt.Sprintf("%s@%d [%s]", s.scopeName, s.lineage, s.stack)
}

// check validates a state handed back by a caller against the grammar about
// to be used. g is nil for plain text.
func (s *GrammarState) check(g *grammar.Grammar) error {
	if g == nil {
		if s.stack != nil {
			return errors.Errorf("%w: state for %s (lineage %d) cannot resume plain text", ErrGrammarStateMismatch, s.scopeName, s.lineage)
		}
		return nil
	}
	if s.stack == nil || s.lineage != g.ID() {
		return errors.Errorf("%w: state for %s (lineage %d, engine %s) cannot resume %s (lineage %d)",
			ErrGrammarStateMismatch, s.scopeName, s.lineage, s.engine, g.ScopeName(), g.ID())
	}
	return nil
}
