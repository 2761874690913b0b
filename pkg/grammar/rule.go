package grammar

// RuleID is the handle a compiled grammar assigns to each rule. IDs are only
// meaningful inside the Grammar that assigned them.
type RuleID int

type Kind int

const (
	// KindContainer only groups patterns (the grammar root, include-only
	// repository items, captures with nested patterns).
	KindContainer Kind = iota
	KindMatch
	KindBeginEnd
	KindBeginWhile
	// KindInclude points at another grammar's scope and is resolved the
	// first time the scanner needs it.
	KindInclude
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindMatch:
		return "match"
	case KindBeginEnd:
		return "begin-end"
	case KindBeginWhile:
		return "begin-while"
	case KindInclude:
		return "include"
	default:
		return "unknown"
	}
}

type Rule struct {
	ID          RuleID
	Kind        Kind
	Name        string
	ContentName string

	// Match holds the match pattern, or the begin pattern of a block rule.
	Match *Regex
	// End holds the end (or while) pattern when it has no back-references.
	// EndSource is always set for block rules.
	End          *Regex
	EndSource    string
	EndBackrefs  bool
	EndLast      bool
	Captures     []*Capture
	EndCaptures  []*Capture
	Patterns     []RuleID
	Disabled     bool
	grammarScope string

	externalScope string
	externalRepo  string
}

// Capture names one group of a match. Rule is non-zero when the group is
// re-tokenized with nested patterns.
type Capture struct {
	Name string
	Rule RuleID
}

// Scope returns the scope of the grammar the rule was compiled from.
func (r *Rule) Scope() string {
	return r.grammarScope
}

// IsBlock reports whether the rule pushes a frame onto the stack.
func (r *Rule) IsBlock() bool {
	return r.Kind == KindBeginEnd || r.Kind == KindBeginWhile
}
