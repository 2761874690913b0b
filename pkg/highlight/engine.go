package highlight

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/walteh/tmtokens/pkg/grammar"
	"github.com/walteh/tmtokens/pkg/lexer"
	"github.com/walteh/tmtokens/pkg/theme"
	"gitlab.com/tozd/go/errors"
)

// Config wires an Engine to its grammar and theme sources.
type Config struct {
	Grammars grammar.Loader
	Themes   theme.Loader
	// Languages adds or overrides language id to scope name aliases.
	Languages map[string]string
	// MatchTimeout bounds a single regex match. Zero means no limit.
	MatchTimeout time.Duration
}

// Engine tokenizes and themes source text. It is safe for concurrent use;
// calls share compiled grammars and loaded themes but nothing else.
type Engine struct {
	id       uuid.UUID
	grammars *grammar.Registry
	themes   *theme.Store

	mu   sync.Mutex
	last *GrammarState
}

// New returns an engine with its own grammar registry and theme store.
// Nothing is loaded until the first call that needs it.
func New(cfg Config) *Engine {
	return &Engine{
		id: uuid.New(),
		grammars: grammar.NewRegistry(cfg.Grammars, grammar.Options{
			Languages:    cfg.Languages,
			MatchTimeout: cfg.MatchTimeout,
		}),
		themes: theme.NewStore(cfg.Themes),
	}
}

func (e *Engine) ID() uuid.UUID {
	return e.id
}

// Grammars exposes the engine's registry, mostly for listing and preloading.
func (e *Engine) Grammars() *grammar.Registry {
	return e.grammars
}

type options struct {
	state *GrammarState
}

type Option func(*options)

// WithGrammarState resumes tokenization from a state returned by an earlier
// call. The first line is then not treated as the start of the document.
func WithGrammarState(state *GrammarState) Option {
	return func(o *options) {
		o.state = state
	}
}

// Result is what TokenizeWithState returns: the themed lines and the state
// to pass to WithGrammarState when tokenizing the text that follows.
type Result struct {
	Lines [][]StyledToken
	State *GrammarState
}

// Tokenize returns the themed tokens of source, one slice per line. With one
// theme each token carries a style.Literal, with several a style.Indexed.
func (e *Engine) Tokenize(ctx context.Context, source, language string, themes []string, opts ...Option) ([][]StyledToken, error) {
	res, err := e.TokenizeWithState(ctx, source, language, themes, opts...)
	if err != nil {
		return nil, err
	}
	return res.Lines, nil
}

// TokenizeWithState is Tokenize that also returns the state after the last
// line, for callers that resume concurrently and cannot rely on
// GrammarState.
func (e *Engine) TokenizeWithState(ctx context.Context, source, language string, themes []string, opts ...Option) (*Result, error) {
	s, err := e.open(ctx, language, themes, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	err = s.run(ctx, source, func(line []StyledToken) bool {
		res.Lines = append(res.Lines, line)
		return true
	})
	if err != nil {
		return nil, err
	}

	res.State = s.finish()
	return res, nil
}

// Stream yields the same lines as Tokenize, one at a time. Nothing is loaded
// or tokenized until the sequence is iterated, and breaking out of the loop
// stops the work. A failure is yielded once as the error of the last pair.
func (e *Engine) Stream(ctx context.Context, source, language string, themes []string, opts ...Option) iter.Seq2[[]StyledToken, error] {
	return func(yield func([]StyledToken, error) bool) {
		s, err := e.open(ctx, language, themes, opts)
		if err != nil {
			yield(nil, err)
			return
		}

		stopped := false
		err = s.run(ctx, source, func(line []StyledToken) bool {
			if !yield(line, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil {
			yield(nil, err)
			return
		}
		if stopped {
			zerolog.Ctx(ctx).Debug().Str("engine", e.id.String()).Msg("stream abandoned by consumer")
			return
		}
		s.finish()
	}
}

// GrammarState returns the state left by the most recently completed call on
// this engine, or nil before the first call.
func (e *Engine) GrammarState() *GrammarState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Close releases every compiled grammar and loaded theme.
func (e *Engine) Close() {
	e.grammars.Close()
	e.themes.Close()
}

// session is the per-call state of one tokenize or stream call.
type session struct {
	e      *Engine
	lex    *lexer.Lexer
	themes []*theme.Theme
	scope  string

	stack     *lexer.Stack
	firstLine bool
}

func (e *Engine) open(ctx context.Context, language string, names []string, opts []Option) (*session, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	themes, err := e.themes.Themes(ctx, names)
	if err != nil {
		return nil, errors.Errorf("loading themes: %w", err)
	}

	s := &session{e: e, themes: themes, firstLine: true, scope: plainScope}

	if !grammar.IsPlainText(language) {
		g, err := e.grammars.Grammar(ctx, language)
		if err != nil {
			return nil, err
		}
		s.lex = lexer.New(g)
		s.scope = g.ScopeName()
		s.stack = s.lex.InitialStack()
	}

	if o.state != nil {
		var g *grammar.Grammar
		if s.lex != nil {
			g = s.lex.Grammar()
		}
		if err := o.state.check(g); err != nil {
			return nil, err
		}
		if o.state.stack != nil {
			s.stack = o.state.stack
		}
		s.firstLine = false

		zerolog.Ctx(ctx).Debug().
			Str("engine", e.id.String()).
			Str("state", o.state.String()).
			Msg("resuming from grammar state")
	}

	return s, nil
}

func (s *session) run(ctx context.Context, source string, emit func([]StyledToken) bool) error {
	var err error
	lines(source, func(offset int, line string) bool {
		if err = ctx.Err(); err != nil {
			return false
		}

		var out []StyledToken
		out, err = s.line(ctx, offset, line)
		if err != nil {
			return false
		}
		return emit(out)
	})
	return err
}

func (s *session) line(ctx context.Context, offset int, line string) ([]StyledToken, error) {
	if s.lex == nil {
		if line == "" {
			return []StyledToken{}, nil
		}
		return []StyledToken{plainToken(line, offset, s.themes)}, nil
	}

	res, err := s.lex.TokenizeLine(ctx, line, s.stack, s.firstLine)
	if err != nil {
		return nil, errors.Errorf("tokenizing line at offset %d: %w", offset, err)
	}
	s.stack = res.Stack
	s.firstLine = false

	out := make([]StyledToken, len(res.Tokens))
	for i, tok := range res.Tokens {
		out[i] = styleToken(tok, offset, s.themes)
	}
	return out, nil
}

func (s *session) finish() *GrammarState {
	state := &GrammarState{
		engine:    s.e.id,
		scopeName: s.scope,
		stack:     s.stack,
	}
	if s.lex != nil {
		state.lineage = s.lex.Grammar().ID()
	}

	s.e.mu.Lock()
	s.e.last = state
	s.e.mu.Unlock()

	return state
}
