package grammar_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/tmtokens/internal/fixtures"
	"github.com/walteh/tmtokens/pkg/grammar"
	"github.com/walteh/tmtokens/pkg/tmlanguage"
	"gitlab.com/tozd/go/errors"
)

func testContext() context.Context {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	return logger.WithContext(context.Background())
}

// countingLoader records how many times each scope was requested.
type countingLoader struct {
	inner grammar.Loader
	delay time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func newCountingLoader(delay time.Duration) *countingLoader {
	return &countingLoader{inner: fixtures.Loader(), delay: delay, calls: map[string]int{}}
}

func (c *countingLoader) LoadGrammar(ctx context.Context, scope string) (*tmlanguage.Grammar, error) {
	c.mu.Lock()
	c.calls[scope]++
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.inner.LoadGrammar(ctx, scope)
}

func (c *countingLoader) count(scope string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[scope]
}

func TestResolveScope(t *testing.T) {
	tests := []struct {
		name      string
		language  string
		overrides map[string]string
		want      string
	}{
		{name: "alias", language: "sh", want: "source.shell"},
		{name: "alias is case insensitive", language: "TSX", want: "source.tsx"},
		{name: "scope name", language: "text.html.basic", want: "text.html.basic"},
		{name: "unknown language", language: "cobol", want: "source.cobol"},
		{name: "override wins", language: "sh", overrides: map[string]string{"sh": "source.zsh"}, want: "source.zsh"},
		{name: "override lowercase", language: "Foo", overrides: map[string]string{"foo": "source.bar"}, want: "source.bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, grammar.ResolveScope(tt.language, tt.overrides))
		})
	}

	assert.True(t, grammar.IsPlainText("plaintext"))
	assert.True(t, grammar.IsPlainText("TXT"))
	assert.True(t, grammar.IsPlainText(""))
	assert.False(t, grammar.IsPlainText("sh"))
}

func TestRegistry(t *testing.T) {
	ctx := testContext()

	t.Run("test_concurrent_loads_are_deduplicated", func(t *testing.T) {
		loader := newCountingLoader(20 * time.Millisecond)
		reg := grammar.NewRegistry(loader, grammar.Options{})

		const n = 16
		results := make([]*grammar.Grammar, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				g, err := reg.Grammar(ctx, "sh")
				assert.NoError(t, err)
				results[i] = g
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, loader.count("source.shell"), "loader should be called once")
		for _, g := range results {
			assert.Same(t, results[0], g, "every caller should get the same compiled grammar")
		}
	})

	t.Run("test_alias_and_scope_share_a_grammar", func(t *testing.T) {
		reg := grammar.NewRegistry(fixtures.Loader(), grammar.Options{})

		a, err := reg.Grammar(ctx, "bash")
		require.NoError(t, err)
		b, err := reg.Grammar(ctx, "source.shell")
		require.NoError(t, err)
		assert.Same(t, a, b)
		assert.Equal(t, "source.shell", a.ScopeName())
	})

	t.Run("test_grammar_not_found", func(t *testing.T) {
		reg := grammar.NewRegistry(fixtures.Loader(), grammar.Options{})

		_, err := reg.Grammar(ctx, "cobol")
		require.Error(t, err)
		assert.True(t, errors.Is(err, grammar.ErrGrammarNotFound), "got %v", err)
		assert.Contains(t, err.Error(), "source.cobol")
	})

	t.Run("test_nil_descriptor_is_not_found", func(t *testing.T) {
		reg := grammar.NewRegistry(grammar.LoaderFunc(func(ctx context.Context, scope string) (*tmlanguage.Grammar, error) {
			return nil, nil
		}), grammar.Options{})

		_, err := reg.Grammar(ctx, "source.nothing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, grammar.ErrGrammarNotFound))
		assert.Contains(t, err.Error(), "source.nothing")
	})

	t.Run("test_loader_errors_surface_unmodified", func(t *testing.T) {
		boom := errors.Base("disk on fire")
		reg := grammar.NewRegistry(grammar.LoaderFunc(func(ctx context.Context, scope string) (*tmlanguage.Grammar, error) {
			return nil, boom
		}), grammar.Options{})

		_, err := reg.Grammar(ctx, "sh")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("test_registries_do_not_share_lineages", func(t *testing.T) {
		a, err := grammar.NewRegistry(fixtures.Loader(), grammar.Options{}).Grammar(ctx, "sh")
		require.NoError(t, err)
		b, err := grammar.NewRegistry(fixtures.Loader(), grammar.Options{}).Grammar(ctx, "sh")
		require.NoError(t, err)

		assert.NotSame(t, a, b)
		assert.NotEqual(t, a.ID(), b.ID())
		assert.Equal(t, a.Root(), b.Root(), "compilation is deterministic")
		assert.NotSame(t, a.Rule(a.Root()), b.Rule(b.Root()))
	})

	t.Run("test_embedded_grammar_is_loaded_lazily", func(t *testing.T) {
		loader := newCountingLoader(0)
		reg := grammar.NewRegistry(loader, grammar.Options{})

		g, err := reg.Grammar(ctx, "html")
		require.NoError(t, err)

		candidates, err := g.Candidates(ctx, g.Root())
		require.NoError(t, err)
		require.NotEmpty(t, candidates)
		assert.Equal(t, 0, loader.count("source.css"), "css is not needed until a style block opens")

		var style *grammar.Rule
		for _, c := range candidates {
			if c.Name == "meta.embedded.block.style.html" {
				style = c
			}
		}
		require.NotNil(t, style)

		inner, err := g.Candidates(ctx, style.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, loader.count("source.css"))

		var scopes []string
		for _, c := range inner {
			scopes = append(scopes, c.Scope())
		}
		assert.Contains(t, scopes, "source.css")
	})

	t.Run("test_missing_embedded_grammar_is_empty", func(t *testing.T) {
		inner := fixtures.Loader()
		reg := grammar.NewRegistry(grammar.LoaderFunc(func(ctx context.Context, scope string) (*tmlanguage.Grammar, error) {
			if scope == "source.css" {
				return nil, errors.Errorf("%w: %s", grammar.ErrGrammarNotFound, scope)
			}
			return inner.LoadGrammar(ctx, scope)
		}), grammar.Options{})

		g, err := reg.Grammar(ctx, "html")
		require.NoError(t, err)

		candidates, err := g.Candidates(ctx, g.Root())
		require.NoError(t, err)
		for _, c := range candidates {
			if c.IsBlock() && c.Name == "meta.embedded.block.style.html" {
				inner, err := g.Candidates(ctx, c.ID)
				require.NoError(t, err)
				assert.Empty(t, inner)
			}
		}
	})

	t.Run("test_canceled_caller_does_not_fail_shared_load", func(t *testing.T) {
		inner := fixtures.Loader()
		var calls atomic.Int32
		started := make(chan struct{})
		release := make(chan struct{})
		reg := grammar.NewRegistry(grammar.LoaderFunc(func(ctx context.Context, scope string) (*tmlanguage.Grammar, error) {
			if calls.Add(1) == 1 {
				close(started)
			}
			select {
			case <-release:
				return inner.LoadGrammar(ctx, scope)
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}), grammar.Options{})

		first, cancel := context.WithCancel(ctx)
		firstErr := make(chan error, 1)
		go func() {
			_, err := reg.Grammar(first, "sh")
			firstErr <- err
		}()
		<-started

		second := make(chan error, 1)
		var g *grammar.Grammar
		go func() {
			var err error
			g, err = reg.Grammar(ctx, "sh")
			second <- err
		}()

		cancel()
		assert.ErrorIs(t, <-firstErr, context.Canceled)

		close(release)
		require.NoError(t, <-second)
		assert.Equal(t, "source.shell", g.ScopeName())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("test_closed_registry", func(t *testing.T) {
		reg := grammar.NewRegistry(fixtures.Loader(), grammar.Options{})
		reg.Close()

		_, err := reg.Grammar(ctx, "sh")
		assert.True(t, errors.Is(err, grammar.ErrRegistryClosed))
	})
}

func TestCompile(t *testing.T) {
	ctx := testContext()

	desc := &tmlanguage.Grammar{
		ScopeName: "source.test",
		Patterns: []tmlanguage.Pattern{
			{Include: "#broken"},
			{Include: "#word"},
			{Include: "#block"},
			{Include: "#unknown"},
			{Match: "never", Disabled: true},
		},
		Repository: map[string]tmlanguage.Pattern{
			"broken": {Match: "(unclosed", Name: "invalid.test"},
			"word":   {Match: `\w+`, Name: "word.test"},
			"block": {
				Begin:       `(<)(\w+)`,
				End:         `(</)\2(>)`,
				Name:        "meta.block.test",
				ContentName: "meta.content.test",
				Patterns:    []tmlanguage.Pattern{{Include: "$self"}},
			},
		},
	}

	reg := grammar.NewRegistry(grammar.LoaderFunc(func(ctx context.Context, scope string) (*tmlanguage.Grammar, error) {
		if scope != "source.test" {
			return nil, errors.Errorf("%w: %s", grammar.ErrGrammarNotFound, scope)
		}
		return desc, nil
	}), grammar.Options{})

	g, err := reg.Grammar(ctx, "source.test")
	require.NoError(t, err, "a broken pattern must not fail the grammar")

	candidates, err := g.Candidates(ctx, g.Root())
	require.NoError(t, err)

	var names []string
	for _, c := range candidates {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"word.test", "meta.block.test"}, names, "broken and disabled rules are skipped")

	block := candidates[1]
	assert.Equal(t, grammar.KindBeginEnd, block.Kind)
	assert.True(t, block.EndBackrefs)
	assert.Nil(t, block.End)

	nested, err := g.Candidates(ctx, block.ID)
	require.NoError(t, err)
	assert.Len(t, nested, 2, "$self pulls the root patterns back in")
	assert.Equal(t, "begin-end", block.Kind.String())
}
