package highlight_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/tmtokens/internal/fixtures"
	"github.com/walteh/tmtokens/pkg/diff"
	"github.com/walteh/tmtokens/pkg/grammar"
	"github.com/walteh/tmtokens/pkg/highlight"
	"github.com/walteh/tmtokens/pkg/style"
	"github.com/walteh/tmtokens/pkg/theme"
	"github.com/walteh/tmtokens/pkg/tmlanguage"
	"gitlab.com/tozd/go/errors"
)

func testContext() context.Context {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	return logger.WithContext(context.Background())
}

func newEngine() *highlight.Engine {
	ld := fixtures.Loader()
	return highlight.New(highlight.Config{Grammars: ld, Themes: ld})
}

var light = []string{fixtures.LightTheme}

func find(t *testing.T, lines [][]highlight.StyledToken, value string) highlight.StyledToken {
	t.Helper()
	for _, line := range lines {
		for _, tok := range line {
			if tok.Value == value {
				return tok
			}
		}
	}
	t.Fatalf("no token %q", value)
	return highlight.StyledToken{}
}

func TestTokenize(t *testing.T) {
	ctx := testContext()
	e := newEngine()

	lines, err := e.Tokenize(ctx, "npm install x\n# done\n", "sh", light)
	require.NoError(t, err)
	require.Len(t, lines, 3, "a trailing newline gives a final empty line")
	assert.Empty(t, lines[2])

	want := [][]highlight.StyledToken{
		{
			{
				Value:  "npm",
				Start:  0,
				End:    3,
				Scopes: []string{"source.shell", "entity.name.command.shell"},
				Style:  style.Literal{Style: style.Style{Color: "#6f42c1"}},
			},
			{
				Value:       " install x",
				Start:       3,
				End:         13,
				Scopes:      []string{"source.shell"},
				Style:       style.Literal{Style: style.Style{Color: "#24292e"}},
				IsBaseColor: true,
			},
		},
		{
			{
				Value:         "#",
				Start:         14,
				End:           15,
				Scopes:        []string{"source.shell", "comment.line.number-sign.shell", "punctuation.definition.comment.shell"},
				Style:         style.Literal{Style: style.Style{Color: "#6a737d", FontStyle: style.Italic}},
				HasTextStyles: true,
			},
			{
				Value:         " done",
				Start:         15,
				End:           20,
				Scopes:        []string{"source.shell", "comment.line.number-sign.shell"},
				Style:         style.Literal{Style: style.Style{Color: "#6a737d", FontStyle: style.Italic}},
				HasTextStyles: true,
			},
		},
	}

	if d := diff.DiffExportedOnly(want, lines[:2]); d != "" {
		t.Fatalf("unexpected tokens: %s", d)
	}
}

func TestMultiTheme(t *testing.T) {
	ctx := testContext()
	e := newEngine()
	both := []string{fixtures.LightTheme, fixtures.DarkTheme}

	lines, err := e.Tokenize(ctx, "import x from 'y'", "tsx", both)
	require.NoError(t, err)

	imp := find(t, lines, "import")
	assert.Equal(t, map[string]string{
		"--0fg": "#6f42c1",
		"--1fg": "#b392f0",
		"--1fw": "bold",
	}, imp.Style.Properties())
	assert.True(t, imp.HasTextStyles)
	assert.False(t, imp.IsBaseColor)
	_, isIndexed := imp.Style.(style.Indexed)
	assert.True(t, isIndexed)

	plain := find(t, lines, " x ")
	assert.True(t, plain.IsBaseColor)
	assert.False(t, plain.IsWhitespace)
	assert.Equal(t, map[string]string{"--0fg": "#24292e", "--1fg": "#e1e4e8"}, plain.Style.Properties())

	t.Run("test_slots_match_single_theme_calls", func(t *testing.T) {
		src := "import { a } from \"b\"\n/* c */ const d = f(1.5)\nexport e"
		multi, err := e.Tokenize(ctx, src, "tsx", both)
		require.NoError(t, err)

		for k, name := range both {
			single, err := e.Tokenize(ctx, src, "tsx", []string{name})
			require.NoError(t, err)
			require.Len(t, multi, len(single))

			for i := range single {
				require.Len(t, multi[i], len(single[i]))
				for j := range single[i] {
					got, ok := multi[i][j].Style.Slot(k)
					require.True(t, ok)
					want, _ := single[i][j].Style.Slot(0)
					assert.Equal(t, want, got, "line %d token %q theme %s", i, single[i][j].Value, name)
					assert.Equal(t, single[i][j].Scopes, multi[i][j].Scopes)
				}
			}
		}
	})
}

func TestPlainText(t *testing.T) {
	ctx := testContext()
	e := newEngine()

	lines, err := e.Tokenize(ctx, "hello\n\n  \r\nworld", "plaintext", light)
	require.NoError(t, err)
	require.Len(t, lines, 4)

	assert.Equal(t, []highlight.StyledToken{{
		Value:       "hello",
		Start:       0,
		End:         5,
		Scopes:      []string{"text.plain"},
		Style:       style.Literal{Style: style.Style{Color: "#24292e"}},
		IsBaseColor: true,
	}}, lines[0])
	assert.Empty(t, lines[1])

	require.Len(t, lines[2], 1)
	assert.True(t, lines[2][0].IsWhitespace)
	assert.Equal(t, 7, lines[2][0].Start)
	assert.Equal(t, 9, lines[2][0].End)

	require.Len(t, lines[3], 1)
	assert.Equal(t, 11, lines[3][0].Start)

	state := e.GrammarState()
	require.NotNil(t, state)
	assert.Equal(t, uint64(0), state.Lineage())
	assert.Equal(t, "text.plain", state.ScopeName())
	assert.Equal(t, 0, state.Depth())
}

func TestCRLF(t *testing.T) {
	ctx := testContext()
	lines, err := newEngine().Tokenize(ctx, "echo a\r\necho b", "sh", light)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, " a", lines[0][len(lines[0])-1].Value, "the carriage return belongs to no token")
	assert.Equal(t, 8, lines[1][0].Start)
	assert.Equal(t, "echo", lines[1][0].Value)
}

func TestEmbeddedLanguage(t *testing.T) {
	ctx := testContext()
	src := "<style>.a { color: #fff; }</style>"

	t.Run("test_css_inside_html", func(t *testing.T) {
		lines, err := newEngine().Tokenize(ctx, src, "html", light)
		require.NoError(t, err)

		sel := find(t, lines, ".a")
		assert.Equal(t, []string{"text.html.basic", "meta.embedded.block.style.html", "source.css.embedded.html", "entity.name.selector.css"}, sel.Scopes)
		assert.Equal(t, map[string]string{"color": "#22863a"}, sel.Style.Properties(), "parent selector rule applies")

		color := find(t, lines, "#fff")
		assert.Equal(t, map[string]string{"color": "#005cc5"}, color.Style.Properties())
	})

	t.Run("test_missing_css_grammar", func(t *testing.T) {
		ld := fixtures.Loader()
		e := highlight.New(highlight.Config{
			Grammars: grammar.LoaderFunc(func(ctx context.Context, scope string) (*tmlanguage.Grammar, error) {
				if scope == "source.css" {
					return nil, errors.Errorf("%w: %s", grammar.ErrGrammarNotFound, scope)
				}
				return ld.LoadGrammar(ctx, scope)
			}),
			Themes: ld,
		})

		lines, err := e.Tokenize(ctx, src, "html", light)
		require.NoError(t, err)

		body := find(t, lines, ".a { color: #fff; }")
		assert.Equal(t, "source.css.embedded.html", body.Scopes[len(body.Scopes)-1])
	})
}

func TestErrors(t *testing.T) {
	ctx := testContext()
	e := newEngine()

	_, err := e.Tokenize(ctx, "x", "cobol", light)
	assert.True(t, errors.Is(err, grammar.ErrGrammarNotFound))

	_, err = e.Tokenize(ctx, "x", "sh", []string{"nope"})
	assert.True(t, errors.Is(err, theme.ErrThemeNotFound))

	_, err = e.Tokenize(ctx, "x", "sh", nil)
	assert.True(t, errors.Is(err, theme.ErrNoThemes))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Tokenize(canceled, "a\nb", "sh", light)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Nil(t, e.GrammarState(), "failed calls leave no state behind")
}

func TestConcurrentEngines(t *testing.T) {
	ctx := testContext()

	const n = 3
	engines := make([]*highlight.Engine, n)
	results := make([]*highlight.Result, n)
	for i := range engines {
		engines[i] = newEngine()
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engines[i].TokenizeWithState(ctx, "npm install x", "sh", light)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	lineages := map[uint64]bool{}
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, results[0].Lines, res.Lines, "engine %d", i)
		lineages[res.State.Lineage()] = true
		if i > 0 {
			assert.NotEqual(t, engines[0].ID(), engines[i].ID())
		}
	}
	assert.Len(t, lineages, n, "each engine compiles its own grammar")
}

func TestConcurrentCalls(t *testing.T) {
	ctx := testContext()
	e := newEngine()
	want, err := e.Tokenize(ctx, "cat <<EOF\n$x\nEOF", "sh", light)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Tokenize(ctx, "cat <<EOF\n$x\nEOF", "sh", light)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestLines(t *testing.T) {
	ctx := testContext()
	e := newEngine()

	for _, src := range []string{"", "a", "a\n", "\n\n", "a\r\nb\r\n", "x\ny\nz"} {
		lines, err := e.Tokenize(ctx, src, "plaintext", light)
		require.NoError(t, err)
		assert.Len(t, lines, strings.Count(src, "\n")+1, "%q", src)
	}
}
