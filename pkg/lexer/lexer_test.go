package lexer_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/tmtokens/internal/fixtures"
	"github.com/walteh/tmtokens/pkg/diff"
	"github.com/walteh/tmtokens/pkg/grammar"
	"github.com/walteh/tmtokens/pkg/lexer"
	"github.com/walteh/tmtokens/pkg/tmlanguage"
	"gitlab.com/tozd/go/errors"
	"pgregory.net/rapid"
)

func testContext() context.Context {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	return logger.WithContext(context.Background())
}

type tok struct {
	Value string
	Scope string
}

func simplify(lines [][]lexer.Token) [][]tok {
	out := make([][]tok, len(lines))
	for i, line := range lines {
		out[i] = []tok{}
		for _, t := range line {
			out[i] = append(out[i], tok{Value: t.Value, Scope: t.Scope()})
		}
	}
	return out
}

func newLexer(t testing.TB, ctx context.Context, language string) *lexer.Lexer {
	t.Helper()
	g, err := grammar.NewRegistry(fixtures.Loader(), grammar.Options{}).Grammar(ctx, language)
	require.NoError(t, err)
	return lexer.New(g)
}

func tokenize(t testing.TB, ctx context.Context, lex *lexer.Lexer, src string) ([][]lexer.Token, *lexer.Stack) {
	t.Helper()
	var out [][]lexer.Token
	stack := lex.InitialStack()
	for i, line := range strings.Split(src, "\n") {
		res, err := lex.TokenizeLine(ctx, line, stack, i == 0)
		require.NoError(t, err)
		out = append(out, res.Tokens)
		stack = res.Stack
	}
	return out, stack
}

func TestTokenizeLine(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		name     string
		language string
		source   string
		want     [][]tok
		depth    int
	}{
		{
			name:     "command",
			language: "sh",
			source:   "npm install x",
			want: [][]tok{{
				{"npm", "entity.name.command.shell"},
				{" install x", "source.shell"},
			}},
			depth: 1,
		},
		{
			name:     "heredoc closes on the captured delimiter",
			language: "sh",
			source:   "cat <<EOF\nhello\nEOF\necho done",
			want: [][]tok{
				{
					{"cat", "entity.name.command.shell"},
					{" ", "source.shell"},
					{"<<", "keyword.operator.heredoc.shell"},
					{"EOF", "keyword.control.heredoc-token.shell"},
				},
				{{"hello", "string.unquoted.heredoc.shell"}},
				{{"EOF", "keyword.control.heredoc-token.shell"}},
				{
					{"echo", "entity.name.command.shell"},
					{" ", "source.shell"},
					{"done", "keyword.control.done.shell"},
				},
			},
			depth: 1,
		},
		{
			name:     "heredoc ignores other delimiters",
			language: "sh",
			source:   "cat <<END\nEOF\nmore",
			want: [][]tok{
				{
					{"cat", "entity.name.command.shell"},
					{" ", "source.shell"},
					{"<<", "keyword.operator.heredoc.shell"},
					{"END", "keyword.control.heredoc-token.shell"},
				},
				{{"EOF", "string.unquoted.heredoc.shell"}},
				{{"more", "string.unquoted.heredoc.shell"}},
			},
			depth: 2,
		},
		{
			name:     "name substitution",
			language: "sh",
			source:   "if x",
			want: [][]tok{{
				{"if", "keyword.control.if.shell"},
				{" x", "source.shell"},
			}},
			depth: 1,
		},
		{
			name:     "capture with nested patterns",
			language: "html",
			source:   `<a href="x">`,
			want: [][]tok{{
				{"<", "punctuation.definition.tag.begin.html"},
				{"a", "entity.name.tag.html"},
				{" ", "meta.tag.html"},
				{"href", "entity.other.attribute-name.html"},
				{"=", "punctuation.separator.key-value.html"},
				{`"x"`, "string.quoted.double.html"},
				{">", "punctuation.definition.tag.end.html"},
			}},
			depth: 1,
		},
		{
			name:     "begin while",
			language: "mdx",
			source:   "> quoted *em*\n> more\nafter",
			want: [][]tok{
				{
					{">", "punctuation.definition.quote.begin.mdx"},
					{" ", "markup.quote.mdx"},
					{"quoted ", "markup.quote.mdx"},
					{"*", "punctuation.definition.italic.mdx"},
					{"em", "markup.italic.mdx"},
					{"*", "punctuation.definition.italic.mdx"},
				},
				{
					{">", "punctuation.definition.quote.begin.mdx"},
					{" ", "markup.quote.mdx"},
					{"more", "markup.quote.mdx"},
				},
				{{"after", "source.mdx"}},
			},
			depth: 1,
		},
		{
			name:     "empty line",
			language: "sh",
			source:   "",
			want:     [][]tok{{}},
			depth:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, stack := tokenize(t, ctx, newLexer(t, ctx, tt.language), tt.source)

			if d := diff.DiffExportedOnly(tt.want, simplify(lines)); d != "" {
				t.Fatalf("unexpected tokens: %s", d)
			}
			assert.Equal(t, tt.depth, stack.Depth())
		})
	}
}

func TestEmbeddedGrammar(t *testing.T) {
	ctx := testContext()
	lines, stack := tokenize(t, ctx, newLexer(t, ctx, "mdx"), "import x from 'y'")

	require.Len(t, lines, 1)
	first := lines[0][0]
	assert.Equal(t, "import", first.Value)
	assert.Equal(t, []string{"source.mdx", "meta.embedded.module.mdx", "keyword.control.import.tsx"}, first.Scopes)
	assert.Equal(t, 1, stack.Depth(), "the zero-width module block closes at the end of the line")
}

func TestByteOffsets(t *testing.T) {
	ctx := testContext()
	lines, _ := tokenize(t, ctx, newLexer(t, ctx, "sh"), `é "ü $x"`)

	require.NotEmpty(t, lines[0])
	for _, tk := range lines[0] {
		if tk.Value == "$" {
			assert.Equal(t, 7, tk.Start)
			assert.Equal(t, 8, tk.End)
			assert.Equal(t, []string{"source.shell", "string.quoted.double.shell", "variable.other.shell", "punctuation.definition.variable.shell"}, tk.Scopes)
			return
		}
	}
	t.Fatal("no $ token")
}

func TestZeroWidthRules(t *testing.T) {
	ctx := testContext()

	desc := &tmlanguage.Grammar{
		ScopeName: "source.loop",
		Patterns: []tmlanguage.Pattern{
			{Include: "#block"},
			{Match: "(?=x)", Name: "look.loop"},
		},
		Repository: map[string]tmlanguage.Pattern{
			"block": {
				Begin:    "(?=a)",
				End:      "z",
				Name:     "meta.block.loop",
				Patterns: []tmlanguage.Pattern{{Include: "$self"}},
			},
		},
	}
	g, err := grammar.NewRegistry(grammar.LoaderFunc(func(ctx context.Context, scope string) (*tmlanguage.Grammar, error) {
		if scope != desc.ScopeName {
			return nil, errors.Errorf("%w: %s", grammar.ErrGrammarNotFound, scope)
		}
		return desc, nil
	}), grammar.Options{}).Grammar(ctx, "source.loop")
	require.NoError(t, err)
	lex := lexer.New(g)

	t.Run("test_zero_width_match", func(t *testing.T) {
		res, err := lex.TokenizeLine(ctx, "xyz", nil, true)
		require.NoError(t, err)
		assert.Equal(t, []lexer.Token{{Start: 0, End: 3, Value: "xyz", Scopes: []string{"source.loop"}}}, res.Tokens)
	})

	t.Run("test_recursive_zero_width_block", func(t *testing.T) {
		res, err := lex.TokenizeLine(ctx, "aaxz", nil, true)
		require.NoError(t, err)
		assert.Equal(t, []lexer.Token{{Start: 0, End: 4, Value: "aaxz", Scopes: []string{"source.loop", "meta.block.loop"}}}, res.Tokens)
		assert.Equal(t, 2, res.Stack.Depth())
	})
}

func TestStack(t *testing.T) {
	ctx := testContext()
	lex := newLexer(t, ctx, "sh")

	_, a := tokenize(t, ctx, lex, "cat <<EOF")
	_, b := tokenize(t, ctx, lex, "cat <<EOF")
	_, c := tokenize(t, ctx, lex, "cat <<END")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c), "resolved end patterns differ")
	assert.False(t, a.Equal(lex.InitialStack()))
	assert.True(t, lex.InitialStack().Equal(lex.InitialStack()))
	assert.Equal(t, "source.shell > source.shell string.unquoted.heredoc.shell", a.String())
	assert.Equal(t, "^\\s*EOF$", a.Top().EndSource)
	assert.Len(t, a.Frames(), 2)
}

func TestRoundTrip(t *testing.T) {
	ctx := testContext()
	lexers := map[string]*lexer.Lexer{}
	for _, lang := range []string{"sh", "tsx", "html", "mdx"} {
		lexers[lang] = newLexer(t, ctx, lang)
	}

	rapid.Check(t, func(t *rapid.T) {
		lang := rapid.SampledFrom([]string{"sh", "tsx", "html", "mdx"}).Draw(t, "lang")
		parts := rapid.SliceOf(rapid.SampledFrom([]string{
			"#", "\"", "'", "$x", "<<EOF", "EOF", "<style>", "</style>", "<a b=\"c\">",
			"/*", "*/", "//", "> ", "*", "import ", "if ", " ", "\t", "\n", "é", "x", "1.5", "--opt", "f(",
		})).Draw(t, "parts")
		src := strings.Join(parts, "")

		lex := lexers[lang]
		stack := lex.InitialStack()
		for i, line := range strings.Split(src, "\n") {
			res, err := lex.TokenizeLine(ctx, line, stack, i == 0)
			if err != nil {
				t.Fatalf("line %d: %v", i, err)
			}
			stack = res.Stack

			var b strings.Builder
			pos := 0
			for _, tk := range res.Tokens {
				if tk.Start != pos || tk.End <= tk.Start {
					t.Fatalf("line %d: token %q at [%d,%d) does not continue from %d", i, tk.Value, tk.Start, tk.End, pos)
				}
				if line[tk.Start:tk.End] != tk.Value {
					t.Fatalf("line %d: token value %q does not match its offsets", i, tk.Value)
				}
				pos = tk.End
				b.WriteString(tk.Value)
			}
			if b.String() != line {
				t.Fatalf("line %d: tokens rebuild %q, want %q", i, b.String(), line)
			}
		}
	})
}
