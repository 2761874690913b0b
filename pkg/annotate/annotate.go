// Package annotate enriches highlighted tokens with facts from a static
// analysis pass: symbol identity, quick info and diagnostics.
//
// Highlighting and analysis run as two independent tasks. Highlighting never
// waits for analysis; GetTokens waits for both and then merges the analysis
// facts onto the tokens by absolute byte offset.
package annotate

import (
	"context"
	"iter"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/walteh/tmtokens/pkg/diagnostic"
	"github.com/walteh/tmtokens/pkg/highlight"
	"github.com/walteh/tmtokens/pkg/position"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"
)

var (
	ErrLanguageExtensionMismatch = errors.Base("language does not match file extension")
	ErrAnalysisFailure           = errors.Base("analysis failed")
	ErrDiagnostics               = errors.Base("source has errors")
	ErrNoHighlighter             = errors.Base("no highlighter")
)

// Highlighter is the part of highlight.Engine the pipeline needs.
type Highlighter interface {
	Tokenize(ctx context.Context, source, language string, themes []string, opts ...highlight.Option) ([][]highlight.StyledToken, error)
	Stream(ctx context.Context, source, language string, themes []string, opts ...highlight.Option) iter.Seq2[[]highlight.StyledToken, error]
}

var _ Highlighter = (*highlight.Engine)(nil)

// Collector runs static analysis over one source text. Offsets in the result
// are absolute byte offsets into source.
type Collector interface {
	CollectMetadata(ctx context.Context, source, filePath string, project any) (*diagnostic.Metadata, error)
}

type CollectorFunc func(ctx context.Context, source, filePath string, project any) (*diagnostic.Metadata, error)

func (f CollectorFunc) CollectMetadata(ctx context.Context, source, filePath string, project any) (*diagnostic.Metadata, error) {
	return f(ctx, source, filePath, project)
}

type Options struct {
	// Project is handed to the collector untouched.
	Project  any
	Value    string
	Language string
	FilePath string

	Highlighter Highlighter
	Themes      []string

	// AllowErrors accepts error diagnostics. Otherwise GetTokens returns the
	// tokens together with an ErrDiagnostics error listing them.
	AllowErrors bool
	// StrictAnalysis fails with ErrAnalysisFailure when the collector fails,
	// instead of returning unannotated tokens.
	StrictAnalysis bool
	Collector      Collector

	// OnHighlighted, if set, is called as soon as highlighting finishes,
	// whether or not analysis has.
	OnHighlighted func(lines [][]highlight.StyledToken)
}

type AnnotatedToken struct {
	highlight.StyledToken

	IsSymbol    bool
	QuickInfo   *diagnostic.QuickInfo
	Diagnostics []diagnostic.Diagnostic
}

var codeLanguages = map[string]bool{
	"ts":         true,
	"tsx":        true,
	"mts":        true,
	"cts":        true,
	"typescript": true,
	"js":         true,
	"jsx":        true,
	"mjs":        true,
	"cjs":        true,
	"javascript": true,
}

var documentExtensions = map[string]bool{
	".md":       true,
	".mdx":      true,
	".markdown": true,
	".txt":      true,
}

// IsAnalyzable reports whether the collector is ever consulted for language.
func IsAnalyzable(language string) bool {
	return codeLanguages[strings.ToLower(language)]
}

// Validate rejects a programming language declared for a file that is a
// prose document.
func Validate(language, filePath string) error {
	if !IsAnalyzable(language) || filePath == "" {
		return nil
	}
	if documentExtensions[strings.ToLower(filepath.Ext(filePath))] {
		return errors.Errorf("%w: language %q cannot be analyzed as %q", ErrLanguageExtensionMismatch, language, filePath)
	}
	return nil
}

// GetTokens highlights opts.Value and annotates the tokens with analysis
// facts when the language is analyzable and a collector is configured.
func GetTokens(ctx context.Context, opts Options) ([][]AnnotatedToken, error) {
	if opts.Highlighter == nil {
		return nil, ErrNoHighlighter
	}
	if err := Validate(opts.Language, opts.FilePath); err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx).With().
		Str("language", opts.Language).
		Str("path", opts.FilePath).
		Logger()

	analyze := opts.Collector != nil && IsAnalyzable(opts.Language)

	var (
		lines [][]highlight.StyledToken
		md    *diagnostic.Metadata
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		lines, err = opts.Highlighter.Tokenize(gctx, opts.Value, opts.Language, opts.Themes)
		if err != nil {
			return errors.Errorf("highlighting: %w", err)
		}
		logger.Debug().Int("lines", len(lines)).Msg("highlighting finished")
		if opts.OnHighlighted != nil {
			opts.OnHighlighted(lines)
		}
		return nil
	})

	if analyze {
		g.Go(func() error {
			logger.Debug().Msg("analysis started")
			res, err := opts.Collector.CollectMetadata(gctx, opts.Value, opts.FilePath, opts.Project)
			if err != nil {
				if opts.StrictAnalysis {
					return errors.Errorf("%w: %s: %s", ErrAnalysisFailure, opts.FilePath, err.Error())
				}
				logger.Warn().Err(err).Msg("analysis failed, returning tokens without annotations")
				return nil
			}
			logger.Debug().
				Int("symbols", len(res.Symbols)).
				Int("diagnostics", len(res.Diagnostics)).
				Msg("analysis finished")
			md = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := Merge(lines, md)

	if !opts.AllowErrors {
		if errs := md.Errors(); len(errs) > 0 {
			msgs := make([]string, len(errs))
			for i, d := range errs {
				msgs[i] = d.Format(opts.Value)
			}
			return out, errors.Errorf("%w: %s: %s", ErrDiagnostics, opts.FilePath, strings.Join(msgs, "; "))
		}
	}

	return out, nil
}

// Merge attaches symbols and diagnostics to every token whose span overlaps
// theirs. Spans are half-open, so an annotation that starts exactly where a
// token ends is not applied to that token; each annotation lands on each
// token at most once.
func Merge(lines [][]highlight.StyledToken, md *diagnostic.Metadata) [][]AnnotatedToken {
	out := make([][]AnnotatedToken, len(lines))
	var flat []*AnnotatedToken
	for i, line := range lines {
		out[i] = make([]AnnotatedToken, len(line))
		for j, tok := range line {
			out[i][j] = AnnotatedToken{StyledToken: tok}
			flat = append(flat, &out[i][j])
		}
	}

	if md.IsEmpty() {
		return out
	}

	for _, sym := range md.Symbols {
		for _, tok := range overlapping(flat, sym.Span) {
			tok.IsSymbol = true
			if tok.QuickInfo == nil {
				tok.QuickInfo = sym.QuickInfo
			}
		}
	}

	for _, d := range md.Diagnostics {
		for _, tok := range overlapping(flat, d.Span) {
			tok.Diagnostics = append(tok.Diagnostics, d)
		}
	}

	return out
}

// overlapping returns the tokens intersecting span. flat is sorted by offset
// and its spans do not overlap.
func overlapping(flat []*AnnotatedToken, span position.Span) []*AnnotatedToken {
	first := sort.Search(len(flat), func(i int) bool {
		return flat[i].End > span.Start
	})

	var out []*AnnotatedToken
	for _, tok := range flat[first:] {
		if tok.Start > span.End || (tok.Start == span.End && !span.IsEmpty()) {
			break
		}
		if position.NewSpan(tok.Start, tok.End).Overlaps(span) {
			out = append(out, tok)
		}
	}
	return out
}
