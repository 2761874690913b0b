// Package loader finds grammar and theme files on an afero filesystem and
// serves them to the highlight engine.
package loader

import (
	"context"
	"encoding/json"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/walteh/tmtokens/pkg/grammar"
	"github.com/walteh/tmtokens/pkg/theme"
	"github.com/walteh/tmtokens/pkg/tmlanguage"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/multierr"
)

var (
	DefaultGrammarGlobs = []string{
		"**/*.tmLanguage.json",
		"**/*.tmLanguage.yaml",
		"**/*.tmLanguage.yml",
	}
	DefaultThemeGlobs = []string{
		"**/themes/**/*.json",
		"**/*.tmTheme.json",
	}
)

type Options struct {
	GrammarGlobs []string
	ThemeGlobs   []string
}

// FS implements grammar.Loader and theme.Loader over a filesystem. The
// filesystem is scanned once, on first use; files are parsed when requested.
type FS struct {
	fs   afero.Fs
	opts Options

	once sync.Once
	idx  *index
	err  error
}

type index struct {
	grammars  map[string]string // scope name -> path
	fileTypes map[string]string // file type -> scope name
	themes    map[string]string // theme name -> path
	problems  error
}

func New(fs afero.Fs, opts Options) *FS {
	if len(opts.GrammarGlobs) == 0 {
		opts.GrammarGlobs = DefaultGrammarGlobs
	}
	if len(opts.ThemeGlobs) == 0 {
		opts.ThemeGlobs = DefaultThemeGlobs
	}
	return &FS{fs: fs, opts: opts}
}

var (
	_ grammar.Loader = (*FS)(nil)
	_ theme.Loader   = (*FS)(nil)
)

func (l *FS) LoadGrammar(ctx context.Context, scopeName string) (*tmlanguage.Grammar, error) {
	idx, err := l.index(ctx)
	if err != nil {
		return nil, err
	}

	p, ok := idx.grammars[scopeName]
	if !ok {
		return nil, errors.Errorf("%w: %s", grammar.ErrGrammarNotFound, scopeName)
	}

	data, err := afero.ReadFile(l.fs, p)
	if err != nil {
		return nil, errors.Errorf("reading grammar %s: %w", p, err)
	}

	g, err := decodeGrammar(p, data)
	if err != nil {
		return nil, errors.Errorf("parsing grammar %s: %w", p, err)
	}

	zerolog.Ctx(ctx).Debug().Str("scope", scopeName).Str("path", p).Msg("read grammar file")

	return g, nil
}

func (l *FS) LoadTheme(ctx context.Context, name string) (*theme.Definition, error) {
	idx, err := l.index(ctx)
	if err != nil {
		return nil, err
	}

	p, ok := idx.themes[name]
	if !ok {
		return nil, errors.Errorf("%w: %s", theme.ErrThemeNotFound, name)
	}

	data, err := afero.ReadFile(l.fs, p)
	if err != nil {
		return nil, errors.Errorf("reading theme %s: %w", p, err)
	}

	def, err := theme.UnmarshalDefinition(data)
	if err != nil {
		return nil, errors.Errorf("parsing theme %s: %w", p, err)
	}

	return def, nil
}

// Scopes lists every grammar scope name found, sorted.
func (l *FS) Scopes(ctx context.Context) ([]string, error) {
	idx, err := l.index(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(idx.grammars), nil
}

// Themes lists every theme name found, sorted.
func (l *FS) Themes(ctx context.Context) ([]string, error) {
	idx, err := l.index(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(idx.themes), nil
}

// Languages maps the file types declared by the grammars to their scope
// names. The result can be passed as highlight.Config.Languages.
func (l *FS) Languages(ctx context.Context) (map[string]string, error) {
	idx, err := l.index(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(idx.fileTypes))
	for k, v := range idx.fileTypes {
		out[k] = v
	}
	return out, nil
}

// Problems returns the files that were matched but could not be indexed,
// combined into one error. It is nil when every file was usable.
func (l *FS) Problems(ctx context.Context) error {
	idx, err := l.index(ctx)
	if err != nil {
		return err
	}
	return idx.problems
}

func (l *FS) index(ctx context.Context) (*index, error) {
	l.once.Do(func() {
		l.idx, l.err = l.build(ctx)
	})
	return l.idx, l.err
}

func (l *FS) build(ctx context.Context) (*index, error) {
	idx := &index{
		grammars:  map[string]string{},
		fileTypes: map[string]string{},
		themes:    map[string]string{},
	}

	iofs := afero.NewIOFS(l.fs)

	grammarFiles, err := glob(iofs, l.opts.GrammarGlobs)
	if err != nil {
		return nil, err
	}
	isGrammar := make(map[string]bool, len(grammarFiles))

	for _, p := range grammarFiles {
		isGrammar[p] = true

		data, err := afero.ReadFile(l.fs, p)
		if err != nil {
			idx.problems = multierr.Append(idx.problems, errors.Errorf("reading %s: %w", p, err))
			continue
		}

		g, err := decodeGrammar(p, data)
		if err != nil {
			idx.problems = multierr.Append(idx.problems, errors.Errorf("parsing %s: %w", p, err))
			continue
		}
		if g.ScopeName == "" {
			idx.problems = multierr.Append(idx.problems, errors.Errorf("grammar %s has no scopeName", p))
			continue
		}

		if prev, ok := idx.grammars[g.ScopeName]; ok {
			zerolog.Ctx(ctx).Warn().Str("scope", g.ScopeName).Str("kept", prev).Str("ignored", p).Msg("duplicate grammar scope")
			continue
		}
		idx.grammars[g.ScopeName] = p
		for _, ft := range g.FileTypes {
			ft = strings.TrimPrefix(strings.ToLower(ft), ".")
			if _, ok := idx.fileTypes[ft]; !ok {
				idx.fileTypes[ft] = g.ScopeName
			}
		}
	}

	themeFiles, err := glob(iofs, l.opts.ThemeGlobs)
	if err != nil {
		return nil, err
	}

	for _, p := range themeFiles {
		if isGrammar[p] {
			continue
		}

		data, err := afero.ReadFile(l.fs, p)
		if err != nil {
			idx.problems = multierr.Append(idx.problems, errors.Errorf("reading %s: %w", p, err))
			continue
		}

		var head struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			idx.problems = multierr.Append(idx.problems, errors.Errorf("parsing %s: %w", p, err))
			continue
		}

		base := strings.TrimSuffix(strings.TrimSuffix(path.Base(p), ".json"), ".tmTheme")
		for _, name := range []string{head.Name, base} {
			if name == "" {
				continue
			}
			if _, ok := idx.themes[name]; !ok {
				idx.themes[name] = p
			}
		}
	}

	if idx.problems != nil {
		zerolog.Ctx(ctx).Warn().Err(idx.problems).Msg("some grammar or theme files were skipped")
	}

	zerolog.Ctx(ctx).Debug().
		Int("grammars", len(idx.grammars)).
		Int("themes", len(idx.themes)).
		Msg("indexed grammar and theme files")

	return idx, nil
}

func glob(fsys fs.FS, patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, errors.Errorf("globbing %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func decodeGrammar(p string, data []byte) (*tmlanguage.Grammar, error) {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return tmlanguage.UnmarshalGrammarYAML(data)
	default:
		return tmlanguage.UnmarshalGrammar(data)
	}
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
