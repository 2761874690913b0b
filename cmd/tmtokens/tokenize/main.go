package tokenize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/walteh/tmtokens/internal/fixtures"
	"github.com/walteh/tmtokens/pkg/annotate"
	"github.com/walteh/tmtokens/pkg/config"
	"github.com/walteh/tmtokens/pkg/highlight"
	"github.com/walteh/tmtokens/pkg/loader"
	"github.com/walteh/tmtokens/pkg/semtok"
	"github.com/walteh/tmtokens/pkg/style"
	"gitlab.com/tozd/go/errors"
)

type Handler struct {
	language   string
	themes     []string
	format     string
	configPath string
	builtin    bool

	fs afero.Fs
}

func NewTokenizeCommand() *cobra.Command {
	me := &Handler{fs: afero.NewOsFs()}

	cmd := &cobra.Command{
		Use:   "tokenize [file]",
		Short: "tokenize a file and print its themed tokens",
		Args:  cobra.MaximumNArgs(1),
	}

	cmd.Flags().StringVar(&me.language, "lang", "", "language id or scope name (default: from the file extension)")
	cmd.Flags().StringArrayVar(&me.themes, "theme", nil, "theme name, repeat for several themes")
	cmd.Flags().StringVar(&me.format, "format", "json", "output format: json, ansi or semtok")
	cmd.Flags().StringVar(&me.configPath, "config", "", "config file (default: tmtokens.{yaml,yml,hcl,toml} in the working directory)")
	cmd.Flags().BoolVar(&me.builtin, "builtin", false, "use the bundled sample grammars and themes")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		path := "-"
		if len(args) == 1 {
			path = args[0]
		}
		return me.Run(cmd.Context(), path, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	return cmd
}

// Sources builds the loader and config the command works from.
func Sources(ctx context.Context, fs afero.Fs, configPath string, builtin bool) (*config.Config, *loader.FS, error) {
	if builtin {
		cfg := config.Default()
		cfg.DefaultThemes = []string{fixtures.LightTheme}
		return cfg, fixtures.Loader(), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, errors.Errorf("getting working directory: %w", err)
	}

	cfg, err := config.Resolve(fs, configPath, cwd)
	if err != nil {
		return nil, nil, errors.Errorf("loading config: %w", err)
	}

	ld, err := cfg.Loader(ctx, fs)
	if err != nil {
		return nil, nil, err
	}

	return cfg, ld, nil
}

func (me *Handler) Run(ctx context.Context, path string, stdin io.Reader, stdout io.Writer) error {
	cfg, ld, err := Sources(ctx, me.fs, me.configPath, me.builtin)
	if err != nil {
		return err
	}

	var data []byte
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = afero.ReadFile(me.fs, path)
	}
	if err != nil {
		return errors.Errorf("reading %s: %w", path, err)
	}

	languages, err := ld.Languages(ctx)
	if err != nil {
		return err
	}
	for k, v := range cfg.Languages {
		languages[k] = v
	}

	language := me.language
	if language == "" {
		language = strings.TrimPrefix(filepath.Ext(path), ".")
	}

	themes := me.themes
	if len(themes) == 0 {
		themes = cfg.DefaultThemes
	}

	timeout, err := cfg.Timeout()
	if err != nil {
		return err
	}

	engine := highlight.New(highlight.Config{
		Grammars:     ld,
		Themes:       ld,
		Languages:    languages,
		MatchTimeout: timeout,
	})
	defer engine.Close()

	zerolog.Ctx(ctx).Debug().
		Str("engine", engine.ID().String()).
		Str("language", language).
		Strs("themes", themes).
		Msg("tokenizing")

	start := time.Now()

	lines, err := annotate.GetTokens(ctx, annotate.Options{
		Value:          string(data),
		Language:       language,
		FilePath:       path,
		Highlighter:    engine,
		Themes:         themes,
		AllowErrors:    cfg.AllowErrors,
		StrictAnalysis: cfg.StrictAnalysis,
	})
	if err != nil {
		return errors.Errorf("tokenizing %s: %w", path, err)
	}

	zerolog.Ctx(ctx).Debug().Dur("took", time.Since(start)).Int("lines", len(lines)).Msg("tokenized")

	switch me.format {
	case "json":
		return WriteJSON(stdout, lines)
	case "ansi":
		return WriteANSI(stdout, lines, themes)
	case "semtok":
		return WriteSemanticTokens(stdout, string(data), lines)
	default:
		return errors.Errorf("unknown format %q", me.format)
	}
}

type jsonToken struct {
	Value         string            `json:"value"`
	Start         int               `json:"start"`
	End           int               `json:"end"`
	Scopes        []string          `json:"scopes"`
	Style         map[string]string `json:"style"`
	IsBaseColor   bool              `json:"isBaseColor,omitempty"`
	IsWhitespace  bool              `json:"isWhitespace,omitempty"`
	HasTextStyles bool              `json:"hasTextStyles,omitempty"`
	IsSymbol      bool              `json:"isSymbol,omitempty"`
}

func WriteJSON(w io.Writer, lines [][]annotate.AnnotatedToken) error {
	out := make([][]jsonToken, len(lines))
	for i, line := range lines {
		out[i] = make([]jsonToken, len(line))
		for j, tok := range line {
			out[i][j] = jsonToken{
				Value:         tok.Value,
				Start:         tok.Start,
				End:           tok.End,
				Scopes:        tok.Scopes,
				Style:         tok.Style.Properties(),
				IsBaseColor:   tok.IsBaseColor,
				IsWhitespace:  tok.IsWhitespace,
				HasTextStyles: tok.HasTextStyles,
				IsSymbol:      tok.IsSymbol,
			}
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return errors.Errorf("encoding tokens: %w", err)
	}
	return nil
}

// WriteSemanticTokens prints the legend and the encoded LSP semantic tokens.
func WriteSemanticTokens(w io.Writer, source string, lines [][]annotate.AnnotatedToken) error {
	styled := make([][]highlight.StyledToken, len(lines))
	for i, line := range lines {
		styled[i] = make([]highlight.StyledToken, len(line))
		for j, tok := range line {
			styled[i][j] = tok.StyledToken
		}
	}

	out := struct {
		Legend semtok.Legend `json:"legend"`
		Data   []uint32      `json:"data"`
	}{
		Legend: semtok.NewLegend(),
		Data:   semtok.Encode(semtok.Tokens(source, styled)),
	}

	if err := json.NewEncoder(w).Encode(out); err != nil {
		return errors.Errorf("encoding semantic tokens: %w", err)
	}
	return nil
}

// WriteANSI prints the source once per theme, painted with that theme.
func WriteANSI(w io.Writer, lines [][]annotate.AnnotatedToken, themes []string) error {
	for k, name := range themes {
		if len(themes) > 1 {
			if _, err := fmt.Fprintf(w, "── %s ──\n", name); err != nil {
				return err
			}
		}

		var b strings.Builder
		for _, line := range lines {
			for _, tok := range line {
				s, ok := tok.Style.Slot(k)
				if !ok || tok.IsWhitespace {
					b.WriteString(tok.Value)
					continue
				}
				b.WriteString(render(s).Render(tok.Value))
			}
			b.WriteByte('\n')
		}

		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

func render(s style.Style) lipgloss.Style {
	ls := lipgloss.NewStyle()
	if s.Color != "" {
		ls = ls.Foreground(lipgloss.Color(s.Color))
	}
	if s.BackgroundColor != "" {
		ls = ls.Background(lipgloss.Color(s.BackgroundColor))
	}
	return ls.
		Italic(s.FontStyle&style.Italic != 0).
		Bold(s.FontStyle&style.Bold != 0).
		Underline(s.FontStyle&style.Underline != 0).
		Strikethrough(s.FontStyle&style.Strikethrough != 0)
}
