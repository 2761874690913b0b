package languages

import (
	"context"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/walteh/tmtokens/cmd/tmtokens/tokenize"
	"github.com/walteh/tmtokens/pkg/grammar"
	"github.com/walteh/tmtokens/pkg/highlight"
)

type Handler struct {
	configPath string
	builtin    bool
	all        bool

	fs afero.Fs
}

func NewLanguagesCommand() *cobra.Command {
	me := &Handler{fs: afero.NewOsFs()}

	cmd := &cobra.Command{
		Use:   "languages",
		Short: "list language ids and the grammar scope each resolves to",
		Args:  cobra.NoArgs,
	}

	cmd.Flags().StringVar(&me.configPath, "config", "", "config file")
	cmd.Flags().BoolVar(&me.builtin, "builtin", false, "use the bundled sample grammars and themes")
	cmd.Flags().BoolVar(&me.all, "all", false, "include aliases whose grammar is not available")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return me.Run(cmd.Context(), cmd.OutOrStdout())
	}

	return cmd
}

func (me *Handler) Run(ctx context.Context, out io.Writer) error {
	cfg, ld, err := tokenize.Sources(ctx, me.fs, me.configPath, me.builtin)
	if err != nil {
		return err
	}

	scopes, err := ld.Scopes(ctx)
	if err != nil {
		return err
	}
	available := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		available[s] = true
	}

	overrides, err := ld.Languages(ctx)
	if err != nil {
		return err
	}
	for k, v := range cfg.Languages {
		overrides[k] = v
	}

	engine := highlight.New(highlight.Config{Grammars: ld, Themes: ld, Languages: overrides})
	defer engine.Close()
	reg := engine.Grammars()

	ids := make([]string, 0, len(grammar.DefaultLanguages)+len(overrides))
	for id := range grammar.DefaultLanguages {
		ids = append(ids, id)
	}
	for id := range overrides {
		if _, ok := grammar.DefaultLanguages[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	tbl := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("LANGUAGE", "SCOPE", "NAME")
	for _, id := range ids {
		scope := reg.ScopeFor(id)
		if !available[scope] {
			if me.all {
				tbl.Row(id, scope, "(missing)")
			}
			continue
		}
		desc, err := reg.Descriptor(ctx, scope)
		if err != nil {
			return err
		}
		tbl.Row(id, scope, desc.Name)
	}
	for _, id := range []string{"plaintext", "text", "txt"} {
		tbl.Row(id, "(no grammar)", "")
	}

	if _, err := io.WriteString(out, tbl.Render()+"\n"); err != nil {
		return err
	}
	return nil
}
