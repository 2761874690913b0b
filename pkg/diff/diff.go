// Package diff renders readable differences between expected and actual
// values in test failures.
package diff

import (
	"strings"

	"github.com/k0kubun/pp/v3"
	"github.com/kylelemons/godebug/diff"
)

func printer() *pp.PrettyPrinter {
	p := pp.New()
	p.SetExportedOnly(true)
	p.SetColoringEnabled(false)
	return p
}

// DiffExportedOnly returns "" when want and got print the same, and
// otherwise a line diff that turns got into want.
func DiffExportedOnly[T any](want T, got T) string {
	p := printer()
	d := diff.Diff(p.Sprint(got), p.Sprint(want))
	if d == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nto convert ACTUAL ⏩️ EXPECTED:\n\n")
	b.WriteString("add:    ➕\nremove: ➖\n\n")
	b.WriteString(strings.NewReplacer("\n-", "\n➖", "\n+", "\n➕").Replace(d))
	return b.String()
}
