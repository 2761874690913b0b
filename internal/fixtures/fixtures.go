// Package fixtures ships a handful of small grammars and two themes. They
// back the tests and the CLI's --builtin mode.
package fixtures

import (
	"embed"

	"github.com/spf13/afero"
	"github.com/walteh/tmtokens/pkg/loader"
)

//go:embed grammars themes
var files embed.FS

const (
	LightTheme = "fixture-light"
	DarkTheme  = "fixture-dark"
)

// Fs returns the fixtures as a read-only afero filesystem.
func Fs() afero.Fs {
	return afero.FromIOFS{FS: files}
}

// Loader returns a loader over Fs with the default globs.
func Loader() *loader.FS {
	return loader.New(Fs(), loader.Options{})
}
