// Package archive unpacks gzip-compressed tar archives of grammar and theme
// files onto an afero filesystem, so that packaged grammar collections can be
// served by the loader without being extracted to disk.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

var ErrUnsafePath = errors.Base("archive entry escapes the target directory")

// Options configures Unpack.
type Options struct {
	// StripComponents removes the specified number of leading path components
	// Similar to tar's --strip-components
	StripComponents int

	// Filter allows filtering entries during unpacking.
	// Return true to keep the entry, false to skip it.
	// It sees the name after StripComponents is applied.
	Filter func(name string, header *tar.Header) bool
}

// Unpack writes every regular file of the tar.gz stream r into dst, below
// dir. It returns the number of files written.
func Unpack(ctx context.Context, r io.Reader, dst afero.Fs, dir string, opts Options) (int, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return 0, errors.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	written := 0

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, errors.Errorf("reading tar: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		components := SplitPath(header.Name)
		if len(components) <= opts.StripComponents {
			continue
		}
		name := path.Join(components[opts.StripComponents:]...)

		if name == ".." || strings.HasPrefix(name, "../") || path.IsAbs(name) {
			return written, errors.Errorf("%w: %s", ErrUnsafePath, header.Name)
		}

		if opts.Filter != nil && !opts.Filter(name, header) {
			continue
		}

		target := path.Join(dir, name)

		if err := dst.MkdirAll(path.Dir(target), 0o755); err != nil {
			return written, errors.Errorf("creating directory for %s: %w", target, err)
		}

		f, err := dst.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return written, errors.Errorf("creating %s: %w", target, err)
		}

		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return written, errors.Errorf("writing %s: %w", target, err)
		}
		if err := f.Close(); err != nil {
			return written, errors.Errorf("closing %s: %w", target, err)
		}

		written++
	}

	zerolog.Ctx(ctx).Debug().Int("files", written).Str("dir", dir).Msg("unpacked archive")

	return written, nil
}

// UnpackFile is Unpack for an archive stored at p on src.
func UnpackFile(ctx context.Context, src afero.Fs, p string, dst afero.Fs, dir string, opts Options) (int, error) {
	f, err := src.Open(p)
	if err != nil {
		return 0, errors.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	n, err := Unpack(ctx, f, dst, dir, opts)
	if err != nil {
		return n, errors.Errorf("unpacking %s: %w", p, err)
	}
	return n, nil
}

// Overlay unpacks the archives found on base into memory and returns a
// filesystem that shows their files on top of base. Archive files shadow
// files of the same name on base; base is never written to.
func Overlay(ctx context.Context, base afero.Fs, archives []string, opts Options) (afero.Fs, error) {
	if len(archives) == 0 {
		return base, nil
	}

	layer := afero.NewMemMapFs()
	for _, p := range archives {
		if _, err := UnpackFile(ctx, base, p, layer, ".", opts); err != nil {
			return nil, err
		}
	}

	return afero.NewCopyOnWriteFs(base, layer), nil
}

// SplitPath splits a slash separated archive path into its components,
// dropping empty and "." elements.
func SplitPath(p string) []string {
	var components []string
	for _, c := range strings.Split(p, "/") {
		if c == "" || c == "." {
			continue
		}
		components = append(components, c)
	}
	return components
}
