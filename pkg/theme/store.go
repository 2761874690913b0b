package theme

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/walteh/tmtokens/internal/flight"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	ErrThemeNotFound = errors.Base("theme not found")
	ErrNoThemes      = errors.Base("at least one theme is required")
	ErrStoreClosed   = errors.Base("theme store closed")
)

// Loader fetches a raw theme by name. Implementations should return an error
// wrapping ErrThemeNotFound for unknown names; a nil definition with a nil
// error is treated the same way.
type Loader interface {
	LoadTheme(ctx context.Context, name string) (*Definition, error)
}

type LoaderFunc func(ctx context.Context, name string) (*Definition, error)

func (f LoaderFunc) LoadTheme(ctx context.Context, name string) (*Definition, error) {
	return f(ctx, name)
}

// Store caches normalized themes for one engine instance.
type Store struct {
	loader Loader
	loads  singleflight.Group

	mu     sync.RWMutex
	themes map[string]*Theme
	closed bool
}

func NewStore(loader Loader) *Store {
	return &Store{
		loader: loader,
		themes: make(map[string]*Theme),
	}
}

// Theme returns the normalized theme for name. Concurrent first requests for
// the same name share a single call to the loader.
func (s *Store) Theme(ctx context.Context, name string) (*Theme, error) {
	s.mu.RLock()
	t, ok := s.themes[name]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}
	if ok {
		return t, nil
	}

	t, _, err := flight.Do(ctx, &s.loads, name, func(ctx context.Context) (*Theme, error) {
		zerolog.Ctx(ctx).Debug().Str("theme", name).Msg("loading theme")

		def, err := s.loader.LoadTheme(ctx, name)
		if err != nil {
			return nil, err
		}
		if def == nil {
			return nil, errors.Errorf("%w: %s", ErrThemeNotFound, name)
		}

		t := Normalize(def)
		if t.Name == "" {
			t.Name = name
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil, ErrStoreClosed
		}
		s.themes[name] = t
		return t, nil
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

// Themes resolves several themes in parallel, preserving order. Every failure
// is reported, not just the first.
func (s *Store) Themes(ctx context.Context, names []string) ([]*Theme, error) {
	if len(names) == 0 {
		return nil, ErrNoThemes
	}

	out := make([]*Theme, len(names))

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	for i, name := range names {
		g.Go(func() error {
			t, err := s.Theme(ctx, name)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return nil
			}
			out[i] = t
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		return nil, errs
	}
	return out, nil
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.themes = nil
}
