// Package grammar resolves language identifiers to compiled TextMate grammars.
//
// A Registry owns everything it compiles. Two registries never share a rule
// table, which keeps rule IDs from one engine instance from ever being
// interpreted by another.
package grammar

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/walteh/tmtokens/internal/flight"
	"github.com/walteh/tmtokens/pkg/tmlanguage"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/singleflight"
)

var (
	ErrGrammarNotFound = errors.Base("grammar not found")
	ErrRegistryClosed  = errors.Base("grammar registry closed")
)

// Loader fetches a raw grammar by scope name. Implementations should return an
// error wrapping ErrGrammarNotFound for unknown scopes; a nil grammar with a
// nil error is treated the same way.
type Loader interface {
	LoadGrammar(ctx context.Context, scopeName string) (*tmlanguage.Grammar, error)
}

type LoaderFunc func(ctx context.Context, scopeName string) (*tmlanguage.Grammar, error)

func (f LoaderFunc) LoadGrammar(ctx context.Context, scopeName string) (*tmlanguage.Grammar, error) {
	return f(ctx, scopeName)
}

type Options struct {
	// Languages maps language identifiers to scope names, on top of
	// DefaultLanguages.
	Languages map[string]string
	// MatchTimeout bounds a single regex match. Zero means no limit.
	MatchTimeout time.Duration
}

type Registry struct {
	loader Loader
	opts   Options

	loads singleflight.Group

	mu          sync.RWMutex
	descriptors map[string]*tmlanguage.Grammar
	compiled    map[string]*Grammar
	closed      bool
}

func NewRegistry(loader Loader, opts Options) *Registry {
	return &Registry{
		loader:      loader,
		opts:        opts,
		descriptors: make(map[string]*tmlanguage.Grammar),
		compiled:    make(map[string]*Grammar),
	}
}

// ScopeFor returns the scope name a language identifier resolves to.
func (r *Registry) ScopeFor(language string) string {
	return ResolveScope(language, r.opts.Languages)
}

// Descriptor returns the raw grammar for scope. Concurrent first requests for
// the same scope share a single call to the loader.
func (r *Registry) Descriptor(ctx context.Context, scope string) (*tmlanguage.Grammar, error) {
	r.mu.RLock()
	desc, ok := r.descriptors[scope]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		return desc, nil
	}

	desc, shared, err := flight.Do(ctx, &r.loads, "descriptor:"+scope, func(ctx context.Context) (*tmlanguage.Grammar, error) {
		zerolog.Ctx(ctx).Debug().Str("scope", scope).Msg("loading grammar")

		desc, err := r.loader.LoadGrammar(ctx, scope)
		if err != nil {
			return nil, err
		}
		if desc == nil {
			return nil, errors.Errorf("%w: %s", ErrGrammarNotFound, scope)
		}
		if desc.ScopeName != scope {
			if desc.ScopeName != "" {
				zerolog.Ctx(ctx).Warn().Str("requested", scope).Str("declared", desc.ScopeName).Msg("grammar declares a different scope name")
			}
			cp := *desc
			cp.ScopeName = scope
			desc = &cp
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return nil, ErrRegistryClosed
		}
		r.descriptors[scope] = desc
		return desc, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		zerolog.Ctx(ctx).Debug().Str("scope", scope).Msg("shared in-flight grammar load")
	}

	return desc, nil
}

// Grammar returns the compiled grammar for a language identifier or scope
// name, compiling it on first use.
func (r *Registry) Grammar(ctx context.Context, language string) (*Grammar, error) {
	scope := r.ScopeFor(language)

	r.mu.RLock()
	g, ok := r.compiled[scope]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		return g, nil
	}

	g, _, err := flight.Do(ctx, &r.loads, "grammar:"+scope, func(ctx context.Context) (*Grammar, error) {
		r.mu.RLock()
		g, ok := r.compiled[scope]
		r.mu.RUnlock()
		if ok {
			return g, nil
		}

		desc, err := r.Descriptor(ctx, scope)
		if err != nil {
			return nil, err
		}

		g = newGrammar(ctx, r, desc, r.opts.MatchTimeout)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return nil, ErrRegistryClosed
		}
		r.compiled[scope] = g
		return g, nil
	})
	if err != nil {
		return nil, err
	}

	return g, nil
}

// Close drops every compiled grammar and cached descriptor. The registry
// cannot be used afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.descriptors = nil
	r.compiled = nil
}
