package grammar

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/walteh/tmtokens/internal/flight"
	"github.com/walteh/tmtokens/pkg/tmlanguage"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/singleflight"
)

var lineageSeq atomic.Uint64

// Grammar is a compiled grammar lineage: the rule table of one root language
// plus every embedded grammar it pulled in. It is owned by the Registry that
// compiled it and is never shared with another Registry, so rule IDs from two
// registries can never be confused.
type Grammar struct {
	id        uint64
	scopeName string
	registry  *Registry
	timeout   time.Duration

	mu    sync.RWMutex
	rules []*Rule
	units map[string]*unit

	loads      singleflight.Group
	candidates sync.Map // RuleID -> []*Rule
	dynamic    sync.Map // string -> *Regex
}

// unit is one source grammar compiled into a lineage.
type unit struct {
	scope   string
	self    RuleID
	repo    *repoScope
	missing bool
}

type repoScope struct {
	entries map[string]*repoEntry
	parent  *repoScope
}

type repoEntry struct {
	pattern tmlanguage.Pattern
	scope   *repoScope
	id      RuleID
}

func newRepoScope(repo map[string]tmlanguage.Pattern, parent *repoScope) *repoScope {
	s := &repoScope{
		entries: make(map[string]*repoEntry, len(repo)),
		parent:  parent,
	}
	for name, p := range repo {
		s.entries[name] = &repoEntry{pattern: p, scope: s}
	}
	return s
}

func (s *repoScope) lookup(name string) *repoEntry {
	for cur := s; cur != nil; cur = cur.parent {
		if e, ok := cur.entries[name]; ok {
			return e
		}
	}
	return nil
}

func newGrammar(ctx context.Context, registry *Registry, desc *tmlanguage.Grammar, timeout time.Duration) *Grammar {
	g := &Grammar{
		id:        lineageSeq.Add(1),
		scopeName: desc.ScopeName,
		registry:  registry,
		timeout:   timeout,
		rules:     []*Rule{nil},
		units:     make(map[string]*unit),
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.compileUnit(ctx, desc)

	zerolog.Ctx(ctx).Debug().
		Uint64("lineage", g.id).
		Str("scope", g.scopeName).
		Int("rules", len(g.rules)-1).
		Msg("compiled grammar")

	return g
}

// ID is the lineage identifier. Every compiled grammar gets a fresh one.
func (g *Grammar) ID() uint64 {
	return g.id
}

func (g *Grammar) ScopeName() string {
	return g.scopeName
}

// Root returns the container rule of the root grammar.
func (g *Grammar) Root() RuleID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.units[g.scopeName].self
}

// Rule returns the rule for id, or nil when the id was not assigned by g.
func (g *Grammar) Rule(id RuleID) *Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id <= 0 || int(id) >= len(g.rules) {
		return nil
	}
	return g.rules[id]
}

// DynamicRegex returns a cached regex for a source built at scan time, such as
// an end pattern with resolved back-references.
func (g *Grammar) DynamicRegex(src string) *Regex {
	if v, ok := g.dynamic.Load(src); ok {
		return v.(*Regex)
	}
	v, _ := g.dynamic.LoadOrStore(src, newRegex(src, g.timeout))
	return v.(*Regex)
}

// Candidates returns the concrete rules (match and block rules) that may
// match inside a frame of rule id, in declaration order. Includes of other
// grammars are resolved and compiled on first use.
func (g *Grammar) Candidates(ctx context.Context, id RuleID) ([]*Rule, error) {
	if v, ok := g.candidates.Load(id); ok {
		return v.([]*Rule), nil
	}

	r := g.Rule(id)
	if r == nil {
		return nil, errors.Errorf("unknown rule id %d in grammar %s (lineage %d)", id, g.scopeName, g.id)
	}

	var out []*Rule
	visited := map[RuleID]bool{id: true}

	var walk func(ids []RuleID) error
	walk = func(ids []RuleID) error {
		for _, pid := range ids {
			p := g.Rule(pid)
			if p == nil {
				continue
			}
			switch p.Kind {
			case KindInclude:
				target, err := g.resolveInclude(ctx, p)
				if err != nil {
					return err
				}
				if target == 0 || visited[target] {
					continue
				}
				t := g.Rule(target)
				if t.Kind == KindContainer {
					visited[target] = true
					if err := walk(t.Patterns); err != nil {
						return err
					}
					continue
				}
				if !t.Disabled {
					out = append(out, t)
				}
			case KindContainer:
				if visited[pid] {
					continue
				}
				visited[pid] = true
				if err := walk(p.Patterns); err != nil {
					return err
				}
			default:
				if !p.Disabled {
					out = append(out, p)
				}
			}
		}
		return nil
	}

	if err := walk(r.Patterns); err != nil {
		return nil, err
	}

	v, _ := g.candidates.LoadOrStore(id, out)
	return v.([]*Rule), nil
}

func (g *Grammar) resolveInclude(ctx context.Context, r *Rule) (RuleID, error) {
	u, err := g.embedded(ctx, r.externalScope)
	if err != nil {
		return 0, err
	}
	if u == nil {
		return 0, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if r.externalRepo == "" {
		return u.self, nil
	}
	e := u.repo.lookup(r.externalRepo)
	if e == nil {
		return 0, nil
	}
	return e.id, nil
}

// embedded returns the unit for scope, loading and compiling it into this
// lineage the first time it is needed. A missing scope yields a nil unit.
func (g *Grammar) embedded(ctx context.Context, scope string) (*unit, error) {
	g.mu.RLock()
	u, ok := g.units[scope]
	g.mu.RUnlock()
	if ok {
		if u.missing {
			return nil, nil
		}
		return u, nil
	}

	u, _, err := flight.Do(ctx, &g.loads, scope, func(ctx context.Context) (*unit, error) {
		g.mu.RLock()
		u, ok := g.units[scope]
		g.mu.RUnlock()
		if ok {
			return u, nil
		}

		desc, err := g.registry.Descriptor(ctx, scope)
		if errors.Is(err, ErrGrammarNotFound) {
			zerolog.Ctx(ctx).Debug().Str("scope", scope).Str("root", g.scopeName).Msg("embedded grammar not found, ignoring include")
			g.mu.Lock()
			defer g.mu.Unlock()
			u := &unit{scope: scope, missing: true}
			g.units[scope] = u
			return u, nil
		}
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		defer g.mu.Unlock()
		zerolog.Ctx(ctx).Debug().Str("scope", scope).Str("root", g.scopeName).Uint64("lineage", g.id).Msg("compiling embedded grammar")
		return g.compileUnit(ctx, desc), nil
	})
	if err != nil {
		return nil, err
	}

	if u.missing {
		return nil, nil
	}
	return u, nil
}

// compileUnit must be called with g.mu held for writing.
func (g *Grammar) compileUnit(ctx context.Context, desc *tmlanguage.Grammar) *unit {
	u := &unit{
		scope: desc.ScopeName,
		repo:  newRepoScope(desc.Repository, nil),
	}
	g.units[u.scope] = u

	c := &compiler{ctx: ctx, g: g, u: u}
	self := c.alloc()
	u.self = self.ID
	self.Kind = KindContainer
	self.Patterns = c.patterns(desc.Patterns, u.repo)

	names := make([]string, 0, len(u.repo.entries))
	for name := range u.repo.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.repoRule(u.repo, name)
	}

	return u
}

type compiler struct {
	ctx context.Context
	g   *Grammar
	u   *unit
}

func (c *compiler) alloc() *Rule {
	r := &Rule{
		ID:           RuleID(len(c.g.rules)),
		grammarScope: c.u.scope,
	}
	c.g.rules = append(c.g.rules, r)
	return r
}

func (c *compiler) patterns(ps []tmlanguage.Pattern, scope *repoScope) []RuleID {
	ids := make([]RuleID, 0, len(ps))
	for _, p := range ps {
		if id := c.pattern(p, scope); id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *compiler) pattern(p tmlanguage.Pattern, scope *repoScope) RuleID {
	if p.Disabled {
		return 0
	}
	if p.Include != "" {
		return c.include(p.Include, scope)
	}
	r := c.alloc()
	c.fill(r, p, scope)
	return r.ID
}

func (c *compiler) repoRule(scope *repoScope, name string) RuleID {
	e := scope.lookup(name)
	if e == nil {
		zerolog.Ctx(c.ctx).Debug().Str("scope", c.u.scope).Str("repository", name).Msg("unknown repository reference")
		return 0
	}
	if e.id != 0 {
		return e.id
	}
	r := c.alloc()
	e.id = r.ID
	c.fill(r, e.pattern, e.scope)
	return r.ID
}

func (c *compiler) include(ref string, scope *repoScope) RuleID {
	switch {
	case ref == "$self":
		return c.u.self
	case ref == "$base":
		return c.g.units[c.g.scopeName].self
	case strings.HasPrefix(ref, "#"):
		return c.repoRule(scope, ref[1:])
	}

	target, repo, _ := strings.Cut(ref, "#")
	if target == c.u.scope {
		if repo == "" {
			return c.u.self
		}
		return c.repoRule(c.u.repo, repo)
	}

	r := c.alloc()
	r.Kind = KindInclude
	r.externalScope = target
	r.externalRepo = repo
	return r.ID
}

func (c *compiler) fill(r *Rule, p tmlanguage.Pattern, scope *repoScope) {
	if p.Disabled {
		r.Kind = KindContainer
		return
	}

	if len(p.Repository) > 0 {
		scope = newRepoScope(p.Repository, scope)
	}

	r.Name = p.Name

	switch {
	case p.Include != "":
		r.Kind = KindContainer
		if id := c.include(p.Include, scope); id != 0 {
			r.Patterns = []RuleID{id}
		}
	case p.Match != "":
		r.Kind = KindMatch
		r.Match = c.regex(r, p.Match)
		r.Captures = c.captures(p.Captures, scope)
	case p.Begin != "":
		r.ContentName = p.ContentName
		r.Match = c.regex(r, p.Begin)
		r.Patterns = c.patterns(p.Patterns, scope)
		r.EndLast = bool(p.ApplyEndPatternLast)

		beginCaptures, endCaptures := p.BeginCaptures, p.EndCaptures
		if p.While != "" {
			r.Kind = KindBeginWhile
			r.EndSource = p.While
			endCaptures = p.WhileCaptures
		} else {
			r.Kind = KindBeginEnd
			r.EndSource = p.End
			if r.EndSource == "" {
				r.EndSource = unmatchable
			}
		}
		if len(beginCaptures) == 0 {
			beginCaptures = p.Captures
		}
		if len(endCaptures) == 0 {
			endCaptures = p.Captures
		}
		r.Captures = c.captures(beginCaptures, scope)
		r.EndCaptures = c.captures(endCaptures, scope)

		if HasBackReferences(r.EndSource) {
			r.EndBackrefs = true
		} else {
			r.End = c.regex(r, r.EndSource)
		}
	default:
		r.Kind = KindContainer
		r.Patterns = c.patterns(p.Patterns, scope)
	}
}

func (c *compiler) regex(r *Rule, src string) *Regex {
	re := newRegex(src, c.g.timeout)
	if err := re.Compile(); err != nil {
		zerolog.Ctx(c.ctx).Warn().Err(err).Str("scope", c.u.scope).Str("rule", r.Name).Msg("disabling rule with unsupported pattern")
		r.Disabled = true
	}
	return re
}

func (c *compiler) captures(caps tmlanguage.Captures, scope *repoScope) []*Capture {
	indexed := caps.Indexed()
	if indexed == nil {
		return nil
	}
	out := make([]*Capture, len(indexed))
	for i, p := range indexed {
		if p == nil {
			continue
		}
		capture := &Capture{Name: p.Name}
		if len(p.Patterns) > 0 {
			r := c.alloc()
			r.Kind = KindContainer
			r.Name = p.Name
			r.Patterns = c.patterns(p.Patterns, scope)
			capture.Rule = r.ID
		}
		out[i] = capture
	}
	return out
}
