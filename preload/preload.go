// Package preload implements the Preload manifest resolver of spec §6:
// given a source archive carrying META-INF/DJVM-preload, it eagerly
// rewrites every class the archive packages plus the transitive closure
// of classes those reference, so a later Sandbox Class Loader request
// for any of them is already a cache hit.
package preload

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sandboxrt/djvm/cache"
	"github.com/sandboxrt/djvm/rewrite"
)

// maxConcurrency bounds how many classes are rewritten at once. The
// spec's concurrency model gives no ordering guarantee beyond the causal
// one induced by reference chasing, so parallelizing across independent
// class names is safe; the bound exists only to avoid a pathological
// archive starving the process of goroutines.
const maxConcurrency = 8

// Source is the subset of source.Loader the resolver needs: archive
// discovery and per-archive class listing.
type Source interface {
	PreloadArchives() []string
	ClassEntriesOf(path string) []string
}

// Resolver drives preload resolution for one Configuration-shaped set of
// dependencies.
type Resolver struct {
	Source Source
	Driver *rewrite.Driver
	Cache  *cache.Cache
	Log    zerolog.Logger
}

// Run rewrites every class packaged by an archive carrying
// META-INF/DJVM-preload, then recursively rewrites every class those
// reference (via cache.Entry.Refs, populated by the Rewrite Driver) until
// the transitive closure has no referenced class left un-rewritten.
func (r *Resolver) Run(ctx context.Context, src rewrite.SourceLoader) error {
	archives := r.Source.PreloadArchives()
	if len(archives) == 0 {
		return nil
	}

	var roots []string
	for _, a := range archives {
		roots = append(roots, r.Source.ClassEntriesOf(a)...)
	}
	r.Log.Info().Int("archives", len(archives)).Int("classes", len(roots)).Msg("preload resolution starting")

	visited := &visitSet{seen: make(map[string]bool, len(roots))}
	if err := r.closure(ctx, src, roots, visited); err != nil {
		return err
	}
	r.Log.Info().Int("rewritten", visited.count()).Msg("preload resolution complete")
	return nil
}

// closure rewrites every name in names not yet visited, then recurses on
// the union of classes those rewrites reference, one generation of the
// reference graph at a time so a bounded errgroup can parallelize each
// generation without unbounded recursion depth.
func (r *Resolver) closure(ctx context.Context, src rewrite.SourceLoader, names []string, visited *visitSet) error {
	pending := visited.claim(names)
	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	var mu sync.Mutex
	var next []string

	for _, name := range pending {
		name := name
		g.Go(func() error {
			sandboxName := r.Driver.Resolver.ResolveType(name)
			if _, err := r.Driver.Rewrite(gctx, src, name); err != nil {
				return fmt.Errorf("preload %s: %w", name, err)
			}
			if entry, ok := r.Cache.Get(gctx, sandboxName); ok {
				mu.Lock()
				next = append(next, reverseAll(r.Driver.Resolver, entry.Refs)...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return r.closure(ctx, src, next, visited)
}

func reverseAll(resolver interface{ Reverse(string) string }, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = resolver.Reverse(n)
	}
	return out
}

// visitSet tracks which host class names have already been claimed for
// rewriting, so two generations of the closure walk that both reference
// the same class only rewrite it once.
type visitSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

// claim returns the subset of names not yet seen, marking all of them
// seen atomically so a concurrent call can't double-claim a name that
// appears in two different generations' reference sets.
func (v *visitSet) claim(names []string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, n := range names {
		if v.seen[n] {
			continue
		}
		v.seen[n] = true
		out = append(out, n)
	}
	return out
}

func (v *visitSet) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}
