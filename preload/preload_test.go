package preload

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sandboxrt/djvm/cache"
	"github.com/sandboxrt/djvm/resolver"
	"github.com/sandboxrt/djvm/rewrite"
)

type fakeSource struct {
	archives map[string][]string // archive path -> class internal names
}

func (f *fakeSource) PreloadArchives() []string {
	var paths []string
	for p := range f.archives {
		paths = append(paths, p)
	}
	return paths
}

func (f *fakeSource) ClassEntriesOf(path string) []string { return f.archives[path] }

func (f *fakeSource) LoadClassBytes(name string) ([]byte, error) { return nil, nil }

func TestRunWithNoPreloadArchivesIsANoop(t *testing.T) {
	r := resolver.New(nil, nil, nil)
	driver := &rewrite.Driver{Resolver: r, Cache: cache.New(nil, zerolog.Nop())}
	src := &fakeSource{archives: map[string][]string{}}

	resolverImpl := &Resolver{Source: src, Driver: driver, Cache: driver.Cache, Log: zerolog.Nop()}
	if err := resolverImpl.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunRewritesRootClassesAndFollowsRefs(t *testing.T) {
	r := resolver.New(nil, nil, nil)
	ctx := context.Background()
	c := cache.New(nil, zerolog.Nop())

	rootSandbox := r.ResolveType("com/acme/Root")
	refSandbox := r.ResolveType("com/acme/Referenced")
	c.PutIfAbsent(ctx, rootSandbox, []byte{1}, []string{refSandbox})
	c.PutIfAbsent(ctx, refSandbox, []byte{2}, nil)

	driver := &rewrite.Driver{Resolver: r, Cache: c}
	src := &fakeSource{archives: map[string][]string{
		"app.jar": {"com/acme/Root"},
	}}

	resolverImpl := &Resolver{Source: src, Driver: driver, Cache: c, Log: zerolog.Nop()}
	if err := resolverImpl.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !c.Has(rootSandbox) {
		t.Fatal("expected the root class to have been rewritten (cache hit short-circuits, but it must still be resolvable)")
	}
	if !c.Has(refSandbox) {
		t.Fatal("expected the transitively referenced class to have been rewritten")
	}
}

func TestVisitSetClaimDeduplicates(t *testing.T) {
	v := &visitSet{seen: make(map[string]bool)}
	first := v.claim([]string{"a", "b"})
	second := v.claim([]string{"b", "c"})

	if len(first) != 2 {
		t.Fatalf("first claim = %v, want [a b]", first)
	}
	if len(second) != 1 || second[0] != "c" {
		t.Fatalf("second claim = %v, want [c] (b already claimed)", second)
	}
	if v.count() != 3 {
		t.Fatalf("count = %d, want 3", v.count())
	}
}
