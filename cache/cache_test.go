package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestPutIfAbsentThenGet(t *testing.T) {
	c := New(nil, zerolog.Nop())
	ctx := context.Background()

	c.PutIfAbsent(ctx, "sandbox/com/acme/Widget", []byte{1, 2, 3}, []string{"sandbox/java/lang/Object"})

	entry, ok := c.Get(ctx, "sandbox/com/acme/Widget")
	if !ok {
		t.Fatal("expected a cache hit after PutIfAbsent")
	}
	if len(entry.Bytes) != 3 || entry.Refs[0] != "sandbox/java/lang/Object" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestPutIfAbsentDoesNotOverwrite(t *testing.T) {
	c := New(nil, zerolog.Nop())
	ctx := context.Background()

	c.PutIfAbsent(ctx, "name", []byte{1}, nil)
	c.PutIfAbsent(ctx, "name", []byte{2}, nil)

	entry, ok := c.Get(ctx, "name")
	if !ok || len(entry.Bytes) != 1 || entry.Bytes[0] != 1 {
		t.Fatalf("entry = %+v, want the first published value to win", entry)
	}
}

func TestChildReadsFallThroughToParent(t *testing.T) {
	parent := New(nil, zerolog.Nop())
	ctx := context.Background()
	parent.PutIfAbsent(ctx, "name", []byte{9}, nil)

	child := parent.NewChild()
	entry, ok := child.Get(ctx, "name")
	if !ok || entry.Bytes[0] != 9 {
		t.Fatalf("child did not see parent entry: ok=%v entry=%+v", ok, entry)
	}
}

func TestChildWritesDoNotReachParent(t *testing.T) {
	parent := New(nil, zerolog.Nop())
	ctx := context.Background()
	child := parent.NewChild()

	child.PutIfAbsent(ctx, "name", []byte{1}, nil)

	if _, ok := parent.Get(ctx, "name"); ok {
		t.Fatal("child write leaked into parent")
	}
	if _, ok := child.Get(ctx, "name"); !ok {
		t.Fatal("child should see its own write")
	}
}

func TestHasChecksLocalThenParent(t *testing.T) {
	parent := New(nil, zerolog.Nop())
	ctx := context.Background()
	parent.PutIfAbsent(ctx, "inherited", []byte{1}, nil)

	child := parent.NewChild()
	child.PutIfAbsent(ctx, "own", []byte{2}, nil)

	if !child.Has("own") {
		t.Fatal("expected Has to find a locally published entry")
	}
	if !child.Has("inherited") {
		t.Fatal("expected Has to fall through to the parent")
	}
	if child.Has("missing") {
		t.Fatal("did not expect Has to find a name that was never published")
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(nil, zerolog.Nop())
	if _, ok := c.Get(context.Background(), "nope"); ok {
		t.Fatal("expected a miss for a name never published")
	}
}

func TestConcurrentPutIfAbsentIsRaceFree(t *testing.T) {
	c := New(nil, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.PutIfAbsent(ctx, "shared", []byte{byte(n)}, nil)
		}(i)
	}
	wg.Wait()

	if _, ok := c.Get(ctx, "shared"); !ok {
		t.Fatal("expected the shared entry to be published by one of the goroutines")
	}
}
