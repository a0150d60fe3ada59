// Package cache implements the hierarchical Bytecode Cache of spec §4.9:
// a parent/child chain of content-addressed caches mapping sandbox class
// name to rewritten bytes, with an optional external shared cache
// consulted before the local chain on read and updated on write.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Entry is one published cache value: the final rewritten bytes plus the
// set of sandbox names the class references, used for reachability during
// preload manifest resolution.
type Entry struct {
	Bytes []byte
	Refs  []string
}

// External is the interface an optional, caller-provided shared cache
// implements. It is a pure side channel: last-writer-wins, safe for
// concurrent readers and writers, and per spec §3(d) it only ever sees
// fully rewritten, validated bytes — Refs are local-cache-only metadata
// and are not part of this interface.
type External interface {
	Get(ctx context.Context, name string) ([]byte, bool, error)
	Put(ctx context.Context, name string, bytes []byte) error
}

// Cache is one node of the hierarchical chain. A lookup consults the
// external cache (if any), then the parent chain, then this node's own
// local entries. Writes via PutIfAbsent only ever land in this node's
// local map — never in the parent — which is what lets a child discard
// its cache without disturbing anything the parent or a sibling child
// published.
type Cache struct {
	parent   *Cache
	external External
	log      zerolog.Logger

	mu    sync.RWMutex
	local map[string]Entry
}

// New constructs a root cache, optionally backed by an external shared
// store.
func New(external External, log zerolog.Logger) *Cache {
	return &Cache{
		external: external,
		log:      log,
		local:    make(map[string]Entry),
	}
}

// NewChild constructs a cache chained to parent: child reads fall through
// to parent on a local miss, but child writes never touch parent. The
// child inherits parent's external cache, since the external cache is a
// side channel shared across every configuration in the process, not a
// per-configuration resource.
func (c *Cache) NewChild() *Cache {
	return &Cache{
		parent:   c,
		external: c.external,
		log:      c.log,
		local:    make(map[string]Entry),
	}
}

// Get returns the cached entry for name, consulting the external cache,
// then the parent chain, then this cache's own local entries, in that
// order.
func (c *Cache) Get(ctx context.Context, name string) (Entry, bool) {
	if c.external != nil {
		if b, ok, err := c.getExternal(ctx, name); err == nil && ok {
			return Entry{Bytes: b}, true
		}
	}
	if c.parent != nil {
		if e, ok := c.parent.Get(ctx, name); ok {
			return e, true
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.local[name]
	return e, ok
}

func (c *Cache) getExternal(ctx context.Context, name string) ([]byte, bool, error) {
	op := func() ([]byte, error) {
		b, ok, err := c.external.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return b, nil
	}
	b, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(3),
		backoff.WithMaxElapsedTime(defaultBackoffTimeout),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		c.log.Warn().Err(err).Str("class", name).Msg("external cache read failed, falling back to local chain")
		return nil, false, err
	}
	return b, b != nil, nil
}

// PutIfAbsent publishes bytes and refs for name into this cache's own
// local map, unless an entry for name already exists there (cache
// entries are immutable once published — spec §3 invariant (c)). It also
// attempts to publish to the external cache, if any; a failed external
// publish is logged and does not fail the rewrite, since the local chain
// remains authoritative.
func (c *Cache) PutIfAbsent(ctx context.Context, name string, bytes []byte, refs []string) {
	c.mu.Lock()
	if _, exists := c.local[name]; !exists {
		c.local[name] = Entry{Bytes: bytes, Refs: refs}
	}
	c.mu.Unlock()

	if c.external != nil {
		c.putExternal(ctx, name, bytes)
	}
}

func (c *Cache) putExternal(ctx context.Context, name string, bytes []byte) {
	op := func() (struct{}, error) {
		return struct{}{}, c.external.Put(ctx, name, bytes)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(3),
		backoff.WithMaxElapsedTime(defaultBackoffTimeout),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		c.log.Warn().Err(err).Str("class", name).Msg("external cache publish failed")
	}
}

// Has reports whether name is present anywhere in the chain, without the
// external-cache round trip — used by the preload resolver to decide
// whether a referenced class still needs rewriting.
func (c *Cache) Has(name string) bool {
	c.mu.RLock()
	_, ok := c.local[name]
	c.mu.RUnlock()
	if ok {
		return true
	}
	if c.parent != nil {
		return c.parent.Has(name)
	}
	return false
}

// defaultBackoffTimeout bounds how long an external-cache round trip may
// retry before the caller falls back to treating the entry as absent.
const defaultBackoffTimeout = 2 * time.Second
