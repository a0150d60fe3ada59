// Package loader implements the Sandbox Class Loader of spec §4.10: the
// cache-backed, cycle-safe loader that turns a host class name into fully
// rewritten sandbox bytes (or a definition failure), enforcing the
// boundary-crossing rules on values passed across the sandbox/host line.
package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sandboxrt/djvm/djvmerrors"
	"github.com/sandboxrt/djvm/resolver"
	"github.com/sandboxrt/djvm/rewrite"
)

// state is a class's position in the {absent, loading, defined, failed}
// state machine spec §4.10 describes.
type state int

const (
	stateLoading state = iota
	stateDefined
	stateFailed
)

type entry struct {
	state state
	bytes []byte
	err   error
	done  chan struct{}
}

// Loader is one sandbox class loader instance. It may have a parent
// Loader, which is always consulted first — a class defined by a parent is
// never redefined by a child, matching host classloader delegation and
// preventing two different sandbox types with the same name from
// coexisting in a single class hierarchy.
type Loader struct {
	parent   *Loader
	driver   *rewrite.Driver
	source   rewrite.SourceLoader
	resolver *resolver.Resolver
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs a Loader. parent may be nil for a root loader.
func New(driver *rewrite.Driver, source rewrite.SourceLoader, parent *Loader, log zerolog.Logger) *Loader {
	return &Loader{
		parent:  parent,
		driver:  driver,
		source:  source,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Parent returns this loader's parent, or nil if it is a root loader.
// Spec §4.10 point 5: walking Parent() repeatedly must terminate at a
// sandbox loader with no parent, never continue up into a host application
// loader.
func (l *Loader) Parent() *Loader {
	return l.parent
}

// LoadClass returns the fully rewritten bytes for hostName, or a
// *djvmerrors.ClassNotFoundError / *djvmerrors.SandboxClassLoadingError.
// Concurrent callers requesting the same class block on the same in-flight
// rewrite rather than racing to define it twice. Any request for a class
// whose entry is still {loading} waits until that load finishes; the
// in-progress class is not handed out, so a request made from inside the
// same load would wait on itself. The Rewrite Driver does not call back
// into the loader while rewriting.
func (l *Loader) LoadClass(ctx context.Context, hostName string) ([]byte, error) {
	if l.parent != nil {
		if b, err := l.parent.LoadClass(ctx, hostName); err == nil {
			return b, nil
		}
	}

	l.mu.Lock()
	if e, ok := l.entries[hostName]; ok {
		l.mu.Unlock()
		<-e.done
		if e.state == stateFailed {
			return nil, e.err
		}
		return e.bytes, nil
	}
	e := &entry{state: stateLoading, done: make(chan struct{})}
	l.entries[hostName] = e
	l.mu.Unlock()

	bytes, err := l.driver.Rewrite(ctx, l.source, hostName)
	l.mu.Lock()
	if err != nil {
		e.state = stateFailed
		e.err = err
	} else {
		e.state = stateDefined
		e.bytes = bytes
	}
	l.mu.Unlock()
	close(e.done)

	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// CheckBoundaryArgument enforces spec §4.10's boundary rule: a host
// Class, Constructor, Method, Field, or ClassLoader instance can never
// cross into sandboxed code as an argument or return value, since every
// one of those types carries a live reference back into the host runtime
// that a sandboxed class must never be able to reach. value describes the
// specific instance being rejected — for "java/lang/Class" it is the
// dotted name of the class the instance represents (e.g.
// "java.lang.String"); for the reflect.* types it is that member's own
// description (matching java.lang.reflect.Constructor/Method/Field's
// toString); for "java/lang/ClassLoader" it is ignored, since every
// ClassLoader instance is rejected with the same fixed message.
func CheckBoundaryArgument(hostTypeName, value string) error {
	switch hostTypeName {
	case "java/lang/Class":
		return &djvmerrors.RuleViolationError{Boundary: "class " + value}
	case "java/lang/ClassLoader":
		return &djvmerrors.RuleViolationError{Boundary: "a ClassLoader"}
	case "java/lang/reflect/Constructor", "java/lang/reflect/Method", "java/lang/reflect/Field":
		return &djvmerrors.RuleViolationError{Boundary: value}
	}
	return nil
}

// Diagnostics summarizes what a loading pass reported, for callers (the
// CLI's rewrite subcommand) that want to print every violation rather than
// just the first error.
func Diagnostics(err error) []djvmerrors.Diagnostic {
	if sc, ok := err.(*djvmerrors.SandboxClassLoadingError); ok {
		return sc.Diagnostics
	}
	return nil
}

// NewResolverBacked builds a root Loader exactly as New does and also
// records r on it. The resolver is retained on the Loader (see Resolver) so callers can confirm
// the driver and loader agree on one naming scheme before loading a class.
func NewResolverBacked(driver *rewrite.Driver, source rewrite.SourceLoader, r *resolver.Resolver, log zerolog.Logger) *Loader {
	l := New(driver, source, nil, log)
	l.resolver = r
	return l
}

// Resolver returns the resolver this Loader was constructed with, or nil
// for a Loader built with New directly.
func (l *Loader) Resolver() *resolver.Resolver {
	return l.resolver
}

func errClassNotFound(name string) error {
	return fmt.Errorf("class not found: %w", &djvmerrors.ClassNotFoundError{Name: name})
}
