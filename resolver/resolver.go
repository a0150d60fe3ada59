// Package resolver implements the Class Resolver: bidirectional name
// mapping between the host namespace and the sandbox namespace, honoring
// a whitelist and a pinned-class set. It is the single point of truth the
// Remapper, Emitters and Sandbox Class Loader all call through so that
// "is this name sandboxed" is answered identically everywhere.
package resolver

import (
	"strings"

	"github.com/sandboxrt/djvm/classfile"
)

// SandboxPrefix is the literal namespace prefix applied to every host
// internal name that is not pinned, template, or whitelisted.
const SandboxPrefix = "sandbox/"

// Whitelist decides, for a fully qualified host internal name, whether
// that name passes through the Remapper unchanged. Implementations are
// expected to be pure and side-effect free; see whitelist.Table for the
// canonical policy-table-backed implementation.
type Whitelist interface {
	Unmapped(hostName string) bool
}

// Resolver maps host internal names to sandbox internal names and back,
// per the four rules of spec §4.1: array descriptors recurse on their
// element, primitives are identity, pinned/template/whitelisted names are
// identity, and already-prefixed names are identity; everything else gets
// the sandbox prefix prepended.
type Resolver struct {
	pinned    map[string]bool
	templates map[string]bool
	whitelist Whitelist
}

// New builds a Resolver over the given pin set, template set (types the
// deterministic runtime defines under their own host name — see
// whitelist.TemplateClasses) and whitelist.
func New(pinned, templates []string, whitelist Whitelist) *Resolver {
	r := &Resolver{
		pinned:    toSet(pinned),
		templates: toSet(templates),
		whitelist: whitelist,
	}
	return r
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// IsPinned reports whether name (a host internal name) is pinned: it
// keeps its host name in the sandbox namespace, though its body may still
// be rewritten.
func (r *Resolver) IsPinned(name string) bool {
	return r.pinned[name]
}

// IsTemplate reports whether name is supplied directly by the
// deterministic runtime under its own host name (sandbox name equals host
// name). Loading does not treat templates specially: a template class
// goes through the Rewrite Driver like any other class.
func (r *Resolver) IsTemplate(name string) bool {
	return r.templates[name]
}

// ResolveType maps a host internal name (e.g. "a/b/C") to its sandbox
// internal name, applying the rules in order: array, primitive,
// pinned/template/whitelisted, already-prefixed, else prefix.
func (r *Resolver) ResolveType(name string) string {
	if strings.HasPrefix(name, "[") {
		depth, elem := classfile.ArrayDepth(name)
		return strings.Repeat("[", depth) + r.resolveElement(elem)
	}
	return r.resolveElement(name)
}

func (r *Resolver) resolveElement(name string) string {
	if classfile.IsPrimitiveDescriptor(name) {
		return name
	}
	// Object type tokens arrive either as bare internal names ("a/b/C")
	// or, inside a descriptor, as "La/b/C;"; handle both so callers don't
	// need to strip the wrapper themselves.
	bare := name
	wrapped := false
	if elemName, ok := classfile.ObjectTypeName(name); ok {
		bare = elemName
		wrapped = true
	}

	resolved := r.resolveBareName(bare)

	if wrapped {
		return "L" + resolved + ";"
	}
	return resolved
}

func (r *Resolver) resolveBareName(name string) string {
	if r.pinned[name] || r.templates[name] || (r.whitelist != nil && r.whitelist.Unmapped(name)) {
		return name
	}
	if strings.HasPrefix(name, SandboxPrefix) {
		return name
	}
	return SandboxPrefix + name
}

// ResolveDescriptor applies ResolveType to every type token of a field or
// method descriptor, leaving the parenthesization and primitive/array
// markers intact.
func (r *Resolver) ResolveDescriptor(desc string) string {
	return classfile.RewriteTypeTokens(desc, r.resolveBareName)
}

// Reverse maps a sandbox internal name back to its host internal name by
// stripping the sandbox prefix, if present. Pinned and template names are
// returned unchanged, since they were never prefixed.
func (r *Resolver) Reverse(name string) string {
	if strings.HasPrefix(name, "[") {
		depth, elem := classfile.ArrayDepth(name)
		return strings.Repeat("[", depth) + r.reverseElement(elem)
	}
	return r.reverseElement(name)
}

func (r *Resolver) reverseElement(name string) string {
	bare := name
	wrapped := false
	if elemName, ok := classfile.ObjectTypeName(name); ok {
		bare = elemName
		wrapped = true
	}

	reversed := bare
	if !r.templates[bare] {
		reversed = strings.TrimPrefix(bare, SandboxPrefix)
	}
	if wrapped {
		return "L" + reversed + ";"
	}
	return reversed
}

// IsSandboxName reports whether name already carries the sandbox prefix.
func IsSandboxName(name string) bool {
	return strings.HasPrefix(name, SandboxPrefix)
}
