// Package remap implements the Remapper of spec §4.7: the pass that walks
// a class's constant pool after Definition Providers and Emitters have run,
// rewriting every Class, NameAndType-bearing, and MethodHandle entry's
// referenced internal names through the Class Resolver.
package remap

import "github.com/sandboxrt/djvm/classfile"

// Resolver is the subset of resolver.Resolver the Remapper needs. Declared
// locally so this package doesn't import resolver just to name its own
// dependency — both packages depend on classfile, not on each other.
type Resolver interface {
	ResolveType(name string) string
	ResolveDescriptor(desc string) string
}

// Pool rewrites every constant pool entry of pool in place through r:
// CONSTANT_Class entries get their name resolved as a type, and
// CONSTANT_NameAndType entries get their descriptor resolved as a field or
// method descriptor (the name itself is never rewritten — member names are
// a policy-table concern, handled by emit.RewriteClassLoaderMethods and
// friends, not the Remapper).
func Pool(pool *classfile.ConstantPool, r Resolver) {
	pool.Each(func(index uint16, c classfile.Constant) {
		switch e := c.(type) {
		case classfile.ConstantClassInfo:
			name := pool.Utf8(e.NameIndex)
			resolved := r.ResolveType(name)
			if resolved != name {
				pool.Set(e.NameIndex, classfile.ConstantUtf8Info{Value: resolved})
			}
		case classfile.ConstantNameAndTypeInfo:
			desc := pool.Utf8(e.DescriptorIndex)
			resolved := r.ResolveDescriptor(desc)
			if resolved != desc {
				pool.Set(e.DescriptorIndex, classfile.ConstantUtf8Info{Value: resolved})
			}
		}
	})
}

// FieldDescriptor rewrites a field's descriptor through r.
func FieldDescriptor(desc string, r Resolver) string {
	return r.ResolveDescriptor(desc)
}

// MethodDescriptor rewrites a method's descriptor through r.
func MethodDescriptor(desc string, r Resolver) string {
	return r.ResolveDescriptor(desc)
}

// ClassName rewrites a class's own this/super name through r.
func ClassName(name string, r Resolver) string {
	return r.ResolveType(name)
}

// Interfaces rewrites an interface list through r.
func Interfaces(names []string, r Resolver) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = r.ResolveType(n)
	}
	return out
}
