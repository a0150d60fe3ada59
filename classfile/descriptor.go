package classfile

import "strings"

// primitiveDescriptors are the single-character field descriptors that
// never need remapping: B(byte) C(char) D(double) F(float) I(int) J(long)
// S(short) Z(boolean) V(void, return types only).
const primitiveDescriptors = "BCDFIJSVZ"

// IsPrimitiveDescriptor reports whether tok is a single-character
// primitive type descriptor.
func IsPrimitiveDescriptor(tok string) bool {
	return len(tok) == 1 && strings.ContainsRune(primitiveDescriptors, rune(tok[0]))
}

// ArrayDepth returns the number of leading '[' characters and the
// remaining element descriptor.
func ArrayDepth(desc string) (depth int, element string) {
	for len(desc) > 0 && desc[0] == '[' {
		depth++
		desc = desc[1:]
	}
	return depth, desc
}

// ObjectTypeName extracts the internal class name from an object type
// descriptor of the form "Lpkg/Class;", or returns "", false if desc is
// not an object type descriptor.
func ObjectTypeName(desc string) (name string, ok bool) {
	if len(desc) < 2 || desc[0] != 'L' || desc[len(desc)-1] != ';' {
		return "", false
	}
	return desc[1 : len(desc)-1], true
}

// WalkMethodDescriptor splits a method descriptor "(ARGS)RET" into its
// parameter type tokens and return type token, each a field descriptor
// (primitive, array, or object-type with the leading 'L' and trailing ';').
func WalkMethodDescriptor(desc string) (params []string, ret string) {
	if len(desc) == 0 || desc[0] != '(' {
		return nil, desc
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		tok, n := readTypeToken(desc[i:])
		params = append(params, tok)
		i += n
	}
	if i < len(desc) {
		i++ // skip ')'
	}
	return params, desc[i:]
}

// readTypeToken reads one field descriptor token from the start of s and
// returns it along with the number of bytes consumed.
func readTypeToken(s string) (tok string, n int) {
	depth := 0
	for depth < len(s) && s[depth] == '[' {
		depth++
	}
	if depth >= len(s) {
		return s, len(s)
	}
	switch s[depth] {
	case 'L':
		end := strings.IndexByte(s[depth:], ';')
		if end < 0 {
			return s, len(s)
		}
		return s[:depth+end+1], depth + end + 1
	default:
		return s[:depth+1], depth + 1
	}
}

// RewriteTypeTokens applies fn to every field-descriptor token (primitive,
// array element, or object type name, excluding the 'L'/';' wrapper) found
// in desc, which may be a bare field descriptor or a full method
// descriptor, and reassembles the result. fn receives and returns a bare
// internal class name for object types and is not called for primitives.
func RewriteTypeTokens(desc string, fn func(internalName string) string) string {
	if len(desc) == 0 {
		return desc
	}
	if desc[0] == '(' {
		params, ret := WalkMethodDescriptor(desc)
		var b strings.Builder
		b.WriteByte('(')
		for _, p := range params {
			b.WriteString(rewriteOneToken(p, fn))
		}
		b.WriteByte(')')
		b.WriteString(rewriteOneToken(ret, fn))
		return b.String()
	}
	return rewriteOneToken(desc, fn)
}

func rewriteOneToken(tok string, fn func(string) string) string {
	depth, elem := ArrayDepth(tok)
	if name, ok := ObjectTypeName(elem); ok {
		elem = "L" + fn(name) + ";"
	}
	return strings.Repeat("[", depth) + elem
}
