// Package providers implements the seven Definition Providers enumerated
// in spec §4.5: pure functions that rewrite class or member metadata
// before emission.
package providers

import (
	"encoding/binary"
	"strings"

	"github.com/sandboxrt/djvm/analysis"
	"github.com/sandboxrt/djvm/classfile"
)

// SandboxObject is the sandbox name of the deterministic runtime's
// Object replacement, the inheritance root every rewritten class whose
// host super is Object is retargeted to.
const SandboxObject = "sandbox/java/lang/Object"

// SandboxString is the sandbox name of the deterministic runtime's String
// replacement, the target type of ConstantFieldRemover's synthetic
// initializer.
const SandboxString = "sandbox/java/lang/String"

// InternHelper is the deterministic runtime's string interning entry
// point, invoked by the synthetic static initializer ConstantFieldRemover
// installs and (separately) by emit.StringConstantWrapper at every ldc
// site.
const InternHelper = "sandbox/java/lang/DJVM.intern(Ljava/lang/String;)Lsandbox/java/lang/String;"

// AlwaysInheritFromSandboxedObject rewrites the super of any class whose
// host super is Object to the sandbox Object replacement, so that the
// rewritten class tree never bottoms out at the host's own
// java/lang/Object.
type AlwaysInheritFromSandboxedObject struct {
	analysis.NoopMethodProvider
	analysis.NoopFieldProvider
}

func (AlwaysInheritFromSandboxedObject) Name() string { return "AlwaysInheritFromSandboxedObject" }

func (AlwaysInheritFromSandboxedObject) ApplyClass(rec *analysis.ClassRecord) (*analysis.ClassRecord, error) {
	if rec.SuperClass == "" || rec.SuperClass == "java/lang/Object" {
		return rec.WithSuperClass(SandboxObject), nil
	}
	return rec, nil
}

// AlwaysUseNonSynchronizedMethods clears the synchronized flag bit on
// every method's access flags. Paired with emit.IgnoreSynchronizedBlocks,
// which elides monitorenter/monitorexit at the instruction level, this
// removes every trace of the host runtime's synchronization primitive
// from a rewritten class — the deterministic runtime forbids
// user-visible multithreading, so there is nothing left to synchronize
// against.
type AlwaysUseNonSynchronizedMethods struct {
	analysis.NoopClassProvider
	analysis.NoopFieldProvider
}

func (AlwaysUseNonSynchronizedMethods) Name() string { return "AlwaysUseNonSynchronizedMethods" }

func (AlwaysUseNonSynchronizedMethods) ApplyMethod(_ *analysis.ClassRecord, m analysis.MethodRecord) (analysis.MethodRecord, error) {
	m.AccessFlags &^= classfile.AccSynchronized
	return m, nil
}

// AlwaysUseStrictFloatingPointArithmetic sets the strict-fp bit on every
// method, so that floating point arithmetic rounds identically regardless
// of host platform, per spec §3's determinism invariant.
type AlwaysUseStrictFloatingPointArithmetic struct {
	analysis.NoopClassProvider
	analysis.NoopFieldProvider
}

func (AlwaysUseStrictFloatingPointArithmetic) Name() string {
	return "AlwaysUseStrictFloatingPointArithmetic"
}

func (AlwaysUseStrictFloatingPointArithmetic) ApplyMethod(_ *analysis.ClassRecord, m analysis.MethodRecord) (analysis.MethodRecord, error) {
	m.AccessFlags |= classfile.AccStrict
	return m, nil
}

// ConstantFieldRemover strips the constant-pool initial value from every
// String-typed field (the host compiler inlines String constants eagerly,
// but the sandbox String type is a distinct class from the host's, so a
// raw host String constant can never satisfy a sandbox String-typed
// field). For static fields it additionally injects, into <clinit>, a
// load of the original constant followed by a call through InternHelper
// and a store into the field — so the field still observes its declared
// value, just produced by the deterministic intern path instead of a
// ConstantValue attribute.
type ConstantFieldRemover struct {
	analysis.NoopMethodProvider
}

func (ConstantFieldRemover) Name() string { return "ConstantFieldRemover" }

func (ConstantFieldRemover) ApplyClass(rec *analysis.ClassRecord) (*analysis.ClassRecord, error) {
	return rec, nil
}

func (c ConstantFieldRemover) ApplyField(rec *analysis.ClassRecord, f analysis.FieldRecord) (analysis.FieldRecord, error) {
	if f.Descriptor != "Ljava/lang/String;" && f.Descriptor != "L"+SandboxString+";" {
		return f, nil
	}

	var kept []classfile.Attribute
	var constantValueIndex uint16
	for _, a := range f.Attributes {
		if a.Name == "ConstantValue" && len(a.Info) >= 2 {
			constantValueIndex = binary.BigEndian.Uint16(a.Info)
			continue
		}
		kept = append(kept, a)
	}
	f.Attributes = kept
	f.Descriptor = "L" + SandboxString + ";"

	if constantValueIndex != 0 && f.AccessFlags&classfile.AccStatic != 0 {
		f.PendingClinitIndex = constantValueIndex
		f.PendingClinitField = f.Name
	}
	return f, nil
}

// StubOutFinalizerMethods replaces every finalize()V method body with a
// bare return — the deterministic runtime has no GC-triggered callbacks,
// and finalizers are themselves a source of nondeterministic ordering.
type StubOutFinalizerMethods struct {
	analysis.NoopClassProvider
	analysis.NoopFieldProvider
}

func (StubOutFinalizerMethods) Name() string { return "StubOutFinalizerMethods" }

func (StubOutFinalizerMethods) ApplyMethod(_ *analysis.ClassRecord, m analysis.MethodRecord) (analysis.MethodRecord, error) {
	if m.Name != "finalize" || m.Descriptor != "()V" {
		return m, nil
	}
	if m.Code == nil {
		return m, nil
	}
	m.Code.Bytecode = []byte{byte(classfile.OpReturn)}
	m.Code.MaxStack = 0
	m.Code.Exceptions = nil
	return m, nil
}

// StubOutNativeMethods removes the native access flag and installs a
// body that throws a deterministic error — every native method is, by
// construction, outside the sandbox's control and therefore forbidden.
type StubOutNativeMethods struct {
	analysis.NoopClassProvider
	analysis.NoopFieldProvider
}

func (StubOutNativeMethods) Name() string { return "StubOutNativeMethods" }

func (StubOutNativeMethods) ApplyMethod(_ *analysis.ClassRecord, m analysis.MethodRecord) (analysis.MethodRecord, error) {
	if m.AccessFlags&classfile.AccNative == 0 {
		return m, nil
	}
	m.AccessFlags &^= classfile.AccNative
	m.Code = &classfile.Code{
		MaxStack:  2,
		MaxLocals: localSlotsFor(m.Descriptor, m.AccessFlags),
		Bytecode:  nil, // filled in by emit.DisallowNonDeterministicMethods's native-stub pass, which has the throw helper's constant pool indices available
	}
	return m, nil
}

// introspectiveMethods names the platform introspection / reflection
// registry hook methods StubOutIntrospectiveMethods replaces with
// deterministic no-ops (they exist to let frameworks register callbacks
// with the host JVM's class-data-sharing and instrumentation subsystems —
// meaningless, and a non-determinism risk, inside the sandbox).
var introspectiveMethods = map[string]bool{
	"registerAsParallelCapable": true,
	"getSystemClassLoader0":     true,
}

// StubOutIntrospectiveMethods replaces the bodies of platform
// introspection methods with deterministic no-ops.
type StubOutIntrospectiveMethods struct {
	analysis.NoopClassProvider
	analysis.NoopFieldProvider
}

func (StubOutIntrospectiveMethods) Name() string { return "StubOutIntrospectiveMethods" }

func (StubOutIntrospectiveMethods) ApplyMethod(rec *analysis.ClassRecord, m analysis.MethodRecord) (analysis.MethodRecord, error) {
	if !introspectiveMethods[m.Name] || m.Code == nil {
		return m, nil
	}
	_, ret := classfile.WalkMethodDescriptor(m.Descriptor)
	m.Code.Bytecode = noopBodyFor(ret)
	m.Code.MaxStack = 1
	m.Code.Exceptions = nil
	return m, nil
}

func noopBodyFor(ret string) []byte {
	switch ret {
	case "V":
		return []byte{byte(classfile.OpReturn)}
	case "Z", "B", "C", "S", "I":
		return []byte{byte(classfile.OpIconst0), byte(classfile.OpIReturn)}
	default:
		if strings.HasPrefix(ret, "L") || strings.HasPrefix(ret, "[") {
			return []byte{byte(classfile.OpAconstNull), byte(classfile.OpAReturn)}
		}
		return []byte{byte(classfile.OpReturn)}
	}
}

func localSlotsFor(descriptor string, access uint16) uint16 {
	params, _ := classfile.WalkMethodDescriptor(descriptor)
	slots := uint16(len(params))
	if access&classfile.AccStatic == 0 {
		slots++ // this
	}
	for _, p := range params {
		if p == "J" || p == "D" {
			slots++ // category-2 type occupies two local slots
		}
	}
	return slots
}

// runtimeAnnotationAttributes are the two classfile attribute names that
// carry an entity's reflectively-visible annotations.
var runtimeAnnotationAttributes = []string{"RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations"}

// StripRuntimeAnnotations removes runtime annotation attributes from
// every method and field, unless Keep is set; class-level attributes are
// left as they are. The attribute is an opaque
// blob (classfile.Attribute carries no parsed annotation structure), so
// this provider cannot selectively keep one annotation type and drop
// another; config.WithVisibleAnnotations currently only gates the
// all-or-nothing case. Per-annotation-type filtering would need the
// attribute's internal element-value structure decoded, which nothing in
// this rewriter currently does.
type StripRuntimeAnnotations struct {
	analysis.NoopClassProvider
	Keep bool
}

func (StripRuntimeAnnotations) Name() string { return "StripRuntimeAnnotations" }

func (s StripRuntimeAnnotations) ApplyMethod(_ *analysis.ClassRecord, m analysis.MethodRecord) (analysis.MethodRecord, error) {
	if s.Keep {
		return m, nil
	}
	m.Attributes = withoutAttributes(m.Attributes, runtimeAnnotationAttributes)
	return m, nil
}

func (s StripRuntimeAnnotations) ApplyField(_ *analysis.ClassRecord, f analysis.FieldRecord) (analysis.FieldRecord, error) {
	if s.Keep {
		return f, nil
	}
	f.Attributes = withoutAttributes(f.Attributes, runtimeAnnotationAttributes)
	return f, nil
}

func withoutAttributes(attrs []classfile.Attribute, drop []string) []classfile.Attribute {
	var out []classfile.Attribute
	for _, a := range attrs {
		keep := true
		for _, d := range drop {
			if a.Name == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, a)
		}
	}
	return out
}

// All returns the canonical provider list in the order spec §4.5
// enumerates them. AlwaysInheritFromSandboxedObject runs first because
// later providers (and the emitters that follow them) reason about the
// superclass chain using the already-resolved sandbox super name.
func All() []analysis.Provider {
	return []analysis.Provider{
		AlwaysInheritFromSandboxedObject{},
		AlwaysUseNonSynchronizedMethods{},
		AlwaysUseStrictFloatingPointArithmetic{},
		ConstantFieldRemover{},
		StubOutFinalizerMethods{},
		StubOutNativeMethods{},
		StubOutIntrospectiveMethods{},
	}
}
