package emit

import "github.com/sandboxrt/djvm/classfile"

// ArgumentUnwrapper runs immediately before an invocation of a pinned host
// method (one the resolver never remapped into the sandbox namespace — see
// resolver.Resolver.IsPinned): every sandbox-typed argument on the operand
// stack must first be converted to its host-native representation, since
// the pinned method's bytecode was compiled against the host types and
// knows nothing of the sandbox replacements.
type ArgumentUnwrapper struct {
	Pinned func(owner string) bool
}

func (ArgumentUnwrapper) Name() string { return "ArgumentUnwrapper" }

func (a ArgumentUnwrapper) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !ins.Opcode.IsInvoke() {
		return nil, false, nil
	}
	owner, _, descriptor, ok := ctx.memberRef(ins.CPIndex)
	if !ok || a.Pinned == nil || !a.Pinned(owner) {
		return nil, false, nil
	}
	params, _ := classfile.WalkMethodDescriptor(descriptor)
	objectParams := 0
	for _, p := range params {
		if _, isObj := classfile.ObjectTypeName(p); isObj {
			objectParams++
		}
	}
	if objectParams == 0 {
		return nil, false, nil
	}
	fromDJVM := ctx.Pool.AddMethodref("sandbox/java/lang/DJVM", "fromDJVM", "(Ljava/lang/Object;)Ljava/lang/Object;")
	out := make([]classfile.Instruction, 0, objectParams+1)
	for i := 0; i < objectParams; i++ {
		out = append(out, newCPRefInstruction(ins.Offset, classfile.OpInvokeStatic, fromDJVM))
	}
	out = append(out, ins)
	return out, true, nil
}

// ReturnTypeWrapper runs immediately after an invocation of a pinned host
// method that returns an object type: the host-native return value is
// converted into its sandbox-typed counterpart before anything else on the
// operand stack can observe it.
type ReturnTypeWrapper struct {
	Pinned func(owner string) bool
}

func (ReturnTypeWrapper) Name() string { return "ReturnTypeWrapper" }

func (r ReturnTypeWrapper) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !ins.Opcode.IsInvoke() {
		return nil, false, nil
	}
	owner, _, descriptor, ok := ctx.memberRef(ins.CPIndex)
	if !ok || r.Pinned == nil || !r.Pinned(owner) {
		return nil, false, nil
	}
	_, ret := classfile.WalkMethodDescriptor(descriptor)
	if _, isObj := classfile.ObjectTypeName(ret); !isObj {
		return nil, false, nil
	}
	toDJVM := ctx.Pool.AddMethodref("sandbox/java/lang/DJVM", "toDJVM", "(Ljava/lang/Object;)Ljava/lang/Object;")
	return []classfile.Instruction{
		ins,
		newCPRefInstruction(ins.Offset, classfile.OpInvokeStatic, toDJVM),
	}, true, nil
}

// HandleExceptionUnwrapper runs on the first instruction of a method whose
// exception table marks it as a handler's entry point: the host runtime
// always hands a handler a host Throwable on the stack (that's a JVM
// invariant this rewriter cannot change), so the handler's own logic,
// compiled against sandbox Throwable, needs the value converted before it
// does anything else. The Rewrite Driver identifies handler-entry offsets
// from classfile.Code.Exceptions and passes them via HandlerEntries.
type HandleExceptionUnwrapper struct {
	HandlerEntries map[int]bool
}

func (HandleExceptionUnwrapper) Name() string { return "HandleExceptionUnwrapper" }

func (h HandleExceptionUnwrapper) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !h.HandlerEntries[ins.Offset] {
		return nil, false, nil
	}
	toDJVM := ctx.Pool.AddMethodref("sandbox/java/lang/DJVM", "toDJVM", "(Ljava/lang/Object;)Ljava/lang/Object;")
	return []classfile.Instruction{
		ins,
		newCPRefInstruction(ins.Offset, classfile.OpInvokeStatic, toDJVM),
	}, true, nil
}

// ThrowExceptionWrapper runs immediately before every athrow: the thrown
// value, a sandbox Throwable, is converted to a host Throwable first, since
// athrow and the host's own handler-matching machinery only ever reason
// about host types.
type ThrowExceptionWrapper struct{}

func (ThrowExceptionWrapper) Name() string { return "ThrowExceptionWrapper" }

func (ThrowExceptionWrapper) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if ins.Opcode != classfile.OpAThrow {
		return nil, false, nil
	}
	fromDJVM := ctx.Pool.AddMethodref("sandbox/java/lang/DJVM", "fromDJVM", "(Ljava/lang/Object;)Ljava/lang/Object;")
	return []classfile.Instruction{
		newCPRefInstruction(ins.Offset, classfile.OpInvokeStatic, fromDJVM),
		ins,
	}, true, nil
}
