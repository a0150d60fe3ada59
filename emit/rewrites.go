package emit

import (
	"github.com/sandboxrt/djvm/classfile"
	"github.com/sandboxrt/djvm/djvmerrors"
	"github.com/sandboxrt/djvm/whitelist"
)

// AlwaysUseExactMath rewrites int/long arithmetic that can silently
// overflow (iadd, isub, imul, ladd, lsub, lmul) to call the deterministic
// runtime's checked-math helpers instead, so the same overflow is either
// impossible or reproduces identically across platforms.
type AlwaysUseExactMath struct{}

func (AlwaysUseExactMath) Name() string { return "AlwaysUseExactMath" }

var exactMathTargets = map[classfile.Opcode]string{
	classfile.OpIAdd: "sandbox/java/lang/DJVM.addExact(II)I",
	classfile.OpISub: "sandbox/java/lang/DJVM.subtractExact(II)I",
	classfile.OpIMul: "sandbox/java/lang/DJVM.multiplyExact(II)I",
	classfile.OpLAdd: "sandbox/java/lang/DJVM.addExact(JJ)J",
	classfile.OpLSub: "sandbox/java/lang/DJVM.subtractExact(JJ)J",
	classfile.OpLMul: "sandbox/java/lang/DJVM.multiplyExact(JJ)J",
}

func (AlwaysUseExactMath) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	target, ok := exactMathTargets[ins.Opcode]
	if !ok {
		return nil, false, nil
	}
	owner, name, desc := splitMethodRef(target)
	cpIndex := ctx.Pool.AddMethodref(owner, name, desc)
	return []classfile.Instruction{newCPRefInstruction(ins.Offset, classfile.OpInvokeStatic, cpIndex)}, true, nil
}

// IgnoreBreakpoints removes the host debugger's breakpoint opcode — a
// sandboxed class can never be attached to by the host's debugger, so the
// opcode is pure dead weight.
type IgnoreBreakpoints struct{}

func (IgnoreBreakpoints) Name() string { return "IgnoreBreakpoints" }

func (IgnoreBreakpoints) Apply(_ *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	if stream[idx].Opcode != 0xca { // breakpoint
		return nil, false, nil
	}
	return nil, true, nil
}

// IgnoreSynchronizedBlocks deletes monitorenter/monitorexit instructions.
// Paired with providers.AlwaysUseNonSynchronizedMethods, this removes every
// trace of host monitor usage, matching header: a deterministic execution
// has no contended locks to model.
type IgnoreSynchronizedBlocks struct{}

func (IgnoreSynchronizedBlocks) Name() string { return "IgnoreSynchronizedBlocks" }

func (IgnoreSynchronizedBlocks) Apply(_ *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !opcodeIs(ins, classfile.OpMonitorEnter, classfile.OpMonitorExit) {
		return nil, false, nil
	}
	// monitorenter/monitorexit pop the lock object off the stack; deleting
	// the instruction without replacement would leave it there, so a pop
	// stands in for it.
	return []classfile.Instruction{noOperandInstruction(ins.Offset, classfile.OpPop)}, true, nil
}

// StringConstantWrapper rewrites every ldc/ldc_w of a String constant to
// load the constant and then route it through the interning helper, since
// host String literals aren't assignable to the sandbox String type.
type StringConstantWrapper struct{}

func (StringConstantWrapper) Name() string { return "StringConstantWrapper" }

func (StringConstantWrapper) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !opcodeIs(ins, classfile.OpLdc, classfile.OpLdcW) {
		return nil, false, nil
	}
	if _, ok := ctx.Pool.Get(ins.CPIndex).(classfile.ConstantStringInfo); !ok {
		return nil, false, nil
	}
	internIdx := ctx.Pool.AddMethodref("sandbox/java/lang/DJVM", "intern", "(Ljava/lang/String;)Lsandbox/java/lang/String;")
	return []classfile.Instruction{
		ins,
		newCPRefInstruction(ins.Offset, classfile.OpInvokeStatic, internIdx),
	}, true, nil
}

// DisallowCatchingBlacklistedExceptions is consulted by the Rewrite Driver
// once per exception handler, not per instruction: it reports a
// RuleViolationError diagnostic for any handler whose catch type is
// ThreadDeath, OutOfMemoryError or StackOverflowError (the host runtime's
// own control-flow escape hatches, which a sandboxed class must never be
// able to intercept and suppress).
type DisallowCatchingBlacklistedExceptions struct{}

var blacklistedCatchTypes = map[string]bool{
	"java/lang/ThreadDeath":        true,
	"java/lang/OutOfMemoryError":   true,
	"java/lang/StackOverflowError": true,
}

// CheckHandler reports a diagnostic via ctx.Report if catchType names a
// blacklisted exception type.
func (DisallowCatchingBlacklistedExceptions) CheckHandler(ctx *Context, catchType string) {
	if !blacklistedCatchTypes[catchType] {
		return
	}
	ctx.Report(djvmerrors.Diagnostic{
		Severity:  djvmerrors.Error,
		ClassName: ctx.Class.HostName,
		Member:    ctx.Method.Name,
		Message:   "Disallowed catch of " + catchType,
	})
}

// DisallowNonDeterministicMethods is the emitter-stage enforcement of the
// whitelist policy table: every invoke* instruction's (owner, name,
// descriptor) is looked up, and Forbid rules become a reported
// RuleViolationError diagnostic (the instruction is left in place — the
// Rewrite Driver aborts the whole class once the Analysis Context sees the
// diagnostic, so leaving it has no runtime effect); Stub and Thunk rules
// are rewritten in place by RewriteClassLoaderMethods/RewriteClassMethods,
// which follow this emitter in the list and still see every instruction
// it has looked at, since this emitter never claims one.
type DisallowNonDeterministicMethods struct{}

func (DisallowNonDeterministicMethods) Name() string { return "DisallowNonDeterministicMethods" }

func (DisallowNonDeterministicMethods) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !ins.Opcode.IsInvoke() {
		return nil, false, nil
	}
	owner, name, descriptor, ok := ctx.memberRef(ins.CPIndex)
	if !ok {
		return nil, false, nil
	}
	rule, ok := ctx.Whitelist.Lookup(owner, name, descriptor)
	if !ok || rule.Action != whitelist.Forbid {
		return nil, false, nil
	}
	if owner == "java/lang/reflect/Constructor" && name == "newInstance" {
		for _, allowed := range whitelist.InternalReflectionAllowList {
			if ctx.Class.HostName == allowed {
				return nil, false, nil
			}
		}
	}
	msg := rule.Message
	if msg == "" {
		msg = owner + "." + name + descriptor
	}
	ctx.Report(djvmerrors.Diagnostic{
		Severity:  djvmerrors.Error,
		ClassName: ctx.Class.HostName,
		Member:    ctx.Method.Name,
		Message:   "Disallowed reference to API; " + msg,
	})
	return nil, false, nil
}

// RewriteClassLoaderMethods rewrites ClassLoader method calls that carry a
// Stub or Thunk policy action: getParent()/getResources() etc. become
// calls into the sandbox ClassLoader replacement's equivalents, and
// <init>()V is retargeted to <init>(ClassLoader)V per whitelist.DefaultPolicy.
type RewriteClassLoaderMethods struct{}

func (RewriteClassLoaderMethods) Name() string { return "RewriteClassLoaderMethods" }

func (RewriteClassLoaderMethods) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !ins.Opcode.IsInvoke() {
		return nil, false, nil
	}
	owner, name, descriptor, ok := ctx.memberRef(ins.CPIndex)
	if !ok || owner != "java/lang/ClassLoader" {
		return nil, false, nil
	}
	rule, ok := ctx.Whitelist.Lookup(owner, name, descriptor)
	if !ok {
		return nil, false, nil
	}
	return rewriteByAction(ctx, ins, rule)
}

// RewriteClassMethods is RewriteClassLoaderMethods's counterpart for
// java/lang/Class: whichever of its reflective accessors whitelist.DefaultPolicy
// marks Stub get their call site replaced here; getPackage/getDeclaredClasses
// are Forbid (left for DisallowNonDeterministicMethods to report) and
// getClasses/getConstructor/getMethod and friends are Allow and run for real.
type RewriteClassMethods struct{}

func (RewriteClassMethods) Name() string { return "RewriteClassMethods" }

func (RewriteClassMethods) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !ins.Opcode.IsInvoke() {
		return nil, false, nil
	}
	owner, name, descriptor, ok := ctx.memberRef(ins.CPIndex)
	if !ok || owner != "java/lang/Class" {
		return nil, false, nil
	}
	rule, ok := ctx.Whitelist.Lookup(owner, name, descriptor)
	if !ok || rule.Action != whitelist.Stub {
		return nil, false, nil
	}
	return rewriteByAction(ctx, ins, rule)
}

// RewriteObjectMethods handles Object.wait/notify/notifyAll, which
// whitelist.DefaultPolicy marks Forbid: it reports each such call as a
// RuleViolationError diagnostic and leaves the instruction in place.
type RewriteObjectMethods struct{}

func (RewriteObjectMethods) Name() string { return "RewriteObjectMethods" }

func (RewriteObjectMethods) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !ins.Opcode.IsInvoke() {
		return nil, false, nil
	}
	owner, name, descriptor, ok := ctx.memberRef(ins.CPIndex)
	if !ok || owner != "java/lang/Object" {
		return nil, false, nil
	}
	if !opcodeIsWaitFamily(name) {
		return nil, false, nil
	}
	rule, ok := ctx.Whitelist.Lookup(owner, name, descriptor)
	if !ok || rule.Action != whitelist.Forbid {
		return nil, false, nil
	}
	ctx.Report(djvmerrors.Diagnostic{
		Severity:  djvmerrors.Error,
		ClassName: ctx.Class.HostName,
		Member:    ctx.Method.Name,
		Message:   "Disallowed reference to API; " + owner + "." + name + descriptor,
	})
	return nil, false, nil
}

func opcodeIsWaitFamily(name string) bool {
	return name == "wait" || name == "notify" || name == "notifyAll"
}

// rewriteByAction applies a looked-up whitelist.Rule's Stub/Thunk/Allow
// action to a single invoke instruction, leaving Forbid for
// DisallowNonDeterministicMethods to report.
func rewriteByAction(ctx *Context, ins classfile.Instruction, rule whitelist.Rule) ([]classfile.Instruction, bool, error) {
	switch rule.Action {
	case whitelist.Thunk:
		cpIndex := ctx.Pool.AddMethodref(rule.Thunk.Owner, rule.Thunk.Name, rule.Thunk.Descriptor)
		return []classfile.Instruction{newCPRefInstruction(ins.Offset, classfile.OpInvokeStatic, cpIndex)}, true, nil
	case whitelist.Stub:
		return stubSequence(ins, rule.Stub), true, nil
	default:
		return nil, false, nil
	}
}

// stubSequence pops whatever arguments the call already consumed (left to
// the caller's contract, since Stub rules are only ever declared against
// zero-argument accessors in whitelist.DefaultPolicy) and pushes the
// stub's constant replacement value.
func stubSequence(ins classfile.Instruction, behavior whitelist.StubBehavior) []classfile.Instruction {
	switch behavior {
	case whitelist.StubPushNull, whitelist.StubPushEmptyEnumeration:
		return []classfile.Instruction{noOperandInstruction(ins.Offset, classfile.OpAconstNull)}
	case whitelist.StubPushFalse:
		return []classfile.Instruction{noOperandInstruction(ins.Offset, classfile.OpIconst0)}
	case whitelist.StubPopOnly:
		return []classfile.Instruction{noOperandInstruction(ins.Offset, classfile.OpPop)}
	default:
		return []classfile.Instruction{noOperandInstruction(ins.Offset, classfile.OpAconstNull)}
	}
}

func splitMethodRef(ref string) (owner, name, descriptor string) {
	dot := -1
	paren := -1
	for i, r := range ref {
		if r == '.' {
			dot = i
		}
		if r == '(' {
			paren = i
			break
		}
	}
	return ref[:dot], ref[dot+1 : paren], ref[paren:]
}
