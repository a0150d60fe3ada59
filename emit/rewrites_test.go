package emit

import (
	"testing"

	"github.com/sandboxrt/djvm/analysis"
	"github.com/sandboxrt/djvm/classfile"
	"github.com/sandboxrt/djvm/djvmerrors"
	"github.com/sandboxrt/djvm/whitelist"
)

func newTestContext(tbl *whitelist.Table) (*Context, *[]djvmerrors.Diagnostic) {
	reported := &[]djvmerrors.Diagnostic{}
	ctx := &Context{
		Class:     analysis.NewRecord(&classfile.ClassFile{ThisClass: "com/acme/Widget"}, "sandbox/com/acme/Widget", "java/lang/Object"),
		Method:    analysis.MethodRecord{Name: "run"},
		Pool:      classfile.NewConstantPool(),
		Whitelist: tbl,
		Report:    func(d djvmerrors.Diagnostic) { *reported = append(*reported, d) },
	}
	return ctx, reported
}

func TestAlwaysUseExactMathRewritesIAddToAddExact(t *testing.T) {
	ctx, _ := newTestContext(&whitelist.Table{})
	ins := classfile.Instruction{Opcode: classfile.OpIAdd}

	out, matched, err := AlwaysUseExactMath{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !matched || len(out) != 1 || out[0].Opcode != classfile.OpInvokeStatic {
		t.Fatalf("out = %v, matched=%v, want a single invokestatic", out, matched)
	}
}

func TestAlwaysUseExactMathIgnoresUnrelatedOpcodes(t *testing.T) {
	ctx, _ := newTestContext(&whitelist.Table{})
	ins := classfile.Instruction{Opcode: classfile.OpReturn}

	_, matched, err := AlwaysUseExactMath{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if matched {
		t.Fatal("did not expect a match for return")
	}
}

func TestIgnoreBreakpointsDeletesTheInstruction(t *testing.T) {
	ctx, _ := newTestContext(&whitelist.Table{})
	ins := classfile.Instruction{Opcode: classfile.Opcode(0xca)}

	out, matched, err := IgnoreBreakpoints{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !matched || len(out) != 0 {
		t.Fatalf("out = %v, matched=%v, want an empty replacement", out, matched)
	}
}

func TestIgnoreSynchronizedBlocksReplacesWithPop(t *testing.T) {
	ctx, _ := newTestContext(&whitelist.Table{})
	ins := classfile.Instruction{Opcode: classfile.OpMonitorEnter}

	out, matched, err := IgnoreSynchronizedBlocks{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !matched || len(out) != 1 || out[0].Opcode != classfile.OpPop {
		t.Fatalf("out = %v, matched=%v, want a single pop", out, matched)
	}
}

func TestStringConstantWrapperWrapsStringLdc(t *testing.T) {
	pool := classfile.NewConstantPool()
	strIdx := pool.Add(classfile.ConstantStringInfo{StringIndex: pool.AddUtf8("hello")})
	ctx, _ := newTestContext(&whitelist.Table{})
	ctx.Pool = pool
	ins := classfile.Instruction{Opcode: classfile.OpLdc, CPIndex: strIdx}

	out, matched, err := StringConstantWrapper{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !matched || len(out) != 2 || out[1].Opcode != classfile.OpInvokeStatic {
		t.Fatalf("out = %v, matched=%v, want [ldc, invokestatic intern]", out, matched)
	}
}

func TestStringConstantWrapperIgnoresNonStringLdc(t *testing.T) {
	pool := classfile.NewConstantPool()
	intIdx := pool.Add(classfile.ConstantIntegerInfo{Value: 7})
	ctx, _ := newTestContext(&whitelist.Table{})
	ctx.Pool = pool
	ins := classfile.Instruction{Opcode: classfile.OpLdc, CPIndex: intIdx}

	_, matched, err := StringConstantWrapper{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if matched {
		t.Fatal("did not expect a match for a non-string ldc")
	}
}

func invoke(pool *classfile.ConstantPool, owner, name, descriptor string) classfile.Instruction {
	idx := pool.Add(classfile.ConstantMethodrefInfo{
		ClassIndex:       pool.AddClass(owner),
		NameAndTypeIndex: pool.AddNameAndType(name, descriptor),
	})
	return classfile.Instruction{Opcode: classfile.OpInvokeVirtual, CPIndex: idx}
}

func TestDisallowNonDeterministicMethodsReportsForbiddenCall(t *testing.T) {
	pool := classfile.NewConstantPool()
	ins := invoke(pool, "java/lang/Runtime", "exec", "(Ljava/lang/String;)Ljava/lang/Process;")
	table := &whitelist.Table{Rules: []whitelist.Rule{
		{Owner: "java/lang/Runtime", Name: "exec", Action: whitelist.Forbid},
	}}
	ctx, reported := newTestContext(table)
	ctx.Pool = pool

	_, matched, err := DisallowNonDeterministicMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if matched {
		t.Fatal("DisallowNonDeterministicMethods must report, not replace (the instruction stays for the Driver to abort on)")
	}
	if len(*reported) != 1 {
		t.Fatalf("reported = %v, want exactly one diagnostic", *reported)
	}
}

func TestDisallowNonDeterministicMethodsIgnoresAllowedCall(t *testing.T) {
	pool := classfile.NewConstantPool()
	ins := invoke(pool, "java/lang/String", "length", "()I")
	table := &whitelist.Table{}
	ctx, reported := newTestContext(table)
	ctx.Pool = pool

	_, matched, err := DisallowNonDeterministicMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if matched || len(*reported) != 0 {
		t.Fatalf("matched=%v reported=%v, want no match and no diagnostic", matched, *reported)
	}
}

func TestRewriteClassLoaderMethodsThunksGetParent(t *testing.T) {
	pool := classfile.NewConstantPool()
	ins := invoke(pool, "java/lang/ClassLoader", "getParent", "()Ljava/lang/ClassLoader;")
	table := &whitelist.Table{Rules: []whitelist.Rule{
		{
			Owner: "java/lang/ClassLoader", Name: "getParent", Action: whitelist.Thunk,
			Thunk: whitelist.MemberRef{Owner: "sandbox/java/lang/DJVM", Name: "getParent", Descriptor: "(Ljava/lang/ClassLoader;)Ljava/lang/ClassLoader;"},
		},
	}}
	ctx, _ := newTestContext(table)
	ctx.Pool = pool

	out, matched, err := RewriteClassLoaderMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !matched || len(out) != 1 || out[0].Opcode != classfile.OpInvokeStatic {
		t.Fatalf("out = %v, matched=%v, want a single invokestatic thunk", out, matched)
	}
}

func TestRewriteClassLoaderMethodsIgnoresOtherOwners(t *testing.T) {
	pool := classfile.NewConstantPool()
	ins := invoke(pool, "java/lang/Class", "getName", "()Ljava/lang/String;")
	ctx, _ := newTestContext(&whitelist.Table{})
	ctx.Pool = pool

	_, matched, err := RewriteClassLoaderMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if matched {
		t.Fatal("did not expect a match for java/lang/Class")
	}
}

func TestRewriteClassMethodsAppliesAStubRule(t *testing.T) {
	pool := classfile.NewConstantPool()
	ins := invoke(pool, "java/lang/Class", "getSigners", "()[Ljava/lang/Object;")
	table := &whitelist.Table{Rules: []whitelist.Rule{
		{Owner: "java/lang/Class", Name: "getSigners", Action: whitelist.Stub, Stub: whitelist.StubPushNull},
	}}
	ctx, _ := newTestContext(table)
	ctx.Pool = pool

	out, matched, err := RewriteClassMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !matched || len(out) != 1 || out[0].Opcode != classfile.OpAconstNull {
		t.Fatalf("out = %v, matched=%v, want a single aconst_null", out, matched)
	}
}

func TestDefaultPolicyForbidsGetDeclaredClasses(t *testing.T) {
	pool := classfile.NewConstantPool()
	ins := invoke(pool, "java/lang/Class", "getDeclaredClasses", "()[Ljava/lang/Class;")
	ctx, reported := newTestContext(whitelist.DefaultPolicy)
	ctx.Pool = pool

	_, matched, err := RewriteClassMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("RewriteClassMethods.Apply: %v", err)
	}
	if matched {
		t.Fatal("a Forbid rule must not be rewritten by RewriteClassMethods")
	}

	_, matched, err = DisallowNonDeterministicMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("DisallowNonDeterministicMethods.Apply: %v", err)
	}
	if matched || len(*reported) != 1 {
		t.Fatalf("matched=%v reported=%v, want no replacement and exactly one diagnostic", matched, *reported)
	}
}

func TestDefaultPolicyAllowsGetClasses(t *testing.T) {
	pool := classfile.NewConstantPool()
	ins := invoke(pool, "java/lang/Class", "getClasses", "()[Ljava/lang/Class;")
	ctx, reported := newTestContext(whitelist.DefaultPolicy)
	ctx.Pool = pool

	_, matched, err := RewriteClassMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("RewriteClassMethods.Apply: %v", err)
	}
	if matched {
		t.Fatal("an Allow rule must not be rewritten by RewriteClassMethods")
	}

	_, matched, err = DisallowNonDeterministicMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("DisallowNonDeterministicMethods.Apply: %v", err)
	}
	if matched || len(*reported) != 0 {
		t.Fatalf("matched=%v reported=%v, want getClasses to pass through untouched", matched, *reported)
	}
}

func TestRewriteClassMethodsIgnoresNonStubActions(t *testing.T) {
	pool := classfile.NewConstantPool()
	ins := invoke(pool, "java/lang/Class", "forName", "(Ljava/lang/String;)Ljava/lang/Class;")
	table := &whitelist.Table{Rules: []whitelist.Rule{
		{Owner: "java/lang/Class", Name: "forName", Action: whitelist.Allow},
	}}
	ctx, _ := newTestContext(table)
	ctx.Pool = pool

	_, matched, err := RewriteClassMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if matched {
		t.Fatal("did not expect a match for an Allow rule")
	}
}

func TestRewriteObjectMethodsReportsForbiddenWait(t *testing.T) {
	pool := classfile.NewConstantPool()
	ins := invoke(pool, "java/lang/Object", "wait", "()V")
	table := &whitelist.Table{Rules: []whitelist.Rule{
		{Owner: "java/lang/Object", Name: "wait", Action: whitelist.Forbid},
	}}
	ctx, reported := newTestContext(table)
	ctx.Pool = pool

	_, matched, err := RewriteObjectMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if matched || len(*reported) != 1 {
		t.Fatalf("matched=%v reported=%v, want no replacement but one diagnostic", matched, *reported)
	}
}

func TestRewriteObjectMethodsIgnoresNonWaitFamilyMethods(t *testing.T) {
	pool := classfile.NewConstantPool()
	ins := invoke(pool, "java/lang/Object", "hashCode", "()I")
	ctx, reported := newTestContext(&whitelist.Table{})
	ctx.Pool = pool

	_, matched, err := RewriteObjectMethods{}.Apply(ctx, []classfile.Instruction{ins}, 0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if matched || len(*reported) != 0 {
		t.Fatalf("matched=%v reported=%v, want neither", matched, *reported)
	}
}

func TestSplitMethodRefParsesOwnerNameDescriptor(t *testing.T) {
	owner, name, descriptor := splitMethodRef("sandbox/java/lang/DJVM.addExact(II)I")
	if owner != "sandbox/java/lang/DJVM" || name != "addExact" || descriptor != "(II)I" {
		t.Fatalf("splitMethodRef = (%q, %q, %q)", owner, name, descriptor)
	}
}
