package emit

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/sandboxrt/djvm/classfile"
)

// Profile is the execution-profile counter set SPEC_FULL.md's domain stack
// wires to OpenTelemetry: one instrument per traced instruction category,
// incremented from inside the rewritten class's own bytecode via a static
// helper call the Trace* emitters inject. A Profile is only ever
// constructed when a caller configures an execution profile — the Rewrite
// Driver leaves the Trace* emitters out of the pipeline entirely otherwise,
// so an unconfigured rewrite carries zero tracing overhead, not a
// no-op-counter overhead.
type Profile struct {
	Allocations metric.Int64Counter
	Invocations metric.Int64Counter
	Jumps       metric.Int64Counter
	Throws      metric.Int64Counter
}

// NewProfile builds a Profile from a meter, naming each counter after the
// instruction category it counts.
func NewProfile(meter metric.Meter) (*Profile, error) {
	allocations, err := meter.Int64Counter("djvm.rewrite.allocations")
	if err != nil {
		return nil, err
	}
	invocations, err := meter.Int64Counter("djvm.rewrite.invocations")
	if err != nil {
		return nil, err
	}
	jumps, err := meter.Int64Counter("djvm.rewrite.jumps")
	if err != nil {
		return nil, err
	}
	throws, err := meter.Int64Counter("djvm.rewrite.throws")
	if err != nil {
		return nil, err
	}
	return &Profile{Allocations: allocations, Invocations: invocations, Jumps: jumps, Throws: throws}, nil
}

// Record* methods each add one to their counter. Nothing in this module
// calls them: the Trace* emitters inject calls to sandbox/java/lang/DJVM's
// trace entry points, and the rewriter itself only ever sees the class
// once, at rewrite time.
func (p *Profile) RecordAllocation(ctx context.Context)  { p.Allocations.Add(ctx, 1) }
func (p *Profile) RecordInvocation(ctx context.Context)  { p.Invocations.Add(ctx, 1) }
func (p *Profile) RecordJump(ctx context.Context)        { p.Jumps.Add(ctx, 1) }
func (p *Profile) RecordThrow(ctx context.Context)       { p.Throws.Add(ctx, 1) }

// TraceAllocations instruments new/newarray/anewarray/multianewarray with a
// preceding call into the execution profile's allocation counter.
type TraceAllocations struct{}

func (TraceAllocations) Name() string { return "TraceAllocations" }

func (TraceAllocations) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !opcodeIs(ins, classfile.OpNew, classfile.OpNewArray, classfile.OpANewArray, classfile.OpMultiANewArray) {
		return nil, false, nil
	}
	return traceWrap(ctx, ins, "traceAllocation"), true, nil
}

// TraceInvocations instruments every invoke* with a preceding call into the
// execution profile's invocation counter.
type TraceInvocations struct{}

func (TraceInvocations) Name() string { return "TraceInvocations" }

func (TraceInvocations) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !ins.Opcode.IsInvoke() {
		return nil, false, nil
	}
	return traceWrap(ctx, ins, "traceInvocation"), true, nil
}

// TraceJumps instruments every branch and goto with a preceding call into
// the execution profile's jump counter.
type TraceJumps struct{}

func (TraceJumps) Name() string { return "TraceJumps" }

func (TraceJumps) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if !ins.Opcode.IsBranch() && !opcodeIs(ins, classfile.OpGotoW, classfile.OpJsrW, classfile.OpTableSwitch, classfile.OpLookupSwitch) {
		return nil, false, nil
	}
	return traceWrap(ctx, ins, "traceJump"), true, nil
}

// TraceThrows instruments every athrow with a preceding call into the
// execution profile's throw counter. It runs before ThrowExceptionWrapper
// in the emitter list so the trace call sees the still-sandbox-typed
// exception object sitting under it on the stack (trace helpers take no
// arguments and don't touch the stack shape, so ordering relative to
// ThrowExceptionWrapper is actually immaterial — kept this way for
// readability, matching declaration order in spec §4.6).
type TraceThrows struct{}

func (TraceThrows) Name() string { return "TraceThrows" }

func (TraceThrows) Apply(ctx *Context, stream []classfile.Instruction, idx int) ([]classfile.Instruction, bool, error) {
	ins := stream[idx]
	if ins.Opcode != classfile.OpAThrow {
		return nil, false, nil
	}
	return traceWrap(ctx, ins, "traceThrow"), true, nil
}

func traceWrap(ctx *Context, ins classfile.Instruction, helper string) []classfile.Instruction {
	cpIndex := ctx.Pool.AddMethodref("sandbox/java/lang/DJVM", helper, "()V")
	return []classfile.Instruction{
		newCPRefInstruction(ins.Offset, classfile.OpInvokeStatic, cpIndex),
		ins,
	}
}
