// Package emit implements the spec §4.6 Emitters: ordered, first-match-wins
// rewriters of a method's decoded instruction stream. Unlike Definition
// Providers, which all run against every class and member, an emitter either
// claims an instruction and replaces it, or declines and lets the next
// emitter in the list look at the same instruction.
package emit

import (
	"github.com/rs/zerolog"

	"github.com/sandboxrt/djvm/analysis"
	"github.com/sandboxrt/djvm/classfile"
	"github.com/sandboxrt/djvm/djvmerrors"
	"github.com/sandboxrt/djvm/resolver"
	"github.com/sandboxrt/djvm/whitelist"
)

// Context is the state an Emitter needs to decide how to rewrite one
// instruction: the enclosing class and method records, the constant pool
// backing them, the Class Resolver and policy table, and a sink for
// diagnostics (wired to the enclosing analysis.Context's Report method).
type Context struct {
	Class     *analysis.ClassRecord
	Method    analysis.MethodRecord
	Pool      *classfile.ConstantPool
	Resolver  *resolver.Resolver
	Whitelist *whitelist.Table
	Log       zerolog.Logger
	Report    func(djvmerrors.Diagnostic)
}

// memberRef resolves the (owner, name, descriptor) triple a field or method
// instruction references, by following its constant pool index through a
// Methodref/Fieldref/InterfaceMethodref to its Class and NameAndType.
func (c *Context) memberRef(cpIndex uint16) (owner, name, descriptor string, ok bool) {
	entry := c.Pool.Get(cpIndex)
	var classIdx, natIdx uint16
	switch e := entry.(type) {
	case classfile.ConstantMethodrefInfo:
		classIdx, natIdx = e.ClassIndex, e.NameAndTypeIndex
	case classfile.ConstantInterfaceMethodrefInfo:
		classIdx, natIdx = e.ClassIndex, e.NameAndTypeIndex
	case classfile.ConstantFieldrefInfo:
		classIdx, natIdx = e.ClassIndex, e.NameAndTypeIndex
	default:
		return "", "", "", false
	}
	owner = c.Pool.ClassName(classIdx)
	name, descriptor = c.Pool.NameAndType(natIdx)
	return owner, name, descriptor, true
}

// Emitter is one spec §4.6 instruction rewriter. Apply inspects ins (and may
// consult prior/following instructions via idx and the full stream, for
// emitters that match multi-instruction sequences) and returns a
// replacement sequence and true if it claims the instruction, or matched
// false to let the next emitter in the list try.
type Emitter interface {
	Name() string
	Apply(ctx *Context, stream []classfile.Instruction, idx int) (replacement []classfile.Instruction, matched bool, err error)
}

// Rewrite walks stream once, offering each instruction to emitters in
// order; the first emitter that matches replaces it (consuming exactly one
// input instruction — emitters that need lookahead inspect stream[idx+1:]
// but only ever replace stream[idx]). Unmatched instructions pass through
// unchanged.
func Rewrite(ctx *Context, stream []classfile.Instruction, emitters []Emitter) ([]classfile.Instruction, error) {
	out := make([]classfile.Instruction, 0, len(stream))
	for idx, ins := range stream {
		matched := false
		for _, e := range emitters {
			repl, ok, err := e.Apply(ctx, stream, idx)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, repl...)
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, ins)
		}
	}
	return out, nil
}

// newCPRefInstruction builds an instruction carrying a 2-byte constant pool
// operand, populating both CPIndex (what the emitters pattern-match on) and
// Operands (what classfile.EncodeInstructions actually serializes).
func newCPRefInstruction(offset int, op classfile.Opcode, cpIndex uint16) classfile.Instruction {
	operands := []byte{byte(cpIndex >> 8), byte(cpIndex)}
	return classfile.Instruction{Offset: offset, Opcode: op, Operands: operands, CPIndex: cpIndex}
}

// noOperandInstruction builds a bare opcode with no operand bytes.
func noOperandInstruction(offset int, op classfile.Opcode) classfile.Instruction {
	return classfile.Instruction{Offset: offset, Opcode: op}
}

// opcodeIs reports whether ins has one of ops; emitters that only care
// about one opcode family use it for their "not my opcode" check.
func opcodeIs(ins classfile.Instruction, ops ...classfile.Opcode) bool {
	for _, op := range ops {
		if ins.Opcode == op {
			return true
		}
	}
	return false
}
