package rewrite

import (
	"encoding/binary"
	"testing"

	"github.com/sandboxrt/djvm/classfile"
)

// gotoIns builds a goto instruction with a 2-byte signed branch operand
// relative to offset.
func gotoIns(offset, target int) classfile.Instruction {
	delta := int16(target - offset)
	operands := make([]byte, 2)
	binary.BigEndian.PutUint16(operands, uint16(delta))
	return classfile.Instruction{Offset: offset, Opcode: classfile.OpGoto, Operands: operands}
}

func branchTarget(in classfile.Instruction) int {
	delta := int16(binary.BigEndian.Uint16(in.Operands))
	return in.Offset + int(delta)
}

func TestFixupOffsetsRetargetsBranchAfterInsertion(t *testing.T) {
	// Original stream: offset 0 "goto 3", offset 3 "nop" (the branch target).
	// An emitter expanded the nop at old offset 3 into two instructions,
	// both still carrying old offset 3, shifting everything after it.
	ins := []classfile.Instruction{
		gotoIns(0, 3),
		{Offset: 3, Opcode: classfile.OpNop},
		{Offset: 3, Opcode: classfile.OpNop},
		{Offset: 4, Opcode: classfile.OpReturn},
	}

	out, oldToNew := fixupOffsets(ins)

	if out[0].Offset != 0 {
		t.Fatalf("out[0].Offset = %d, want 0 (first instruction doesn't move)", out[0].Offset)
	}
	if got := branchTarget(out[0]); got != out[1].Offset {
		t.Fatalf("goto retargeted to %d, want the new offset of the first instruction at old offset 3 (%d)", got, out[1].Offset)
	}
	if newOffset, ok := oldToNew[3]; !ok || newOffset != out[1].Offset {
		t.Fatalf("oldToNew[3] = %d, ok=%v, want %d", newOffset, ok, out[1].Offset)
	}
}

func TestFixupOffsetsPreservesInstructionCountAndOrder(t *testing.T) {
	ins := []classfile.Instruction{
		{Offset: 0, Opcode: classfile.OpNop},
		{Offset: 1, Opcode: classfile.OpReturn},
	}
	out, _ := fixupOffsets(ins)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Opcode != classfile.OpNop || out[1].Opcode != classfile.OpReturn {
		t.Fatal("fixupOffsets must preserve instruction order")
	}
}

func TestFixupExceptionsRewritesAllThreeOffsets(t *testing.T) {
	oldToNew := map[int]int{0: 0, 3: 5, 10: 12}
	exc := []classfile.ExceptionHandler{
		{StartPC: 0, EndPC: 3, HandlerPC: 10, CatchType: 7},
	}
	out := fixupExceptions(exc, oldToNew)
	if out[0].StartPC != 0 || out[0].EndPC != 5 || out[0].HandlerPC != 12 {
		t.Fatalf("out[0] = %+v, want StartPC=0 EndPC=5 HandlerPC=12", out[0])
	}
	if out[0].CatchType != 7 {
		t.Fatal("fixupExceptions must not touch CatchType")
	}
}

func TestFixupExceptionsLeavesUnmappedOffsetsUnchanged(t *testing.T) {
	out := fixupExceptions([]classfile.ExceptionHandler{{StartPC: 99, EndPC: 100, HandlerPC: 101}}, map[int]int{})
	if out[0].StartPC != 99 || out[0].EndPC != 100 || out[0].HandlerPC != 101 {
		t.Fatalf("out[0] = %+v, want unchanged when oldToNew has no entry", out[0])
	}
}

func TestEncodedLenDefaultsToInstructionLen(t *testing.T) {
	in := classfile.Instruction{Opcode: classfile.OpGoto, Operands: []byte{0, 3}}
	if got := encodedLen(in, 0); got != in.Len() {
		t.Fatalf("encodedLen = %d, want %d", got, in.Len())
	}
}
