package rewrite

import (
	"encoding/binary"

	"github.com/sandboxrt/djvm/classfile"
)

// fixupOffsets recomputes byte offsets for a rewritten instruction stream
// and patches every branch, switch and exception-table reference that
// pointed at an old offset to point at the corresponding new one. This is
// the pass classfile.EncodeInstructions's doc comment defers to: Emitters
// run one instruction at a time and have no way to know the final layout,
// so nothing downstream of emission can assume offsets are still valid
// until this pass has run.
//
// old carries the offset each emitted instruction's source instruction had
// before rewriting (classfile.Instruction.Offset, untouched by any
// emitter); multiple consecutive emitted instructions may carry the same
// old offset when an emitter expanded one instruction into several. The
// first emitted instruction at a given old offset is what any branch
// targeting that old offset is remapped to, since that is the new entry
// point of whatever used to start there.
func fixupOffsets(ins []classfile.Instruction) ([]classfile.Instruction, map[int]int) {
	oldToNew := make(map[int]int, len(ins))
	origOffsets := make([]int, len(ins))
	offset := 0
	out := make([]classfile.Instruction, len(ins))
	seen := make(map[int]bool, len(ins))
	for i, in := range ins {
		if !seen[in.Offset] {
			oldToNew[in.Offset] = offset
			seen[in.Offset] = true
		}
		origOffsets[i] = in.Offset
		in.Offset = offset
		out[i] = in
		offset += encodedLen(in, offset)
	}

	for i := range out {
		patchBranch(&out[i], origOffsets[i], oldToNew)
	}
	return out, oldToNew
}

// encodedLen returns the byte length an instruction will occupy once
// re-encoded at the given starting offset, accounting for tableswitch /
// lookupswitch padding which depends on the final offset.
func encodedLen(in classfile.Instruction, offset int) int {
	switch in.Opcode {
	case classfile.OpTableSwitch:
		pad := (4 - (offset+1)%4) % 4
		return 1 + pad + 4 + 4 + 4 + 4*len(in.SwitchTargets)
	case classfile.OpLookupSwitch:
		pad := (4 - (offset+1)%4) % 4
		return 1 + pad + 4 + 4 + 8*len(in.SwitchKeys)
	default:
		return in.Len()
	}
}

// patchBranch rewrites in's operand bytes in place so that its encoded
// target, once re-assembled, points at the new offset corresponding to
// whatever old offset it used to point at. origOffset is the offset in had
// before fixupOffsets moved it to in.Offset; the operand bytes still
// encode a delta relative to origOffset.
func patchBranch(in *classfile.Instruction, origOffset int, oldToNew map[int]int) {
	switch in.Opcode {
	case classfile.OpGotoW, classfile.OpJsrW:
		if len(in.Operands) < 4 {
			return
		}
		oldTarget := origOffset + int(int32(binary.BigEndian.Uint32(in.Operands)))
		newTarget, ok := oldToNew[oldTarget]
		if !ok {
			return
		}
		binary.BigEndian.PutUint32(in.Operands, uint32(int32(newTarget-in.Offset)))
	case classfile.OpTableSwitch, classfile.OpLookupSwitch:
		patchSwitch(in, origOffset, oldToNew)
	default:
		if !in.Opcode.IsBranch() || len(in.Operands) < 2 {
			return
		}
		oldTarget := origOffset + int(int16(binary.BigEndian.Uint16(in.Operands)))
		newTarget, ok := oldToNew[oldTarget]
		if !ok {
			return
		}
		binary.BigEndian.PutUint16(in.Operands, uint16(int16(newTarget-in.Offset)))
	}
}

func patchSwitch(in *classfile.Instruction, origOffset int, oldToNew map[int]int) {
	// DefaultOffset and SwitchTargets are stored as absolute int32 deltas
	// from the switch's own original offset; rebase each through oldToNew
	// the same way a fixed-size branch is, then re-express relative to the
	// switch's new offset.
	if newTarget, ok := oldToNew[origOffset+int(in.DefaultOffset)]; ok {
		in.DefaultOffset = int32(newTarget - in.Offset)
	}
	for i, t := range in.SwitchTargets {
		if newTarget, ok := oldToNew[origOffset+int(t)]; ok {
			in.SwitchTargets[i] = int32(newTarget - in.Offset)
		}
	}
}

// fixupExceptions rewrites an exception table's offsets through oldToNew.
func fixupExceptions(exc []classfile.ExceptionHandler, oldToNew map[int]int) []classfile.ExceptionHandler {
	out := make([]classfile.ExceptionHandler, len(exc))
	for i, eh := range exc {
		out[i] = eh
		if nv, ok := oldToNew[int(eh.StartPC)]; ok {
			out[i].StartPC = uint16(nv)
		}
		if nv, ok := oldToNew[int(eh.EndPC)]; ok {
			out[i].EndPC = uint16(nv)
		}
		if nv, ok := oldToNew[int(eh.HandlerPC)]; ok {
			out[i].HandlerPC = uint16(nv)
		}
	}
	return out
}
