package classfile

import (
	"encoding/binary"
	"fmt"
)

// Instruction is one decoded bytecode instruction. Operands keeps the raw
// bytes following the opcode (before any wide/switch padding is removed)
// so that re-encoding is lossless for anything the emitter pipeline
// doesn't touch. CPIndex is populated whenever the opcode references a
// constant pool entry, for emitters that pattern-match on owner/member
// rather than raw bytes.
type Instruction struct {
	Offset   int
	Opcode   Opcode
	Operands []byte
	CPIndex  uint16 // 0 if the opcode has no constant-pool operand

	// Switch-only fields, populated for tableswitch/lookupswitch.
	DefaultOffset int32
	SwitchLow     int32
	SwitchHigh    int32
	SwitchKeys    []int32
	SwitchTargets []int32
}

// Len returns the total encoded length of the instruction, including its
// opcode byte.
func (in *Instruction) Len() int { return 1 + len(in.Operands) }

// DecodeInstructions walks a method's raw Code.Bytecode into a sequence of
// Instructions. Branch offsets, exception handler bounds and line-number
// tables all reference byte offsets into this same stream, which is why
// Offset is preserved on each decoded instruction rather than discarded.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	var out []Instruction
	i := 0
	for i < len(code) {
		start := i
		op := Opcode(code[i])
		i++

		in := Instruction{Offset: start, Opcode: op}

		switch op {
		case OpTableSwitch, OpLookupSwitch:
			// Padding to the next 4-byte boundary measured from the start
			// of the instruction stream (offset 0), not from start of the
			// method's enclosing class — per the JVMS, align(start+1).
			pad := (4 - (start+1)%4) % 4
			i += pad
			if i+4 > len(code) {
				return nil, fmt.Errorf("truncated switch at offset %d", start)
			}
			in.DefaultOffset = int32(binary.BigEndian.Uint32(code[i:]))
			i += 4
			if op == OpTableSwitch {
				if i+8 > len(code) {
					return nil, fmt.Errorf("truncated tableswitch at offset %d", start)
				}
				in.SwitchLow = int32(binary.BigEndian.Uint32(code[i:]))
				i += 4
				in.SwitchHigh = int32(binary.BigEndian.Uint32(code[i:]))
				i += 4
				n := int(in.SwitchHigh - in.SwitchLow + 1)
				for k := 0; k < n; k++ {
					if i+4 > len(code) {
						return nil, fmt.Errorf("truncated tableswitch entries at offset %d", start)
					}
					in.SwitchTargets = append(in.SwitchTargets, int32(binary.BigEndian.Uint32(code[i:])))
					i += 4
				}
			} else {
				if i+4 > len(code) {
					return nil, fmt.Errorf("truncated lookupswitch at offset %d", start)
				}
				npairs := int(binary.BigEndian.Uint32(code[i:]))
				i += 4
				for k := 0; k < npairs; k++ {
					if i+8 > len(code) {
						return nil, fmt.Errorf("truncated lookupswitch entries at offset %d", start)
					}
					in.SwitchKeys = append(in.SwitchKeys, int32(binary.BigEndian.Uint32(code[i:])))
					i += 4
					in.SwitchTargets = append(in.SwitchTargets, int32(binary.BigEndian.Uint32(code[i:])))
					i += 4
				}
			}
			in.Operands = append([]byte(nil), code[start+1:i]...)

		case OpWide:
			if i >= len(code) {
				return nil, fmt.Errorf("truncated wide at offset %d", start)
			}
			inner := Opcode(code[i])
			n := 2
			if inner == Opcode(0x84) {
				n = 5 // iinc: opcode + 2-byte index + 2-byte const
			} else {
				n = 3 // load/store/ret: opcode + 2-byte index
			}
			if i+n > len(code) {
				return nil, fmt.Errorf("truncated wide at offset %d", start)
			}
			in.Operands = append([]byte(nil), code[i:i+n]...)
			i += n

		default:
			info, known := opcodeTable[op]
			n := 0
			if known {
				n = info.operandLen
			}
			if op == OpInvokeInterface || op == OpInvokeDynamic {
				n = info.operandLen // already includes the trailing count/zero bytes
			}
			if i+n > len(code) {
				return nil, fmt.Errorf("truncated instruction %s at offset %d", op.Name(), start)
			}
			in.Operands = append([]byte(nil), code[i:i+n]...)
			i += n

			if known && info.cpRefWide && len(in.Operands) >= 2 {
				in.CPIndex = binary.BigEndian.Uint16(in.Operands[:2])
			} else if op == OpLdc && len(in.Operands) == 1 {
				in.CPIndex = uint16(in.Operands[0])
			}
		}

		out = append(out, in)
	}
	return out, nil
}

// EncodeInstructions re-assembles a decoded instruction sequence into a
// raw bytecode stream. Offsets embedded in branch/switch operands are not
// adjusted here — callers that change instruction lengths must run a
// fixup pass (see rewrite.fixupOffsets) before encoding, because offset
// fixup depends on the full before/after length map for every
// instruction, not just the one being encoded.
func EncodeInstructions(ins []Instruction) []byte {
	var out []byte
	for _, in := range ins {
		out = append(out, byte(in.Opcode))
		switch in.Opcode {
		case OpTableSwitch, OpLookupSwitch:
			pad := (4 - (len(out))%4) % 4
			out = append(out, make([]byte, pad)...)
			out = appendU32(out, uint32(in.DefaultOffset))
			if in.Opcode == OpTableSwitch {
				out = appendU32(out, uint32(in.SwitchLow))
				out = appendU32(out, uint32(in.SwitchHigh))
				for _, t := range in.SwitchTargets {
					out = appendU32(out, uint32(t))
				}
			} else {
				out = appendU32(out, uint32(len(in.SwitchKeys)))
				for k, key := range in.SwitchKeys {
					out = appendU32(out, uint32(key))
					out = appendU32(out, uint32(in.SwitchTargets[k]))
				}
			}
		default:
			out = append(out, in.Operands...)
		}
	}
	return out
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

// BranchTarget returns the absolute target offset of a fixed-size branch
// instruction (goto/if*/jsr and their _w forms), or ok=false if in is not
// such an instruction.
func (in *Instruction) BranchTarget() (target int, ok bool) {
	switch in.Opcode {
	case OpGotoW, OpJsrW:
		if len(in.Operands) < 4 {
			return 0, false
		}
		return in.Offset + int(int32(binary.BigEndian.Uint32(in.Operands))), true
	default:
		if !in.Opcode.IsBranch() || len(in.Operands) < 2 {
			return 0, false
		}
		return in.Offset + int(int16(binary.BigEndian.Uint16(in.Operands))), true
	}
}
