package program

import (
	"fmt"

	"github.com/colorfulnotion/eravm/vmerrors"
)

// Instruction word layout, least significant bit first:
//
//	0-5   opcode
//	6-7   variant flags
//	8-10  predicate
//	11-13 source mode
//	14-15 destination mode
//	16-31 src0, src1, dst0, dst1 register nibbles
//	32-47 immediate 1
//	48-63 immediate 2
const (
	opcodeShift    = 0
	variantShift   = 6
	predicateShift = 8
	sourceShift    = 11
	destShift      = 14
	src0Shift      = 16
	src1Shift      = 20
	dst0Shift      = 24
	dst1Shift      = 28
	imm1Shift      = 32
	imm2Shift      = 48
)

// Encode packs i into a 64-bit instruction word.
func Encode(i Instruction) uint64 {
	a := i.Args
	return uint64(i.Opcode&0x3f)<<opcodeShift |
		uint64(a.Variant&0x3)<<variantShift |
		a.Predicate.code()<<predicateShift |
		uint64(a.Source&0x7)<<sourceShift |
		uint64(a.Destination&0x3)<<destShift |
		uint64(a.Src0&0xf)<<src0Shift |
		uint64(a.Src1&0xf)<<src1Shift |
		uint64(a.Dst0&0xf)<<dst0Shift |
		uint64(a.Dst1&0xf)<<dst1Shift |
		uint64(a.Imm1)<<imm1Shift |
		uint64(a.Imm2)<<imm2Shift
}

// Decode unpacks an instruction word. Unknown opcodes decode to INVALID, which panics the
// running frame. An addressing mode the opcode does not allow is a loader contract
// violation and is reported as an error.
func Decode(raw uint64) (Instruction, error) {
	op := Opcode(raw >> opcodeShift & 0x3f)
	if !op.Known() || op == JUMP_TO_START || op == ILLEGAL {
		return Instruction{Opcode: INVALID, Args: Arguments{Predicate: Always}}, nil
	}
	ins := Instruction{
		Opcode: op,
		Args: Arguments{
			Variant:     uint8(raw >> variantShift & 0x3),
			Predicate:   predicateCodes[raw>>predicateShift&0x7],
			Source:      SourceMode(raw >> sourceShift & 0x7),
			Destination: DestinationMode(raw >> destShift & 0x3),
			Src0:        Register(raw >> src0Shift & 0xf),
			Src1:        Register(raw >> src1Shift & 0xf),
			Dst0:        Register(raw >> dst0Shift & 0xf),
			Dst1:        Register(raw >> dst1Shift & 0xf),
			Imm1:        uint16(raw >> imm1Shift),
			Imm2:        uint16(raw >> imm2Shift),
		},
	}
	if ins.Args.Source >= numSourceModes || !ins.Legal() {
		return ins, fmt.Errorf("%w: %s with source mode %d and destination mode %d",
			vmerrors.ErrIllegalAddressing, op, ins.Args.Source, ins.Args.Destination)
	}
	return ins, nil
}
