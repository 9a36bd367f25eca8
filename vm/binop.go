package vm

import (
	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/program"
	"github.com/holiman/uint256"
)

// binop computes dst0 (and dst1 for mul/div) from source and src1. With swap the operands trade places.
func (vm *VirtualMachine) binop(ins *program.Instruction) {
	args := &ins.Args
	a := vm.source(args)
	b := vm.source1(args)
	if ins.Swap() {
		a, b = b, a
	}

	var out, out2 uint256.Int
	var flags program.Flags
	secondOutput := false
	switch ins.Opcode {
	case program.ADD:
		_, overflow := out.AddOverflow(&a, &b)
		flags = arithmeticFlags(&out, overflow)
	case program.SUB:
		_, overflow := out.SubOverflow(&a, &b)
		flags = arithmeticFlags(&out, overflow)
	case program.AND:
		out.And(&a, &b)
		flags = program.NewFlags(false, out.IsZero(), false)
	case program.OR:
		out.Or(&a, &b)
		flags = program.NewFlags(false, out.IsZero(), false)
	case program.XOR:
		out.Xor(&a, &b)
		flags = program.NewFlags(false, out.IsZero(), false)
	case program.SHL:
		out.Lsh(&a, shiftAmount(&b))
		flags = program.NewFlags(false, out.IsZero(), false)
	case program.SHR:
		out.Rsh(&a, shiftAmount(&b))
		flags = program.NewFlags(false, out.IsZero(), false)
	case program.ROL:
		out = common.RotateLeft(&a, shiftAmount(&b))
		flags = program.NewFlags(false, out.IsZero(), false)
	case program.ROR:
		out = common.RotateRight(&a, shiftAmount(&b))
		flags = program.NewFlags(false, out.IsZero(), false)
	case program.MUL:
		out, out2 = common.FullMul(&a, &b)
		secondOutput = true
		hiZero, loZero := out2.IsZero(), out.IsZero()
		flags = program.NewFlags(!hiZero, loZero, hiZero && !loZero)
	case program.DIV:
		secondOutput = true
		if b.IsZero() {
			flags = program.NewFlags(true, false, false)
		} else {
			out.DivMod(&a, &b, &out2)
			flags = program.NewFlags(false, out.IsZero(), out2.IsZero())
		}
	}

	vm.setDestination(args, &out, false)
	if secondOutput {
		vm.setDestination2(args, &out2, false)
	}
	if ins.SetFlags() {
		vm.state.flags = flags
	}
}

func arithmeticFlags(out *uint256.Int, overflow bool) program.Flags {
	zero := out.IsZero()
	return program.NewFlags(overflow, zero, !(overflow || zero))
}

// shiftAmount is the low 32 bits of b reduced modulo the word size.
func shiftAmount(b *uint256.Int) uint {
	return uint(common.LowU32(b) % 256)
}
