package vm

import (
	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/program"
	"github.com/holiman/uint256"
)

func (vm *VirtualMachine) register(r program.Register) (uint256.Int, bool) {
	r &= 15
	return vm.state.registers[r], vm.state.registerPointerFlags&(1<<r) != 0
}

// setRegister writes r and its pointer flag. Writes to r0 are discarded.
func (vm *VirtualMachine) setRegister(r program.Register, value *uint256.Int, isPointer bool) {
	r &= 15
	if r == 0 {
		return
	}
	vm.state.registers[r] = *value
	if isPointer {
		vm.state.registerPointerFlags |= 1 << r
	} else {
		vm.state.registerPointerFlags &^= 1 << r
	}
}

func (vm *VirtualMachine) stackAddress(r program.Register, imm uint16) uint16 {
	v, _ := vm.register(r)
	return common.LowU16(&v) + imm
}

// sourceWithPointerFlag resolves the first source operand. AdvanceStack moves sp down first.
func (vm *VirtualMachine) sourceWithPointerFlag(args *program.Arguments) (uint256.Int, bool) {
	f := vm.state.current
	switch args.Source {
	case program.SrcRegister:
		return vm.register(args.Src0)
	case program.SrcImmediate:
		return *uint256.NewInt(uint64(args.Imm1)), false
	case program.SrcAbsoluteStack:
		addr := vm.stackAddress(args.Src0, args.Imm1)
		return f.stack.Get(addr), f.stack.IsPointer(addr)
	case program.SrcRelativeStack:
		addr := f.sp - vm.stackAddress(args.Src0, args.Imm1)
		return f.stack.Get(addr), f.stack.IsPointer(addr)
	case program.SrcAdvanceStack:
		f.sp -= vm.stackAddress(args.Src0, args.Imm1)
		return f.stack.Get(f.sp), f.stack.IsPointer(f.sp)
	case program.SrcCodePage:
		return f.program.CodeWord(vm.stackAddress(args.Src0, args.Imm1)), false
	}
	return uint256.Int{}, false
}

// erase strips pointer metadata outside kernel mode. The returned flag survives only in kernel mode.
func (vm *VirtualMachine) erase(value uint256.Int, isPointer bool) (uint256.Int, bool) {
	kernel := vm.state.current.isKernel
	if isPointer && !kernel {
		memory.EraseMetadata(&value)
	}
	return value, isPointer && kernel
}

func (vm *VirtualMachine) source(args *program.Arguments) uint256.Int {
	v, _ := vm.erase(vm.sourceWithPointerFlag(args))
	return v
}

// source1 reads the Src1 register, erasing pointer metadata.
func (vm *VirtualMachine) source1(args *program.Arguments) uint256.Int {
	v, _ := vm.erase(vm.register(args.Src1))
	return v
}

// setDestination writes the first destination operand. AdvanceStack writes at sp, then moves it up.
func (vm *VirtualMachine) setDestination(args *program.Arguments, value *uint256.Int, isPointer bool) {
	f := vm.state.current
	var addr uint16
	switch args.Destination {
	case program.DstRegister:
		vm.setRegister(args.Dst0, value, isPointer)
		return
	case program.DstAbsoluteStack:
		addr = vm.stackAddress(args.Dst0, args.Imm2)
	case program.DstRelativeStack:
		addr = f.sp - vm.stackAddress(args.Dst0, args.Imm2)
	case program.DstAdvanceStack:
		addr = f.sp
		f.sp += vm.stackAddress(args.Dst0, args.Imm2)
	default:
		return
	}
	f.stack.Set(addr, value)
	if isPointer {
		f.stack.SetPointerFlag(addr)
	} else {
		f.stack.ClearPointerFlag(addr)
	}
}

// setDestination2 writes the Dst1 register.
func (vm *VirtualMachine) setDestination2(args *program.Arguments, value *uint256.Int, isPointer bool) {
	vm.setRegister(args.Dst1, value, isPointer)
}
