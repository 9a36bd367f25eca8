package vm

import (
	"fmt"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/config"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/holiman/uint256"
)

func (vm *VirtualMachine) heapOf(aux bool) (memory.HeapID, *uint32) {
	f := vm.state.current
	if aux {
		return f.auxHeap, &f.auxHeapSize
	}
	return f.heap, &f.heapSize
}

// growHeap charges for every byte below bound that was not paid for yet. The size is recorded
// as paid even when the charge fails.
func (vm *VirtualMachine) growHeap(aux bool, bound uint32) bool {
	_, paid := vm.heapOf(aux)
	if *paid >= bound {
		return true
	}
	growth := uint64(bound-*paid) * uint64(vm.settings.Costs.HeapGrowthPerByte)
	*paid = bound
	if growth > common.U32Max {
		vm.state.current.gas = 0
		return false
	}
	return vm.state.useGas(uint32(growth))
}

// heapAddress validates a heap access at pointer and grows the heap up to it.
// On failure a panic is scheduled and ok is false.
func (vm *VirtualMachine) heapAddress(pointer *uint256.Int, aux, write bool) (uint32, bool) {
	if !pointer.IsUint64() || pointer[0] > uint64(config.LastHeapAddress) {
		vm.state.current.gas = 0
		vm.spontaneousPanicWith(fmt.Errorf("%w: address %s", vmerrors.ErrHeapOutOfBounds, pointer.Hex()))
		return 0, false
	}
	address := uint32(pointer[0])
	if !vm.growHeap(aux, address+32) {
		vm.spontaneousPanicWith(vmerrors.ErrOutOfGas)
		return 0, false
	}
	if err := vm.bounds.Check(pointer, write, vm.state.current.isKernel); err != nil {
		vm.spontaneousPanicWith(err)
		return 0, false
	}
	return address, true
}

func (vm *VirtualMachine) heapRead(ins *program.Instruction, aux bool) {
	args := &ins.Args
	pointer, _ := vm.sourceWithPointerFlag(args)
	address, ok := vm.heapAddress(&pointer, aux, false)
	if !ok {
		return
	}
	id, _ := vm.heapOf(aux)
	value := vm.state.heaps.Get(id).ReadU256(address)
	vm.setRegister(args.Dst0, &value, false)
	if ins.Increment() {
		next := new(uint256.Int).AddUint64(&pointer, 32)
		vm.setDestination2(args, next, false)
	}
}

func (vm *VirtualMachine) heapWrite(ins *program.Instruction, aux bool) *ExecutionEnd {
	args := &ins.Args
	pointer, _ := vm.sourceWithPointerFlag(args)
	value := vm.source1(args)
	address, ok := vm.heapAddress(&pointer, aux, true)
	if !ok {
		return nil
	}
	id, _ := vm.heapOf(aux)
	vm.state.heaps.WriteU256(id, address, &value)
	if ins.Increment() {
		next := new(uint256.Int).AddUint64(&pointer, 32)
		vm.setRegister(args.Dst0, next, false)
	}
	if !aux && vm.state.current.program.HooksEnabled() && address == vm.settings.HookAddress {
		return &ExecutionEnd{Kind: SuspendedOnHook, Hook: common.LowU32(&value)}
	}
	return nil
}

// pointerRead reads 32 bytes at the cursor of a fat pointer. Bytes past its end read as zero.
func (vm *VirtualMachine) pointerRead(ins *program.Instruction) {
	args := &ins.Args
	input, isPointer := vm.sourceWithPointerFlag(args)
	if !isPointer {
		vm.spontaneousPanicWith(vmerrors.ErrNotAPointer)
		return
	}
	p := memory.FatPointerFromWord(&input)
	if p.Offset > config.LastHeapAddress {
		vm.spontaneousPanicWith(fmt.Errorf("%w: offset %d", vmerrors.ErrPointerOverflow, p.Offset))
		return
	}
	start := p.Start + min(p.Offset, p.Length)
	end := p.Start + p.Length
	if s := uint64(start) + 32; s < uint64(end) {
		end = uint32(s)
	}
	value := vm.state.heaps.Get(p.MemoryPage).ReadU256Partially(start, end)
	vm.setRegister(args.Dst0, &value, false)
	if ins.Increment() {
		next := new(uint256.Int).AddUint64(&input, 32)
		vm.setDestination2(args, next, true)
	}
}

// pointerOp implements ptr_add, ptr_sub, ptr_pack and ptr_shrink. The first operand must be a
// pointer and the second must not.
func (vm *VirtualMachine) pointerOp(ins *program.Instruction) {
	args := &ins.Args
	var a, b uint256.Int
	var aPtr, bPtr bool
	if ins.Swap() {
		a, aPtr = vm.register(args.Src1)
		b, bPtr = vm.erase(vm.sourceWithPointerFlag(args))
	} else {
		a, aPtr = vm.sourceWithPointerFlag(args)
		b, bPtr = vm.erase(vm.register(args.Src1))
	}
	if !aPtr {
		vm.spontaneousPanicWith(vmerrors.ErrNotAPointer)
		return
	}
	if bPtr {
		vm.spontaneousPanicWith(vmerrors.ErrPointerExpected)
		return
	}

	result, err := pointerArithmetic(ins.Opcode, a, &b)
	if err != nil {
		vm.spontaneousPanicWith(err)
		return
	}
	vm.setDestination(args, &result, true)
}

func pointerArithmetic(op program.Opcode, a uint256.Int, b *uint256.Int) (uint256.Int, error) {
	p := memory.FatPointerFromWord(&a)
	switch op {
	case program.PTR_ADD, program.PTR_SUB:
		if !b.IsUint64() || b[0] > common.U32Max {
			return a, fmt.Errorf("%w: delta %s", vmerrors.ErrPointerOverflow, b.Hex())
		}
		delta := uint32(b[0])
		if op == program.PTR_ADD {
			if p.Offset > ^uint32(0)-delta {
				return a, fmt.Errorf("%w: offset %d + %d", vmerrors.ErrPointerOverflow, p.Offset, delta)
			}
			p.Offset += delta
		} else {
			if p.Offset < delta {
				return a, fmt.Errorf("%w: offset %d - %d", vmerrors.ErrPointerOverflow, p.Offset, delta)
			}
			p.Offset -= delta
		}
	case program.PTR_PACK:
		if b[0] != 0 || b[1] != 0 {
			return a, fmt.Errorf("%w: pack with nonzero low half", vmerrors.ErrPointerOverflow)
		}
		return uint256.Int{a[0], a[1], b[2], b[3]}, nil
	case program.PTR_SHRINK:
		delta := common.LowU32(b)
		if p.Length < delta {
			return a, fmt.Errorf("%w: length %d - %d", vmerrors.ErrPointerOverflow, p.Length, delta)
		}
		p.Length -= delta
	}
	p.WriteTo(&a)
	return a, nil
}
