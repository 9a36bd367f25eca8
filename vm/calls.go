package vm

import (
	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/holiman/uint256"
)

// jump sets pc to the low 16 bits of the source and stores the return address in dst0.
func (vm *VirtualMachine) jump(args *program.Arguments) {
	target := vm.source(args)
	f := vm.state.current
	next := wordFromU32(uint32(uint16(f.pc)))
	vm.setRegister(args.Dst0, &next, false)
	f.pc = int(common.LowU16(&target))
}

// nearCall enters the subroutine at imm1 with the ergs in src0 (zero passes everything).
// imm2 is where a failing return lands.
func (vm *VirtualMachine) nearCall(args *program.Arguments) {
	f := vm.state.current
	requested, _ := vm.register(args.Src0)
	gas := common.LowU32(&requested)
	if gas == 0 || gas > f.gas {
		gas = f.gas
	}
	f.pushNearCall(gas, args.Imm2, vm.worldDiff.Snapshot())
	vm.state.flags = program.NewFlags(false, false, false)
	f.pc = int(args.Imm1)
	if vm.frameTracer != nil {
		vm.frameTracer.OnFrameEnter(FrameNear, vm)
	}
	log.Trace(log.Frames, "near call", "target", args.Imm1, "gas", gas, "depth", len(f.nearCalls))
}

// farCallABI is the settings part of the far call ABI word (limb 3).
type farCallABI struct {
	gasToPass         uint32
	shardID           uint8
	isConstructorCall bool
	isSystemCall      bool
}

func farCallArguments(abi *uint256.Int) farCallABI {
	settings := uint32(abi[3] >> 32)
	return farCallABI{
		gasToPass:         uint32(abi[3]),
		shardID:           uint8(settings >> 8),
		isConstructorCall: uint8(settings>>16) != 0,
		isSystemCall:      uint8(settings>>24) != 0,
	}
}

// Pointer sources of the ABI byte in limb 3.
const (
	pointerToHeap    = 0
	pointerForward   = 1
	pointerToAuxHeap = 2
)

// calldataPointer builds the pointer a far call or return passes on. Forwarded pointers are
// narrowed; new ones address the current heap or aux heap, which grows to cover them.
func (vm *VirtualMachine) calldataPointer(raw *uint256.Int, isPointer, alreadyFailed bool) (memory.FatPointer, bool) {
	p := memory.FatPointerFromWord(raw)
	source := uint8(raw[3] >> 32)
	if source == pointerForward {
		if !isPointer || p.Offset > p.Length {
			return p, false
		}
		p.Narrow()
		return p, true
	}

	aux := source == pointerToAuxHeap
	bound := uint64(p.Start) + uint64(p.Length)
	if bound > common.U32Max {
		vm.growHeap(aux, ^uint32(0))
		return p, false
	}
	if isPointer || p.Offset != 0 || alreadyFailed {
		return p, false
	}
	if !vm.growHeap(aux, uint32(bound)) {
		return p, false
	}
	p.MemoryPage, _ = vm.heapOf(aux)
	return p, true
}

func (vm *VirtualMachine) farCall(ins *program.Instruction, mode callingMode) {
	args := &ins.Args
	cur := vm.state.current
	rawABI, rawIsPointer := vm.register(args.Src0)
	dest := vm.source1(args)
	dest.And(&dest, mask160)
	destination := common.WordToAddress(&dest)

	abi := farCallArguments(&rawABI)
	abi.isConstructorCall = abi.isConstructorCall && cur.isKernel
	abi.isSystemCall = abi.isSystemCall && destination.IsKernel()

	var mandated uint32
	if abi.isSystemCall && destination == common.MsgValueSimulator {
		mandated = vm.settings.Costs.MsgValueSimulatorAdditiveCost
	}

	calldata, prog, isEVM, ok := func() (memory.FatPointer, *program.Program, bool, bool) {
		d, isEVM, decommitOK := vm.resolveCode(destination, abi.isConstructorCall)
		shardFailed := ins.IsShard() && abi.shardID != 0
		calldata, calldataOK := vm.calldataPointer(&rawABI, rawIsPointer, !decommitOK || shardFailed)

		if cur.gas < mandated {
			cur.gas = 0
			mandated = 0
			return calldata, nil, false, false
		}
		cur.gas -= mandated

		if shardFailed || !calldataOK || !decommitOK {
			return calldata, nil, false, false
		}
		prog, paid := vm.payForDecommit(d, &cur.gas)
		if !paid {
			return calldata, nil, false, false
		}
		return calldata, prog, isEVM, true
	}()

	costs := vm.settings.Costs
	maximum := cur.gas / costs.FarCallGasDenominator * costs.FarCallGasNumerator
	passed := min(abi.gasToPass, maximum)
	cur.gas -= passed

	if !ok {
		log.Debug(log.Frames, "far call failed", "destination", destination, "err", vmerrors.ErrFarCallFailed)
		calldata = memory.FatPointer{}
		prog = program.PanicProgram()
		isEVM = false
	}

	isStatic := (ins.IsStatic() || cur.isStatic) && !isEVM
	vm.pushFrame(mode, destination, prog, passed+mandated, mandated, args.Imm1,
		isStatic, isEVM, calldata.MemoryPage, vm.worldDiff.Snapshot())

	vm.state.flags = program.NewFlags(false, false, false)
	if abi.isSystemCall {
		vm.state.registers[13].Clear()
		vm.state.registers[14].Clear()
		vm.state.registers[15].Clear()
	} else {
		vm.state.registers = [16]uint256.Int{}
	}
	vm.state.registerPointerFlags = 2
	vm.state.registers[1] = calldata.Word()

	staticEVM := isStatic && isEVM
	var callType uint64
	if staticEVM {
		callType |= 4
	}
	if abi.isSystemCall {
		callType |= 2
	}
	if abi.isConstructorCall {
		callType |= 1
	}
	vm.state.registers[2].SetUint64(callType)

	if vm.frameTracer != nil {
		vm.frameTracer.OnFrameEnter(FrameFar, vm)
	}
}

func (vm *VirtualMachine) ret(ins *program.Instruction, kind ReturnKind, cause error) *ExecutionEnd {
	return vm.nakedRet(&ins.Args, kind, cause)
}

// nakedRet leaves the innermost near call or, when there is none, the current far frame.
// A near call returns all of its remaining ergs. A far frame returns its ergs minus the
// stipend on success and nothing on revert or panic.
func (vm *VirtualMachine) nakedRet(args *program.Arguments, kind ReturnKind, cause error) *ExecutionEnd {
	f := vm.state.current
	// to_label is variant A of ret, revert and panic.
	toLabel := args.Variant&program.VariantA != 0

	if len(f.nearCalls) > 0 {
		if vm.frameTracer != nil {
			vm.frameTracer.OnFrameExit(FrameNear, kind, vm)
		}
		leftover := f.gas
		handler, worldBefore, _ := f.popNearCall()
		if toLabel {
			f.pc = int(args.Imm1)
		} else if kind.IsFailure() {
			f.pc = int(handler)
		}
		vm.release(worldBefore, kind)
		vm.state.flags = program.NewFlags(kind == ReturnPanic, false, false)
		f.gas += leftover
		log.Trace(log.Frames, "near return", "kind", kind, "pc", f.pc, "gas", f.gas)
		return nil
	}

	var ret memory.FatPointer
	hasReturn := false
	if kind != ReturnPanic {
		raw, isPointer := vm.register(args.Src0)
		p, ok := vm.calldataPointer(&raw, isPointer, false)
		if ok && !f.isKernel && p.MemoryPage == f.calldataHeap {
			ok = false
			cause = vmerrors.ErrCalldataHeap
		}
		if ok {
			ret, hasReturn = p, true
		} else {
			kind = ReturnPanic
		}
	}

	if vm.frameTracer != nil {
		vm.frameTracer.OnFrameExit(FrameFar, kind, vm)
	}

	var leftover uint32
	if f.gas > f.stipend {
		leftover = f.gas - f.stipend
	}

	handler, worldBefore, ok := vm.popFrame(ret.MemoryPage, hasReturn)
	if !ok {
		return vm.rootReturn(kind, ret, hasReturn, cause)
	}

	vm.state.contextU128.Clear()
	vm.state.clearRegisters()
	if hasReturn {
		vm.state.registers[1] = ret.Word()
	}
	vm.state.registerPointerFlags = 2
	caller := vm.state.current
	if kind.IsFailure() {
		caller.pc = int(handler)
	}
	vm.release(worldBefore, kind)
	vm.state.flags = program.NewFlags(kind == ReturnPanic, false, false)
	if !kind.IsFailure() {
		caller.gas += leftover
	}
	if kind == ReturnPanic && cause != nil {
		log.Debug(log.Frames, "callee panicked", "cause", cause, "caller", caller.address)
	}
	return nil
}

// release keeps or discards the side effects recorded since the frame's snapshot.
func (vm *VirtualMachine) release(s worldlog.Snapshot, kind ReturnKind) {
	var err error
	if kind.IsFailure() {
		err = vm.worldDiff.Rollback(s)
	} else {
		err = vm.worldDiff.Forget(s)
	}
	if err != nil {
		log.Error(log.WorldDiff, "frame snapshot out of order", "err", err)
	}
}

// rootReturn ends the run. The outermost frame keeps its side effects whatever the outcome.
func (vm *VirtualMachine) rootReturn(kind ReturnKind, ret memory.FatPointer, hasReturn bool, cause error) *ExecutionEnd {
	f := vm.state.current
	f.pc = f.program.Len()
	end := &ExecutionEnd{}
	switch {
	case kind == ReturnPanic || !hasReturn:
		end.Kind = Panicked
		end.Err = cause
	case kind == ReturnRevert:
		end.Kind = Reverted
		end.Output = vm.state.heaps.Get(ret.MemoryPage).ReadRange(ret.Start, ret.Length)
	default:
		end.Kind = ProgramFinished
		end.Output = vm.state.heaps.Get(ret.MemoryPage).ReadRange(ret.Start, ret.Length)
	}
	return end
}
