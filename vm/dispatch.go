package vm

import (
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vmerrors"
)

// step executes one instruction of the current frame. A non-nil result ends the run.
func (vm *VirtualMachine) step() *ExecutionEnd {
	f := vm.state.current
	ins := f.pending
	if ins != nil {
		f.pending = nil
	} else {
		ins = f.program.Instruction(f.pc)
	}

	switch ins.Opcode {
	case program.INVALID:
		f.gas = 0
		return vm.freePanic(vmerrors.ErrInvalidInstruction)
	case program.JUMP_TO_START:
		f.pc = 0
		return nil
	case program.ILLEGAL:
		return &ExecutionEnd{Kind: Fatal, Err: f.program.Fault(f.pc)}
	}

	if !vm.state.useGas(vm.costs[ins.Opcode]) {
		return vm.freePanic(vmerrors.ErrOutOfGas)
	}
	if !ins.Opcode.ModeRequirements().Met(f.isKernel, f.isStatic) {
		if ins.Opcode.Info().KernelOnly && !f.isKernel {
			return vm.freePanic(vmerrors.ErrKernelOnly)
		}
		return vm.freePanic(vmerrors.ErrStaticViolation)
	}

	if !ins.Args.Predicate.Satisfied(vm.state.flags) {
		vm.tracer.BeforeInstruction(program.NOP, vm)
		if ins != &spontaneousPanic {
			f.pc++
		}
		if vm.tracer.AfterInstruction(program.NOP, vm) {
			return &ExecutionEnd{Kind: StoppedByTracer}
		}
		return nil
	}

	if vm.trace {
		log.Trace(log.VM, "exec", "pc", f.pc, "ins", ins.String(), "gas", f.gas, "depth", len(vm.state.previous))
	}
	vm.tracer.BeforeInstruction(ins.Opcode, vm)
	if ins != &spontaneousPanic {
		f.pc++
	}
	end := vm.execute(ins)
	if vm.tracer.AfterInstruction(ins.Opcode, vm) && end == nil {
		return &ExecutionEnd{Kind: StoppedByTracer}
	}
	return end
}

// execute runs the effect of ins. The program counter already points past it.
func (vm *VirtualMachine) execute(ins *program.Instruction) *ExecutionEnd {
	args := &ins.Args
	switch ins.Opcode {
	case program.NOP:
		vm.nop(args)
	case program.ADD, program.SUB, program.AND, program.OR, program.XOR,
		program.SHL, program.SHR, program.ROL, program.ROR, program.MUL, program.DIV:
		vm.binop(ins)
	case program.JUMP:
		vm.jump(args)
	case program.NEAR_CALL:
		vm.nearCall(args)
	case program.FAR_CALL:
		vm.farCall(ins, callNormal)
	case program.FAR_CALL_DELEGATE:
		vm.farCall(ins, callDelegate)
	case program.FAR_CALL_MIMIC:
		vm.farCall(ins, callMimic)
	case program.RET:
		return vm.ret(ins, ReturnNormal, nil)
	case program.REVERT:
		return vm.ret(ins, ReturnRevert, nil)
	case program.PANIC:
		cause := vm.panicCause
		vm.panicCause = nil
		return vm.ret(ins, ReturnPanic, cause)
	case program.HEAP_READ:
		vm.heapRead(ins, false)
	case program.AUX_HEAP_READ:
		vm.heapRead(ins, true)
	case program.HEAP_WRITE:
		return vm.heapWrite(ins, false)
	case program.AUX_HEAP_WRITE:
		return vm.heapWrite(ins, true)
	case program.POINTER_READ:
		vm.pointerRead(ins)
	case program.PTR_ADD, program.PTR_SUB, program.PTR_PACK, program.PTR_SHRINK:
		vm.pointerOp(ins)
	case program.SLOAD:
		vm.storageRead(args)
	case program.SSTORE:
		vm.storageWrite(args)
	case program.TLOAD:
		vm.transientRead(args)
	case program.TSTORE:
		vm.transientWrite(args)
	case program.EVENT:
		vm.event(ins)
	case program.TO_L1_MESSAGE:
		vm.l2ToL1(ins)
	case program.PRECOMPILE_CALL:
		vm.precompileCall(args)
	case program.DECOMMIT:
		vm.decommit(args)
	case program.CTX_THIS, program.CTX_CALLER, program.CTX_CODE_ADDRESS, program.CTX_ERGS_LEFT,
		program.CTX_U128, program.CTX_SP, program.CTX_META:
		vm.context(ins)
	case program.CTX_SET_U128:
		vm.setContextU128(args)
	case program.CTX_INC_TX_NUMBER:
		vm.startNewTx()
	case program.CTX_AUX_MUTATING:
	default:
		return &ExecutionEnd{Kind: Fatal, Err: vmerrors.ErrInvalidInstruction}
	}
	return nil
}

// freePanic unwinds the current frame without charging for the panic itself.
func (vm *VirtualMachine) freePanic(cause error) *ExecutionEnd {
	vm.panicCause = nil
	vm.tracer.BeforeInstruction(program.PANIC, vm)
	end := vm.nakedRet(&spontaneousPanic.Args, ReturnPanic, cause)
	if vm.tracer.AfterInstruction(program.PANIC, vm) && end == nil {
		return &ExecutionEnd{Kind: StoppedByTracer}
	}
	return end
}

// spontaneousPanicWith schedules a charged panic as the next instruction of the current frame.
func (vm *VirtualMachine) spontaneousPanicWith(cause error) {
	vm.panicCause = cause
	vm.state.current.pending = &spontaneousPanic
	log.Trace(log.VM, "panic scheduled", "pc", vm.state.current.pc, "cause", cause)
}

func (vm *VirtualMachine) nop(args *program.Arguments) {
	// Stack addressing still moves sp.
	switch args.Source {
	case program.SrcAdvanceStack:
		vm.sourceWithPointerFlag(args)
	}
	if args.Destination == program.DstAdvanceStack {
		vm.state.current.sp += vm.stackAddress(args.Dst0, args.Imm2)
	}
}
