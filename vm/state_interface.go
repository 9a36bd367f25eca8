package vm

import (
	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/holiman/uint256"
)

// StateInterface is what tracers see of a running machine. Writes are meant for debuggers;
// a tracer that changes state is responsible for keeping it consistent.
type StateInterface interface {
	ReadRegister(r uint8) (uint256.Int, bool)
	WriteRegister(r uint8, value *uint256.Int, isPointer bool)
	Flags() program.Flags
	SetFlags(f program.Flags)

	// NumberOfCallframes counts far frames and near calls.
	NumberOfCallframes() int
	// CallframeAt returns the frame n levels below the innermost one.
	CallframeAt(n int) (FrameInfo, bool)
	CurrentOpcode() program.Opcode

	TransactionNumber() uint16
	ContextU128() uint256.Int

	ReadHeapWord(heap memory.HeapID, address uint32) uint256.Int
	ReadHeapRange(heap memory.HeapID, start, length uint32) []byte
	WriteHeapWord(heap memory.HeapID, address uint32, value *uint256.Int)

	Pubdata() int32
	StorageValue(contract common.Address, key *uint256.Int) (uint256.Int, bool)
	Events() []worldlog.Event
	L2ToL1Logs() []worldlog.L2ToL1Log
	WorldDiff() *worldlog.WorldDiff
}

// FrameInfo describes one entry of the call stack. Near calls share the memory of their far frame.
type FrameInfo struct {
	Kind             FrameKind
	Address          common.Address
	CodeAddress      common.Address
	Caller           common.Address
	PC               int
	SP               uint16
	Gas              uint32
	Stipend          uint32
	ExceptionHandler uint16
	IsStatic         bool
	IsKernel         bool
	IsEVMInterpreter bool
	ContextU128      uint256.Int
	Heap             memory.HeapID
	AuxHeap          memory.HeapID
	HeapSize         uint32
	AuxHeapSize      uint32
	Program          *program.Program
}

var _ StateInterface = (*VirtualMachine)(nil)

func (vm *VirtualMachine) ReadRegister(r uint8) (uint256.Int, bool) {
	return vm.register(program.Register(r))
}

func (vm *VirtualMachine) WriteRegister(r uint8, value *uint256.Int, isPointer bool) {
	vm.setRegister(program.Register(r), value, isPointer)
}

func (vm *VirtualMachine) Flags() program.Flags {
	return vm.state.flags
}

func (vm *VirtualMachine) SetFlags(f program.Flags) {
	vm.state.flags = f | program.Flags(program.AlwaysBit)
}

func (vm *VirtualMachine) NumberOfCallframes() int {
	n := 1 + len(vm.state.current.nearCalls)
	for _, f := range vm.state.previous {
		n += 1 + len(f.nearCalls)
	}
	return n
}

func (vm *VirtualMachine) CallframeAt(n int) (FrameInfo, bool) {
	if n < 0 {
		return FrameInfo{}, false
	}
	frames := vm.state.previous
	f := vm.state.current
	for i := len(frames); ; i-- {
		if n <= len(f.nearCalls) {
			return frameInfo(f, n), true
		}
		n -= len(f.nearCalls) + 1
		if i == 0 {
			return FrameInfo{}, false
		}
		f = frames[i-1]
	}
}

// frameInfo describes f as seen from inside its near call at depth len(nearCalls)-n.
// For n == 0 that is the running state.
func frameInfo(f *callframe, n int) FrameInfo {
	info := FrameInfo{
		Kind:             FrameFar,
		Address:          f.address,
		CodeAddress:      f.codeAddress,
		Caller:           f.caller,
		PC:               f.pc,
		SP:               f.sp,
		Gas:              f.gas,
		Stipend:          f.stipend,
		ExceptionHandler: f.exceptionHandler,
		IsStatic:         f.isStatic,
		IsKernel:         f.isKernel,
		IsEVMInterpreter: f.isEVMInterpreter,
		ContextU128:      f.contextU128,
		Heap:             f.heap,
		AuxHeap:          f.auxHeap,
		HeapSize:         f.heapSize,
		AuxHeapSize:      f.auxHeapSize,
		Program:          f.program,
	}
	depth := len(f.nearCalls) - n
	if depth > 0 {
		info.Kind = FrameNear
		info.ExceptionHandler = f.nearCalls[depth-1].exceptionHandler
	}
	if n > 0 {
		nc := f.nearCalls[depth]
		info.PC = nc.previousPC
		info.SP = nc.previousSP
		info.Gas = nc.previousGas
	}
	return info
}

// CurrentOpcode is the opcode at the program counter of the innermost frame.
func (vm *VirtualMachine) CurrentOpcode() program.Opcode {
	f := vm.state.current
	if f.pending != nil {
		return f.pending.Opcode
	}
	return f.program.Instruction(f.pc).Opcode
}

func (vm *VirtualMachine) TransactionNumber() uint16 {
	return vm.state.transactionNumber
}

func (vm *VirtualMachine) ContextU128() uint256.Int {
	return vm.state.current.contextU128
}

func (vm *VirtualMachine) ReadHeapWord(heap memory.HeapID, address uint32) uint256.Int {
	return vm.state.heaps.Get(heap).ReadU256(address)
}

func (vm *VirtualMachine) ReadHeapRange(heap memory.HeapID, start, length uint32) []byte {
	return vm.state.heaps.Get(heap).ReadRange(start, length)
}

func (vm *VirtualMachine) WriteHeapWord(heap memory.HeapID, address uint32, value *uint256.Int) {
	if int(heap) < vm.state.heaps.Len() {
		vm.state.heaps.WriteU256(heap, address, value)
	}
}

func (vm *VirtualMachine) Pubdata() int32 {
	return vm.worldDiff.Pubdata()
}

func (vm *VirtualMachine) StorageValue(contract common.Address, key *uint256.Int) (uint256.Int, bool) {
	return vm.worldDiff.StorageValue(contract, key)
}

func (vm *VirtualMachine) Events() []worldlog.Event {
	return vm.worldDiff.Events()
}

func (vm *VirtualMachine) L2ToL1Logs() []worldlog.L2ToL1Log {
	return vm.worldDiff.L2ToL1Logs()
}
