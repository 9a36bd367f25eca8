package vm

import (
	"slices"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/holiman/uint256"
)

type nearCallFrame struct {
	exceptionHandler uint16
	previousSP       uint16
	previousGas      uint32
	previousPC       int
	worldBefore      worldlog.Snapshot
}

// callframe is one far call. Near calls live inside it as a stack of saved registers.
type callframe struct {
	address     common.Address
	codeAddress common.Address
	caller      common.Address

	exceptionHandler uint16
	contextU128      uint256.Int
	isStatic         bool
	isKernel         bool
	isEVMInterpreter bool

	stack *memory.Stack
	sp    uint16

	gas     uint32
	stipend uint32

	nearCalls []nearCallFrame

	pc      int
	program *program.Program
	// pending runs before the instruction at pc; it carries spontaneous panics.
	pending *program.Instruction

	heap           memory.HeapID
	auxHeap        memory.HeapID
	heapSize       uint32
	auxHeapSize    uint32
	calldataHeap   memory.HeapID
	heapsKeptAlive []memory.HeapID

	worldBefore worldlog.Snapshot
}

type frameParams struct {
	address, codeAddress, caller common.Address
	program                      *program.Program
	stack                        *memory.Stack
	heap, auxHeap, calldataHeap  memory.HeapID
	gas, stipend                 uint32
	exceptionHandler             uint16
	contextU128                  uint256.Int
	isStatic, isEVMInterpreter   bool
	worldBefore                  worldlog.Snapshot
	memoryStipend                uint32
}

func newCallframe(p frameParams) *callframe {
	return &callframe{
		address:          p.address,
		codeAddress:      p.codeAddress,
		caller:           p.caller,
		exceptionHandler: p.exceptionHandler,
		contextU128:      p.contextU128,
		isStatic:         p.isStatic,
		isKernel:         p.address.IsKernel(),
		isEVMInterpreter: p.isEVMInterpreter,
		stack:            p.stack,
		gas:              p.gas,
		stipend:          p.stipend,
		program:          p.program,
		heap:             p.heap,
		auxHeap:          p.auxHeap,
		heapSize:         p.memoryStipend,
		auxHeapSize:      p.memoryStipend,
		calldataHeap:     p.calldataHeap,
		worldBefore:      p.worldBefore,
	}
}

func (f *callframe) pushNearCall(gasToCall uint32, exceptionHandler uint16, worldBefore worldlog.Snapshot) {
	f.nearCalls = append(f.nearCalls, nearCallFrame{
		exceptionHandler: exceptionHandler,
		previousSP:       f.sp,
		previousGas:      f.gas - gasToCall,
		previousPC:       f.pc,
		worldBefore:      worldBefore,
	})
	f.gas = gasToCall
}

// popNearCall restores the caller's sp, gas and pc. ok is false when no near call is active.
func (f *callframe) popNearCall() (handler uint16, worldBefore worldlog.Snapshot, ok bool) {
	n := len(f.nearCalls)
	if n == 0 {
		return 0, worldlog.Snapshot{}, false
	}
	nc := f.nearCalls[n-1]
	f.nearCalls = f.nearCalls[:n-1]
	f.sp = nc.previousSP
	f.gas = nc.previousGas
	f.pc = nc.previousPC
	return nc.exceptionHandler, nc.worldBefore, true
}

// containedGas is the gas of the frame including what its near callers hold back.
func (f *callframe) containedGas() uint32 {
	total := f.gas
	for _, nc := range f.nearCalls {
		total += nc.previousGas
	}
	return total
}

type callframeSnapshot struct {
	stack          *memory.Stack
	contextU128    uint256.Int
	sp             uint16
	pc             int
	gas            uint32
	nearCalls      []nearCallFrame
	heapSize       uint32
	auxHeapSize    uint32
	heapsKeptAlive int
}

func (f *callframe) snapshot() callframeSnapshot {
	return callframeSnapshot{
		stack:          f.stack.Snapshot(),
		contextU128:    f.contextU128,
		sp:             f.sp,
		pc:             f.pc,
		gas:            f.gas,
		nearCalls:      slices.Clone(f.nearCalls),
		heapSize:       f.heapSize,
		auxHeapSize:    f.auxHeapSize,
		heapsKeptAlive: len(f.heapsKeptAlive),
	}
}

// rollback restores s and returns the heaps kept alive since, which the caller must deallocate.
func (f *callframe) rollback(s callframeSnapshot) []memory.HeapID {
	f.stack.Restore(s.stack)
	f.contextU128 = s.contextU128
	f.sp = s.sp
	f.pc = s.pc
	f.pending = nil
	f.gas = s.gas
	f.nearCalls = slices.Clone(s.nearCalls)
	f.heapSize = s.heapSize
	f.auxHeapSize = s.auxHeapSize
	dropped := slices.Clone(f.heapsKeptAlive[s.heapsKeptAlive:])
	f.heapsKeptAlive = f.heapsKeptAlive[:s.heapsKeptAlive]
	return dropped
}
