package vm

import (
	"fmt"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/config"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/holiman/uint256"
)

type EndKind uint8

const (
	ProgramFinished EndKind = iota
	Reverted
	Panicked
	SuspendedOnHook
	StoppedByTracer
	Fatal
)

var endKindNames = [...]string{"finished", "reverted", "panicked", "suspended_on_hook", "stopped_by_tracer", "fatal"}

func (k EndKind) String() string {
	if int(k) < len(endKindNames) {
		return endKindNames[k]
	}
	return "unknown"
}

// ExecutionEnd is why Run returned. Output is set for finished and reverted runs, Hook for
// suspensions. Err carries the diagnostic of fatal stops and the cause of a panic in the
// outermost frame when the machine raised it.
type ExecutionEnd struct {
	Kind   EndKind
	Output []byte
	Hook   uint32
	Err    error
}

type vmSnapshot struct {
	world worldlog.ExternalSnapshot
	state stateSnapshot
}

// VirtualMachine executes one outermost frame and everything it calls.
type VirtualMachine struct {
	settings config.Settings
	bounds   memory.Bounds
	costs    [program.NumOpcodes]uint32

	worldDiff *worldlog.WorldDiff
	state     state
	stackPool memory.StackPool
	snapshot  *vmSnapshot

	// Bound for the duration of Run.
	world       World
	tracer      Tracer
	frameTracer FrameTracer
	trace       bool

	panicCause error
	suspended  bool
	finished   *ExecutionEnd
}

var spontaneousPanic = program.Instruction{Opcode: program.PANIC, Args: program.Arguments{Predicate: program.Always}}

// New prepares a machine that runs prog at address with calldata in its calldata heap.
func New(address common.Address, prog *program.Program, caller common.Address, calldata []byte, gas uint32, settings config.Settings) (*VirtualMachine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	costs, err := staticCosts(settings.Costs)
	if err != nil {
		return nil, err
	}
	if uint64(len(calldata)) > common.U32Max {
		return nil, fmt.Errorf("%w: calldata of %d bytes", vmerrors.ErrHeapOutOfBounds, len(calldata))
	}

	vm := &VirtualMachine{
		settings:  settings,
		bounds:    memory.Bounds{MaxHeapSize: settings.MaxHeapSize, ProtectedBound: settings.ProtectedHeapBound},
		costs:     costs,
		worldDiff: worldlog.New(settings.Costs),
	}
	root := newCallframe(frameParams{
		address:       address,
		codeAddress:   address,
		caller:        caller,
		program:       prog,
		stack:         vm.stackPool.Get(),
		heap:          memory.HeapFirst,
		auxHeap:       memory.HeapFirstAux,
		calldataHeap:  memory.HeapCalldata,
		gas:           gas,
		memoryStipend: vm.memoryStipend(address),
	})
	vm.state = state{
		flags:   program.NewFlags(false, false, false),
		current: root,
		heaps:   memory.NewHeaps(calldata),
	}
	calldataPointer := memory.FatPointer{MemoryPage: memory.HeapCalldata, Length: uint32(len(calldata))}
	w := calldataPointer.Word()
	vm.setRegister(1, &w, true)
	log.Debug(log.VM, "new machine", "address", address, "caller", caller, "gas", gas, "instructions", prog.Len(), "calldata", len(calldata))
	return vm, nil
}

// staticCosts resolves the base cost of every opcode, applying overrides by mnemonic.
func staticCosts(table config.CostTable) ([program.NumOpcodes]uint32, error) {
	var costs [program.NumOpcodes]uint32
	for op := program.Opcode(0); op < program.NumOpcodes; op++ {
		costs[op] = op.Info().Cost
	}
	for name, cost := range table.Opcodes {
		op, ok := program.OpcodeByName(name)
		if !ok {
			return costs, fmt.Errorf("%w: %q", vmerrors.ErrUnknownOpcode, name)
		}
		costs[op] = cost
	}
	return costs, nil
}

func (vm *VirtualMachine) memoryStipend(address common.Address) uint32 {
	if address.IsKernel() {
		return vm.settings.NewKernelFrameMemoryStipend
	}
	return vm.settings.NewFrameMemoryStipend
}

// WorldDiff is the accumulated log of side effects.
func (vm *VirtualMachine) WorldDiff() *worldlog.WorldDiff {
	return vm.worldDiff
}

func (vm *VirtualMachine) Settings() config.Settings {
	return vm.settings
}

func (vm *VirtualMachine) bind(world World, tracer Tracer) {
	if tracer == nil {
		tracer = NoopTracer{}
	}
	vm.world = world
	vm.tracer = tracer
	vm.frameTracer, _ = tracer.(FrameTracer)
	vm.trace = log.IsModuleEnabled(log.VM)
}

// Run executes until the outermost frame returns, a hook suspends the machine, the tracer
// asks to stop or a fatal condition is hit. A suspended machine continues with Resume.
func (vm *VirtualMachine) Run(world World, tracer Tracer) ExecutionEnd {
	if vm.finished != nil {
		return ExecutionEnd{Kind: Fatal, Err: vmerrors.ErrFinished}
	}
	vm.bind(world, tracer)
	vm.suspended = false
	for {
		if end := vm.step(); end != nil {
			vm.stopped(end)
			return *end
		}
	}
}

// Resume continues a machine suspended on a hook.
func (vm *VirtualMachine) Resume(world World, tracer Tracer) ExecutionEnd {
	if !vm.suspended {
		return ExecutionEnd{Kind: Fatal, Err: vmerrors.ErrNotSuspended}
	}
	return vm.Run(world, tracer)
}

// RunWithGasLimit runs like Run but gives up once more than limit ergs have been spent across all
// frames. It returns the unspent part of limit, or ok=false when the limit was exceeded.
func (vm *VirtualMachine) RunWithGasLimit(world World, tracer Tracer, limit uint32) (left uint32, end ExecutionEnd, ok bool) {
	if vm.finished != nil {
		return 0, ExecutionEnd{Kind: Fatal, Err: vmerrors.ErrFinished}, true
	}
	vm.bind(world, tracer)
	vm.suspended = false
	total := vm.state.totalUnspentGas()
	var minimum uint32
	if total > limit {
		minimum = total - limit
	}
	for {
		if e := vm.step(); e != nil {
			vm.stopped(e)
			end = *e
			break
		}
		if vm.state.totalUnspentGas() < minimum {
			log.Debug(log.VM, "gas limit exceeded", "limit", limit)
			return 0, ExecutionEnd{}, false
		}
	}
	total = vm.state.totalUnspentGas()
	if total < minimum {
		return 0, end, false
	}
	return total - minimum, end, true
}

func (vm *VirtualMachine) stopped(end *ExecutionEnd) {
	switch end.Kind {
	case SuspendedOnHook:
		vm.suspended = true
	case ProgramFinished, Reverted, Panicked:
		vm.finished = end
	case Fatal:
		log.Error(log.VM, "fatal stop", "err", end.Err)
	}
	log.Debug(log.VM, "stopped", "kind", end.Kind, "gas", vm.state.current.gas, "hook", end.Hook, "err", end.Err)
}

// MakeSnapshot captures the whole machine. Only allowed while the outermost frame runs.
func (vm *VirtualMachine) MakeSnapshot() error {
	if len(vm.state.previous) != 0 {
		return vmerrors.ErrSnapshotWithFrames
	}
	vm.snapshot = &vmSnapshot{
		world: vm.worldDiff.ExternalSnapshot(),
		state: vm.state.snapshot(),
	}
	return nil
}

// Rollback returns to the snapshot taken by MakeSnapshot and discards it.
func (vm *VirtualMachine) Rollback() error {
	if len(vm.state.previous) != 0 {
		return vmerrors.ErrSnapshotWithFrames
	}
	if vm.snapshot == nil {
		return vmerrors.ErrNoSnapshot
	}
	s := vm.snapshot
	vm.snapshot = nil
	vm.worldDiff.ExternalRollback(s.world)
	vm.state.rollback(s.state)
	vm.finished = nil
	vm.deleteHistory()
	return nil
}

// PopSnapshot discards the snapshot and keeps the current state.
func (vm *VirtualMachine) PopSnapshot() error {
	if len(vm.state.previous) != 0 {
		return vmerrors.ErrSnapshotWithFrames
	}
	if vm.snapshot == nil {
		return vmerrors.ErrNoSnapshot
	}
	vm.snapshot = nil
	vm.deleteHistory()
	return nil
}

func (vm *VirtualMachine) deleteHistory() {
	vm.worldDiff.DeleteHistory()
	vm.state.heaps.DeleteHistory()
}

type callingMode uint8

const (
	callNormal callingMode = iota
	callDelegate
	callMimic
)

func (vm *VirtualMachine) pushFrame(mode callingMode, codeAddress common.Address, prog *program.Program, gas, stipend uint32,
	exceptionHandler uint16, isStatic, isEVMInterpreter bool, calldataHeap memory.HeapID, worldBefore worldlog.Snapshot) {
	cur := vm.state.current
	address := codeAddress
	caller := cur.address
	contextU128 := vm.state.contextU128
	switch mode {
	case callDelegate:
		address = cur.address
		caller = cur.caller
		contextU128 = cur.contextU128
	case callMimic:
		r15, _ := vm.register(15)
		caller = common.WordToAddress(&r15)
	}
	frame := newCallframe(frameParams{
		address:          address,
		codeAddress:      codeAddress,
		caller:           caller,
		program:          prog,
		stack:            vm.stackPool.Get(),
		heap:             vm.state.heaps.Allocate(),
		auxHeap:          vm.state.heaps.Allocate(),
		calldataHeap:     calldataHeap,
		gas:              gas,
		stipend:          stipend,
		exceptionHandler: exceptionHandler,
		contextU128:      contextU128,
		isStatic:         isStatic,
		isEVMInterpreter: isEVMInterpreter,
		worldBefore:      worldBefore,
		memoryStipend:    vm.memoryStipend(address),
	})
	vm.state.contextU128.Clear()
	vm.state.previous = append(vm.state.previous, cur)
	vm.state.current = frame
	log.Debug(log.Frames, "far call", "depth", len(vm.state.previous), "address", address, "code", codeAddress, "caller", caller, "gas", gas, "static", isStatic)
}

// popFrame drops the current frame and frees its heaps except keep, which the caller then holds.
// ok is false for the outermost frame.
func (vm *VirtualMachine) popFrame(keep memory.HeapID, hasKeep bool) (handler uint16, worldBefore worldlog.Snapshot, ok bool) {
	n := len(vm.state.previous)
	if n == 0 {
		return 0, worldlog.Snapshot{}, false
	}
	done := vm.state.current
	for _, id := range append([]memory.HeapID{done.heap, done.auxHeap}, done.heapsKeptAlive...) {
		if !hasKeep || id != keep {
			vm.state.heaps.Deallocate(id)
		}
	}
	vm.stackPool.Recycle(done.stack)
	vm.state.current = vm.state.previous[n-1]
	vm.state.previous = vm.state.previous[:n-1]
	if hasKeep {
		vm.state.current.heapsKeptAlive = append(vm.state.current.heapsKeptAlive, keep)
	}
	log.Debug(log.Frames, "far return", "depth", n-1, "from", done.address, "gas_left", done.gas)
	return done.exceptionHandler, done.worldBefore, true
}

// startNewTx bumps the transaction number and clears transient storage.
func (vm *VirtualMachine) startNewTx() {
	vm.state.transactionNumber++
	vm.worldDiff.ClearTransientStorage()
}

// Outcome summarises a finished run for callers that persist or report it.
type Outcome struct {
	End            ExecutionEnd
	ErgsLeft       uint32
	Pubdata        int32
	StorageRefunds []uint32
	PubdataCosts   []int32
	Storage        map[worldlog.StorageKey]worldlog.StorageChange
	Events         []worldlog.Event
	L2ToL1Logs     []worldlog.L2ToL1Log
	Decommitted    []common.Hash
}

func (vm *VirtualMachine) Outcome(end ExecutionEnd) Outcome {
	return Outcome{
		End:            end,
		ErgsLeft:       vm.state.totalUnspentGas(),
		Pubdata:        vm.worldDiff.Pubdata(),
		StorageRefunds: vm.worldDiff.StorageRefunds(),
		PubdataCosts:   vm.worldDiff.PubdataCosts(),
		Storage:        vm.worldDiff.StorageChanges(),
		Events:         vm.worldDiff.Events(),
		L2ToL1Logs:     vm.worldDiff.L2ToL1Logs(),
		Decommitted:    vm.worldDiff.DecommittedHashes(),
	}
}

func wordFromU32(v uint32) uint256.Int {
	return *uint256.NewInt(uint64(v))
}
