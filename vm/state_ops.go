package vm

import (
	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/precompiles"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/holiman/uint256"
)

func (vm *VirtualMachine) storageRead(args *program.Arguments) {
	key := vm.source(args)
	value, refund := vm.worldDiff.ReadStorage(vm.world, vm.tracer, vm.state.current.address, &key)
	vm.state.current.gas += refund
	vm.setRegister(args.Dst0, &value, false)
}

func (vm *VirtualMachine) storageWrite(args *program.Arguments) {
	key := vm.source(args)
	value := vm.source1(args)
	refund, kind := vm.worldDiff.WriteStorage(vm.world, vm.tracer, vm.state.current.address, &key, &value)
	vm.state.current.gas += refund
	if vm.trace {
		log.Trace(log.VM, "sstore", "address", vm.state.current.address, "key", key.Hex(), "kind", kind, "refund", refund)
	}
}

func (vm *VirtualMachine) transientRead(args *program.Arguments) {
	key := vm.source(args)
	value := vm.worldDiff.ReadTransientStorage(vm.state.current.address, &key)
	vm.setRegister(args.Dst0, &value, false)
}

func (vm *VirtualMachine) transientWrite(args *program.Arguments) {
	key := vm.source(args)
	value := vm.source1(args)
	vm.worldDiff.WriteTransientStorage(vm.state.current.address, &key, &value)
}

// event is only recorded when issued by the event writer system contract.
func (vm *VirtualMachine) event(ins *program.Instruction) {
	if vm.state.current.address != common.EventWriter {
		return
	}
	vm.worldDiff.RecordEvent(worldlog.Event{
		Key:      vm.source(&ins.Args),
		Value:    vm.source1(&ins.Args),
		IsFirst:  ins.IsFirst(),
		TxNumber: vm.state.transactionNumber,
	})
}

func (vm *VirtualMachine) l2ToL1(ins *program.Instruction) {
	vm.worldDiff.RecordL2ToL1Log(worldlog.L2ToL1Log{
		Key:       vm.source(&ins.Args),
		Value:     vm.source1(&ins.Args),
		IsService: ins.IsFirst(),
		Address:   vm.state.current.address,
		TxNumber:  vm.state.transactionNumber,
	})
}

func (vm *VirtualMachine) context(ins *program.Instruction) {
	f := vm.state.current
	var out uint256.Int
	switch ins.Opcode {
	case program.CTX_THIS:
		out = f.address.Word()
	case program.CTX_CALLER:
		out = f.caller.Word()
	case program.CTX_CODE_ADDRESS:
		out = f.codeAddress.Word()
	case program.CTX_ERGS_LEFT:
		out.SetUint64(uint64(f.gas))
	case program.CTX_U128:
		out = f.contextU128
	case program.CTX_SP:
		out.SetUint64(uint64(f.sp))
	case program.CTX_META:
		out = vm.meta()
	}
	vm.setRegister(ins.Args.Dst0, &out, false)
}

// meta packs the pubdata counter (kernel frames only), heap sizes and shard ids.
func (vm *VirtualMachine) meta() uint256.Int {
	f := vm.state.current
	var out uint256.Int
	if f.isKernel {
		out[0] = uint64(uint32(vm.worldDiff.Pubdata()))
	}
	out[1] = uint64(f.heapSize) | uint64(f.auxHeapSize)<<32
	return out
}

func (vm *VirtualMachine) setContextU128(args *program.Arguments) {
	v := vm.source(args)
	vm.state.setContextU128(&v)
}

// precompileABI is the layout of the precompile_call source word.
type precompileABI struct {
	inputOffset, inputLength   uint32
	outputOffset, outputLength uint32
	readPage, writePage        memory.HeapID
	data                       uint64
}

func precompileArguments(w *uint256.Int) precompileABI {
	return precompileABI{
		inputOffset:  uint32(w[0]),
		inputLength:  uint32(w[0] >> 32),
		outputOffset: uint32(w[1]),
		outputLength: uint32(w[1] >> 32),
		readPage:     memory.HeapID(uint32(w[2])),
		writePage:    memory.HeapID(uint32(w[2] >> 32)),
		data:         w[3],
	}
}

// precompileCall runs the precompile selected by the low 16 bits of the current address.
// Src1 carries extra ergs (low 32 bits) and extra pubdata (next 32 bits) to charge.
func (vm *VirtualMachine) precompileCall(args *program.Arguments) {
	aux := vm.source1(args)
	if !vm.state.useGas(uint32(aux[0])) {
		vm.spontaneousPanicWith(vmerrors.ErrOutOfGas)
		return
	}
	vm.worldDiff.AddPubdata(int32(uint32(aux[0] >> 32)))

	raw := vm.source(args)
	abi := precompileArguments(&raw)
	f := vm.state.current
	if abi.readPage == 0 {
		abi.readPage = f.heap
	}
	if abi.writePage == 0 {
		abi.writePage = f.heap
	}
	if int(abi.readPage) >= vm.state.heaps.Len() || int(abi.writePage) >= vm.state.heaps.Len() {
		vm.spontaneousPanicWith(vmerrors.ErrHeapOutOfBounds)
		return
	}

	addr := f.address.Bytes()
	selector := uint16(addr[18])<<8 | uint16(addr[19])
	in := precompiles.NewInput(vm.state.heaps.Get(abi.readPage), abi.inputOffset, abi.inputLength)
	out := vm.world.CallPrecompile(selector, abi.data, in)
	if out.HasCycles {
		vm.tracer.OnExtraProverCycles(out.Cycles)
	}

	offset := abi.outputOffset * 32
	for i := uint32(0); i < min(out.Len, abi.outputLength); i++ {
		vm.state.heaps.WriteU256(abi.writePage, offset, &out.Words[i])
		offset += 32
	}
	one := wordFromU32(1)
	vm.setRegister(args.Dst0, &one, false)
}
