package vm

import (
	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/holiman/uint256"
)

// Code hash version bytes.
const (
	codeFormatEraVM = 1
	codeFormatEVM   = 2
)

type unpaidDecommit struct {
	cost    uint32
	codeKey common.Hash
}

// resolveCode looks up the code hash of address in the deployer's storage and applies the default
// account and EVM interpreter substitutions. ok is false when the code info is malformed or no
// code can run at address.
func (vm *VirtualMachine) resolveCode(address common.Address, isConstructorCall bool) (d unpaidDecommit, isEVM, ok bool) {
	key := address.Word()
	info := vm.worldDiff.ReadStorageWithoutRefund(vm.world, vm.tracer, common.DeployerSystemContract, &key)
	codeInfo := info.Bytes32()

	var isConstructed bool
	switch codeInfo[1] {
	case 0:
		isConstructed = true
	case 1:
		isConstructed = false
	default:
		log.Debug(log.Frames, "bad code info", "address", address, "info", info.Hex())
		return d, false, false
	}

	defaultAA := func() bool {
		if address.IsKernel() {
			return false
		}
		codeInfo = [32]byte(vm.settings.DefaultAACodeHash)
		return true
	}

	switch {
	case codeInfo[0] == codeFormatEraVM:
		if isConstructed == isConstructorCall && !defaultAA() {
			return d, false, false
		}
	case codeInfo[0] == codeFormatEVM:
		if isConstructed == isConstructorCall {
			if !defaultAA() {
				return d, false, false
			}
		} else {
			isEVM = true
			codeInfo = [32]byte(vm.settings.EVMInterpreterCodeHash)
		}
	case info.IsZero():
		if !defaultAA() {
			return d, false, false
		}
	default:
		log.Debug(log.Frames, "unknown code format", "address", address, "info", info.Hex())
		return d, false, false
	}

	codeInfo[1] = 0
	d.codeKey = common.BytesToHash(codeInfo[:])
	if !vm.worldDiff.IsDecommitted(d.codeKey) {
		words := uint32(codeInfo[2])<<8 | uint32(codeInfo[3])
		d.cost = words * vm.settings.Costs.DecommitPerCodeWord
	}
	return d, isEVM, true
}

// payForDecommit charges gas for d and loads the program. An unaffordable decommit is still recorded.
func (vm *VirtualMachine) payForDecommit(d unpaidDecommit, gas *uint32) (*program.Program, bool) {
	if d.cost > *gas {
		vm.worldDiff.RecordDecommit(d.codeKey, false)
		return nil, false
	}
	isNew := vm.worldDiff.RecordDecommit(d.codeKey, true)
	*gas -= d.cost
	prog := vm.world.Decommit(d.codeKey)
	if prog == nil {
		return nil, false
	}
	if isNew {
		words := uint32(len(prog.CodePage()))
		vm.tracer.OnExtraProverCycles(CycleStats{Kind: worldlog.CyclesDecommit, Cycles: (words + 1) / 2})
	}
	return prog, true
}

// validCodeHash accepts versioned contract code hashes and blob hashes.
func validCodeHash(h [32]byte) bool {
	return (h[0] == codeFormatEraVM || h[0] == codeFormatEVM) && (h[1] == 0 || h[1] == 1)
}

// decommit loads code by hash into a new heap and returns a pointer to it.
// The extra ergs in src1 are burned up front and refunded when the code was already loaded.
func (vm *VirtualMachine) decommit(args *program.Arguments) {
	hash := vm.source(args)
	extra := vm.source1(args)
	extraCost := common.LowU32(&extra)

	if !vm.state.useGas(extraCost) || !validCodeHash(hash.Bytes32()) {
		var zero uint256.Int
		vm.setRegister(args.Dst0, &zero, false)
		return
	}

	codeHash := common.WordToHash(&hash)
	isNew := vm.worldDiff.RecordDecommit(codeHash, true)
	code := vm.world.DecommitCode(codeHash)
	if isNew {
		vm.tracer.OnExtraProverCycles(CycleStats{Kind: worldlog.CyclesDecommit, Cycles: (uint32(len(code)) + 63) / 64})
	} else {
		vm.state.current.gas += extraCost
	}

	heap := vm.state.heaps.AllocateWithContent(code)
	f := vm.state.current
	f.heapsKeptAlive = append(f.heapsKeptAlive, heap)
	p := memory.FatPointer{MemoryPage: heap, Length: vm.settings.NewKernelFrameMemoryStipend}
	w := p.Word()
	vm.setRegister(args.Dst0, &w, true)
}
