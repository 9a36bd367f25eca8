package vm

import (
	"testing"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/config"
	"github.com/colorfulnotion/eravm/precompiles"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	// kernelAddress runs the outermost frame of most tests.
	kernelAddress = common.Uint64ToAddress(0x8001)
	userAddress   = common.Uint64ToAddress(0x12345)
	callerAddress = common.Uint64ToAddress(0x9999)
)

// testWorld is an in-memory World with the standard precompiles.
type testWorld struct {
	precompiles.Legacy
	slots    map[worldlog.StorageKey]uint256.Int
	programs map[common.Hash]*program.Program
	code     map[common.Hash][]byte
}

func newTestWorld() *testWorld {
	return &testWorld{
		slots:    map[worldlog.StorageKey]uint256.Int{},
		programs: map[common.Hash]*program.Program{},
		code:     map[common.Hash][]byte{},
	}
}

func (w *testWorld) ReadStorage(contract common.Address, key *uint256.Int) worldlog.StorageSlot {
	v, ok := w.slots[worldlog.StorageKey{Address: contract, Key: *key}]
	if !ok {
		return worldlog.EmptySlot
	}
	return worldlog.StorageSlot{Value: v}
}

func (w *testWorld) CostOfWritingStorage(initial worldlog.StorageSlot, newValue *uint256.Int) uint32 {
	if initial.Value.Eq(newValue) {
		return 0
	}
	if initial.IsWriteInitial {
		return 64
	}
	return 40
}

func (w *testWorld) IsFreeStorageSlot(common.Address, *uint256.Int) bool {
	return false
}

func (w *testWorld) Decommit(hash common.Hash) *program.Program {
	return w.programs[hash]
}

func (w *testWorld) DecommitCode(hash common.Hash) []byte {
	return w.code[hash]
}

// deploy assembles src, stores it and registers its code info with the deployer.
func (w *testWorld) deploy(t *testing.T, address common.Address, src string) common.Hash {
	t.Helper()
	bytecode := assemble(t, src)
	prog, err := program.New(bytecode, false)
	require.NoError(t, err)

	hash := common.Keccak256(bytecode)
	words := len(bytecode) / program.WordSize
	hash[0], hash[1] = 1, 0
	hash[2], hash[3] = byte(words>>8), byte(words)
	w.programs[hash] = prog
	w.code[hash] = bytecode
	w.slots[worldlog.StorageKey{Address: common.DeployerSystemContract, Key: address.Word()}] = hash.Word()
	return hash
}

func assemble(t *testing.T, src string) []byte {
	t.Helper()
	ins, err := program.ParseAssembly(src)
	require.NoError(t, err)
	return program.Assemble(ins)
}

func mustProgram(t *testing.T, src string, hooks bool) *program.Program {
	t.Helper()
	prog, err := program.New(assemble(t, src), hooks)
	require.NoError(t, err)
	return prog
}

func newTestVM(t *testing.T, address common.Address, src string, gas uint32) *VirtualMachine {
	t.Helper()
	return newTestVMWith(t, address, mustProgram(t, src, false), gas, config.DefaultSettings())
}

func newTestVMWith(t *testing.T, address common.Address, prog *program.Program, gas uint32, settings config.Settings) *VirtualMachine {
	t.Helper()
	vm, err := New(address, prog, callerAddress, nil, gas, settings)
	require.NoError(t, err)
	return vm
}

func reg(t *testing.T, vm *VirtualMachine, r uint8) uint64 {
	t.Helper()
	v, _ := vm.ReadRegister(r)
	require.True(t, v.IsUint64(), "r%d = %s", r, v.Hex())
	return v.Uint64()
}

// stepLimiter stops the machine after a fixed number of instructions.
type stepLimiter struct {
	NoopTracer
	left int
}

func (s *stepLimiter) AfterInstruction(program.Opcode, StateInterface) ShouldStop {
	s.left--
	return s.left <= 0
}

// opcodeRecorder remembers every opcode reported to the tracer and every frame transition.
type opcodeRecorder struct {
	NoopTracer
	ops    []program.Opcode
	enters []FrameKind
	exits  []ReturnKind
}

func (r *opcodeRecorder) BeforeInstruction(op program.Opcode, _ StateInterface) {
	r.ops = append(r.ops, op)
}

func (r *opcodeRecorder) OnFrameEnter(kind FrameKind, _ StateInterface) {
	r.enters = append(r.enters, kind)
}

func (r *opcodeRecorder) OnFrameExit(_ FrameKind, ret ReturnKind, _ StateInterface) {
	r.exits = append(r.exits, ret)
}
