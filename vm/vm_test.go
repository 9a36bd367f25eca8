package vm

import (
	"fmt"
	"testing"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/config"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArithmeticAndFlags(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
	add 5, r0, r1
	add.flags 3, r1, r2
	ret r0
`, 1000)
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Empty(t, end.Output)
	require.Equal(t, uint64(8), reg(t, vm, 2))
	require.True(t, vm.Flags().GreaterThan())
	require.False(t, vm.Flags().LessThan())
	require.Equal(t, uint32(1000-6-6-5), vm.Outcome(end).ErgsLeft)
}

func TestPredicatedInstructionIsChargedButSkipped(t *testing.T) {
	rec := &opcodeRecorder{}
	vm := newTestVM(t, kernelAddress, `
	add.flags 1, r0, r1
	add.lt 7, r0, r2
	add.gt 9, r0, r3
	ret r0
`, 1000)
	end := vm.Run(newTestWorld(), rec)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(0), reg(t, vm, 2))
	require.Equal(t, uint64(9), reg(t, vm, 3))
	require.Equal(t, uint32(1000-6*3-5), vm.Outcome(end).ErgsLeft)
	require.Equal(t, []program.Opcode{program.ADD, program.NOP, program.ADD, program.RET}, rec.ops)
}

func TestDivisionByZeroSetsOverflow(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
	add 7, r0, r1
	div.flags r1, r0, r2, r3
	ret r0
`, 1000)
	require.Equal(t, ProgramFinished, vm.Run(newTestWorld(), nil).Kind)
	require.True(t, vm.Flags().LessThan())
	require.Equal(t, uint64(0), reg(t, vm, 2))
	require.Equal(t, uint64(0), reg(t, vm, 3))
}

func TestStackAddressing(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
	add 11, r0, stack+=[r0+1]
	add 22, r0, stack+=[r0+1]
	add stack-=[r0+1], r0, r1
	add stack-[r0+1], r0, r2
	sp r3
	ret r0
`, 1000)
	require.Equal(t, ProgramFinished, vm.Run(newTestWorld(), nil).Kind)
	require.Equal(t, uint64(22), reg(t, vm, 1))
	require.Equal(t, uint64(11), reg(t, vm, 2))
	require.Equal(t, uint64(1), reg(t, vm, 3))
}

func TestHeapWriteAndRead(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
	add 77, r0, r1
	heap_write 64, r1
	heap_read 64, r2
	heap_read.inc 64, r3, r4
	add 32, r0, r5
	shl.swap 96, r5, r5
	add 64, r0, r6
	shl.swap 64, r6, r6
	add r6, r5, r5
	ret r5
`, 1000)
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(77), reg(t, vm, 2))
	require.Equal(t, uint64(96), reg(t, vm, 4))

	word := vm.ReadHeapWord(memory.HeapFirst, 64)
	require.Equal(t, uint64(77), word.Uint64())
	require.Len(t, end.Output, 32)
	require.Equal(t, byte(77), end.Output[31])
}

func TestHeapOutOfBoundsPanics(t *testing.T) {
	settings := config.DefaultSettings()
	settings.MaxHeapSize = 1024
	prog := mustProgram(t, `
	add 2000, r0, r1
	heap_write r1, r1
	ret r0
`, false)
	vm := newTestVMWith(t, kernelAddress, prog, 1000, settings)
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, Panicked, end.Kind)
	require.ErrorIs(t, end.Err, vmerrors.ErrHeapOutOfBounds)
}

func TestHeapAddressNearWordLimitPanics(t *testing.T) {
	settings := config.DefaultSettings()
	settings.MaxHeapSize = 1024
	prog := mustProgram(t, `
	add 1, r0, r1
	shl.swap 64, r1, r1
	sub.swap 16, r1, r1
	add 77, r0, r2
	heap_write r1, r2
	ret r0
`, false)
	vm := newTestVMWith(t, kernelAddress, prog, 1000, settings)
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, Panicked, end.Kind)
	require.ErrorIs(t, end.Err, vmerrors.ErrHeapOutOfBounds)
	require.Equal(t, uint32(0), vm.Outcome(end).ErgsLeft)
}

func TestPointerReadRequiresPointer(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
	add 1, r0, r2
	pointer_read r2, r3
	ret r0
`, 1000)
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, Panicked, end.Kind)
	require.ErrorIs(t, end.Err, vmerrors.ErrNotAPointer)
}

func TestCalldataPointer(t *testing.T) {
	calldata := make([]byte, 32)
	calldata[31] = 42
	prog := mustProgram(t, `
	pointer_read r1, r2
	add 1, r0, r3
	shl.swap 224, r3, r3
	ptr_pack r1, r3, r4
	ret r4
`, false)
	vm, err := New(kernelAddress, prog, callerAddress, calldata, 1000, config.DefaultSettings())
	require.NoError(t, err)
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(42), reg(t, vm, 2))
	require.Equal(t, calldata, end.Output)
}

func TestNearCall(t *testing.T) {
	rec := &opcodeRecorder{}
	vm := newTestVM(t, kernelAddress, `
	near_call r0, sub, handler
	add 1, r0, r5
	ret r0
sub:
	add 9, r0, r6
	ret r0
handler:
	add 2, r0, r5
	ret r0
`, 1000)
	end := vm.Run(newTestWorld(), rec)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(9), reg(t, vm, 6))
	require.Equal(t, uint64(1), reg(t, vm, 5))
	require.Equal(t, []FrameKind{FrameNear}, rec.enters)
	require.Equal(t, []ReturnKind{ReturnNormal, ReturnNormal}, rec.exits)
	// Near calls hand back all unspent ergs.
	require.Equal(t, uint32(1000-25-6-5-6-5), vm.Outcome(end).ErgsLeft)
}

func TestNearCallRevertRollsBackStorage(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
	add 4, r0, r1
	sstore r1, r1
	near_call r0, sub, handler
	add 1, r0, r5
	ret r0
sub:
	add 3, r0, r1
	sstore r1, r1
	revert r0
handler:
	add 2, r0, r5
	ret r0
`, 100000)
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(2), reg(t, vm, 5))
	require.False(t, vm.Flags().LessThan())

	kept, ok := vm.StorageValue(kernelAddress, uint256.NewInt(4))
	require.True(t, ok)
	require.Equal(t, uint64(4), kept.Uint64())
	dropped, _ := vm.StorageValue(kernelAddress, uint256.NewInt(3))
	require.True(t, dropped.IsZero())
}

func TestNearCallToLabel(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
	near_call r0, sub, handler
	add 1, r0, r5
	ret r0
sub:
	ret.to_label r0, elsewhere
handler:
	add 2, r0, r5
	ret r0
elsewhere:
	add 3, r0, r5
	ret r0
`, 1000)
	require.Equal(t, ProgramFinished, vm.Run(newTestWorld(), nil).Kind)
	require.Equal(t, uint64(3), reg(t, vm, 5))
}

// farCaller calls userAddress passing gas ergs. r10 ends up with the ergs before the call,
// r11 with the ergs after it, r12 tells which path returned.
func farCaller(gas int) string {
	return fmt.Sprintf(`
	add 1, r0, r2
	shl.swap 16, r2, r2
	add 0x2345, r2, r2
	add %d, r0, r1
	shl.swap 192, r1, r1
	ergs_left r10
	add r10, r0, stack[0]
	far_call r1, r2, fail
	ergs_left r11
	add 1, r0, r12
	add stack[0], r0, r10
	ret r0
fail:
	ergs_left r11
	add.lt 1, r0, r7
	add 2, r0, r12
	add stack[0], r0, r10
	ret r0
`, gas)
}

func TestFarCallReturn(t *testing.T) {
	world := newTestWorld()
	world.deploy(t, userAddress, `ret r0`)
	rec := &opcodeRecorder{}
	vm := newTestVM(t, kernelAddress, farCaller(5000), 1000000)

	end := vm.Run(world, rec)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(1), reg(t, vm, 12))
	// store, call, decommit of one word, callee return, ergs_left
	require.Equal(t, uint64(6+183+4+5+6), reg(t, vm, 10)-reg(t, vm, 11))
	require.Equal(t, []FrameKind{FrameFar}, rec.enters)
	require.Equal(t, []ReturnKind{ReturnNormal, ReturnNormal}, rec.exits)
	require.Len(t, vm.Outcome(end).Decommitted, 1)
}

func TestFarCallRevertKeepsNoErgs(t *testing.T) {
	world := newTestWorld()
	world.deploy(t, userAddress, `revert r0`)
	vm := newTestVM(t, kernelAddress, farCaller(5000), 1000000)

	require.Equal(t, ProgramFinished, vm.Run(world, nil).Kind)
	require.Equal(t, uint64(2), reg(t, vm, 12))
	require.Equal(t, uint64(0), reg(t, vm, 7))
	require.Equal(t, uint64(6+183+4+5000+6), reg(t, vm, 10)-reg(t, vm, 11))
}

func TestFarCallRevertPayloadAndRollback(t *testing.T) {
	world := newTestWorld()
	world.deploy(t, userAddress, `
	add 7, r0, r1
	sstore r1, r1
	add 77, r0, r3
	heap_write 0, r3
	add 32, r0, r4
	shl.swap 96, r4, r4
	revert r4
`)
	vm := newTestVM(t, kernelAddress, `
	add 1, r0, r2
	shl.swap 16, r2, r2
	add 0x2345, r2, r2
	add 20000, r0, r1
	shl.swap 192, r1, r1
	far_call r1, r2, fail
	ret r0
fail:
	pointer_read r1, r5
	ret r0
`, 1000000)

	end := vm.Run(world, nil)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(77), reg(t, vm, 5))
	require.False(t, vm.Flags().LessThan())

	slot, _ := vm.StorageValue(userAddress, uint256.NewInt(7))
	require.True(t, slot.IsZero())
	require.Empty(t, vm.Outcome(end).Storage)
}

func TestOutOfGasInCalleePanicsToCaller(t *testing.T) {
	world := newTestWorld()
	world.deploy(t, userAddress, `
loop:
	jump loop
`)
	vm := newTestVM(t, kernelAddress, farCaller(100), 1000000)

	end := vm.Run(world, nil)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(2), reg(t, vm, 12))
	require.Equal(t, uint64(1), reg(t, vm, 7), "panic sets lt")
	require.Equal(t, uint64(6+183+4+100+6), reg(t, vm, 10)-reg(t, vm, 11))
}

func TestFarCallToMissingCodePanics(t *testing.T) {
	world := newTestWorld()
	vm := newTestVM(t, kernelAddress, farCaller(5000), 1000000)
	end := vm.Run(world, nil)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(2), reg(t, vm, 12))
	require.Equal(t, uint64(1), reg(t, vm, 7))
}

func TestOutOfGasAtRoot(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
loop:
	jump loop
`, 10)
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, Panicked, end.Kind)
	require.ErrorIs(t, end.Err, vmerrors.ErrOutOfGas)
	require.Equal(t, uint32(0), vm.Outcome(end).ErgsLeft)

	again := vm.Run(newTestWorld(), nil)
	require.Equal(t, Fatal, again.Kind)
	require.ErrorIs(t, again.Err, vmerrors.ErrFinished)
}

func TestEmptyProgramPanics(t *testing.T) {
	prog, err := program.New(nil, false)
	require.NoError(t, err)
	vm := newTestVMWith(t, kernelAddress, prog, 1000, config.DefaultSettings())
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, Panicked, end.Kind)
	require.ErrorIs(t, end.Err, vmerrors.ErrInvalidInstruction)
}

func TestKernelOnlyOpcodeOutsideKernel(t *testing.T) {
	vm := newTestVM(t, userAddress, `
	increment_tx_number
	ret r0
`, 1000)
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, Panicked, end.Kind)
	require.ErrorIs(t, end.Err, vmerrors.ErrKernelOnly)
}

func TestTransactionNumberAndTransientStorage(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
	add 5, r0, r1
	tstore r1, r1
	tload r1, r2
	increment_tx_number
	tload r1, r3
	ret r0
`, 1000)
	require.Equal(t, ProgramFinished, vm.Run(newTestWorld(), nil).Kind)
	require.Equal(t, uint64(5), reg(t, vm, 2))
	require.Equal(t, uint64(0), reg(t, vm, 3))
	require.Equal(t, uint16(1), vm.TransactionNumber())
}

func TestHookSuspendsAndResumes(t *testing.T) {
	prog := mustProgram(t, `
	add 5, r0, r1
	heap_write 0, r1
	add 6, r0, r2
	ret r0
`, true)
	vm := newTestVMWith(t, kernelAddress, prog, 1000, config.DefaultSettings())
	world := newTestWorld()

	resumed := vm.Resume(world, nil)
	require.ErrorIs(t, resumed.Err, vmerrors.ErrNotSuspended)

	end := vm.Run(world, nil)
	require.Equal(t, SuspendedOnHook, end.Kind)
	require.Equal(t, uint32(5), end.Hook)
	require.Equal(t, uint64(0), reg(t, vm, 2))

	end = vm.Resume(world, nil)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(6), reg(t, vm, 2))
}

func TestAuxHeapWriteDoesNotHook(t *testing.T) {
	prog := mustProgram(t, `
	add 5, r0, r1
	aux_heap_write 0, r1
	add 6, r0, r2
	ret r0
`, true)
	vm := newTestVMWith(t, kernelAddress, prog, 1000, config.DefaultSettings())
	end := vm.Run(newTestWorld(), nil)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(6), reg(t, vm, 2))
}

func TestTracerStop(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
loop:
	add 1, r3, r3
	jump loop
`, 1000)
	world := newTestWorld()

	end := vm.Run(world, &stepLimiter{left: 2})
	require.Equal(t, StoppedByTracer, end.Kind)
	require.Equal(t, uint64(1), reg(t, vm, 3))

	end = vm.Run(world, &stepLimiter{left: 2})
	require.Equal(t, StoppedByTracer, end.Kind)
	require.Equal(t, uint64(2), reg(t, vm, 3))
}

func TestRunWithGasLimit(t *testing.T) {
	src := `
	add 1, r0, r1
	add 1, r1, r1
	ret r0
`
	vm := newTestVM(t, kernelAddress, src, 1000)
	left, end, ok := vm.RunWithGasLimit(newTestWorld(), nil, 100)
	require.True(t, ok)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint32(100-17), left)

	vm = newTestVM(t, kernelAddress, src, 1000)
	_, _, ok = vm.RunWithGasLimit(newTestWorld(), nil, 10)
	require.False(t, ok)
}

func TestExternalSnapshot(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
	add 3, r0, r1
	sstore r1, r1
	add 77, r0, r2
	heap_write 0, r2
	ret r0
`, 100000)
	require.ErrorIs(t, vm.Rollback(), vmerrors.ErrNoSnapshot)
	require.ErrorIs(t, vm.PopSnapshot(), vmerrors.ErrNoSnapshot)

	require.NoError(t, vm.MakeSnapshot())
	world := newTestWorld()
	require.Equal(t, ProgramFinished, vm.Run(world, nil).Kind)
	_, written := vm.StorageValue(kernelAddress, uint256.NewInt(3))
	require.True(t, written)

	require.NoError(t, vm.Rollback())
	_, written = vm.StorageValue(kernelAddress, uint256.NewInt(3))
	require.False(t, written)
	word := vm.ReadHeapWord(memory.HeapFirst, 0)
	require.True(t, word.IsZero())
	require.Equal(t, uint32(100000), vm.Outcome(ExecutionEnd{}).ErgsLeft)

	// The machine runs again from the restored point.
	require.Equal(t, ProgramFinished, vm.Run(world, nil).Kind)
	require.ErrorIs(t, vm.Rollback(), vmerrors.ErrNoSnapshot)
}

func TestEventsOnlyFromEventWriter(t *testing.T) {
	src := `
	add 1, r0, r1
	add 2, r0, r2
	event.first r1, r2
	to_l1_message r1, r2
	ret r0
`
	vm := newTestVM(t, common.EventWriter, src, 1000000)
	require.Equal(t, ProgramFinished, vm.Run(newTestWorld(), nil).Kind)
	require.Len(t, vm.Events(), 1)
	require.True(t, vm.Events()[0].IsFirst)
	require.Len(t, vm.L2ToL1Logs(), 1)
	require.False(t, vm.L2ToL1Logs()[0].IsService)

	vm = newTestVM(t, kernelAddress, src, 1000000)
	require.Equal(t, ProgramFinished, vm.Run(newTestWorld(), nil).Kind)
	require.Empty(t, vm.Events())
	require.Len(t, vm.L2ToL1Logs(), 1)
}

func TestKeccakPrecompile(t *testing.T) {
	vm := newTestVM(t, common.Uint64ToAddress(common.KeccakAddress), `
	add 77, r0, r5
	heap_write 0, r5
	add 32, r0, r1
	shl.swap 32, r1, r1
	add 1, r0, r2
	shl.swap 64, r2, r2
	add r2, r1, r1
	add 1, r0, r2
	shl.swap 96, r2, r2
	add r2, r1, r1
	precompile_call r1, r0, r4
	heap_read 32, r6
	ret r0
`, 100000)
	counter := &CycleCounter{}
	end := vm.Run(newTestWorld(), counter)
	require.Equal(t, ProgramFinished, end.Kind)
	require.Equal(t, uint64(1), reg(t, vm, 4))

	input := make([]byte, 32)
	input[31] = 77
	want := common.Keccak256(input).Word()
	got, _ := vm.ReadRegister(6)
	require.Equal(t, want, got)
	require.Equal(t, uint32(1), counter.Cycles["keccak256"])
}

func TestContextOpcodes(t *testing.T) {
	vm := newTestVM(t, kernelAddress, `
	this r1
	caller r2
	code_address r3
	add 9, r0, r4
	set_context_u128 r4
	context_u128 r5
	ret r0
`, 1000)
	require.Equal(t, ProgramFinished, vm.Run(newTestWorld(), nil).Kind)
	this, _ := vm.ReadRegister(1)
	caller, _ := vm.ReadRegister(2)
	code, _ := vm.ReadRegister(3)
	assert.Equal(t, kernelAddress.Word(), this)
	assert.Equal(t, callerAddress.Word(), caller)
	assert.Equal(t, kernelAddress.Word(), code)
	// The value is staged for the next far call, not the running frame.
	assert.Equal(t, uint64(0), reg(t, vm, 5))
}

func TestCallframeAtInsideNearCall(t *testing.T) {
	var depth int
	var inner, outer FrameInfo
	probe := &frameProbe{onErgsLeft: func(s StateInterface) {
		depth = s.NumberOfCallframes()
		inner, _ = s.CallframeAt(0)
		outer, _ = s.CallframeAt(1)
	}}
	vm := newTestVM(t, kernelAddress, `
	near_call r0, sub, sub
	ret r0
sub:
	ergs_left r1
	ret r0
`, 1000)
	require.Equal(t, ProgramFinished, vm.Run(newTestWorld(), probe).Kind)
	require.Equal(t, 2, depth)
	require.Equal(t, FrameNear, inner.Kind)
	require.Equal(t, FrameFar, outer.Kind)
	require.Equal(t, 1, outer.PC)
	require.Equal(t, kernelAddress, outer.Address)
}

type frameProbe struct {
	NoopTracer
	onErgsLeft func(StateInterface)
}

func (p *frameProbe) BeforeInstruction(op program.Opcode, s StateInterface) {
	if op == program.CTX_ERGS_LEFT {
		p.onErgsLeft(s)
	}
}

func TestPointerArithmetic(t *testing.T) {
	base := memory.FatPointer{Offset: 5, MemoryPage: 2, Start: 100, Length: 10}.Word()
	cases := []struct {
		name string
		op   program.Opcode
		b    uint256.Int
		want memory.FatPointer
		err  error
	}{
		{"add", program.PTR_ADD, *uint256.NewInt(3), memory.FatPointer{Offset: 8, MemoryPage: 2, Start: 100, Length: 10}, nil},
		{"sub", program.PTR_SUB, *uint256.NewInt(5), memory.FatPointer{Offset: 0, MemoryPage: 2, Start: 100, Length: 10}, nil},
		{"sub underflow", program.PTR_SUB, *uint256.NewInt(6), memory.FatPointer{}, vmerrors.ErrPointerOverflow},
		{"add too large", program.PTR_ADD, *new(uint256.Int).Lsh(uint256.NewInt(1), 32), memory.FatPointer{}, vmerrors.ErrPointerOverflow},
		{"shrink", program.PTR_SHRINK, *uint256.NewInt(4), memory.FatPointer{Offset: 5, MemoryPage: 2, Start: 100, Length: 6}, nil},
		{"shrink underflow", program.PTR_SHRINK, *uint256.NewInt(11), memory.FatPointer{}, vmerrors.ErrPointerOverflow},
		{"pack low bits", program.PTR_PACK, *uint256.NewInt(1), memory.FatPointer{}, vmerrors.ErrPointerOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := pointerArithmetic(tc.op, base, &tc.b)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, memory.FatPointerFromWord(&got))
		})
	}

	high := uint256.Int{0, 0, 7, 9}
	packed, err := pointerArithmetic(program.PTR_PACK, base, &high)
	require.NoError(t, err)
	require.Equal(t, uint256.Int{base[0], base[1], 7, 9}, packed)
}
