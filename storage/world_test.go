package storage

import (
	"testing"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/config"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vm"
	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	bootloader = common.Uint64ToAddress(0x8001)
	contract   = common.Uint64ToAddress(0x12345)
)

const callContract = `
	add 1, r0, r2
	shl.swap 16, r2, r2
	add 0x2345, r2, r2
	add 20000, r0, r1
	shl.swap 192, r1, r1
	far_call r1, r2, fail
	ret r0
fail:
	revert r0
`

func newWorld(t *testing.T, opts ...Option) *LevelWorld {
	t.Helper()
	w, err := NewLevelWorld("", 4, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func mustAssemble(t *testing.T, src string) []byte {
	t.Helper()
	code, err := program.AssembleText(src)
	require.NoError(t, err)
	return code
}

func TestDeployAndDecommit(t *testing.T) {
	w := newWorld(t)
	code := mustAssemble(t, "add 1, r0, r1\nret r0")
	hash, err := w.Deploy(contract, code)
	require.NoError(t, err)
	require.Equal(t, byte(1), hash[0])
	require.Equal(t, byte(1), hash[3])

	key := contract.Word()
	info := w.ReadStorage(common.DeployerSystemContract, &key)
	require.False(t, info.IsWriteInitial)
	require.Equal(t, hash.Word(), info.Value)

	p := w.Decommit(hash)
	require.NotNil(t, p)
	require.Same(t, p, w.Decommit(hash))
	require.Equal(t, 1, w.CachedPrograms())
	require.Equal(t, code, w.DecommitCode(hash))

	// The constructor marker does not change what is loaded.
	ctor := hash
	ctor[1] = 1
	require.Same(t, p, w.Decommit(ctor))

	require.Nil(t, w.Decommit(common.Hash{1}))
	_, err = w.Code(common.Hash{1})
	require.ErrorIs(t, err, vmerrors.ErrUnknownCodeHash)
}

func TestDeployRejectsMisalignedCode(t *testing.T) {
	w := newWorld(t)
	_, err := w.Deploy(contract, make([]byte, 33))
	require.ErrorIs(t, err, vmerrors.ErrMisalignedBytecode)
}

func TestStorageRoundTrip(t *testing.T) {
	w := newWorld(t)
	key, value := uint256.NewInt(3), uint256.NewInt(99)
	require.True(t, w.ReadStorage(contract, key).IsWriteInitial)

	require.NoError(t, w.SetStorage(contract, key, value))
	slot := w.ReadStorage(contract, key)
	require.False(t, slot.IsWriteInitial)
	require.Equal(t, *value, slot.Value)

	require.Equal(t, uint32(0), w.CostOfWritingStorage(slot, value))
	require.Equal(t, uint32(DefaultWriteCost), w.CostOfWritingStorage(slot, uint256.NewInt(1)))

	require.NoError(t, w.SetStorage(contract, key, new(uint256.Int)))
	require.True(t, w.ReadStorage(contract, key).IsWriteInitial)
}

func TestFreeSlotsAndWriteCost(t *testing.T) {
	key := uint256.NewInt(5)
	w := newWorld(t, WithFreeSlot(contract, key), WithWriteCost(7))
	require.True(t, w.IsFreeStorageSlot(contract, key))
	require.False(t, w.IsFreeStorageSlot(contract, uint256.NewInt(6)))
	require.Equal(t, uint32(7), w.CostOfWritingStorage(worldlog.EmptySlot, key))
}

func TestRunAndApply(t *testing.T) {
	w := newWorld(t)
	_, err := w.Deploy(contract, mustAssemble(t, `
	add 7, r0, r1
	add 70, r0, r2
	sstore r1, r2
	ret r0
`))
	require.NoError(t, err)

	root, err := program.New(mustAssemble(t, callContract), false)
	require.NoError(t, err)
	machine, err := vm.New(bootloader, root, common.Address{}, nil, 1000000, config.DefaultSettings())
	require.NoError(t, err)

	end := machine.Run(w, nil)
	require.Equal(t, vm.ProgramFinished, end.Kind)
	outcome := machine.Outcome(end)
	require.Len(t, outcome.Storage, 1)
	require.Equal(t, int32(DefaultWriteCost), outcome.Pubdata)

	require.NoError(t, w.Apply(outcome.Storage))
	slots, err := w.Slots(contract)
	require.NoError(t, err)
	require.Equal(t, map[uint256.Int]uint256.Int{*uint256.NewInt(7): *uint256.NewInt(70)}, slots)

	// A second run sees the persisted value and pays nothing for an unchanged write.
	machine, err = vm.New(bootloader, root, common.Address{}, nil, 1000000, config.DefaultSettings())
	require.NoError(t, err)
	end = machine.Run(w, nil)
	require.Equal(t, vm.ProgramFinished, end.Kind)
	require.Empty(t, machine.Outcome(end).Storage)
	require.Equal(t, int32(0), machine.Outcome(end).Pubdata)
}

func TestPersistedAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	w, err := NewLevelWorld(dir, 0)
	require.NoError(t, err)
	hash, err := w.Deploy(contract, mustAssemble(t, "ret r0"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = NewLevelWorld(dir, 0, WithHooks())
	require.NoError(t, err)
	defer w.Close()
	p := w.Decommit(hash)
	require.NotNil(t, p)
	require.True(t, p.HooksEnabled())
}
