package vm

import (
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/program"
	"github.com/holiman/uint256"
)

type state struct {
	registers            [16]uint256.Int
	registerPointerFlags uint16
	flags                program.Flags

	current  *callframe
	previous []*callframe

	heaps             *memory.Heaps
	transactionNumber uint16
	// contextU128 is handed to the next far call and reset by it.
	contextU128 uint256.Int
}

var (
	mask128 = new(uint256.Int).Rsh(new(uint256.Int).SetAllOne(), 128)
	mask160 = new(uint256.Int).Rsh(new(uint256.Int).SetAllOne(), 96)
)

// useGas charges amount. On failure the frame's gas drops to zero.
func (s *state) useGas(amount uint32) bool {
	if s.current.gas >= amount {
		s.current.gas -= amount
		return true
	}
	s.current.gas = 0
	return false
}

// totalUnspentGas is the gas of every frame, including what near callers hold back.
func (s *state) totalUnspentGas() uint32 {
	total := s.current.gas
	for _, f := range s.previous {
		total += f.containedGas()
	}
	return total
}

func (s *state) setContextU128(v *uint256.Int) {
	s.contextU128.And(v, mask128)
}

func (s *state) clearRegisters() {
	s.registers = [16]uint256.Int{}
	s.registerPointerFlags = 0
}

type stateSnapshot struct {
	registers            [16]uint256.Int
	registerPointerFlags uint16
	flags                program.Flags
	bootloaderFrame      callframeSnapshot
	bootloaderHeaps      memory.HeapSnapshot
	transactionNumber    uint16
	contextU128          uint256.Int
}

func (s *state) snapshot() stateSnapshot {
	return stateSnapshot{
		registers:            s.registers,
		registerPointerFlags: s.registerPointerFlags,
		flags:                s.flags,
		bootloaderFrame:      s.current.snapshot(),
		bootloaderHeaps:      s.heaps.Snapshot(),
		transactionNumber:    s.transactionNumber,
		contextU128:          s.contextU128,
	}
}

func (s *state) rollback(snap stateSnapshot) {
	for _, id := range s.current.rollback(snap.bootloaderFrame) {
		s.heaps.Deallocate(id)
	}
	s.heaps.Rollback(snap.bootloaderHeaps)
	s.registers = snap.registers
	s.registerPointerFlags = snap.registerPointerFlags
	s.flags = snap.flags
	s.transactionNumber = snap.transactionNumber
	s.contextU128 = snap.contextU128
}
