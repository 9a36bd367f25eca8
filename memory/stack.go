package memory

import (
	"github.com/holiman/uint256"
)

const (
	StackSlots    = 1 << 16
	dirtyAreaSize = StackSlots / 64
)

// Stack is the 65536-slot word stack of a frame. Each slot carries a pointer flag.
type Stack struct {
	pointerFlags [StackSlots / 64]uint64
	dirtyAreas   uint64
	slots        [StackSlots]uint256.Int
}

func (s *Stack) Get(slot uint16) uint256.Int {
	return s.slots[slot]
}

func (s *Stack) Set(slot uint16, value *uint256.Int) {
	s.dirtyAreas |= 1 << (slot / dirtyAreaSize)
	s.slots[slot] = *value
}

func (s *Stack) IsPointer(slot uint16) bool {
	return s.pointerFlags[slot/64]&(1<<(slot%64)) != 0
}

func (s *Stack) SetPointerFlag(slot uint16) {
	s.pointerFlags[slot/64] |= 1 << (slot % 64)
}

func (s *Stack) ClearPointerFlag(slot uint16) {
	s.pointerFlags[slot/64] &^= 1 << (slot % 64)
}

// Snapshot copies the stack for later restoration.
func (s *Stack) Snapshot() *Stack {
	c := *s
	return &c
}

func (s *Stack) Restore(from *Stack) {
	*s = *from
}

func (s *Stack) zero() {
	for area := 0; area < 64; area++ {
		if s.dirtyAreas&(1<<area) == 0 {
			continue
		}
		clear(s.slots[area*dirtyAreaSize : (area+1)*dirtyAreaSize])
	}
	s.dirtyAreas = 0
	s.pointerFlags = [StackSlots / 64]uint64{}
}

// StackPool recycles stacks of returned frames.
type StackPool struct {
	free []*Stack
}

// Get returns a zeroed stack.
func (p *StackPool) Get() *Stack {
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		s.zero()
		return s
	}
	return new(Stack)
}

func (p *StackPool) Recycle(s *Stack) {
	p.free = append(p.free, s)
}
