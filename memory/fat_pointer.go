package memory

import (
	"github.com/holiman/uint256"
)

// FatPointer references a region of a heap. It lives in the low 128 bits of a word:
// offset and memory page in limb 0, start and length in limb 1.
type FatPointer struct {
	Offset     uint32
	MemoryPage HeapID
	Start      uint32
	Length     uint32
}

// FatPointerFromWord reads the pointer fields of w. Bits above 128 are ignored.
func FatPointerFromWord(w *uint256.Int) FatPointer {
	return FatPointer{
		Offset:     uint32(w[0]),
		MemoryPage: HeapID(w[0] >> 32),
		Start:      uint32(w[1]),
		Length:     uint32(w[1] >> 32),
	}
}

// Word returns the pointer as a word with zero upper bits.
func (p FatPointer) Word() uint256.Int {
	var w uint256.Int
	p.WriteTo(&w)
	return w
}

// WriteTo replaces the low 128 bits of w with the pointer, keeping the upper bits.
func (p FatPointer) WriteTo(w *uint256.Int) {
	w[0] = uint64(p.Offset) | uint64(p.MemoryPage)<<32
	w[1] = uint64(p.Start) | uint64(p.Length)<<32
}

// Narrow moves the cursor into the start so the pointer begins at its current position.
func (p *FatPointer) Narrow() {
	p.Start += p.Offset
	p.Length -= p.Offset
	p.Offset = 0
}

// EraseMetadata clears the memory page and start of a pointer word, leaving offset and length.
func EraseMetadata(w *uint256.Int) {
	w[0] &= 0x00000000ffffffff
	w[1] &= 0xffffffff00000000
}
