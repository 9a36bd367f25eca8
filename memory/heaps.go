package memory

import (
	"fmt"

	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/holiman/uint256"
)

type heapWrite struct {
	address uint32
	prev    uint256.Int
}

// Heaps is the arena of all heaps of a run. Index 0 is unused.
type Heaps struct {
	heaps       []Heap
	pool        pagePool
	heapHistory []heapWrite
	auxHistory  []heapWrite
}

// HeapSnapshot marks a point in the rollback history of the first heaps.
type HeapSnapshot struct {
	Heap int
	Aux  int
}

// NewHeaps creates the arena with the calldata heap and the two heaps of the outermost frame.
func NewHeaps(calldata []byte) *Heaps {
	hs := &Heaps{}
	hs.heaps = []Heap{{}, heapFromBytes(calldata, &hs.pool), {}, {}}
	return hs
}

func (hs *Heaps) Allocate() HeapID {
	return hs.AllocateWithContent(nil)
}

func (hs *Heaps) AllocateWithContent(content []byte) HeapID {
	id := HeapID(len(hs.heaps))
	hs.heaps = append(hs.heaps, heapFromBytes(content, &hs.pool))
	return id
}

// Deallocate releases the pages of a heap to the pool. The id stays valid and reads as zero.
func (hs *Heaps) Deallocate(id HeapID) {
	h := &hs.heaps[id]
	for _, p := range h.pages {
		if p != nil {
			hs.pool.recycle(p)
		}
	}
	h.pages = nil
}

// Get returns the heap with the given id. Unknown ids read as an empty heap.
func (hs *Heaps) Get(id HeapID) *Heap {
	if int(id) < len(hs.heaps) {
		return &hs.heaps[id]
	}
	return &Heap{}
}

func (hs *Heaps) Len() int {
	return len(hs.heaps)
}

// WriteU256 writes a big-endian word, recording the previous value for the first heaps.
func (hs *Heaps) WriteU256(id HeapID, address uint32, value *uint256.Int) {
	switch id {
	case HeapFirst:
		hs.heapHistory = append(hs.heapHistory, heapWrite{address, hs.heaps[id].ReadU256(address)})
	case HeapFirstAux:
		hs.auxHistory = append(hs.auxHistory, heapWrite{address, hs.heaps[id].ReadU256(address)})
	}
	hs.heaps[id].writeU256(address, value, &hs.pool)
}

func (hs *Heaps) Snapshot() HeapSnapshot {
	return HeapSnapshot{Heap: len(hs.heapHistory), Aux: len(hs.auxHistory)}
}

// Rollback undoes writes to the first heaps made after s, newest first.
func (hs *Heaps) Rollback(s HeapSnapshot) {
	for i := len(hs.heapHistory) - 1; i >= s.Heap; i-- {
		w := hs.heapHistory[i]
		hs.heaps[HeapFirst].writeU256(w.address, &w.prev, &hs.pool)
	}
	hs.heapHistory = hs.heapHistory[:s.Heap]
	for i := len(hs.auxHistory) - 1; i >= s.Aux; i-- {
		w := hs.auxHistory[i]
		hs.heaps[HeapFirstAux].writeU256(w.address, &w.prev, &hs.pool)
	}
	hs.auxHistory = hs.auxHistory[:s.Aux]
}

func (hs *Heaps) DeleteHistory() {
	hs.heapHistory = hs.heapHistory[:0]
	hs.auxHistory = hs.auxHistory[:0]
}

// Bounds limits where heap words may be accessed.
type Bounds struct {
	// MaxHeapSize is the exclusive end of addressable heap bytes.
	MaxHeapSize uint32
	// ProtectedBound is the end of the low range only kernel frames may write.
	ProtectedBound uint32
}

// Check validates a 32-byte access at the address held in pointer.
func (b Bounds) Check(pointer *uint256.Int, write, kernel bool) error {
	if !pointer.IsUint64() || uint64(b.MaxHeapSize) < 32 || pointer[0] > uint64(b.MaxHeapSize)-32 {
		return fmt.Errorf("%w: address %s", vmerrors.ErrHeapOutOfBounds, pointer.Hex())
	}
	if write && !kernel && uint32(pointer[0]) < b.ProtectedBound {
		return fmt.Errorf("%w: address %d below %d", vmerrors.ErrProtectedHeap, pointer[0], b.ProtectedBound)
	}
	return nil
}
