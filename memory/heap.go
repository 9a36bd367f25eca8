package memory

import (
	"github.com/holiman/uint256"
)

// HeapID indexes a heap in the Heaps arena.
type HeapID uint32

const (
	// HeapCalldata holds the calldata of the outermost frame.
	HeapCalldata HeapID = 1
	// HeapFirst and HeapFirstAux are the heaps of the outermost frame. Their writes can be rolled back.
	HeapFirst    HeapID = 2
	HeapFirstAux HeapID = 3
)

const (
	PageSize  = 1 << 12
	pageShift = 12
)

type page [PageSize]byte

// Heap is a sparse byte space made of lazily allocated pages. Missing pages read as zero.
type Heap struct {
	pages []*page
}

func addressToPageOffset(address uint32) (int, int) {
	return int(address >> pageShift), int(address & (PageSize - 1))
}

func (h *Heap) page(idx int) *page {
	if idx < len(h.pages) {
		return h.pages[idx]
	}
	return nil
}

func (h *Heap) getOrInsertPage(idx int, pool *pagePool) *page {
	if idx >= len(h.pages) {
		grown := make([]*page, idx+1)
		copy(grown, h.pages)
		h.pages = grown
	}
	if h.pages[idx] == nil {
		h.pages[idx] = pool.allocate()
	}
	return h.pages[idx]
}

// PageCount is the number of pages backing the heap, allocated or not.
func (h *Heap) PageCount() int {
	return len(h.pages)
}

// ReadU256 reads the big-endian word starting at address.
func (h *Heap) ReadU256(address uint32) uint256.Int {
	var buf [32]byte
	h.copyOut(address, buf[:])
	var w uint256.Int
	w.SetBytes32(buf[:])
	return w
}

// ReadU256Partially reads bytes [start, end) into the most significant end of a word.
func (h *Heap) ReadU256Partially(start, end uint32) uint256.Int {
	var buf [32]byte
	if end > start {
		n := end - start
		if n > 32 {
			n = 32
		}
		h.copyOut(start, buf[:n])
	}
	var w uint256.Int
	w.SetBytes32(buf[:])
	return w
}

// ReadRange returns length bytes starting at start.
func (h *Heap) ReadRange(start, length uint32) []byte {
	out := make([]byte, length)
	h.copyOut(start, out)
	return out
}

// ByteAt returns the byte at address; unallocated pages read as zero.
func (h *Heap) ByteAt(address uint32) byte {
	idx, off := addressToPageOffset(address)
	if p := h.page(idx); p != nil {
		return p[off]
	}
	return 0
}

func (h *Heap) copyOut(address uint32, dst []byte) {
	idx, off := addressToPageOffset(address)
	for done := 0; done < len(dst); {
		n := len(dst) - done
		if n > PageSize-off {
			n = PageSize - off
		}
		if p := h.page(idx); p != nil {
			copy(dst[done:done+n], p[off:off+n])
		}
		done += n
		idx++
		off = 0
	}
}

func (h *Heap) writeU256(address uint32, value *uint256.Int, pool *pagePool) {
	buf := value.Bytes32()
	idx, off := addressToPageOffset(address)
	p := h.getOrInsertPage(idx, pool)
	n := copy(p[off:], buf[:])
	if n < 32 {
		next := h.getOrInsertPage(idx+1, pool)
		copy(next[:], buf[n:])
	}
}

func heapFromBytes(content []byte, pool *pagePool) Heap {
	var h Heap
	for i := 0; i*PageSize < len(content); i++ {
		end := (i + 1) * PageSize
		if end > len(content) {
			end = len(content)
		}
		p := h.getOrInsertPage(i, pool)
		copy(p[:], content[i*PageSize:end])
	}
	return h
}

// Equal compares contents, treating missing pages as zero.
func (h *Heap) Equal(other *Heap) bool {
	n := len(h.pages)
	if len(other.pages) > n {
		n = len(other.pages)
	}
	var zero page
	for i := 0; i < n; i++ {
		a, b := h.page(i), other.page(i)
		if a == nil {
			a = &zero
		}
		if b == nil {
			b = &zero
		}
		if *a != *b {
			return false
		}
	}
	return true
}

type pagePool struct {
	free []*page
}

func (pp *pagePool) allocate() *page {
	if n := len(pp.free); n > 0 {
		p := pp.free[n-1]
		pp.free = pp.free[:n-1]
		*p = page{}
		return p
	}
	return new(page)
}

func (pp *pagePool) recycle(p *page) {
	pp.free = append(pp.free, p)
}
