package common

import (
	"math/bits"

	"github.com/holiman/uint256"
)

// U32Max is the largest value of a 32-bit field inside a word.
const U32Max = uint64(^uint32(0))

// LowU32 returns the least significant 32 bits of w.
func LowU32(w *uint256.Int) uint32 {
	return uint32(w[0])
}

// LowU16 returns the least significant 16 bits of w.
func LowU16(w *uint256.Int) uint16 {
	return uint16(w[0])
}

// FullMul returns the 512-bit product of x and y as (low, high) words.
func FullMul(x, y *uint256.Int) (lo, hi uint256.Int) {
	var res [8]uint64
	for i := 0; i < 4; i++ {
		var carry uint64
		for j := 0; j < 4; j++ {
			h, l := bits.Mul64(x[i], y[j])
			var c uint64
			l, c = bits.Add64(l, res[i+j], 0)
			h += c
			l, c = bits.Add64(l, carry, 0)
			h += c
			res[i+j] = l
			carry = h
		}
		res[i+4] = carry
	}
	copy(lo[:], res[:4])
	copy(hi[:], res[4:])
	return lo, hi
}

// RotateLeft rotates x left by n%256 bits.
func RotateLeft(x *uint256.Int, n uint) uint256.Int {
	n %= 256
	var l, r uint256.Int
	l.Lsh(x, n)
	r.Rsh(x, 256-n)
	l.Or(&l, &r)
	return l
}

// RotateRight rotates x right by n%256 bits.
func RotateRight(x *uint256.Int, n uint) uint256.Int {
	n %= 256
	var l, r uint256.Int
	r.Rsh(x, n)
	l.Lsh(x, 256-n)
	r.Or(&r, &l)
	return r
}

// WordFromBytes reads up to 32 big-endian bytes, right-padding short input with zeros.
func WordFromBytes(b []byte) uint256.Int {
	var buf [32]byte
	copy(buf[:], b)
	var w uint256.Int
	w.SetBytes32(buf[:])
	return w
}
