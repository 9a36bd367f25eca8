package common

import (
	"golang.org/x/crypto/sha3"
)

func Keccak256(data []byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	h := hash.Sum(nil)
	return BytesToHash(h)
}

// PadToMultipleOfN right-pads input with zeros to a multiple of n bytes.
func PadToMultipleOfN(input []byte, n int) []byte {
	rem := len(input) % n
	if rem == 0 {
		return input
	}
	out := make([]byte, len(input)+n-rem)
	copy(out, input)
	return out
}
