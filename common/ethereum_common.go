package common

import (
	"encoding/json"

	ethereumCommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Hash is a custom type based on Ethereum's common.Hash
type Hash ethereumCommon.Hash

// Address is a custom type based on Ethereum's common.Address
type Address ethereumCommon.Address

// Bytes returns the byte representation of the hash.
func (h Hash) Bytes() []byte {
	return ethereumCommon.Hash(h).Bytes()
}

// String returns the string representation of the hash.
func (h Hash) String() string {
	return ethereumCommon.Hash(h).String()
}

// Hex returns the hexadecimal string representation of the hash.
func (h Hash) Hex() string {
	return ethereumCommon.Hash(h).Hex()
}

// Word returns the hash as a big-endian 256-bit word.
func (h Hash) Word() uint256.Int {
	var w uint256.Int
	w.SetBytes32(h[:])
	return w
}

// BytesToHash converts a byte slice to a Hash.
func BytesToHash(b []byte) Hash {
	return Hash(ethereumCommon.BytesToHash(b))
}

// WordToHash converts a 256-bit word to its big-endian Hash.
func WordToHash(w *uint256.Int) Hash {
	return Hash(w.Bytes32())
}

// HexToHash converts a hexadecimal string to a Hash.
func HexToHash(s string) Hash {
	return Hash(ethereumCommon.HexToHash(s))
}

// MarshalJSON custom marshaler to convert Hash to hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON custom unmarshaler to handle hex strings for Hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	*h = HexToHash(hexStr)
	return nil
}

// Address methods

// Bytes returns the byte representation of the address.
func (a Address) Bytes() []byte {
	return ethereumCommon.Address(a).Bytes()
}

// String returns the string representation of the address.
func (a Address) String() string {
	return ethereumCommon.Address(a).String()
}

// Hex returns the hexadecimal string representation of the address.
func (a Address) Hex() string {
	return ethereumCommon.Address(a).Hex()
}

// Word zero-extends the address into a 256-bit word.
func (a Address) Word() uint256.Int {
	var w uint256.Int
	w.SetBytes20(a[:])
	return w
}

// IsKernel reports whether the address lies in the system range below 2^16.
func (a Address) IsKernel() bool {
	for _, b := range a[:18] {
		if b != 0 {
			return false
		}
	}
	return true
}

// HexToAddress converts a hexadecimal string to an Address.
func HexToAddress(s string) Address {
	return Address(ethereumCommon.HexToAddress(s))
}

// BytesToAddress converts a byte slice to an Address.
func BytesToAddress(b []byte) Address {
	return Address(ethereumCommon.BytesToAddress(b))
}

// WordToAddress keeps the low 160 bits of w.
func WordToAddress(w *uint256.Int) Address {
	b := w.Bytes32()
	return BytesToAddress(b[12:])
}

// Uint64ToAddress places v in the low bytes of an address.
func Uint64ToAddress(v uint64) Address {
	var w uint256.Int
	w.SetUint64(v)
	return WordToAddress(&w)
}

// MarshalJSON custom marshaler to convert Address to hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Hex())
}

// UnmarshalJSON custom unmarshaler to handle hex strings for Address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	*a = HexToAddress(hexStr)
	return nil
}

// MarshalYAML renders the hash as a hex string.
func (h Hash) MarshalYAML() (interface{}, error) {
	return h.Hex(), nil
}

// UnmarshalYAML parses a hex string into the hash.
func (h *Hash) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var hexStr string
	if err := unmarshal(&hexStr); err != nil {
		return err
	}
	*h = HexToHash(hexStr)
	return nil
}
