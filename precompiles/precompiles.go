package precompiles

import (
	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/holiman/uint256"
)

// Addresses are the low 16 bits of the system contract that issues precompile_call.
const (
	EcRecoverAddress       uint16 = common.EcrecoverAddress
	Sha256Address          uint16 = common.Sha256Address
	ECAddAddress           uint16 = common.Bn254AddAddress
	ECMulAddress           uint16 = common.Bn254MulAddress
	ECPairingAddress       uint16 = common.Bn254PairingAddress
	Secp256r1VerifyAddress uint16 = common.Secp256r1Address
	Keccak256Address       uint16 = common.KeccakAddress
)

// MaxOutputWords bounds how many words a precompile may produce.
const MaxOutputWords = 3

// Input is a read-only window into a heap.
type Input struct {
	heap   *memory.Heap
	Offset uint32
	Length uint32
}

func NewInput(heap *memory.Heap, offset, length uint32) Input {
	return Input{heap: heap, Offset: offset, Length: length}
}

// InWords reinterprets offset and length as counts of 32-byte words.
func (in Input) InWords() Input {
	return Input{heap: in.heap, Offset: in.Offset * 32, Length: in.Length * 32}
}

// Bytes copies the window out of the heap.
func (in Input) Bytes() []byte {
	if in.heap == nil {
		return make([]byte, in.Length)
	}
	return in.heap.ReadRange(in.Offset, in.Length)
}

// Word reads the i-th 32-byte word of the window. Reads past Length yield zero bytes.
func (in Input) Word(i uint32) uint256.Int {
	var buf [32]byte
	start := i * 32
	for j := uint32(0); j < 32 && start+j < in.Length; j++ {
		if in.heap != nil {
			buf[j] = in.heap.ByteAt(in.Offset + start + j)
		}
	}
	var w uint256.Int
	w.SetBytes32(buf[:])
	return w
}

// Output holds up to MaxOutputWords result words and the prover cycles spent.
type Output struct {
	Words     [MaxOutputWords]uint256.Int
	Len       uint32
	Cycles    worldlog.CycleStats
	HasCycles bool
}

func outputOf(words ...uint256.Int) Output {
	var out Output
	out.Len = uint32(copy(out.Words[:], words))
	return out
}

func (o Output) withCycles(kind worldlog.CycleKind, cycles uint32) Output {
	o.Cycles = worldlog.CycleStats{Kind: kind, Cycles: cycles}
	o.HasCycles = true
	return o
}

// Legacy dispatches to the built-in precompiles. Unknown addresses produce an empty output.
type Legacy struct{}

// CallPrecompile runs the precompile at address. data is the interpreted field of the call ABI.
func (Legacy) CallPrecompile(address uint16, data uint64, in Input) Output {
	switch address {
	case Keccak256Address:
		return keccak256(in)
	case Sha256Address:
		return sha256Rounds(in.InWords(), data)
	case EcRecoverAddress:
		return ecrecover(in.InWords())
	case Secp256r1VerifyAddress:
		return secp256r1Verify(in.InWords())
	case ECAddAddress:
		return ecAdd(in.InWords())
	case ECMulAddress:
		return ecMul(in.InWords())
	case ECPairingAddress:
		return ecPairing(in.InWords(), data)
	}
	log.Debug(log.Precompiles, "unknown precompile", "address", address)
	return Output{}
}
