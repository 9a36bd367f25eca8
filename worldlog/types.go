package worldlog

import (
	"bytes"

	"github.com/colorfulnotion/eravm/common"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// StorageKey identifies one slot of one contract.
type StorageKey struct {
	Address common.Address
	Key     uint256.Int
}

func (k StorageKey) Compare(other StorageKey) int {
	if c := bytes.Compare(k.Address.Bytes(), other.Address.Bytes()); c != 0 {
		return c
	}
	return k.Key.Cmp(&other.Key)
}

// StorageSlot is what the World knows about a slot before the run touched it.
type StorageSlot struct {
	Value uint256.Int
	// IsWriteInitial is true when the slot has never been written in persistent storage.
	IsWriteInitial bool
}

// EmptySlot is a slot that was never written.
var EmptySlot = StorageSlot{IsWriteInitial: true}

// StorageChange is the net effect of a run on one slot.
type StorageChange struct {
	Before    uint256.Int `json:"before"`
	After     uint256.Int `json:"after"`
	IsInitial bool        `json:"is_initial"`
}

// Event is emitted only by the event writer system contract, so it carries no address.
type Event struct {
	Key      uint256.Int `json:"key"`
	Value    uint256.Int `json:"value"`
	IsFirst  bool        `json:"is_first"`
	ShardID  uint8       `json:"shard_id"`
	TxNumber uint16      `json:"tx_number"`
}

type L2ToL1Log struct {
	Key       uint256.Int    `json:"key"`
	Value     uint256.Int    `json:"value"`
	IsService bool           `json:"is_service"`
	Address   common.Address `json:"address"`
	ShardID   uint8          `json:"shard_id"`
	TxNumber  uint16         `json:"tx_number"`
}

// Storage is the read-only view of persistent storage the log falls back to.
type Storage interface {
	ReadStorage(contract common.Address, key *uint256.Int) StorageSlot
	// CostOfWritingStorage prices a write in pubdata given the slot's state before the run.
	CostOfWritingStorage(initial StorageSlot, newValue *uint256.Int) uint32
	// IsFreeStorageSlot reports slots that cost neither ergs nor pubdata.
	IsFreeStorageSlot(contract common.Address, key *uint256.Int) bool
}

type CycleKind uint8

const (
	CyclesKeccak256 CycleKind = iota
	CyclesSha256
	CyclesEcRecover
	CyclesSecp256r1Verify
	CyclesDecommit
	CyclesStorageRead
	CyclesStorageWrite
	CyclesECAdd
	CyclesECMul
	CyclesECPairing
)

var cycleKindNames = [...]string{"keccak256", "sha256", "ecrecover", "secp256r1_verify", "decommit", "storage_read", "storage_write", "ecadd", "ecmul", "ecpairing"}

func (k CycleKind) String() string {
	if int(k) < len(cycleKindNames) {
		return cycleKindNames[k]
	}
	return "unknown"
}

// CycleStats reports prover work that is not visible in the instruction count.
type CycleStats struct {
	Kind   CycleKind
	Cycles uint32
}

type CycleObserver interface {
	OnExtraProverCycles(stats CycleStats)
}

// WriteKind classifies a storage write for refund purposes.
type WriteKind uint8

const (
	// WriteInitial is the first access of the slot in this log.
	WriteInitial WriteKind = iota
	// WriteAfterRead is the first write to a slot that was already read.
	WriteAfterRead
	// WriteRepeated is any later write.
	WriteRepeated
	// WriteFree targets a slot the World declares free.
	WriteFree
)

func (k WriteKind) String() string {
	switch k {
	case WriteInitial:
		return "initial"
	case WriteAfterRead:
		return "after_read"
	case WriteRepeated:
		return "repeated"
	case WriteFree:
		return "free"
	}
	return "unknown"
}

// SortedKeys returns the keys of a storage map in (address, key) order.
func SortedKeys[V any](m map[StorageKey]V) []StorageKey {
	keys := maps.Keys(m)
	slices.SortFunc(keys, StorageKey.Compare)
	return keys
}
