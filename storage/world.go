package storage

import (
	"fmt"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/precompiles"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/colorfulnotion/eravm/worldlog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
)

const (
	DefaultProgramCacheSize = 256
	// DefaultWriteCost is the pubdata price of changing a slot.
	DefaultWriteCost = 50
)

// LevelWorld is a World kept in LevelDB. Decoded programs are cached by code hash.
// Storage errors cannot be reported through the World interface; they are logged and the
// slot reads as empty.
type LevelWorld struct {
	precompiles.Legacy

	store     *PersistenceStore
	programs  *lru.Cache[common.Hash, *program.Program]
	hooks     bool
	writeCost uint32
	freeSlots map[worldlog.StorageKey]struct{}
}

type Option func(*LevelWorld)

// WithHooks decodes every program with hooks enabled.
func WithHooks() Option {
	return func(w *LevelWorld) { w.hooks = true }
}

// WithWriteCost overrides the pubdata price of a slot change.
func WithWriteCost(cost uint32) Option {
	return func(w *LevelWorld) { w.writeCost = cost }
}

// WithFreeSlot marks a slot that costs neither ergs nor pubdata.
func WithFreeSlot(address common.Address, key *uint256.Int) Option {
	return func(w *LevelWorld) {
		w.freeSlots[worldlog.StorageKey{Address: address, Key: *key}] = struct{}{}
	}
}

// NewLevelWorld opens the world database at path; an empty path is in memory.
func NewLevelWorld(path string, cacheSize int, opts ...Option) (*LevelWorld, error) {
	store, err := NewPersistenceStore(path)
	if err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		cacheSize = DefaultProgramCacheSize
	}
	cache, err := lru.New[common.Hash, *program.Program](cacheSize)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("program cache: %w", err)
	}
	w := &LevelWorld{
		store:     store,
		programs:  cache,
		writeCost: DefaultWriteCost,
		freeSlots: make(map[worldlog.StorageKey]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	log.Debug(log.Storage, "world opened", "path", path, "cache", cacheSize)
	return w, nil
}

func (w *LevelWorld) Close() error {
	w.programs.Purge()
	return w.store.Close()
}

// CodeHash is the versioned hash under which bytecode is deployed: byte 0 is the EraVM
// format, byte 1 marks a constructed contract, bytes 2-3 hold the length in words.
func CodeHash(bytecode []byte) common.Hash {
	h := common.Keccak256(bytecode)
	words := len(bytecode) / program.WordSize
	h[0], h[1] = 1, 0
	h[2], h[3] = byte(words>>8), byte(words)
	return h
}

// Deploy stores bytecode and points the deployer's code info for address at it.
func (w *LevelWorld) Deploy(address common.Address, bytecode []byte) (common.Hash, error) {
	if len(bytecode)%program.WordSize != 0 {
		return common.Hash{}, fmt.Errorf("%w: %d bytes", vmerrors.ErrMisalignedBytecode, len(bytecode))
	}
	if len(bytecode)/program.WordSize > 0xffff {
		return common.Hash{}, fmt.Errorf("%w: %d words", vmerrors.ErrProgramTooLarge, len(bytecode)/program.WordSize)
	}
	hash := CodeHash(bytecode)
	slot := address.Word()
	batch := new(leveldb.Batch)
	batch.Put(codeKey(hash), bytecode)
	batch.Put(storageKey(common.DeployerSystemContract, slot.Bytes32()), hash.Bytes())
	if err := w.store.Write(batch); err != nil {
		return common.Hash{}, fmt.Errorf("deploy %s: %w", address, err)
	}
	w.programs.Remove(hash)
	log.Info(log.Storage, "deployed", "address", address, "hash", hash, "words", len(bytecode)/program.WordSize)
	return hash, nil
}

// SetStorage writes one slot directly. Zero deletes it.
func (w *LevelWorld) SetStorage(address common.Address, key, value *uint256.Int) error {
	k := storageKey(address, key.Bytes32())
	if value.IsZero() {
		return w.store.Delete(k)
	}
	v := value.Bytes32()
	return w.store.Put(k, v[:])
}

// Apply persists the storage changes of a finished run in one batch.
func (w *LevelWorld) Apply(changes map[worldlog.StorageKey]worldlog.StorageChange) error {
	batch := new(leveldb.Batch)
	for _, sk := range worldlog.SortedKeys(changes) {
		k := storageKey(sk.Address, sk.Key.Bytes32())
		after := changes[sk].After
		if after.IsZero() {
			batch.Delete(k)
			continue
		}
		v := after.Bytes32()
		batch.Put(k, v[:])
	}
	if err := w.store.Write(batch); err != nil {
		return fmt.Errorf("apply %d changes: %w", len(changes), err)
	}
	log.Debug(log.Storage, "applied", "changes", len(changes))
	return nil
}

// Slots lists every stored slot of address.
func (w *LevelWorld) Slots(address common.Address) (map[uint256.Int]uint256.Int, error) {
	prefix := append([]byte{prefixStorage}, address.Bytes()...)
	pairs, err := w.store.GetWithPrefix(prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[uint256.Int]uint256.Int, len(pairs))
	for _, kv := range pairs {
		var k, v uint256.Int
		k.SetBytes(kv[0][len(prefix):])
		v.SetBytes(kv[1])
		out[k] = v
	}
	return out, nil
}

func (w *LevelWorld) ReadStorage(contract common.Address, key *uint256.Int) worldlog.StorageSlot {
	data, ok, err := w.store.Get(storageKey(contract, key.Bytes32()))
	if err != nil {
		log.Error(log.Storage, "read storage", "address", contract, "key", key.Hex(), "err", err)
		return worldlog.EmptySlot
	}
	if !ok {
		return worldlog.EmptySlot
	}
	var slot worldlog.StorageSlot
	slot.Value.SetBytes(data)
	return slot
}

func (w *LevelWorld) CostOfWritingStorage(initial worldlog.StorageSlot, newValue *uint256.Int) uint32 {
	if initial.Value.Eq(newValue) {
		return 0
	}
	return w.writeCost
}

func (w *LevelWorld) IsFreeStorageSlot(contract common.Address, key *uint256.Int) bool {
	_, ok := w.freeSlots[worldlog.StorageKey{Address: contract, Key: *key}]
	return ok
}

// Code returns the bytecode stored under hash.
func (w *LevelWorld) Code(hash common.Hash) ([]byte, error) {
	data, ok, err := w.store.Get(codeKey(hash))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", vmerrors.ErrUnknownCodeHash, hash)
	}
	return data, nil
}

// Decommit loads and decodes the program for hash. The constructed marker in byte 1 is
// ignored so constructor and deployed code share one entry.
func (w *LevelWorld) Decommit(hash common.Hash) *program.Program {
	hash[1] = 0
	if p, ok := w.programs.Get(hash); ok {
		return p
	}
	code, err := w.Code(hash)
	if err != nil {
		log.Warn(log.Storage, "decommit", "hash", hash, "err", err)
		return nil
	}
	p, err := program.New(code, w.hooks)
	if err != nil {
		log.Warn(log.Storage, "decode", "hash", hash, "err", err)
		return nil
	}
	w.programs.Add(hash, p)
	return p
}

func (w *LevelWorld) DecommitCode(hash common.Hash) []byte {
	hash[1] = 0
	code, err := w.Code(hash)
	if err != nil {
		log.Warn(log.Storage, "decommit code", "hash", hash, "err", err)
		return nil
	}
	return code
}

// CachedPrograms is the number of decoded programs held in memory.
func (w *LevelWorld) CachedPrograms() int {
	return w.programs.Len()
}
