package storage

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/eravm/common"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes of the world database.
const (
	prefixCode    = 'c' // code hash -> bytecode
	prefixStorage = 's' // address ++ key -> value
)

// PersistenceStore is the raw key-value layer under LevelWorld.
// LevelDB handles its own synchronization.
type PersistenceStore struct {
	db *leveldb.DB
}

// NewPersistenceStore opens or creates a LevelDB database at path. An empty path keeps
// everything in memory.
func NewPersistenceStore(path string) (*PersistenceStore, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open database at %q: %w", path, err)
	}
	return &PersistenceStore{db: db}, nil
}

// Get returns (nil, false, nil) when the key is absent.
func (ps *PersistenceStore) Get(key []byte) ([]byte, bool, error) {
	data, err := ps.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %x: %w", key, err)
	}
	return data, true, nil
}

func (ps *PersistenceStore) Put(key, value []byte) error {
	return ps.db.Put(key, value, nil)
}

func (ps *PersistenceStore) Delete(key []byte) error {
	return ps.db.Delete(key, nil)
}

// Write applies a batch atomically.
func (ps *PersistenceStore) Write(batch *leveldb.Batch) error {
	return ps.db.Write(batch, nil)
}

// GetWithPrefix returns copies of every pair under prefix in key order.
func (ps *PersistenceStore) GetWithPrefix(prefix []byte) ([][2][]byte, error) {
	iter := ps.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var results [][2][]byte
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		results = append(results, [2][]byte{key, value})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate %x: %w", prefix, err)
	}
	return results, nil
}

func (ps *PersistenceStore) Close() error {
	return ps.db.Close()
}

func codeKey(hash common.Hash) []byte {
	return append([]byte{prefixCode}, hash.Bytes()...)
}

func storageKey(address common.Address, key [32]byte) []byte {
	out := make([]byte, 0, 1+20+32)
	out = append(out, prefixStorage)
	out = append(out, address.Bytes()...)
	return append(out, key[:]...)
}
