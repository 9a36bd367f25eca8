package worldlog

import (
	"fmt"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/config"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// WorldDiff buffers every side effect of a run: storage and transient writes, events,
// L2 to L1 messages, decommitted hashes and the per-slot cost bookkeeping.
type WorldDiff struct {
	costs config.CostTable

	// Rolled back with frames and external snapshots.
	storageChanges   *RollbackableMap[StorageKey, uint256.Int]
	paidChanges      *RollbackableMap[StorageKey, uint32]
	transientChanges *RollbackableMap[StorageKey, uint256.Int]
	events           RollbackableLog[Event]
	l2ToL1Logs       RollbackableLog[L2ToL1Log]
	pubdata          RollbackablePod[int32]

	// Rolled back only with external snapshots.
	storageRefunds    RollbackableLog[uint32]
	pubdataCosts      RollbackableLog[int32]
	decommittedHashes *RollbackableMap[common.Hash, bool]
	readSlots         *RollbackableSet[StorageKey]
	writtenSlots      *RollbackableSet[StorageKey]

	// Never rolled back.
	initialValues map[StorageKey]StorageSlot

	held    []uint64
	nextSeq uint64
}

// Snapshot marks the lengths of the frame-scoped records.
// Snapshots from Snapshot must be released with Rollback or Forget in LIFO order.
type Snapshot struct {
	seq              uint64
	storageChanges   int
	paidChanges      int
	transientChanges int
	events           int
	l2ToL1Logs       int
	pubdata          int32

	decommittedHashes int
	storageRefunds    int
	pubdataCosts      int
}

// ExternalSnapshot captures the whole diff, including the warm slot sets.
type ExternalSnapshot struct {
	internal     Snapshot
	readSlots    int
	writtenSlots int
	held         []uint64
}

func New(costs config.CostTable) *WorldDiff {
	return &WorldDiff{
		costs:             costs,
		storageChanges:    NewRollbackableMap[StorageKey, uint256.Int](),
		paidChanges:       NewRollbackableMap[StorageKey, uint32](),
		transientChanges:  NewRollbackableMap[StorageKey, uint256.Int](),
		decommittedHashes: NewRollbackableMap[common.Hash, bool](),
		readSlots:         NewRollbackableSet[StorageKey](),
		writtenSlots:      NewRollbackableSet[StorageKey](),
		initialValues:     make(map[StorageKey]StorageSlot),
		nextSeq:           1,
	}
}

// ReadStorage returns the slot value and the refund earned by a warm read. The refund is logged.
func (d *WorldDiff) ReadStorage(world Storage, obs CycleObserver, contract common.Address, key *uint256.Int) (uint256.Int, uint32) {
	value, refund := d.readStorage(world, obs, contract, key)
	d.storageRefunds.Push(refund)
	return value, refund
}

// ReadStorageWithoutRefund reads a slot on behalf of a far call, which earns no refund.
func (d *WorldDiff) ReadStorageWithoutRefund(world Storage, obs CycleObserver, contract common.Address, key *uint256.Int) uint256.Int {
	value, _ := d.readStorage(world, obs, contract, key)
	return value
}

func (d *WorldDiff) readStorage(world Storage, obs CycleObserver, contract common.Address, key *uint256.Int) (uint256.Int, uint32) {
	sk := StorageKey{Address: contract, Key: *key}
	value, ok := d.storageChanges.Get(sk)
	if !ok {
		value = world.ReadStorage(contract, key).Value
	}

	newlyAdded := d.readSlots.Add(sk)
	if newlyAdded && obs != nil {
		obs.OnExtraProverCycles(CycleStats{Kind: CyclesStorageRead, Cycles: 1})
	}

	var refund uint32
	if !newlyAdded || world.IsFreeStorageSlot(contract, key) {
		refund = d.costs.WarmReadRefund()
	}
	d.pubdataCosts.Push(0)
	return value, refund
}

// WriteStorage buffers a write and returns its ergs refund and classification.
// Pubdata is charged as the difference between the new write cost and what the slot already paid.
func (d *WorldDiff) WriteStorage(world Storage, obs CycleObserver, contract common.Address, key *uint256.Int, value *uint256.Int) (uint32, WriteKind) {
	sk := StorageKey{Address: contract, Key: *key}
	d.storageChanges.Insert(sk, *value)

	initial, ok := d.initialValues[sk]
	if !ok {
		initial = world.ReadStorage(contract, key)
		d.initialValues[sk] = initial
	}

	if world.IsFreeStorageSlot(contract, key) {
		if d.writtenSlots.Add(sk) && obs != nil {
			obs.OnExtraProverCycles(CycleStats{Kind: CyclesStorageWrite, Cycles: 1})
		}
		d.readSlots.Add(sk)
		refund := d.costs.WarmWriteRefund()
		d.storageRefunds.Push(refund)
		d.pubdataCosts.Push(0)
		return refund, WriteFree
	}

	updateCost := world.CostOfWritingStorage(initial, value)
	prepaid, _ := d.paidChanges.Insert(sk, updateCost)

	var refund uint32
	var kind WriteKind
	if d.writtenSlots.Add(sk) {
		if obs != nil {
			obs.OnExtraProverCycles(CycleStats{Kind: CyclesStorageWrite, Cycles: 1})
		}
		if d.readSlots.Add(sk) {
			kind = WriteInitial
		} else {
			kind = WriteAfterRead
			refund = d.costs.ColdWriteAfterWarmReadRefund()
		}
	} else {
		kind = WriteRepeated
		refund = d.costs.WarmWriteRefund()
	}

	pubdataCost := int32(updateCost) - int32(prepaid)
	d.pubdata.Value += pubdataCost
	d.storageRefunds.Push(refund)
	d.pubdataCosts.Push(pubdataCost)
	return refund, kind
}

func (d *WorldDiff) Pubdata() int32 {
	return d.pubdata.Value
}

func (d *WorldDiff) AddPubdata(delta int32) {
	d.pubdata.Value += delta
}

// StorageRefunds lists the refund of every storage access in order.
func (d *WorldDiff) StorageRefunds() []uint32 {
	return d.storageRefunds.Entries()
}

// PubdataCosts lists the pubdata delta of every storage access in order.
func (d *WorldDiff) PubdataCosts() []int32 {
	return d.pubdataCosts.Entries()
}

// StorageState is the current value of every written slot. Callers must not modify it.
func (d *WorldDiff) StorageState() map[StorageKey]uint256.Int {
	return d.storageChanges.Map()
}

// StorageValue returns the value written to a slot during the run, if any.
func (d *WorldDiff) StorageValue(contract common.Address, key *uint256.Int) (uint256.Int, bool) {
	return d.storageChanges.Get(StorageKey{Address: contract, Key: *key})
}

// StorageChanges returns the slots whose current value differs from the value before the run.
func (d *WorldDiff) StorageChanges() map[StorageKey]StorageChange {
	out := make(map[StorageKey]StorageChange)
	for key, value := range d.storageChanges.Map() {
		initial := d.initialValues[key]
		if initial.Value.Eq(&value) {
			continue
		}
		out[key] = StorageChange{Before: initial.Value, After: value, IsInitial: initial.IsWriteInitial}
	}
	return out
}

// StorageChangesAfter returns the net change of every slot written after s.
func (d *WorldDiff) StorageChangesAfter(s Snapshot) map[StorageKey]StorageChange {
	out := make(map[StorageKey]StorageChange)
	for key, c := range d.storageChanges.ChangesAfter(s.storageChanges) {
		initial := d.initialValues[key]
		before := initial.Value
		if c.HadBefore {
			before = c.Before
		}
		out[key] = StorageChange{Before: before, After: c.After, IsInitial: initial.IsWriteInitial}
	}
	return out
}

func (d *WorldDiff) ReadTransientStorage(contract common.Address, key *uint256.Int) uint256.Int {
	d.pubdataCosts.Push(0)
	v, _ := d.transientChanges.Get(StorageKey{Address: contract, Key: *key})
	return v
}

func (d *WorldDiff) WriteTransientStorage(contract common.Address, key *uint256.Int, value *uint256.Int) {
	d.pubdataCosts.Push(0)
	d.transientChanges.Insert(StorageKey{Address: contract, Key: *key}, *value)
}

func (d *WorldDiff) TransientStorageState() map[StorageKey]uint256.Int {
	return d.transientChanges.Map()
}

// ClearTransientStorage empties transient storage. It cannot be undone.
func (d *WorldDiff) ClearTransientStorage() {
	d.transientChanges = NewRollbackableMap[StorageKey, uint256.Int]()
}

func (d *WorldDiff) RecordEvent(e Event) {
	d.events.Push(e)
}

func (d *WorldDiff) Events() []Event {
	return d.events.Entries()
}

func (d *WorldDiff) EventsAfter(s Snapshot) []Event {
	return d.events.LogsAfter(s.events)
}

func (d *WorldDiff) RecordL2ToL1Log(l L2ToL1Log) {
	d.l2ToL1Logs.Push(l)
}

func (d *WorldDiff) L2ToL1Logs() []L2ToL1Log {
	return d.l2ToL1Logs.Entries()
}

func (d *WorldDiff) L2ToL1LogsAfter(s Snapshot) []L2ToL1Log {
	return d.l2ToL1Logs.LogsAfter(s.l2ToL1Logs)
}

// RecordDecommit marks hash as decommitted. paid is false when the caller ran out of ergs
// before paying. It reports whether this is the first paid decommit of hash.
func (d *WorldDiff) RecordDecommit(hash common.Hash, paid bool) bool {
	prev, had := d.decommittedHashes.Insert(hash, paid)
	return paid && !(had && prev)
}

// IsDecommitted reports whether hash was already paid for in this log.
func (d *WorldDiff) IsDecommitted(hash common.Hash) bool {
	paid, ok := d.decommittedHashes.Get(hash)
	return ok && paid
}

// DecommittedHashes lists every decommitted hash, including unpaid attempts, in byte order.
func (d *WorldDiff) DecommittedHashes() []common.Hash {
	hashes := maps.Keys(d.decommittedHashes.Map())
	slices.SortFunc(hashes, func(a, b common.Hash) int {
		wa, wb := a.Word(), b.Word()
		return wa.Cmp(&wb)
	})
	return hashes
}

func (d *WorldDiff) mark() Snapshot {
	return Snapshot{
		storageChanges:   d.storageChanges.Snapshot(),
		paidChanges:      d.paidChanges.Snapshot(),
		transientChanges: d.transientChanges.Snapshot(),
		events:           d.events.Snapshot(),
		l2ToL1Logs:       d.l2ToL1Logs.Snapshot(),
		pubdata:          d.pubdata.Snapshot(),

		decommittedHashes: d.decommittedHashes.Snapshot(),
		storageRefunds:    d.storageRefunds.Snapshot(),
		pubdataCosts:      d.pubdataCosts.Snapshot(),
	}
}

// Mark returns a query-only marker for the *After methods. It is never released.
func (d *WorldDiff) Mark() Snapshot {
	return d.mark()
}

// Snapshot returns a held marker that must later be passed to Rollback or Forget.
func (d *WorldDiff) Snapshot() Snapshot {
	s := d.mark()
	s.seq = d.nextSeq
	d.nextSeq++
	d.held = append(d.held, s.seq)
	return s
}

// Depth is the number of held snapshots.
func (d *WorldDiff) Depth() int {
	return len(d.held)
}

func (d *WorldDiff) release(s Snapshot) error {
	n := len(d.held)
	if s.seq == 0 || !slices.Contains(d.held, s.seq) {
		return fmt.Errorf("%w: snapshot %d", vmerrors.ErrSnapshotUsed, s.seq)
	}
	if d.held[n-1] != s.seq {
		return fmt.Errorf("%w: snapshot %d released before %d", vmerrors.ErrSnapshotOrder, s.seq, d.held[n-1])
	}
	d.held = d.held[:n-1]
	return nil
}

// Rollback discards every record appended after s and releases it. Warm slots stay warm
// since their access was already paid for.
func (d *WorldDiff) Rollback(s Snapshot) error {
	if err := d.release(s); err != nil {
		return err
	}
	d.rollback(s)
	log.Trace(log.WorldDiff, "rollback", "snapshot", s.seq, "storage", s.storageChanges, "events", s.events)
	return nil
}

// Forget releases s keeping everything recorded since.
func (d *WorldDiff) Forget(s Snapshot) error {
	return d.release(s)
}

func (d *WorldDiff) rollback(s Snapshot) {
	d.storageChanges.Rollback(s.storageChanges)
	d.paidChanges.Rollback(s.paidChanges)
	d.transientChanges.Rollback(s.transientChanges)
	d.events.Rollback(s.events)
	d.l2ToL1Logs.Rollback(s.l2ToL1Logs)
	d.pubdata.Rollback(s.pubdata)
	d.decommittedHashes.Rollback(s.decommittedHashes)
	d.storageRefunds.Rollback(s.storageRefunds)
	d.pubdataCosts.Rollback(s.pubdataCosts)
}

// ExternalSnapshot captures the whole diff. Rolling back to it also clears transient
// storage, since clearing transient storage cannot be undone.
func (d *WorldDiff) ExternalSnapshot() ExternalSnapshot {
	internal := d.mark()
	internal.transientChanges = 0
	return ExternalSnapshot{
		internal:     internal,
		readSlots:    d.readSlots.Snapshot(),
		writtenSlots: d.writtenSlots.Snapshot(),
		held:         slices.Clone(d.held),
	}
}

func (d *WorldDiff) ExternalRollback(s ExternalSnapshot) {
	d.rollback(s.internal)
	d.readSlots.Rollback(s.readSlots)
	d.writtenSlots.Rollback(s.writtenSlots)
	d.held = s.held
	log.Debug(log.WorldDiff, "external rollback", "storage", s.internal.storageChanges, "refunds", s.internal.storageRefunds)
}

// DeleteHistory drops the undo journals. Held snapshots can no longer restore anything older.
func (d *WorldDiff) DeleteHistory() {
	d.storageChanges.DeleteHistory()
	d.paidChanges.DeleteHistory()
	d.transientChanges.DeleteHistory()
	d.decommittedHashes.DeleteHistory()
	d.readSlots.DeleteHistory()
	d.writtenSlots.DeleteHistory()
}
