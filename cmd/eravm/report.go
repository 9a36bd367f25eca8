package main

import (
	"encoding/hex"
	"encoding/json"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/vm"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/holiman/uint256"
)

type storageEntry struct {
	Address   common.Address `json:"address"`
	Key       string         `json:"key"`
	Before    string         `json:"before"`
	After     string         `json:"after"`
	IsInitial bool           `json:"is_initial"`
}

type eventEntry struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	IsFirst  bool   `json:"is_first"`
	ShardID  uint8  `json:"shard_id"`
	TxNumber uint16 `json:"tx_number"`
}

type l1LogEntry struct {
	Address   common.Address `json:"address"`
	Key       string         `json:"key"`
	Value     string         `json:"value"`
	IsService bool           `json:"is_service"`
	ShardID   uint8          `json:"shard_id"`
	TxNumber  uint16         `json:"tx_number"`
}

// report is the JSON form of a run printed by `eravm run` and compared by `eravm diff`.
type report struct {
	Result       string            `json:"result"`
	Error        string            `json:"error,omitempty"`
	Output       string            `json:"output"`
	ErgsLeft     uint32            `json:"ergs_left"`
	Pubdata      int32             `json:"pubdata"`
	Hooks        []uint32          `json:"hooks,omitempty"`
	Storage      []storageEntry    `json:"storage"`
	Events       []eventEntry      `json:"events"`
	L2ToL1Logs   []l1LogEntry      `json:"l2_to_l1_logs"`
	Decommitted  []common.Hash     `json:"decommitted"`
	ProverCycles map[string]uint32 `json:"prover_cycles,omitempty"`
}

func word(w uint256.Int) string {
	return w.Hex()
}

func newReport(o vm.Outcome, hooks []uint32, cycles map[string]uint32) report {
	r := report{
		Result:       o.End.Kind.String(),
		Output:       "0x" + hex.EncodeToString(o.End.Output),
		ErgsLeft:     o.ErgsLeft,
		Pubdata:      o.Pubdata,
		Hooks:        hooks,
		Storage:      []storageEntry{},
		Events:       []eventEntry{},
		L2ToL1Logs:   []l1LogEntry{},
		Decommitted:  o.Decommitted,
		ProverCycles: cycles,
	}
	if r.Decommitted == nil {
		r.Decommitted = []common.Hash{}
	}
	if o.End.Err != nil {
		r.Error = o.End.Err.Error()
	}
	for _, k := range worldlog.SortedKeys(o.Storage) {
		c := o.Storage[k]
		r.Storage = append(r.Storage, storageEntry{
			Address:   k.Address,
			Key:       word(k.Key),
			Before:    word(c.Before),
			After:     word(c.After),
			IsInitial: c.IsInitial,
		})
	}
	for _, e := range o.Events {
		r.Events = append(r.Events, eventEntry{
			Key:      word(e.Key),
			Value:    word(e.Value),
			IsFirst:  e.IsFirst,
			ShardID:  e.ShardID,
			TxNumber: e.TxNumber,
		})
	}
	for _, l := range o.L2ToL1Logs {
		r.L2ToL1Logs = append(r.L2ToL1Logs, l1LogEntry{
			Address:   l.Address,
			Key:       word(l.Key),
			Value:     word(l.Value),
			IsService: l.IsService,
			ShardID:   l.ShardID,
			TxNumber:  l.TxNumber,
		})
	}
	return r
}

func (r report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
