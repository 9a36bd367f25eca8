package vm

import (
	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/precompiles"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/worldlog"
)

// World is the persistent state a run reads from. Writes never reach it; they stay in the WorldDiff
// until the caller applies them.
type World interface {
	worldlog.Storage

	// Decommit loads the program with the given code hash. It is called on every far call,
	// so caching decoded programs is the World's job.
	Decommit(hash common.Hash) *program.Program
	// DecommitCode returns the raw bytecode for the decommit opcode.
	DecommitCode(hash common.Hash) []byte

	Precompiles
}

// Precompiles answers precompile_call. precompiles.Legacy is the standard set.
type Precompiles interface {
	CallPrecompile(address uint16, data uint64, in precompiles.Input) precompiles.Output
}

type CycleStats = worldlog.CycleStats
