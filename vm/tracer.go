package vm

import (
	"github.com/colorfulnotion/eravm/program"
)

// TracerVersion is bumped whenever a method is added to Tracer or FrameTracer.
const TracerVersion = 1

// ShouldStop is returned after every instruction. Stop halts the machine with StoppedByTracer.
type ShouldStop bool

const (
	Continue ShouldStop = false
	Stop     ShouldStop = true
)

// Tracer observes every dispatched instruction. Instructions skipped by their predicate are
// reported as NOP, panics raised by the machine itself as PANIC.
type Tracer interface {
	BeforeInstruction(op program.Opcode, s StateInterface)
	AfterInstruction(op program.Opcode, s StateInterface) ShouldStop
	OnExtraProverCycles(stats CycleStats)
}

type FrameKind uint8

const (
	FrameNear FrameKind = iota
	FrameFar
)

func (k FrameKind) String() string {
	if k == FrameFar {
		return "far"
	}
	return "near"
}

type ReturnKind uint8

const (
	ReturnNormal ReturnKind = iota
	ReturnRevert
	ReturnPanic
)

func (k ReturnKind) String() string {
	switch k {
	case ReturnNormal:
		return "ret"
	case ReturnRevert:
		return "revert"
	}
	return "panic"
}

// IsFailure reports whether the frame's side effects are rolled back.
func (k ReturnKind) IsFailure() bool {
	return k != ReturnNormal
}

// FrameTracer is optionally implemented by tracers that follow call frames.
// OnFrameEnter is called once the new frame is current, OnFrameExit while the exiting frame still is.
type FrameTracer interface {
	OnFrameEnter(kind FrameKind, s StateInterface)
	OnFrameExit(kind FrameKind, ret ReturnKind, s StateInterface)
}

type NoopTracer struct{}

func (NoopTracer) BeforeInstruction(program.Opcode, StateInterface) {}

func (NoopTracer) AfterInstruction(program.Opcode, StateInterface) ShouldStop { return Continue }

func (NoopTracer) OnExtraProverCycles(CycleStats) {}

// Tracers fans out to several tracers. The machine stops if any of them asks to.
type Tracers []Tracer

func (ts Tracers) BeforeInstruction(op program.Opcode, s StateInterface) {
	for _, t := range ts {
		t.BeforeInstruction(op, s)
	}
}

func (ts Tracers) AfterInstruction(op program.Opcode, s StateInterface) ShouldStop {
	stop := Continue
	for _, t := range ts {
		if t.AfterInstruction(op, s) {
			stop = Stop
		}
	}
	return stop
}

func (ts Tracers) OnExtraProverCycles(stats CycleStats) {
	for _, t := range ts {
		t.OnExtraProverCycles(stats)
	}
}

func (ts Tracers) OnFrameEnter(kind FrameKind, s StateInterface) {
	for _, t := range ts {
		if ft, ok := t.(FrameTracer); ok {
			ft.OnFrameEnter(kind, s)
		}
	}
}

func (ts Tracers) OnFrameExit(kind FrameKind, ret ReturnKind, s StateInterface) {
	for _, t := range ts {
		if ft, ok := t.(FrameTracer); ok {
			ft.OnFrameExit(kind, ret, s)
		}
	}
}

// CycleCounter sums the prover cycles reported by precompiles, decommits and storage accesses.
type CycleCounter struct {
	NoopTracer
	Cycles map[string]uint32
}

func (c *CycleCounter) OnExtraProverCycles(stats CycleStats) {
	if c.Cycles == nil {
		c.Cycles = make(map[string]uint32)
	}
	c.Cycles[stats.Kind.String()] += stats.Cycles
}
