package tracing

import (
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vm"
)

// LoggingTracer writes every executed instruction and frame transition to the tracing log.
// Instructions go out at trace level, frames at debug.
type LoggingTracer struct {
	steps uint64
}

func NewLoggingTracer() *LoggingTracer {
	return &LoggingTracer{}
}

// Steps is the number of instructions seen so far, including skipped ones.
func (t *LoggingTracer) Steps() uint64 {
	return t.steps
}

func (t *LoggingTracer) BeforeInstruction(op program.Opcode, s vm.StateInterface) {
	if !log.IsModuleEnabled(log.Tracing) {
		return
	}
	f, _ := s.CallframeAt(0)
	log.Trace(log.Tracing, "exec", "step", t.steps, "pc", f.PC, "op", op, "gas", f.Gas, "sp", f.SP, "flags", s.Flags())
}

func (t *LoggingTracer) AfterInstruction(program.Opcode, vm.StateInterface) vm.ShouldStop {
	t.steps++
	return vm.Continue
}

func (t *LoggingTracer) OnExtraProverCycles(stats vm.CycleStats) {
	log.Trace(log.Tracing, "prover cycles", "kind", stats.Kind, "cycles", stats.Cycles)
}

func (t *LoggingTracer) OnFrameEnter(kind vm.FrameKind, s vm.StateInterface) {
	f, _ := s.CallframeAt(0)
	log.Debug(log.Tracing, "enter", "kind", kind, "address", f.Address, "code", f.CodeAddress,
		"gas", f.Gas, "depth", s.NumberOfCallframes(), "static", f.IsStatic)
}

func (t *LoggingTracer) OnFrameExit(kind vm.FrameKind, ret vm.ReturnKind, s vm.StateInterface) {
	f, _ := s.CallframeAt(0)
	log.Debug(log.Tracing, "exit", "kind", kind, "ret", ret, "address", f.Address, "gas", f.Gas,
		"depth", s.NumberOfCallframes())
}

var (
	_ vm.Tracer      = (*LoggingTracer)(nil)
	_ vm.FrameTracer = (*LoggingTracer)(nil)
)
