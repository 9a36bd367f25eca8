package tracing

import (
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vm"
)

// Stepper stops the machine after a number of instructions or before a breakpoint.
// A stopped machine continues with another Run.
type Stepper struct {
	remaining   uint64
	limited     bool
	breakpoints map[int]struct{}
	opBreaks    map[program.Opcode]struct{}

	// Executed counts instructions across every run.
	Executed uint64
	// LastOp is the most recently executed opcode.
	LastOp program.Opcode
	// HitBreakpoint is set when the last stop was caused by a breakpoint.
	HitBreakpoint bool
}

func NewStepper() *Stepper {
	return &Stepper{
		breakpoints: make(map[int]struct{}),
		opBreaks:    make(map[program.Opcode]struct{}),
	}
}

// Limit stops after n more instructions. Zero removes the limit.
func (s *Stepper) Limit(n uint64) {
	s.remaining = n
	s.limited = n > 0
}

// Break stops before the instruction at pc in any frame.
func (s *Stepper) Break(pc int) { s.breakpoints[pc] = struct{}{} }

// BreakOn stops after any instruction with opcode op.
func (s *Stepper) BreakOn(op program.Opcode) { s.opBreaks[op] = struct{}{} }

// Clear removes every breakpoint.
func (s *Stepper) Clear() {
	clear(s.breakpoints)
	clear(s.opBreaks)
}

func (s *Stepper) BeforeInstruction(program.Opcode, vm.StateInterface) {
	s.HitBreakpoint = false
}

func (s *Stepper) AfterInstruction(op program.Opcode, st vm.StateInterface) vm.ShouldStop {
	s.Executed++
	s.LastOp = op
	if _, ok := s.opBreaks[op]; ok {
		s.HitBreakpoint = true
		return vm.Stop
	}
	if f, ok := st.CallframeAt(0); ok {
		if _, hit := s.breakpoints[f.PC]; hit {
			s.HitBreakpoint = true
			return vm.Stop
		}
	}
	if s.limited {
		s.remaining--
		if s.remaining == 0 {
			s.limited = false
			return vm.Stop
		}
	}
	return vm.Continue
}

func (s *Stepper) OnExtraProverCycles(vm.CycleStats) {}

var _ vm.Tracer = (*Stepper)(nil)
