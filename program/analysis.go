package program

// ProgramStats contains statistics about a program
type ProgramStats struct {
	InstructionCount   int            // Instructions excluding the loader terminator
	BasicBlockCount    int            // Total number of basic blocks
	OpcodeDistribution map[Opcode]int // Distribution of opcodes
	IllegalCount       int            // Instructions rejected by the decoder
}

// Analyze walks the decoded instructions and returns statistics including
// instruction count and basic block count
func (p *Program) Analyze() *ProgramStats {
	stats := &ProgramStats{
		OpcodeDistribution: make(map[Opcode]int),
	}
	body := p.body()
	for _, ins := range body {
		stats.InstructionCount++
		stats.OpcodeDistribution[ins.Opcode]++
		if ins.Opcode == ILLEGAL {
			stats.IllegalCount++
		}
	}
	stats.BasicBlockCount = len(p.GetBasicBlockBoundaries())
	return stats
}

func (p *Program) body() []Instruction {
	if len(p.instructions) == 0 {
		return nil
	}
	return p.instructions[:len(p.instructions)-1]
}

// CountInstructions returns the number of instructions decoded from the bytecode
func (p *Program) CountInstructions() int {
	return len(p.body())
}

// CountBasicBlocks returns the total number of basic blocks in the program
func (p *Program) CountBasicBlocks() int {
	return len(p.GetBasicBlockBoundaries())
}

// InstructionInfo describes one instruction for listings.
type InstructionInfo struct {
	PC                int
	Instruction       Instruction
	IsBasicBlockStart bool
}

// GetInstructions returns a list of all instructions with their details
func (p *Program) GetInstructions() []InstructionInfo {
	starts := make(map[int]bool)
	for _, b := range p.GetBasicBlockBoundaries() {
		starts[b] = true
	}
	var instructions []InstructionInfo
	for pc, ins := range p.body() {
		instructions = append(instructions, InstructionInfo{
			PC:                pc,
			Instruction:       ins,
			IsBasicBlockStart: starts[pc],
		})
	}
	return instructions
}

// GetBasicBlockBoundaries returns the PC positions where each basic block starts.
// A block starts at pc 0, after every terminator, and at every static jump, call or handler target.
func (p *Program) GetBasicBlockBoundaries() []int {
	body := p.body()
	if len(body) == 0 {
		return nil
	}
	starts := map[int]bool{0: true}
	mark := func(target int) {
		if target < len(body) {
			starts[target] = true
		}
	}
	for pc, ins := range body {
		if IsBasicBlockTerminator(ins.Opcode) {
			mark(pc + 1)
		}
		switch ins.Opcode {
		case JUMP:
			if ins.Args.Source == SrcImmediate {
				mark(int(ins.Args.Imm1))
			}
		case NEAR_CALL:
			mark(int(ins.Args.Imm1))
			mark(int(ins.Args.Imm2))
		case FAR_CALL, FAR_CALL_DELEGATE, FAR_CALL_MIMIC:
			mark(int(ins.Args.Imm1))
		case RET, REVERT, PANIC:
			if ins.ToLabel() {
				mark(int(ins.Args.Imm1))
			}
		}
	}
	var boundaries []int
	for pc := range body {
		if starts[pc] {
			boundaries = append(boundaries, pc)
		}
	}
	return boundaries
}
