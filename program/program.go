package program

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/holiman/uint256"
)

const (
	// MaxInstructions is the number of instructions addressable by a 16-bit program counter.
	MaxInstructions = 1 << 16
	// InstructionsPerWord is how many 64-bit instructions one code word holds.
	InstructionsPerWord = 4
	WordSize            = 32
)

var (
	invalidInstruction = Instruction{Opcode: INVALID, Args: Arguments{Predicate: Always}}
	panicInstruction   = Instruction{Opcode: PANIC, Args: Arguments{Predicate: Always}}
)

// Program is an immutable decoded instruction stream plus the code page it was decoded from.
type Program struct {
	instructions []Instruction
	codePage     []uint256.Int
	faults       map[int]error
	hooks        bool
}

// New decodes bytecode made of 32-byte big-endian words. enableHooks lets heap writes to the
// configured hook address suspend the machine.
func New(bytecode []byte, enableHooks bool) (*Program, error) {
	if len(bytecode)%WordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", vmerrors.ErrMisalignedBytecode, len(bytecode))
	}
	raw := make([]uint64, len(bytecode)/8)
	for i := range raw {
		raw[i] = binary.BigEndian.Uint64(bytecode[i*8:])
	}
	codePage := make([]uint256.Int, len(bytecode)/WordSize)
	for i := range codePage {
		codePage[i].SetBytes32(bytecode[i*WordSize : (i+1)*WordSize])
	}
	return build(raw, codePage, enableHooks), nil
}

// FromWords decodes a program given as code words, most significant instruction first.
func FromWords(words []uint256.Int, enableHooks bool) *Program {
	raw := make([]uint64, 0, len(words)*InstructionsPerWord)
	for _, w := range words {
		raw = append(raw, w[3], w[2], w[1], w[0])
	}
	codePage := make([]uint256.Int, len(words))
	copy(codePage, words)
	return build(raw, codePage, enableHooks)
}

// FromInstructions builds a program directly, bypassing the decoder.
func FromInstructions(instructions []Instruction, codePage []uint256.Int) *Program {
	ins := make([]Instruction, len(instructions), len(instructions)+1)
	copy(ins, instructions)
	return &Program{instructions: append(ins, invalidInstruction), codePage: codePage}
}

// PanicProgram is run by frames whose far call failed before the callee could start.
func PanicProgram() *Program {
	return &Program{instructions: []Instruction{panicInstruction, invalidInstruction}}
}

func build(raw []uint64, codePage []uint256.Int, enableHooks bool) *Program {
	n := len(raw)
	if n > MaxInstructions {
		n = MaxInstructions
	}
	p := &Program{
		instructions: make([]Instruction, 0, n+1),
		codePage:     codePage,
		hooks:        enableHooks,
	}
	for pc, word := range raw[:n] {
		ins, err := Decode(word)
		if err != nil {
			if p.faults == nil {
				p.faults = make(map[int]error)
			}
			p.faults[pc] = fmt.Errorf("pc %d: %w", pc, err)
			log.Warn(log.Program, "illegal instruction", "pc", pc, "err", err)
			ins = Instruction{Opcode: ILLEGAL, Args: Arguments{Predicate: Always}}
		}
		p.instructions = append(p.instructions, ins)
	}
	if len(raw) >= MaxInstructions {
		p.instructions = append(p.instructions, Instruction{Opcode: JUMP_TO_START, Args: Arguments{Predicate: Always}})
	} else {
		p.instructions = append(p.instructions, invalidInstruction)
	}
	return p
}

// Instruction returns the instruction at pc. Addresses past the end yield the invalid instruction.
func (p *Program) Instruction(pc int) *Instruction {
	if pc < 0 || pc >= len(p.instructions) {
		return &invalidInstruction
	}
	return &p.instructions[pc]
}

// Len is the number of instructions including the terminating one.
func (p *Program) Len() int {
	return len(p.instructions)
}

// CodePage returns the code words readable through code page addressing.
func (p *Program) CodePage() []uint256.Int {
	return p.codePage
}

// CodeWord returns code word i, or zero when i is out of range.
func (p *Program) CodeWord(i uint16) uint256.Int {
	if int(i) < len(p.codePage) {
		return p.codePage[i]
	}
	return uint256.Int{}
}

// HooksEnabled reports whether hook writes suspend the machine.
func (p *Program) HooksEnabled() bool {
	return p.hooks
}

// Fault returns the loader diagnostic of an ILLEGAL instruction at pc.
func (p *Program) Fault(pc int) error {
	if err, ok := p.faults[pc]; ok {
		return err
	}
	return vmerrors.ErrIllegalAddressing
}

// Bytes serialises the code page back into bytecode.
func (p *Program) Bytes() []byte {
	out := make([]byte, 0, len(p.codePage)*WordSize)
	for i := range p.codePage {
		b := p.codePage[i].Bytes32()
		out = append(out, b[:]...)
	}
	return out
}

// Hash is the keccak of the code page, used as a cache key.
func (p *Program) Hash() common.Hash {
	return common.Keccak256(p.Bytes())
}

// Assemble encodes instructions into bytecode, padding the final word with invalid instructions.
func Assemble(instructions []Instruction) []byte {
	n := len(instructions)
	words := (n + InstructionsPerWord - 1) / InstructionsPerWord
	out := make([]byte, words*WordSize)
	for i, ins := range instructions {
		binary.BigEndian.PutUint64(out[i*8:], Encode(ins))
	}
	return out
}
