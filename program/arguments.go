package program

// Register indexes one of the 16 general purpose registers. r0 always reads zero.
type Register uint8

// SourceMode selects where the first source operand comes from.
type SourceMode uint8

const (
	SrcRegister SourceMode = iota
	SrcImmediate
	SrcAbsoluteStack
	SrcRelativeStack
	SrcAdvanceStack
	SrcCodePage
	numSourceModes
)

// DestinationMode selects where the first destination operand goes.
type DestinationMode uint8

const (
	DstRegister DestinationMode = iota
	DstAbsoluteStack
	DstRelativeStack
	DstAdvanceStack
	numDestinationModes
)

// Variant bits carried in the two flag bits of the encoding. Their meaning depends on the opcode.
const (
	VariantA uint8 = 1
	VariantB uint8 = 2
)

// Arguments is the operand record of an instruction.
// Stack and code page sources address through Src0 and Imm1, stack destinations through Dst0 and Imm2.
type Arguments struct {
	Predicate   Predicate
	Variant     uint8
	Source      SourceMode
	Destination DestinationMode
	Src0        Register
	Src1        Register
	Dst0        Register
	Dst1        Register
	Imm1        uint16
	Imm2        uint16
}

// Instruction is one decoded instruction.
type Instruction struct {
	Opcode Opcode
	Args   Arguments
}

func (i *Instruction) flag(bit uint8) bool { return i.Args.Variant&bit != 0 }

// Swap exchanges the two inputs of binary and pointer operations.
func (i *Instruction) Swap() bool { return i.flag(VariantA) }

// SetFlags makes a binary operation update the condition flags.
func (i *Instruction) SetFlags() bool { return i.flag(VariantB) }

// ToLabel makes a return jump to Imm1 instead of the saved return address.
func (i *Instruction) ToLabel() bool { return i.flag(VariantA) }

// Increment makes heap accesses also output the address advanced by one word.
func (i *Instruction) Increment() bool { return i.flag(VariantA) }

// IsFirst marks the first event or message of a group.
func (i *Instruction) IsFirst() bool { return i.flag(VariantA) }

// IsStatic makes a far call enter a static frame.
func (i *Instruction) IsStatic() bool { return i.flag(VariantA) }

// IsShard marks a far call that targets another shard.
func (i *Instruction) IsShard() bool { return i.flag(VariantB) }

func allowedSources(s Shape) []SourceMode {
	switch s {
	case ShapeNop, ShapeBinop, ShapeBinop2, ShapePointer, ShapeJump:
		return []SourceMode{SrcRegister, SrcImmediate, SrcAbsoluteStack, SrcRelativeStack, SrcAdvanceStack, SrcCodePage}
	case ShapeHeapRead, ShapeHeapWrite:
		return []SourceMode{SrcRegister, SrcImmediate}
	default:
		return []SourceMode{SrcRegister}
	}
}

func allowedDestinations(s Shape) []DestinationMode {
	switch s {
	case ShapeNop, ShapeBinop, ShapeBinop2, ShapePointer:
		return []DestinationMode{DstRegister, DstAbsoluteStack, DstRelativeStack, DstAdvanceStack}
	default:
		return []DestinationMode{DstRegister}
	}
}

// Legal reports whether the addressing modes of i are allowed for its opcode.
func (i *Instruction) Legal() bool {
	shape := i.Opcode.Info().Shape
	srcOK, dstOK := false, false
	for _, m := range allowedSources(shape) {
		if m == i.Args.Source {
			srcOK = true
		}
	}
	for _, m := range allowedDestinations(shape) {
		if m == i.Args.Destination {
			dstOK = true
		}
	}
	return srcOK && dstOK
}
