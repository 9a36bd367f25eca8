package program

const (
	LTBit     uint8 = 1
	EQBit     uint8 = 1 << 1
	GTBit     uint8 = 1 << 2
	AlwaysBit uint8 = 1 << 3
)

// Flags is the condition flag set. The always bit is set in every value built by NewFlags.
type Flags uint8

// NewFlags builds a flag set from the less-than (or overflow), equal and greater-than conditions.
func NewFlags(ltOrOverflow, eq, gt bool) Flags {
	f := AlwaysBit
	if ltOrOverflow {
		f |= LTBit
	}
	if eq {
		f |= EQBit
	}
	if gt {
		f |= GTBit
	}
	return Flags(f)
}

func (f Flags) LessThan() bool    { return uint8(f)&LTBit != 0 }
func (f Flags) Equal() bool       { return uint8(f)&EQBit != 0 }
func (f Flags) GreaterThan() bool { return uint8(f)&GTBit != 0 }

// Predicate guards execution of an instruction. The low nibble lists flags of which one must be
// set; the high nibble lists flags that must all be clear.
type Predicate uint8

const (
	Always   Predicate = Predicate(AlwaysBit)
	IfGT     Predicate = Predicate(GTBit)
	IfEQ     Predicate = Predicate(EQBit)
	IfLT     Predicate = Predicate(LTBit)
	IfGE     Predicate = Predicate(GTBit | EQBit)
	IfLE     Predicate = Predicate(LTBit | EQBit)
	IfNotEQ  Predicate = Predicate(EQBit<<4 | AlwaysBit)
	IfGTOrLT Predicate = Predicate(GTBit | LTBit)
)

// predicateCodes is indexed by the 3-bit predicate field of the encoding.
var predicateCodes = [8]Predicate{Always, IfGT, IfLT, IfEQ, IfGE, IfLE, IfNotEQ, IfGTOrLT}

var predicateNames = map[Predicate]string{
	Always:   "",
	IfGT:     "gt",
	IfLT:     "lt",
	IfEQ:     "eq",
	IfGE:     "ge",
	IfLE:     "le",
	IfNotEQ:  "ne",
	IfGTOrLT: "gtlt",
}

// Satisfied reports whether the instruction runs under flags f.
func (p Predicate) Satisfied(f Flags) bool {
	bits := uint8(p)
	return bits&uint8(f) != 0 && (bits>>4)&uint8(f) == 0
}

func (p Predicate) String() string {
	return predicateNames[p]
}

func (p Predicate) code() uint64 {
	for i, c := range predicateCodes {
		if c == p {
			return uint64(i)
		}
	}
	return 0
}

func predicateByName(name string) (Predicate, bool) {
	for p, n := range predicateNames {
		if n == name && n != "" {
			return p, true
		}
	}
	return 0, false
}

// ModeRequirements packs the kernel-only and forbidden-in-static requirements of an opcode.
type ModeRequirements uint8

func NewModeRequirements(kernelOnly, notInStatic bool) ModeRequirements {
	var m ModeRequirements
	if kernelOnly {
		m |= 1
	}
	if notInStatic {
		m |= 2
	}
	return m
}

// Met reports whether a frame with the given privileges may run the instruction.
func (m ModeRequirements) Met(isKernel, isStatic bool) bool {
	var enabled ModeRequirements
	if isKernel {
		enabled |= 1
	}
	if !isStatic {
		enabled |= 2
	}
	return enabled&m == m
}
