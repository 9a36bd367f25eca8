package program

// Opcode identifies one instruction of the machine. Values are the 6-bit opcode field of the encoding.
type Opcode uint8

// Instructions without operands.
const (
	INVALID Opcode = 0
	NOP     Opcode = 1
)

// Binary operations: src0 any source, src1 register, dst0 any destination.
// MUL and DIV write their second output to dst1.
const (
	ADD Opcode = 2
	SUB Opcode = 3
	AND Opcode = 4
	OR  Opcode = 5
	XOR Opcode = 6
	SHL Opcode = 7
	SHR Opcode = 8
	ROL Opcode = 9
	ROR Opcode = 10
	MUL Opcode = 11
	DIV Opcode = 12
)

// Control transfer.
const (
	JUMP              Opcode = 13
	NEAR_CALL         Opcode = 14
	FAR_CALL          Opcode = 15
	FAR_CALL_DELEGATE Opcode = 16
	FAR_CALL_MIMIC    Opcode = 17
	RET               Opcode = 18
	REVERT            Opcode = 19
	PANIC             Opcode = 20
)

// Heap access.
const (
	HEAP_READ      Opcode = 21
	HEAP_WRITE     Opcode = 22
	AUX_HEAP_READ  Opcode = 23
	AUX_HEAP_WRITE Opcode = 24
	POINTER_READ   Opcode = 25
)

// Fat pointer arithmetic: src0 must be a pointer, src1 must not.
const (
	PTR_ADD    Opcode = 26
	PTR_SUB    Opcode = 27
	PTR_PACK   Opcode = 28
	PTR_SHRINK Opcode = 29
)

// Storage, logs and precompiles.
const (
	SLOAD           Opcode = 30
	SSTORE          Opcode = 31
	TLOAD           Opcode = 32
	TSTORE          Opcode = 33
	EVENT           Opcode = 34
	TO_L1_MESSAGE   Opcode = 35
	PRECOMPILE_CALL Opcode = 36
	DECOMMIT        Opcode = 37
)

// Context reads and writes.
const (
	CTX_THIS          Opcode = 38
	CTX_CALLER        Opcode = 39
	CTX_CODE_ADDRESS  Opcode = 40
	CTX_ERGS_LEFT     Opcode = 41
	CTX_U128          Opcode = 42
	CTX_SP            Opcode = 43
	CTX_META          Opcode = 44
	CTX_SET_U128      Opcode = 45
	CTX_INC_TX_NUMBER Opcode = 46
	CTX_AUX_MUTATING  Opcode = 47
)

// Opcodes that never appear in bytecode. The loader emits them.
const (
	JUMP_TO_START Opcode = 62
	ILLEGAL       Opcode = 63
)

// NumOpcodes bounds the opcode space of the encoding.
const NumOpcodes = 64

// Shape describes which operand fields an opcode reads and writes.
type Shape uint8

const (
	ShapeNone Shape = iota
	ShapeNop
	ShapeBinop
	ShapeBinop2
	ShapeJump
	ShapeNearCall
	ShapeFarCall
	ShapeRet
	ShapePanic
	ShapeHeapRead
	ShapeHeapWrite
	ShapePointerRead
	ShapePointer
	ShapeLoad
	ShapeStore
	ShapeSrcSrcDst
	ShapeDst
	ShapeSrc
)

// OpcodeInfo is the static metadata of an opcode.
type OpcodeInfo struct {
	Name        string
	Shape       Shape
	Cost        uint32
	KernelOnly  bool
	NotInStatic bool
}

// Base costs that do not fit the common per-instruction price.
const (
	AverageOpcodeCost  = 6
	ReturnCost         = 5
	HeapAccessCost     = 9
	NearCallCost       = 25
	FarCallCost        = 183
	SloadCost          = 2008
	SstoreCost         = 5511
	TransientCost      = 12
	EventCost          = 12
	L1MessageCost      = 156250
	InvalidOpcodeCost  = 4294967295
	PrecompileCallCost = 6
	DecommitCost       = 6
)

var opcodeInfo = [NumOpcodes]OpcodeInfo{
	INVALID: {Name: "invalid", Shape: ShapeNone, Cost: InvalidOpcodeCost},
	NOP:     {Name: "nop", Shape: ShapeNop, Cost: AverageOpcodeCost},

	ADD: {Name: "add", Shape: ShapeBinop, Cost: AverageOpcodeCost},
	SUB: {Name: "sub", Shape: ShapeBinop, Cost: AverageOpcodeCost},
	AND: {Name: "and", Shape: ShapeBinop, Cost: AverageOpcodeCost},
	OR:  {Name: "or", Shape: ShapeBinop, Cost: AverageOpcodeCost},
	XOR: {Name: "xor", Shape: ShapeBinop, Cost: AverageOpcodeCost},
	SHL: {Name: "shl", Shape: ShapeBinop, Cost: AverageOpcodeCost},
	SHR: {Name: "shr", Shape: ShapeBinop, Cost: AverageOpcodeCost},
	ROL: {Name: "rol", Shape: ShapeBinop, Cost: AverageOpcodeCost},
	ROR: {Name: "ror", Shape: ShapeBinop, Cost: AverageOpcodeCost},
	MUL: {Name: "mul", Shape: ShapeBinop2, Cost: AverageOpcodeCost},
	DIV: {Name: "div", Shape: ShapeBinop2, Cost: AverageOpcodeCost},

	JUMP:              {Name: "jump", Shape: ShapeJump, Cost: AverageOpcodeCost},
	NEAR_CALL:         {Name: "near_call", Shape: ShapeNearCall, Cost: NearCallCost},
	FAR_CALL:          {Name: "far_call", Shape: ShapeFarCall, Cost: FarCallCost},
	FAR_CALL_DELEGATE: {Name: "far_call_delegate", Shape: ShapeFarCall, Cost: FarCallCost},
	FAR_CALL_MIMIC:    {Name: "far_call_mimic", Shape: ShapeFarCall, Cost: FarCallCost, KernelOnly: true},
	RET:               {Name: "ret", Shape: ShapeRet, Cost: ReturnCost},
	REVERT:            {Name: "revert", Shape: ShapeRet, Cost: ReturnCost},
	PANIC:             {Name: "panic", Shape: ShapePanic, Cost: ReturnCost},

	HEAP_READ:      {Name: "heap_read", Shape: ShapeHeapRead, Cost: HeapAccessCost},
	HEAP_WRITE:     {Name: "heap_write", Shape: ShapeHeapWrite, Cost: HeapAccessCost},
	AUX_HEAP_READ:  {Name: "aux_heap_read", Shape: ShapeHeapRead, Cost: HeapAccessCost},
	AUX_HEAP_WRITE: {Name: "aux_heap_write", Shape: ShapeHeapWrite, Cost: HeapAccessCost},
	POINTER_READ:   {Name: "pointer_read", Shape: ShapePointerRead, Cost: HeapAccessCost},

	PTR_ADD:    {Name: "ptr_add", Shape: ShapePointer, Cost: AverageOpcodeCost},
	PTR_SUB:    {Name: "ptr_sub", Shape: ShapePointer, Cost: AverageOpcodeCost},
	PTR_PACK:   {Name: "ptr_pack", Shape: ShapePointer, Cost: AverageOpcodeCost},
	PTR_SHRINK: {Name: "ptr_shrink", Shape: ShapePointer, Cost: AverageOpcodeCost},

	SLOAD:           {Name: "sload", Shape: ShapeLoad, Cost: SloadCost},
	SSTORE:          {Name: "sstore", Shape: ShapeStore, Cost: SstoreCost, NotInStatic: true},
	TLOAD:           {Name: "tload", Shape: ShapeLoad, Cost: TransientCost},
	TSTORE:          {Name: "tstore", Shape: ShapeStore, Cost: TransientCost, NotInStatic: true},
	EVENT:           {Name: "event", Shape: ShapeStore, Cost: EventCost, KernelOnly: true, NotInStatic: true},
	TO_L1_MESSAGE:   {Name: "to_l1_message", Shape: ShapeStore, Cost: L1MessageCost, KernelOnly: true, NotInStatic: true},
	PRECOMPILE_CALL: {Name: "precompile_call", Shape: ShapeSrcSrcDst, Cost: PrecompileCallCost, KernelOnly: true},
	DECOMMIT:        {Name: "decommit", Shape: ShapeSrcSrcDst, Cost: DecommitCost, KernelOnly: true},

	CTX_THIS:          {Name: "this", Shape: ShapeDst, Cost: AverageOpcodeCost},
	CTX_CALLER:        {Name: "caller", Shape: ShapeDst, Cost: AverageOpcodeCost},
	CTX_CODE_ADDRESS:  {Name: "code_address", Shape: ShapeDst, Cost: AverageOpcodeCost},
	CTX_ERGS_LEFT:     {Name: "ergs_left", Shape: ShapeDst, Cost: AverageOpcodeCost},
	CTX_U128:          {Name: "context_u128", Shape: ShapeDst, Cost: AverageOpcodeCost},
	CTX_SP:            {Name: "sp", Shape: ShapeDst, Cost: AverageOpcodeCost},
	CTX_META:          {Name: "meta", Shape: ShapeDst, Cost: AverageOpcodeCost},
	CTX_SET_U128:      {Name: "set_context_u128", Shape: ShapeSrc, Cost: AverageOpcodeCost, KernelOnly: true, NotInStatic: true},
	CTX_INC_TX_NUMBER: {Name: "increment_tx_number", Shape: ShapeNone, Cost: AverageOpcodeCost, KernelOnly: true, NotInStatic: true},
	CTX_AUX_MUTATING:  {Name: "aux_mutating0", Shape: ShapeNone, Cost: AverageOpcodeCost, KernelOnly: true, NotInStatic: true},

	JUMP_TO_START: {Name: "jump_to_start", Shape: ShapeNone},
	ILLEGAL:       {Name: "illegal", Shape: ShapeNone},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode)
	for i, info := range opcodeInfo {
		if info.Name != "" {
			m[info.Name] = Opcode(i)
		}
	}
	return m
}()

// Info returns the static metadata of op.
func (op Opcode) Info() OpcodeInfo {
	return opcodeInfo[op%NumOpcodes]
}

// Known reports whether op is part of the instruction set.
func (op Opcode) Known() bool {
	return op < NumOpcodes && opcodeInfo[op].Name != ""
}

func (op Opcode) String() string {
	if !op.Known() {
		return "UNKNOWN"
	}
	return opcodeInfo[op].Name
}

// OpcodeByName looks up an opcode by its mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// ModeRequirements returns the privilege requirements of op.
func (op Opcode) ModeRequirements() ModeRequirements {
	info := op.Info()
	return NewModeRequirements(info.KernelOnly, info.NotInStatic)
}

// IsFarCall reports whether op starts a new contract frame.
func (op Opcode) IsFarCall() bool {
	return op == FAR_CALL || op == FAR_CALL_DELEGATE || op == FAR_CALL_MIMIC
}

// IsReturn reports whether op leaves the current frame.
func (op Opcode) IsReturn() bool {
	return op == RET || op == REVERT || op == PANIC
}

// IsBasicBlockTerminator returns true if the opcode ends a basic block.
func IsBasicBlockTerminator(op Opcode) bool {
	switch op {
	case INVALID, JUMP, NEAR_CALL, FAR_CALL, FAR_CALL_DELEGATE, FAR_CALL_MIMIC,
		RET, REVERT, PANIC, JUMP_TO_START, ILLEGAL:
		return true
	}
	return false
}

// InstructionCategory represents the category of an instruction
type InstructionCategory int

const (
	CategoryUnknown InstructionCategory = iota
	CategoryArithmetic
	CategoryMemory
	CategoryControlFlow
	CategoryState
	CategoryContext
)

// GetInstructionCategory returns the category of an instruction
func GetInstructionCategory(op Opcode) InstructionCategory {
	switch op {
	case ADD, SUB, AND, OR, XOR, SHL, SHR, ROL, ROR, MUL, DIV,
		PTR_ADD, PTR_SUB, PTR_PACK, PTR_SHRINK:
		return CategoryArithmetic
	case HEAP_READ, HEAP_WRITE, AUX_HEAP_READ, AUX_HEAP_WRITE, POINTER_READ:
		return CategoryMemory
	case NOP, INVALID, JUMP, NEAR_CALL, FAR_CALL, FAR_CALL_DELEGATE, FAR_CALL_MIMIC,
		RET, REVERT, PANIC, JUMP_TO_START, ILLEGAL:
		return CategoryControlFlow
	case SLOAD, SSTORE, TLOAD, TSTORE, EVENT, TO_L1_MESSAGE, PRECOMPILE_CALL, DECOMMIT:
		return CategoryState
	case CTX_THIS, CTX_CALLER, CTX_CODE_ADDRESS, CTX_ERGS_LEFT, CTX_U128, CTX_SP,
		CTX_META, CTX_SET_U128, CTX_INC_TX_NUMBER, CTX_AUX_MUTATING:
		return CategoryContext
	default:
		return CategoryUnknown
	}
}

// GetCategoryName returns the string name of an instruction category
func GetCategoryName(category InstructionCategory) string {
	switch category {
	case CategoryArithmetic:
		return "Arithmetic"
	case CategoryMemory:
		return "Memory"
	case CategoryControlFlow:
		return "ControlFlow"
	case CategoryState:
		return "State"
	case CategoryContext:
		return "Context"
	default:
		return "Unknown"
	}
}
