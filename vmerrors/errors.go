package vmerrors

import (
	"errors"
	"strings"
)

// Machine (VM) Errors
var (
	ErrOutOfGas           = errors.New("VM101|OutOfGas: Ergs exhausted in the outermost frame.")
	ErrIllegalAddressing  = errors.New("VM102|IllegalAddressing: Operand uses an addressing mode the opcode does not allow.")
	ErrInvalidInstruction = errors.New("VM103|InvalidInstruction: Instruction word does not decode to a known opcode.")
	ErrSnapshotWithFrames = errors.New("VM104|SnapshotWithFrames: External snapshots require a single active frame.")
	ErrNoSnapshot         = errors.New("VM105|NoSnapshot: Rollback or pop requested without an external snapshot.")
	ErrProgramTooLarge    = errors.New("VM106|ProgramTooLarge: Bytecode exceeds the addressable instruction count.")
	ErrMisalignedBytecode = errors.New("VM107|MisalignedBytecode: Bytecode length is not a multiple of the word size.")
	ErrUnknownMnemonic    = errors.New("VM108|UnknownMnemonic: Assembly line names no known opcode.")
	ErrMalformedOperand   = errors.New("VM109|MalformedOperand: Assembly operand cannot be parsed.")
	ErrTooManyOperands    = errors.New("VM110|TooManyOperands: Assembly line carries more operands than the opcode accepts.")
	ErrUnknownLabel       = errors.New("VM111|UnknownLabel: Jump or call target label is not defined.")
	ErrNotSuspended       = errors.New("VM112|NotSuspended: Resume requested on a machine that is not suspended on a hook.")
	ErrKernelOnly         = errors.New("VM113|KernelOnly: Opcode is reserved to kernel frames.")
	ErrStaticViolation    = errors.New("VM114|StaticViolation: Opcode mutates state inside a static frame.")
	ErrFarCallFailed      = errors.New("VM115|FarCallFailed: Callee code or calldata could not be prepared.")
	ErrFinished           = errors.New("VM116|Finished: The outermost frame has already returned.")
)

// Memory (MEM) Errors
var (
	ErrHeapOutOfBounds = errors.New("MEM201|HeapOutOfBounds: Heap address beyond the configured maximum heap size.")
	ErrProtectedHeap   = errors.New("MEM202|ProtectedHeap: Write into the protected heap range outside kernel mode.")
	ErrNotAPointer     = errors.New("MEM203|NotAPointer: Operand is not tagged as a fat pointer.")
	ErrPointerOverflow = errors.New("MEM204|PointerOverflow: Fat pointer arithmetic overflowed its 32-bit fields.")
	ErrPointerExpected = errors.New("MEM205|PointerExpected: Operand must not be a fat pointer.")
	ErrPointerOffset   = errors.New("MEM206|PointerOffset: Fat pointer offset exceeds its length.")
	ErrCalldataHeap    = errors.New("MEM207|CalldataHeap: Returning the calldata heap is reserved to kernel frames.")
)

// World (WLD) Errors
var (
	ErrSnapshotOrder   = errors.New("WLD301|SnapshotOrder: Snapshot released out of LIFO order.")
	ErrSnapshotUsed    = errors.New("WLD302|SnapshotUsed: Snapshot token was already released.")
	ErrUnknownCodeHash = errors.New("WLD303|UnknownCodeHash: No bytecode stored under the code hash.")
	ErrBadCodeInfo     = errors.New("WLD304|BadCodeInfo: Deployer code info has an unknown version byte.")
)

// Configuration (CFG) Errors
var (
	ErrConfigParse     = errors.New("CFG401|ConfigParse: Settings file is not valid YAML.")
	ErrUnknownOpcode   = errors.New("CFG402|UnknownOpcode: Cost table names an opcode that does not exist.")
	ErrInvalidCost     = errors.New("CFG403|InvalidCost: Cost table entry is inconsistent.")
	ErrInvalidHeapSize = errors.New("CFG404|InvalidHeapSize: Heap bounds are inconsistent.")
)

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameDesc := parts[1]
	// Split on ':' to separate the error name from its description.
	nameParts := strings.SplitN(nameDesc, ":", 2)
	if len(nameParts) < 1 {
		return errStr
	}
	return strings.TrimSpace(nameParts[0])
}

func GetErrorNames(errs []error) []string {
	errStrs := make([]string, len(errs))
	for i, err := range errs {
		errStrs[i] = GetErrorName(err)
	}
	return errStrs
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	// Check if the error string contains '|'.
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	parts := strings.SplitN(errStr, ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
