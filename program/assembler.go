package program

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/colorfulnotion/eravm/vmerrors"
)

// Assembly syntax, one instruction per line:
//
//	[label:] mnemonic[.modifier...] operand, operand, ...
//
// Operands are registers (r0-r15), numbers, labels, or memory forms:
// stack[r1+2] (absolute), stack-[r1+2] (below sp), stack-=[r1+2] (pop),
// stack+=[r1+2] (push) and code[r1+2]. Comments start with ';' or '//'.

var modifierBits = map[string]uint8{
	"swap":     VariantA,
	"flags":    VariantB,
	"to_label": VariantA,
	"inc":      VariantA,
	"first":    VariantA,
	"static":   VariantA,
	"shard":    VariantB,
}

func modifierAllowed(shape Shape, op Opcode, mod string) bool {
	switch mod {
	case "swap":
		return shape == ShapeBinop || shape == ShapeBinop2 || shape == ShapePointer
	case "flags":
		return shape == ShapeBinop || shape == ShapeBinop2
	case "to_label":
		return shape == ShapeRet || shape == ShapePanic
	case "inc":
		return shape == ShapeHeapRead || shape == ShapeHeapWrite || shape == ShapePointerRead
	case "first":
		return op == EVENT || op == TO_L1_MESSAGE
	case "static", "shard":
		return shape == ShapeFarCall
	}
	return false
}

type operandKind int

const (
	opRegister operandKind = iota
	opImmediate
	opAbsolute
	opRelative
	opPop
	opPush
	opCode
)

type operand struct {
	kind operandKind
	reg  Register
	imm  uint16
}

// ParseAssembly turns assembly text into instructions.
func ParseAssembly(src string) ([]Instruction, error) {
	type line struct {
		no   int
		text string
	}
	labels := make(map[string]uint16)
	var lines []line

	scanner := bufio.NewScanner(strings.NewReader(src))
	no := 0
	for scanner.Scan() {
		no++
		text := scanner.Text()
		if i := strings.Index(text, ";"); i >= 0 {
			text = text[:i]
		}
		if i := strings.Index(text, "//"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		for {
			colon := strings.Index(text, ":")
			if colon < 0 || strings.ContainsAny(text[:colon], " \t,[") {
				break
			}
			labels[strings.TrimSpace(text[:colon])] = uint16(len(lines))
			text = strings.TrimSpace(text[colon+1:])
		}
		if text != "" {
			lines = append(lines, line{no, text})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]Instruction, 0, len(lines))
	for _, l := range lines {
		ins, err := parseLine(l.text, labels)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", l.no, err)
		}
		out = append(out, ins)
	}
	return out, nil
}

// AssembleText parses assembly and encodes it into bytecode.
func AssembleText(src string) ([]byte, error) {
	ins, err := ParseAssembly(src)
	if err != nil {
		return nil, err
	}
	return Assemble(ins), nil
}

func parseLine(text string, labels map[string]uint16) (Instruction, error) {
	head, rest, _ := strings.Cut(text, " ")
	parts := strings.Split(head, ".")
	op, ok := OpcodeByName(parts[0])
	if !ok {
		return Instruction{}, fmt.Errorf("%w: %q", vmerrors.ErrUnknownMnemonic, parts[0])
	}
	shape := op.Info().Shape
	ins := Instruction{Opcode: op, Args: Arguments{Predicate: Always}}
	for _, mod := range parts[1:] {
		if p, ok := predicateByName(mod); ok {
			ins.Args.Predicate = p
			continue
		}
		bit, ok := modifierBits[mod]
		if !ok || !modifierAllowed(shape, op, mod) {
			return Instruction{}, fmt.Errorf("%w: modifier %q on %s", vmerrors.ErrMalformedOperand, mod, op)
		}
		ins.Args.Variant |= bit
	}

	var ops []operand
	if rest = strings.TrimSpace(rest); rest != "" {
		for _, tok := range strings.Split(rest, ",") {
			o, err := parseOperand(strings.TrimSpace(tok), labels)
			if err != nil {
				return Instruction{}, err
			}
			ops = append(ops, o)
		}
	}
	if err := assign(&ins, shape, ops); err != nil {
		return Instruction{}, err
	}
	if !ins.Legal() {
		return Instruction{}, fmt.Errorf("%w: %s", vmerrors.ErrIllegalAddressing, text)
	}
	return ins, nil
}

func parseOperand(tok string, labels map[string]uint16) (operand, error) {
	prefixes := []struct {
		prefix string
		kind   operandKind
	}{
		{"stack-=[", opPop},
		{"stack+=[", opPush},
		{"stack-[", opRelative},
		{"stack[", opAbsolute},
		{"code[", opCode},
	}
	for _, p := range prefixes {
		if strings.HasPrefix(tok, p.prefix) && strings.HasSuffix(tok, "]") {
			inner := tok[len(p.prefix) : len(tok)-1]
			reg, imm, err := parseRegPlusImm(inner, labels)
			if err != nil {
				return operand{}, err
			}
			return operand{kind: p.kind, reg: reg, imm: imm}, nil
		}
	}
	if r, ok := parseRegister(tok); ok {
		return operand{kind: opRegister, reg: r}, nil
	}
	imm, err := parseImmediate(tok, labels)
	if err != nil {
		return operand{}, err
	}
	return operand{kind: opImmediate, imm: imm}, nil
}

func parseRegPlusImm(inner string, labels map[string]uint16) (Register, uint16, error) {
	var reg Register
	var imm uint16
	for _, part := range strings.Split(inner, "+") {
		part = strings.TrimSpace(part)
		if r, ok := parseRegister(part); ok {
			reg = r
			continue
		}
		v, err := parseImmediate(part, labels)
		if err != nil {
			return 0, 0, err
		}
		imm = v
	}
	return reg, imm, nil
}

func parseRegister(tok string) (Register, bool) {
	if len(tok) < 2 || tok[0] != 'r' {
		return 0, false
	}
	n, err := strconv.ParseUint(tok[1:], 10, 8)
	if err != nil || n > 15 {
		return 0, false
	}
	return Register(n), true
}

func parseImmediate(tok string, labels map[string]uint16) (uint16, error) {
	if v, ok := labels[tok]; ok {
		return v, nil
	}
	n, err := strconv.ParseUint(tok, 0, 16)
	if err != nil {
		if tok != "" && (tok[0] < '0' || tok[0] > '9') {
			return 0, fmt.Errorf("%w: %q", vmerrors.ErrUnknownLabel, tok)
		}
		return 0, fmt.Errorf("%w: %q", vmerrors.ErrMalformedOperand, tok)
	}
	return uint16(n), nil
}

func setSource(ins *Instruction, o operand) {
	switch o.kind {
	case opRegister:
		ins.Args.Source = SrcRegister
		ins.Args.Src0 = o.reg
	case opImmediate:
		ins.Args.Source = SrcImmediate
		ins.Args.Imm1 = o.imm
	case opAbsolute:
		ins.Args.Source, ins.Args.Src0, ins.Args.Imm1 = SrcAbsoluteStack, o.reg, o.imm
	case opRelative:
		ins.Args.Source, ins.Args.Src0, ins.Args.Imm1 = SrcRelativeStack, o.reg, o.imm
	case opPop:
		ins.Args.Source, ins.Args.Src0, ins.Args.Imm1 = SrcAdvanceStack, o.reg, o.imm
	case opCode:
		ins.Args.Source, ins.Args.Src0, ins.Args.Imm1 = SrcCodePage, o.reg, o.imm
	}
}

func setDestination(ins *Instruction, o operand) error {
	switch o.kind {
	case opRegister:
		ins.Args.Destination = DstRegister
		ins.Args.Dst0 = o.reg
	case opAbsolute:
		ins.Args.Destination, ins.Args.Dst0, ins.Args.Imm2 = DstAbsoluteStack, o.reg, o.imm
	case opRelative:
		ins.Args.Destination, ins.Args.Dst0, ins.Args.Imm2 = DstRelativeStack, o.reg, o.imm
	case opPush:
		ins.Args.Destination, ins.Args.Dst0, ins.Args.Imm2 = DstAdvanceStack, o.reg, o.imm
	default:
		return fmt.Errorf("%w: operand cannot be written", vmerrors.ErrMalformedOperand)
	}
	return nil
}

func register(o operand) (Register, error) {
	if o.kind != opRegister {
		return 0, fmt.Errorf("%w: register expected", vmerrors.ErrMalformedOperand)
	}
	return o.reg, nil
}

func immediate(o operand) (uint16, error) {
	if o.kind != opImmediate {
		return 0, fmt.Errorf("%w: immediate expected", vmerrors.ErrMalformedOperand)
	}
	return o.imm, nil
}

// assign places parsed operands into the fields the shape uses.
func assign(ins *Instruction, shape Shape, ops []operand) error {
	need := func(min, max int) error {
		if len(ops) < min {
			return fmt.Errorf("%w: %s needs %d operands", vmerrors.ErrMalformedOperand, ins.Opcode, min)
		}
		if len(ops) > max {
			return fmt.Errorf("%w: %s takes at most %d", vmerrors.ErrTooManyOperands, ins.Opcode, max)
		}
		return nil
	}
	var err error
	switch shape {
	case ShapeNone:
		return need(0, 0)
	case ShapeNop:
		if err = need(0, 2); err != nil {
			return err
		}
		for _, o := range ops {
			switch o.kind {
			case opPop:
				setSource(ins, o)
			case opPush:
				if err = setDestination(ins, o); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%w: nop only moves the stack pointer", vmerrors.ErrMalformedOperand)
			}
		}
		return nil
	case ShapeBinop, ShapePointer, ShapeBinop2:
		max := 3
		if shape == ShapeBinop2 {
			max = 4
		}
		if err = need(3, max); err != nil {
			return err
		}
		setSource(ins, ops[0])
		if ins.Args.Src1, err = register(ops[1]); err != nil {
			return err
		}
		if err = setDestination(ins, ops[2]); err != nil {
			return err
		}
		if len(ops) == 4 {
			ins.Args.Dst1, err = register(ops[3])
		}
		return err
	case ShapeJump:
		if err = need(1, 2); err != nil {
			return err
		}
		setSource(ins, ops[0])
		if len(ops) == 2 {
			ins.Args.Dst0, err = register(ops[1])
		}
		return err
	case ShapeNearCall:
		if err = need(3, 3); err != nil {
			return err
		}
		if ins.Args.Src0, err = register(ops[0]); err != nil {
			return err
		}
		if ins.Args.Imm1, err = immediate(ops[1]); err != nil {
			return err
		}
		ins.Args.Imm2, err = immediate(ops[2])
		return err
	case ShapeFarCall:
		if err = need(3, 3); err != nil {
			return err
		}
		if ins.Args.Src0, err = register(ops[0]); err != nil {
			return err
		}
		if ins.Args.Src1, err = register(ops[1]); err != nil {
			return err
		}
		ins.Args.Imm1, err = immediate(ops[2])
		return err
	case ShapeRet:
		if ins.ToLabel() {
			if err = need(2, 2); err != nil {
				return err
			}
			if ins.Args.Imm1, err = immediate(ops[1]); err != nil {
				return err
			}
		} else if err = need(1, 1); err != nil {
			return err
		}
		ins.Args.Src0, err = register(ops[0])
		return err
	case ShapePanic:
		if ins.ToLabel() {
			if err = need(1, 1); err != nil {
				return err
			}
			ins.Args.Imm1, err = immediate(ops[0])
			return err
		}
		return need(0, 0)
	case ShapeHeapRead, ShapePointerRead, ShapeLoad:
		max := 2
		if ins.Increment() {
			max = 3
		}
		if err = need(max, max); err != nil {
			return err
		}
		setSource(ins, ops[0])
		if ins.Args.Dst0, err = register(ops[1]); err != nil {
			return err
		}
		if max == 3 {
			ins.Args.Dst1, err = register(ops[2])
		}
		return err
	case ShapeHeapWrite, ShapeStore:
		max := 2
		if shape == ShapeHeapWrite && ins.Increment() {
			max = 3
		}
		if err = need(max, max); err != nil {
			return err
		}
		setSource(ins, ops[0])
		if ins.Args.Src1, err = register(ops[1]); err != nil {
			return err
		}
		if max == 3 {
			ins.Args.Dst0, err = register(ops[2])
		}
		return err
	case ShapeSrcSrcDst:
		if err = need(3, 3); err != nil {
			return err
		}
		if ins.Args.Src0, err = register(ops[0]); err != nil {
			return err
		}
		if ins.Args.Src1, err = register(ops[1]); err != nil {
			return err
		}
		ins.Args.Dst0, err = register(ops[2])
		return err
	case ShapeDst:
		if err = need(1, 1); err != nil {
			return err
		}
		ins.Args.Dst0, err = register(ops[0])
		return err
	case ShapeSrc:
		if err = need(1, 1); err != nil {
			return err
		}
		ins.Args.Src0, err = register(ops[0])
		return err
	}
	return nil
}

func (i Instruction) sourceString() string {
	a := i.Args
	switch a.Source {
	case SrcImmediate:
		return strconv.Itoa(int(a.Imm1))
	case SrcAbsoluteStack:
		return fmt.Sprintf("stack[r%d+%d]", a.Src0, a.Imm1)
	case SrcRelativeStack:
		return fmt.Sprintf("stack-[r%d+%d]", a.Src0, a.Imm1)
	case SrcAdvanceStack:
		return fmt.Sprintf("stack-=[r%d+%d]", a.Src0, a.Imm1)
	case SrcCodePage:
		return fmt.Sprintf("code[r%d+%d]", a.Src0, a.Imm1)
	default:
		return fmt.Sprintf("r%d", a.Src0)
	}
}

func (i Instruction) destinationString() string {
	a := i.Args
	switch a.Destination {
	case DstAbsoluteStack:
		return fmt.Sprintf("stack[r%d+%d]", a.Dst0, a.Imm2)
	case DstRelativeStack:
		return fmt.Sprintf("stack-[r%d+%d]", a.Dst0, a.Imm2)
	case DstAdvanceStack:
		return fmt.Sprintf("stack+=[r%d+%d]", a.Dst0, a.Imm2)
	default:
		return fmt.Sprintf("r%d", a.Dst0)
	}
}

// String renders the instruction in the syntax ParseAssembly accepts.
func (i Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(i.Opcode.String())
	shape := i.Opcode.Info().Shape
	for _, mod := range []string{"swap", "flags", "to_label", "inc", "first", "static", "shard"} {
		if i.Args.Variant&modifierBits[mod] != 0 && modifierAllowed(shape, i.Opcode, mod) {
			sb.WriteString("." + mod)
		}
	}
	if p := i.Args.Predicate.String(); p != "" {
		sb.WriteString("." + p)
	}
	r := func(reg Register) string { return fmt.Sprintf("r%d", reg) }
	u := func(v uint16) string { return strconv.Itoa(int(v)) }
	var ops []string
	switch shape {
	case ShapeNop:
		if i.Args.Source == SrcAdvanceStack {
			ops = append(ops, i.sourceString())
		}
		if i.Args.Destination == DstAdvanceStack {
			ops = append(ops, i.destinationString())
		}
	case ShapeBinop, ShapePointer:
		ops = []string{i.sourceString(), r(i.Args.Src1), i.destinationString()}
	case ShapeBinop2:
		ops = []string{i.sourceString(), r(i.Args.Src1), i.destinationString(), r(i.Args.Dst1)}
	case ShapeJump:
		ops = []string{i.sourceString(), r(i.Args.Dst0)}
	case ShapeNearCall:
		ops = []string{r(i.Args.Src0), u(i.Args.Imm1), u(i.Args.Imm2)}
	case ShapeFarCall:
		ops = []string{r(i.Args.Src0), r(i.Args.Src1), u(i.Args.Imm1)}
	case ShapeRet:
		ops = []string{r(i.Args.Src0)}
		if i.ToLabel() {
			ops = append(ops, u(i.Args.Imm1))
		}
	case ShapePanic:
		if i.ToLabel() {
			ops = []string{u(i.Args.Imm1)}
		}
	case ShapeHeapRead, ShapePointerRead, ShapeLoad:
		ops = []string{i.sourceString(), r(i.Args.Dst0)}
		if shape != ShapeLoad && i.Increment() {
			ops = append(ops, r(i.Args.Dst1))
		}
	case ShapeHeapWrite, ShapeStore:
		ops = []string{i.sourceString(), r(i.Args.Src1)}
		if shape == ShapeHeapWrite && i.Increment() {
			ops = append(ops, r(i.Args.Dst0))
		}
	case ShapeSrcSrcDst:
		ops = []string{r(i.Args.Src0), r(i.Args.Src1), r(i.Args.Dst0)}
	case ShapeDst:
		ops = []string{r(i.Args.Dst0)}
	case ShapeSrc:
		ops = []string{r(i.Args.Src0)}
	}
	if len(ops) > 0 {
		sb.WriteString(" " + strings.Join(ops, ", "))
	}
	return sb.String()
}
