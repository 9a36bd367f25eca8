package tracing

import (
	"fmt"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/vm"
	"github.com/xlab/treeprint"
)

// CallNode is one frame of a recorded call tree.
type CallNode struct {
	Kind        vm.FrameKind
	Address     common.Address
	CodeAddress common.Address
	PC          int
	GasStart    uint32
	GasEnd      uint32
	Steps       uint64
	Result      string // empty while the frame runs
	Children    []*CallNode

	parent *CallNode
}

// GasUsed is the ergs the frame consumed itself or passed on and lost. It is only meaningful
// once the frame has returned.
func (n *CallNode) GasUsed() uint32 {
	if n.GasEnd > n.GasStart {
		return 0
	}
	return n.GasStart - n.GasEnd
}

func (n *CallNode) label() string {
	result := n.Result
	if result == "" {
		result = "running"
	}
	if n.Kind == vm.FrameNear {
		return fmt.Sprintf("near @%d gas=%d steps=%d %s", n.PC, n.GasStart, n.Steps, result)
	}
	s := fmt.Sprintf("%s gas=%d steps=%d %s", n.Address, n.GasStart, n.Steps, result)
	if n.CodeAddress != n.Address {
		s += " code=" + n.CodeAddress.String()
	}
	return s
}

// CallTree records the shape of a run: every far and near call with its gas and outcome.
type CallTree struct {
	root    *CallNode
	current *CallNode
}

func NewCallTree() *CallTree {
	return &CallTree{}
}

// Root is nil until the first instruction executes.
func (t *CallTree) Root() *CallNode {
	return t.root
}

func (t *CallTree) ensureRoot(s vm.StateInterface) {
	if t.root != nil {
		return
	}
	f, _ := s.CallframeAt(s.NumberOfCallframes() - 1)
	t.root = &CallNode{Kind: vm.FrameFar, Address: f.Address, CodeAddress: f.CodeAddress, PC: f.PC, GasStart: f.Gas}
	t.current = t.root
}

func (t *CallTree) BeforeInstruction(_ program.Opcode, s vm.StateInterface) {
	t.ensureRoot(s)
}

func (t *CallTree) AfterInstruction(program.Opcode, vm.StateInterface) vm.ShouldStop {
	if t.current != nil {
		t.current.Steps++
	}
	return vm.Continue
}

func (t *CallTree) OnExtraProverCycles(vm.CycleStats) {}

func (t *CallTree) OnFrameEnter(kind vm.FrameKind, s vm.StateInterface) {
	t.ensureRoot(s)
	f, _ := s.CallframeAt(0)
	node := &CallNode{
		Kind:        kind,
		Address:     f.Address,
		CodeAddress: f.CodeAddress,
		PC:          f.PC,
		GasStart:    f.Gas,
		parent:      t.current,
	}
	if t.current != nil {
		t.current.Children = append(t.current.Children, node)
	}
	t.current = node
}

func (t *CallTree) OnFrameExit(_ vm.FrameKind, ret vm.ReturnKind, s vm.StateInterface) {
	if t.current == nil {
		return
	}
	f, _ := s.CallframeAt(0)
	t.current.GasEnd = f.Gas
	t.current.Result = ret.String()
	t.current = t.current.parent
}

// Finish records the end of the run on the root when the root frame never returned, e.g.
// a fatal stop or a suspension.
func (t *CallTree) Finish(end vm.ExecutionEnd) {
	if t.root != nil && t.root.Result == "" {
		t.root.Result = end.Kind.String()
	}
}

// Tree renders the recorded calls.
func (t *CallTree) Tree() treeprint.Tree {
	tree := treeprint.New()
	if t.root == nil {
		tree.SetValue("(empty)")
		return tree
	}
	tree.SetValue(t.root.label())
	addChildren(tree, t.root)
	return tree
}

func addChildren(branch treeprint.Tree, n *CallNode) {
	for _, c := range n.Children {
		if len(c.Children) == 0 {
			branch.AddNode(c.label())
			continue
		}
		addChildren(branch.AddBranch(c.label()), c)
	}
}

func (t *CallTree) String() string {
	return t.Tree().String()
}

var (
	_ vm.Tracer      = (*CallTree)(nil)
	_ vm.FrameTracer = (*CallTree)(nil)
)
