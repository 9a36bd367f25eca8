package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/storage"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

const rootAsm = `
	add 1, r0, r2
	shl.swap 16, r2, r2
	add 0x2345, r2, r2
	add 20000, r0, r1
	shl.swap 192, r1, r1
	far_call r1, r2, fail
	ret r0
fail:
	revert r0
`

const calleeAsm = `
	add 7, r0, r1
	add 70, r0, r2
	sstore r1, r2
	ret r0
`

var contract = common.Uint64ToAddress(0x12345)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestAssembleAndDisasm(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "prog.asm", "add 1, r0, r1\nret r0\n")
	hexPath := filepath.Join(dir, "prog.hex")

	_, _, err := execute(t, "assemble", src, "-o", hexPath)
	require.NoError(t, err)
	data, err := os.ReadFile(hexPath)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("0x")))
	require.Len(t, bytes.TrimSpace(data), 2+64)

	out, _, err := execute(t, "disasm", hexPath)
	require.NoError(t, err)
	require.Contains(t, out, "add")
	require.Contains(t, out, "ret")
	require.Equal(t, 2, bytes.Count([]byte(out), []byte("\n")))

	out, _, err = execute(t, "disasm", "--raw", src)
	require.NoError(t, err)
	require.Contains(t, out, "; 0001")

	full := writeFile(t, dir, "full.asm", "add 1, r0, r1\nsub 1, r1, r1\nadd r1, r0, r2\nret r0\n")
	out, _, err = execute(t, "disasm", "--stats", full)
	require.NoError(t, err)
	require.Contains(t, out, "; instructions 4, basic blocks 1, illegal 0")
	require.Contains(t, out, "Arithmetic")
	require.Contains(t, out, "ControlFlow")
}

func TestDisasmRejectsPartialWord(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.hex", "0x0102")
	_, _, err := execute(t, "disasm", path)
	require.Error(t, err)
}

func runReport(t *testing.T, args ...string) report {
	t.Helper()
	out, _, err := execute(t, append([]string{"run"}, args...)...)
	require.NoError(t, err)
	var r report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	return r
}

func TestRunPrintsOutcome(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.asm", rootAsm)
	callee := writeFile(t, dir, "callee.asm", calleeAsm)

	r := runReport(t, root, "--deploy", "0x12345="+callee, "--gas", "1000000")
	require.Equal(t, "finished", r.Result)
	require.Empty(t, r.Error)
	require.Len(t, r.Storage, 1)
	require.Equal(t, contract, r.Storage[0].Address)
	require.Equal(t, "0x7", r.Storage[0].Key)
	require.Equal(t, "0x46", r.Storage[0].After)
	require.True(t, r.Storage[0].IsInitial)
	require.Len(t, r.Decommitted, 1)
	require.Less(t, r.ErgsLeft, uint32(1000000))
}

func TestRunMissingCalleePanics(t *testing.T) {
	root := writeFile(t, t.TempDir(), "root.asm", rootAsm)
	r := runReport(t, root)
	require.Equal(t, "reverted", r.Result)
	require.Empty(t, r.Storage)
}

func TestRunApplyPersists(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "db")
	root := writeFile(t, dir, "root.asm", rootAsm)
	callee := writeFile(t, dir, "callee.asm", calleeAsm)

	r := runReport(t, root, "--db", db, "--deploy", "0x12345="+callee, "--apply")
	require.Equal(t, "finished", r.Result)

	// The contract is already deployed in the database.
	r = runReport(t, root, "--db", db)
	require.Equal(t, "finished", r.Result)
	require.Empty(t, r.Storage)
	require.Zero(t, r.Pubdata)

	w, err := storage.NewLevelWorld(db, 0)
	require.NoError(t, err)
	defer w.Close()
	slots, err := w.Slots(contract)
	require.NoError(t, err)
	require.Equal(t, map[uint256.Int]uint256.Int{*uint256.NewInt(7): *uint256.NewInt(70)}, slots)
}

func TestRunCallTreeAndOut(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.asm", rootAsm)
	callee := writeFile(t, dir, "callee.asm", calleeAsm)
	outPath := filepath.Join(dir, "outcome.json")

	stdout, stderr, err := execute(t, "run", root, "--deploy", "0x12345="+callee, "--calltree", "--out", outPath)
	require.NoError(t, err)
	require.Empty(t, stdout)
	require.Contains(t, stderr, contract.String())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var r report
	require.NoError(t, json.Unmarshal(data, &r))
	require.Equal(t, "finished", r.Result)
}

func TestRunBadConfig(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.asm", "ret r0")
	cfg := writeFile(t, dir, "cfg.yaml", "no_such_field: 1\n")
	_, _, err := execute(t, "run", root, "--config", cfg)
	require.Error(t, err)
}

func TestDiff(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", `{"result":"finished","ergs_left":10,"storage":[]}`)
	b := writeFile(t, dir, "b.json", `{"result":"finished","ergs_left":10,"storage":[]}`)
	c := writeFile(t, dir, "c.json", `{"result":"reverted","ergs_left":4,"storage":[]}`)

	out, _, err := execute(t, "diff", a, b)
	require.NoError(t, err)
	require.Contains(t, out, "outcomes match")

	out, _, err = execute(t, "diff", "--no-color", a, c)
	require.ErrorIs(t, err, errOutcomesDiffer)
	require.Contains(t, out, "reverted")

	out, _, err = execute(t, "diff", "--ascii", "--no-color", a, c)
	require.ErrorIs(t, err, errOutcomesDiffer)
	require.Contains(t, out, "reverted")

	bad := writeFile(t, dir, "bad.json", `{`)
	_, _, err = execute(t, "diff", bad, a)
	require.Error(t, err)
	require.NotErrorIs(t, err, errOutcomesDiffer)
}

func TestConsole(t *testing.T) {
	dir := t.TempDir()
	o := &runOptions{address: "0x8001", caller: "0x0", gas: 1000000}
	o.deploy = []string{"0x12345=" + writeFile(t, dir, "callee.asm", calleeAsm)}
	s, err := o.open()
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.load(o, writeFile(t, dir, "root.asm", rootAsm)))

	var out bytes.Buffer
	c := newConsole(s, &out)
	eval := func(line string) string {
		t.Helper()
		v, err := c.eval(line)
		require.NoError(t, err)
		return v
	}

	require.Equal(t, "stopped_by_tracer", eval("step(2)"))
	require.Equal(t, "0x10000", eval("reg(2)"))
	require.Equal(t, "2", eval("pc()"))
	require.Equal(t, "false", eval("flags().eq"))

	eval("breakpoint(0)")
	require.Equal(t, "stopped_by_tracer", eval("run()"))
	require.Equal(t, "2", eval("frames().length"))
	require.Equal(t, contract.String(), eval("frames()[0].address"))
	eval("clearBreakpoints()")

	require.Equal(t, "finished", eval("run()"))
	require.Equal(t, "finished", eval("step()"))
	require.Equal(t, "0x46", eval(`storage("0x12345", "7")`))
	require.Equal(t, "finished", eval("outcome().result"))
	require.Contains(t, eval("tree()"), contract.String())

	eval(`print("hello")`)
	require.Equal(t, "hello\n", out.String())

	_, err = c.eval("reg(16)")
	require.Error(t, err)
}

func TestConsoleScript(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.asm", "add 5, r0, r3\nret r0")
	script := writeFile(t, dir, "s.js", "step(); reg(3)")
	out, _, err := execute(t, "console", root, "--script", script)
	require.NoError(t, err)
	require.Equal(t, "0x5\n", out)
}
