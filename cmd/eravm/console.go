package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/tracing"
	"github.com/colorfulnotion/eravm/vm"
	"github.com/dop251/goja"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

const consoleHelp = `step(n)            execute n instructions (default 1)
run()              execute until the program ends or a breakpoint is hit
breakpoint(pc)     stop before pc; clearBreakpoints() removes all
regs(), reg(i)     registers as hex, pointers marked with *
pc(), flags()      program counter and condition flags of the current frame
frames()           the call stack, innermost first
heap(id, offset)   one word of a heap
storage(addr,key)  a storage slot as the running program sees it
tree()             call tree so far
outcome()          the run outcome once finished
exit               leave the console`

// console drives a machine one script call at a time.
type console struct {
	s       *session
	js      *goja.Runtime
	stepper *tracing.Stepper
	tree    *tracing.CallTree
	cycles  *vm.CycleCounter
	tracers vm.Tracers
	out     io.Writer
	end     *vm.ExecutionEnd
	hooks   []uint32
}

func newConsole(s *session, out io.Writer) *console {
	c := &console{
		s:       s,
		js:      goja.New(),
		stepper: tracing.NewStepper(),
		tree:    tracing.NewCallTree(),
		cycles:  &vm.CycleCounter{},
		out:     out,
	}
	c.tracers = vm.Tracers{c.stepper, c.tree, c.cycles}
	c.bind()
	return c
}

func (c *console) bind() {
	js := c.js
	js.Set("step", func(call goja.FunctionCall) goja.Value {
		n := int64(1)
		if arg := call.Argument(0); !goja.IsUndefined(arg) {
			n = arg.ToInteger()
		}
		if n <= 0 {
			panic(js.NewTypeError("step count must be positive"))
		}
		c.stepper.Limit(uint64(n))
		return js.ToValue(c.advance())
	})
	js.Set("run", func() string {
		c.stepper.Limit(0)
		return c.advance()
	})
	js.Set("breakpoint", func(pc int) { c.stepper.Break(pc) })
	js.Set("clearBreakpoints", func() { c.stepper.Clear() })
	js.Set("regs", func() []string {
		out := make([]string, 16)
		for i := range out {
			out[i] = c.reg(uint8(i))
		}
		return out
	})
	js.Set("reg", func(i int) string {
		if i < 0 || i > 15 {
			panic(js.NewTypeError("register %d out of range", i))
		}
		return c.reg(uint8(i))
	})
	js.Set("pc", func() int {
		f, _ := c.s.machine.CallframeAt(0)
		return f.PC
	})
	js.Set("flags", func() map[string]bool {
		f := c.s.machine.Flags()
		return map[string]bool{"lt": f.LessThan(), "eq": f.Equal(), "gt": f.GreaterThan()}
	})
	js.Set("frames", func() []map[string]interface{} {
		var out []map[string]interface{}
		for i := 0; ; i++ {
			f, ok := c.s.machine.CallframeAt(i)
			if !ok {
				return out
			}
			out = append(out, map[string]interface{}{
				"kind":    f.Kind.String(),
				"address": f.Address.String(),
				"code":    f.CodeAddress.String(),
				"pc":      f.PC,
				"sp":      f.SP,
				"gas":     f.Gas,
				"static":  f.IsStatic,
			})
		}
	})
	js.Set("heap", func(id uint32, offset uint32) string {
		w := c.s.machine.ReadHeapWord(memory.HeapID(id), offset)
		return w.Hex()
	})
	js.Set("storage", func(addr string, key string) string {
		k, err := parseWord(key)
		if err != nil {
			panic(js.NewTypeError("key: %v", err))
		}
		a := common.HexToAddress(addr)
		if v, ok := c.s.machine.StorageValue(a, k); ok {
			return v.Hex()
		}
		v := c.s.world.ReadStorage(a, k).Value
		return v.Hex()
	})
	js.Set("tree", func() string { return c.tree.String() })
	js.Set("outcome", func() goja.Value {
		if c.end == nil {
			return goja.Null()
		}
		data, err := newReport(c.s.machine.Outcome(*c.end), c.hooks, c.cycles.Cycles).JSON()
		if err != nil {
			panic(js.NewGoError(err))
		}
		var v interface{}
		json.Unmarshal(data, &v)
		return js.ToValue(v)
	})
	js.Set("help", func() string { return consoleHelp })
	js.Set("print", func(args ...goja.Value) {
		for _, arg := range args {
			fmt.Fprintln(c.out, formatValue(arg))
		}
	})
}

func (c *console) reg(i uint8) string {
	v, isPointer := c.s.machine.ReadRegister(i)
	if isPointer {
		return v.Hex() + "*"
	}
	return v.Hex()
}

// advance runs until the stepper stops the machine or the program ends.
func (c *console) advance() string {
	if c.end != nil {
		return c.end.Kind.String()
	}
	end := c.s.machine.Run(c.s.world, c.tracers)
	switch end.Kind {
	case vm.StoppedByTracer:
		return end.Kind.String()
	case vm.SuspendedOnHook:
		c.hooks = append(c.hooks, end.Hook)
		return fmt.Sprintf("%s %d", end.Kind, end.Hook)
	}
	c.tree.Finish(end)
	c.end = &end
	if end.Err != nil {
		return fmt.Sprintf("%s: %v", end.Kind, end.Err)
	}
	return end.Kind.String()
}

// eval runs one line of script and renders its value.
func (c *console) eval(line string) (string, error) {
	v, err := c.js.RunString(line)
	if err != nil {
		return "", err
	}
	return formatValue(v), nil
}

func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	switch x := v.Export().(type) {
	case string:
		return x
	case int64, float64, bool:
		return v.String()
	default:
		data, err := json.MarshalIndent(x, "", "  ")
		if err != nil {
			return v.String()
		}
		return string(data)
	}
}

func parseWord(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	w := new(uint256.Int)
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		err = w.SetFromHex(s)
	} else {
		err = w.SetFromDecimal(s)
	}
	return w, err
}

func newConsoleCmd() *cobra.Command {
	o := &runOptions{}
	var script string
	cmd := &cobra.Command{
		Use:   "console <bytecode>",
		Short: "Step through a program interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.load(o, args[0]); err != nil {
				return err
			}
			c := newConsole(s, cmd.OutOrStdout())
			if script != "" {
				src, err := os.ReadFile(script)
				if err != nil {
					return err
				}
				out, err := c.eval(string(src))
				if err != nil {
					return err
				}
				if out != "" {
					fmt.Fprintln(cmd.OutOrStdout(), out)
				}
				return nil
			}
			return c.repl()
		},
	}
	o.addFlags(cmd)
	cmd.Flags().StringVar(&script, "script", "", "run a JavaScript file instead of reading commands")
	return cmd
}

func (c *console) repl() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "eravm> ",
		HistoryFile:     filepath.Join(os.TempDir(), "eravm_console_history.txt"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          c.out,
	})
	if err != nil {
		return fmt.Errorf("start readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(c.out, "EraVM console. Type help() for commands.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		out, err := c.eval(line)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(c.out, out)
		}
	}
}
