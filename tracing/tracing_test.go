package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/config"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/storage"
	"github.com/colorfulnotion/eravm/vm"
	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var (
	bootloader = common.Uint64ToAddress(0x8001)
	contract   = common.Uint64ToAddress(0x12345)
)

const rootCode = `
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

const contractCode = `
	near_call r0, sub, sub
	ret r0
sub:
	add 5, r0, r1
	ret r0
`

func newMachine(t *testing.T, root, callee string) (*vm.VirtualMachine, *storage.LevelWorld) {
	t.Helper()
	w, err := storage.NewLevelWorld("", 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	if callee != "" {
		code, err := program.AssembleText(callee)
		require.NoError(t, err)
		_, err = w.Deploy(contract, code)
		require.NoError(t, err)
	}
	code, err := program.AssembleText(root)
	require.NoError(t, err)
	p, err := program.New(code, false)
	require.NoError(t, err)
	machine, err := vm.New(bootloader, p, common.Address{}, nil, 1000000, config.DefaultSettings())
	require.NoError(t, err)
	return machine, w
}

func TestCallTree(t *testing.T) {
	machine, w := newMachine(t, rootCode, contractCode)
	tree := NewCallTree()
	end := machine.Run(w, tree)
	require.Equal(t, vm.ProgramFinished, end.Kind)
	tree.Finish(end)

	root := tree.Root()
	require.NotNil(t, root)
	require.Equal(t, bootloader, root.Address)
	require.Equal(t, "ret", root.Result)
	require.Len(t, root.Children, 1)

	far := root.Children[0]
	require.Equal(t, vm.FrameFar, far.Kind)
	require.Equal(t, contract, far.Address)
	require.Equal(t, "ret", far.Result)
	require.Len(t, far.Children, 1)
	require.Equal(t, vm.FrameNear, far.Children[0].Kind)
	require.Equal(t, 2, far.Children[0].PC)
	require.Greater(t, far.GasUsed(), uint32(0))

	out := tree.String()
	require.Contains(t, out, bootloader.String())
	require.Contains(t, out, contract.String())
	require.Contains(t, out, "near @2")
}

func TestCallTreeRecordsRevert(t *testing.T) {
	machine, w := newMachine(t, rootCode, "revert r0")
	tree := NewCallTree()
	end := machine.Run(w, tree)
	require.Equal(t, vm.Reverted, end.Kind)
	require.Equal(t, "revert", tree.Root().Children[0].Result)
	require.Equal(t, "revert", tree.Root().Result)
}

func TestCallTreeEmpty(t *testing.T) {
	require.Contains(t, NewCallTree().String(), "(empty)")
}

func TestSpanTracer(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	machine, w := newMachine(t, rootCode, contractCode)
	spans := NewSpanTracer(context.Background(), tp)
	end := machine.Run(w, spans)
	require.Equal(t, vm.ProgramFinished, end.Kind)
	spans.Finish(end)

	ended := sr.Ended()
	require.Len(t, ended, 2)
	child, root := ended[0], ended[1]
	require.Equal(t, "eravm.run", root.Name())
	require.Equal(t, "far_call "+contract.String(), child.Name())
	require.Equal(t, root.SpanContext().SpanID(), child.Parent().SpanID())
	require.Equal(t, otelcodes.Ok, child.Status().Code)

	var names []string
	for _, ev := range child.Events() {
		names = append(names, ev.Name)
	}
	require.Equal(t, []string{"near_call", "near_return"}, names)
}

func TestSpanTracerClosesOnStop(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	machine, w := newMachine(t, rootCode, contractCode)
	spans := NewSpanTracer(context.Background(), tp)
	stepper := NewStepper()
	stepper.Limit(7)
	end := machine.Run(w, vm.Tracers{spans, stepper})
	require.Equal(t, vm.StoppedByTracer, end.Kind)
	require.Empty(t, sr.Ended())

	spans.Finish(end)
	ended := sr.Ended()
	require.Len(t, ended, 2)
	require.Equal(t, otelcodes.Error, ended[1].Status().Code)
}

func TestStepperLimit(t *testing.T) {
	machine, w := newMachine(t, "add 1, r0, r1\nadd 2, r0, r2\nadd 3, r0, r3\nret r0", "")
	s := NewStepper()
	s.Limit(2)
	end := machine.Run(w, s)
	require.Equal(t, vm.StoppedByTracer, end.Kind)
	require.Equal(t, uint64(2), s.Executed)
	r3, _ := machine.ReadRegister(3)
	require.True(t, r3.IsZero())

	s.Limit(0)
	end = machine.Run(w, s)
	require.Equal(t, vm.ProgramFinished, end.Kind)
	require.Equal(t, uint64(4), s.Executed)
	require.Equal(t, program.RET, s.LastOp)
}

func TestStepperBreakpoints(t *testing.T) {
	machine, w := newMachine(t, "add 1, r0, r1\nadd 2, r0, r2\nadd 3, r0, r3\nret r0", "")
	s := NewStepper()
	s.Break(2)
	end := machine.Run(w, s)
	require.Equal(t, vm.StoppedByTracer, end.Kind)
	require.True(t, s.HitBreakpoint)
	f, ok := machine.CallframeAt(0)
	require.True(t, ok)
	require.Equal(t, 2, f.PC)
	r2, _ := machine.ReadRegister(2)
	require.Equal(t, uint64(2), r2.Uint64())

	end = machine.Run(w, s)
	require.Equal(t, vm.ProgramFinished, end.Kind)
	require.False(t, s.HitBreakpoint)
}

func TestStepperBreakOnOpcode(t *testing.T) {
	machine, w := newMachine(t, rootCode, contractCode)
	s := NewStepper()
	s.BreakOn(program.FAR_CALL)
	end := machine.Run(w, s)
	require.Equal(t, vm.StoppedByTracer, end.Kind)
	require.Equal(t, 2, machine.NumberOfCallframes())

	s.Clear()
	require.Equal(t, vm.ProgramFinished, machine.Run(w, s).Kind)
}

func TestLoggingTracer(t *testing.T) {
	var buf bytes.Buffer
	log.InitWriterLogger(&buf, log.LevelTrace)
	defer log.SetDefault(log.NewLogger(gethlog.DiscardHandler()))

	machine, w := newMachine(t, rootCode, contractCode)
	lt := NewLoggingTracer()
	require.Equal(t, vm.ProgramFinished, machine.Run(w, lt).Kind)
	require.Greater(t, lt.Steps(), uint64(6))
	out := buf.String()
	require.Contains(t, out, "exec")
	require.Contains(t, out, "enter")
	require.Contains(t, out, "exit")
}

func TestFrameServer(t *testing.T) {
	fs := NewFrameServer()
	srv := httptest.NewServer(fs.Handler())
	defer srv.Close()
	defer fs.Close(context.Background())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return fs.Clients() == 1 }, time.Second, 10*time.Millisecond)

	machine, w := newMachine(t, rootCode, contractCode)
	end := machine.Run(w, fs)
	require.Equal(t, vm.ProgramFinished, end.Kind)
	fs.Finish(end)

	var got []string
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev FrameEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		got = append(got, ev.Type+":"+ev.Kind)
		if ev.Type == "end" {
			require.Equal(t, "finished", ev.Result)
			break
		}
	}
	require.Equal(t, []string{"enter:far", "enter:near", "exit:near", "exit:far", "exit:far", "end:"}, got)
}
