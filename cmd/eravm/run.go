package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/config"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/storage"
	"github.com/colorfulnotion/eravm/tracing"
	"github.com/colorfulnotion/eravm/vm"
	"github.com/spf13/cobra"
)

type runOptions struct {
	calldata   string
	gas        uint32
	configPath string
	dbPath     string
	address    string
	caller     string
	deploy     []string
	hooks      bool
	apply      bool
	callTree   bool
	wsAddr     string
	wsSteps    bool
	otel       string
	out        string
	trace      bool
}

// session is a machine bound to its world, shared by run and console.
type session struct {
	machine  *vm.VirtualMachine
	world    *storage.LevelWorld
	settings config.Settings
}

func (o *runOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.calldata, "calldata", "", "hex calldata passed to the root frame")
	f.Uint32Var(&o.gas, "gas", 0, "ergs for the root frame (default: ergs_limit from the config)")
	f.StringVar(&o.configPath, "config", "", "YAML settings overriding the defaults")
	f.StringVar(&o.dbPath, "db", "", "LevelDB world directory (default: in memory)")
	f.StringVar(&o.address, "address", "0x8001", "address the program runs at")
	f.StringVar(&o.caller, "caller", "0x0", "caller of the root frame")
	f.StringArrayVar(&o.deploy, "deploy", nil, "deploy address=file before running (repeatable)")
	f.BoolVar(&o.hooks, "hooks", false, "enable hooks in every program")
}

func (o *runOptions) open() (*session, error) {
	settings, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	var opts []storage.Option
	if o.hooks {
		opts = append(opts, storage.WithHooks())
	}
	world, err := storage.NewLevelWorld(o.dbPath, 0, opts...)
	if err != nil {
		return nil, err
	}
	if err := deployAll(world, o.deploy); err != nil {
		world.Close()
		return nil, err
	}
	return &session{world: world, settings: settings}, nil
}

func (s *session) load(o *runOptions, path string) error {
	prog, _, err := loadProgram(path, o.hooks)
	if err != nil {
		return err
	}
	calldata, err := parseHex(o.calldata)
	if err != nil {
		return fmt.Errorf("calldata: %w", err)
	}
	gas := o.gas
	if gas == 0 {
		gas = s.settings.ErgsLimit
	}
	machine, err := vm.New(common.HexToAddress(o.address), prog, common.HexToAddress(o.caller), calldata, gas, s.settings)
	if err != nil {
		return err
	}
	s.machine = machine
	return nil
}

func (s *session) Close() error {
	return s.world.Close()
}

// finisher is implemented by tracers that report once the run is over.
type finisher interface {
	Finish(end vm.ExecutionEnd)
}

func newRunCmd() *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <bytecode>",
		Short: "Run a program and print its outcome as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(cmd, o, args[0])
		},
	}
	o.addFlags(cmd)
	f := cmd.Flags()
	f.BoolVar(&o.apply, "apply", false, "persist storage changes to --db after a finished run")
	f.BoolVar(&o.callTree, "calltree", false, "print the call tree to stderr")
	f.StringVar(&o.wsAddr, "ws", "", "stream frame events to websocket viewers on this address")
	f.BoolVar(&o.wsSteps, "ws-steps", false, "also stream every instruction")
	f.StringVar(&o.otel, "otel", "", "export spans to this OTLP/HTTP endpoint (host:port)")
	f.StringVarP(&o.out, "out", "o", "", "write the outcome JSON here instead of stdout")
	f.BoolVar(&o.trace, "trace", false, "log every instruction")
	return cmd
}

func runProgram(cmd *cobra.Command, o *runOptions, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := o.open()
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.load(o, path); err != nil {
		return err
	}

	cycles := &vm.CycleCounter{}
	tracers := vm.Tracers{cycles}
	var finishers []finisher

	var tree *tracing.CallTree
	if o.callTree {
		tree = tracing.NewCallTree()
		tracers = append(tracers, tree)
		finishers = append(finishers, tree)
	}
	if o.trace {
		tracers = append(tracers, tracing.NewLoggingTracer())
	}
	if o.wsAddr != "" {
		fs := tracing.NewFrameServer()
		fs.Steps = o.wsSteps
		fs.Start(o.wsAddr)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			fs.Close(sctx)
		}()
		tracers = append(tracers, fs)
		finishers = append(finishers, fs)
	}
	if o.otel != "" {
		tp, err := tracing.NewOTLPProvider(ctx, o.otel)
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Warn(log.CLI, "span export", "err", err)
			}
		}()
		spans := tracing.NewSpanTracer(ctx, tp)
		tracers = append(tracers, spans)
		finishers = append(finishers, spans)
	}

	var hooks []uint32
	start := time.Now()
	end := s.machine.Run(s.world, tracers)
	for end.Kind == vm.SuspendedOnHook {
		log.Debug(log.CLI, "hook", "value", end.Hook)
		hooks = append(hooks, end.Hook)
		end = s.machine.Resume(s.world, tracers)
	}
	for _, f := range finishers {
		f.Finish(end)
	}
	outcome := s.machine.Outcome(end)
	log.Info(log.CLI, "run finished", "result", end.Kind, "ergs_left", outcome.ErgsLeft,
		"pubdata", outcome.Pubdata, "elapsed", time.Since(start))

	if tree != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), tree.String())
	}
	if o.apply && end.Kind == vm.ProgramFinished {
		if err := s.world.Apply(outcome.Storage); err != nil {
			return err
		}
	}

	data, err := newReport(outcome, hooks, cycles.Cycles).JSON()
	if err != nil {
		return err
	}
	if o.out != "" {
		return os.WriteFile(o.out, append(data, '\n'), 0o644)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
