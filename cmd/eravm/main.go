// eravm runs, assembles and inspects EraVM bytecode.
package main

import (
	"fmt"
	"os"

	"github.com/colorfulnotion/eravm/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func newRootCmd() *cobra.Command {
	var (
		logLevel string
		debug    string
	)
	rootCmd := &cobra.Command{
		Use:           "eravm",
		Short:         "EraVM bytecode interpreter",
		Version:       fmt.Sprintf("%s (%s, %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			if w := cmd.ErrOrStderr(); w == os.Stderr {
				log.InitLogger(logLevel)
			} else {
				log.InitWriterLogger(w, lvl)
			}
			log.EnableModules(debug)
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "comma separated modules with trace and debug output (vm,frames,worlddiff,...)")

	rootCmd.AddCommand(
		newRunCmd(),
		newDisasmCmd(),
		newAssembleCmd(),
		newDiffCmd(),
		newConsoleCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
