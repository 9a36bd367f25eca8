package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/colorfulnotion/eravm/program"
	"github.com/spf13/cobra"
)

func newDisasmCmd() *cobra.Command {
	var raw, stats bool
	cmd := &cobra.Command{
		Use:   "disasm <bytecode>",
		Short: "Print the instructions of a program in assembly syntax",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := loadBytecode(args[0])
			if err != nil {
				return err
			}
			if len(code)%program.WordSize != 0 {
				return fmt.Errorf("%s: %d bytes is not a whole number of words", args[0], len(code))
			}
			if err := disassemble(cmd, code, raw); err != nil {
				return err
			}
			if stats {
				return printStats(cmd, code)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "annotate each instruction with its pc and encoding")
	cmd.Flags().BoolVar(&stats, "stats", false, "append instruction and basic block statistics")
	return cmd
}

func printStats(cmd *cobra.Command, code []byte) error {
	p, err := program.New(code, false)
	if err != nil {
		return err
	}
	st := p.Analyze()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "; instructions %d, basic blocks %d, illegal %d\n", st.InstructionCount, st.BasicBlockCount, st.IllegalCount)

	byCategory := make(map[program.InstructionCategory]int)
	for op, n := range st.OpcodeDistribution {
		byCategory[program.GetInstructionCategory(op)] += n
	}
	categories := make([]program.InstructionCategory, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	for _, c := range categories {
		fmt.Fprintf(out, ";   %-12s %d\n", program.GetCategoryName(c), byCategory[c])
	}
	return nil
}

func disassemble(cmd *cobra.Command, code []byte, raw bool) error {
	out := cmd.OutOrStdout()
	n := len(code) / 8
	// trailing zero words are padding
	for n > 0 && binary.BigEndian.Uint64(code[(n-1)*8:]) == 0 {
		n--
	}
	for pc := 0; pc < n; pc++ {
		word := binary.BigEndian.Uint64(code[pc*8:])
		ins, err := program.Decode(word)
		if err != nil {
			fmt.Fprintf(out, "\t; %04d %016x %v\n", pc, word, err)
			continue
		}
		if raw {
			fmt.Fprintf(out, "\t%-40s ; %04d %016x\n", ins.String(), pc, word)
		} else {
			fmt.Fprintf(out, "\t%s\n", ins.String())
		}
	}
	return nil
}

func newAssembleCmd() *cobra.Command {
	var (
		out     string
		asBytes bool
	)
	cmd := &cobra.Command{
		Use:   "assemble <file.asm>",
		Short: "Assemble a program into bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			code, err := program.AssembleText(string(src))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			data := code
			if !asBytes {
				data = []byte(fmt.Sprintf("0x%x\n", code))
			}
			if out != "" {
				return os.WriteFile(out, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write bytecode here instead of stdout")
	cmd.Flags().BoolVar(&asBytes, "binary", false, "write raw bytes instead of hex")
	return cmd
}
