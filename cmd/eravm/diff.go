package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/nsf/jsondiff"
	"github.com/spf13/cobra"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

var errOutcomesDiffer = errors.New("outcomes differ")

func newDiffCmd() *cobra.Command {
	var (
		ascii   bool
		noColor bool
	)
	cmd := &cobra.Command{
		Use:   "diff <a.json> <b.json>",
		Short: "Compare two run outcomes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			b, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var text string
			var same bool
			if ascii {
				text, same, err = asciiDiff(a, b, !noColor)
			} else {
				text, same, err = consoleDiff(a, b, !noColor)
			}
			if err != nil {
				return err
			}
			if same {
				fmt.Fprintln(cmd.OutOrStdout(), "outcomes match")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return errOutcomesDiffer
		},
	}
	cmd.Flags().BoolVar(&ascii, "ascii", false, "line-oriented diff with +/- markers")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colours")
	return cmd
}

func consoleDiff(a, b []byte, color bool) (string, bool, error) {
	opts := jsondiff.DefaultConsoleOptions()
	if !color {
		opts = jsondiff.DefaultJSONOptions()
	}
	diff, text := jsondiff.Compare(a, b, &opts)
	switch diff {
	case jsondiff.FullMatch:
		return text, true, nil
	case jsondiff.FirstArgIsInvalidJson, jsondiff.BothArgsAreInvalidJson:
		return "", false, errors.New("first outcome is not valid JSON")
	case jsondiff.SecondArgIsInvalidJson:
		return "", false, errors.New("second outcome is not valid JSON")
	}
	return text, false, nil
}

func asciiDiff(a, b []byte, color bool) (string, bool, error) {
	delta, err := gojsondiff.New().Compare(a, b)
	if err != nil {
		return "", false, fmt.Errorf("diffing JSON: %w", err)
	}
	if !delta.Modified() {
		return "", true, nil
	}
	var left interface{}
	if err := json.Unmarshal(a, &left); err != nil {
		return "", false, err
	}
	f := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       color,
	})
	text, err := f.Format(delta)
	return text, false, err
}
