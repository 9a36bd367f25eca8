package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/program"
	"github.com/colorfulnotion/eravm/storage"
)

// loadBytecode reads a program from path. Files ending in .asm are assembled, anything
// else is taken as hex text (with or without 0x) or, failing that, raw bytes.
func loadBytecode(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".asm") {
		code, err := program.AssembleText(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return code, nil
	}
	text := strings.TrimSpace(string(data))
	text = strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
	text = strings.Join(strings.Fields(text), "")
	if code, err := hex.DecodeString(text); err == nil {
		return code, nil
	}
	return bytes.Clone(data), nil
}

func loadProgram(path string, hooks bool) (*program.Program, []byte, error) {
	code, err := loadBytecode(path)
	if err != nil {
		return nil, nil, err
	}
	p, err := program.New(code, hooks)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, code, nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// deployAll handles --deploy address=file pairs.
func deployAll(w *storage.LevelWorld, specs []string) error {
	for _, d := range specs {
		addr, path, ok := strings.Cut(d, "=")
		if !ok {
			return fmt.Errorf("deploy %q: want address=file", d)
		}
		code, err := loadBytecode(path)
		if err != nil {
			return err
		}
		if _, err := w.Deploy(common.HexToAddress(addr), code); err != nil {
			return err
		}
	}
	return nil
}
