package program

import (
	"testing"

	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsMisalignedBytecode(t *testing.T) {
	_, err := New(make([]byte, 33), false)
	require.ErrorIs(t, err, vmerrors.ErrMisalignedBytecode)
}

func TestNewAndFromWordsAgree(t *testing.T) {
	code, err := AssembleText("add 1, r0, r1\nadd 2, r1, r2\nret r1\nsstore r1, r2\nsub r1, r1, r1")
	require.NoError(t, err)
	require.Len(t, code, 64)

	p, err := New(code, true)
	require.NoError(t, err)
	require.True(t, p.HooksEnabled())
	require.Len(t, p.CodePage(), 2)

	q := FromWords(p.CodePage(), false)
	require.Equal(t, p.Len(), q.Len())
	for pc := 0; pc < p.Len(); pc++ {
		require.Equal(t, *p.Instruction(pc), *q.Instruction(pc))
	}
	require.Equal(t, ADD, p.Instruction(0).Opcode)
	require.Equal(t, RET, p.Instruction(2).Opcode)
	require.Equal(t, SUB, p.Instruction(4).Opcode)
	// padding and terminator decode as invalid
	require.Equal(t, INVALID, p.Instruction(5).Opcode)
	require.Equal(t, INVALID, p.Instruction(8).Opcode)
	require.Equal(t, INVALID, p.Instruction(1000).Opcode)
	require.Equal(t, code, p.Bytes())
}

func TestIllegalInstructionKeepsDiagnostic(t *testing.T) {
	bad := Encode(Instruction{Opcode: SLOAD, Args: Arguments{Predicate: Always, Source: SrcAbsoluteStack}})
	word := new(uint256.Int).SetUint64(bad)
	word.Lsh(word, 192)
	p := FromWords([]uint256.Int{*word}, false)
	require.Equal(t, ILLEGAL, p.Instruction(0).Opcode)
	require.ErrorIs(t, p.Fault(0), vmerrors.ErrIllegalAddressing)
}

func TestCodeWord(t *testing.T) {
	w := uint256.NewInt(42)
	p := FromInstructions(nil, []uint256.Int{*w})
	got := p.CodeWord(0)
	require.Equal(t, uint64(42), got.Uint64())
	got = p.CodeWord(1)
	require.True(t, got.IsZero())
	require.Equal(t, INVALID, p.Instruction(0).Opcode)
}

func TestProgramTooLongWrapsToStart(t *testing.T) {
	words := make([]uint256.Int, MaxInstructions/InstructionsPerWord)
	p := FromWords(words, false)
	require.Equal(t, MaxInstructions+1, p.Len())
	require.Equal(t, JUMP_TO_START, p.Instruction(MaxInstructions).Opcode)
}
