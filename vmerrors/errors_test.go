package vmerrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorParts(t *testing.T) {
	assert.Equal(t, "OutOfGas", GetErrorName(ErrOutOfGas))
	assert.Equal(t, "VM101", GetErrorCode(ErrOutOfGas))
	assert.Equal(t, "VM101_OutOfGas", GetErrorCodeWithName(ErrOutOfGas))
	assert.Equal(t, "Ergs exhausted in the outermost frame.", GetErrorDesc(ErrOutOfGas))
	assert.Equal(t, "No Error", GetErrorName(nil))
	assert.Equal(t, []string{"HeapOutOfBounds", "SnapshotOrder"}, GetErrorNames([]error{ErrHeapOutOfBounds, ErrSnapshotOrder}))
}

func TestWrappedErrorKeepsCode(t *testing.T) {
	wrapped := fmt.Errorf("%w at pc 12", ErrIllegalAddressing)
	assert.ErrorIs(t, wrapped, ErrIllegalAddressing)
	assert.Equal(t, "VM102", GetErrorCode(wrapped))
	assert.Equal(t, "plain", GetErrorName(fmt.Errorf("plain")))
}
