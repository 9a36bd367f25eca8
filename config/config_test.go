package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/eravm/vmerrors"
	"github.com/stretchr/testify/require"
)

func TestDefaultRefunds(t *testing.T) {
	c := DefaultCostTable()
	require.Equal(t, uint32(1970), c.WarmReadRefund())
	require.Equal(t, uint32(5455), c.WarmWriteRefund())
	require.Equal(t, uint32(2000), c.ColdWriteAfterWarmReadRefund())
	s := DefaultSettings()
	require.NoError(t, s.Validate())
}

func TestParseOverlaysDefaults(t *testing.T) {
	s, err := Parse([]byte(`
max_heap_size: 65536
protected_heap_bound: 1024
costs:
  opcodes:
    add: 9
  storage_warm_read: 40
`))
	require.NoError(t, err)
	require.Equal(t, uint32(65536), s.MaxHeapSize)
	require.Equal(t, uint32(1024), s.ProtectedHeapBound)
	require.Equal(t, uint32(9), s.Costs.Opcodes["add"])
	require.Equal(t, uint32(40), s.Costs.StorageWarmRead)
	require.Equal(t, uint32(2000), s.Costs.StorageColdRead)
	require.Equal(t, DefaultSettings().DefaultAACodeHash, s.DefaultAACodeHash)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse([]byte("max_heap_size: [1"))
	require.ErrorIs(t, err, vmerrors.ErrConfigParse)

	_, err = Parse([]byte("unknown_field: 1"))
	require.ErrorIs(t, err, vmerrors.ErrConfigParse)

	_, err = Parse([]byte("costs:\n  storage_warm_write: 9000\n"))
	require.ErrorIs(t, err, vmerrors.ErrInvalidCost)

	_, err = Parse([]byte("max_heap_size: 100\nprotected_heap_bound: 200\n"))
	require.ErrorIs(t, err, vmerrors.ErrInvalidHeapSize)
}

func TestDumpLoadRoundTrip(t *testing.T) {
	s := DefaultSettings()
	s.HookAddress = 0x1234
	data, err := Dump(s)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, s, loaded)

	def, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), def)
}
