package config

import (
	"fmt"
	"os"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/vmerrors"
	"gopkg.in/yaml.v2"
)

const (
	// LastHeapAddress is the highest address a 32-byte heap word may start at.
	LastHeapAddress = uint32(^uint32(0)) - 32

	DefaultNewFrameMemoryStipend       = 1 << 10
	DefaultNewKernelFrameMemoryStipend = 1 << 21
	DefaultErgsLimit                   = 1 << 30
)

// Settings configures a VirtualMachine. The zero value is not usable; start from DefaultSettings.
type Settings struct {
	DefaultAACodeHash      common.Hash `yaml:"default_aa_code_hash"`
	EVMInterpreterCodeHash common.Hash `yaml:"evm_interpreter_code_hash"`

	// HookAddress is the heap address whose writes suspend a hook-enabled program.
	HookAddress uint32 `yaml:"hook_address"`

	// MaxHeapSize is the exclusive end of addressable heap bytes.
	MaxHeapSize        uint32 `yaml:"max_heap_size"`
	ProtectedHeapBound uint32 `yaml:"protected_heap_bound"`

	NewFrameMemoryStipend       uint32 `yaml:"new_frame_memory_stipend"`
	NewKernelFrameMemoryStipend uint32 `yaml:"new_kernel_frame_memory_stipend"`

	ErgsLimit uint32    `yaml:"ergs_limit"`
	Costs     CostTable `yaml:"costs"`
}

// CostTable holds every calibrated price the machine charges.
type CostTable struct {
	// Opcodes overrides base costs by mnemonic, e.g. "add": 6.
	Opcodes map[string]uint32 `yaml:"opcodes"`

	StorageColdRead  uint32 `yaml:"storage_cold_read"`
	StorageWarmRead  uint32 `yaml:"storage_warm_read"`
	StorageColdWrite uint32 `yaml:"storage_cold_write"`
	StorageWarmWrite uint32 `yaml:"storage_warm_write"`

	DecommitPerCodeWord           uint32 `yaml:"decommit_per_code_word"`
	MsgValueSimulatorAdditiveCost uint32 `yaml:"msg_value_simulator_additive_cost"`
	HeapGrowthPerByte             uint32 `yaml:"heap_growth_per_byte"`

	// Far calls may pass at most Numerator/Denominator of the remaining ergs.
	FarCallGasNumerator   uint32 `yaml:"far_call_gas_numerator"`
	FarCallGasDenominator uint32 `yaml:"far_call_gas_denominator"`
}

func DefaultCostTable() CostTable {
	return CostTable{
		Opcodes:                       map[string]uint32{},
		StorageColdRead:               2000,
		StorageWarmRead:               30,
		StorageColdWrite:              5500,
		StorageWarmWrite:              45,
		DecommitPerCodeWord:           4,
		MsgValueSimulatorAdditiveCost: 11500,
		HeapGrowthPerByte:             1,
		FarCallGasNumerator:           63,
		FarCallGasDenominator:         64,
	}
}

func DefaultSettings() Settings {
	return Settings{
		DefaultAACodeHash:           common.HexToHash("0x0100055b0a8f2e1d0000000000000000000000000000000000000000000000aa"),
		EVMInterpreterCodeHash:      common.HexToHash("0x0200055b0a8f2e1d0000000000000000000000000000000000000000000000e1"),
		HookAddress:                 0,
		MaxHeapSize:                 ^uint32(0),
		ProtectedHeapBound:          0,
		NewFrameMemoryStipend:       DefaultNewFrameMemoryStipend,
		NewKernelFrameMemoryStipend: DefaultNewKernelFrameMemoryStipend,
		ErgsLimit:                   DefaultErgsLimit,
		Costs:                       DefaultCostTable(),
	}
}

// WarmReadRefund is returned by a read of a slot that is already warm.
func (c *CostTable) WarmReadRefund() uint32 {
	return c.StorageColdRead - c.StorageWarmRead
}

// WarmWriteRefund is returned by a write to a slot that is already warm.
func (c *CostTable) WarmWriteRefund() uint32 {
	return c.StorageColdWrite - c.StorageWarmWrite
}

// ColdWriteAfterWarmReadRefund is returned by the first write to a slot that was read before.
func (c *CostTable) ColdWriteAfterWarmReadRefund() uint32 {
	return c.StorageColdRead
}

func (c *CostTable) Validate() error {
	if c.StorageWarmRead > c.StorageColdRead {
		return fmt.Errorf("%w: warm read %d exceeds cold read %d", vmerrors.ErrInvalidCost, c.StorageWarmRead, c.StorageColdRead)
	}
	if c.StorageWarmWrite > c.StorageColdWrite {
		return fmt.Errorf("%w: warm write %d exceeds cold write %d", vmerrors.ErrInvalidCost, c.StorageWarmWrite, c.StorageColdWrite)
	}
	if c.FarCallGasDenominator == 0 || c.FarCallGasNumerator > c.FarCallGasDenominator {
		return fmt.Errorf("%w: far call ratio %d/%d", vmerrors.ErrInvalidCost, c.FarCallGasNumerator, c.FarCallGasDenominator)
	}
	return nil
}

func (s *Settings) Validate() error {
	if s.MaxHeapSize < 32 {
		return fmt.Errorf("%w: max heap size %d cannot hold a word", vmerrors.ErrInvalidHeapSize, s.MaxHeapSize)
	}
	if s.ProtectedHeapBound > s.MaxHeapSize {
		return fmt.Errorf("%w: protected bound %d above max heap size %d", vmerrors.ErrInvalidHeapSize, s.ProtectedHeapBound, s.MaxHeapSize)
	}
	return s.Costs.Validate()
}

// Parse overlays YAML onto the defaults and validates the result.
func Parse(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", vmerrors.ErrConfigParse, err)
	}
	if s.Costs.Opcodes == nil {
		s.Costs.Opcodes = map[string]uint32{}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Load reads settings from a YAML file. An empty path yields the defaults.
func Load(path string) (Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}
	return Parse(data)
}

func Dump(s Settings) ([]byte, error) {
	return yaml.Marshal(s)
}
