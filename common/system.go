package common

// Addresses of system contracts the machine treats specially.
const (
	EcrecoverAddress      = 0x01
	Sha256Address         = 0x02
	Bn254AddAddress       = 0x06
	Bn254MulAddress       = 0x07
	Bn254PairingAddress   = 0x08
	Secp256r1Address      = 0x100
	DeployerAddress       = 0x8006
	MsgValueAddress       = 0x8009
	EventWriterAddress    = 0x800d
	KeccakAddress         = 0x8010
	KernelAddressSpaceEnd = 1 << 16
)

var (
	DeployerSystemContract = Uint64ToAddress(DeployerAddress)
	MsgValueSimulator      = Uint64ToAddress(MsgValueAddress)
	EventWriter            = Uint64ToAddress(EventWriterAddress)
)
