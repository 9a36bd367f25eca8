package precompiles

import (
	"crypto/sha256"
	"testing"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/memory"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heapWith(t *testing.T, data []byte) *memory.Heaps {
	t.Helper()
	heaps := memory.NewHeaps(nil)
	padded := common.PadToMultipleOfN(data, 32)
	for i := 0; i < len(padded); i += 32 {
		w := common.WordFromBytes(padded[i : i+32])
		heaps.WriteU256(memory.HeapFirst, uint32(i), &w)
	}
	return heaps
}

func wordsInput(t *testing.T, words ...uint256.Int) Input {
	t.Helper()
	heaps := memory.NewHeaps(nil)
	for i := range words {
		heaps.WriteU256(memory.HeapFirst, uint32(i*32), &words[i])
	}
	return NewInput(heaps.Get(memory.HeapFirst), 0, uint32(len(words)))
}

func TestKeccak256(t *testing.T) {
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	heaps := heapWith(t, data)

	for _, n := range []uint32{0, 1, 135, 136, 137, 300} {
		out := Legacy{}.CallPrecompile(Keccak256Address, 0, NewInput(heaps.Get(memory.HeapFirst), 0, n))
		require.Equal(t, uint32(1), out.Len)
		want := crypto.Keccak256(data[:n])
		got := out.Words[0].Bytes32()
		assert.Equal(t, want, got[:], "length %d", n)
		assert.Equal(t, worldlog.CyclesKeccak256, out.Cycles.Kind)
		assert.Equal(t, n/136+1, out.Cycles.Cycles)
	}
}

func TestSha256RoundsMatchPaddedDigest(t *testing.T) {
	msg := []byte("abc")
	block := make([]byte, 64)
	copy(block, msg)
	block[len(msg)] = 0x80
	block[63] = byte(len(msg) * 8)
	heaps := heapWith(t, block)

	out := Legacy{}.CallPrecompile(Sha256Address, 1, NewInput(heaps.Get(memory.HeapFirst), 0, 2))
	require.Equal(t, uint32(1), out.Len)
	want := sha256.Sum256(msg)
	got := out.Words[0].Bytes32()
	assert.Equal(t, want[:], got[:])

	empty := Legacy{}.CallPrecompile(Sha256Address, 0, NewInput(heaps.Get(memory.HeapFirst), 0, 2))
	assert.Zero(t, empty.Len)
}

func TestSha256RoundsCappedByInput(t *testing.T) {
	heaps := heapWith(t, make([]byte, 64))
	in := NewInput(heaps.Get(memory.HeapFirst), 0, 2)

	huge := Legacy{}.CallPrecompile(Sha256Address, ^uint64(0), in)
	require.True(t, huge.HasCycles)
	assert.Equal(t, uint32(2), huge.Cycles.Cycles)

	two := Legacy{}.CallPrecompile(Sha256Address, 2, in)
	assert.Equal(t, two.Words[0], huge.Words[0])
}

func TestEcRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	digest := crypto.Keccak256([]byte("eravm"))
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)

	var h, v, r, s uint256.Int
	h.SetBytes(digest)
	v.SetUint64(uint64(sig[64]))
	r.SetBytes(sig[:32])
	s.SetBytes(sig[32:64])

	out := Legacy{}.CallPrecompile(EcRecoverAddress, 0, wordsInput(t, h, v, r, s))
	require.Equal(t, uint32(2), out.Len)
	assert.Equal(t, uint64(1), out.Words[0].Uint64())
	var want uint256.Int
	want.SetBytes(crypto.PubkeyToAddress(key.PublicKey).Bytes())
	assert.Equal(t, want, out.Words[1])

	v.SetUint64(27)
	bad := Legacy{}.CallPrecompile(EcRecoverAddress, 0, wordsInput(t, h, v, r, s))
	assert.True(t, bad.Words[0].IsZero())
}

func TestSecp256r1RejectsMalformedKey(t *testing.T) {
	var h, r, s, x, y uint256.Int
	h.SetUint64(1)
	r.SetUint64(2)
	s.SetUint64(3)
	x.SetUint64(4)
	y.SetUint64(5)
	out := Legacy{}.CallPrecompile(Secp256r1VerifyAddress, 0, wordsInput(t, h, r, s, x, y))
	require.Equal(t, uint32(2), out.Len)
	assert.True(t, out.Words[0].IsZero())
	assert.Equal(t, worldlog.CyclesSecp256r1Verify, out.Cycles.Kind)
}

func TestECAddMatchesECMul(t *testing.T) {
	gx, gy := *uint256.NewInt(1), *uint256.NewInt(2)

	sum := Legacy{}.CallPrecompile(ECAddAddress, 0, wordsInput(t, gx, gy, gx, gy))
	require.Equal(t, uint32(3), sum.Len)
	require.Equal(t, uint64(1), sum.Words[0].Uint64())

	doubled := Legacy{}.CallPrecompile(ECMulAddress, 0, wordsInput(t, gx, gy, *uint256.NewInt(2)))
	require.Equal(t, uint64(1), doubled.Words[0].Uint64())
	assert.Equal(t, sum.Words[1], doubled.Words[1])
	assert.Equal(t, sum.Words[2], doubled.Words[2])

	offCurve := Legacy{}.CallPrecompile(ECAddAddress, 0, wordsInput(t, gx, gx, gx, gy))
	assert.True(t, offCurve.Words[0].IsZero())
}

func TestECPairingEmptyIsOne(t *testing.T) {
	out := Legacy{}.CallPrecompile(ECPairingAddress, 0, wordsInput(t))
	require.Equal(t, uint32(2), out.Len)
	assert.Equal(t, uint64(1), out.Words[0].Uint64())
	assert.Equal(t, uint64(1), out.Words[1].Uint64())
}

func TestUnknownPrecompile(t *testing.T) {
	out := Legacy{}.CallPrecompile(0x1234, 0, wordsInput(t))
	assert.Zero(t, out.Len)
	assert.False(t, out.HasCycles)
}
