package precompiles

import (
	"crypto/elliptic"
	"math/big"

	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/secp256r1"
	"github.com/holiman/uint256"
)

var one = *uint256.NewInt(1)

// ecrecover reads digest, v, r and s as four words and outputs (1, address) on success.
func ecrecover(in Input) Output {
	digest := in.Word(0)
	v := in.Word(1)
	r := in.Word(2)
	s := in.Word(3)

	failed := outputOf(uint256.Int{}, uint256.Int{}).withCycles(worldlog.CyclesEcRecover, 1)
	if !v.IsUint64() || v.Uint64() > 1 {
		return failed
	}
	digestBytes := digest.Bytes32()
	rBytes, sBytes := r.Bytes32(), s.Bytes32()
	sig := make([]byte, 65)
	copy(sig[0:32], rBytes[:])
	copy(sig[32:64], sBytes[:])
	sig[64] = byte(v.Uint64())

	pub, err := crypto.Ecrecover(digestBytes[:], sig)
	if err != nil || len(pub) != 65 {
		return failed
	}
	hash := crypto.Keccak256(pub[1:])
	var address uint256.Int
	address.SetBytes(hash[12:])
	return outputOf(one, address).withCycles(worldlog.CyclesEcRecover, 1)
}

// secp256r1Verify reads digest, r, s, x and y as five words. The first output word reports
// whether the input was well formed, the second whether the signature verifies.
func secp256r1Verify(in Input) Output {
	words := make([]*big.Int, 5)
	for i := range words {
		w := in.Word(uint32(i))
		words[i] = w.ToBig()
	}
	digest := in.Word(0)
	digestBytes := digest.Bytes32()
	r, s, x, y := words[1], words[2], words[3], words[4]

	curve := elliptic.P256()
	n := curve.Params().N
	malformed := r.Sign() == 0 || s.Sign() == 0 || r.Cmp(n) >= 0 || s.Cmp(n) >= 0 || !curve.IsOnCurve(x, y)
	if malformed {
		return outputOf(uint256.Int{}, uint256.Int{}).withCycles(worldlog.CyclesSecp256r1Verify, 1)
	}
	var valid uint256.Int
	if secp256r1.Verify(digestBytes[:], r, s, x, y) {
		valid.SetOne()
	}
	return outputOf(one, valid).withCycles(worldlog.CyclesSecp256r1Verify, 1)
}
