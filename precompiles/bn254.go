package precompiles

import (
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/worldlog"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/holiman/uint256"
)

// maxPairs bounds the pairs read by one ecPairing call.
const maxPairs = 1 << 10

func setElement(e *fp.Element, w *uint256.Int) bool {
	b := w.Bytes32()
	return e.SetBytesCanonical(b[:]) == nil
}

// g1FromWords decodes an affine point. (0, 0) is the point at infinity.
func g1FromWords(x, y uint256.Int) (bn254.G1Affine, bool) {
	var p bn254.G1Affine
	if x.IsZero() && y.IsZero() {
		return p, true
	}
	if !setElement(&p.X, &x) || !setElement(&p.Y, &y) {
		return p, false
	}
	return p, p.IsOnCurve()
}

// g2FromWords decodes a G2 point given imaginary parts first, as the EVM precompile does.
func g2FromWords(xIm, xRe, yIm, yRe uint256.Int) (bn254.G2Affine, bool) {
	var q bn254.G2Affine
	if xIm.IsZero() && xRe.IsZero() && yIm.IsZero() && yRe.IsZero() {
		return q, true
	}
	if !setElement(&q.X.A1, &xIm) || !setElement(&q.X.A0, &xRe) ||
		!setElement(&q.Y.A1, &yIm) || !setElement(&q.Y.A0, &yRe) {
		return q, false
	}
	return q, q.IsOnCurve() && q.IsInSubGroup()
}

func g1Words(p *bn254.G1Affine) (uint256.Int, uint256.Int) {
	xb, yb := p.X.Bytes(), p.Y.Bytes()
	var x, y uint256.Int
	x.SetBytes32(xb[:])
	y.SetBytes32(yb[:])
	return x, y
}

func ecFailure(kind worldlog.CycleKind) Output {
	return outputOf(uint256.Int{}, uint256.Int{}, uint256.Int{}).withCycles(kind, 1)
}

// ecAdd reads x1, y1, x2, y2 and outputs (1, x, y).
func ecAdd(in Input) Output {
	a, okA := g1FromWords(in.Word(0), in.Word(1))
	b, okB := g1FromWords(in.Word(2), in.Word(3))
	if !okA || !okB {
		return ecFailure(worldlog.CyclesECAdd)
	}
	var sum bn254.G1Affine
	sum.Add(&a, &b)
	x, y := g1Words(&sum)
	return outputOf(one, x, y).withCycles(worldlog.CyclesECAdd, 1)
}

// ecMul reads x, y and a scalar and outputs (1, x, y).
func ecMul(in Input) Output {
	p, ok := g1FromWords(in.Word(0), in.Word(1))
	if !ok {
		return ecFailure(worldlog.CyclesECMul)
	}
	scalar := in.Word(2)
	var product bn254.G1Affine
	product.ScalarMultiplication(&p, scalar.ToBig())
	x, y := g1Words(&product)
	return outputOf(one, x, y).withCycles(worldlog.CyclesECMul, 1)
}

// ecPairing reads pairs of six words each and outputs (1, result). pairs comes from the
// interpreted data of the call.
func ecPairing(in Input, pairs uint64) Output {
	if pairs > maxPairs {
		log.Warn(log.Precompiles, "ecPairing pair count too large", "pairs", pairs)
		return outputOf(uint256.Int{}, uint256.Int{}).withCycles(worldlog.CyclesECPairing, uint32(maxPairs))
	}
	g1s := make([]bn254.G1Affine, 0, pairs)
	g2s := make([]bn254.G2Affine, 0, pairs)
	for i := uint32(0); i < uint32(pairs); i++ {
		base := i * 6
		p, okP := g1FromWords(in.Word(base), in.Word(base+1))
		q, okQ := g2FromWords(in.Word(base+2), in.Word(base+3), in.Word(base+4), in.Word(base+5))
		if !okP || !okQ {
			return outputOf(uint256.Int{}, uint256.Int{}).withCycles(worldlog.CyclesECPairing, uint32(pairs))
		}
		if p.IsInfinity() || q.IsInfinity() {
			continue
		}
		g1s = append(g1s, p)
		g2s = append(g2s, q)
	}
	var result uint256.Int
	if len(g1s) == 0 {
		result.SetOne()
	} else {
		ok, err := bn254.PairingCheck(g1s, g2s)
		if err != nil {
			return outputOf(uint256.Int{}, uint256.Int{}).withCycles(worldlog.CyclesECPairing, uint32(pairs))
		}
		if ok {
			result.SetOne()
		}
	}
	return outputOf(one, result).withCycles(worldlog.CyclesECPairing, uint32(pairs))
}
