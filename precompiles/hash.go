package precompiles

import (
	"crypto/sha256"
	"encoding"

	"github.com/colorfulnotion/eravm/common"
	"github.com/colorfulnotion/eravm/log"
	"github.com/colorfulnotion/eravm/worldlog"
	"golang.org/x/crypto/sha3"
)

const (
	keccakRateBytes = 136
	sha256RateBytes = 64
	// streamChunk bounds the bytes copied out of the heap at once.
	streamChunk = 1 << 12
)

func keccak256(in Input) Output {
	h := sha3.NewLegacyKeccak256()
	for done := uint32(0); done < in.Length; {
		n := in.Length - done
		if n > streamChunk {
			n = streamChunk
		}
		h.Write(NewInput(in.heap, in.Offset+done, n).Bytes())
		done += n
	}
	digest := h.Sum(nil)
	out := outputOf(common.WordFromBytes(digest))
	return out.withCycles(worldlog.CyclesKeccak256, in.Length/keccakRateBytes+1)
}

// sha256Rounds runs the compression function over rounds 64-byte blocks without padding and
// returns the raw internal state. Rounds are capped at one past the blocks of the input.
func sha256Rounds(in Input, rounds uint64) Output {
	if rounds == 0 {
		return Output{}
	}
	if limit := uint64(in.Length)/sha256RateBytes + 1; rounds > limit {
		log.Debug(log.Precompiles, "sha256 rounds capped", "rounds", rounds, "limit", limit)
		rounds = limit
	}
	h := sha256.New()
	for i := uint64(0); i < rounds; i++ {
		block := NewInput(in.heap, in.Offset+uint32(i)*sha256RateBytes, sha256RateBytes).Bytes()
		if uint64(in.Length) < (i+1)*sha256RateBytes {
			avail := int64(in.Length) - int64(i)*sha256RateBytes
			if avail < 0 {
				avail = 0
			}
			clear(block[avail:])
		}
		h.Write(block)
	}
	state, err := h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		log.Error(log.Precompiles, "sha256 state export failed", "err", err)
		return Output{}
	}
	// The marshalled form is a 4-byte magic followed by the eight big-endian state words.
	out := outputOf(common.WordFromBytes(state[4:36]))
	return out.withCycles(worldlog.CyclesSha256, uint32(rounds))
}
