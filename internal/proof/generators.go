package proof

import (
	"strconv"

	"github.com/consensys/gnark-crypto/ecc/bn254"

	"github.com/gitteri/confidential-balances-exploration/internal/encryption"
)

// maxRangeBits is the largest aggregated bit budget of a range proof.
const maxRangeBits = 256

// bulletproofGens are the vector generators G_k, H_k of the range proof,
// hashed to the curve so nobody knows relations between them.
var bulletproofGens struct {
	G []bn254.G1Affine
	H []bn254.G1Affine
}

func init() {
	bulletproofGens.G = deriveGenerators("bulletproofs-G-", maxRangeBits)
	bulletproofGens.H = deriveGenerators("bulletproofs-H-", maxRangeBits)
}

func deriveGenerators(label string, n int) []bn254.G1Affine {
	out := make([]bn254.G1Affine, n)
	for i := range out {
		p, err := encryption.HashToPoint([]byte(label + strconv.Itoa(i)))
		if err != nil {
			panic(err)
		}
		out[i] = p
	}
	return out
}
