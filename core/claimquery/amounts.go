package claimquery

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/nondejus/lbrycrd/claimtrie"
)

// FullAmount sums a claim's own amount with every attached support, matured
// or not. The sum runs through a 256-bit accumulator so an overflow is a
// detectable fault rather than a silent wraparound; amounts that cannot fit
// back into int64 minor units indicate corrupt ledger state.
func FullAmount(cns *claimtrie.ClaimNSupports) (int64, error) {
	acc := uint256.NewInt(uint64(cns.Claim.Amount))
	for i := range cns.Supports {
		acc.Add(acc, uint256.NewInt(uint64(cns.Supports[i].Amount)))
	}
	if !acc.IsUint64() || acc.Uint64() > math.MaxInt64 {
		return 0, Errorf(StorageInconsistency, "claim %s amounts overflow", cns.Claim.ID.Hex())
	}
	return int64(acc.Uint64()), nil
}
