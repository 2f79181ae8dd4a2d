package claimquery

import (
	"fmt"
	"sort"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/types"
)

// SequenceOrder returns the claims rearranged chronologically: ascending by
// staking height, then by output index. The input (bid order) is never
// mutated; the result is recomputed per call and never persisted.
func SequenceOrder(claims []claimtrie.ClaimNSupports) []claimtrie.ClaimNSupports {
	ordered := make([]claimtrie.ClaimNSupports, len(claims))
	copy(ordered, claims)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := &ordered[i].Claim, &ordered[j].Claim
		if a.Height != b.Height {
			return a.Height < b.Height
		}
		return a.OutPoint.Index < b.OutPoint.Index
	})
	return ordered
}

// PositionOf returns the index of the claim with the given id. Membership is
// the caller's precondition; a miss is a programming error, not a user error.
func PositionOf(claims []claimtrie.ClaimNSupports, id types.ClaimID) int {
	for i := range claims {
		if claims[i].Claim.ID == id {
			return i
		}
	}
	panic(fmt.Sprintf("claimquery: claim %s not in ranked set", id.Hex()))
}

// Rank returns the bid and sequence positions of one claim within its set.
// Singleton sets short-circuit to (0, 0) without sorting.
func Rank(set *claimtrie.ClaimsForName, id types.ClaimID) (bid, seq int) {
	if len(set.Claims) <= 1 {
		return 0, 0
	}
	return PositionOf(set.Claims, id), PositionOf(SequenceOrder(set.Claims), id)
}
