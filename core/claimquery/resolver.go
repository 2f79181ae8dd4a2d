package claimquery

import (
	"strings"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/types"
)

const (
	claimIDHexLength = types.ClaimIDSize * 2
	// minPartialIDLength guards the index scan: shorter partials are too
	// ambiguous to name a claim.
	minPartialIDLength = 3
)

// ParseClaimID validates a full or partial claim identifier and returns it
// in canonical lowercase. Identifiers must be non-empty hex of even length,
// at most 40 characters.
func ParseClaimID(s, param string) (string, error) {
	if s == "" {
		return "", Errorf(InvalidArgument, "%s must not be empty", param)
	}
	if len(s) > claimIDHexLength {
		return "", Errorf(InvalidArgument, "%s must be at most %d hexadecimal characters", param, claimIDHexLength)
	}
	if len(s)%2 != 0 {
		return "", Errorf(InvalidArgument, "%s must be an even number of hexadecimal digits", param)
	}
	lower := strings.ToLower(s)
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", Errorf(InvalidArgument, "%s must be a hexadecimal string", param)
		}
	}
	return lower, nil
}

// ResolveID finds the claim a full or partial identifier denotes via the
// identifier index. Full identifiers resolve by point lookup; partials by an
// ordered scan testing each entry's hex prefix. With expectedName set,
// colliding entries under other names are skipped so the scan continues past
// false matches. A nil entry with nil error means no claim matched.
func ResolveID(trie *claimtrie.ClaimTrie, hexID, expectedName string) (*claimtrie.IndexEntry, error) {
	if len(hexID) == claimIDHexLength {
		id, err := types.ClaimIDFromHex(hexID)
		if err != nil {
			return nil, Errorf(InvalidArgument, "claim id: %v", err)
		}
		entry, err := trie.IndexGet(id)
		if err != nil {
			return nil, Wrap(StorageInconsistency, err, "claim index lookup")
		}
		if entry != nil && (expectedName == "" || entry.Name == expectedName) {
			return entry, nil
		}
		return nil, nil
	}
	entry, err := trie.IndexScanPrefix(hexID, expectedName)
	if err != nil {
		return nil, Wrap(StorageInconsistency, err, "claim index scan")
	}
	return entry, nil
}
