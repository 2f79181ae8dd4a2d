package claimquery

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nondejus/lbrycrd/core/types"
)

func TestEscapeNonUTF8(t *testing.T) {
	require.Equal(t, "plain", EscapeNonUTF8("plain"))
	require.Equal(t, "café", EscapeNonUTF8("café"))
	require.Equal(t, "", EscapeNonUTF8(""))

	// One invalid byte switches the whole name to byte-wise escaping.
	raw := string([]byte{0xff, 'a', 0x00, 0x09, 0x0b, 0x22, 0x5c, 0x7f})
	require.Equal(t, `\u00ffa\u0000\t\u000b\"\\\u007f`, EscapeNonUTF8(raw))

	// Valid UTF-8 passes through even when it contains control bytes.
	require.Equal(t, "a\tb", EscapeNonUTF8("a\tb"))
}

func TestRenderProofWire(t *testing.T) {
	op := types.OutPoint{TxID: types.DoubleSHA256([]byte("tx")), Index: 3}
	sideHash := types.DoubleSHA256([]byte("side"))
	segHash := types.DoubleSHA256([]byte("seg"))
	proof := &Proof{
		Nodes: []ProofNode{
			{Children: []ProofChild{
				{Character: 'n', Hash: &sideHash},
				{Character: 's'},
			}},
			{},
		},
		Pairs:              []ProofPair{{Odd: true, Hash: segHash}},
		HasValue:           true,
		OutPoint:           op,
		LastTakeoverHeight: 7,
	}

	out := RenderProof(proof)
	require.Len(t, out.Nodes, 2)
	require.Equal(t, int('n'), out.Nodes[0].Children[0].Character)
	require.Equal(t, sideHash.Hex(), out.Nodes[0].Children[0].NodeHash)
	require.Empty(t, out.Nodes[0].Children[1].NodeHash)
	require.Equal(t, op.TxID.Hex(), out.TxID)
	require.NotNil(t, out.N)
	require.Equal(t, uint32(3), *out.N)
	require.NotNil(t, out.LastTakeoverHeight)
	require.Equal(t, int32(7), *out.LastTakeoverHeight)

	encoded, err := json.Marshal(out)
	require.NoError(t, err)
	s := string(encoded)
	require.Contains(t, s, `"character":110`)
	require.Contains(t, s, `"odd":true`)
	require.NotContains(t, s, `"valueHash"`)

	// A proof with no records and no vouch renders as an empty object.
	empty, err := json.Marshal(RenderProof(&Proof{}))
	require.NoError(t, err)
	require.Equal(t, "{}", string(empty))
}

// The single-claim document's field layout is a wire contract: the
// normalized name leads, the ranking positions close, and optional fields
// vanish rather than render as null or zero.
func TestClaimResultWireShape(t *testing.T) {
	res := &ClaimResult{
		NormalizedName: "x",
		ClaimWithSupports: ClaimWithSupports{
			ClaimOutput: ClaimOutput{
				ClaimID:       strings.Repeat("ab", 20),
				TxID:          strings.Repeat("cd", 32),
				N:             1,
				Height:        2,
				ValidAtHeight: 2,
				Amount:        4,
			},
			EffectiveAmount: 4,
			Supports:        []SupportOutput{},
		},
		LastTakeoverHeight: 2,
	}
	encoded, err := json.Marshal(res)
	require.NoError(t, err)
	s := string(encoded)
	require.True(t, strings.HasPrefix(s, `{"normalizedName":"x","claimId":`), s)
	require.True(t, strings.HasSuffix(s, `"lastTakeoverHeight":2,"bid":0,"sequence":0}`), s)
	require.Contains(t, s, `"supports":[]`)
	require.NotContains(t, s, `"pendingAmount"`)
	require.NotContains(t, s, `"value"`)
	require.NotContains(t, s, `"address"`)

	value := "6d657461"
	res.Name = "x"
	res.Value = &value
	res.Address = "bTest"
	res.PendingAmount = 9
	encoded, err = json.Marshal(res)
	require.NoError(t, err)
	s = string(encoded)
	require.True(t, strings.HasPrefix(s, `{"normalizedName":"x","name":"x","value":"6d657461","address":"bTest","claimId":`), s)
	require.Contains(t, s, `"pendingAmount":9`)
}

func TestTxClaimEntryWireShape(t *testing.T) {
	entry := TxClaimEntry{
		N:             1,
		Name:          "movie",
		ClaimID:       strings.Repeat("ab", 20),
		Depth:         5,
		InClaimTrie:   boolPtr(true),
		IsControlling: boolPtr(false),
	}
	encoded, err := json.Marshal(entry)
	require.NoError(t, err)
	s := string(encoded)
	require.Contains(t, s, `"inClaimTrie":true`)
	require.Contains(t, s, `"isControlling":false`)
	require.NotContains(t, s, `"inSupportMap"`)
	require.NotContains(t, s, `"inQueue"`)
	require.NotContains(t, s, `"blocksToValid"`)
	require.NotContains(t, s, `"value"`)

	queued := TxClaimEntry{
		N:             2,
		Name:          "movie",
		ClaimID:       strings.Repeat("ab", 20),
		InSupportMap:  boolPtr(false),
		InQueue:       boolPtr(true),
		BlocksToValid: int32Ptr(3),
	}
	encoded, err = json.Marshal(queued)
	require.NoError(t, err)
	s = string(encoded)
	require.Contains(t, s, `"inSupportMap":false`)
	require.Contains(t, s, `"inQueue":true`)
	require.Contains(t, s, `"blocksToValid":3`)
	require.NotContains(t, s, `"inClaimTrie"`)
}

// Block change lists render as empty arrays, never null: clients iterate
// them without checking.
func TestBlockChangesWireShape(t *testing.T) {
	changes := &BlockChanges{
		ClaimsAddedOrUpdated:   make([]string, 0),
		ClaimsRemoved:          make([]string, 0),
		SupportsAddedOrUpdated: make([]string, 0),
		SupportsRemoved:        make([]string, 0),
	}
	encoded, err := json.Marshal(changes)
	require.NoError(t, err)
	require.Equal(t,
		`{"claimsAddedOrUpdated":[],"claimsRemoved":[],"supportsAddedOrUpdated":[],"supportsRemoved":[]}`,
		string(encoded))
}
