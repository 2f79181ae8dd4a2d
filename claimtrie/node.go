package claimtrie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/nondejus/lbrycrd/core/types"
)

// NodeData is the persisted record of one normalized name: every claim and
// support currently staked on it plus the height control last changed.
type NodeData struct {
	Claims             []Claim
	Supports           []Support
	LastTakeoverHeight int32
}

// Empty reports whether the record holds nothing worth keeping.
func (nd *NodeData) Empty() bool {
	return len(nd.Claims) == 0 && len(nd.Supports) == 0
}

// Clone deep-copies the record so overlays can mutate without touching the
// shared base.
func (nd *NodeData) Clone() *NodeData {
	out := &NodeData{LastTakeoverHeight: nd.LastTakeoverHeight}
	out.Claims = append([]Claim(nil), nd.Claims...)
	out.Supports = append([]Support(nil), nd.Supports...)
	return out
}

func (nd *NodeData) claimByOutPoint(op types.OutPoint) (int, bool) {
	for i := range nd.Claims {
		if nd.Claims[i].OutPoint == op {
			return i, true
		}
	}
	return 0, false
}

func (nd *NodeData) supportByOutPoint(op types.OutPoint) (int, bool) {
	for i := range nd.Supports {
		if nd.Supports[i].OutPoint == op {
			return i, true
		}
	}
	return 0, false
}

// ControllingID returns the claim id at bid zero for the given height.
// ok is false when no claim exists.
func (nd *NodeData) ControllingID(height int32) (types.ClaimID, bool) {
	set := nd.ClaimsAt("", height)
	if len(set.Claims) == 0 {
		return types.ClaimID{}, false
	}
	return set.Claims[0].Claim.ID, true
}

// ClaimsAt builds the ranked competitive state of the record at height.
func (nd *NodeData) ClaimsAt(name string, height int32) *ClaimsForName {
	out := &ClaimsForName{Name: name, LastTakeoverHeight: nd.LastTakeoverHeight}
	if nd.Empty() {
		return out
	}
	byID := make(map[types.ClaimID][]Support)
	known := make(map[types.ClaimID]bool, len(nd.Claims))
	for i := range nd.Claims {
		known[nd.Claims[i].ID] = true
	}
	for _, sup := range nd.Supports {
		if known[sup.SupportedID] {
			byID[sup.SupportedID] = append(byID[sup.SupportedID], sup)
		} else {
			out.SupportsWithoutClaim = append(out.SupportsWithoutClaim, sup)
		}
	}
	out.Claims = make([]ClaimNSupports, 0, len(nd.Claims))
	for _, claim := range nd.Claims {
		entry := ClaimNSupports{Claim: claim, Supports: byID[claim.ID]}
		if claim.ActiveAt(height) {
			entry.EffectiveAmount = claim.Amount
			for _, sup := range entry.Supports {
				if sup.ActiveAt(height) {
					entry.EffectiveAmount += sup.Amount
				}
			}
		}
		out.Claims = append(out.Claims, entry)
	}
	sortBids(out.Claims)
	return out
}

// --- storage codec ---

type storedClaim struct {
	TxID          types.Hash
	Index         uint32
	ID            types.ClaimID
	Amount        uint64
	Height        uint64
	ValidAtHeight uint64
}

type storedSupport struct {
	TxID          types.Hash
	Index         uint32
	SupportedID   types.ClaimID
	Amount        uint64
	Height        uint64
	ValidAtHeight uint64
}

type storedNode struct {
	Claims             []storedClaim
	Supports           []storedSupport
	LastTakeoverHeight uint64
}

func newStoredClaim(c Claim) storedClaim {
	return storedClaim{
		TxID:          c.OutPoint.TxID,
		Index:         c.OutPoint.Index,
		ID:            c.ID,
		Amount:        uint64(c.Amount),
		Height:        uint64(c.Height),
		ValidAtHeight: uint64(c.ValidAtHeight),
	}
}

func (s storedClaim) toClaim() Claim {
	return Claim{
		OutPoint:      types.OutPoint{TxID: s.TxID, Index: s.Index},
		ID:            s.ID,
		Amount:        int64(s.Amount),
		Height:        int32(s.Height),
		ValidAtHeight: int32(s.ValidAtHeight),
	}
}

func newStoredNode(nd *NodeData) *storedNode {
	s := &storedNode{
		Claims:             make([]storedClaim, len(nd.Claims)),
		Supports:           make([]storedSupport, len(nd.Supports)),
		LastTakeoverHeight: uint64(nd.LastTakeoverHeight),
	}
	for i, c := range nd.Claims {
		s.Claims[i] = newStoredClaim(c)
	}
	for i, sup := range nd.Supports {
		s.Supports[i] = storedSupport{
			TxID:          sup.OutPoint.TxID,
			Index:         sup.OutPoint.Index,
			SupportedID:   sup.SupportedID,
			Amount:        uint64(sup.Amount),
			Height:        uint64(sup.Height),
			ValidAtHeight: uint64(sup.ValidAtHeight),
		}
	}
	return s
}

func (s *storedNode) toNodeData() *NodeData {
	nd := &NodeData{
		Claims:             make([]Claim, len(s.Claims)),
		Supports:           make([]Support, len(s.Supports)),
		LastTakeoverHeight: int32(s.LastTakeoverHeight),
	}
	for i, c := range s.Claims {
		nd.Claims[i] = c.toClaim()
	}
	for i, sup := range s.Supports {
		nd.Supports[i] = Support{
			OutPoint:      types.OutPoint{TxID: sup.TxID, Index: sup.Index},
			SupportedID:   sup.SupportedID,
			Amount:        int64(sup.Amount),
			Height:        int32(sup.Height),
			ValidAtHeight: int32(sup.ValidAtHeight),
		}
	}
	return nd
}

func encodeNodeData(nd *NodeData) ([]byte, error) {
	return rlp.EncodeToBytes(newStoredNode(nd))
}

func decodeNodeData(data []byte) (*NodeData, error) {
	var s storedNode
	if err := rlp.DecodeBytes(data, &s); err != nil {
		return nil, fmt.Errorf("claimtrie: decode node: %w", err)
	}
	return s.toNodeData(), nil
}
