// Package claimtrie maintains the name claim state: which claims and
// supports exist for each name, how they rank against each other, and the
// merkle commitment over the whole name set that block headers carry.
package claimtrie

import (
	"bytes"
	"sort"

	"github.com/nondejus/lbrycrd/core/types"
)

// Claim is a stake on a name. The ID survives updates; OutPoint tracks the
// currently funding output.
type Claim struct {
	OutPoint      types.OutPoint
	ID            types.ClaimID
	Amount        int64
	Height        int32 // height the claim was (re)staked
	ValidAtHeight int32 // height the claim becomes active
}

// ActiveAt reports whether the claim participates in ranking at height.
func (c *Claim) ActiveAt(height int32) bool {
	return c.ValidAtHeight <= height
}

// Support locks an amount behind an existing claim without transferring
// control of it.
type Support struct {
	OutPoint      types.OutPoint
	SupportedID   types.ClaimID
	Amount        int64
	Height        int32
	ValidAtHeight int32
}

// ActiveAt reports whether the support counts toward its claim at height.
func (s *Support) ActiveAt(height int32) bool {
	return s.ValidAtHeight <= height
}

// ClaimNSupports pairs a claim with the supports bound to its id and the
// effective amount both yield at the view height. Inactive claims have a
// zero effective amount no matter what backs them.
type ClaimNSupports struct {
	Claim           Claim
	EffectiveAmount int64
	Supports        []Support
}

// ClaimsForName is the full competitive state of one normalized name.
// Claims are in bid order: position 0 is the controlling claim.
type ClaimsForName struct {
	Name                 string
	LastTakeoverHeight   int32
	Claims               []ClaimNSupports
	SupportsWithoutClaim []Support
}

// Controlling returns the bid-zero entry, or nil when the name has no
// claims.
func (c *ClaimsForName) Controlling() *ClaimNSupports {
	if len(c.Claims) == 0 {
		return nil
	}
	return &c.Claims[0]
}

// FindByID returns the entry whose claim id matches exactly, or nil.
func (c *ClaimsForName) FindByID(id types.ClaimID) *ClaimNSupports {
	for i := range c.Claims {
		if c.Claims[i].Claim.ID == id {
			return &c.Claims[i]
		}
	}
	return nil
}

// FindByIDPrefix returns the first entry in bid order whose hex id starts
// with the given lowercase prefix, or nil.
func (c *ClaimsForName) FindByIDPrefix(prefix string) *ClaimNSupports {
	for i := range c.Claims {
		if len(prefix) <= types.ClaimIDSize*2 && c.Claims[i].Claim.ID.Hex()[:len(prefix)] == prefix {
			return &c.Claims[i]
		}
	}
	return nil
}

// claimOlder orders two claims by age: staking height first, then output
// index, then txid. Two claims can share a height and index only when they
// come from different transactions, so the txid keeps the order total.
func claimOlder(a, b *Claim) bool {
	if a.Height != b.Height {
		return a.Height < b.Height
	}
	if a.OutPoint.Index != b.OutPoint.Index {
		return a.OutPoint.Index < b.OutPoint.Index
	}
	return bytes.Compare(a.OutPoint.TxID[:], b.OutPoint.TxID[:]) < 0
}

// sortBids puts entries in bid order: effective amount descending, age
// breaking ties. The order is total, so repeated calls agree.
func sortBids(entries []ClaimNSupports) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EffectiveAmount != entries[j].EffectiveAmount {
			return entries[i].EffectiveAmount > entries[j].EffectiveAmount
		}
		return claimOlder(&entries[i].Claim, &entries[j].Claim)
	})
}
