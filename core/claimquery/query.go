package claimquery

import (
	"context"
	"encoding/hex"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/chain"
	"github.com/nondejus/lbrycrd/core/types"
)

// The single-claim lookups return (nil, nil) when nothing matches; the
// command layer renders that as an empty document rather than an error,
// since an absent claim is an answer, not a failure.

// ListClaims walks every name carrying at least one active claim and
// renders those claims in bid order. The walk polls ctx between names.
func (v *View) ListClaims(ctx context.Context) ([]TrieNameClaims, error) {
	out := make([]TrieNameClaims, 0)
	it := v.Cache.Names()
	defer it.Release()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, Wrap(Aborted, err, "trie listing interrupted")
		}
		set := it.Node().ClaimsAt(it.Name(), v.Height)
		entry := TrieNameClaims{
			NormalizedName: EscapeNonUTF8(it.Name()),
			Claims:         make([]ClaimOutput, 0, len(set.Claims)),
		}
		for i := range set.Claims {
			if !set.Claims[i].Claim.ActiveAt(v.Height) {
				continue
			}
			claim, err := v.renderClaim(&set.Claims[i].Claim)
			if err != nil {
				return nil, err
			}
			entry.Claims = append(entry.Claims, claim)
		}
		if len(entry.Claims) == 0 {
			continue
		}
		out = append(out, entry)
	}
	if err := it.Err(); err != nil {
		return nil, Wrap(StorageInconsistency, err, "trie listing")
	}
	return out, nil
}

// ListNames returns every name with at least one active claim, in
// ascending byte order of the normalized form.
func (v *View) ListNames(ctx context.Context) ([]string, error) {
	out := make([]string, 0)
	it := v.Cache.Names()
	defer it.Release()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, Wrap(Aborted, err, "name listing interrupted")
		}
		if !hasActiveClaim(it.Node(), v.Height) {
			continue
		}
		out = append(out, EscapeNonUTF8(it.Name()))
	}
	if err := it.Err(); err != nil {
		return nil, Wrap(StorageInconsistency, err, "name listing")
	}
	return out, nil
}

// ValueForName resolves one claim of a name: the one the identifier
// parameter selects, or the controlling claim when the parameter is empty.
func (v *View) ValueForName(rawName, claimIDParam string) (*ClaimResult, error) {
	var claimID string
	if claimIDParam != "" {
		parsed, err := ParseClaimID(claimIDParam, "claimId")
		if err != nil {
			return nil, err
		}
		claimID = parsed
	}
	set, err := v.claimsFor(rawName)
	if err != nil {
		return nil, err
	}
	if len(set.Claims) == 0 {
		return nil, nil
	}
	var entry *claimtrie.ClaimNSupports
	switch {
	case len(claimID) == claimIDHexLength:
		id, err := types.ClaimIDFromHex(claimID)
		if err != nil {
			return nil, Errorf(InvalidArgument, "claimId: %v", err)
		}
		entry = set.FindByID(id)
	case claimID != "":
		entry = set.FindByIDPrefix(claimID)
	default:
		entry = set.Controlling()
	}
	if entry == nil {
		return nil, nil
	}
	return v.renderClaimResult(set, entry)
}

// ClaimsForName renders the full competitive state of a name: every claim,
// active or pending, with both orderings stamped on each entry.
func (v *View) ClaimsForName(rawName string) (*NameClaimsResult, error) {
	set, err := v.claimsFor(rawName)
	if err != nil {
		return nil, err
	}
	out := &NameClaimsResult{
		NormalizedName:       EscapeNonUTF8(set.Name),
		Claims:               make([]ClaimEntry, 0, len(set.Claims)),
		LastTakeoverHeight:   set.LastTakeoverHeight,
		SupportsWithoutClaim: make([]SupportOutput, 0, len(set.SupportsWithoutClaim)),
	}
	ordered := SequenceOrder(set.Claims)
	for i := range set.Claims {
		body, err := v.renderClaimWithSupports(&set.Claims[i])
		if err != nil {
			return nil, err
		}
		out.Claims = append(out.Claims, ClaimEntry{
			ClaimWithSupports: body,
			Bid:               i,
			Sequence:          PositionOf(ordered, set.Claims[i].Claim.ID),
		})
	}
	for i := range set.SupportsWithoutClaim {
		sup, err := v.renderSupport(&set.SupportsWithoutClaim[i])
		if err != nil {
			return nil, err
		}
		out.SupportsWithoutClaim = append(out.SupportsWithoutClaim, sup)
	}
	return out, nil
}

// ClaimAtBid resolves the claim at one bid position. Out-of-range
// positions resolve to nothing.
func (v *View) ClaimAtBid(rawName string, bid int) (*ClaimResult, error) {
	if bid < 0 {
		return nil, Errorf(InvalidArgument, "bid must not be negative")
	}
	set, err := v.claimsFor(rawName)
	if err != nil {
		return nil, err
	}
	if bid >= len(set.Claims) {
		return nil, nil
	}
	entry := &set.Claims[bid]
	seq := 0
	if len(set.Claims) > 1 {
		seq = PositionOf(SequenceOrder(set.Claims), entry.Claim.ID)
	}
	body, err := v.renderClaimWithSupports(entry)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{
		NormalizedName:     EscapeNonUTF8(set.Name),
		ClaimWithSupports:  body,
		LastTakeoverHeight: set.LastTakeoverHeight,
		Bid:                bid,
		Sequence:           seq,
	}, nil
}

// ClaimAtSequence resolves the claim at one sequence position. Out-of-range
// positions resolve to nothing.
func (v *View) ClaimAtSequence(rawName string, seq int) (*ClaimResult, error) {
	if seq < 0 {
		return nil, Errorf(InvalidArgument, "sequence must not be negative")
	}
	set, err := v.claimsFor(rawName)
	if err != nil {
		return nil, err
	}
	if seq >= len(set.Claims) {
		return nil, nil
	}
	bid := 0
	entry := &set.Claims[0]
	if len(set.Claims) > 1 {
		ordered := SequenceOrder(set.Claims)
		entry = &ordered[seq]
		bid = PositionOf(set.Claims, entry.Claim.ID)
	}
	body, err := v.renderClaimWithSupports(entry)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{
		NormalizedName:     EscapeNonUTF8(set.Name),
		ClaimWithSupports:  body,
		LastTakeoverHeight: set.LastTakeoverHeight,
		Bid:                bid,
		Sequence:           seq,
	}, nil
}

// ClaimByID resolves a claim by full or partial identifier through the
// identifier index, then ranks it among the claims of its name.
func (v *View) ClaimByID(claimIDParam string) (*ClaimResult, error) {
	claimID, err := ParseClaimID(claimIDParam, "claimId")
	if err != nil {
		return nil, err
	}
	if len(claimID) < minPartialIDLength {
		return nil, Errorf(InvalidArgument, "claimId must be at least %d characters", minPartialIDLength)
	}
	entry, err := ResolveID(v.Trie, claimID, "")
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	set, err := v.claimsFor(entry.Name)
	if err != nil {
		return nil, err
	}
	found := set.FindByID(entry.Claim.ID)
	if found == nil {
		return nil, nil
	}
	return v.renderClaimResult(set, found)
}

// TotalNames counts names carrying at least one active claim.
func (v *View) TotalNames(ctx context.Context) (int64, error) {
	var total int64
	it := v.Cache.Names()
	defer it.Release()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return 0, Wrap(Aborted, err, "name count interrupted")
		}
		if hasActiveClaim(it.Node(), v.Height) {
			total++
		}
	}
	if err := it.Err(); err != nil {
		return 0, Wrap(StorageInconsistency, err, "name count")
	}
	return total, nil
}

// TotalClaims counts active claims across all names.
func (v *View) TotalClaims(ctx context.Context) (int64, error) {
	var total int64
	it := v.Cache.Names()
	defer it.Release()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return 0, Wrap(Aborted, err, "claim count interrupted")
		}
		nd := it.Node()
		for i := range nd.Claims {
			if nd.Claims[i].ActiveAt(v.Height) {
				total++
			}
		}
	}
	if err := it.Err(); err != nil {
		return 0, Wrap(StorageInconsistency, err, "claim count")
	}
	return total, nil
}

// TotalValue sums the staked amount of active claims, in the base unit.
// With controllingOnly set, only each name's controlling claim counts.
func (v *View) TotalValue(ctx context.Context, controllingOnly bool) (int64, error) {
	var total int64
	it := v.Cache.Names()
	defer it.Release()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return 0, Wrap(Aborted, err, "value total interrupted")
		}
		nd := it.Node()
		if controllingOnly {
			set := nd.ClaimsAt(it.Name(), v.Height)
			if ctl := set.Controlling(); ctl != nil && ctl.Claim.ActiveAt(v.Height) {
				total += ctl.Claim.Amount
			}
			continue
		}
		for i := range nd.Claims {
			if nd.Claims[i].ActiveAt(v.Height) {
				total += nd.Claims[i].Amount
			}
		}
	}
	if err := it.Err(); err != nil {
		return 0, Wrap(StorageInconsistency, err, "value total")
	}
	return total, nil
}

// ClaimsForTx describes every claim output of a transaction that is still
// unspent in the view, with the current standing of each stake.
func (v *View) ClaimsForTx(txid types.Hash) ([]TxClaimEntry, error) {
	coins, err := v.Coins.CoinsForTx(txid)
	if err != nil {
		return nil, Wrap(StorageInconsistency, err, "coins for %s", txid.Hex())
	}
	out := make([]TxClaimEntry, 0, len(coins))
	for _, c := range coins {
		cs, ok, err := types.DecodeClaimScript(c.Coin.Output.PkScript)
		if !ok || err != nil {
			continue
		}
		entry := TxClaimEntry{
			N:     c.Index,
			Name:  EscapeNonUTF8(string(cs.Name)),
			Depth: v.Height - c.Coin.Height,
		}
		op := types.OutPoint{TxID: txid, Index: c.Index}
		if cs.Op == types.OpClaimName {
			entry.ClaimID = types.NewClaimID(op).Hex()
		} else {
			entry.ClaimID = cs.ClaimID.Hex()
		}
		if cs.HasValue() {
			hexValue := hex.EncodeToString(cs.Value)
			entry.Value = &hexValue
		}
		set, err := v.claimsFor(string(cs.Name))
		if err != nil {
			return nil, err
		}
		if cs.Op == types.OpSupportClaim {
			v.stampSupportState(&entry, set, op)
		} else {
			v.stampClaimState(&entry, set, op)
		}
		out = append(out, entry)
	}
	return out, nil
}

// NameProof assembles a proof for a name, vouching for the controlling
// claim when the identifier parameter is empty or matches it.
func (v *View) NameProof(rawName, claimIDParam string) (*Proof, error) {
	sel := MatchAnyClaim()
	if claimIDParam != "" {
		claimID, err := ParseClaimID(claimIDParam, "claimId")
		if err != nil {
			return nil, err
		}
		if len(claimID) == claimIDHexLength {
			id, err := types.ClaimIDFromHex(claimID)
			if err != nil {
				return nil, Errorf(InvalidArgument, "claimId: %v", err)
			}
			sel = MatchClaimID(id)
		} else {
			sel = MatchClaimIDPrefix(claimID)
		}
	}
	return AssembleProof(v.Cache, rawName, sel)
}

// ProofByBid assembles a proof vouching only when the claim at the given
// bid position controls the name. Bid zero skips the position lookup since
// position zero is the controlling claim itself. Out-of-range positions
// resolve to no proof at all.
func (v *View) ProofByBid(rawName string, bid int) (*Proof, error) {
	if bid < 0 {
		return nil, Errorf(InvalidArgument, "bid must not be negative")
	}
	sel := MatchAnyClaim()
	if bid != 0 {
		set, err := v.claimsFor(rawName)
		if err != nil {
			return nil, err
		}
		if bid >= len(set.Claims) {
			return nil, nil
		}
		sel = MatchClaimID(set.Claims[bid].Claim.ID)
	}
	return AssembleProof(v.Cache, rawName, sel)
}

// ProofBySequence assembles a proof vouching only when the claim at the
// given sequence position controls the name. Out-of-range positions
// resolve to no proof at all.
func (v *View) ProofBySequence(rawName string, seq int) (*Proof, error) {
	if seq < 0 {
		return nil, Errorf(InvalidArgument, "sequence must not be negative")
	}
	set, err := v.claimsFor(rawName)
	if err != nil {
		return nil, err
	}
	if seq >= len(set.Claims) {
		return nil, nil
	}
	id := set.Claims[0].Claim.ID
	if len(set.Claims) > 1 {
		id = SequenceOrder(set.Claims)[seq].Claim.ID
	}
	return AssembleProof(v.Cache, rawName, MatchClaimID(id))
}

// ChangesInBlock lists the claim and support churn recorded when the block
// was connected. Every stake is named by hashing its outpoint, updates and
// removals included, so callers can correlate entries across blocks.
func (v *View) ChangesInBlock(node *chain.BlockNode) (*BlockChanges, error) {
	if node == nil || !v.Index.Contains(node) {
		return nil, Errorf(NotInMainChain, "block not in main chain")
	}
	undo, err := readUndo(v, node.Hash)
	if err != nil {
		return nil, err
	}
	out := &BlockChanges{
		ClaimsAddedOrUpdated:   make([]string, 0),
		ClaimsRemoved:          make([]string, 0),
		SupportsAddedOrUpdated: make([]string, 0),
		SupportsRemoved:        make([]string, 0),
	}
	for i := range undo.Ops {
		op := &undo.Ops[i]
		id := types.NewClaimID(op.OutPoint).Hex()
		switch op.Kind {
		case chain.OpAddClaim:
			out.ClaimsAddedOrUpdated = append(out.ClaimsAddedOrUpdated, id)
		case chain.OpRemoveClaim:
			out.ClaimsRemoved = append(out.ClaimsRemoved, id)
		case chain.OpAddSupport:
			out.SupportsAddedOrUpdated = append(out.SupportsAddedOrUpdated, id)
		case chain.OpRemoveSupport:
			out.SupportsRemoved = append(out.SupportsRemoved, id)
		}
	}
	return out, nil
}

func (v *View) claimsFor(rawName string) (*claimtrie.ClaimsForName, error) {
	set, err := v.Cache.ClaimsForName(rawName)
	if err != nil {
		return nil, Wrap(StorageInconsistency, err, "claims for %q", rawName)
	}
	return set, nil
}

func (v *View) stampClaimState(entry *TxClaimEntry, set *claimtrie.ClaimsForName, op types.OutPoint) {
	found := findClaimByOutPoint(set, op)
	switch {
	case found == nil:
		entry.InClaimTrie = boolPtr(false)
		entry.InQueue = boolPtr(false)
	case found.Claim.ActiveAt(v.Height):
		entry.InClaimTrie = boolPtr(true)
		ctl := set.Controlling()
		entry.IsControlling = boolPtr(ctl != nil && ctl.Claim.OutPoint == op)
	default:
		entry.InClaimTrie = boolPtr(false)
		entry.InQueue = boolPtr(true)
		entry.BlocksToValid = int32Ptr(found.Claim.ValidAtHeight - v.Height)
	}
}

func (v *View) stampSupportState(entry *TxClaimEntry, set *claimtrie.ClaimsForName, op types.OutPoint) {
	found := findSupportByOutPoint(set, op)
	switch {
	case found == nil:
		entry.InSupportMap = boolPtr(false)
		entry.InQueue = boolPtr(false)
	case found.ActiveAt(v.Height):
		entry.InSupportMap = boolPtr(true)
	default:
		entry.InSupportMap = boolPtr(false)
		entry.InQueue = boolPtr(true)
		entry.BlocksToValid = int32Ptr(found.ValidAtHeight - v.Height)
	}
}

func findClaimByOutPoint(set *claimtrie.ClaimsForName, op types.OutPoint) *claimtrie.ClaimNSupports {
	for i := range set.Claims {
		if set.Claims[i].Claim.OutPoint == op {
			return &set.Claims[i]
		}
	}
	return nil
}

func findSupportByOutPoint(set *claimtrie.ClaimsForName, op types.OutPoint) *claimtrie.Support {
	for i := range set.Claims {
		for j := range set.Claims[i].Supports {
			if set.Claims[i].Supports[j].OutPoint == op {
				return &set.Claims[i].Supports[j]
			}
		}
	}
	for i := range set.SupportsWithoutClaim {
		if set.SupportsWithoutClaim[i].OutPoint == op {
			return &set.SupportsWithoutClaim[i]
		}
	}
	return nil
}

func hasActiveClaim(nd *claimtrie.NodeData, height int32) bool {
	for i := range nd.Claims {
		if nd.Claims[i].ActiveAt(height) {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool    { return &b }
func int32Ptr(n int32) *int32 { return &n }
