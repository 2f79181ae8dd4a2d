package claimquery

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/types"
)

// The output types are the JSON documents the command surface returns.
// Field names and ordering are part of the wire contract; embedding keeps
// the shared claim fields in one place without disturbing either.

// ClaimOutput is the base rendering of one claim. Name comes from the live
// identifier index, so a claim abandoned after the queried height renders
// without it. Value and Address appear only while the funding output is
// unspent in the view.
type ClaimOutput struct {
	Name          string  `json:"name,omitempty"`
	Value         *string `json:"value,omitempty"`
	Address       string  `json:"address,omitempty"`
	ClaimID       string  `json:"claimId"`
	TxID          string  `json:"txId"`
	N             uint32  `json:"n"`
	Height        int32   `json:"height"`
	ValidAtHeight int32   `json:"validAtHeight"`
	Amount        int64   `json:"amount"`
}

// SupportOutput renders one support. Supports reference their claim by
// position in the enclosing document, so no claim id is repeated here.
type SupportOutput struct {
	Value         *string `json:"value,omitempty"`
	Address       string  `json:"address,omitempty"`
	TxID          string  `json:"txId"`
	N             uint32  `json:"n"`
	Height        int32   `json:"height"`
	ValidAtHeight int32   `json:"validAtHeight"`
	Amount        int64   `json:"amount"`
}

// ClaimWithSupports extends a claim with its competitive standing.
// PendingAmount appears only when inactive stakes would lift the effective
// amount once they mature.
type ClaimWithSupports struct {
	ClaimOutput
	EffectiveAmount int64           `json:"effectiveAmount"`
	PendingAmount   int64           `json:"pendingAmount,omitempty"`
	Supports        []SupportOutput `json:"supports"`
}

// ClaimResult is the single-claim document returned by the value, bid,
// sequence and identifier lookups.
type ClaimResult struct {
	NormalizedName string `json:"normalizedName"`
	ClaimWithSupports
	LastTakeoverHeight int32 `json:"lastTakeoverHeight"`
	Bid                int   `json:"bid"`
	Sequence           int   `json:"sequence"`
}

// ClaimEntry is one claim inside a full name listing, stamped with both
// orderings.
type ClaimEntry struct {
	ClaimWithSupports
	Bid      int `json:"bid"`
	Sequence int `json:"sequence"`
}

// NameClaimsResult is the full competitive state of one name.
type NameClaimsResult struct {
	NormalizedName       string          `json:"normalizedName"`
	Claims               []ClaimEntry    `json:"claims"`
	LastTakeoverHeight   int32           `json:"lastTakeoverHeight"`
	SupportsWithoutClaim []SupportOutput `json:"supportsWithoutClaim"`
}

// TrieNameClaims is one entry of the full trie listing: a name and its
// active claims.
type TrieNameClaims struct {
	NormalizedName string        `json:"normalizedName"`
	Claims         []ClaimOutput `json:"claims"`
}

// TxClaimEntry describes one claim output of a transaction and where that
// stake currently stands.
type TxClaimEntry struct {
	N             uint32  `json:"n"`
	Name          string  `json:"name"`
	ClaimID       string  `json:"claimId"`
	Value         *string `json:"value,omitempty"`
	Depth         int32   `json:"depth"`
	InClaimTrie   *bool   `json:"inClaimTrie,omitempty"`
	IsControlling *bool   `json:"isControlling,omitempty"`
	InSupportMap  *bool   `json:"inSupportMap,omitempty"`
	InQueue       *bool   `json:"inQueue,omitempty"`
	BlocksToValid *int32  `json:"blocksToValid,omitempty"`
}

// BlockChanges lists the claim and support churn one block caused, each
// stake named by the identifier its outpoint hashes to.
type BlockChanges struct {
	ClaimsAddedOrUpdated   []string `json:"claimsAddedOrUpdated"`
	ClaimsRemoved          []string `json:"claimsRemoved"`
	SupportsAddedOrUpdated []string `json:"supportsAddedOrUpdated"`
	SupportsRemoved        []string `json:"supportsRemoved"`
}

// ProofJSON is the wire form of a Proof. The vouched outpoint fields appear
// only on proofs that vouch for a value.
type ProofJSON struct {
	Nodes              []ProofNodeJSON `json:"nodes,omitempty"`
	Pairs              []ProofPairJSON `json:"pairs,omitempty"`
	TxID               string          `json:"txId,omitempty"`
	N                  *uint32         `json:"n,omitempty"`
	LastTakeoverHeight *int32          `json:"lastTakeoverHeight,omitempty"`
}

// ProofNodeJSON is one opened node record.
type ProofNodeJSON struct {
	Children  []ProofChildJSON `json:"children"`
	ValueHash string           `json:"valueHash,omitempty"`
}

// ProofChildJSON is one child edge; NodeHash is absent on the edge the
// proven path follows.
type ProofChildJSON struct {
	Character int    `json:"character"`
	NodeHash  string `json:"nodeHash,omitempty"`
}

// ProofPairJSON is one run segment commitment.
type ProofPairJSON struct {
	Odd  bool   `json:"odd"`
	Hash string `json:"hash"`
}

// RenderProof converts a proof to its wire form.
func RenderProof(p *Proof) *ProofJSON {
	out := &ProofJSON{}
	for _, node := range p.Nodes {
		rec := ProofNodeJSON{Children: make([]ProofChildJSON, len(node.Children))}
		for i, child := range node.Children {
			rec.Children[i] = ProofChildJSON{Character: int(child.Character)}
			if child.Hash != nil {
				rec.Children[i].NodeHash = child.Hash.Hex()
			}
		}
		if node.ValueHash != nil {
			rec.ValueHash = node.ValueHash.Hex()
		}
		out.Nodes = append(out.Nodes, rec)
	}
	for _, pair := range p.Pairs {
		out.Pairs = append(out.Pairs, ProofPairJSON{Odd: pair.Odd, Hash: pair.Hash.Hex()})
	}
	if p.HasValue {
		out.TxID = p.OutPoint.TxID.Hex()
		n := p.OutPoint.Index
		out.N = &n
		takeover := p.LastTakeoverHeight
		out.LastTakeoverHeight = &takeover
	}
	return out
}

// renderClaim builds the base claim document: identity fields from the
// claim record, name from the live index, value and address from the
// view's coin state.
func (v *View) renderClaim(claim *claimtrie.Claim) (ClaimOutput, error) {
	out := ClaimOutput{
		ClaimID:       claim.ID.Hex(),
		TxID:          claim.OutPoint.TxID.Hex(),
		N:             claim.OutPoint.Index,
		Height:        claim.Height,
		ValidAtHeight: claim.ValidAtHeight,
		Amount:        claim.Amount,
	}
	entry, err := v.Trie.IndexGet(claim.ID)
	if err != nil {
		return out, Wrap(StorageInconsistency, err, "claim index lookup for %s", out.ClaimID)
	}
	if entry != nil {
		out.Name = EscapeNonUTF8(entry.Name)
	}
	value, address, err := v.outputPayload(claim.OutPoint)
	if err != nil {
		return out, err
	}
	out.Value, out.Address = value, address
	return out, nil
}

func (v *View) renderSupport(sup *claimtrie.Support) (SupportOutput, error) {
	out := SupportOutput{
		TxID:          sup.OutPoint.TxID.Hex(),
		N:             sup.OutPoint.Index,
		Height:        sup.Height,
		ValidAtHeight: sup.ValidAtHeight,
		Amount:        sup.Amount,
	}
	value, address, err := v.outputPayload(sup.OutPoint)
	if err != nil {
		return out, err
	}
	out.Value, out.Address = value, address
	return out, nil
}

// outputPayload extracts the metadata hex and destination address of the
// output at op, when it is still unspent in the view.
func (v *View) outputPayload(op types.OutPoint) (*string, string, error) {
	coin, err := v.Coins.GetCoin(op)
	if err != nil {
		return nil, "", Wrap(StorageInconsistency, err, "coin lookup for %s", op)
	}
	if coin == nil {
		return nil, "", nil
	}
	var value *string
	cs, ok, err := types.DecodeClaimScript(coin.Output.PkScript)
	if ok && err == nil && cs.HasValue() {
		hexValue := hex.EncodeToString(cs.Value)
		value = &hexValue
	}
	address, _ := types.ExtractAddress(coin.Output.PkScript)
	return value, address, nil
}

func (v *View) renderClaimWithSupports(entry *claimtrie.ClaimNSupports) (ClaimWithSupports, error) {
	base, err := v.renderClaim(&entry.Claim)
	if err != nil {
		return ClaimWithSupports{}, err
	}
	out := ClaimWithSupports{
		ClaimOutput:     base,
		EffectiveAmount: entry.EffectiveAmount,
		Supports:        make([]SupportOutput, 0, len(entry.Supports)),
	}
	full, err := FullAmount(entry)
	if err != nil {
		return ClaimWithSupports{}, err
	}
	if full > entry.EffectiveAmount {
		out.PendingAmount = full
	}
	for i := range entry.Supports {
		sup, err := v.renderSupport(&entry.Supports[i])
		if err != nil {
			return ClaimWithSupports{}, err
		}
		out.Supports = append(out.Supports, sup)
	}
	return out, nil
}

// renderClaimResult builds the single-claim document for one entry of a
// ranked set.
func (v *View) renderClaimResult(set *claimtrie.ClaimsForName, entry *claimtrie.ClaimNSupports) (*ClaimResult, error) {
	body, err := v.renderClaimWithSupports(entry)
	if err != nil {
		return nil, err
	}
	bid, seq := Rank(set, entry.Claim.ID)
	return &ClaimResult{
		NormalizedName:     EscapeNonUTF8(set.Name),
		ClaimWithSupports:  body,
		LastTakeoverHeight: set.LastTakeoverHeight,
		Bid:                bid,
		Sequence:           seq,
	}, nil
}

// EscapeNonUTF8 passes valid UTF-8 through unchanged and otherwise escapes
// the raw bytes: control and high bytes as \u sequences, the usual JSON
// shorthands for the rest. The escaping is visible to clients, which is the
// point: a name that is not text still round-trips losslessly.
func EscapeNonUTF8(name string) string {
	if utf8.ValidString(name) {
		return name
	}
	var b strings.Builder
	b.Grow(len(name) * 2)
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch < 0x08 || ch == 0x0b || (ch >= 0x0e && ch <= 0x1f) || ch >= 0x7f:
			fmt.Fprintf(&b, `\u%04x`, ch)
		case ch == 0x08:
			b.WriteString(`\b`)
		case ch == 0x09:
			b.WriteString(`\t`)
		case ch == 0x0a:
			b.WriteString(`\n`)
		case ch == 0x0c:
			b.WriteString(`\f`)
		case ch == 0x0d:
			b.WriteString(`\r`)
		case ch == 0x22:
			b.WriteString(`\"`)
		case ch == 0x5c:
			b.WriteString(`\\`)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
