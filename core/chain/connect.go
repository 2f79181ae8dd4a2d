package chain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/types"
)

const (
	// blocksPerDelayUnit and maxActivationDelay bound how long a late
	// claim waits before it can unseat an established controlling claim:
	// one block of delay per 32 blocks of uncontested control, capped at
	// one week of blocks.
	blocksPerDelayUnit = 32
	maxActivationDelay = 4032
)

var (
	// ErrBadClaimAmount rejects claim or support outputs without a
	// positive stake.
	ErrBadClaimAmount = errors.New("chain: claim output with non-positive amount")
	// ErrBadClaimScript rejects outputs whose claim prefix is malformed.
	ErrBadClaimScript = errors.New("chain: malformed claim script")
)

// IndexOp is one claim-id index mutation to apply once a block commits.
type IndexOp struct {
	Delete bool
	ID     types.ClaimID
	Name   string
	Claim  claimtrie.Claim
}

// ConnectResult carries everything a committed block changes beyond the
// trie and coin views themselves.
type ConnectResult struct {
	Undo        *BlockUndo
	IndexOps    []IndexOp
	Activations map[int32][]string // validAtHeight -> names to revisit
}

type priorState struct {
	exists   bool
	takeover int32
	ctlID    types.ClaimID
	ctlOK    bool
}

// ConnectBlock applies a block's coin and claim operations to the given
// views and resolves takeovers for every name the block or the activation
// schedule touches. The views carry all changes; nothing is flushed here.
func ConnectBlock(block *types.Block, trie *claimtrie.ClaimTrie, cache *claimtrie.Cache, coins *CoinsView) (*ConnectResult, error) {
	height := block.Header.Height
	undo := &BlockUndo{TxCoins: make([][]CoinUndo, len(block.Transactions))}
	res := &ConnectResult{Undo: undo, Activations: make(map[int32][]string)}

	prior := make(map[string]priorState)
	capture := func(name string) error {
		if _, ok := prior[name]; ok {
			return nil
		}
		nd, err := cache.NodeAt(name)
		if err != nil {
			return err
		}
		ps := priorState{}
		if nd != nil {
			ps.exists = true
			ps.takeover = nd.LastTakeoverHeight
			ps.ctlID, ps.ctlOK = nd.ControllingID(height - 1)
		}
		prior[name] = ps
		return nil
	}

	// delayFor follows the takeover delay rule: names with an established
	// controlling claim resist replacement in proportion to how long the
	// claim has held the name.
	delayFor := func(name string) (int32, error) {
		nd, err := cache.NodeAt(name)
		if err != nil {
			return 0, err
		}
		if nd == nil {
			return 0, nil
		}
		if _, ok := nd.ControllingID(height - 1); !ok {
			return 0, nil
		}
		delay := (height - nd.LastTakeoverHeight) / blocksPerDelayUnit
		if delay > maxActivationDelay {
			delay = maxActivationDelay
		}
		return delay, nil
	}

	touched := make(map[string]bool)
	schedule := func(validAt int32, name string) {
		for _, n := range res.Activations[validAt] {
			if n == name {
				return
			}
		}
		res.Activations[validAt] = append(res.Activations[validAt], name)
	}

	for txIndex, tx := range block.Transactions {
		txid := tx.Hash()
		if !tx.IsCoinbase() {
			for _, in := range tx.Inputs {
				spent, err := coins.SpendCoin(in.PrevOut)
				if err != nil {
					return nil, fmt.Errorf("chain: connect %s input: %w", txid.Hex(), err)
				}
				undo.TxCoins[txIndex] = append(undo.TxCoins[txIndex], CoinUndo{OutPoint: in.PrevOut, Coin: *spent})

				cs, ok, err := types.DecodeClaimScript(spent.Output.PkScript)
				if !ok || err != nil {
					continue
				}
				name := claimtrie.Normalize(string(cs.Name))
				if err := capture(name); err != nil {
					return nil, err
				}
				switch cs.Op {
				case types.OpClaimName, types.OpUpdateClaim:
					removed, err := cache.RemoveClaim(name, in.PrevOut)
					if err != nil {
						return nil, fmt.Errorf("chain: connect %s: %w", txid.Hex(), err)
					}
					undo.Ops = append(undo.Ops, ClaimOpUndo{
						Kind:          OpRemoveClaim,
						Name:          name,
						OutPoint:      removed.OutPoint,
						ID:            removed.ID,
						Amount:        removed.Amount,
						Height:        removed.Height,
						ValidAtHeight: removed.ValidAtHeight,
					})
					res.IndexOps = append(res.IndexOps, IndexOp{Delete: true, ID: removed.ID})
				case types.OpSupportClaim:
					removed, err := cache.RemoveSupport(name, in.PrevOut)
					if err != nil {
						return nil, fmt.Errorf("chain: connect %s: %w", txid.Hex(), err)
					}
					undo.Ops = append(undo.Ops, ClaimOpUndo{
						Kind:          OpRemoveSupport,
						Name:          name,
						OutPoint:      removed.OutPoint,
						ID:            removed.SupportedID,
						Amount:        removed.Amount,
						Height:        removed.Height,
						ValidAtHeight: removed.ValidAtHeight,
					})
				}
				touched[name] = true
			}
		}

		for i, out := range tx.Outputs {
			op := types.OutPoint{TxID: txid, Index: uint32(i)}
			coins.AddCoin(op, &Coin{Output: out, Height: height})

			cs, ok, err := types.DecodeClaimScript(out.PkScript)
			if err != nil {
				return nil, fmt.Errorf("%w: %s output %d: %v", ErrBadClaimScript, txid.Hex(), i, err)
			}
			if !ok {
				continue
			}
			if out.Value <= 0 {
				return nil, fmt.Errorf("%w: %s output %d", ErrBadClaimAmount, txid.Hex(), i)
			}
			name := claimtrie.Normalize(string(cs.Name))
			if err := capture(name); err != nil {
				return nil, err
			}

			switch cs.Op {
			case types.OpClaimName, types.OpUpdateClaim:
				id := cs.ClaimID
				if cs.Op == types.OpClaimName {
					id = types.NewClaimID(op)
				}
				validAt := height
				if !reactivatesOwnClaim(undo.Ops, name, id, height) {
					delay, err := delayFor(name)
					if err != nil {
						return nil, err
					}
					validAt = height + delay
				}
				claim := claimtrie.Claim{OutPoint: op, ID: id, Amount: out.Value, Height: height, ValidAtHeight: validAt}
				if err := cache.AddClaim(name, claim); err != nil {
					return nil, err
				}
				undo.Ops = append(undo.Ops, ClaimOpUndo{Kind: OpAddClaim, Name: name, OutPoint: op, ID: id})
				res.IndexOps = append(res.IndexOps, IndexOp{Name: name, Claim: claim})
				if validAt > height {
					schedule(validAt, name)
				}
			case types.OpSupportClaim:
				delay, err := delayFor(name)
				if err != nil {
					return nil, err
				}
				sup := claimtrie.Support{
					OutPoint:      op,
					SupportedID:   cs.ClaimID,
					Amount:        out.Value,
					Height:        height,
					ValidAtHeight: height + delay,
				}
				if err := cache.AddSupport(name, sup); err != nil {
					return nil, err
				}
				undo.Ops = append(undo.Ops, ClaimOpUndo{Kind: OpAddSupport, Name: name, OutPoint: op, ID: cs.ClaimID})
				if delay > 0 {
					schedule(sup.ValidAtHeight, name)
				}
			}
			touched[name] = true
		}
	}

	scheduled, err := trie.ActivationsAt(height)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(touched)+len(scheduled))
	for name := range touched {
		names = append(names, name)
	}
	for _, name := range scheduled {
		if !touched[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := capture(name); err != nil {
			return nil, err
		}
		nd, err := cache.NodeAt(name)
		if err != nil {
			return nil, err
		}
		ps := prior[name]
		if nd == nil || nd.Empty() {
			if ps.exists {
				undo.Takeovers = append(undo.Takeovers, TakeoverUndo{Name: name, PrevHeight: ps.takeover, PrevExists: true})
				cache.DeleteName(name)
			}
			continue
		}
		newID, newOK := nd.ControllingID(height)
		if newOK == ps.ctlOK && newID == ps.ctlID {
			continue
		}
		if !newOK {
			// Claims remain but none is active yet; control is vacant,
			// not transferred.
			continue
		}
		undo.Takeovers = append(undo.Takeovers, TakeoverUndo{Name: name, PrevHeight: ps.takeover, PrevExists: ps.exists})
		if err := cache.SetLastTakeover(name, height); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// reactivatesOwnClaim reports whether an added claim is an in-block update
// of a stake that was already active, which keeps its activation immediate
// instead of re-entering the delay queue.
func reactivatesOwnClaim(ops []ClaimOpUndo, name string, id types.ClaimID, height int32) bool {
	for i := range ops {
		op := &ops[i]
		if op.Kind == OpRemoveClaim && op.Name == name && op.ID == id && op.ValidAtHeight <= height {
			return true
		}
	}
	return false
}
