package chain

import (
	"fmt"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/types"
)

// DisconnectBlock unwinds a connected block from the given views using its
// undo record. Transactions are unwound last to first so coins spent and
// recreated inside the block net out; claim operations replay in reverse of
// the order ConnectBlock applied them.
func DisconnectBlock(block *types.Block, undo *BlockUndo, cache *claimtrie.Cache, coins *CoinsView) error {
	if len(undo.TxCoins) != len(block.Transactions) {
		return fmt.Errorf("chain: undo record covers %d txs, block has %d", len(undo.TxCoins), len(block.Transactions))
	}

	for txIndex := len(block.Transactions) - 1; txIndex >= 0; txIndex-- {
		tx := block.Transactions[txIndex]
		txid := tx.Hash()
		for i := len(tx.Outputs) - 1; i >= 0; i-- {
			op := types.OutPoint{TxID: txid, Index: uint32(i)}
			if err := coins.RemoveCoin(op); err != nil {
				return fmt.Errorf("chain: disconnect output %s: %w", op, err)
			}
		}
		spent := undo.TxCoins[txIndex]
		for i := len(spent) - 1; i >= 0; i-- {
			coin := spent[i].Coin
			coins.AddCoin(spent[i].OutPoint, &coin)
		}
	}

	for i := len(undo.Ops) - 1; i >= 0; i-- {
		op := &undo.Ops[i]
		switch op.Kind {
		case OpAddClaim:
			if _, err := cache.RemoveClaim(op.Name, op.OutPoint); err != nil {
				return fmt.Errorf("chain: disconnect claim %s: %w", op.OutPoint, err)
			}
		case OpRemoveClaim:
			if err := cache.AddClaim(op.Name, undo.removedClaim(op)); err != nil {
				return fmt.Errorf("chain: disconnect claim %s: %w", op.OutPoint, err)
			}
		case OpAddSupport:
			if _, err := cache.RemoveSupport(op.Name, op.OutPoint); err != nil {
				return fmt.Errorf("chain: disconnect support %s: %w", op.OutPoint, err)
			}
		case OpRemoveSupport:
			if err := cache.AddSupport(op.Name, undo.removedSupport(op)); err != nil {
				return fmt.Errorf("chain: disconnect support %s: %w", op.OutPoint, err)
			}
		default:
			return fmt.Errorf("chain: unknown undo op kind %d", op.Kind)
		}
	}

	for i := range undo.Takeovers {
		tu := &undo.Takeovers[i]
		if !tu.PrevExists {
			// The block created this name; the ops above emptied it.
			cache.DeleteName(tu.Name)
			continue
		}
		if err := cache.SetLastTakeover(tu.Name, tu.PrevHeight); err != nil {
			return fmt.Errorf("chain: restore takeover %q: %w", tu.Name, err)
		}
	}
	return nil
}
