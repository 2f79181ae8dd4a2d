package claimquery

import (
	"context"

	"github.com/nondejus/lbrycrd/core/chain"
	"github.com/nondejus/lbrycrd/core/types"
)

// MaxReplayDepth caps how many blocks a query may rewind below the tip.
// Deeper history requires reindexing from genesis rather than replaying
// undo data onto a live overlay.
const MaxReplayDepth = 500

// RollBackTo rewinds the view's overlays to target by disconnecting every
// block between the tip and target, newest first. The committed state is
// untouched; only the view's cache and coin overlay move. The walk always
// starts at the index tip, so a view rewinds at most once; construct a
// fresh one per query. On any failure the view is left mid-rewind and must
// be discarded.
func RollBackTo(ctx context.Context, v *View, target *chain.BlockNode) error {
	if target == nil || !v.Index.Contains(target) {
		return Errorf(NotInMainChain, "block not in main chain")
	}
	tip := v.Index.Tip()
	if tip == nil {
		return Errorf(StorageInconsistency, "chain index has no tip")
	}
	if tip.Height > target.Height+MaxReplayDepth {
		v.Metrics.IncReplayFailure("too_deep")
		return Errorf(TooDeep, "block at height %d is more than %d deep", target.Height, MaxReplayDepth)
	}
	for node := tip; node != target; node = node.Prev {
		block, err := readBlock(v, node.Hash)
		if err != nil {
			v.Metrics.IncReplayFailure("read_block")
			return err
		}
		if v.MemoryCeiling > 0 && v.Coins.MemoryUsage() > v.MemoryCeiling {
			v.Metrics.IncReplayFailure("memory")
			return Errorf(ResourceExhausted, "coin overlay exceeds %d bytes at height %d", v.MemoryCeiling, node.Height)
		}
		if err := ctx.Err(); err != nil {
			v.Metrics.IncReplayFailure("aborted")
			return Wrap(Aborted, err, "replay interrupted at height %d", node.Height)
		}
		undo, err := readUndo(v, node.Hash)
		if err != nil {
			v.Metrics.IncReplayFailure("read_undo")
			return err
		}
		if err := chain.DisconnectBlock(block, undo, v.Cache, v.Coins); err != nil {
			v.Metrics.IncReplayFailure("disconnect")
			return Wrap(StorageInconsistency, err, "disconnect block %s", node.Hash.Hex())
		}
		v.Cache.SetHeight(node.Height - 1)
		v.Metrics.IncDisconnectStep()
	}
	v.Height = target.Height
	// Materialize the rewound commitment so later proof and root queries
	// read a settled tree.
	if _, err := v.Cache.MerkleHash(); err != nil {
		return Wrap(StorageInconsistency, err, "materialize commitment at height %d", target.Height)
	}
	return nil
}

func readBlock(v *View, hash types.Hash) (*types.Block, error) {
	payload, err := v.Store.Block(hash)
	if err != nil {
		return nil, Wrap(StorageInconsistency, err, "read block %s", hash.Hex())
	}
	block, err := types.DecodeBlock(payload)
	if err != nil {
		return nil, Wrap(StorageInconsistency, err, "decode block %s", hash.Hex())
	}
	return block, nil
}

func readUndo(v *View, hash types.Hash) (*chain.BlockUndo, error) {
	payload, err := v.Store.Undo(hash)
	if err != nil {
		return nil, Wrap(StorageInconsistency, err, "read undo %s", hash.Hex())
	}
	undo, err := chain.DecodeBlockUndo(payload)
	if err != nil {
		return nil, Wrap(StorageInconsistency, err, "decode undo %s", hash.Hex())
	}
	return undo, nil
}
