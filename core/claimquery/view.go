package claimquery

import (
	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/chain"
	"github.com/nondejus/lbrycrd/observability/metrics"
	"github.com/nondejus/lbrycrd/storage/blockstore"
)

// View is the state a single query session reads: the header index, the
// block store, and overlays over the committed claim and coin state. A
// view starts at the chain tip; RollBackTo rewinds its overlays to an
// earlier block without touching committed state. Views are not safe for
// concurrent use; callers construct one per query.
type View struct {
	Index *chain.Index
	Store *blockstore.Store
	Trie  *claimtrie.ClaimTrie
	Cache *claimtrie.Cache
	Coins *chain.CoinsView

	// Height is the block height the overlays currently describe.
	Height int32

	// MemoryCeiling bounds the coin overlay growth during replay, in
	// bytes. Zero means no ceiling.
	MemoryCeiling int64

	Metrics *metrics.ClaimtrieMetrics
}

// TipHeight reports the committed chain height, independent of any
// rewinding applied to this view.
func (v *View) TipHeight() int32 {
	if tip := v.Index.Tip(); tip != nil {
		return tip.Height
	}
	return -1
}
