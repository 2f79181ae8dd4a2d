package claimquery

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/chain"
	"github.com/nondejus/lbrycrd/core/types"
	"github.com/nondejus/lbrycrd/storage"
	"github.com/nondejus/lbrycrd/storage/blockstore"
)

// testChain runs the full connect pipeline block by block, persisting
// headers, bodies and undo data the way the node does, so views built on
// top of it see exactly what a live node would serve.
type testChain struct {
	t     *testing.T
	db    storage.Database
	trie  *claimtrie.ClaimTrie
	cache *claimtrie.Cache
	coins *chain.CoinsView
	store *blockstore.Store
	index *chain.Index
	tip   int32
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()
	db := storage.NewMemDB()
	trie, err := claimtrie.New(db)
	require.NoError(t, err)
	store, err := blockstore.Open(filepath.Join(t.TempDir(), "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	tc := &testChain{
		t:     t,
		db:    db,
		trie:  trie,
		cache: claimtrie.NewCache(trie),
		coins: chain.NewCoinsView(db),
		store: store,
		index: chain.NewIndex(),
		tip:   -1,
	}
	tc.mine(nil) // genesis
	return tc
}

// coinbaseTx mints one block's subsidy. The prevout index doubles as a
// nonce so every height gets a distinct txid.
func coinbaseTx(height int32, extra ...types.TxOut) *types.Transaction {
	outs := append([]types.TxOut{{Value: 50e8, PkScript: types.PayToPubKeyHashScript([20]byte{0xc0})}}, extra...)
	return &types.Transaction{
		Inputs:  []types.TxIn{{PrevOut: types.OutPoint{Index: uint32(height)}}},
		Outputs: outs,
	}
}

func claimOut(name string, amount int64) types.TxOut {
	return types.TxOut{Value: amount, PkScript: types.ClaimNameScript(name, []byte("meta"), [20]byte{0xaa})}
}

func supportOut(id types.ClaimID, name string, amount int64) types.TxOut {
	return types.TxOut{Value: amount, PkScript: types.SupportClaimScript(name, id, nil, [20]byte{0xbb})}
}

// mine connects the next block, carrying extra coinbase outputs plus any
// further transactions, then commits and persists everything.
func (tc *testChain) mine(extra []types.TxOut, txs ...*types.Transaction) *types.Block {
	tc.t.Helper()
	height := tc.tip + 1
	header := &types.BlockHeader{Height: height}
	if tip := tc.index.Tip(); tip != nil {
		header.PrevHash = tip.Hash
	}
	all := append([]*types.Transaction{coinbaseTx(height, extra...)}, txs...)
	block := types.NewBlock(header, all)

	tc.cache.SetHeight(height)
	res, err := chain.ConnectBlock(block, tc.trie, tc.cache, tc.coins)
	require.NoError(tc.t, err)
	for validAt, names := range res.Activations {
		require.NoError(tc.t, tc.trie.PushActivations(validAt, names))
	}
	root, err := tc.cache.MerkleHash()
	require.NoError(tc.t, err)
	header.ClaimTrieRoot = root
	header.TxRoot = types.TxMerkleRoot(all)

	require.NoError(tc.t, tc.cache.Flush())
	require.NoError(tc.t, tc.coins.Flush())
	require.NoError(tc.t, tc.trie.DropActivations(height))
	for _, op := range res.IndexOps {
		if op.Delete {
			require.NoError(tc.t, tc.trie.IndexDelete(op.ID))
		} else {
			require.NoError(tc.t, tc.trie.IndexPut(op.Name, op.Claim))
		}
	}

	hash := block.Hash()
	rawHeader, err := types.EncodeHeader(header)
	require.NoError(tc.t, err)
	require.NoError(tc.t, tc.store.PutHeader(hash, rawHeader))
	rawBlock, err := types.EncodeBlock(block)
	require.NoError(tc.t, err)
	require.NoError(tc.t, tc.store.PutBlock(hash, rawBlock))
	rawUndo, err := chain.EncodeBlockUndo(res.Undo)
	require.NoError(tc.t, err)
	require.NoError(tc.t, tc.store.PutUndo(hash, rawUndo))
	require.NoError(tc.t, tc.store.SetChainTip(hash))
	require.NoError(tc.t, tc.index.Append(header))

	tc.tip = height
	return block
}

// mineClaim registers a fresh claim in its own block and returns its
// outpoint and derived id.
func (tc *testChain) mineClaim(name string, amount int64) (types.OutPoint, types.ClaimID) {
	tc.t.Helper()
	block := tc.mine([]types.TxOut{claimOut(name, amount)})
	op := types.OutPoint{TxID: block.Transactions[0].Hash(), Index: 1}
	return op, types.NewClaimID(op)
}

func (tc *testChain) mineSupport(id types.ClaimID, name string, amount int64) types.OutPoint {
	tc.t.Helper()
	block := tc.mine([]types.TxOut{supportOut(id, name, amount)})
	return types.OutPoint{TxID: block.Transactions[0].Hash(), Index: 1}
}

// view builds a fresh query view at the committed tip, the same way the
// node does per request. Metrics stay nil; the recorders tolerate that.
func (tc *testChain) view() *View {
	tc.t.Helper()
	return &View{
		Index:  tc.index,
		Store:  tc.store,
		Trie:   tc.trie,
		Cache:  claimtrie.NewCache(tc.trie),
		Coins:  chain.NewCoinsView(tc.db),
		Height: tc.tip,
	}
}

func TestValueForNameControllingClaim(t *testing.T) {
	tc := newTestChain(t)
	op, id := tc.mineClaim("movie", 10)
	tc.mineSupport(id, "movie", 5)

	v := tc.view()
	res, err := v.ValueForName("movie", "")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, "movie", res.NormalizedName)
	require.Equal(t, "movie", res.Name)
	require.Equal(t, id.Hex(), res.ClaimID)
	require.Equal(t, op.TxID.Hex(), res.TxID)
	require.Equal(t, uint32(1), res.N)
	require.Equal(t, int32(1), res.Height)
	require.Equal(t, int32(1), res.ValidAtHeight)
	require.Equal(t, int64(10), res.Amount)
	require.Equal(t, int64(15), res.EffectiveAmount)
	require.Zero(t, res.PendingAmount)
	require.Len(t, res.Supports, 1)
	require.Equal(t, int64(5), res.Supports[0].Amount)
	require.NotNil(t, res.Value)
	require.Equal(t, hex.EncodeToString([]byte("meta")), *res.Value)
	require.NotEmpty(t, res.Address)
	require.Equal(t, int32(1), res.LastTakeoverHeight)
	require.Zero(t, res.Bid)
	require.Zero(t, res.Sequence)

	missing, err := v.ValueForName("ghost", "")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestValueForNameByIdentifier(t *testing.T) {
	tc := newTestChain(t)
	_, older := tc.mineClaim("prize", 10)
	_, bigger := tc.mineClaim("prize", 25)

	v := tc.view()
	top, err := v.ValueForName("prize", "")
	require.NoError(t, err)
	require.Equal(t, bigger.Hex(), top.ClaimID)
	require.Equal(t, int32(2), top.LastTakeoverHeight)

	chosen, err := v.ValueForName("prize", older.Hex())
	require.NoError(t, err)
	require.NotNil(t, chosen)
	require.Equal(t, older.Hex(), chosen.ClaimID)
	require.Equal(t, 1, chosen.Bid)
	require.Equal(t, 0, chosen.Sequence)

	byPrefix, err := v.ValueForName("prize", older.Hex()[:6])
	require.NoError(t, err)
	require.NotNil(t, byPrefix)
	require.Equal(t, older.Hex(), byPrefix.ClaimID)

	none, err := v.ValueForName("prize", strings.Repeat("f", 40))
	require.NoError(t, err)
	require.Nil(t, none)

	if _, err := v.ValueForName("prize", "xyz!"); KindOf(err) != InvalidArgument {
		t.Fatalf("malformed id: got %v", err)
	}
	if _, err := v.ValueForName("prize", "abc"); KindOf(err) != InvalidArgument {
		t.Fatalf("odd-length id: got %v", err)
	}
}

// A newer, larger claim wins the bid ordering while the older claim keeps
// the lower sequence number. The two positions must stay independent.
func TestBidAndSequencePositions(t *testing.T) {
	tc := newTestChain(t)
	_, older := tc.mineClaim("laurel", 2)
	_, newer := tc.mineClaim("laurel", 5)

	v := tc.view()
	top, err := v.ClaimAtBid("laurel", 0)
	require.NoError(t, err)
	require.Equal(t, newer.Hex(), top.ClaimID)
	require.Equal(t, 0, top.Bid)
	require.Equal(t, 1, top.Sequence)

	runnerUp, err := v.ClaimAtBid("laurel", 1)
	require.NoError(t, err)
	require.Equal(t, older.Hex(), runnerUp.ClaimID)
	require.Equal(t, 1, runnerUp.Bid)
	require.Equal(t, 0, runnerUp.Sequence)

	first, err := v.ClaimAtSequence("laurel", 0)
	require.NoError(t, err)
	require.Equal(t, older.Hex(), first.ClaimID)
	require.Equal(t, 1, first.Bid)
	require.Equal(t, 0, first.Sequence)

	second, err := v.ClaimAtSequence("laurel", 1)
	require.NoError(t, err)
	require.Equal(t, newer.Hex(), second.ClaimID)
	require.Equal(t, 0, second.Bid)
	require.Equal(t, 1, second.Sequence)

	oob, err := v.ClaimAtBid("laurel", 2)
	require.NoError(t, err)
	require.Nil(t, oob)
	oob, err = v.ClaimAtSequence("laurel", 9)
	require.NoError(t, err)
	require.Nil(t, oob)

	if _, err := v.ClaimAtBid("laurel", -1); KindOf(err) != InvalidArgument {
		t.Fatalf("negative bid: got %v", err)
	}
	if _, err := v.ClaimAtSequence("laurel", -1); KindOf(err) != InvalidArgument {
		t.Fatalf("negative seq: got %v", err)
	}
}

func TestClaimsForNameFullState(t *testing.T) {
	tc := newTestChain(t)
	_, older := tc.mineClaim("epic", 8)
	_, newer := tc.mineClaim("epic", 20)
	tc.mineSupport(types.ClaimID{0xee}, "epic", 7) // no such claim

	v := tc.view()
	res, err := v.ClaimsForName("epic")
	require.NoError(t, err)
	require.Equal(t, "epic", res.NormalizedName)
	require.Equal(t, int32(2), res.LastTakeoverHeight)
	require.Len(t, res.Claims, 2)
	require.Equal(t, newer.Hex(), res.Claims[0].ClaimID)
	require.Equal(t, 0, res.Claims[0].Bid)
	require.Equal(t, 1, res.Claims[0].Sequence)
	require.Equal(t, older.Hex(), res.Claims[1].ClaimID)
	require.Equal(t, 1, res.Claims[1].Bid)
	require.Equal(t, 0, res.Claims[1].Sequence)
	require.Len(t, res.SupportsWithoutClaim, 1)
	require.Equal(t, int64(7), res.SupportsWithoutClaim[0].Amount)

	empty, err := v.ClaimsForName("ghost")
	require.NoError(t, err)
	require.Equal(t, "ghost", empty.NormalizedName)
	require.Empty(t, empty.Claims)
	require.Empty(t, empty.SupportsWithoutClaim)
	require.Zero(t, empty.LastTakeoverHeight)
}

func TestClaimByID(t *testing.T) {
	tc := newTestChain(t)
	_, id := tc.mineClaim("solo", 9)

	v := tc.view()
	res, err := v.ClaimByID(id.Hex())
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, id.Hex(), res.ClaimID)
	require.Equal(t, "solo", res.NormalizedName)
	require.Zero(t, res.Bid)
	require.Zero(t, res.Sequence)

	byPrefix, err := v.ClaimByID(id.Hex()[:8])
	require.NoError(t, err)
	require.NotNil(t, byPrefix)
	require.Equal(t, id.Hex(), byPrefix.ClaimID)

	if _, err := v.ClaimByID("ab"); KindOf(err) != InvalidArgument {
		t.Fatalf("short id: got %v", err)
	}
	if _, err := v.ClaimByID("abc"); KindOf(err) != InvalidArgument {
		t.Fatalf("odd-length id: got %v", err)
	}

	none, err := v.ClaimByID("0123456789")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestTotals(t *testing.T) {
	tc := newTestChain(t)
	tc.mineClaim("one", 10)
	tc.mineClaim("two", 20)
	tc.mineClaim("two", 30) // takes over "two"

	v := tc.view()
	ctx := context.Background()

	names, err := v.TotalNames(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), names)

	claims, err := v.TotalClaims(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), claims)

	all, err := v.TotalValue(ctx, false)
	require.NoError(t, err)
	require.Equal(t, int64(60), all)

	controlling, err := v.TotalValue(ctx, true)
	require.NoError(t, err)
	require.Equal(t, int64(40), controlling)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := v.TotalNames(canceled); KindOf(err) != Aborted {
		t.Fatalf("canceled walk: got %v", err)
	}
}

func TestListNamesAndListClaims(t *testing.T) {
	tc := newTestChain(t)
	_, bravo := tc.mineClaim("bravo", 5)
	tc.mineClaim("alpha", 7)

	v := tc.view()
	names, err := v.ListNames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "bravo"}, names)

	listing, err := v.ListClaims(context.Background())
	require.NoError(t, err)
	require.Len(t, listing, 2)
	require.Equal(t, "alpha", listing[0].NormalizedName)
	require.Len(t, listing[0].Claims, 1)
	require.Equal(t, int64(7), listing[0].Claims[0].Amount)
	require.Equal(t, "bravo", listing[1].NormalizedName)
	require.Equal(t, bravo.Hex(), listing[1].Claims[0].ClaimID)
}

// After 32 uncontested blocks a challenger waits one block in the queue.
// The transaction report has to show both sides: the settled claim in the
// trie and the challenger with its countdown.
func TestClaimsForTxStates(t *testing.T) {
	tc := newTestChain(t)
	baseOp, baseID := tc.mineClaim("base", 40)
	for tc.tip < 32 {
		tc.mine(nil)
	}
	block := tc.mine([]types.TxOut{
		claimOut("base", 50),
		supportOut(baseID, "base", 25),
	})
	challengerTx := block.Transactions[0].Hash()

	v := tc.view()
	entries, err := v.ClaimsForTx(challengerTx)
	require.NoError(t, err)
	require.Len(t, entries, 2) // plain subsidy output is skipped

	claimEntry := entries[0]
	require.Equal(t, uint32(1), claimEntry.N)
	require.Equal(t, "base", claimEntry.Name)
	require.Equal(t, types.NewClaimID(types.OutPoint{TxID: challengerTx, Index: 1}).Hex(), claimEntry.ClaimID)
	require.NotNil(t, claimEntry.Value)
	require.Zero(t, claimEntry.Depth)
	require.NotNil(t, claimEntry.InClaimTrie)
	require.False(t, *claimEntry.InClaimTrie)
	require.NotNil(t, claimEntry.InQueue)
	require.True(t, *claimEntry.InQueue)
	require.NotNil(t, claimEntry.BlocksToValid)
	require.Equal(t, int32(1), *claimEntry.BlocksToValid)
	require.Nil(t, claimEntry.IsControlling)
	require.Nil(t, claimEntry.InSupportMap)

	supEntry := entries[1]
	require.Equal(t, uint32(2), supEntry.N)
	require.Equal(t, baseID.Hex(), supEntry.ClaimID)
	require.Nil(t, supEntry.Value)
	require.NotNil(t, supEntry.InSupportMap)
	require.False(t, *supEntry.InSupportMap)
	require.NotNil(t, supEntry.InQueue)
	require.True(t, *supEntry.InQueue)
	require.Equal(t, int32(1), *supEntry.BlocksToValid)

	settled, err := v.ClaimsForTx(baseOp.TxID)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	require.Equal(t, int32(32), settled[0].Depth)
	require.NotNil(t, settled[0].InClaimTrie)
	require.True(t, *settled[0].InClaimTrie)
	require.NotNil(t, settled[0].IsControlling)
	require.True(t, *settled[0].IsControlling)
	require.Nil(t, settled[0].InQueue)

	nothing, err := v.ClaimsForTx(types.DoubleSHA256([]byte("unknown")))
	require.NoError(t, err)
	require.Empty(t, nothing)

	// The queued challenger and support surface as pending amounts in the
	// full name document, and the hidden claim stays out of the trie list.
	// pendingAmount reports the amount the stake will reach once its queue
	// drains, not the queued difference.
	full, err := v.ClaimsForName("base")
	require.NoError(t, err)
	require.Len(t, full.Claims, 2)
	require.Equal(t, baseID.Hex(), full.Claims[0].ClaimID)
	require.Equal(t, int64(40), full.Claims[0].EffectiveAmount)
	require.Equal(t, int64(65), full.Claims[0].PendingAmount)
	require.Zero(t, full.Claims[1].EffectiveAmount)
	require.Equal(t, int64(50), full.Claims[1].PendingAmount)

	listing, err := v.ListClaims(context.Background())
	require.NoError(t, err)
	require.Len(t, listing, 1)
	require.Len(t, listing[0].Claims, 1)
}

func TestChangesInBlock(t *testing.T) {
	tc := newTestChain(t)
	opA, idA := tc.mineClaim("delta", 10)

	update := &types.Transaction{
		Inputs: []types.TxIn{{PrevOut: opA}},
		Outputs: []types.TxOut{
			{Value: 10, PkScript: types.UpdateClaimScript("delta", idA, []byte("meta2"), [20]byte{0xaa})},
		},
	}
	tc.mine(nil, update)
	updateOp := types.OutPoint{TxID: update.Hash(), Index: 0}

	v := tc.view()
	changes, err := v.ChangesInBlock(tc.index.AtHeight(2))
	require.NoError(t, err)
	require.Equal(t, []string{types.NewClaimID(updateOp).Hex()}, changes.ClaimsAddedOrUpdated)
	require.Equal(t, []string{idA.Hex()}, changes.ClaimsRemoved)
	require.NotNil(t, changes.SupportsAddedOrUpdated)
	require.Empty(t, changes.SupportsAddedOrUpdated)
	require.NotNil(t, changes.SupportsRemoved)
	require.Empty(t, changes.SupportsRemoved)

	genesis, err := v.ChangesInBlock(tc.index.AtHeight(0))
	require.NoError(t, err)
	require.Empty(t, genesis.ClaimsAddedOrUpdated)
	require.Empty(t, genesis.ClaimsRemoved)

	foreign := &chain.BlockNode{Hash: types.DoubleSHA256([]byte("foreign")), Height: 1}
	if _, err := v.ChangesInBlock(foreign); KindOf(err) != NotInMainChain {
		t.Fatalf("foreign block: got %v", err)
	}
	if _, err := v.ChangesInBlock(nil); KindOf(err) != NotInMainChain {
		t.Fatalf("nil block: got %v", err)
	}
}

func TestProofSelectors(t *testing.T) {
	tc := newTestChain(t)
	_, older := tc.mineClaim("match", 2)
	_, newer := tc.mineClaim("match", 5)

	v := tc.view()
	proof, err := v.NameProof("match", "")
	require.NoError(t, err)
	require.True(t, proof.HasValue)

	proof, err = v.NameProof("match", older.Hex())
	require.NoError(t, err)
	require.False(t, proof.HasValue)

	proof, err = v.NameProof("match", newer.Hex()[:6])
	require.NoError(t, err)
	require.True(t, proof.HasValue)

	proof, err = v.ProofByBid("match", 0)
	require.NoError(t, err)
	require.True(t, proof.HasValue)

	proof, err = v.ProofByBid("match", 1)
	require.NoError(t, err)
	require.False(t, proof.HasValue)

	oob, err := v.ProofByBid("match", 7)
	require.NoError(t, err)
	require.Nil(t, oob)
	if _, err := v.ProofByBid("match", -1); KindOf(err) != InvalidArgument {
		t.Fatalf("negative bid: got %v", err)
	}

	proof, err = v.ProofBySequence("match", 0)
	require.NoError(t, err)
	require.False(t, proof.HasValue)

	proof, err = v.ProofBySequence("match", 1)
	require.NoError(t, err)
	require.True(t, proof.HasValue)

	oob, err = v.ProofBySequence("match", 7)
	require.NoError(t, err)
	require.Nil(t, oob)
}
