package chain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/types"
	"github.com/nondejus/lbrycrd/storage"
)

func testViews(t *testing.T) (*claimtrie.ClaimTrie, *claimtrie.Cache, *CoinsView) {
	t.Helper()
	db := storage.NewMemDB()
	trie, err := claimtrie.New(db)
	require.NoError(t, err)
	return trie, claimtrie.NewCache(trie), NewCoinsView(db)
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

func blockAt(height int32, coinbase *types.Transaction, txs ...*types.Transaction) *types.Block {
	all := append([]*types.Transaction{coinbase}, txs...)
	return types.NewBlock(&types.BlockHeader{Height: height}, all)
}

func claimOut(name string, amount int64) types.TxOut {
	return types.TxOut{Value: amount, PkScript: types.ClaimNameScript(name, []byte("meta"), [20]byte{0xaa})}
}

func supportOut(id types.ClaimID, name string, amount int64) types.TxOut {
	return types.TxOut{Value: amount, PkScript: types.SupportClaimScript(name, id, nil, [20]byte{0xbb})}
}

func connectAt(t *testing.T, trie *claimtrie.ClaimTrie, cache *claimtrie.Cache, coins *CoinsView, block *types.Block) *ConnectResult {
	t.Helper()
	cache.SetHeight(block.Header.Height)
	res, err := ConnectBlock(block, trie, cache, coins)
	require.NoError(t, err)
	for validAt, names := range res.Activations {
		require.NoError(t, trie.PushActivations(validAt, names))
	}
	return res
}

func commit(t *testing.T, trie *claimtrie.ClaimTrie, cache *claimtrie.Cache, coins *CoinsView, height int32) {
	t.Helper()
	require.NoError(t, cache.Flush())
	require.NoError(t, coins.Flush())
	require.NoError(t, trie.DropActivations(height))
}

func TestConnectDisconnectRoundTrip(t *testing.T) {
	trie, cache, coins := testViews(t)

	rootBefore, err := cache.MerkleHash()
	require.NoError(t, err)
	require.Equal(t, claimtrie.EmptyTrieHash, rootBefore)

	cb := coinbaseTx(1, claimOut("alpha", 10))
	block := blockAt(1, cb)
	res := connectAt(t, trie, cache, coins, block)

	op := types.OutPoint{TxID: cb.Hash(), Index: 1}
	set, err := cache.ClaimsForName("alpha")
	require.NoError(t, err)
	require.Len(t, set.Claims, 1)
	ctl := set.Controlling()
	require.NotNil(t, ctl)
	require.Equal(t, op, ctl.Claim.OutPoint)
	require.Equal(t, types.NewClaimID(op), ctl.Claim.ID)
	require.Equal(t, int32(1), ctl.Claim.ValidAtHeight)
	require.Equal(t, int64(10), ctl.EffectiveAmount)
	require.Equal(t, int32(1), set.LastTakeoverHeight)

	require.Len(t, res.Undo.Ops, 1)
	require.Equal(t, OpAddClaim, res.Undo.Ops[0].Kind)
	require.Len(t, res.Undo.Takeovers, 1)
	require.False(t, res.Undo.Takeovers[0].PrevExists)
	require.Len(t, res.Undo.TxCoins, 1)
	require.Empty(t, res.Undo.TxCoins[0])
	require.Len(t, res.IndexOps, 1)
	require.False(t, res.IndexOps[0].Delete)
	require.Equal(t, types.NewClaimID(op), res.IndexOps[0].Claim.ID)

	coin, err := coins.GetCoin(op)
	require.NoError(t, err)
	require.NotNil(t, coin)
	require.Equal(t, int64(10), coin.Output.Value)

	rootAfter, err := cache.MerkleHash()
	require.NoError(t, err)
	require.NotEqual(t, rootBefore, rootAfter)

	require.NoError(t, DisconnectBlock(block, res.Undo, cache, coins))
	cache.SetHeight(0)

	nd, err := cache.NodeAt("alpha")
	require.NoError(t, err)
	if nd != nil && !nd.Empty() {
		t.Fatalf("alpha still has state after disconnect: %+v", nd)
	}
	rootBack, err := cache.MerkleHash()
	require.NoError(t, err)
	require.Equal(t, rootBefore, rootBack)
	coin, err = coins.GetCoin(op)
	require.NoError(t, err)
	require.Nil(t, coin)
}

func TestConnectSameBlockAddAndSpend(t *testing.T) {
	trie, cache, coins := testViews(t)

	cb1 := coinbaseTx(1, claimOut("movie", 10))
	firstOp := types.OutPoint{TxID: cb1.Hash(), Index: 1}
	id := types.NewClaimID(firstOp)
	connectAt(t, trie, cache, coins, blockAt(1, cb1))
	commit(t, trie, cache, coins, 1)

	// Block 2 re-stakes the claim twice: txB spends the original output
	// and txC immediately spends txB's. Disconnect has to unwind the
	// middle stake that no longer exists at the block's end.
	txB := &types.Transaction{
		Inputs:  []types.TxIn{{PrevOut: firstOp}},
		Outputs: []types.TxOut{{Value: 12, PkScript: types.UpdateClaimScript("movie", id, []byte("v2"), [20]byte{0xaa})}},
	}
	opB := types.OutPoint{TxID: txB.Hash(), Index: 0}
	txC := &types.Transaction{
		Inputs:  []types.TxIn{{PrevOut: opB}},
		Outputs: []types.TxOut{{Value: 15, PkScript: types.UpdateClaimScript("movie", id, []byte("v3"), [20]byte{0xaa})}},
	}
	opC := types.OutPoint{TxID: txC.Hash(), Index: 0}

	block2 := blockAt(2, coinbaseTx(2), txB, txC)
	res := connectAt(t, trie, cache, coins, block2)

	set, err := cache.ClaimsForName("movie")
	require.NoError(t, err)
	require.Len(t, set.Claims, 1)
	ctl := set.Controlling()
	require.Equal(t, opC, ctl.Claim.OutPoint)
	require.Equal(t, id, ctl.Claim.ID)
	require.Equal(t, int32(2), ctl.Claim.ValidAtHeight, "updates of a live claim activate immediately")
	require.Equal(t, int32(1), set.LastTakeoverHeight, "same claim id keeps control")
	require.Empty(t, res.Undo.Takeovers)
	require.Len(t, res.Undo.Ops, 4)

	require.NoError(t, DisconnectBlock(block2, res.Undo, cache, coins))
	cache.SetHeight(1)

	set, err = cache.ClaimsForName("movie")
	require.NoError(t, err)
	require.Len(t, set.Claims, 1)
	require.Equal(t, firstOp, set.Claims[0].Claim.OutPoint)
	require.Equal(t, int32(1), set.Claims[0].Claim.ValidAtHeight)

	for _, gone := range []types.OutPoint{opB, opC} {
		coin, err := coins.GetCoin(gone)
		require.NoError(t, err)
		require.Nil(t, coin)
	}
	coin, err := coins.GetCoin(firstOp)
	require.NoError(t, err)
	require.NotNil(t, coin)
}

func TestScheduledTakeover(t *testing.T) {
	trie, cache, coins := testViews(t)

	cb1 := coinbaseTx(1, claimOut("name", 10))
	idA := types.NewClaimID(types.OutPoint{TxID: cb1.Hash(), Index: 1})
	connectAt(t, trie, cache, coins, blockAt(1, cb1))
	commit(t, trie, cache, coins, 1)

	// A competitor arrives at height 100: 99 blocks of uncontested
	// control buys (100-1)/32 = 3 blocks of delay.
	cb100 := coinbaseTx(100, claimOut("name", 20))
	idB := types.NewClaimID(types.OutPoint{TxID: cb100.Hash(), Index: 1})
	res := connectAt(t, trie, cache, coins, blockAt(100, cb100))
	require.Equal(t, map[int32][]string{103: {"name"}}, res.Activations)
	require.Empty(t, res.Undo.Takeovers)

	set, err := cache.ClaimsForName("name")
	require.NoError(t, err)
	require.Equal(t, idA, set.Controlling().Claim.ID)
	challenger := set.FindByID(idB)
	require.NotNil(t, challenger)
	require.Equal(t, int32(103), challenger.Claim.ValidAtHeight)
	require.Equal(t, int64(0), challenger.EffectiveAmount)
	commit(t, trie, cache, coins, 100)

	for h := int32(101); h <= 102; h++ {
		res := connectAt(t, trie, cache, coins, blockAt(h, coinbaseTx(h)))
		require.Empty(t, res.Undo.Takeovers)
		commit(t, trie, cache, coins, h)
	}

	block103 := blockAt(103, coinbaseTx(103))
	res = connectAt(t, trie, cache, coins, block103)
	require.Len(t, res.Undo.Takeovers, 1)
	require.Equal(t, TakeoverUndo{Name: "name", PrevHeight: 1, PrevExists: true}, res.Undo.Takeovers[0])

	set, err = cache.ClaimsForName("name")
	require.NoError(t, err)
	require.Equal(t, idB, set.Controlling().Claim.ID)
	require.Equal(t, int64(20), set.Controlling().EffectiveAmount)
	require.Equal(t, int32(103), set.LastTakeoverHeight)

	require.NoError(t, DisconnectBlock(block103, res.Undo, cache, coins))
	cache.SetHeight(102)
	set, err = cache.ClaimsForName("name")
	require.NoError(t, err)
	require.Equal(t, idA, set.Controlling().Claim.ID)
	require.Equal(t, int32(1), set.LastTakeoverHeight)
}

func TestSupportDefendsControl(t *testing.T) {
	trie, cache, coins := testViews(t)

	cb1 := coinbaseTx(1, claimOut("name", 10))
	idA := types.NewClaimID(types.OutPoint{TxID: cb1.Hash(), Index: 1})
	connectAt(t, trie, cache, coins, blockAt(1, cb1))
	commit(t, trie, cache, coins, 1)

	// The challenger outbids the claim alone but not the claim plus the
	// support that lands in the same block.
	cb100 := coinbaseTx(100, claimOut("name", 20), supportOut(idA, "name", 15))
	res := connectAt(t, trie, cache, coins, blockAt(100, cb100))
	require.Len(t, res.Activations[103], 1)
	commit(t, trie, cache, coins, 100)

	for h := int32(101); h <= 103; h++ {
		res := connectAt(t, trie, cache, coins, blockAt(h, coinbaseTx(h)))
		require.Empty(t, res.Undo.Takeovers, "height %d", h)
		commit(t, trie, cache, coins, h)
	}

	set, err := cache.ClaimsForName("name")
	require.NoError(t, err)
	ctl := set.Controlling()
	require.Equal(t, idA, ctl.Claim.ID)
	require.Equal(t, int64(25), ctl.EffectiveAmount)
	require.Len(t, ctl.Supports, 1)
	require.Equal(t, int32(1), set.LastTakeoverHeight)
}

func TestConnectRejectsBadClaimOutputs(t *testing.T) {
	trie, cache, coins := testViews(t)

	zero := coinbaseTx(1, types.TxOut{Value: 0, PkScript: types.ClaimNameScript("x", nil, [20]byte{1})})
	cache.SetHeight(1)
	_, err := ConnectBlock(blockAt(1, zero), trie, cache, coins)
	require.ErrorIs(t, err, ErrBadClaimAmount)

	trie, cache, coins = testViews(t)
	malformed := coinbaseTx(1, types.TxOut{Value: 5, PkScript: []byte{types.OpClaimName, 0x4c}})
	cache.SetHeight(1)
	_, err = ConnectBlock(blockAt(1, malformed), trie, cache, coins)
	require.ErrorIs(t, err, ErrBadClaimScript)
}

func TestConnectNormalizesNames(t *testing.T) {
	trie, cache, coins := testViews(t)

	cb := coinbaseTx(1, claimOut("AmélIe", 10))
	connectAt(t, trie, cache, coins, blockAt(1, cb))

	// Both spellings fold to the same stored key.
	set, err := cache.ClaimsForName("AMÉLIE")
	require.NoError(t, err)
	require.Len(t, set.Claims, 1)
	require.Equal(t, claimtrie.Normalize("AmélIe"), set.Name)

	nd, err := cache.NodeAt(claimtrie.Normalize("amélie"))
	require.NoError(t, err)
	require.NotNil(t, nd)
}

func TestConnectMissingCoin(t *testing.T) {
	trie, cache, coins := testViews(t)

	spend := &types.Transaction{
		Inputs:  []types.TxIn{{PrevOut: types.OutPoint{TxID: types.DoubleSHA256([]byte("nope")), Index: 0}}},
		Outputs: []types.TxOut{{Value: 1, PkScript: types.PayToPubKeyHashScript([20]byte{2})}},
	}
	cache.SetHeight(1)
	_, err := ConnectBlock(blockAt(1, coinbaseTx(1), spend), trie, cache, coins)
	if !errors.Is(err, ErrMissingCoin) {
		t.Fatalf("want ErrMissingCoin, got %v", err)
	}
}

func TestBlockUndoCodec(t *testing.T) {
	op := types.OutPoint{TxID: types.DoubleSHA256([]byte("tx")), Index: 3}
	undo := &BlockUndo{
		TxCoins: [][]CoinUndo{
			{},
			{{OutPoint: op, Coin: Coin{Output: types.TxOut{Value: 7, PkScript: []byte{0x51}}, Height: 9}}},
		},
		Ops: []ClaimOpUndo{
			{Kind: OpAddClaim, Name: "a", OutPoint: op, ID: types.ClaimID{1}},
			{Kind: OpRemoveClaim, Name: "b", OutPoint: op, ID: types.ClaimID{2}, Amount: 11, Height: 4, ValidAtHeight: 6},
			{Kind: OpRemoveSupport, Name: "b", OutPoint: op, ID: types.ClaimID{2}, Amount: 3, Height: 5, ValidAtHeight: 5},
		},
		Takeovers: []TakeoverUndo{{Name: "b", PrevHeight: 2, PrevExists: true}, {Name: "c"}},
	}

	enc, err := EncodeBlockUndo(undo)
	require.NoError(t, err)
	dec, err := DecodeBlockUndo(enc)
	require.NoError(t, err)
	require.Equal(t, undo, dec)
}
