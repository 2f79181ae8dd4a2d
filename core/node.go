package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/chain"
	"github.com/nondejus/lbrycrd/core/claimquery"
	"github.com/nondejus/lbrycrd/core/types"
	"github.com/nondejus/lbrycrd/observability/metrics"
	"github.com/nondejus/lbrycrd/storage"
	"github.com/nondejus/lbrycrd/storage/blockstore"
)

const (
	// genesisTimestamp matches the original network launch.
	genesisTimestamp = 1446058291
	// genesisSubsidy is the single premine output of the genesis coinbase.
	genesisSubsidy = 400_000_000 * 100_000_000
	// blockSubsidy is the flat coinbase reward GenerateBlock mints. Fees
	// and the decaying reward schedule are out of scope for this layer.
	blockSubsidy = 1 * 100_000_000
)

var (
	// ErrBadBlockLink rejects blocks that do not extend the current tip.
	ErrBadBlockLink = errors.New("core: block does not extend the chain tip")
	// ErrBadTxRoot rejects blocks whose header does not commit to their
	// transaction list.
	ErrBadTxRoot = errors.New("core: transaction merkle root mismatch")
	// ErrBadClaimRoot rejects blocks whose header commits to a claim trie
	// state other than the one their transactions produce.
	ErrBadClaimRoot = errors.New("core: claim trie root mismatch")
	// ErrBadCoinbase rejects blocks without a leading coinbase, or with a
	// stray one later in the list.
	ErrBadCoinbase = errors.New("core: malformed coinbase placement")
)

// genesisPayout receives the premine. Spending it is not this layer's job.
var genesisPayout [20]byte

// Node is the central controller: it owns the committed chain and claim
// state and serializes every reader and writer on one lock.
type Node struct {
	db      storage.Database
	store   *blockstore.Store
	index   *chain.Index
	trie    *claimtrie.ClaimTrie
	logger  *slog.Logger
	metrics *metrics.ClaimtrieMetrics

	// coinBudget bounds coin overlay growth during historical replay,
	// in bytes. Zero disables the ceiling.
	coinBudget int64

	stateMu sync.Mutex
}

// NewNode opens the chain state held in db and store, connecting the
// deterministic genesis block on first start. coinBudgetMB caps the
// per-query replay overlay; zero means unbounded.
func NewNode(db storage.Database, store *blockstore.Store, logger *slog.Logger, coinBudgetMB int) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	index, err := chain.LoadIndex(store)
	if err != nil {
		return nil, fmt.Errorf("core: load chain index: %w", err)
	}
	trie, err := claimtrie.New(db)
	if err != nil {
		return nil, fmt.Errorf("core: open claim trie: %w", err)
	}
	n := &Node{
		db:         db,
		store:      store,
		index:      index,
		trie:       trie,
		logger:     logger,
		metrics:    metrics.Claimtrie(),
		coinBudget: int64(coinBudgetMB) * 1024 * 1024,
	}
	if tip := index.Tip(); tip == nil {
		if err := n.applyBlock(GenesisBlock()); err != nil {
			return nil, fmt.Errorf("core: connect genesis: %w", err)
		}
	} else {
		// The claim state and the block index are written by the same
		// commit sequence; disagreement means a torn shutdown.
		if trie.Height() != tip.Height {
			return nil, fmt.Errorf("core: claim state at height %d, chain tip at %d", trie.Height(), tip.Height)
		}
		if trie.Root() != tip.Header.ClaimTrieRoot {
			return nil, fmt.Errorf("core: committed claim root %s does not match tip header %s", trie.Root(), tip.Header.ClaimTrieRoot)
		}
	}
	logger.Info("node ready", "height", n.trie.Height(), "tip", n.index.Tip().Hash.Hex())
	return n, nil
}

// GenesisBlock builds the deterministic block every chain starts from.
func GenesisBlock() *types.Block {
	coinbase := &types.Transaction{
		Inputs:  []types.TxIn{{}},
		Outputs: []types.TxOut{{Value: genesisSubsidy, PkScript: types.PayToPubKeyHashScript(genesisPayout)}},
	}
	header := &types.BlockHeader{
		Version:       1,
		Timestamp:     genesisTimestamp,
		Height:        0,
		ClaimTrieRoot: claimtrie.EmptyTrieHash,
	}
	block := types.NewBlock(header, []*types.Transaction{coinbase})
	header.TxRoot = types.TxMerkleRoot(block.Transactions)
	return block
}

// SubmitBlock validates block against the current tip and commits it.
// The header must already commit to both merkle roots; any mismatch
// rejects the block before a single write lands.
func (n *Node) SubmitBlock(block *types.Block) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.applyBlock(block)
}

// GenerateBlock assembles, commits and returns the next block carrying
// txs after a flat-subsidy coinbase. Both header roots are computed by
// dry-running the connect pipeline, so the committed header always
// validates.
func (n *Node) GenerateBlock(txs ...*types.Transaction) (*types.Block, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	tip := n.index.Tip()
	if tip == nil {
		return nil, errors.New("core: no genesis to build on")
	}
	height := tip.Height + 1
	coinbase := &types.Transaction{
		// The prevout index doubles as a nonce so every height gets a
		// distinct coinbase txid.
		Inputs:  []types.TxIn{{PrevOut: types.OutPoint{Index: uint32(height)}}},
		Outputs: []types.TxOut{{Value: blockSubsidy, PkScript: types.PayToPubKeyHashScript(genesisPayout)}},
	}
	header := &types.BlockHeader{
		Version:   1,
		PrevHash:  tip.Hash,
		Timestamp: time.Now().Unix(),
		Height:    height,
	}
	block := types.NewBlock(header, append([]*types.Transaction{coinbase}, txs...))

	cache := claimtrie.NewCache(n.trie)
	coins := chain.NewCoinsView(n.db)
	cache.SetHeight(height)
	if _, err := chain.ConnectBlock(block, n.trie, cache, coins); err != nil {
		return nil, fmt.Errorf("core: assemble block %d: %w", height, err)
	}
	root, err := cache.MerkleHash()
	if err != nil {
		return nil, fmt.Errorf("core: claim root for block %d: %w", height, err)
	}
	header.ClaimTrieRoot = root
	header.TxRoot = types.TxMerkleRoot(block.Transactions)

	// The dry-run overlays are dropped; applyBlock reconnects from the
	// committed state and persists.
	if err := n.applyBlock(block); err != nil {
		return nil, err
	}
	return block, nil
}

// applyBlock runs the commit sequence: validate, connect on overlays,
// verify the claim root, then flush state, persist the block parts and
// extend the index. Callers hold stateMu.
func (n *Node) applyBlock(block *types.Block) error {
	if block == nil || block.Header == nil {
		return errors.New("core: nil block")
	}
	header := block.Header
	if len(block.Transactions) == 0 || !block.Transactions[0].IsCoinbase() {
		return ErrBadCoinbase
	}
	for _, tx := range block.Transactions[1:] {
		if tx.IsCoinbase() {
			return ErrBadCoinbase
		}
	}
	if tip := n.index.Tip(); tip == nil {
		if header.Height != 0 || !header.PrevHash.IsZero() {
			return fmt.Errorf("%w: first block must sit at height 0 with no parent", ErrBadBlockLink)
		}
	} else if header.Height != tip.Height+1 || header.PrevHash != tip.Hash {
		return fmt.Errorf("%w: block %d onto tip %d", ErrBadBlockLink, header.Height, tip.Height)
	}
	if got := types.TxMerkleRoot(block.Transactions); got != header.TxRoot {
		return fmt.Errorf("%w: computed %s, header %s", ErrBadTxRoot, got, header.TxRoot)
	}

	cache := claimtrie.NewCache(n.trie)
	coins := chain.NewCoinsView(n.db)
	cache.SetHeight(header.Height)
	res, err := chain.ConnectBlock(block, n.trie, cache, coins)
	if err != nil {
		return fmt.Errorf("core: connect block %d: %w", header.Height, err)
	}
	root, err := cache.MerkleHash()
	if err != nil {
		return fmt.Errorf("core: claim root for block %d: %w", header.Height, err)
	}
	if root != header.ClaimTrieRoot {
		return fmt.Errorf("%w: computed %s, header %s", ErrBadClaimRoot, root, header.ClaimTrieRoot)
	}

	// Point of no return. A crash below leaves the claim state and the
	// block index disagreeing; NewNode refuses to start on such a store.
	for validAt, names := range res.Activations {
		if err := n.trie.PushActivations(validAt, names); err != nil {
			return err
		}
	}
	if err := cache.Flush(); err != nil {
		return err
	}
	if err := coins.Flush(); err != nil {
		return err
	}
	if err := n.trie.DropActivations(header.Height); err != nil {
		return err
	}
	for _, op := range res.IndexOps {
		if op.Delete {
			err = n.trie.IndexDelete(op.ID)
		} else {
			err = n.trie.IndexPut(op.Name, op.Claim)
		}
		if err != nil {
			return err
		}
	}

	hash := block.Hash()
	rawHeader, err := types.EncodeHeader(header)
	if err != nil {
		return err
	}
	if err := n.store.PutHeader(hash, rawHeader); err != nil {
		return err
	}
	rawBlock, err := types.EncodeBlock(block)
	if err != nil {
		return err
	}
	if err := n.store.PutBlock(hash, rawBlock); err != nil {
		return err
	}
	rawUndo, err := chain.EncodeBlockUndo(res.Undo)
	if err != nil {
		return err
	}
	if err := n.store.PutUndo(hash, rawUndo); err != nil {
		return err
	}
	if err := n.store.SetChainTip(hash); err != nil {
		return err
	}
	if err := n.index.Append(header); err != nil {
		return err
	}

	n.metrics.IncBlockConnected()
	n.logger.Info("block connected",
		"height", header.Height,
		"hash", hash.Hex(),
		"txs", len(block.Transactions))
	return nil
}

// WithView pins a read view at the current tip and runs fn against it.
// The node lock is held for the whole call, historical replay included,
// so fn must not call back into the node.
func (n *Node) WithView(fn func(*claimquery.View) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	view := &claimquery.View{
		Index:         n.index,
		Store:         n.store,
		Trie:          n.trie,
		Cache:         claimtrie.NewCache(n.trie),
		Coins:         chain.NewCoinsView(n.db),
		Height:        n.trie.Height(),
		MemoryCeiling: n.coinBudget,
		Metrics:       n.metrics,
	}
	return fn(view)
}

// TipHeight reports the committed chain height.
func (n *Node) TipHeight() int32 {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.trie.Height()
}

// TipHash reports the committed tip block hash.
func (n *Node) TipHash() types.Hash {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if tip := n.index.Tip(); tip != nil {
		return tip.Hash
	}
	return types.Hash{}
}

// Close releases the block store and the state database.
func (n *Node) Close() error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err := n.store.Close()
	n.db.Close()
	if err != nil {
		return fmt.Errorf("core: close block store: %w", err)
	}
	return nil
}
