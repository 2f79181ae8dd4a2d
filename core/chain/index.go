// Package chain tracks the block index, the unspent coin set and the claim
// operations each block applies. It owns the connect/disconnect transitions
// that keep the claim trie and the coin set in lockstep with the chain.
package chain

import (
	"errors"
	"fmt"

	"github.com/nondejus/lbrycrd/core/types"
	"github.com/nondejus/lbrycrd/storage/blockstore"
)

// ErrUnknownBlock is returned when a hash is not in the index.
var ErrUnknownBlock = errors.New("chain: unknown block")

// BlockNode is one entry of the in-memory block index.
type BlockNode struct {
	Hash   types.Hash
	Height int32
	Header *types.BlockHeader
	Prev   *BlockNode
}

// Index is the in-memory view of the main chain. The node ingests blocks in
// order and never reorganizes, so the index is a single line from genesis
// to tip.
type Index struct {
	byHash map[types.Hash]*BlockNode
	main   []*BlockNode
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{byHash: make(map[types.Hash]*BlockNode)}
}

// LoadIndex rebuilds the index from the stored headers, walking back from
// the recorded tip.
func LoadIndex(store *blockstore.Store) (*Index, error) {
	ix := NewIndex()
	tip, ok, err := store.ChainTip()
	if err != nil {
		return nil, err
	}
	if !ok {
		return ix, nil
	}
	headers := make(map[types.Hash]*types.BlockHeader)
	err = store.ForEachHeader(func(hash types.Hash, payload []byte) error {
		header, err := types.DecodeHeader(payload)
		if err != nil {
			return err
		}
		headers[hash] = header
		return nil
	})
	if err != nil {
		return nil, err
	}
	tipHeader, ok := headers[tip]
	if !ok {
		return nil, fmt.Errorf("chain: tip header %s missing", tip.Hex())
	}
	line := make([]*types.BlockHeader, tipHeader.Height+1)
	hash := tip
	for {
		header, ok := headers[hash]
		if !ok {
			return nil, fmt.Errorf("chain: header %s missing from store", hash.Hex())
		}
		if header.Height < 0 || int(header.Height) >= len(line) {
			return nil, fmt.Errorf("chain: header %s height %d out of range", hash.Hex(), header.Height)
		}
		line[header.Height] = header
		if header.Height == 0 {
			break
		}
		hash = header.PrevHash
	}
	for height, header := range line {
		if header == nil {
			return nil, fmt.Errorf("chain: no header at height %d", height)
		}
		if err := ix.Append(header); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

// Append extends the main chain with the next header. The header must link
// to the current tip.
func (ix *Index) Append(header *types.BlockHeader) error {
	node := &BlockNode{Hash: header.Hash(), Height: header.Height, Header: header}
	if tip := ix.Tip(); tip != nil {
		if header.PrevHash != tip.Hash || header.Height != tip.Height+1 {
			return fmt.Errorf("chain: header %s does not extend tip %s", node.Hash.Hex(), tip.Hash.Hex())
		}
		node.Prev = tip
	} else if header.Height != 0 {
		return fmt.Errorf("chain: first header must have height 0, got %d", header.Height)
	}
	ix.byHash[node.Hash] = node
	ix.main = append(ix.main, node)
	return nil
}

// Tip returns the best block, or nil on an empty index.
func (ix *Index) Tip() *BlockNode {
	if len(ix.main) == 0 {
		return nil
	}
	return ix.main[len(ix.main)-1]
}

// Genesis returns the height-zero block, or nil on an empty index.
func (ix *Index) Genesis() *BlockNode {
	if len(ix.main) == 0 {
		return nil
	}
	return ix.main[0]
}

// LookupHash finds a block by hash, or nil.
func (ix *Index) LookupHash(hash types.Hash) *BlockNode {
	return ix.byHash[hash]
}

// AtHeight returns the main-chain block at the given height, or nil.
func (ix *Index) AtHeight(height int32) *BlockNode {
	if height < 0 || int(height) >= len(ix.main) {
		return nil
	}
	return ix.main[height]
}

// Contains reports whether the node sits on the main chain.
func (ix *Index) Contains(node *BlockNode) bool {
	return node != nil && ix.AtHeight(node.Height) == node
}

// Len is the number of blocks on the main chain.
func (ix *Index) Len() int {
	return len(ix.main)
}
