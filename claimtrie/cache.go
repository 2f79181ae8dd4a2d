package claimtrie

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/nondejus/lbrycrd/core/types"
)

// Cache is a mutable view over a ClaimTrie. Block connection uses one as a
// workspace before flushing; point-in-time queries use a throwaway one so
// historical replay never touches committed state.
type Cache struct {
	base   *ClaimTrie
	height int32
	nodes  map[string]*NodeData // nil entry marks a deleted name
	root   *TrieNode            // memoized snapshot, dropped on mutation
}

// NewCache starts an unmodified view at the committed tip.
func NewCache(base *ClaimTrie) *Cache {
	return &Cache{
		base:   base,
		height: base.Height(),
		nodes:  make(map[string]*NodeData),
	}
}

// Height is the block height this view reflects.
func (c *Cache) Height() int32 { return c.height }

// SetHeight moves the view to a different height. Ranking and hashing both
// follow it.
func (c *Cache) SetHeight(height int32) {
	if c.height != height {
		c.height = height
		c.root = nil
	}
}

// Dirty reports whether the view has diverged from the committed state.
func (c *Cache) Dirty() bool {
	return len(c.nodes) > 0 || c.height != c.base.Height()
}

// NodeAt returns the record of a normalized name as seen by this view, or
// (nil, nil) when absent. Callers must not mutate the result.
func (c *Cache) NodeAt(name string) (*NodeData, error) {
	if nd, ok := c.nodes[name]; ok {
		return nd, nil
	}
	return c.base.NodeAt(name)
}

// modify returns an overlay-owned copy of the record, creating it when the
// name is new.
func (c *Cache) modify(name string) (*NodeData, error) {
	if nd, ok := c.nodes[name]; ok {
		if nd == nil {
			nd = &NodeData{}
			c.nodes[name] = nd
		}
		return nd, nil
	}
	nd, err := c.base.NodeAt(name)
	if err != nil {
		return nil, err
	}
	if nd == nil {
		nd = &NodeData{}
	} else {
		nd = nd.Clone()
	}
	c.nodes[name] = nd
	return nd, nil
}

// AddClaim records a claim under a normalized name.
func (c *Cache) AddClaim(name string, claim Claim) error {
	nd, err := c.modify(name)
	if err != nil {
		return err
	}
	nd.Claims = append(nd.Claims, claim)
	c.root = nil
	return nil
}

// RemoveClaim removes the claim funded by op and returns it.
func (c *Cache) RemoveClaim(name string, op types.OutPoint) (*Claim, error) {
	nd, err := c.modify(name)
	if err != nil {
		return nil, err
	}
	i, ok := nd.claimByOutPoint(op)
	if !ok {
		return nil, fmt.Errorf("%w: %q %s", ErrClaimNotFound, name, op)
	}
	removed := nd.Claims[i]
	nd.Claims = append(nd.Claims[:i], nd.Claims[i+1:]...)
	c.root = nil
	return &removed, nil
}

// AddSupport records a support under a normalized name.
func (c *Cache) AddSupport(name string, sup Support) error {
	nd, err := c.modify(name)
	if err != nil {
		return err
	}
	nd.Supports = append(nd.Supports, sup)
	c.root = nil
	return nil
}

// RemoveSupport removes the support funded by op and returns it.
func (c *Cache) RemoveSupport(name string, op types.OutPoint) (*Support, error) {
	nd, err := c.modify(name)
	if err != nil {
		return nil, err
	}
	i, ok := nd.supportByOutPoint(op)
	if !ok {
		return nil, fmt.Errorf("%w: %q %s", ErrSupportNotFound, name, op)
	}
	removed := nd.Supports[i]
	nd.Supports = append(nd.Supports[:i], nd.Supports[i+1:]...)
	c.root = nil
	return &removed, nil
}

// SetLastTakeover stamps the height control of the name last changed.
func (c *Cache) SetLastTakeover(name string, height int32) error {
	nd, err := c.modify(name)
	if err != nil {
		return err
	}
	nd.LastTakeoverHeight = height
	c.root = nil
	return nil
}

// ClaimsForName normalizes a raw name and builds its ranked competitive
// state at the view height. Unknown names yield an empty, non-nil set.
func (c *Cache) ClaimsForName(rawName string) (*ClaimsForName, error) {
	name := Normalize(rawName)
	nd, err := c.NodeAt(name)
	if err != nil {
		return nil, err
	}
	if nd == nil {
		return &ClaimsForName{Name: name}, nil
	}
	return nd.ClaimsAt(name, c.height), nil
}

// Names iterates every name visible in this view in ascending byte order.
func (c *Cache) Names() *NameIterator {
	overlayNames := make([]string, 0, len(c.nodes))
	for name := range c.nodes {
		overlayNames = append(overlayNames, name)
	}
	sort.Strings(overlayNames)
	return &NameIterator{
		db:           c.base.db.NewIterator(nodeKeyPrefix),
		overlayNames: overlayNames,
		overlay:      c.nodes,
	}
}

// Root materializes the trie snapshot for this view. The result is reused
// until the view changes.
func (c *Cache) Root() (*TrieNode, error) {
	if c.root != nil {
		return c.root, nil
	}
	root := &TrieNode{}
	it := c.Names()
	defer it.Release()
	for it.Next() {
		set := it.Node().ClaimsAt(it.Name(), c.height)
		ctl := set.Controlling()
		if ctl == nil || !ctl.Claim.ActiveAt(c.height) {
			continue
		}
		root.insert(it.Name(), ctl.Claim.OutPoint, set.LastTakeoverHeight)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	root.computeHashes()
	c.root = root
	return root, nil
}

// MerkleHash returns the commitment over the view. Clean tip views reuse
// the committed root without rebuilding.
func (c *Cache) MerkleHash() (types.Hash, error) {
	if !c.Dirty() {
		return c.base.Root(), nil
	}
	root, err := c.Root()
	if err != nil {
		return types.Hash{}, err
	}
	return root.Hash(), nil
}

// Flush commits the overlay to the backing store and advances the committed
// height and root. Only the block connection path calls this; query views
// are dropped instead.
func (c *Cache) Flush() error {
	root, err := c.MerkleHash()
	if err != nil {
		return err
	}
	for name, nd := range c.nodes {
		key := nodeKey(name)
		if nd == nil || nd.Empty() {
			if err := c.base.db.Delete(key); err != nil {
				return fmt.Errorf("claimtrie: delete node %q: %w", name, err)
			}
			continue
		}
		enc, err := encodeNodeData(nd)
		if err != nil {
			return fmt.Errorf("claimtrie: encode node %q: %w", name, err)
		}
		if err := c.base.db.Put(key, enc); err != nil {
			return fmt.Errorf("claimtrie: store node %q: %w", name, err)
		}
	}
	heightEnc, err := rlp.EncodeToBytes(uint64(c.height))
	if err != nil {
		return err
	}
	if err := c.base.db.Put(metaHeightKey, heightEnc); err != nil {
		return fmt.Errorf("claimtrie: store height: %w", err)
	}
	if err := c.base.db.Put(metaRootKey, root.Bytes()); err != nil {
		return fmt.Errorf("claimtrie: store root: %w", err)
	}
	c.base.height = c.height
	c.base.root = root
	c.nodes = make(map[string]*NodeData)
	return nil
}

// DeleteName drops a name outright. Used when a node empties at connect.
func (c *Cache) DeleteName(name string) {
	c.nodes[name] = nil
	c.root = nil
}
