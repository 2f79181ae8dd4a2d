package claimtrie

import (
	"sort"
	"strconv"

	"github.com/nondejus/lbrycrd/core/types"
)

// The commitment scheme works over a byte trie of all names that carry an
// active controlling claim. Runs of single-child, valueless nodes collapse
// into one segment commitment, so commitments and proofs scale with the
// number of branch points rather than name length.
//
//	ValueHash   commits to the controlling claim of one name
//	RecordHash  commits to a node: its sorted child edges plus value
//	SegmentHash commits to the label bytes of a collapsed run
//	FoldSegment merges a segment commitment with the subtree below it,
//	            the parity of the run length keying the fold order
//
// A node's aggregate hash is its RecordHash folded through any collapsed
// run that starts at it. The root aggregate is the header commitment.

// EmptyTrieHash is the aggregate hash of a trie with no active claims.
var EmptyTrieHash = types.DoubleSHA256(nil)

// ValueHash commits to a name's controlling claim: the funding outpoint and
// the height control last changed.
func ValueHash(op types.OutPoint, takeoverHeight int32) types.Hash {
	txHash := types.DoubleSHA256(op.TxID[:])
	nHash := types.DoubleSHA256([]byte(strconv.FormatUint(uint64(op.Index), 10)))
	heightHash := types.DoubleSHA256(takeoverBytes(takeoverHeight))

	buf := make([]byte, 0, types.HashSize*3)
	buf = append(buf, txHash[:]...)
	buf = append(buf, nHash[:]...)
	buf = append(buf, heightHash[:]...)
	return types.DoubleSHA256(buf)
}

func takeoverBytes(height int32) []byte {
	b := make([]byte, 8)
	b[4] = byte(height >> 24)
	b[5] = byte(height >> 16)
	b[6] = byte(height >> 8)
	b[7] = byte(height)
	return b
}

// ChildCommit is one child edge of a node record: the label byte and the
// aggregate hash of the subtree behind it.
type ChildCommit struct {
	Label byte
	Hash  types.Hash
}

// RecordHash commits to a single trie node given its child edges in
// ascending label order and, when the node holds a controlling claim, the
// value commitment.
func RecordHash(children []ChildCommit, value *types.Hash) types.Hash {
	buf := make([]byte, 0, len(children)*(types.HashSize+1)+types.HashSize)
	for _, child := range children {
		buf = append(buf, child.Label)
		buf = append(buf, child.Hash[:]...)
	}
	if value != nil {
		buf = append(buf, value[:]...)
	}
	return types.DoubleSHA256(buf)
}

// SegmentHash commits to the label bytes of a collapsed single-child run.
func SegmentHash(seg []byte) types.Hash {
	return types.DoubleSHA256(seg)
}

// FoldSegment merges a segment commitment with the aggregate hash of the
// subtree below the run. odd mirrors the parity of the run length and keys
// the concatenation order, so runs of different lengths with colliding
// segment hashes cannot be confused.
func FoldSegment(segHash types.Hash, odd bool, below types.Hash) types.Hash {
	buf := make([]byte, 0, types.HashSize*2)
	if odd {
		buf = append(buf, segHash[:]...)
		buf = append(buf, below[:]...)
	} else {
		buf = append(buf, below[:]...)
		buf = append(buf, segHash[:]...)
	}
	return types.DoubleSHA256(buf)
}

// TrieNode is one node of a materialized trie snapshot. Snapshots are
// immutable once built; walkers may hold references across calls.
type TrieNode struct {
	children []TrieChild
	value    *trieValue
	agg      types.Hash
}

// TrieChild is an edge to a child node.
type TrieChild struct {
	Label byte
	Node  *TrieNode
}

type trieValue struct {
	outPoint types.OutPoint
	takeover int32
	hash     types.Hash
}

// Children returns the node's edges in ascending label order. The slice is
// shared; callers must not modify it.
func (n *TrieNode) Children() []TrieChild {
	return n.children
}

// Child returns the node behind the given label, or nil.
func (n *TrieNode) Child(label byte) *TrieNode {
	i := sort.Search(len(n.children), func(i int) bool { return n.children[i].Label >= label })
	if i < len(n.children) && n.children[i].Label == label {
		return n.children[i].Node
	}
	return nil
}

// HasValue reports whether the node carries a controlling claim.
func (n *TrieNode) HasValue() bool {
	return n.value != nil
}

// Value returns the controlling claim's outpoint and takeover height.
func (n *TrieNode) Value() (types.OutPoint, int32, bool) {
	if n.value == nil {
		return types.OutPoint{}, 0, false
	}
	return n.value.outPoint, n.value.takeover, true
}

// ValueHash returns the node's value commitment.
func (n *TrieNode) ValueHash() (types.Hash, bool) {
	if n.value == nil {
		return types.Hash{}, false
	}
	return n.value.hash, true
}

// Hash returns the node's aggregate commitment: the record hash folded
// through any collapsed run starting here.
func (n *TrieNode) Hash() types.Hash {
	return n.agg
}

func (n *TrieNode) insert(name string, op types.OutPoint, takeover int32) {
	cur := n
	for i := 0; i < len(name); i++ {
		label := name[i]
		pos := sort.Search(len(cur.children), func(j int) bool { return cur.children[j].Label >= label })
		if pos == len(cur.children) || cur.children[pos].Label != label {
			child := &TrieNode{}
			cur.children = append(cur.children, TrieChild{})
			copy(cur.children[pos+1:], cur.children[pos:])
			cur.children[pos] = TrieChild{Label: label, Node: child}
		}
		cur = cur.children[pos].Node
	}
	cur.value = &trieValue{outPoint: op, takeover: takeover, hash: ValueHash(op, takeover)}
}

func (n *TrieNode) isRun() bool {
	return len(n.children) == 1 && n.value == nil
}

func (n *TrieNode) recordHash() types.Hash {
	commits := make([]ChildCommit, len(n.children))
	for i, child := range n.children {
		commits[i] = ChildCommit{Label: child.Label, Hash: child.Node.agg}
	}
	if n.value != nil {
		return RecordHash(commits, &n.value.hash)
	}
	return RecordHash(commits, nil)
}

// computeHashes fills agg for the whole subtree, children first.
func (n *TrieNode) computeHashes() {
	for _, child := range n.children {
		child.Node.computeHashes()
	}
	if !n.isRun() {
		n.agg = n.recordHash()
		return
	}
	var seg []byte
	tail := n
	for tail.isRun() {
		seg = append(seg, tail.children[0].Label)
		tail = tail.children[0].Node
	}
	n.agg = FoldSegment(SegmentHash(seg), len(seg)%2 == 1, tail.recordHash())
}
