package claimquery

import (
	"strings"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/types"
)

// Selector chooses which claim a name proof vouches for. A proof always
// commits the path from the trie root toward the name; the selector only
// decides whether the proof additionally vouches for the controlling
// claim's outpoint. Construct one with MatchAnyClaim, MatchClaimID or
// MatchClaimIDPrefix.
type Selector struct {
	kind   selectorKind
	id     types.ClaimID
	prefix string
}

type selectorKind uint8

const (
	selectAny selectorKind = iota
	selectID
	selectPrefix
)

// MatchAnyClaim vouches for whatever claim controls the name.
func MatchAnyClaim() Selector {
	return Selector{kind: selectAny}
}

// MatchClaimID vouches only when the given claim controls the name.
func MatchClaimID(id types.ClaimID) Selector {
	return Selector{kind: selectID, id: id}
}

// MatchClaimIDPrefix vouches only when the controlling claim's hex id
// starts with the given prefix.
func MatchClaimIDPrefix(prefix string) Selector {
	return Selector{kind: selectPrefix, prefix: strings.ToLower(prefix)}
}

func (s Selector) matches(claim *claimtrie.Claim) bool {
	switch s.kind {
	case selectID:
		return claim.ID == s.id
	case selectPrefix:
		return strings.HasPrefix(claim.ID.Hex(), s.prefix)
	default:
		return true
	}
}

// ProofChild is one child edge of a proof node record. Hash is nil for the
// edge the proven path descends through; the verifier fills that slot with
// the hash it computes from the record below.
type ProofChild struct {
	Character byte
	Hash      *types.Hash
}

// ProofNode is the opened record of one non-collapsed trie node on the
// proven path. ValueHash is nil when the node holds no claim, and omitted
// on the terminal node when the proof vouches for its value, since the
// verifier recomputes it from the vouched outpoint.
type ProofNode struct {
	Children  []ProofChild
	ValueHash *types.Hash
}

// ProofPair is the segment commitment of one collapsed run the proven path
// traverses, in root-to-leaf order. Odd mirrors the run length parity and
// keys the fold direction.
type ProofPair struct {
	Odd  bool
	Hash types.Hash
}

// Proof opens the trie commitment along one name. When HasValue is set the
// proof vouches that OutPoint funds the claim controlling the name since
// LastTakeoverHeight; otherwise the records only anchor how far the name's
// path exists under the committed root.
type Proof struct {
	Nodes              []ProofNode
	Pairs              []ProofPair
	HasValue           bool
	OutPoint           types.OutPoint
	LastTakeoverHeight int32
}

// AssembleProof walks the view's trie snapshot along the normalized form
// of rawName and opens every node record and run segment on the way. The
// walk stops early when the path dies out; the last emitted record then
// carries all of its child hashes so the verifier can still fold to the
// committed root.
func AssembleProof(cache *claimtrie.Cache, rawName string, sel Selector) (*Proof, error) {
	name := claimtrie.Normalize(rawName)
	root, err := cache.Root()
	if err != nil {
		return nil, Wrap(StorageInconsistency, err, "materialize trie for proof of %q", name)
	}

	proof := &Proof{}
	cur := root
	pos := 0

	// A root that opens as a collapsed run has no record of its own. If the
	// name does not follow the whole opening segment there is nothing to
	// anchor, so the proof stays empty.
	if isRun(cur) {
		seg, tail := runOf(cur)
		if !segmentAt(name, pos, seg) {
			return proof, nil
		}
		proof.Pairs = append(proof.Pairs, ProofPair{Odd: len(seg)%2 == 1, Hash: claimtrie.SegmentHash(seg)})
		pos += len(seg)
		cur = tail
	}

	for {
		if pos == len(name) {
			rec, err := terminalRecord(cache, cur, name, sel, proof)
			if err != nil {
				return nil, err
			}
			proof.Nodes = append(proof.Nodes, rec)
			return proof, nil
		}
		label := name[pos]
		next := cur.Child(label)
		if next == nil {
			proof.Nodes = append(proof.Nodes, nodeRecord(cur, -1))
			return proof, nil
		}
		if isRun(next) {
			seg, tail := runOf(next)
			if !segmentAt(name, pos+1, seg) {
				// The name diverges from or ends inside the run, so the
				// step cannot complete: close at the current node.
				proof.Nodes = append(proof.Nodes, nodeRecord(cur, -1))
				return proof, nil
			}
			proof.Nodes = append(proof.Nodes, nodeRecord(cur, childIndex(cur, label)))
			proof.Pairs = append(proof.Pairs, ProofPair{Odd: len(seg)%2 == 1, Hash: claimtrie.SegmentHash(seg)})
			pos += 1 + len(seg)
			cur = tail
			continue
		}
		proof.Nodes = append(proof.Nodes, nodeRecord(cur, childIndex(cur, label)))
		pos++
		cur = next
	}
}

// terminalRecord closes the walk at the node the name resolves to. When the
// node carries a value and the selector matches its controlling claim, the
// proof vouches for the outpoint and the record drops its value hash.
func terminalRecord(cache *claimtrie.Cache, cur *claimtrie.TrieNode, name string, sel Selector, proof *Proof) (ProofNode, error) {
	rec := nodeRecord(cur, -1)
	if !cur.HasValue() {
		return rec, nil
	}
	op, takeover, _ := cur.Value()
	set, err := cache.ClaimsForName(name)
	if err != nil {
		return ProofNode{}, Wrap(StorageInconsistency, err, "claims for %q", name)
	}
	ctl := set.Controlling()
	if ctl == nil || ctl.Claim.OutPoint != op {
		return ProofNode{}, Errorf(StorageInconsistency, "committed value of %q does not match its controlling claim", name)
	}
	if sel.matches(&ctl.Claim) {
		proof.HasValue = true
		proof.OutPoint = op
		proof.LastTakeoverHeight = takeover
		rec.ValueHash = nil
	}
	return rec, nil
}

// nodeRecord opens one trie node: every child edge with its subtree hash,
// except the on-path child at index onPath, whose hash the verifier
// reconstructs. onPath of -1 keeps every hash.
func nodeRecord(n *claimtrie.TrieNode, onPath int) ProofNode {
	kids := n.Children()
	rec := ProofNode{Children: make([]ProofChild, len(kids))}
	for i, kid := range kids {
		rec.Children[i] = ProofChild{Character: kid.Label}
		if i != onPath {
			h := kid.Node.Hash()
			rec.Children[i].Hash = &h
		}
	}
	if vh, ok := n.ValueHash(); ok {
		v := vh
		rec.ValueHash = &v
	}
	return rec
}

func isRun(n *claimtrie.TrieNode) bool {
	return len(n.Children()) == 1 && !n.HasValue()
}

// runOf collects the maximal collapsed run starting at n: the edge labels
// down to, and the node at, the first branch or value node.
func runOf(n *claimtrie.TrieNode) ([]byte, *claimtrie.TrieNode) {
	var seg []byte
	tail := n
	for isRun(tail) {
		child := tail.Children()[0]
		seg = append(seg, child.Label)
		tail = child.Node
	}
	return seg, tail
}

func segmentAt(name string, pos int, seg []byte) bool {
	if pos+len(seg) > len(name) {
		return false
	}
	for i, b := range seg {
		if name[pos+i] != b {
			return false
		}
	}
	return true
}

func childIndex(n *claimtrie.TrieNode, label byte) int {
	for i, kid := range n.Children() {
		if kid.Label == label {
			return i
		}
	}
	return -1
}
