package claimtrie

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/nondejus/lbrycrd/core/types"
	"github.com/nondejus/lbrycrd/storage"
)

var (
	// ErrClaimNotFound is returned when removing a claim that is not
	// recorded for the name.
	ErrClaimNotFound = errors.New("claimtrie: claim not found")
	// ErrSupportNotFound is returned when removing a support that is not
	// recorded for the name.
	ErrSupportNotFound = errors.New("claimtrie: support not found")
)

var (
	nodeKeyPrefix  = []byte("n")
	indexKeyPrefix = []byte("i")
	queueKeyPrefix = []byte("q")
	metaHeightKey  = []byte("meta:height")
	metaRootKey    = []byte("meta:root")
)

func nodeKey(name string) []byte {
	return append(append(make([]byte, 0, len(nodeKeyPrefix)+len(name)), nodeKeyPrefix...), name...)
}

// ClaimTrie is the committed claim state at the chain tip. All point-in-time
// views, including the tip itself, are read through a Cache on top of it.
type ClaimTrie struct {
	db     storage.Database
	height int32
	root   types.Hash
}

// New opens the claim state stored in db, initializing an empty trie on
// first use.
func New(db storage.Database) (*ClaimTrie, error) {
	t := &ClaimTrie{db: db, root: EmptyTrieHash}
	raw, err := db.Get(metaHeightKey)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		return t, nil
	case err != nil:
		return nil, fmt.Errorf("claimtrie: load height: %w", err)
	}
	var height uint64
	if err := rlp.DecodeBytes(raw, &height); err != nil {
		return nil, fmt.Errorf("claimtrie: decode height: %w", err)
	}
	t.height = int32(height)

	rootRaw, err := db.Get(metaRootKey)
	if err != nil {
		return nil, fmt.Errorf("claimtrie: load root: %w", err)
	}
	if len(rootRaw) != types.HashSize {
		return nil, fmt.Errorf("claimtrie: root length %d", len(rootRaw))
	}
	copy(t.root[:], rootRaw)
	return t, nil
}

// Height is the block height the committed state corresponds to.
func (t *ClaimTrie) Height() int32 { return t.height }

// Root is the committed merkle root at Height.
func (t *ClaimTrie) Root() types.Hash { return t.root }

// NodeAt loads the record of a normalized name. Absent names return
// (nil, nil).
func (t *ClaimTrie) NodeAt(name string) (*NodeData, error) {
	raw, err := t.db.Get(nodeKey(name))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claimtrie: load node %q: %w", name, err)
	}
	return decodeNodeData(raw)
}

func queueKey(height int32) []byte {
	key := append(make([]byte, 0, 5), queueKeyPrefix...)
	return append(key, byte(height>>24), byte(height>>16), byte(height>>8), byte(height))
}

// PushActivations schedules names whose claims or supports become active at
// the given height, so takeovers fire without a transaction touching them.
func (t *ClaimTrie) PushActivations(height int32, names []string) error {
	if len(names) == 0 {
		return nil
	}
	key := queueKey(height)
	existing, err := t.db.Get(key)
	var queued []string
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
	case err != nil:
		return fmt.Errorf("claimtrie: load activation queue: %w", err)
	default:
		if err := rlp.DecodeBytes(existing, &queued); err != nil {
			return fmt.Errorf("claimtrie: decode activation queue: %w", err)
		}
	}
	seen := make(map[string]bool, len(queued))
	for _, name := range queued {
		seen[name] = true
	}
	for _, name := range names {
		if !seen[name] {
			queued = append(queued, name)
			seen[name] = true
		}
	}
	enc, err := rlp.EncodeToBytes(queued)
	if err != nil {
		return fmt.Errorf("claimtrie: encode activation queue: %w", err)
	}
	return t.db.Put(key, enc)
}

// ActivationsAt returns the names scheduled for height without consuming
// them.
func (t *ClaimTrie) ActivationsAt(height int32) ([]string, error) {
	raw, err := t.db.Get(queueKey(height))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claimtrie: load activation queue: %w", err)
	}
	var names []string
	if err := rlp.DecodeBytes(raw, &names); err != nil {
		return nil, fmt.Errorf("claimtrie: decode activation queue: %w", err)
	}
	return names, nil
}

// DropActivations clears the schedule for height once it has fired.
func (t *ClaimTrie) DropActivations(height int32) error {
	if err := t.db.Delete(queueKey(height)); err != nil {
		return fmt.Errorf("claimtrie: clear activation queue: %w", err)
	}
	return nil
}
