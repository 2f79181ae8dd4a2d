package claimtrie

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/nondejus/lbrycrd/core/types"
	"github.com/nondejus/lbrycrd/storage"
)

// The claim-id index maps every live claim id to its name and claim record,
// so id lookups avoid a full trie scan. It tracks the committed tip only:
// historical views answer id queries through their own name records.

// IndexEntry is one row of the claim-id index.
type IndexEntry struct {
	Name  string // normalized name the claim is recorded under
	Claim Claim
}

type storedIndexEntry struct {
	Name  string
	Claim storedClaim
}

func indexKey(id types.ClaimID) []byte {
	return append(append(make([]byte, 0, len(indexKeyPrefix)+types.ClaimIDSize), indexKeyPrefix...), id[:]...)
}

// IndexPut records or replaces the index row for a claim id.
func (t *ClaimTrie) IndexPut(name string, claim Claim) error {
	stored := storedIndexEntry{Name: name, Claim: newStoredClaim(claim)}
	enc, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("claimtrie: encode index entry: %w", err)
	}
	return t.db.Put(indexKey(claim.ID), enc)
}

// IndexDelete drops the index row of a claim id.
func (t *ClaimTrie) IndexDelete(id types.ClaimID) error {
	return t.db.Delete(indexKey(id))
}

// IndexGet returns the index row for an exact claim id, or (nil, nil).
func (t *ClaimTrie) IndexGet(id types.ClaimID) (*IndexEntry, error) {
	raw, err := t.db.Get(indexKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claimtrie: load index entry: %w", err)
	}
	return decodeIndexEntry(raw)
}

// IndexScanPrefix returns the first row, in ascending id order, whose hex
// id starts with prefix. When expectedName is non-empty, rows recorded
// under other names are skipped. Returns (nil, nil) when nothing matches.
func (t *ClaimTrie) IndexScanPrefix(prefix, expectedName string) (*IndexEntry, error) {
	prefix = strings.ToLower(prefix)
	evenBytes, err := hex.DecodeString(prefix[:len(prefix)/2*2])
	if err != nil {
		return nil, fmt.Errorf("claimtrie: invalid id prefix: %w", err)
	}
	scanKey := append(append(make([]byte, 0, 1+len(evenBytes)), indexKeyPrefix...), evenBytes...)
	it := t.db.NewIterator(scanKey)
	defer it.Release()
	for it.Next() {
		entry, err := decodeIndexEntry(it.Value())
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(entry.Claim.ID.Hex(), prefix) {
			continue
		}
		if expectedName != "" && entry.Name != expectedName {
			continue
		}
		return entry, nil
	}
	return nil, it.Error()
}

func decodeIndexEntry(raw []byte) (*IndexEntry, error) {
	var stored storedIndexEntry
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("claimtrie: decode index entry: %w", err)
	}
	return &IndexEntry{Name: stored.Name, Claim: stored.Claim.toClaim()}, nil
}
