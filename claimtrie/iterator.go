package claimtrie

import (
	"github.com/nondejus/lbrycrd/storage"
)

// NameIterator walks every name visible in a view in ascending byte order,
// merging the committed store with the view's overlay. It is lazy: names
// decode one at a time, so callers can stop early or poll for cancellation
// between steps.
type NameIterator struct {
	db           storage.Iterator
	overlayNames []string
	overlay      map[string]*NodeData

	dbValid   bool
	dbName    string
	dbRaw     []byte
	dbStarted bool

	name string
	node *NodeData
	err  error
	done bool
}

func (it *NameIterator) advanceDB() {
	if it.db == nil {
		it.dbValid = false
		return
	}
	it.dbValid = it.db.Next()
	if it.dbValid {
		key := it.db.Key()
		it.dbName = string(key[len(nodeKeyPrefix):])
		it.dbRaw = append(it.dbRaw[:0], it.db.Value()...)
	}
}

// Next advances to the following name. It returns false when the walk is
// exhausted or failed; check Err afterwards.
func (it *NameIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if !it.dbStarted {
		it.dbStarted = true
		it.advanceDB()
	}
	for {
		var name string
		var fromOverlay bool
		switch {
		case it.dbValid && len(it.overlayNames) > 0:
			if it.overlayNames[0] <= it.dbName {
				name = it.overlayNames[0]
				fromOverlay = true
				if it.overlayNames[0] == it.dbName {
					it.advanceDB()
				}
			} else {
				name = it.dbName
			}
		case it.dbValid:
			name = it.dbName
		case len(it.overlayNames) > 0:
			name = it.overlayNames[0]
			fromOverlay = true
		default:
			if it.db != nil {
				it.err = it.db.Error()
			}
			it.done = true
			return false
		}

		if fromOverlay {
			it.overlayNames = it.overlayNames[1:]
			nd := it.overlay[name]
			if nd == nil || nd.Empty() {
				continue // deleted in this view
			}
			it.name, it.node = name, nd
			return true
		}

		nd, err := decodeNodeData(it.dbRaw)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.advanceDB()
		it.name, it.node = name, nd
		return true
	}
}

// Name is the current name. Valid after Next returns true.
func (it *NameIterator) Name() string { return it.name }

// Node is the current record. Callers must not mutate it.
func (it *NameIterator) Node() *NodeData { return it.node }

// Err reports the first failure the walk hit, if any.
func (it *NameIterator) Err() error { return it.err }

// Release frees the underlying store cursor. Safe to call more than once.
func (it *NameIterator) Release() {
	if it.db != nil {
		it.db.Release()
		it.db = nil
		it.dbValid = false
	}
}
