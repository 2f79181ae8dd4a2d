package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/nondejus/lbrycrd/core/types"
	"github.com/nondejus/lbrycrd/storage"
)

// ErrMissingCoin is returned when spending or removing a coin that does not
// exist in the view.
var ErrMissingCoin = errors.New("chain: missing coin")

// Coin is one unspent transaction output plus the height that created it.
type Coin struct {
	Output types.TxOut
	Height int32
}

type storedCoin struct {
	Value    uint64
	PkScript []byte
	Height   uint64
}

var coinKeyPrefix = []byte("u")

func coinKey(op types.OutPoint) []byte {
	key := make([]byte, 0, len(coinKeyPrefix)+types.HashSize+4)
	key = append(key, coinKeyPrefix...)
	key = append(key, op.TxID[:]...)
	return binary.BigEndian.AppendUint32(key, op.Index)
}

// coinEntryOverhead approximates the bookkeeping cost of one cached coin,
// on top of its script bytes. It keeps the memory ceiling meaningful
// without counting allocations exactly.
const coinEntryOverhead = 96

type coinEntry struct {
	coin  *Coin // nil marks spent or absent
	dirty bool
}

// CoinsView is an overlay over the committed coin set. Reads pull entries
// into the overlay, writes stay in it until Flush, and MemoryUsage grows
// with both so long replays hit the configured ceiling instead of the
// machine's.
type CoinsView struct {
	db      storage.Database
	entries map[types.OutPoint]*coinEntry
	usage   int64
}

// NewCoinsView opens an empty overlay over db.
func NewCoinsView(db storage.Database) *CoinsView {
	return &CoinsView{db: db, entries: make(map[types.OutPoint]*coinEntry)}
}

// MemoryUsage approximates the bytes held by the overlay.
func (v *CoinsView) MemoryUsage() int64 {
	return v.usage
}

func (v *CoinsView) track(op types.OutPoint, entry *coinEntry) {
	v.entries[op] = entry
	v.usage += coinEntryOverhead
	if entry.coin != nil {
		v.usage += int64(len(entry.coin.Output.PkScript))
	}
}

// GetCoin returns the unspent coin at op as seen by the view, or (nil, nil)
// when the output is spent or unknown.
func (v *CoinsView) GetCoin(op types.OutPoint) (*Coin, error) {
	if entry, ok := v.entries[op]; ok {
		return entry.coin, nil
	}
	coin, err := v.readCoin(op)
	if err != nil {
		return nil, err
	}
	v.track(op, &coinEntry{coin: coin})
	return coin, nil
}

func (v *CoinsView) readCoin(op types.OutPoint) (*Coin, error) {
	raw, err := v.db.Get(coinKey(op))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chain: load coin %s: %w", op, err)
	}
	var s storedCoin
	if err := rlp.DecodeBytes(raw, &s); err != nil {
		return nil, fmt.Errorf("chain: decode coin %s: %w", op, err)
	}
	return &Coin{Output: types.TxOut{Value: int64(s.Value), PkScript: s.PkScript}, Height: int32(s.Height)}, nil
}

// AddCoin records a new unspent coin at op.
func (v *CoinsView) AddCoin(op types.OutPoint, coin *Coin) {
	if entry, ok := v.entries[op]; ok {
		entry.coin = coin
		entry.dirty = true
		v.usage += int64(len(coin.Output.PkScript))
		return
	}
	v.track(op, &coinEntry{coin: coin, dirty: true})
}

// SpendCoin marks op spent and returns the coin it held.
func (v *CoinsView) SpendCoin(op types.OutPoint) (*Coin, error) {
	coin, err := v.GetCoin(op)
	if err != nil {
		return nil, err
	}
	if coin == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingCoin, op)
	}
	entry := v.entries[op]
	entry.coin = nil
	entry.dirty = true
	return coin, nil
}

// RemoveCoin erases a coin created by a block being unwound. Unlike
// SpendCoin it is an error for the coin to be missing, and the coin is not
// returned.
func (v *CoinsView) RemoveCoin(op types.OutPoint) error {
	coin, err := v.GetCoin(op)
	if err != nil {
		return err
	}
	if coin == nil {
		return fmt.Errorf("%w: %s", ErrMissingCoin, op)
	}
	entry := v.entries[op]
	entry.coin = nil
	entry.dirty = true
	return nil
}

// CoinForTx is one unspent output of a transaction.
type CoinForTx struct {
	Index uint32
	Coin  *Coin
}

// CoinsForTx returns every unspent output of txid visible in the view, in
// ascending output order.
func (v *CoinsView) CoinsForTx(txid types.Hash) ([]CoinForTx, error) {
	found := make(map[uint32]*Coin)
	prefix := append(append(make([]byte, 0, len(coinKeyPrefix)+types.HashSize), coinKeyPrefix...), txid[:]...)
	it := v.db.NewIterator(prefix)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		index := binary.BigEndian.Uint32(key[len(key)-4:])
		var s storedCoin
		if err := rlp.DecodeBytes(it.Value(), &s); err != nil {
			return nil, fmt.Errorf("chain: decode coin %s:%d: %w", txid.Hex(), index, err)
		}
		found[index] = &Coin{Output: types.TxOut{Value: int64(s.Value), PkScript: s.PkScript}, Height: int32(s.Height)}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	// Overlay entries override the committed rows either way.
	for op, entry := range v.entries {
		if op.TxID != txid {
			continue
		}
		if entry.coin == nil {
			delete(found, op.Index)
		} else {
			found[op.Index] = entry.coin
		}
	}
	out := make([]CoinForTx, 0, len(found))
	for index, coin := range found {
		out = append(out, CoinForTx{Index: index, Coin: coin})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Flush writes dirty entries through to the committed set and drops the
// overlay. Only block connection flushes; query views are discarded.
func (v *CoinsView) Flush() error {
	for op, entry := range v.entries {
		if !entry.dirty {
			continue
		}
		key := coinKey(op)
		if entry.coin == nil {
			if err := v.db.Delete(key); err != nil {
				return fmt.Errorf("chain: delete coin %s: %w", op, err)
			}
			continue
		}
		enc, err := rlp.EncodeToBytes(&storedCoin{
			Value:    uint64(entry.coin.Output.Value),
			PkScript: entry.coin.Output.PkScript,
			Height:   uint64(entry.coin.Height),
		})
		if err != nil {
			return err
		}
		if err := v.db.Put(key, enc); err != nil {
			return fmt.Errorf("chain: store coin %s: %w", op, err)
		}
	}
	v.entries = make(map[types.OutPoint]*coinEntry)
	v.usage = 0
	return nil
}
