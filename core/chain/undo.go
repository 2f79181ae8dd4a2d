package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/nondejus/lbrycrd/claimtrie"
	"github.com/nondejus/lbrycrd/core/types"
)

// OpKind tags one recorded claim operation.
type OpKind uint8

const (
	OpAddClaim OpKind = iota + 1
	OpRemoveClaim
	OpAddSupport
	OpRemoveSupport
)

// ClaimOpUndo is one claim operation a block applied. Removals carry the
// full prior record so disconnect can re-add it; adds only need the target.
// A block may add and remove the same stake, so the log keeps application
// order and disconnect walks it backwards.
type ClaimOpUndo struct {
	Kind          OpKind
	Name          string // normalized
	OutPoint      types.OutPoint
	ID            types.ClaimID // claim id, or supported id for supports
	Amount        int64
	Height        int32
	ValidAtHeight int32
}

// CoinUndo restores one spent coin.
type CoinUndo struct {
	OutPoint types.OutPoint
	Coin     Coin
}

// TakeoverUndo restores the takeover height a block overwrote.
type TakeoverUndo struct {
	Name       string
	PrevHeight int32
	PrevExists bool
}

// BlockUndo records everything needed to unwind one connected block.
// TxCoins holds the coins each transaction spent, indexed like the block's
// transactions; the coinbase entry is empty.
type BlockUndo struct {
	TxCoins   [][]CoinUndo
	Ops       []ClaimOpUndo
	Takeovers []TakeoverUndo
}

func (u *BlockUndo) removedClaim(op *ClaimOpUndo) claimtrie.Claim {
	return claimtrie.Claim{
		OutPoint:      op.OutPoint,
		ID:            op.ID,
		Amount:        op.Amount,
		Height:        op.Height,
		ValidAtHeight: op.ValidAtHeight,
	}
}

func (u *BlockUndo) removedSupport(op *ClaimOpUndo) claimtrie.Support {
	return claimtrie.Support{
		OutPoint:      op.OutPoint,
		SupportedID:   op.ID,
		Amount:        op.Amount,
		Height:        op.Height,
		ValidAtHeight: op.ValidAtHeight,
	}
}

// --- storage codec ---

type storedCoinUndo struct {
	TxID     types.Hash
	Index    uint32
	Value    uint64
	PkScript []byte
	Height   uint64
}

type storedClaimOp struct {
	Kind          uint8
	Name          string
	TxID          types.Hash
	Index         uint32
	ID            types.ClaimID
	Amount        uint64
	Height        uint64
	ValidAtHeight uint64
}

type storedTakeover struct {
	Name       string
	PrevHeight uint64
	PrevExists bool
}

type storedBlockUndo struct {
	TxCoins   [][]storedCoinUndo
	Ops       []storedClaimOp
	Takeovers []storedTakeover
}

// EncodeBlockUndo serializes undo data for the block archive.
func EncodeBlockUndo(u *BlockUndo) ([]byte, error) {
	s := &storedBlockUndo{
		TxCoins:   make([][]storedCoinUndo, len(u.TxCoins)),
		Ops:       make([]storedClaimOp, len(u.Ops)),
		Takeovers: make([]storedTakeover, len(u.Takeovers)),
	}
	for i, coins := range u.TxCoins {
		s.TxCoins[i] = make([]storedCoinUndo, len(coins))
		for j, c := range coins {
			s.TxCoins[i][j] = storedCoinUndo{
				TxID:     c.OutPoint.TxID,
				Index:    c.OutPoint.Index,
				Value:    uint64(c.Coin.Output.Value),
				PkScript: c.Coin.Output.PkScript,
				Height:   uint64(c.Coin.Height),
			}
		}
	}
	for i, op := range u.Ops {
		s.Ops[i] = storedClaimOp{
			Kind:          uint8(op.Kind),
			Name:          op.Name,
			TxID:          op.OutPoint.TxID,
			Index:         op.OutPoint.Index,
			ID:            op.ID,
			Amount:        uint64(op.Amount),
			Height:        uint64(op.Height),
			ValidAtHeight: uint64(op.ValidAtHeight),
		}
	}
	for i, tk := range u.Takeovers {
		s.Takeovers[i] = storedTakeover{Name: tk.Name, PrevHeight: uint64(tk.PrevHeight), PrevExists: tk.PrevExists}
	}
	return rlp.EncodeToBytes(s)
}

// DecodeBlockUndo reverses EncodeBlockUndo.
func DecodeBlockUndo(data []byte) (*BlockUndo, error) {
	var s storedBlockUndo
	if err := rlp.DecodeBytes(data, &s); err != nil {
		return nil, fmt.Errorf("chain: decode block undo: %w", err)
	}
	u := &BlockUndo{
		TxCoins:   make([][]CoinUndo, len(s.TxCoins)),
		Ops:       make([]ClaimOpUndo, len(s.Ops)),
		Takeovers: make([]TakeoverUndo, len(s.Takeovers)),
	}
	for i, coins := range s.TxCoins {
		u.TxCoins[i] = make([]CoinUndo, len(coins))
		for j, c := range coins {
			u.TxCoins[i][j] = CoinUndo{
				OutPoint: types.OutPoint{TxID: c.TxID, Index: c.Index},
				Coin:     Coin{Output: types.TxOut{Value: int64(c.Value), PkScript: c.PkScript}, Height: int32(c.Height)},
			}
		}
	}
	for i, op := range s.Ops {
		u.Ops[i] = ClaimOpUndo{
			Kind:          OpKind(op.Kind),
			Name:          op.Name,
			OutPoint:      types.OutPoint{TxID: op.TxID, Index: op.Index},
			ID:            op.ID,
			Amount:        int64(op.Amount),
			Height:        int32(op.Height),
			ValidAtHeight: int32(op.ValidAtHeight),
		}
	}
	for i, tk := range s.Takeovers {
		u.Takeovers[i] = TakeoverUndo{Name: tk.Name, PrevHeight: int32(tk.PrevHeight), PrevExists: tk.PrevExists}
	}
	return u, nil
}
