package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// TxIn spends a previous output. Coinbase inputs carry a zero outpoint.
type TxIn struct {
	PrevOut OutPoint
}

// TxOut is a spendable output: an amount and the script that locks it.
// Claim operations live in the script prefix, see DecodeClaimScript.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// Transaction is the minimal transaction shape the claim chain needs:
// inputs that spend coins and outputs that create them.
type Transaction struct {
	Inputs  []TxIn
	Outputs []TxOut
}

// IsCoinbase reports whether the transaction mints without spending.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PrevOut.TxID.IsZero()
}

// Hash returns the transaction id: sha256d over the canonical encoding.
func (tx *Transaction) Hash() Hash {
	enc, err := rlp.EncodeToBytes(newStoredTx(tx))
	if err != nil {
		// The stored mirror only contains RLP-friendly fields.
		panic(fmt.Sprintf("types: encode transaction: %v", err))
	}
	return DoubleSHA256(enc)
}

// BlockHeader commits to the block contents and to the claim trie state
// that results from connecting the block.
type BlockHeader struct {
	Version       uint32
	PrevHash      Hash
	TxRoot        Hash
	ClaimTrieRoot Hash
	Timestamp     int64
	Height        int32
}

// Hash returns the block id: sha256d over the canonical header encoding.
func (h *BlockHeader) Hash() Hash {
	enc, err := rlp.EncodeToBytes(newStoredHeader(h))
	if err != nil {
		panic(fmt.Sprintf("types: encode header: %v", err))
	}
	return DoubleSHA256(enc)
}

// Block is a header plus its transactions.
type Block struct {
	Header       *BlockHeader
	Transactions []*Transaction
}

// NewBlock assembles a block from a header and transactions.
func NewBlock(header *BlockHeader, txs []*Transaction) *Block {
	return &Block{Header: header, Transactions: txs}
}

// Hash is the header hash.
func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

// TxMerkleRoot folds the transaction ids pairwise into a single commitment.
// An odd level duplicates its last entry, the usual bitcoin rule.
func TxMerkleRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return Hash{}
	}
	level := make([]Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash()
	}
	buf := make([]byte, HashSize*2)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := level[:len(level)/2]
		for i := range next {
			copy(buf, level[2*i][:])
			copy(buf[HashSize:], level[2*i+1][:])
			next[i] = DoubleSHA256(buf)
		}
		level = next
	}
	return level[0]
}
