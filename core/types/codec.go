package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Stored mirrors keep the RLP encoding free of signed integers. Domain
// structs use int32 heights and int64 amounts; both are non-negative by
// construction, so the widening below is lossless.

type storedOutPoint struct {
	TxID  Hash
	Index uint32
}

type storedTxIn struct {
	PrevOut storedOutPoint
}

type storedTxOut struct {
	Value    uint64
	PkScript []byte
}

type storedTx struct {
	Inputs  []storedTxIn
	Outputs []storedTxOut
}

type storedHeader struct {
	Version       uint32
	PrevHash      Hash
	TxRoot        Hash
	ClaimTrieRoot Hash
	Timestamp     uint64
	Height        uint64
}

type storedBlock struct {
	Header storedHeader
	Txs    []storedTx
}

func newStoredOutPoint(o OutPoint) storedOutPoint {
	return storedOutPoint{TxID: o.TxID, Index: o.Index}
}

func (s storedOutPoint) toOutPoint() OutPoint {
	return OutPoint{TxID: s.TxID, Index: s.Index}
}

func newStoredTx(tx *Transaction) *storedTx {
	out := &storedTx{
		Inputs:  make([]storedTxIn, len(tx.Inputs)),
		Outputs: make([]storedTxOut, len(tx.Outputs)),
	}
	for i, in := range tx.Inputs {
		out.Inputs[i] = storedTxIn{PrevOut: newStoredOutPoint(in.PrevOut)}
	}
	for i, o := range tx.Outputs {
		out.Outputs[i] = storedTxOut{Value: uint64(o.Value), PkScript: o.PkScript}
	}
	return out
}

func (s *storedTx) toTransaction() *Transaction {
	tx := &Transaction{
		Inputs:  make([]TxIn, len(s.Inputs)),
		Outputs: make([]TxOut, len(s.Outputs)),
	}
	for i, in := range s.Inputs {
		tx.Inputs[i] = TxIn{PrevOut: in.PrevOut.toOutPoint()}
	}
	for i, o := range s.Outputs {
		tx.Outputs[i] = TxOut{Value: int64(o.Value), PkScript: o.PkScript}
	}
	return tx
}

func newStoredHeader(h *BlockHeader) *storedHeader {
	return &storedHeader{
		Version:       h.Version,
		PrevHash:      h.PrevHash,
		TxRoot:        h.TxRoot,
		ClaimTrieRoot: h.ClaimTrieRoot,
		Timestamp:     uint64(h.Timestamp),
		Height:        uint64(h.Height),
	}
}

func (s *storedHeader) toHeader() *BlockHeader {
	return &BlockHeader{
		Version:       s.Version,
		PrevHash:      s.PrevHash,
		TxRoot:        s.TxRoot,
		ClaimTrieRoot: s.ClaimTrieRoot,
		Timestamp:     int64(s.Timestamp),
		Height:        int32(s.Height),
	}
}

// EncodeHeader serializes a header for storage.
func EncodeHeader(h *BlockHeader) ([]byte, error) {
	if h == nil {
		return nil, fmt.Errorf("types: nil header")
	}
	return rlp.EncodeToBytes(newStoredHeader(h))
}

// DecodeHeader reverses EncodeHeader.
func DecodeHeader(data []byte) (*BlockHeader, error) {
	var s storedHeader
	if err := rlp.DecodeBytes(data, &s); err != nil {
		return nil, fmt.Errorf("types: decode header: %w", err)
	}
	return s.toHeader(), nil
}

// EncodeTransaction serializes a single transaction, e.g. for relay
// over the RPC boundary.
func EncodeTransaction(tx *Transaction) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("types: nil transaction")
	}
	return rlp.EncodeToBytes(newStoredTx(tx))
}

// DecodeTransaction reverses EncodeTransaction.
func DecodeTransaction(data []byte) (*Transaction, error) {
	var s storedTx
	if err := rlp.DecodeBytes(data, &s); err != nil {
		return nil, fmt.Errorf("types: decode transaction: %w", err)
	}
	return s.toTransaction(), nil
}

// EncodeBlock serializes a full block for storage.
func EncodeBlock(b *Block) ([]byte, error) {
	if b == nil || b.Header == nil {
		return nil, fmt.Errorf("types: nil block")
	}
	s := storedBlock{Header: *newStoredHeader(b.Header)}
	s.Txs = make([]storedTx, len(b.Transactions))
	for i, tx := range b.Transactions {
		s.Txs[i] = *newStoredTx(tx)
	}
	return rlp.EncodeToBytes(&s)
}

// DecodeBlock reverses EncodeBlock.
func DecodeBlock(data []byte) (*Block, error) {
	var s storedBlock
	if err := rlp.DecodeBytes(data, &s); err != nil {
		return nil, fmt.Errorf("types: decode block: %w", err)
	}
	b := &Block{Header: s.Header.toHeader()}
	b.Transactions = make([]*Transaction, len(s.Txs))
	for i := range s.Txs {
		b.Transactions[i] = s.Txs[i].toTransaction()
	}
	return b, nil
}
