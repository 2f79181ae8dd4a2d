package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil"
)

// ClaimIDSize is the length in bytes of a claim identifier.
const ClaimIDSize = 20

// OutPoint identifies a transaction output: the funding txid plus the
// output index within that transaction.
type OutPoint struct {
	TxID  Hash
	Index uint32
}

// NewOutPoint builds an OutPoint from its parts.
func NewOutPoint(txid Hash, index uint32) OutPoint {
	return OutPoint{TxID: txid, Index: index}
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.Hex(), o.Index)
}

// ClaimID is the 160-bit identifier of a claim. It is derived from the
// outpoint that first created the claim and survives updates, so callers
// can follow a claim across re-stakes of the same name.
type ClaimID [ClaimIDSize]byte

// NewClaimID derives a claim id from the claim's creating outpoint:
// ripemd160(sha256(txid || le32(index))).
func NewClaimID(op OutPoint) ClaimID {
	buf := make([]byte, HashSize+4)
	copy(buf, op.TxID[:])
	binary.LittleEndian.PutUint32(buf[HashSize:], op.Index)
	var id ClaimID
	copy(id[:], btcutil.Hash160(buf))
	return id
}

// ClaimIDFromHex parses a full 40-character hex claim id.
func ClaimIDFromHex(s string) (ClaimID, error) {
	var id ClaimID
	if len(s) != ClaimIDSize*2 {
		return id, fmt.Errorf("types: claim id hex must be %d characters, got %d", ClaimIDSize*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("types: invalid claim id hex: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// Hex renders the claim id as lowercase hex.
func (id ClaimID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the id is all zero bytes.
func (id ClaimID) IsZero() bool {
	return id == ClaimID{}
}

func (id ClaimID) String() string { return id.Hex() }
