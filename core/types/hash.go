package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize is the length in bytes of a block, transaction, or trie hash.
const HashSize = 32

// Hash is a fixed-width 32-byte digest. Block hashes, transaction ids and
// claim trie commitments all share this representation.
type Hash [HashSize]byte

// DoubleSHA256 returns sha256(sha256(b)), the digest used for every
// commitment in the chain: headers, transactions and trie nodes.
func DoubleSHA256(b []byte) Hash {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// HashFromHex parses a 64-character hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("types: hash hex must be %d characters, got %d", HashSize*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("types: invalid hash hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Hex renders the hash as lowercase hex.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zero bytes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string { return h.Hex() }

// Bytes returns a copy of the digest as a slice.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}
