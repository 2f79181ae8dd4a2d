// Package blockstore persists block bodies, headers and per-block undo
// payloads in a BoltDB file. Every value is wrapped in a blake3 checksum
// envelope so a torn write or bit rot surfaces as a read error instead of
// corrupt state replay.
package blockstore

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"

	"github.com/nondejus/lbrycrd/core/types"
)

var (
	bucketHeaders = []byte("headers")
	bucketBlocks  = []byte("blocks")
	bucketUndo    = []byte("undo")
	bucketMeta    = []byte("meta")

	keyChainTip = []byte("tip")

	// ErrNotFound is returned when a block, header or undo record does
	// not exist.
	ErrNotFound = errors.New("blockstore: record not found")
	// ErrCorrupted is returned when a stored payload fails its checksum.
	ErrCorrupted = errors.New("blockstore: checksum mismatch")
)

const checksumSize = 32

// Store is the BoltDB-backed block archive.
type Store struct {
	db *bolt.DB
}

// Open initialises (and migrates) the block archive at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketHeaders, bucketBlocks, bucketUndo, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func seal(payload []byte) []byte {
	sum := blake3.Sum256(payload)
	out := make([]byte, 0, checksumSize+len(payload))
	out = append(out, sum[:]...)
	return append(out, payload...)
}

func unseal(value []byte) ([]byte, error) {
	if len(value) < checksumSize {
		return nil, ErrCorrupted
	}
	payload := value[checksumSize:]
	sum := blake3.Sum256(payload)
	if !bytes.Equal(sum[:], value[:checksumSize]) {
		return nil, ErrCorrupted
	}
	return payload, nil
}

func (s *Store) put(bucket []byte, key types.Hash, payload []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key[:], seal(payload))
	})
}

func (s *Store) get(bucket []byte, key types.Hash) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucket).Get(key[:])
		if value == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, key.Hex())
		}
		opened, err := unseal(value)
		if err != nil {
			return fmt.Errorf("%w: %s", err, key.Hex())
		}
		payload = make([]byte, len(opened))
		copy(payload, opened)
		return nil
	})
	return payload, err
}

// PutBlock stores an encoded block body keyed by its hash.
func (s *Store) PutBlock(hash types.Hash, payload []byte) error {
	return s.put(bucketBlocks, hash, payload)
}

// Block returns the encoded block body for hash.
func (s *Store) Block(hash types.Hash) ([]byte, error) {
	return s.get(bucketBlocks, hash)
}

// PutUndo stores the undo payload recorded when the block was connected.
func (s *Store) PutUndo(hash types.Hash, payload []byte) error {
	return s.put(bucketUndo, hash, payload)
}

// Undo returns the undo payload for hash.
func (s *Store) Undo(hash types.Hash) ([]byte, error) {
	return s.get(bucketUndo, hash)
}

// PutHeader stores an encoded header keyed by block hash.
func (s *Store) PutHeader(hash types.Hash, payload []byte) error {
	return s.put(bucketHeaders, hash, payload)
}

// Header returns the encoded header for hash.
func (s *Store) Header(hash types.Hash) ([]byte, error) {
	return s.get(bucketHeaders, hash)
}

// ForEachHeader invokes fn for every stored header. Used to rebuild the
// in-memory block index at startup; iteration order is unspecified.
func (s *Store) ForEachHeader(fn func(hash types.Hash, payload []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeaders).ForEach(func(k, v []byte) error {
			var hash types.Hash
			if len(k) != types.HashSize {
				return fmt.Errorf("blockstore: header key length %d", len(k))
			}
			copy(hash[:], k)
			payload, err := unseal(v)
			if err != nil {
				return fmt.Errorf("%w: %s", err, hash.Hex())
			}
			return fn(hash, payload)
		})
	})
}

// SetChainTip records the hash of the best block.
func (s *Store) SetChainTip(hash types.Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyChainTip, hash[:])
	})
}

// ChainTip returns the recorded best block hash. ok is false on a fresh
// store.
func (s *Store) ChainTip() (types.Hash, bool, error) {
	var hash types.Hash
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketMeta).Get(keyChainTip)
		if value == nil {
			return nil
		}
		if len(value) != types.HashSize {
			return fmt.Errorf("blockstore: tip value length %d", len(value))
		}
		copy(hash[:], value)
		ok = true
		return nil
	})
	return hash, ok, err
}
