package blockstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/nondejus/lbrycrd/core/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "blocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestBlockRoundTrip(t *testing.T) {
	s := openTestStore(t)
	hash := types.DoubleSHA256([]byte("block"))
	payload := []byte("encoded block body")

	require.NoError(t, s.PutBlock(hash, payload))
	got, err := s.Block(hash)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	_, err = s.Block(types.DoubleSHA256([]byte("missing")))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestUndoAndHeaderRoundTrip(t *testing.T) {
	s := openTestStore(t)
	hash := types.DoubleSHA256([]byte("block"))

	require.NoError(t, s.PutUndo(hash, []byte("undo")))
	undo, err := s.Undo(hash)
	require.NoError(t, err)
	require.Equal(t, []byte("undo"), undo)

	require.NoError(t, s.PutHeader(hash, []byte("header")))
	header, err := s.Header(hash)
	require.NoError(t, err)
	require.Equal(t, []byte("header"), header)
}

func TestChainTip(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.ChainTip()
	require.NoError(t, err)
	require.False(t, ok)

	hash := types.DoubleSHA256([]byte("tip"))
	require.NoError(t, s.SetChainTip(hash))

	got, ok, err := s.ChainTip()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hash, got)
}

func TestForEachHeader(t *testing.T) {
	s := openTestStore(t)
	first := types.DoubleSHA256([]byte("a"))
	second := types.DoubleSHA256([]byte("b"))
	require.NoError(t, s.PutHeader(first, []byte("ha")))
	require.NoError(t, s.PutHeader(second, []byte("hb")))

	seen := map[types.Hash]string{}
	require.NoError(t, s.ForEachHeader(func(hash types.Hash, payload []byte) error {
		seen[hash] = string(payload)
		return nil
	}))
	require.Equal(t, map[types.Hash]string{first: "ha", second: "hb"}, seen)
}

func TestCorruptionDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocks.db")
	s, err := Open(path)
	require.NoError(t, err)

	hash := types.DoubleSHA256([]byte("block"))
	require.NoError(t, s.PutBlock(hash, []byte("payload")))

	// Flip a payload byte behind the store's back.
	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		value := append([]byte(nil), b.Get(hash[:])...)
		value[len(value)-1] ^= 0xff
		return b.Put(hash[:], value)
	}))

	_, err = s.Block(hash)
	require.True(t, errors.Is(err, ErrCorrupted))
	require.NoError(t, s.Close())
}
