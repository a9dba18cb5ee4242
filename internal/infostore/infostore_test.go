package infostore

import (
	"crypto/sha1" // nolint: gosec
	"path/filepath"
	"testing"

	"github.com/cenkalti/peerwire/internal/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func infoBytes(t *testing.T, name string) []byte {
	i := &metainfo.Info{
		Name:        name,
		PieceLength: 16,
		Pieces:      make([]byte, sha1.Size),
		Length:      10,
	}
	b, err := i.Encode()
	require.NoError(t, err)
	return b
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.db")
	s, err := Open(path)
	require.NoError(t, err)

	info, err := s.Put(infoBytes(t, "a"))
	require.NoError(t, err)
	_, err = s.Put(infoBytes(t, "b"))
	require.NoError(t, err)

	_, err = s.Put([]byte("not bencode"))
	assert.Error(t, err)

	ok, err := s.Has(info.Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(info.Hash)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, info.Bytes, got.Bytes)

	hashes, err := s.List()
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
	assert.Contains(t, hashes, info.Hash)

	// Reopen and read again.
	require.NoError(t, s.Close())
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err = s.Get(info.Hash)
	require.NoError(t, err)
	assert.Equal(t, info.Hash, got.Hash)

	require.NoError(t, s.Delete(info.Hash))
	_, err = s.Get(info.Hash)
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err = s.Has(info.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}
