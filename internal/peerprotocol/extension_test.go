package peerprotocol

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/cenkalti/peerwire/internal/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInfoBytes(t *testing.T) []byte {
	i := &metainfo.Info{
		Name:        "ubuntu.iso",
		PieceLength: 16 << 10,
		Pieces:      bytes.Repeat([]byte{0x42}, 4*sha1.Size),
		Length:      4*(16<<10) - 1,
	}
	b, err := i.Encode()
	require.NoError(t, err)
	return b
}

func TestMetadataRequest(t *testing.T) {
	b, err := NewMetadataRequest(3, 5).MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, "\x03d8:msg_typei0e5:piecei5ee", string(b))

	var p ExtensionMetadataPayload
	require.NoError(t, p.UnmarshalBinary(b))
	assert.Equal(t, uint8(3), p.ExtendedMessageID)
	assert.Equal(t, ExtensionMetadataMessage{Type: ExtensionMetadataMessageTypeRequest, Piece: 5}, p.Message)
	assert.Nil(t, p.Info)
	assert.Empty(t, p.Data)
}

func TestMetadataReject(t *testing.T) {
	b, err := NewMetadataReject(1, 2).MarshalBinary()
	require.NoError(t, err)
	var p ExtensionMetadataPayload
	require.NoError(t, p.UnmarshalBinary(b))
	assert.Equal(t, ExtensionMetadataMessageTypeReject, p.Message.Type)
	assert.Equal(t, uint32(2), p.Message.Piece)
	assert.Nil(t, p.Info)
}

func TestMetadataDataPiece(t *testing.T) {
	b, err := NewMetadataData(1, 2, []byte("abc")).MarshalBinary()
	require.NoError(t, err)
	var p ExtensionMetadataPayload
	require.NoError(t, p.UnmarshalBinary(b))
	assert.Equal(t, ExtensionMetadataMessageTypeData, p.Message.Type)
	assert.Equal(t, 0, p.Message.TotalSize)
	assert.Equal(t, []byte("abc"), p.Data)
	assert.Nil(t, p.Info)
}

func TestMetadataInfoRoundTrip(t *testing.T) {
	ib := testInfoBytes(t)
	info, err := metainfo.NewInfo(ib)
	require.NoError(t, err)

	b, err := NewMetadataInfo(1, 0, info).MarshalBinary()
	require.NoError(t, err)

	var p ExtensionMetadataPayload
	require.NoError(t, p.UnmarshalBinary(b))
	assert.Equal(t, ExtensionMetadataMessage{Type: ExtensionMetadataMessageTypeData, Piece: 0, TotalSize: len(ib)}, p.Message)
	require.NotNil(t, p.Info)
	assert.Equal(t, info.Name, p.Info.Name)
	assert.Equal(t, info.PieceLength, p.Info.PieceLength)
	assert.Equal(t, info.Pieces, p.Info.Pieces)
	assert.Equal(t, info.Length, p.Info.Length)
	assert.Equal(t, info.Hash, p.Info.Hash)
	assert.Equal(t, ib, p.Data)
}

func TestMetadataInfoConstructedByHand(t *testing.T) {
	ib := testInfoBytes(t)
	control := fmt.Sprintf("d8:msg_typei1e5:piecei0e10:total_sizei%dee", len(ib))
	b := append([]byte{7}, control...)
	b = append(b, ib...)

	var p ExtensionMetadataPayload
	require.NoError(t, p.UnmarshalBinary(b))
	assert.Equal(t, uint8(7), p.ExtendedMessageID)
	assert.Equal(t, len(ib), p.Message.TotalSize)
	require.NotNil(t, p.Info)
	assert.Equal(t, "ubuntu.iso", p.Info.Name)
	assert.Equal(t, sha1.Sum(ib), p.Info.Hash) // nolint: gosec
}

func TestMetadataInfoAnchoredToTail(t *testing.T) {
	ib := testInfoBytes(t)
	control := fmt.Sprintf("d8:msg_typei1e5:piecei0e10:total_sizei%dee", len(ib))
	b := append([]byte{1}, control...)
	b = append(b, "junk"...)
	b = append(b, ib...)

	var p ExtensionMetadataPayload
	require.NoError(t, p.UnmarshalBinary(b))
	require.NotNil(t, p.Info)
	assert.Equal(t, "ubuntu.iso", p.Info.Name)
	assert.Equal(t, len(ib)+4, len(p.Data))
}

func TestMetadataTotalSizeTooLarge(t *testing.T) {
	ib := testInfoBytes(t)
	for _, size := range []int{len(ib) + 1, 1<<31 - 1} {
		control := fmt.Sprintf("d8:msg_typei1e5:piecei0e10:total_sizei%dee", size)
		b := append([]byte{1}, control...)
		b = append(b, ib...)
		var p ExtensionMetadataPayload
		err := p.UnmarshalBinary(b)
		assert.True(t, errors.Is(err, ErrMetadataSize), "size: %d, err: %v", size, err)
		assert.False(t, IsFatal(err))
	}
}

func TestMetadataInvalidInfo(t *testing.T) {
	b := []byte("\x01d8:msg_typei1e5:piecei0e10:total_sizei5eeabcde")
	var p ExtensionMetadataPayload
	err := p.UnmarshalBinary(b)
	assert.True(t, errors.Is(err, ErrInvalidMetadata), "err: %v", err)
	assert.False(t, errors.Is(err, ErrInvalidControlRecord))
}

func TestMetadataInvalidControlRecord(t *testing.T) {
	cases := []string{
		"x",
		"i5e",
		"le",
		"d8:msg_type",
		"d8:msg_typei0e5:piece",
		"d5:piecei0ee",
		"d8:msg_typei0ee",
		"d8:msg_typei3e5:piecei0ee",
		"d8:msg_typei-1e5:piecei0ee",
		"d8:msg_typei0e5:piecei-1ee",
		"d8:msg_typei0e5:piecei4294967296ee",
		"d8:msg_type3:abc5:piecei0ee",
		"d8:msg_typei1e5:piecei0e10:total_sizei0ee",
		"d8:msg_typei1e5:piecei0e10:total_sizei-5ee",
		"d8:msg_typei1e5:piecei0e10:total_sizei1099511627776ee",
		"d8:msg_typei0e5:piecei0e10:total_sizei4ee1234",
		"d8:msg_typei99999999999999999999999e5:piecei0ee",
	}
	for _, c := range cases {
		var p ExtensionMetadataPayload
		err := p.UnmarshalBinary(append([]byte{1}, c...))
		assert.True(t, errors.Is(err, ErrInvalidControlRecord), "input: %q, err: %v", c, err)
	}
}

func TestMetadataEmpty(t *testing.T) {
	var p ExtensionMetadataPayload
	assert.Equal(t, ErrEmptyExtensionMessage, p.UnmarshalBinary(nil))
	err := p.UnmarshalBinary([]byte{1})
	assert.True(t, errors.Is(err, ErrInvalidControlRecord))
}

func TestMetadataTruncated(t *testing.T) {
	info, err := metainfo.NewInfo(testInfoBytes(t))
	require.NoError(t, err)
	b, err := NewMetadataInfo(1, 0, info).MarshalBinary()
	require.NoError(t, err)
	for i := 0; i < len(b); i++ {
		var p ExtensionMetadataPayload
		assert.Error(t, p.UnmarshalBinary(b[:i]), "length: %d", i)
	}
}

func TestMetadataRandomInput(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	prefixes := []string{"", "d", "d8:msg_typei1e", "d8:msg_typei1e5:piecei0e10:total_sizei"}
	for i := 0; i < 10000; i++ {
		b := make([]byte, rnd.Intn(64))
		rnd.Read(b)
		b = append([]byte(prefixes[i%len(prefixes)]), b...)
		b = append([]byte{1}, b...)
		var p ExtensionMetadataPayload
		assert.NotPanics(t, func() { _ = p.UnmarshalBinary(b) })
	}
}

func TestMetadataEncodeErrors(t *testing.T) {
	info, err := metainfo.NewInfo(testInfoBytes(t))
	require.NoError(t, err)

	p := NewMetadataData(1, 0, nil)
	p.Message.TotalSize = 10
	_, err = p.MarshalBinary()
	assert.True(t, errors.Is(err, ErrMetadataSize))

	p = NewMetadataInfo(1, 0, info)
	p.Message.TotalSize = len(info.Bytes) + 1
	_, err = p.MarshalBinary()
	assert.True(t, errors.Is(err, ErrMetadataSize))

	p = NewMetadataInfo(1, 0, info)
	p.Message.TotalSize = len(info.Bytes)
	_, err = p.MarshalBinary()
	assert.NoError(t, err)

	p = NewMetadataInfo(1, 0, info)
	p.Message.Type = ExtensionMetadataMessageTypeRequest
	_, err = p.MarshalBinary()
	assert.Error(t, err)

	p = NewMetadataInfo(1, 0, info)
	p.Data = []byte("x")
	_, err = p.MarshalBinary()
	assert.Error(t, err)
}

func TestMetadataInFrame(t *testing.T) {
	info, err := metainfo.NewInfo(testInfoBytes(t))
	require.NoError(t, err)
	msg, err := NewMessage(Extension, NewMetadataInfo(ExtensionIDMetadata, 0, info))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeMessage(&buf, msg))
	got, ok, err := DecodeMessage(&buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Extension, got.ID)

	var p ExtensionMetadataPayload
	require.NoError(t, p.UnmarshalBinary(got.Payload))
	assert.Equal(t, uint8(ExtensionIDMetadata), p.ExtendedMessageID)
	assert.Equal(t, info.Hash, p.Info.Hash)
}

func TestExtensionHandshake(t *testing.T) {
	hs := NewExtensionHandshake(31337, "peerwire 1.0", 250)
	b, err := hs.MarshalBinary()
	require.NoError(t, err)

	var got ExtensionHandshakeMessage
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, hs, got)
	assert.Equal(t, uint8(ExtensionIDMetadata), got.M[ExtensionKeyMetadata])

	require.NoError(t, got.UnmarshalBinary([]byte("d1:md11:ut_metadatai3ee13:metadata_sizei-1e4:reqqi-5ee")))
	assert.Equal(t, uint8(3), got.M[ExtensionKeyMetadata])
	assert.Equal(t, 0, got.MetadataSize)
	assert.Equal(t, 0, got.RequestQueue)

	assert.Error(t, got.UnmarshalBinary([]byte("d1:m")))
}

func TestExtensionMessage(t *testing.T) {
	var m ExtensionMessage
	assert.Equal(t, ErrEmptyExtensionMessage, m.UnmarshalBinary(nil))
	require.NoError(t, m.UnmarshalBinary([]byte{0, 'd', 'e'}))
	assert.Equal(t, uint8(0), m.ExtendedMessageID)
	assert.Equal(t, []byte("de"), m.Payload)
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 'd', 'e'}, b)
}
