// Package infodownloader stitches the pieces of an info dictionary received with the metadata extension.
package infodownloader

import (
	"fmt"

	"github.com/cenkalti/peerwire/internal/metainfo"
)

// BlockSize is the size of a metadata piece. Only the last piece may be smaller.
const BlockSize = 16 * 1024

// MaxMetadataSize is the largest info dictionary accepted from a peer.
const MaxMetadataSize = 100 << 20

// InfoDownloader downloads all pieces of the info dictionary from a peer.
type InfoDownloader struct {
	Peer  Peer
	Bytes []byte

	blocks         []block
	pending        int // in-flight requests
	nextBlockIndex uint32
}

type block struct {
	size      uint32
	requested bool
	received  bool
}

// Peer is the source of the info dictionary.
type Peer interface {
	// MetadataSize is the size of the info dictionary advertised in the extension handshake.
	MetadataSize() uint32
	RequestMetadataPiece(index uint32)
}

// New returns a new InfoDownloader for downloading the info from pe.
func New(pe Peer) (*InfoDownloader, error) {
	size := pe.MetadataSize()
	if size == 0 {
		return nil, fmt.Errorf("peer did not advertise metadata size")
	}
	if size > MaxMetadataSize {
		return nil, fmt.Errorf("metadata size too big: %d", size)
	}
	d := &InfoDownloader{
		Peer:  pe,
		Bytes: make([]byte, size),
	}
	d.blocks = d.createBlocks()
	return d, nil
}

// GotBlock must be called when the data of a requested piece is received.
func (d *InfoDownloader) GotBlock(index uint32, data []byte) error {
	if index >= uint32(len(d.blocks)) {
		return fmt.Errorf("peer sent invalid metadata piece index: %d", index)
	}
	b := &d.blocks[index]
	if !b.requested {
		return fmt.Errorf("peer sent unrequested index for metadata message: %d", index)
	}
	if b.received {
		return fmt.Errorf("peer sent duplicate metadata piece: %d", index)
	}
	if uint32(len(data)) != b.size {
		return fmt.Errorf("peer sent invalid size for metadata message: %d", len(data))
	}
	b.received = true
	d.pending--
	begin := index * BlockSize
	end := begin + b.size
	copy(d.Bytes[begin:end], data)
	return nil
}

func (d *InfoDownloader) createBlocks() []block {
	numBlocks := d.Peer.MetadataSize() / BlockSize
	mod := d.Peer.MetadataSize() % BlockSize
	if mod != 0 {
		numBlocks++
	}
	blocks := make([]block, numBlocks)
	for i := range blocks {
		blocks[i] = block{
			size: BlockSize,
		}
	}
	if mod != 0 && len(blocks) > 0 {
		blocks[len(blocks)-1].size = mod
	}
	return blocks
}

// RequestBlocks requests pieces from the peer until there are queueLength requests in flight.
func (d *InfoDownloader) RequestBlocks(queueLength int) {
	for ; d.nextBlockIndex < uint32(len(d.blocks)) && d.pending < queueLength; d.nextBlockIndex++ {
		d.Peer.RequestMetadataPiece(d.nextBlockIndex)
		d.blocks[d.nextBlockIndex].requested = true
		d.pending++
	}
}

// Done returns true when all pieces are received.
func (d *InfoDownloader) Done() bool {
	return d.nextBlockIndex == uint32(len(d.blocks)) && d.pending == 0
}

// Info parses the downloaded bytes. Verifying the hash is left to the caller.
func (d *InfoDownloader) Info() (*metainfo.Info, error) {
	if !d.Done() {
		return nil, fmt.Errorf("metadata download is not complete")
	}
	return metainfo.NewInfo(d.Bytes)
}
