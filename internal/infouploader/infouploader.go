// Package infouploader answers metadata requests of peers that do not have the info dictionary yet.
package infouploader

import (
	"github.com/cenkalti/peerwire/internal/infodownloader"
	"github.com/cenkalti/peerwire/internal/metainfo"
	"github.com/cenkalti/peerwire/internal/peerprotocol"
)

// Responder creates responses to metadata request messages.
type Responder struct {
	info *metainfo.Info
}

// New returns a new Responder. info may be nil if the info dictionary is not known yet,
// in that case all requests are rejected.
func New(info *metainfo.Info) *Responder {
	return &Responder{info: info}
}

// MetadataSize returns the size to announce in the extension handshake.
func (r *Responder) MetadataSize() uint32 {
	if r.info == nil {
		return 0
	}
	return uint32(len(r.info.Bytes))
}

// Respond returns the payload to send for a request of piece.
// extMsgID is the id of the metadata extension in the handshake of the peer.
//
// If the info dictionary fits in a single piece the response carries the whole,
// decodable dictionary together with its total size.
// Otherwise each piece is sent as raw data and the peer sizes its buffer from the extension handshake.
func (r *Responder) Respond(extMsgID uint8, piece uint32) peerprotocol.ExtensionMetadataPayload {
	if r.info == nil {
		return peerprotocol.NewMetadataReject(extMsgID, piece)
	}
	totalSize := uint32(len(r.info.Bytes))
	if totalSize <= infodownloader.BlockSize {
		if piece != 0 {
			return peerprotocol.NewMetadataReject(extMsgID, piece)
		}
		return peerprotocol.NewMetadataInfo(extMsgID, piece, r.info)
	}
	start := uint64(infodownloader.BlockSize) * uint64(piece)
	if start >= uint64(totalSize) {
		return peerprotocol.NewMetadataReject(extMsgID, piece)
	}
	end := start + infodownloader.BlockSize
	if end > uint64(totalSize) {
		end = uint64(totalSize)
	}
	return peerprotocol.NewMetadataData(extMsgID, piece, r.info.Bytes[start:end])
}
