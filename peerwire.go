// Package peerwire implements the BitTorrent peer wire message framing and
// the metadata extension (BEP 9) used for exchanging info dictionaries between peers.
//
// Most of the types live in internal packages; the ones needed by users of the
// module are re-exported here.
package peerwire

import (
	"bytes"
	"net"

	"github.com/cenkalti/peerwire/internal/logger"
	"github.com/cenkalti/peerwire/internal/metainfo"
	"github.com/cenkalti/peerwire/internal/peerconn"
	"github.com/cenkalti/peerwire/internal/peerprotocol"
)

type (
	// Message is a single frame of the peer protocol.
	Message = peerprotocol.Message
	// MessageID is the tag byte of a frame.
	MessageID = peerprotocol.MessageID
	// ExtensionHandshakeMessage is sent to a peer to announce supported extensions.
	ExtensionHandshakeMessage = peerprotocol.ExtensionHandshakeMessage
	// ExtensionMetadataMessage is the control dictionary of a metadata message.
	ExtensionMetadataMessage = peerprotocol.ExtensionMetadataMessage
	// ExtensionMetadataPayload is a metadata message together with its extension id and data.
	ExtensionMetadataPayload = peerprotocol.ExtensionMetadataPayload
	// Info is the info dictionary of a torrent.
	Info = metainfo.Info
	// Conn is a peer connection that frames and parses messages.
	Conn = peerconn.Conn
)

// Maximum number of payload bytes in a single frame.
const MaxPayloadSize = peerprotocol.MaxPayloadSize

// Errors returned while decoding messages.
var (
	ErrFrameTooLarge         = peerprotocol.ErrFrameTooLarge
	ErrUnknownMessageID      = peerprotocol.ErrUnknownMessageID
	ErrPayloadTooLarge       = peerprotocol.ErrPayloadTooLarge
	ErrEmptyExtensionMessage = peerprotocol.ErrEmptyExtensionMessage
	ErrInvalidControlRecord  = peerprotocol.ErrInvalidControlRecord
	ErrMetadataSize          = peerprotocol.ErrMetadataSize
	ErrInvalidMetadata       = peerprotocol.ErrInvalidMetadata
)

// DecodeMessage removes the next complete message from the front of buf.
// ok is false if buf does not contain a complete frame yet.
func DecodeMessage(buf *bytes.Buffer) (msg Message, ok bool, err error) {
	return peerprotocol.DecodeMessage(buf)
}

// EncodeMessage appends the frame of msg to buf.
func EncodeMessage(buf *bytes.Buffer, msg Message) error {
	return peerprotocol.EncodeMessage(buf, msg)
}

// IsFatal returns true if the connection must be closed after err.
func IsFatal(err error) bool {
	return peerprotocol.IsFatal(err)
}

// NewInfo parses and validates a bencoded info dictionary.
func NewInfo(b []byte) (*Info, error) {
	return metainfo.NewInfo(b)
}

// NewConn wraps an established connection, after the BitTorrent handshake is done.
// Run must be called on the returned Conn to start exchanging messages.
func NewConn(conn net.Conn, cfg *Config) *Conn {
	return peerconn.New(conn, logger.New("peer "+conn.RemoteAddr().String()), cfg.ConnOptions())
}
