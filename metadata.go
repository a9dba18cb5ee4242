package peerwire

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/peerwire/internal/infodownloader"
	"github.com/cenkalti/peerwire/internal/infouploader"
	"github.com/cenkalti/peerwire/internal/metainfo"
	"github.com/cenkalti/peerwire/internal/peerconn"
	"github.com/cenkalti/peerwire/internal/peerprotocol"
)

var (
	errConnClosed            = errors.New("peer connection closed")
	errNoMetadataExtension   = errors.New("peer does not support metadata extension")
	errUnexpectedMetadataMsg = errors.New("peer sent metadata before extension handshake")
)

// FetchInfo downloads the info dictionary from a peer that has it.
// conn must be running. The peer must advertise the metadata extension and
// the size of the info dictionary in its extension handshake.
// Checking the hash of the returned info is left to the caller.
func FetchInfo(ctx context.Context, conn *peerconn.Conn, cfg *Config) (*metainfo.Info, error) {
	err := sendExtensionHandshake(conn, peerprotocol.NewExtensionHandshake(0, cfg.ClientVersion, cfg.MetadataRequestQueueLength))
	if err != nil {
		return nil, err
	}
	queueLength := cfg.MetadataRequestQueueLength
	if queueLength <= 0 {
		queueLength = 1
	}
	var d *infodownloader.InfoDownloader
	var pe *metadataPeer
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-conn.Messages():
			if !ok {
				return nil, connError(conn)
			}
			switch msg := msg.(type) {
			case peerprotocol.ExtensionHandshakeMessage:
				if d != nil {
					conn.Logger().Debugln("ignoring duplicate extension handshake")
					continue
				}
				extID, ok := msg.M[peerprotocol.ExtensionKeyMetadata]
				if !ok {
					return nil, errNoMetadataExtension
				}
				pe = &metadataPeer{conn: conn, extID: extID, size: uint32(msg.MetadataSize)}
				d, err = infodownloader.New(pe)
				if err != nil {
					return nil, err
				}
				conn.Logger().Debugf("downloading %d bytes of metadata", pe.size)
				d.RequestBlocks(queueLength)
			case peerprotocol.ExtensionMetadataPayload:
				if pe == nil {
					return nil, errUnexpectedMetadataMsg
				}
				switch msg.Message.Type {
				case peerprotocol.ExtensionMetadataMessageTypeRequest:
					pe.send(peerprotocol.NewMetadataReject(pe.extID, msg.Message.Piece))
				case peerprotocol.ExtensionMetadataMessageTypeReject:
					return nil, fmt.Errorf("peer rejected metadata piece: %d", msg.Message.Piece)
				case peerprotocol.ExtensionMetadataMessageTypeData:
					data := msg.Data
					if msg.Info != nil {
						data = msg.Info.Bytes
					}
					if err = d.GotBlock(msg.Message.Piece, data); err != nil {
						return nil, err
					}
					if d.Done() {
						return d.Info()
					}
					d.RequestBlocks(queueLength)
				}
			}
		}
	}
}

// ServeInfo answers metadata requests of the peer on conn until ctx is cancelled
// or the connection is closed. info may be nil, in that case all requests are rejected.
func ServeInfo(ctx context.Context, conn *peerconn.Conn, info *metainfo.Info) error {
	r := infouploader.New(info)
	err := sendExtensionHandshake(conn, peerprotocol.NewExtensionHandshake(r.MetadataSize(), DefaultConfig.ClientVersion, 0))
	if err != nil {
		return err
	}
	var pe *metadataPeer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-conn.Messages():
			if !ok {
				return conn.Err()
			}
			switch msg := msg.(type) {
			case peerprotocol.ExtensionHandshakeMessage:
				extID, ok := msg.M[peerprotocol.ExtensionKeyMetadata]
				if !ok {
					conn.Logger().Debugln("peer does not support metadata extension")
					continue
				}
				pe = &metadataPeer{conn: conn, extID: extID}
			case peerprotocol.ExtensionMetadataPayload:
				if msg.Message.Type != peerprotocol.ExtensionMetadataMessageTypeRequest {
					continue
				}
				if pe == nil {
					conn.Logger().Debugln("metadata request before extension handshake")
					continue
				}
				pe.send(r.Respond(pe.extID, msg.Message.Piece))
			}
		}
	}
}

// metadataPeer sends metadata messages with the extension id the peer has chosen.
type metadataPeer struct {
	conn  *peerconn.Conn
	extID uint8
	size  uint32
}

func (p *metadataPeer) MetadataSize() uint32 {
	return p.size
}

func (p *metadataPeer) RequestMetadataPiece(index uint32) {
	p.send(peerprotocol.NewMetadataRequest(p.extID, index))
}

func (p *metadataPeer) send(payload peerprotocol.ExtensionMetadataPayload) {
	msg, err := peerprotocol.NewMessage(peerprotocol.Extension, payload)
	if err != nil {
		p.conn.Logger().Errorln("cannot encode metadata message:", err)
		return
	}
	p.conn.SendMessage(msg)
}

func sendExtensionHandshake(conn *peerconn.Conn, hs peerprotocol.ExtensionHandshakeMessage) error {
	b, err := hs.MarshalBinary()
	if err != nil {
		return err
	}
	msg, err := peerprotocol.NewMessage(peerprotocol.Extension, peerprotocol.ExtensionMessage{
		ExtendedMessageID: peerprotocol.ExtensionIDHandshake,
		Payload:           b,
	})
	if err != nil {
		return err
	}
	conn.SendMessage(msg)
	return nil
}

func connError(conn *peerconn.Conn) error {
	if err := conn.Err(); err != nil {
		return err
	}
	return errConnClosed
}
