package peerprotocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/cenkalti/peerwire/internal/metainfo"
	"github.com/zeebo/bencode"
)

const (
	// ExtensionIDHandshake is ID for extension handshake message.
	ExtensionIDHandshake = iota
	// ExtensionIDMetadata is ID for metadata extension messages.
	ExtensionIDMetadata
)

// ExtensionKeyMetadata is the key for the metadata extension.
const ExtensionKeyMetadata = "ut_metadata"

const (
	// ExtensionMetadataMessageTypeRequest is the id of metadata message when requesting a piece.
	ExtensionMetadataMessageTypeRequest = iota
	// ExtensionMetadataMessageTypeData is the id of metadata message when sending the piece data.
	ExtensionMetadataMessageTypeData
	// ExtensionMetadataMessageTypeReject is the id of metadata message when rejecting a piece.
	ExtensionMetadataMessageTypeReject
)

// ExtensionMessage is extension to BitTorrent protocol.
// It is the payload of a message with Extension ID.
type ExtensionMessage struct {
	ExtendedMessageID uint8
	Payload           []byte
}

// MarshalBinary returns the payload of the Extension message.
func (m ExtensionMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 1+len(m.Payload))
	b[0] = m.ExtendedMessageID
	copy(b[1:], m.Payload)
	return b, nil
}

// UnmarshalBinary parses extension message. Payload refers to the memory of data.
func (m *ExtensionMessage) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyExtensionMessage
	}
	m.ExtendedMessageID = data[0]
	m.Payload = data[1:]
	return nil
}

// ExtensionHandshakeMessage contains the information to do the extension handshake.
type ExtensionHandshakeMessage struct {
	M            map[string]uint8 `bencode:"m"`
	V            string           `bencode:"v,omitempty"`
	MetadataSize int              `bencode:"metadata_size,omitempty"`
	RequestQueue int              `bencode:"reqq,omitempty"`
}

// NewExtensionHandshake returns a new ExtensionHandshakeMessage by filling the struct with given values.
func NewExtensionHandshake(metadataSize uint32, version string, requestQueueLength int) ExtensionHandshakeMessage {
	return ExtensionHandshakeMessage{
		M: map[string]uint8{
			ExtensionKeyMetadata: ExtensionIDMetadata,
		},
		V:            version,
		MetadataSize: int(metadataSize),
		RequestQueue: requestQueueLength,
	}
}

// MarshalBinary encodes the handshake dictionary.
func (m ExtensionHandshakeMessage) MarshalBinary() ([]byte, error) {
	return bencode.EncodeBytes(m)
}

// UnmarshalBinary decodes the handshake dictionary.
func (m *ExtensionHandshakeMessage) UnmarshalBinary(b []byte) (err error) {
	defer recoverDecode(&err, ErrInvalidControlRecord)
	var hs ExtensionHandshakeMessage
	if err = bencode.DecodeBytes(b, &hs); err != nil {
		return err
	}
	if hs.MetadataSize < 0 {
		hs.MetadataSize = 0
	}
	if hs.RequestQueue < 0 {
		hs.RequestQueue = 0
	}
	*m = hs
	return nil
}

// ExtensionMetadataMessage is the control dictionary of a message for the Metadata extension.
// TotalSize is zero unless the message carries the whole info dictionary.
type ExtensionMetadataMessage struct {
	Type      int    `bencode:"msg_type"`
	Piece     uint32 `bencode:"piece"`
	TotalSize int    `bencode:"total_size,omitempty"`
}

// ExtensionMetadataPayload is the payload of an Extension message that belongs to the Metadata extension.
//
// On the wire it is the extended message id, followed by the bencoded control dictionary,
// followed by the metadata bytes, if any.
// Info is set if and only if Message.TotalSize is set.
type ExtensionMetadataPayload struct {
	ExtendedMessageID uint8
	Message           ExtensionMetadataMessage
	// Data is the raw bytes following the control dictionary;
	// piece data of the metadata when info is sent in multiple pieces.
	Data []byte
	Info *metainfo.Info
}

// NewMetadataRequest returns a payload for requesting piece from peer.
func NewMetadataRequest(extMsgID uint8, piece uint32) ExtensionMetadataPayload {
	return ExtensionMetadataPayload{
		ExtendedMessageID: extMsgID,
		Message: ExtensionMetadataMessage{
			Type:  ExtensionMetadataMessageTypeRequest,
			Piece: piece,
		},
	}
}

// NewMetadataReject returns a payload for rejecting the request of piece.
func NewMetadataReject(extMsgID uint8, piece uint32) ExtensionMetadataPayload {
	return ExtensionMetadataPayload{
		ExtendedMessageID: extMsgID,
		Message: ExtensionMetadataMessage{
			Type:  ExtensionMetadataMessageTypeReject,
			Piece: piece,
		},
	}
}

// NewMetadataData returns a payload that sends a single piece of the info dictionary.
func NewMetadataData(extMsgID uint8, piece uint32, data []byte) ExtensionMetadataPayload {
	return ExtensionMetadataPayload{
		ExtendedMessageID: extMsgID,
		Message: ExtensionMetadataMessage{
			Type:  ExtensionMetadataMessageTypeData,
			Piece: piece,
		},
		Data: data,
	}
}

// NewMetadataInfo returns a payload that sends the whole info dictionary.
// Total size is calculated when the payload is encoded.
func NewMetadataInfo(extMsgID uint8, piece uint32, info *metainfo.Info) ExtensionMetadataPayload {
	return ExtensionMetadataPayload{
		ExtendedMessageID: extMsgID,
		Message: ExtensionMetadataMessage{
			Type:  ExtensionMetadataMessageTypeData,
			Piece: piece,
		},
		Info: info,
	}
}

// MarshalBinary returns the payload of the Extension message.
func (p ExtensionMetadataPayload) MarshalBinary() ([]byte, error) {
	msg := p.Message
	tail := p.Data
	if p.Info != nil {
		if len(p.Data) > 0 {
			return nil, errors.New("metadata message cannot have both info and data")
		}
		if msg.Type != ExtensionMetadataMessageTypeData {
			return nil, fmt.Errorf("info can only be sent with data message, not type %d", msg.Type)
		}
		b, err := p.Info.Encode()
		if err != nil {
			return nil, err
		}
		if msg.TotalSize != 0 && msg.TotalSize != len(b) {
			return nil, fmt.Errorf("%w: total size %d does not match info length %d", ErrMetadataSize, msg.TotalSize, len(b))
		}
		msg.TotalSize = len(b)
		tail = b
	} else if msg.TotalSize != 0 {
		return nil, fmt.Errorf("%w: total size %d without info", ErrMetadataSize, msg.TotalSize)
	}
	var buf bytes.Buffer
	buf.WriteByte(p.ExtendedMessageID)
	if err := bencode.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, err
	}
	buf.Write(tail)
	return buf.Bytes(), nil
}

// UnmarshalBinary parses the payload of an Extension message.
//
// When the control dictionary has "total_size", the info dictionary is read
// from the last total_size bytes of b.
func (p *ExtensionMetadataPayload) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return ErrEmptyExtensionMessage
	}
	rest := b[1:]
	msg, n, err := decodeControlRecord(rest)
	if err != nil {
		return err
	}
	data := rest[n:]
	var info *metainfo.Info
	if msg.TotalSize > 0 {
		if msg.TotalSize > len(data) {
			return fmt.Errorf("%w: total size %d, remaining %d bytes", ErrMetadataSize, msg.TotalSize, len(data))
		}
		info, err = decodeInfo(b[len(b)-msg.TotalSize:])
		if err != nil {
			return err
		}
	}
	*p = ExtensionMetadataPayload{
		ExtendedMessageID: b[0],
		Message:           msg,
		Data:              data,
		Info:              info,
	}
	return nil
}

// controlRecord keeps raw values so missing keys can be told apart from zero values.
type controlRecord struct {
	Type      bencode.RawMessage `bencode:"msg_type"`
	Piece     bencode.RawMessage `bencode:"piece"`
	TotalSize bencode.RawMessage `bencode:"total_size"`
}

// decodeControlRecord decodes the dictionary at the start of b and returns the number of bytes it spans.
func decodeControlRecord(b []byte) (msg ExtensionMetadataMessage, n int, err error) {
	defer recoverDecode(&err, ErrInvalidControlRecord)
	var rec controlRecord
	dec := bencode.NewDecoder(bytes.NewReader(b))
	if err = dec.Decode(&rec); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidControlRecord, err)
		return
	}
	n = dec.BytesParsed()
	if n <= 0 || n > len(b) {
		err = fmt.Errorf("%w: parsed %d of %d bytes", ErrInvalidControlRecord, n, len(b))
		return
	}
	typ, err := decodeInt("msg_type", rec.Type, true)
	if err != nil {
		return
	}
	switch typ {
	case ExtensionMetadataMessageTypeRequest, ExtensionMetadataMessageTypeData, ExtensionMetadataMessageTypeReject:
	default:
		err = fmt.Errorf("%w: unknown msg_type %d", ErrInvalidControlRecord, typ)
		return
	}
	piece, err := decodeInt("piece", rec.Piece, true)
	if err != nil {
		return
	}
	if piece < 0 || piece > math.MaxUint32 {
		err = fmt.Errorf("%w: piece out of range: %d", ErrInvalidControlRecord, piece)
		return
	}
	totalSize, err := decodeInt("total_size", rec.TotalSize, false)
	if err != nil {
		return
	}
	if len(rec.TotalSize) > 0 {
		if typ != ExtensionMetadataMessageTypeData {
			err = fmt.Errorf("%w: total_size in message of type %d", ErrInvalidControlRecord, typ)
			return
		}
		if totalSize <= 0 || totalSize > math.MaxInt32 {
			err = fmt.Errorf("%w: total_size out of range: %d", ErrInvalidControlRecord, totalSize)
			return
		}
	}
	msg = ExtensionMetadataMessage{
		Type:      int(typ),
		Piece:     uint32(piece),
		TotalSize: int(totalSize),
	}
	return
}

func decodeInt(key string, raw bencode.RawMessage, required bool) (int64, error) {
	if len(raw) == 0 {
		if required {
			return 0, fmt.Errorf("%w: missing %s", ErrInvalidControlRecord, key)
		}
		return 0, nil
	}
	var v int64
	if err := bencode.DecodeBytes(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidControlRecord, key, err)
	}
	return v, nil
}

func decodeInfo(b []byte) (info *metainfo.Info, err error) {
	defer recoverDecode(&err, ErrInvalidMetadata)
	info, err = metainfo.NewInfo(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return info, nil
}

// recoverDecode turns a panic inside the bencode decoder into an error wrapping kind.
// Bytes given to decoders come from remote peers.
func recoverDecode(err *error, kind error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", kind, r)
	}
}
