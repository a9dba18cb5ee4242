package peerprotocol

import (
	"encoding"
	"encoding/binary"
	"fmt"
)

// Message is a single Peer message of BitTorrent protocol.
// Meaning of the Payload depends on the ID.
type Message struct {
	ID      MessageID
	Payload []byte
}

func (m Message) String() string {
	return fmt.Sprintf("%s (%d bytes)", m.ID, len(m.Payload))
}

// NewMessage returns a Message with the payload encoded from p.
// p may be nil for messages without payload.
func NewMessage(id MessageID, p encoding.BinaryMarshaler) (Message, error) {
	if p == nil {
		return Message{ID: id}, nil
	}
	b, err := p.MarshalBinary()
	if err != nil {
		return Message{}, err
	}
	if len(b) > MaxPayloadSize {
		return Message{}, fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(b))
	}
	return Message{ID: id, Payload: b}, nil
}

func checkLength(b []byte, n int) error {
	if len(b) != n {
		return fmt.Errorf("%w: %d != %d", ErrInvalidPayload, len(b), n)
	}
	return nil
}

// HaveMessage indicates a peer has the piece with index.
// It is also the payload of suggest and allowed fast messages.
type HaveMessage struct {
	Index uint32
}

// MarshalBinary encodes the message payload.
func (m HaveMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return b, nil
}

// UnmarshalBinary parses the message payload.
func (m *HaveMessage) UnmarshalBinary(b []byte) error {
	if err := checkLength(b, 4); err != nil {
		return err
	}
	m.Index = binary.BigEndian.Uint32(b)
	return nil
}

// RequestMessage is sent when a peer needs a certain piece.
// Cancel and reject messages carry the same payload.
type RequestMessage struct {
	Index, Begin, Length uint32
}

// MarshalBinary encodes the message payload.
func (m RequestMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return b, nil
}

// UnmarshalBinary parses the message payload.
func (m *RequestMessage) UnmarshalBinary(b []byte) error {
	if err := checkLength(b, 12); err != nil {
		return err
	}
	m.Index = binary.BigEndian.Uint32(b[0:4])
	m.Begin = binary.BigEndian.Uint32(b[4:8])
	m.Length = binary.BigEndian.Uint32(b[8:12])
	return nil
}

// PieceMessage is sent when a peer wants to upload piece data.
type PieceMessage struct {
	Index, Begin uint32
	Data         []byte
}

// MarshalBinary encodes the message payload.
func (m PieceMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 8+len(m.Data))
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	copy(b[8:], m.Data)
	return b, nil
}

// UnmarshalBinary parses the message payload. Data refers to the memory of b.
func (m *PieceMessage) UnmarshalBinary(b []byte) error {
	if len(b) < 8 {
		return fmt.Errorf("%w: %d < 8", ErrInvalidPayload, len(b))
	}
	m.Index = binary.BigEndian.Uint32(b[0:4])
	m.Begin = binary.BigEndian.Uint32(b[4:8])
	m.Data = b[8:]
	return nil
}

// BitfieldMessage sent after the peer handshake to exchange piece availability information between peers.
type BitfieldMessage struct {
	Data []byte
}

// MarshalBinary encodes the message payload.
func (m BitfieldMessage) MarshalBinary() ([]byte, error) {
	return m.Data, nil
}

// UnmarshalBinary parses the message payload.
func (m *BitfieldMessage) UnmarshalBinary(b []byte) error {
	m.Data = b
	return nil
}

// PortMessage is sent to announce the UDP port number of DHT node run by the peer.
type PortMessage struct {
	Port uint16
}

// MarshalBinary encodes the message payload.
func (m PortMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, m.Port)
	return b, nil
}

// UnmarshalBinary parses the message payload.
func (m *PortMessage) UnmarshalBinary(b []byte) error {
	if err := checkLength(b, 2); err != nil {
		return err
	}
	m.Port = binary.BigEndian.Uint16(b)
	return nil
}
