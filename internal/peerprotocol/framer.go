package peerprotocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size of the length prefix of every frame.
	HeaderSize = 4
	// MaxPayloadSize is the largest payload a single frame may carry, not counting the tag byte.
	MaxPayloadSize = 1<<16 - 1
)

// DecodeMessage reads the next message from the front of buf.
//
// If buf does not hold a complete frame yet, ok is false and nothing is consumed.
// The caller should append more bytes read from the connection and call again.
// Keep-alive frames at the front of buf are consumed silently.
// On success the bytes of the frame are removed from buf.
//
// A non-nil error means the stream is desynchronized; see IsFatal.
func DecodeMessage(buf *bytes.Buffer) (msg Message, ok bool, err error) {
	for {
		b := buf.Bytes()
		if len(b) < HeaderSize {
			return
		}
		length := binary.BigEndian.Uint32(b[:HeaderSize])
		if length == 0 { // keep-alive message
			buf.Next(HeaderSize)
			continue
		}
		// Checked before waiting for the rest of the frame,
		// otherwise a peer could make us buffer up to 4 GiB.
		if length-1 > MaxPayloadSize {
			err = fmt.Errorf("%w: %d", ErrFrameTooLarge, length-1)
			return
		}
		frameLength := HeaderSize + int(length)
		if len(b) < frameLength {
			buf.Grow(frameLength - len(b))
			return
		}
		var id MessageID
		id, err = ParseMessageID(b[HeaderSize])
		if err != nil {
			return
		}
		payload := make([]byte, length-1)
		copy(payload, b[HeaderSize+1:frameLength])
		buf.Next(frameLength)
		return Message{ID: id, Payload: payload}, true, nil
	}
}

// EncodeMessage appends the wire representation of msg to buf.
// Nothing is written if the payload is too large to fit in a frame.
func EncodeMessage(buf *bytes.Buffer, msg Message) error {
	if len(msg.Payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(msg.Payload))
	}
	buf.Grow(HeaderSize + 1 + len(msg.Payload))
	var header [HeaderSize + 1]byte
	binary.BigEndian.PutUint32(header[:HeaderSize], uint32(1+len(msg.Payload)))
	header[HeaderSize] = byte(msg.ID)
	buf.Write(header[:])
	buf.Write(msg.Payload)
	return nil
}

// EncodeKeepAlive appends a keep-alive frame to buf.
func EncodeKeepAlive(buf *bytes.Buffer) {
	buf.Write([]byte{0, 0, 0, 0})
}
