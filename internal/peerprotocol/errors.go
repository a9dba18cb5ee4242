package peerprotocol

import "errors"

// Errors that desynchronize the stream. The connection must be closed after receiving one of them.
var (
	// ErrFrameTooLarge is returned when a peer declares a frame longer than the maximum allowed.
	ErrFrameTooLarge = errors.New("frame length exceeds maximum payload size")
	// ErrUnknownMessageID is returned when the tag byte of a frame is not a known message type.
	ErrUnknownMessageID = errors.New("unknown message id")
)

// ErrPayloadTooLarge is returned when encoding a message whose payload cannot be represented on the wire.
var ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

// ErrInvalidPayload is returned by typed payload parsers when the payload length does not match the message type.
var ErrInvalidPayload = errors.New("invalid payload length")

// Errors of the extension protocol. They are scoped to a single extension message;
// the framing state of the connection is not affected.
var (
	ErrEmptyExtensionMessage = errors.New("empty extension message")
	ErrInvalidControlRecord  = errors.New("invalid metadata control record")
	ErrMetadataSize          = errors.New("metadata total size out of range")
	ErrInvalidMetadata       = errors.New("invalid metadata")
)

// IsFatal returns true if err means the byte stream can no longer be framed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrUnknownMessageID)
}
