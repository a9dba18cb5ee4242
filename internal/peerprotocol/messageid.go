package peerprotocol

import (
	"fmt"
	"strconv"
)

// MessageID is identifier for messages sent between peers.
// It is the single tag byte that follows the length prefix of a frame.
type MessageID uint8

// Peer message types
const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Port          MessageID = 9
	Suggest       MessageID = 13
	HaveAll       MessageID = 14
	HaveNone      MessageID = 15
	Reject        MessageID = 16
	AllowedFast   MessageID = 17
	Extension     MessageID = 20
)

var messageIDStrings = map[MessageID]string{
	Choke:         "choke",
	Unchoke:       "unchoke",
	Interested:    "interested",
	NotInterested: "not interested",
	Have:          "have",
	Bitfield:      "bitfield",
	Request:       "request",
	Piece:         "piece",
	Cancel:        "cancel",
	Port:          "port",
	Suggest:       "suggest",
	HaveAll:       "have all",
	HaveNone:      "have none",
	Reject:        "reject",
	AllowedFast:   "allowed fast",
	Extension:     "extension",
}

// ParseMessageID converts a tag byte read from the wire into a MessageID.
// Bytes that do not correspond to a known message type are rejected with ErrUnknownMessageID.
func ParseMessageID(b byte) (MessageID, error) {
	id := MessageID(b)
	if !id.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMessageID, b)
	}
	return id, nil
}

// Valid returns true if m is one of the known message types.
func (m MessageID) Valid() bool {
	_, ok := messageIDStrings[m]
	return ok
}

func (m MessageID) String() string {
	s, ok := messageIDStrings[m]
	if !ok {
		return strconv.FormatInt(int64(m), 10)
	}
	return s
}
