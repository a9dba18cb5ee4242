// Package metainfo support for reading the info dictionary of torrents.
package metainfo

import (
	"errors"
	"io"

	"github.com/zeebo/bencode"
)

// MetaInfo file dictionary
type MetaInfo struct {
	Info     Info
	Announce string
}

// New returns a torrent from bencoded stream.
// Only the fields needed for exchanging the info dictionary are read.
func New(r io.Reader) (*MetaInfo, error) {
	var t struct {
		Info     bencode.RawMessage `bencode:"info"`
		Announce string             `bencode:"announce"`
	}
	err := bencode.NewDecoder(r).Decode(&t)
	if err != nil {
		return nil, err
	}
	if len(t.Info) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	info, err := NewInfo(t.Info)
	if err != nil {
		return nil, err
	}
	return &MetaInfo{Info: *info, Announce: t.Announce}, nil
}
