package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var errInvalidPieceData = errors.New("invalid piece data")

// Info contains information about torrent.
// This is the dictionary exchanged between peers with the metadata extension.
type Info struct {
	PieceLength uint32     `json:"piece_length"`
	Pieces      []byte     `json:"-" structs:"-"`
	Private     bool       `json:"private"`
	Name        string     `json:"name"`
	Length      int64      `json:"length"` // Single File Mode
	Files       []FileDict `json:"files"`  // Multiple File mode

	// Calculated fields
	Hash        [20]byte `json:"-"`
	TotalLength int64    `json:"total_length"`
	NumPieces   uint32   `json:"num_pieces"`
	Bytes       []byte   `json:"-" structs:"-"`
}

// FileDict is a file entry in a multi-file torrent.
type FileDict struct {
	Length int64    `bencode:"length" json:"length"`
	Path   []string `bencode:"path" json:"path"`
}

// rawInfo is the decoding side of the info dictionary.
// "private" is parsed separately because some clients write it as a string.
type rawInfo struct {
	PieceLength uint32             `bencode:"piece length"`
	Pieces      []byte             `bencode:"pieces"`
	Private     bencode.RawMessage `bencode:"private"`
	Name        string             `bencode:"name"`
	Length      int64              `bencode:"length"`
	Files       []FileDict         `bencode:"files"`
}

// infoDict is the canonical encoding of Info.
type infoDict struct {
	Files       []FileDict `bencode:"files,omitempty"`
	Length      int64      `bencode:"length,omitempty"`
	Name        string     `bencode:"name"`
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Private     int64      `bencode:"private,omitempty"`
}

// NewInfo returns info from bencoded bytes in b.
func NewInfo(b []byte) (*Info, error) {
	var ri rawInfo
	if err := bencode.DecodeBytes(b, &ri); err != nil {
		return nil, err
	}
	i := Info{
		PieceLength: ri.PieceLength,
		Pieces:      ri.Pieces,
		Name:        ri.Name,
		Length:      ri.Length,
		Files:       ri.Files,
	}
	if uint32(len(i.Pieces))%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	if len(ri.Private) > 0 {
		var intVal int64
		var stringVal string
		err := bencode.DecodeBytes(ri.Private, &intVal)
		if err != nil {
			err = bencode.DecodeBytes(ri.Private, &stringVal)
			if err == nil {
				i.Private = stringVal == "1"
			}
		} else {
			i.Private = intVal == 1
		}
	}
	// ".." is not allowed in file names
	for _, file := range i.Files {
		for _, path := range file.Path {
			if strings.TrimSpace(path) == ".." {
				return nil, fmt.Errorf("invalid file name: %q", filepath.Join(file.Path...))
			}
		}
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if !i.MultiFile() {
		i.TotalLength = i.Length
	} else {
		for _, f := range i.Files {
			if f.Length < 0 {
				return nil, fmt.Errorf("invalid file length: %d", f.Length)
			}
			i.TotalLength += f.Length
		}
	}
	totalPieceDataLength := int64(i.PieceLength) * int64(i.NumPieces)
	delta := totalPieceDataLength - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	i.Hash = sha1.Sum(b) // nolint: gosec
	return &i, nil
}

// Encode returns the bencoded info dictionary.
// Bytes received from a peer are returned as is, so the hash does not change.
func (i *Info) Encode() ([]byte, error) {
	if len(i.Bytes) > 0 {
		return i.Bytes, nil
	}
	d := infoDict{
		Files:       i.Files,
		Length:      i.Length,
		Name:        i.Name,
		PieceLength: i.PieceLength,
		Pieces:      i.Pieces,
	}
	if i.Private {
		d.Private = 1
	}
	if d.Pieces == nil {
		d.Pieces = []byte{}
	}
	return bencode.EncodeBytes(d)
}

// MultiFile returns true if the torrent contains a "files" list.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// HashOf returns the SHA-1 hash of the piece at index.
func (i *Info) HashOf(index uint32) []byte {
	begin := index * sha1.Size
	end := begin + sha1.Size
	return i.Pieces[begin:end]
}

// GetFiles returns the files in torrent as a slice, even if there is a single file.
func (i *Info) GetFiles() []FileDict {
	if i.MultiFile() {
		return i.Files
	}
	return []FileDict{{i.Length, []string{i.Name}}}
}
