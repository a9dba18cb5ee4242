package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name   string
	Hash   [4]byte
	Data   []byte
	Count  int
	Hidden string `structs:"-"`
}

func TestMarshalCompactPretty(t *testing.T) {
	SetColor(false)
	defer SetColor(true)
	b, err := MarshalCompactPretty(sample{
		Name:   "foo",
		Hash:   [4]byte{0xde, 0xad, 0xbe, 0xef},
		Data:   []byte{1, 2},
		Count:  3,
		Hidden: "secret",
	})
	require.NoError(t, err)
	expected := "Count: 3\n" +
		"Data: \"0102\"\n" +
		"Hash: \"deadbeef\"\n" +
		"Name: \"foo\"\n"
	assert.Equal(t, expected, string(b))
}
