package msgpack

import (
	"bytes"
	"io"
	"testing"

	"github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/rqvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustString(v rqvalue.Value) string {
	s, _ := v.AsString()
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f, ok := codec.Lookup("msgpack")
	require.True(t, ok)

	rec := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("name"), Value: rqvalue.String("alice")},
		{Key: rqvalue.String("age"), Value: rqvalue.I64(30)},
	})

	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, nil)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(rec))
	require.NoError(t, enc.Close())

	dec, err := f.NewDecoder(&buf, nil)
	require.NoError(t, err)
	got, err := dec.Next()
	require.NoError(t, err)

	pairs, ok := got.AsMap()
	require.True(t, ok)
	require.Len(t, pairs, 2)
	assert.Equal(t, "age", mustString(pairs[0].Key))
	assert.Equal(t, "name", mustString(pairs[1].Key))

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecodeConcatenatedItems(t *testing.T) {
	f, ok := codec.Lookup("msgpack")
	require.True(t, ok)

	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, nil)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(rqvalue.I64(1)))
	require.NoError(t, enc.Encode(rqvalue.Array([]rqvalue.Value{rqvalue.I64(2), rqvalue.I64(3)})))
	require.NoError(t, enc.Close())

	dec, err := f.NewDecoder(&buf, nil)
	require.NoError(t, err)
	first, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, rqvalue.I64(1), first)

	second, err := dec.Next()
	require.NoError(t, err)
	arr, ok := second.AsArray()
	require.True(t, ok)
	assert.Equal(t, []rqvalue.Value{rqvalue.I64(2), rqvalue.I64(3)}, arr)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}
