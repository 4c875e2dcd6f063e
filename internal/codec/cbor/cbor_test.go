package cbor

import (
	"bytes"
	"io"
	"testing"

	"github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/rqvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f, ok := codec.Lookup("cbor")
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
	// FromGo sorts string-keyed map keys lexicographically; "age" < "name".
	assert.Equal(t, "age", mustString(pairs[0].Key))
	assert.Equal(t, "name", mustString(pairs[1].Key))

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func mustString(v rqvalue.Value) string {
	s, _ := v.AsString()
	return s
}

func TestDecodeConcatenatedItems(t *testing.T) {
	f, ok := codec.Lookup("cbor")
	require.True(t, ok)

	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, nil)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(rqvalue.I64(1)))
	require.NoError(t, enc.Encode(rqvalue.I64(2)))
	require.NoError(t, enc.Close())

	dec, err := f.NewDecoder(&buf, nil)
	require.NoError(t, err)
	var got []rqvalue.Value
	for {
		v, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []rqvalue.Value{rqvalue.I64(1), rqvalue.I64(2)}, got)
}

func TestDecodeBytes(t *testing.T) {
	f, ok := codec.Lookup("cbor")
	require.True(t, ok)

	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, nil)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(rqvalue.Bytes([]byte("hi"))))
	require.NoError(t, enc.Close())

	dec, err := f.NewDecoder(&buf, nil)
	require.NoError(t, err)
	got, err := dec.Next()
	require.NoError(t, err)
	b, ok := got.AsBytes()
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), b)
}
