package json

import (
	"bytes"
	"io"
	"testing"

	"github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/rqvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAll(t *testing.T, src string) []rqvalue.Value {
	t.Helper()
	f, ok := codec.Lookup("json")
	require.True(t, ok)
	dec, err := f.NewDecoder(bytes.NewReader([]byte(src)), nil)
	require.NoError(t, err)
	var out []rqvalue.Value
	for {
		v, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestDecodePreservesObjectKeyOrder(t *testing.T) {
	vs := decodeAll(t, `{"z": 1, "a": 2, "m": 3}`)
	require.Len(t, vs, 1)
	pairs, ok := vs[0].AsMap()
	require.True(t, ok)
	require.Len(t, pairs, 3)
	assert.Equal(t, "z", mustString(pairs[0].Key))
	assert.Equal(t, "a", mustString(pairs[1].Key))
	assert.Equal(t, "m", mustString(pairs[2].Key))
}

func mustString(v rqvalue.Value) string {
	s, _ := v.AsString()
	return s
}

func TestDecodeNumberKinds(t *testing.T) {
	vs := decodeAll(t, `[1, 3.5, 18446744073709551615, -4]`)
	require.Len(t, vs, 1)
	arr, ok := vs[0].AsArray()
	require.True(t, ok)
	assert.Equal(t, rqvalue.KI64, arr[0].Kind())
	assert.Equal(t, rqvalue.KF64, arr[1].Kind())
	assert.Equal(t, rqvalue.KU64, arr[2].Kind())
	assert.Equal(t, rqvalue.KI64, arr[3].Kind())
}

func TestDecodeConcatenatedTopLevelValues(t *testing.T) {
	vs := decodeAll(t, "1\n2\n3\n")
	require.Len(t, vs, 3)
}

func TestEncodeRoundTrip(t *testing.T) {
	f, ok := codec.Lookup("json")
	require.True(t, ok)
	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, nil)
	require.NoError(t, err)

	rec := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("b"), Value: rqvalue.Bytes([]byte("hi"))},
		{Key: rqvalue.String("n"), Value: rqvalue.F64(1.5)},
	})
	require.NoError(t, enc.Encode(rec))
	require.NoError(t, enc.Close())

	vs := decodeAll(t, buf.String())
	require.Len(t, vs, 1)
	pairs, _ := vs[0].AsMap()
	require.Len(t, pairs, 2)
	assert.Equal(t, "b", mustString(pairs[0].Key))
	// Bytes has no native JSON representation (spec.md §6.2): it round-trips
	// as a base64 String, not back to Bytes.
	s, ok := pairs[0].Value.AsString()
	require.True(t, ok)
	assert.Equal(t, "aGk=", s)
}
