package yaml

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

func decodeAll(t *testing.T, src string) []rqvalue.Value {
	t.Helper()
	f, ok := codec.Lookup("yaml")
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

func TestDecodePreservesKeyOrder(t *testing.T) {
	vs := decodeAll(t, "z: 1\na: 2\nm: 3\n")
	require.Len(t, vs, 1)
	pairs, ok := vs[0].AsMap()
	require.True(t, ok)
	require.Len(t, pairs, 3)
	assert.Equal(t, "z", mustString(pairs[0].Key))
	assert.Equal(t, "a", mustString(pairs[1].Key))
	assert.Equal(t, "m", mustString(pairs[2].Key))
}

func TestDecodeScalarKinds(t *testing.T) {
	vs := decodeAll(t, "- 1\n- 3.5\n- true\n- hello\n- null\n")
	require.Len(t, vs, 1)
	arr, ok := vs[0].AsArray()
	require.True(t, ok)
	assert.Equal(t, rqvalue.KI64, arr[0].Kind())
	assert.Equal(t, rqvalue.KF64, arr[1].Kind())
	assert.Equal(t, rqvalue.KBool, arr[2].Kind())
	assert.Equal(t, rqvalue.KString, arr[3].Kind())
	assert.Equal(t, rqvalue.KUnit, arr[4].Kind())
}

func TestDecodeMultiDocumentStream(t *testing.T) {
	vs := decodeAll(t, "a: 1\n---\nb: 2\n")
	require.Len(t, vs, 2)
}

func TestEncodeRoundTrip(t *testing.T) {
	f, ok := codec.Lookup("yaml")
	require.True(t, ok)
	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, nil)
	require.NoError(t, err)

	rec := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("z"), Value: rqvalue.I64(1)},
		{Key: rqvalue.String("a"), Value: rqvalue.Bytes([]byte("hi"))},
	})
	require.NoError(t, enc.Encode(rec))
	require.NoError(t, enc.Close())

	vs := decodeAll(t, buf.String())
	require.Len(t, vs, 1)
	pairs, _ := vs[0].AsMap()
	require.Len(t, pairs, 2)
	assert.Equal(t, "z", mustString(pairs[0].Key))
	b, ok := pairs[1].Value.AsBytes()
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), b)
}
