package csv

import (
	"bytes"
	"io"
	"testing"

	"github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/rqvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAll(t *testing.T, src string, opts codec.Options) []rqvalue.Value {
	t.Helper()
	f, ok := codec.Lookup("csv")
	require.True(t, ok)
	dec, err := f.NewDecoder(bytes.NewReader([]byte(src)), opts)
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

func mustString(v rqvalue.Value) string {
	s, _ := v.AsString()
	return s
}

func TestDecodeWithHeaderProducesMapsInHeaderOrder(t *testing.T) {
	vs := decodeAll(t, "b,a\n1,2\n3,4\n", nil)
	require.Len(t, vs, 2)
	pairs, ok := vs[0].AsMap()
	require.True(t, ok)
	require.Len(t, pairs, 2)
	assert.Equal(t, "b", mustString(pairs[0].Key))
	assert.Equal(t, "1", mustString(pairs[0].Value))
	assert.Equal(t, "a", mustString(pairs[1].Key))
	assert.Equal(t, "2", mustString(pairs[1].Value))
}

func TestDecodeWithoutHeaderProducesArrays(t *testing.T) {
	vs := decodeAll(t, "1,2\n3,4\n", codec.Options{"header": "false"})
	require.Len(t, vs, 2)
	arr, ok := vs[0].AsArray()
	require.True(t, ok)
	require.Equal(t, []rqvalue.Value{rqvalue.String("1"), rqvalue.String("2")}, arr)
}

func TestDecodeExtraColumnGetsSyntheticName(t *testing.T) {
	vs := decodeAll(t, "a\n1,2\n", nil)
	require.Len(t, vs, 1)
	pairs, _ := vs[0].AsMap()
	require.Len(t, pairs, 2)
	assert.Equal(t, "a", mustString(pairs[0].Key))
	assert.Equal(t, "column1", mustString(pairs[1].Key))
}

func TestEncodeWritesHeaderThenRows(t *testing.T) {
	f, ok := codec.Lookup("csv")
	require.True(t, ok)
	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, nil)
	require.NoError(t, err)

	rec := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("name"), Value: rqvalue.String("alice")},
		{Key: rqvalue.String("age"), Value: rqvalue.I64(30)},
	})
	require.NoError(t, enc.Encode(rec))
	require.NoError(t, enc.Close())

	assert.Equal(t, "name,age\nalice,30\n", buf.String())
}

func TestEncodeWithoutHeaderOmitsHeaderRow(t *testing.T) {
	f, ok := codec.Lookup("csv")
	require.True(t, ok)
	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, codec.Options{"header": "false"})
	require.NoError(t, err)

	rec := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("name"), Value: rqvalue.String("alice")},
	})
	require.NoError(t, enc.Encode(rec))
	require.NoError(t, enc.Close())

	assert.Equal(t, "alice\n", buf.String())
}

func TestEncodeArrayHasNoHeader(t *testing.T) {
	f, ok := codec.Lookup("csv")
	require.True(t, ok)
	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, nil)
	require.NoError(t, err)

	require.NoError(t, enc.Encode(rqvalue.Array([]rqvalue.Value{rqvalue.I64(1), rqvalue.I64(2)})))
	require.NoError(t, enc.Close())

	assert.Equal(t, "1,2\n", buf.String())
}
