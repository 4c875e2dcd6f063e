package smile

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
	f, ok := codec.Lookup("smile")
	require.True(t, ok)

	rec := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("name"), Value: rqvalue.String("alice")},
		{Key: rqvalue.String("age"), Value: rqvalue.I64(-3)},
		{Key: rqvalue.String("score"), Value: rqvalue.F64(2.5)},
		{Key: rqvalue.String("tags"), Value: rqvalue.Array([]rqvalue.Value{
			rqvalue.String("a"), rqvalue.Bool(true), rqvalue.Unit(),
		})},
	})

	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, nil)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(rec))
	require.NoError(t, enc.Close())

	dec, err := f.NewDecoder(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)

	got, err := dec.Next()
	require.NoError(t, err)

	pairs, ok := got.AsMap()
	require.True(t, ok)
	require.Len(t, pairs, 4)

	name, _ := pairs[0].Value.AsString()
	assert.Equal(t, "alice", name)
	age, _ := pairs[1].Value.AsI64()
	assert.Equal(t, int64(-3), age)
	score, _ := pairs[2].Value.AsF64()
	assert.Equal(t, 2.5, score)

	tags, _ := pairs[3].Value.AsArray()
	require.Len(t, tags, 3)
	assert.True(t, tags[2].IsUnit())

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecodeConcatenatedItems(t *testing.T) {
	f, ok := codec.Lookup("smile")
	require.True(t, ok)

	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, nil)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(rqvalue.I64(1)))
	require.NoError(t, enc.Encode(rqvalue.I64(2)))
	require.NoError(t, enc.Close())

	dec, err := f.NewDecoder(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)

	v1, err := dec.Next()
	require.NoError(t, err)
	i1, _ := v1.AsI64()
	assert.Equal(t, int64(1), i1)

	v2, err := dec.Next()
	require.NoError(t, err)
	i2, _ := v2.AsI64()
	assert.Equal(t, int64(2), i2)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecodeWithoutHeaderStillWorks(t *testing.T) {
	f, ok := codec.Lookup("smile")
	require.True(t, ok)

	raw := []byte{tokVUint, 0x2A}
	dec, err := f.NewDecoder(bytes.NewReader(raw), nil)
	require.NoError(t, err)

	v, err := dec.Next()
	require.NoError(t, err)
	u, _ := v.AsU64()
	assert.Equal(t, uint64(0x2A), u)
}
