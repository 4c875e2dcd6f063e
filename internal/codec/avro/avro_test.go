package avro

import (
	"bytes"
	"io"
	"testing"

	"github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/rqvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "type": "record",
  "name": "Sample",
  "fields": [
    {"name": "name", "type": "string"},
    {"name": "count", "type": "long"}
  ]
}`

func TestOCFEncodeDecodeRoundTrip(t *testing.T) {
	f, ok := codec.Lookup("avro")
	require.True(t, ok)

	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, codec.Options{"schema": testSchema})
	require.NoError(t, err)

	rec := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("name"), Value: rqvalue.String("alice")},
		{Key: rqvalue.String("count"), Value: rqvalue.I64(3)},
	})
	require.NoError(t, enc.Encode(rec))
	require.NoError(t, enc.Close())

	dec, err := f.NewDecoder(bytes.NewReader(buf.Bytes()), nil)
	require.NoError(t, err)

	got, err := dec.Next()
	require.NoError(t, err)
	pairs, ok := got.AsMap()
	require.True(t, ok)
	require.Len(t, pairs, 2)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecodeWithoutSchemaOptionFailsForNonContainerInput(t *testing.T) {
	f, ok := codec.Lookup("avro")
	require.True(t, ok)
	_, err := f.NewDecoder(bytes.NewReader([]byte{0x00, 0x01, 0x02}), nil)
	assert.Error(t, err)
}

func TestEncodeWithoutSchemaOptionFails(t *testing.T) {
	f, ok := codec.Lookup("avro")
	require.True(t, ok)
	var buf bytes.Buffer
	_, err := f.NewEncoder(&buf, nil)
	assert.Error(t, err)
}

func TestEncodeRejectsMalformedSchema(t *testing.T) {
	f, ok := codec.Lookup("avro")
	require.True(t, ok)

	var buf bytes.Buffer
	_, err := f.NewEncoder(&buf, codec.Options{"schema": `{"type": "record", "fields": [{"name": "x"}]}`})
	require.Error(t, err)
}

func TestSingleObjectSnappyRoundTrip(t *testing.T) {
	f, ok := codec.Lookup("avro")
	require.True(t, ok)

	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, codec.Options{
		"schema":      testSchema,
		"framing":     "single-object",
		"compression": "snappy",
	})
	require.NoError(t, err)

	rec1 := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("name"), Value: rqvalue.String("alice")},
		{Key: rqvalue.String("count"), Value: rqvalue.I64(3)},
	})
	rec2 := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("name"), Value: rqvalue.String("bob")},
		{Key: rqvalue.String("count"), Value: rqvalue.I64(7)},
	})
	require.NoError(t, enc.Encode(rec1))
	require.NoError(t, enc.Encode(rec2))
	require.NoError(t, enc.Close())

	dec, err := f.NewDecoder(bytes.NewReader(buf.Bytes()), codec.Options{
		"schema":      testSchema,
		"compression": "snappy",
	})
	require.NoError(t, err)

	got1, err := dec.Next()
	require.NoError(t, err)
	name1, _ := got1.GetField("name").AsString()
	assert.Equal(t, "alice", name1)

	got2, err := dec.Next()
	require.NoError(t, err)
	name2, _ := got2.GetField("name").AsString()
	assert.Equal(t, "bob", name2)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}
