package protobuf

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/internal/registry"
	"github.com/recordquery/rq/rqvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personProto = `syntax = "proto3";
package sample;

message Person {
  string name = 1;
  int32 age = 2;
  repeated string tags = 3;
  map<string, int32> scores = 4;

  Address address = 5;

  message Address {
    string city = 1;
  }
}
`

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	srcDir := t.TempDir()
	protoPath := filepath.Join(srcDir, "person.proto")
	require.NoError(t, os.WriteFile(protoPath, []byte(personProto), 0o640))

	reg, err := registry.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, reg.AddProto(context.Background(), protoPath))
	return reg
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	SetRegistry(newTestRegistry(t))

	f, ok := codec.Lookup("protobuf")
	require.True(t, ok)

	rec := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("name"), Value: rqvalue.String("alice")},
		{Key: rqvalue.String("age"), Value: rqvalue.I64(30)},
		{Key: rqvalue.String("tags"), Value: rqvalue.Array([]rqvalue.Value{
			rqvalue.String("eng"), rqvalue.String("oncall"),
		})},
		{Key: rqvalue.String("scores"), Value: rqvalue.Map([]rqvalue.Pair{
			{Key: rqvalue.String("q1"), Value: rqvalue.I64(7)},
		})},
		{Key: rqvalue.String("address"), Value: rqvalue.Map([]rqvalue.Pair{
			{Key: rqvalue.String("city"), Value: rqvalue.String("boston")},
		})},
	})

	var buf bytes.Buffer
	opts := codec.Options{"message": "sample.Person"}
	enc, err := f.NewEncoder(&buf, opts)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(rec))
	require.NoError(t, enc.Close())

	dec, err := f.NewDecoder(bytes.NewReader(buf.Bytes()), opts)
	require.NoError(t, err)

	got, err := dec.Next()
	require.NoError(t, err)

	pairs, ok := got.AsMap()
	require.True(t, ok)

	m := rqvalue.Map(pairs)
	name, _ := m.GetField("name").AsString()
	assert.Equal(t, "alice", name)
	age, _ := m.GetField("age").AsI64()
	assert.Equal(t, int64(30), age)

	tags, _ := m.GetField("tags").AsArray()
	require.Len(t, tags, 2)
	t0, _ := tags[0].AsString()
	assert.Equal(t, "eng", t0)

	scorePairs, _ := m.GetField("scores").AsMap()
	require.Len(t, scorePairs, 1)
	q1key, _ := scorePairs[0].Key.AsString()
	assert.Equal(t, "q1", q1key)
	q1val, _ := scorePairs[0].Value.AsI64()
	assert.Equal(t, int64(7), q1val)

	city, _ := m.GetField("address").GetField("city").AsString()
	assert.Equal(t, "boston", city)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestEncodeMultipleRecordsFraming(t *testing.T) {
	SetRegistry(newTestRegistry(t))

	f, ok := codec.Lookup("protobuf")
	require.True(t, ok)

	opts := codec.Options{"message": "sample.Person"}
	var buf bytes.Buffer
	enc, err := f.NewEncoder(&buf, opts)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("name"), Value: rqvalue.String("a")},
	})))
	require.NoError(t, enc.Encode(rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("name"), Value: rqvalue.String("b")},
	})))
	require.NoError(t, enc.Close())

	dec, err := f.NewDecoder(bytes.NewReader(buf.Bytes()), opts)
	require.NoError(t, err)

	v1, err := dec.Next()
	require.NoError(t, err)
	n1, _ := v1.GetField("name").AsString()
	assert.Equal(t, "a", n1)

	v2, err := dec.Next()
	require.NoError(t, err)
	n2, _ := v2.GetField("name").AsString()
	assert.Equal(t, "b", n2)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestNewDecoderMissingMessageOptionFails(t *testing.T) {
	SetRegistry(newTestRegistry(t))

	f, ok := codec.Lookup("protobuf")
	require.True(t, ok)

	_, err := f.NewDecoder(bytes.NewReader(nil), nil)
	require.Error(t, err)
}
