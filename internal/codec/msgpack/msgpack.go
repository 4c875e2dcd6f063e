// Package msgpack implements the MessagePack source/sink codec (spec.md
// §4.2) on vmihailenco/msgpack/v5. No example repo in the retrieval pack
// exercises this library directly (several carry it only as an indirect
// go.mod dependency), so this codec is grounded on the structure of its
// sibling cbor codec in this module: decode into interface{}, bridge
// through rqvalue.FromGo/ToGo, same lexicographic-key-order caveat as
// CBOR (MessagePack's Go decode-to-interface{} path loses source map
// order the same way).
package msgpack

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	rcodec "github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

func init() { rcodec.Register(format{}) }

type format struct{}

func (format) Name() string { return "msgpack" }

func (format) NewDecoder(r io.Reader, _ rcodec.Options) (rcodec.Decoder, error) {
	return &decoder{dec: msgpack.NewDecoder(r)}, nil
}

func (format) NewEncoder(w io.Writer, _ rcodec.Options) (rcodec.Encoder, error) {
	return &encoder{w: w}, nil
}

type decoder struct {
	dec *msgpack.Decoder
}

func (d *decoder) Next() (rqvalue.Value, error) {
	var raw any
	if err := d.dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return rqvalue.Value{}, io.EOF
		}
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("msgpack").WithCause(err)
	}
	return rqvalue.FromGo(raw), nil
}

type encoder struct {
	w io.Writer
}

func (e *encoder) Encode(v rqvalue.Value) error {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(rqvalue.ToGo(v)); err != nil {
		return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("msgpack").WithCause(err)
	}
	if _, err := e.w.Write(buf.Bytes()); err != nil {
		return rqerr.New(rqerr.IO, "%v", err).WithFormat("msgpack").WithCause(err)
	}
	return nil
}

func (e *encoder) Close() error { return nil }
