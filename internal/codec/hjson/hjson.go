// Package hjson implements the HJSON source codec (spec.md §4.2) on
// hjson/hjson-go/v4. HJSON is parse-only per the codec catalog ("Parse
// only; writes standard JSON"): decode reads HJSON's permissive,
// comment-and-trailing-comma-tolerant JSON superset, but the sink side
// always emits plain JSON rather than re-serializing to HJSON syntax, so
// the encoder is a direct stdlib encoding/json.Marshal over
// rqvalue.ToGo — justified specifically because the spec requires literal
// JSON bytes out, a job no HJSON-producing library is positioned for.
// hjson-go's generic decode path returns map[string]interface{} for
// objects the same way encoding/json's naive Decode does, so source key
// order is not recoverable; FromGo's lexicographic fallback applies here
// the same way it does for cbor/msgpack/toml.
package hjson

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/hjson/hjson-go/v4"

	rcodec "github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

func init() { rcodec.Register(format{}) }

type format struct{}

func (format) Name() string { return "hjson" }

func (format) NewDecoder(r io.Reader, _ rcodec.Options) (rcodec.Decoder, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, rqerr.New(rqerr.IO, "%v", err).WithFormat("hjson").WithCause(err)
	}
	return &decoder{data: data}, nil
}

func (format) NewEncoder(w io.Writer, _ rcodec.Options) (rcodec.Encoder, error) {
	return &encoder{w: w}, nil
}

// decoder yields the whole input as a single record, then io.EOF. HJSON
// documents, like YAML/TOML, are whole-document; there is no
// "---"-style or whitespace-concatenation framing defined for them.
type decoder struct {
	data []byte
	done bool
}

func (d *decoder) Next() (rqvalue.Value, error) {
	if d.done {
		return rqvalue.Value{}, io.EOF
	}
	d.done = true
	if len(bytes.TrimSpace(d.data)) == 0 {
		return rqvalue.Value{}, io.EOF
	}
	var raw any
	if err := hjson.Unmarshal(d.data, &raw); err != nil {
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("hjson").WithCause(err)
	}
	return rqvalue.FromGo(raw), nil
}

type encoder struct {
	w io.Writer
}

func (e *encoder) Encode(v rqvalue.Value) error {
	data, err := json.Marshal(rqvalue.ToGo(v))
	if err != nil {
		return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("hjson").WithCause(err)
	}
	if _, err := e.w.Write(data); err != nil {
		return rqerr.New(rqerr.IO, "%v", err).WithFormat("hjson").WithCause(err)
	}
	_, err = e.w.Write([]byte{'\n'})
	return err
}

func (e *encoder) Close() error { return nil }
