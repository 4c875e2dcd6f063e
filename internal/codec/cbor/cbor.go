// Package cbor implements the CBOR source/sink codec (spec.md §4.2) on
// fxamacker/cbor/v2, grounded on the same library's use in
// other_examples/fa0e8a2d_subculture-collective-subcults__internal-indexer-cbor.go.go
// (an AT Protocol Jetstream commit decoder). That reference decodes into
// Go structs/interface{} and explicitly converts
// map[interface{}]interface{} to map[string]interface{} for JSON
// compatibility; this codec follows the same interface{}-decode path but
// forces string-keyed maps directly via DecOptions.DefaultMapType, then
// hands the result to rqvalue.FromGo. CBOR's wire format, unlike JSON's
// token stream, gives no portable way to recover a map's original key
// order once decoded into Go's unordered map type, so key order here is
// lexicographic (FromGo's documented fallback), not source order.
package cbor

import (
	"bytes"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	rcodec "github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

func init() { rcodec.Register(format{}) }

type format struct{}

func (format) Name() string { return "cbor" }

var decMode = func() cbor.DecMode {
	m, err := cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any{}),
		MapKeyByteString: cbor.MapKeyByteStringAllowed,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

var encMode = func() cbor.EncMode {
	m, err := cbor.EncOptions{
		Sort: cbor.SortCanonical,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

func (format) NewDecoder(r io.Reader, _ rcodec.Options) (rcodec.Decoder, error) {
	return &decoder{dec: decMode.NewDecoder(r)}, nil
}

func (format) NewEncoder(w io.Writer, _ rcodec.Options) (rcodec.Encoder, error) {
	return &encoder{w: w}, nil
}

// decoder reads a stream of concatenated top-level CBOR data items, which
// is how CBOR itself is normally framed on a byte stream (no wrapping
// array is needed: each item's own length is self-describing).
type decoder struct {
	dec *cbor.Decoder
}

func (d *decoder) Next() (rqvalue.Value, error) {
	var raw any
	if err := d.dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return rqvalue.Value{}, io.EOF
		}
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("cbor").WithCause(err)
	}
	return rqvalue.FromGo(untag(raw)), nil
}

// untag rewrites any cbor.Tag nodes (tag numbers this decoder has no
// registered Go type for, e.g. tags 0/1 for date/time) into a two-field
// Map{"tag": number, "value": content} before handing the tree to
// rqvalue.FromGo, matching spec.md §4.2's "Tags 0/1 pass through as
// tagged Map" rule generalized to any unrecognized tag number.
func untag(v any) any {
	switch x := v.(type) {
	case cbor.Tag:
		return map[string]any{"tag": x.Number, "value": untag(x.Content)}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = untag(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = untag(e)
		}
		return out
	default:
		return v
	}
}

type encoder struct {
	w io.Writer
}

func (e *encoder) Encode(v rqvalue.Value) error {
	var buf bytes.Buffer
	if err := encMode.NewEncoder(&buf).Encode(rqvalue.ToGo(v)); err != nil {
		return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("cbor").WithCause(err)
	}
	if _, err := e.w.Write(buf.Bytes()); err != nil {
		return rqerr.New(rqerr.IO, "%v", err).WithFormat("cbor").WithCause(err)
	}
	return nil
}

func (e *encoder) Close() error { return nil }
