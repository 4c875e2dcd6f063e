// Package json implements the JSON source/sink codec (spec.md §4.2). JSON
// is record-query's reference format: every other codec is judged against
// how faithfully it round-trips through JSON. Numbers are decoded to the
// narrowest Value kind that preserves their exact text (I64 for an
// integral literal that fits signed 64 bits, U64 for one that only fits
// unsigned, F64 otherwise), and object key order is preserved exactly as
// written by decoding through json.Decoder's token stream rather than into
// map[string]any, since Go map iteration would otherwise discard it and
// Value's Map is order-sensitive (spec.md §3.1).
package json

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

func init() { codec.Register(format{}) }

type format struct{}

func (format) Name() string { return "json" }

func (format) NewDecoder(r io.Reader, _ codec.Options) (codec.Decoder, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &decoder{dec: dec}, nil
}

func (format) NewEncoder(w io.Writer, _ codec.Options) (codec.Encoder, error) {
	return &encoder{w: bufio.NewWriter(w)}, nil
}

// decoder reads whitespace-or-newline-separated JSON values from the
// stream (a superset of both JSON Lines and a single top-level document),
// matching how jq itself accepts concatenated top-level values.
type decoder struct {
	dec *json.Decoder
}

func (d *decoder) Next() (rqvalue.Value, error) {
	if !d.dec.More() {
		return rqvalue.Value{}, io.EOF
	}
	v, err := readValue(d.dec)
	if err != nil {
		if err == io.EOF {
			return rqvalue.Value{}, io.EOF
		}
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("json").WithCause(err)
	}
	return v, nil
}

// readValue consumes exactly one JSON value's tokens from dec, preserving
// object key order (json.Decoder.Token yields object keys and values in
// document order; it is only decoding into a Go map that loses it).
func readValue(dec *json.Decoder) (rqvalue.Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return rqvalue.Value{}, err
	}
	return tokenToValue(dec, tok)
}

func tokenToValue(dec *json.Decoder, tok json.Token) (rqvalue.Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			var arr []rqvalue.Value
			for dec.More() {
				e, err := readValue(dec)
				if err != nil {
					return rqvalue.Value{}, err
				}
				arr = append(arr, e)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return rqvalue.Value{}, err
			}
			return rqvalue.Array(arr), nil
		case '{':
			var pairs []rqvalue.Pair
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return rqvalue.Value{}, err
				}
				key, _ := keyTok.(string)
				val, err := readValue(dec)
				if err != nil {
					return rqvalue.Value{}, err
				}
				pairs = append(pairs, rqvalue.Pair{Key: rqvalue.String(key), Value: val})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return rqvalue.Value{}, err
			}
			return rqvalue.Map(pairs), nil
		}
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "unexpected delimiter %v", t).WithFormat("json")
	case nil:
		return rqvalue.Unit(), nil
	case bool:
		return rqvalue.Bool(t), nil
	case json.Number:
		return numberValue(t), nil
	case string:
		return rqvalue.String(t), nil
	default:
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "unexpected token %v", tok).WithFormat("json")
	}
}

func numberValue(n json.Number) rqvalue.Value {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return rqvalue.I64(i)
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return rqvalue.U64(u)
		}
	}
	f, _ := strconv.ParseFloat(s, 64)
	return rqvalue.F64(f)
}

type encoder struct {
	w *bufio.Writer
}

func (e *encoder) Encode(v rqvalue.Value) error {
	if err := writeValue(e.w, v); err != nil {
		return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("json").WithCause(err)
	}
	e.w.WriteByte('\n')
	return nil
}

func (e *encoder) Close() error { return e.w.Flush() }

func writeValue(w *bufio.Writer, v rqvalue.Value) error {
	switch v.Kind() {
	case rqvalue.KUnit:
		_, err := w.WriteString("null")
		return err
	case rqvalue.KBool:
		b, _ := v.AsBool()
		if b {
			_, err := w.WriteString("true")
			return err
		}
		_, err := w.WriteString("false")
		return err
	case rqvalue.KI64:
		i, _ := v.AsI64()
		_, err := w.WriteString(strconv.FormatInt(i, 10))
		return err
	case rqvalue.KU64:
		u, _ := v.AsU64()
		_, err := w.WriteString(strconv.FormatUint(u, 10))
		return err
	case rqvalue.KF64:
		f, _ := v.AsF64()
		_, err := w.WriteString(formatFloat(f))
		return err
	case rqvalue.KChar:
		r, _ := v.AsChar()
		return writeJSONString(w, string(r))
	case rqvalue.KString:
		s, _ := v.AsString()
		return writeJSONString(w, s)
	case rqvalue.KBytes:
		b, _ := v.AsBytes()
		return writeJSONString(w, base64.StdEncoding.EncodeToString(b))
	case rqvalue.KArray:
		arr, _ := v.AsArray()
		if err := w.WriteByte('['); err != nil {
			return err
		}
		for i, e := range arr {
			if i > 0 {
				if err := w.WriteByte(','); err != nil {
					return err
				}
			}
			if err := writeValue(w, e); err != nil {
				return err
			}
		}
		return w.WriteByte(']')
	case rqvalue.KMap:
		pairs, _ := v.AsMap()
		if err := w.WriteByte('{'); err != nil {
			return err
		}
		for i, p := range pairs {
			if i > 0 {
				if err := w.WriteByte(','); err != nil {
					return err
				}
			}
			if err := writeJSONString(w, mapKeyString(p.Key)); err != nil {
				return err
			}
			if err := w.WriteByte(':'); err != nil {
				return err
			}
			if err := writeValue(w, p.Value); err != nil {
				return err
			}
		}
		return w.WriteByte('}')
	default:
		_, err := w.WriteString("null")
		return err
	}
}

// mapKeyString stringifies a non-String Map key, documenting the lossy
// cross-format conversion spec.md §6.2 requires: JSON object keys must be
// strings, so a Bool/number/etc. key is rendered in its JSON literal form.
func mapKeyString(k rqvalue.Value) string {
	if s, ok := k.AsString(); ok {
		return s
	}
	var sb strings.Builder
	bw := bufio.NewWriter(&sb)
	_ = writeValue(bw, k)
	bw.Flush()
	return sb.String()
}

func writeJSONString(w *bufio.Writer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
