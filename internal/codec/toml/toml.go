// Package toml implements the TOML source/sink codec (spec.md §4.2).
// Unlike every other format, TOML carries no record framing at all: the
// whole input is one record (spec.md's codec catalog, "TOML: whole input
// = one record"). Decoding uses pelletier/go-toml/v2's Unmarshal; the
// library has no public ordered-map type, so the decode side (where
// spec.md's catalog note doesn't require order preservation) goes through
// map[string]any and rqvalue.FromGo's lexicographic fallback same as the
// cbor/msgpack codecs. The encode side, where the catalog note does
// require order preservation ("Preserves key order on output"), writes
// TOML by hand instead — inline tables and arrays emitted directly from
// the record's own Pair order — the same hand-rolled-encoder,
// library-for-decode-only shape the json codec uses for its own
// Map-order invariant.
package toml

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pelletier/go-toml/v2"

	rcodec "github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

func init() { rcodec.Register(format{}) }

type format struct{}

func (format) Name() string { return "toml" }

func (format) NewDecoder(r io.Reader, _ rcodec.Options) (rcodec.Decoder, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, rqerr.New(rqerr.IO, "%v", err).WithFormat("toml").WithCause(err)
	}
	return &decoder{data: data}, nil
}

func (format) NewEncoder(w io.Writer, _ rcodec.Options) (rcodec.Encoder, error) {
	return &encoder{w: w}, nil
}

// decoder yields the whole input as a single record, then io.EOF.
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
	var raw map[string]any
	if err := toml.Unmarshal(d.data, &raw); err != nil {
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("toml").WithCause(err)
	}
	return rqvalue.FromGo(raw), nil
}

// encoder accepts exactly one Encode call, matching TOML's one-record
// framing; a second call is a usage error rather than silently
// concatenating two documents into one invalid file.
type encoder struct {
	w     io.Writer
	wrote bool
}

func (e *encoder) Encode(v rqvalue.Value) error {
	if e.wrote {
		return rqerr.New(rqerr.Usage, "toml output holds at most one record per stream").WithFormat("toml")
	}
	e.wrote = true
	pairs, ok := v.AsMap()
	if !ok {
		return rqerr.New(rqerr.Serialize, "toml output requires a Map record, got %s", v.TypeName()).WithFormat("toml")
	}
	var sb strings.Builder
	for _, p := range pairs {
		key, ok := p.Key.AsString()
		if !ok {
			return rqerr.New(rqerr.Serialize, "toml keys must be strings, got %s", p.Key.TypeName()).WithFormat("toml")
		}
		sb.WriteString(quoteKeyIfNeeded(key))
		sb.WriteString(" = ")
		if err := writeInline(&sb, p.Value); err != nil {
			return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("toml").WithCause(err)
		}
		sb.WriteByte('\n')
	}
	if _, err := e.w.Write([]byte(sb.String())); err != nil {
		return rqerr.New(rqerr.IO, "%v", err).WithFormat("toml").WithCause(err)
	}
	return nil
}

func (e *encoder) Close() error { return nil }

// writeInline renders v as a TOML value expression: scalars in their
// literal form, Arrays as "[ ... ]", Maps as inline tables "{ ... }" so
// key order survives without a separate [table] header per nested Map.
func writeInline(sb *strings.Builder, v rqvalue.Value) error {
	switch v.Kind() {
	case rqvalue.KUnit:
		// TOML has no null; an absent/unit field is rendered as an empty string.
		sb.WriteString(`""`)
		return nil
	case rqvalue.KBool:
		b, _ := v.AsBool()
		sb.WriteString(strconv.FormatBool(b))
		return nil
	case rqvalue.KI64:
		i, _ := v.AsI64()
		sb.WriteString(strconv.FormatInt(i, 10))
		return nil
	case rqvalue.KU64:
		u, _ := v.AsU64()
		sb.WriteString(strconv.FormatUint(u, 10))
		return nil
	case rqvalue.KF64:
		f, _ := v.AsF64()
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		return nil
	case rqvalue.KChar:
		r, _ := v.AsChar()
		sb.WriteString(quoteString(string(r)))
		return nil
	case rqvalue.KString:
		s, _ := v.AsString()
		sb.WriteString(quoteString(s))
		return nil
	case rqvalue.KBytes:
		b, _ := v.AsBytes()
		sb.WriteString(quoteString(base64.StdEncoding.EncodeToString(b)))
		return nil
	case rqvalue.KArray:
		arr, _ := v.AsArray()
		sb.WriteByte('[')
		for i, e := range arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := writeInline(sb, e); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
		return nil
	case rqvalue.KMap:
		pairs, _ := v.AsMap()
		sb.WriteByte('{')
		for i, p := range pairs {
			if i > 0 {
				sb.WriteString(", ")
			}
			key, ok := p.Key.AsString()
			if !ok {
				return fmt.Errorf("toml keys must be strings, got %s", p.Key.TypeName())
			}
			sb.WriteString(quoteKeyIfNeeded(key))
			sb.WriteString(" = ")
			if err := writeInline(sb, p.Value); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
		return nil
	default:
		sb.WriteString(`""`)
		return nil
	}
}

// quoteKeyIfNeeded renders a TOML bare key when every rune is a letter,
// digit, underscore or dash; anything else is a quoted key.
func quoteKeyIfNeeded(key string) string {
	if key == "" {
		return quoteString(key)
	}
	for _, r := range key {
		if !(r == '_' || r == '-' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return quoteString(key)
		}
	}
	return key
}

// quoteString renders s as a TOML basic string, escaping backslash,
// quote, and control characters per the TOML spec's basic-string grammar.
func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if r < 0x20 || r == utf8.RuneError {
				fmt.Fprintf(&sb, `\u%04X`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
