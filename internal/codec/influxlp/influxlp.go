// Package influxlp implements a bonus InfluxDB line-protocol source/sink
// codec on influxdata/line-protocol/v2, grounded on
// pkg/metricstore/lineprotocol.go's DecodeLine (the teacher's own NATS
// metric-ingestion path, built on the same family of decoder: measurement,
// then tags via NextTag, then fields via NextField, then a timestamp with
// a precision fallback ladder). A line-protocol record has no single
// natural Value shape, so each line decodes to a Map with four fields in
// a fixed order: "measurement" (String), "tags" (Map<String,String>),
// "fields" (Map<String, Bool|I64|U64|F64|String>), "time" (I64 unix
// nanoseconds, Unit if the line carried no timestamp).
package influxlp

import (
	"bufio"
	"io"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	rcodec "github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

func timeFromUnixNano(ns int64) time.Time { return time.Unix(0, ns).UTC() }

func init() { rcodec.Register(format{}) }

type format struct{}

func (format) Name() string { return "influxlp" }

func (format) NewDecoder(r io.Reader, _ rcodec.Options) (rcodec.Decoder, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, rqerr.New(rqerr.IO, "%v", err).WithFormat("influxlp").WithCause(err)
	}
	return &decoder{dec: lineprotocol.NewDecoderWithBytes(data)}, nil
}

func (format) NewEncoder(w io.Writer, _ rcodec.Options) (rcodec.Encoder, error) {
	return &encoder{w: bufio.NewWriter(w)}, nil
}

type decoder struct {
	dec *lineprotocol.Decoder
}

// Next decodes the next line-protocol line, mirroring DecodeLine's
// measurement → tags → fields → time sequence per line.
func (d *decoder) Next() (rqvalue.Value, error) {
	if !d.dec.Next() {
		if err := d.dec.Err(); err != nil {
			return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("influxlp").WithCause(err)
		}
		return rqvalue.Value{}, io.EOF
	}

	measurement, err := d.dec.Measurement()
	if err != nil {
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("influxlp").WithCause(err)
	}
	measurementCopy := append([]byte(nil), measurement...)

	var tags []rqvalue.Pair
	for {
		key, val, err := d.dec.NextTag()
		if err != nil {
			return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("influxlp").WithCause(err)
		}
		if key == nil {
			break
		}
		tags = append(tags, rqvalue.Pair{Key: rqvalue.String(string(key)), Value: rqvalue.String(string(val))})
	}

	var fields []rqvalue.Pair
	for {
		key, val, err := d.dec.NextField()
		if err != nil {
			return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("influxlp").WithCause(err)
		}
		if key == nil {
			break
		}
		fields = append(fields, rqvalue.Pair{Key: rqvalue.String(string(key)), Value: fieldValue(val)})
	}

	var timeVal rqvalue.Value
	ts, err := d.dec.Time(lineprotocol.Nanosecond, time.Time{})
	if err != nil || ts.IsZero() {
		timeVal = rqvalue.Unit()
	} else {
		timeVal = rqvalue.I64(ts.UnixNano())
	}

	return rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("measurement"), Value: rqvalue.String(string(measurementCopy))},
		{Key: rqvalue.String("tags"), Value: rqvalue.Map(tags)},
		{Key: rqvalue.String("fields"), Value: rqvalue.Map(fields)},
		{Key: rqvalue.String("time"), Value: timeVal},
	}), nil
}

func fieldValue(val lineprotocol.Value) rqvalue.Value {
	switch val.Kind() {
	case lineprotocol.Float:
		return rqvalue.F64(val.FloatV())
	case lineprotocol.Int:
		return rqvalue.I64(val.IntV())
	case lineprotocol.Uint:
		return rqvalue.U64(val.UintV())
	case lineprotocol.Bool:
		return rqvalue.Bool(val.BoolV())
	case lineprotocol.String:
		return rqvalue.String(val.StringV())
	default:
		return rqvalue.Unit()
	}
}

type encoder struct {
	w *bufio.Writer
}

// Encode expects the same {measurement, tags, fields, time} shape Next
// produces, and is lenient about missing tags/time the way the teacher's
// ingestion path treats an absent "cluster"/"hostname" tag.
func (e *encoder) Encode(v rqvalue.Value) error {
	pairs, ok := v.AsMap()
	if !ok {
		return rqerr.New(rqerr.Serialize, "influxlp record must be a Map, got %s", v.TypeName()).WithFormat("influxlp")
	}
	rec := asFields(pairs)

	measurement, _ := rec["measurement"].AsString()

	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)
	enc.StartLine(measurement)

	if tagsVal, ok := rec["tags"]; ok {
		tagPairs, _ := tagsVal.AsMap()
		for _, p := range tagPairs {
			key, _ := p.Key.AsString()
			val, _ := p.Value.AsString()
			enc.AddTag(key, val)
		}
	}

	if fieldsVal, ok := rec["fields"]; ok {
		fieldPairs, _ := fieldsVal.AsMap()
		for _, p := range fieldPairs {
			key, _ := p.Key.AsString()
			lv, err := toLPValue(p.Value)
			if err != nil {
				return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("influxlp")
			}
			enc.AddField(key, lv)
		}
	}

	if timeVal, ok := rec["time"]; ok && !timeVal.IsUnit() {
		if ns, ok := timeVal.AsI64(); ok {
			enc.EndLine(timeFromUnixNano(ns))
		} else {
			enc.EndLine(timeFromUnixNano(0))
		}
	} else {
		enc.EndLine(timeFromUnixNano(0))
	}

	if err := enc.Err(); err != nil {
		return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("influxlp").WithCause(err)
	}
	if _, err := e.w.Write(enc.Bytes()); err != nil {
		return rqerr.New(rqerr.IO, "%v", err).WithFormat("influxlp").WithCause(err)
	}
	return e.w.WriteByte('\n')
}

func (e *encoder) Close() error { return e.w.Flush() }

func asFields(pairs []rqvalue.Pair) map[string]rqvalue.Value {
	out := make(map[string]rqvalue.Value, len(pairs))
	for _, p := range pairs {
		if k, ok := p.Key.AsString(); ok {
			out[k] = p.Value
		}
	}
	return out
}

func toLPValue(v rqvalue.Value) (lineprotocol.Value, error) {
	switch v.Kind() {
	case rqvalue.KBool:
		b, _ := v.AsBool()
		return lineprotocol.BoolValue(b), nil
	case rqvalue.KI64:
		i, _ := v.AsI64()
		return lineprotocol.IntValue(i), nil
	case rqvalue.KU64:
		u, _ := v.AsU64()
		return lineprotocol.UintValue(u), nil
	case rqvalue.KF64:
		f, _ := v.AsF64()
		return lineprotocol.FloatValue(f), nil
	case rqvalue.KString:
		s, _ := v.AsString()
		return lineprotocol.StringValue(s), nil
	default:
		s, _ := v.AsString()
		return lineprotocol.StringValue(s), nil
	}
}
