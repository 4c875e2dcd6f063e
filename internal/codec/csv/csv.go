// Package csv implements the CSV source/sink codec (spec.md §4.2) on
// encoding/csv. The "header" option (default true) controls whether the
// first row is consumed as a header (spec.md §6.1's "CSV header flag").
// With a header, each later row decodes to a Map keyed by the header row's
// field names, in header order, and cells beyond the header's width are
// keyed column<N> by their zero-based position; with header=false every
// row decodes to an Array of its cells. Every cell
// decodes as String: CSV has no native numeric/boolean grammar, and
// guessing types from cell text would silently diverge from what the file
// actually contains, so this codec keeps the lossless, unambiguous
// reading and leaves numeric coercion to an explicit map(...) stage.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	rcsv "github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

func init() { rcsv.Register(format{}) }

type format struct{}

func (format) Name() string { return "csv" }

func hasHeader(opts rcsv.Options) bool {
	if opts == nil {
		return true
	}
	v, ok := opts["header"]
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

func (format) NewDecoder(r io.Reader, opts rcsv.Options) (rcsv.Decoder, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	d := &decoder{r: cr}
	if hasHeader(opts) {
		header, err := cr.Read()
		if err != nil {
			if err == io.EOF {
				d.header = nil
				return d, nil
			}
			return nil, rqerr.New(rqerr.Parse, "%v", err).WithFormat("csv").WithCause(err)
		}
		d.header = header
	}
	return d, nil
}

func (format) NewEncoder(w io.Writer, opts rcsv.Options) (rcsv.Encoder, error) {
	return &encoder{w: csv.NewWriter(w), withHeader: hasHeader(opts)}, nil
}

type decoder struct {
	r      *csv.Reader
	header []string
}

func (d *decoder) Next() (rqvalue.Value, error) {
	row, err := d.r.Read()
	if err != nil {
		if err == io.EOF {
			return rqvalue.Value{}, io.EOF
		}
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("csv").WithCause(err)
	}
	if d.header == nil {
		arr := make([]rqvalue.Value, len(row))
		for i, cell := range row {
			arr[i] = rqvalue.String(cell)
		}
		return rqvalue.Array(arr), nil
	}
	pairs := make([]rqvalue.Pair, 0, len(row))
	for i, cell := range row {
		name := columnName(d.header, i)
		pairs = append(pairs, rqvalue.Pair{Key: rqvalue.String(name), Value: rqvalue.String(cell)})
	}
	return rqvalue.Map(pairs), nil
}

func columnName(header []string, i int) string {
	if i < len(header) {
		return header[i]
	}
	return fmt.Sprintf("column%d", i)
}

type encoder struct {
	w           *csv.Writer
	withHeader  bool
	wroteHeader bool
	header      []string
}

func (e *encoder) Encode(v rqvalue.Value) error {
	row, header, err := toRow(v)
	if err != nil {
		return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("csv").WithCause(err)
	}
	if !e.wroteHeader {
		if e.withHeader && header != nil {
			if err := e.w.Write(header); err != nil {
				return rqerr.New(rqerr.IO, "%v", err).WithFormat("csv").WithCause(err)
			}
		}
		e.wroteHeader = true
		e.header = header
	}
	if err := e.w.Write(row); err != nil {
		return rqerr.New(rqerr.IO, "%v", err).WithFormat("csv").WithCause(err)
	}
	return nil
}

func (e *encoder) Close() error {
	e.w.Flush()
	return e.w.Error()
}

// toRow renders v as a CSV row: a Map's values become cells in its own key
// order (header is that Map's keys), an Array's elements become cells
// directly (no header), anything else becomes a single-cell row.
func toRow(v rqvalue.Value) (row []string, header []string, err error) {
	switch v.Kind() {
	case rqvalue.KMap:
		pairs, _ := v.AsMap()
		row = make([]string, len(pairs))
		header = make([]string, len(pairs))
		for i, p := range pairs {
			header[i] = cellString(p.Key)
			row[i] = cellString(p.Value)
		}
		return row, header, nil
	case rqvalue.KArray:
		arr, _ := v.AsArray()
		row = make([]string, len(arr))
		for i, e := range arr {
			row[i] = cellString(e)
		}
		return row, nil, nil
	default:
		return []string{cellString(v)}, nil, nil
	}
}

func cellString(v rqvalue.Value) string {
	switch v.Kind() {
	case rqvalue.KString:
		s, _ := v.AsString()
		return s
	case rqvalue.KUnit:
		return ""
	case rqvalue.KI64:
		i, _ := v.AsI64()
		return strconv.FormatInt(i, 10)
	case rqvalue.KU64:
		u, _ := v.AsU64()
		return strconv.FormatUint(u, 10)
	case rqvalue.KF64:
		f, _ := v.AsF64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case rqvalue.KBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	default:
		return fmt.Sprintf("%v", v.TypeName())
	}
}
