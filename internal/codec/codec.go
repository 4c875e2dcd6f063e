// Package codec defines the source/sink contract every wire format
// implements (spec.md §4.2): a lazy decoder that yields one Value at a time
// ending in io.EOF, and an encoder that writes one Value at a time and can
// be closed to flush any trailing framing.
package codec

import (
	"io"

	"github.com/recordquery/rq/rqvalue"
)

// Decoder lazily yields records from an input stream. Next returns io.EOF
// (unwrapped) once the stream is exhausted; any other error is a
// rqerr.Parse-kind failure at the current record boundary and terminates
// the stream (spec.md §4.2/§7).
type Decoder interface {
	Next() (rqvalue.Value, error)
}

// Encoder serializes records to an output stream. Close flushes any output
// the encoder still buffers and must be called exactly once, after the last
// Encode.
type Encoder interface {
	Encode(rqvalue.Value) error
	Close() error
}

// Options carries format-specific CLI flags (spec.md §6.1: "Protobuf
// message name, CSV header flag"), keyed by option name. Formats that take
// no options ignore it.
type Options map[string]string

// Format names one wire format and constructs Decoders/Encoders for it.
type Format interface {
	Name() string
	NewDecoder(r io.Reader, opts Options) (Decoder, error)
	NewEncoder(w io.Writer, opts Options) (Encoder, error)
}

var registry = map[string]Format{}

// Register adds f to the format registry under f.Name(). Called from each
// subpackage's init().
func Register(f Format) { registry[f.Name()] = f }

// Lookup resolves a format name (the driver's -i/-o selector) against the
// registry.
func Lookup(name string) (Format, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names returns every registered format name, for usage/help text.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
