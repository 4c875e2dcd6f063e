// Package protobuf implements the Protobuf source/sink codec (spec.md
// §4.2) on google.golang.org/protobuf's dynamicpb, the one format the
// codec catalog marks "Schema needed: yes (message name)". Unlike every
// other codec in this tree, Protobuf messages are read through a
// descriptor resolved at runtime from the schema registry
// (internal/registry), which is "the only component permitted to touch
// the filesystem for schemas" (spec.md §4.3) — this codec never reads a
// `.proto` file itself, only the protoreflect.MessageDescriptor the
// registry hands back by reference.
//
// Framing is length-delimited: each record is a uvarint byte count
// followed by that many bytes of a google.golang.org/protobuf/proto.Marshal
// encoding, the same "delimited message stream" convention used wherever
// a Protobuf stream has no outer container (cf. Java's
// writeDelimitedTo/parseDelimitedFrom). The registry's descriptor drives
// dynamicpb.NewMessage so this codec never needs generated Go types.
package protobuf

import (
	"bufio"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	rcodec "github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/internal/registry"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

func init() { rcodec.Register(format{}) }

// defaultRegistry is wired by the driver at startup (internal/driver),
// after it has resolved the registry root directory from configuration.
// Every other codec is self-contained; this is the one format that needs
// an out-of-band dependency, matching spec.md §4.3's "codecs receive
// descriptors by reference" design.
var defaultRegistry *registry.Registry

// SetRegistry installs the schema registry this codec resolves message
// descriptors against. Must be called before the first protobuf
// NewDecoder/NewEncoder.
func SetRegistry(r *registry.Registry) { defaultRegistry = r }

type format struct{}

func (format) Name() string { return "protobuf" }

func resolveMessage(opts rcodec.Options) (protoreflect.MessageDescriptor, error) {
	name := opts["message"]
	if name == "" {
		return nil, rqerr.New(rqerr.Usage, "protobuf: requires a \"message\" option naming the fully-qualified message type").WithFormat("protobuf")
	}
	if defaultRegistry == nil {
		return nil, rqerr.New(rqerr.Usage, "protobuf: no schema registry configured").WithFormat("protobuf")
	}
	return defaultRegistry.LookupProto(name)
}

func (format) NewDecoder(r io.Reader, opts rcodec.Options) (rcodec.Decoder, error) {
	md, err := resolveMessage(opts)
	if err != nil {
		return nil, err
	}
	return &decoder{r: bufio.NewReader(r), md: md}, nil
}

func (format) NewEncoder(w io.Writer, opts rcodec.Options) (rcodec.Encoder, error) {
	md, err := resolveMessage(opts)
	if err != nil {
		return nil, err
	}
	return &encoder{w: bufio.NewWriter(w), md: md}, nil
}

type decoder struct {
	r  *bufio.Reader
	md protoreflect.MessageDescriptor
}

func (d *decoder) Next() (rqvalue.Value, error) {
	n, err := readUvarint(d.r)
	if err != nil {
		if err == io.EOF {
			return rqvalue.Value{}, io.EOF
		}
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("protobuf").WithCause(err)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("protobuf").WithCause(err)
	}

	msg := dynamicpb.NewMessage(d.md)
	if err := proto.Unmarshal(buf, msg); err != nil {
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("protobuf").WithCause(err)
	}
	return messageToValue(msg), nil
}

type encoder struct {
	w  *bufio.Writer
	md protoreflect.MessageDescriptor
}

func (e *encoder) Encode(v rqvalue.Value) error {
	msg := dynamicpb.NewMessage(e.md)
	if err := populateMessage(msg, v); err != nil {
		return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("protobuf").WithCause(err)
	}

	buf, err := proto.Marshal(msg)
	if err != nil {
		return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("protobuf").WithCause(err)
	}
	if err := writeUvarint(e.w, uint64(len(buf))); err != nil {
		return rqerr.New(rqerr.IO, "%v", err).WithFormat("protobuf").WithCause(err)
	}
	if _, err := e.w.Write(buf); err != nil {
		return rqerr.New(rqerr.IO, "%v", err).WithFormat("protobuf").WithCause(err)
	}
	return nil
}

func (e *encoder) Close() error { return e.w.Flush() }

// messageToValue converts every field the descriptor declares (present or
// at its proto3 default) into a Map pair, recursing into nested messages.
func messageToValue(m protoreflect.Message) rqvalue.Value {
	md := m.Descriptor()
	fields := md.Fields()
	pairs := make([]rqvalue.Pair, 0, fields.Len())
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		pairs = append(pairs, rqvalue.Pair{
			Key:   rqvalue.String(string(fd.Name())),
			Value: fieldToValue(fd, m.Get(fd)),
		})
	}
	return rqvalue.Map(pairs)
}

func fieldToValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) rqvalue.Value {
	switch {
	case fd.IsMap():
		mp := v.Map()
		var pairs []rqvalue.Pair
		mp.Range(func(mk protoreflect.MapKey, mv protoreflect.Value) bool {
			pairs = append(pairs, rqvalue.Pair{
				Key:   scalarToValue(fd.MapKey(), mk.Value()),
				Value: scalarToValue(fd.MapValue(), mv),
			})
			return true
		})
		return rqvalue.Map(pairs)
	case fd.IsList():
		list := v.List()
		elems := make([]rqvalue.Value, list.Len())
		for i := 0; i < list.Len(); i++ {
			elems[i] = scalarToValue(fd, list.Get(i))
		}
		return rqvalue.Array(elems)
	default:
		return scalarToValue(fd, v)
	}
}

func scalarToValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) rqvalue.Value {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return rqvalue.Bool(v.Bool())
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return rqvalue.I64(v.Int())
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return rqvalue.U64(v.Uint())
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return rqvalue.F64(v.Float())
	case protoreflect.StringKind:
		return rqvalue.String(v.String())
	case protoreflect.BytesKind:
		return rqvalue.Bytes(append([]byte(nil), v.Bytes()...))
	case protoreflect.EnumKind:
		if evd := fd.Enum().Values().ByNumber(v.Enum()); evd != nil {
			return rqvalue.String(string(evd.Name()))
		}
		return rqvalue.I64(int64(v.Enum()))
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return messageToValue(v.Message())
	default:
		return rqvalue.Unit()
	}
}

// populateMessage is the inverse of messageToValue: v must be a Map whose
// string keys name fields of msg's descriptor. Unknown keys are ignored,
// matching the codec catalog's general leniency about cross-format field
// mismatches (spec.md §6.2).
func populateMessage(msg *dynamicpb.Message, v rqvalue.Value) error {
	pairs, ok := v.AsMap()
	if !ok {
		return rqerr.New(rqerr.Serialize, "protobuf record must be a Map, got %s", v.TypeName())
	}
	md := msg.Descriptor()
	for _, p := range pairs {
		name, ok := p.Key.AsString()
		if !ok {
			continue
		}
		fd := md.Fields().ByName(protoreflect.Name(name))
		if fd == nil {
			continue
		}

		switch {
		case fd.IsMap():
			mapPairs, ok := p.Value.AsMap()
			if !ok {
				return rqerr.New(rqerr.Serialize, "field %q requires a Map, got %s", name, p.Value.TypeName())
			}
			mutable := msg.Mutable(fd).Map()
			for _, mp := range mapPairs {
				mkVal, err := fieldFromValue(fd.MapKey(), mp.Key)
				if err != nil {
					return err
				}
				mvVal, err := fieldFromValue(fd.MapValue(), mp.Value)
				if err != nil {
					return err
				}
				mutable.Set(mkVal.MapKey(), mvVal)
			}
		case fd.IsList():
			elems, ok := p.Value.AsArray()
			if !ok {
				return rqerr.New(rqerr.Serialize, "field %q requires an Array, got %s", name, p.Value.TypeName())
			}
			mutable := msg.Mutable(fd).List()
			for _, el := range elems {
				ev, err := fieldFromValue(fd, el)
				if err != nil {
					return err
				}
				mutable.Append(ev)
			}
		default:
			fv, err := fieldFromValue(fd, p.Value)
			if err != nil {
				return err
			}
			msg.Set(fd, fv)
		}
	}
	return nil
}

func fieldFromValue(fd protoreflect.FieldDescriptor, v rqvalue.Value) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		b, ok := v.AsBool()
		if !ok {
			return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q requires a Bool, got %s", fd.Name(), v.TypeName())
		}
		return protoreflect.ValueOfBool(b), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		i, ok := asInt64(v)
		if !ok {
			return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q requires an integer, got %s", fd.Name(), v.TypeName())
		}
		return protoreflect.ValueOfInt32(int32(i)), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		i, ok := asInt64(v)
		if !ok {
			return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q requires an integer, got %s", fd.Name(), v.TypeName())
		}
		return protoreflect.ValueOfInt64(i), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		u, ok := asUint64(v)
		if !ok {
			return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q requires an unsigned integer, got %s", fd.Name(), v.TypeName())
		}
		return protoreflect.ValueOfUint32(uint32(u)), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		u, ok := asUint64(v)
		if !ok {
			return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q requires an unsigned integer, got %s", fd.Name(), v.TypeName())
		}
		return protoreflect.ValueOfUint64(u), nil
	case protoreflect.FloatKind:
		f, ok := asFloat64(v)
		if !ok {
			return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q requires a number, got %s", fd.Name(), v.TypeName())
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil
	case protoreflect.DoubleKind:
		f, ok := asFloat64(v)
		if !ok {
			return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q requires a number, got %s", fd.Name(), v.TypeName())
		}
		return protoreflect.ValueOfFloat64(f), nil
	case protoreflect.StringKind:
		s, ok := v.AsString()
		if !ok {
			return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q requires a String, got %s", fd.Name(), v.TypeName())
		}
		return protoreflect.ValueOfString(s), nil
	case protoreflect.BytesKind:
		b, ok := v.AsBytes()
		if !ok {
			return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q requires Bytes, got %s", fd.Name(), v.TypeName())
		}
		return protoreflect.ValueOfBytes(b), nil
	case protoreflect.EnumKind:
		if s, ok := v.AsString(); ok {
			evd := fd.Enum().Values().ByName(protoreflect.Name(s))
			if evd == nil {
				return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q: unknown enum value %q", fd.Name(), s)
			}
			return protoreflect.ValueOfEnum(evd.Number()), nil
		}
		i, ok := asInt64(v)
		if !ok {
			return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q requires an enum name or number, got %s", fd.Name(), v.TypeName())
		}
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(i)), nil
	case protoreflect.MessageKind, protoreflect.GroupKind:
		nested := dynamicpb.NewMessage(fd.Message())
		if err := populateMessage(nested, v); err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfMessage(nested), nil
	default:
		return protoreflect.Value{}, rqerr.New(rqerr.Serialize, "field %q has unsupported kind %s", fd.Name(), fd.Kind())
	}
}

func asInt64(v rqvalue.Value) (int64, bool) {
	if i, ok := v.AsI64(); ok {
		return i, true
	}
	if u, ok := v.AsU64(); ok {
		return int64(u), true
	}
	if f, ok := v.AsF64(); ok {
		return int64(f), true
	}
	return 0, false
}

func asUint64(v rqvalue.Value) (uint64, bool) {
	if u, ok := v.AsU64(); ok {
		return u, true
	}
	if i, ok := v.AsI64(); ok {
		return uint64(i), true
	}
	if f, ok := v.AsF64(); ok {
		return uint64(f), true
	}
	return 0, false
}

func asFloat64(v rqvalue.Value) (float64, bool) {
	if f, ok := v.AsF64(); ok {
		return f, true
	}
	if i, ok := v.AsI64(); ok {
		return float64(i), true
	}
	if u, ok := v.AsU64(); ok {
		return float64(u), true
	}
	return 0, false
}

// readUvarint/writeUvarint frame each message with its own LEB128-style
// byte length, this codec's delimited-stream convention (see package doc).
func readUvarint(r *bufio.Reader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

func writeUvarint(w *bufio.Writer, u uint64) error {
	for {
		b := byte(u & 0x7F)
		u >>= 7
		if u != 0 {
			if err := w.WriteByte(b | 0x80); err != nil {
				return err
			}
			continue
		}
		return w.WriteByte(b)
	}
}
