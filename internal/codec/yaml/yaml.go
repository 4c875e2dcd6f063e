// Package yaml implements the YAML source/sink codec (spec.md §4.2) on
// gopkg.in/yaml.v3, grounded on
// awsqed-config-formatter/formatter/formatter.go's use of yaml.Node trees
// (that formatter walks a MappingNode's Content slice to reorder keys
// without losing the original pairing). This codec walks the same tree
// to decode, converting each node to a Value directly instead of through
// yaml.Node.Decode into interface{}, for the same reason the json codec
// reads tokens instead of decoding into map[string]any: a Go map would
// discard the document's key order, and Value's Map is order-sensitive
// (spec.md §3.1).
package yaml

import (
	"encoding/base64"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	rcodec "github.com/recordquery/rq/internal/codec"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

func init() { rcodec.Register(format{}) }

type format struct{}

func (format) Name() string { return "yaml" }

func (format) NewDecoder(r io.Reader, _ rcodec.Options) (rcodec.Decoder, error) {
	return &decoder{dec: yaml.NewDecoder(r)}, nil
}

func (format) NewEncoder(w io.Writer, _ rcodec.Options) (rcodec.Encoder, error) {
	return &encoder{enc: yaml.NewEncoder(w)}, nil
}

// decoder reads one YAML document per Next call, matching how "---"
// document separators delimit records in a multi-document stream.
type decoder struct {
	dec *yaml.Decoder
}

func (d *decoder) Next() (rqvalue.Value, error) {
	var doc yaml.Node
	if err := d.dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return rqvalue.Value{}, io.EOF
		}
		return rqvalue.Value{}, rqerr.New(rqerr.Parse, "%v", err).WithFormat("yaml").WithCause(err)
	}
	return nodeToValue(&doc)
}

func nodeToValue(n *yaml.Node) (rqvalue.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return rqvalue.Unit(), nil
		}
		return nodeToValue(n.Content[0])
	case yaml.AliasNode:
		return nodeToValue(n.Alias)
	case yaml.ScalarNode:
		return scalarToValue(n), nil
	case yaml.SequenceNode:
		arr := make([]rqvalue.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeToValue(c)
			if err != nil {
				return rqvalue.Value{}, err
			}
			arr = append(arr, v)
		}
		return rqvalue.Array(arr), nil
	case yaml.MappingNode:
		pairs := make([]rqvalue.Pair, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, err := nodeToValue(n.Content[i])
			if err != nil {
				return rqvalue.Value{}, err
			}
			v, err := nodeToValue(n.Content[i+1])
			if err != nil {
				return rqvalue.Value{}, err
			}
			pairs = append(pairs, rqvalue.Pair{Key: k, Value: v})
		}
		return rqvalue.Map(pairs), nil
	default:
		return rqvalue.Unit(), nil
	}
}

// scalarToValue resolves a scalar node's tag the way yaml.v3's own
// Decode-to-interface{} path would, but returns a Value instead: null,
// bool, int, float, or string.
func scalarToValue(n *yaml.Node) rqvalue.Value {
	switch n.Tag {
	case "!!null":
		return rqvalue.Unit()
	case "!!bool":
		b, err := strconv.ParseBool(n.Value)
		if err != nil {
			return rqvalue.String(n.Value)
		}
		return rqvalue.Bool(b)
	case "!!int":
		if i, err := strconv.ParseInt(n.Value, 0, 64); err == nil {
			return rqvalue.I64(i)
		}
		if u, err := strconv.ParseUint(n.Value, 0, 64); err == nil {
			return rqvalue.U64(u)
		}
		return rqvalue.String(n.Value)
	case "!!float":
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return rqvalue.String(n.Value)
		}
		return rqvalue.F64(f)
	case "!!binary":
		b, err := base64.StdEncoding.DecodeString(n.Value)
		if err != nil {
			return rqvalue.String(n.Value)
		}
		return rqvalue.Bytes(b)
	default:
		return rqvalue.String(n.Value)
	}
}

type encoder struct {
	enc *yaml.Encoder
}

func (e *encoder) Encode(v rqvalue.Value) error {
	node, err := valueToNode(v)
	if err != nil {
		return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("yaml").WithCause(err)
	}
	if err := e.enc.Encode(node); err != nil {
		return rqerr.New(rqerr.Serialize, "%v", err).WithFormat("yaml").WithCause(err)
	}
	return nil
}

func (e *encoder) Close() error { return e.enc.Close() }

func valueToNode(v rqvalue.Value) (*yaml.Node, error) {
	switch v.Kind() {
	case rqvalue.KUnit:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case rqvalue.KBool:
		b, _ := v.AsBool()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}, nil
	case rqvalue.KI64:
		i, _ := v.AsI64()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(i, 10)}, nil
	case rqvalue.KU64:
		u, _ := v.AsU64()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatUint(u, 10)}, nil
	case rqvalue.KF64:
		f, _ := v.AsF64()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(f, 'g', -1, 64)}, nil
	case rqvalue.KChar:
		r, _ := v.AsChar()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(r)}, nil
	case rqvalue.KString:
		s, _ := v.AsString()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}, nil
	case rqvalue.KBytes:
		b, _ := v.AsBytes()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!binary", Value: base64.StdEncoding.EncodeToString(b)}, nil
	case rqvalue.KArray:
		arr, _ := v.AsArray()
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, e := range arr {
			c, err := valueToNode(e)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, c)
		}
		return n, nil
	case rqvalue.KMap:
		pairs, _ := v.AsMap()
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, p := range pairs {
			k, err := valueToNode(p.Key)
			if err != nil {
				return nil, err
			}
			val, err := valueToNode(p.Value)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, k, val)
		}
		return n, nil
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
}
