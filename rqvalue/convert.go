package rqvalue

import "sort"

// ToGo converts a Value to a plain Go value suitable for driving
// expr-lang/expr's dynamic environment (map[string]any, []any, scalars).
// Maps become map[string]any when every key is a String (the common case
// for records), else []Pair passed through as []any{[2]any{k, v}, ...} so no
// information is lost; ToGo never errors.
func ToGo(v Value) any {
	switch v.kind {
	case KUnit:
		return nil
	case KBool:
		return v.b
	case KI64:
		return v.i
	case KU64:
		return v.u
	case KF64:
		return v.f
	case KChar:
		return v.r
	case KString:
		return v.s
	case KBytes:
		return v.by
	case KArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = ToGo(e)
		}
		return out
	case KMap:
		if allStringKeys(v.m) {
			out := make(map[string]any, len(v.m))
			for _, p := range v.m {
				s, _ := p.Key.AsString()
				out[s] = ToGo(p.Value)
			}
			return out
		}
		out := make([]any, len(v.m))
		for i, p := range v.m {
			out[i] = [2]any{ToGo(p.Key), ToGo(p.Value)}
		}
		return out
	default:
		return nil
	}
}

func allStringKeys(pairs []Pair) bool {
	for _, p := range pairs {
		if p.Key.Kind() != KString {
			return false
		}
	}
	return true
}

// FromGo converts a plain Go value (as returned by expr-lang/expr's VM, or
// decoded from a codec that works in terms of interface{}) back to a Value.
// Integers that fit in int64 (signed or unsigned) become I64; unsigned
// values above math.MaxInt64 become U64; everything else numeric becomes F64. Map order for map[string]any is
// unspecified in Go, so FromGo sorts keys lexicographically for determinism.
func FromGo(v any) Value {
	switch x := v.(type) {
	case nil:
		return Unit()
	case bool:
		return Bool(x)
	case int:
		return I64(int64(x))
	case int8:
		return I64(int64(x))
	case int16:
		return I64(int64(x))
	case int32:
		return I64(int64(x))
	case int64:
		return I64(x)
	case uint:
		return FromGo(uint64(x))
	case uint8:
		return I64(int64(x))
	case uint16:
		return I64(int64(x))
	case uint32:
		return I64(int64(x))
	case uint64:
		if x <= 1<<63-1 {
			return I64(int64(x))
		}
		return U64(x)
	case float32:
		return F64(float64(x))
	case float64:
		return F64(x)
	case string:
		return String(x)
	case []byte:
		return Bytes(x)
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = FromGo(e)
		}
		return Array(out)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]Pair, 0, len(x))
		for _, k := range keys {
			pairs = append(pairs, Pair{Key: String(k), Value: FromGo(x[k])})
		}
		return Map(pairs)
	default:
		return Unit()
	}
}

