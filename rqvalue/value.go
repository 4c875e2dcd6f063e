// Package rqvalue implements Value, the uniform in-memory record
// representation every codec and operator in record-query bridges through.
package rqvalue

import (
	"math"
	"unicode/utf8"
)

// Kind tags which variant a Value holds.
type Kind int

const (
	KUnit Kind = iota
	KBool
	KI64
	KU64
	KF64
	KChar
	KString
	KBytes
	KArray
	KMap
)

func (k Kind) String() string {
	switch k {
	case KUnit:
		return "unit"
	case KBool:
		return "bool"
	case KI64:
		return "i64"
	case KU64:
		return "u64"
	case KF64:
		return "f64"
	case KChar:
		return "char"
	case KString:
		return "string"
	case KBytes:
		return "bytes"
	case KArray:
		return "array"
	case KMap:
		return "map"
	default:
		return "invalid"
	}
}

// Pair is one (key, value) entry of a Map. Map preserves insertion order and
// allows repeated keys; lookups return the first match (spec.md §3.1).
type Pair struct {
	Key   Value
	Value Value
}

// Value is the sum type described in spec.md §3.1. Only the field matching
// Kind is meaningful; the others are zero.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	r    rune
	s    string
	by   []byte
	arr  []Value
	m    []Pair
}

func Unit() Value                { return Value{kind: KUnit} }
func Bool(b bool) Value          { return Value{kind: KBool, b: b} }
func I64(i int64) Value          { return Value{kind: KI64, i: i} }
func U64(u uint64) Value         { return Value{kind: KU64, u: u} }
func F64(f float64) Value        { return Value{kind: KF64, f: f} }
func Char(r rune) Value          { return Value{kind: KChar, r: r} }
func String(s string) Value      { return Value{kind: KString, s: s} }
func Bytes(b []byte) Value       { return Value{kind: KBytes, by: b} }
func Array(vs []Value) Value     { return Value{kind: KArray, arr: vs} }
func Map(pairs []Pair) Value     { return Value{kind: KMap, m: pairs} }
func NewMap() Value              { return Value{kind: KMap, m: nil} }
func NewArray() Value            { return Value{kind: KArray, arr: nil} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUnit() bool { return v.kind == KUnit }

func (v Value) AsBool() (bool, bool)     { return v.b, v.kind == KBool }
func (v Value) AsI64() (int64, bool)     { return v.i, v.kind == KI64 }
func (v Value) AsU64() (uint64, bool)    { return v.u, v.kind == KU64 }
func (v Value) AsF64() (float64, bool)   { return v.f, v.kind == KF64 }
func (v Value) AsChar() (rune, bool)     { return v.r, v.kind == KChar }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KString }
func (v Value) AsBytes() ([]byte, bool)  { return v.by, v.kind == KBytes }
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KArray }
func (v Value) AsMap() ([]Pair, bool)    { return v.m, v.kind == KMap }

// Append returns a Map with pair (k, val) appended. Map is treated as
// persistent-by-convention: callers that build incrementally should reuse
// the returned Value rather than mutate in place from multiple owners.
func (v Value) Append(k, val Value) Value {
	pairs := append(append([]Pair(nil), v.m...), Pair{Key: k, Value: val})
	return Map(pairs)
}

// Get returns the value for the first pair whose key structurally equals k,
// or Unit if absent (or v is not a Map).
func (v Value) Get(k Value) Value {
	if v.kind != KMap {
		return Unit()
	}
	for _, p := range v.m {
		if Equal(p.Key, k) {
			return p.Value
		}
	}
	return Unit()
}

// GetField is the shorthand for Get(String(name)), used by member access
// (`.name`) in the query language.
func (v Value) GetField(name string) Value {
	return v.Get(String(name))
}

// Index returns the nth element of an Array, or Unit if v is not an Array or
// n is out of range (spec.md §4.6, "Index access").
func (v Value) Index(n int64) Value {
	if v.kind != KArray || n < 0 || n >= int64(len(v.arr)) {
		return Unit()
	}
	return v.arr[n]
}

// Truthy implements the truthiness rule fixed by spec.md §9's Open Question:
// Bool true; non-zero number (including not being NaN); non-empty
// String/Array/Map/Bytes are truthy. Unit, false, zero, NaN, and empty
// containers are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KUnit:
		return false
	case KBool:
		return v.b
	case KI64:
		return v.i != 0
	case KU64:
		return v.u != 0
	case KF64:
		return v.f != 0 && !math.IsNaN(v.f)
	case KChar:
		return v.r != 0
	case KString:
		return len(v.s) > 0
	case KBytes:
		return len(v.by) > 0
	case KArray:
		return len(v.arr) > 0
	case KMap:
		return len(v.m) > 0
	default:
		return false
	}
}

// TypeName reports the query-language type() built-in's name for v.
func (v Value) TypeName() string { return v.kind.String() }

// Length implements the length() built-in: string/bytes length in code
// points/bytes respectively, array element count, map pair count. Returns
// (0, false) for kinds without a defined length.
func (v Value) Length() (int64, bool) {
	switch v.kind {
	case KString:
		return int64(utf8.RuneCountInString(v.s)), true
	case KBytes:
		return int64(len(v.by)), true
	case KArray:
		return int64(len(v.arr)), true
	case KMap:
		return int64(len(v.m)), true
	default:
		return 0, false
	}
}
