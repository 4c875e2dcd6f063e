package rqvalue

import (
	"fmt"
	"math"
)

// ArithError reports a type-mismatch encountered while evaluating a binary
// arithmetic or comparison expression; callers wrap it as rqerr.TypeMismatch.
type ArithError struct {
	Op    string
	Left  Kind
	Right Kind
}

func (e *ArithError) Error() string {
	return fmt.Sprintf("cannot apply %q to %s and %s", e.Op, e.Left, e.Right)
}

// Add implements the arithmetic coercion policy from spec.md §4.1:
//   - (I64|U64) + F64 -> F64
//   - I64 + U64 promotes to F64 if the result would overflow either
//   - String + String concatenates
//   - anything else fails with ArithError
func Add(a, b Value) (Value, error) {
	if s, ok := a.AsString(); ok {
		if t, ok := b.AsString(); ok {
			return String(s + t), nil
		}
	}
	return numericOp(a, b, "+",
		func(x, y int64) (Value, bool) {
			sum := x + y
			if (y > 0 && sum < x) || (y < 0 && sum > x) {
				return Value{}, false
			}
			return I64(sum), true
		},
		func(x, y uint64) (Value, bool) {
			sum := x + y
			if sum < x {
				return Value{}, false
			}
			return U64(sum), true
		},
		func(x, y float64) Value { return F64(x + y) },
	)
}

func Sub(a, b Value) (Value, error) {
	return numericOp(a, b, "-",
		func(x, y int64) (Value, bool) {
			diff := x - y
			if (y < 0 && diff < x) || (y > 0 && diff > x) {
				return Value{}, false
			}
			return I64(diff), true
		},
		func(x, y uint64) (Value, bool) {
			if y > x {
				return Value{}, false
			}
			return U64(x - y), true
		},
		func(x, y float64) Value { return F64(x - y) },
	)
}

func Mul(a, b Value) (Value, error) {
	return numericOp(a, b, "*",
		func(x, y int64) (Value, bool) {
			if x == 0 || y == 0 {
				return I64(0), true
			}
			if x == math.MinInt64 && y == -1 {
				return Value{}, false
			}
			p := x * y
			if p/y != x {
				return Value{}, false
			}
			return I64(p), true
		},
		func(x, y uint64) (Value, bool) {
			if x == 0 || y == 0 {
				return U64(0), true
			}
			p := x * y
			if p/y != x {
				return Value{}, false
			}
			return U64(p), true
		},
		func(x, y float64) Value { return F64(x * y) },
	)
}

func Div(a, b Value) (Value, error) {
	af, aok := numericAsFloat(a)
	bf, bok := numericAsFloat(b)
	if !aok || !bok {
		return Value{}, &ArithError{Op: "/", Left: a.kind, Right: b.kind}
	}
	if ai, iok := a.AsI64(); iok {
		if bi, iok2 := b.AsI64(); iok2 && bi != 0 && ai%bi == 0 {
			if !(ai == math.MinInt64 && bi == -1) {
				return I64(ai / bi), nil
			}
		}
	}
	return F64(af / bf), nil
}

func Mod(a, b Value) (Value, error) {
	ai, aok := a.AsI64()
	bi, bok := b.AsI64()
	if aok && bok {
		if bi == 0 {
			return Value{}, &ArithError{Op: "%", Left: a.kind, Right: b.kind}
		}
		return I64(ai % bi), nil
	}
	au, aok2 := a.AsU64()
	bu, bok2 := b.AsU64()
	if aok2 && bok2 {
		if bu == 0 {
			return Value{}, &ArithError{Op: "%", Left: a.kind, Right: b.kind}
		}
		return U64(au % bu), nil
	}
	af, aok3 := numericAsFloat(a)
	bf, bok3 := numericAsFloat(b)
	if aok3 && bok3 {
		return F64(math.Mod(af, bf)), nil
	}
	return Value{}, &ArithError{Op: "%", Left: a.kind, Right: b.kind}
}

func numericAsFloat(v Value) (float64, bool) {
	switch v.kind {
	case KI64:
		return float64(v.i), true
	case KU64:
		return float64(v.u), true
	case KF64:
		return v.f, true
	default:
		return 0, false
	}
}

func numericOp(a, b Value, op string,
	i64 func(x, y int64) (Value, bool),
	u64 func(x, y uint64) (Value, bool),
	f64 func(x, y float64) Value,
) (Value, error) {
	if af, aIsF := a.AsF64(); aIsF {
		if bf, bok := numericAsFloat(b); bok {
			return f64(af, bf), nil
		}
		return Value{}, &ArithError{Op: op, Left: a.kind, Right: b.kind}
	}
	if bf, bIsF := b.AsF64(); bIsF {
		if af, aok := numericAsFloat(a); aok {
			return f64(af, bf), nil
		}
		return Value{}, &ArithError{Op: op, Left: a.kind, Right: b.kind}
	}
	ai, aIsI := a.AsI64()
	bi, bIsI := b.AsI64()
	if aIsI && bIsI {
		if v, ok := i64(ai, bi); ok {
			return v, nil
		}
		return f64(float64(ai), float64(bi)), nil
	}
	au, aIsU := a.AsU64()
	bu, bIsU := b.AsU64()
	if aIsU && bIsU {
		if v, ok := u64(au, bu); ok {
			return v, nil
		}
		return f64(float64(au), float64(bu)), nil
	}
	if (aIsI || aIsU) && (bIsI || bIsU) {
		// Mixed I64/U64: compute in I64 when the U64 operand fits it, else in
		// U64 when the I64 operand is non-negative, and promote to F64 only
		// when neither representation holds the result (spec.md §4.1). The
		// accessor of the other kind returns zero, so ai+int64(au) is a's value.
		if (aIsI || au <= math.MaxInt64) && (bIsI || bu <= math.MaxInt64) {
			if v, ok := i64(ai+int64(au), bi+int64(bu)); ok {
				return v, nil
			}
		}
		if (aIsU || ai >= 0) && (bIsU || bi >= 0) {
			if v, ok := u64(au+uint64(ai), bu+uint64(bi)); ok {
				return v, nil
			}
		}
		af, _ := numericAsFloat(a)
		bf, _ := numericAsFloat(b)
		return f64(af, bf), nil
	}
	return Value{}, &ArithError{Op: op, Left: a.kind, Right: b.kind}
}
