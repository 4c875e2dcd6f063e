package query

import (
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

// Eval evaluates a compiled Expression against record, implementing the
// environment rules from spec.md §4.6: identifiers resolve against the
// record's keys when it is a Map, else against built-in functions; member
// access on a non-Map and out-of-range index access both soft-fail to
// Unit; incompatible-type binary operators hard-fail with TypeMismatch.
func (e *Expr) Eval(record rqvalue.Value) (rqvalue.Value, error) {
	return evalNode(e.node, record)
}

func evalNode(n exprNode, record rqvalue.Value) (rqvalue.Value, error) {
	switch x := n.(type) {
	case rootNode:
		return record, nil
	case litNode:
		return x.v, nil
	case identNode:
		if record.Kind() == rqvalue.KMap {
			return record.GetField(x.name), nil
		}
		return rqvalue.Unit(), nil
	case memberNode:
		recv, err := evalNode(x.recv, record)
		if err != nil {
			return rqvalue.Value{}, err
		}
		if recv.Kind() != rqvalue.KMap {
			return rqvalue.Unit(), nil
		}
		return recv.GetField(x.name), nil
	case indexNode:
		recv, err := evalNode(x.recv, record)
		if err != nil {
			return rqvalue.Value{}, err
		}
		idx, err := evalNode(x.idx, record)
		if err != nil {
			return rqvalue.Value{}, err
		}
		switch recv.Kind() {
		case rqvalue.KArray:
			n, ok := asIndex(idx)
			if !ok {
				return rqvalue.Unit(), nil
			}
			return recv.Index(n), nil
		case rqvalue.KMap:
			return recv.Get(idx), nil
		default:
			return rqvalue.Unit(), nil
		}
	case unaryNode:
		return evalUnary(x, record)
	case binNode:
		return evalBinary(x, record)
	case callNode:
		return evalCall(x, record)
	default:
		return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "internal: unknown expression node")
	}
}

func asIndex(v rqvalue.Value) (int64, bool) {
	if i, ok := v.AsI64(); ok {
		return i, true
	}
	if u, ok := v.AsU64(); ok {
		return int64(u), true
	}
	return 0, false
}

func evalUnary(x unaryNode, record rqvalue.Value) (rqvalue.Value, error) {
	v, err := evalNode(x.operand, record)
	if err != nil {
		return rqvalue.Value{}, err
	}
	switch x.op {
	case "!":
		return rqvalue.Bool(!v.Truthy()), nil
	case "-":
		switch v.Kind() {
		case rqvalue.KI64:
			i, _ := v.AsI64()
			return rqvalue.I64(-i), nil
		case rqvalue.KU64:
			u, _ := v.AsU64()
			return rqvalue.F64(-float64(u)), nil
		case rqvalue.KF64:
			f, _ := v.AsF64()
			return rqvalue.F64(-f), nil
		default:
			return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "cannot negate %s", v.Kind())
		}
	default:
		return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "internal: unknown unary operator %q", x.op)
	}
}

func evalBinary(x binNode, record rqvalue.Value) (rqvalue.Value, error) {
	// Logical operators short-circuit and never evaluate arithmetic, so
	// they are handled before evaluating the right operand.
	if x.op == "&&" || x.op == "||" {
		left, err := evalNode(x.left, record)
		if err != nil {
			return rqvalue.Value{}, err
		}
		if x.op == "&&" && !left.Truthy() {
			return rqvalue.Bool(false), nil
		}
		if x.op == "||" && left.Truthy() {
			return rqvalue.Bool(true), nil
		}
		right, err := evalNode(x.right, record)
		if err != nil {
			return rqvalue.Value{}, err
		}
		return rqvalue.Bool(right.Truthy()), nil
	}

	left, err := evalNode(x.left, record)
	if err != nil {
		return rqvalue.Value{}, err
	}
	right, err := evalNode(x.right, record)
	if err != nil {
		return rqvalue.Value{}, err
	}

	switch x.op {
	case "==":
		return rqvalue.Bool(rqvalue.Equal(left, right)), nil
	case "!=":
		return rqvalue.Bool(!rqvalue.Equal(left, right)), nil
	case "<":
		return rqvalue.Bool(rqvalue.Compare(left, right) < 0), nil
	case "<=":
		return rqvalue.Bool(rqvalue.Compare(left, right) <= 0), nil
	case ">":
		return rqvalue.Bool(rqvalue.Compare(left, right) > 0), nil
	case ">=":
		return rqvalue.Bool(rqvalue.Compare(left, right) >= 0), nil
	case "+":
		return wrapArith(rqvalue.Add(left, right))
	case "-":
		return wrapArith(rqvalue.Sub(left, right))
	case "*":
		return wrapArith(rqvalue.Mul(left, right))
	case "/":
		return wrapArith(rqvalue.Div(left, right))
	case "%":
		return wrapArith(rqvalue.Mod(left, right))
	default:
		return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "internal: unknown binary operator %q", x.op)
	}
}

func wrapArith(v rqvalue.Value, err error) (rqvalue.Value, error) {
	if err != nil {
		return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "%v", err).WithCause(err)
	}
	return v, nil
}

func evalCall(x callNode, record rqvalue.Value) (rqvalue.Value, error) {
	args := make([]rqvalue.Value, len(x.args))
	for i, a := range x.args {
		v, err := evalNode(a, record)
		if err != nil {
			return rqvalue.Value{}, err
		}
		args[i] = v
	}

	switch x.name {
	case "length":
		if len(args) != 1 {
			return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "length() takes exactly one argument")
		}
		n, ok := args[0].Length()
		if !ok {
			return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "length() not defined for %s", args[0].Kind())
		}
		return rqvalue.I64(n), nil
	case "type":
		if len(args) != 1 {
			return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "type() takes exactly one argument")
		}
		return rqvalue.String(args[0].TypeName()), nil
	case "keys":
		if len(args) != 1 {
			return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "keys() takes exactly one argument")
		}
		pairs, ok := args[0].AsMap()
		if !ok {
			return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "keys() not defined for %s", args[0].Kind())
		}
		out := make([]rqvalue.Value, len(pairs))
		for i, p := range pairs {
			out[i] = p.Key
		}
		return rqvalue.Array(out), nil
	case "values":
		if len(args) != 1 {
			return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "values() takes exactly one argument")
		}
		pairs, ok := args[0].AsMap()
		if !ok {
			return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "values() not defined for %s", args[0].Kind())
		}
		out := make([]rqvalue.Value, len(pairs))
		for i, p := range pairs {
			out[i] = p.Value
		}
		return rqvalue.Array(out), nil
	default:
		return rqvalue.Value{}, rqerr.New(rqerr.TypeMismatch, "unknown function %q", x.name)
	}
}
